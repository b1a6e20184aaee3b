// Package portal provides the session, authorization and backend-access core
// of the school records portal.
//
// The package defines the data model (roles, identities, audit entries) and
// the interfaces the sub-packages implement. Concrete services are injected
// via Option functions:
//
//	client, err := portal.NewClient(
//	    portal.Config{BaseURL: "https://records.example.com/api"},
//	    portal.WithAuthorizer(authz.NewPolicy()),
//	    portal.WithAuditService(audit.New(gw)),
//	)
//
// Per-browser state lives in a session.Store, which is bound to request
// contexts with ContextWithSession.
package portal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"
)

// Client is the process-wide entry point for portal operations.
type Client struct {
	config Config
	logger *slog.Logger
	authz  Authorizer
	audit  AuditService
	users  UserService
}

// Config holds connection and behavior configuration.
type Config struct {
	// BaseURL is the REST backend root, e.g. "https://records.example.com/api".
	BaseURL string

	// RequestTimeout bounds every backend call. Default: 15 seconds.
	RequestTimeout time.Duration

	// AuditPageSize is the number of audit entries per page. Default: 20.
	AuditPageSize int
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAuthorizer sets the authorization implementation.
func WithAuthorizer(a Authorizer) Option {
	return func(c *Client) { c.authz = a }
}

// WithAuditService sets the audit implementation.
func WithAuditService(a AuditService) Option {
	return func(c *Client) { c.audit = a }
}

// WithUserService sets the user administration implementation.
func WithUserService(u UserService) Option {
	return func(c *Client) { c.users = u }
}

const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultAuditPageSize  = 20
)

// NewClient creates a new portal client with the given configuration and options.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("portal: BaseURL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("portal: invalid BaseURL: %w", err)
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.AuditPageSize == 0 {
		cfg.AuditPageSize = DefaultAuditPageSize
	}

	c := &Client{config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Authz returns the authorizer, or nil if not configured.
func (c *Client) Authz() Authorizer { return c.authz }

// Audit returns the audit service, or nil if not configured.
func (c *Client) Audit() AuditService { return c.audit }

// Users returns the user service, or nil if not configured.
func (c *Client) Users() UserService { return c.users }

// Can reports whether the identity bound to ctx holds capability.
// Without an authorizer every capability is denied.
func (c *Client) Can(ctx context.Context, capability string) bool {
	if c.authz == nil {
		return false
	}
	ok, err := c.authz.Check(ctx, capability)
	if err != nil {
		c.logger.Warn("authorization check failed", "capability", capability, "error", err)
		return false
	}
	return ok
}

// Close releases all resources held by the client.
// Any injected service that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []any{c.authz, c.audit, c.users}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
