// Package gateway is the single path from the portal to the records backend.
//
// Every request leaving through a Gateway carries the session credential in
// the X-API-TOKEN header. Every response is inspected: a 401 means the
// backend rejected the credential and the owning session is invalidated,
// once per credential, no matter how many in-flight requests fail together.
// All other failures are returned to the caller as *APIError and are never
// retried.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Header names used on outbound requests.
const (
	HeaderToken     = "X-API-TOKEN"
	HeaderRequestID = "X-Request-ID"
)

// Gateway issues backend requests on behalf of a session.
type Gateway struct {
	base    string
	client  *http.Client
	session portal.Session
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter
	timeout time.Duration

	sf singleflight.Group
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the HTTP client. Its transport is wrapped, not replaced.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithSession sets the session used when a request context carries none.
func WithSession(s portal.Session) Option {
	return func(g *Gateway) { g.session = s }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithRateLimiter makes every request wait for a token from l.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithTimeout bounds each request. Default: portal.DefaultRequestTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// New creates a Gateway for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) (*Gateway, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("portal/gateway: invalid base URL %q", baseURL)
	}
	g := &Gateway{
		base:    strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  slog.Default(),
		timeout: portal.DefaultRequestTimeout,
	}
	for _, o := range opts {
		o(g)
	}

	next := g.client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	wrapped := *g.client
	wrapped.Transport = &transport{next: next, g: g}
	g.client = &wrapped
	return g, nil
}

// HTTPClient returns the intercepting client for callers that need raw
// access (e.g. document downloads).
func (g *Gateway) HTTPClient() *http.Client { return g.client }

func (g *Gateway) sessionFor(ctx context.Context) portal.Session {
	if s, ok := portal.SessionFromContext(ctx); ok {
		return s
	}
	return g.session
}

type anonymousKey struct{}

// anonymous marks ctx so no credential is attached and a 401 does not
// invalidate the session (used by login).
func anonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey{}, true)
}

func isAnonymous(ctx context.Context) bool {
	v, _ := ctx.Value(anonymousKey{}).(bool)
	return v
}

// transport attaches the credential and watches for rejections.
type transport struct {
	next http.RoundTripper
	g    *Gateway
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	req = req.Clone(ctx)
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}

	var session portal.Session
	var generation uint64
	if !isAnonymous(ctx) {
		session = t.g.sessionFor(ctx)
	}
	if session != nil {
		if raw, gen, ok := session.Credential(); ok {
			req.Header.Set(HeaderToken, raw)
			generation = gen
		} else {
			session = nil
		}
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	t.g.metrics.RecordGatewayRequest(req.Method, status, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && session != nil {
		t.g.invalidate(ctx, session, generation)
	}
	return resp, nil
}

// invalidate collapses concurrent rejections of the same credential into one
// call; the session's generation check covers rejections that arrive later.
func (g *Gateway) invalidate(ctx context.Context, s portal.Session, generation uint64) {
	key := fmt.Sprintf("%p/%d", s, generation)
	_, _, _ = g.sf.Do(key, func() (any, error) {
		acted := s.InvalidateGeneration(context.WithoutCancel(ctx), generation)
		if acted {
			g.logger.Warn("gateway: credential rejected, session reset", "generation", generation)
		}
		return acted, nil
	})
}

// Do sends a JSON request and decodes a JSON response into out (if non-nil).
// path is relative to the base URL and may carry a query string.
func (g *Gateway) Do(ctx context.Context, method, path string, in, out any) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("portal/gateway: rate limit: %w", err)
		}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("portal/gateway: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base+ensureSlash(path), body)
	if err != nil {
		return fmt.Errorf("portal/gateway: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("portal/gateway: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("portal/gateway: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("portal/gateway: decode response: %w", err)
	}
	return nil
}

// Get issues a GET request.
func (g *Gateway) Get(ctx context.Context, path string, out any) error {
	return g.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request.
func (g *Gateway) Post(ctx context.Context, path string, in, out any) error {
	return g.Do(ctx, http.MethodPost, path, in, out)
}

// Put issues a PUT request.
func (g *Gateway) Put(ctx context.Context, path string, in, out any) error {
	return g.Do(ctx, http.MethodPut, path, in, out)
}

// Delete issues a DELETE request.
func (g *Gateway) Delete(ctx context.Context, path string, out any) error {
	return g.Do(ctx, http.MethodDelete, path, nil, out)
}

type loginRequest struct {
	User  string `json:"user"`
	Passw string `json:"passw"`
}

// Login exchanges username and password for a credential. It sends no
// credential and a rejection does not touch any existing session.
func (g *Gateway) Login(ctx context.Context, username, password string) (portal.LoginResult, error) {
	var res portal.LoginResult
	err := g.Post(anonymous(ctx), "/auth/login", loginRequest{User: username, Passw: password}, &res)
	if err != nil {
		return portal.LoginResult{}, err
	}
	if res.Token == "" {
		return portal.LoginResult{}, fmt.Errorf("portal/gateway: login returned no token")
	}
	return res, nil
}

func ensureSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
