// Package authz is the portal's authorization policy.
//
// The capability table below is the only place that relates roles to what
// they may do. Route tables, feature clients and the web layer all ask this
// package instead of comparing role names.
//
// Each capability records the least privileged role that holds it and a role
// holds every capability whose minimum it meets. The relation is therefore
// total over the declared capabilities and monotonic: anything a VISITOR can
// do an EDITOR can do, and anything an EDITOR can do an ADMIN can do.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/metrics"
)

// Capability is a named permission.
type Capability string

const (
	View           Capability = "view"
	Create         Capability = "create"
	Edit           Capability = "edit"
	Delete         Capability = "delete"
	ViewSensitive  Capability = "viewSensitive"
	PublishNotices Capability = "publishNotices"
	ManageConfig   Capability = "manageConfig"
	ViewAudit      Capability = "viewAudit"
	RevertAudit    Capability = "revertAudit"
	ManageUsers    Capability = "manageUsers"
)

var table = map[Capability]portal.Role{
	View: portal.RoleVisitor,

	// Health and diagnosis records are readable by every role; the
	// capability is kept separate so it can be raised on its own.
	ViewSensitive: portal.RoleVisitor,

	Create:         portal.RoleEditor,
	Edit:           portal.RoleEditor,
	PublishNotices: portal.RoleEditor,

	Delete:       portal.RoleAdmin,
	ManageConfig: portal.RoleAdmin,
	ViewAudit:    portal.RoleAdmin,
	RevertAudit:  portal.RoleAdmin,
	ManageUsers:  portal.RoleAdmin,
}

// Capabilities returns every declared capability in a stable order.
func Capabilities() []Capability {
	caps := make([]Capability, 0, len(table))
	for c := range table {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Known reports whether c is declared.
func Known(c Capability) bool {
	_, ok := table[c]
	return ok
}

// Decision is the outcome of a capability check.
type Decision int

const (
	// Deny means the capability is not held.
	Deny Decision = iota

	// Allow means the capability is held.
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Policy evaluates the capability table.
type Policy struct {
	strict  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ portal.Authorizer = (*Policy)(nil)

// Option configures a Policy.
type Option func(*Policy)

// WithStrict makes unknown capabilities panic instead of being denied.
// Use it in development and tests.
func WithStrict(strict bool) Option {
	return func(p *Policy) { p.strict = strict }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Policy) { p.metrics = m }
}

// NewPolicy creates a Policy. The default denies unknown capabilities.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

var defaultPolicy = NewPolicy()

// Can reports whether role holds c under the default policy.
func Can(role portal.Role, c Capability) bool { return defaultPolicy.Can(role, c) }

// Can reports whether role holds c.
func (p *Policy) Can(role portal.Role, c Capability) bool {
	return p.Decide(role, c) == Allow
}

// Decide evaluates c for role.
func (p *Policy) Decide(role portal.Role, c Capability) Decision {
	minimum, ok := table[c]
	if !ok {
		if p.strict {
			panic(fmt.Sprintf("authz: unknown capability %q", c))
		}
		p.logger.Error("authz: unknown capability denied", "capability", string(c))
		p.metrics.RecordPolicyDenial(string(c))
		return Deny
	}
	if role.Rank() > 0 && role.Rank() >= minimum.Rank() {
		return Allow
	}
	p.metrics.RecordPolicyDenial(string(c))
	return Deny
}

// Granted returns the capabilities role holds.
func (p *Policy) Granted(role portal.Role) []Capability {
	var caps []Capability
	for _, c := range Capabilities() {
		if p.Can(role, c) {
			caps = append(caps, c)
		}
	}
	return caps
}

// AllowedRoles returns the roles holding c, least privileged first.
func AllowedRoles(c Capability) []portal.Role {
	var roles []portal.Role
	for _, r := range portal.Roles() {
		if defaultPolicy.Can(r, c) {
			roles = append(roles, r)
		}
	}
	return roles
}

// Check implements portal.Authorizer for the identity bound to ctx.
// Without an authenticated identity every capability is denied.
func (p *Policy) Check(ctx context.Context, capability string) (bool, error) {
	c := Capability(capability)
	if !Known(c) {
		if p.strict {
			panic(fmt.Sprintf("authz: unknown capability %q", c))
		}
		return false, fmt.Errorf("portal/authz: unknown capability %q", capability)
	}
	id, ok := portal.IdentityFromContext(ctx)
	if !ok || !id.IsAuthenticated {
		return false, nil
	}
	return p.Can(id.Role, c), nil
}

// Require returns nil when the identity bound to ctx holds c and an error
// wrapping portal.ErrForbidden otherwise.
func (p *Policy) Require(ctx context.Context, c Capability) error {
	ok, err := p.Check(ctx, string(c))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", portal.ErrForbidden, c)
	}
	return nil
}

// Require checks c under the default policy.
func Require(ctx context.Context, c Capability) error { return defaultPolicy.Require(ctx, c) }
