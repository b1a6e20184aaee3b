// Package guard decides, for an identity and a requested path, whether the
// portal renders the view, shows a loading indicator, or redirects.
package guard

import (
	"log/slog"
	"net/url"
	"strings"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/authz"
	"github.com/chimerakang/portal-go/metrics"
)

const (
	// LoginPath is where unauthenticated visitors are sent.
	LoginPath = "/login"

	// HomePath is the default landing view.
	HomePath = "/dashboard"

	NoticeAccessDenied = "access denied"
	NoticeAuthError    = "authentication error"
)

// State is the outcome of a guard evaluation.
type State int

const (
	Loading State = iota
	Unauthenticated
	Forbidden
	Authorized
	NotFound
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Authorized:
		return "authorized"
	case NotFound:
		return "not_found"
	}
	return "unknown"
}

// Decision is what the guard tells the view layer to do.
type Decision struct {
	State    State
	Redirect string
	Notice   string
}

// Route is a protected path. Pattern segments are literals, ":name"
// parameters, or a final "*" matching any remaining segments (including none).
type Route struct {
	Pattern string
	Roles   []portal.Role
	Public  bool
}

func (r Route) allows(role portal.Role) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// match returns a specificity score, or -1 when path does not match.
// Literal segments outrank parameters, which outrank the splat.
func (r Route) match(segments []string) int {
	pattern := split(r.Pattern)
	score := 0
	for i, p := range pattern {
		if p == "*" && i == len(pattern)-1 {
			return score
		}
		if i >= len(segments) {
			return -1
		}
		switch {
		case strings.HasPrefix(p, ":"):
			score += 2
		case p == segments[i]:
			score += 3
		default:
			return -1
		}
	}
	if len(pattern) != len(segments) {
		return -1
	}
	return score + 1
}

func split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// DefaultRoutes is the portal's route table. Role sets are derived from the
// capability each view needs.
func DefaultRoutes() []Route {
	view := authz.AllowedRoles(authz.View)
	create := authz.AllowedRoles(authz.Create)
	edit := authz.AllowedRoles(authz.Edit)
	return []Route{
		{Pattern: LoginPath, Public: true},
		{Pattern: "/dashboard", Roles: view},
		{Pattern: "/alunos", Roles: view},
		{Pattern: "/alunos/novo", Roles: create},
		{Pattern: "/alunos/:id/edit", Roles: edit},
		{Pattern: "/alunos/:id/summary", Roles: view},
		{Pattern: "/alunos/:id/*", Roles: view},
		{Pattern: "/contraturno", Roles: view},
		{Pattern: "/contraturno/novo", Roles: create},
		{Pattern: "/contraturno/:id", Roles: view},
		{Pattern: "/contraturno/:id/edit", Roles: edit},
		{Pattern: "/colaboradores", Roles: view},
		{Pattern: "/auditoria", Roles: authz.AllowedRoles(authz.ViewAudit)},
		{Pattern: "/usuarios", Roles: authz.AllowedRoles(authz.ManageUsers)},
		{Pattern: "/configuracoes", Roles: authz.AllowedRoles(authz.ManageConfig)},
		{Pattern: "/sobre-nos", Roles: view},
		{Pattern: "/comunicado", Roles: authz.AllowedRoles(authz.PublishNotices)},
	}
}

// Guard evaluates requested paths against a route table.
type Guard struct {
	routes  []Route
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Guard.
type Option func(*Guard)

// WithRoutes replaces the default route table.
func WithRoutes(routes []Route) Option {
	return func(g *Guard) { g.routes = routes }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// New creates a Guard over DefaultRoutes unless WithRoutes is given.
func New(opts ...Option) *Guard {
	g := &Guard{routes: DefaultRoutes(), logger: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Route returns the most specific route matching path.
func (g *Guard) Route(path string) (Route, bool) {
	segments := split(pathOnly(path))
	best, bestScore := Route{}, -1
	for _, r := range g.routes {
		if s := r.match(segments); s > bestScore {
			best, bestScore = r, s
		}
	}
	return best, bestScore >= 0
}

// Evaluate decides what to show for path given identity. path may carry a
// query string, which is preserved in the login redirect.
func (g *Guard) Evaluate(identity portal.Identity, path string) Decision {
	d := g.evaluate(identity, path)
	g.metrics.RecordGuardDecision(d.State.String())
	if d.State == Forbidden {
		g.logger.Warn("guard: access denied", "path", pathOnly(path), "role", string(identity.Role))
	}
	return d
}

func (g *Guard) evaluate(identity portal.Identity, path string) Decision {
	route, ok := g.Route(path)
	if !ok {
		return Decision{State: NotFound}
	}
	if route.Public {
		return Decision{State: Authorized}
	}
	if identity.IsLoading {
		return Decision{State: Loading}
	}
	if !identity.IsAuthenticated {
		return Decision{State: Unauthenticated, Redirect: LoginRedirect(path)}
	}
	if !identity.Role.Valid() {
		return Decision{State: Unauthenticated, Redirect: LoginRedirect(path), Notice: NoticeAuthError}
	}
	if !route.allows(identity.Role) {
		return Decision{State: Forbidden, Redirect: HomePath, Notice: NoticeAccessDenied}
	}
	return Decision{State: Authorized}
}

// LoginRedirect is the login URL remembering path as the return target.
func LoginRedirect(path string) string {
	return LoginPath + "?from=" + url.QueryEscape(path)
}

// ReturnPath validates a post-login return target. Only local absolute
// paths are accepted; anything else yields HomePath.
func ReturnPath(from string) string {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") {
		return HomePath
	}
	u, err := url.Parse(from)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return HomePath
	}
	if pathOnly(from) == LoginPath {
		return HomePath
	}
	return from
}

func pathOnly(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		return p[:i]
	}
	return p
}

// Source is an observable identity, such as a session.Store.
type Source interface {
	Identity() portal.Identity
	Subscribe(fn func(portal.Identity)) (cancel func())
}

// Watch calls fn with the decision for path now and again after every
// identity change, until the returned cancel func is called.
func (g *Guard) Watch(src Source, path string, fn func(Decision)) (cancel func()) {
	cancel = src.Subscribe(func(id portal.Identity) {
		fn(g.Evaluate(id, path))
	})
	fn(g.Evaluate(src.Identity(), path))
	return cancel
}
