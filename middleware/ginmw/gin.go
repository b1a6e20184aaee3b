// Package ginmw provides Gin HTTP middleware binding a browser to its portal
// session.
//
// Each browser carries an opaque session cookie. The Registry maps the cookie
// to a session.Store whose durable values live in a per-browser portal.Storage
// (memory, file or Redis), hydrates it on first use and binds it to the
// request context so gateway calls and policy checks see the live identity.
package ginmw

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/metrics"
	"github.com/chimerakang/portal-go/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys for storing portal data in gin.Context.
const (
	KeySession   = "portal_session"
	KeySessionID = "portal_session_id"
)

// StorageFactory opens the durable storage for one browser session.
type StorageFactory func(sessionID string) portal.Storage

// Registry holds the live session stores of all browsers.
type Registry struct {
	open    StorageFactory
	decoder session.Decoder
	cookie  string
	secure  bool
	maxAge  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*entry
	now      func() time.Time
}

type entry struct {
	store    *session.Store
	lastSeen time.Time
}

// Option configures the Registry.
type Option func(*Registry)

// WithCookieName sets the session cookie name. Default: "portal_session".
func WithCookieName(name string) Option {
	return func(r *Registry) { r.cookie = name }
}

// WithSecureCookie marks the cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(r *Registry) { r.secure = secure }
}

// WithMaxAge sets the cookie lifetime. Default: 12h.
func WithMaxAge(d time.Duration) Option {
	return func(r *Registry) { r.maxAge = d }
}

// WithDecoder sets the credential decoder used by new stores.
func WithDecoder(d session.Decoder) Option {
	return func(r *Registry) { r.decoder = d }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics sink passed to new stores.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a Registry whose stores persist through open.
func NewRegistry(open StorageFactory, opts ...Option) *Registry {
	r := &Registry{
		open:     open,
		cookie:   "portal_session",
		maxAge:   12 * time.Hour,
		logger:   slog.Default(),
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Store returns the hydrated store for sessionID, creating it on first use.
func (r *Registry) Store(ctx context.Context, sessionID string) *session.Store {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		s := session.New(r.decoder, r.open(sessionID),
			session.WithLogger(r.logger.With("session_id", sessionID)),
			session.WithMetrics(r.metrics),
		)
		e = &entry{store: s}
		r.sessions[sessionID] = e
	}
	e.lastSeen = r.now()
	r.mu.Unlock()

	if !ok {
		e.store.Hydrate(ctx)
	}
	return e.store
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops stores idle for longer than idle. Durable values stay in
// storage; the next request for the session rehydrates it.
func (r *Registry) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-idle)
	n := 0
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// SweepUnauthenticated drops stores that hold no identity and have been
// idle longer than idle. Such a store has nothing worth keeping, so idle can
// be much shorter than the one passed to Sweep.
func (r *Registry) SweepUnauthenticated(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-idle)
	n := 0
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) && !e.store.Identity().IsAuthenticated {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Sessions returns Gin middleware that resolves the browser's session,
// issuing a cookie when the browser has none, and binds the store to the
// request context.
func Sessions(reg *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(reg.cookie)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(reg.cookie, id, int(reg.maxAge.Seconds()), "/", "", reg.secure, true)
		}

		store := reg.Store(c.Request.Context(), id)
		c.Set(KeySessionID, id)
		c.Set(KeySession, store)
		c.Request = c.Request.WithContext(portal.ContextWithSession(c.Request.Context(), store))
		c.Next()
	}
}

// Require returns Gin middleware that checks a single capability for the
// identity bound to the request.
// Responds with 403 if the capability is denied.
func Require(a portal.Authorizer, capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := a.Check(c.Request.Context(), capability)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authorization check failed"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

// --- Context helpers ---

// GetSession returns the session store bound by Sessions.
func GetSession(c *gin.Context) *session.Store {
	v, _ := c.Get(KeySession)
	s, _ := v.(*session.Store)
	return s
}

// GetSessionID returns the browser session id.
func GetSessionID(c *gin.Context) string {
	v, _ := c.Get(KeySessionID)
	s, _ := v.(string)
	return s
}

// GetIdentity returns the live identity of the request's session. Without a
// session it reports a settled, unauthenticated identity.
func GetIdentity(c *gin.Context) portal.Identity {
	if s := GetSession(c); s != nil {
		return s.Identity()
	}
	return portal.Identity{}
}
