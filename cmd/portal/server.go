package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/audit"
	"github.com/chimerakang/portal-go/authz"
	"github.com/chimerakang/portal-go/config"
	"github.com/chimerakang/portal-go/gateway"
	"github.com/chimerakang/portal-go/guard"
	"github.com/chimerakang/portal-go/metrics"
	"github.com/chimerakang/portal-go/middleware/ginmw"
	"github.com/chimerakang/portal-go/query"
	"github.com/chimerakang/portal-go/records"
	"github.com/chimerakang/portal-go/user"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// server holds the process-wide services. Everything per browser lives in
// the session registry and in scopes.
type server struct {
	cfg     config.Config
	logger  *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics

	client   *portal.Client
	policy   *authz.Policy
	gw       *gateway.Gateway
	sessions *ginmw.Registry
	guard    *guard.Guard
	login    *rate.Limiter

	validate *validator.Validate
	settings *records.Settings
	journal  *audit.Journal
	users    *user.Service
	scopes   *scopes
}

// apiRoutes extends the page routes with the JSON endpoints that have no
// page of their own.
func apiRoutes() []guard.Route {
	view := authz.AllowedRoles(authz.View)
	return append(guard.DefaultRoutes(),
		guard.Route{Pattern: "/alunos/:id", Roles: view},
		guard.Route{Pattern: "/colaboradores/:id", Roles: view},
		guard.Route{Pattern: "/auditoria/*", Roles: authz.AllowedRoles(authz.ViewAudit)},
		guard.Route{Pattern: "/usuarios/*", Roles: authz.AllowedRoles(authz.ManageUsers)},
		guard.Route{Pattern: "/configuracoes/*", Roles: authz.AllowedRoles(authz.ManageConfig)},
	)
}

func newServer(cfg config.Config, logger *slog.Logger, open ginmw.StorageFactory, reg *prometheus.Registry) (*server, error) {
	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	policy := authz.NewPolicy(
		authz.WithStrict(cfg.StrictPolicy),
		authz.WithLogger(logger),
		authz.WithMetrics(m),
	)

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(m),
		gateway.WithTimeout(cfg.Backend.RequestTimeout),
	}
	if cfg.Backend.RateLimit > 0 {
		gwOpts = append(gwOpts, gateway.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.Backend.RateLimit), cfg.Backend.RateBurst)))
	}
	gw, err := gateway.New(cfg.Backend.BaseURL, gwOpts...)
	if err != nil {
		return nil, err
	}

	// Stats are never cached; audit pages are read through each scope.
	auditSvc := audit.New(gw, audit.WithCache(query.NewCache(query.WithoutRetention())))
	users := user.New(user.NewHTTPBackend(gw), policy)

	client, err := portal.NewClient(
		portal.Config{BaseURL: cfg.Backend.BaseURL, RequestTimeout: cfg.Backend.RequestTimeout},
		portal.WithLogger(logger),
		portal.WithAuthorizer(policy),
		portal.WithAuditService(auditSvc),
		portal.WithUserService(users),
	)
	if err != nil {
		return nil, err
	}

	s := &server{
		cfg:     cfg,
		logger:  logger,
		reg:     reg,
		metrics: m,
		client:  client,
		policy:  policy,
		gw:      gw,
		sessions: ginmw.NewRegistry(open,
			ginmw.WithCookieName(cfg.Session.CookieName),
			ginmw.WithSecureCookie(cfg.Session.Secure),
			ginmw.WithMaxAge(cfg.Session.TTL),
			ginmw.WithLogger(logger),
			ginmw.WithMetrics(m),
		),
		guard: guard.New(
			guard.WithRoutes(apiRoutes()),
			guard.WithLogger(logger),
			guard.WithMetrics(m),
		),
		login:    rate.NewLimiter(rate.Limit(cfg.Server.LoginRate), cfg.Server.LoginBurst),
		validate: validator.New(),
		settings: records.NewSettings(gw, policy),
		journal:  audit.NewJournal(0, audit.WithSlog(logger)),
		users:    users,
	}
	s.scopes = newScopes(s)
	return s, nil
}

// Close flushes the revert journal and releases the services.
func (s *server) Close() error {
	jerr := s.journal.Close()
	if err := s.client.Close(); err != nil {
		return err
	}
	return jerr
}

// Idle limits for sweeping. A store without an identity holds nothing, so
// it goes quickly; scopes only hold cached reads and view state.
const (
	sweepEvery    = time.Minute
	anonymousIdle = 5 * time.Minute
	scopeIdle     = 30 * time.Minute
)

// sweep periodically drops idle sessions and scopes until ctx is done.
func (s *server) sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweepOnce()
		}
	}
}

func (s *server) sweepOnce() {
	n := s.sessions.Sweep(s.cfg.Session.TTL)
	n += s.sessions.SweepUnauthenticated(anonymousIdle)
	v := s.scopes.sweep(scopeIdle)
	if n > 0 || v > 0 {
		s.logger.Debug("swept idle sessions", "sessions", n, "scopes", v)
	}
}

// Handler builds the HTTP router.
func (s *server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	// Scrapers carry no cookie; keep them out of the session registry.
	if s.reg != nil {
		r.GET(s.cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})))
	}

	app := r.Group("/", ginmw.Sessions(s.sessions))
	app.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, guard.HomePath) })
	app.POST(guard.LoginPath, s.handleLogin)
	app.POST("/logout", s.handleLogout)
	app.GET("/me", s.handleMe)

	g := app.Group("/", guard.Middleware(s.guard, ginmw.GetIdentity))
	g.GET("/dashboard", s.handleDashboard)

	g.GET("/alunos", listHandler(s, studentsIn))
	g.POST("/alunos", createHandler(s, studentsIn))
	g.GET("/alunos/:id", getHandler(s, studentsIn))
	g.PUT("/alunos/:id", updateHandler(s, studentsIn))
	g.DELETE("/alunos/:id", confirmedDeleteHandler(s, studentsIn))
	g.GET("/alunos/:id/:sub", s.nestedList)
	g.POST("/alunos/:id/:sub", s.nestedCreate)
	g.GET("/alunos/:id/:sub/:doc", s.nestedGet)
	g.PUT("/alunos/:id/:sub/:doc", s.nestedUpdate)
	g.DELETE("/alunos/:id/:sub/:doc", s.nestedDelete)

	g.GET("/contraturno", listHandler(s, projectsIn))
	g.POST("/contraturno", createHandler(s, projectsIn))
	g.GET("/contraturno/:id", getHandler(s, projectsIn))
	g.PUT("/contraturno/:id", updateHandler(s, projectsIn))
	g.DELETE("/contraturno/:id", confirmedDeleteHandler(s, projectsIn))

	g.GET("/colaboradores", listHandler(s, staffIn))
	g.POST("/colaboradores", createHandler(s, staffIn))
	g.GET("/colaboradores/:id", getHandler(s, staffIn))
	g.PUT("/colaboradores/:id", updateHandler(s, staffIn))
	g.DELETE("/colaboradores/:id", deleteHandler(s, staffIn))

	g.GET("/auditoria", s.handleAuditList)
	g.GET("/auditoria/stats", s.handleAuditStats)
	g.POST("/auditoria/revert", s.handleRevertClick)
	g.POST("/auditoria/revert/cancel", s.handleRevertCancel)

	g.GET("/usuarios", s.handleUserList)
	g.POST("/usuarios", s.handleUserCreate)
	g.PUT("/usuarios/:id", s.handleUserUpdate)
	g.DELETE("/usuarios/:id", s.handleUserDelete)

	g.GET("/configuracoes", s.handleSettingsGet)
	g.PUT("/configuracoes", s.handleSettingsUpdate)
	g.POST("/configuracoes/reset", s.handleSettingsReset)

	return r
}

// writeError maps service errors onto HTTP responses.
func (s *server) writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	body := gin.H{"error": gateway.Message(err, "backend request failed")}

	switch {
	case errors.Is(err, portal.ErrUnauthorized):
		status = http.StatusUnauthorized
		body["redirect"] = guard.LoginRedirect(c.Request.URL.RequestURI())
	case errors.Is(err, portal.ErrForbidden):
		status = http.StatusForbidden
		body["notice"] = guard.NoticeAccessDenied
	case errors.Is(err, portal.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, records.ErrNotConfirmed),
		errors.Is(err, audit.ErrNotRevertible),
		errors.Is(err, user.ErrSelfDelete):
		status = http.StatusConflict
		body["error"] = err.Error()
	case errors.Is(err, portal.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, query.ErrInFlight):
		status = http.StatusConflict
		body["error"] = "request already in progress"
	case errors.Is(err, query.ErrStale):
		status = http.StatusConflict
		body["error"] = "superseded by a newer request"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

type loginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *server) handleLogin(c *gin.Context) {
	if !s.login.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
		return
	}
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	ctx := c.Request.Context()
	res, err := s.gw.Login(ctx, body.Username, body.Password)
	if err != nil {
		s.metrics.RecordLogin("rejected")
		c.AbortWithStatusJSON(loginStatus(err), gin.H{"error": gateway.Message(err, "login failed")})
		return
	}
	id, err := ginmw.GetSession(c).Login(ctx, res.Token, res.StudentID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": guard.NoticeAuthError})
		return
	}
	s.scopes.drop(ginmw.GetSessionID(c))
	c.JSON(http.StatusOK, gin.H{
		"identity": id,
		"redirect": guard.ReturnPath(c.Query("from")),
	})
}

func loginStatus(err error) int {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
		return apiErr.Status
	}
	return http.StatusBadGateway
}

func (s *server) handleLogout(c *gin.Context) {
	ginmw.GetSession(c).Logout(c.Request.Context())
	s.scopes.drop(ginmw.GetSessionID(c))
	c.JSON(http.StatusOK, gin.H{"redirect": guard.LoginPath})
}

func (s *server) handleMe(c *gin.Context) {
	store := ginmw.GetSession(c)
	resp := gin.H{"identity": store.Identity()}
	if sid, ok := store.StudentID(c.Request.Context()); ok {
		resp["studentId"] = sid
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) handleDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	caps := make(map[authz.Capability]bool)
	for _, cp := range authz.Capabilities() {
		caps[cp] = s.client.Can(ctx, string(cp))
	}
	c.JSON(http.StatusOK, gin.H{
		"identity":     ginmw.GetIdentity(c),
		"capabilities": caps,
	})
}
