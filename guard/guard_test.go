package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/session"
	"github.com/chimerakang/portal-go/storage"
	"github.com/chimerakang/portal-go/token"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func identity(role portal.Role) portal.Identity {
	return portal.Identity{UserID: "u1", Username: "ana", Role: role, IsAuthenticated: true}
}

func TestEvaluate_UnauthenticatedThenReturn(t *testing.T) {
	g := New()

	d := g.Evaluate(portal.Identity{}, "/alunos/42")
	if d.State != Unauthenticated {
		t.Fatalf("State = %v, want unauthenticated", d.State)
	}
	if d.Redirect != "/login?from=%2Falunos%2F42" {
		t.Errorf("Redirect = %q", d.Redirect)
	}

	from := "/alunos/42"
	if got := ReturnPath(from); got != "/alunos/42" {
		t.Errorf("ReturnPath() = %q", got)
	}
	if d := g.Evaluate(identity(portal.RoleVisitor), ReturnPath(from)); d.State != Authorized {
		t.Errorf("after login State = %v, want authorized", d.State)
	}
}

func TestEvaluate_VisitorOnAdminRoute(t *testing.T) {
	g := New()
	for _, p := range []string{"/auditoria", "/usuarios", "/configuracoes"} {
		d := g.Evaluate(identity(portal.RoleVisitor), p)
		if d.State != Forbidden || d.Redirect != HomePath || d.Notice != NoticeAccessDenied {
			t.Errorf("%s: %+v, want forbidden to %s", p, d, HomePath)
		}
		if d := g.Evaluate(identity(portal.RoleAdmin), p); d.State != Authorized {
			t.Errorf("%s: admin State = %v", p, d.State)
		}
	}
}

func TestEvaluate_RouteTable(t *testing.T) {
	g := New()
	tests := []struct {
		path string
		role portal.Role
		want State
	}{
		{"/dashboard", portal.RoleVisitor, Authorized},
		{"/alunos", portal.RoleVisitor, Authorized},
		{"/alunos/novo", portal.RoleVisitor, Forbidden},
		{"/alunos/novo", portal.RoleEditor, Authorized},
		{"/alunos/42/edit", portal.RoleVisitor, Forbidden},
		{"/alunos/42/edit", portal.RoleEditor, Authorized},
		{"/alunos/42/summary", portal.RoleVisitor, Authorized},
		{"/alunos/42/boletins/2024", portal.RoleVisitor, Authorized},
		{"/contraturno/novo", portal.RoleVisitor, Forbidden},
		{"/contraturno/7", portal.RoleVisitor, Authorized},
		{"/contraturno/7/edit", portal.RoleEditor, Authorized},
		{"/comunicado", portal.RoleVisitor, Forbidden},
		{"/comunicado", portal.RoleEditor, Authorized},
		{"/usuarios", portal.RoleEditor, Forbidden},
		{"/nowhere", portal.RoleAdmin, NotFound},
		{"/alunos?page=2", portal.RoleVisitor, Authorized},
	}
	for _, tt := range tests {
		if got := g.Evaluate(identity(tt.role), tt.path).State; got != tt.want {
			t.Errorf("Evaluate(%s, %s) = %v, want %v", tt.role, tt.path, got, tt.want)
		}
	}
}

func TestEvaluate_Loading(t *testing.T) {
	g := New()
	if d := g.Evaluate(portal.Identity{IsLoading: true}, "/alunos"); d.State != Loading || d.Redirect != "" {
		t.Errorf("loading: %+v", d)
	}
}

func TestEvaluate_MissingRole(t *testing.T) {
	g := New()
	d := g.Evaluate(portal.Identity{UserID: "u1", IsAuthenticated: true}, "/alunos")
	if d.State != Unauthenticated || d.Notice != NoticeAuthError {
		t.Errorf("missing role: %+v", d)
	}
}

func TestEvaluate_LoginIsPublic(t *testing.T) {
	g := New()
	if d := g.Evaluate(portal.Identity{}, "/login?from=%2Falunos"); d.State != Authorized {
		t.Errorf("login State = %v", d.State)
	}
}

func TestReturnPath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", HomePath},
		{"/alunos/42?tab=saude", "/alunos/42?tab=saude"},
		{"https://evil.example/x", HomePath},
		{"//evil.example/x", HomePath},
		{"/\\evil.example", HomePath},
		{"alunos", HomePath},
		{"/login", HomePath},
	}
	for _, tt := range tests {
		if got := ReturnPath(tt.in); got != tt.want {
			t.Errorf("ReturnPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func credential(t *testing.T, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u1", "username": "ana", "role": role,
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWatch_LogoutLeavesAuthorized(t *testing.T) {
	s := session.New(token.Decoder{}, storage.NewMemory())
	s.Hydrate(context.Background())
	if _, err := s.Login(context.Background(), credential(t, "ADMIN"), ""); err != nil {
		t.Fatal(err)
	}

	var states []State
	cancel := New().Watch(s, "/auditoria", func(d Decision) { states = append(states, d.State) })
	defer cancel()

	s.Logout(context.Background())

	if len(states) != 2 || states[0] != Authorized || states[1] != Unauthenticated {
		t.Errorf("states = %v, want [authorized unauthenticated]", states)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := New()

	var current portal.Identity
	r := gin.New()
	r.Use(Middleware(g, func(*gin.Context) portal.Identity { return current }))
	r.GET("/auditoria", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	do := func(accept string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/auditoria", nil)
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		r.ServeHTTP(w, req)
		return w
	}

	current = portal.Identity{IsLoading: true}
	if w := do(""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("loading: code = %d", w.Code)
	}

	current = portal.Identity{}
	if w := do(""); w.Code != http.StatusFound || w.Header().Get("Location") != "/login?from=%2Fauditoria" {
		t.Errorf("unauthenticated: code = %d, location = %q", w.Code, w.Header().Get("Location"))
	}
	if w := do("application/json"); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated json: code = %d", w.Code)
	}

	current = identity(portal.RoleVisitor)
	if w := do("application/json"); w.Code != http.StatusForbidden {
		t.Errorf("forbidden json: code = %d", w.Code)
	}

	current = identity(portal.RoleAdmin)
	if w := do(""); w.Code != http.StatusOK {
		t.Errorf("authorized: code = %d", w.Code)
	}
}
