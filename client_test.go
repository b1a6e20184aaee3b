package portal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	portal "github.com/chimerakang/portal-go"
)

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := portal.NewClient(portal.Config{})
	if err == nil {
		t.Fatal("NewClient() expected error when BaseURL is empty")
	}
}

func TestNewClient_RejectsRelativeBaseURL(t *testing.T) {
	_, err := portal.NewClient(portal.Config{BaseURL: "records/api"})
	if err == nil {
		t.Fatal("NewClient() expected error for a relative BaseURL")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := portal.NewClient(portal.Config{BaseURL: "http://localhost:8000/api"})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	if c.Config().RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %v, want %v", c.Config().RequestTimeout, 15*time.Second)
	}
	if c.Config().AuditPageSize != 20 {
		t.Errorf("AuditPageSize = %d, want 20", c.Config().AuditPageSize)
	}
	if c.Logger() == nil {
		t.Error("Logger() should default to slog.Default()")
	}
}

func TestNewClient_NilServicesByDefault(t *testing.T) {
	c, _ := portal.NewClient(portal.Config{BaseURL: "http://localhost:8000/api"})
	if c.Authz() != nil {
		t.Error("Authz() should be nil when not configured")
	}
	if c.Audit() != nil {
		t.Error("Audit() should be nil when not configured")
	}
	if c.Users() != nil {
		t.Error("Users() should be nil when not configured")
	}
}

type staticAuthorizer struct {
	allowed map[string]bool
	err     error
}

func (a staticAuthorizer) Check(_ context.Context, capability string) (bool, error) {
	return a.allowed[capability], a.err
}

func TestClient_Can(t *testing.T) {
	c, _ := portal.NewClient(portal.Config{BaseURL: "http://localhost:8000/api"},
		portal.WithAuthorizer(staticAuthorizer{allowed: map[string]bool{"view": true}}))

	if !c.Can(context.Background(), "view") {
		t.Error("Can(view) = false, want true")
	}
	if c.Can(context.Background(), "delete") {
		t.Error("Can(delete) = true, want false")
	}
}

func TestClient_CanDeniesOnError(t *testing.T) {
	c, _ := portal.NewClient(portal.Config{BaseURL: "http://localhost:8000/api"},
		portal.WithAuthorizer(staticAuthorizer{allowed: map[string]bool{"view": true}, err: errors.New("boom")}))

	if c.Can(context.Background(), "view") {
		t.Error("Can() should deny when the authorizer fails")
	}
}

func TestClient_CanWithoutAuthorizer(t *testing.T) {
	c, _ := portal.NewClient(portal.Config{BaseURL: "http://localhost:8000/api"})
	if c.Can(context.Background(), "view") {
		t.Error("Can() should deny without an authorizer")
	}
}

type closingAuthorizer struct {
	staticAuthorizer
	closed bool
}

func (a *closingAuthorizer) Close() error {
	a.closed = true
	return nil
}

func TestClient_CloseClosesServices(t *testing.T) {
	a := &closingAuthorizer{}
	c, _ := portal.NewClient(portal.Config{BaseURL: "http://localhost:8000/api"}, portal.WithAuthorizer(a))
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !a.closed {
		t.Error("Close() should close injected services")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want portal.Role
		ok   bool
	}{
		{"ADMIN", portal.RoleAdmin, true},
		{" editor ", portal.RoleEditor, true},
		{"VISITOR", portal.RoleVisitor, true},
		{"VISITANTE", portal.RoleVisitor, true},
		{"ROOT", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := portal.ParseRole(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseRole(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRoleRankOrdering(t *testing.T) {
	roles := portal.Roles()
	for i := 1; i < len(roles); i++ {
		if roles[i-1].Rank() >= roles[i].Rank() {
			t.Errorf("%s should rank below %s", roles[i-1], roles[i])
		}
	}
	if portal.Role("").Rank() != 0 {
		t.Error("empty role should rank 0")
	}
}

func TestIdentityFromContext(t *testing.T) {
	if _, ok := portal.IdentityFromContext(context.Background()); ok {
		t.Error("empty context should carry no identity")
	}

	want := portal.Identity{UserID: "u1", Role: portal.RoleEditor, IsAuthenticated: true}
	ctx := portal.ContextWithIdentity(context.Background(), want)
	got, ok := portal.IdentityFromContext(ctx)
	if !ok || got != want {
		t.Errorf("IdentityFromContext() = (%+v, %v), want (%+v, true)", got, ok, want)
	}
}

type stubSession struct{ id portal.Identity }

func (s *stubSession) Identity() portal.Identity                         { return s.id }
func (s *stubSession) Credential() (string, uint64, bool)                { return "", 0, false }
func (s *stubSession) InvalidateGeneration(context.Context, uint64) bool { return false }

func TestIdentityFromContext_SessionWins(t *testing.T) {
	s := &stubSession{id: portal.Identity{UserID: "live", Role: portal.RoleAdmin, IsAuthenticated: true}}
	ctx := portal.ContextWithIdentity(context.Background(), portal.Identity{UserID: "fixed"})
	ctx = portal.ContextWithSession(ctx, s)

	got, _ := portal.IdentityFromContext(ctx)
	if got.UserID != "live" {
		t.Errorf("UserID = %q, want live", got.UserID)
	}

	s.id = portal.Identity{}
	got, _ = portal.IdentityFromContext(ctx)
	if got.IsAuthenticated {
		t.Error("identity changes on the session should be visible immediately")
	}
}
