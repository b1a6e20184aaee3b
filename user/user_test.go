package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/authz"
	"github.com/chimerakang/portal-go/gateway"
)

// mockBackend implements Backend for testing
type mockBackend struct {
	users      map[string]portal.User
	created    []CreateRequest
	deleted    []string
	shouldFail bool
}

func newMockBackend() *mockBackend {
	return &mockBackend{users: map[string]portal.User{
		"u1": {ID: "u1", Username: "admin", Role: portal.RoleAdmin},
		"u2": {ID: "u2", Username: "maria", Role: portal.RoleEditor},
	}}
}

func (m *mockBackend) List(ctx context.Context) ([]portal.User, error) {
	if m.shouldFail {
		return nil, errors.New("list users failed")
	}
	out := make([]portal.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *mockBackend) Create(ctx context.Context, req CreateRequest) (portal.User, error) {
	if m.shouldFail {
		return portal.User{}, errors.New("create failed")
	}
	m.created = append(m.created, req)
	role, _ := portal.ParseRole(req.Role)
	return portal.User{ID: "new", Username: req.Username, Role: role}, nil
}

func (m *mockBackend) Update(ctx context.Context, userID string, req UpdateRequest) (portal.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return portal.User{}, portal.ErrNotFound
	}
	if req.Username != "" {
		u.Username = req.Username
	}
	return u, nil
}

func (m *mockBackend) Delete(ctx context.Context, userID string) error {
	if m.shouldFail {
		return errors.New("delete failed")
	}
	m.deleted = append(m.deleted, userID)
	return nil
}

func as(userID string, role portal.Role) context.Context {
	return portal.ContextWithIdentity(context.Background(),
		portal.Identity{UserID: userID, Username: userID, Role: role, IsAuthenticated: true})
}

func TestList_Success(t *testing.T) {
	svc := New(newMockBackend(), authz.NewPolicy())
	users, err := svc.List(as("u1", portal.RoleAdmin))
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("expected 2 users, got %d", len(users))
	}
}

func TestList_Failed(t *testing.T) {
	backend := newMockBackend()
	backend.shouldFail = true
	svc := New(backend, authz.NewPolicy())
	if _, err := svc.List(as("u1", portal.RoleAdmin)); err == nil {
		t.Fatal("expected error when backend fails")
	}
}

func TestRequiresManageUsers(t *testing.T) {
	backend := newMockBackend()
	svc := New(backend, authz.NewPolicy())
	ctx := as("u2", portal.RoleEditor)

	if _, err := svc.List(ctx); !errors.Is(err, portal.ErrForbidden) {
		t.Errorf("List: err = %v, want ErrForbidden", err)
	}
	if _, err := svc.Create(ctx, CreateRequest{Username: "x", Password: "secret1", Role: "EDITOR"}); !errors.Is(err, portal.ErrForbidden) {
		t.Errorf("Create: err = %v, want ErrForbidden", err)
	}
	if err := svc.Delete(ctx, "u1"); !errors.Is(err, portal.ErrForbidden) {
		t.Errorf("Delete: err = %v, want ErrForbidden", err)
	}
	if len(backend.created) != 0 || len(backend.deleted) != 0 {
		t.Error("denied calls must not reach the backend")
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
		ok   bool
	}{
		{"valid", CreateRequest{Username: "joao", Password: "secret1", Role: "EDITOR"}, true},
		{"default role", CreateRequest{Username: "joao", Password: "secret1"}, true},
		{"missing username", CreateRequest{Password: "secret1", Role: "ADMIN"}, false},
		{"short password", CreateRequest{Username: "joao", Password: "123", Role: "ADMIN"}, false},
		{"unknown role", CreateRequest{Username: "joao", Password: "secret1", Role: "ROOT"}, false},
	}
	for _, tt := range tests {
		backend := newMockBackend()
		svc := New(backend, authz.NewPolicy())
		_, err := svc.Create(as("u1", portal.RoleAdmin), tt.req)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, portal.ErrInvalidInput) {
			t.Errorf("%s: err = %v, want ErrInvalidInput", tt.name, err)
		}
	}
}

func TestCreate_DefaultsRole(t *testing.T) {
	backend := newMockBackend()
	svc := New(backend, authz.NewPolicy())
	u, err := svc.Create(as("u1", portal.RoleAdmin), CreateRequest{Username: "joao", Password: "secret1"})
	if err != nil {
		t.Fatal(err)
	}
	if backend.created[0].Role != DefaultRole {
		t.Errorf("Role = %q, want %q", backend.created[0].Role, DefaultRole)
	}
	if u.Role != portal.RoleVisitor {
		t.Errorf("created user Role = %q, want VISITOR", u.Role)
	}
}

func TestUpdate_EmptyID(t *testing.T) {
	svc := New(newMockBackend(), authz.NewPolicy())
	if _, err := svc.Update(as("u1", portal.RoleAdmin), "", UpdateRequest{}); err == nil {
		t.Fatal("expected error for empty userID")
	}
}

func TestUpdate_ShortPassword(t *testing.T) {
	svc := New(newMockBackend(), authz.NewPolicy())
	_, err := svc.Update(as("u1", portal.RoleAdmin), "u2", UpdateRequest{Password: "123"})
	if !errors.Is(err, portal.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDelete_Self(t *testing.T) {
	backend := newMockBackend()
	svc := New(backend, authz.NewPolicy())
	if err := svc.Delete(as("u1", portal.RoleAdmin), "u1"); !errors.Is(err, ErrSelfDelete) {
		t.Errorf("err = %v, want ErrSelfDelete", err)
	}
	if len(backend.deleted) != 0 {
		t.Error("self delete must not reach the backend")
	}
	if err := svc.Delete(as("u1", portal.RoleAdmin), "u2"); err != nil {
		t.Errorf("Delete(u2) error: %v", err)
	}
}

func TestHTTPBackend(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/usuarios":
			_ = json.NewEncoder(w).Encode([]map[string]string{
				{"_id": "u1", "username": "admin", "role": "ADMIN"},
				{"_id": "u3", "username": "visit", "role": "VISITANTE"},
			})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gw, err := gateway.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	b := NewHTTPBackend(gw)

	users, err := b.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(users) != 2 || users[1].Role != portal.RoleVisitor {
		t.Errorf("users = %+v", users)
	}

	if err := b.Delete(context.Background(), "u3"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/usuarios/u3" {
		t.Errorf("Delete() sent %s %s", gotMethod, gotPath)
	}
}
