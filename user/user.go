// Package user provides the portal.UserService implementation used by the
// account administration view.
package user

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/authz"
	"github.com/go-playground/validator/v10"
)

// ErrSelfDelete is returned when an administrator tries to delete the
// account they are signed in with.
var ErrSelfDelete = errors.New("portal/user: cannot delete your own account")

// Backend defines the contract for pluggable account backends.
type Backend interface {
	// List returns all accounts.
	List(ctx context.Context) ([]portal.User, error)

	// Create adds an account.
	Create(ctx context.Context, req CreateRequest) (portal.User, error)

	// Update changes an account.
	Update(ctx context.Context, userID string, req UpdateRequest) (portal.User, error)

	// Delete removes an account.
	Delete(ctx context.Context, userID string) error
}

// CreateRequest is the payload for a new account. The form defaults Role to
// "VISITANTE", the backend's name for read-only accounts.
type CreateRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=ADMIN EDITOR VISITOR VISITANTE"`
}

// UpdateRequest changes an account. Empty fields are left unchanged.
type UpdateRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty" validate:"omitempty,min=6"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=ADMIN EDITOR VISITOR VISITANTE"`
}

// DefaultRole is the role preselected for new accounts.
const DefaultRole = "VISITANTE"

// Service implements portal.UserService with a configurable backend. Every
// call needs authz.ManageUsers.
type Service struct {
	backend  Backend
	authz    portal.Authorizer
	validate *validator.Validate
}

var _ portal.UserService = (*Service)(nil)

// New creates a new UserService with the given backend.
func New(backend Backend, a portal.Authorizer) *Service {
	return &Service{backend: backend, authz: a, validate: validator.New()}
}

func (s *Service) require(ctx context.Context) error {
	ok, err := s.authz.Check(ctx, string(authz.ManageUsers))
	if err != nil {
		return fmt.Errorf("portal/user: %w", err)
	}
	if !ok {
		return fmt.Errorf("portal/user: %w: %s", portal.ErrForbidden, authz.ManageUsers)
	}
	return nil
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]portal.User, error) {
	if err := s.require(ctx); err != nil {
		return nil, err
	}
	users, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("portal/user: %w", err)
	}
	return users, nil
}

// Create validates req and adds the account.
func (s *Service) Create(ctx context.Context, req CreateRequest) (portal.User, error) {
	if err := s.require(ctx); err != nil {
		return portal.User{}, err
	}
	if req.Role == "" {
		req.Role = DefaultRole
	}
	if err := s.validate.Struct(req); err != nil {
		return portal.User{}, fmt.Errorf("portal/user: %w: %v", portal.ErrInvalidInput, err)
	}
	u, err := s.backend.Create(ctx, req)
	if err != nil {
		return portal.User{}, fmt.Errorf("portal/user: %w", err)
	}
	return u, nil
}

// Update changes the account userID.
func (s *Service) Update(ctx context.Context, userID string, req UpdateRequest) (portal.User, error) {
	if err := s.require(ctx); err != nil {
		return portal.User{}, err
	}
	if userID == "" {
		return portal.User{}, fmt.Errorf("portal/user: userID cannot be empty")
	}
	if err := s.validate.Struct(req); err != nil {
		return portal.User{}, fmt.Errorf("portal/user: %w: %v", portal.ErrInvalidInput, err)
	}
	u, err := s.backend.Update(ctx, userID, req)
	if err != nil {
		return portal.User{}, fmt.Errorf("portal/user: %w", err)
	}
	return u, nil
}

// Delete removes the account userID. The signed-in account cannot be removed.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if err := s.require(ctx); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("portal/user: userID cannot be empty")
	}
	if id, ok := portal.IdentityFromContext(ctx); ok && id.UserID == userID {
		return ErrSelfDelete
	}
	if err := s.backend.Delete(ctx, userID); err != nil {
		return fmt.Errorf("portal/user: %w", err)
	}
	return nil
}

// Requester is the subset of the gateway the HTTP backend needs.
type Requester interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, in, out any) error
	Put(ctx context.Context, path string, in, out any) error
	Delete(ctx context.Context, path string, out any) error
}

// HTTPBackend speaks the /usuarios endpoints.
type HTTPBackend struct {
	req Requester
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend creates a Backend over req.
func NewHTTPBackend(req Requester) *HTTPBackend {
	return &HTTPBackend{req: req}
}

func (b *HTTPBackend) List(ctx context.Context) ([]portal.User, error) {
	var out []portal.User
	if err := b.req.Get(ctx, "/usuarios", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *HTTPBackend) Create(ctx context.Context, req CreateRequest) (portal.User, error) {
	var out portal.User
	err := b.req.Post(ctx, "/usuarios", req, &out)
	return out, err
}

func (b *HTTPBackend) Update(ctx context.Context, userID string, req UpdateRequest) (portal.User, error) {
	var out portal.User
	err := b.req.Put(ctx, "/usuarios/"+url.PathEscape(userID), req, &out)
	return out, err
}

func (b *HTTPBackend) Delete(ctx context.Context, userID string) error {
	return b.req.Delete(ctx, "/usuarios/"+url.PathEscape(userID), nil)
}
