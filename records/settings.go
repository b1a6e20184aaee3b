package records

import (
	"context"
	"fmt"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/authz"
)

// Settings reads and writes the system configuration. Every call needs
// authz.ManageConfig.
type Settings struct {
	req   Requester
	authz portal.Authorizer
}

// NewSettings creates a Settings client.
func NewSettings(req Requester, a portal.Authorizer) *Settings {
	return &Settings{req: req, authz: a}
}

func (s *Settings) require(ctx context.Context) error {
	ok, err := s.authz.Check(ctx, string(authz.ManageConfig))
	if err != nil {
		return fmt.Errorf("portal/records: %w", err)
	}
	if !ok {
		return fmt.Errorf("portal/records: %w: %s", portal.ErrForbidden, authz.ManageConfig)
	}
	return nil
}

// Get returns the current configuration.
func (s *Settings) Get(ctx context.Context) (Document, error) {
	if err := s.require(ctx); err != nil {
		return nil, err
	}
	var out Document
	if err := s.req.Get(ctx, "/configuracoes", &out); err != nil {
		return nil, fmt.Errorf("portal/records: get settings: %w", err)
	}
	return out, nil
}

// Update stores changes and returns the resulting configuration.
func (s *Settings) Update(ctx context.Context, changes Document) (Document, error) {
	if err := s.require(ctx); err != nil {
		return nil, err
	}
	var out Document
	if err := s.req.Put(ctx, "/configuracoes", changes, &out); err != nil {
		return nil, fmt.Errorf("portal/records: update settings: %w", err)
	}
	return out, nil
}

// Reset restores the defaults.
func (s *Settings) Reset(ctx context.Context) (Document, error) {
	if err := s.require(ctx); err != nil {
		return nil, err
	}
	var out Document
	if err := s.req.Post(ctx, "/configuracoes/reset", nil, &out); err != nil {
		return nil, fmt.Errorf("portal/records: reset settings: %w", err)
	}
	return out, nil
}
