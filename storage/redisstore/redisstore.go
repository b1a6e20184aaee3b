// Package redisstore keeps per-browser session values in Redis so that portal
// instances behind a load balancer share sessions.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	portal "github.com/chimerakang/portal-go"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an idle session hash is retained.
const DefaultTTL = 12 * time.Hour

// Backend opens session-scoped stores on a shared Redis client.
type Backend struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures the Backend.
type Option func(*Backend)

// WithPrefix sets the key prefix. Default: "portal:session:".
func WithPrefix(p string) Option {
	return func(b *Backend) { b.prefix = p }
}

// WithTTL sets the sliding expiry of a session hash.
func WithTTL(d time.Duration) Option {
	return func(b *Backend) { b.ttl = d }
}

// New creates a Backend on client.
func New(client redis.UniversalClient, opts ...Option) *Backend {
	b := &Backend{client: client, prefix: "portal:session:", ttl: DefaultTTL}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Open returns the store for one browser session.
func (b *Backend) Open(sessionID string) *Store {
	return &Store{backend: b, key: b.prefix + sessionID}
}

// Ping checks connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("portal/redisstore: ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (b *Backend) Close() error { return b.client.Close() }

// Store is a portal.Storage holding one session's values in a Redis hash.
type Store struct {
	backend *Backend
	key     string
}

var _ portal.Storage = (*Store)(nil)

// Key returns the Redis key of the session hash.
func (s *Store) Key() string { return s.key }

func (s *Store) Get(ctx context.Context, field string) (string, bool, error) {
	v, err := s.backend.client.HGet(ctx, s.key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("portal/redisstore: get %s: %w", field, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, field, value string) error {
	_, err := s.backend.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key, field, value)
		p.Expire(ctx, s.key, s.backend.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("portal/redisstore: set %s: %w", field, err)
	}
	return nil
}

// Delete removes all fields with a single HDEL.
func (s *Store) Delete(ctx context.Context, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.backend.client.HDel(ctx, s.key, fields...).Err(); err != nil {
		return fmt.Errorf("portal/redisstore: delete: %w", err)
	}
	return nil
}
