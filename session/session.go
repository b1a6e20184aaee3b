// Package session holds the portal's session state: the current credential
// and the identity derived from it.
//
// A Store is the only writer of the persisted credential. Every credential
// change (hydration at startup, login, logout, invalidation by the gateway)
// runs one decode cycle that publishes a complete Identity snapshot, so no
// reader sees an old role next to a new authentication flag.
package session

import (
	"context"
	"log/slog"
	"sync"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/metrics"
	"github.com/chimerakang/portal-go/token"
)

// LoginPath is where a reset session is sent.
const LoginPath = "/login"

// Decoder turns a raw credential into claims.
type Decoder interface {
	Decode(raw string) token.Result
}

// Store implements portal.Session.
type Store struct {
	decoder  Decoder
	storage  portal.Storage
	logger   *slog.Logger
	navigate func(path string)
	metrics  *metrics.Metrics

	// writeMu serializes mutations together with their notifications so
	// subscribers observe snapshots in the order they were produced.
	writeMu sync.Mutex

	mu         sync.RWMutex
	raw        string
	generation uint64
	identity   portal.Identity

	subMu   sync.Mutex
	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id int
	fn func(portal.Identity)
}

var _ portal.Session = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNavigator sets the hard-navigation hook invoked with LoginPath after
// a logout or invalidation.
func WithNavigator(fn func(path string)) Option {
	return func(s *Store) { s.navigate = fn }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store. The identity reports IsLoading until Hydrate runs.
func New(decoder Decoder, storage portal.Storage, opts ...Option) *Store {
	if decoder == nil {
		decoder = token.Decoder{}
	}
	s := &Store{
		decoder:  decoder,
		storage:  storage,
		logger:   slog.Default(),
		navigate: func(string) {},
		identity: portal.Identity{IsLoading: true},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Identity returns the current identity snapshot.
func (s *Store) Identity() portal.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Credential returns the raw credential and its generation. The generation
// changes on every credential change.
func (s *Store) Credential() (string, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw, s.generation, s.raw != ""
}

// StudentID returns the persisted student id convenience value.
func (s *Store) StudentID(ctx context.Context) (string, bool) {
	v, ok, err := s.storage.Get(ctx, portal.KeyStudentID)
	if err != nil {
		s.logger.Warn("session: read student id", "error", err)
		return "", false
	}
	return v, ok
}

// Subscribe registers fn to receive every new identity snapshot. fn runs
// synchronously before the mutating call returns and must not call back
// into mutating Store methods. The returned func cancels the subscription.
func (s *Store) Subscribe(fn func(portal.Identity)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Hydrate reads the persisted credential and runs the first decode cycle.
// A storage failure degrades to an unauthenticated identity.
func (s *Store) Hydrate(ctx context.Context) portal.Identity {
	raw, _, err := s.storage.Get(ctx, portal.KeyCredential)
	if err != nil {
		s.logger.Warn("session: read credential", "error", err)
		raw = ""
	}
	id, _ := s.change(ctx, raw, "", false)
	return id
}

// Login installs a freshly issued credential. studentID is persisted next to
// it when non-empty and any earlier student id is removed when empty. A credential that does not decode leaves the session
// unauthenticated and returns portal.ErrInvalidCredential.
func (s *Store) Login(ctx context.Context, raw, studentID string) (portal.Identity, error) {
	id, res := s.change(ctx, raw, studentID, true)
	if !res.Valid() {
		s.metrics.RecordLogin("invalid_credential")
		return id, portal.ErrInvalidCredential
	}
	s.metrics.RecordLogin("success")
	s.logger.Info("session: login", "user_id", id.UserID, "role", string(id.Role))
	return id, nil
}

// Logout clears the credential and identity, purges every session key and
// navigates to LoginPath.
func (s *Store) Logout(ctx context.Context) {
	s.writeMu.Lock()
	id := s.reset(ctx)
	s.notify(id)
	s.writeMu.Unlock()

	s.metrics.RecordSessionReset("logout")
	s.navigate(LoginPath)
}

// InvalidateGeneration runs the logout path for a credential the backend
// rejected. It acts only while generation is current and the identity is
// authenticated, so simultaneous rejections of one credential reset the
// session once.
func (s *Store) InvalidateGeneration(ctx context.Context, generation uint64) bool {
	s.writeMu.Lock()
	s.mu.RLock()
	current := s.generation == generation && s.identity.IsAuthenticated
	s.mu.RUnlock()
	if !current {
		s.writeMu.Unlock()
		return false
	}
	id := s.reset(ctx)
	s.notify(id)
	s.writeMu.Unlock()

	s.metrics.RecordSessionReset("unauthorized")
	s.logger.Info("session: credential rejected by backend", "generation", generation)
	s.navigate(LoginPath)
	return true
}

// change runs one decode cycle for raw and publishes the result. A login
// replaces the stored student id; hydration leaves it alone.
func (s *Store) change(ctx context.Context, raw, studentID string, login bool) (portal.Identity, token.Result) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.decoder.Decode(raw)

	s.mu.Lock()
	s.generation++
	if res.Valid() {
		s.raw = raw
		s.identity = portal.Identity{
			UserID:          res.Claims.SubjectID,
			Username:        res.Claims.Username,
			Role:            res.Claims.Role,
			IsAuthenticated: true,
		}
	} else {
		s.raw = ""
		s.identity = portal.Identity{}
	}
	id := s.identity
	s.mu.Unlock()

	if res.Valid() {
		if err := s.storage.Set(ctx, portal.KeyCredential, raw); err != nil {
			s.logger.Warn("session: persist credential", "error", err)
		}
		switch {
		case studentID != "":
			if err := s.storage.Set(ctx, portal.KeyStudentID, studentID); err != nil {
				s.logger.Warn("session: persist student id", "error", err)
			}
		case login:
			if err := s.storage.Delete(ctx, portal.KeyStudentID); err != nil {
				s.logger.Warn("session: clear student id", "error", err)
			}
		}
	} else {
		s.purge(ctx)
		if res.Purge() {
			s.metrics.RecordSessionReset("invalid_credential")
			s.logger.Info("session: discarded credential", "reason", res.Reason.String())
		}
	}

	s.notify(id)
	return id, res
}

// reset moves to the unauthenticated identity. Callers hold writeMu.
func (s *Store) reset(ctx context.Context) portal.Identity {
	s.mu.Lock()
	s.generation++
	s.raw = ""
	s.identity = portal.Identity{}
	id := s.identity
	s.mu.Unlock()

	s.purge(ctx)
	return id
}

// purge removes every session-scoped key in one call.
func (s *Store) purge(ctx context.Context) {
	if err := s.storage.Delete(ctx, portal.SessionKeys...); err != nil {
		s.logger.Warn("session: purge storage", "error", err)
	}
}

func (s *Store) notify(id portal.Identity) {
	s.subMu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(id)
	}
}
