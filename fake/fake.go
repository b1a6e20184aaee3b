// Package fake provides an in-memory records backend speaking the same REST
// interface as the real one, for tests and local development.
//
//	srv := fake.Start(
//	    fake.WithUser("u1", "admin", "secret", "ADMIN"),
//	    fake.WithStudent("42", "Ana", "Silva"),
//	)
//	defer srv.Close()
//	gw, _ := gateway.New(srv.URL)
package fake

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	portal "github.com/chimerakang/portal-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Option configures the fake backend.
type Option func(*state)

type account struct {
	user     portal.User
	role     string // as stored by the backend, e.g. "VISITANTE"
	password string
	student  string
}

type state struct {
	mu       sync.RWMutex
	accounts map[string]*account          // userID → account
	docs     map[string]map[string]doc    // collection path → id → document
	logs     []portal.AuditEntry
	settings doc
	revoked  map[string]bool
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

type doc = map[string]any

// WithUser adds an account. role is stored verbatim, so "VISITANTE" and
// "VISITOR" both work.
func WithUser(id, username, password, role string) Option {
	return func(s *state) {
		r, _ := portal.ParseRole(role)
		s.accounts[id] = &account{
			user:     portal.User{ID: id, Username: username, Role: r},
			role:     role,
			password: password,
		}
	}
}

// WithStudentAccount links an account to a student; login then returns
// the student id.
func WithStudentAccount(userID, studentID string) Option {
	return func(s *state) {
		if a, ok := s.accounts[userID]; ok {
			a.student = studentID
		}
	}
}

// WithStudent adds a document to the alunos collection.
func WithStudent(id, nome, sobrenome string) Option {
	return WithDocument("/alunos", id, doc{"nome": nome, "sobrenome": sobrenome})
}

// WithDocument adds a document under a collection path such as
// "/contraturno" or "/alunos/42/saude".
func WithDocument(collection, id string, fields map[string]any) Option {
	return func(s *state) {
		d := doc{"_id": id}
		for k, v := range fields {
			d[k] = v
		}
		s.collection(collection)[id] = d
	}
}

// WithAuditEntries seeds the audit log.
func WithAuditEntries(entries ...portal.AuditEntry) Option {
	return func(s *state) { s.logs = append(s.logs, entries...) }
}

// WithTokenTTL sets the lifetime of issued credentials. Default: 12h.
func WithTokenTTL(d time.Duration) Option {
	return func(s *state) { s.ttl = d }
}

// Server is a running fake backend.
type Server struct {
	*httptest.Server
	s *state
}

func newState(opts []Option) *state {
	s := &state{
		accounts: make(map[string]*account),
		docs:     make(map[string]map[string]doc),
		settings: doc{},
		revoked:  make(map[string]bool),
		secret:   newSecret(),
		ttl:      12 * time.Hour,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the fake backend as an http.Handler without starting a
// listener.
func Handler(opts ...Option) http.Handler {
	return newState(opts).router()
}

// Start runs the fake backend on a local listener.
func Start(opts ...Option) *Server {
	s := newState(opts)
	return &Server{Server: httptest.NewServer(s.router()), s: s}
}

// Token issues a credential for userID as the login endpoint would.
func (srv *Server) Token(userID string) string {
	srv.s.mu.RLock()
	defer srv.s.mu.RUnlock()
	a, ok := srv.s.accounts[userID]
	if !ok {
		panic(fmt.Sprintf("fake: unknown user %q", userID))
	}
	return srv.s.sign(a)
}

// Revoke makes the backend reject raw from now on.
func (srv *Server) Revoke(raw string) {
	srv.s.mu.Lock()
	srv.s.revoked[raw] = true
	srv.s.mu.Unlock()
}

// RevokeAll rotates the signing key, rejecting every issued credential.
func (srv *Server) RevokeAll() {
	srv.s.mu.Lock()
	srv.s.secret = newSecret()
	srv.s.mu.Unlock()
}

// AuditLog returns a copy of the audit log in insertion order.
func (srv *Server) AuditLog() []portal.AuditEntry {
	srv.s.mu.RLock()
	defer srv.s.mu.RUnlock()
	out := make([]portal.AuditEntry, len(srv.s.logs))
	copy(out, srv.s.logs)
	return out
}

// Document returns a copy of a stored document.
func (srv *Server) Document(collection, id string) (map[string]any, bool) {
	srv.s.mu.RLock()
	defer srv.s.mu.RUnlock()
	d, ok := srv.s.docs[collection][id]
	if !ok {
		return nil, false
	}
	return clone(d), true
}

func (s *state) collection(path string) map[string]doc {
	c, ok := s.docs[path]
	if !ok {
		c = make(map[string]doc)
		s.docs[path] = c
	}
	return c
}

func (s *state) sign(a *account) string {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id":  a.user.ID,
		"username": a.user.Username,
		"role":     a.role,
		"iat":      now.Unix(),
		"exp":      now.Add(s.ttl).Unix(),
		"jti":      uuid.NewString(),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return raw
}

// verify returns the account for raw, or nil.
func (s *state) verify(raw string) *account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if raw == "" || s.revoked[raw] {
		return nil
	}
	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !tok.Valid {
		return nil
	}
	claims, _ := tok.Claims.(jwt.MapClaims)
	id, _ := claims["user_id"].(string)
	return s.accounts[id]
}

func newSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func clone(d doc) doc {
	out := make(doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
