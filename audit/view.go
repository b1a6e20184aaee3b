package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/authz"
	"github.com/chimerakang/portal-go/query"
)

// Log is the audit list view model. Only the newest Load updates it.
type Log struct {
	svc    *Service
	latest *query.Latest

	mu      sync.RWMutex
	page    Page
	current int
	err     error
}

// NewLog creates an empty Log over svc.
func NewLog(svc *Service) *Log {
	return &Log{svc: svc, latest: query.NewLatest()}
}

// Load fetches page n. A response overtaken by a later Load returns
// query.ErrStale and leaves the view untouched.
func (l *Log) Load(ctx context.Context, n int) (Page, error) {
	l.mu.Lock()
	l.current = n
	l.mu.Unlock()

	p, err := query.Run(ctx, l.latest, "logs", func(ctx context.Context) (Page, error) {
		return l.svc.List(ctx, n)
	})
	if errors.Is(err, query.ErrStale) {
		return Page{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
	if err == nil {
		l.page = p
	}
	return p, err
}

// Refresh reloads the current page.
func (l *Log) Refresh(ctx context.Context) (Page, error) {
	l.mu.RLock()
	n := l.current
	l.mu.RUnlock()
	return l.Load(ctx, n)
}

// Page returns the last loaded page and the last load error.
func (l *Log) Page() (Page, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.page, l.err
}

// Stage identifies the field awaiting a second click.
type Stage struct {
	EntryID string
	Field   string
}

// Outcome of a Click.
type Outcome int

const (
	// Staged means the first click was recorded; nothing was sent.
	Staged Outcome = iota + 1

	// Committed means the revert was accepted and the log reloaded.
	Committed
)

// ErrNotRevertible is returned for fields that cannot be reverted.
var ErrNotRevertible = errors.New("portal/audit: field is not revertible")

// Reverter runs the two-click revert flow for one view.
type Reverter struct {
	svc      *Service
	log      *Log
	authz    portal.Authorizer
	mutation *query.Mutation
	journal  *Journal
	logger   *slog.Logger

	mu     sync.Mutex
	staged *Stage
}

// ReverterOption configures a Reverter.
type ReverterOption func(*Reverter)

// WithJournal records revert actions.
func WithJournal(j *Journal) ReverterOption {
	return func(r *Reverter) { r.journal = j }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) ReverterOption {
	return func(r *Reverter) { r.logger = l }
}

// WithMutation shares an in-flight guard between reverters.
func WithMutation(m *query.Mutation) ReverterOption {
	return func(r *Reverter) { r.mutation = m }
}

// NewReverter creates a Reverter that checks a with authz.RevertAudit and
// refreshes log after each successful revert.
func NewReverter(svc *Service, log *Log, a portal.Authorizer, opts ...ReverterOption) *Reverter {
	r := &Reverter{
		svc:      svc,
		log:      log,
		authz:    a,
		mutation: query.NewMutation(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Staged returns the field awaiting confirmation, if any.
func (r *Reverter) Staged() (Stage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staged == nil {
		return Stage{}, false
	}
	return *r.staged, true
}

// Cancel clears the staged field.
func (r *Reverter) Cancel(ctx context.Context) {
	r.mu.Lock()
	st := r.staged
	r.staged = nil
	r.mu.Unlock()
	if st != nil {
		r.record(ctx, Event{Result: "cancelled", EntryID: st.EntryID, Field: st.Field})
	}
}

// Click handles a press of the revert button for field of entry. The first
// press stages the field. A second press on the same field sends the
// field's recorded before-value to the backend, then reloads the log.
// Pressing a different field restages. On failure the stage is cleared and
// the error returned; nothing is retried.
func (r *Reverter) Click(ctx context.Context, entry portal.AuditEntry, field string) (Outcome, error) {
	ok, err := r.authz.Check(ctx, string(authz.RevertAudit))
	if err != nil {
		return 0, fmt.Errorf("portal/audit: %w", err)
	}
	if !ok {
		r.record(ctx, Event{Result: "denied", EntryID: entry.ID, Field: field})
		return 0, fmt.Errorf("portal/audit: %w: %s", portal.ErrForbidden, authz.RevertAudit)
	}
	if !Revertible(entry, field) {
		return 0, fmt.Errorf("%w: %s.%s", ErrNotRevertible, entry.ID, field)
	}

	stage := Stage{EntryID: entry.ID, Field: field}
	r.mu.Lock()
	if r.staged == nil || *r.staged != stage {
		r.staged = &stage
		r.mu.Unlock()
		r.record(ctx, Event{Result: "staged", EntryID: entry.ID, Collection: entry.Collection, DocumentID: entry.DocumentID, Field: field})
		return Staged, nil
	}
	r.mu.Unlock()

	req := portal.RevertRequest{
		Collection:    entry.Collection,
		DocumentID:    entry.DocumentID,
		FieldName:     field,
		PreviousValue: entry.BeforeData[field],
	}
	key := "revert:" + entry.ID + ":" + field
	_, err = query.Do(ctx, r.mutation, key, func(ctx context.Context) (portal.AuditEntry, error) {
		return r.svc.Revert(ctx, req)
	}, nil)
	if errors.Is(err, query.ErrInFlight) {
		return 0, err
	}

	r.clear(stage)
	ev := Event{EntryID: entry.ID, Collection: entry.Collection, DocumentID: entry.DocumentID, Field: field}
	if err != nil {
		ev.Result, ev.Error = "failed", err.Error()
		r.record(ctx, ev)
		return 0, err
	}
	ev.Result = "committed"
	r.record(ctx, ev)

	if _, err := r.log.Refresh(ctx); err != nil && !errors.Is(err, query.ErrStale) {
		r.logger.Warn("audit: reload after revert failed", "error", err)
	}
	return Committed, nil
}

func (r *Reverter) clear(stage Stage) {
	r.mu.Lock()
	if r.staged != nil && *r.staged == stage {
		r.staged = nil
	}
	r.mu.Unlock()
}

func (r *Reverter) record(ctx context.Context, e Event) {
	e.Action = "revert"
	if id, ok := portal.IdentityFromContext(ctx); ok {
		e.UserID = id.UserID
	}
	r.journal.Record(e)
}
