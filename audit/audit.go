// Package audit reads the backend audit trail and lets administrators
// revert individual fields.
//
// Entries are immutable. A revert is a compensating write that the backend
// records as a new REVERT entry; the portal never patches its list locally
// and instead reloads it after a successful revert.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/query"
)

// Requester is the subset of the gateway the audit service needs.
type Requester interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, in, out any) error
}

// Page is one page of the audit log, newest first.
type Page struct {
	Entries []portal.AuditEntry
	Total   int
	Number  int
	Size    int
}

// TotalPages returns ceil(Total/Size).
func (p Page) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return (p.Total + p.Size - 1) / p.Size
}

// Service talks to the /auditoria endpoints.
type Service struct {
	req   Requester
	size  int
	cache *query.Cache
}

var _ portal.AuditService = (*Service)(nil)

// Option configures the Service.
type Option func(*Service)

// WithPageSize overrides portal.DefaultAuditPageSize.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.size = n
		}
	}
}

// WithCache shares a result cache with other services.
func WithCache(c *query.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// New creates a Service.
func New(req Requester, opts ...Option) *Service {
	s := &Service{req: req, size: portal.DefaultAuditPageSize, cache: query.NewCache()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PageSize returns the fixed page size.
func (s *Service) PageSize() int { return s.size }

const cachePrefix = "auditoria:"

type logsResponse struct {
	Logs  []portal.AuditEntry `json:"logs"`
	Total int                 `json:"total"`
}

// List returns page n (zero-based) of the audit log.
func (s *Service) List(ctx context.Context, n int) (Page, error) {
	if n < 0 {
		return Page{}, fmt.Errorf("portal/audit: %w: page %d", portal.ErrInvalidInput, n)
	}
	key := cachePrefix + "logs:" + strconv.Itoa(n)
	res, err := query.Load(ctx, s.cache, key, func(ctx context.Context) (logsResponse, error) {
		var out logsResponse
		path := fmt.Sprintf("/auditoria/logs?limit=%d&skip=%d", s.size, n*s.size)
		if err := s.req.Get(ctx, path, &out); err != nil {
			return logsResponse{}, err
		}
		return out, nil
	})
	if err != nil {
		return Page{}, fmt.Errorf("portal/audit: list: %w", err)
	}

	entries := make([]portal.AuditEntry, len(res.Logs))
	copy(entries, res.Logs)
	sortNewestFirst(entries)
	return Page{Entries: entries, Total: res.Total, Number: n, Size: s.size}, nil
}

// Stats returns aggregate counts.
func (s *Service) Stats(ctx context.Context) (portal.AuditStats, error) {
	var out portal.AuditStats
	if err := s.req.Get(ctx, "/auditoria/stats", &out); err != nil {
		return portal.AuditStats{}, fmt.Errorf("portal/audit: stats: %w", err)
	}
	return out, nil
}

// Revert asks the backend to restore one field. It returns the new REVERT
// entry and drops cached log pages.
func (s *Service) Revert(ctx context.Context, req portal.RevertRequest) (portal.AuditEntry, error) {
	if req.Collection == "" || req.DocumentID == "" || req.FieldName == "" {
		return portal.AuditEntry{}, fmt.Errorf("portal/audit: %w: collection, documentId and fieldName are required", portal.ErrInvalidInput)
	}
	var out portal.AuditEntry
	if err := s.req.Post(ctx, "/auditoria/revert", req, &out); err != nil {
		return portal.AuditEntry{}, fmt.Errorf("portal/audit: revert: %w", err)
	}
	s.Invalidate()
	return out, nil
}

// Invalidate drops cached log pages.
func (s *Service) Invalidate() { s.cache.Invalidate(cachePrefix) }

func sortNewestFirst(entries []portal.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ChangedAt.After(entries[j].ChangedAt)
	})
}

// Paginate returns page n of entries with the given size, ordered newest
// first. entries is not modified.
func Paginate(entries []portal.AuditEntry, n, size int) Page {
	sorted := make([]portal.AuditEntry, len(entries))
	copy(sorted, entries)
	sortNewestFirst(sorted)

	p := Page{Total: len(sorted), Number: n, Size: size}
	if n < 0 || size <= 0 {
		return p
	}
	start := n * size
	if start >= len(sorted) {
		p.Entries = []portal.AuditEntry{}
		return p
	}
	end := start + size
	if end > len(sorted) {
		end = len(sorted)
	}
	p.Entries = sorted[start:end]
	return p
}

// FieldChange is one displayed field of an entry.
type FieldChange struct {
	Field     string
	Before    any
	After     any
	HasBefore bool
	HasAfter  bool
}

// Diff returns the fields to display for entry. UPDATE and REVERT entries
// show only the fields listed in Changes; CREATE shows the created fields
// and DELETE the deleted ones.
func Diff(entry portal.AuditEntry) []FieldChange {
	switch entry.Action {
	case portal.AuditUpdate, portal.AuditRevert:
		out := make([]FieldChange, 0, len(entry.Changes))
		for _, f := range entry.Changes {
			before, hasBefore := entry.BeforeData[f]
			after, hasAfter := entry.AfterData[f]
			out = append(out, FieldChange{Field: f, Before: before, After: after, HasBefore: hasBefore, HasAfter: hasAfter})
		}
		return out
	case portal.AuditCreate:
		out := make([]FieldChange, 0, len(entry.AfterData))
		for _, f := range sortedKeys(entry.AfterData) {
			out = append(out, FieldChange{Field: f, After: entry.AfterData[f], HasAfter: true})
		}
		return out
	case portal.AuditDelete:
		out := make([]FieldChange, 0, len(entry.BeforeData))
		for _, f := range sortedKeys(entry.BeforeData) {
			out = append(out, FieldChange{Field: f, Before: entry.BeforeData[f], HasBefore: true})
		}
		return out
	}
	return nil
}

// Revertible reports whether field of entry may be reverted.
func Revertible(entry portal.AuditEntry, field string) bool {
	if entry.Action != portal.AuditUpdate && entry.Action != portal.AuditRevert {
		return false
	}
	if _, ok := entry.BeforeData[field]; !ok {
		return false
	}
	for _, f := range entry.Changes {
		if f == field {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
