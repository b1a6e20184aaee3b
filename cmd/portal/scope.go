package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chimerakang/portal-go/audit"
	"github.com/chimerakang/portal-go/middleware/ginmw"
	"github.com/chimerakang/portal-go/query"
	"github.com/chimerakang/portal-go/records"
	"github.com/gin-gonic/gin"
)

// scope holds the read cache and the views of one browser under one
// credential. A new credential generation gets a fresh scope, so cached
// results and shared loads never cross credentials.
type scope struct {
	cache    *query.Cache
	students *records.Collection[records.Student]
	staff    *records.Collection[records.Employee]
	projects *records.Collection[records.Project]
	nested   map[string]*records.Collection[records.Document]

	audit    *audit.Service
	log      *audit.Log
	reverter *audit.Reverter

	lastSeen time.Time
}

func studentsIn(sc *scope) *records.Collection[records.Student] { return sc.students }
func staffIn(sc *scope) *records.Collection[records.Employee] { return sc.staff }
func projectsIn(sc *scope) *records.Collection[records.Project] { return sc.projects }

var nestedResources = []records.Resource{
	records.Grades, records.Attendance, records.Health, records.Referrals,
	records.Diagnoses, records.Assessments, records.Hypotheses, records.Compensation,
}

func (s *server) newScope() *scope {
	var cache *query.Cache
	if s.cfg.Backend.CacheTTL > 0 {
		cache = query.NewCache(query.WithTTL(s.cfg.Backend.CacheTTL))
	} else {
		cache = query.NewCache(query.WithoutRetention())
	}

	auditSvc := audit.New(s.gw, audit.WithCache(cache))
	opts := []records.Option{
		records.WithCache(cache),
		records.WithValidator(s.validate),
		records.WithOnChange(auditSvc.Invalidate),
	}

	nested := make(map[string]*records.Collection[records.Document], len(nestedResources))
	for _, res := range nestedResources {
		nested[res.Name] = records.New[records.Document](s.gw, res, s.policy, opts...)
	}

	log := audit.NewLog(auditSvc)
	return &scope{
		cache:    cache,
		students: records.New[records.Student](s.gw, records.Students, s.policy, opts...),
		staff:    records.New[records.Employee](s.gw, records.Staff, s.policy, opts...),
		projects: records.New[records.Project](s.gw, records.Projects, s.policy, opts...),
		nested:   nested,
		audit:    auditSvc,
		log:      log,
		reverter: audit.NewReverter(auditSvc, log, s.policy,
			audit.WithJournal(s.journal),
			audit.WithLogger(s.logger),
		),
	}
}

// scopes maps "<session id>/<credential generation>" to a scope.
type scopes struct {
	s   *server
	mu  sync.Mutex
	m   map[string]*scope
	now func() time.Time
}

func newScopes(s *server) *scopes {
	return &scopes{s: s, m: make(map[string]*scope), now: time.Now}
}

// get returns the scope of the request's session and current credential.
func (ss *scopes) get(c *gin.Context) *scope {
	_, gen, _ := ginmw.GetSession(c).Credential()
	key := fmt.Sprintf("%s/%d", ginmw.GetSessionID(c), gen)

	ss.mu.Lock()
	defer ss.mu.Unlock()
	sc, ok := ss.m[key]
	if !ok {
		sc = ss.s.newScope()
		ss.m[key] = sc
	}
	sc.lastSeen = ss.now()
	return sc
}

// drop removes every scope of sessionID.
func (ss *scopes) drop(sessionID string) {
	prefix := sessionID + "/"
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for k := range ss.m {
		if strings.HasPrefix(k, prefix) {
			delete(ss.m, k)
		}
	}
}

func (ss *scopes) sweep(idle time.Duration) int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	cutoff := ss.now().Add(-idle)
	n := 0
	for k, sc := range ss.m {
		if sc.lastSeen.Before(cutoff) {
			delete(ss.m, k)
			n++
		}
	}
	return n
}

func (ss *scopes) len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.m)
}
