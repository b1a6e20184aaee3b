package fake

import (
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/audit"
	"github.com/chimerakang/portal-go/authz"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Top-level and per-student collections served by the fake.
var (
	topLevel = []string{"alunos", "colaboradores", "contraturno"}
	nested   = []string{"boletins", "frequencias", "saude", "encaminhamentos", "diagnosticos", "avaliacoes", "hipotese", "compensacoesAusencia"}
	// sensitive sub-collections need viewSensitive to read.
	sensitive = map[string]bool{"saude": true, "diagnosticos": true}
)

const accountKey = "fake.account"

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func (s *state) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/auth/login", s.login)

	api := r.Group("/", s.authenticate)

	api.GET("/auditoria/logs", s.require(authz.ViewAudit), s.listLogs)
	api.GET("/auditoria/stats", s.require(authz.ViewAudit), s.stats)
	api.POST("/auditoria/revert", s.require(authz.RevertAudit), s.revert)

	api.GET("/usuarios", s.require(authz.ManageUsers), s.listUsers)
	api.POST("/usuarios", s.require(authz.ManageUsers), s.createUser)
	api.PUT("/usuarios/:id", s.require(authz.ManageUsers), s.updateUser)
	api.DELETE("/usuarios/:id", s.require(authz.ManageUsers), s.deleteUser)

	api.GET("/configuracoes", s.require(authz.ManageConfig), s.getSettings)
	api.PUT("/configuracoes", s.require(authz.ManageConfig), s.putSettings)
	api.POST("/configuracoes/reset", s.require(authz.ManageConfig), s.resetSettings)

	for _, name := range topLevel {
		s.collectionRoutes(api, "/"+name, name, authz.View)
	}
	for _, name := range nested {
		read := authz.View
		if sensitive[name] {
			read = authz.ViewSensitive
		}
		s.collectionRoutes(api, "/alunos/:id/"+name, name, read)
	}
	return r
}

func (s *state) collectionRoutes(g *gin.RouterGroup, pattern, name string, read authz.Capability) {
	item := pattern + "/:doc"
	if pattern == "/alunos" {
		item = "/alunos/:id"
	}
	g.GET(pattern, s.require(read), s.listDocs(name))
	g.POST(pattern, s.require(authz.Create), s.createDoc(name))
	g.GET(item, s.require(read), s.getDoc)
	g.PUT(item, s.require(authz.Edit), s.updateDoc(name))
	g.DELETE(item, s.require(authz.Delete), s.deleteDoc(name))
}

// --- auth ---

type loginRequest struct {
	User  string `json:"user" binding:"required"`
	Passw string `json:"passw" binding:"required"`
}

func (s *state) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "user and passw are required")
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.user.Username == req.User && a.password == req.Passw {
			c.JSON(http.StatusOK, portal.LoginResult{Token: s.sign(a), StudentID: a.student})
			return
		}
	}
	detail(c, http.StatusUnauthorized, "Usuário ou senha inválidos")
}

func (s *state) authenticate(c *gin.Context) {
	a := s.verify(c.GetHeader("X-API-TOKEN"))
	if a == nil {
		detail(c, http.StatusUnauthorized, "Token inválido ou expirado")
		return
	}
	c.Set(accountKey, a)
	c.Next()
}

func (s *state) require(capability authz.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		a := c.MustGet(accountKey).(*account)
		if !authz.Can(a.user.Role, capability) {
			detail(c, http.StatusForbidden, "Acesso negado")
			return
		}
		c.Next()
	}
}

func actor(c *gin.Context) string {
	return c.MustGet(accountKey).(*account).user.Username
}

// --- audit ---

func (s *state) listLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		detail(c, http.StatusBadRequest, "invalid limit")
		return
	}
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		detail(c, http.StatusBadRequest, "invalid skip")
		return
	}
	s.mu.RLock()
	p := audit.Paginate(s.logs, skip/limit, limit)
	s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"logs": p.Entries, "total": p.Total})
}

func (s *state) stats(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := map[string]bool{}
	collections := map[string]bool{}
	for _, e := range s.logs {
		users[e.ChangedBy] = true
		collections[e.Collection] = true
	}
	c.JSON(http.StatusOK, portal.AuditStats{
		TotalLogs:           len(s.logs),
		DistinctUsers:       len(users),
		DistinctCollections: len(collections),
	})
}

type revertRequest struct {
	Collection    string `json:"collection" binding:"required"`
	DocumentID    string `json:"documentId" binding:"required"`
	FieldName     string `json:"fieldName" binding:"required"`
	PreviousValue any    `json:"previousValue"`
}

func (s *state) revert(c *gin.Context) {
	var req revertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := collectionPath(req.Collection)
	d, ok := s.docs[path][req.DocumentID]
	if !ok {
		detail(c, http.StatusNotFound, "Documento não encontrado")
		return
	}
	before := clone(d)
	d[req.FieldName] = req.PreviousValue
	entry := s.record(portal.AuditRevert, req.Collection, req.DocumentID, actor(c), before, clone(d))
	c.JSON(http.StatusOK, entry)
}

// collectionPath maps an audit collection name to its storage path. Nested
// collections are recorded as "alunos/42/saude".
func collectionPath(name string) string {
	return "/" + strings.TrimPrefix(name, "/")
}

// record appends an audit entry. Callers hold s.mu.
func (s *state) record(action portal.AuditAction, collection, id, by string, before, after doc) portal.AuditEntry {
	e := portal.AuditEntry{
		ID:         uuid.NewString(),
		Action:     action,
		Collection: collection,
		DocumentID: id,
		ChangedBy:  by,
		ChangedAt:  s.now(),
		BeforeData: before,
		AfterData:  after,
		Changes:    changedFields(before, after),
	}
	s.logs = append(s.logs, e)
	return e
}

func changedFields(before, after doc) []string {
	keys := map[string]bool{}
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}
	var out []string
	for k := range keys {
		b, inBefore := before[k]
		a, inAfter := after[k]
		if inBefore != inAfter || !reflect.DeepEqual(a, b) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// --- users ---

type userRequest struct {
	Username string `json:"username"`
	Password string `json:"password" binding:"omitempty,min=6"`
	Role     string `json:"role" binding:"omitempty,oneof=ADMIN EDITOR VISITOR VISITANTE"`
}

func (s *state) listUsers(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gin.H, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, gin.H{"_id": a.user.ID, "username": a.user.Username, "role": a.role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["_id"].(string) < out[j]["_id"].(string) })
	c.JSON(http.StatusOK, out)
}

func (s *state) createUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" || req.Role == "" {
		detail(c, http.StatusUnprocessableEntity, "username, password and role are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.user.Username == req.Username {
			detail(c, http.StatusBadRequest, "Usuário já existe")
			return
		}
	}
	id := uuid.NewString()
	role, _ := portal.ParseRole(req.Role)
	s.accounts[id] = &account{user: portal.User{ID: id, Username: req.Username, Role: role}, role: req.Role, password: req.Password}
	c.JSON(http.StatusCreated, gin.H{"_id": id, "username": req.Username, "role": req.Role})
}

func (s *state) updateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[c.Param("id")]
	if !ok {
		detail(c, http.StatusNotFound, "Usuário não encontrado")
		return
	}
	if req.Username != "" {
		a.user.Username = req.Username
	}
	if req.Password != "" {
		a.password = req.Password
	}
	if req.Role != "" {
		a.role = req.Role
		a.user.Role, _ = portal.ParseRole(req.Role)
	}
	c.JSON(http.StatusOK, gin.H{"_id": a.user.ID, "username": a.user.Username, "role": a.role})
}

func (s *state) deleteUser(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Param("id")
	if _, ok := s.accounts[id]; !ok {
		detail(c, http.StatusNotFound, "Usuário não encontrado")
		return
	}
	delete(s.accounts, id)
	c.Status(http.StatusNoContent)
}

// --- settings ---

func (s *state) getSettings(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c.JSON(http.StatusOK, s.settings)
}

func (s *state) putSettings(c *gin.Context) {
	var changes doc
	if err := c.ShouldBindJSON(&changes); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before := clone(s.settings)
	for k, v := range changes {
		s.settings[k] = v
	}
	s.record(portal.AuditUpdate, "configuracoes", "system", actor(c), before, clone(s.settings))
	c.JSON(http.StatusOK, s.settings)
}

func (s *state) resetSettings(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = doc{}
	c.JSON(http.StatusOK, s.settings)
}

// --- records ---

// storagePath is the collection path of the request, e.g. "/alunos" or
// "/alunos/42/saude".
func storagePath(c *gin.Context, name string) string {
	if id := c.Param("id"); id != "" && name != "alunos" {
		return "/alunos/" + id + "/" + name
	}
	return "/" + name
}

func docID(c *gin.Context) string {
	if d := c.Param("doc"); d != "" {
		return d
	}
	return c.Param("id")
}

func (s *state) listDocs(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		coll := s.docs[storagePath(c, name)]
		out := make([]doc, 0, len(coll))
		for _, d := range coll {
			out = append(out, d)
		}
		sort.Slice(out, func(i, j int) bool { return out[i]["_id"].(string) < out[j]["_id"].(string) })
		c.JSON(http.StatusOK, out)
	}
}

func (s *state) getDoc(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path := strings.TrimSuffix(c.Request.URL.Path, "/"+docID(c))
	d, ok := s.docs[path][docID(c)]
	if !ok {
		detail(c, http.StatusNotFound, "Documento não encontrado")
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *state) createDoc(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in doc
		if err := c.ShouldBindJSON(&in); err != nil {
			detail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		path := storagePath(c, name)
		id := uuid.NewString()
		in["_id"] = id
		s.collection(path)[id] = in
		s.record(portal.AuditCreate, strings.TrimPrefix(path, "/"), id, actor(c), nil, clone(in))
		c.JSON(http.StatusCreated, in)
	}
}

func (s *state) updateDoc(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in doc
		if err := c.ShouldBindJSON(&in); err != nil {
			detail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		path, id := storagePath(c, name), docID(c)
		d, ok := s.docs[path][id]
		if !ok {
			detail(c, http.StatusNotFound, "Documento não encontrado")
			return
		}
		before := clone(d)
		for k, v := range in {
			if k != "_id" {
				d[k] = v
			}
		}
		s.record(portal.AuditUpdate, strings.TrimPrefix(path, "/"), id, actor(c), before, clone(d))
		c.JSON(http.StatusOK, d)
	}
}

func (s *state) deleteDoc(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		path, id := storagePath(c, name), docID(c)
		d, ok := s.docs[path][id]
		if !ok {
			detail(c, http.StatusNotFound, "Documento não encontrado")
			return
		}
		delete(s.docs[path], id)
		s.record(portal.AuditDelete, strings.TrimPrefix(path, "/"), id, actor(c), clone(d), nil)
		c.Status(http.StatusNoContent)
	}
}
