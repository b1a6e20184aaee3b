package main

import (
	"net/http"
	"strconv"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/audit"
	"github.com/chimerakang/portal-go/records"
	"github.com/chimerakang/portal-go/user"
	"github.com/gin-gonic/gin"
)

// The record handlers take a selector that picks the collection out of the
// request's scope.

func listHandler[T any](s *server, col func(*scope) *records.Collection[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := col(s.scopes.get(c)).List(c.Request.Context())
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func getHandler[T any](s *server, col func(*scope) *records.Collection[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := col(s.scopes.get(c)).Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func createHandler[T any](s *server, col func(*scope) *records.Collection[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in T
		if err := c.ShouldBindJSON(&in); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := col(s.scopes.get(c)).Create(c.Request.Context(), in)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

func updateHandler[T any](s *server, col func(*scope) *records.Collection[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in T
		if err := c.ShouldBindJSON(&in); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := col(s.scopes.get(c)).Update(c.Request.Context(), c.Param("id"), in)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func deleteHandler[T any](s *server, col func(*scope) *records.Collection[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := col(s.scopes.get(c)).Delete(c.Request.Context(), c.Param("id")); err != nil {
			s.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type confirmBody struct {
	Confirmation string `json:"confirmation"`
}

// confirmedDeleteHandler deletes only when the request carries the
// document's confirmation text.
func confirmedDeleteHandler[T records.Confirmable](s *server, col func(*scope) *records.Collection[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body confirmBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "confirmation is required"})
			return
		}
		ctx := c.Request.Context()
		id := c.Param("id")
		coll := col(s.scopes.get(c))
		doc, err := coll.Get(ctx, id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		conf := records.NewConfirmation(doc)
		conf.Type(body.Confirmation)
		if err := coll.DeleteConfirmed(ctx, id, conf); err != nil {
			s.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *server) nestedFor(c *gin.Context) (*records.Collection[records.Document], bool) {
	col, ok := s.scopes.get(c).nested[c.Param("sub")]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown collection"})
		return nil, false
	}
	return col.Of(c.Param("id")), true
}

func (s *server) nestedList(c *gin.Context) {
	col, ok := s.nestedFor(c)
	if !ok {
		return
	}
	out, err := col.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) nestedGet(c *gin.Context) {
	col, ok := s.nestedFor(c)
	if !ok {
		return
	}
	out, err := col.Get(c.Request.Context(), c.Param("doc"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) nestedCreate(c *gin.Context) {
	col, ok := s.nestedFor(c)
	if !ok {
		return
	}
	var in records.Document
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := col.Create(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *server) nestedUpdate(c *gin.Context) {
	col, ok := s.nestedFor(c)
	if !ok {
		return
	}
	var in records.Document
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := col.Update(c.Request.Context(), c.Param("doc"), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) nestedDelete(c *gin.Context) {
	col, ok := s.nestedFor(c)
	if !ok {
		return
	}
	if err := col.Delete(c.Request.Context(), c.Param("doc")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- audit ---

func pageJSON(p audit.Page, sc *scope) gin.H {
	out := gin.H{
		"entries":    p.Entries,
		"total":      p.Total,
		"page":       p.Number,
		"size":       p.Size,
		"totalPages": p.TotalPages(),
	}
	if st, ok := sc.reverter.Staged(); ok {
		out["staged"] = gin.H{"entryId": st.EntryID, "field": st.Field}
	}
	return out
}

func (s *server) handleAuditList(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "page must be a number"})
		return
	}
	sc := s.scopes.get(c)
	p, err := sc.log.Load(c.Request.Context(), n)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pageJSON(p, sc))
}

func (s *server) handleAuditStats(c *gin.Context) {
	stats, err := s.client.Audit().Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type revertBody struct {
	EntryID string `json:"entryId" binding:"required"`
	Field   string `json:"field" binding:"required"`
}

// handleRevertClick is one press of a revert button. The entry must be on
// the page this browser last loaded.
func (s *server) handleRevertClick(c *gin.Context) {
	var body revertBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "entryId and field are required"})
		return
	}
	sc := s.scopes.get(c)
	p, _ := sc.log.Page()
	var entry *portal.AuditEntry
	for i := range p.Entries {
		if p.Entries[i].ID == body.EntryID {
			entry = &p.Entries[i]
			break
		}
	}
	if entry == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "entry is not on the loaded page"})
		return
	}

	outcome, err := sc.reverter.Click(c.Request.Context(), *entry, body.Field)
	if err != nil {
		s.writeError(c, err)
		return
	}
	state := "staged"
	if outcome == audit.Committed {
		state = "committed"
	}
	p, _ = sc.log.Page()
	resp := pageJSON(p, sc)
	resp["outcome"] = state
	c.JSON(http.StatusOK, resp)
}

func (s *server) handleRevertCancel(c *gin.Context) {
	s.scopes.get(c).reverter.Cancel(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// --- users ---

func (s *server) handleUserList(c *gin.Context) {
	out, err := s.client.Users().List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) handleUserCreate(c *gin.Context) {
	var req user.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.users.Create(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *server) handleUserUpdate(c *gin.Context) {
	var req user.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.users.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) handleUserDelete(c *gin.Context) {
	if err := s.client.Users().Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- settings ---

func (s *server) handleSettingsGet(c *gin.Context) {
	out, err := s.settings.Get(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) handleSettingsUpdate(c *gin.Context) {
	var in records.Document
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.settings.Update(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) handleSettingsReset(c *gin.Context) {
	out, err := s.settings.Reset(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
