package guard

import (
	"net/http"
	"strings"

	portal "github.com/chimerakang/portal-go"
	"github.com/gin-gonic/gin"
)

// Middleware returns a gin handler enforcing g. resolve supplies the
// identity for the request.
func Middleware(g *Guard, resolve func(*gin.Context) portal.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Evaluate(resolve(c), c.Request.URL.RequestURI())
		switch d.State {
		case Authorized:
			c.Next()
			return
		case Loading:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"state": d.State.String()})
			return
		case NotFound:
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"state": d.State.String()})
			return
		}

		if wantsJSON(c) {
			status := http.StatusUnauthorized
			if d.State == Forbidden {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{
				"state":    d.State.String(),
				"redirect": d.Redirect,
				"notice":   d.Notice,
			})
			return
		}
		c.Redirect(http.StatusFound, d.Redirect)
		c.Abort()
	}
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}
