package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	"github.com/darkvelocity/darkvelocity-auth/internal/org"
)

const orgContextKey = "org"

// OrgContext resolves the tenant for the request and stores it in the gin
// context. Requests that match no org are rejected.
func OrgContext(resolver *org.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolved, err := resolver.Resolve(c.Request.Context(), c.Request.Host, c.GetHeader("X-Org-ID"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":             "invalid_request",
				"error_description": "unknown organization",
			})
			return
		}
		c.Set(orgContextKey, resolved)
		c.Next()
	}
}

// OrgFromContext returns the org placed by OrgContext.
func OrgFromContext(c *gin.Context) (domain.Org, bool) {
	value, ok := c.Get(orgContextKey)
	if !ok {
		return domain.Org{}, false
	}
	resolved, ok := value.(domain.Org)
	return resolved, ok
}
