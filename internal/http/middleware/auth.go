package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/darkvelocity/darkvelocity-auth/internal/jwt"
	"github.com/darkvelocity/darkvelocity-auth/internal/service"
)

const claimsContextKey = "access_claims"

// RequireBearer validates the Authorization header against the org's
// signing key and stores the claims for handlers.
func RequireBearer(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolved, ok := OrgFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		claims, err := authSvc.ValidateAccessToken(c.Request.Context(), resolved.ID, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// ClaimsFromContext returns the claims placed by RequireBearer.
func ClaimsFromContext(c *gin.Context) (*jwt.AccessTokenClaims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*jwt.AccessTokenClaims)
	return claims, ok
}
