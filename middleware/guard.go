package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fieldcipher/rotor"
	"github.com/fieldcipher/rotor/jwt"
)

const claimsContextKey = "rotor.claims"

// ClaimsFromContext returns the verified access-token claims placed by
// [Guard].
func ClaimsFromContext(c *gin.Context) (*jwt.Claims, bool) {
	value, exists := c.Get(claimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*jwt.Claims)
	return claims, ok
}

// Guard authenticates requests with a Bearer access token. Verification is
// pure signature-and-expiry checking, never a ledger round-trip; revoking a
// token family does not cut off its access tokens mid-flight. Every failure
// is the same flat 401 so clients can key a silent refresh off the status
// code alone.
func Guard(engine *rotor.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c)
			return
		}

		claims, err := engine.VerifyAccess(token)
		if err != nil {
			unauthorized(c)
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   "unauthorized",
		"code":    "unauthorized",
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
