package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qc-dashboard/internal/shared/auth"
	"qc-dashboard/internal/shared/server/respond"
)

const (
	userIDKey    = "userId"
	userEmailKey = "userEmail"
	sessionIDKey = "sessionId"
)

// LoginPath is where clients are sent when no credential is present.
const LoginPath = "/login"

// TokenVerifier validates a bearer session token.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Auth requires a valid session bearer token on every route except those
// for which public returns true, and stores the session identity in context.
func Auth(verifier TokenVerifier, public func(path string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		if public != nil && public(c.Request.URL.Path) {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			LoginRequired(c, "sign in to continue")
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			LoginRequired(c, "session expired, sign in again")
			return
		}

		c.Set(userIDKey, claims.Sub)
		c.Set(sessionIDKey, claims.SessionID)
		if claims.Email != "" {
			c.Set(userEmailKey, claims.Email)
		}
		c.Next()
	}
}

// LoginRequired aborts with 401 and a redirect hint to the login page.
func LoginRequired(c *gin.Context, message string) {
	respond.Error(c, http.StatusUnauthorized, "login_required", message, gin.H{"redirect": LoginPath})
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	return stringFromContext(c, userIDKey)
}

// UserEmailFromContext fetches the user email set by the auth middleware.
func UserEmailFromContext(c *gin.Context) string {
	return stringFromContext(c, userEmailKey)
}

// SessionIDFromContext fetches the session ID set by the auth middleware.
func SessionIDFromContext(c *gin.Context) string {
	return stringFromContext(c, sessionIDKey)
}

func stringFromContext(c *gin.Context, key string) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(key)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
