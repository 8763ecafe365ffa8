package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/service"
	"go.uber.org/zap"
)

const (
	contextUserID = "user_id"
	contextClaims = "session_claims"
)

// SessionMiddleware loads the session cookie and adds the user id to the context.
// Requests without a valid session continue anonymously.
func SessionMiddleware(sessions service.SessionService, cookies CookieConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookies.SessionName)
		if err != nil || token == "" {
			c.Next()
			return
		}

		claims, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			logger.Debug("Dropping session cookie", zap.Error(err))
			cookies.clearSession(c)
			c.Next()
			return
		}

		c.Set(contextUserID, claims.UserID)
		c.Set(contextClaims, claims)

		c.Next()
	}
}

// RequireAuth redirects anonymous requests to /login, remembering where they were going
func RequireAuth(cookies CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sessionUserID(c) != "" {
			c.Next()
			return
		}

		if c.Request.Method == http.MethodGet {
			cookies.rememberReturnTo(c, c.Request.URL.RequestURI())
		}

		c.Redirect(http.StatusFound, "/login")
		c.Abort()
	}
}

func sessionUserID(c *gin.Context) string {
	return c.GetString(contextUserID)
}

func sessionClaims(c *gin.Context) *domain.SessionClaims {
	if v, ok := c.Get(contextClaims); ok {
		claims, _ := v.(*domain.SessionClaims)
		return claims
	}
	return nil
}
