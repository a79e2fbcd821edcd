package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatline/internal/common"
)

const (
	ctxUserID   = "user_id"
	ctxUsername = "username"
)

// RequestLogger logs one line per request, with the last error a handler
// attached to the context.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		event := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size())
		if last := c.Errors.Last(); last != nil {
			event = event.Err(last.Err)
		}
		event.Msg("Request processed")
	}
}

// RequireAuth accepts "Authorization: Bearer <token>" and stores the
// caller's identity in the context. Every failure gets the same response.
func RequireAuth(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, common.ErrInvalidToken)
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("Rejected token")
			abortUnauthorized(c, err)
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUsername, claims.Username)
		c.Next()
	}
}

// abortUnauthorized answers 401 and records cause, wrapped in
// common.ErrUnauthorized, on the context for RequestLogger.
func abortUnauthorized(c *gin.Context, cause error) {
	_ = c.Error(fmt.Errorf("%w: %w", common.ErrUnauthorized, cause))
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func userID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}
