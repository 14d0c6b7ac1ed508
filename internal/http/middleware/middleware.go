package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/darunbjork/InsightAPI/internal/lib/jwt"
	"github.com/darunbjork/InsightAPI/internal/lib/sl"
)

// Context keys for values the middleware attaches to the request.
const (
	CtxPrincipalID = "principalID"
	CtxUsername    = "username"
	CtxRequestID   = "requestID"
)

// AccessVerifier validates access tokens.
type AccessVerifier interface {
	VerifyAccess(token string) (*jwt.AccessClaims, error)
}

// Authenticate rejects requests that carry no valid access token. A
// Bearer header wins over the access-token cookie.
func Authenticate(verifier AccessVerifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			if cookie, err := c.Cookie(cookieName); err == nil {
				token = cookie
			}
		}
		if token == "" {
			abortUnauthorized(c, "InvalidToken", "missing access token")
			return
		}

		claims, err := verifier.VerifyAccess(token)
		if err != nil {
			if errors.Is(err, jwt.ErrExpired) {
				abortUnauthorized(c, "Expired", "access token expired")
				return
			}
			abortUnauthorized(c, "InvalidToken", "invalid access token")
			return
		}

		c.Set(CtxPrincipalID, claims.Subject)
		c.Set(CtxUsername, claims.Username)

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": code, "message": message},
	})
}

// RequestLogger logs one line per request, tagged with a request id that
// is echoed back in the X-Request-ID header.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(CtxRequestID, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		logger.Info("request completed",
			slog.String("request_id", requestID),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", c.ClientIP()),
		)
	}
}

// Allower is the limiter backend surface.
type Allower interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimit rejects requests once the client's window budget is spent.
// Limiter backend failures fail open.
func RateLimit(logger *slog.Logger, limiter Allower) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", sl.Err(err))
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"code": "RateLimited", "message": "too many requests"},
			})
			return
		}

		c.Next()
	}
}
