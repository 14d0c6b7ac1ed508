package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darunbjork/InsightAPI/internal/http/middleware"
	"github.com/darunbjork/InsightAPI/internal/lib/jwt"
)

func init() { gin.SetMode(gin.TestMode) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func authRouter(codec *jwt.Codec) *gin.Engine {
	router := gin.New()
	router.GET("/private", middleware.Authenticate(codec, "accessToken"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"principalID": c.GetString(middleware.CtxPrincipalID),
			"username":    c.GetString(middleware.CtxUsername),
		})
	})

	return router
}

func TestAuthenticateBearer(t *testing.T) {
	codec := jwt.NewCodec("a-secret", "r-secret", time.Minute, time.Hour)
	router := authRouter(codec)

	token, err := codec.SignAccess("p-1", "gopher")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"principalID":"p-1"`)
	assert.Contains(t, w.Body.String(), `"username":"gopher"`)
}

func TestAuthenticateCookie(t *testing.T) {
	codec := jwt.NewCodec("a-secret", "r-secret", time.Minute, time.Hour)
	router := authRouter(codec)

	token, err := codec.SignAccess("p-1", "gopher")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: token})
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"principalID":"p-1"`)
}

func TestAuthenticateHeaderWinsOverCookie(t *testing.T) {
	codec := jwt.NewCodec("a-secret", "r-secret", time.Minute, time.Hour)
	router := authRouter(codec)

	token, err := codec.SignAccess("p-1", "gopher")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "garbage"})
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticateRejects(t *testing.T) {
	codec := jwt.NewCodec("a-secret", "r-secret", time.Minute, time.Hour)
	router := authRouter(codec)

	expiredCodec := jwt.NewCodec("a-secret", "r-secret", -time.Minute, time.Hour)
	expired, err := expiredCodec.SignAccess("p-1", "gopher")
	require.NoError(t, err)

	rogueCodec := jwt.NewCodec("other-secret", "r-secret", time.Minute, time.Hour)
	forged, err := rogueCodec.SignAccess("p-1", "gopher")
	require.NoError(t, err)

	tests := []struct {
		name         string
		token        string
		expectedCode string
	}{
		{name: "missing token", token: "", expectedCode: "InvalidToken"},
		{name: "garbage token", token: "garbage", expectedCode: "InvalidToken"},
		{name: "wrong secret", token: forged, expectedCode: "InvalidToken"},
		{name: "expired token", token: expired, expectedCode: "Expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedCode)
		})
	}
}

func TestRequestLogger(t *testing.T) {
	router := gin.New()
	router.Use(middleware.RequestLogger(discardLogger()))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// A caller-provided id is echoed back unchanged.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-42")
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

type stubLimiter struct {
	allowed    bool
	retryAfter time.Duration
	err        error
}

func (s stubLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return s.allowed, s.retryAfter, s.err
}

func limitedRouter(limiter middleware.Allower) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RateLimit(discardLogger(), limiter))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	return router
}

func TestRateLimit(t *testing.T) {
	tests := []struct {
		name           string
		limiter        stubLimiter
		expectedStatus int
	}{
		{
			name:           "allowed",
			limiter:        stubLimiter{allowed: true},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "denied",
			limiter:        stubLimiter{allowed: false, retryAfter: 30 * time.Second},
			expectedStatus: http.StatusTooManyRequests,
		},
		{
			name:           "limiter down fails open",
			limiter:        stubLimiter{err: errors.New("redis gone")},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := limitedRouter(tt.limiter)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			router.ServeHTTP(w, req)

			require.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestRateLimitRetryAfterHeader(t *testing.T) {
	router := limitedRouter(stubLimiter{allowed: false, retryAfter: 30 * time.Second})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "31", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RateLimited")
}
