package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darunbjork/InsightAPI/internal/domain/models"
	"github.com/darunbjork/InsightAPI/internal/http/middleware"
	"github.com/darunbjork/InsightAPI/internal/lib/sl"
	"github.com/darunbjork/InsightAPI/internal/services/session"
)

// Stable machine-readable error codes carried in the error envelope.
const (
	codeInvalidRequest  = "InvalidRequest"
	codePrincipalExists = "PrincipalExists"
	codeAuthFailed      = "AuthFailed"
	codeInvalidToken    = "InvalidToken"
	codeExpired         = "Expired"
	codeAuthCompromised = "AuthCompromised"
	codeInternal        = "Internal"
)

// Session is the service surface the HTTP layer drives.
type Session interface {
	Register(
		ctx context.Context,
		username string,
		email string,
		password string,
	) (*models.Principal, *models.TokenPair, error)
	Login(
		ctx context.Context,
		email string,
		password string,
	) (*models.Principal, *models.TokenPair, error)
	Refresh(
		ctx context.Context,
		refreshToken string,
	) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string)
	Principal(ctx context.Context, principalID string) (*models.Principal, error)
}

// Server carries the auth handlers and the cookie policy they write with.
type Server struct {
	logger  *slog.Logger
	session Session
	cookies CookieConfig
}

func New(logger *slog.Logger, sessionService Session, cookies CookieConfig) *Server {
	return &Server{
		logger:  logger,
		session: sessionService,
		cookies: cookies,
	}
}

// RegisterRoutes mounts the auth endpoints on the group. The authenticated
// middleware guards the routes that need a valid access token.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup, authenticated gin.HandlerFunc) {
	rg.POST("/register", s.handleRegister)
	rg.POST("/login", s.handleLogin)
	rg.POST("/refresh", s.handleRefresh)
	rg.POST("/logout", s.handleLogout)
	rg.GET("/me", authenticated, s.handleMe)
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=64"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	Principal    *models.Principal `json:"principal"`
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
}

type meResponse struct {
	Principal *models.Principal `json:"principal"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: apiError{Code: code, Message: message}})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}

	principal, pair, err := s.session.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.writeSessionError(c, err)
		return
	}

	setTokenCookies(c.Writer, pair, s.cookies)
	c.JSON(http.StatusCreated, authResponse{
		Principal:    principal,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}

	principal, pair, err := s.session.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.writeSessionError(c, err)
		return
	}

	setTokenCookies(c.Writer, pair, s.cookies)
	c.JSON(http.StatusOK, authResponse{
		Principal:    principal,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	refreshToken := s.refreshTokenFrom(c)
	if refreshToken == "" {
		clearTokenCookies(c.Writer, s.cookies)
		writeError(c, http.StatusUnauthorized, codeInvalidToken, "refresh token missing")
		return
	}

	pair, err := s.session.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		clearTokenCookies(c.Writer, s.cookies)
		s.writeSessionError(c, err)
		return
	}

	setTokenCookies(c.Writer, pair, s.cookies)
	c.JSON(http.StatusOK, pair)
}

func (s *Server) handleLogout(c *gin.Context) {
	if refreshToken := s.refreshTokenFrom(c); refreshToken != "" {
		s.session.Logout(c.Request.Context(), refreshToken)
	}

	clearTokenCookies(c.Writer, s.cookies)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMe(c *gin.Context) {
	principal, err := s.session.Principal(c.Request.Context(), c.GetString(middleware.CtxPrincipalID))
	if err != nil {
		s.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, meResponse{Principal: principal})
}

// refreshTokenFrom prefers the cookie; the JSON body keeps non-browser
// clients working.
func (s *Server) refreshTokenFrom(c *gin.Context) string {
	if cookie, err := c.Cookie(RefreshTokenCookie); err == nil && cookie != "" {
		return cookie
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		return req.RefreshToken
	}

	return ""
}

// writeSessionError maps session outcomes onto statuses and stable codes.
// Anything outside the taxonomy is an internal failure and is reported as
// such, never translated.
func (s *Server) writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrPrincipalExists):
		writeError(c, http.StatusConflict, codePrincipalExists, "username or email already taken")
	case errors.Is(err, session.ErrAuthFailed):
		writeError(c, http.StatusUnauthorized, codeAuthFailed, "invalid email or password")
	case errors.Is(err, session.ErrTokenExpired):
		writeError(c, http.StatusUnauthorized, codeExpired, "refresh token expired")
	case errors.Is(err, session.ErrAuthCompromised):
		writeError(c, http.StatusUnauthorized, codeAuthCompromised, "refresh token reuse detected")
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrPrincipalNotFound):
		writeError(c, http.StatusUnauthorized, codeInvalidToken, "invalid refresh token")
	default:
		s.logger.Error("unhandled session error", sl.Err(err))
		writeError(c, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
