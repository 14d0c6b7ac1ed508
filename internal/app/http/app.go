package httpapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	authhttp "github.com/darunbjork/InsightAPI/internal/http/auth"
	"github.com/darunbjork/InsightAPI/internal/http/middleware"
	"github.com/darunbjork/InsightAPI/internal/lib/sl"
)

type App struct {
	logger *slog.Logger
	router *gin.Engine
	server *http.Server
	port   int
}

// New assembles the router and the HTTP server around the auth handlers.
// A nil limiter leaves the auth routes unthrottled.
func New(
	logger *slog.Logger,
	authServer *authhttp.Server,
	verifier middleware.AccessVerifier,
	limiter middleware.Allower,
	env string,
	port int,
	timeout time.Duration,
) *App {
	if env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	authGroup := api.Group("/auth")
	if limiter != nil {
		authGroup.Use(middleware.RateLimit(logger, limiter))
	}
	authServer.RegisterRoutes(authGroup, middleware.Authenticate(verifier, authhttp.AccessTokenCookie))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	return &App{
		logger: logger,
		router: router,
		server: server,
		port:   port,
	}
}

// Router exposes the engine so tests can serve it in-process.
func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	log := a.logger.With(
		slog.String("op", op),
		slog.Int("port", a.port),
	)

	log.Info("http server is running", slog.String("address", a.server.Addr))

	err := a.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop(ctx context.Context) {
	const op = "httpapp.Stop"
	log := a.logger.With(slog.String("op", op))
	log.Info("stopping http server", slog.Int("port", a.port))

	if err := a.server.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", sl.Err(err))
	}
}
