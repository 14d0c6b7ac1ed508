package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	goredis "github.com/redis/go-redis/v9"

	httpapp "github.com/darunbjork/InsightAPI/internal/app/http"
	"github.com/darunbjork/InsightAPI/internal/config"
	authhttp "github.com/darunbjork/InsightAPI/internal/http/auth"
	"github.com/darunbjork/InsightAPI/internal/http/middleware"
	"github.com/darunbjork/InsightAPI/internal/lib/jwt"
	"github.com/darunbjork/InsightAPI/internal/lib/password"
	"github.com/darunbjork/InsightAPI/internal/lib/ratelimit"
	"github.com/darunbjork/InsightAPI/internal/lib/sl"
	"github.com/darunbjork/InsightAPI/internal/services/session"
	"github.com/darunbjork/InsightAPI/internal/storage/memory"
	"github.com/darunbjork/InsightAPI/internal/storage/mongodb"
	redisstore "github.com/darunbjork/InsightAPI/internal/storage/redis"
	"github.com/darunbjork/InsightAPI/internal/storage/sqlite"
)

type App struct {
	HTTPSrv *httpapp.App

	logger  *slog.Logger
	cleanup []func(context.Context) error
}

// New wires the whole service from configuration. Anything that makes the
// process unable to serve panics here, before the server starts.
func New(logger *slog.Logger, cfg *config.Config) *App {
	app := &App{logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		saver       session.PrincipalSaver
		provider    session.PrincipalProvider
		revocations session.RevocationStore
	)

	switch cfg.Storage {
	case "mongo":
		mongoStorage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			panic(err)
		}
		saver, provider, revocations = mongoStorage, mongoStorage, mongoStorage
		app.onStop(mongoStorage.Close)
	case "sqlite":
		sqliteStorage, err := sqlite.New(cfg.StoragePath)
		if err != nil {
			panic(err)
		}
		saver, provider, revocations = sqliteStorage, sqliteStorage, sqliteStorage
		app.onStop(func(context.Context) error { return sqliteStorage.Close() })
	case "memory":
		memStorage := memory.New()
		saver, provider, revocations = memStorage, memStorage, memStorage
	default:
		panic("unknown storage backend: " + cfg.Storage)
	}

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		client, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			panic(err)
		}
		redisClient = client
		app.onStop(func(context.Context) error { return redisClient.Close() })
	}

	if cfg.Revocations == "redis" {
		if redisClient == nil {
			panic("redis revocations configured without redis.addr")
		}
		revocations = redisstore.NewRevocations(redisClient, cfg.Tokens.RefreshTTL)
	}

	var limiter middleware.Allower
	if cfg.RateLimit.Enabled {
		if redisClient == nil {
			panic("rate limit enabled without redis.addr")
		}
		limiter = ratelimit.NewFixedWindow(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	var publisher message.Publisher
	switch cfg.Events.Driver {
	case "channel":
		publisher = gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger))
	case "redis":
		if redisClient == nil {
			panic("redis events configured without redis.addr")
		}
		p, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, watermill.NewSlogLogger(logger))
		if err != nil {
			panic(err)
		}
		publisher = p
	case "none", "":
		// events disabled
	default:
		panic("unknown events driver: " + cfg.Events.Driver)
	}
	if publisher != nil {
		app.onStop(func(context.Context) error { return publisher.Close() })
	}

	codec := jwt.NewCodec(
		cfg.Tokens.AccessSecret,
		cfg.Tokens.RefreshSecret,
		cfg.Tokens.AccessTTL,
		cfg.Tokens.RefreshTTL,
	)
	hasher := password.New(cfg.BcryptCost)

	sessionService := session.New(logger, saver, provider, revocations, hasher, codec, publisher)

	authServer := authhttp.New(logger, sessionService, authhttp.CookieConfig{
		Secure:     cfg.Env != "local",
		AccessTTL:  cfg.Tokens.AccessTTL,
		RefreshTTL: cfg.Tokens.RefreshTTL,
	})

	app.HTTPSrv = httpapp.New(logger, authServer, codec, limiter, cfg.Env, cfg.HTTP.Port, cfg.HTTP.Timeout)

	return app
}

// Stop shuts the HTTP server down gracefully and releases held resources.
func (a *App) Stop(ctx context.Context) {
	a.HTTPSrv.Stop(ctx)

	for _, fn := range a.cleanup {
		if err := fn(ctx); err != nil {
			a.logger.Error("cleanup failed", sl.Err(err))
		}
	}
}

func (a *App) onStop(fn func(context.Context) error) {
	a.cleanup = append(a.cleanup, fn)
}
