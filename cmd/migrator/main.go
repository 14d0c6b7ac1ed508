package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/darunbjork/InsightAPI/internal/config"
	"github.com/darunbjork/InsightAPI/internal/domain/models"
	"github.com/darunbjork/InsightAPI/internal/lib/password"
	"github.com/darunbjork/InsightAPI/internal/storage/mongodb"
	"github.com/darunbjork/InsightAPI/internal/storage/sqlite"
)

type principalSeeder interface {
	SavePrincipal(ctx context.Context, username, email string, passHash []byte) (*models.Principal, error)
}

func main() {
	var (
		configPath     string
		migrationsPath string
		seedUsername   string
		seedEmail      string
		seedPassword   string
	)

	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.StringVar(&migrationsPath, "migrations", "migrations", "path to sqlite migration files")
	flag.StringVar(&seedUsername, "seed-username", "", "username for a seeded principal")
	flag.StringVar(&seedEmail, "seed-email", "", "email for a seeded principal")
	flag.StringVar(&seedPassword, "seed-password", "", "password for a seeded principal")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg := config.LoadConfig(configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var seeder principalSeeder

	switch cfg.Storage {
	case "sqlite":
		log.Println("Applying sqlite migrations...")

		m, err := migrate.New("file://"+migrationsPath, "sqlite3://"+cfg.StoragePath)
		if err != nil {
			log.Fatalf("failed to open migrations: %v", err)
		}

		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Println("No new migrations to apply")
			} else {
				log.Fatalf("failed to apply migrations: %v", err)
			}
		}

		storage, err := sqlite.New(cfg.StoragePath)
		if err != nil {
			log.Fatalf("failed to open sqlite storage: %v", err)
		}
		defer storage.Close()

		seeder = storage
	case "mongo":
		log.Println("Connecting to MongoDB...")

		storage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			log.Fatalf("failed to connect to mongodb: %v", err)
		}
		defer storage.Close(ctx)

		log.Println("MongoDB connected, indexes created successfully")

		seeder = storage
	default:
		log.Fatalf("storage backend %q has no migrations", cfg.Storage)
	}

	if seedUsername != "" {
		if seedEmail == "" || seedPassword == "" {
			log.Fatal("seeding requires -seed-username, -seed-email and -seed-password")
		}

		hash, err := password.New(cfg.BcryptCost).Hash(seedPassword)
		if err != nil {
			log.Fatalf("failed to hash seed password: %v", err)
		}

		principal, err := seeder.SavePrincipal(ctx, seedUsername, seedEmail, hash)
		if err != nil {
			log.Fatalf("failed to seed principal: %v", err)
		}

		log.Printf("Principal seeded (id=%s, username=%s)", principal.ID, principal.Username)
	}

	fmt.Println("Database initialization completed successfully")
}
