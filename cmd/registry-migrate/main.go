// Command registry-migrate applies the registry's schema ahead of rolling
// out registry-gateway.
//
// Table creation itself is handled idempotently by internal/store's
// AutoMigrate step (run automatically whenever registry-gateway opens its
// database connection), so this command's own migration files are reserved
// for the handful of things AutoMigrate can't express: functional indexes,
// check constraints, and other hardening that needs hand-written SQL. This
// mirrors the teacher's own pairing of a GORM AutoMigrate call in its
// gateway's main() with a separate raw-SQL migration tool for everything
// GORM's auto-migration doesn't reach.
package main

import (
	"embed"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	var (
		up   = flag.Bool("up", false, "Run pending migrations")
		down = flag.Bool("down", false, "Roll back the last migration")
	)
	flag.Parse()

	if !*up && !*down {
		fmt.Printf("Usage: %s [-up | -down]\n", os.Args[0])
		fmt.Println("  -up    Run pending migrations")
		fmt.Println("  -down  Roll back the last migration")
		os.Exit(1)
	}

	cfg := config.LoadFromEnv()

	// Ensure the base schema (tables, columns, foreign keys) exists before
	// layering hand-written hardening migrations on top of it.
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to apply base schema")
	}
	_ = db.Close()

	migrator, err := migrate.NewMigrator(&cfg.Database, migrationsFS, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrator")
	}
	defer migrator.Close()

	if *up {
		if err := migrator.Up(); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations completed successfully")
	}

	if *down {
		if err := migrator.Down(); err != nil {
			log.Fatal().Err(err).Msg("failed to roll back migration")
		}
		log.Info().Msg("rollback completed successfully")
	}
}
