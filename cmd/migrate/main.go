package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lgulliver/photoflow/pkg/config"
	"github.com/lgulliver/photoflow/pkg/migrate"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	var (
		up     = flag.Bool("up", false, "Apply pending journal migrations")
		down   = flag.Bool("down", false, "Roll back the last journal migration")
		status = flag.Bool("status", false, "List journal migrations and whether they are applied")
	)
	flag.Parse()

	if !*up && !*down && !*status {
		fmt.Printf("Usage: %s [-up | -down | -status]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Logging.SetupLogging()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	migrator, err := migrate.NewMigrator(ctx, &cfg.Database, migrationsFS, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrator")
	}
	defer migrator.Close()

	switch {
	case *up:
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		log.Info().Msg("migrations completed")
	case *down:
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to roll back migration")
		}
		log.Info().Msg("rollback completed")
	case *status:
		entries, err := migrator.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read migration status")
		}
		for _, e := range entries {
			state := "pending"
			if e.Applied {
				state = "applied"
			}
			fmt.Printf("%03d  %-40s %s\n", e.Version, e.Name, state)
		}
	}
}
