package main

// Apply session and job event migrations:
//   go run ./cmd/migrate            # up to latest
//   go run ./cmd/migrate -to 1      # up or down to version 1
//   go run ./cmd/migrate -version   # print the applied version

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"qc-dashboard/internal/shared/config"
	"qc-dashboard/internal/shared/storage/db"
	"qc-dashboard/internal/shared/telemetry"
)

func main() {
	to := flag.Int64("to", -1, "Migrate up or down to this version instead of latest")
	showVersion := flag.Bool("version", false, "Print the applied schema version and exit")
	flag.Parse()

	cfg := config.Load()
	telemetry.SetLevel(cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		telemetry.Error("migrate.no_database", map[string]any{"hint": "set DATABASE_URL"})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.Defaults(db.ProfileMigrate)))
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	if *showVersion {
		v, err := db.SchemaVersion(ctx, sqlDB)
		if err != nil {
			telemetry.Error("migrate.version_failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		fmt.Println(v)
		return
	}

	if *to >= 0 {
		err = db.MigrateTo(ctx, sqlDB, *to)
	} else {
		err = db.RunMigrations(ctx, sqlDB)
	}
	if err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	v, _ := db.SchemaVersion(ctx, sqlDB)
	telemetry.Info("migrate.applied", map[string]any{"version": v})
}
