package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/ManuelReschke/MarketLink/internal/pkg/database"
	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
	"github.com/ManuelReschke/MarketLink/internal/pkg/logger"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	cfg, err := env.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("migrate_connect",
		zap.String("user", cfg.Database.User),
		zap.String("host", cfg.Database.Host),
		zap.String("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
	)

	m, err := migrate.New("file://migrations", "mysql://"+database.DSN(cfg.Database)+"&multiStatements=true")
	if err != nil {
		log.Fatal("migrate_init_failed", zap.Error(err))
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Warn("migrate_close_failed", zap.NamedError("source", sourceErr), zap.NamedError("database", dbErr))
		}
	}()

	switch command {
	case "up":
		err := m.Up()
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info("migrate_no_change")
		case err != nil:
			log.Fatal("migrate_up_failed", zap.Error(err))
		default:
			log.Info("migrate_up_done")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatal("migrate_down_failed", zap.Error(err))
		}
		log.Info("migrate_down_done")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal("migrate_goto_needs_version")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatal("migrate_invalid_version", zap.String("version", os.Args[2]), zap.Error(err))
		}
		err = m.Migrate(uint(version))
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info("migrate_no_change", zap.Uint64("version", version))
		case err != nil:
			log.Fatal("migrate_goto_failed", zap.Uint64("version", version), zap.Error(err))
		default:
			log.Info("migrate_goto_done", zap.Uint64("version", version))
		}

	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			log.Info("migrate_status", zap.String("version", "none"))
		case err != nil:
			log.Fatal("migrate_status_failed", zap.Error(err))
		default:
			log.Info("migrate_status", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run ./cmd/migrate [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
}
