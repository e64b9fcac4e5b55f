package main

import (
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/ManuelReschke/MarketLink/app/controllers"
	"github.com/ManuelReschke/MarketLink/app/repository"
	"github.com/ManuelReschke/MarketLink/internal/pkg/cache"
	"github.com/ManuelReschke/MarketLink/internal/pkg/database"
	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
	"github.com/ManuelReschke/MarketLink/internal/pkg/logger"
	"github.com/ManuelReschke/MarketLink/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/MarketLink/internal/pkg/middleware"
	"github.com/ManuelReschke/MarketLink/internal/pkg/oauthstate"
	"github.com/ManuelReschke/MarketLink/internal/pkg/provider"
	"github.com/ManuelReschke/MarketLink/internal/pkg/router"
	"github.com/ManuelReschke/MarketLink/internal/pkg/session"
	"github.com/ManuelReschke/MarketLink/internal/pkg/syncqueue"
	"github.com/ManuelReschke/MarketLink/internal/pkg/tokens"
	"github.com/ManuelReschke/MarketLink/internal/pkg/vault"
)

func main() {
	env.SetupEnvFile()

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

	app, err := NewApplication(cfg, log)
	if err != nil {
		log.Fatal("startup_failed", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.AppEnv))
	if err := app.Listen(addr); err != nil {
		log.Fatal("listen_failed", zap.Error(err))
	}
}

func NewApplication(cfg env.Config, log *zap.Logger) (*fiber.App, error) {
	v, insecure, err := vault.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if insecure {
		log.Warn("token_encryption_key_missing", zap.String("hint", "using the built-in development key; set TOKEN_ENCRYPTION_KEY"))
	}

	db, err := database.Setup(cfg, log)
	if err != nil {
		return nil, err
	}
	rdb := cache.Setup(cfg, log)

	states, err := oauthstate.NewCookieStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := provider.FromConfig(cfg)
	for _, name := range registry.Names() {
		if _, err := registry.Get(name); err != nil {
			log.Warn("provider_unavailable", zap.String("provider", name), zap.Error(err))
			continue
		}
		log.Info("provider_ready", zap.String("provider", name))
	}

	repos := repository.NewFactory(db, v).GetRepositories()
	counters := counter.New(rdb)

	manager := tokens.NewManager(repos.Credentials, registry,
		tokens.WithLocker(tokens.NewRedisLocker(rdb)),
		tokens.WithFailurePolicy(counters),
		tokens.WithLogger(log),
	)

	deps := controllers.ConnectDeps{
		Config:      cfg,
		Providers:   registry,
		States:      states,
		Ledger:      oauthstate.NewRedisLedger(rdb),
		Connections: repos.Connection,
		Outcomes:    counters,
	}
	if cfg.LegacySyncEnabled {
		deps.Sync = syncqueue.NewQueue(rdb, log)
	}

	app := fiber.New(fiber.Config{
		AppName:   "marketlink",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New())

	// fiber metrics, for operators only
	app.Get("/metrics", middleware.InternalSecretAuth(cfg.InternalAPISecret), monitor.New())

	router.InstallRouter(app, router.Deps{
		Config:   cfg,
		Log:      log,
		Sessions: session.NewSessionStore(cfg),
		Connect:  controllers.NewConnectController(deps),
		Tokens:   controllers.NewInternalTokenController(manager, registry),
	})

	return app, nil
}
