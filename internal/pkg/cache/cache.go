package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

// Setup connects to the Redis-compatible cache server. An unreachable cache
// is logged, not fatal: go-redis reconnects on the next command.
func Setup(cfg env.Config, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Cache.Host, cfg.Cache.Port),
		Password: cfg.Cache.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("cache_unreachable", zap.String("addr", client.Options().Addr), zap.Error(err))
	} else {
		log.Info("cache_connected", zap.String("addr", client.Options().Addr))
	}
	return client
}
