package logger

import (
	"go.uber.org/zap"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

// New returns a development logger for APP_ENV=dev and a JSON production
// logger everywhere else.
func New(cfg env.Config) (*zap.Logger, error) {
	if cfg.IsDev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// OrNop lets components accept a nil logger.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
