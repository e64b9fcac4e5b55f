package oauthstate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const consumedKeyPrefix = "oauth:nonce:consumed:"

// Ledger remembers which nonces already completed a callback, so a replayed
// cookie cannot validate a second one.
type Ledger interface {
	// Consume returns true the first time nonce is seen and false afterwards.
	Consume(ctx context.Context, nonce string) (bool, error)
}

// RedisLedger keeps consumed nonces in Redis for as long as a nonce cookie
// could still be valid.
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Ledger = (*RedisLedger)(nil)

func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client, ttl: MaxAge}
}

func (l *RedisLedger) Consume(ctx context.Context, nonce string) (bool, error) {
	sum := sha256.Sum256([]byte(nonce))
	ok, err := l.client.SetNX(ctx, consumedKeyPrefix+hex.EncodeToString(sum[:]), 1, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("oauthstate: record consumed nonce: %w", err)
	}
	return ok, nil
}
