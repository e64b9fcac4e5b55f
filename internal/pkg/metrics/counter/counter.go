package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	connectOutcomesKey     = "connect:counters:%s"
	refreshFailuresKey     = "refresh:counters:consecutive_failures"
	refreshLastFailurePref = "refresh:last_failure:"
)

// Counters keeps connect outcomes and refresh failure streaks in Redis,
// where an external reconciliation job can read them.
type Counters struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Counters {
	return &Counters{client: client}
}

// AddConnectOutcome increments the counter for outcome ("connected" or an
// error code) of provider.
func (c *Counters) AddConnectOutcome(ctx context.Context, provider, outcome string) error {
	return c.client.HIncrBy(ctx, fmt.Sprintf(connectOutcomesKey, provider), outcome, 1).Err()
}

// ConnectOutcomes returns all outcome counters recorded for provider.
func (c *Counters) ConnectOutcomes(ctx context.Context, provider string) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, fmt.Sprintf(connectOutcomesKey, provider)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

func connectionField(userID uint, provider string) string {
	return strconv.FormatUint(uint64(userID), 10) + ":" + provider
}

// RefreshFailed extends the failure streak of the connection and remembers
// when and why it last failed. It never touches the connection itself.
func (c *Counters) RefreshFailed(ctx context.Context, userID uint, provider string, cause error) error {
	field := connectionField(userID, provider)
	kind := "error"
	if cause != nil {
		kind = strings.SplitN(cause.Error(), ":", 2)[0]
	}
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, refreshFailuresKey, field, 1)
	pipe.HSet(ctx, refreshLastFailurePref+field, "at", time.Now().UTC().Format(time.RFC3339), "kind", kind)
	pipe.Expire(ctx, refreshLastFailurePref+field, 30*24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// RefreshSucceeded resets the failure streak.
func (c *Counters) RefreshSucceeded(ctx context.Context, userID uint, provider string) error {
	field := connectionField(userID, provider)
	pipe := c.client.TxPipeline()
	pipe.HDel(ctx, refreshFailuresKey, field)
	pipe.Del(ctx, refreshLastFailurePref+field)
	_, err := pipe.Exec(ctx)
	return err
}

// ConsecutiveFailures is the current failure streak of the connection.
func (c *Counters) ConsecutiveFailures(ctx context.Context, userID uint, provider string) (int64, error) {
	n, err := c.client.HGet(ctx, refreshFailuresKey, connectionField(userID, provider)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
