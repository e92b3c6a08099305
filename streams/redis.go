// Package streams opens the shared Redis connection and checks that the
// stream commands the live feed relies on are available.
package streams

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const healthStream = "calsync:health"

// Connect parses rawURL, pings the server and verifies XADD/XREAD. Bare
// host:port values are accepted.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	client, err := NewClient(rawURL)
	if err != nil {
		return nil, err
	}

	if err := verifyStreamOps(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// NewClient builds a client without touching the network.
func NewClient(rawURL string) (*redis.Client, error) {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		return nil, fmt.Errorf("redis: empty REDIS_URL")
	}
	if !strings.Contains(url, "://") {
		url = "redis://" + url
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func verifyStreamOps(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}

	msgID, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: healthStream,
		MaxLen: 1,
		Values: map[string]any{
			"msg": "redis-online-check",
			"ts":  time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("redis: XADD failed: %w", err)
	}

	res, err := client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{healthStream, "0"},
		Count:   1,
	}).Result()
	if err != nil {
		return fmt.Errorf("redis: XREAD failed: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return fmt.Errorf("redis: XREAD returned no messages for %s", msgID)
	}
	return nil
}
