package synclog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const (
	defaultLogsKey    = "calsync:logs"
	defaultHistoryKey = "calsync:history"
)

// RedisStore keeps both lists as capped Redis lists of JSON documents.
type RedisStore struct {
	client     *redis.Client
	logsKey    string
	historyKey string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:     client,
		logsKey:    defaultLogsKey,
		historyKey: defaultHistoryKey,
	}
}

func (s *RedisStore) AppendLogs(ctx context.Context, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, len(entries))
	// LPUSH prepends one by one, so push in reverse to keep batch order.
	for i := len(entries) - 1; i >= 0; i-- {
		payload, err := json.Marshal(entries[i])
		if err != nil {
			return fmt.Errorf("synclog: marshal log entry: %w", err)
		}
		values = append(values, payload)
	}
	return s.pushCapped(ctx, s.logsKey, values)
}

func (s *RedisStore) Logs(ctx context.Context) ([]LogEntry, error) {
	raw, err := s.client.LRange(ctx, s.logsKey, 0, MaxEntries-1).Result()
	if err != nil {
		return nil, fmt.Errorf("synclog: read logs: %w", err)
	}
	return decodeAll[LogEntry](raw, s.logsKey), nil
}

func (s *RedisStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("synclog: marshal history entry: %w", err)
	}
	return s.pushCapped(ctx, s.historyKey, []any{payload})
}

func (s *RedisStore) History(ctx context.Context) ([]HistoryEntry, error) {
	raw, err := s.client.LRange(ctx, s.historyKey, 0, MaxEntries-1).Result()
	if err != nil {
		return nil, fmt.Errorf("synclog: read history: %w", err)
	}
	return decodeAll[HistoryEntry](raw, s.historyKey), nil
}

func (s *RedisStore) pushCapped(ctx context.Context, key string, values []any) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, values...)
		pipe.LTrim(ctx, key, 0, MaxEntries-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("synclog: append %s: %w", key, err)
	}
	return nil
}

func decodeAll[T any](raw []string, key string) []T {
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			log.Printf("synclog: skipping corrupt entry in %s: %v", key, err)
			continue
		}
		out = append(out, v)
	}
	return out
}
