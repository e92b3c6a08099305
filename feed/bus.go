// Package feed streams sync log entries to live dashboards over a Redis stream.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"calsync/synclog"
	"github.com/redis/go-redis/v9"
)

const (
	StreamKey         = "calsync:feed"
	defaultMaxLen     = 1000
	defaultBlock      = 5 * time.Second
	defaultBatchCount = 50
)

// Event is one stream entry as sent to clients.
type Event struct {
	ID    string           `json:"id"`
	Entry synclog.LogEntry `json:"entry"`
}

// Bus appends to and tails the feed stream.
type Bus struct {
	client *redis.Client
	block  time.Duration
}

func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client, block: defaultBlock}
}

// Publish appends entries in order; the stream is trimmed to the newest entries.
func (b *Bus) Publish(ctx context.Context, entries []synclog.LogEntry) error {
	if b == nil || b.client == nil {
		return errors.New("feed bus not configured")
	}
	if len(entries) == 0 {
		return nil
	}

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, entry := range entries {
			payload, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("feed: encode entry %s: %w", entry.ID, err)
			}
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: StreamKey,
				MaxLen: defaultMaxLen,
				Values: map[string]any{
					"entry": string(payload),
					"type":  string(entry.Type),
				},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("feed: publish: %w", err)
	}
	return nil
}

// Head returns the newest stream ID, or "0-0" for an empty stream.
func (b *Bus) Head(ctx context.Context) (string, error) {
	if b == nil || b.client == nil {
		return "", errors.New("feed bus not configured")
	}
	msgs, err := b.client.XRevRangeN(ctx, StreamKey, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("feed: head: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// Tail blocks for entries after afterID and returns them with the ID to pass
// on the next call. An empty afterID starts at the current head, and the
// returned ID is always concrete so nothing published between calls is lost.
func (b *Bus) Tail(ctx context.Context, afterID string) ([]Event, string, error) {
	if b == nil || b.client == nil {
		return nil, afterID, errors.New("feed bus not configured")
	}

	if strings.TrimSpace(afterID) == "" {
		head, err := b.Head(ctx)
		if err != nil {
			return nil, afterID, err
		}
		afterID = head
	}

	res, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{StreamKey, afterID},
		Count:   defaultBatchCount,
		Block:   b.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, afterID, nil
		}
		return nil, afterID, err
	}

	events := make([]Event, 0)
	nextID := afterID
	for _, stream := range res {
		for _, msg := range stream.Messages {
			nextID = msg.ID
			raw, _ := msg.Values["entry"].(string)
			var entry synclog.LogEntry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				log.Printf("feed: skipping malformed entry %s: %v", msg.ID, err)
				continue
			}
			events = append(events, Event{ID: msg.ID, Entry: entry})
		}
	}
	return events, nextID, nil
}
