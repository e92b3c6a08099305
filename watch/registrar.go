// Package watch keeps a Google push notification channel open on the
// source calendar so edits trigger a sync without waiting for the schedule.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/calendar/v3"
)

// ErrNoChannel means no channel is registered.
var ErrNoChannel = errors.New("no watch channel registered")

const (
	channelKey = "calsync:watch:channel"
	channelTTL = 24 * time.Hour
)

// API is the provider surface for push channels.
type API interface {
	WatchEvents(ctx context.Context, calendarID string, ch *calendar.Channel) (*calendar.Channel, error)
	StopChannel(ctx context.Context, ch *calendar.Channel) error
}

// Channel is the registered push channel.
type Channel struct {
	ID         string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	CalendarID string    `json:"calendar_id"`
	Address    string    `json:"webhook_url"`
	Token      string    `json:"-"`
	Expiration time.Time `json:"expiration"`
}

// Registrar owns the single channel record in Redis.
type Registrar struct {
	client *redis.Client
	api    API
	now    func() time.Time
}

func NewRegistrar(client *redis.Client, api API) *Registrar {
	return &Registrar{client: client, api: api, now: time.Now}
}

// Register opens a new channel on calendarID delivering to address and
// stops the previous one.
func (r *Registrar) Register(ctx context.Context, calendarID, address string) (*Channel, error) {
	prev, err := r.Current(ctx)
	if err != nil && !errors.Is(err, ErrNoChannel) {
		return nil, err
	}

	requested := &calendar.Channel{
		Id:         uuid.New().String(),
		Type:       "web_hook",
		Address:    address,
		Token:      uuid.New().String(),
		Expiration: r.now().Add(channelTTL).UnixMilli(),
	}
	resp, err := r.api.WatchEvents(ctx, calendarID, requested)
	if err != nil {
		return nil, fmt.Errorf("watch: register on %s: %w", calendarID, err)
	}

	expiration := resp.Expiration
	if expiration == 0 {
		expiration = requested.Expiration
	}
	ch := &Channel{
		ID:         requested.Id,
		ResourceID: resp.ResourceId,
		CalendarID: calendarID,
		Address:    address,
		Token:      requested.Token,
		Expiration: time.UnixMilli(expiration),
	}
	if err := r.store(ctx, ch); err != nil {
		return nil, err
	}
	log.Printf("watch: registered channel %s on %s until %s", ch.ID, calendarID, ch.Expiration.Format(time.RFC3339))

	if prev != nil {
		if err := r.api.StopChannel(ctx, &calendar.Channel{Id: prev.ID, ResourceId: prev.ResourceID}); err != nil {
			log.Printf("watch: stop previous channel %s: %v", prev.ID, err)
		}
	}
	return ch, nil
}

// Current returns the registered channel or ErrNoChannel.
func (r *Registrar) Current(ctx context.Context) (*Channel, error) {
	data, err := r.client.HGetAll(ctx, channelKey).Result()
	if err != nil {
		return nil, fmt.Errorf("watch: read channel: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoChannel
	}

	expMs, err := strconv.ParseInt(data["expiration"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("watch: invalid expiration %q: %w", data["expiration"], err)
	}
	return &Channel{
		ID:         data["channel_id"],
		ResourceID: data["resource_id"],
		CalendarID: data["calendar_id"],
		Address:    data["webhook_url"],
		Token:      data["token"],
		Expiration: time.UnixMilli(expMs),
	}, nil
}

// Verify reports whether a notification belongs to the current channel.
func (r *Registrar) Verify(ctx context.Context, channelID, token string) (bool, error) {
	ch, err := r.Current(ctx)
	if errors.Is(err, ErrNoChannel) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ch.ID == channelID && ch.Token == token, nil
}

// Ensure registers a channel when none exists, when it points elsewhere, or
// when it expires within threshold. It reports whether it registered.
func (r *Registrar) Ensure(ctx context.Context, calendarID, address string, threshold time.Duration) (bool, error) {
	ch, err := r.Current(ctx)
	if err != nil && !errors.Is(err, ErrNoChannel) {
		return false, err
	}
	if ch != nil && ch.CalendarID == calendarID && ch.Address == address && ch.Expiration.Sub(r.now()) > threshold {
		return false, nil
	}
	if _, err := r.Register(ctx, calendarID, address); err != nil {
		return false, err
	}
	return true, nil
}

// Unregister stops the channel and forgets it.
func (r *Registrar) Unregister(ctx context.Context) error {
	ch, err := r.Current(ctx)
	if err != nil {
		return err
	}
	if err := r.api.StopChannel(ctx, &calendar.Channel{Id: ch.ID, ResourceId: ch.ResourceID}); err != nil {
		return err
	}
	if err := r.client.Del(ctx, channelKey).Err(); err != nil {
		return fmt.Errorf("watch: delete channel: %w", err)
	}
	log.Printf("watch: unregistered channel %s", ch.ID)
	return nil
}

func (r *Registrar) store(ctx context.Context, ch *Channel) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, channelKey)
		pipe.HSet(ctx, channelKey, map[string]any{
			"channel_id":  ch.ID,
			"resource_id": ch.ResourceID,
			"calendar_id": ch.CalendarID,
			"webhook_url": ch.Address,
			"token":       ch.Token,
			"expiration":  strconv.FormatInt(ch.Expiration.UnixMilli(), 10),
		})
		pipe.ExpireAt(ctx, channelKey, ch.Expiration)
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: store channel: %w", err)
	}
	return nil
}
