// Package gateway wraps the Google Calendar API calls the sync needs behind
// a circuit breaker.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

const (
	// MaxResults is the provider page size. Windows holding more events are
	// truncated: the sync never follows page tokens.
	MaxResults int64 = 2500

	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
)

// Options tunes the breaker. Zero values use the defaults.
type Options struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Client is a Calendar API gateway. All methods honor ctx.
type Client struct {
	svc     *calendar.Service
	breaker *gobreaker.CircuitBreaker[any]
}

func New(svc *calendar.Service, opts Options) *Client {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}

	settings := gobreaker.Settings{
		Name:    "google-calendar",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("gateway: breaker %s %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
	}

	return &Client{
		svc:     svc,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// ListEvents returns single (expanded) events in [timeMin, timeMax) ordered
// by start time.
func (c *Client) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*calendar.Event, error) {
	res, err := c.execute("list", func() (any, error) {
		return c.svc.Events.List(calendarID).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(MaxResults).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: list events in %s: %w", calendarID, err)
	}

	events := res.(*calendar.Events)
	if events.NextPageToken != "" {
		log.Printf("gateway: WARNING %s has more than %d events in window, extra events ignored", calendarID, MaxResults)
	}
	return events.Items, nil
}

func (c *Client) InsertEvent(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error) {
	res, err := c.execute("insert", func() (any, error) {
		return c.svc.Events.Insert(calendarID, ev).SendUpdates("none").Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: insert into %s: %w", calendarID, err)
	}
	return res.(*calendar.Event), nil
}

func (c *Client) PatchEvent(ctx context.Context, calendarID, eventID string, ev *calendar.Event) (*calendar.Event, error) {
	res, err := c.execute("patch", func() (any, error) {
		return c.svc.Events.Patch(calendarID, eventID, ev).SendUpdates("none").Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: patch %s in %s: %w", eventID, calendarID, err)
	}
	return res.(*calendar.Event), nil
}

// DeleteEvent treats an event that is already gone as deleted.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	_, err := c.execute("delete", func() (any, error) {
		return nil, c.svc.Events.Delete(calendarID, eventID).SendUpdates("none").Context(ctx).Do()
	})
	if isGone(err) {
		log.Printf("gateway: event %s already removed from %s", eventID, calendarID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("gateway: delete %s from %s: %w", eventID, calendarID, err)
	}
	return nil
}

// CalendarName returns the calendar's display name.
func (c *Client) CalendarName(ctx context.Context, calendarID string) (string, error) {
	res, err := c.execute("calendar", func() (any, error) {
		return c.svc.Calendars.Get(calendarID).Context(ctx).Do()
	})
	if err != nil {
		return "", fmt.Errorf("gateway: get calendar %s: %w", calendarID, err)
	}
	return res.(*calendar.Calendar).Summary, nil
}

// WatchEvents opens a push notification channel on the calendar's events.
func (c *Client) WatchEvents(ctx context.Context, calendarID string, ch *calendar.Channel) (*calendar.Channel, error) {
	res, err := c.execute("watch", func() (any, error) {
		return c.svc.Events.Watch(calendarID, ch).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: watch %s: %w", calendarID, err)
	}
	return res.(*calendar.Channel), nil
}

// StopChannel closes a push channel. Unknown or expired channels count as
// stopped.
func (c *Client) StopChannel(ctx context.Context, ch *calendar.Channel) error {
	_, err := c.execute("stop", func() (any, error) {
		return nil, c.svc.Channels.Stop(ch).Context(ctx).Do()
	})
	if isGone(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("gateway: stop channel %s: %w", ch.Id, err)
	}
	return nil
}

func (c *Client) execute(op string, fn func() (any, error)) (any, error) {
	res, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: calendar api unavailable: %w", op, err)
	}
	return res, err
}

// isTransient reports errors that say something about the provider's health
// rather than the request: 5xx, rate limits and transport failures.
func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= http.StatusInternalServerError || apiErr.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}
