// Package syncer runs one complete synchronization pass: lock, fetch,
// reconcile, apply, record.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"calsync/lock"
	"calsync/reconcile"
	"calsync/synclog"
	"google.golang.org/api/calendar/v3"
)

// ErrSyncInProgress is returned when another run holds the lock.
var ErrSyncInProgress = errors.New("sync already running")

const (
	defaultLockKey      = "calsync:lock"
	defaultLockTTL      = 60 * time.Second
	defaultWindowMonths = 6

	sourcePlaceholder = "Source Calendar"
	targetPlaceholder = "Target Calendar"
)

// Gateway is the calendar provider surface a run needs.
type Gateway interface {
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*calendar.Event, error)
	InsertEvent(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error)
	PatchEvent(ctx context.Context, calendarID, eventID string, ev *calendar.Event) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	CalendarName(ctx context.Context, calendarID string) (string, error)
}

// Publisher fans log entries out to live dashboards.
type Publisher interface {
	Publish(ctx context.Context, entries []synclog.LogEntry) error
}

// Notifier delivers a short run summary to a human.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Options configures a Service. Publisher and Notifier are optional.
type Options struct {
	SourceCalendarID string
	TargetCalendarID string
	LockKey          string
	LockTTL          time.Duration
	WindowMonths     int
	Publisher        Publisher
	Notifier         Notifier
	Now              func() time.Time
}

// Service owns the run lifecycle.
type Service struct {
	gateway   Gateway
	engine    *reconcile.Engine
	store     synclog.Store
	locker    lock.Locker
	publisher Publisher
	notifier  Notifier

	sourceID     string
	targetID     string
	lockKey      string
	lockTTL      time.Duration
	windowMonths int
	now          func() time.Time
}

func NewService(gw Gateway, engine *reconcile.Engine, store synclog.Store, locker lock.Locker, opts Options) (*Service, error) {
	if gw == nil {
		return nil, errors.New("syncer: gateway is required")
	}
	if engine == nil {
		return nil, errors.New("syncer: engine is required")
	}
	if store == nil {
		return nil, errors.New("syncer: log store is required")
	}
	if locker == nil {
		return nil, errors.New("syncer: locker is required")
	}
	if opts.SourceCalendarID == "" || opts.TargetCalendarID == "" {
		return nil, errors.New("syncer: source and target calendar ids are required")
	}
	if opts.SourceCalendarID == opts.TargetCalendarID {
		return nil, errors.New("syncer: source and target calendars must differ")
	}

	if opts.LockKey == "" {
		opts.LockKey = defaultLockKey
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.WindowMonths <= 0 {
		opts.WindowMonths = defaultWindowMonths
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		gateway:      gw,
		engine:       engine,
		store:        store,
		locker:       locker,
		publisher:    opts.Publisher,
		notifier:     opts.Notifier,
		sourceID:     opts.SourceCalendarID,
		targetID:     opts.TargetCalendarID,
		lockKey:      opts.LockKey,
		lockTTL:      opts.LockTTL,
		windowMonths: opts.WindowMonths,
		now:          opts.Now,
	}, nil
}

// Run performs one pass. A held lock yields ErrSyncInProgress without
// waiting. Any other failure is recorded in the run history before it is
// returned. The lock is always released.
func (s *Service) Run(ctx context.Context, trigger synclog.Trigger) (*Result, error) {
	lease, err := s.locker.Acquire(ctx, s.lockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("syncer: %w", err)
	}
	if lease == nil {
		return nil, ErrSyncInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lease); err != nil {
			log.Printf("sync: release lock %s: %v", s.lockKey, err)
		}
	}()

	log.Printf("sync: run started trigger=%s", trigger)
	result, err := s.run(ctx, trigger)
	if err != nil {
		log.Printf("sync: run failed trigger=%s: %v", trigger, err)
		entry := synclog.NewHistoryEntry(synclog.StatusError, trigger, err.Error())
		if herr := s.store.AppendHistory(context.WithoutCancel(ctx), entry); herr != nil {
			log.Printf("sync: record failed run: %v", herr)
		}
		return nil, err
	}

	log.Printf("sync: run finished trigger=%s %s", trigger, result.Stats)
	return result, nil
}

func (s *Service) run(ctx context.Context, trigger synclog.Trigger) (*Result, error) {
	startedAt := s.now()
	timeMin := startedAt
	timeMax := startedAt.AddDate(0, s.windowMonths, 0)

	source, err := s.gateway.ListEvents(ctx, s.sourceID, timeMin, timeMax)
	if err != nil {
		return nil, fmt.Errorf("fetch source events: %w", err)
	}
	target, err := s.gateway.ListEvents(ctx, s.targetID, timeMin, timeMax)
	if err != nil {
		return nil, fmt.Errorf("fetch target events: %w", err)
	}

	plan := s.engine.Plan(source, target)
	if len(plan.Preserved) > 0 {
		log.Printf("sync: %d unmarked target events left untouched", len(plan.Preserved))
	}

	stats := Stats{FoundTotal: plan.Found, Eligible: len(plan.Actions)}
	entries := s.apply(ctx, plan, trigger, &stats)

	if err := s.store.AppendLogs(ctx, entries); err != nil {
		return nil, fmt.Errorf("persist log entries: %w", err)
	}
	s.publish(ctx, entries)

	upcoming, err := s.upcomingSurgeries(ctx, timeMin, timeMax)
	if err != nil {
		return nil, fmt.Errorf("list upcoming surgeries: %w", err)
	}

	if err := s.store.AppendHistory(ctx, synclog.NewHistoryEntry(synclog.StatusSuccess, trigger, stats.String())); err != nil {
		return nil, fmt.Errorf("persist run history: %w", err)
	}

	logs, err := s.store.Logs(ctx)
	if err != nil {
		return nil, fmt.Errorf("read log entries: %w", err)
	}
	history, err := s.store.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("read run history: %w", err)
	}

	s.notify(ctx, trigger, stats)

	return &Result{
		Success:           true,
		Timestamp:         startedAt.UTC(),
		Trigger:           trigger,
		Stats:             stats,
		Logs:              logs,
		History:           history,
		UpcomingSurgeries: upcoming,
		SourceCalendar:    s.calendarName(ctx, s.sourceID, sourcePlaceholder),
		TargetCalendar:    s.calendarName(ctx, s.targetID, targetPlaceholder),
	}, nil
}

// apply executes the plan in order. A failed create or update abandons that
// event only; a failed delete is logged and the loop moves on.
func (s *Service) apply(ctx context.Context, plan *reconcile.Plan, trigger synclog.Trigger, stats *Stats) []synclog.LogEntry {
	var entries []synclog.LogEntry

	for _, action := range plan.Actions {
		title := action.Title()
		switch action.Kind {
		case reconcile.ActionSkip:
			stats.Skipped++

		case reconcile.ActionCreate:
			if _, err := s.gateway.InsertEvent(ctx, s.targetID, action.Desired.Event()); err != nil {
				log.Printf("sync: create %q (source %s): %v", title, action.Source.Id, err)
				stats.Failed++
				entries = append(entries, synclog.NewLogEntry(synclog.EntryInfo, trigger, fmt.Sprintf("Failed to create %s", title), err.Error()))
				continue
			}
			stats.Created++
			entries = append(entries, synclog.NewLogEntry(synclog.EntryCreate, trigger,
				fmt.Sprintf("Created %s", title),
				reconcile.FormatSpan(action.Desired.Start, action.Desired.End)))

		case reconcile.ActionUpdate:
			if _, err := s.gateway.PatchEvent(ctx, s.targetID, action.Target.Id, action.Desired.Patch(action.Target)); err != nil {
				log.Printf("sync: update %q (%s): %v", title, action.Target.Id, err)
				stats.Failed++
				entries = append(entries, synclog.NewLogEntry(synclog.EntryInfo, trigger, fmt.Sprintf("Failed to update %s", title), err.Error()))
				continue
			}
			stats.Updated++
			entries = append(entries, synclog.NewLogEntry(synclog.EntryUpdate, trigger,
				fmt.Sprintf("Updated %s", title),
				reconcile.SummarizeChanges(action.Changes)))
		}
	}

	for _, action := range plan.Deletions {
		title := action.Title()
		if err := s.gateway.DeleteEvent(ctx, s.targetID, action.Target.Id); err != nil {
			log.Printf("sync: delete %q (%s): %v", title, action.Target.Id, err)
			stats.Failed++
			entries = append(entries, synclog.NewLogEntry(synclog.EntryInfo, trigger, fmt.Sprintf("Failed to delete %s", title), err.Error()))
			continue
		}
		stats.Deleted++
		entries = append(entries, synclog.NewLogEntry(synclog.EntryDelete, trigger,
			fmt.Sprintf("Deleted %s", title), action.Reason))
	}

	return entries
}

func (s *Service) publish(ctx context.Context, entries []synclog.LogEntry) {
	if s.publisher == nil || len(entries) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, entries); err != nil {
		log.Printf("sync: publish live feed: %v", err)
	}
}

func (s *Service) notify(ctx context.Context, trigger synclog.Trigger, stats Stats) {
	if s.notifier == nil || !stats.Changed() {
		return
	}
	msg := fmt.Sprintf("Calendar sync (%s): %d created, %d updated, %d deleted", trigger, stats.Created, stats.Updated, stats.Deleted)
	if err := s.notifier.Notify(ctx, msg); err != nil {
		log.Printf("sync: notify: %v", err)
	}
}

// calendarName never fails the run; lookups degrade to a placeholder.
func (s *Service) calendarName(ctx context.Context, calendarID, placeholder string) string {
	name, err := s.gateway.CalendarName(ctx, calendarID)
	if err != nil {
		log.Printf("sync: calendar name for %s: %v", calendarID, err)
		return placeholder
	}
	if name == "" {
		return placeholder
	}
	return name
}
