package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"calsync/synclog"
	"calsync/syncer"
	"github.com/robfig/cron/v3"
)

const scheduledRunTimeout = 5 * time.Minute

// Scheduler fires auto-triggered runs on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	runner syncRunner
}

func NewScheduler(runner syncRunner, spec string, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	s := &Scheduler{cron: c, runner: runner}
	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		log.Printf("scheduler: next auto sync at %s", entry.Next.Format(time.RFC3339))
	}
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
	defer cancel()

	result, err := s.runner.Run(ctx, synclog.TriggerAuto)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		log.Printf("scheduler: skipped, another sync is running")
	case err != nil:
		log.Printf("scheduler: auto sync failed: %v", err)
	default:
		log.Printf("scheduler: auto sync done: %s", result.Stats)
	}
}
