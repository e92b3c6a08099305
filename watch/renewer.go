package watch

import (
	"context"
	"log"
	"time"
)

// Renewer keeps the channel registered and fresh.
type Renewer struct {
	registrar  *Registrar
	calendarID string
	address    string
	interval   time.Duration
	threshold  time.Duration
}

func NewRenewer(registrar *Registrar, calendarID, address string, interval, threshold time.Duration) *Renewer {
	if interval <= 0 {
		interval = time.Hour
	}
	if threshold <= 0 {
		threshold = 12 * time.Hour
	}
	return &Renewer{
		registrar:  registrar,
		calendarID: calendarID,
		address:    address,
		interval:   interval,
		threshold:  threshold,
	}
}

// Start checks once immediately and then every interval until ctx ends.
func (r *Renewer) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Renewer) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Renewer) check(ctx context.Context) {
	renewed, err := r.registrar.Ensure(ctx, r.calendarID, r.address, r.threshold)
	if err != nil {
		log.Printf("watch: renewal failed: %v", err)
		return
	}
	if renewed {
		log.Printf("watch: channel renewed for %s", r.calendarID)
	}
}
