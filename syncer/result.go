package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"calsync/reconcile"
	"calsync/synclog"
	"google.golang.org/api/calendar/v3"
)

// Stats counts what a run did.
type Stats struct {
	FoundTotal int `json:"foundTotal"`
	Eligible   int `json:"eligible"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Deleted    int `json:"deleted"`
	Failed     int `json:"failed"`
}

// Changed reports whether the target calendar was modified.
func (s Stats) Changed() bool {
	return s.Created+s.Updated+s.Deleted > 0
}

func (s Stats) String() string {
	msg := fmt.Sprintf("%d found, %d created, %d updated, %d skipped, %d deleted",
		s.FoundTotal, s.Created, s.Updated, s.Skipped, s.Deleted)
	if s.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", s.Failed)
	}
	return msg
}

// UpcomingSurgery is a dashboard row for a masked surgery in the target calendar.
type UpcomingSurgery struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Result is returned to callers of Run and serialized by the HTTP surface.
type Result struct {
	Success           bool                   `json:"success"`
	Timestamp         time.Time              `json:"timestamp"`
	Trigger           synclog.Trigger        `json:"trigger"`
	Stats             Stats                  `json:"stats"`
	Logs              []synclog.LogEntry     `json:"logs"`
	History           []synclog.HistoryEntry `json:"history"`
	UpcomingSurgeries []UpcomingSurgery      `json:"upcomingSurgeries"`
	SourceCalendar    string                 `json:"sourceCalendar"`
	TargetCalendar    string                 `json:"targetCalendar"`
}

// upcomingSurgeries re-reads the target window so the list reflects the
// writes this run just made.
func (s *Service) upcomingSurgeries(ctx context.Context, timeMin, timeMax time.Time) ([]UpcomingSurgery, error) {
	events, err := s.gateway.ListEvents(ctx, s.targetID, timeMin, timeMax)
	if err != nil {
		return nil, err
	}

	type row struct {
		item  UpcomingSurgery
		start time.Time
	}
	rows := make([]row, 0)
	for _, ev := range events {
		if ev == nil {
			continue
		}
		name, ok := reconcile.SurgeryName(ev.Summary)
		if !ok {
			continue
		}
		start, _ := reconcile.Instant(ev.Start)
		rows = append(rows, row{
			item: UpcomingSurgery{
				ID:    ev.Id,
				Name:  name,
				Start: dateTimeString(ev.Start),
				End:   dateTimeString(ev.End),
			},
			start: start,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].start.Before(rows[j].start) })

	out := make([]UpcomingSurgery, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.item)
	}
	return out, nil
}

func dateTimeString(dt *calendar.EventDateTime) string {
	if dt == nil {
		return ""
	}
	if dt.DateTime != "" {
		return dt.DateTime
	}
	return dt.Date
}
