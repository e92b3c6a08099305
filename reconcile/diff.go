package reconcile

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
)

// Change is one field that differs between a target event and its desired state.
type Change struct {
	Field string
	From  string
	To    string
}

func (c Change) String() string {
	switch c.Field {
	case "time":
		return fmt.Sprintf("time: %s → %s", c.From, c.To)
	case "description":
		return "description changed"
	case "link":
		return "linked to source event"
	default:
		return fmt.Sprintf("%s: %q → %q", c.Field, c.From, c.To)
	}
}

// SummarizeChanges joins changes for a log entry.
func SummarizeChanges(changes []Change) string {
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "; ")
}

func diff(current *calendar.Event, desired *DesiredState) []Change {
	var changes []Change

	if strings.TrimSpace(current.Summary) != desired.Title {
		changes = append(changes, Change{Field: "title", From: current.Summary, To: desired.Title})
	}
	if !sameInstant(current.Start, desired.Start) || !sameInstant(current.End, desired.End) {
		changes = append(changes, Change{
			Field: "time",
			From:  FormatSpan(current.Start, current.End),
			To:    FormatSpan(desired.Start, desired.End),
		})
	}
	if current.ColorId != desired.ColorID {
		changes = append(changes, Change{Field: "color", From: current.ColorId, To: desired.ColorID})
	}
	if normalizeText(current.Description) != normalizeText(desired.Description) {
		changes = append(changes, Change{Field: "description"})
	}
	if strings.TrimSpace(current.Location) != desired.Location {
		changes = append(changes, Change{Field: "location", From: current.Location, To: desired.Location})
	}
	if SourceID(current) != desired.SourceID {
		changes = append(changes, Change{Field: "link", From: SourceID(current), To: desired.SourceID})
	}
	return changes
}

// Instant parses an event boundary. Timed values use RFC 3339, all-day
// values the date in UTC.
func Instant(dt *calendar.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, err == nil
	}
	if dt.Date != "" {
		t, err := time.Parse("2006-01-02", dt.Date)
		return t, err == nil
	}
	return time.Time{}, false
}

func sameInstant(a, b *calendar.EventDateTime) bool {
	ta, okA := Instant(a)
	tb, okB := Instant(b)
	if okA && okB {
		return ta.Equal(tb)
	}
	return rawDateTime(a) == rawDateTime(b)
}

func rawDateTime(dt *calendar.EventDateTime) string {
	if dt == nil {
		return ""
	}
	if dt.DateTime != "" {
		return dt.DateTime
	}
	return dt.Date
}

// FormatTime renders a boundary in its own offset for log entries.
func FormatTime(dt *calendar.EventDateTime) string {
	t, ok := Instant(dt)
	if !ok {
		return rawDateTime(dt)
	}
	if dt.DateTime == "" {
		return t.Format("02.01.2006")
	}
	return t.Format("02.01.2006 15:04")
}

// FormatSpan renders start and end, dropping the repeated date.
func FormatSpan(start, end *calendar.EventDateTime) string {
	s, e := FormatTime(start), FormatTime(end)
	ts, okS := Instant(start)
	te, okE := Instant(end)
	if okS && okE && start.DateTime != "" && end.DateTime != "" && ts.Format("2006-01-02") == te.Format("2006-01-02") {
		return s + "-" + te.Format("15:04")
	}
	return s + " - " + e
}
