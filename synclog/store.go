// Package synclog keeps the operational log and run history a dashboard reads.
// Both lists are newest first and capped at MaxEntries.
package synclog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxEntries caps each list.
const MaxEntries = 100

type EntryType string

const (
	EntryCreate EntryType = "create"
	EntryUpdate EntryType = "update"
	EntryDelete EntryType = "delete"
	EntryInfo   EntryType = "info"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// ParseTrigger maps anything but "auto" to manual.
func ParseTrigger(raw string) Trigger {
	if strings.EqualFold(strings.TrimSpace(raw), string(TriggerAuto)) {
		return TriggerAuto
	}
	return TriggerManual
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// LogEntry describes one change applied to the target calendar.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EntryType `json:"type"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Trigger   Trigger   `json:"trigger"`
}

// HistoryEntry summarizes one run.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Trigger   Trigger   `json:"trigger"`
	Message   string    `json:"message"`
}

// Now is swapped in tests.
var Now = func() time.Time { return time.Now().UTC() }

func NewLogEntry(kind EntryType, trigger Trigger, message, details string) LogEntry {
	return LogEntry{
		ID:        uuid.NewString(),
		Timestamp: Now(),
		Type:      kind,
		Message:   message,
		Details:   details,
		Trigger:   trigger,
	}
}

func NewHistoryEntry(status Status, trigger Trigger, message string) HistoryEntry {
	return HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: Now(),
		Status:    status,
		Trigger:   trigger,
		Message:   message,
	}
}

// Store persists both lists. AppendLogs keeps the batch order at the head
// of the list; older entries beyond MaxEntries are dropped.
type Store interface {
	AppendLogs(ctx context.Context, entries []LogEntry) error
	Logs(ctx context.Context) ([]LogEntry, error)
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	History(ctx context.Context) ([]HistoryEntry, error)
}

// prepend puts fresh ahead of existing and applies the cap.
func prepend[T any](fresh, existing []T) []T {
	out := make([]T, 0, len(fresh)+len(existing))
	out = append(out, fresh...)
	out = append(out, existing...)
	if len(out) > MaxEntries {
		out = out[:MaxEntries]
	}
	return out
}
