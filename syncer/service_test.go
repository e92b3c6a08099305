package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"calsync/classifier"
	"calsync/lock"
	"calsync/reconcile"
	"calsync/synclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
)

const (
	sourceCal = "source@example.com"
	targetCal = "target@example.com"
)

var testNow = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

// fakeGateway is an in-memory pair of calendars.
type fakeGateway struct {
	mu        sync.Mutex
	events    map[string][]*calendar.Event
	names     map[string]string
	listErr   map[string]error
	insertErr error
	patchErr  map[string]error
	deleteErr map[string]error
	nextID    int
	inserts   int
	patches   int
	deletes   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		events:  map[string][]*calendar.Event{},
		names:   map[string]string{sourceCal: "Ameliyat Takvimi", targetCal: "Muayenehane"},
		listErr:   map[string]error{},
		patchErr:  map[string]error{},
		deleteErr: map[string]error{},
	}
}

func (g *fakeGateway) add(calendarID string, ev *calendar.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[calendarID] = append(g.events[calendarID], ev)
}

func (g *fakeGateway) ListEvents(_ context.Context, calendarID string, _, _ time.Time) ([]*calendar.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.listErr[calendarID]; err != nil {
		return nil, err
	}
	out := make([]*calendar.Event, len(g.events[calendarID]))
	copy(out, g.events[calendarID])
	return out, nil
}

func (g *fakeGateway) InsertEvent(_ context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.insertErr != nil {
		return nil, g.insertErr
	}
	g.nextID++
	g.inserts++
	ev.Id = fmt.Sprintf("gen-%d", g.nextID)
	g.events[calendarID] = append(g.events[calendarID], ev)
	return ev, nil
}

func (g *fakeGateway) PatchEvent(_ context.Context, calendarID, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.patchErr[eventID]; err != nil {
		return nil, err
	}
	for i, ev := range g.events[calendarID] {
		if ev.Id != eventID {
			continue
		}
		merged := *ev
		merged.Summary = patch.Summary
		merged.Description = patch.Description
		merged.ColorId = patch.ColorId
		merged.Location = patch.Location
		merged.Start = patch.Start
		merged.End = patch.End
		merged.ExtendedProperties = patch.ExtendedProperties
		g.events[calendarID][i] = &merged
		g.patches++
		return &merged, nil
	}
	return nil, errors.New("not found")
}

func (g *fakeGateway) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.deleteErr[eventID]; err != nil {
		return err
	}
	list := g.events[calendarID]
	for i, ev := range list {
		if ev.Id == eventID {
			g.events[calendarID] = append(list[:i:i], list[i+1:]...)
			g.deletes++
			return nil
		}
	}
	return errors.New("not found")
}

func (g *fakeGateway) CalendarName(_ context.Context, calendarID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.names[calendarID]
	if !ok {
		return "", errors.New("forbidden")
	}
	return name, nil
}

type memoryStore struct {
	mu      sync.Mutex
	logs    []synclog.LogEntry
	history []synclog.HistoryEntry
	failLog error
}

func (m *memoryStore) AppendLogs(_ context.Context, entries []synclog.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLog != nil {
		return m.failLog
	}
	m.logs = append(append([]synclog.LogEntry{}, entries...), m.logs...)
	return nil
}

func (m *memoryStore) Logs(context.Context) ([]synclog.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]synclog.LogEntry{}, m.logs...), nil
}

func (m *memoryStore) AppendHistory(_ context.Context, entry synclog.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]synclog.HistoryEntry{entry}, m.history...)
	return nil
}

func (m *memoryStore) History(context.Context) ([]synclog.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]synclog.HistoryEntry{}, m.history...), nil
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

type recordingPublisher struct {
	batches [][]synclog.LogEntry
}

func (p *recordingPublisher) Publish(_ context.Context, entries []synclog.LogEntry) error {
	p.batches = append(p.batches, entries)
	return errors.New("feed offline")
}

type fixture struct {
	gw        *fakeGateway
	store     *memoryStore
	locker    *lock.LocalLocker
	notifier  *recordingNotifier
	publisher *recordingPublisher
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		gw:        newFakeGateway(),
		store:     &memoryStore{},
		locker:    lock.NewLocalLocker(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	engine := reconcile.NewEngine(classifier.New(classifier.DefaultRules()))
	svc, err := NewService(f.gw, engine, f.store, f.locker, Options{
		SourceCalendarID: sourceCal,
		TargetCalendarID: targetCal,
		Notifier:         f.notifier,
		Publisher:        f.publisher,
		Now:              func() time.Time { return testNow },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func timedEvent(id, title, start, end string) *calendar.Event {
	return &calendar.Event{
		Id:      id,
		Summary: title,
		Start:   &calendar.EventDateTime{DateTime: start},
		End:     &calendar.EventDateTime{DateTime: end},
	}
}

func TestRunCreatesSurgeryCopy(t *testing.T) {
	f := newFixture(t)
	f.gw.add(sourceCal, timedEvent("s1", "Ameliyat - Ahmet Yılmaz", "2026-03-05T08:00:00+03:00", "2026-03-05T10:00:00+03:00"))
	f.gw.add(sourceCal, timedEvent("s2", "Kontrol randevusu", "2026-03-05T11:00:00+03:00", "2026-03-05T11:30:00+03:00"))

	res, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, Stats{FoundTotal: 2, Eligible: 1, Created: 1}, res.Stats)
	require.Len(t, f.gw.events[targetCal], 1)

	created := f.gw.events[targetCal][0]
	assert.Equal(t, "Surgery Ahmet Yılmaz", created.Summary)
	assert.Equal(t, reconcile.HighlightColorID, created.ColorId)
	assert.Equal(t, "s1", reconcile.SourceID(created))

	require.Len(t, res.Logs, 1)
	assert.Equal(t, synclog.EntryCreate, res.Logs[0].Type)
	assert.Equal(t, "Created Surgery Ahmet Yılmaz", res.Logs[0].Message)
	assert.Equal(t, synclog.TriggerManual, res.Logs[0].Trigger)

	require.Len(t, res.History, 1)
	assert.Equal(t, synclog.StatusSuccess, res.History[0].Status)

	require.Len(t, res.UpcomingSurgeries, 1)
	assert.Equal(t, "Ahmet Yılmaz", res.UpcomingSurgeries[0].Name)

	assert.Equal(t, "Ameliyat Takvimi", res.SourceCalendar)
	assert.Equal(t, "Muayenehane", res.TargetCalendar)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "1 created")
	require.Len(t, f.publisher.batches, 1)
}

func TestRunSecondPassIsNoop(t *testing.T) {
	f := newFixture(t)
	f.gw.add(sourceCal, timedEvent("s1", "Ameliyat - Ahmet Yılmaz", "2026-03-05T08:00:00+03:00", "2026-03-05T10:00:00+03:00"))
	f.gw.add(sourceCal, timedEvent("s2", "Yıllık izin", "2026-03-09T08:00:00+03:00", "2026-03-09T17:00:00+03:00"))

	_, err := f.svc.Run(context.Background(), synclog.TriggerAuto)
	require.NoError(t, err)

	res, err := f.svc.Run(context.Background(), synclog.TriggerAuto)
	require.NoError(t, err)

	assert.Equal(t, Stats{FoundTotal: 2, Eligible: 2, Skipped: 2}, res.Stats)
	assert.Equal(t, 2, f.gw.inserts)
	assert.Zero(t, f.gw.patches)
	assert.Zero(t, f.gw.deletes)
	assert.Len(t, res.History, 2)
	// no changes, no second notification
	assert.Len(t, f.notifier.messages, 1)
}

func TestRunTimeMovedUpdatesExistingCopy(t *testing.T) {
	f := newFixture(t)
	src := timedEvent("s1", "Ameliyat - Ahmet Yılmaz", "2026-03-05T08:00:00+03:00", "2026-03-05T10:00:00+03:00")
	f.gw.add(sourceCal, src)

	_, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)

	src.Start.DateTime = "2026-03-05T10:00:00+03:00"
	src.End.DateTime = "2026-03-05T12:00:00+03:00"

	res, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Updated)
	require.Len(t, f.gw.events[targetCal], 1)
	assert.Equal(t, "2026-03-05T10:00:00+03:00", f.gw.events[targetCal][0].Start.DateTime)

	assert.Equal(t, synclog.EntryUpdate, res.Logs[0].Type)
	assert.Contains(t, res.Logs[0].Details, "time: 05.03.2026 08:00-10:00 → 05.03.2026 10:00-12:00")
}

func TestRunDeletesCopyRemovedFromSource(t *testing.T) {
	f := newFixture(t)
	f.gw.add(sourceCal, timedEvent("s1", "Ameliyat - Ahmet Yılmaz", "2026-03-05T08:00:00+03:00", "2026-03-05T10:00:00+03:00"))
	handwritten := timedEvent("h1", "Dentist", "2026-03-06T08:00:00+03:00", "2026-03-06T09:00:00+03:00")
	f.gw.add(targetCal, handwritten)

	_, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)

	f.gw.events[sourceCal] = nil

	res, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Deleted)
	require.Len(t, f.gw.events[targetCal], 1)
	assert.Equal(t, "h1", f.gw.events[targetCal][0].Id)

	assert.Equal(t, synclog.EntryDelete, res.Logs[0].Type)
	assert.Equal(t, reconcile.DeleteReasonRemoved, res.Logs[0].Details)
	assert.Empty(t, res.UpcomingSurgeries)
}

func TestRunRejectsConcurrentTrigger(t *testing.T) {
	f := newFixture(t)
	f.gw.add(sourceCal, timedEvent("s1", "Ameliyat - Ahmet Yılmaz", "2026-03-05T08:00:00+03:00", "2026-03-05T10:00:00+03:00"))

	lease, err := f.locker.Acquire(context.Background(), defaultLockKey, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	res, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.ErrorIs(t, err, ErrSyncInProgress)
	assert.Nil(t, res)
	assert.Zero(t, f.gw.inserts)
	assert.Empty(t, f.store.history)
}

func TestRunFailureIsRecordedAndLockReleased(t *testing.T) {
	f := newFixture(t)
	f.gw.listErr[targetCal] = errors.New("quota exceeded")

	_, err := f.svc.Run(context.Background(), synclog.TriggerAuto)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch target events")

	require.Len(t, f.store.history, 1)
	assert.Equal(t, synclog.StatusError, f.store.history[0].Status)
	assert.Equal(t, synclog.TriggerAuto, f.store.history[0].Trigger)
	assert.Contains(t, f.store.history[0].Message, "quota exceeded")

	lease, err := f.locker.Acquire(context.Background(), defaultLockKey, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, lease, "lock must be released after a failed run")
}

func TestRunPersistFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.gw.add(sourceCal, timedEvent("s1", "Kongre", "2026-03-05T08:00:00+03:00", "2026-03-05T18:00:00+03:00"))
	f.store.failLog = errors.New("disk full")

	_, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.Error(t, err)
	require.Len(t, f.store.history, 1)
	assert.Equal(t, synclog.StatusError, f.store.history[0].Status)
}

func TestRunInsertFailureDoesNotAbortRun(t *testing.T) {
	f := newFixture(t)
	f.gw.add(sourceCal, timedEvent("s1", "Ameliyat - Ahmet Yılmaz", "2026-03-05T08:00:00+03:00", "2026-03-05T10:00:00+03:00"))
	orphan := timedEvent("t1", "Surgery Ayşe Demir", "2026-03-07T08:00:00+03:00", "2026-03-07T10:00:00+03:00")
	orphan.Description = reconcile.LegacyDisclosure
	f.gw.add(targetCal, orphan)
	f.gw.insertErr = errors.New("backend error")

	res, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Failed)
	assert.Equal(t, 1, res.Stats.Deleted)
	require.Len(t, res.Logs, 2)
	assert.Equal(t, synclog.EntryInfo, res.Logs[0].Type)
	assert.Equal(t, "Failed to create Surgery Ahmet Yılmaz", res.Logs[0].Message)
	assert.Equal(t, synclog.EntryDelete, res.Logs[1].Type)
}

func TestRunDeleteFailureMovesToNextOrphan(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"t1", "t2"} {
		orphan := timedEvent(id, "Surgery Ayşe Demir", "2026-03-07T08:00:00+03:00", "2026-03-07T10:00:00+03:00")
		orphan.Description = reconcile.LegacyDisclosure
		f.gw.add(targetCal, orphan)
	}
	f.gw.deleteErr["t1"] = errors.New("rate limited")

	res, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Deleted)
	assert.Equal(t, 1, res.Stats.Failed)
	require.Len(t, f.gw.events[targetCal], 1)
	assert.Equal(t, "t1", f.gw.events[targetCal][0].Id)

	var info []synclog.LogEntry
	for _, entry := range res.Logs {
		if entry.Type == synclog.EntryInfo {
			info = append(info, entry)
		}
	}
	require.Len(t, info, 1)
	assert.Equal(t, "Failed to delete Surgery Ayşe Demir", info[0].Message)
	assert.Equal(t, "rate limited", info[0].Details)
	assert.Equal(t, synclog.StatusSuccess, f.store.history[0].Status)
}

func TestRunPatchFailureAbandonsOnlyThatEvent(t *testing.T) {
	f := newFixture(t)
	first := timedEvent("s1", "Ameliyat - Ahmet Yılmaz", "2026-03-05T08:00:00+03:00", "2026-03-05T10:00:00+03:00")
	second := timedEvent("s2", "Ameliyat - Zeynep Kaya", "2026-03-06T08:00:00+03:00", "2026-03-06T10:00:00+03:00")
	f.gw.add(sourceCal, first)
	f.gw.add(sourceCal, second)

	_, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)

	copies := map[string]string{}
	for _, ev := range f.gw.events[targetCal] {
		copies[reconcile.SourceID(ev)] = ev.Id
	}
	require.Len(t, copies, 2)
	f.gw.patchErr[copies["s1"]] = errors.New("backend error")

	first.Start.DateTime = "2026-03-05T12:00:00+03:00"
	first.End.DateTime = "2026-03-05T14:00:00+03:00"
	second.Start.DateTime = "2026-03-06T12:00:00+03:00"
	second.End.DateTime = "2026-03-06T14:00:00+03:00"

	res, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Updated)
	assert.Equal(t, 1, res.Stats.Failed)
	assert.Zero(t, res.Stats.Created)
	assert.Zero(t, res.Stats.Deleted)

	for _, ev := range f.gw.events[targetCal] {
		switch reconcile.SourceID(ev) {
		case "s1":
			assert.Equal(t, "2026-03-05T08:00:00+03:00", ev.Start.DateTime)
		case "s2":
			assert.Equal(t, "2026-03-06T12:00:00+03:00", ev.Start.DateTime)
		}
	}

	require.Len(t, res.Logs, 4)
	assert.Equal(t, synclog.EntryInfo, res.Logs[0].Type)
	assert.Equal(t, "Failed to update Surgery Ahmet Yılmaz", res.Logs[0].Message)
	assert.Equal(t, synclog.EntryUpdate, res.Logs[1].Type)
	assert.Equal(t, "Updated Surgery Zeynep Kaya", res.Logs[1].Message)
}

func TestRunCalendarNamesFallBackToPlaceholders(t *testing.T) {
	f := newFixture(t)
	f.gw.names = map[string]string{}

	res, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, sourcePlaceholder, res.SourceCalendar)
	assert.Equal(t, targetPlaceholder, res.TargetCalendar)
	assert.Empty(t, f.notifier.messages)
	assert.Empty(t, f.publisher.batches)
}

func TestUpcomingSurgeriesSortedByStart(t *testing.T) {
	f := newFixture(t)
	f.gw.add(targetCal, timedEvent("b", "Surgery Zeynep Kaya", "2026-03-10T08:00:00+03:00", "2026-03-10T10:00:00+03:00"))
	f.gw.add(targetCal, timedEvent("x", "Kongre", "2026-03-02T08:00:00+03:00", "2026-03-02T18:00:00+03:00"))
	f.gw.add(targetCal, timedEvent("a", "Surgery Ali Veli", "2026-03-03T05:00:00Z", "2026-03-03T07:00:00Z"))

	got, err := f.svc.upcomingSurgeries(context.Background(), testNow, testNow.AddDate(0, 6, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ali Veli", got[0].Name)
	assert.Equal(t, "Zeynep Kaya", got[1].Name)
}

func TestUpcomingSurgeriesIncludesBareTitle(t *testing.T) {
	f := newFixture(t)
	f.gw.add(sourceCal, timedEvent("s1", "Ameliyat", "2026-03-05T08:00:00+03:00", "2026-03-05T10:00:00+03:00"))

	res, err := f.svc.Run(context.Background(), synclog.TriggerManual)
	require.NoError(t, err)

	require.Len(t, res.UpcomingSurgeries, 1)
	assert.Equal(t, "", res.UpcomingSurgeries[0].Name)
	assert.Equal(t, "2026-03-05T08:00:00+03:00", res.UpcomingSurgeries[0].Start)
}

func TestNewServiceValidates(t *testing.T) {
	engine := reconcile.NewEngine(classifier.New(classifier.DefaultRules()))
	_, err := NewService(newFakeGateway(), engine, &memoryStore{}, lock.NewLocalLocker(), Options{SourceCalendarID: "a"})
	require.Error(t, err)
	_, err = NewService(newFakeGateway(), engine, &memoryStore{}, lock.NewLocalLocker(), Options{SourceCalendarID: "a", TargetCalendarID: "a"})
	require.Error(t, err)
	_, err = NewService(nil, engine, &memoryStore{}, lock.NewLocalLocker(), Options{SourceCalendarID: "a", TargetCalendarID: "b"})
	require.Error(t, err)
}
