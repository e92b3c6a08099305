package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, r *mux.Router, opts Options) *Client {
	t.Helper()

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return New(svc, opts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListEventsSendsWindowQuery(t *testing.T) {
	var query map[string]string
	r := mux.NewRouter()
	r.HandleFunc("/calendars/{calendarId}/events", func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "source@example.com", mux.Vars(req)["calendarId"])
		q := req.URL.Query()
		query = map[string]string{
			"timeMin":      q.Get("timeMin"),
			"timeMax":      q.Get("timeMax"),
			"singleEvents": q.Get("singleEvents"),
			"orderBy":      q.Get("orderBy"),
			"maxResults":   q.Get("maxResults"),
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{
				{"id": "e1", "summary": "Ameliyat - Ahmet Yılmaz"},
				{"id": "e2", "summary": "Kongre"},
			},
		})
	}).Methods(http.MethodGet)

	client := newTestClient(t, r, Options{})
	windowStart := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	windowEnd := windowStart.AddDate(0, 6, 0)

	events, err := client.ListEvents(context.Background(), "source@example.com", windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].Id)

	assert.Equal(t, "2026-03-01T09:00:00Z", query["timeMin"])
	assert.Equal(t, "2026-09-01T09:00:00Z", query["timeMax"])
	assert.Equal(t, "true", query["singleEvents"])
	assert.Equal(t, "startTime", query["orderBy"])
	assert.Equal(t, "2500", query["maxResults"])
}

func TestInsertAndPatchSuppressInvitations(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/calendars/target/events", func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "none", req.URL.Query().Get("sendUpdates"))
		var ev calendar.Event
		require.NoError(t, json.NewDecoder(req.Body).Decode(&ev))
		ev.Id = "new-1"
		writeJSON(w, http.StatusOK, ev)
	}).Methods(http.MethodPost)
	r.HandleFunc("/calendars/target/events/{eventId}", func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "none", req.URL.Query().Get("sendUpdates"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		// explicit null clears the field on the provider side
		v, present := body["description"]
		require.True(t, present)
		require.Nil(t, v)
		writeJSON(w, http.StatusOK, map[string]any{"id": mux.Vars(req)["eventId"], "summary": body["summary"]})
	}).Methods(http.MethodPatch)

	client := newTestClient(t, r, Options{})
	ctx := context.Background()

	created, err := client.InsertEvent(ctx, "target", &calendar.Event{Summary: "Surgery Ahmet Yılmaz"})
	require.NoError(t, err)
	assert.Equal(t, "new-1", created.Id)
	assert.Equal(t, "Surgery Ahmet Yılmaz", created.Summary)

	patched, err := client.PatchEvent(ctx, "target", "t1", &calendar.Event{Summary: "Kongre", NullFields: []string{"Description"}})
	require.NoError(t, err)
	assert.Equal(t, "t1", patched.Id)
}

func TestDeleteTreatsGoneAsSuccess(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/calendars/target/events/{eventId}", func(w http.ResponseWriter, req *http.Request) {
		switch mux.Vars(req)["eventId"] {
		case "ok":
			w.WriteHeader(http.StatusNoContent)
		case "gone":
			writeJSON(w, http.StatusGone, map[string]any{"error": map[string]any{"code": 410, "message": "Resource has been deleted"}})
		default:
			writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]any{"code": 403, "message": "forbidden"}})
		}
	}).Methods(http.MethodDelete)

	client := newTestClient(t, r, Options{})
	ctx := context.Background()

	require.NoError(t, client.DeleteEvent(ctx, "target", "ok"))
	require.NoError(t, client.DeleteEvent(ctx, "target", "gone"))
	require.Error(t, client.DeleteEvent(ctx, "target", "denied"))
}

func TestCalendarName(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/calendars/{calendarId}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": mux.Vars(req)["calendarId"], "summary": "Ameliyat Takvimi"})
	}).Methods(http.MethodGet)

	client := newTestClient(t, r, Options{})

	name, err := client.CalendarName(context.Background(), "source")
	require.NoError(t, err)
	assert.Equal(t, "Ameliyat Takvimi", name)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	r := mux.NewRouter()
	r.HandleFunc("/calendars/{calendarId}/events", func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"code": 500, "message": "backend"}})
	}).Methods(http.MethodGet)

	client := newTestClient(t, r, Options{FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		_, err := client.ListEvents(ctx, "source", now, now.Add(time.Hour))
		require.Error(t, err)
	}
	seen := hits.Load()

	_, err := client.ListEvents(ctx, "source", now, now.Add(time.Hour))
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, seen, hits.Load())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/calendars/{calendarId}/events", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]any{"code": 403, "message": "forbidden"}})
	}).Methods(http.MethodGet)

	client := newTestClient(t, r, Options{FailureThreshold: 1, OpenTimeout: time.Minute})
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, err := client.ListEvents(ctx, "source", now, now.Add(time.Hour))
		require.Error(t, err)
		require.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
}

func TestWatchAndStopChannel(t *testing.T) {
	var stopped atomic.Int32
	r := mux.NewRouter()
	r.HandleFunc("/calendars/{calendarId}/events/watch", func(w http.ResponseWriter, req *http.Request) {
		var ch calendar.Channel
		require.NoError(t, json.NewDecoder(req.Body).Decode(&ch))
		assert.Equal(t, "web_hook", ch.Type)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         ch.Id,
			"resourceId": "res-" + mux.Vars(req)["calendarId"],
			"expiration": "1790000000000",
		})
	}).Methods(http.MethodPost)
	r.HandleFunc("/channels/stop", func(w http.ResponseWriter, req *http.Request) {
		if stopped.Add(1) > 1 {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": 404, "message": "Channel not found"}})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	client := newTestClient(t, r, Options{})
	ctx := context.Background()

	ch, err := client.WatchEvents(ctx, "source", &calendar.Channel{Id: "chan-1", Type: "web_hook", Address: "https://sync.example.com/calendar/webhook/notification"})
	require.NoError(t, err)
	assert.Equal(t, "chan-1", ch.Id)
	assert.Equal(t, "res-source", ch.ResourceId)
	assert.EqualValues(t, 1790000000000, ch.Expiration)

	require.NoError(t, client.StopChannel(ctx, ch))
	require.NoError(t, client.StopChannel(ctx, ch))
}
