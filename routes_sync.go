package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"calsync/synclog"
	"calsync/syncer"
	"github.com/gorilla/mux"
)

type syncRunner interface {
	Run(ctx context.Context, trigger synclog.Trigger) (*syncer.Result, error)
}

type syncHandler struct {
	runner syncRunner
	store  synclog.Store
}

type syncErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type syncStatusResponse struct {
	Logs    []synclog.LogEntry     `json:"logs"`
	History []synclog.HistoryEntry `json:"history"`
}

func registerSyncRoutes(r *mux.Router, runner syncRunner, store synclog.Store) {
	h := &syncHandler{runner: runner, store: store}
	for _, path := range []string{"/sync", "/api/calendar/sync"} {
		r.HandleFunc(path, h.handleSync).Methods("GET", "POST")
	}
	r.HandleFunc("/sync/status", h.handleStatus).Methods("GET")
}

func (h *syncHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	trigger := synclog.ParseTrigger(r.URL.Query().Get("trigger"))

	// A dropped client must not abort a run halfway through its writes.
	result, err := h.runner.Run(context.WithoutCancel(r.Context()), trigger)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		writeJSON(w, http.StatusTooManyRequests, syncErrorResponse{Error: "Sync already in progress"})
	case err != nil:
		log.Printf("sync: %s run failed: %v", trigger, err)
		writeJSON(w, http.StatusInternalServerError, syncErrorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (h *syncHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logs, err := h.store.Logs(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, syncErrorResponse{Error: err.Error()})
		return
	}
	history, err := h.store.History(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, syncErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncStatusResponse{Logs: logs, History: history})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}
