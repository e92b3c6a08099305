package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"

	"calsync/synclog"
	"calsync/syncer"
	"calsync/watch"
	"github.com/gorilla/mux"
)

// CalendarWebhookHandler receives Google push notifications for the source
// calendar and turns them into auto-triggered runs.
type CalendarWebhookHandler struct {
	registrar  *watch.Registrar
	runner     syncRunner
	calendarID string
	webhookURL string

	running atomic.Bool
	spawn   func(func())
}

func NewCalendarWebhookHandler(registrar *watch.Registrar, runner syncRunner, calendarID, webhookURL string) *CalendarWebhookHandler {
	return &CalendarWebhookHandler{
		registrar:  registrar,
		runner:     runner,
		calendarID: calendarID,
		webhookURL: webhookURL,
		spawn:      func(f func()) { go f() },
	}
}

func (h *CalendarWebhookHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/calendar/webhook/register", h.handleRegisterWebhook).Methods("POST")
	r.HandleFunc("/calendar/webhook/notification", h.handleWebhookNotification).Methods("POST")
	r.HandleFunc("/calendar/webhook/unregister", h.handleUnregisterWebhook).Methods("POST")
	r.HandleFunc("/calendar/webhook/status", h.handleWebhookStatus).Methods("GET")
}

// WebhookRegistrationRequest may override the delivery address.
type WebhookRegistrationRequest struct {
	WebhookURL string `json:"webhook_url,omitempty"`
}

type WebhookRegistrationResponse struct {
	*watch.Channel
	Status string `json:"status"`
}

func (h *CalendarWebhookHandler) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	if h.registrar == nil {
		http.Error(w, "push notifications need Redis", http.StatusServiceUnavailable)
		return
	}

	var req WebhookRegistrationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	webhookURL := strings.TrimSpace(req.WebhookURL)
	if webhookURL == "" {
		webhookURL = h.webhookURL
	}
	if webhookURL == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		webhookURL = fmt.Sprintf("%s://%s/calendar/webhook/notification", scheme, r.Host)
	}

	channel, err := h.registrar.Register(r.Context(), h.calendarID, webhookURL)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to register webhook: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(WebhookRegistrationResponse{Channel: channel, Status: "registered"})
}

func (h *CalendarWebhookHandler) handleWebhookNotification(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-ID")
	resourceState := r.Header.Get("X-Goog-Resource-State")
	token := r.Header.Get("X-Goog-Channel-Token")

	if channelID == "" || resourceState == "" {
		http.Error(w, "Missing required Google headers", http.StatusBadRequest)
		return
	}
	if h.registrar == nil {
		http.Error(w, "push notifications need Redis", http.StatusServiceUnavailable)
		return
	}

	ok, err := h.registrar.Verify(r.Context(), channelID, token)
	if err != nil {
		log.Printf("watch: verify channel %s: %v", channelID, err)
		http.Error(w, "channel lookup failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		log.Printf("watch: ignoring notification for unknown channel %s", channelID)
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	// Google confirms a new channel with a "sync" message.
	if resourceState == "sync" {
		log.Printf("watch: channel %s confirmed", channelID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.running.CompareAndSwap(false, true) {
		h.spawn(func() {
			defer h.running.Store(false)
			h.runAuto(channelID)
		})
	} else {
		log.Printf("watch: change on channel %s while a pushed sync is running", channelID)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *CalendarWebhookHandler) runAuto(channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
	defer cancel()

	result, err := h.runner.Run(ctx, synclog.TriggerAuto)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		log.Printf("watch: push on %s skipped, another sync is running", channelID)
	case err != nil:
		log.Printf("watch: pushed sync failed: %v", err)
	default:
		log.Printf("watch: pushed sync done: %s", result.Stats)
	}
}

func (h *CalendarWebhookHandler) handleUnregisterWebhook(w http.ResponseWriter, r *http.Request) {
	if h.registrar == nil {
		http.Error(w, "push notifications need Redis", http.StatusServiceUnavailable)
		return
	}

	err := h.registrar.Unregister(r.Context())
	if errors.Is(err, watch.ErrNoChannel) {
		http.Error(w, "No webhook registered", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to unregister webhook: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "unregistered"})
}

func (h *CalendarWebhookHandler) handleWebhookStatus(w http.ResponseWriter, r *http.Request) {
	if h.registrar == nil {
		http.Error(w, "push notifications need Redis", http.StatusServiceUnavailable)
		return
	}

	channel, err := h.registrar.Current(r.Context())
	if errors.Is(err, watch.ErrNoChannel) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "not_registered"})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(WebhookRegistrationResponse{Channel: channel, Status: "registered"})
}
