package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"calsync/feed"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type feedHandler struct {
	bus *feed.Bus
}

func registerFeedRoutes(r *mux.Router, bus *feed.Bus) {
	h := &feedHandler{bus: bus}
	r.HandleFunc("/sync/stream", h.handleSSE).Methods("GET")
	r.HandleFunc("/sync/ws", h.handleWebSocket).Methods("GET")
}

func (h *feedHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "live feed unavailable without Redis", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID := strings.TrimSpace(r.URL.Query().Get("after"))
	typeFilter := strings.TrimSpace(r.URL.Query().Get("type"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
			continue
		default:
		}

		events, nextID, err := h.bus.Tail(ctx, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("feed: tail error: %v", err)
			time.Sleep(300 * time.Millisecond)
			continue
		}
		lastID = nextID
		for _, evt := range events {
			if typeFilter != "" && string(evt.Entry.Type) != typeFilter {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				log.Printf("feed: encode error: %v", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\n", evt.ID)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Output-only surface.
		return true
	},
}

func (h *feedHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "live feed unavailable without Redis", http.StatusServiceUnavailable)
		return
	}

	lastID := strings.TrimSpace(r.URL.Query().Get("after"))
	typeFilter := strings.TrimSpace(r.URL.Query().Get("type"))

	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The reader only notices the close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		events, nextID, err := h.bus.Tail(ctx, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			time.Sleep(300 * time.Millisecond)
			continue
		}
		lastID = nextID
		for _, evt := range events {
			if typeFilter != "" && string(evt.Entry.Type) != typeFilter {
				continue
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
