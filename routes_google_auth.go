package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"calsync/security"
	"github.com/gorilla/mux"
)

// GoogleAuthHandler runs the OAuth connect flow for the calendar account
// when no service account is configured.
type GoogleAuthHandler struct {
	tokens         *security.TokenStore
	account        string
	serviceAccount bool
}

func NewGoogleAuthHandler(tokens *security.TokenStore, account string, serviceAccount bool) *GoogleAuthHandler {
	return &GoogleAuthHandler{tokens: tokens, account: account, serviceAccount: serviceAccount}
}

// AuthResponse is returned by the login endpoint when JSON is requested.
type AuthResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// CallbackResponse represents OAuth callback response
type CallbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Account string `json:"account,omitempty"`
}

// StatusResponse describes which credential the sync runs with.
type StatusResponse struct {
	Mode      string `json:"mode"`
	Account   string `json:"account,omitempty"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func (h *GoogleAuthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/google/login", h.StartAuth).Methods("GET")
	router.HandleFunc("/auth/google/callback", h.HandleCallback).Methods("GET")
	router.HandleFunc("/auth/status", h.GetStatus).Methods("GET")
	router.HandleFunc("/auth/revoke", h.RevokeAccess).Methods("DELETE")
}

// StartAuth redirects to Google consent, or returns the URL with ?format=json.
func (h *GoogleAuthHandler) StartAuth(w http.ResponseWriter, r *http.Request) {
	if !h.tokens.Configured() {
		http.Error(w, "OAuth not configured", http.StatusServiceUnavailable)
		return
	}

	authURL, state, err := h.tokens.GetAuthURL(r.Context(), h.account)
	if err != nil {
		log.Printf("Failed to generate auth URL: %v", err)
		http.Error(w, "Failed to generate authentication URL", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AuthResponse{AuthURL: authURL, State: state})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback handles OAuth callback from Google
func (h *GoogleAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.tokens.Configured() {
		http.Error(w, "OAuth not configured", http.StatusServiceUnavailable)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	errorParam := r.URL.Query().Get("error")

	if errorParam != "" {
		log.Printf("OAuth error: %s", errorParam)
		http.Error(w, fmt.Sprintf("OAuth failed: %s", errorParam), http.StatusBadRequest)
		return
	}
	if code == "" {
		http.Error(w, "Authorization code is required", http.StatusBadRequest)
		return
	}
	if state == "" {
		http.Error(w, "State parameter is required", http.StatusBadRequest)
		return
	}

	account, _, err := h.tokens.ExchangeCodeForToken(r.Context(), code, state)
	if err != nil {
		log.Printf("Failed to exchange code for token: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("Successfully connected calendar account %s", account)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CallbackResponse{
		Success: true,
		Message: "Calendar access granted",
		Account: account,
	})
}

func (h *GoogleAuthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Mode: "service_account", Connected: true}
	if !h.serviceAccount {
		resp = StatusResponse{Mode: "oauth", Account: h.account}
		if h.tokens.Configured() {
			_, err := h.tokens.GetToken(r.Context(), h.account)
			resp.Connected = err == nil
			if err != nil && !errors.Is(err, security.ErrNotConnected) {
				resp.Error = err.Error()
			}
		} else {
			resp.Error = "OAuth not configured"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *GoogleAuthHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	if !h.tokens.Configured() {
		http.Error(w, "OAuth not configured", http.StatusServiceUnavailable)
		return
	}

	err := h.tokens.DeleteToken(r.Context(), h.account)
	response := map[string]interface{}{
		"success": err == nil,
		"account": h.account,
	}
	if err != nil {
		response["error"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
