// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/dushky/requesty-pie/backend/session"
	"github.com/dushky/requesty-pie/backend/songrequest"
	"github.com/dushky/requesty-pie/backend/telemetry"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000

	// Requester names longer than this are truncated at the HTTP boundary.
	maxRequesterLen = 255
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db           *sql.DB
	svc          *songrequest.Service
	validator    *session.Validator
	issuer       *session.ServiceTokenIssuer
	oauth        *oauth2.Config
	dashboardURL string
	ctx          context.Context
	stateStore   map[string]time.Time
	stateMu      sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, svc *songrequest.Service, validator *session.Validator, issuer *session.ServiceTokenIssuer, oauthCfg *oauth2.Config, dashboardURL string) *Handlers {
	return &Handlers{
		db:           db,
		svc:          svc,
		validator:    validator,
		issuer:       issuer,
		oauth:        oauthCfg,
		dashboardURL: dashboardURL,
		ctx:          ctx,
		stateStore:   make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// If we're still over the limit after cleanup, refuse to add more
	if len(h.stateStore) >= maxOAuthStates {
		// Don't add the state - this will cause the OAuth flow to fail
		// which is better than a memory exhaustion attack
		return
	}

	h.stateStore[state] = expiry
}

// consumeOAuthState validates and removes a state token. Returns false for
// unknown or expired states.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// writeError maps a service error onto its HTTP status and emits a JSON
// error body. Server-side failures are logged with correlation context.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := songrequest.HTTPStatus(err)
	if status >= 500 {
		telemetry.LoggerWithCorr(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path), slog.Any("err", err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ownerCredentials extracts the Spotify cookie triple and the optional
// bearer service token from a request. The expiry cookie holds epoch
// milliseconds; an unparseable value yields a zero expiry.
func ownerCredentials(r *http.Request) session.Credentials {
	creds := session.Credentials{ServiceToken: bearerToken(r)}
	if c, err := r.Cookie("userToken"); err == nil {
		creds.AccessToken = c.Value
	}
	if c, err := r.Cookie("refreshToken"); err == nil {
		creds.RefreshToken = c.Value
	}
	if c, err := r.Cookie("expirationDate"); err == nil {
		if ms, err := strconv.ParseInt(c.Value, 10, 64); err == nil {
			creds.Expiry = time.UnixMilli(ms)
		}
	}
	return creds
}

// bearerToken returns the Authorization bearer token, or empty.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// setOwnerCookies persists a refreshed owner credential back to the client.
func setOwnerCookies(w http.ResponseWriter, cred session.OwnerCredential) {
	expires := time.Now().Add(30 * 24 * time.Hour)
	http.SetCookie(w, &http.Cookie{
		Name: "userToken", Value: cred.AccessToken,
		Path: "/", Expires: expires, SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: "refreshToken", Value: cred.RefreshToken,
		Path: "/", Expires: expires, SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: "expirationDate", Value: strconv.FormatInt(cred.Expiry.UnixMilli(), 10),
		Path: "/", Expires: expires, SameSite: http.SameSiteLaxMode,
	})
}
