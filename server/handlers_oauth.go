package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	dbpkg "github.com/dushky/requesty-pie/backend/db"
	"github.com/dushky/requesty-pie/backend/session"
	"github.com/dushky/requesty-pie/backend/spotify"
)

// HandleSpotifyLogin initiates the owner OAuth flow by redirecting to Spotify.
func (h *Handlers) HandleSpotifyLogin(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil || h.oauth.ClientID == "" || h.oauth.RedirectURL == "" {
		http.Error(w, "oauth not configured (need SPOTIFY_CLIENT_ID + SPOTIFY_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	// generate state
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	http.Redirect(w, r, h.oauth.AuthCodeURL(st), http.StatusFound)
}

// HandleSpotifyCallback completes the owner OAuth flow: it exchanges the code,
// persists the token row for the background refresher, hands the cookie triple
// to the dashboard, and redirects there.
func (h *Handlers) HandleSpotifyCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", 400)
		return
	}
	ctx := r.Context()
	tok, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = spotify.ComputeExpiry(0)
	}
	// persist tokens using dbpkg.UpsertOAuthToken (handles encryption)
	if err := dbpkg.UpsertOAuthToken(ctx, h.db, "spotify", tok.AccessToken, tok.RefreshToken, expiry, spotify.DefaultScopes); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	setOwnerCookies(w, session.OwnerCredential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry,
	})
	http.Redirect(w, r, h.dashboardURL, http.StatusFound)
}
