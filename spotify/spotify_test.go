package spotify_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dushky/requesty-pie/backend/spotify"
	"github.com/dushky/requesty-pie/backend/testutil"
)

func newClient(m *testutil.MockSpotifyServer) *spotify.Client {
	m.MockAccountsTokenResponse("app-token", 3600)
	return &spotify.Client{
		AppTokenSource: &spotify.TokenSource{
			ClientID:     "cid",
			ClientSecret: "secret",
			TokenURL:     m.URL + "/api/token",
		},
		BaseURL: m.URL,
	}
}

func TestGetTrack(t *testing.T) {
	m := testutil.NewMockSpotifyServer(t)
	m.MockTrackResponse("abc123", "Windowlicker", "Aphex Twin")
	c := newClient(m)

	track, raw, err := c.GetTrack(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetTrack() error = %v", err)
	}
	if track.Name != "Windowlicker" {
		t.Errorf("name = %q, want Windowlicker", track.Name)
	}
	if track.ArtistLine() != "Aphex Twin" {
		t.Errorf("artist line = %q, want Aphex Twin", track.ArtistLine())
	}
	if len(raw) == 0 {
		t.Error("expected raw snapshot body")
	}
}

func TestGetTrackArtistLineJoins(t *testing.T) {
	m := testutil.NewMockSpotifyServer(t)
	m.MockTrackResponse("dup", "Duet", "First", "Second")
	c := newClient(m)

	track, _, err := c.GetTrack(context.Background(), "dup")
	if err != nil {
		t.Fatalf("GetTrack() error = %v", err)
	}
	if got := track.ArtistLine(); got != "First, Second" {
		t.Errorf("artist line = %q, want %q", got, "First, Second")
	}
}

func TestGetTrackNotFound(t *testing.T) {
	m := testutil.NewMockSpotifyServer(t)
	c := newClient(m)

	// Mock returns 404 for unregistered paths.
	_, _, err := c.GetTrack(context.Background(), "missing")
	if !errors.Is(err, spotify.ErrTrackNotFound) {
		t.Fatalf("error = %v, want ErrTrackNotFound", err)
	}
}

func TestGetTrackMalformedID(t *testing.T) {
	m := testutil.NewMockSpotifyServer(t)
	m.Handlers["/tracks/bad"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}
	c := newClient(m)

	_, _, err := c.GetTrack(context.Background(), "bad")
	if !errors.Is(err, spotify.ErrTrackNotFound) {
		t.Fatalf("400 response: error = %v, want ErrTrackNotFound", err)
	}
}

func TestGetTrackEmptyID(t *testing.T) {
	c := &spotify.Client{}
	if _, _, err := c.GetTrack(context.Background(), ""); err == nil {
		t.Error("expected error for empty track id")
	}
}

func TestQueueTrack(t *testing.T) {
	m := testutil.NewMockSpotifyServer(t)
	var gotURI, gotAuth string
	m.Handlers["/me/player/queue"] = func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.Query().Get("uri")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}
	c := newClient(m)

	if err := c.QueueTrack(context.Background(), "abc123", "user-token"); err != nil {
		t.Fatalf("QueueTrack() error = %v", err)
	}
	if gotURI != "spotify:track:abc123" {
		t.Errorf("uri = %q, want spotify:track:abc123", gotURI)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("auth header = %q, want user token bearer", gotAuth)
	}
}

func TestQueueTrackTokenRejected(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		m := testutil.NewMockSpotifyServer(t)
		m.MockQueueResponse(status)
		c := newClient(m)

		err := c.QueueTrack(context.Background(), "abc", "stale-token")
		if !errors.Is(err, spotify.ErrTokenRejected) {
			t.Errorf("status %d: error = %v, want ErrTokenRejected", status, err)
		}
	}
}

func TestQueueTrackMissingArgs(t *testing.T) {
	c := &spotify.Client{}
	if err := c.QueueTrack(context.Background(), "", "tok"); err == nil {
		t.Error("expected error for empty track id")
	}
	if err := c.QueueTrack(context.Background(), "abc", ""); err == nil {
		t.Error("expected error for empty user token")
	}
}

func TestCurrentUser(t *testing.T) {
	m := testutil.NewMockSpotifyServer(t)
	m.MockCurrentUserResponse("owner1", "DJ Owner")
	c := newClient(m)

	u, err := c.CurrentUser(context.Background(), "user-token")
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if u.ID != "owner1" || u.DisplayName != "DJ Owner" {
		t.Errorf("user = %+v", u)
	}
}

func TestCurrentUserRejected(t *testing.T) {
	m := testutil.NewMockSpotifyServer(t)
	m.Handlers["/me"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	c := newClient(m)

	_, err := c.CurrentUser(context.Background(), "bad-token")
	if !errors.Is(err, spotify.ErrTokenRejected) {
		t.Fatalf("error = %v, want ErrTokenRejected", err)
	}

	if _, err := c.CurrentUser(context.Background(), ""); !errors.Is(err, spotify.ErrTokenRejected) {
		t.Errorf("empty token: error = %v, want ErrTokenRejected", err)
	}
}

func TestTokenSourceCachesToken(t *testing.T) {
	m := testutil.NewMockSpotifyServer(t)
	calls := 0
	m.Handlers["/api/token"] = func(w http.ResponseWriter, r *http.Request) {
		calls++
		if u, p, ok := r.BasicAuth(); !ok || u != "cid" || p != "secret" {
			t.Errorf("basic auth = %s:%s, want cid:secret", u, p)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	}
	ts := &spotify.TokenSource{ClientID: "cid", ClientSecret: "secret", TokenURL: m.URL + "/api/token"}

	ctx := context.Background()
	tok1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	tok2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok1 != "tok-1" || tok2 != "tok-1" {
		t.Errorf("tokens = %q, %q, want tok-1", tok1, tok2)
	}
	if calls != 1 {
		t.Errorf("token endpoint called %d times, want 1 (cached)", calls)
	}
}

func TestTokenSourceMissingCredentials(t *testing.T) {
	ts := &spotify.TokenSource{}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("expected error for missing credentials")
	}
}

func TestTokenSourceEmptyToken(t *testing.T) {
	m := testutil.NewMockSpotifyServer(t)
	m.MockAccountsTokenResponse("", 3600)
	ts := &spotify.TokenSource{ClientID: "cid", ClientSecret: "secret", TokenURL: m.URL + "/api/token"}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("expected error for empty access_token")
	}
}
