// Package spotify contains minimal clients for the Spotify Web API: track
// lookup with an app access token, player queueing and identity lookup with
// the broadcaster's user token, and the OAuth flows that obtain both.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	// DefaultAPIBaseURL is the Spotify Web API root.
	DefaultAPIBaseURL = "https://api.spotify.com/v1"
	// DefaultTokenURL is the accounts token endpoint (all grant types).
	DefaultTokenURL = "https://accounts.spotify.com/api/token"
	// DefaultAuthURL is the user authorization endpoint.
	DefaultAuthURL = "https://accounts.spotify.com/authorize"
)

var (
	// ErrTrackNotFound is returned when a track id does not resolve.
	ErrTrackNotFound = errors.New("spotify: track not found")
	// ErrTokenRejected is returned when Spotify rejects the bearer token.
	ErrTokenRejected = errors.New("spotify: token rejected")
)

// Client provides the Web API methods the service needs. The zero value uses
// production endpoints and http.DefaultClient; tests point BaseURL at an
// httptest server.
type Client struct {
	AppTokenSource *TokenSource
	BaseURL        string
	HTTPClient     *http.Client
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultAPIBaseURL
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Track is the subset of the catalog track object we read directly. The full
// response body is kept separately as the stored snapshot.
type Track struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Artists []Artist `json:"artists"`
	Album   Album    `json:"album"`
	URI     string   `json:"uri"`
}

// ArtistLine joins artist names for chat and API feedback.
func (t Track) ArtistLine() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// Artist is a catalog artist reference.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Album is a catalog album reference.
type Album struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is the owner profile from /me.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// GetTrack resolves a track id against the catalog using the app token.
// The raw response body is returned alongside the decoded track so callers
// can persist the catalog snapshot verbatim.
func (c *Client) GetTrack(ctx context.Context, trackID string) (Track, json.RawMessage, error) {
	if trackID == "" {
		return Track{}, nil, fmt.Errorf("track id empty")
	}
	tok, err := c.AppTokenSource.Get(ctx)
	if err != nil {
		return Track{}, nil, fmt.Errorf("app token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/tracks/"+url.PathEscape(trackID), nil)
	if err != nil {
		return Track{}, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := c.http().Do(req)
	if err != nil {
		return Track{}, nil, err
	}
	defer closeBody(resp)
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		// Spotify answers 400 for malformed ids and 404 for unknown ones;
		// both mean the id does not resolve.
		return Track{}, nil, ErrTrackNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return Track{}, nil, ErrTokenRejected
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(resp.Body)
		return Track{}, nil, fmt.Errorf("spotify track lookup failed: %s: %s", resp.Status, string(b))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Track{}, nil, err
	}
	var t Track
	if err := json.Unmarshal(body, &t); err != nil {
		return Track{}, nil, fmt.Errorf("decode track: %w", err)
	}
	return t, json.RawMessage(bytes.TrimSpace(body)), nil
}

// QueueTrack submits one track to the owner's player queue. The caller (not
// this client) decides whether to retry.
func (c *Client) QueueTrack(ctx context.Context, trackID, userToken string) error {
	if trackID == "" || userToken == "" {
		return fmt.Errorf("missing trackID or userToken")
	}
	u := c.base() + "/me/player/queue?uri=" + url.QueryEscape("spotify:track:"+trackID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrTokenRejected
	default:
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("spotify queue failed: %s: %s", resp.Status, string(b))
	}
}

// CurrentUser verifies the owner token against /me and returns the profile.
func (c *Client) CurrentUser(ctx context.Context, userToken string) (User, error) {
	if userToken == "" {
		return User{}, ErrTokenRejected
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/me", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err := c.http().Do(req)
	if err != nil {
		return User{}, err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusUnauthorized {
		return User{}, ErrTokenRejected
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return User{}, fmt.Errorf("spotify /me failed: %s: %s", resp.Status, string(b))
	}
	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return User{}, err
	}
	return u, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
