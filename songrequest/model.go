// Package songrequest implements the song request lifecycle: chat-submitted
// requests are persisted as pending, listed to the broadcaster, and resolved
// in batches to approved (queued on Spotify) or denied.
package songrequest

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a song request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusDenied
}

// Terminal reports whether s is an end state. Requests never leave a
// terminal state.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied
}

// Request is one persisted song request. TrackInfo holds the full catalog
// object as captured at submission time; it is never refreshed afterwards.
type Request struct {
	ID        int64           `json:"id"`
	TrackID   string          `json:"trackId"`
	Requester string          `json:"requester"`
	Status    Status          `json:"status"`
	TrackInfo json.RawMessage `json:"trackInfo"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Credential carries the broadcaster's Spotify bearer token for one call.
// It is a per-call value; refreshing produces a new Credential rather than
// mutating shared state.
type Credential struct {
	AccessToken string
}
