package songrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dushky/requesty-pie/backend/spotify"
	"github.com/dushky/requesty-pie/backend/telemetry"
)

// Store persists song requests. It owns atomicity (bulk updates are
// all-or-nothing); transition legality is enforced here in the service.
type Store interface {
	Insert(ctx context.Context, trackID, requester string, trackInfo json.RawMessage) (int64, error)
	ListByStatus(ctx context.Context, status Status) ([]Request, error)
	TrackIDs(ctx context.Context, ids []int64) (map[int64]string, error)
	Statuses(ctx context.Context, ids []int64) (map[int64]Status, error)
	UpdateStatus(ctx context.Context, ids []int64, status Status) error
	Delete(ctx context.Context, id int64) error
}

// Catalog resolves track ids against the external catalog (app credential).
type Catalog interface {
	GetTrack(ctx context.Context, trackID string) (spotify.Track, json.RawMessage, error)
}

// Queue submits approved tracks to the owner's player queue.
type Queue interface {
	QueueTrack(ctx context.Context, trackID, userToken string) error
}

// Identity verifies an owner token and resolves the display name.
type Identity interface {
	CurrentUser(ctx context.Context, userToken string) (spotify.User, error)
}

// Service orchestrates the request lifecycle across the store and the Spotify
// gateways. *spotify.Client satisfies Catalog, Queue, and Identity.
type Service struct {
	Store    Store
	Catalog  Catalog
	Queue    Queue
	Identity Identity
}

// Submission is the feedback payload for a newly created request.
type Submission struct {
	ID        int64  `json:"id"`
	TrackName string `json:"trackName"`
	Artists   string `json:"artists"`
}

// Listing is the owner-facing view of the pending queue.
type Listing struct {
	Requests []Request `json:"requests"`
	Username string    `json:"username"`
}

// Submit resolves trackID against the catalog and, on success, persists a new
// pending request carrying the catalog snapshot. No row is created when the
// track does not resolve. This is the only operation reachable without a
// credential; it can neither set status nor touch existing rows.
func (s *Service) Submit(ctx context.Context, trackID, requester string) (Submission, error) {
	if strings.TrimSpace(trackID) == "" {
		return Submission{}, validationf("trackId must be non-empty")
	}
	track, raw, err := s.Catalog.GetTrack(ctx, trackID)
	if err != nil {
		if errors.Is(err, spotify.ErrTrackNotFound) {
			return Submission{}, fmt.Errorf("%w: track %q", ErrNotFound, trackID)
		}
		return Submission{}, fmt.Errorf("%w: catalog lookup: %v", ErrUpstream, err)
	}
	id, err := s.Store.Insert(ctx, trackID, requester, raw)
	if err != nil {
		return Submission{}, storageErr("insert request", err)
	}
	telemetry.CountSubmission()
	slog.Info("song request created",
		slog.Int64("id", id),
		slog.String("track", track.Name),
		slog.String("requester", requester))
	return Submission{ID: id, TrackName: track.Name, Artists: track.ArtistLine()}, nil
}

// List returns all pending requests plus the verified owner display name.
func (s *Service) List(ctx context.Context, cred Credential) (Listing, error) {
	user, err := s.verifyOwner(ctx, cred)
	if err != nil {
		return Listing{}, err
	}
	requests, err := s.Store.ListByStatus(ctx, StatusPending)
	if err != nil {
		return Listing{}, storageErr("list pending", err)
	}
	telemetry.SetPendingDepth(len(requests))
	return Listing{Requests: requests, Username: user.DisplayName}, nil
}

// BatchResolve transitions a set of pending requests to a terminal decision.
// On approval every track is queued on Spotify concurrently; if any enqueue
// fails the whole batch aborts before any status is persisted. Rows already
// in the requested terminal state are skipped without re-queueing; rows in
// the opposite terminal state fail the call with ErrConflict before any side
// effect. The final status write covers the batch in one atomic call.
func (s *Service) BatchResolve(ctx context.Context, cred Credential, ids []int64, decision Status) error {
	if len(ids) == 0 {
		return validationf("requestIds must be non-empty")
	}
	if !decision.Terminal() {
		// Strict membership: anything outside {approved, denied} is rejected,
		// including "pending" and arbitrary strings.
		return validationf("status must be %q or %q, got %q", StatusApproved, StatusDenied, decision)
	}
	if _, err := s.verifyOwner(ctx, cred); err != nil {
		return err
	}

	ids = dedupe(ids)
	statuses, err := s.Store.Statuses(ctx, ids)
	if err != nil {
		return storageErr("load statuses", err)
	}
	pending := make([]int64, 0, len(ids))
	for _, id := range ids {
		st, ok := statuses[id]
		if !ok {
			return validationf("unknown request id %d", id)
		}
		switch {
		case st == decision:
			// Idempotent re-application; no enqueue, no update.
		case st.Terminal():
			return conflictf("request %d already %s", id, st)
		default:
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if decision == StatusApproved {
		trackIDs, err := s.Store.TrackIDs(ctx, pending)
		if err != nil {
			return storageErr("resolve track ids", err)
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range pending {
			trackID, ok := trackIDs[id]
			if !ok {
				return validationf("unknown request id %d", id)
			}
			g.Go(func() error {
				return s.Queue.QueueTrack(gctx, trackID, cred.AccessToken)
			})
		}
		var waitErr error
		telemetry.TimeFunc(telemetry.EnqueueDuration, func() { waitErr = g.Wait() })
		if waitErr != nil {
			telemetry.CountEnqueueFailure()
			if errors.Is(waitErr, spotify.ErrTokenRejected) {
				return fmt.Errorf("%w: queue rejected owner token", ErrUnauthorized)
			}
			return fmt.Errorf("%w: queue track: %v", ErrUpstream, waitErr)
		}
	}

	if err := s.Store.UpdateStatus(ctx, pending, decision); err != nil {
		return storageErr("update status", err)
	}
	telemetry.CountResolution(string(decision), len(pending))
	slog.Info("song requests resolved",
		slog.String("decision", string(decision)),
		slog.Int("count", len(pending)))
	return nil
}

// Delete removes a request row regardless of status. Owner-only capability;
// the canonical flow keeps terminal rows for history, so this is exposed but
// not used by the chat path.
func (s *Service) Delete(ctx context.Context, cred Credential, id int64) error {
	if _, err := s.verifyOwner(ctx, cred); err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, id); err != nil {
		return storageErr("delete request", err)
	}
	return nil
}

func (s *Service) verifyOwner(ctx context.Context, cred Credential) (spotify.User, error) {
	if cred.AccessToken == "" {
		return spotify.User{}, fmt.Errorf("%w: missing owner token", ErrUnauthorized)
	}
	user, err := s.Identity.CurrentUser(ctx, cred.AccessToken)
	if err != nil {
		if errors.Is(err, spotify.ErrTokenRejected) {
			return spotify.User{}, fmt.Errorf("%w: owner token rejected", ErrUnauthorized)
		}
		return spotify.User{}, fmt.Errorf("%w: identity check: %v", ErrUpstream, err)
	}
	return user, nil
}

// storageErr passes through errors the store already classified (e.g. invalid
// enum values) and wraps everything else as a storage failure.
func storageErr(op string, err error) error {
	if errors.Is(err, ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
