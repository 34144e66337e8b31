// Package db provides database connection helpers, schema migration, the song
// request store, and OAuth token persistence.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/dushky/requesty-pie/backend/crypto"
	"github.com/dushky/requesty-pie/backend/songrequest"
)

var (
	// encryptor is the global encryptor instance for OAuth token encryption
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// initEncryptor initializes the global encryptor from ENCRYPTION_KEY.
// If ENCRYPTION_KEY is not set, tokens are stored in plaintext
// (encryption_version = 0).
func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("error", encryptorErr), slog.String("component", "db_encryption"))
			return
		}
		encryptor = enc
		slog.Info("OAuth token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	})
}

func getEncryptor() (crypto.Encryptor, error) {
	initEncryptor()
	if encryptorErr != nil {
		return nil, encryptorErr
	}
	return encryptor, nil
}

// Connect opens a Postgres connection with the given DSN. Defaulting lives in
// config.Load; an empty dsn here is a wiring mistake.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database DSN")
	}
	return sql.Open("pgx", dsn)
}

// RequestStore implements songrequest.Store over Postgres. Bulk status
// updates run in a single transaction with row locks taken in id order, so a
// concurrent reader never observes a partially-updated batch and overlapping
// batches serialize per row.
type RequestStore struct {
	DB *sql.DB
}

// Insert appends a new pending request and returns its id.
func (s *RequestStore) Insert(ctx context.Context, trackID, requester string, trackInfo json.RawMessage) (int64, error) {
	if len(trackInfo) == 0 {
		trackInfo = json.RawMessage("{}")
	}
	var id int64
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO song_requests (track_id, requester, status, track_info) VALUES ($1, $2, $3, $4) RETURNING id`,
		trackID, requester, string(songrequest.StatusPending), []byte(trackInfo)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert song request: %w", err)
	}
	return id, nil
}

// ListByStatus returns all requests with the given status in insertion order.
func (s *RequestStore) ListByStatus(ctx context.Context, status songrequest.Status) ([]songrequest.Request, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", songrequest.ErrValidation, status)
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, track_id, requester, status, track_info, created_at FROM song_requests WHERE status=$1 ORDER BY id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list song requests: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []songrequest.Request
	for rows.Next() {
		var r songrequest.Request
		var info []byte
		if err := rows.Scan(&r.ID, &r.TrackID, &r.Requester, &r.Status, &info, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan song request: %w", err)
		}
		r.TrackInfo = json.RawMessage(info)
		out = append(out, r)
	}
	return out, rows.Err()
}

// TrackIDs resolves the track id for each given request id. Missing ids are
// simply absent from the result map.
func (s *RequestStore) TrackIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, track_id FROM song_requests WHERE id = ANY($1)`, int64Array(ids))
	if err != nil {
		return nil, fmt.Errorf("select track ids: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make(map[int64]string, len(ids))
	for rows.Next() {
		var id int64
		var trackID string
		if err := rows.Scan(&id, &trackID); err != nil {
			return nil, err
		}
		out[id] = trackID
	}
	return out, rows.Err()
}

// Statuses returns the current status for each given request id.
func (s *RequestStore) Statuses(ctx context.Context, ids []int64) (map[int64]songrequest.Status, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, status FROM song_requests WHERE id = ANY($1)`, int64Array(ids))
	if err != nil {
		return nil, fmt.Errorf("select statuses: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make(map[int64]songrequest.Status, len(ids))
	for rows.Next() {
		var id int64
		var st string
		if err := rows.Scan(&id, &st); err != nil {
			return nil, err
		}
		out[id] = songrequest.Status(st)
	}
	return out, rows.Err()
}

// UpdateStatus bulk-sets the status for all given ids in one transaction.
// The rows are locked in id order before the update, so concurrent calls on
// overlapping id sets serialize instead of deadlocking. Transition legality
// is not checked here; invalid enum values are rejected.
func (s *RequestStore) UpdateStatus(ctx context.Context, ids []int64, status songrequest.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid status %q", songrequest.ErrValidation, status)
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx,
		`SELECT id FROM song_requests WHERE id = ANY($1) ORDER BY id FOR UPDATE`, int64Array(ids)); err != nil {
		return fmt.Errorf("lock rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE song_requests SET status=$1, updated_at=NOW() WHERE id = ANY($2)`,
		string(status), int64Array(ids)); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit()
}

// Delete removes a request row regardless of its status.
func (s *RequestStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM song_requests WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete song request: %w", err)
	}
	return nil
}

// int64Array adapts an id slice for = ANY($n) with the pgx stdlib driver.
func int64Array(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// UpsertOAuthToken stores or updates an OAuth token for a provider (e.g. spotify, twitch).
// If encryption is enabled (ENCRYPTION_KEY set), tokens are encrypted before storage.
// encryption_version=1 indicates encrypted tokens, version=0 indicates plaintext.
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, provider, access, refresh string, expiry time.Time, scope string) error {
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}

	encVersion := 0
	encKeyID := ""
	accessToStore := access
	refreshToStore := refresh

	if enc != nil {
		encVersion = 1
		encKeyID = "default"
		if access != "" {
			encAccess, err := crypto.EncryptString(enc, access)
			if err != nil {
				return fmt.Errorf("encrypt access token: %w", err)
			}
			accessToStore = encAccess
		}
		if refresh != "" {
			encRefresh, err := crypto.EncryptString(enc, refresh)
			if err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
			refreshToStore = encRefresh
		}
	}

	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	_, err = dbx.ExecContext(ctx, q, provider, accessToStore, refreshToStore, expiry, scope, encVersion, encKeyID)
	return err
}

// GetOAuthToken retrieves a stored token row; returns zero values if not found.
// Encrypted rows (encryption_version=1) are decrypted transparently; plaintext
// rows are returned as-is for backward compatibility.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var encVersion int
	var encKeyID sql.NullString

	row := dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0), encryption_key_id
		 FROM oauth_tokens WHERE provider = $1`, provider)

	err = row.Scan(&access, &refresh, &expiry, &scope, &encVersion, &encKeyID)
	if err == sql.ErrNoRows {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}

	if encVersion == 1 {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return "", "", time.Time{}, "", fmt.Errorf("get encryptor for decryption: %w", encErr)
		}
		if enc == nil {
			return "", "", time.Time{}, "", fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if access != "" {
			decAccess, decErr := crypto.DecryptString(enc, access)
			if decErr != nil {
				return "", "", time.Time{}, "", fmt.Errorf("decrypt access token: %w", decErr)
			}
			access = decAccess
		}
		if refresh != "" {
			decRefresh, decErr := crypto.DecryptString(enc, refresh)
			if decErr != nil {
				return "", "", time.Time{}, "", fmt.Errorf("decrypt refresh token: %w", decErr)
			}
			refresh = decRefresh
		}
	}

	return access, refresh, expiry, scope, nil
}
