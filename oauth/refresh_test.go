package oauth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dushky/requesty-pie/backend/testutil"
)

// seedToken replaces any existing row for provider with a fresh plaintext one.
func seedToken(t *testing.T, db *sql.DB, provider, access, refresh string, expiry time.Time, scope string) {
	t.Helper()
	if _, err := db.Exec(`DELETE FROM oauth_tokens WHERE provider=$1`, provider); err != nil {
		t.Fatalf("failed to clean oauth_tokens: %v", err)
	}
	_, err := db.Exec(`INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`, provider, access, refresh, expiry, scope)
	if err != nil {
		t.Fatalf("failed to insert test token: %v", err)
	}
}

func TestStartRefresherOutsideWindow(t *testing.T) {
	db := testutil.SetupTestDB(t)

	seedToken(t, db, "test-refresh-outside", "access123", "refresh456", time.Now().Add(1*time.Hour), "scope1")

	refreshCalled := false
	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		refreshCalled = true
		return "new-access", "new-refresh", time.Now().Add(2 * time.Hour), "scope1", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	StartRefresher(ctx, db, "test-refresh-outside", 50*time.Millisecond, 30*time.Minute, refreshFunc)

	<-ctx.Done()

	if refreshCalled {
		t.Error("refresh should not have been called for token that expires in 1 hour with 30 min window")
	}
}

func TestStartRefresherWithinWindow(t *testing.T) {
	db := testutil.SetupTestDB(t)

	seedToken(t, db, "test-refresh-window", "old-access", "old-refresh", time.Now().Add(5*time.Minute), "user-read-private")

	refreshCalled := false
	newExpiry := time.Now().Add(2 * time.Hour)
	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		if refreshToken != "old-refresh" {
			t.Errorf("refresh called with wrong token: got %s, want old-refresh", refreshToken)
		}
		refreshCalled = true
		return "new-access", "new-refresh", newExpiry, "user-modify-playback-state", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	StartRefresher(ctx, db, "test-refresh-window", 100*time.Millisecond, 15*time.Minute, refreshFunc)

	time.Sleep(400 * time.Millisecond)
	cancel()

	if !refreshCalled {
		t.Error("refresh should have been called for token expiring within window")
	}

	var access, refresh, scope string
	var expiry time.Time
	err := db.QueryRow(`SELECT access_token, refresh_token, expires_at, scope FROM oauth_tokens WHERE provider='test-refresh-window'`).
		Scan(&access, &refresh, &expiry, &scope)
	if err != nil {
		t.Fatalf("failed to query updated token: %v", err)
	}

	if access != "new-access" {
		t.Errorf("access token not updated: got %s, want new-access", access)
	}
	if refresh != "new-refresh" {
		t.Errorf("refresh token not updated: got %s, want new-refresh", refresh)
	}
	if scope != "user-modify-playback-state" {
		t.Errorf("scope not updated: got %s, want user-modify-playback-state", scope)
	}
}

func TestStartRefresherRefreshError(t *testing.T) {
	db := testutil.SetupTestDB(t)

	seedToken(t, db, "test-refresh-error", "old-access", "old-refresh", time.Now().Add(5*time.Minute), "scope1")

	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		return "", "", time.Time{}, "", errors.New("refresh failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	StartRefresher(ctx, db, "test-refresh-error", 50*time.Millisecond, 15*time.Minute, refreshFunc)

	time.Sleep(250 * time.Millisecond)
	cancel()

	var access string
	err := db.QueryRow(`SELECT access_token FROM oauth_tokens WHERE provider='test-refresh-error'`).Scan(&access)
	if err != nil {
		t.Fatalf("failed to query token: %v", err)
	}
	if access != "old-access" {
		t.Errorf("token should not have been updated on error, got %s", access)
	}
}

func TestStartRefresherNoRefreshToken(t *testing.T) {
	db := testutil.SetupTestDB(t)

	seedToken(t, db, "test-refresh-empty", "access123", "", time.Now().Add(5*time.Minute), "scope1")

	refreshCalled := false
	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		refreshCalled = true
		return "new-access", "new-refresh", time.Now().Add(2 * time.Hour), "scope1", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	StartRefresher(ctx, db, "test-refresh-empty", 50*time.Millisecond, 15*time.Minute, refreshFunc)

	time.Sleep(150 * time.Millisecond)
	cancel()

	if refreshCalled {
		t.Error("refresh should not be called when refresh_token is empty")
	}
}

func TestStartRefresherCancellation(t *testing.T) {
	db := testutil.SetupTestDB(t)

	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		return "access", "refresh", time.Now().Add(1 * time.Hour), "scope", nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	StartRefresher(ctx, db, "test-refresh-cancel", 1*time.Second, 15*time.Minute, refreshFunc)

	cancel()

	// Give the goroutine a moment to exit. If we get here without hanging,
	// cancellation works.
	time.Sleep(50 * time.Millisecond)
}

func TestStartRefresherPreservesRefreshToken(t *testing.T) {
	db := testutil.SetupTestDB(t)

	seedToken(t, db, "test-refresh-preserve", "old-access", "original-refresh", time.Now().Add(5*time.Minute), "scope1")

	// Refresh response omits the refresh token and scope, both should carry over.
	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		return "new-access", "", time.Now().Add(2 * time.Hour), "", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	StartRefresher(ctx, db, "test-refresh-preserve", 50*time.Millisecond, 15*time.Minute, refreshFunc)

	time.Sleep(250 * time.Millisecond)
	cancel()

	var refresh, scope string
	err := db.QueryRow(`SELECT refresh_token, scope FROM oauth_tokens WHERE provider='test-refresh-preserve'`).
		Scan(&refresh, &scope)
	if err != nil {
		t.Fatalf("failed to query token: %v", err)
	}

	if refresh != "original-refresh" {
		t.Errorf("refresh token should be preserved, got %s, want original-refresh", refresh)
	}
	if scope != "scope1" {
		t.Errorf("scope should be preserved, got %s, want scope1", scope)
	}
}
