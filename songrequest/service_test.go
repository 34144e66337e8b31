package songrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dushky/requesty-pie/backend/spotify"
	"github.com/dushky/requesty-pie/backend/telemetry"
)

type fakeStore struct {
	mu            sync.Mutex
	nextID        int64
	rows          map[int64]*Request
	updateCalls   int
	insertErr     error
	updateErr     error
	statusesCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, rows: make(map[int64]*Request)}
}

func (f *fakeStore) seed(status Status, trackID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.rows[id] = &Request{ID: id, TrackID: trackID, Status: status, CreatedAt: time.Now()}
	return id
}

func (f *fakeStore) Insert(ctx context.Context, trackID, requester string, trackInfo json.RawMessage) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.rows[id] = &Request{ID: id, TrackID: trackID, Requester: requester, Status: StatusPending, TrackInfo: trackInfo}
	return id, nil
}

func (f *fakeStore) ListByStatus(ctx context.Context, status Status) ([]Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for id := int64(1); id < f.nextID; id++ {
		if r, ok := f.rows[id]; ok && r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) TrackIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]string)
	for _, id := range ids {
		if r, ok := f.rows[id]; ok {
			out[id] = r.TrackID
		}
	}
	return out, nil
}

func (f *fakeStore) Statuses(ctx context.Context, ids []int64) (map[int64]Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusesCalls++
	out := make(map[int64]Status)
	for _, id := range ids {
		if r, ok := f.rows[id]; ok {
			out[id] = r.Status
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, ids []int64, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	for _, id := range ids {
		if r, ok := f.rows[id]; ok {
			r.Status = status
		}
	}
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

type fakeCatalog struct {
	tracks map[string]spotify.Track
	err    error
}

func (f *fakeCatalog) GetTrack(ctx context.Context, trackID string) (spotify.Track, json.RawMessage, error) {
	if f.err != nil {
		return spotify.Track{}, nil, f.err
	}
	t, ok := f.tracks[trackID]
	if !ok {
		return spotify.Track{}, nil, spotify.ErrTrackNotFound
	}
	raw, _ := json.Marshal(t)
	return t, raw, nil
}

type fakeQueue struct {
	mu     sync.Mutex
	queued []string
	errFor map[string]error
}

func (f *fakeQueue) QueueTrack(ctx context.Context, trackID, userToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errFor[trackID]; ok {
		return err
	}
	f.queued = append(f.queued, trackID)
	return nil
}

type fakeIdentity struct {
	err error
}

func (f *fakeIdentity) CurrentUser(ctx context.Context, userToken string) (spotify.User, error) {
	if f.err != nil {
		return spotify.User{}, f.err
	}
	return spotify.User{ID: "owner", DisplayName: "DJ Owner"}, nil
}

func newService(store *fakeStore, catalog *fakeCatalog, queue *fakeQueue, identity *fakeIdentity) *Service {
	if catalog == nil {
		catalog = &fakeCatalog{}
	}
	if queue == nil {
		queue = &fakeQueue{}
	}
	if identity == nil {
		identity = &fakeIdentity{}
	}
	return &Service{Store: store, Catalog: catalog, Queue: queue, Identity: identity}
}

var ownerCred = Credential{AccessToken: "owner-token"}

func TestSubmitStoresCatalogSnapshot(t *testing.T) {
	store := newFakeStore()
	catalog := &fakeCatalog{tracks: map[string]spotify.Track{
		"abc": {ID: "abc", Name: "Midnight City", Artists: []spotify.Artist{{Name: "M83"}}},
	}}
	svc := newService(store, catalog, nil, nil)

	sub, err := svc.Submit(context.Background(), "abc", "viewer")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if sub.TrackName != "Midnight City" || sub.Artists != "M83" {
		t.Errorf("submission = %+v", sub)
	}
	row := store.rows[sub.ID]
	if row == nil {
		t.Fatal("expected stored row")
	}
	if row.Status != StatusPending {
		t.Errorf("status = %s, want pending", row.Status)
	}
	var snap spotify.Track
	if err := json.Unmarshal(row.TrackInfo, &snap); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	if snap.Name != "Midnight City" {
		t.Errorf("snapshot name = %q", snap.Name)
	}
}

func TestSubmitEmptyTrackID(t *testing.T) {
	svc := newService(newFakeStore(), nil, nil, nil)
	_, err := svc.Submit(context.Background(), "   ", "viewer")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestSubmitUnknownTrackCreatesNothing(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, &fakeCatalog{tracks: map[string]spotify.Track{}}, nil, nil)

	_, err := svc.Submit(context.Background(), "nope", "viewer")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if len(store.rows) != 0 {
		t.Errorf("expected no rows, got %d", len(store.rows))
	}
}

func TestSubmitUpstreamFailure(t *testing.T) {
	svc := newService(newFakeStore(), &fakeCatalog{err: fmt.Errorf("503 from catalog")}, nil, nil)
	_, err := svc.Submit(context.Background(), "abc", "viewer")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("error = %v, want ErrUpstream", err)
	}
}

func TestListRequiresToken(t *testing.T) {
	svc := newService(newFakeStore(), nil, nil, nil)
	_, err := svc.List(context.Background(), Credential{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
}

func TestListRejectedToken(t *testing.T) {
	svc := newService(newFakeStore(), nil, nil, &fakeIdentity{err: spotify.ErrTokenRejected})
	_, err := svc.List(context.Background(), ownerCred)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
}

func TestListPendingWithUsername(t *testing.T) {
	store := newFakeStore()
	store.seed(StatusPending, "t1")
	store.seed(StatusApproved, "t2")
	store.seed(StatusPending, "t3")
	svc := newService(store, nil, nil, nil)

	listing, err := svc.List(context.Background(), ownerCred)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listing.Requests) != 2 {
		t.Errorf("got %d requests, want 2", len(listing.Requests))
	}
	if listing.Username != "DJ Owner" {
		t.Errorf("username = %q, want DJ Owner", listing.Username)
	}
}

func TestBatchResolveValidation(t *testing.T) {
	store := newFakeStore()
	id := store.seed(StatusPending, "t1")
	svc := newService(store, nil, nil, nil)
	ctx := context.Background()

	if err := svc.BatchResolve(ctx, ownerCred, nil, StatusApproved); !errors.Is(err, ErrValidation) {
		t.Errorf("empty ids: error = %v, want ErrValidation", err)
	}
	for _, decision := range []Status{"maybe", StatusPending, "", "APPROVED"} {
		if err := svc.BatchResolve(ctx, ownerCred, []int64{id}, decision); !errors.Is(err, ErrValidation) {
			t.Errorf("decision %q: error = %v, want ErrValidation", decision, err)
		}
	}
	if err := svc.BatchResolve(ctx, ownerCred, []int64{id, 999}, StatusApproved); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown id: error = %v, want ErrValidation", err)
	}
	if store.rows[id].Status != StatusPending {
		t.Errorf("row mutated by rejected batch: %s", store.rows[id].Status)
	}
}

func TestBatchResolveApprove(t *testing.T) {
	store := newFakeStore()
	a := store.seed(StatusPending, "t1")
	b := store.seed(StatusPending, "t2")
	queue := &fakeQueue{}
	svc := newService(store, nil, queue, nil)

	// Duplicated ids collapse to one enqueue each.
	err := svc.BatchResolve(context.Background(), ownerCred, []int64{a, b, a}, StatusApproved)
	if err != nil {
		t.Fatalf("BatchResolve() error = %v", err)
	}
	if len(queue.queued) != 2 {
		t.Errorf("queued %d tracks, want 2: %v", len(queue.queued), queue.queued)
	}
	if store.rows[a].Status != StatusApproved || store.rows[b].Status != StatusApproved {
		t.Errorf("rows not approved: %s, %s", store.rows[a].Status, store.rows[b].Status)
	}
}

func TestBatchResolveApproveObservesEnqueueDuration(t *testing.T) {
	telemetry.Init()
	store := newFakeStore()
	id := store.seed(StatusPending, "t1")
	svc := newService(store, nil, &fakeQueue{}, nil)

	before := enqueueSampleCount(t)
	if err := svc.BatchResolve(context.Background(), ownerCred, []int64{id}, StatusApproved); err != nil {
		t.Fatalf("BatchResolve() error = %v", err)
	}
	if got := enqueueSampleCount(t); got != before+1 {
		t.Errorf("enqueue duration samples = %d, want %d", got, before+1)
	}
}

func enqueueSampleCount(t *testing.T) uint64 {
	t.Helper()
	m, ok := telemetry.EnqueueDuration.(prometheus.Metric)
	if !ok {
		t.Fatal("EnqueueDuration does not expose metric state")
	}
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	return pb.GetHistogram().GetSampleCount()
}

func TestBatchResolveDenyDoesNotQueue(t *testing.T) {
	store := newFakeStore()
	id := store.seed(StatusPending, "t1")
	queue := &fakeQueue{}
	svc := newService(store, nil, queue, nil)

	if err := svc.BatchResolve(context.Background(), ownerCred, []int64{id}, StatusDenied); err != nil {
		t.Fatalf("BatchResolve() error = %v", err)
	}
	if len(queue.queued) != 0 {
		t.Errorf("deny queued %d tracks, want 0", len(queue.queued))
	}
	if store.rows[id].Status != StatusDenied {
		t.Errorf("status = %s, want denied", store.rows[id].Status)
	}
}

func TestBatchResolveAllOrNothing(t *testing.T) {
	store := newFakeStore()
	a := store.seed(StatusPending, "t1")
	b := store.seed(StatusPending, "t2")
	queue := &fakeQueue{errFor: map[string]error{"t2": fmt.Errorf("player offline")}}
	svc := newService(store, nil, queue, nil)

	err := svc.BatchResolve(context.Background(), ownerCred, []int64{a, b}, StatusApproved)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("error = %v, want ErrUpstream", err)
	}
	if store.updateCalls != 0 {
		t.Errorf("UpdateStatus called %d times after failed enqueue, want 0", store.updateCalls)
	}
	if store.rows[a].Status != StatusPending || store.rows[b].Status != StatusPending {
		t.Errorf("rows mutated: %s, %s", store.rows[a].Status, store.rows[b].Status)
	}
}

func TestBatchResolveQueueTokenRejected(t *testing.T) {
	store := newFakeStore()
	id := store.seed(StatusPending, "t1")
	queue := &fakeQueue{errFor: map[string]error{"t1": spotify.ErrTokenRejected}}
	svc := newService(store, nil, queue, nil)

	err := svc.BatchResolve(context.Background(), ownerCred, []int64{id}, StatusApproved)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if store.rows[id].Status != StatusPending {
		t.Errorf("row mutated after rejected token: %s", store.rows[id].Status)
	}
}

func TestBatchResolveIdempotentReapply(t *testing.T) {
	store := newFakeStore()
	id := store.seed(StatusApproved, "t1")
	queue := &fakeQueue{}
	svc := newService(store, nil, queue, nil)

	if err := svc.BatchResolve(context.Background(), ownerCred, []int64{id}, StatusApproved); err != nil {
		t.Fatalf("BatchResolve() error = %v", err)
	}
	if len(queue.queued) != 0 {
		t.Errorf("re-approval queued %d tracks, want 0", len(queue.queued))
	}
	if store.updateCalls != 0 {
		t.Errorf("UpdateStatus called %d times for no-op batch, want 0", store.updateCalls)
	}
}

func TestBatchResolveConflict(t *testing.T) {
	store := newFakeStore()
	denied := store.seed(StatusDenied, "t1")
	pending := store.seed(StatusPending, "t2")
	queue := &fakeQueue{}
	svc := newService(store, nil, queue, nil)

	err := svc.BatchResolve(context.Background(), ownerCred, []int64{pending, denied}, StatusApproved)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if len(queue.queued) != 0 {
		t.Errorf("conflicting batch queued %d tracks, want 0", len(queue.queued))
	}
	if store.rows[pending].Status != StatusPending {
		t.Errorf("pending row mutated: %s", store.rows[pending].Status)
	}
}

func TestBatchResolveUnauthorized(t *testing.T) {
	store := newFakeStore()
	id := store.seed(StatusPending, "t1")
	svc := newService(store, nil, nil, &fakeIdentity{err: spotify.ErrTokenRejected})

	err := svc.BatchResolve(context.Background(), ownerCred, []int64{id}, StatusApproved)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if store.statusesCalls != 0 {
		t.Errorf("store touched before auth: %d Statuses calls", store.statusesCalls)
	}
}

func TestDelete(t *testing.T) {
	store := newFakeStore()
	id := store.seed(StatusApproved, "t1")
	svc := newService(store, nil, nil, nil)

	if err := svc.Delete(context.Background(), ownerCred, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := store.rows[id]; ok {
		t.Error("row still present after delete")
	}

	if err := svc.Delete(context.Background(), Credential{}, id); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unauthenticated delete: error = %v, want ErrUnauthorized", err)
	}
}

func TestStatusHelpers(t *testing.T) {
	if !StatusApproved.Terminal() || !StatusDenied.Terminal() {
		t.Error("approved and denied must be terminal")
	}
	if StatusPending.Terminal() {
		t.Error("pending must not be terminal")
	}
	if !StatusPending.Valid() || Status("maybe").Valid() {
		t.Error("Valid() broken")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{validationf("bad"), 400},
		{fmt.Errorf("%w: nope", ErrUnauthorized), 401},
		{fmt.Errorf("%w: gone", ErrNotFound), 404},
		{conflictf("done"), 409},
		{fmt.Errorf("%w: catalog", ErrUpstream), 500},
		{fmt.Errorf("%w: insert", ErrStorage), 500},
		{fmt.Errorf("plain"), 500},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
