package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/internal/queue"
)

type fakeQueueStore struct {
	entries   map[string]*queue.Entry
	stalled   []*queue.Entry
	listErr   error
}

func newFakeQueueStore(entries ...*queue.Entry) *fakeQueueStore {
	f := &fakeQueueStore{entries: map[string]*queue.Entry{}}
	for _, e := range entries {
		f.entries[e.URL] = e
	}
	return f
}

func (f *fakeQueueStore) GetByURL(ctx context.Context, url string) (*queue.Entry, error) {
	e, ok := f.entries[url]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return e, nil
}
func (f *fakeQueueStore) AtomicGetOrCreate(ctx context.Context, url, publisherID string) (*queue.Entry, bool, error) {
	return nil, false, queue.ErrNotFound
}
func (f *fakeQueueStore) AtomicUpdateStatus(ctx context.Context, url string, from, to queue.Status, updates map[string]interface{}) (*queue.Entry, error) {
	e, ok := f.entries[url]
	if !ok || e.Status != from {
		return nil, queue.ErrStatusMismatch
	}
	e.Status = to
	return e, nil
}
func (f *fakeQueueStore) AtomicRequeueFailed(ctx context.Context, url string, resetAttempts bool) (*queue.Entry, error) {
	return nil, queue.ErrStatusMismatch
}
func (f *fakeQueueStore) AtomicWorkerPickJob(ctx context.Context, workerID string) (*queue.Entry, error) {
	return nil, queue.ErrNotFound
}
func (f *fakeQueueStore) AtomicBatchPickSequential(ctx context.Context, workerID string, batchSize int) ([]*queue.Entry, error) {
	return nil, nil
}
func (f *fakeQueueStore) UpdateHeartbeat(ctx context.Context, workerID, url string) error { return nil }
func (f *fakeQueueStore) DeleteByURL(ctx context.Context, url string) error {
	delete(f.entries, url)
	return nil
}
func (f *fakeQueueStore) GetStats(ctx context.Context) (*queue.Stats, error) { return &queue.Stats{}, nil }
func (f *fakeQueueStore) ListStalled(ctx context.Context, olderThan time.Duration) ([]*queue.Entry, error) {
	return f.stalled, f.listErr
}

type fakeLedgerStore struct {
	released        map[string]bool
	releasedProcessed map[string]bool
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{released: map[string]bool{}, releasedProcessed: map[string]bool{}}
}

func (f *fakeLedgerStore) Create(ctx context.Context, p *ledger.Publisher) error { return nil }
func (f *fakeLedgerStore) GetByID(ctx context.Context, id string) (*ledger.Publisher, error) {
	return nil, ledger.ErrNotFound
}
func (f *fakeLedgerStore) GetByDomain(ctx context.Context, domain string, allowSuffix bool) (*ledger.Publisher, error) {
	return nil, ledger.ErrNotFound
}
func (f *fakeLedgerStore) GetByAPIKey(ctx context.Context, apiKey string) (*ledger.Publisher, error) {
	return nil, ledger.ErrNotFound
}
func (f *fakeLedgerStore) Update(ctx context.Context, p *ledger.Publisher) error { return nil }
func (f *fakeLedgerStore) RegenerateAPIKey(ctx context.Context, id, newAPIKey string) (*ledger.Publisher, error) {
	return nil, ledger.ErrNotFound
}
func (f *fakeLedgerStore) List(ctx context.Context, status ledger.Status, page, pageSize int) ([]*ledger.Publisher, int, error) {
	return nil, 0, nil
}
func (f *fakeLedgerStore) ReserveBlogSlot(ctx context.Context, publisherID string) error { return nil }
func (f *fakeLedgerStore) ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool, questionsGenerated int) error {
	f.released[publisherID] = true
	f.releasedProcessed[publisherID] = processed
	return nil
}

func testConfig() Config {
	return Config{StallMultiple: 3, DefaultHeartbeatIntervalSeconds: 15}
}

func TestSweepResetsStalledEntryToRetry(t *testing.T) {
	entry := &queue.Entry{URL: "https://example.com/a", PublisherID: "pub-1", Status: queue.StatusProcessing, AttemptCount: 1, MaxRetries: 3}
	qs := newFakeQueueStore(entry)
	qs.stalled = []*queue.Entry{entry}
	ls := newFakeLedgerStore()

	r := New(testConfig(), qs, ls)
	r.sweep(context.Background())

	assert.Equal(t, queue.StatusRetry, entry.Status)
	assert.False(t, ls.released["pub-1"])
}

func TestSweepReclaimsReservationWhenRetriesExhausted(t *testing.T) {
	entry := &queue.Entry{URL: "https://example.com/a", PublisherID: "pub-1", Status: queue.StatusProcessing, AttemptCount: 3, MaxRetries: 3}
	qs := newFakeQueueStore(entry)
	qs.stalled = []*queue.Entry{entry}
	ls := newFakeLedgerStore()

	r := New(testConfig(), qs, ls)
	r.sweep(context.Background())

	assert.Equal(t, queue.StatusFailed, entry.Status)
	assert.True(t, ls.released["pub-1"])
	assert.False(t, ls.releasedProcessed["pub-1"])
}

func TestSweepReclaimsReservationWhenTTLExpired(t *testing.T) {
	started := time.Now().Add(-2 * time.Hour)
	entry := &queue.Entry{URL: "https://example.com/a", PublisherID: "pub-1", Status: queue.StatusProcessing, AttemptCount: 1, MaxRetries: 5, StartedAt: &started}
	qs := newFakeQueueStore(entry)
	qs.stalled = []*queue.Entry{entry}
	ls := newFakeLedgerStore()

	cfg := testConfig()
	cfg.ReservationTTL = time.Hour
	r := New(cfg, qs, ls)
	r.sweep(context.Background())

	assert.Equal(t, queue.StatusFailed, entry.Status)
	assert.True(t, ls.released["pub-1"])
}

func TestSweepKeepsReservationWithinTTL(t *testing.T) {
	started := time.Now().Add(-10 * time.Minute)
	entry := &queue.Entry{URL: "https://example.com/a", PublisherID: "pub-1", Status: queue.StatusProcessing, AttemptCount: 1, MaxRetries: 5, StartedAt: &started}
	qs := newFakeQueueStore(entry)
	qs.stalled = []*queue.Entry{entry}
	ls := newFakeLedgerStore()

	cfg := testConfig()
	cfg.ReservationTTL = time.Hour
	r := New(cfg, qs, ls)
	r.sweep(context.Background())

	assert.Equal(t, queue.StatusRetry, entry.Status)
	assert.False(t, ls.released["pub-1"])
}

func TestSweepNoOpWhenNothingStalled(t *testing.T) {
	qs := newFakeQueueStore()
	ls := newFakeLedgerStore()

	r := New(testConfig(), qs, ls)
	r.sweep(context.Background())

	assert.Empty(t, ls.released)
}

func TestSweepLogsAndContinuesOnListError(t *testing.T) {
	qs := newFakeQueueStore()
	qs.listErr = assert.AnError
	ls := newFakeLedgerStore()

	r := New(testConfig(), qs, ls)
	require.NotPanics(t, func() { r.sweep(context.Background()) })
}

func TestNewAppliesDefaults(t *testing.T) {
	r := New(Config{}, newFakeQueueStore(), newFakeLedgerStore())
	assert.Equal(t, 3, r.cfg.StallMultiple)
	assert.Equal(t, 15, r.cfg.DefaultHeartbeatIntervalSeconds)
	assert.Equal(t, "@every 1m", r.cfg.Schedule)
}
