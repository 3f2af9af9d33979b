package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/econwatch/internal/catalog"
	"github.com/rewired-gh/econwatch/internal/metrics"
	"github.com/rewired-gh/econwatch/internal/models"
	"github.com/rewired-gh/econwatch/internal/storage"
)

// scriptedFetcher returns one queued response per call, repeating the last one
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []fetchResponse
	calls     int
	lastStart int
	lastEnd   int
}

type fetchResponse struct {
	snapshots map[string]*models.SeriesSnapshot
	err       error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, seriesIDs []string, startYear, endYear int) (map[string]*models.SeriesSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	f.lastStart, f.lastEnd = startYear, endYear
	return f.responses[i].snapshots, f.responses[i].err
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// journal records the order of store writes and notification attempts
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

type journalStore struct {
	EventStore
	j *journal
}

func (s *journalStore) Append(ctx context.Context, events []models.Event) ([]models.Event, error) {
	inserted, err := s.EventStore.Append(ctx, events)
	for _, e := range inserted {
		s.j.add("persist " + e.SeriesID)
	}
	return inserted, err
}

type journalNotifier struct {
	j    *journal
	fail map[string]bool
}

func (n *journalNotifier) Notify(ctx context.Context, event models.Event) error {
	n.j.add("notify " + event.SeriesID)
	if n.fail[event.SeriesID] {
		return errors.New("webhook unreachable")
	}
	return nil
}

type failingStore struct {
	ExistenceChecker
}

func (failingStore) Append(ctx context.Context, events []models.Event) ([]models.Event, error) {
	return nil, errors.New("disk I/O error")
}

func mustStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var cycleTime = time.Date(2024, 2, 2, 13, 30, 0, 0, time.UTC)

func newTestRunner(f Fetcher, s EventStore, n Notifier, m *metrics.Metrics) *Runner {
	return NewRunner(RunnerConfig{
		Fetcher:   f,
		Store:     s,
		Notifier:  n,
		Builder:   NewBuilder(s, catalog.Default()),
		Metrics:   m,
		SeriesIDs: []string{"LNS14000000", "CES0000000001", "CUUR0000SA0", "WPUID000000"},
		Interval:  time.Minute,
		Now:       func() time.Time { return cycleTime },
	})
}

func unemployment(value string) map[string]*models.SeriesSnapshot {
	prev := obs("LNS14000000", "2023", "M12", "3.8")
	return map[string]*models.SeriesSnapshot{
		"LNS14000000": snapshot(obs("LNS14000000", "2024", "M01", value), &prev),
	}
}

func TestScenario_NewReleaseThenRepeat(t *testing.T) {
	store := mustStore(t)
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: unemployment("3.7")}}}
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(e models.Event) bool {
		return e.Value == "3.7" && e.PreviousValue == "3.8" && e.ExpectedValue == "~3.9%"
	})).Return(nil).Once()

	r := newTestRunner(fetcher, store, notifier, nil)

	first := r.RunCycle(context.Background())
	require.NoError(t, first.Err)
	assert.Equal(t, 1, first.Built)
	assert.Equal(t, 1, first.Persisted)
	assert.Equal(t, 1, first.Notified)
	assert.Equal(t, 2023, fetcher.lastStart)
	assert.Equal(t, 2024, fetcher.lastEnd)

	second := r.RunCycle(context.Background())
	require.NoError(t, second.Err)
	assert.Equal(t, 0, second.Built)
	assert.Equal(t, 0, second.Notified)

	notifier.AssertExpectations(t)
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestScenario_IdempotentAcrossManyCycles(t *testing.T) {
	store := mustStore(t)
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: unemployment("3.7")}}}
	j := &journal{}
	r := newTestRunner(fetcher, store, &journalNotifier{j: j}, nil)

	for i := 0; i < 5; i++ {
		r.RunCycle(context.Background())
	}

	assert.Equal(t, []string{"notify LNS14000000"}, j.entries)
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestScenario_ValueRevision(t *testing.T) {
	store := mustStore(t)
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{snapshots: unemployment("3.7")},
		{snapshots: unemployment("3.8")},
	}}
	j := &journal{}
	r := newTestRunner(fetcher, store, &journalNotifier{j: j}, nil)

	assert.Equal(t, 1, r.RunCycle(context.Background()).Persisted)
	assert.Equal(t, 1, r.RunCycle(context.Background()).Persisted)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "revision must be a second row, not an overwrite")

	for _, v := range []string{"3.7", "3.8"} {
		exists, err := store.Exists(context.Background(), models.IdentityKey{
			SeriesID: "LNS14000000", Year: "2024", Period: "M01", Value: v,
		})
		require.NoError(t, err)
		assert.True(t, exists, "value %s should be recorded", v)
	}
	assert.Len(t, j.entries, 2)
}

func allSeries() map[string]*models.SeriesSnapshot {
	return map[string]*models.SeriesSnapshot{
		"CES0000000001": snapshot(obs("CES0000000001", "2024", "M01", "157533"), nil),
		"CUUR0000SA0":   snapshot(obs("CUUR0000SA0", "2024", "M01", "308.417"), nil),
		"LNS14000000":   snapshot(obs("LNS14000000", "2024", "M01", "3.7"), nil),
	}
}

func TestRunCycle_PersistBeforeNotify(t *testing.T) {
	j := &journal{}
	store := &journalStore{EventStore: mustStore(t), j: j}
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: allSeries()}}}
	r := newTestRunner(fetcher, store, &journalNotifier{j: j}, nil)

	result := r.RunCycle(context.Background())
	require.NoError(t, result.Err)

	require.Len(t, j.entries, 6)
	for i := 0; i < 3; i++ {
		assert.Contains(t, j.entries[i], "persist ")
	}
	for i := 3; i < 6; i++ {
		assert.Contains(t, j.entries[i], "notify ")
	}
}

func TestRunCycle_NotificationIsolation(t *testing.T) {
	j := &journal{}
	store := mustStore(t)
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: allSeries()}}}
	m := metrics.New(prometheus.NewRegistry())
	// Events are notified in series ID order, so the first one fails
	r := newTestRunner(fetcher, store, &journalNotifier{j: j, fail: map[string]bool{"CES0000000001": true}}, m)

	result := r.RunCycle(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Persisted)
	assert.Equal(t, 1, result.NotifyFailed)
	assert.Equal(t, 2, result.Notified)
	assert.Equal(t, []string{"notify CES0000000001", "notify CUUR0000SA0", "notify LNS14000000"}, j.entries)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "a failed notification does not roll back storage")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(metrics.ResultNotifyFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notifications.WithLabelValues(metrics.ResultNotifySent)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsPersisted))

	// Not retried on the next cycle
	r.RunCycle(context.Background())
	assert.Len(t, j.entries, 3)
}

func TestRunCycle_FetchFailure(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{err: errors.New("connection refused")},
		{snapshots: unemployment("3.7")},
	}}
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	store := mustStore(t)
	m := metrics.New(prometheus.NewRegistry())
	r := newTestRunner(fetcher, store, notifier, m)

	failed := r.RunCycle(context.Background())
	assert.Error(t, failed.Err)
	assert.Equal(t, 0, failed.Built)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollCycles.WithLabelValues(metrics.ResultFetchFailed)))

	// The loop self-heals on the next cycle
	recovered := r.RunCycle(context.Background())
	require.NoError(t, recovered.Err)
	assert.Equal(t, 1, recovered.Notified)
}

func TestRunCycle_StoreFailureSkipsNotify(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: unemployment("3.7")}}}
	notifier := new(MockNotifier)
	store := failingStore{ExistenceChecker: &stubChecker{}}
	r := newTestRunner(fetcher, store, notifier, nil)

	result := r.RunCycle(context.Background())
	assert.Error(t, result.Err)
	assert.Equal(t, 1, result.Built)
	assert.Equal(t, 0, result.Persisted)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestRunCycle_EmptyFetch(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: map[string]*models.SeriesSnapshot{
		"LNS14000000": nil,
	}}}}
	notifier := new(MockNotifier)
	r := newTestRunner(fetcher, mustStore(t), notifier, nil)

	result := r.RunCycle(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.Fetched)
	assert.Equal(t, 0, result.Built)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestRunCycle_ConcurrentCyclesInsertOnce(t *testing.T) {
	store := mustStore(t)
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: unemployment("3.7")}}}
	j := &journal{}
	r := newTestRunner(fetcher, store, &journalNotifier{j: j}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RunCycle(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"notify LNS14000000"}, j.entries)
}

func TestRun_StopsOnCancel(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: unemployment("3.7")}}}
	r := NewRunner(RunnerConfig{
		Fetcher:   fetcher,
		Store:     mustStore(t),
		Notifier:  &journalNotifier{j: &journal{}},
		SeriesIDs: []string{"LNS14000000"},
		Interval:  10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.calls >= 3
	}, 2*time.Second, 5*time.Millisecond, "initial cycle plus ticks")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNotifyLatest(t *testing.T) {
	ctx := context.Background()
	store := mustStore(t)
	notifier := new(MockNotifier)

	_, err := NotifyLatest(ctx, store, notifier)
	assert.ErrorIs(t, err, ErrNoEvent)

	events, _ := NewBuilder(store, nil).Build(ctx, unemployment("3.7"), cycleTime)
	_, err = store.Append(ctx, events)
	require.NoError(t, err)

	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(e models.Event) bool {
		return e.SeriesID == "LNS14000000" && e.Value == "3.7"
	})).Return(nil).Once()

	event, err := NotifyLatest(ctx, store, notifier)
	require.NoError(t, err)
	assert.Equal(t, "3.7", event.Value)
	notifier.AssertExpectations(t)
}

func TestLogNotifier(t *testing.T) {
	store := mustStore(t)
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: unemployment("3.7")}}}
	r := newTestRunner(fetcher, store, LogNotifier{}, nil)

	result := r.RunCycle(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.Notified)
}

// cancellingNotifier cancels the poll context on its first call
type cancellingNotifier struct {
	cancel   context.CancelFunc
	attempts []string
	ctxErrs  []error
}

func (n *cancellingNotifier) Notify(ctx context.Context, event models.Event) error {
	if len(n.attempts) == 0 {
		n.cancel()
	}
	n.attempts = append(n.attempts, event.SeriesID)
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	return nil
}

func TestRunCycle_ShutdownDuringNotifyFinishesStoredEvents(t *testing.T) {
	store := mustStore(t)
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: allSeries()}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier := &cancellingNotifier{cancel: cancel}
	r := newTestRunner(fetcher, store, notifier, nil)

	result := r.RunCycle(ctx)
	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Persisted)
	assert.Equal(t, 3, result.Notified)
	assert.Equal(t, []string{"CES0000000001", "CUUR0000SA0", "LNS14000000"}, notifier.attempts)
	for _, err := range notifier.ctxErrs {
		assert.NoError(t, err, "notifications must not see the shutdown")
	}
	require.Error(t, ctx.Err())

	// A restart on the same store has nothing left to send
	again := newTestRunner(fetcher, store, notifier, nil).RunCycle(context.Background())
	assert.Equal(t, 0, again.Built)
}

// blockingNotifier waits for its context to end
type blockingNotifier struct{}

func (blockingNotifier) Notify(ctx context.Context, event models.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunCycle_NotifyTimeout(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{{snapshots: unemployment("3.7")}}}
	r := NewRunner(RunnerConfig{
		Fetcher:       fetcher,
		Store:         mustStore(t),
		Notifier:      blockingNotifier{},
		SeriesIDs:     []string{"LNS14000000"},
		Interval:      time.Minute,
		NotifyTimeout: 20 * time.Millisecond,
	})

	result := r.RunCycle(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.NotifyFailed)
}
