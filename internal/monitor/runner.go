package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/econwatch/internal/logger"
	"github.com/rewired-gh/econwatch/internal/metrics"
	"github.com/rewired-gh/econwatch/internal/models"
	"github.com/rewired-gh/econwatch/internal/storage"
)

// Fetcher is the data source
type Fetcher interface {
	Fetch(ctx context.Context, seriesIDs []string, startYear, endYear int) (map[string]*models.SeriesSnapshot, error)
}

// EventStore is the part of the store the runner reads and writes
type EventStore interface {
	ExistenceChecker
	Append(ctx context.Context, events []models.Event) ([]models.Event, error)
}

// Notifier delivers one event to an external channel
type Notifier interface {
	Notify(ctx context.Context, event models.Event) error
}

// RunnerConfig wires a Runner
type RunnerConfig struct {
	Fetcher   Fetcher
	Store     EventStore
	Notifier  Notifier
	Builder   *Builder
	Metrics   *metrics.Metrics
	SeriesIDs []string
	Interval  time.Duration
	// NotifyTimeout bounds each notification attempt. Defaults to 30s.
	NotifyTimeout time.Duration
	Now           func() time.Time // Defaults to time.Now
}

// Runner executes poll cycles: fetch, build, persist, notify, then sleep
type Runner struct {
	fetcher   Fetcher
	store     EventStore
	notifier  Notifier
	builder   *Builder
	metrics   *metrics.Metrics
	seriesIDs     []string
	interval      time.Duration
	notifyTimeout time.Duration
	now           func() time.Time

	// Held for a whole cycle so exists checks and appends of two cycles never interleave.
	mu                  sync.Mutex
	consecutiveFailures int
}

// CycleResult summarizes one poll cycle
type CycleResult struct {
	ID           string
	Fetched      int // Series with data
	Built        int
	Persisted    int
	Notified     int
	NotifyFailed int
	BuildErrors  []BuildError
	Err          error // Fetch or persist failure that cut the cycle short
}

// NewRunner creates a Runner
func NewRunner(cfg RunnerConfig) *Runner {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	builder := cfg.Builder
	if builder == nil {
		builder = NewBuilder(cfg.Store, nil)
	}
	notifyTimeout := cfg.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = 30 * time.Second
	}
	return &Runner{
		fetcher:       cfg.Fetcher,
		store:         cfg.Store,
		notifier:      cfg.Notifier,
		builder:       builder,
		metrics:       cfg.Metrics,
		seriesIDs:     cfg.SeriesIDs,
		interval:      cfg.Interval,
		notifyTimeout: notifyTimeout,
		now:           now,
	}
}

// Run executes one cycle immediately and then one per interval until ctx is
// cancelled. Cancellation is observed between cycles and during FETCH and BUILD.
// Once a cycle has persisted events it notifies all of them before returning.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Debug("Running initial poll cycle")
	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Poll loop stopped")
			return ctx.Err()
		case <-ticker.C:
			logger.Debug("Starting scheduled poll cycle")
			r.RunCycle(ctx)
		}
	}
}

// RunCycle performs one fetch, build, persist, notify pass. Errors never escape:
// a failed fetch or persist ends the cycle early and is reported in the result.
func (r *Runner) RunCycle(ctx context.Context) CycleResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	result := CycleResult{ID: uuid.NewString()}
	log := logger.With("cycle_id", result.ID)

	now := r.now()
	log.Infof("Checking for new data at %s", now.Format("2006-01-02 15:04:05"))

	// FETCH over a rolling two-year window so year-boundary releases keep a previous value
	snapshots, err := r.fetcher.Fetch(ctx, r.seriesIDs, now.Year()-1, now.Year())
	if err != nil {
		result.Err = err
		r.consecutiveFailures++
		log.Errorf("Failed to fetch data from BLS API (%d consecutive failures): %v", r.consecutiveFailures, err)
		r.observe(metrics.ResultFetchFailed, started)
		return result
	}
	if r.consecutiveFailures > 0 {
		log.Infof("Fetch recovered after %d failed cycles", r.consecutiveFailures)
		r.consecutiveFailures = 0
	}
	for _, snap := range snapshots {
		if snap != nil {
			result.Fetched++
		}
	}

	// BUILD
	events, buildErrors := r.builder.Build(ctx, snapshots, now)
	result.Built = len(events)
	result.BuildErrors = buildErrors
	for _, be := range buildErrors {
		log.Warnf("Skipping series this cycle: %v", be)
	}
	if r.metrics != nil {
		r.metrics.EventsBuilt.Add(float64(len(events)))
	}
	if len(events) == 0 {
		log.Infof("No new events detected (%d series with data)", result.Fetched)
		r.observe(metrics.ResultNoNewEvents, started)
		return result
	}
	log.Infof("Detected %d new event(s)", len(events))

	// PERSIST everything before the first notification attempt
	inserted, err := r.store.Append(ctx, events)
	if err != nil {
		result.Err = err
		log.Errorf("Failed to save %d events, skipping notifications this cycle: %v", len(events), err)
		r.observe(metrics.ResultStoreFailed, started)
		return result
	}
	result.Persisted = len(inserted)
	if r.metrics != nil {
		r.metrics.EventsPersisted.Add(float64(len(inserted)))
	}
	if skipped := len(events) - len(inserted); skipped > 0 {
		log.Warnf("%d event(s) were already recorded by another writer and will not be notified", skipped)
	}
	log.Infof("Saved %d events to the event store", len(inserted))

	// NOTIFY each event independently; failures are logged and never retried.
	// Persisted events are never rebuilt, so shutdown does not interrupt this step.
	notifyCtx := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		log.Infof("Shutdown requested, finishing %d notification(s) first", len(inserted))
	}
	for _, event := range inserted {
		if err := r.notify(notifyCtx, event); err != nil {
			result.NotifyFailed++
			log.Errorf("Failed to send notification for %s: %v", event.Key(), err)
			r.countNotification(metrics.ResultNotifyFailed)
			continue
		}
		result.Notified++
		r.countNotification(metrics.ResultNotifySent)
	}

	log.Infof("Poll cycle completed in %v: %d built, %d persisted, %d notified, %d notification failures",
		time.Since(started), result.Built, result.Persisted, result.Notified, result.NotifyFailed)
	r.observe(metrics.ResultSuccess, started)
	return result
}

func (r *Runner) notify(ctx context.Context, event models.Event) error {
	ctx, cancel := context.WithTimeout(ctx, r.notifyTimeout)
	defer cancel()
	return r.notifier.Notify(ctx, event)
}

func (r *Runner) observe(result string, started time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveCycle(result, started)
	}
}

func (r *Runner) countNotification(result string) {
	if r.metrics != nil {
		r.metrics.Notifications.WithLabelValues(result).Inc()
	}
}

// ErrNoEvent is returned by NotifyLatest when the store is empty.
var ErrNoEvent = errors.New("no events found in the store")

// LatestReader reads the most recent stored event
type LatestReader interface {
	Latest(ctx context.Context) (*models.Event, error)
}

// NotifyLatest sends the most recent stored event through n
func NotifyLatest(ctx context.Context, store LatestReader, n Notifier) (*models.Event, error) {
	event, err := store.Latest(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoEvent
	}
	if err != nil {
		return nil, err
	}
	return event, n.Notify(ctx, *event)
}

// LogNotifier only logs events. It backs the "none" notifier type.
type LogNotifier struct{}

// Notify logs the event description
func (LogNotifier) Notify(ctx context.Context, event models.Event) error {
	logger.Info("Notification (log only): %s", event.Description)
	return nil
}
