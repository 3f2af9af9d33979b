// Package monitor decides which fetched observations are new and drives the
// fetch, build, persist, notify cycle.
//
// An observation is new when its identity tuple (series ID, year, period, value)
// is absent from the event store. Re-fetching an unchanged window therefore
// builds nothing, while a revised value for a published period builds a new event.
//
// Building only reads the store. Persisting and notifying are the Runner's job,
// and every cycle persists all new events before the first notification attempt.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/econwatch/internal/catalog"
	"github.com/rewired-gh/econwatch/internal/logger"
	"github.com/rewired-gh/econwatch/internal/models"
)

// ExistenceChecker is the read side of the event store used while building
type ExistenceChecker interface {
	Exists(ctx context.Context, key models.IdentityKey) (bool, error)
}

// Builder turns series snapshots into new events
type Builder struct {
	store   ExistenceChecker
	catalog *catalog.Catalog
}

// NewBuilder creates a Builder. A nil catalog means the built-in one.
func NewBuilder(store ExistenceChecker, c *catalog.Catalog) *Builder {
	if c == nil {
		c = catalog.Default()
	}
	return &Builder{
		store:   store,
		catalog: c,
	}
}

// BuildError represents a per-series error during building
type BuildError struct {
	SeriesID string
	Err      error
}

func (e BuildError) Error() string {
	return fmt.Sprintf("build error for series %s: %v", e.SeriesID, e.Err)
}

func (e BuildError) Unwrap() error {
	return e.Err
}

// Build returns an event for every snapshot whose latest observation is not yet
// recorded. All events share the timestamp now. Series are visited in ID order so
// the result is deterministic. A series whose existence check fails is skipped for
// this cycle and reported as a BuildError; it will be checked again next cycle.
func (b *Builder) Build(ctx context.Context, snapshots map[string]*models.SeriesSnapshot, now time.Time) ([]models.Event, []BuildError) {
	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	timestamp := models.FormatTimestamp(now)
	var events []models.Event
	var buildErrors []BuildError

	for _, seriesID := range ids {
		snap := snapshots[seriesID]
		if snap == nil {
			continue
		}
		latest := snap.Latest
		if latest.SeriesID == "" {
			latest.SeriesID = seriesID
		}
		if err := latest.Validate(); err != nil {
			buildErrors = append(buildErrors, BuildError{SeriesID: seriesID, Err: err})
			continue
		}

		key := latest.Key()
		exists, err := b.store.Exists(ctx, key)
		if err != nil {
			buildErrors = append(buildErrors, BuildError{SeriesID: seriesID, Err: err})
			continue
		}
		if exists {
			logger.Debug("Event %s already recorded, skipping", key)
			continue
		}

		event := b.newEvent(latest, snap.PreviousValue(), timestamp)
		logger.Info("Created new event: %s", event.Description)
		events = append(events, event)
	}

	return events, buildErrors
}

// newEvent enriches an observation with catalog data
func (b *Builder) newEvent(latest models.Observation, previousValue, timestamp string) models.Event {
	name, expected := b.catalog.Lookup(latest.SeriesID)
	return models.Event{
		Type:          models.EventTypeDataRelease,
		SeriesID:      latest.SeriesID,
		Year:          latest.Year,
		Period:        latest.Period,
		Value:         latest.Value,
		PreviousValue: previousValue,
		ExpectedValue: expected,
		Description:   Describe(name, latest.Value, previousValue, expected, latest.Year, latest.Period),
		Timestamp:     timestamp,
		Source:        models.SourceBLS,
	}
}

// Describe renders the human-readable event summary
func Describe(name, value, previousValue, expectedValue, year, period string) string {
	return fmt.Sprintf("%s data released: Latest = %s, Previous = %s, Expected = %s, Period = %s %s",
		name, value, previousValue, expectedValue, year, period)
}
