// Package models defines the core domain entities for the econwatch application.
// These models represent source observations, per-series fetch snapshots, and the
// data release events that are persisted and notified.
//
// Terminology:
//   - Observation: one (year, period, value) data point for a series.
//   - Event: a recorded, notified occurrence of a newly observed data point.
//
// An Event is identified by its identity tuple (series ID, year, period, value),
// never by a synthetic ID or its timestamp. A revised value for an already
// published period is therefore a new event.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// NotAvailable is shown for missing previous and expected values.
	NotAvailable = "N/A"

	// EventTypeDataRelease is the type of every event produced by the builder.
	EventTypeDataRelease = "Data Release"

	// SourceBLS labels events that originate from the BLS public data API.
	SourceBLS = "BLS API"

	// TimestampLayout is fixed width in UTC so that lexicographic ordering of
	// stored timestamps matches chronological ordering.
	TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// IdentityKey is the dedup key for an Event. Fields are compared verbatim.
type IdentityKey struct {
	SeriesID string
	Year     string
	Period   string
	Value    string
}

func (k IdentityKey) String() string {
	return fmt.Sprintf("%s/%s/%s=%s", k.SeriesID, k.Year, k.Period, k.Value)
}

// Event is a data release that has not been seen before.
type Event struct {
	ID            int64  `json:"id,omitempty"` // Storage row ID, zero until persisted
	Type          string `json:"type"`
	SeriesID      string `json:"series_id"`
	Year          string `json:"year"`
	Period        string `json:"period"`
	Value         string `json:"value"`
	PreviousValue string `json:"previous_value"`
	ExpectedValue string `json:"expected_value"` // Simulated placeholder, not a market consensus
	Description   string `json:"description"`
	Timestamp     string `json:"timestamp"` // Build time, TimestampLayout
	Source        string `json:"source"`
}

// Key returns the identity tuple of the event.
func (e *Event) Key() IdentityKey {
	return IdentityKey{
		SeriesID: e.SeriesID,
		Year:     e.Year,
		Period:   e.Period,
		Value:    e.Value,
	}
}

// Change returns Value minus PreviousValue computed exactly, or NotAvailable
// when either side is not a decimal literal.
func (e *Event) Change() string {
	latest, err := decimal.NewFromString(e.Value)
	if err != nil {
		return NotAvailable
	}
	previous, err := decimal.NewFromString(e.PreviousValue)
	if err != nil {
		return NotAvailable
	}
	diff := latest.Sub(previous)
	if diff.IsPositive() {
		return "+" + diff.String()
	}
	return diff.String()
}

// Time parses the event timestamp.
func (e *Event) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, e.Timestamp)
}

// Validate checks that all event fields are valid
func (e *Event) Validate() error {
	if e.SeriesID == "" {
		return errors.New("series ID must not be empty")
	}
	if len(e.Year) != 4 {
		return errors.New("year must be a 4-digit string")
	}
	if e.Period == "" {
		return errors.New("period must not be empty")
	}
	if e.Value == "" {
		return errors.New("value must not be empty")
	}
	if e.PreviousValue == "" {
		return errors.New("previous value must not be empty (use N/A)")
	}
	if e.ExpectedValue == "" {
		return errors.New("expected value must not be empty (use N/A)")
	}
	if e.Source == "" {
		return errors.New("source must not be empty")
	}
	if _, err := e.Time(); err != nil {
		return fmt.Errorf("timestamp must use layout %s: %w", TimestampLayout, err)
	}
	return nil
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
