package models

import (
	"errors"
)

// Footnote is an opaque annotation attached to an observation by the source.
type Footnote struct {
	Code string `json:"code,omitempty"`
	Text string `json:"text,omitempty"`
}

// Observation is a single data point for a series as returned by the source.
// Value is kept verbatim: "3.90" and "3.9" are different observations.
type Observation struct {
	SeriesID   string     `json:"series_id"`
	Year       string     `json:"year"`
	Period     string     `json:"period"`      // Source period code, e.g. "M01"
	PeriodName string     `json:"period_name"` // Display only, e.g. "January"
	Value      string     `json:"value"`
	Footnotes  []Footnote `json:"footnotes,omitempty"`
}

// Key returns the identity tuple of the observation.
func (o Observation) Key() IdentityKey {
	return IdentityKey{
		SeriesID: o.SeriesID,
		Year:     o.Year,
		Period:   o.Period,
		Value:    o.Value,
	}
}

// Validate checks that the identity fields of the observation are present
func (o *Observation) Validate() error {
	if o.SeriesID == "" {
		return errors.New("series ID must not be empty")
	}
	if len(o.Year) != 4 {
		return errors.New("year must be a 4-digit string")
	}
	if o.Period == "" {
		return errors.New("period must not be empty")
	}
	if o.Value == "" {
		return errors.New("value must not be empty")
	}
	return nil
}

// SeriesSnapshot is the result of one fetch for one series.
// Latest is the most recent point the source returned; Previous is the one
// before it and is nil when the source returned a single point.
type SeriesSnapshot struct {
	Latest   Observation  `json:"latest"`
	Previous *Observation `json:"previous,omitempty"`
}

// PreviousValue returns the previous value or NotAvailable.
func (s *SeriesSnapshot) PreviousValue() string {
	if s.Previous == nil || s.Previous.Value == "" {
		return NotAvailable
	}
	return s.Previous.Value
}
