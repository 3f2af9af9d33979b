// Package catalog maps BLS series IDs to display names and simulated expected values.
//
// Expected values are static placeholders used to exercise the notification
// layout. They are not market consensus figures and nothing here fetches forecasts.
package catalog

import (
	"fmt"

	"github.com/rewired-gh/econwatch/internal/config"
	"github.com/rewired-gh/econwatch/internal/models"
)

// UnknownSeriesName is shown for series IDs that are not in the catalog.
const UnknownSeriesName = "Unknown Series"

// Series describes one tracked indicator
type Series struct {
	ID       string
	Name     string
	Expected string // Simulated reference value, or N/A
}

var defaultSeries = []Series{
	{ID: "LNS14000000", Name: "Unemployment Rate", Expected: "~3.9%"},
	{ID: "CES0000000001", Name: "Nonfarm Payroll", Expected: "~180K"},
	{ID: "CUUR0000SA0", Name: "CPI (All items)", Expected: "~3.4%"},
	{ID: "WPUID000000", Name: "PPI (All commodities)", Expected: "~2.0%"},
}

// Catalog is an immutable lookup table
type Catalog struct {
	series map[string]Series
}

// New builds a catalog from entries. Later entries win on duplicate IDs.
func New(entries ...Series) *Catalog {
	c := &Catalog{series: make(map[string]Series, len(entries))}
	for _, s := range entries {
		c.series[s.ID] = s
	}
	return c
}

// Default returns the built-in catalog
func Default() *Catalog {
	return New(defaultSeries...)
}

// FromConfig returns the built-in catalog with configured overrides applied.
// An override with an empty name or expected value keeps the built-in one.
func FromConfig(entries []config.SeriesEntry) *Catalog {
	c := Default()
	for _, e := range entries {
		s := c.series[e.ID]
		s.ID = e.ID
		if e.Name != "" {
			s.Name = e.Name
		}
		if e.Expected != "" {
			s.Expected = e.Expected
		}
		c.series[e.ID] = s
	}
	return c
}

// Name returns the display name for a series, or UnknownSeriesName
func (c *Catalog) Name(seriesID string) string {
	if s, ok := c.series[seriesID]; ok && s.Name != "" {
		return s.Name
	}
	return UnknownSeriesName
}

// Expected returns the simulated expected value for a series, or N/A
func (c *Catalog) Expected(seriesID string) string {
	if s, ok := c.series[seriesID]; ok && s.Expected != "" {
		return s.Expected
	}
	return models.NotAvailable
}

// Lookup returns the name and expected value for a series
func (c *Catalog) Lookup(seriesID string) (name, expected string) {
	return c.Name(seriesID), c.Expected(seriesID)
}

// Contains reports whether the series is mapped
func (c *Catalog) Contains(seriesID string) bool {
	_, ok := c.series[seriesID]
	return ok
}

// DisplayName is Name with the series ID appended for unmapped series, as
// shown in notifications
func (c *Catalog) DisplayName(seriesID string) string {
	if c.Contains(seriesID) {
		return c.Name(seriesID)
	}
	return fmt.Sprintf("%s (%s)", UnknownSeriesName, seriesID)
}
