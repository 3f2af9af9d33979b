// Package bls provides a client for the BLS Public Data API v2.
// It issues one bulk time-series query per fetch and reduces each series to its
// latest and previous observations, trusting the API's most-recent-first ordering.
package bls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rewired-gh/econwatch/internal/logger"
	"github.com/rewired-gh/econwatch/internal/models"
)

// StatusSucceeded is the top-level status of a successful API response.
const StatusSucceeded = "REQUEST_SUCCEEDED"

// ErrRequestFailed is returned when the API answers with a non-success status.
var ErrRequestFailed = errors.New("BLS request failed")

// Client provides access to the BLS timeseries API
type Client struct {
	apiURL string
	apiKey string
	http   *resty.Client
}

// ClientConfig holds optional HTTP tuning for the client
type ClientConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
}

// DataRequest is the JSON body of a timeseries query
type DataRequest struct {
	SeriesID        []string `json:"seriesid"`
	StartYear       string   `json:"startyear"`
	EndYear         string   `json:"endyear"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
}

// DataResponse is the JSON body returned by the API
type DataResponse struct {
	Status       string   `json:"status"`
	ResponseTime int      `json:"responseTime"`
	Message      []string `json:"message"`
	Results      struct {
		Series []Series `json:"series"`
	} `json:"Results"`
}

// Series is one series block of a response, data ordered most recent first
type Series struct {
	SeriesID string      `json:"seriesID"`
	Data     []DataPoint `json:"data"`
}

// DataPoint is one observation as returned by the API
type DataPoint struct {
	Year       string     `json:"year"`
	Period     string     `json:"period"`
	PeriodName string     `json:"periodName"`
	Latest     string     `json:"latest,omitempty"`
	Value      string     `json:"value"`
	Footnotes  []Footnote `json:"footnotes"`
}

// Footnote is an annotation on a data point. The API sends {} for "no footnote".
type Footnote struct {
	Code string `json:"code,omitempty"`
	Text string `json:"text,omitempty"`
}

// NewClient creates a new BLS client
func NewClient(apiURL, apiKey string, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelayBase).
		SetRetryMaxWaitTime(cfg.RetryDelayBase*time.Duration(cfg.MaxRetries+1)).
		SetRetryAfter(linearBackoff(cfg.RetryDelayBase)).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Network errors and server errors are retried, client errors are not.
			return err != nil || (r != nil && r.StatusCode() >= 500)
		})

	return &Client{
		apiURL: apiURL,
		apiKey: apiKey,
		http:   httpClient,
	}
}

// linearBackoff waits attempt*base before the next attempt. resty hands over a
// response for transport errors too, so both retry causes use this delay.
func linearBackoff(base time.Duration) resty.RetryAfterFunc {
	return func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
		attempt := 1
		if r != nil && r.Request != nil && r.Request.Attempt > 0 {
			attempt = r.Request.Attempt
		}
		return base * time.Duration(attempt), nil
	}
}

// Fetch queries all seriesIDs for [startYear, endYear] and returns a snapshot per
// requested series. Series the source returned no points for map to nil.
func (c *Client) Fetch(ctx context.Context, seriesIDs []string, startYear, endYear int) (map[string]*models.SeriesSnapshot, error) {
	if len(seriesIDs) == 0 {
		return nil, errors.New("no series requested")
	}
	if startYear > endYear {
		return nil, fmt.Errorf("invalid year range %d-%d: start after end", startYear, endYear)
	}

	body := DataRequest{
		SeriesID:        seriesIDs,
		StartYear:       strconv.Itoa(startYear),
		EndYear:         strconv.Itoa(endYear),
		RegistrationKey: c.apiKey,
	}

	logger.Debug("Requesting %d series from BLS API for %d-%d", len(seriesIDs), startYear, endYear)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch series: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch series: unexpected status %s", resp.Status())
	}

	var data DataResponse
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return nil, fmt.Errorf("failed to decode series: %w", err)
	}
	if data.Status != StatusSucceeded {
		return nil, fmt.Errorf("%w: status %q: %s", ErrRequestFailed, data.Status, strings.Join(data.Message, "; "))
	}
	for _, msg := range data.Message {
		logger.Debug("BLS API message: %s", msg)
	}

	return Extract(&data, seriesIDs), nil
}

// Extract reduces a successful response to one snapshot per requested series.
// The first data point is the latest and the second the previous; the API
// documents most-recent-first ordering and no re-sorting is done here.
func Extract(data *DataResponse, seriesIDs []string) map[string]*models.SeriesSnapshot {
	result := make(map[string]*models.SeriesSnapshot, len(seriesIDs))
	for _, id := range seriesIDs {
		result[id] = nil
	}

	for _, series := range data.Results.Series {
		switch len(series.Data) {
		case 0:
			logger.Warn("Not enough data points (0) for series %s", series.SeriesID)
			result[series.SeriesID] = nil
		case 1:
			result[series.SeriesID] = &models.SeriesSnapshot{
				Latest: toObservation(series.SeriesID, series.Data[0]),
			}
		default:
			previous := toObservation(series.SeriesID, series.Data[1])
			result[series.SeriesID] = &models.SeriesSnapshot{
				Latest:   toObservation(series.SeriesID, series.Data[0]),
				Previous: &previous,
			}
		}
	}

	for id, snap := range result {
		if snap == nil {
			logger.Info("No data returned for series %s", id)
		}
	}

	return result
}

func toObservation(seriesID string, p DataPoint) models.Observation {
	var footnotes []models.Footnote
	for _, f := range p.Footnotes {
		if f.Code == "" && f.Text == "" {
			continue
		}
		footnotes = append(footnotes, models.Footnote{Code: f.Code, Text: f.Text})
	}
	return models.Observation{
		SeriesID:   seriesID,
		Year:       p.Year,
		Period:     p.Period,
		PeriodName: p.PeriodName,
		Value:      p.Value,
		Footnotes:  footnotes,
	}
}
