package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/econwatch/internal/metrics"
	"github.com/rewired-gh/econwatch/internal/models"
	"github.com/rewired-gh/econwatch/internal/storage"
)

func mustStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, NewRouter(mustStore(t), nil), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	store := mustStore(t)
	router := NewRouter(store, nil)

	rec := get(t, router, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, store.Close())
	rec = get(t, router, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventsEndpoints(t *testing.T) {
	store := mustStore(t)
	router := NewRouter(store, nil)

	rec := get(t, router, "/events/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, router, "/events/count")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0}`, rec.Body.String())

	_, err := store.Append(context.Background(), []models.Event{{
		Type:          models.EventTypeDataRelease,
		SeriesID:      "LNS14000000",
		Year:          "2024",
		Period:        "M01",
		Value:         "3.7",
		PreviousValue: "3.8",
		ExpectedValue: "~3.9%",
		Description:   "Unemployment Rate data released: Latest = 3.7, Previous = 3.8, Expected = ~3.9%, Period = 2024 M01",
		Timestamp:     models.FormatTimestamp(time.Date(2024, 2, 2, 13, 30, 0, 0, time.UTC)),
		Source:        models.SourceBLS,
	}})
	require.NoError(t, err)

	rec = get(t, router, "/events/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var event models.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, "LNS14000000", event.SeriesID)
	assert.Equal(t, "3.7", event.Value)

	rec = get(t, router, "/events/count")
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())
}

type brokenStore struct{}

func (brokenStore) Latest(ctx context.Context) (*models.Event, error) {
	return nil, errors.New("disk I/O error")
}
func (brokenStore) Count(ctx context.Context) (int64, error) { return 0, errors.New("disk I/O error") }
func (brokenStore) Ping(ctx context.Context) error           { return errors.New("disk I/O error") }

func TestEventsEndpoints_StoreError(t *testing.T) {
	router := NewRouter(brokenStore{}, nil)

	assert.Equal(t, http.StatusInternalServerError, get(t, router, "/events/latest").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, router, "/events/count").Code)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.PollCycles.WithLabelValues(metrics.ResultSuccess).Inc()

	rec := get(t, NewRouter(mustStore(t), reg), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `econwatch_poll_cycles_total{result="success"} 1`)
}

func TestMetrics_DisabledWithoutGatherer(t *testing.T) {
	rec := get(t, NewRouter(mustStore(t), nil), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", NewRouter(mustStore(t), nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
