package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/config"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/observability"
)

const feedPayload = `[
	{
		"station": "gauge-001",
		"rows": [
			{"date": "2024-05-01", "time": "00:00", "rainfall_mm": "0.5"},
			{"date": "2024-05-01", "time": "00:15", "rainfall_mm": "1.2"}
		]
	},
	{
		"station": "gauge-002",
		"rows": [{"date": "2024-05-01", "time": "00:00", "rainfall_mm": "2.0"}]
	},
	{"station": "", "rows": [{"date": "2024-05-01", "time": "00:00", "rainfall_mm": "9.9"}]},
	{"station": "gauge-003", "rows": []}
]`

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	return NewClient(&config.Config{FeedURL: url, FeedTimeout: 2 * time.Second}, slog.Default())
}

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(feedPayload))
	}))
	defer srv.Close()

	entries, err := testClient(t, srv.URL).Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "gauge-001", entries[0].Station)
	require.Len(t, entries[0].Rows, 2)
	assert.Equal(t, "1.2", entries[0].Rows[1]["rainfall_mm"])
}

func TestClient_FetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Fetch(context.Background())
	assert.Error(t, err)
}

func TestClient_FetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>nope</html>"))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Fetch(context.Background())
	assert.Error(t, err)
}

func TestPoller_QueuesStationBatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedPayload))
	}))
	defer srv.Close()

	p := NewPoller(testClient(t, srv.URL), time.Minute, slog.Default(), observability.NewMetricsForTesting())
	p.poll(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gauge-001", first.StationID)
	assert.Len(t, first.Rows, 2)

	second, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gauge-002", second.StationID)

	// Entries without a station id or without rows are not queued.
	drained, cancelFast := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelFast()
	_, err = p.Next(drained)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoller_NextHonorsContext(t *testing.T) {
	p := NewPoller(testClient(t, "http://unused"), time.Minute, slog.Default(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoller_PollErrorQueuesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPoller(testClient(t, srv.URL), time.Minute, slog.Default(), observability.NewMetricsForTesting())
	p.poll(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
