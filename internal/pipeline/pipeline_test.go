package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/domain"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/observability"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/pipeline"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/stations"
)

// --- mocks ---

type mockSource struct {
	batches []pipeline.Batch
	index   atomic.Int64
}

func (m *mockSource) Next(ctx context.Context) (pipeline.Batch, error) {
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for deliveries
		<-ctx.Done()
		return pipeline.Batch{}, ctx.Err()
	}
	return m.batches[i], nil
}

type mockStore struct {
	mu      sync.Mutex
	series  map[string]domain.Series
	loadErr error
	saveErr error
	saves   int
}

func newMockStore() *mockStore {
	return &mockStore{series: make(map[string]domain.Series)}
}

func (m *mockStore) Load(_ context.Context, stationID string) (domain.Series, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.Series{}, false, m.loadErr
	}
	s, ok := m.series[stationID]
	return s, ok, nil
}

func (m *mockStore) Save(_ context.Context, series domain.Series, _ domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.series[series.StationID] = series
	m.saves++
	return nil
}

func (m *mockStore) get(stationID string) (domain.Series, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[stationID]
	return s, ok
}

type mockSink struct {
	mu      sync.Mutex
	reports []domain.Report
}

func (m *mockSink) Publish(_ context.Context, report domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

func (m *mockSink) published() []domain.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Report(nil), m.reports...)
}

// --- helpers ---

func testRegistry(t *testing.T) *stations.Registry {
	t.Helper()
	r, err := stations.Parse([]byte(`{
		"stations": [{"id": "gauge-001", "name": "North Basin", "region": "Antioquia", "source": "siata"}]
	}`))
	require.NoError(t, err)
	return r
}

func makeRows(values ...float64) []map[string]string {
	rows := make([]map[string]string, len(values))
	for i, v := range values {
		rows[i] = map[string]string{
			"date":        "2024-05-01",
			"time":        fmt.Sprintf("%02d:%02d", i/4, (i%4)*15),
			"rainfall_mm": fmt.Sprintf("%g", v),
		}
	}
	return rows
}

func newPipeline(src pipeline.BatchSource, store pipeline.SeriesStore, sink pipeline.ReportSink, reg *stations.Registry) *pipeline.Pipeline {
	return pipeline.New(src, store, sink, reg, slog.Default(), observability.NewMetricsForTesting(), 25, 15)
}

func runUntilTimeout(t *testing.T, p *pipeline.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	src := &mockSource{batches: []pipeline.Batch{
		{StationID: "gauge-001", Rows: makeRows(0.5, 1.2, 2.1)},
	}}
	store := newMockStore()
	sink := &mockSink{}

	p := newPipeline(src, store, sink, testRegistry(t))
	runUntilTimeout(t, p)

	saved, ok := store.get("gauge-001")
	require.True(t, ok)
	assert.Len(t, saved.Readings, 3)
	assert.Equal(t, "North Basin", saved.StationName, "identity seeded from the registry")
	assert.Empty(t, sink.published(), "clean batch publishes no report")
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	src := &mockSource{} // no batches, will block
	store := newMockStore()

	p := newPipeline(src, store, nil, testRegistry(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Zero(t, store.saves)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_MergesAcrossBatches(t *testing.T) {
	src := &mockSource{batches: []pipeline.Batch{
		{StationID: "gauge-001", Rows: makeRows(0.5, 1.2)},
		{StationID: "gauge-001", Rows: []map[string]string{
			{"date": "2024-05-01", "time": "00:15", "rainfall_mm": "3.0"},
			{"date": "2024-05-01", "time": "00:30", "rainfall_mm": "0.8"},
		}},
	}}
	store := newMockStore()

	p := newPipeline(src, store, nil, testRegistry(t))
	runUntilTimeout(t, p)

	saved, ok := store.get("gauge-001")
	require.True(t, ok)
	require.Len(t, saved.Readings, 3)
	assert.Equal(t, 3.0, saved.Readings[1].RainfallMm, "larger overlapping value wins")
}

func TestPipeline_Run_PublishesReportOnOutliers(t *testing.T) {
	src := &mockSource{batches: []pipeline.Batch{
		{StationID: "gauge-001", Rows: makeRows(0.5, 40.0, 1.2)},
	}}
	store := newMockStore()
	sink := &mockSink{}

	p := newPipeline(src, store, sink, testRegistry(t))
	runUntilTimeout(t, p)

	saved, ok := store.get("gauge-001")
	require.True(t, ok)
	assert.True(t, saved.Readings[1].Corrected)

	reports := sink.published()
	require.Len(t, reports, 1)
	assert.Equal(t, "gauge-001", reports[0].Station)
	assert.Len(t, reports[0].Flags, 1)
}

func TestPipeline_Run_CommitsAfterSave(t *testing.T) {
	var commits atomic.Int32
	src := &mockSource{batches: []pipeline.Batch{
		{
			StationID: "gauge-001",
			Rows:      makeRows(0.5),
			Commit: func(_ context.Context) error {
				commits.Add(1)
				return nil
			},
		},
	}}
	store := newMockStore()

	p := newPipeline(src, store, nil, testRegistry(t))
	runUntilTimeout(t, p)

	assert.Equal(t, int32(1), commits.Load())
}

func TestPipeline_Run_MissingStationIDIsDropped(t *testing.T) {
	committed := false
	src := &mockSource{batches: []pipeline.Batch{
		{
			Rows: makeRows(0.5),
			Commit: func(_ context.Context) error {
				committed = true
				return nil
			},
		},
		{StationID: "gauge-001", Rows: makeRows(1.0)},
	}}
	store := newMockStore()

	p := newPipeline(src, store, nil, testRegistry(t))
	runUntilTimeout(t, p)

	// The malformed batch is acknowledged and the pipeline moves on.
	assert.True(t, committed)
	_, ok := store.get("gauge-001")
	assert.True(t, ok)
}

func TestPipeline_Run_EmptyBatchIsAcknowledged(t *testing.T) {
	committed := false
	src := &mockSource{batches: []pipeline.Batch{
		{
			StationID: "gauge-001",
			Commit: func(_ context.Context) error {
				committed = true
				return nil
			},
		},
	}}
	store := newMockStore()

	p := newPipeline(src, store, nil, testRegistry(t))
	runUntilTimeout(t, p)

	assert.True(t, committed)
	assert.Zero(t, store.saves)
}

func TestPipeline_Run_SaveErrorDoesNotCommit(t *testing.T) {
	committed := false
	src := &mockSource{batches: []pipeline.Batch{
		{
			StationID: "gauge-001",
			Rows:      makeRows(0.5),
			Commit: func(_ context.Context) error {
				committed = true
				return nil
			},
		},
	}}
	store := newMockStore()
	store.saveErr = errors.New("store down")

	p := newPipeline(src, store, nil, testRegistry(t))
	runUntilTimeout(t, p)

	assert.False(t, committed, "failed batch must stay uncommitted for redelivery")
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_UnregisteredStationStillProcessed(t *testing.T) {
	src := &mockSource{batches: []pipeline.Batch{
		{StationID: "gauge-999", Rows: makeRows(0.5, 1.0)},
	}}
	store := newMockStore()

	p := newPipeline(src, store, nil, testRegistry(t))
	runUntilTimeout(t, p)

	saved, ok := store.get("gauge-999")
	require.True(t, ok)
	assert.Len(t, saved.Readings, 2)
	assert.Empty(t, saved.StationName)
}
