package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/domain"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/observability"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/stations"
)

// Batch is one delivery of raw feed rows for a single station. Commit, when
// set, acknowledges the delivery upstream after the batch has been persisted.
type Batch struct {
	StationID string
	Rows      []map[string]string

	Topic     string
	Partition int
	Offset    int64
	Commit    func(ctx context.Context) error
}

// BatchSource produces raw reading batches. Next blocks until a batch is
// available or the context is cancelled.
type BatchSource interface {
	Next(ctx context.Context) (Batch, error)
}

// SeriesStore loads and persists per-station series records.
type SeriesStore interface {
	// Load returns the stored series for a station, or found=false when no
	// record exists yet.
	Load(ctx context.Context, stationID string) (series domain.Series, found bool, err error)
	Save(ctx context.Context, series domain.Series, report domain.Report) error
}

// ReportSink publishes reconciliation reports for downstream consumers.
type ReportSink interface {
	Publish(ctx context.Context, report domain.Report) error
}

// Pipeline orchestrates the load-merge-correct-save loop.
type Pipeline struct {
	source   BatchSource
	store    SeriesStore
	sink     ReportSink
	registry *stations.Registry
	logger   *slog.Logger
	metrics  *observability.Metrics

	thresholdMm  float64
	intervalMins int
	ready        atomic.Bool
	stationLocks sync.Map // station id -> *sync.Mutex
}

// New creates a Pipeline. A nil sink disables report publishing.
func New(source BatchSource, store SeriesStore, sink ReportSink, registry *stations.Registry,
	logger *slog.Logger, metrics *observability.Metrics, thresholdMm float64, intervalMins int) *Pipeline {
	return &Pipeline{
		source:       source,
		store:        store,
		sink:         sink,
		registry:     registry,
		logger:       logger,
		metrics:      metrics,
		thresholdMm:  thresholdMm,
		intervalMins: intervalMins,
	}
}

// CheckReadiness returns nil if the pipeline has persisted at least one batch,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any batches yet")
	}
	return nil
}

// Run executes the reconciliation loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "threshold_mm", p.thresholdMm, "interval_minutes", p.intervalMins)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processNext(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processNext handles one batch from the source. Returns false if the
// pipeline should stop.
func (p *Pipeline) processNext(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	batch, err := p.source.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("source failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}
	*backoff = 200 * time.Millisecond

	if len(batch.Rows) == 0 {
		p.commit(ctx, batch)
		return ctx.Err() == nil
	}

	if err := p.reconcileBatch(ctx, batch); err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("reconcile batch failed", "error", err, "station", batch.StationID)
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			// Malformed input cannot succeed on retry; drop it and move on.
			p.commit(ctx, batch)
			return true
		}
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	p.commit(ctx, batch)
	p.ready.Store(true)
	return true
}

// reconcileBatch runs one station batch through parse, merge, outlier
// correction, and persistence.
func (p *Pipeline) reconcileBatch(ctx context.Context, batch Batch) error {
	if batch.StationID == "" {
		return domain.NewValidationError("batch has no station id")
	}

	start := time.Now()

	station, known := p.registry.Lookup(batch.StationID)
	if !known {
		p.logger.Warn("batch for unregistered station", "station", batch.StationID)
	}

	fieldMap := p.registry.FieldMapFor(station.Source)
	readings, skipped := domain.ParseBatch(batch.Rows, fieldMap)
	if skipped > 0 {
		p.metrics.RowsSkipped.Add(float64(skipped))
		p.logger.Warn("skipped unparsable rows", "station", batch.StationID, "skipped", skipped)
	}

	p.metrics.BatchSize.Observe(float64(len(batch.Rows)))

	// Serialize per station so concurrent sources cannot interleave
	// load-modify-save cycles for the same gauge.
	unlock := p.lockStation(batch.StationID)
	defer unlock()

	existing, found, err := p.loadSeries(ctx, batch.StationID)
	if err != nil {
		return err
	}
	if !found {
		existing = p.registry.Series(batch.StationID)
	}

	series, report := domain.ReconcileWithInterval(existing, readings, p.thresholdMm, p.intervalMins)

	if err := p.saveSeries(ctx, series, report); err != nil {
		return err
	}

	p.metrics.BatchesProcessed.Inc()
	p.metrics.ReadingsMerged.Add(float64(report.Merge.Added + report.Merge.Replaced))
	p.metrics.OutliersDetected.Add(float64(len(report.Flags)))
	p.metrics.CorrectionsApplied.Add(float64(len(report.Corrections)))
	p.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())

	if report.HadOutliers() {
		p.logger.Info("corrected outliers",
			"station", batch.StationID,
			"run_id", report.RunID,
			"outliers", len(report.Flags),
			"corrections", len(report.Corrections),
		)
		p.publishReport(ctx, report)
	}

	return nil
}

func (p *Pipeline) loadSeries(ctx context.Context, stationID string) (domain.Series, bool, error) {
	start := time.Now()
	series, found, err := p.store.Load(ctx, stationID)
	p.metrics.StoreDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.StoreRequests.WithLabelValues("load", "error").Inc()
		return domain.Series{}, false, err
	}
	p.metrics.StoreRequests.WithLabelValues("load", "success").Inc()
	return series, found, nil
}

func (p *Pipeline) saveSeries(ctx context.Context, series domain.Series, report domain.Report) error {
	start := time.Now()
	err := p.store.Save(ctx, series, report)
	p.metrics.StoreDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.StoreRequests.WithLabelValues("save", "error").Inc()
		return err
	}
	p.metrics.StoreRequests.WithLabelValues("save", "success").Inc()
	return nil
}

// publishReport sends the report to the sink. Failures are logged, not
// retried; the corrected series is already persisted.
func (p *Pipeline) publishReport(ctx context.Context, report domain.Report) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Publish(ctx, report); err != nil {
		p.logger.Warn("publish report failed", "error", err, "run_id", report.RunID)
	}
}

func (p *Pipeline) lockStation(stationID string) func() {
	mu, _ := p.stationLocks.LoadOrStore(stationID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	return lock.Unlock
}

// commit acknowledges the batch upstream if a commit function is available.
func (p *Pipeline) commit(ctx context.Context, batch Batch) {
	if batch.Commit == nil {
		return
	}
	if err := batch.Commit(ctx); err != nil {
		p.logger.Warn("commit batch failed", "error", err,
			"topic", batch.Topic, "partition", batch.Partition, "offset", batch.Offset)
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current
// backoff, and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
