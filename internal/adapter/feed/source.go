package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/observability"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/pipeline"
)

// Poller periodically fetches the feed and hands the station batches to the
// pipeline. It implements pipeline.BatchSource.
type Poller struct {
	client    *Client
	scheduler *gocron.Scheduler
	logger    *slog.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	batches   chan pipeline.Batch
}

// NewPoller creates a Poller that fetches every interval.
func NewPoller(client *Client, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Poller {
	return &Poller{
		client:    client,
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    logger,
		metrics:   metrics,
		interval:  interval,
		batches:   make(chan pipeline.Batch, 64),
	}
}

// Start schedules the periodic fetch job and runs it immediately once so the
// service does not sit idle for a full interval after boot.
func (p *Poller) Start() error {
	_, err := p.scheduler.Every(p.interval).StartImmediately().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.interval)
		defer cancel()
		p.poll(ctx)
	})
	if err != nil {
		return err
	}
	p.scheduler.StartAsync()
	return nil
}

// Stop cancels future fetch jobs.
func (p *Poller) Stop() {
	p.scheduler.Stop()
}

// Next blocks until a polled batch is available or the context is cancelled.
func (p *Poller) Next(ctx context.Context) (pipeline.Batch, error) {
	select {
	case <-ctx.Done():
		return pipeline.Batch{}, ctx.Err()
	case batch := <-p.batches:
		return batch, nil
	}
}

// poll fetches the feed once and queues each station's rows. A full queue
// drops the batch; the next poll re-fetches the same window.
func (p *Poller) poll(ctx context.Context) {
	entries, err := p.client.Fetch(ctx)
	if err != nil {
		p.metrics.FeedPolls.WithLabelValues("error").Inc()
		p.logger.Error("feed poll failed", "error", err)
		return
	}
	if len(entries) == 0 {
		p.metrics.FeedPolls.WithLabelValues("empty").Inc()
		return
	}
	p.metrics.FeedPolls.WithLabelValues("success").Inc()

	for _, entry := range entries {
		if entry.Station == "" || len(entry.Rows) == 0 {
			continue
		}
		select {
		case p.batches <- pipeline.Batch{StationID: entry.Station, Rows: entry.Rows}:
		default:
			p.logger.Warn("batch queue full, dropping poll result", "station", entry.Station)
		}
	}
}
