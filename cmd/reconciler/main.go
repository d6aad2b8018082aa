// Command reconciler runs the rain gauge reconciliation service: it consumes
// raw reading batches, merges them into per-station series, corrects outlier
// readings, and persists the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/adapter/blob"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/adapter/feed"
	httpadapter "github.com/couchcryptid/rain-gauge-reconciler/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/rain-gauge-reconciler/internal/adapter/kafka"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/adapter/postgres"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/config"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/observability"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/pipeline"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/stations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	registry, err := stations.Load(cfg.StationsFile)
	if err != nil {
		logger.Error("failed to load station registry", "error", err, "file", cfg.StationsFile)
		os.Exit(1)
	}
	logger.Info("station registry loaded", "stations", len(registry.All()), "file", cfg.StationsFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build series store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	source, sink, closeSource, err := buildSource(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build batch source", "error", err)
		os.Exit(1)
	}
	defer closeSource()

	p := pipeline.New(source, store, sink, registry, logger, metrics, cfg.ThresholdMm, cfg.SampleIntervalMinutes)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, registry, store, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start reconciliation pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// buildStore selects the series store backend from STORE_BACKEND.
func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.SeriesStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBlob:
		return blob.NewStore(cfg, logger), func() {}, nil
	case config.StorePostgres:
		store, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StoreMemory:
		logger.Warn("using in-memory store, records are lost on restart")
		return blob.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// buildSource selects the batch source from SOURCE_MODE. Kafka mode also
// publishes reconciliation reports back to the report topic.
func buildSource(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (pipeline.BatchSource, pipeline.ReportSink, func(), error) {
	switch cfg.SourceMode {
	case config.SourceKafka:
		reader := kafkaadapter.NewReader(cfg, logger)
		writer := kafkaadapter.NewWriter(cfg, logger)
		closeAll := func() {
			if err := reader.Close(); err != nil {
				logger.Error("kafka reader close error", "error", err)
			}
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}
		return reader, writer, closeAll, nil
	case config.SourcePoll:
		poller := feed.NewPoller(feed.NewClient(cfg, logger), cfg.FeedPollInterval, logger, metrics)
		if err := poller.Start(); err != nil {
			return nil, nil, nil, err
		}
		return poller, nil, poller.Stop, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown source mode %q", cfg.SourceMode)
	}
}
