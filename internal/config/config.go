package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Source and store backend selectors.
const (
	SourceKafka = "kafka"
	SourcePoll  = "poll"

	StoreBlob     = "blob"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	SourceMode string

	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaReportTopic string
	KafkaGroupID     string

	FeedURL          string
	FeedTimeout      time.Duration
	FeedPollInterval time.Duration

	StoreBackend string
	BlobBaseURL  string
	BlobTimeout  time.Duration
	DatabaseURL  string

	ThresholdMm           float64
	SampleIntervalMinutes int
	StationsFile          string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	feedTimeout, err := parseDuration("FEED_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	pollInterval, err := parseDuration("FEED_POLL_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}
	blobTimeout, err := parseDuration("BLOB_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	threshold, err := parseFloat("OUTLIER_THRESHOLD_MM", "25")
	if err != nil {
		return nil, err
	}
	interval, err := parseInt("SAMPLE_INTERVAL_MINUTES", "15")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SourceMode: envOrDefault("SOURCE_MODE", SourceKafka),

		KafkaBrokers:     splitBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: envOrDefault("KAFKA_SOURCE_TOPIC", "raw-gauge-readings"),
		KafkaReportTopic: envOrDefault("KAFKA_REPORT_TOPIC", "reconciliation-reports"),
		KafkaGroupID:     envOrDefault("KAFKA_GROUP_ID", "rain-gauge-reconciler"),

		FeedURL:          os.Getenv("FEED_URL"),
		FeedTimeout:      feedTimeout,
		FeedPollInterval: pollInterval,

		StoreBackend: envOrDefault("STORE_BACKEND", StoreMemory),
		BlobBaseURL:  os.Getenv("BLOB_BASE_URL"),
		BlobTimeout:  blobTimeout,
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		ThresholdMm:           threshold,
		SampleIntervalMinutes: interval,
		StationsFile:          envOrDefault("STATIONS_FILE", "stations.json"),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.SourceMode {
	case SourceKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaSourceTopic == "" {
			return errors.New("KAFKA_SOURCE_TOPIC is required")
		}
	case SourcePoll:
		if c.FeedURL == "" {
			return errors.New("FEED_URL is required when SOURCE_MODE=poll")
		}
		if c.FeedPollInterval <= 0 {
			return errors.New("invalid FEED_POLL_INTERVAL")
		}
	default:
		return fmt.Errorf("unknown SOURCE_MODE %q (want kafka or poll)", c.SourceMode)
	}

	switch c.StoreBackend {
	case StoreBlob:
		if c.BlobBaseURL == "" {
			return errors.New("BLOB_BASE_URL is required when STORE_BACKEND=blob")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want blob, postgres, or memory)", c.StoreBackend)
	}

	if c.ThresholdMm <= 0 {
		return errors.New("OUTLIER_THRESHOLD_MM must be positive")
	}
	if c.SampleIntervalMinutes <= 0 {
		return errors.New("SAMPLE_INTERVAL_MINUTES must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseFloat(key, fallback string) (float64, error) {
	f, err := strconv.ParseFloat(envOrDefault(key, fallback), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

func parseInt(key, fallback string) (int, error) {
	n, err := strconv.Atoi(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
