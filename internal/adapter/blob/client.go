// Package blob persists station records as JSON documents in an HTTP
// key-value store, one object per station.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/config"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/domain"
)

// Store reads and writes station records at {baseURL}/{stationID}.json.
// It implements pipeline.SeriesStore.
type Store struct {
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewStore creates a blob store client with a circuit breaker so a dead
// backend fails fast instead of tying up pipeline cycles.
func NewStore(cfg *config.Config, logger *slog.Logger) *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "blob-store",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
	})
	return &Store{
		baseURL: strings.TrimRight(cfg.BlobBaseURL, "/"),
		client:  &http.Client{Timeout: cfg.BlobTimeout},
		circuit: cb,
		logger:  logger,
	}
}

// Load fetches and decodes the station's record. A 404 means no record
// exists yet and is not an error.
func (s *Store) Load(ctx context.Context, stationID string) (domain.Series, bool, error) {
	body, found, err := s.get(ctx, s.objectURL(stationID))
	if err != nil {
		return domain.Series{}, false, fmt.Errorf("load station %s: %w", stationID, err)
	}
	if !found {
		return domain.Series{}, false, nil
	}

	series, skipped, err := domain.DecodeRecord(body)
	if err != nil {
		return domain.Series{}, false, fmt.Errorf("load station %s: %w", stationID, err)
	}
	if skipped > 0 {
		s.logger.Warn("dropped unparsable rows from stored record", "station", stationID, "skipped", skipped)
	}
	return series, true, nil
}

// Save encodes the series and writes it back to the store.
func (s *Store) Save(ctx context.Context, series domain.Series, report domain.Report) error {
	data, err := domain.EncodeRecord(series, report)
	if err != nil {
		return fmt.Errorf("save station %s: %w", series.StationID, err)
	}
	if err := s.put(ctx, s.objectURL(series.StationID), data); err != nil {
		return fmt.Errorf("save station %s: %w", series.StationID, err)
	}
	return nil
}

func (s *Store) objectURL(stationID string) string {
	return s.baseURL + "/" + stationID + ".json"
}

func (s *Store) get(ctx context.Context, url string) (body []byte, found bool, err error) {
	result, err := s.circuit.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return []byte(nil), nil
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, false, fmt.Errorf("blob store unavailable: %w", err)
		}
		return nil, false, err
	}
	body = result.([]byte)
	return body, body != nil, nil
}

func (s *Store) put(ctx context.Context, url string, data []byte) error {
	_, err := s.circuit.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		return fmt.Errorf("blob store unavailable: %w", err)
	}
	return err
}
