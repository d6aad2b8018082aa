// Package feed polls an upstream HTTP endpoint that serves raw gauge
// readings, for providers that expose a JSON feed instead of a topic.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/config"
)

// StationRows is one station's portion of a feed response.
type StationRows struct {
	Station string              `json:"station"`
	Rows    []map[string]string `json:"rows"`
}

// Client fetches the configured feed URL.
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a feed client with the configured timeout.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		url:    cfg.FeedURL,
		client: &http.Client{Timeout: cfg.FeedTimeout},
		logger: logger,
	}
}

// Fetch retrieves the current feed contents, one entry per station.
func (c *Client) Fetch(ctx context.Context) ([]StationRows, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	var entries []StationRows
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	return entries, nil
}
