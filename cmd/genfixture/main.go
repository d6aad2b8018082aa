// Command genfixture generates deterministic rain gauge fixtures for the
// test suites and local runs: a raw feed JSON file with injected outlier
// spikes, and the station records the service would persist after
// reconciling it. It uses the actual domain package so the expected output
// matches real pipeline behavior.
//
// Usage:
//
//	go run ./cmd/genfixture \
//	  -stations stations.json \
//	  -raw-out data/fixtures/feed.json \
//	  -records-dir data/fixtures/records
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/adapter/feed"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/domain"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/stations"
)

var baseTime = time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	stationsFile := flag.String("stations", "stations.json", "station registry file")
	rawOut := flag.String("raw-out", "", "output path for the raw feed JSON fixture")
	recordsDir := flag.String("records-dir", "", "output directory for expected station records")
	hours := flag.Int("hours", 6, "hours of readings per station at 15-minute spacing")
	spikes := flag.Int("spikes", 2, "outlier spikes injected per station")
	threshold := flag.Float64("threshold", domain.DefaultThresholdMm, "outlier threshold in mm")
	seed := flag.Int64("seed", 1, "rng seed, same seed reproduces the same fixture")
	flag.Parse()

	if *rawOut == "" || *recordsDir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -raw-out, -records-dir")
	}

	registry, err := stations.Load(*stationsFile)
	if err != nil {
		return fmt.Errorf("load stations: %w", err)
	}

	// Fixed clock for reproducible correction timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewSource(*seed))

	var entries []feed.StationRows
	for _, st := range registry.All() {
		rows := generateRows(rng, *hours, *spikes, *threshold)
		entries = append(entries, feed.StationRows{Station: st.ID, Rows: rows})

		record, outliers, err := reconcileRows(registry, st.ID, rows, *threshold)
		if err != nil {
			return fmt.Errorf("station %s: %w", st.ID, err)
		}
		path := filepath.Join(*recordsDir, st.ID+".json")
		if err := writeFile(path, record); err != nil {
			return fmt.Errorf("writing record for %s: %w", st.ID, err)
		}
		log.Printf("%s: %d rows, %d outliers corrected", st.ID, len(rows), outliers)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFile(*rawOut, append(data, '\n')); err != nil {
		return fmt.Errorf("writing raw fixture: %w", err)
	}
	log.Printf("wrote raw feed fixture: %s", *rawOut)
	return nil
}

// generateRows produces hours*4 readings at 15-minute spacing with plausible
// light rainfall, then overwrites a few slots with spikes above the threshold.
func generateRows(rng *rand.Rand, hours, spikes int, threshold float64) []map[string]string {
	n := hours * 4
	values := make([]float64, n)
	for i := range values {
		// Mostly drizzle with dry stretches.
		if rng.Float64() < 0.4 {
			values[i] = 0
		} else {
			values[i] = float64(rng.Intn(50)) / 10.0
		}
	}
	for s := 0; s < spikes && n > 0; s++ {
		idx := rng.Intn(n)
		values[idx] = threshold + 5 + float64(rng.Intn(40))
	}

	total := 0.0
	rows := make([]map[string]string, n)
	for i, v := range values {
		ts := baseTime.Add(time.Duration(i) * 15 * time.Minute)
		total += v
		rows[i] = map[string]string{
			"date":        ts.Format("2006-01-02"),
			"time":        ts.Format("15:04"),
			"rainfall_mm": fmt.Sprintf("%g", v),
			"total_mm":    fmt.Sprintf("%g", total),
		}
	}
	return rows
}

// reconcileRows runs the rows through the real reconciliation path and
// returns the encoded record the service would persist.
func reconcileRows(registry *stations.Registry, stationID string, rows []map[string]string, threshold float64) ([]byte, int, error) {
	st, _ := registry.Lookup(stationID)
	readings, skipped := domain.ParseBatch(rows, registry.FieldMapFor(st.Source))
	if skipped > 0 {
		return nil, 0, fmt.Errorf("%d generated rows failed to parse", skipped)
	}

	series, report := domain.Reconcile(registry.Series(stationID), readings, threshold)
	record, err := domain.EncodeRecord(series, report)
	if err != nil {
		return nil, 0, err
	}
	return record, len(report.Flags), nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
