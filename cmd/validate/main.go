// Command validate performs integrity checks over a directory of persisted
// station records: schema shape, timestamp ordering and uniqueness,
// correction bookkeeping, and outlier metadata consistency. It exits
// non-zero when any check fails, so it can gate deployments on stored data.
//
// Usage:
//
//	go run ./cmd/validate -records-dir data/fixtures/records -threshold 25
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	recordsDir := flag.String("records-dir", "", "directory containing persisted station record JSON files")
	threshold := flag.Float64("threshold", domain.DefaultThresholdMm, "outlier threshold the records were produced with")
	flag.Parse()

	if *recordsDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*recordsDir, *threshold); code != 0 {
		os.Exit(code)
	}
}

// storedRecord mirrors the persisted document for checks that need the raw
// rows rather than the parsed series.
type storedRecord struct {
	LastUpdated time.Time        `json:"lastUpdated"`
	Station     string           `json:"station"`
	Data        []storedRow      `json:"data"`
	Meta        *storedOutlierMD `json:"outlierDetection"`
}

type storedRow struct {
	Date                string   `json:"date"`
	Time                string   `json:"time"`
	DateTimeUtc         string   `json:"dateTimeUtc"`
	RainfallMm          float64  `json:"rainfall_mm"`
	TotalMm             *float64 `json:"total_mm"`
	Corrected           bool     `json:"corrected"`
	OriginalRainfallMm  *float64 `json:"original_rainfall_mm"`
	CorrectionReason    string   `json:"correction_reason"`
	CorrectionTimestamp string   `json:"correction_timestamp"`
}

type storedOutlierMD struct {
	DetectedAt       time.Time `json:"detectedAt"`
	Threshold        float64   `json:"threshold"`
	OutliersFound    int       `json:"outliersFound"`
	CorrectionsMade  int       `json:"correctionsMade"`
	CorrectionMethod string    `json:"correctionMethod"`
}

func run(recordsDir string, threshold float64) int {
	fmt.Println("=== Station Record Integrity Validation ===")
	fmt.Println()

	paths, err := filepath.Glob(filepath.Join(recordsDir, "*.json"))
	if err != nil || len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "FATAL: no record files found in %s\n", recordsDir)
		return 1
	}
	sort.Strings(paths)

	records := map[string]*storedRecord{}
	decodePhase := &phase{name: "Phase 1: Schema (decode + identity)"}
	for _, path := range paths {
		name := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			decodePhase.errorf("%s: read: %v", name, err)
			continue
		}

		// The domain codec is the authority on whether a record is valid.
		if _, _, err := domain.DecodeRecord(data); err != nil {
			decodePhase.errorf("%s: %v", name, err)
			continue
		}

		var rec storedRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			decodePhase.errorf("%s: %v", name, err)
			continue
		}
		if want := strings.TrimSuffix(name, ".json"); rec.Station != want {
			decodePhase.errorf("%s: station %q does not match file name", name, rec.Station)
		}
		if rec.LastUpdated.IsZero() {
			decodePhase.errorf("%s: lastUpdated is zero", name)
		}
		records[name] = &rec
	}

	phases := []*phase{
		decodePhase,
		validateOrdering(records),
		validateCorrections(records, threshold),
		validateMetadata(records),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-44s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d files, %d decoded\n", len(paths), len(records))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 2: Ordering ──
// Rows must be strictly ascending with no duplicate minute keys.

func validateOrdering(records map[string]*storedRecord) *phase {
	p := &phase{name: "Phase 2: Ordering (ascending, unique minutes)"}

	for name, rec := range records {
		var prev time.Time
		for i, row := range rec.Data {
			ts, err := rowTimestamp(row)
			if err != nil {
				p.errorf("%s row %d: %v", name, i, err)
				continue
			}
			if i > 0 && !ts.After(prev) {
				p.errorf("%s row %d: timestamp %s not after previous %s",
					name, i, ts.Format(time.RFC3339), prev.Format(time.RFC3339))
			}
			prev = ts
		}
	}
	return p
}

// ── Phase 3: Corrections ──
// No stored value may exceed the threshold, and corrected rows must carry
// their full audit trail.

func validateCorrections(records map[string]*storedRecord, threshold float64) *phase {
	p := &phase{name: "Phase 3: Corrections (audit trail, threshold)"}

	for name, rec := range records {
		for i, row := range rec.Data {
			if row.RainfallMm > threshold {
				p.errorf("%s row %d: rainfall %g exceeds threshold %g and was not corrected",
					name, i, row.RainfallMm, threshold)
			}
			if row.RainfallMm < 0 {
				p.errorf("%s row %d: negative rainfall %g", name, i, row.RainfallMm)
			}
			if row.TotalMm != nil && *row.TotalMm < 0 {
				p.errorf("%s row %d: negative total %g", name, i, *row.TotalMm)
			}

			if row.Corrected {
				if row.OriginalRainfallMm == nil {
					p.errorf("%s row %d: corrected without original_rainfall_mm", name, i)
				} else if *row.OriginalRainfallMm <= threshold {
					p.errorf("%s row %d: corrected but original %g is within threshold",
						name, i, *row.OriginalRainfallMm)
				}
				if row.CorrectionReason == "" {
					p.errorf("%s row %d: corrected without correction_reason", name, i)
				}
				if row.CorrectionTimestamp == "" {
					p.errorf("%s row %d: corrected without correction_timestamp", name, i)
				}
			} else {
				if row.OriginalRainfallMm != nil || row.CorrectionReason != "" || row.CorrectionTimestamp != "" {
					p.errorf("%s row %d: uncorrected row carries correction fields", name, i)
				}
			}
		}
	}
	return p
}

// ── Phase 4: Metadata ──
// The outlierDetection block must agree with the data rows.

func validateMetadata(records map[string]*storedRecord) *phase {
	p := &phase{name: "Phase 4: Metadata (outlierDetection block)"}

	for name, rec := range records {
		corrected := 0
		for _, row := range rec.Data {
			if row.Corrected {
				corrected++
			}
		}

		if rec.Meta == nil {
			if corrected > 0 {
				p.errorf("%s: %d corrected rows but no outlierDetection block", name, corrected)
			}
			continue
		}

		if rec.Meta.CorrectionsMade < corrected {
			p.errorf("%s: outlierDetection.correctionsMade=%d but %d rows are corrected",
				name, rec.Meta.CorrectionsMade, corrected)
		}
		if rec.Meta.OutliersFound < rec.Meta.CorrectionsMade {
			p.errorf("%s: outliersFound=%d < correctionsMade=%d",
				name, rec.Meta.OutliersFound, rec.Meta.CorrectionsMade)
		}
		if rec.Meta.Threshold <= 0 {
			p.errorf("%s: non-positive threshold %g", name, rec.Meta.Threshold)
		}
		if rec.Meta.DetectedAt.IsZero() {
			p.errorf("%s: detectedAt is zero", name)
		}
		if rec.Meta.CorrectionMethod != "intelligent_interpolation" {
			p.errorf("%s: unexpected correctionMethod %q", name, rec.Meta.CorrectionMethod)
		}
	}
	return p
}

func rowTimestamp(row storedRow) (time.Time, error) {
	if row.DateTimeUtc != "" {
		ts, err := time.Parse(time.RFC3339, row.DateTimeUtc)
		if err == nil {
			return ts.UTC(), nil
		}
	}
	ts, err := time.Parse("2006-01-02 15:04", row.Date+" "+row.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparsable timestamp %q %q", row.Date, row.Time)
	}
	return ts.UTC(), nil
}
