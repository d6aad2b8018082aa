package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Layout strings for the split date+time pair used by provider feeds and the
// persisted record schema.
const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Reading is one timestamped rainfall measurement.
type Reading struct {
	// Timestamp is the end of the sampling interval, UTC, minute precision.
	Timestamp time.Time

	// RainfallMm is the amount fallen in the interval ending at Timestamp.
	RainfallMm float64

	// TotalMm is the provider-maintained running total, when present. It is
	// not authoritative: corrections adjust it (see Correct).
	TotalMm *float64

	// Correction bookkeeping, set only by Correct.
	Corrected        bool
	OriginalMm       *float64
	CorrectionReason string
	CorrectedAt      time.Time
}

// Key returns the reading's minute-precision identity within a series.
func (r Reading) Key() int64 {
	return MinuteKey(r.Timestamp)
}

// MinuteKey truncates a timestamp to the minute in UTC and returns it as Unix
// seconds. Readings with equal keys are the same underlying measurement.
func MinuteKey(t time.Time) int64 {
	return t.UTC().Truncate(time.Minute).Unix()
}

// Series is the full ordered rainfall history for one station. Readings are
// kept sorted ascending by timestamp with unique minute keys; Merge, Correct,
// and Reconcile preserve that invariant on every return.
type Series struct {
	StationID   string
	StationName string
	Region      string
	Source      string
	Readings    []Reading
}

// sortReadings orders readings ascending by timestamp in place. Keys are
// unique within a series, so the order is deterministic.
func sortReadings(readings []Reading) {
	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
}

// cloneReadings deep-copies a reading slice, reallocating the float pointers
// so mutations on the copy never alias the source.
func cloneReadings(readings []Reading) []Reading {
	out := make([]Reading, len(readings))
	for i, r := range readings {
		out[i] = r
		if r.TotalMm != nil {
			v := *r.TotalMm
			out[i].TotalMm = &v
		}
		if r.OriginalMm != nil {
			v := *r.OriginalMm
			out[i].OriginalMm = &v
		}
	}
	return out
}

// FieldMap names the columns a provider feed uses for the canonical reading
// fields. DateTime takes precedence over the Date+Time pair when both are
// mapped and the row carries a parsable value. Total is optional.
type FieldMap struct {
	Date     string `json:"date" validate:"required_without=DateTime"`
	Time     string `json:"time" validate:"required_without=DateTime"`
	DateTime string `json:"dateTime"`
	Rainfall string `json:"rainfall" validate:"required"`
	Total    string `json:"total"`
}

// DefaultFieldMap matches feeds that already use the canonical column names.
var DefaultFieldMap = FieldMap{
	Date:     "date",
	Time:     "time",
	DateTime: "dateTimeUtc",
	Rainfall: "rainfall_mm",
	Total:    "total_mm",
}

// ParseRow converts one flat feed row into a Reading using the provider's
// column mapping. An unparsable timestamp is an error and the row should be
// skipped; a non-numeric or negative rainfall value is coerced to 0, never an
// error, matching how the scrapers have always treated garbage cells.
func ParseRow(row map[string]string, fm FieldMap) (Reading, error) {
	ts, err := parseRowTimestamp(row, fm)
	if err != nil {
		return Reading{}, err
	}

	r := Reading{
		Timestamp:  ts,
		RainfallMm: parseRainfall(row[fm.Rainfall]),
	}
	if fm.Total != "" {
		if v, ok := parseOptionalFloat(row[fm.Total]); ok {
			r.TotalMm = &v
		}
	}
	return r, nil
}

// ParseBatch converts a batch of feed rows, dropping rows whose timestamp
// cannot be parsed. Returns the parsed readings and the number of rows
// skipped; a bad row is never fatal to the batch.
func ParseBatch(rows []map[string]string, fm FieldMap) ([]Reading, int) {
	readings := make([]Reading, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		r, err := ParseRow(row, fm)
		if err != nil {
			skipped++
			continue
		}
		readings = append(readings, r)
	}
	return readings, skipped
}

func parseRowTimestamp(row map[string]string, fm FieldMap) (time.Time, error) {
	if fm.DateTime != "" {
		if s := strings.TrimSpace(row[fm.DateTime]); s != "" {
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				return ts.UTC().Truncate(time.Minute), nil
			}
		}
	}
	return ParseDateTimePair(row[fm.Date], row[fm.Time])
}

// ParseDateTimePair combines a "YYYY-MM-DD" date and an "HH:mm" time into a
// UTC minute-precision timestamp.
func ParseDateTimePair(date, clockTime string) (time.Time, error) {
	date = strings.TrimSpace(date)
	clockTime = strings.TrimSpace(clockTime)

	ts, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+clockTime, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// parseRainfall parses a rainfall cell, returning 0 for empty, non-numeric,
// or negative values. Gauge feeds use sentinels like "-999" for faulted
// sensors; those read as zero rainfall rather than poisoning the series.
func parseRainfall(s string) float64 {
	v, ok := parseOptionalFloat(s)
	if !ok || v < 0 {
		return 0
	}
	return v
}

func parseOptionalFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
