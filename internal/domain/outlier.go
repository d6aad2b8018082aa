package domain

import (
	"fmt"
	"sort"
	"time"
)

const (
	// DefaultThresholdMm is the rainfall amount above which a single reading
	// is physically implausible for one nominal sampling interval.
	DefaultThresholdMm = 25.0

	// DefaultSampleIntervalMinutes is the nominal spacing between readings
	// the threshold is defined against. The detector does not verify the
	// actual spacing.
	DefaultSampleIntervalMinutes = 15

	// correctionWindow is the number of positions scanned on each side of a
	// flagged reading when gathering local-median candidates: ±6 readings,
	// i.e. ±1.5 h at 15-minute spacing.
	correctionWindow = 6

	// minMedianSamples is the smallest candidate count the local-median tier
	// accepts before falling through to interpolation.
	minMedianSamples = 3
)

// OutlierFlag marks one reading whose rainfall exceeds the threshold.
type OutlierFlag struct {
	Index      int       `json:"index"`
	Timestamp  time.Time `json:"timestamp"`
	RainfallMm float64   `json:"rainfall_mm"`
	Reason     string    `json:"reason"`
}

// Correction records one applied replacement.
type Correction struct {
	Index       int       `json:"index"`
	Timestamp   time.Time `json:"timestamp"`
	OriginalMm  float64   `json:"original_mm"`
	CorrectedMm float64   `json:"corrected_mm"`
	Method      string    `json:"method"`
}

// Detect scans a series and flags every reading whose rainfall exceeds
// thresholdMm. The threshold is a flat per-interval limit applied uniformly
// regardless of the actual elapsed time between readings. Pure: the series is
// not mutated and the output is deterministic.
func Detect(series Series, thresholdMm float64) []OutlierFlag {
	var flags []OutlierFlag
	for i, r := range series.Readings {
		if r.RainfallMm <= thresholdMm {
			continue
		}
		flags = append(flags, OutlierFlag{
			Index:      i,
			Timestamp:  r.Timestamp,
			RainfallMm: r.RainfallMm,
			Reason:     fmt.Sprintf("rainfall %g mm exceeds %g mm per interval", r.RainfallMm, thresholdMm),
		})
	}
	return flags
}

// Correct computes a replacement value for each flagged reading and returns a
// new series with the corrections applied.
//
// Every replacement is computed from the original, uncorrected series, so the
// value chosen for one flag never reads values rewritten for another and the
// results are independent of flag order. The write-back then happens in
// ascending index order so cumulative-total deltas compose additively when a
// series contains multiple outliers.
//
// Unflagged readings come back untouched except for the total adjustment. The
// ladder always terminates (tier 4 is unconditional), so Correct never fails.
func Correct(series Series, flags []OutlierFlag, thresholdMm float64) (Series, []Correction) {
	out := series
	out.Readings = cloneReadings(series.Readings)
	if len(flags) == 0 {
		return out, nil
	}

	original := series.Readings

	ordered := make([]OutlierFlag, len(flags))
	copy(ordered, flags)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	now := clock.Now().UTC()
	corrections := make([]Correction, 0, len(ordered))

	for _, f := range ordered {
		if f.Index < 0 || f.Index >= len(original) {
			continue
		}

		value, method := replacementValue(original, f.Index, thresholdMm)
		origVal := original[f.Index].RainfallMm

		r := &out.Readings[f.Index]
		r.RainfallMm = value
		r.Corrected = true
		r.OriginalMm = &origVal
		r.CorrectionReason = method
		r.CorrectedAt = now

		// Propagate the correction onto the running total of this reading
		// and every later one, floored at zero.
		if r.TotalMm != nil {
			delta := value - origVal
			for k := f.Index; k < len(out.Readings); k++ {
				if out.Readings[k].TotalMm == nil {
					continue
				}
				adjusted := *out.Readings[k].TotalMm + delta
				if adjusted < 0 {
					adjusted = 0
				}
				*out.Readings[k].TotalMm = adjusted
			}
		}

		corrections = append(corrections, Correction{
			Index:       f.Index,
			Timestamp:   original[f.Index].Timestamp,
			OriginalMm:  origVal,
			CorrectedMm: value,
			Method:      method,
		})
	}

	return out, corrections
}

// replacementValue evaluates the fallback ladder for the reading at index i,
// reading only from the original series.
func replacementValue(original []Reading, i int, thresholdMm float64) (float64, string) {
	// Tier 1: median of the non-outlier values in the ±correctionWindow
	// neighborhood, excluding the flagged reading itself.
	lo := i - correctionWindow
	if lo < 0 {
		lo = 0
	}
	hi := i + correctionWindow
	if hi > len(original)-1 {
		hi = len(original) - 1
	}

	var local []float64
	for j := lo; j <= hi; j++ {
		if j == i || original[j].RainfallMm > thresholdMm {
			continue
		}
		local = append(local, original[j].RainfallMm)
	}
	if len(local) >= minMedianSamples {
		return median(local), fmt.Sprintf("local median of %d nearby values", len(local))
	}

	// Tiers 2 and 3: nearest non-outlier neighbor on each side, unbounded.
	prev, hasPrev := scanValid(original, i, -1, thresholdMm)
	next, hasNext := scanValid(original, i, +1, thresholdMm)

	switch {
	case hasPrev && hasNext:
		return (prev + next) / 2, "linear interpolation"
	case hasPrev:
		return prev, "previous valid value"
	case hasNext:
		return next, "next valid value"
	}

	// Tier 4: the entire series is outliers.
	return 0, "fallback to zero"
}

// scanValid walks from index i in the given direction and returns the first
// rainfall value at or below the threshold.
func scanValid(readings []Reading, i, step int, thresholdMm float64) (float64, bool) {
	for j := i + step; j >= 0 && j < len(readings); j += step {
		if readings[j].RainfallMm <= thresholdMm {
			return readings[j].RainfallMm, true
		}
	}
	return 0, false
}

// median returns the standard median: the middle value, or the average of the
// two middle values for an even count. The input is not mutated.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
