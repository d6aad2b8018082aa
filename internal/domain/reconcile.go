package domain

import (
	"time"

	"github.com/google/uuid"
)

// Report summarizes one reconciliation run for logging, metrics, and the
// outlierDetection block of the persisted record.
type Report struct {
	RunID                 string        `json:"run_id"`
	Station               string        `json:"station"`
	ThresholdMm           float64       `json:"threshold_mm"`
	SampleIntervalMinutes int           `json:"sample_interval_minutes"`
	DetectedAt            time.Time     `json:"detected_at"`
	Merge                 MergeStats    `json:"merge"`
	Flags                 []OutlierFlag `json:"flags,omitempty"`
	Corrections           []Correction  `json:"corrections,omitempty"`
}

// HadOutliers reports whether the run flagged anything.
func (r Report) HadOutliers() bool {
	return len(r.Flags) > 0
}

// Reconcile is the single entry point external callers use per ingestion
// cycle: merge the persisted series with the incoming batch, detect readings
// above thresholdMm, and repair them. Merge, Detect, and Correct remain
// exported as building blocks for direct use and testing.
//
// Each run is a pure transform of its two inputs; no state is retained
// between invocations. Callers must not run two reconciliations for the same
// station concurrently — the surrounding read-modify-write cycle is a
// per-station critical section.
func Reconcile(existing Series, incoming []Reading, thresholdMm float64) (Series, Report) {
	return ReconcileWithInterval(existing, incoming, thresholdMm, DefaultSampleIntervalMinutes)
}

// ReconcileWithInterval is Reconcile with an explicit nominal sampling
// interval recorded in the report. The interval is report metadata only; the
// detector does not scale the threshold by gap width.
func ReconcileWithInterval(existing Series, incoming []Reading, thresholdMm float64, sampleIntervalMinutes int) (Series, Report) {
	merged, stats := Merge(existing, incoming)
	flags := Detect(merged, thresholdMm)
	corrected, corrections := Correct(merged, flags, thresholdMm)

	report := Report{
		RunID:                 uuid.NewString(),
		Station:               existing.StationID,
		ThresholdMm:           thresholdMm,
		SampleIntervalMinutes: sampleIntervalMinutes,
		DetectedAt:            clock.Now().UTC(),
		Merge:                 stats,
		Flags:                 flags,
		Corrections:           corrections,
	}
	if report.Station == "" {
		report.Station = corrected.StationID
	}
	return corrected, report
}
