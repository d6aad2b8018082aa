package domain

import (
	"encoding/json"
	"time"
)

// correctionMethodLabel is the fixed label the dashboard matches on in the
// outlierDetection block. It names the strategy family, not the tier that
// fired; the per-row correction_reason carries the tier.
const correctionMethodLabel = "intelligent_interpolation"

// StationRecord is the persisted per-station document. Field names are a
// bit-exact contract shared with the storage backend and the dashboard — do
// not rename them.
type StationRecord struct {
	LastUpdated      time.Time    `json:"lastUpdated"`
	Station          string       `json:"station"`
	StationName      string       `json:"stationName"`
	Region           string       `json:"region"`
	Source           string       `json:"source"`
	Data             []RecordRow  `json:"data"`
	OutlierDetection *OutlierMeta `json:"outlierDetection,omitempty"`
}

// RecordRow is one persisted reading.
type RecordRow struct {
	Date                string   `json:"date"`
	Time                string   `json:"time"`
	DateTimeUtc         string   `json:"dateTimeUtc,omitempty"`
	RainfallMm          float64  `json:"rainfall_mm"`
	TotalMm             *float64 `json:"total_mm,omitempty"`
	Corrected           bool     `json:"corrected,omitempty"`
	OriginalRainfallMm  *float64 `json:"original_rainfall_mm,omitempty"`
	CorrectionReason    string   `json:"correction_reason,omitempty"`
	CorrectionTimestamp string   `json:"correction_timestamp,omitempty"`
}

// OutlierMeta summarizes the most recent reconciliation run on the record.
type OutlierMeta struct {
	DetectedAt       time.Time `json:"detectedAt"`
	Threshold        float64   `json:"threshold"`
	OutliersFound    int       `json:"outliersFound"`
	CorrectionsMade  int       `json:"correctionsMade"`
	CorrectionMethod string    `json:"correctionMethod"`
}

// NewStationRecord builds the persisted document for a reconciled series.
func NewStationRecord(series Series, report Report) StationRecord {
	rows := make([]RecordRow, len(series.Readings))
	for i, r := range series.Readings {
		ts := r.Timestamp.UTC()
		row := RecordRow{
			Date:             ts.Format(dateLayout),
			Time:             ts.Format(timeLayout),
			DateTimeUtc:      ts.Format(time.RFC3339),
			RainfallMm:       r.RainfallMm,
			TotalMm:          r.TotalMm,
			Corrected:        r.Corrected,
			CorrectionReason: r.CorrectionReason,
		}
		if r.Corrected {
			row.OriginalRainfallMm = r.OriginalMm
			if !r.CorrectedAt.IsZero() {
				row.CorrectionTimestamp = r.CorrectedAt.UTC().Format(time.RFC3339)
			}
		}
		rows[i] = row
	}

	return StationRecord{
		LastUpdated: clock.Now().UTC(),
		Station:     series.StationID,
		StationName: series.StationName,
		Region:      series.Region,
		Source:      series.Source,
		Data:        rows,
		OutlierDetection: &OutlierMeta{
			DetectedAt:       report.DetectedAt,
			Threshold:        report.ThresholdMm,
			OutliersFound:    len(report.Flags),
			CorrectionsMade:  len(report.Corrections),
			CorrectionMethod: correctionMethodLabel,
		},
	}
}

// EncodeRecord serializes a reconciled series and its run report into the
// persisted JSON document.
func EncodeRecord(series Series, report Report) ([]byte, error) {
	return json.Marshal(NewStationRecord(series, report))
}

// DecodeRecord rehydrates a Series from a persisted document.
//
// A record missing its data array or station id is structurally invalid and
// returns a ValidationError: the station must be skipped for the cycle and
// the stored bytes left untouched. Individual rows with an unparsable
// timestamp are dropped; the count of dropped rows is returned alongside the
// series and is never an error.
func DecodeRecord(data []byte) (Series, int, error) {
	var rec StationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Series{}, 0, validationErrorf("malformed station record: %v", err)
	}
	return rec.Series()
}

// Series converts the persisted document back into the in-memory form used
// by the reconciliation engine.
func (rec StationRecord) Series() (Series, int, error) {
	if rec.Station == "" {
		return Series{}, 0, validationErrorf("station record has no station id")
	}
	if rec.Data == nil {
		return Series{}, 0, validationErrorf("station record %q has no data array", rec.Station)
	}

	series := Series{
		StationID:   rec.Station,
		StationName: rec.StationName,
		Region:      rec.Region,
		Source:      rec.Source,
		Readings:    make([]Reading, 0, len(rec.Data)),
	}

	skipped := 0
	for _, row := range rec.Data {
		r, ok := row.reading()
		if !ok {
			skipped++
			continue
		}
		series.Readings = append(series.Readings, r)
	}
	sortReadings(series.Readings)
	return series, skipped, nil
}

// reading parses one persisted row, preferring the absolute dateTimeUtc
// instant over the split date+time pair.
func (row RecordRow) reading() (Reading, bool) {
	var ts time.Time
	if row.DateTimeUtc != "" {
		if parsed, err := time.Parse(time.RFC3339, row.DateTimeUtc); err == nil {
			ts = parsed.UTC().Truncate(time.Minute)
		}
	}
	if ts.IsZero() {
		parsed, err := ParseDateTimePair(row.Date, row.Time)
		if err != nil {
			return Reading{}, false
		}
		ts = parsed
	}

	r := Reading{
		Timestamp:        ts,
		RainfallMm:       row.RainfallMm,
		TotalMm:          row.TotalMm,
		Corrected:        row.Corrected,
		OriginalMm:       row.OriginalRainfallMm,
		CorrectionReason: row.CorrectionReason,
	}
	if row.CorrectionTimestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, row.CorrectionTimestamp); err == nil {
			r.CorrectedAt = parsed.UTC()
		}
	}
	return r, true
}
