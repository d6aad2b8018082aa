package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mergeBase = time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

// at returns the timestamp of the i-th slot at 15-minute spacing.
func at(i int) time.Time {
	return mergeBase.Add(time.Duration(i) * 15 * time.Minute)
}

func reading(i int, mm float64) Reading {
	return Reading{Timestamp: at(i), RainfallMm: mm}
}

func seriesOf(readings ...Reading) Series {
	return Series{
		StationID:   "gauge-001",
		StationName: "North Basin",
		Region:      "Antioquia",
		Source:      "siata",
		Readings:    readings,
	}
}

func TestMerge_DisjointKeys(t *testing.T) {
	existing := seriesOf(reading(0, 0.5), reading(1, 1.2))
	incoming := []Reading{reading(2, 0.8), reading(3, 0.0)}

	merged, stats := Merge(existing, incoming)

	require.Len(t, merged.Readings, 4)
	assert.Equal(t, MergeStats{Added: 2}, stats)
	assert.Equal(t, "gauge-001", merged.StationID)
	assert.Equal(t, "North Basin", merged.StationName)
}

func TestMerge_MaxWinsCollision(t *testing.T) {
	tests := []struct {
		name     string
		existing float64
		incoming float64
		want     float64
	}{
		{"existing larger survives", 2.0, 1.0, 2.0},
		{"incoming larger survives", 0.0, 0.4, 0.4},
		{"equal keeps existing", 1.5, 1.5, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, _ := Merge(seriesOf(reading(0, tt.existing)), []Reading{reading(0, tt.incoming)})
			require.Len(t, merged.Readings, 1)
			assert.Equal(t, tt.want, merged.Readings[0].RainfallMm)
		})
	}
}

func TestMerge_Idempotent(t *testing.T) {
	existing := seriesOf(reading(0, 0.5), reading(2, 3.1))
	batch := []Reading{reading(1, 1.0), reading(2, 2.0), reading(3, 0.2)}

	once, _ := Merge(existing, batch)
	twice, _ := Merge(once, batch)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("merge not idempotent (-once +twice):\n%s", diff)
	}
}

func TestMerge_OrderIndependentWithinBatch(t *testing.T) {
	existing := seriesOf(reading(0, 0.5))
	forward := []Reading{reading(1, 1.0), reading(1, 4.0), reading(1, 2.0)}
	reversed := []Reading{reading(1, 2.0), reading(1, 4.0), reading(1, 1.0)}

	a, _ := Merge(existing, forward)
	b, _ := Merge(existing, reversed)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("merge depends on batch order (-forward +reversed):\n%s", diff)
	}
	require.Len(t, a.Readings, 2)
	assert.Equal(t, 4.0, a.Readings[1].RainfallMm)
}

func TestMerge_SortedOutputRegardlessOfInputOrder(t *testing.T) {
	existing := seriesOf(reading(5, 0.1), reading(1, 0.2))
	incoming := []Reading{reading(4, 0.3), reading(0, 0.4), reading(2, 0.5)}

	merged, _ := Merge(existing, incoming)

	require.Len(t, merged.Readings, 5)
	for i := 1; i < len(merged.Readings); i++ {
		assert.True(t, merged.Readings[i-1].Timestamp.Before(merged.Readings[i].Timestamp),
			"readings out of order at %d", i)
	}
}

func TestMerge_SkipsZeroTimestamps(t *testing.T) {
	existing := seriesOf(reading(0, 0.5))
	incoming := []Reading{{RainfallMm: 9.9}, reading(1, 1.1)}

	merged, stats := Merge(existing, incoming)

	require.Len(t, merged.Readings, 2)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Added)
}

func TestMerge_MinuteKeyCollapsesSeconds(t *testing.T) {
	// Two readings within the same minute are the same measurement.
	existing := seriesOf(Reading{Timestamp: at(0).Add(10 * time.Second), RainfallMm: 1.0})
	incoming := []Reading{{Timestamp: at(0).Add(45 * time.Second), RainfallMm: 2.5}}

	merged, stats := Merge(existing, incoming)

	require.Len(t, merged.Readings, 1)
	assert.Equal(t, 2.5, merged.Readings[0].RainfallMm)
	assert.Equal(t, MergeStats{Replaced: 1}, stats)
}

func TestMerge_CollisionLeavesTotalOfSurvivorUntouched(t *testing.T) {
	total := 12.0
	existing := seriesOf(Reading{Timestamp: at(0), RainfallMm: 2.0, TotalMm: &total})
	incoming := []Reading{reading(0, 1.0)}

	merged, _ := Merge(existing, incoming)

	require.Len(t, merged.Readings, 1)
	require.NotNil(t, merged.Readings[0].TotalMm)
	assert.Equal(t, 12.0, *merged.Readings[0].TotalMm)
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	total := 5.0
	existing := seriesOf(Reading{Timestamp: at(0), RainfallMm: 1.0, TotalMm: &total})

	merged, _ := Merge(existing, nil)
	*merged.Readings[0].TotalMm = 99

	assert.Equal(t, 5.0, *existing.Readings[0].TotalMm, "merge output aliases input")
}
