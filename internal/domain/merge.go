package domain

// MergeStats summarizes what one merge did, for logging and metrics.
type MergeStats struct {
	Added    int // incoming readings with a previously unseen key
	Replaced int // collisions where the incoming value won
	Kept     int // collisions where the existing value won
	Skipped  int // readings dropped for a zero timestamp
}

// Merge combines a persisted series with a freshly scraped batch into one
// deduplicated, chronologically ordered series.
//
// Collisions on the minute key keep whichever reading has the larger rainfall
// value: repeated downloads can report a truncated value before the provider
// backfills the true value upward, and a re-scrape must never silently shrink
// a previously observed reading. The rule is applied pairwise, so duplicate
// keys within the batch resolve the same way regardless of input order, and
// Merge(Merge(s, b), b) equals Merge(s, b).
//
// Readings without a timestamp cannot derive a key and are skipped and
// counted; nothing else is ever dropped. The inputs are not mutated.
func Merge(existing Series, incoming []Reading) (Series, MergeStats) {
	var stats MergeStats

	byKey := make(map[int64]Reading, len(existing.Readings)+len(incoming))
	for _, r := range existing.Readings {
		if r.Timestamp.IsZero() {
			stats.Skipped++
			continue
		}
		byKey[r.Key()] = r
	}

	for _, r := range incoming {
		if r.Timestamp.IsZero() {
			stats.Skipped++
			continue
		}
		key := r.Key()
		current, exists := byKey[key]
		switch {
		case !exists:
			byKey[key] = r
			stats.Added++
		case r.RainfallMm > current.RainfallMm:
			byKey[key] = r
			stats.Replaced++
		default:
			stats.Kept++
		}
	}

	merged := make([]Reading, 0, len(byKey))
	for _, r := range byKey {
		merged = append(merged, r)
	}
	sortReadings(merged)

	out := existing
	out.Readings = cloneReadings(merged)
	return out, stats
}
