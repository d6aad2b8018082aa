// Package domain implements the rain-gauge series reconciliation engine:
// merging repeated downloads of gauge history into one append-only series per
// station, and detecting and repairing sensor-fault spikes before the data is
// served downstream.
//
// # Data Source
//
// Rainfall readings originate from government gauge networks that publish
// tabular feeds (CSV exports or JSON tables). The upstream scraper services
// fetch those feeds on a schedule, normalize each row to a flat string map,
// and hand batches to this engine keyed by station id. Providers disagree on
// column names, so parsing goes through a per-provider [FieldMap].
//
// # Timestamp Keys
//
// A reading is identified by its timestamp truncated to the minute, in UTC.
// Two readings with the same minute key are the same underlying measurement;
// [Merge] resolves such collisions. Feeds report either a split date+time pair
// ("2024-04-26" + "15:10") or an absolute RFC 3339 instant; both derive the
// same key.
//
// # Merge Policy (max-wins)
//
// Repeated downloads of the same gauge can report a truncated value before the
// provider backfills the true value upward. On a key collision the reading
// with the larger rainfall value survives, so a re-scrape never silently
// shrinks a previously observed reading. This is a conflict-resolution policy,
// not a correctness proof; see [Merge].
//
// # Outlier Threshold
//
// A reading is an outlier when its rainfall exceeds a flat threshold defined
// per nominal sampling interval (default 25 mm per 15-minute reading). The
// threshold is applied uniformly without checking the actual elapsed time
// between consecutive readings: a multi-hour gap followed by one aggregated
// reading will be misflagged. Known limitation, preserved deliberately; the
// nominal interval is carried in the [Report] so downstream consumers can see
// which rate the threshold expressed.
//
// # Correction Ladder
//
// Replacement values for flagged readings are computed from the original,
// uncorrected series only, so corrections never cascade and the result does
// not depend on the order flags are processed. Four tiers, first applicable
// wins:
//
//  1. Local median: the median of the non-outlier values within ±6 positions
//     of the flagged index (±1.5 h at 15-minute spacing), when at least 3
//     such values exist.
//  2. Linear interpolation: the mean of the nearest non-outlier reading on
//     each side, scanning outward without bound.
//  3. Nearest valid: the single-sided neighbor's value when only one side has
//     a non-outlier reading.
//  4. Zero: when the entire series is outliers.
//
// Corrections are applied in ascending index order. When a corrected reading
// carries a cumulative total, the correction delta is added to its total and
// every later total, floored at zero, so deltas from multiple outliers
// compose additively.
//
// # Persisted Record Schema
//
// Stored station history uses the JSON schema in [StationRecord]. Field names
// are a bit-exact contract with the storage backend and the dashboard; see
// record.go. A record whose "data" array is missing is structurally invalid
// and rejected with a [ValidationError] — the caller keeps the previously
// persisted data and skips the station for that cycle.
package domain
