package telemetry

import "time"

// MergeHistory appends incoming to existing and removes exact duplicates,
// keeping the first occurrence of each record. Arrival order is authoritative:
// the result is never re-sorted by timestamp. Neither input is modified.
func MergeHistory(existing, incoming []Record) []Record {
	out := make([]Record, 0, len(existing)+len(incoming))
	seen := make(map[Record]struct{}, len(existing)+len(incoming))
	for _, batch := range [][]Record{existing, incoming} {
		for _, r := range batch {
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// RecentSince returns the records whose timestamp is within window of the
// wall-clock time now, in history order. Returns nil when nothing qualifies.
func RecentSince(history []Record, window time.Duration, now time.Time) []Record {
	return since(history, now.Add(-window))
}

// RecentToLatest returns the records whose timestamp is within window of the
// newest timestamp present in history, in history order. Returns nil when
// history is empty.
func RecentToLatest(history []Record, window time.Duration) []Record {
	if len(history) == 0 {
		return nil
	}
	latest := history[0].Timestamp
	for _, r := range history[1:] {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return since(history, latest.Add(-window))
}

func since(history []Record, cutoff time.Time) []Record {
	var out []Record
	for _, r := range history {
		if !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// Retention bounds the size of the history. Zero values disable a limit.
type Retention struct {
	MaxRecords int
	MaxAge     time.Duration
}

// Retain applies the retention policy: records older than MaxAge relative to
// now are dropped, then only the newest MaxRecords (by position) are kept.
func Retain(history []Record, policy Retention, now time.Time) []Record {
	out := history
	if policy.MaxAge > 0 {
		cutoff := now.Add(-policy.MaxAge)
		kept := make([]Record, 0, len(out))
		for _, r := range out {
			if !r.Timestamp.Before(cutoff) {
				kept = append(kept, r)
			}
		}
		out = kept
	}
	if policy.MaxRecords > 0 && len(out) > policy.MaxRecords {
		out = out[len(out)-policy.MaxRecords:]
	}
	return out
}

// FilterSource returns the records produced by src, in history order.
func FilterSource(history []Record, src Source) []Record {
	var out []Record
	for _, r := range history {
		if r.Source == src {
			out = append(out, r)
		}
	}
	return out
}

// Latest returns the last record in history.
func Latest(history []Record) (Record, bool) {
	if len(history) == 0 {
		return Record{}, false
	}
	return history[len(history)-1], true
}

// LatestWithAltitude returns the last record in history whose altitude is known.
func LatestWithAltitude(history []Record) (Record, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Altitude.Valid {
			return history[i], true
		}
	}
	return Record{}, false
}
