package telemetry

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the telemetry history.
type Snapshot struct {
	Records   []Record
	UpdatedAt time.Time
}

// Store publishes the history owned by the poll loop to concurrent readers.
// Only one goroutine may call Merge; Get is safe from any goroutine.
type Store struct {
	snapshot  atomic.Pointer[Snapshot]
	retention Retention
}

// NewStore creates an empty Store with the given retention policy.
func NewStore(retention Retention) *Store {
	s := &Store{retention: retention}
	s.snapshot.Store(&Snapshot{})
	return s
}

// Get returns the current snapshot. It is never nil.
func (s *Store) Get() *Snapshot {
	return s.snapshot.Load()
}

// Merge folds incoming into the history, applies retention and publishes a
// new snapshot. It returns the number of records that are new to the history
// and survived retention; a record dropped as over-age is not counted.
func (s *Store) Merge(incoming []Record, now time.Time) int {
	cur := s.snapshot.Load()
	merged := MergeHistory(cur.Records, incoming)
	fresh := make(map[Record]struct{}, len(merged)-len(cur.Records))
	for _, r := range merged[len(cur.Records):] {
		fresh[r] = struct{}{}
	}
	merged = Retain(merged, s.retention, now)

	added := 0
	for _, r := range merged {
		if _, ok := fresh[r]; ok {
			added++
		}
	}
	s.snapshot.Store(&Snapshot{Records: merged, UpdatedAt: now})
	return added
}

// Len returns the number of records in the current snapshot.
func (s *Store) Len() int {
	return len(s.snapshot.Load().Records)
}

// AgeSeconds returns the seconds since the last merge, or -1 if nothing has been merged.
func (s *Store) AgeSeconds() float64 {
	snap := s.snapshot.Load()
	if snap.UpdatedAt.IsZero() {
		return -1
	}
	return time.Since(snap.UpdatedAt).Seconds()
}
