package telemetry

import (
	"reflect"
	"testing"
	"time"
)

var base = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func rec(offsetSec int, src Source, temp float64) Record {
	return Record{
		Timestamp:   base.Add(time.Duration(offsetSec) * time.Second),
		Latitude:    34.2,
		Longitude:   -118.1,
		Altitude:    Known(1000 + float64(offsetSec)),
		Temperature: temp,
		Pressure:    900,
		Source:      src,
	}
}

func TestMergeHistoryIdentity(t *testing.T) {
	h := []Record{rec(0, SourceLight, 20), rec(60, SourceEagle, 19), rec(120, SourceLight, 18)}

	if got := MergeHistory(h, nil); !reflect.DeepEqual(got, h) {
		t.Errorf("MergeHistory(H, nil) = %v, want H", got)
	}

	dupes := []Record{rec(0, SourceLight, 20), rec(0, SourceLight, 20), rec(60, SourceEagle, 19)}
	want := []Record{rec(0, SourceLight, 20), rec(60, SourceEagle, 19)}
	if got := MergeHistory(nil, dupes); !reflect.DeepEqual(got, want) {
		t.Errorf("MergeHistory(nil, R) = %v, want %v", got, want)
	}
}

func TestMergeHistoryIdempotent(t *testing.T) {
	h := []Record{rec(0, SourceLight, 20), rec(60, SourceEagle, 19)}
	r := []Record{rec(60, SourceEagle, 19), rec(120, SourceLight, 18), rec(120, SourceLight, 18)}

	once := MergeHistory(h, r)
	twice := MergeHistory(once, r)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merge not idempotent:\n once:  %v\n twice: %v", once, twice)
	}
	if len(once) != 3 {
		t.Errorf("len = %d, want 3", len(once))
	}
}

func TestMergeHistoryPreservesArrivalOrder(t *testing.T) {
	// Eagle reports can arrive with an older timestamp than the light record
	// polled just before it; the merge must not re-sort.
	h := []Record{rec(100, SourceLight, 20)}
	r := []Record{rec(40, SourceEagle, 19), rec(100, SourceLight, 20), rec(160, SourceLight, 18)}

	got := MergeHistory(h, r)
	want := []Record{rec(100, SourceLight, 20), rec(40, SourceEagle, 19), rec(160, SourceLight, 18)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMergeHistoryFullRowEquality(t *testing.T) {
	a := rec(0, SourceLight, 20)
	b := a
	b.Voltage = Known(3.9)
	c := a
	c.Source = SourceEagle

	got := MergeHistory([]Record{a}, []Record{b, c, a})
	if len(got) != 3 {
		t.Errorf("len = %d, want 3 (records differing in one field are distinct)", len(got))
	}
}

func TestMergeHistoryDoesNotMutateInputs(t *testing.T) {
	h := make([]Record, 1, 4)
	h[0] = rec(0, SourceLight, 20)
	r := []Record{rec(60, SourceLight, 19)}

	_ = MergeHistory(h, r)
	if len(h) != 1 || h[:2][1] != (Record{}) {
		t.Error("existing history was modified")
	}
}

func TestRecentSince(t *testing.T) {
	h := []Record{rec(0, SourceLight, 20), rec(300, SourceEagle, 19), rec(600, SourceLight, 18), rec(900, SourceLight, 17)}
	now := base.Add(1000 * time.Second)

	tests := []struct {
		name    string
		history []Record
		window  time.Duration
		want    []Record
	}{
		{"empty input", nil, time.Hour, nil},
		{"all older than window", h, 30 * time.Second, nil},
		{"suffix within window", h, 500 * time.Second, h[2:]},
		{"boundary inclusive", h, 700 * time.Second, h[1:]},
		{"everything", h, time.Hour, h},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RecentSince(tt.history, tt.window, now)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecentToLatest(t *testing.T) {
	h := []Record{rec(0, SourceLight, 20), rec(900, SourceLight, 17), rec(300, SourceEagle, 19), rec(600, SourceLight, 18)}

	if got := RecentToLatest(nil, time.Hour); got != nil {
		t.Errorf("empty input: got %v, want nil", got)
	}

	// Latest timestamp is 900 even though it is not last; order is preserved.
	got := RecentToLatest(h, 300*time.Second)
	want := []Record{rec(900, SourceLight, 17), rec(600, SourceLight, 18)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Wall-clock variant on stale data returns nothing; the latest-relative one still does.
	farFuture := base.Add(48 * time.Hour)
	if got := RecentSince(h, time.Hour, farFuture); got != nil {
		t.Errorf("RecentSince on stale data = %v, want nil", got)
	}
	if got := RecentToLatest(h, 0); len(got) != 1 {
		t.Errorf("RecentToLatest zero window len = %d, want 1", len(got))
	}
}

func TestRetain(t *testing.T) {
	h := []Record{rec(0, SourceLight, 20), rec(300, SourceEagle, 19), rec(600, SourceLight, 18), rec(900, SourceLight, 17)}
	now := base.Add(1000 * time.Second)

	tests := []struct {
		name   string
		policy Retention
		want   []Record
	}{
		{"unbounded", Retention{}, h},
		{"max records", Retention{MaxRecords: 2}, h[2:]},
		{"max age", Retention{MaxAge: 800 * time.Second}, h[1:]},
		{"both", Retention{MaxRecords: 1, MaxAge: 800 * time.Second}, h[3:]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Retain(h, tt.policy, now)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLatestWithAltitude(t *testing.T) {
	withAlt := rec(0, SourceLight, 20)
	noAlt := rec(60, SourceEagle, 19)
	noAlt.Altitude = OptionalFloat{}

	got, ok := LatestWithAltitude([]Record{withAlt, noAlt})
	if !ok || got != withAlt {
		t.Errorf("got %v (ok=%v), want %v", got, ok, withAlt)
	}
	if _, ok := LatestWithAltitude([]Record{noAlt}); ok {
		t.Error("expected no record with altitude")
	}
	if last, ok := Latest([]Record{withAlt, noAlt}); !ok || last != noAlt {
		t.Errorf("Latest = %v, want %v", last, noAlt)
	}
}

func TestFilterSource(t *testing.T) {
	h := []Record{rec(0, SourceLight, 20), rec(60, SourceEagle, 19), rec(120, SourceLight, 18)}
	got := FilterSource(h, SourceLight)
	if len(got) != 2 || got[0] != h[0] || got[1] != h[2] {
		t.Errorf("got %v", got)
	}
}

func TestStoreMerge(t *testing.T) {
	s := NewStore(Retention{MaxRecords: 3})
	if s.AgeSeconds() != -1 {
		t.Errorf("AgeSeconds on empty store = %v, want -1", s.AgeSeconds())
	}

	now := base.Add(time.Hour)
	if added := s.Merge([]Record{rec(0, SourceLight, 20), rec(60, SourceEagle, 19)}, now); added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	before := s.Get()

	if added := s.Merge([]Record{rec(60, SourceEagle, 19), rec(120, SourceLight, 18), rec(180, SourceLight, 17)}, now); added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	if s.Len() != 3 {
		t.Errorf("len = %d, want 3 after retention", s.Len())
	}
	if len(before.Records) != 2 {
		t.Error("earlier snapshot was modified")
	}
	if got := s.Get().Records[0]; got != rec(60, SourceEagle, 19) {
		t.Errorf("oldest retained = %v", got)
	}
}

func TestStoreMergeOverAgeRepoll(t *testing.T) {
	s := NewStore(Retention{MaxAge: 7 * 24 * time.Hour})
	now := base.Add(8 * 24 * time.Hour)
	stale := rec(0, SourceEagle, 15)

	// aprs.fi keeps returning the last position after a tracker goes quiet.
	for cycle := 0; cycle < 3; cycle++ {
		if added := s.Merge([]Record{stale}, now); added != 0 {
			t.Errorf("cycle %d: added = %d, want 0 for an over-age record", cycle, added)
		}
		if s.Len() != 0 {
			t.Errorf("cycle %d: len = %d, want 0", cycle, s.Len())
		}
	}

	fresh := rec(8*24*3600-60, SourceEagle, 14)
	if added := s.Merge([]Record{stale, fresh}, now); added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
}
