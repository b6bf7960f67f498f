package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/star/aprstrack/internal/pointing"
	"github.com/star/aprstrack/internal/poller"
	"github.com/star/aprstrack/internal/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type stubStatus struct {
	st atomic.Pointer[poller.Status]
}

func (s *stubStatus) Status() *poller.Status { return s.st.Load() }

func newStub() *stubStatus {
	s := &stubStatus{}
	s.st.Store(&poller.Status{
		Status:   poller.StatusNoTarget,
		Observer: pointing.Geodetic{LatDeg: 34.1, LonDeg: -118.1, AltM: 235},
	})
	return s
}

func testRecord(ts int64, src telemetry.Source) telemetry.Record {
	return telemetry.Record{
		Timestamp: time.Unix(ts, 0).UTC(),
		Latitude:  34.2,
		Longitude: -118.1,
		Altitude:  telemetry.Known(12000),
		Source:    src,
	}
}

// readEvents returns a channel of decoded "data:" payloads.
func readEvents(t *testing.T, body io.Reader) <-chan map[string]any {
	t.Helper()
	ch := make(chan map[string]any, 16)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(body)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var msg map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
				continue
			}
			ch <- msg
		}
	}()
	return ch
}

func next(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestStreamMetadataThenUpdates(t *testing.T) {
	store := telemetry.NewStore(telemetry.Retention{})
	status := newStub()
	h := NewHandler(store, status, Config{CheckInterval: 10 * time.Millisecond}, testLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := readEvents(t, resp.Body)
	meta := next(t, events)
	if meta["type"] != "metadata" || meta["records"] != float64(0) {
		t.Fatalf("first event = %v", meta)
	}

	store.Merge([]telemetry.Record{
		testRecord(1718000000, telemetry.SourceLight),
		testRecord(1718000060, telemetry.SourceEagle),
	}, time.Now())
	status.st.Store(&poller.Status{
		Status: poller.StatusOK,
		Result: &pointing.Result{AzimuthDeg: 10, ElevationDeg: 20, RangeM: 3000},
	})

	upd := next(t, events)
	if upd["type"] != "update" || upd["records"] != float64(2) {
		t.Fatalf("update event = %v", upd)
	}
	latest, _ := upd["latest"].(map[string]any)
	if _, ok := latest[string(telemetry.SourceEagle)]; !ok {
		t.Errorf("latest missing eagle record: %v", latest)
	}
	pt, _ := upd["pointing"].(map[string]any)
	if pt["status"] != "ok" {
		t.Errorf("pointing = %v", pt)
	}
}

func TestCloseEndsOpenStreams(t *testing.T) {
	store := telemetry.NewStore(telemetry.Retention{})
	h := NewHandler(store, newStub(), Config{}, testLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	events := readEvents(t, resp.Body)
	if meta := next(t, events); meta["type"] != "metadata" {
		t.Fatalf("first event = %v", meta)
	}

	h.Close()
	h.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("unexpected event after Close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream still open after Close")
	}
}

func TestStreamRateLimit(t *testing.T) {
	store := telemetry.NewStore(telemetry.Retention{})
	h := NewHandler(store, newStub(), Config{MaxConcurrentPerIP: 1}, testLogger())

	// Occupy the only slot for this address.
	if !h.limiter.acquire("192.0.2.1") {
		t.Fatal("acquire failed")
	}
	req := httptest.NewRequest("GET", "/api/v1/stream", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
}

func TestLimiter(t *testing.T) {
	l := newLimiter(2, 3)
	if !l.acquire("a") || !l.acquire("a") {
		t.Fatal("first two acquires for a should succeed")
	}
	if l.acquire("a") {
		t.Error("third acquire for a should fail")
	}
	if !l.acquire("b") {
		t.Error("acquire for b should succeed")
	}
	if l.acquire("c") {
		t.Error("global cap should reject c")
	}
	l.release("a")
	if l.count("a") != 1 {
		t.Errorf("count(a) = %d, want 1", l.count("a"))
	}
	if !l.acquire("c") {
		t.Error("acquire for c should succeed after release")
	}
	l.release("b")
	if l.count("b") != 0 {
		t.Errorf("count(b) = %d, want 0", l.count("b"))
	}
}

func TestBuildUpdate(t *testing.T) {
	snap := &telemetry.Snapshot{
		Records: []telemetry.Record{
			testRecord(100, telemetry.SourceLight),
			testRecord(300, telemetry.SourceLight),
			testRecord(200, telemetry.SourceLight),
		},
		UpdatedAt: time.Unix(400, 0),
	}
	msg := buildUpdate(snap, &poller.Status{Status: poller.StatusNoTarget})
	if msg.Records != 3 {
		t.Errorf("records = %d", msg.Records)
	}
	// Latest is by arrival order.
	if got := msg.Latest[telemetry.SourceLight].Timestamp.Unix(); got != 200 {
		t.Errorf("latest light ts = %d, want 200", got)
	}
	if _, ok := msg.Latest[telemetry.SourceEagle]; ok {
		t.Error("no eagle record expected")
	}
}
