package poller

import (
	"math"
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(120*time.Second, 0)
	if b.Wait() != 120*time.Second {
		t.Fatalf("initial wait = %v, want 120s", b.Wait())
	}

	b.Failure()
	b.Failure()
	b.Failure()
	if b.Wait() != 960*time.Second {
		t.Errorf("wait after three failures = %v, want 960s", b.Wait())
	}

	b.Success()
	if b.Wait() != 120*time.Second {
		t.Errorf("wait after success = %v, want 120s", b.Wait())
	}
}

func TestBackoffCap(t *testing.T) {
	b := NewBackoff(time.Minute, 5*time.Minute)
	for i := 0; i < 10; i++ {
		b.Failure()
	}
	if b.Wait() != 5*time.Minute {
		t.Errorf("capped wait = %v, want 5m", b.Wait())
	}
}

func TestBackoffDefaultBase(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Base != DefaultBaseWait || b.Wait() != DefaultBaseWait {
		t.Errorf("base = %v, wait = %v, want %v", b.Base, b.Wait(), DefaultBaseWait)
	}
}

func TestBackoffUnboundedSaturates(t *testing.T) {
	b := NewBackoff(0, 0)
	prev := b.Wait()
	for i := 0; i < 70; i++ {
		b.Failure()
		if b.Wait() < prev {
			t.Fatalf("failure %d: wait dropped from %v to %v", i+1, prev, b.Wait())
		}
		prev = b.Wait()
	}
	if b.Wait() != time.Duration(math.MaxInt64) {
		t.Errorf("wait = %v, want saturation at %v", b.Wait(), time.Duration(math.MaxInt64))
	}
}
