package modbus

import (
	"testing"
	"time"
)

func TestBackoff_InitialStateNeverSkips(t *testing.T) {
	b := NewBackoffPolicy(0, 0)

	if b.CurrentDelay() != DefaultInitialDelay {
		t.Fatalf("initial delay=%v, want %v", b.CurrentDelay(), DefaultInitialDelay)
	}
	for _, now := range []time.Time{time.Unix(0, 0), time.Now(), time.Now().Add(24 * time.Hour)} {
		if b.ShouldSkip(now) {
			t.Fatalf("ShouldSkip(%v)=true before any failure", now)
		}
	}
	if b.Failing() {
		t.Fatalf("Failing()=true before any failure")
	}
}

func TestBackoff_Escalation(t *testing.T) {
	b := NewBackoffPolicy(5*time.Second, 60*time.Second)
	now := time.Unix(1_700_000_000, 0)

	want := []time.Duration{10, 20, 40, 60, 60, 60}
	for i, w := range want {
		got := b.OnFailure(now)
		if got != w*time.Second {
			t.Fatalf("failure %d: delay=%v, want %v", i+1, got, w*time.Second)
		}
		if !b.NextAttemptAt().Equal(now.Add(got)) {
			t.Fatalf("failure %d: next=%v, want %v", i+1, b.NextAttemptAt(), now.Add(got))
		}
	}
}

func TestBackoff_ShouldSkipBoundary(t *testing.T) {
	b := NewBackoffPolicy(5*time.Second, 60*time.Second)
	now := time.Unix(1_700_000_000, 0)
	delay := b.OnFailure(now)

	if !b.ShouldSkip(now) {
		t.Fatalf("ShouldSkip at failure time = false")
	}
	if !b.ShouldSkip(now.Add(delay - time.Nanosecond)) {
		t.Fatalf("ShouldSkip just before next attempt = false")
	}
	if b.ShouldSkip(now.Add(delay)) {
		t.Fatalf("ShouldSkip at next attempt = true")
	}
}

func TestBackoff_SuccessResets(t *testing.T) {
	b := NewBackoffPolicy(5*time.Second, 60*time.Second)
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 4; i++ {
		b.OnFailure(now)
	}
	if !b.Failing() {
		t.Fatalf("Failing()=false after failures")
	}

	b.OnSuccess()

	if b.CurrentDelay() != 5*time.Second {
		t.Fatalf("delay after success=%v, want 5s", b.CurrentDelay())
	}
	st := b.State()
	if st.LastFailureAt != nil {
		t.Fatalf("LastFailureAt=%v after success, want nil", st.LastFailureAt)
	}
	if got := b.OnFailure(now); got != 10*time.Second {
		t.Fatalf("first failure after reset delay=%v, want 10s", got)
	}
}

func TestBackoff_StateSnapshot(t *testing.T) {
	b := NewBackoffPolicy(2*time.Second, 3*time.Second)
	now := time.Unix(100, 0)
	b.OnFailure(now)

	st := b.State()
	if st.CurrentDelay != 3*time.Second {
		t.Fatalf("CurrentDelay=%v, want capped 3s", st.CurrentDelay)
	}
	if st.LastFailureAt == nil || !st.LastFailureAt.Equal(now) {
		t.Fatalf("LastFailureAt=%v, want %v", st.LastFailureAt, now)
	}
	if !st.NextAttemptAt.Equal(now.Add(3 * time.Second)) {
		t.Fatalf("NextAttemptAt=%v", st.NextAttemptAt)
	}
}

func TestBackoff_ZeroMaxUsesDefaultCap(t *testing.T) {
	b := NewBackoffPolicy(0, 0)
	now := time.Unix(1_700_000_000, 0)

	want := []time.Duration{10, 20, 40, 60, 60}
	for i, w := range want {
		if got := b.OnFailure(now); got != w*time.Second {
			t.Fatalf("failure %d: delay=%v, want %v", i+1, got, w*time.Second)
		}
	}
}
