package modbus

import "time"

const (
	DefaultInitialDelay = 5 * time.Second
	DefaultMaxDelay     = 60 * time.Second
)

// BackoffState is a snapshot of the reconnect schedule.
type BackoffState struct {
	CurrentDelay  time.Duration `json:"current_delay"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	LastFailureAt *time.Time    `json:"last_failure_at,omitempty"`
}

// BackoffPolicy gates connection attempts after connectivity loss.
// Not safe for concurrent use; the owning Connection serializes access.
type BackoffPolicy struct {
	initial time.Duration
	max     time.Duration

	current       time.Duration
	nextAttemptAt time.Time
	lastFailureAt time.Time
}

func NewBackoffPolicy(initial, maxDelay time.Duration) *BackoffPolicy {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &BackoffPolicy{
		initial: initial,
		max:     maxDelay,
		current: initial,
	}
}

// ShouldSkip is true while now is before the next allowed attempt.
func (b *BackoffPolicy) ShouldSkip(now time.Time) bool {
	return now.Before(b.nextAttemptAt)
}

// OnSuccess resets the delay. The pending attempt time is left alone; it is
// already in the past whenever a connect could succeed.
func (b *BackoffPolicy) OnSuccess() {
	b.current = b.initial
	b.lastFailureAt = time.Time{}
}

// OnFailure doubles the delay up to max and schedules the next attempt.
func (b *BackoffPolicy) OnFailure(now time.Time) time.Duration {
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	b.nextAttemptAt = now.Add(b.current)
	b.lastFailureAt = now
	return b.current
}

// Failing reports whether a failure has been recorded since the last success.
func (b *BackoffPolicy) Failing() bool {
	return !b.lastFailureAt.IsZero()
}

func (b *BackoffPolicy) CurrentDelay() time.Duration { return b.current }

func (b *BackoffPolicy) NextAttemptAt() time.Time { return b.nextAttemptAt }

func (b *BackoffPolicy) State() BackoffState {
	st := BackoffState{
		CurrentDelay:  b.current,
		NextAttemptAt: b.nextAttemptAt,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		st.LastFailureAt = &t
	}
	return st
}
