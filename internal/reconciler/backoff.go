package reconciler

import "time"

// BackoffPolicy decides how long to wait before a given poll attempt, and
// when to stop. Attempt numbering starts at 0 for the delay before the first
// attempt. Pluggable so tests can compress or eliminate the waits.
type BackoffPolicy interface {
	// NextDelay returns the delay before the attempt and whether the attempt
	// is allowed at all.
	NextDelay(attempt int) (time.Duration, bool)
}

// ScheduleBackoff walks a fixed delay schedule and stops after maxAttempts.
type ScheduleBackoff struct {
	delays      []time.Duration
	maxAttempts int
}

// NewScheduleBackoff creates a ScheduleBackoff. With an empty schedule the
// default reconciliation ladder is used.
func NewScheduleBackoff(delays []time.Duration, maxAttempts int) *ScheduleBackoff {
	if len(delays) == 0 {
		delays = []time.Duration{
			15 * time.Second,
			30 * time.Second,
			60 * time.Second,
			120 * time.Second,
			300 * time.Second,
		}
	}
	if maxAttempts <= 0 {
		maxAttempts = len(delays)
	}
	return &ScheduleBackoff{delays: delays, maxAttempts: maxAttempts}
}

// NextDelay implements BackoffPolicy. Attempts past the end of the schedule
// reuse its last delay until maxAttempts is reached.
func (b *ScheduleBackoff) NextDelay(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt >= b.maxAttempts {
		return 0, false
	}
	if attempt >= len(b.delays) {
		return b.delays[len(b.delays)-1], true
	}
	return b.delays[attempt], true
}

// InitialDelay is the wait before a freshly dispatched batch is first polled.
func (b *ScheduleBackoff) InitialDelay() time.Duration {
	d, _ := b.NextDelay(0)
	return d
}
