package engine

import (
	"context"
	"time"
)

// Clock is the wall-clock source. Tests substitute a controllable one.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Timer derives remaining time from the persisted start instant on every read.
// It keeps no counter, so a sleeping process or a restart cannot make it drift.
type Timer struct {
	start    time.Time
	duration time.Duration
	clock    Clock
}

// NewTimer counts duration down from start. A nil clock means SystemClock.
func NewTimer(start time.Time, duration time.Duration, clock Clock) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Timer{start: start, duration: duration, clock: clock}
}

func (t *Timer) Deadline() time.Time {
	return t.start.Add(t.duration)
}

// Remaining is clamped to [0, duration].
func (t *Timer) Remaining() time.Duration {
	return t.duration - t.Elapsed()
}

// RemainingSeconds is the whole seconds left, never negative.
func (t *Timer) RemainingSeconds() int {
	return int(t.Remaining() / time.Second)
}

// Elapsed is the time since start, clamped to [0, duration].
func (t *Timer) Elapsed() time.Duration {
	return min(max(t.clock.Now().Sub(t.start), 0), t.duration)
}

func (t *Timer) Expired() bool {
	return t.Remaining() <= 0
}

// Start checks the clock every tick and closes the returned channel once the
// time is up. Cancelling ctx stops the checks without closing the channel.
func (t *Timer) Start(ctx context.Context, tick time.Duration) <-chan struct{} {
	expired := make(chan struct{})
	if tick <= 0 {
		tick = time.Second
	}

	go func() {
		if t.Expired() {
			close(expired)
			return
		}

		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if t.Expired() {
					close(expired)
					return
				}
			}
		}
	}()

	return expired
}
