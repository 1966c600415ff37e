package engine

import (
	"sync"
	"time"
)

// delayTimer is the engine's single scheduled wake: the inter-UID cooldown
// or retry delay before the next lease. Unlike a plain time.Sleep it can be
// frozen by pause and later resumed with exactly the remaining duration,
// using the monotonic clock carried by time.Time.
//
// The loop goroutine owns the schedule; Remaining is also read from HTTP
// handler goroutines, so all field access goes through the mutex.
type delayTimer struct {
	mu        sync.Mutex
	timer     *time.Timer
	deadline  time.Time
	remaining time.Duration
	running   bool
	frozen    bool
}

func newDelayTimer() *delayTimer {
	return &delayTimer{}
}

// Start arms the timer to fire after d. A zero or negative d fires
// immediately. Any previous schedule is discarded.
func (t *delayTimer) Start(d time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start(d, now)
}

func (t *delayTimer) start(d time.Duration, now time.Time) {
	t.stopTimer()
	if d < 0 {
		d = 0
	}
	t.deadline = now.Add(d)
	t.timer = time.NewTimer(d)
	t.running = true
	t.frozen = false
}

// C returns the wake channel, or nil when nothing is scheduled so that a
// select case on it blocks forever.
func (t *delayTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	return t.timer.C
}

// Fired must be called after receiving from C.
func (t *delayTimer) Fired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.frozen = false
}

// Freeze pauses a pending schedule, capturing the remaining duration.
// Freezing an idle timer is a no-op.
func (t *delayTimer) Freeze(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.remaining = t.deadline.Sub(now)
	if t.remaining < 0 {
		t.remaining = 0
	}
	t.stopTimer()
	t.running = false
	t.frozen = true
}

// Thaw re-arms a frozen schedule with the captured remainder and reports
// whether there was one.
func (t *delayTimer) Thaw(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.frozen {
		return false
	}
	t.start(t.remaining, now)
	return true
}

// Remaining reports the time left on the current or frozen schedule.
func (t *delayTimer) Remaining(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.running:
		if d := t.deadline.Sub(now); d > 0 {
			return d
		}
		return 0
	case t.frozen:
		return t.remaining
	default:
		return 0
	}
}

// Stop discards any pending or frozen schedule.
func (t *delayTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
	t.running = false
	t.frozen = false
	t.remaining = 0
}

func (t *delayTimer) stopTimer() {
	if t.timer != nil {
		if !t.timer.Stop() {
			select {
			case <-t.timer.C:
			default:
			}
		}
	}
}
