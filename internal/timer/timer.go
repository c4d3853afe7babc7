// Package timer counts a lease down in one-second steps and signals expiry
// exactly once.
package timer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Interval is the wall-clock length of one tick.
const Interval = time.Second

// Reporter receives progress after every counted tick.
type Reporter interface {
	Progress(elapsed, total int)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(elapsed, total int)

func (f ReporterFunc) Progress(elapsed, total int) { f(elapsed, total) }

// Timer tracks elapsed against total lease seconds. The owner feeds it
// ticks; ticks that arrive while paused or after expiry are not counted.
type Timer struct {
	reporter Reporter

	mu      sync.Mutex
	total   int
	elapsed int
	started bool
	paused  bool
	stopped bool

	expired     chan struct{}
	expiredOnce sync.Once
}

// New returns an unstarted timer. reporter may be nil.
func New(reporter Reporter) *Timer {
	return &Timer{
		reporter: reporter,
		expired:  make(chan struct{}),
	}
}

// Start arms the timer for totalSeconds. A timer can be started once.
func (t *Timer) Start(totalSeconds int) error {
	if totalSeconds <= 0 {
		return fmt.Errorf("lease length must be positive, got %d seconds", totalSeconds)
	}
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("timer already started")
	}
	t.started = true
	t.total = totalSeconds
	t.elapsed = 0
	t.mu.Unlock()

	t.report(0, totalSeconds)
	return nil
}

// Tick counts one second. It reports whether this tick expired the lease.
func (t *Timer) Tick() bool {
	t.mu.Lock()
	if !t.started || t.paused || t.stopped {
		t.mu.Unlock()
		return false
	}
	t.elapsed++
	elapsed, total := t.elapsed, t.total
	done := elapsed >= total
	if done {
		t.stopped = true
	}
	t.mu.Unlock()

	t.report(elapsed, total)
	if done {
		t.expire()
	}
	return done
}

// Pause stops counting ticks and returns the elapsed value at that moment.
func (t *Timer) Pause() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
	return t.elapsed
}

// Resume continues counting from elapsed, which is normally the value
// returned by Pause.
func (t *Timer) Resume(elapsed int) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if elapsed < 0 {
		elapsed = 0
	}
	t.paused = false
	t.elapsed = elapsed
	done := t.started && elapsed >= t.total
	if done {
		t.elapsed = t.total
		t.stopped = true
	}
	elapsed, total := t.elapsed, t.total
	t.mu.Unlock()

	t.report(elapsed, total)
	if done {
		t.expire()
	}
}

// Stop halts the timer without signalling expiry.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Expired is closed when elapsed reaches total.
func (t *Timer) Expired() <-chan struct{} {
	return t.expired
}

func (t *Timer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

func (t *Timer) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *Timer) expire() {
	t.expiredOnce.Do(func() { close(t.expired) })
}

func (t *Timer) report(elapsed, total int) {
	if t.reporter != nil {
		t.reporter.Progress(elapsed, total)
	}
}
