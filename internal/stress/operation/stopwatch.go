package operation

import (
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// Stopwatch measures the time from dispatch to completion of a single operation.
// It may be stopped exactly once.
type Stopwatch struct {
	clock   clock.PassiveClock
	started time.Time
	stopped int32
}

// StartStopwatch returns a running stopwatch reading time from c.
func StartStopwatch(c clock.PassiveClock) *Stopwatch {
	return &Stopwatch{clock: c, started: c.Now()}
}

// Stop returns the time elapsed since the stopwatch was started.
// Stopping a stopwatch twice is a programming error and panics.
func (s *Stopwatch) Stop() time.Duration {
	if !atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		panic("operation: stopwatch stopped twice")
	}
	return s.clock.Since(s.started)
}

func (s *Stopwatch) Stopped() bool {
	return atomic.LoadInt32(&s.stopped) == 1
}

func (s *Stopwatch) Started() time.Time {
	return s.started
}
