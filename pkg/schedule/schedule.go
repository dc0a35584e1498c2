// Package schedule provides keyed, cancellable one-shot timers.
//
// The delivery coordinator stores a timer per pending message id so that
// teardown can deterministically cancel every outstanding resend instead of
// letting stray callbacks fire into a disposed client.
package schedule

import (
	"sync"
	"time"
)

// Scheduler manages named one-shot timers. A second schedule under the same
// key replaces the first. All methods are safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
	}
}

// After schedules fn to run once after d, under the given key. Any timer
// already scheduled under the key is cancelled first. Returns false if the
// scheduler has been closed.
func (s *Scheduler) After(key string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if existing, ok := s.timers[key]; ok {
		existing.Stop()
	}

	s.timers[key] = time.AfterFunc(d, func() {
		// Deregister before running so fn may reschedule under the same key.
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		fn()
	})
	return true
}

// Cancel stops the timer scheduled under key, if any. Returns true if a
// timer was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, key)
	return true
}

// Pending returns the number of scheduled timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// CancelAll stops every scheduled timer but leaves the scheduler usable.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}

// Close cancels all timers and rejects further scheduling. Timer callbacks
// that have not started by the time Close returns will never run.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}
