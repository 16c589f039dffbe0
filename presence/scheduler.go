package presence

import (
	"sync"
	"time"
)

type timerKind int

const (
	timerDisconnect timerKind = iota
	timerCleanup
)

type timerKey struct {
	docID  string
	userID string
	kind   timerKind
}

// scheduler owns every pending presence timer, keyed by (document,
// user, kind). A key has at most one timer; scheduling on a live key is
// a no-op and cancellation by key cannot leak a handle.
type scheduler struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
}

func newScheduler() *scheduler {
	return &scheduler{timers: make(map[timerKey]*time.Timer)}
}

// schedule arms a timer for key unless one is already pending. fn runs
// on its own goroutine after d.
func (s *scheduler) schedule(key timerKey, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.timers[key]; exists {
		return
	}
	s.timers[key] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

// cancel disarms the timer for key, if any.
func (s *scheduler) cancel(key timerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// pending reports whether a timer is armed for key.
func (s *scheduler) pending(key timerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}
