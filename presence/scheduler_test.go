package presence

import (
	"testing"
	"time"
)

func TestScheduler_DuplicateScheduleIsNoop(t *testing.T) {
	s := newScheduler()
	key := timerKey{"doc1", "u1", timerDisconnect}

	fired := make(chan int, 2)
	s.schedule(key, 20*time.Millisecond, func() { fired <- 1 })
	s.schedule(key, time.Millisecond, func() { fired <- 2 })

	select {
	case got := <-fired:
		if got != 1 {
			t.Fatalf("second schedule replaced the first")
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	select {
	case <-fired:
		t.Fatal("both timers fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_CancelPreventsFire(t *testing.T) {
	s := newScheduler()
	key := timerKey{"doc1", "u1", timerCleanup}

	fired := make(chan struct{}, 1)
	s.schedule(key, 20*time.Millisecond, func() { fired <- struct{}{} })
	s.cancel(key)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
	if s.pending(key) {
		t.Error("key still pending after cancel")
	}
}

func TestScheduler_KeysAreIndependent(t *testing.T) {
	s := newScheduler()
	fired := make(chan timerKind, 2)

	s.schedule(timerKey{"doc1", "u1", timerDisconnect}, 10*time.Millisecond, func() { fired <- timerDisconnect })
	s.schedule(timerKey{"doc1", "u1", timerCleanup}, 10*time.Millisecond, func() { fired <- timerCleanup })

	seen := map[timerKind]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-fired:
			seen[k] = true
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for timers")
		}
	}
	if !seen[timerDisconnect] || !seen[timerCleanup] {
		t.Errorf("fired kinds = %v, want both", seen)
	}
}
