package relay

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmfields/cowrite/presence"
)

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("failed to ping Redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newRelayedTracker(t *testing.T) (*presence.Tracker, *Bridge) {
	t.Helper()
	tracker := presence.NewTracker(presence.Config{})
	bridge := NewBridge(testRedisClient(t), tracker)
	bridge.Run(context.Background())
	t.Cleanup(bridge.Close)
	// Give the subscription a moment to establish.
	time.Sleep(100 * time.Millisecond)
	return tracker, bridge
}

func TestBridge_FansOutAcrossInstances(t *testing.T) {
	trackerA, _ := newRelayedTracker(t)
	trackerB, _ := newRelayedTracker(t)

	events, cancel := trackerB.Subscribe("doc1")
	defer cancel()

	trackerA.JoinUser("doc1", presence.UserInfo{ID: "u1", Name: "Alice"}, nil, presence.SourceHTTP)

	select {
	case ev := <-events:
		if ev.Type != presence.EventUserJoined {
			t.Errorf("event = %q, want %q", ev.Type, presence.EventUserJoined)
		}
		if ev.DocumentID != "doc1" {
			t.Errorf("documentId = %q, want doc1", ev.DocumentID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remote instance never received the event")
	}

	// Fan-out only: the remote instance holds no presence state for u1.
	if trackerB.IsOnline("doc1", "u1") {
		t.Error("relayed event mutated remote presence state")
	}
}

func TestBridge_SkipsOwnMessages(t *testing.T) {
	tracker, _ := newRelayedTracker(t)

	events, cancel := tracker.Subscribe("doc1")
	defer cancel()

	tracker.JoinUser("doc1", presence.UserInfo{ID: "u1"}, nil, presence.SourceHTTP)

	// Exactly one delivery: the local one. The relayed copy comes back
	// over Redis but is dropped by origin.
	seen := 0
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case <-events:
			seen++
		case <-deadline:
			if seen != 1 {
				t.Errorf("delivered %d times, want 1", seen)
			}
			return
		}
	}
}
