package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmfields/cowrite/presence"
)

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	event string
	data  string
}

// readFrame reads the next event from the stream, skipping comments.
func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var frame sseFrame
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && frame.event != "":
			return frame
		case strings.HasPrefix(line, "event: "):
			frame.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			frame.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, srv *httptest.Server, token, documentID string) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/presence/"+documentID, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.AddCookie(&http.Cookie{Name: "session", Value: token})

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		cancel()
		t.Fatalf("content type = %q", ct)
	}
	return bufio.NewReader(resp.Body), func() {
		cancel()
		resp.Body.Close()
	}
}

func TestPresenceStream_SnapshotThenEvents(t *testing.T) {
	g, _ := newTestGateway()
	srv := httptest.NewServer(NewHandler(g, nil))
	defer srv.Close()

	g.tracker.JoinUser("d1", presence.UserInfo{ID: "early", Name: "Early"}, nil, presence.SourceHTTP)

	stream, closeStream := openStream(t, srv, "token-1", "d1")
	defer closeStream()

	frame := readFrame(t, stream)
	if frame.event != "presence" {
		t.Fatalf("first event = %q, want presence", frame.event)
	}
	if !strings.Contains(frame.data, `"early"`) {
		t.Errorf("snapshot missing existing user: %s", frame.data)
	}

	g.tracker.JoinUser("d1", presence.UserInfo{ID: "late", Name: "Late"}, nil, presence.SourceHTTP)
	frame = readFrame(t, stream)
	if frame.event != "user_joined" {
		t.Fatalf("event = %q, want user_joined", frame.event)
	}
	if !strings.Contains(frame.data, `"late"`) {
		t.Errorf("join payload missing user: %s", frame.data)
	}

	g.tracker.LeaveUser("d1", "late", presence.SourceHTTP)
	frame = readFrame(t, stream)
	if frame.event != "user_left" {
		t.Fatalf("event = %q, want user_left", frame.event)
	}
}

func TestPresenceStream_CountsAsConnection(t *testing.T) {
	g, _ := newTestGateway()
	srv := httptest.NewServer(NewHandler(g, nil))
	defer srv.Close()

	stream, closeStream := openStream(t, srv, "token-1", "d1")
	readFrame(t, stream) // snapshot

	if got := g.tracker.ConnectionCount("d1", "u1"); got != 1 {
		t.Errorf("connection count = %d, want 1", got)
	}

	closeStream()
	deadline := time.Now().Add(2 * time.Second)
	for g.tracker.ConnectionCount("d1", "u1") != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := g.tracker.ConnectionCount("d1", "u1"); got != 0 {
		t.Errorf("connection count after close = %d, want 0", got)
	}
}

func TestPresenceStream_Unauthorized(t *testing.T) {
	g, _ := newTestGateway()
	srv := httptest.NewServer(NewHandler(g, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/presence/d1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
