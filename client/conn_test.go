package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmfields/cowrite/server"
)

var testUpgrader = websocket.Upgrader{}

// echoServer upgrades connections and echoes every envelope back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			ws.WriteMessage(mt, data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConn_SendAndReceive(t *testing.T) {
	srv := echoServer(t)

	connected := make(chan *Conn, 1)
	received := make(chan server.Envelope, 1)
	c := Dial(context.Background(), ConnConfig{
		URL:       wsURL(srv),
		OnConnect: func(c *Conn) { connected <- c },
		OnMessage: func(env server.Envelope) { received <- env },
	})
	defer c.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("never connected")
	}

	if err := c.Send(server.MsgConnect, struct{}{}); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-received:
		if env.Type != server.MsgConnect {
			t.Errorf("echoed type = %q, want %q", env.Type, server.MsgConnect)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never received echo")
	}
}

func TestConn_ReconnectsAfterServerDrop(t *testing.T) {
	var drops int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Kill the first connection immediately; serve the second.
		if atomic.AddInt32(&drops, 1) == 1 {
			ws.Close()
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	connects := make(chan struct{}, 4)
	c := Dial(context.Background(), ConnConfig{
		URL:            wsURL(srv),
		InitialBackoff: 5 * time.Millisecond,
		OnConnect:      func(*Conn) { connects <- struct{}{} },
	})
	defer c.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-connects:
		case <-time.After(2 * time.Second):
			t.Fatalf("connect %d never happened", i+1)
		}
	}
}

func TestConn_GivesUpAndReportsOffline(t *testing.T) {
	offline := make(chan struct{})
	c := Dial(context.Background(), ConnConfig{
		URL:            "ws://127.0.0.1:1", // nothing listens here
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxAttempts:    2,
		OnOffline:      func() { close(offline) },
	})
	defer c.Close()

	select {
	case <-offline:
	case <-time.After(5 * time.Second):
		t.Fatal("offline callback never fired")
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection loop still running after giving up")
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	srv := echoServer(t)

	connected := make(chan struct{}, 1)
	c := Dial(context.Background(), ConnConfig{
		URL:       wsURL(srv),
		OnConnect: func(*Conn) { connected <- struct{}{} },
	})
	<-connected

	c.Close()
	if err := c.Send(server.MsgConnect, struct{}{}); err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection loop did not stop after Close")
	}
}

func TestConn_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := Dial(ctx, ConnConfig{
		URL:            "ws://127.0.0.1:1",
		InitialBackoff: time.Millisecond,
		MaxAttempts:    1000,
	})
	cancel()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection loop survived context cancellation")
	}
}
