// Package server is the protocol gateway: it authenticates transport
// connections, dispatches typed messages, and fans presence and sync
// events out to the connections watching each document.
package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmfields/cowrite/persist"
	"github.com/jmfields/cowrite/presence"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connState is the metadata the gateway keeps per connection. Mutated
// only by the gateway, under its lock.
type connState struct {
	Identity
	DocumentID  string
	WorkspaceID string
}

// Gateway routes push-transport traffic and serves the presence REST
// and SSE surfaces.
type Gateway struct {
	tracker  *presence.Tracker
	sessions SessionResolver
	docs     DocumentFetcher
	binders  *persist.Manager // may be nil

	mu    sync.RWMutex
	conns map[*Conn]*connState
}

// NewGateway wires a gateway to its collaborators and registers it as
// the tracker's push-transport broadcaster. binders may be nil when the
// server runs without persistence.
func NewGateway(tracker *presence.Tracker, sessions SessionResolver, docs DocumentFetcher, binders *persist.Manager) *Gateway {
	g := &Gateway{
		tracker:  tracker,
		sessions: sessions,
		docs:     docs,
		binders:  binders,
		conns:    make(map[*Conn]*connState),
	}
	tracker.SetPushBroadcaster(g.BroadcastPresence)
	return g
}

// HandleWS upgrades a push-transport connection, authenticates it from
// the handshake credential, and starts the pumps.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: websocket upgrade error: %v", err)
		return
	}

	id, err := g.sessions.Resolve(r.Context(), sessionToken(r))
	if err != nil {
		ws.WriteMessage(websocket.TextMessage,
			encodeMessage(MsgError, ErrorPayload{Message: "unauthorized", Code: "unauthorized"}))
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
			time.Now().Add(writeWait))
		ws.Close()
		return
	}

	c := newConn(g, ws)
	g.mu.Lock()
	g.conns[c] = &connState{Identity: id}
	g.mu.Unlock()

	c.sendMsg(MsgReady, ReadyPayload{ServerTime: time.Now().UTC().Format(time.RFC3339Nano)})

	go c.WritePump()
	go c.ReadPump()
}

// handleMessage dispatches one inbound message. Malformed or unknown
// messages are logged and dropped; the connection stays open.
func (g *Gateway) handleMessage(c *Conn, data []byte) {
	msg, err := DecodeClientMessage(data)
	if err != nil {
		log.Printf("gateway: conn %s: %v", c.id, err)
		return
	}

	switch m := msg.(type) {
	case ConnectMessage:
		c.sendMsg(MsgReady, ReadyPayload{ServerTime: time.Now().UTC().Format(time.RFC3339Nano)})
	case DocumentOpenMessage:
		g.handleDocumentOpen(c, m)
	case SyncRequestMessage:
		g.handleSyncRequest(c, m)
	case PresenceUpdateMessage:
		g.handlePresenceUpdate(c, m)
	}
}

// handleDocumentOpen binds the connection to a document: access check,
// presence registration, lazy persistence binding, then the sync
// response.
func (g *Gateway) handleDocumentOpen(c *Conn, msg DocumentOpenMessage) {
	state := g.state(c)
	if state == nil {
		return
	}

	doc, err := g.docs.Fetch(context.Background(), msg.DocumentID, msg.WorkspaceID, state.UserID)
	if err != nil {
		c.sendMsg(MsgAccessDenied, AccessDeniedPayload{
			DocumentID:  msg.DocumentID,
			WorkspaceID: msg.WorkspaceID,
			Reason:      err.Error(),
		})
		return
	}

	g.mu.Lock()
	prevDoc := state.DocumentID
	state.DocumentID = msg.DocumentID
	state.WorkspaceID = msg.WorkspaceID
	g.mu.Unlock()

	if g.binders != nil {
		if _, err := g.binders.Ensure(context.Background(), msg.DocumentID); err != nil {
			log.Printf("gateway: failed to bind doc %q for persistence: %v", msg.DocumentID, err)
		}
	}

	// One registration per connection. Re-opening the same document is
	// not a second transport, and switching documents releases the old
	// registration into the grace flow.
	if prevDoc != msg.DocumentID {
		if prevDoc != "" {
			g.tracker.UnregisterConnection(prevDoc, state.UserID)
		}
		g.tracker.RegisterConnection(msg.DocumentID, state.UserID)
	}
	g.tracker.JoinUser(msg.DocumentID, presence.UserInfo{
		ID:     state.UserID,
		Name:   state.Name,
		Avatar: state.Avatar,
	}, nil, presence.SourceWS)

	// ws-sourced joins are suppressed on the tracker's push tee, so the
	// gateway notifies push peers itself.
	g.broadcastToDocument(msg.DocumentID, state.UserID, PresenceBroadcastPayload{
		DocumentID: msg.DocumentID,
		Presence:   OutboundPresence{UserID: state.UserID},
		Event:      presence.EventUserJoined,
	})

	c.sendMsg(MsgSyncResponse, syncResponse(doc))
}

func (g *Gateway) handleSyncRequest(c *Conn, msg SyncRequestMessage) {
	state := g.state(c)
	if state == nil {
		return
	}

	doc, err := g.docs.Fetch(context.Background(), msg.DocumentID, msg.WorkspaceID, state.UserID)
	if err != nil {
		c.sendMsg(MsgAccessDenied, AccessDeniedPayload{
			DocumentID:  msg.DocumentID,
			WorkspaceID: msg.WorkspaceID,
			Reason:      err.Error(),
		})
		return
	}
	c.sendMsg(MsgSyncResponse, syncResponse(doc))
}

func (g *Gateway) handlePresenceUpdate(c *Conn, msg PresenceUpdateMessage) {
	state := g.state(c)
	if state == nil {
		return
	}
	if state.DocumentID != msg.DocumentID {
		log.Printf("gateway: user %s sent presence for wrong document", state.UserID)
		return
	}

	g.tracker.HandlePushUpdate(msg.DocumentID, presence.UserInfo{
		ID:     state.UserID,
		Name:   state.Name,
		Avatar: state.Avatar,
	}, msg.Presence.Cursor, msg.Presence.Selection)

	cursor, sel := normalizePresence(msg.Presence)
	g.broadcastToDocument(msg.DocumentID, state.UserID, PresenceBroadcastPayload{
		DocumentID: msg.DocumentID,
		Presence:   OutboundPresence{UserID: state.UserID, Cursor: cursor, Selection: sel},
		Event:      presence.EventCursorUpdate,
	})
}

// dropConn removes a closed connection. If it had a document open, the
// peers hear about the departure and the presence grace flow starts.
func (g *Gateway) dropConn(c *Conn) {
	g.mu.Lock()
	state := g.conns[c]
	delete(g.conns, c)
	g.mu.Unlock()

	if state == nil || state.DocumentID == "" {
		return
	}

	g.broadcastToDocument(state.DocumentID, state.UserID, PresenceBroadcastPayload{
		DocumentID: state.DocumentID,
		Presence:   OutboundPresence{UserID: state.UserID},
		Event:      presence.EventUserLeft,
	})
	g.tracker.UnregisterConnection(state.DocumentID, state.UserID)
}

// BroadcastPresence is the tracker's push-transport fan-out: deliver a
// presence change to every connection watching the document except the
// acting user's own.
func (g *Gateway) BroadcastPresence(b presence.PushBroadcast) {
	g.broadcastToDocument(b.DocumentID, b.ExcludeUserID, PresenceBroadcastPayload{
		DocumentID: b.DocumentID,
		Presence:   OutboundPresence{UserID: b.UserID, Cursor: b.Cursor, Selection: b.Selection},
		Event:      b.EventType,
	})
}

func (g *Gateway) broadcastToDocument(documentID, excludeUserID string, payload PresenceBroadcastPayload) {
	data := encodeMessage(MsgPresenceBroadcast, payload)

	g.mu.RLock()
	targets := make([]*Conn, 0, len(g.conns))
	for c, state := range g.conns {
		if state.DocumentID != documentID || state.UserID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		c.sendRaw(data)
	}
}

func (g *Gateway) state(c *Conn) *connState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conns[c]
}

func syncResponse(doc *Document) SyncResponsePayload {
	return SyncResponsePayload{Document: DocumentPayload{
		ID:          doc.ID,
		Title:       doc.Title,
		UpdatedAt:   doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		OwnerID:     doc.OwnerID,
		WorkspaceID: doc.WorkspaceID,
		Content:     doc.Content,
	}}
}

func normalizePresence(p PresenceState) (*presence.Cursor, *presence.Selection) {
	if p.Selection != nil {
		sel := &presence.Selection{From: p.Selection.Anchor, To: p.Selection.Head}
		return &presence.Cursor{Position: sel.To, Range: sel}, sel
	}
	if p.Cursor != nil {
		return &presence.Cursor{Position: p.Cursor.X}, nil
	}
	return nil, nil
}
