package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jmfields/cowrite/presence"
)

// The REST surface translates each call directly into one presence
// tracker operation. Identity comes from the resolved session, not the
// body.

type cursorBody struct {
	Position *int                `json:"position"`
	Range    *presence.Selection `json:"range"`
}

type selectionBody struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

func (b *cursorBody) toCursor() *presence.Cursor {
	if b == nil || b.Position == nil {
		return nil
	}
	return &presence.Cursor{Position: *b.Position, Range: b.Range}
}

func (g *Gateway) handlePresenceJoin(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentId"]
	id, ok := identityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}

	var body struct {
		Cursor *cursorBody `json:"cursor"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	g.tracker.JoinUser(documentID, presence.UserInfo{
		ID:     id.UserID,
		Name:   id.Name,
		Avatar: id.Avatar,
	}, body.Cursor.toCursor(), presence.SourceHTTP)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"presence": g.tracker.GetSnapshot(documentID),
	})
}

func (g *Gateway) handlePresenceLeave(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentId"]
	id, ok := identityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}

	g.tracker.LeaveUser(documentID, id.UserID, presence.SourceHTTP)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (g *Gateway) handlePresenceCursor(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentId"]
	id, ok := identityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}

	var body cursorBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Position == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "cursor position is required"})
		return
	}

	g.tracker.UpdateCursor(documentID, presence.UserInfo{
		ID:     id.UserID,
		Name:   id.Name,
		Avatar: id.Avatar,
	}, *body.toCursor(), presence.SourceHTTP)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (g *Gateway) handlePresenceSelection(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentId"]
	id, ok := identityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}

	var body selectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.From == nil || body.To == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "selection range is required"})
		return
	}

	g.tracker.UpdateSelection(documentID, presence.UserInfo{
		ID:     id.UserID,
		Name:   id.Name,
		Avatar: id.Avatar,
	}, presence.Selection{From: *body.From, To: *body.To}, presence.SourceHTTP)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
