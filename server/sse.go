package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const keepaliveInterval = 15 * time.Second

// handlePresenceStream serves the pull transport: a per-document
// event stream. The subscriber counts as one presence connection, gets
// the current snapshot immediately, then every subsequent event, with
// keepalive comments to defeat idle timeouts.
func (g *Gateway) handlePresenceStream(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentId"]
	if documentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "documentId is required"})
		return
	}
	id, ok := identityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.tracker.RegisterConnection(documentID, id.UserID)
	events, unsubscribe := g.tracker.Subscribe(documentID)
	defer func() {
		unsubscribe()
		g.tracker.UnregisterConnection(documentID, id.UserID)
	}()

	writeSSE(w, "presence", g.tracker.GetSnapshot(documentID))
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			writeSSE(w, string(ev.Type), ev.Payload)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive %d\n\n", time.Now().UnixMilli())
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
