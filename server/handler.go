package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jmfields/cowrite/store"
)

// NewHandler builds the HTTP surface: the websocket endpoint, the
// presence SSE/REST routes, and a snapshot listing for operators.
// snapshots may be nil when the server runs without persistence.
func NewHandler(g *Gateway, snapshots store.SnapshotStore) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", g.HandleWS)

	p := r.PathPrefix("/presence").Subrouter()
	p.Use(g.authMiddleware)
	p.HandleFunc("/{documentId}", g.handlePresenceStream).Methods(http.MethodGet)
	p.HandleFunc("/{documentId}/join", g.handlePresenceJoin).Methods(http.MethodPost)
	p.HandleFunc("/{documentId}/leave", g.handlePresenceLeave).Methods(http.MethodPost)
	p.HandleFunc("/{documentId}/cursor", g.handlePresenceCursor).Methods(http.MethodPost)
	p.HandleFunc("/{documentId}/selection", g.handlePresenceSelection).Methods(http.MethodPost)

	if snapshots != nil {
		r.Handle("/snapshots", g.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			records, err := snapshots.List(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
				return
			}
			type entry struct {
				DocumentID string    `json:"documentId"`
				UpdatedAt  time.Time `json:"updatedAt"`
			}
			out := make([]entry, 0, len(records))
			for _, rec := range records {
				out = append(out, entry{DocumentID: rec.DocumentID, UpdatedAt: rec.UpdatedAt})
			}
			writeJSON(w, http.StatusOK, out)
		}))).Methods(http.MethodGet)
	}

	return r
}
