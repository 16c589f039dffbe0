// Package store persists encoded document snapshots. One record per
// document id: the latest blob and when it was written. Merge
// correctness belongs to the CRDT; the store is last-writer-wins.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no snapshot exists for a document.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotRecord is the durable row for a document.
type SnapshotRecord struct {
	DocumentID string
	State      []byte
	UpdatedAt  time.Time
}

// SnapshotStore abstracts snapshot persistence.
// Implementations: MemoryStore, PostgresStore, FirestoreStore.
type SnapshotStore interface {
	// Load returns the latest snapshot for a document, or ErrNotFound.
	Load(ctx context.Context, documentID string) (*SnapshotRecord, error)

	// Save upserts the snapshot for a document.
	Save(ctx context.Context, documentID string, state []byte) error

	// List returns every stored snapshot record, without state blobs.
	List(ctx context.Context) ([]SnapshotRecord, error)

	// Delete removes a document's snapshot. Missing rows are not an error.
	Delete(ctx context.Context, documentID string) error
}
