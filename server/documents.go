package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrAccessDenied is returned when a document lookup finds no row the
// requesting user may read.
var ErrAccessDenied = errors.New("document not found or access denied")

// Document is the metadata and content handed to sync responses.
// Document CRUD itself is an external collaborator.
type Document struct {
	ID          string
	Title       string
	UpdatedAt   time.Time
	OwnerID     string
	WorkspaceID string
	Content     json.RawMessage
}

// DocumentFetcher looks up a document on behalf of a user.
type DocumentFetcher interface {
	Fetch(ctx context.Context, documentID, workspaceID, userID string) (*Document, error)
}

// MemoryDirectory is an in-memory DocumentFetcher for development and
// tests. Every stored document is readable by everyone.
type MemoryDirectory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{docs: make(map[string]Document)}
}

func (d *MemoryDirectory) Put(doc Document) {
	d.mu.Lock()
	d.docs[doc.ID] = doc
	d.mu.Unlock()
}

func (d *MemoryDirectory) Fetch(_ context.Context, documentID, _, _ string) (*Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.docs[documentID]
	if !ok {
		return nil, ErrAccessDenied
	}
	return &doc, nil
}
