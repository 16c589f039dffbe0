package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of SnapshotStore.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]SnapshotRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]SnapshotRecord)}
}

func (s *MemoryStore) Load(_ context.Context, documentID string) (*SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := rec
	cp.State = append([]byte(nil), rec.State...)
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, documentID string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[documentID] = SnapshotRecord{
		DocumentID: documentID,
		State:      append([]byte(nil), state...),
		UpdatedAt:  time.Now(),
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]SnapshotRecord, 0, len(s.docs))
	for _, rec := range s.docs {
		result = append(result, SnapshotRecord{DocumentID: rec.DocumentID, UpdatedAt: rec.UpdatedAt})
	}
	return result, nil
}

func (s *MemoryStore) Delete(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, documentID)
	return nil
}
