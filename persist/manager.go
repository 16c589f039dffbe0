package persist

import (
	"context"
	"log"
	"sync"

	"github.com/jmfields/cowrite/crdt"
	"github.com/jmfields/cowrite/store"
)

// DocumentFactory builds the replicated document object for an id,
// before any snapshot is applied.
type DocumentFactory func(documentID string) (crdt.Document, error)

// Manager keeps at most one bound Binder per document id.
type Manager struct {
	store   store.SnapshotStore
	factory DocumentFactory
	cfg     Config

	mu      sync.Mutex
	binders map[string]*Binder
}

func NewManager(st store.SnapshotStore, factory DocumentFactory, cfg Config) *Manager {
	return &Manager{
		store:   st,
		factory: factory,
		cfg:     cfg,
		binders: make(map[string]*Binder),
	}
}

// Ensure returns the binder for a document, creating and binding it on
// first use.
func (m *Manager) Ensure(ctx context.Context, documentID string) (*Binder, error) {
	m.mu.Lock()
	if b, ok := m.binders[documentID]; ok {
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()

	doc, err := m.factory(documentID)
	if err != nil {
		return nil, err
	}
	b := NewBinder(documentID, doc, m.store, m.cfg)
	if err := b.Bind(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.binders[documentID]; ok {
		// Lost the race; drop ours without a final save, nothing was
		// written to it yet.
		b.Unbind()
		return existing, nil
	}
	m.binders[documentID] = b
	return b, nil
}

// Get returns the binder for a document, if bound.
func (m *Manager) Get(documentID string) *Binder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.binders[documentID]
}

// Release flushes and unbinds one document.
func (m *Manager) Release(ctx context.Context, documentID string) {
	m.mu.Lock()
	b, ok := m.binders[documentID]
	if ok {
		delete(m.binders, documentID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := b.Flush(ctx); err != nil {
		log.Printf("persist: final flush of doc %q failed: %v", documentID, err)
	}
	b.Unbind()
}

// Shutdown flushes and unbinds every document.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.binders))
	for id := range m.binders {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Release(ctx, id)
	}
}
