// Package client holds the consuming side of the protocol: a
// refcounted multiplexer so concurrent holders of the same document
// share one replicated-state object and one connection, and a
// reconnecting push-transport client.
package client

import (
	"fmt"
	"sync"

	"github.com/jmfields/cowrite/crdt"
)

// Session is the shared per-document state: one replicated document and
// one teardown path, however many holders acquired it.
type Session struct {
	DocumentID string
	Doc        crdt.Document

	closeFn func()
}

// NewSession builds a session around a document object and a teardown
// function run exactly once when the last holder releases it.
func NewSession(documentID string, doc crdt.Document, closeFn func()) *Session {
	return &Session{DocumentID: documentID, Doc: doc, closeFn: closeFn}
}

func (s *Session) close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// Factory creates the session for a document on first acquisition.
type Factory func(documentID string) (*Session, error)

type providerEntry struct {
	session  *Session
	refCount int
}

// Multiplexer hands out shared sessions by document id. Teardown is
// explicit and deterministic: it happens when the refcount hits zero,
// never on garbage collection.
type Multiplexer struct {
	mu      sync.Mutex
	factory Factory
	entries map[string]*providerEntry
}

func NewMultiplexer(factory Factory) *Multiplexer {
	return &Multiplexer{
		factory: factory,
		entries: make(map[string]*providerEntry),
	}
}

// Acquire returns the session for a document, creating it on first use
// and bumping the refcount otherwise.
func (m *Multiplexer) Acquire(documentID string) (*Session, error) {
	m.mu.Lock()
	if e, ok := m.entries[documentID]; ok {
		e.refCount++
		s := e.session
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	session, err := m.factory(documentID)
	if err != nil {
		return nil, fmt.Errorf("create session for %q: %w", documentID, err)
	}

	m.mu.Lock()
	if e, ok := m.entries[documentID]; ok {
		// Lost the race; keep the existing session.
		e.refCount++
		s := e.session
		m.mu.Unlock()
		session.close()
		return s, nil
	}
	m.entries[documentID] = &providerEntry{session: session, refCount: 1}
	m.mu.Unlock()
	return session, nil
}

// Release drops one reference. The session is torn down only when the
// last reference goes; releasing an unknown or zero-ref document is a
// no-op.
func (m *Multiplexer) Release(documentID string) {
	m.mu.Lock()
	e, ok := m.entries[documentID]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.refCount--
	if e.refCount > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.entries, documentID)
	m.mu.Unlock()

	e.session.close()
}

// ForceReset tears the session down immediately, bypassing the
// refcount. Used when the document identity changes and stale state
// must not linger.
func (m *Multiplexer) ForceReset(documentID string) {
	m.mu.Lock()
	e, ok := m.entries[documentID]
	delete(m.entries, documentID)
	m.mu.Unlock()

	if ok {
		e.session.close()
	}
}

// RefCount reports the live reference count for a document.
func (m *Multiplexer) RefCount(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[documentID]; ok {
		return e.refCount
	}
	return 0
}
