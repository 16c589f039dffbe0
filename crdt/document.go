// Package crdt wraps the replicated document state. The merge algorithm
// itself lives in automerge; this package only exposes the operations
// the rest of the server needs: snapshot encoding, update application,
// and change notification.
package crdt

import (
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
)

// Document is an opaque, mergeable document representation.
type Document interface {
	// EncodeSnapshot serializes the full document state.
	EncodeSnapshot() ([]byte, error)

	// ApplyUpdate merges a binary update (a snapshot or change set
	// produced by another replica) into this document.
	ApplyUpdate(data []byte) error

	// OnChange registers a listener invoked after every mutation.
	// The returned function removes the listener.
	OnChange(fn func()) (cancel func())
}

// AutomergeDocument implements Document over an automerge doc.
type AutomergeDocument struct {
	mu        sync.Mutex
	doc       *automerge.Doc
	listeners map[int]func()
	nextID    int
}

// NewAutomergeDocument creates an empty document.
func NewAutomergeDocument() *AutomergeDocument {
	return &AutomergeDocument{
		doc:       automerge.New(),
		listeners: make(map[int]func()),
	}
}

// LoadAutomergeDocument restores a document from an encoded snapshot.
func LoadAutomergeDocument(data []byte) (*AutomergeDocument, error) {
	doc, err := automerge.Load(data)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return &AutomergeDocument{
		doc:       doc,
		listeners: make(map[int]func()),
	}, nil
}

func (d *AutomergeDocument) EncodeSnapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Save(), nil
}

func (d *AutomergeDocument) ApplyUpdate(data []byte) error {
	d.mu.Lock()
	remote, err := automerge.Load(data)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("decode update: %w", err)
	}
	changes, err := remote.Changes()
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("read update changes: %w", err)
	}
	if err := d.doc.Apply(changes...); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("apply update: %w", err)
	}
	d.mu.Unlock()

	d.notify()
	return nil
}

// Change applies a local mutation to the underlying automerge doc and
// notifies listeners.
func (d *AutomergeDocument) Change(fn func(doc *automerge.Doc) error) error {
	d.mu.Lock()
	if err := fn(d.doc); err != nil {
		d.mu.Unlock()
		return err
	}
	if _, err := d.doc.Commit("", automerge.CommitOptions{AllowEmpty: false}); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("commit change: %w", err)
	}
	d.mu.Unlock()

	d.notify()
	return nil
}

func (d *AutomergeDocument) OnChange(fn func()) (cancel func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

func (d *AutomergeDocument) notify() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
