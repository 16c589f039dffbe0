// Package persist binds live replicated documents to durable snapshot
// storage. Edits are frequent; durable writes are not: saves are
// debounced after the last mutation, with a periodic fallback so a
// continuously edited document still hits storage, and coalesced so a
// document never has more than one write in flight.
package persist

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jmfields/cowrite/crdt"
	"github.com/jmfields/cowrite/store"
)

const (
	defaultDebounce     = 2 * time.Second
	defaultSaveInterval = 30 * time.Second
)

// Config tunes a binder's save timing. Zero values mean the defaults.
type Config struct {
	// Debounce is how long after the last mutation a save runs.
	Debounce time.Duration

	// SaveInterval is the fallback save period, independent of the
	// debounce.
	SaveInterval time.Duration
}

// Binder attaches one document to the snapshot store.
type Binder struct {
	documentID string
	doc        crdt.Document
	store      store.SnapshotStore

	debounce     time.Duration
	saveInterval time.Duration

	mu        sync.Mutex
	bound     bool
	unlisten  func()
	debouncer *time.Timer
	ticker    *time.Ticker
	stop      chan struct{}
	inFlight  bool
	queued    bool
	idle      chan struct{} // closed when no save is in flight
}

// NewBinder creates an unbound binder for one document.
func NewBinder(documentID string, doc crdt.Document, st store.SnapshotStore, cfg Config) *Binder {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = defaultSaveInterval
	}
	idle := make(chan struct{})
	close(idle)
	return &Binder{
		documentID:   documentID,
		doc:          doc,
		store:        st,
		debounce:     cfg.Debounce,
		saveInterval: cfg.SaveInterval,
		idle:         idle,
	}
}

// Bind loads the latest snapshot into the document, attaches the change
// listener, and starts the fallback save ticker. Call before any local
// edits are expected.
func (b *Binder) Bind(ctx context.Context) error {
	rec, err := b.store.Load(ctx, b.documentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if rec != nil && len(rec.State) > 0 {
		if err := b.doc.ApplyUpdate(rec.State); err != nil {
			return err
		}
	}

	b.mu.Lock()
	if b.bound {
		b.mu.Unlock()
		return errors.New("already bound")
	}
	b.bound = true
	b.stop = make(chan struct{})
	b.ticker = time.NewTicker(b.saveInterval)
	b.unlisten = b.doc.OnChange(b.scheduleSave)
	stop := b.stop
	ticker := b.ticker
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				b.startSave()
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// scheduleSave (re)arms the debounce timer. Called on every document
// mutation.
func (b *Binder) scheduleSave() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.bound {
		return
	}
	if b.debouncer != nil {
		b.debouncer.Stop()
	}
	b.debouncer = time.AfterFunc(b.debounce, b.startSave)
}

// startSave begins a save unless one is already running, in which case
// exactly one follow-up save is queued behind it.
func (b *Binder) startSave() {
	b.mu.Lock()
	if !b.bound {
		b.mu.Unlock()
		return
	}
	if b.inFlight {
		b.queued = true
		b.mu.Unlock()
		return
	}
	b.inFlight = true
	b.idle = make(chan struct{})
	b.mu.Unlock()

	go b.runSave()
}

func (b *Binder) runSave() {
	for {
		b.saveOnce()

		b.mu.Lock()
		if b.queued {
			b.queued = false
			b.mu.Unlock()
			continue
		}
		b.inFlight = false
		close(b.idle)
		b.mu.Unlock()
		return
	}
}

// saveOnce performs one durable write. Failures are logged, not
// retried here: the in-memory document stays authoritative and the next
// debounce or tick tries again.
func (b *Binder) saveOnce() {
	state, err := b.doc.EncodeSnapshot()
	if err != nil {
		log.Printf("persist: failed to encode doc %q: %v", b.documentID, err)
		return
	}
	if err := b.store.Save(context.Background(), b.documentID, state); err != nil {
		log.Printf("persist: failed to save doc %q: %v", b.documentID, err)
	}
}

// Flush cancels any pending debounce and saves immediately, returning
// once the write (and any save already in flight) has completed. The
// flush write claims the same in-flight slot as background saves, so a
// fallback tick firing mid-flush queues instead of overlapping it.
func (b *Binder) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.debouncer != nil {
		b.debouncer.Stop()
		b.debouncer = nil
	}
	for b.inFlight {
		idle := b.idle
		b.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mu.Lock()
	}
	b.inFlight = true
	b.idle = make(chan struct{})
	b.mu.Unlock()

	state, encErr := b.doc.EncodeSnapshot()
	var err error
	if encErr != nil {
		err = encErr
	} else {
		err = b.store.Save(ctx, b.documentID, state)
	}

	b.mu.Lock()
	b.inFlight = false
	close(b.idle)
	b.mu.Unlock()
	return err
}

// Unbind detaches the change listener and stops both timers. It does
// not save; call Flush first when durability matters.
func (b *Binder) Unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.bound {
		return
	}
	b.bound = false
	if b.unlisten != nil {
		b.unlisten()
		b.unlisten = nil
	}
	if b.debouncer != nil {
		b.debouncer.Stop()
		b.debouncer = nil
	}
	b.ticker.Stop()
	close(b.stop)
}
