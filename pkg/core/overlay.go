package core

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/orneryd/graphkernel/pkg/lock"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// Overlay holds the uncommitted changes one transaction made to one
// primitive. Only the owning transaction reads it; commit folds it into the
// primitive and rollback drops it.
type Overlay struct {
	added   map[storage.PropertyKeyID]*PropertyCell
	removed map[storage.PropertyKeyID]struct{}

	// nodes only
	relAdded   map[storage.RelTypeID]*AdjacencySet
	relRemoved map[storage.RelTypeID]*AdjacencySet

	created bool
	deleted bool
}

func newOverlay(forNode bool) *Overlay {
	ov := &Overlay{
		added:   make(map[storage.PropertyKeyID]*PropertyCell),
		removed: make(map[storage.PropertyKeyID]struct{}),
	}
	if forNode {
		ov.relAdded = make(map[storage.RelTypeID]*AdjacencySet)
		ov.relRemoved = make(map[storage.RelTypeID]*AdjacencySet)
	}
	return ov
}

// Created reports whether the primitive was created by the transaction.
func (o *Overlay) Created() bool { return o != nil && o.created }

// Deleted reports whether the transaction deleted the primitive.
func (o *Overlay) Deleted() bool { return o != nil && o.deleted }

// hides reports whether key is removed in the overlay.
func (o *Overlay) hides(key storage.PropertyKeyID) bool {
	if o == nil {
		return false
	}
	_, ok := o.removed[key]
	return ok
}

// cell returns the overlay value of key.
func (o *Overlay) cell(key storage.PropertyKeyID) (*PropertyCell, bool) {
	if o == nil {
		return nil, false
	}
	c, ok := o.added[key]
	return c, ok
}

// evicter drops primitives from the cache.
type evicter interface {
	evict(e entity)
}

// OverlayRegistry owns every overlay and every deferred write lock of every
// open transaction. It registers itself as a txn.Synchronization on a
// transaction's first use and, when the transaction completes, folds or
// discards the overlays and then releases the locks.
type OverlayRegistry struct {
	locks *lock.Coordinator
	cache evicter

	mu  sync.Mutex
	txs map[txn.ID]*txOverlays
}

type txOverlays struct {
	owner    lock.Owner
	order    []entity
	overlays map[lock.Key]*Overlay
	holds    []lock.Hold
}

// NewOverlayRegistry creates a registry releasing locks through locks.
func NewOverlayRegistry(locks *lock.Coordinator) *OverlayRegistry {
	return &OverlayRegistry{
		locks: locks,
		txs:   make(map[txn.ID]*txOverlays),
	}
}

// OwnerOf returns the lock owner used for tx.
func OwnerOf(tx *txn.Transaction) lock.Owner {
	return lock.Owner(tx.ID())
}

// state returns the bookkeeping of tx, registering with it on first use.
func (r *OverlayRegistry) state(tx *txn.Transaction) (*txOverlays, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.txs[tx.ID()]; ok {
		return st, nil
	}
	if err := tx.RegisterSynchronization(r); err != nil {
		return nil, fmt.Errorf("cannot register with transaction %s: %w", tx.ID(), err)
	}
	st := &txOverlays{
		owner:    OwnerOf(tx),
		overlays: make(map[lock.Key]*Overlay),
	}
	r.txs[tx.ID()] = st
	return st, nil
}

// OpenOverlay returns the overlay of e in tx, creating it on first use.
// The caller must hold the write lock of e.
func (r *OverlayRegistry) OpenOverlay(tx *txn.Transaction, e entity) (*Overlay, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: cannot modify %s", ErrNotInTransaction, e)
	}
	st, err := r.state(tx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := e.lockKey()
	if ov, ok := st.overlays[key]; ok {
		return ov, nil
	}
	p := e.base()
	if current := p.ownerTx(); current != "" && current != tx.ID() {
		return nil, fmt.Errorf("%w: %s already has an overlay of transaction %s", ErrLockFailure, e, current)
	}
	_, isNode := e.(*node)
	ov := newOverlay(isNode)
	st.overlays[key] = ov
	st.order = append(st.order, e)
	p.setOwner(tx.ID())
	return ov, nil
}

// Overlay returns the overlay tx holds on the primitive with key, or nil.
func (r *OverlayRegistry) Overlay(tx *txn.Transaction, key lock.Key) *Overlay {
	if tx == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.txs[tx.ID()]
	if !ok {
		return nil
	}
	return st.overlays[key]
}

// DeferWriteLockRelease hands a held write lock to the registry, which
// releases it when tx completes. Without a transaction the lock is released
// at once and ErrNotInTransaction is returned.
func (r *OverlayRegistry) DeferWriteLockRelease(tx *txn.Transaction, owner lock.Owner, key lock.Key) error {
	if tx == nil {
		return errors.Join(
			fmt.Errorf("%w: write to %s", ErrNotInTransaction, key),
			r.locks.ReleaseWrite(owner, key),
		)
	}
	st, err := r.state(tx)
	if err != nil {
		return errors.Join(err, r.locks.ReleaseWrite(owner, key))
	}
	r.mu.Lock()
	st.holds = append(st.holds, lock.Hold{Key: key, Mode: lock.Write})
	r.mu.Unlock()
	return nil
}

// ActiveTransactions returns how many transactions have registered state.
func (r *OverlayRegistry) ActiveTransactions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}

// BeforeCompletion implements txn.Synchronization.
func (r *OverlayRegistry) BeforeCompletion(*txn.Transaction) error {
	return nil
}

// AfterCompletion folds (committed) or discards (rolled back) every overlay
// of tx, then releases its locks. Every primitive and every lock is handled
// even when some fail; the failures are returned together.
func (r *OverlayRegistry) AfterCompletion(tx *txn.Transaction, status txn.Status) error {
	r.mu.Lock()
	st, ok := r.txs[tx.ID()]
	delete(r.txs, tx.ID())
	r.mu.Unlock()
	if !ok {
		return nil
	}

	var errs []error
	committed := status == txn.StatusCommitted
	for _, e := range st.order {
		ov := st.overlays[e.lockKey()]
		if committed {
			if err := r.commitOverlay(e, ov); err != nil {
				errs = append(errs, err)
			}
		} else {
			r.discardOverlay(e, ov)
		}
	}
	if err := r.locks.ReleaseAll(st.owner, st.holds); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		log.Printf("[Overlay] ⚠️  tx %s (%s): %d primitives or locks failed to complete", tx.ID(), status, len(errs))
	}
	return errors.Join(errs...)
}

func (r *OverlayRegistry) commitOverlay(e entity, ov *Overlay) error {
	p := e.base()
	p.mu.Lock()
	var err error
	if ov.deleted {
		p.deleted = true
	} else {
		err = e.fold(ov)
		p.uncommitted = false
	}
	p.setOwner("")
	p.mu.Unlock()

	if ov.deleted && r.cache != nil {
		r.cache.evict(e)
	}
	if err != nil {
		return fmt.Errorf("failed to fold %s: %w", e, err)
	}
	return nil
}

func (r *OverlayRegistry) discardOverlay(e entity, ov *Overlay) {
	p := e.base()
	p.mu.Lock()
	if ov.created {
		p.deleted = true
	}
	p.setOwner("")
	p.mu.Unlock()

	if ov.created && r.cache != nil {
		r.cache.evict(e)
	}
}

var _ txn.Synchronization = (*OverlayRegistry)(nil)
