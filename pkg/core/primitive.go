package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/orneryd/graphkernel/pkg/lock"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// Phase is how much of a primitive is in memory.
type Phase uint8

const (
	// PhaseLight: only identity is known, tables are nil.
	PhaseLight Phase = iota
	// PhaseFull: tables mirror the store as of the last load.
	PhaseFull
)

func (p Phase) String() string {
	if p == PhaseFull {
		return "full"
	}
	return "light"
}

// primitive is the state shared by nodes and relationships.
//
// mu guards phase, props, deleted and uncommitted, and the node adjacency
// table. It is held only for in-memory work and store loads, never while
// waiting on the lock coordinator. owner is atomic so cache eviction can
// check it without taking mu.
type primitive struct {
	mu sync.Mutex

	phase       Phase
	props       map[storage.PropertyKeyID]*PropertyCell
	deleted     bool
	uncommitted bool

	owner atomic.Value // txn.ID
}

func (p *primitive) base() *primitive { return p }

// ownerTx returns the transaction holding an open overlay, or "".
func (p *primitive) ownerTx() txn.ID {
	id, _ := p.owner.Load().(txn.ID)
	return id
}

func (p *primitive) setOwner(id txn.ID) {
	p.owner.Store(id)
}

// pinned reports whether the primitive must stay cached.
func (p *primitive) pinned() bool {
	return p.ownerTx() != ""
}

// visibleTo reports whether a reader in tx may see the primitive at all:
// committed deletes hide it from everyone, and a create is only visible to
// the creating transaction until it commits.
func (p *primitive) visibleTo(tx txn.ID) bool {
	if p.deleted {
		return false
	}
	return !p.uncommitted || p.ownerTx() == tx
}

// foldProperties merges a committed property overlay. Caller holds mu.
func (p *primitive) foldProperties(ov *Overlay) {
	if p.props == nil {
		p.props = make(map[storage.PropertyKeyID]*PropertyCell, len(ov.added))
	}
	for key := range ov.removed {
		delete(p.props, key)
	}
	for key, cell := range ov.added {
		p.props[key] = cell
	}
}

// propertyOp selects the event and store intent of a property mutation.
type propertyOp uint8

const (
	opAdd propertyOp = iota
	opChange
	opRemove
)

// entity is what the shared property algorithm needs from a node or a
// relationship.
type entity interface {
	fmt.Stringer
	base() *primitive
	lockKey() lock.Key
	// materialize loads the tables of a light primitive. Caller holds mu.
	materialize(m *NodeManager) error
	// fold merges a committed overlay. Caller holds mu.
	fold(ov *Overlay) error
	propertyEvent(op propertyOp) EventType
	// describe fills the target id of ev.
	describe(ev *Event)
	storeAddProperty(s storage.Store, tx txn.ID, key storage.PropertyKeyID, value any) (storage.PropertyID, error)
	storeChangeProperty(s storage.Store, tx txn.ID, prop storage.PropertyID, value any) error
	storeRemoveProperty(s storage.Store, tx txn.ID, prop storage.PropertyID) error
}

func propertyTable(raws []storage.RawProperty) map[storage.PropertyKeyID]*PropertyCell {
	props := make(map[storage.PropertyKeyID]*PropertyCell, len(raws))
	for _, raw := range raws {
		props[raw.KeyID] = cellFromRaw(raw)
	}
	return props
}
