// Package constraint enforces the structural rules of the graph.
//
// The Evaluator listens to every mutation the core performs and vetoes the
// ones that would break the graph: deleting a primitive twice, attaching a
// relationship to a node deleted in the same transaction, using a
// relationship type that does not exist, changing a primitive after deleting
// it, and storing a value the store cannot hold. At commit it checks that no
// deleted node still has relationships.
//
// Any veto makes the core mark the transaction rollback-only, so the
// transaction can no longer commit.
package constraint

import (
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/orneryd/graphkernel/pkg/core"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// Evaluator is a core.Listener and, for every transaction it has seen, a
// txn.Synchronization.
type Evaluator struct {
	nm *core.NodeManager

	mu  sync.Mutex
	txs map[txn.ID]*txState

	vetoes atomic.Int64
}

// txState is what one transaction deleted so far.
type txState struct {
	nodes map[storage.NodeID]struct{}
	rels  map[storage.RelationshipID]struct{}
}

// New creates an evaluator for nm. Register it with nm.AddListener.
func New(nm *core.NodeManager) *Evaluator {
	return &Evaluator{
		nm:  nm,
		txs: make(map[txn.ID]*txState),
	}
}

// Vetoes returns how many mutations and commits were rejected.
func (e *Evaluator) Vetoes() int64 {
	return e.vetoes.Load()
}

// Active returns the number of transactions with tracked state.
func (e *Evaluator) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.txs)
}

// state returns the deletions of tx, registering with tx on first use.
func (e *Evaluator) state(tx *txn.Transaction) (*txState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.txs[tx.ID()]; ok {
		return st, nil
	}
	if err := tx.RegisterSynchronization(e); err != nil {
		return nil, fmt.Errorf("constraint evaluator cannot join transaction %s: %w", tx.ID(), err)
	}
	st := &txState{
		nodes: make(map[storage.NodeID]struct{}),
		rels:  make(map[storage.RelationshipID]struct{}),
	}
	e.txs[tx.ID()] = st
	return st, nil
}

func (e *Evaluator) veto(err error) error {
	e.vetoes.Add(1)
	log.Printf("[Constraints] ❌ %v", err)
	return err
}

// BeforeEvent implements core.Listener.
func (e *Evaluator) BeforeEvent(ev *core.Event) error {
	if ev.Tx == nil {
		return nil
	}
	st, err := e.state(ev.Tx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Type {
	case core.EventNodeDelete:
		if _, ok := st.nodes[ev.NodeID]; ok {
			return e.veto(core.NewViolation(core.ViolationDoubleDelete,
				fmt.Sprintf("node[%d] deleted twice", ev.NodeID), uint64(ev.NodeID)))
		}

	case core.EventRelationshipDelete:
		if _, ok := st.rels[ev.RelationshipID]; ok {
			return e.veto(core.NewViolation(core.ViolationDoubleDelete,
				fmt.Sprintf("relationship[%d] deleted twice", ev.RelationshipID), uint64(ev.RelationshipID)))
		}

	case core.EventRelationshipCreate:
		var gone []uint64
		for _, id := range []storage.NodeID{ev.StartNode, ev.EndNode} {
			if _, ok := st.nodes[id]; ok && !slices.Contains(gone, uint64(id)) {
				gone = append(gone, uint64(id))
			}
		}
		if len(gone) > 0 {
			return e.veto(core.NewViolation(core.ViolationDeletedEndpoint,
				fmt.Sprintf("relationship (%d)-[:%s]->(%d) touches a node deleted in this transaction", ev.StartNode, ev.RelTypeName, ev.EndNode),
				gone...))
		}
		if !e.nm.RelationshipTypeHolder().Has(ev.RelTypeName) {
			return e.veto(core.NewViolation(core.ViolationUnknownType,
				fmt.Sprintf("relationship type %q does not exist", ev.RelTypeName)))
		}

	default:
		if ev.Type.IsProperty() {
			return e.checkProperty(st, ev)
		}
	}
	return nil
}

// checkProperty rejects changes to deleted primitives and values the store
// cannot hold. Caller holds mu.
func (e *Evaluator) checkProperty(st *txState, ev *core.Event) error {
	var deleted bool
	if ev.Type.OnNode() {
		_, deleted = st.nodes[ev.NodeID]
	} else {
		_, deleted = st.rels[ev.RelationshipID]
	}
	if deleted {
		return e.veto(core.NewViolation(core.ViolationDeletedPrimitive,
			fmt.Sprintf("%s on a primitive deleted in this transaction", ev.Type), ev.TargetID()))
	}
	if ev.Type == core.EventNodeRemoveProperty || ev.Type == core.EventRelationshipRemoveProperty {
		return nil
	}
	if err := storage.ValidateValue(ev.Value); err != nil {
		return e.veto(fmt.Errorf("property %q: %w", ev.Key, err))
	}
	return nil
}

// AfterEvent implements core.Listener.
func (e *Evaluator) AfterEvent(ev *core.Event) {
	if ev.Tx == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.txs[ev.Tx.ID()]
	if !ok {
		return
	}
	switch ev.Type {
	case core.EventNodeDelete:
		st.nodes[ev.NodeID] = struct{}{}
	case core.EventRelationshipDelete:
		st.rels[ev.RelationshipID] = struct{}{}
	}
}

// BeforeCompletion implements txn.Synchronization. It fails the commit when
// a node deleted by tx would still have relationships.
func (e *Evaluator) BeforeCompletion(tx *txn.Transaction) error {
	e.mu.Lock()
	st, ok := e.txs[tx.ID()]
	var nodes []storage.NodeID
	if ok {
		for id := range st.nodes {
			nodes = append(nodes, id)
		}
	}
	e.mu.Unlock()
	slices.Sort(nodes)

	var dangling []uint64
	for _, id := range nodes {
		n, err := e.nm.RemainingRelationships(tx, id)
		if err != nil {
			return fmt.Errorf("failed to count relationships of node[%d]: %w", id, err)
		}
		if n > 0 {
			dangling = append(dangling, uint64(id))
		}
	}
	if len(dangling) == 0 {
		return nil
	}
	return e.veto(core.NewViolation(core.ViolationDanglingRelationship,
		fmt.Sprintf("%d deleted node(s) still have relationships", len(dangling)), dangling...))
}

// AfterCompletion implements txn.Synchronization.
func (e *Evaluator) AfterCompletion(tx *txn.Transaction, _ txn.Status) error {
	e.mu.Lock()
	delete(e.txs, tx.ID())
	e.mu.Unlock()
	return nil
}

var (
	_ core.Listener        = (*Evaluator)(nil)
	_ txn.Synchronization = (*Evaluator)(nil)
)
