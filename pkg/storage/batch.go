package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/orneryd/graphkernel/pkg/txn"
)

// OperationType identifies a buffered mutation intent.
type OperationType string

const (
	OpNodeCreate                 OperationType = "node_create"
	OpNodeDelete                 OperationType = "node_delete"
	OpNodeAddProperty            OperationType = "node_add_property"
	OpNodeChangeProperty         OperationType = "node_change_property"
	OpNodeRemoveProperty         OperationType = "node_remove_property"
	OpRelationshipCreate         OperationType = "relationship_create"
	OpRelationshipDelete         OperationType = "relationship_delete"
	OpRelationshipAddProperty    OperationType = "relationship_add_property"
	OpRelationshipChangeProperty OperationType = "relationship_change_property"
	OpRelationshipRemoveProperty OperationType = "relationship_remove_property"
)

// Operation is one mutation intent recorded for a transaction.
//
// Only the fields relevant to Type are set. Node operations use NodeID,
// relationship operations use RelationshipID (and Type/StartNode/EndNode on
// create), property operations additionally use PropertyID, KeyID and Value.
type Operation struct {
	Type      OperationType
	Timestamp time.Time

	NodeID         NodeID
	RelationshipID RelationshipID
	RelType        RelTypeID
	StartNode      NodeID
	EndNode        NodeID

	PropertyID PropertyID
	KeyID      PropertyKeyID
	Value      any
}

// isNodeOp reports whether the operation targets a node's property chain.
func (op Operation) isNodeOp() bool {
	switch op.Type {
	case OpNodeCreate, OpNodeDelete, OpNodeAddProperty, OpNodeChangeProperty, OpNodeRemoveProperty:
		return true
	}
	return false
}

// Batch is the ordered list of intents a transaction recorded.
type Batch struct {
	TxID       txn.ID
	Operations []Operation
}

// Len returns the number of buffered operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Operations)
}

// Ordered returns the operations in apply order: call order, except that node
// deletions move to the end. A transaction may delete a node before the
// relationships attached to it; the node only has to be detached once the
// whole batch is in.
func (b *Batch) Ordered() []Operation {
	out := make([]Operation, 0, len(b.Operations))
	var deletes []Operation
	for _, op := range b.Operations {
		if op.Type == OpNodeDelete {
			deletes = append(deletes, op)
			continue
		}
		out = append(out, op)
	}
	return append(out, deletes...)
}

// intentLog buffers mutation intents per transaction and implements the
// intent half of Store for every engine. Engines embed it and supply apply.
type intentLog struct {
	mu      sync.Mutex
	batches map[txn.ID]*Batch
	ids     IDGenerator
	apply   func(*Batch) error
}

func newIntentLog(ids IDGenerator, apply func(*Batch) error) *intentLog {
	return &intentLog{
		batches: make(map[txn.ID]*Batch),
		ids:     ids,
		apply:   apply,
	}
}

func (l *intentLog) record(tx txn.ID, op Operation) error {
	if tx == "" {
		return fmt.Errorf("%w: %s", txn.ErrNotInTransaction, op.Type)
	}
	op.Timestamp = time.Now()
	if op.Value != nil {
		op.Value = CloneValue(op.Value)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.batches[tx]
	if !ok {
		b = &Batch{TxID: tx}
		l.batches[tx] = b
	}
	b.Operations = append(b.Operations, op)
	return nil
}

func (l *intentLog) take(tx txn.ID) *Batch {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.batches[tx]
	delete(l.batches, tx)
	return b
}

// Pending returns how many operations are buffered for tx.
func (l *intentLog) Pending(tx txn.ID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batches[tx].Len()
}

// CommitTx applies everything tx recorded, atomically.
func (l *intentLog) CommitTx(tx txn.ID) error {
	b := l.take(tx)
	if b.Len() == 0 {
		return nil
	}
	return l.apply(b)
}

// RollbackTx discards everything tx recorded.
func (l *intentLog) RollbackTx(tx txn.ID) {
	l.take(tx)
}

func (l *intentLog) NodeCreate(tx txn.ID, id NodeID) error {
	return l.record(tx, Operation{Type: OpNodeCreate, NodeID: id})
}

func (l *intentLog) NodeDelete(tx txn.ID, id NodeID) error {
	return l.record(tx, Operation{Type: OpNodeDelete, NodeID: id})
}

func (l *intentLog) NodeAddProperty(tx txn.ID, id NodeID, key PropertyKeyID, value any) (PropertyID, error) {
	if err := ValidateValue(value); err != nil {
		return 0, err
	}
	propID, err := l.ids.NextID(KindProperty)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate property id: %w", err)
	}
	op := Operation{Type: OpNodeAddProperty, NodeID: id, PropertyID: PropertyID(propID), KeyID: key, Value: value}
	if err := l.record(tx, op); err != nil {
		return 0, err
	}
	return PropertyID(propID), nil
}

func (l *intentLog) NodeChangeProperty(tx txn.ID, id NodeID, prop PropertyID, value any) error {
	if err := ValidateValue(value); err != nil {
		return err
	}
	return l.record(tx, Operation{Type: OpNodeChangeProperty, NodeID: id, PropertyID: prop, Value: value})
}

func (l *intentLog) NodeRemoveProperty(tx txn.ID, id NodeID, prop PropertyID) error {
	return l.record(tx, Operation{Type: OpNodeRemoveProperty, NodeID: id, PropertyID: prop})
}

func (l *intentLog) RelationshipCreate(tx txn.ID, id RelationshipID, typ RelTypeID, start, end NodeID) error {
	return l.record(tx, Operation{Type: OpRelationshipCreate, RelationshipID: id, RelType: typ, StartNode: start, EndNode: end})
}

func (l *intentLog) RelationshipDelete(tx txn.ID, id RelationshipID) error {
	return l.record(tx, Operation{Type: OpRelationshipDelete, RelationshipID: id})
}

func (l *intentLog) RelationshipAddProperty(tx txn.ID, id RelationshipID, key PropertyKeyID, value any) (PropertyID, error) {
	if err := ValidateValue(value); err != nil {
		return 0, err
	}
	propID, err := l.ids.NextID(KindProperty)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate property id: %w", err)
	}
	op := Operation{Type: OpRelationshipAddProperty, RelationshipID: id, PropertyID: PropertyID(propID), KeyID: key, Value: value}
	if err := l.record(tx, op); err != nil {
		return 0, err
	}
	return PropertyID(propID), nil
}

func (l *intentLog) RelationshipChangeProperty(tx txn.ID, id RelationshipID, prop PropertyID, value any) error {
	if err := ValidateValue(value); err != nil {
		return err
	}
	return l.record(tx, Operation{Type: OpRelationshipChangeProperty, RelationshipID: id, PropertyID: prop, Value: value})
}

func (l *intentLog) RelationshipRemoveProperty(tx txn.ID, id RelationshipID, prop PropertyID) error {
	return l.record(tx, Operation{Type: OpRelationshipRemoveProperty, RelationshipID: id, PropertyID: prop})
}
