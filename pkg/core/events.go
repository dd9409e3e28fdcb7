package core

import (
	"log"
	"sync"

	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// EventType identifies a mutation.
type EventType string

const (
	EventNodeCreate                 EventType = "node_create"
	EventNodeDelete                 EventType = "node_delete"
	EventNodeAddProperty            EventType = "node_add_property"
	EventNodeChangeProperty         EventType = "node_change_property"
	EventNodeRemoveProperty         EventType = "node_remove_property"
	EventRelationshipCreate         EventType = "relationship_create"
	EventRelationshipDelete         EventType = "relationship_delete"
	EventRelationshipAddProperty    EventType = "relationship_add_property"
	EventRelationshipChangeProperty EventType = "relationship_change_property"
	EventRelationshipRemoveProperty EventType = "relationship_remove_property"
)

// IsProperty reports whether the event is a property add, change or remove.
func (t EventType) IsProperty() bool {
	switch t {
	case EventNodeAddProperty, EventNodeChangeProperty, EventNodeRemoveProperty,
		EventRelationshipAddProperty, EventRelationshipChangeProperty, EventRelationshipRemoveProperty:
		return true
	}
	return false
}

// OnNode reports whether the event targets a node rather than a relationship.
func (t EventType) OnNode() bool {
	switch t {
	case EventNodeCreate, EventNodeDelete, EventNodeAddProperty, EventNodeChangeProperty, EventNodeRemoveProperty:
		return true
	}
	return false
}

// Event describes a mutation about to happen (BeforeEvent) or done (AfterEvent).
// Only the fields that apply to Type are set.
type Event struct {
	Type EventType
	Tx   *txn.Transaction

	NodeID         storage.NodeID
	RelationshipID storage.RelationshipID

	// Relationship create and delete.
	RelType     storage.RelTypeID
	RelTypeName string
	StartNode   storage.NodeID
	EndNode     storage.NodeID

	// Property events.
	Key        string
	KeyID      storage.PropertyKeyID
	PropertyID storage.PropertyID
	Value      any
	OldValue   any
}

// TargetID returns the node or relationship id the event is about.
func (e *Event) TargetID() uint64 {
	if e.Type.OnNode() {
		return uint64(e.NodeID)
	}
	return uint64(e.RelationshipID)
}

// Listener observes mutations. BeforeEvent may veto by returning an error,
// which aborts the mutation and marks the transaction rollback-only.
type Listener interface {
	BeforeEvent(ev *Event) error
	AfterEvent(ev *Event)
}

// EventBus fans events out to listeners in registration order.
type EventBus struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewEventBus creates a bus with no listeners.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Register adds l.
func (b *EventBus) Register(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Len returns the number of listeners.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *EventBus) snapshot() []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listeners
}

// Before asks every listener; the first error wins.
func (b *EventBus) Before(ev *Event) error {
	for _, l := range b.snapshot() {
		if err := l.BeforeEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// After notifies every listener.
func (b *EventBus) After(ev *Event) {
	for _, l := range b.snapshot() {
		l.AfterEvent(ev)
	}
}

// LogListener logs every applied mutation.
type LogListener struct{}

func (LogListener) BeforeEvent(*Event) error { return nil }

func (LogListener) AfterEvent(ev *Event) {
	var txID txn.ID
	if ev.Tx != nil {
		txID = ev.Tx.ID()
	}
	switch {
	case ev.Type.IsProperty():
		log.Printf("[Events] tx=%s %s id=%d key=%q", txID, ev.Type, ev.TargetID(), ev.Key)
	case ev.Type == EventRelationshipCreate || ev.Type == EventRelationshipDelete:
		log.Printf("[Events] tx=%s %s id=%d (%d)-[:%s]->(%d)", txID, ev.Type, ev.RelationshipID, ev.StartNode, ev.RelTypeName, ev.EndNode)
	default:
		log.Printf("[Events] tx=%s %s id=%d", txID, ev.Type, ev.TargetID())
	}
}
