// Package storage provides the backing stores underneath the graph kernel.
//
// The kernel keeps nodes, relationships and properties in memory and consults a
// Store only on a cache miss, when a primitive is materialized, or when a
// transaction commits. The storage package defines that contract and ships
// three implementations:
//   - MemoryStore: maps in RAM, for tests and embedded use without persistence
//   - BadgerStore: persistent key/value storage on BadgerDB
//   - SQLiteStore: persistent relational storage on a pure-Go SQLite
//
// Reads always observe committed state. Mutations are recorded as intents
// against a transaction id and buffered in a Batch; CommitTx applies the batch
// atomically and RollbackTx throws it away.
//
// Example Usage:
//
//	store := storage.NewMemoryStore()
//	defer store.Close()
//
//	id, _ := store.NextID(storage.KindNode)
//	store.NodeCreate("tx-1", storage.NodeID(id))
//	keyID, _ := store.NextID(storage.KindPropertyKey)
//	store.CreatePropertyKey(storage.PropertyKeyID(keyID), "name")
//	store.NodeAddProperty("tx-1", storage.NodeID(id), storage.PropertyKeyID(keyID), "alice")
//
//	if err := store.CommitTx("tx-1"); err != nil {
//		log.Fatal(err)
//	}
//
//	props, _ := store.LoadNodeProperties(storage.NodeID(id))
//	fmt.Println(len(props)) // 1
package storage

import (
	"errors"
	"fmt"

	"github.com/orneryd/graphkernel/pkg/txn"
)

// Common errors returned by storage operations.
var (
	ErrNotFound     = errors.New("not found")
	ErrIllegalValue = errors.New("illegal value")
	ErrStoreClosed  = errors.New("store closed")
)

// NodeID identifies a node. Ids are dense, allocated monotonically and never reused.
type NodeID uint64

// RelationshipID identifies a relationship.
type RelationshipID uint64

// RelTypeID identifies a relationship type name.
type RelTypeID uint64

// PropertyKeyID identifies an interned property key string.
type PropertyKeyID uint64

// PropertyID identifies a single stored property value.
type PropertyID uint64

// IDKind selects one of the independent id spaces.
type IDKind uint8

const (
	KindNode IDKind = iota + 1
	KindRelationship
	KindRelType
	KindPropertyKey
	KindProperty
)

// String returns a readable name for the id space.
func (k IDKind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindRelationship:
		return "relationship"
	case KindRelType:
		return "relationship_type"
	case KindPropertyKey:
		return "property_key"
	case KindProperty:
		return "property"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// referenceNodeSlot is the id-counter slot that holds the reference node id.
// It lies outside every IDKind.
const referenceNodeSlot = 0xff

// AllKinds lists every id space, in allocation-table order.
var AllKinds = []IDKind{KindNode, KindRelationship, KindRelType, KindPropertyKey, KindProperty}

// RawProperty is a property as it comes out of the store.
//
// When HasValue is false the store elided the value and it must be fetched
// with LoadPropertyValue(ID) on first read.
type RawProperty struct {
	ID       PropertyID
	KeyID    PropertyKeyID
	Value    any
	HasValue bool
}

// RawRelationship is a relationship record as it comes out of the store.
type RawRelationship struct {
	ID        RelationshipID
	Type      RelTypeID
	StartNode NodeID
	EndNode   NodeID
}

// NamedID pairs an id with the string it interns. Used for relationship types
// and property keys.
type NamedID struct {
	ID   uint64
	Name string
}

// Counts summarizes the committed contents of a store.
type Counts struct {
	Nodes         int64 `json:"nodes"`
	Relationships int64 `json:"relationships"`
	Properties    int64 `json:"properties"`
}

// IDGenerator hands out ids for every id space.
//
// Allocation is not transactional: an id handed to a transaction that later
// rolls back is simply never used.
type IDGenerator interface {
	NextID(kind IDKind) (uint64, error)
	HighestIDInUse(kind IDKind) uint64
}

// Store is the backing store consumed by the kernel.
//
// Load methods return committed state only. The mutation intents record work
// for a transaction and are applied by CommitTx (see txn.Resource). Property
// add intents allocate and return the property id.
//
// Thread Safety:
//
//	All implementations are safe for concurrent use.
type Store interface {
	IDGenerator
	txn.Resource

	LoadLightNode(id NodeID) (bool, error)
	LoadNodeProperties(id NodeID) ([]RawProperty, error)
	LoadRelationships(nodeID NodeID) ([]RawRelationship, error)
	LoadRelationship(id RelationshipID) (RawRelationship, bool, error)
	LoadRelationshipProperties(id RelationshipID) ([]RawProperty, error)
	LoadPropertyValue(id PropertyID) (any, error)

	LoadRelationshipTypes() ([]NamedID, error)
	CreateRelationshipType(id RelTypeID, name string) error
	LoadPropertyKeys() ([]NamedID, error)
	LoadPropertyKey(id PropertyKeyID) (string, error)
	CreatePropertyKey(id PropertyKeyID, name string) error

	// ReferenceNode returns the persisted reference node, false when unset.
	ReferenceNode() (NodeID, bool, error)
	// SetReferenceNode persists id as the reference node; 0 clears it.
	SetReferenceNode(id NodeID) error

	NodeCreate(tx txn.ID, id NodeID) error
	NodeDelete(tx txn.ID, id NodeID) error
	NodeAddProperty(tx txn.ID, id NodeID, key PropertyKeyID, value any) (PropertyID, error)
	NodeChangeProperty(tx txn.ID, id NodeID, prop PropertyID, value any) error
	NodeRemoveProperty(tx txn.ID, id NodeID, prop PropertyID) error

	RelationshipCreate(tx txn.ID, id RelationshipID, typ RelTypeID, start, end NodeID) error
	RelationshipDelete(tx txn.ID, id RelationshipID) error
	RelationshipAddProperty(tx txn.ID, id RelationshipID, key PropertyKeyID, value any) (PropertyID, error)
	RelationshipChangeProperty(tx txn.ID, id RelationshipID, prop PropertyID, value any) error
	RelationshipRemoveProperty(tx txn.ID, id RelationshipID, prop PropertyID) error

	Counts() (Counts, error)
	Close() error
}
