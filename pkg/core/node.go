package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/orneryd/graphkernel/pkg/lock"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// Direction filters relationships by which end a node is on.
type Direction uint8

const (
	Both Direction = iota
	Outgoing
	Incoming
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "OUTGOING"
	case Incoming:
		return "INCOMING"
	default:
		return "BOTH"
	}
}

// ParseDirection accepts "out", "in" and "both" and the String forms, in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "", "both":
		return Both, nil
	case "out", "outgoing":
		return Outgoing, nil
	case "in", "incoming":
		return Incoming, nil
	}
	return Both, fmt.Errorf("%w: unknown direction %q", ErrIllegalValue, s)
}

type node struct {
	primitive
	id        storage.NodeID
	adjacency map[storage.RelTypeID]*AdjacencySet
}

func newNode(id storage.NodeID, phase Phase) *node {
	n := &node{id: id}
	n.phase = phase
	if phase == PhaseFull {
		n.props = make(map[storage.PropertyKeyID]*PropertyCell)
		n.adjacency = make(map[storage.RelTypeID]*AdjacencySet)
	}
	return n
}

func (n *node) String() string {
	return fmt.Sprintf("node[%d]", n.id)
}

func (n *node) lockKey() lock.Key {
	return lock.Key{Space: lock.SpaceNode, ID: uint64(n.id)}
}

// materialize loads properties and adjacency together. Relationships met on
// the way are put in the relationship cache unless another loader got there
// first.
func (n *node) materialize(m *NodeManager) error {
	if n.phase == PhaseFull {
		return nil
	}
	raws, err := m.store.LoadNodeProperties(n.id)
	if err != nil {
		return fmt.Errorf("failed to load properties of %s: %w", n, err)
	}
	rels, err := m.store.LoadRelationships(n.id)
	if err != nil {
		return fmt.Errorf("failed to load relationships of %s: %w", n, err)
	}

	adjacency := make(map[storage.RelTypeID]*AdjacencySet)
	for _, rec := range rels {
		set, ok := adjacency[rec.Type]
		if !ok {
			set = NewAdjacencySet()
			adjacency[rec.Type] = set
		}
		set.Add(rec.ID)
		m.installRelationship(rec)
	}

	n.props = propertyTable(raws)
	n.adjacency = adjacency
	n.phase = PhaseFull
	m.materializations.Add(1)
	return nil
}

func (n *node) fold(ov *Overlay) error {
	if n.phase == PhaseLight {
		return nil
	}
	n.foldProperties(ov)

	var errs []error
	for typ, removed := range ov.relRemoved {
		set, ok := n.adjacency[typ]
		if !ok {
			if removed.Len() > 0 {
				errs = append(errs, fmt.Errorf("%s: no adjacency of type %d to remove %v from", n, typ, removed.IDs()))
			}
			continue
		}
		if missing := set.RemoveAll(removed); len(missing) > 0 {
			errs = append(errs, fmt.Errorf("%s: relationships %v missing from adjacency of type %d", n, missing, typ))
		}
		if set.Len() == 0 {
			delete(n.adjacency, typ)
		}
	}
	for typ, added := range ov.relAdded {
		if added.Len() == 0 {
			continue
		}
		set, ok := n.adjacency[typ]
		if !ok {
			set = NewAdjacencySet()
			n.adjacency[typ] = set
		}
		set.AddAll(added)
	}
	return errors.Join(errs...)
}

// relationshipIDs returns the relationships tx sees on the node, limited to
// types when types is not empty. Caller holds mu and has materialized.
func (n *node) relationshipIDs(ov *Overlay, types []storage.RelTypeID) []storage.RelationshipID {
	wanted := func(typ storage.RelTypeID) bool {
		return len(types) == 0 || slices.Contains(types, typ)
	}

	seen := NewAdjacencySet()
	for typ, set := range n.adjacency {
		if !wanted(typ) {
			continue
		}
		for _, id := range set.ids {
			if ov != nil && ov.relRemoved[typ].Contains(id) {
				continue
			}
			seen.Add(id)
		}
	}
	if ov != nil {
		for typ, set := range ov.relAdded {
			if wanted(typ) {
				seen.AddAll(set)
			}
		}
	}
	return seen.ids
}

// addRelationship records id in the overlay. Re-adding an id removed
// earlier in the same transaction just cancels the removal.
func (n *node) addRelationship(ov *Overlay, typ storage.RelTypeID, id storage.RelationshipID) {
	if ov.relRemoved[typ].Contains(id) {
		ov.relRemoved[typ].Remove(id)
		return
	}
	overlaySet(ov.relAdded, typ).Add(id)
}

// removeRelationship records the removal of id. An id that only exists in
// the add set is dropped from it; the base table never saw it.
func (n *node) removeRelationship(ov *Overlay, typ storage.RelTypeID, id storage.RelationshipID) {
	if ov.relAdded[typ].Contains(id) {
		ov.relAdded[typ].Remove(id)
		return
	}
	overlaySet(ov.relRemoved, typ).Add(id)
}

func overlaySet(m map[storage.RelTypeID]*AdjacencySet, typ storage.RelTypeID) *AdjacencySet {
	set, ok := m[typ]
	if !ok {
		set = NewAdjacencySet()
		m[typ] = set
	}
	return set
}

func (n *node) propertyEvent(op propertyOp) EventType {
	switch op {
	case opAdd:
		return EventNodeAddProperty
	case opChange:
		return EventNodeChangeProperty
	default:
		return EventNodeRemoveProperty
	}
}

func (n *node) describe(ev *Event) {
	ev.NodeID = n.id
}

func (n *node) storeAddProperty(s storage.Store, tx txn.ID, key storage.PropertyKeyID, value any) (storage.PropertyID, error) {
	return s.NodeAddProperty(tx, n.id, key, value)
}

func (n *node) storeChangeProperty(s storage.Store, tx txn.ID, prop storage.PropertyID, value any) error {
	return s.NodeChangeProperty(tx, n.id, prop, value)
}

func (n *node) storeRemoveProperty(s storage.Store, tx txn.ID, prop storage.PropertyID) error {
	return s.NodeRemoveProperty(tx, n.id, prop)
}
