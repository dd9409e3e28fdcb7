package core

import (
	"fmt"

	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// NodeHandle is a node seen through one transaction. A nil transaction
// gives a read-only view of committed state.
type NodeHandle struct {
	propertyAccess
	id storage.NodeID
}

// ID returns the node id.
func (h *NodeHandle) ID() storage.NodeID { return h.id }

// Delete deletes the node. Its relationships have to be deleted in the same
// transaction or the commit fails.
func (h *NodeHandle) Delete() error {
	return h.m.deleteNode(h.tx, h.id)
}

// CreateRelationshipTo creates a relationship of type typ from this node to other.
func (h *NodeHandle) CreateRelationshipTo(other storage.NodeID, typ string) (*RelationshipHandle, error) {
	return h.m.CreateRelationship(h.tx, h.id, other, typ)
}

// Relationships returns the node's relationships in direction dir, limited
// to the given types when any are given. Results are ordered by id.
func (h *NodeHandle) Relationships(dir Direction, types ...string) ([]*RelationshipHandle, error) {
	rels, err := h.m.relationshipsOf(h.tx, h.id, dir, types)
	if err != nil {
		return nil, err
	}
	out := make([]*RelationshipHandle, len(rels))
	for i, r := range rels {
		out[i] = h.m.relationshipHandle(h.tx, r)
	}
	return out, nil
}

// HasRelationship reports whether Relationships would return anything.
func (h *NodeHandle) HasRelationship(dir Direction, types ...string) (bool, error) {
	rels, err := h.m.relationshipsOf(h.tx, h.id, dir, types)
	return len(rels) > 0, err
}

// SingleRelationship returns the only relationship of type typ in direction
// dir. None is ErrNotFound, more than one is ErrIllegalValue.
func (h *NodeHandle) SingleRelationship(typ string, dir Direction) (*RelationshipHandle, error) {
	rels, err := h.m.relationshipsOf(h.tx, h.id, dir, []string{typ})
	if err != nil {
		return nil, err
	}
	switch len(rels) {
	case 0:
		return nil, fmt.Errorf("node[%d] has no %s relationship of type %q: %w", h.id, dir, typ, ErrNotFound)
	case 1:
		return h.m.relationshipHandle(h.tx, rels[0]), nil
	}
	return nil, fmt.Errorf("%w: node[%d] has %d %s relationships of type %q", ErrIllegalValue, h.id, len(rels), dir, typ)
}

// RelationshipHandle is a relationship seen through one transaction.
type RelationshipHandle struct {
	propertyAccess
	id    storage.RelationshipID
	start storage.NodeID
	end   storage.NodeID
	typ   storage.RelTypeID
}

// ID returns the relationship id.
func (h *RelationshipHandle) ID() storage.RelationshipID { return h.id }

// TypeID returns the relationship type id.
func (h *RelationshipHandle) TypeID() storage.RelTypeID { return h.typ }

// Type returns the relationship type name.
func (h *RelationshipHandle) Type() (string, error) {
	name, ok := h.m.relTypes.Name(h.typ)
	if !ok {
		return "", fmt.Errorf("relationship type[%d]: %w", h.typ, ErrNotFound)
	}
	return name, nil
}

// StartNodeID returns the id of the start node.
func (h *RelationshipHandle) StartNodeID() storage.NodeID { return h.start }

// EndNodeID returns the id of the end node.
func (h *RelationshipHandle) EndNodeID() storage.NodeID { return h.end }

// StartNode returns the start node.
func (h *RelationshipHandle) StartNode() (*NodeHandle, error) {
	return h.m.GetNode(h.tx, h.start)
}

// EndNode returns the end node.
func (h *RelationshipHandle) EndNode() (*NodeHandle, error) {
	return h.m.GetNode(h.tx, h.end)
}

// OtherNode returns the endpoint that is not id.
func (h *RelationshipHandle) OtherNode(id storage.NodeID) (*NodeHandle, error) {
	var other storage.NodeID
	switch id {
	case h.start:
		other = h.end
	case h.end:
		other = h.start
	default:
		return nil, fmt.Errorf("%w: node[%d] is not an endpoint of relationship[%d]", ErrNotFound, id, h.id)
	}
	return h.m.GetNode(h.tx, other)
}

// Nodes returns the start and end node.
func (h *RelationshipHandle) Nodes() ([]*NodeHandle, error) {
	start, err := h.StartNode()
	if err != nil {
		return nil, err
	}
	end, err := h.EndNode()
	if err != nil {
		return nil, err
	}
	return []*NodeHandle{start, end}, nil
}

// Delete deletes the relationship.
func (h *RelationshipHandle) Delete() error {
	return h.m.deleteRelationship(h.tx, h.id)
}

// relationshipsOf lists the relationships of a node that tx can see.
func (m *NodeManager) relationshipsOf(tx *txn.Transaction, id storage.NodeID, dir Direction, typeNames []string) (_ []*relationship, err error) {
	var types []storage.RelTypeID
	for _, name := range typeNames {
		if typ, ok := m.relTypes.ID(name); ok {
			types = append(types, typ)
		}
	}
	if len(typeNames) > 0 && len(types) == 0 {
		// None of the requested types exist; still check the node does.
		if _, err := m.lookup(tx, nodeKey(id)); err != nil {
			return nil, err
		}
		return nil, nil
	}

	e, release, err := m.readLocked(tx, nodeKey(id))
	if err != nil {
		return nil, err
	}
	defer endRead(release, &err)

	n := e.(*node)
	ov := m.registry.Overlay(tx, n.lockKey())
	n.mu.Lock()
	if n.deleted {
		n.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", n, ErrNotFound)
	}
	err = n.materialize(m)
	var ids []storage.RelationshipID
	if err == nil {
		ids = n.relationshipIDs(ov, types)
	}
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*relationship, 0, len(ids))
	for _, relID := range ids {
		r, err := m.getOrLoadRelationship(relID)
		if err != nil {
			return nil, err
		}
		if !m.visible(tx, r) || !r.matches(id, dir) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
