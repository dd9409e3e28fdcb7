package core

import (
	"fmt"

	"github.com/orneryd/graphkernel/pkg/lock"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// relationship endpoints and type never change after creation.
type relationship struct {
	primitive
	id    storage.RelationshipID
	start storage.NodeID
	end   storage.NodeID
	typ   storage.RelTypeID
}

func newRelationship(rec storage.RawRelationship, phase Phase) *relationship {
	r := &relationship{id: rec.ID, start: rec.StartNode, end: rec.EndNode, typ: rec.Type}
	r.phase = phase
	if phase == PhaseFull {
		r.props = make(map[storage.PropertyKeyID]*PropertyCell)
	}
	return r
}

func (r *relationship) String() string {
	return fmt.Sprintf("relationship[%d]", r.id)
}

func (r *relationship) lockKey() lock.Key {
	return lock.Key{Space: lock.SpaceRelationship, ID: uint64(r.id)}
}

func (r *relationship) isSelfLoop() bool {
	return r.start == r.end
}

// other returns the endpoint opposite to id.
func (r *relationship) other(id storage.NodeID) (storage.NodeID, error) {
	switch id {
	case r.start:
		return r.end, nil
	case r.end:
		return r.start, nil
	}
	return 0, fmt.Errorf("%w: node[%d] is not an endpoint of %s", ErrNotFound, id, r)
}

// matches reports whether the relationship leaves or enters nodeID as dir asks.
func (r *relationship) matches(nodeID storage.NodeID, dir Direction) bool {
	switch dir {
	case Outgoing:
		return r.start == nodeID
	case Incoming:
		return r.end == nodeID
	default:
		return r.start == nodeID || r.end == nodeID
	}
}

func (r *relationship) materialize(m *NodeManager) error {
	if r.phase == PhaseFull {
		return nil
	}
	raws, err := m.store.LoadRelationshipProperties(r.id)
	if err != nil {
		return fmt.Errorf("failed to load properties of %s: %w", r, err)
	}
	r.props = propertyTable(raws)
	r.phase = PhaseFull
	m.materializations.Add(1)
	return nil
}

func (r *relationship) fold(ov *Overlay) error {
	if r.phase == PhaseLight {
		return nil
	}
	r.foldProperties(ov)
	return nil
}

func (r *relationship) propertyEvent(op propertyOp) EventType {
	switch op {
	case opAdd:
		return EventRelationshipAddProperty
	case opChange:
		return EventRelationshipChangeProperty
	default:
		return EventRelationshipRemoveProperty
	}
}

func (r *relationship) describe(ev *Event) {
	ev.RelationshipID = r.id
	ev.RelType = r.typ
	ev.StartNode = r.start
	ev.EndNode = r.end
}

func (r *relationship) storeAddProperty(s storage.Store, tx txn.ID, key storage.PropertyKeyID, value any) (storage.PropertyID, error) {
	return s.RelationshipAddProperty(tx, r.id, key, value)
}

func (r *relationship) storeChangeProperty(s storage.Store, tx txn.ID, prop storage.PropertyID, value any) error {
	return s.RelationshipChangeProperty(tx, r.id, prop, value)
}

func (r *relationship) storeRemoveProperty(s storage.Store, tx txn.ID, prop storage.PropertyID) error {
	return s.RelationshipRemoveProperty(tx, r.id, prop)
}
