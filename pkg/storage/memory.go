package storage

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryStore is a thread-safe in-memory Store.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Embedded use where the graph does not need to survive the process
//
// Features:
//   - Thread-safe: all operations use an RWMutex
//   - Deep copies: values are copied in and out, callers cannot alias stored slices
//   - Atomic commits: a batch either applies completely or not at all (every
//     applied step records its undo, a failing step unwinds the journal)
//
// Example:
//
//	store := storage.NewMemoryStore()
//	defer store.Close()
type MemoryStore struct {
	*intentLog

	mu       sync.RWMutex
	nodes    map[NodeID]*memNode
	rels     map[RelationshipID]*memRel
	props    map[PropertyID]*memProp
	relTypes map[RelTypeID]string
	propKeys map[PropertyKeyID]string
	refNode  NodeID
	closed   bool

	counters map[IDKind]*atomic.Uint64
}

type memNode struct {
	props map[PropertyKeyID]PropertyID
	rels  map[RelationshipID]struct{}
}

type memRel struct {
	rec   RawRelationship
	props map[PropertyKeyID]PropertyID
}

type memProp struct {
	key   PropertyKeyID
	value any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		nodes:    make(map[NodeID]*memNode),
		rels:     make(map[RelationshipID]*memRel),
		props:    make(map[PropertyID]*memProp),
		relTypes: make(map[RelTypeID]string),
		propKeys: make(map[PropertyKeyID]string),
		counters: make(map[IDKind]*atomic.Uint64, len(AllKinds)),
	}
	for _, k := range AllKinds {
		s.counters[k] = &atomic.Uint64{}
	}
	s.intentLog = newIntentLog(s, s.apply)
	return s
}

// ============================================================================
// Id allocation
// ============================================================================

// NextID allocates the next id of the given kind. Ids start at 1.
func (s *MemoryStore) NextID(kind IDKind) (uint64, error) {
	c, ok := s.counters[kind]
	if !ok {
		return 0, fmt.Errorf("%w: unknown id kind %d", ErrIllegalValue, kind)
	}
	return c.Add(1), nil
}

// HighestIDInUse returns the last id handed out for kind.
func (s *MemoryStore) HighestIDInUse(kind IDKind) uint64 {
	if c, ok := s.counters[kind]; ok {
		return c.Load()
	}
	return 0
}

// ============================================================================
// Loads
// ============================================================================

func (s *MemoryStore) LoadLightNode(id NodeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	_, ok := s.nodes[id]
	return ok, nil
}

func (s *MemoryStore) LoadNodeProperties(id NodeID) ([]RawProperty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node[%d]: %w", id, ErrNotFound)
	}
	return s.rawProperties(n.props), nil
}

func (s *MemoryStore) LoadRelationships(nodeID NodeID) ([]RawRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node[%d]: %w", nodeID, ErrNotFound)
	}
	out := make([]RawRelationship, 0, len(n.rels))
	for relID := range n.rels {
		out = append(out, s.rels[relID].rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) LoadRelationship(id RelationshipID) (RawRelationship, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return RawRelationship{}, false, ErrStoreClosed
	}
	r, ok := s.rels[id]
	if !ok {
		return RawRelationship{}, false, nil
	}
	return r.rec, true, nil
}

func (s *MemoryStore) LoadRelationshipProperties(id RelationshipID) ([]RawProperty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	r, ok := s.rels[id]
	if !ok {
		return nil, fmt.Errorf("relationship[%d]: %w", id, ErrNotFound)
	}
	return s.rawProperties(r.props), nil
}

func (s *MemoryStore) LoadPropertyValue(id PropertyID) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	p, ok := s.props[id]
	if !ok {
		return nil, fmt.Errorf("property[%d]: %w", id, ErrNotFound)
	}
	return CloneValue(p.value), nil
}

// rawProperties converts an owner's key table. Caller must hold the lock.
func (s *MemoryStore) rawProperties(keys map[PropertyKeyID]PropertyID) []RawProperty {
	out := make([]RawProperty, 0, len(keys))
	for key, pid := range keys {
		out = append(out, RawProperty{ID: pid, KeyID: key, Value: CloneValue(s.props[pid].value), HasValue: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================================
// Relationship types and property keys
// ============================================================================

func (s *MemoryStore) LoadRelationshipTypes() ([]NamedID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedNames(s.relTypes), nil
}

func (s *MemoryStore) CreateRelationshipType(id RelTypeID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if existing, ok := s.relTypes[id]; ok && existing != name {
		return fmt.Errorf("%w: relationship type %d already named %q", ErrIllegalValue, id, existing)
	}
	s.relTypes[id] = name
	return nil
}

func (s *MemoryStore) LoadPropertyKeys() ([]NamedID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedNames(s.propKeys), nil
}

func (s *MemoryStore) LoadPropertyKey(id PropertyKeyID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.propKeys[id]
	if !ok {
		return "", fmt.Errorf("property key[%d]: %w", id, ErrNotFound)
	}
	return name, nil
}

func (s *MemoryStore) CreatePropertyKey(id PropertyKeyID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if existing, ok := s.propKeys[id]; ok && existing != name {
		return fmt.Errorf("%w: property key %d already named %q", ErrIllegalValue, id, existing)
	}
	s.propKeys[id] = name
	return nil
}

func (s *MemoryStore) ReferenceNode() (NodeID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, ErrStoreClosed
	}
	return s.refNode, s.refNode != 0, nil
}

func (s *MemoryStore) SetReferenceNode(id NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.refNode = id
	return nil
}

func sortedNames[K ~uint64](m map[K]string) []NamedID {
	out := make([]NamedID, 0, len(m))
	for id, name := range m {
		out = append(out, NamedID{ID: uint64(id), Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================================
// Commit
// ============================================================================

// apply runs every operation of b under the write lock. A failing operation
// unwinds the ones already applied.
func (s *MemoryStore) apply(b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	var journal []func()
	for i, op := range b.Ordered() {
		undo, err := s.applyOp(op)
		if err != nil {
			for j := len(journal) - 1; j >= 0; j-- {
				journal[j]()
			}
			return fmt.Errorf("failed to apply operation %d (%s) of tx %s: %w", i, op.Type, b.TxID, err)
		}
		journal = append(journal, undo)
	}
	return nil
}

// applyOp applies one operation and returns its undo. Caller must hold the lock.
func (s *MemoryStore) applyOp(op Operation) (func(), error) {
	switch op.Type {
	case OpNodeCreate:
		if _, ok := s.nodes[op.NodeID]; ok {
			return nil, fmt.Errorf("%w: node[%d] already exists", ErrIllegalValue, op.NodeID)
		}
		s.nodes[op.NodeID] = &memNode{
			props: make(map[PropertyKeyID]PropertyID),
			rels:  make(map[RelationshipID]struct{}),
		}
		return func() { delete(s.nodes, op.NodeID) }, nil

	case OpNodeDelete:
		n, ok := s.nodes[op.NodeID]
		if !ok {
			return nil, fmt.Errorf("node[%d]: %w", op.NodeID, ErrNotFound)
		}
		if len(n.rels) > 0 {
			return nil, fmt.Errorf("%w: node[%d] still has %d relationships", ErrIllegalValue, op.NodeID, len(n.rels))
		}
		dropped := s.dropProperties(n.props)
		delete(s.nodes, op.NodeID)
		return func() {
			s.nodes[op.NodeID] = n
			for pid, p := range dropped {
				s.props[pid] = p
			}
		}, nil

	case OpRelationshipCreate:
		if _, ok := s.rels[op.RelationshipID]; ok {
			return nil, fmt.Errorf("%w: relationship[%d] already exists", ErrIllegalValue, op.RelationshipID)
		}
		start, ok := s.nodes[op.StartNode]
		if !ok {
			return nil, fmt.Errorf("start node[%d]: %w", op.StartNode, ErrNotFound)
		}
		end, ok := s.nodes[op.EndNode]
		if !ok {
			return nil, fmt.Errorf("end node[%d]: %w", op.EndNode, ErrNotFound)
		}
		s.rels[op.RelationshipID] = &memRel{
			rec: RawRelationship{
				ID:        op.RelationshipID,
				Type:      op.RelType,
				StartNode: op.StartNode,
				EndNode:   op.EndNode,
			},
			props: make(map[PropertyKeyID]PropertyID),
		}
		start.rels[op.RelationshipID] = struct{}{}
		end.rels[op.RelationshipID] = struct{}{}
		return func() {
			delete(start.rels, op.RelationshipID)
			delete(end.rels, op.RelationshipID)
			delete(s.rels, op.RelationshipID)
		}, nil

	case OpRelationshipDelete:
		r, ok := s.rels[op.RelationshipID]
		if !ok {
			return nil, fmt.Errorf("relationship[%d]: %w", op.RelationshipID, ErrNotFound)
		}
		dropped := s.dropProperties(r.props)
		delete(s.rels, op.RelationshipID)
		start, end := s.nodes[r.rec.StartNode], s.nodes[r.rec.EndNode]
		delete(start.rels, op.RelationshipID)
		delete(end.rels, op.RelationshipID)
		return func() {
			s.rels[op.RelationshipID] = r
			start.rels[op.RelationshipID] = struct{}{}
			end.rels[op.RelationshipID] = struct{}{}
			for pid, p := range dropped {
				s.props[pid] = p
			}
		}, nil

	case OpNodeAddProperty, OpRelationshipAddProperty:
		keys, err := s.ownerKeys(op)
		if err != nil {
			return nil, err
		}
		if _, dup := keys[op.KeyID]; dup {
			return nil, fmt.Errorf("%w: duplicate add of property key %d", ErrIllegalValue, op.KeyID)
		}
		keys[op.KeyID] = op.PropertyID
		s.props[op.PropertyID] = &memProp{key: op.KeyID, value: op.Value}
		return func() {
			delete(keys, op.KeyID)
			delete(s.props, op.PropertyID)
		}, nil

	case OpNodeChangeProperty, OpRelationshipChangeProperty:
		if _, err := s.ownerKeys(op); err != nil {
			return nil, err
		}
		p, ok := s.props[op.PropertyID]
		if !ok {
			return nil, fmt.Errorf("property[%d]: %w", op.PropertyID, ErrNotFound)
		}
		old := p.value
		p.value = op.Value
		return func() { p.value = old }, nil

	case OpNodeRemoveProperty, OpRelationshipRemoveProperty:
		keys, err := s.ownerKeys(op)
		if err != nil {
			return nil, err
		}
		p, ok := s.props[op.PropertyID]
		if !ok || keys[p.key] != op.PropertyID {
			return nil, fmt.Errorf("property[%d]: %w", op.PropertyID, ErrNotFound)
		}
		delete(keys, p.key)
		delete(s.props, op.PropertyID)
		return func() {
			keys[p.key] = op.PropertyID
			s.props[op.PropertyID] = p
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown operation %q", ErrIllegalValue, op.Type)
}

// ownerKeys returns the key table of the node or relationship op targets.
func (s *MemoryStore) ownerKeys(op Operation) (map[PropertyKeyID]PropertyID, error) {
	if op.isNodeOp() {
		n, ok := s.nodes[op.NodeID]
		if !ok {
			return nil, fmt.Errorf("node[%d]: %w", op.NodeID, ErrNotFound)
		}
		return n.props, nil
	}
	r, ok := s.rels[op.RelationshipID]
	if !ok {
		return nil, fmt.Errorf("relationship[%d]: %w", op.RelationshipID, ErrNotFound)
	}
	return r.props, nil
}

func (s *MemoryStore) dropProperties(keys map[PropertyKeyID]PropertyID) map[PropertyID]*memProp {
	dropped := make(map[PropertyID]*memProp, len(keys))
	for _, pid := range keys {
		dropped[pid] = s.props[pid]
		delete(s.props, pid)
	}
	return dropped
}

// Counts returns the number of committed nodes, relationships and properties.
func (s *MemoryStore) Counts() (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		Nodes:         int64(len(s.nodes)),
		Relationships: int64(len(s.rels)),
		Properties:    int64(len(s.props)),
	}, nil
}

// Close releases the store. Further loads return ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
