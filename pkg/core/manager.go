// Package core is the in-memory primitive layer of the graph kernel.
//
// NodeManager caches nodes and relationships, loads them lazily from a
// storage.Store, and runs every mutation under the lock protocol:
//
//  1. Take the write lock of every primitive involved (relationship first,
//     then its endpoints in ascending id order).
//  2. Hand the locks to the OverlayRegistry; they are released when the
//     transaction completes, not when the call returns.
//  3. Record the change in the transaction's Overlay of each primitive and
//     as an intent in the store.
//
// Reads take a read lock for the duration of the call and see the committed
// state plus the caller's own overlay. Writers block readers, so the result
// is strict two-phase locking per primitive.
//
// Listeners on the EventBus see every mutation before (and may veto it) and
// after it is applied. Any failure after a write lock was taken marks the
// transaction rollback-only.
//
// Example:
//
//	tx, _ := txManager.Begin()
//	tx.Enlist(store)
//	alice, _ := nm.CreateNode(tx)
//	alice.SetProperty("name", "alice")
//	bob, _ := nm.CreateNode(tx)
//	alice.CreateRelationshipTo(bob.ID(), "KNOWS")
//	tx.Commit()
package core

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/orneryd/graphkernel/pkg/cache"
	"github.com/orneryd/graphkernel/pkg/lock"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// Config configures a NodeManager.
type Config struct {
	// NodeCacheSize and RelationshipCacheSize are the LRU capacities.
	NodeCacheSize         int
	RelationshipCacheSize int
	// Adaptive sizing never shrinks a cache below these.
	NodeCacheMin         int
	RelationshipCacheMin int
	// HeapRatio is the heap usage above which Adaptive shrinks the caches.
	HeapRatio float64
	// Adaptive, when set, resizes both caches under heap pressure.
	Adaptive *cache.AdaptiveManager

	// AutoCreateRelationshipTypes creates unknown types on first use instead
	// of rejecting the relationship.
	AutoCreateRelationshipTypes bool
	// PreloadPropertyKeys reads every property key at startup.
	PreloadPropertyKeys bool
	// LoadStripes is the number of mutexes serializing cache misses.
	LoadStripes int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		NodeCacheSize:         1500,
		RelationshipCacheSize: 3500,
		HeapRatio:             cache.DefaultHeapRatio,
		PreloadPropertyKeys:   true,
		LoadStripes:           64,
	}
}

// NodeManager is the primitive cache and the entry point for creating,
// loading and mutating nodes and relationships.
type NodeManager struct {
	cfg      Config
	store    storage.Store
	locks    *lock.Coordinator
	registry *OverlayRegistry
	events   *EventBus
	relTypes *RelationshipTypeHolder
	propKeys *PropertyKeyIndex

	nodes *cache.LRU[storage.NodeID, *node]
	rels  *cache.LRU[storage.RelationshipID, *relationship]

	loadLocks []sync.Mutex
	readers   atomic.Uint64
	refNode   atomic.Uint64

	nodeLoads        atomic.Int64
	relLoads         atomic.Int64
	materializations atomic.Int64
}

// NewNodeManager wires a manager over store and locks.
func NewNodeManager(store storage.Store, locks *lock.Coordinator, cfg Config) (*NodeManager, error) {
	if cfg.LoadStripes <= 0 {
		cfg.LoadStripes = 64
	}
	relTypes, err := NewRelationshipTypeHolder(store)
	if err != nil {
		return nil, err
	}
	propKeys := NewPropertyKeyIndex(store)
	if cfg.PreloadPropertyKeys {
		if err := propKeys.Preload(); err != nil {
			return nil, err
		}
	}

	m := &NodeManager{
		cfg:       cfg,
		store:     store,
		locks:     locks,
		registry:  NewOverlayRegistry(locks),
		events:    NewEventBus(),
		relTypes:  relTypes,
		propKeys:  propKeys,
		loadLocks: make([]sync.Mutex, cfg.LoadStripes),
	}
	m.registry.cache = m
	ref, ok, err := store.ReferenceNode()
	if err != nil {
		return nil, fmt.Errorf("failed to load reference node: %w", err)
	}
	if ok {
		m.refNode.Store(uint64(ref))
	}
	m.nodes = cache.NewLRU[storage.NodeID, *node]("nodes", cfg.NodeCacheSize, func(n *node) bool { return n.pinned() })
	m.rels = cache.NewLRU[storage.RelationshipID, *relationship]("relationships", cfg.RelationshipCacheSize, func(r *relationship) bool { return r.pinned() })

	if cfg.Adaptive != nil {
		cfg.Adaptive.Register(m.nodes, cfg.HeapRatio, cfg.NodeCacheMin)
		cfg.Adaptive.Register(m.rels, cfg.HeapRatio, cfg.RelationshipCacheMin)
	}
	return m, nil
}

// Close detaches the caches from the adaptive manager.
func (m *NodeManager) Close() {
	if m.cfg.Adaptive != nil {
		m.cfg.Adaptive.Unregister(m.nodes)
		m.cfg.Adaptive.Unregister(m.rels)
	}
}

// Registry returns the overlay registry.
func (m *NodeManager) Registry() *OverlayRegistry { return m.registry }

// Events returns the event bus.
func (m *NodeManager) Events() *EventBus { return m.events }

// AddListener registers l on the event bus.
func (m *NodeManager) AddListener(l Listener) { m.events.Register(l) }

// RelationshipTypeHolder returns the relationship type table.
func (m *NodeManager) RelationshipTypeHolder() *RelationshipTypeHolder { return m.relTypes }

// PropertyKeys returns the property key index.
func (m *NodeManager) PropertyKeys() *PropertyKeyIndex { return m.propKeys }

// ============================================================================
// Locking
// ============================================================================

func nodeKey(id storage.NodeID) lock.Key {
	return lock.Key{Space: lock.SpaceNode, ID: uint64(id)}
}

func relationshipKey(id storage.RelationshipID) lock.Key {
	return lock.Key{Space: lock.SpaceRelationship, ID: uint64(id)}
}

// relationshipLockOrder lists the keys to lock for a relationship change:
// the relationship, then its endpoints in ascending id order. A self loop
// locks its node once.
func relationshipLockOrder(id storage.RelationshipID, start, end storage.NodeID) []lock.Key {
	lo, hi := min(start, end), max(start, end)
	keys := []lock.Key{relationshipKey(id), nodeKey(lo)}
	if hi != lo {
		keys = append(keys, nodeKey(hi))
	}
	return keys
}

func txID(tx *txn.Transaction) txn.ID {
	if tx == nil {
		return ""
	}
	return tx.ID()
}

// readOwner returns the lock owner for a read. Reads outside a transaction
// get a one-shot owner.
func (m *NodeManager) readOwner(tx *txn.Transaction) lock.Owner {
	if tx != nil {
		return OwnerOf(tx)
	}
	return lock.Owner(fmt.Sprintf("reader-%d", m.readers.Add(1)))
}

// readLock takes a read lock held until the returned func runs.
func (m *NodeManager) readLock(tx *txn.Transaction, key lock.Key) (func() error, error) {
	owner := m.readOwner(tx)
	if err := m.locks.AcquireRead(owner, key); err != nil {
		return nil, err
	}
	return func() error { return m.locks.ReleaseRead(owner, key) }, nil
}

// readLocked takes the read lock on key, then resolves the cached instance.
// Resolving after the lock means an instance replaced by a writer while the
// reader waited is not used.
func (m *NodeManager) readLocked(tx *txn.Transaction, key lock.Key) (entity, func() error, error) {
	release, err := m.readLock(tx, key)
	if err != nil {
		return nil, nil, err
	}
	e, err := m.lookup(tx, key)
	if err != nil {
		return nil, nil, errors.Join(err, release())
	}
	return e, release, nil
}

// endRead runs release and adds its failure to *err.
func endRead(release func() error, err *error) {
	if rerr := release(); rerr != nil {
		*err = errors.Join(*err, rerr)
	}
}

// writeGuard tracks one mutating call. Once a write lock is held, a failure
// of the call marks the transaction rollback-only.
type writeGuard struct {
	m     *NodeManager
	tx    *txn.Transaction
	armed bool
}

func (m *NodeManager) guard(tx *txn.Transaction) *writeGuard {
	return &writeGuard{m: m, tx: tx}
}

// lock takes write locks in the given order and defers their release to the
// end of the transaction.
func (g *writeGuard) lock(keys ...lock.Key) error {
	owner := g.m.readOwner(g.tx)
	for _, key := range keys {
		if err := g.m.locks.AcquireWrite(owner, key); err != nil {
			return err
		}
		g.armed = true
		if err := g.m.registry.DeferWriteLockRelease(g.tx, owner, key); err != nil {
			return err
		}
	}
	return nil
}

// finish marks the transaction rollback-only when *err is set after a lock
// was taken.
func (g *writeGuard) finish(err *error) {
	if *err != nil && g.armed && g.tx != nil {
		g.tx.SetRollbackOnly(*err)
	}
}

// ============================================================================
// Cache
// ============================================================================

func (m *NodeManager) loadLock(space lock.Space, id uint64) *sync.Mutex {
	return &m.loadLocks[(id*2+uint64(space))%uint64(len(m.loadLocks))]
}

// getOrLoadNode returns the cached node or loads a light one from the store.
// Concurrent misses on the same id serialize on a striped mutex and the
// second loader finds the first one's instance.
func (m *NodeManager) getOrLoadNode(id storage.NodeID) (*node, error) {
	if n, ok := m.nodes.Get(id); ok {
		return n, nil
	}
	mu := m.loadLock(lock.SpaceNode, uint64(id))
	mu.Lock()
	defer mu.Unlock()

	if n, ok := m.nodes.Peek(id); ok {
		return n, nil
	}
	found, err := m.store.LoadLightNode(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load node[%d]: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("node[%d]: %w", id, ErrNotFound)
	}
	m.nodeLoads.Add(1)
	n, _ := m.nodes.PutIfAbsent(id, newNode(id, PhaseLight))
	return n, nil
}

// getOrLoadRelationship is getOrLoadNode for relationships.
func (m *NodeManager) getOrLoadRelationship(id storage.RelationshipID) (*relationship, error) {
	if r, ok := m.rels.Get(id); ok {
		return r, nil
	}
	mu := m.loadLock(lock.SpaceRelationship, uint64(id))
	mu.Lock()
	defer mu.Unlock()

	if r, ok := m.rels.Peek(id); ok {
		return r, nil
	}
	rec, found, err := m.store.LoadRelationship(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationship[%d]: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("relationship[%d]: %w", id, ErrNotFound)
	}
	m.relLoads.Add(1)
	r, _ := m.rels.PutIfAbsent(id, newRelationship(rec, PhaseLight))
	return r, nil
}

// installRelationship caches a relationship met while materializing a node.
func (m *NodeManager) installRelationship(rec storage.RawRelationship) *relationship {
	r, _ := m.rels.PutIfAbsent(rec.ID, newRelationship(rec, PhaseLight))
	return r
}

func (m *NodeManager) resolve(key lock.Key) (entity, error) {
	switch key.Space {
	case lock.SpaceNode:
		return m.getOrLoadNode(storage.NodeID(key.ID))
	case lock.SpaceRelationship:
		return m.getOrLoadRelationship(storage.RelationshipID(key.ID))
	}
	return nil, fmt.Errorf("%w: unknown primitive %s", ErrIllegalValue, key)
}

// cacheEntity makes e the cached instance for its id.
func (m *NodeManager) cacheEntity(e entity) {
	switch x := e.(type) {
	case *node:
		m.nodes.Put(x.id, x)
	case *relationship:
		m.rels.Put(x.id, x)
	}
}

func (m *NodeManager) evict(e entity) {
	switch x := e.(type) {
	case *node:
		if cur, ok := m.nodes.Peek(x.id); ok && cur == x {
			m.nodes.Remove(x.id)
		}
	case *relationship:
		if cur, ok := m.rels.Peek(x.id); ok && cur == x {
			m.rels.Remove(x.id)
		}
	}
}

// visible reports whether tx may see e: not deleted (committed, or by tx
// itself) and not an uncommitted create of another transaction.
func (m *NodeManager) visible(tx *txn.Transaction, e entity) bool {
	p := e.base()
	p.mu.Lock()
	ok := p.visibleTo(txID(tx))
	p.mu.Unlock()
	return ok && !m.registry.Overlay(tx, e.lockKey()).Deleted()
}

// lookup resolves key to a primitive tx may see.
func (m *NodeManager) lookup(tx *txn.Transaction, key lock.Key) (entity, error) {
	e, err := m.resolve(key)
	if err != nil {
		return nil, err
	}
	if !m.visible(tx, e) {
		return nil, fmt.Errorf("%s: %w", e, ErrNotFound)
	}
	return e, nil
}

// exists checks, before any lock is taken, that key names a primitive tx
// may touch. Deletes made by tx itself do not count here; the write paths
// report those as constraint violations.
func (m *NodeManager) exists(tx *txn.Transaction, key lock.Key) (entity, error) {
	e, err := m.resolve(key)
	if err != nil {
		return nil, err
	}
	p := e.base()
	p.mu.Lock()
	ok := p.visibleTo(txID(tx))
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", e, ErrNotFound)
	}
	return e, nil
}

// pin resolves key for a transaction that holds its write lock, opens the
// overlay and makes the instance carrying the overlay the cached one.
func (m *NodeManager) pin(tx *txn.Transaction, key lock.Key) (entity, *Overlay, error) {
	e, err := m.exists(tx, key)
	if err != nil {
		return nil, nil, err
	}
	ov, err := m.registry.OpenOverlay(tx, e)
	if err != nil {
		return nil, nil, err
	}
	m.cacheEntity(e)
	return e, ov, nil
}

// ClearCache drops every cached primitive that no transaction is using.
func (m *NodeManager) ClearCache() {
	m.nodes.Clear()
	m.rels.Clear()
	log.Printf("[Cache] cleared (%d nodes, %d relationships still pinned)", m.nodes.Len(), m.rels.Len())
}

// RemoveNodeFromCache drops the cached instance of id unless a transaction
// is using it. It reports whether an entry was dropped.
func (m *NodeManager) RemoveNodeFromCache(id storage.NodeID) bool {
	return m.nodes.Evict(id)
}

// RemoveRelationshipFromCache is RemoveNodeFromCache for relationships.
func (m *NodeManager) RemoveRelationshipFromCache(id storage.RelationshipID) bool {
	return m.rels.Evict(id)
}

// RemoveRelationshipTypeFromCache forgets the type with id. Relationships of
// that type report ErrNotFound from Type until the manager is reopened.
func (m *NodeManager) RemoveRelationshipTypeFromCache(id storage.RelTypeID) {
	m.relTypes.Remove(id)
}

// ============================================================================
// Caller API
// ============================================================================

// CreateNode creates a node in tx.
func (m *NodeManager) CreateNode(tx *txn.Transaction) (_ *NodeHandle, err error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: create node", ErrNotInTransaction)
	}
	raw, err := m.store.NextID(storage.KindNode)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate node id: %w", err)
	}
	n := newNode(storage.NodeID(raw), PhaseFull)
	n.uncommitted = true

	g := m.guard(tx)
	defer g.finish(&err)
	if err = g.lock(n.lockKey()); err != nil {
		return nil, err
	}

	ev := &Event{Type: EventNodeCreate, Tx: tx, NodeID: n.id}
	if err = m.events.Before(ev); err != nil {
		return nil, err
	}
	if err = m.store.NodeCreate(tx.ID(), n.id); err != nil {
		return nil, err
	}
	ov, err := m.registry.OpenOverlay(tx, n)
	if err != nil {
		return nil, err
	}
	ov.created = true
	m.nodes.Put(n.id, n)
	m.events.After(ev)
	return m.nodeHandle(tx, n.id), nil
}

// GetNode returns the node with id. Absent nodes, and nodes deleted by tx,
// are ErrNotFound.
func (m *NodeManager) GetNode(tx *txn.Transaction, id storage.NodeID) (*NodeHandle, error) {
	if _, err := m.lookup(tx, nodeKey(id)); err != nil {
		return nil, err
	}
	return m.nodeHandle(tx, id), nil
}

func (m *NodeManager) nodeHandle(tx *txn.Transaction, id storage.NodeID) *NodeHandle {
	return &NodeHandle{propertyAccess: propertyAccess{m: m, tx: tx, key: nodeKey(id)}, id: id}
}

// GetRelationship returns the relationship with id. Absent relationships,
// and relationships deleted by tx, are ErrNotFound.
func (m *NodeManager) GetRelationship(tx *txn.Transaction, id storage.RelationshipID) (*RelationshipHandle, error) {
	e, err := m.lookup(tx, relationshipKey(id))
	if err != nil {
		return nil, err
	}
	return m.relationshipHandle(tx, e.(*relationship)), nil
}

func (m *NodeManager) relationshipHandle(tx *txn.Transaction, r *relationship) *RelationshipHandle {
	return &RelationshipHandle{
		propertyAccess: propertyAccess{m: m, tx: tx, key: r.lockKey()},
		id:             r.id,
		start:          r.start,
		end:            r.end,
		typ:            r.typ,
	}
}

// CreateRelationship creates a relationship of type typeName from start to end.
func (m *NodeManager) CreateRelationship(tx *txn.Transaction, start, end storage.NodeID, typeName string) (_ *RelationshipHandle, err error) {
	if typeName == "" {
		return nil, fmt.Errorf("%w: empty relationship type", ErrIllegalValue)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: create relationship", ErrNotInTransaction)
	}
	// Endpoints deleted earlier in tx pass here; the event listeners decide
	// about them.
	for _, id := range []storage.NodeID{start, end} {
		if _, err := m.exists(tx, nodeKey(id)); err != nil {
			return nil, err
		}
	}

	typeID, known := m.relTypes.ID(typeName)
	if !known && m.cfg.AutoCreateRelationshipTypes {
		if typeID, err = m.relTypes.Create(typeName); err != nil {
			return nil, err
		}
		known = true
	}
	raw, err := m.store.NextID(storage.KindRelationship)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate relationship id: %w", err)
	}
	rel := newRelationship(storage.RawRelationship{
		ID: storage.RelationshipID(raw), Type: typeID, StartNode: start, EndNode: end,
	}, PhaseFull)
	rel.uncommitted = true

	g := m.guard(tx)
	defer g.finish(&err)
	if err = g.lock(relationshipLockOrder(rel.id, start, end)...); err != nil {
		return nil, err
	}

	ev := &Event{Type: EventRelationshipCreate, Tx: tx, RelTypeName: typeName}
	rel.describe(ev)
	if err = m.events.Before(ev); err != nil {
		return nil, err
	}
	if !known {
		return nil, NewViolation(ViolationUnknownType, fmt.Sprintf("relationship type %q does not exist", typeName))
	}
	if err = m.store.RelationshipCreate(tx.ID(), rel.id, typeID, start, end); err != nil {
		return nil, err
	}
	ov, err := m.registry.OpenOverlay(tx, rel)
	if err != nil {
		return nil, err
	}
	ov.created = true
	m.rels.Put(rel.id, rel)

	if err = m.linkEndpoints(tx, rel, (*node).addRelationship); err != nil {
		return nil, err
	}
	m.events.After(ev)
	return m.relationshipHandle(tx, rel), nil
}

// linkEndpoints applies change to the overlay of each endpoint of r. The
// caller holds the endpoint write locks.
func (m *NodeManager) linkEndpoints(tx *txn.Transaction, r *relationship, change func(*node, *Overlay, storage.RelTypeID, storage.RelationshipID)) error {
	ends := []storage.NodeID{r.start}
	if !r.isSelfLoop() {
		ends = append(ends, r.end)
	}
	for _, id := range ends {
		n, err := m.getOrLoadNode(id)
		if err != nil {
			return err
		}
		ov, err := m.registry.OpenOverlay(tx, n)
		if err != nil {
			return err
		}
		m.nodes.Put(n.id, n)

		n.mu.Lock()
		err = n.materialize(m)
		if err == nil {
			change(n, ov, r.typ, r.id)
		}
		n.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// deleteNode deletes the node with id in tx. Its relationships must be gone
// by commit time; the node's properties go with it.
func (m *NodeManager) deleteNode(tx *txn.Transaction, id storage.NodeID) (err error) {
	if tx == nil {
		return fmt.Errorf("%w: delete node[%d]", ErrNotInTransaction, id)
	}
	if _, err := m.exists(tx, nodeKey(id)); err != nil {
		return err
	}
	g := m.guard(tx)
	defer g.finish(&err)
	if err = g.lock(nodeKey(id)); err != nil {
		return err
	}

	ev := &Event{Type: EventNodeDelete, Tx: tx, NodeID: id}
	if err = m.events.Before(ev); err != nil {
		return err
	}
	e, ov, err := m.pin(tx, nodeKey(id))
	if err != nil {
		return err
	}
	if err = m.markDeleted(e, ov); err != nil {
		return err
	}
	if err = m.store.NodeDelete(tx.ID(), id); err != nil {
		return err
	}
	m.events.After(ev)
	return nil
}

// deleteRelationship deletes the relationship in tx and unlinks it from its
// endpoints.
func (m *NodeManager) deleteRelationship(tx *txn.Transaction, id storage.RelationshipID) (err error) {
	if tx == nil {
		return fmt.Errorf("%w: delete relationship[%d]", ErrNotInTransaction, id)
	}
	// Endpoints never change, so reading them before locking is safe.
	e, err := m.exists(tx, relationshipKey(id))
	if err != nil {
		return err
	}
	r := e.(*relationship)

	g := m.guard(tx)
	defer g.finish(&err)
	if err = g.lock(relationshipLockOrder(r.id, r.start, r.end)...); err != nil {
		return err
	}

	ev := &Event{Type: EventRelationshipDelete, Tx: tx}
	r.describe(ev)
	ev.RelTypeName, _ = m.relTypes.Name(r.typ)
	if err = m.events.Before(ev); err != nil {
		return err
	}
	e, ov, err := m.pin(tx, relationshipKey(id))
	if err != nil {
		return err
	}
	r = e.(*relationship)
	if err = m.markDeleted(r, ov); err != nil {
		return err
	}
	if err = m.store.RelationshipDelete(tx.ID(), r.id); err != nil {
		return err
	}
	if err = m.linkEndpoints(tx, r, (*node).removeRelationship); err != nil {
		return err
	}
	m.events.After(ev)
	return nil
}

// markDeleted flags the overlay of e as a delete and hides every property.
// A second delete in the same transaction is a constraint violation.
func (m *NodeManager) markDeleted(e entity, ov *Overlay) error {
	p := e.base()
	p.mu.Lock()
	defer p.mu.Unlock()
	if ov.deleted {
		return NewViolation(ViolationDoubleDelete, fmt.Sprintf("%s already deleted in this transaction", e), e.lockKey().ID)
	}
	if err := e.materialize(m); err != nil {
		return err
	}
	for key := range p.props {
		ov.removed[key] = struct{}{}
	}
	clear(ov.added)
	ov.deleted = true
	return nil
}

// RemainingRelationships counts the relationships tx still sees on a node,
// after its own creates and deletes.
func (m *NodeManager) RemainingRelationships(tx *txn.Transaction, id storage.NodeID) (int, error) {
	n, err := m.getOrLoadNode(id)
	if err != nil {
		return 0, err
	}
	ov := m.registry.Overlay(tx, n.lockKey())
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.materialize(m); err != nil {
		return 0, err
	}
	return len(n.relationshipIDs(ov, nil)), nil
}

// CreateRelationshipType registers a relationship type name.
func (m *NodeManager) CreateRelationshipType(name string) (storage.RelTypeID, error) {
	return m.relTypes.Create(name)
}

// RelationshipTypes returns every known relationship type name.
func (m *NodeManager) RelationshipTypes() []string {
	return m.relTypes.Names()
}

// ReferenceNode returns the node registered with SetReferenceNode.
func (m *NodeManager) ReferenceNode(tx *txn.Transaction) (*NodeHandle, error) {
	id, ok := m.ReferenceNodeID()
	if !ok {
		return nil, fmt.Errorf("reference node: %w", ErrNotFound)
	}
	return m.GetNode(tx, id)
}

// ReferenceNodeID returns the reference node id, if one is set.
func (m *NodeManager) ReferenceNodeID() (storage.NodeID, bool) {
	id := storage.NodeID(m.refNode.Load())
	return id, id != 0
}

// SetReferenceNode records id as the reference node; 0 clears it. The node
// must be committed.
func (m *NodeManager) SetReferenceNode(id storage.NodeID) error {
	if id != 0 {
		if _, err := m.lookup(nil, nodeKey(id)); err != nil {
			return err
		}
	}
	if err := m.store.SetReferenceNode(id); err != nil {
		return fmt.Errorf("failed to store reference node: %w", err)
	}
	m.refNode.Store(uint64(id))
	return nil
}

// HighestIDInUse returns the highest id handed out for kind.
func (m *NodeManager) HighestIDInUse(kind storage.IDKind) uint64 {
	return m.store.HighestIDInUse(kind)
}

// Stats is a snapshot of cache and load counters.
type Stats struct {
	NodeCache         cache.CacheStats  `json:"node_cache"`
	RelationshipCache cache.CacheStats  `json:"relationship_cache"`
	NodeLoads         int64             `json:"node_loads"`
	RelationshipLoads int64             `json:"relationship_loads"`
	Materializations  int64             `json:"materializations"`
	RelationshipTypes int               `json:"relationship_types"`
	PropertyKeys      int               `json:"property_keys"`
	OpenTransactions  int               `json:"open_transactions"`
	HeldLocks         int               `json:"held_locks"`
	ReferenceNode     storage.NodeID    `json:"reference_node,omitempty"`
	HighestIDs        map[string]uint64 `json:"highest_ids"`
}

// Stats returns current counters.
func (m *NodeManager) Stats() Stats {
	s := Stats{
		NodeCache:         m.nodes.Stats(),
		RelationshipCache: m.rels.Stats(),
		NodeLoads:         m.nodeLoads.Load(),
		RelationshipLoads: m.relLoads.Load(),
		Materializations:  m.materializations.Load(),
		RelationshipTypes: m.relTypes.Len(),
		PropertyKeys:      m.propKeys.Len(),
		OpenTransactions:  m.registry.ActiveTransactions(),
		HeldLocks:         m.locks.Len(),
	}
	s.ReferenceNode, _ = m.ReferenceNodeID()
	s.HighestIDs = make(map[string]uint64, len(storage.AllKinds))
	for _, kind := range storage.AllKinds {
		s.HighestIDs[kind.String()] = m.HighestIDInUse(kind)
	}
	return s
}
