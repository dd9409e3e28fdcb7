package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixNode        = byte(0x01) // node:nodeID -> []byte{}
	prefixNodeProp    = byte(0x02) // nodeprop:nodeID:keyID -> propertyID
	prefixRel         = byte(0x03) // rel:relID -> msgpack(relRecord)
	prefixAdjacency   = byte(0x04) // adj:nodeID:relID -> []byte{}
	prefixRelProp     = byte(0x05) // relprop:relID:keyID -> propertyID
	prefixProperty    = byte(0x06) // prop:propertyID -> msgpack(propRecord)
	prefixRelType     = byte(0x07) // reltype:typeID -> name
	prefixPropertyKey = byte(0x08) // propkey:keyID -> name
	prefixIDCounter   = byte(0x09) // idcounter:kind -> uint64
)

// BadgerStore is a persistent Store on BadgerDB.
//
// Features:
//   - Each committed batch is a single Badger transaction
//   - Property values live in their own records and are loaded lazily
//   - Id counters are persisted, so ids stay unique across restarts
//
// Key Structure:
//   - Nodes: 0x01 + nodeID -> empty
//   - Node properties: 0x02 + nodeID + keyID -> propertyID
//   - Relationships: 0x03 + relID -> msgpack(type, start, end)
//   - Adjacency: 0x04 + nodeID + relID -> empty
//   - Relationship properties: 0x05 + relID + keyID -> propertyID
//   - Property values: 0x06 + propertyID -> msgpack(owner, key, value)
//   - Relationship types: 0x07 + typeID -> name
//   - Property keys: 0x08 + keyID -> name
//   - Id counters: 0x09 + kind -> highest id
//   - Reference node: 0x09 + 0xff -> node id
//
// All ids are encoded as 8-byte big-endian integers so prefix scans return
// them in ascending order.
type BadgerStore struct {
	*intentLog

	db       *badger.DB
	mu       sync.RWMutex
	commitMu sync.Mutex
	closed   bool

	idMu     sync.Mutex
	counters map[IDKind]uint64
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is disabled.
	Logger badger.Logger

	// LowMemory enables memory-constrained settings.
	// Reduces MemTableSize and other buffers to use less RAM.
	LowMemory bool
}

// LogLogger routes Badger's own logging to the standard logger.
type LogLogger struct{}

func (LogLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[Storage] badger error: "+format, args...)
}

func (LogLogger) Warningf(format string, args ...interface{}) {
	log.Printf("[Storage] badger warning: "+format, args...)
}

func (LogLogger) Infof(format string, args ...interface{}) {
	log.Printf("[Storage] badger: "+format, args...)
}

func (LogLogger) Debugf(string, ...interface{}) {}

type relRecord struct {
	Type  uint64 `msgpack:"t"`
	Start uint64 `msgpack:"s"`
	End   uint64 `msgpack:"e"`
}

type propRecord struct {
	OwnerRel bool   `msgpack:"r"`
	Owner    uint64 `msgpack:"o"`
	Key      uint64 `msgpack:"k"`
	Value    []byte `msgpack:"v"`
}

// NewBadgerStore opens (or creates) a store in dataDir with default settings.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerStoreInMemory creates an in-memory BadgerDB store for testing.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerStoreWithOptions opens a store with explicit options.
//
// Example:
//
//	store, err := storage.NewBadgerStoreWithOptions(storage.BadgerOptions{
//		DataDir:    "./data/graph",
//		SyncWrites: true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
func NewBadgerStoreWithOptions(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	// Logger stays nil (quiet) unless one is supplied
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).     // 16MB instead of 64MB
			WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
			WithNumMemtables(2).            // 2 instead of 5
			WithNumLevelZeroTables(2).      // 2 instead of 5
			WithNumLevelZeroTablesStall(4). // 4 instead of 15
			WithBlockCacheSize(32 << 20).   // 32MB block cache
			WithIndexCacheSize(16 << 20)    // 16MB index cache
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	s := &BadgerStore{
		db:       db,
		counters: make(map[IDKind]uint64, len(AllKinds)),
	}
	if err := s.loadCounters(); err != nil {
		db.Close()
		return nil, err
	}
	s.intentLog = newIntentLog(s, s.apply)
	return s, nil
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func idKey(prefix byte, id uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

func pairKey(prefix byte, a, b uint64) []byte {
	key := make([]byte, 17)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], a)
	binary.BigEndian.PutUint64(key[9:], b)
	return key
}

// pairSuffix extracts the second id of a pairKey.
func pairSuffix(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[9:17])
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: expected 8 bytes, got %d", ErrIllegalValue, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// ============================================================================
// Id allocation
// ============================================================================

func (s *BadgerStore) loadCounters() error {
	return s.db.View(func(txn *badger.Txn) error {
		for _, kind := range AllKinds {
			item, err := txn.Get(idKey(prefixIDCounter, uint64(kind)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				v, err := decodeUint64(val)
				s.counters[kind] = v
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to read %s id counter: %w", kind, err)
			}
		}
		return nil
	})
}

// NextID allocates and persists the next id of the given kind. Ids start at 1.
func (s *BadgerStore) NextID(kind IDKind) (uint64, error) {
	if kind < KindNode || kind > KindProperty {
		return 0, fmt.Errorf("%w: unknown id kind %d", ErrIllegalValue, kind)
	}
	s.idMu.Lock()
	defer s.idMu.Unlock()

	next := s.counters[kind] + 1
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(idKey(prefixIDCounter, uint64(kind)), encodeUint64(next))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to persist %s id counter: %w", kind, err)
	}
	s.counters[kind] = next
	return next, nil
}

// HighestIDInUse returns the last id handed out for kind.
func (s *BadgerStore) HighestIDInUse(kind IDKind) uint64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.counters[kind]
}

// ============================================================================
// Loads
// ============================================================================

func (s *BadgerStore) view(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *BadgerStore) LoadLightNode(id NodeID) (bool, error) {
	found := false
	err := s.view(func(txn *badger.Txn) error {
		_, err := txn.Get(idKey(prefixNode, uint64(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

func (s *BadgerStore) LoadNodeProperties(id NodeID) ([]RawProperty, error) {
	var out []RawProperty
	err := s.view(func(txn *badger.Txn) error {
		if _, err := txn.Get(idKey(prefixNode, uint64(id))); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("node[%d]: %w", id, ErrNotFound)
			}
			return err
		}
		var err error
		out, err = scanPropertyIndex(txn, idKey(prefixNodeProp, uint64(id)))
		return err
	})
	return out, err
}

func (s *BadgerStore) LoadRelationshipProperties(id RelationshipID) ([]RawProperty, error) {
	var out []RawProperty
	err := s.view(func(txn *badger.Txn) error {
		if _, err := txn.Get(idKey(prefixRel, uint64(id))); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("relationship[%d]: %w", id, ErrNotFound)
			}
			return err
		}
		var err error
		out, err = scanPropertyIndex(txn, idKey(prefixRelProp, uint64(id)))
		return err
	})
	return out, err
}

// scanPropertyIndex lists the properties under an owner prefix without their
// values; those are fetched on demand through LoadPropertyValue.
func scanPropertyIndex(txn *badger.Txn, prefix []byte) ([]RawProperty, error) {
	var out []RawProperty
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		keyID := pairSuffix(item.Key())
		err := item.Value(func(val []byte) error {
			pid, err := decodeUint64(val)
			if err != nil {
				return err
			}
			out = append(out, RawProperty{ID: PropertyID(pid), KeyID: PropertyKeyID(keyID)})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *BadgerStore) LoadRelationships(nodeID NodeID) ([]RawRelationship, error) {
	var out []RawRelationship
	err := s.view(func(txn *badger.Txn) error {
		if _, err := txn.Get(idKey(prefixNode, uint64(nodeID))); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("node[%d]: %w", nodeID, ErrNotFound)
			}
			return err
		}
		opts := badger.IteratorOptions{Prefix: idKey(prefixAdjacency, uint64(nodeID))}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			relID := RelationshipID(pairSuffix(it.Item().Key()))
			rec, ok, err := getRel(txn, relID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("adjacency of node[%d] points at missing relationship[%d]: %w", nodeID, relID, ErrNotFound)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) LoadRelationship(id RelationshipID) (RawRelationship, bool, error) {
	var (
		rec RawRelationship
		ok  bool
	)
	err := s.view(func(txn *badger.Txn) error {
		var err error
		rec, ok, err = getRel(txn, id)
		return err
	})
	return rec, ok, err
}

func getRel(txn *badger.Txn, id RelationshipID) (RawRelationship, bool, error) {
	item, err := txn.Get(idKey(prefixRel, uint64(id)))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return RawRelationship{}, false, nil
	}
	if err != nil {
		return RawRelationship{}, false, err
	}
	var r relRecord
	if err := item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &r) }); err != nil {
		return RawRelationship{}, false, fmt.Errorf("failed to decode relationship[%d]: %w", id, err)
	}
	return RawRelationship{ID: id, Type: RelTypeID(r.Type), StartNode: NodeID(r.Start), EndNode: NodeID(r.End)}, true, nil
}

func getProp(txn *badger.Txn, id PropertyID) (propRecord, error) {
	var p propRecord
	item, err := txn.Get(idKey(prefixProperty, uint64(id)))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return p, fmt.Errorf("property[%d]: %w", id, ErrNotFound)
	}
	if err != nil {
		return p, err
	}
	err = item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &p) })
	if err != nil {
		return p, fmt.Errorf("failed to decode property[%d]: %w", id, err)
	}
	return p, nil
}

func (s *BadgerStore) LoadPropertyValue(id PropertyID) (any, error) {
	var v any
	err := s.view(func(txn *badger.Txn) error {
		p, err := getProp(txn, id)
		if err != nil {
			return err
		}
		v, err = DecodeValue(p.Value)
		return err
	})
	return v, err
}

// ============================================================================
// Relationship types and property keys
// ============================================================================

func (s *BadgerStore) loadNames(prefix byte) ([]NamedID, error) {
	var out []NamedID
	err := s.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefix}, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := binary.BigEndian.Uint64(item.Key()[1:])
			name, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, NamedID{ID: id, Name: string(name)})
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) createName(prefix byte, id uint64, name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := idKey(prefix, id)
		item, err := txn.Get(key)
		if err == nil {
			existing, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(existing) != name {
				return fmt.Errorf("%w: id %d already named %q", ErrIllegalValue, id, existing)
			}
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, []byte(name))
	})
}

func (s *BadgerStore) LoadRelationshipTypes() ([]NamedID, error) {
	return s.loadNames(prefixRelType)
}

func (s *BadgerStore) CreateRelationshipType(id RelTypeID, name string) error {
	return s.createName(prefixRelType, uint64(id), name)
}

func (s *BadgerStore) ReferenceNode() (NodeID, bool, error) {
	var id uint64
	err := s.view(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(prefixIDCounter, referenceNodeSlot))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id, err = decodeUint64(val)
			return err
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to read reference node: %w", err)
	}
	return NodeID(id), id != 0, nil
}

func (s *BadgerStore) SetReferenceNode(id NodeID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := idKey(prefixIDCounter, referenceNodeSlot)
		if id == 0 {
			return txn.Delete(key)
		}
		return txn.Set(key, encodeUint64(uint64(id)))
	})
}

func (s *BadgerStore) LoadPropertyKeys() ([]NamedID, error) {
	return s.loadNames(prefixPropertyKey)
}

func (s *BadgerStore) LoadPropertyKey(id PropertyKeyID) (string, error) {
	var name string
	err := s.view(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(prefixPropertyKey, uint64(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("property key[%d]: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		b, err := item.ValueCopy(nil)
		name = string(b)
		return err
	})
	return name, err
}

func (s *BadgerStore) CreatePropertyKey(id PropertyKeyID, name string) error {
	return s.createName(prefixPropertyKey, uint64(id), name)
}

// ============================================================================
// Commit
// ============================================================================

// apply writes a batch in one Badger transaction. Batches are applied one at
// a time so concurrent commits never conflict on adjacency keys.
func (s *BadgerStore) apply(b *Batch) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		for i, op := range b.Ordered() {
			if err := applyBadgerOp(txn, op); err != nil {
				return fmt.Errorf("failed to apply operation %d (%s) of tx %s: %w", i, op.Type, b.TxID, err)
			}
		}
		return nil
	})
}

func mustExist(txn *badger.Txn, key []byte, what string, id uint64) error {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s[%d]: %w", what, id, ErrNotFound)
	}
	return err
}

func mustNotExist(txn *badger.Txn, key []byte, what string, id uint64) error {
	_, err := txn.Get(key)
	if err == nil {
		return fmt.Errorf("%w: %s[%d] already exists", ErrIllegalValue, what, id)
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// prefixKeys collects the keys under prefix. Deleting while iterating is not
// allowed, so callers delete afterwards.
func prefixKeys(txn *badger.Txn, prefix []byte) [][]byte {
	var keys [][]byte
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// dropPropertyChain deletes every property record under an owner prefix.
func dropPropertyChain(txn *badger.Txn, prefix []byte) error {
	for _, key := range prefixKeys(txn, prefix) {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		pid, err := decodeUint64(val)
		if err != nil {
			return err
		}
		if err := txn.Delete(idKey(prefixProperty, pid)); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// ownerIndexKey returns the owner's existence key and the key of its
// property index entry for keyID.
func ownerIndexKey(op Operation, keyID uint64) (owner []byte, index []byte, what string, id uint64) {
	if op.isNodeOp() {
		return idKey(prefixNode, uint64(op.NodeID)), pairKey(prefixNodeProp, uint64(op.NodeID), keyID), "node", uint64(op.NodeID)
	}
	return idKey(prefixRel, uint64(op.RelationshipID)), pairKey(prefixRelProp, uint64(op.RelationshipID), keyID), "relationship", uint64(op.RelationshipID)
}

func applyBadgerOp(txn *badger.Txn, op Operation) error {
	switch op.Type {
	case OpNodeCreate:
		key := idKey(prefixNode, uint64(op.NodeID))
		if err := mustNotExist(txn, key, "node", uint64(op.NodeID)); err != nil {
			return err
		}
		return txn.Set(key, []byte{})

	case OpNodeDelete:
		key := idKey(prefixNode, uint64(op.NodeID))
		if err := mustExist(txn, key, "node", uint64(op.NodeID)); err != nil {
			return err
		}
		if rels := prefixKeys(txn, idKey(prefixAdjacency, uint64(op.NodeID))); len(rels) > 0 {
			return fmt.Errorf("%w: node[%d] still has %d relationships", ErrIllegalValue, op.NodeID, len(rels))
		}
		if err := dropPropertyChain(txn, idKey(prefixNodeProp, uint64(op.NodeID))); err != nil {
			return err
		}
		return txn.Delete(key)

	case OpRelationshipCreate:
		key := idKey(prefixRel, uint64(op.RelationshipID))
		if err := mustNotExist(txn, key, "relationship", uint64(op.RelationshipID)); err != nil {
			return err
		}
		for _, n := range []NodeID{op.StartNode, op.EndNode} {
			if err := mustExist(txn, idKey(prefixNode, uint64(n)), "node", uint64(n)); err != nil {
				return err
			}
		}
		data, err := msgpack.Marshal(relRecord{Type: uint64(op.RelType), Start: uint64(op.StartNode), End: uint64(op.EndNode)})
		if err != nil {
			return fmt.Errorf("failed to encode relationship: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(pairKey(prefixAdjacency, uint64(op.StartNode), uint64(op.RelationshipID)), []byte{}); err != nil {
			return err
		}
		return txn.Set(pairKey(prefixAdjacency, uint64(op.EndNode), uint64(op.RelationshipID)), []byte{})

	case OpRelationshipDelete:
		rec, ok, err := getRel(txn, op.RelationshipID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("relationship[%d]: %w", op.RelationshipID, ErrNotFound)
		}
		if err := dropPropertyChain(txn, idKey(prefixRelProp, uint64(op.RelationshipID))); err != nil {
			return err
		}
		if err := txn.Delete(pairKey(prefixAdjacency, uint64(rec.StartNode), uint64(rec.ID))); err != nil {
			return err
		}
		if err := txn.Delete(pairKey(prefixAdjacency, uint64(rec.EndNode), uint64(rec.ID))); err != nil {
			return err
		}
		return txn.Delete(idKey(prefixRel, uint64(rec.ID)))

	case OpNodeAddProperty, OpRelationshipAddProperty:
		owner, index, what, id := ownerIndexKey(op, uint64(op.KeyID))
		if err := mustExist(txn, owner, what, id); err != nil {
			return err
		}
		if _, err := txn.Get(index); err == nil {
			return fmt.Errorf("%w: duplicate add of property key %d on %s[%d]", ErrIllegalValue, op.KeyID, what, id)
		}
		encoded, err := EncodeValue(op.Value)
		if err != nil {
			return err
		}
		data, err := msgpack.Marshal(propRecord{OwnerRel: !op.isNodeOp(), Owner: id, Key: uint64(op.KeyID), Value: encoded})
		if err != nil {
			return fmt.Errorf("failed to encode property: %w", err)
		}
		if err := txn.Set(idKey(prefixProperty, uint64(op.PropertyID)), data); err != nil {
			return err
		}
		return txn.Set(index, encodeUint64(uint64(op.PropertyID)))

	case OpNodeChangeProperty, OpRelationshipChangeProperty:
		p, err := getProp(txn, op.PropertyID)
		if err != nil {
			return err
		}
		p.Value, err = EncodeValue(op.Value)
		if err != nil {
			return err
		}
		data, err := msgpack.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode property: %w", err)
		}
		return txn.Set(idKey(prefixProperty, uint64(op.PropertyID)), data)

	case OpNodeRemoveProperty, OpRelationshipRemoveProperty:
		p, err := getProp(txn, op.PropertyID)
		if err != nil {
			return err
		}
		_, index, _, _ := ownerIndexKey(op, p.Key)
		if err := txn.Delete(index); err != nil {
			return err
		}
		return txn.Delete(idKey(prefixProperty, uint64(op.PropertyID)))
	}
	return fmt.Errorf("%w: unknown operation %q", ErrIllegalValue, op.Type)
}

// Counts scans the node, relationship and property prefixes.
func (s *BadgerStore) Counts() (Counts, error) {
	var c Counts
	err := s.view(func(txn *badger.Txn) error {
		for _, p := range []struct {
			prefix byte
			dst    *int64
		}{
			{prefixNode, &c.Nodes},
			{prefixRel, &c.Relationships},
			{prefixProperty, &c.Properties},
		} {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{p.prefix}})
			for it.Rewind(); it.Valid(); it.Next() {
				*p.dst++
			}
			it.Close()
		}
		return nil
	})
	return c, err
}

// Close closes the underlying BadgerDB.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
