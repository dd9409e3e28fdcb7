package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Owner kinds in the properties table.
const (
	ownerNode         = 1
	ownerRelationship = 2
)

// inlineValueLimit is the largest encoded value returned together with a
// property chain. Larger values are left for LoadPropertyValue.
const inlineValueLimit = 256

// SQLiteStore is a persistent Store on SQLite (modernc.org/sqlite, no cgo).
//
// Every committed batch runs in one SQL transaction. The database is used
// through a single connection, which keeps ":memory:" databases coherent and
// serializes commits.
type SQLiteStore struct {
	*intentLog

	db     *sql.DB
	mu     sync.RWMutex
	closed bool

	idMu     sync.Mutex
	counters map[IDKind]uint64
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for
// a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas(path == ":memory:") {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	s := &SQLiteStore{db: db, counters: make(map[IDKind]uint64, len(AllKinds))}
	if err := s.loadCounters(); err != nil {
		db.Close()
		return nil, err
	}
	s.intentLog = newIntentLog(s, s.apply)
	return s, nil
}

// ============================================================================
// Id allocation
// ============================================================================

func (s *SQLiteStore) loadCounters() error {
	rows, err := s.db.Query(`SELECT kind, value FROM id_counters`)
	if err != nil {
		return fmt.Errorf("loading id counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, value int64
		if err := rows.Scan(&kind, &value); err != nil {
			return fmt.Errorf("scanning id counter: %w", err)
		}
		if kind == referenceNodeSlot {
			continue
		}
		s.counters[IDKind(kind)] = uint64(value)
	}
	return rows.Err()
}

// NextID allocates and persists the next id of the given kind. Ids start at 1.
func (s *SQLiteStore) NextID(kind IDKind) (uint64, error) {
	if kind < KindNode || kind > KindProperty {
		return 0, fmt.Errorf("%w: unknown id kind %d", ErrIllegalValue, kind)
	}
	s.idMu.Lock()
	defer s.idMu.Unlock()

	next := s.counters[kind] + 1
	_, err := s.db.Exec(
		`INSERT INTO id_counters (kind, value) VALUES (?, ?)
		 ON CONFLICT(kind) DO UPDATE SET value = excluded.value`,
		int64(kind), int64(next))
	if err != nil {
		return 0, fmt.Errorf("persisting %s id counter: %w", kind, err)
	}
	s.counters[kind] = next
	return next, nil
}

// HighestIDInUse returns the last id handed out for kind.
func (s *SQLiteStore) HighestIDInUse(kind IDKind) uint64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.counters[kind]
}

// ============================================================================
// Loads
// ============================================================================

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *SQLiteStore) exists(query string, id uint64) (bool, error) {
	var one int
	err := s.db.QueryRow(query, int64(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) LoadLightNode(id NodeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	return s.exists(`SELECT 1 FROM nodes WHERE id = ?`, uint64(id))
}

func (s *SQLiteStore) loadProperties(kind int, id uint64, what string, existsQuery string) ([]RawProperty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ok, err := s.exists(existsQuery, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s[%d]: %w", what, id, ErrNotFound)
	}

	rows, err := s.db.Query(
		`SELECT id, key_id, CASE WHEN length(value) <= ? THEN value END
		 FROM properties WHERE owner_kind = ? AND owner_id = ? ORDER BY id`,
		inlineValueLimit, kind, int64(id))
	if err != nil {
		return nil, fmt.Errorf("loading %s properties: %w", what, err)
	}
	defer rows.Close()

	var out []RawProperty
	for rows.Next() {
		var (
			pid, keyID int64
			raw        []byte
		)
		if err := rows.Scan(&pid, &keyID, &raw); err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		p := RawProperty{ID: PropertyID(pid), KeyID: PropertyKeyID(keyID)}
		if raw != nil {
			if p.Value, err = DecodeValue(raw); err != nil {
				return nil, err
			}
			p.HasValue = true
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LoadNodeProperties(id NodeID) ([]RawProperty, error) {
	return s.loadProperties(ownerNode, uint64(id), "node", `SELECT 1 FROM nodes WHERE id = ?`)
}

func (s *SQLiteStore) LoadRelationshipProperties(id RelationshipID) ([]RawProperty, error) {
	return s.loadProperties(ownerRelationship, uint64(id), "relationship", `SELECT 1 FROM relationships WHERE id = ?`)
}

func (s *SQLiteStore) LoadRelationships(nodeID NodeID) ([]RawRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ok, err := s.exists(`SELECT 1 FROM nodes WHERE id = ?`, uint64(nodeID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("node[%d]: %w", nodeID, ErrNotFound)
	}

	rows, err := s.db.Query(
		`SELECT id, type_id, start_node, end_node FROM relationships
		 WHERE start_node = ? OR end_node = ? ORDER BY id`,
		int64(nodeID), int64(nodeID))
	if err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	defer rows.Close()

	var out []RawRelationship
	for rows.Next() {
		var id, typ, start, end int64
		if err := rows.Scan(&id, &typ, &start, &end); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		out = append(out, RawRelationship{ID: RelationshipID(id), Type: RelTypeID(typ), StartNode: NodeID(start), EndNode: NodeID(end)})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LoadRelationship(id RelationshipID) (RawRelationship, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return RawRelationship{}, false, err
	}
	var typ, start, end int64
	err := s.db.QueryRow(`SELECT type_id, start_node, end_node FROM relationships WHERE id = ?`, int64(id)).
		Scan(&typ, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return RawRelationship{}, false, nil
	}
	if err != nil {
		return RawRelationship{}, false, fmt.Errorf("loading relationship[%d]: %w", id, err)
	}
	return RawRelationship{ID: id, Type: RelTypeID(typ), StartNode: NodeID(start), EndNode: NodeID(end)}, true, nil
}

func (s *SQLiteStore) LoadPropertyValue(id PropertyID) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.db.QueryRow(`SELECT value FROM properties WHERE id = ?`, int64(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("property[%d]: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading property[%d]: %w", id, err)
	}
	return DecodeValue(raw)
}

// ============================================================================
// Relationship types and property keys
// ============================================================================

func (s *SQLiteStore) loadNames(table string) ([]NamedID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT id, name FROM ` + table + ` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", table, err)
	}
	defer rows.Close()
	var out []NamedID
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		out = append(out, NamedID{ID: uint64(id), Name: name})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) createName(table string, id uint64, name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	var existing string
	err := s.db.QueryRow(`SELECT name FROM `+table+` WHERE id = ?`, int64(id)).Scan(&existing)
	switch {
	case err == nil:
		if existing != name {
			return fmt.Errorf("%w: id %d already named %q", ErrIllegalValue, id, existing)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO `+table+` (id, name) VALUES (?, ?)`, int64(id), name); err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteStore) LoadRelationshipTypes() ([]NamedID, error) {
	return s.loadNames("relationship_types")
}

func (s *SQLiteStore) CreateRelationshipType(id RelTypeID, name string) error {
	return s.createName("relationship_types", uint64(id), name)
}

func (s *SQLiteStore) ReferenceNode() (NodeID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}
	var id int64
	err := s.db.QueryRow(`SELECT value FROM id_counters WHERE kind = ?`, referenceNodeSlot).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading reference node: %w", err)
	}
	return NodeID(id), id != 0, nil
}

func (s *SQLiteStore) SetReferenceNode(id NodeID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	var err error
	if id == 0 {
		_, err = s.db.Exec(`DELETE FROM id_counters WHERE kind = ?`, referenceNodeSlot)
	} else {
		_, err = s.db.Exec(
			`INSERT INTO id_counters (kind, value) VALUES (?, ?)
			 ON CONFLICT(kind) DO UPDATE SET value = excluded.value`,
			referenceNodeSlot, int64(id))
	}
	if err != nil {
		return fmt.Errorf("persisting reference node: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadPropertyKeys() ([]NamedID, error) {
	return s.loadNames("property_keys")
}

func (s *SQLiteStore) LoadPropertyKey(id PropertyKeyID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var name string
	err := s.db.QueryRow(`SELECT name FROM property_keys WHERE id = ?`, int64(id)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("property key[%d]: %w", id, ErrNotFound)
	}
	return name, err
}

func (s *SQLiteStore) CreatePropertyKey(id PropertyKeyID, name string) error {
	return s.createName("property_keys", uint64(id), name)
}

// ============================================================================
// Commit
// ============================================================================

func (s *SQLiteStore) apply(b *Batch) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning sqlite transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for i, op := range b.Ordered() {
		if err := applySQLOp(tx, op); err != nil {
			return fmt.Errorf("failed to apply operation %d (%s) of tx %s: %w", i, op.Type, b.TxID, err)
		}
	}
	return tx.Commit()
}

// execOne runs a statement that must touch exactly one row.
func execOne(tx *sql.Tx, what string, id uint64, query string, args ...any) error {
	res, err := tx.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s[%d]: %w", what, id, ErrNotFound)
	}
	return nil
}

func applySQLOp(tx *sql.Tx, op Operation) error {
	owner, ownerID, what := ownerNode, uint64(op.NodeID), "node"
	if !op.isNodeOp() {
		owner, ownerID, what = ownerRelationship, uint64(op.RelationshipID), "relationship"
	}

	switch op.Type {
	case OpNodeCreate:
		if _, err := tx.Exec(`INSERT INTO nodes (id) VALUES (?)`, int64(op.NodeID)); err != nil {
			return fmt.Errorf("%w: node[%d]: %v", ErrIllegalValue, op.NodeID, err)
		}
		return nil

	case OpNodeDelete:
		var n int
		err := tx.QueryRow(`SELECT count(*) FROM relationships WHERE start_node = ? OR end_node = ?`,
			int64(op.NodeID), int64(op.NodeID)).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: node[%d] still has %d relationships", ErrIllegalValue, op.NodeID, n)
		}
		if _, err := tx.Exec(`DELETE FROM properties WHERE owner_kind = ? AND owner_id = ?`, ownerNode, int64(op.NodeID)); err != nil {
			return err
		}
		return execOne(tx, "node", uint64(op.NodeID), `DELETE FROM nodes WHERE id = ?`, int64(op.NodeID))

	case OpRelationshipCreate:
		_, err := tx.Exec(`INSERT INTO relationships (id, type_id, start_node, end_node) VALUES (?, ?, ?, ?)`,
			int64(op.RelationshipID), int64(op.RelType), int64(op.StartNode), int64(op.EndNode))
		if err != nil {
			return fmt.Errorf("inserting relationship[%d]: %w", op.RelationshipID, err)
		}
		return nil

	case OpRelationshipDelete:
		if _, err := tx.Exec(`DELETE FROM properties WHERE owner_kind = ? AND owner_id = ?`, ownerRelationship, int64(op.RelationshipID)); err != nil {
			return err
		}
		return execOne(tx, "relationship", uint64(op.RelationshipID), `DELETE FROM relationships WHERE id = ?`, int64(op.RelationshipID))

	case OpNodeAddProperty, OpRelationshipAddProperty:
		table := "nodes"
		if owner == ownerRelationship {
			table = "relationships"
		}
		var one int
		if err := tx.QueryRow(`SELECT 1 FROM `+table+` WHERE id = ?`, int64(ownerID)).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%s[%d]: %w", what, ownerID, ErrNotFound)
			}
			return err
		}
		encoded, err := EncodeValue(op.Value)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO properties (id, owner_kind, owner_id, key_id, value) VALUES (?, ?, ?, ?, ?)`,
			int64(op.PropertyID), owner, int64(ownerID), int64(op.KeyID), encoded)
		if err != nil {
			return fmt.Errorf("%w: duplicate add of property key %d on %s[%d]: %v", ErrIllegalValue, op.KeyID, what, ownerID, err)
		}
		return nil

	case OpNodeChangeProperty, OpRelationshipChangeProperty:
		encoded, err := EncodeValue(op.Value)
		if err != nil {
			return err
		}
		return execOne(tx, "property", uint64(op.PropertyID),
			`UPDATE properties SET value = ? WHERE id = ? AND owner_kind = ? AND owner_id = ?`,
			encoded, int64(op.PropertyID), owner, int64(ownerID))

	case OpNodeRemoveProperty, OpRelationshipRemoveProperty:
		return execOne(tx, "property", uint64(op.PropertyID),
			`DELETE FROM properties WHERE id = ? AND owner_kind = ? AND owner_id = ?`,
			int64(op.PropertyID), owner, int64(ownerID))
	}
	return fmt.Errorf("%w: unknown operation %q", ErrIllegalValue, op.Type)
}

// Counts returns the number of committed nodes, relationships and properties.
func (s *SQLiteStore) Counts() (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return Counts{}, err
	}
	var c Counts
	err := s.db.QueryRow(`SELECT
		(SELECT count(*) FROM nodes),
		(SELECT count(*) FROM relationships),
		(SELECT count(*) FROM properties)`).Scan(&c.Nodes, &c.Relationships, &c.Properties)
	return c, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
