package storage

// SQLite schema DDL constants

const schemaNodes = `
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY
)`

const schemaRelationships = `
CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY,
    type_id INTEGER NOT NULL,
    start_node INTEGER NOT NULL REFERENCES nodes(id),
    end_node INTEGER NOT NULL REFERENCES nodes(id)
)`

const schemaProperties = `
CREATE TABLE IF NOT EXISTS properties (
    id INTEGER PRIMARY KEY,
    owner_kind INTEGER NOT NULL,
    owner_id INTEGER NOT NULL,
    key_id INTEGER NOT NULL,
    value BLOB NOT NULL,
    UNIQUE(owner_kind, owner_id, key_id)
)`

const schemaRelationshipTypes = `
CREATE TABLE IF NOT EXISTS relationship_types (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL
)`

const schemaPropertyKeys = `
CREATE TABLE IF NOT EXISTS property_keys (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL
)`

const schemaIDCounters = `
CREATE TABLE IF NOT EXISTS id_counters (
    kind INTEGER PRIMARY KEY,
    value INTEGER NOT NULL
)`

// Index definitions
const indexRelationshipsStart = `CREATE INDEX IF NOT EXISTS idx_relationships_start ON relationships(start_node)`
const indexRelationshipsEnd = `CREATE INDEX IF NOT EXISTS idx_relationships_end ON relationships(end_node)`

// SQLite pragmas
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaFK = `PRAGMA foreign_keys=ON`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaNodes,
		schemaRelationships,
		schemaProperties,
		schemaRelationshipTypes,
		schemaPropertyKeys,
		schemaIDCounters,
		indexRelationshipsStart,
		indexRelationshipsEnd,
	}
}

// allPragmas returns the pragmas applied when the database is opened
func allPragmas(inMemory bool) []string {
	if inMemory {
		return []string{pragmaFK, pragmaBusyTimeout}
	}
	return []string{pragmaWAL, pragmaFK, pragmaBusyTimeout, pragmaSynchronous}
}
