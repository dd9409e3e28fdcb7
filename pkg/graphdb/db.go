// Package graphdb is the embedded entry point of graphkernel.
//
// Open builds every component from a config.Config and wires them together:
// the backing store, the lock coordinator, the transaction manager, the
// primitive cache (core.NodeManager), the constraint evaluator and, when
// enabled, the adaptive cache sizer and the event logger.
//
// Example Usage:
//
//	cfg := config.DefaultConfig()
//	cfg.Storage.Engine = "badger"
//	cfg.Storage.DataDir = "./data"
//
//	db, err := graphdb.Open(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.Update(func(tx *txn.Transaction) error {
//		alice, err := db.Nodes().CreateNode(tx)
//		if err != nil {
//			return err
//		}
//		return alice.SetProperty("name", "alice")
//	})
//
// Thread Safety:
//
//	All methods are thread-safe. Each transaction must be used by one
//	goroutine at a time.
package graphdb

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/orneryd/graphkernel/pkg/cache"
	"github.com/orneryd/graphkernel/pkg/config"
	"github.com/orneryd/graphkernel/pkg/constraint"
	"github.com/orneryd/graphkernel/pkg/core"
	"github.com/orneryd/graphkernel/pkg/lock"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// ErrClosed is returned by every method of a closed DB.
var ErrClosed = errors.New("database is closed")

// DB is an open graph database.
type DB struct {
	config *config.Config
	mu     sync.RWMutex
	closed bool

	store       storage.Store
	locks       *lock.Coordinator
	txs         *txn.Manager
	nodes       *core.NodeManager
	constraints *constraint.Evaluator
	adaptive    *cache.AdaptiveManager
}

// Open opens the database described by cfg. A nil cfg uses
// config.DefaultConfig, which keeps everything in memory.
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	db := &DB{
		config: cfg,
		store:  store,
		locks:  lock.NewCoordinator(),
		txs: txn.NewManager(txn.Options{
			MaxConcurrent: cfg.Transactions.MaxConcurrent,
			Timeout:       cfg.Transactions.Timeout,
		}),
	}

	nmCfg := core.DefaultConfig()
	nmCfg.NodeCacheSize = cfg.Cache.NodeCacheSize
	nmCfg.RelationshipCacheSize = cfg.Cache.RelationshipCacheSize
	nmCfg.NodeCacheMin = cfg.Cache.NodeCacheMin
	nmCfg.RelationshipCacheMin = cfg.Cache.RelationshipCacheMin
	nmCfg.HeapRatio = cache.ClampHeapRatio(cfg.Cache.HeapRatio)
	nmCfg.AutoCreateRelationshipTypes = cfg.Constraints.AutoCreateRelationshipTypes
	nmCfg.PreloadPropertyKeys = cfg.Constraints.PreloadPropertyKeys
	if cfg.Cache.Adaptive {
		db.adaptive = cache.NewAdaptiveManager(cache.AdaptiveConfig{Interval: cfg.Cache.AdaptiveInterval})
		nmCfg.Adaptive = db.adaptive
	}

	db.nodes, err = core.NewNodeManager(store, db.locks, nmCfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to start node manager: %w", err)
	}

	db.constraints = constraint.New(db.nodes)
	db.nodes.AddListener(db.constraints)
	if cfg.Constraints.LogEvents {
		db.nodes.AddListener(core.LogListener{})
	}
	if db.adaptive != nil {
		db.adaptive.Start()
	}
	return db, nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Engine {
	case "badger":
		opts := storage.BadgerOptions{
			DataDir:    filepath.Join(cfg.DataDir, "badger"),
			SyncWrites: cfg.SyncWrites,
			LowMemory:  cfg.LowMemory,
		}
		if cfg.Verbose {
			opts.Logger = storage.LogLogger{}
		}
		s, err := storage.NewBadgerStoreWithOptions(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger storage: %w", err)
		}
		fmt.Printf("📂 Using badger storage at %s\n", opts.DataDir)
		return s, nil

	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(cfg.DataDir, "graph.db")
		s, err := storage.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		fmt.Printf("📂 Using sqlite storage at %s\n", path)
		return s, nil

	case "memory", "":
		fmt.Println("⚠️  Using in-memory storage (data will not persist)")
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage engine: %q", cfg.Engine)
}

// Nodes returns the primitive cache through which nodes and relationships
// are created, read and changed.
func (db *DB) Nodes() *core.NodeManager {
	return db.nodes
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() *config.Config {
	return db.config
}

// Locks dumps the lock table.
func (db *DB) Locks() []lock.LockInfo {
	return db.locks.Snapshot()
}

// Begin starts a transaction with the store enlisted.
func (db *DB) Begin() (*txn.Transaction, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	tx, err := db.txs.Begin()
	if err != nil {
		return nil, err
	}
	if err := tx.Enlist(db.store); err != nil {
		return nil, errors.Join(err, tx.Rollback())
	}
	return tx, nil
}

// Update runs fn in a new transaction and commits it when fn returns nil.
// Any error, or a panic, rolls the transaction back.
func (db *DB) Update(fn func(tx *txn.Transaction) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return tx.Commit()
}

// View runs fn in a transaction that is always rolled back. fn's reads see
// committed state and take read locks only for each call.
func (db *DB) View(fn func(tx *txn.Transaction) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// Stats is a snapshot of the whole database.
type Stats struct {
	Engine           string         `json:"engine"`
	Counts           storage.Counts `json:"counts"`
	Kernel           core.Stats     `json:"kernel"`
	Transactions     txn.Stats      `json:"transactions"`
	ConstraintVetoes int64          `json:"constraint_vetoes"`
}

// Stats returns current statistics.
func (db *DB) Stats() (Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return Stats{}, ErrClosed
	}
	counts, err := db.store.Counts()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count primitives: %w", err)
	}
	return Stats{
		Engine:           db.config.Storage.Engine,
		Counts:           counts,
		Kernel:           db.nodes.Stats(),
		Transactions:     db.txs.Stats(),
		ConstraintVetoes: db.constraints.Vetoes(),
	}, nil
}

// Close stops background work and closes the store. Transactions still open
// lose their locks.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	if n := db.txs.Active(); n > 0 {
		log.Printf("[DB] ⚠️  closing with %d open transactions", n)
	}
	if db.adaptive != nil {
		db.adaptive.Stop()
	}
	db.nodes.Close()
	db.locks.Close()

	if err := db.store.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
