// Package txn provides the transaction manager the graph kernel runs under.
//
// It is deliberately small: transactions carry an id, a status, a rollback-only
// flag, a list of completion synchronizations and a list of enlisted
// resources. There is no two-phase commit and no write-ahead log; a resource
// (the backing store) applies its buffered batch when the transaction commits.
//
// Commit protocol:
//  1. BeforeCompletion on every synchronization, in registration order.
//     Synchronizations registered while this runs are called too. An error
//     marks the transaction rollback-only.
//  2. A rollback-only transaction is rolled back instead and Commit returns an
//     error wrapping ErrRollbackOnly and the cause.
//  3. CommitTx on every enlisted resource.
//  4. AfterCompletion on every synchronization with the outcome. This happens
//     exactly once per transaction, on the commit and on the rollback path.
//
// Example:
//
//	mgr := txn.NewManager(txn.Options{})
//	tx, _ := mgr.Begin()
//	tx.Enlist(store)
//	tx.RegisterSynchronization(registry)
//	if err := doWork(tx); err != nil {
//		tx.Rollback()
//		return err
//	}
//	return tx.Commit()
package txn

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transaction errors.
var (
	ErrNotInTransaction    = errors.New("not in transaction")
	ErrTransactionClosed   = errors.New("transaction already closed")
	ErrRollbackOnly        = errors.New("transaction marked rollback-only")
	ErrTooManyTransactions = errors.New("too many concurrent transactions")
	ErrTransactionTimeout  = errors.New("transaction timed out")
)

// ID identifies a transaction.
type ID string

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusActive         Status = "active"
	StatusMarkedRollback Status = "marked_rollback"
	StatusCommitting     Status = "committing"
	StatusRollingBack    Status = "rolling_back"
	StatusCommitted      Status = "committed"
	StatusRolledBack     Status = "rolled_back"
)

// Synchronization is notified around transaction completion.
type Synchronization interface {
	// BeforeCompletion runs before a commit. Returning an error aborts the commit.
	BeforeCompletion(tx *Transaction) error
	// AfterCompletion runs once the outcome is decided, with StatusCommitted
	// or StatusRolledBack.
	AfterCompletion(tx *Transaction, status Status) error
}

// Resource takes part in commit and rollback.
type Resource interface {
	CommitTx(id ID) error
	RollbackTx(id ID)
}

// Options configures a Manager.
type Options struct {
	// MaxConcurrent limits the number of open transactions. 0 means unlimited.
	MaxConcurrent int
	// Timeout rolls back transactions that try to commit after this long. 0 disables.
	Timeout time.Duration
}

// Stats is a snapshot of manager counters.
type Stats struct {
	Active     int   `json:"active"`
	Committed  int64 `json:"committed"`
	RolledBack int64 `json:"rolled_back"`
}

// Manager creates transactions and tracks the open ones.
type Manager struct {
	opts Options

	mu     sync.Mutex
	active map[ID]*Transaction

	committed  atomic.Int64
	rolledBack atomic.Int64
}

// NewManager creates a transaction manager.
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:   opts,
		active: make(map[ID]*Transaction),
	}
}

// Begin starts a new transaction.
func (m *Manager) Begin() (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.MaxConcurrent > 0 && len(m.active) >= m.opts.MaxConcurrent {
		return nil, fmt.Errorf("%w (max %d)", ErrTooManyTransactions, m.opts.MaxConcurrent)
	}

	now := time.Now()
	tx := &Transaction{
		id:      ID(uuid.NewString()),
		manager: m,
		started: now,
		status:  StatusActive,
	}
	if m.opts.Timeout > 0 {
		tx.deadline = now.Add(m.opts.Timeout)
	}
	m.active[tx.id] = tx
	return tx, nil
}

// Get returns an open transaction by id.
func (m *Manager) Get(id ID) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.active[id]
	return tx, ok
}

// Active returns the number of open transactions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Stats returns manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Active:     m.Active(),
		Committed:  m.committed.Load(),
		RolledBack: m.rolledBack.Load(),
	}
}

func (m *Manager) finished(tx *Transaction, status Status) {
	m.mu.Lock()
	delete(m.active, tx.id)
	m.mu.Unlock()
	if status == StatusCommitted {
		m.committed.Add(1)
	} else {
		m.rolledBack.Add(1)
	}
}

// Transaction is a unit of work. A transaction is meant to be driven by one
// goroutine at a time; its methods are nevertheless safe to call concurrently.
type Transaction struct {
	mu sync.Mutex

	id       ID
	manager  *Manager
	started  time.Time
	deadline time.Time
	status   Status

	rollbackOnly  bool
	rollbackCause error

	syncs     []Synchronization
	resources []Resource

	// Transaction metadata (for logging/debugging)
	metadata map[string]any
}

// ID returns the transaction id.
func (tx *Transaction) ID() ID {
	return tx.id
}

// StartTime returns when the transaction began.
func (tx *Transaction) StartTime() time.Time {
	return tx.started
}

// Status returns the current status. An active transaction that was marked
// rollback-only reports StatusMarkedRollback.
func (tx *Transaction) Status() Status {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.status == StatusActive && tx.rollbackOnly {
		return StatusMarkedRollback
	}
	return tx.status
}

// IsActive reports whether work may still be done in the transaction.
func (tx *Transaction) IsActive() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.status == StatusActive || tx.status == StatusCommitting
}

// RegisterSynchronization adds a completion callback. Allowed while the
// transaction is active or running its before-completion phase.
func (tx *Transaction) RegisterSynchronization(s Synchronization) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.status != StatusActive && tx.status != StatusCommitting {
		return ErrTransactionClosed
	}
	tx.syncs = append(tx.syncs, s)
	return nil
}

// Enlist adds a resource that is committed or rolled back with the transaction.
func (tx *Transaction) Enlist(r Resource) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.status != StatusActive {
		return ErrTransactionClosed
	}
	tx.resources = append(tx.resources, r)
	return nil
}

// SetRollbackOnly marks the transaction so that it can only roll back. The
// first cause is kept.
func (tx *Transaction) SetRollbackOnly(cause error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.status != StatusActive && tx.status != StatusCommitting {
		return
	}
	if !tx.rollbackOnly {
		tx.rollbackOnly = true
		tx.rollbackCause = cause
	}
}

// IsRollbackOnly reports whether SetRollbackOnly was called.
func (tx *Transaction) IsRollbackOnly() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.rollbackOnly
}

// RollbackCause returns the error passed to the first SetRollbackOnly call.
func (tx *Transaction) RollbackCause() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.rollbackCause
}

// SetMetadata attaches metadata to the transaction for logging.
// Total size is limited to 2048 characters.
func (tx *Transaction) SetMetadata(metadata map[string]any) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != StatusActive {
		return ErrTransactionClosed
	}

	totalSize := 0
	for k, v := range metadata {
		totalSize += len(k)
		if v != nil {
			totalSize += len(fmt.Sprint(v))
		}
	}
	for k, v := range tx.metadata {
		if _, replaced := metadata[k]; !replaced {
			totalSize += len(k) + len(fmt.Sprint(v))
		}
	}
	if totalSize > 2048 {
		return fmt.Errorf("transaction metadata too large: %d chars (max 2048)", totalSize)
	}

	if tx.metadata == nil {
		tx.metadata = make(map[string]any)
	}
	for k, v := range metadata {
		tx.metadata[k] = v
	}
	return nil
}

// Metadata returns a copy of the transaction metadata.
func (tx *Transaction) Metadata() map[string]any {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	result := make(map[string]any, len(tx.metadata))
	for k, v := range tx.metadata {
		result[k] = v
	}
	return result
}

// Commit commits the transaction, see the package documentation for the
// protocol. A second Commit or Rollback returns ErrTransactionClosed.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	if tx.status != StatusActive {
		tx.mu.Unlock()
		return ErrTransactionClosed
	}
	if !tx.deadline.IsZero() && time.Now().After(tx.deadline) && !tx.rollbackOnly {
		tx.rollbackOnly = true
		tx.rollbackCause = fmt.Errorf("%w after %v", ErrTransactionTimeout, time.Since(tx.started).Round(time.Millisecond))
	}
	if tx.rollbackOnly {
		tx.status = StatusRollingBack
		tx.mu.Unlock()
		return tx.abort()
	}
	tx.status = StatusCommitting
	if len(tx.metadata) > 0 {
		log.Printf("[Txn %s] Committing with metadata: %v", tx.id, tx.metadata)
	}
	tx.mu.Unlock()

	for i := 0; ; i++ {
		tx.mu.Lock()
		if i >= len(tx.syncs) {
			tx.mu.Unlock()
			break
		}
		s := tx.syncs[i]
		tx.mu.Unlock()

		if err := s.BeforeCompletion(tx); err != nil {
			tx.SetRollbackOnly(err)
			break
		}
	}

	tx.mu.Lock()
	if tx.rollbackOnly {
		tx.status = StatusRollingBack
		tx.mu.Unlock()
		return tx.abort()
	}
	resources := append([]Resource(nil), tx.resources...)
	tx.mu.Unlock()

	for i, r := range resources {
		if err := r.CommitTx(tx.id); err != nil {
			// Resources before i are already durable; there is no way back for them.
			if i > 0 {
				log.Printf("[Txn %s] ⚠️  Resource %d failed after %d resources committed: %v", tx.id, i, i, err)
			}
			for _, rest := range resources[i+1:] {
				rest.RollbackTx(tx.id)
			}
			cerr := fmt.Errorf("commit of transaction %s failed: %w", tx.id, err)
			return errors.Join(cerr, tx.finish(StatusRolledBack))
		}
	}

	return tx.finish(StatusCommitted)
}

// abort rolls back a transaction that was asked to commit but is rollback-only.
// Caller has set StatusRollingBack.
func (tx *Transaction) abort() error {
	for _, r := range tx.resourceList() {
		r.RollbackTx(tx.id)
	}
	cause := tx.RollbackCause()
	var err error
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrRollbackOnly, cause)
	} else {
		err = ErrRollbackOnly
	}
	return errors.Join(err, tx.finish(StatusRolledBack))
}

// Rollback discards the transaction. Rolling back a transaction that already
// completed returns ErrTransactionClosed.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	if tx.status != StatusActive {
		tx.mu.Unlock()
		return ErrTransactionClosed
	}
	tx.status = StatusRollingBack
	tx.mu.Unlock()

	for _, r := range tx.resourceList() {
		r.RollbackTx(tx.id)
	}
	return tx.finish(StatusRolledBack)
}

func (tx *Transaction) resourceList() []Resource {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return append([]Resource(nil), tx.resources...)
}

// finish records the outcome and runs every AfterCompletion. Failures are
// collected so that every synchronization gets its callback.
func (tx *Transaction) finish(outcome Status) error {
	tx.mu.Lock()
	tx.status = outcome
	syncs := append([]Synchronization(nil), tx.syncs...)
	tx.mu.Unlock()

	var errs []error
	for _, s := range syncs {
		if err := s.AfterCompletion(tx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	tx.manager.finished(tx, outcome)

	if len(errs) > 0 {
		log.Printf("[Txn %s] %d after-completion failures (%s)", tx.id, len(errs), outcome)
	}
	return errors.Join(errs...)
}
