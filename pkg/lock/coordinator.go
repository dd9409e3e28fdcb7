// Package lock implements the read/write lock table used by the graph kernel.
//
// Locks are keyed by identifier (Space + ID), never by object identity, and
// owned by an Owner (a transaction id, or a one-shot token for reads made
// outside any transaction). Both lock modes are reentrant per owner:
//   - Read: shared, blocks writers
//   - Write: exclusive, blocks readers and other writers
//
// An owner that holds the only read lock on a key may upgrade to write. An
// owner that already holds the write lock may take read locks freely. Writers
// that are waiting block new readers that do not already hold the key, so a
// steady stream of readers cannot starve them.
//
// There is no deadlock detection. Callers keep a fixed lock order: a
// relationship before its endpoints, endpoints in ascending id order.
package lock

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrLockFailure is returned when a lock cannot be acquired or released.
// It is fatal to the operation that hit it and is never retried.
var ErrLockFailure = errors.New("lock failure")

// Space separates the id spaces that share the lock table.
type Space uint8

const (
	SpaceNode Space = iota + 1
	SpaceRelationship
)

func (s Space) String() string {
	switch s {
	case SpaceNode:
		return "node"
	case SpaceRelationship:
		return "relationship"
	}
	return fmt.Sprintf("space(%d)", uint8(s))
}

// Key identifies a lockable resource.
type Key struct {
	Space Space
	ID    uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s[%d]", k.Space, k.ID)
}

// Owner identifies who holds a lock.
type Owner string

// Mode is read or write.
type Mode uint8

const (
	Read Mode = iota + 1
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

type entry struct {
	readers        map[Owner]int
	writer         Owner
	writeCount     int
	waitingWriters int
	cond           *sync.Cond
}

func (e *entry) idle() bool {
	return len(e.readers) == 0 && e.writeCount == 0 && e.waitingWriters == 0
}

// onlyReader reports whether owner is the sole read holder (or there are none).
func (e *entry) onlyReader(owner Owner) bool {
	for o := range e.readers {
		if o != owner {
			return false
		}
	}
	return true
}

// Coordinator is the process-wide lock table.
//
// Thread Safety:
//
//	Safe for concurrent use. Acquire calls block until granted or until Close.
type Coordinator struct {
	mu     sync.Mutex
	locks  map[Key]*entry
	closed bool
}

// NewCoordinator creates an empty lock table.
func NewCoordinator() *Coordinator {
	return &Coordinator{locks: make(map[Key]*entry)}
}

func (c *Coordinator) entryFor(key Key) *entry {
	e, ok := c.locks[key]
	if !ok {
		e = &entry{readers: make(map[Owner]int)}
		e.cond = sync.NewCond(&c.mu)
		c.locks[key] = e
	}
	return e
}

func (c *Coordinator) validate(owner Owner, key Key) error {
	if owner == "" {
		return fmt.Errorf("%w: empty owner for %s", ErrLockFailure, key)
	}
	if key.Space == 0 {
		return fmt.Errorf("%w: invalid key %s", ErrLockFailure, key)
	}
	return nil
}

// AcquireRead takes a shared lock on key for owner.
func (c *Coordinator) AcquireRead(owner Owner, key Key) error {
	if err := c.validate(owner, key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryFor(key)
	for {
		if c.closed {
			c.dropIfIdle(key, e)
			return fmt.Errorf("%w: coordinator closed while acquiring read %s", ErrLockFailure, key)
		}
		reentrant := e.readers[owner] > 0 || e.writer == owner
		if e.writer == "" || e.writer == owner {
			if reentrant || e.waitingWriters == 0 {
				e.readers[owner]++
				return nil
			}
		}
		e.cond.Wait()
	}
}

// AcquireWrite takes an exclusive lock on key for owner.
func (c *Coordinator) AcquireWrite(owner Owner, key Key) error {
	if err := c.validate(owner, key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryFor(key)
	waiting := false
	defer func() {
		if waiting {
			e.waitingWriters--
		}
	}()
	for {
		if c.closed {
			if waiting {
				e.waitingWriters--
				waiting = false
			}
			c.dropIfIdle(key, e)
			return fmt.Errorf("%w: coordinator closed while acquiring write %s", ErrLockFailure, key)
		}
		if (e.writer == "" || e.writer == owner) && e.onlyReader(owner) {
			e.writer = owner
			e.writeCount++
			return nil
		}
		if !waiting {
			waiting = true
			e.waitingWriters++
		}
		e.cond.Wait()
	}
}

// Acquire takes a lock in the given mode.
func (c *Coordinator) Acquire(owner Owner, key Key, mode Mode) error {
	if mode == Write {
		return c.AcquireWrite(owner, key)
	}
	return c.AcquireRead(owner, key)
}

// ReleaseRead gives back one read hold of owner on key.
func (c *Coordinator) ReleaseRead(owner Owner, key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.locks[key]
	if !ok || e.readers[owner] == 0 {
		return fmt.Errorf("%w: %s does not hold read %s", ErrLockFailure, owner, key)
	}
	e.readers[owner]--
	if e.readers[owner] == 0 {
		delete(e.readers, owner)
	}
	e.cond.Broadcast()
	c.dropIfIdle(key, e)
	return nil
}

// ReleaseWrite gives back one write hold of owner on key.
func (c *Coordinator) ReleaseWrite(owner Owner, key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.locks[key]
	if !ok || e.writer != owner || e.writeCount == 0 {
		return fmt.Errorf("%w: %s does not hold write %s", ErrLockFailure, owner, key)
	}
	e.writeCount--
	if e.writeCount == 0 {
		e.writer = ""
	}
	e.cond.Broadcast()
	c.dropIfIdle(key, e)
	return nil
}

// Release gives back one hold in the given mode.
func (c *Coordinator) Release(owner Owner, key Key, mode Mode) error {
	if mode == Write {
		return c.ReleaseWrite(owner, key)
	}
	return c.ReleaseRead(owner, key)
}

// Hold is one lock held by an owner.
type Hold struct {
	Key  Key
	Mode Mode
}

// ReleaseAll releases every hold for owner. It attempts all of them and
// returns the accumulated failures.
func (c *Coordinator) ReleaseAll(owner Owner, holds []Hold) error {
	var errs []error
	for i := len(holds) - 1; i >= 0; i-- {
		if err := c.Release(owner, holds[i].Key, holds[i].Mode); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dropIfIdle removes an unused entry. Caller must hold c.mu.
func (c *Coordinator) dropIfIdle(key Key, e *entry) {
	if e.idle() && c.locks[key] == e {
		delete(c.locks, key)
	}
}

// IsWriteLocked reports whether owner holds the write lock on key.
func (c *Coordinator) IsWriteLocked(owner Owner, key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.locks[key]
	return ok && e.writer == owner && e.writeCount > 0
}

// Len returns the number of keys with at least one holder or waiter.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

// LockInfo describes one entry of the lock table.
type LockInfo struct {
	Key            string         `json:"key"`
	Writer         string         `json:"writer,omitempty"`
	WriteCount     int            `json:"write_count,omitempty"`
	Readers        map[string]int `json:"readers,omitempty"`
	WaitingWriters int            `json:"waiting_writers,omitempty"`
}

// Snapshot dumps the lock table, sorted by key.
func (c *Coordinator) Snapshot() []LockInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]Key, 0, len(c.locks))
	for k := range c.locks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Space != keys[j].Space {
			return keys[i].Space < keys[j].Space
		}
		return keys[i].ID < keys[j].ID
	})

	out := make([]LockInfo, 0, len(keys))
	for _, k := range keys {
		e := c.locks[k]
		info := LockInfo{
			Key:            k.String(),
			Writer:         string(e.writer),
			WriteCount:     e.writeCount,
			WaitingWriters: e.waitingWriters,
		}
		if len(e.readers) > 0 {
			info.Readers = make(map[string]int, len(e.readers))
			for o, n := range e.readers {
				info.Readers[string(o)] = n
			}
		}
		out = append(out, info)
	}
	return out
}

// Close fails every pending and future acquisition with ErrLockFailure.
// Held locks may still be released.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, e := range c.locks {
		e.cond.Broadcast()
	}
}
