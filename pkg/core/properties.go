package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/orneryd/graphkernel/pkg/lock"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// propertyAccess is the property API shared by node and relationship
// handles. It holds only the primitive's key; every call resolves the cached
// instance again.
type propertyAccess struct {
	m   *NodeManager
	tx  *txn.Transaction
	key lock.Key
}

// Tx returns the transaction the handle is bound to, or nil.
func (a propertyAccess) Tx() *txn.Transaction {
	return a.tx
}

// GetProperty returns the value of key.
func (a propertyAccess) GetProperty(key string) (any, error) {
	return a.m.getProperty(a.tx, a.key, key)
}

// GetPropertyOr returns the value of key, or def when the property is absent.
func (a propertyAccess) GetPropertyOr(key string, def any) (any, error) {
	v, err := a.m.getProperty(a.tx, a.key, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}

// HasProperty reports whether key is set.
func (a propertyAccess) HasProperty(key string) (bool, error) {
	_, err := a.m.getProperty(a.tx, a.key, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// PropertyKeys returns the names of every property, sorted.
func (a propertyAccess) PropertyKeys() ([]string, error) {
	props, err := a.m.properties(a.tx, a.key, false)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Properties returns every property with its value.
func (a propertyAccess) Properties() (map[string]any, error) {
	return a.m.properties(a.tx, a.key, true)
}

// SetProperty sets key to value.
func (a propertyAccess) SetProperty(key string, value any) error {
	return a.m.setProperty(a.tx, a.key, key, value)
}

// RemoveProperty removes key and returns its previous value, or nil when
// it was not set.
func (a propertyAccess) RemoveProperty(key string) (any, error) {
	return a.m.removeProperty(a.tx, a.key, key)
}

// ============================================================================
// Lookup
// ============================================================================

// findCell locates key in the overlay or the base table. A key removed in
// the overlay is absent even when the base table still has it. Caller holds
// the primitive's mutex and has materialized it.
func (m *NodeManager) findCell(p *primitive, ov *Overlay, key string) (*PropertyCell, storage.PropertyKeyID, bool, error) {
	for _, id := range m.propKeys.IDs(key) {
		if ov.hides(id) {
			continue
		}
		if c, ok := ov.cell(id); ok {
			return c, id, true, nil
		}
		if c, ok := p.props[id]; ok {
			return c, id, true, nil
		}
	}
	if m.propKeys.HasAll() {
		return nil, 0, false, nil
	}
	return m.slowFindCell(p, ov, key)
}

// slowFindCell scans the key ids of the primitive that the index does not
// know yet, resolving each through the store. It only runs when the index
// was not preloaded and the fast lookup missed.
func (m *NodeManager) slowFindCell(p *primitive, ov *Overlay, key string) (*PropertyCell, storage.PropertyKeyID, bool, error) {
	try := func(id storage.PropertyKeyID, c *PropertyCell) (bool, error) {
		if m.propKeys.Known(id) || ov.hides(id) {
			return false, nil
		}
		name, err := m.propKeys.Name(id)
		if err != nil {
			return false, err
		}
		return name == key, nil
	}
	if ov != nil {
		for id, c := range ov.added {
			if ok, err := try(id, c); err != nil || ok {
				return c, id, ok, err
			}
		}
	}
	for id, c := range p.props {
		if ok, err := try(id, c); err != nil || ok {
			return c, id, ok, err
		}
	}
	return nil, 0, false, nil
}

func (m *NodeManager) loadValue(c *PropertyCell) (any, error) {
	v, err := c.Value(m.store.LoadPropertyValue)
	if err != nil {
		return nil, err
	}
	return storage.CloneValue(v), nil
}

// getProperty reads key under a read lock.
func (m *NodeManager) getProperty(tx *txn.Transaction, target lock.Key, key string) (_ any, err error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty property key", ErrIllegalValue)
	}
	e, release, err := m.readLocked(tx, target)
	if err != nil {
		return nil, err
	}
	defer endRead(release, &err)

	ov := m.registry.Overlay(tx, target)
	p := e.base()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return nil, fmt.Errorf("%s: %w", e, ErrNotFound)
	}
	if err := e.materialize(m); err != nil {
		return nil, err
	}
	c, _, found, err := m.findCell(p, ov, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s has no property %q: %w", e, key, ErrNotFound)
	}
	return m.loadValue(c)
}

// properties returns every visible property, with values when withValues.
func (m *NodeManager) properties(tx *txn.Transaction, target lock.Key, withValues bool) (_ map[string]any, err error) {
	e, release, err := m.readLocked(tx, target)
	if err != nil {
		return nil, err
	}
	defer endRead(release, &err)

	ov := m.registry.Overlay(tx, target)
	p := e.base()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return nil, fmt.Errorf("%s: %w", e, ErrNotFound)
	}
	if err := e.materialize(m); err != nil {
		return nil, err
	}

	cells := make(map[storage.PropertyKeyID]*PropertyCell, len(p.props))
	for id, c := range p.props {
		if !ov.hides(id) {
			cells[id] = c
		}
	}
	if ov != nil {
		for id, c := range ov.added {
			cells[id] = c
		}
	}

	out := make(map[string]any, len(cells))
	for id, c := range cells {
		name, err := m.propKeys.Name(id)
		if err != nil {
			return nil, err
		}
		if !withValues {
			out[name] = nil
			continue
		}
		v, err := m.loadValue(c)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// ============================================================================
// Mutation
// ============================================================================

// beginPropertyWrite runs the shared prologue of set and remove: existence
// check, write lock, overlay. Returns the primitive and its overlay.
func (m *NodeManager) beginPropertyWrite(g *writeGuard, target lock.Key) (entity, *Overlay, error) {
	if g.tx == nil {
		return nil, nil, fmt.Errorf("%w: property change on %s", ErrNotInTransaction, target)
	}
	if _, err := m.exists(g.tx, target); err != nil {
		return nil, nil, err
	}
	if err := g.lock(target); err != nil {
		return nil, nil, err
	}
	e, ov, err := m.pin(g.tx, target)
	if err != nil {
		return nil, nil, err
	}
	if ov.Deleted() {
		return nil, nil, NewViolation(ViolationDeletedPrimitive, fmt.Sprintf("%s was deleted in this transaction", e), target.ID)
	}
	return e, ov, nil
}

// setProperty adds key or changes its value.
func (m *NodeManager) setProperty(tx *txn.Transaction, target lock.Key, key string, value any) (err error) {
	if key == "" {
		return fmt.Errorf("%w: empty property key", ErrIllegalValue)
	}
	if value == nil {
		return fmt.Errorf("%w: nil value for property %q", ErrIllegalValue, key)
	}

	g := m.guard(tx)
	defer g.finish(&err)
	e, ov, err := m.beginPropertyWrite(g, target)
	if err != nil {
		return err
	}

	p := e.base()
	p.mu.Lock()
	var (
		cell  *PropertyCell
		keyID storage.PropertyKeyID
		found bool
		old   any
	)
	err = e.materialize(m)
	if err == nil {
		cell, keyID, found, err = m.findCell(p, ov, key)
	}
	if err == nil && found {
		old, err = m.loadValue(cell)
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if !found {
		if keyID, err = m.propKeys.GetOrCreate(key); err != nil {
			return err
		}
	}

	op := opAdd
	if found {
		op = opChange
	}
	ev := &Event{Type: e.propertyEvent(op), Tx: tx, Key: key, KeyID: keyID, Value: value, OldValue: old}
	e.describe(ev)
	if found {
		ev.PropertyID = cell.ID()
	}
	if err = m.events.Before(ev); err != nil {
		return err
	}

	value = storage.CloneValue(value)
	var propID storage.PropertyID
	if found {
		propID = cell.ID()
		err = e.storeChangeProperty(m.store, tx.ID(), propID, value)
	} else {
		propID, err = e.storeAddProperty(m.store, tx.ID(), keyID, value)
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	ov.added[keyID] = newPropertyCell(propID, value)
	delete(ov.removed, keyID)
	p.mu.Unlock()

	ev.PropertyID = propID
	m.events.After(ev)
	return nil
}

// removeProperty removes key. Removing an absent key returns nil, nil.
func (m *NodeManager) removeProperty(tx *txn.Transaction, target lock.Key, key string) (_ any, err error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty property key", ErrIllegalValue)
	}

	g := m.guard(tx)
	defer g.finish(&err)
	e, ov, err := m.beginPropertyWrite(g, target)
	if err != nil {
		return nil, err
	}

	p := e.base()
	p.mu.Lock()
	var (
		cell  *PropertyCell
		keyID storage.PropertyKeyID
		found bool
		old   any
	)
	err = e.materialize(m)
	if err == nil {
		cell, keyID, found, err = m.findCell(p, ov, key)
	}
	if err == nil && found {
		old, err = m.loadValue(cell)
	}
	p.mu.Unlock()
	if err != nil || !found {
		return nil, err
	}

	ev := &Event{Type: e.propertyEvent(opRemove), Tx: tx, Key: key, KeyID: keyID, PropertyID: cell.ID(), OldValue: old}
	e.describe(ev)
	if err = m.events.Before(ev); err != nil {
		return nil, err
	}
	if err = e.storeRemoveProperty(m.store, tx.ID(), cell.ID()); err != nil {
		return nil, err
	}

	p.mu.Lock()
	delete(ov.added, keyID)
	ov.removed[keyID] = struct{}{}
	p.mu.Unlock()

	m.events.After(ev)
	return old, nil
}
