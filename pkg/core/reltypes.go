package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/orneryd/graphkernel/pkg/storage"
)

// RelationshipTypeHolder maps relationship type names to ids and back.
// Entries are only ever added, except through Remove when the store reports
// that a type is gone.
type RelationshipTypeHolder struct {
	store storage.Store

	mu     sync.RWMutex
	byName map[string]storage.RelTypeID
	byID   map[storage.RelTypeID]string
}

// NewRelationshipTypeHolder loads every known type from the store.
func NewRelationshipTypeHolder(store storage.Store) (*RelationshipTypeHolder, error) {
	h := &RelationshipTypeHolder{
		store:  store,
		byName: make(map[string]storage.RelTypeID),
		byID:   make(map[storage.RelTypeID]string),
	}
	types, err := store.LoadRelationshipTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to load relationship types: %w", err)
	}
	for _, t := range types {
		h.byName[t.Name] = storage.RelTypeID(t.ID)
		h.byID[storage.RelTypeID(t.ID)] = t.Name
	}
	return h, nil
}

// ID returns the id of name.
func (h *RelationshipTypeHolder) ID(name string) (storage.RelTypeID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.byName[name]
	return id, ok
}

// Name returns the name of id.
func (h *RelationshipTypeHolder) Name(id storage.RelTypeID) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	name, ok := h.byID[id]
	return name, ok
}

// Has reports whether name is a known type.
func (h *RelationshipTypeHolder) Has(name string) bool {
	_, ok := h.ID(name)
	return ok
}

// Create registers name and returns its id. Creating an existing type
// returns the existing id.
func (h *RelationshipTypeHolder) Create(name string) (storage.RelTypeID, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty relationship type name", ErrIllegalValue)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.byName[name]; ok {
		return id, nil
	}
	raw, err := h.store.NextID(storage.KindRelType)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate relationship type id: %w", err)
	}
	id := storage.RelTypeID(raw)
	if err := h.store.CreateRelationshipType(id, name); err != nil {
		return 0, fmt.Errorf("failed to create relationship type %q: %w", name, err)
	}
	h.byName[name] = id
	h.byID[id] = name
	return id, nil
}

// Remove forgets id. Used when the store invalidates a type.
func (h *RelationshipTypeHolder) Remove(id storage.RelTypeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if name, ok := h.byID[id]; ok {
		delete(h.byID, id)
		delete(h.byName, name)
	}
}

// Names returns every type name, sorted.
func (h *RelationshipTypeHolder) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.byName))
	for name := range h.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of known types.
func (h *RelationshipTypeHolder) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}
