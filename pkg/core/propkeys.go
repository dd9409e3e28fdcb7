package core

import (
	"fmt"
	"slices"
	"sync"

	"github.com/orneryd/graphkernel/pkg/storage"
)

// PropertyKeyIndex interns property key strings.
//
// A name may map to more than one id: two writers that miss the index at the
// same time each create one, and both stay valid. When the index has not
// been preloaded (HasAll is false) a primitive can carry key ids this process
// has never seen; Name resolves those through the store and remembers them.
type PropertyKeyIndex struct {
	store storage.Store

	mu     sync.RWMutex
	byName map[string][]storage.PropertyKeyID
	byID   map[storage.PropertyKeyID]string
	all    bool
}

// NewPropertyKeyIndex creates an empty index. Call Preload to fill it.
func NewPropertyKeyIndex(store storage.Store) *PropertyKeyIndex {
	return &PropertyKeyIndex{
		store:  store,
		byName: make(map[string][]storage.PropertyKeyID),
		byID:   make(map[storage.PropertyKeyID]string),
	}
}

// Preload reads every key from the store. Afterwards HasAll reports true.
func (ix *PropertyKeyIndex) Preload() error {
	keys, err := ix.store.LoadPropertyKeys()
	if err != nil {
		return fmt.Errorf("failed to load property keys: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, k := range keys {
		ix.addLocked(storage.PropertyKeyID(k.ID), k.Name)
	}
	ix.all = true
	return nil
}

func (ix *PropertyKeyIndex) addLocked(id storage.PropertyKeyID, name string) {
	if _, ok := ix.byID[id]; ok {
		return
	}
	ix.byID[id] = name
	ix.byName[name] = append(ix.byName[name], id)
}

// HasAll reports whether every key in the store is known locally.
func (ix *PropertyKeyIndex) HasAll() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.all
}

// IDs returns the locally known ids of name.
func (ix *PropertyKeyIndex) IDs(name string) []storage.PropertyKeyID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return slices.Clone(ix.byName[name])
}

// Known reports whether id is in the local index.
func (ix *PropertyKeyIndex) Known(id storage.PropertyKeyID) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byID[id]
	return ok
}

// Name returns the key string of id, asking the store when id is not known
// locally.
func (ix *PropertyKeyIndex) Name(id storage.PropertyKeyID) (string, error) {
	ix.mu.RLock()
	name, ok := ix.byID[id]
	ix.mu.RUnlock()
	if ok {
		return name, nil
	}

	name, err := ix.store.LoadPropertyKey(id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve property key %d: %w", id, err)
	}
	ix.mu.Lock()
	ix.addLocked(id, name)
	ix.mu.Unlock()
	return name, nil
}

// GetOrCreate returns the first id of name, creating the key when it is unknown.
func (ix *PropertyKeyIndex) GetOrCreate(name string) (storage.PropertyKeyID, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty property key", ErrIllegalValue)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ids := ix.byName[name]; len(ids) > 0 {
		return ids[0], nil
	}
	raw, err := ix.store.NextID(storage.KindPropertyKey)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate property key id: %w", err)
	}
	id := storage.PropertyKeyID(raw)
	if err := ix.store.CreatePropertyKey(id, name); err != nil {
		return 0, fmt.Errorf("failed to create property key %q: %w", name, err)
	}
	ix.addLocked(id, name)
	return id, nil
}

// Len returns the number of known ids.
func (ix *PropertyKeyIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}
