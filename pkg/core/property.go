package core

import "github.com/orneryd/graphkernel/pkg/storage"

// PropertyCell is one property slot of a primitive. The value may still be
// in the store; it is fetched on first read and kept afterwards.
//
// Cells are guarded by the mutex of the primitive that owns them.
type PropertyCell struct {
	id     storage.PropertyID
	value  any
	loaded bool
}

func newPropertyCell(id storage.PropertyID, value any) *PropertyCell {
	return &PropertyCell{id: id, value: value, loaded: true}
}

func cellFromRaw(raw storage.RawProperty) *PropertyCell {
	return &PropertyCell{id: raw.ID, value: raw.Value, loaded: raw.HasValue}
}

// ID returns the store id of the property.
func (c *PropertyCell) ID() storage.PropertyID {
	return c.id
}

// Loaded reports whether the value is in memory.
func (c *PropertyCell) Loaded() bool {
	return c.loaded
}

// Value returns the value, fetching it through load when it is not in memory yet.
func (c *PropertyCell) Value(load func(storage.PropertyID) (any, error)) (any, error) {
	if !c.loaded {
		v, err := load(c.id)
		if err != nil {
			return nil, err
		}
		c.value = v
		c.loaded = true
	}
	return c.value, nil
}
