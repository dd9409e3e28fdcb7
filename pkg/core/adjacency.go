package core

import (
	"slices"

	"github.com/orneryd/graphkernel/pkg/storage"
)

// AdjacencySet is a sorted set of relationship ids. Nodes keep one per
// relationship type, and overlays use the same type for their add and
// remove deltas.
//
// Not safe for concurrent use; the owning primitive's mutex guards it.
type AdjacencySet struct {
	ids []storage.RelationshipID
}

// NewAdjacencySet returns a set holding ids.
func NewAdjacencySet(ids ...storage.RelationshipID) *AdjacencySet {
	s := &AdjacencySet{}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was new.
func (s *AdjacencySet) Add(id storage.RelationshipID) bool {
	i, found := slices.BinarySearch(s.ids, id)
	if found {
		return false
	}
	s.ids = slices.Insert(s.ids, i, id)
	return true
}

// Remove deletes id and reports whether it was present.
func (s *AdjacencySet) Remove(id storage.RelationshipID) bool {
	i, found := slices.BinarySearch(s.ids, id)
	if !found {
		return false
	}
	s.ids = slices.Delete(s.ids, i, i+1)
	return true
}

// Contains reports whether id is in the set.
func (s *AdjacencySet) Contains(id storage.RelationshipID) bool {
	if s == nil {
		return false
	}
	_, found := slices.BinarySearch(s.ids, id)
	return found
}

// Len returns the number of ids.
func (s *AdjacencySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns a sorted copy of the ids.
func (s *AdjacencySet) IDs() []storage.RelationshipID {
	if s == nil {
		return nil
	}
	return slices.Clone(s.ids)
}

// AddAll inserts every id of other.
func (s *AdjacencySet) AddAll(other *AdjacencySet) {
	if other == nil {
		return
	}
	for _, id := range other.ids {
		s.Add(id)
	}
}

// RemoveAll deletes every id of other and returns the ids that were missing.
func (s *AdjacencySet) RemoveAll(other *AdjacencySet) []storage.RelationshipID {
	if other == nil {
		return nil
	}
	var missing []storage.RelationshipID
	for _, id := range other.ids {
		if !s.Remove(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// Clone returns an independent copy.
func (s *AdjacencySet) Clone() *AdjacencySet {
	if s == nil {
		return &AdjacencySet{}
	}
	return &AdjacencySet{ids: slices.Clone(s.ids)}
}
