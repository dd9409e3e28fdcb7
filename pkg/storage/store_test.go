package storage

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphkernel/pkg/txn"
)

// eachStore runs fn against every Store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()
		fn(t, s)
	})
	t.Run("badger", func(t *testing.T) {
		s, err := NewBadgerStoreInMemory()
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "graph.db"))
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func nextNode(t *testing.T, s Store) NodeID {
	id, err := s.NextID(KindNode)
	require.NoError(t, err)
	return NodeID(id)
}

func nextKey(t *testing.T, s Store, name string) PropertyKeyID {
	id, err := s.NextID(KindPropertyKey)
	require.NoError(t, err)
	require.NoError(t, s.CreatePropertyKey(PropertyKeyID(id), name))
	return PropertyKeyID(id)
}

// propertyValues resolves every value, fetching elided ones.
func propertyValues(t *testing.T, s Store, props []RawProperty) map[PropertyKeyID]any {
	out := make(map[PropertyKeyID]any, len(props))
	for _, p := range props {
		v := p.Value
		if !p.HasValue {
			var err error
			v, err = s.LoadPropertyValue(p.ID)
			require.NoError(t, err)
		}
		out[p.KeyID] = v
	}
	return out
}

func TestStore_IDAllocation(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		for _, kind := range AllKinds {
			a, err := s.NextID(kind)
			require.NoError(t, err)
			b, err := s.NextID(kind)
			require.NoError(t, err)
			assert.Greater(t, a, uint64(0), kind.String())
			assert.Equal(t, a+1, b, kind.String())
			assert.Equal(t, b, s.HighestIDInUse(kind))
		}
	})
}

func TestStore_CommitAppliesBatch(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		const tx = txn.ID("tx-1")
		n := nextNode(t, s)
		name := nextKey(t, s, "name")
		tags := nextKey(t, s, "tags")

		require.NoError(t, s.NodeCreate(tx, n))
		_, err := s.NodeAddProperty(tx, n, name, "alice")
		require.NoError(t, err)
		_, err = s.NodeAddProperty(tx, n, tags, []string{"a", "b"})
		require.NoError(t, err)

		found, err := s.LoadLightNode(n)
		require.NoError(t, err)
		assert.False(t, found, "intents are invisible before commit")

		require.NoError(t, s.CommitTx(tx))

		found, err = s.LoadLightNode(n)
		require.NoError(t, err)
		assert.True(t, found)

		props, err := s.LoadNodeProperties(n)
		require.NoError(t, err)
		values := propertyValues(t, s, props)
		assert.Equal(t, "alice", values[name])
		assert.Equal(t, []string{"a", "b"}, values[tags])

		counts, err := s.Counts()
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts.Nodes)
		assert.Equal(t, int64(2), counts.Properties)
	})
}

func TestStore_RollbackDiscards(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		n := nextNode(t, s)
		require.NoError(t, s.NodeCreate("tx-1", n))
		s.RollbackTx("tx-1")
		require.NoError(t, s.CommitTx("tx-1"))

		found, err := s.LoadLightNode(n)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestStore_IntentsRequireTransaction(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		err := s.NodeCreate("", nextNode(t, s))
		assert.ErrorIs(t, err, txn.ErrNotInTransaction)
	})
}

func TestStore_RejectsIllegalValues(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		n := nextNode(t, s)
		key := nextKey(t, s, "k")
		_, err := s.NodeAddProperty("tx-1", n, key, struct{}{})
		assert.ErrorIs(t, err, ErrIllegalValue)
		_, err = s.NodeAddProperty("tx-1", n, key, nil)
		assert.ErrorIs(t, err, ErrIllegalValue)
	})
}

func TestStore_Relationships(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		const tx = txn.ID("tx-1")
		a, b := nextNode(t, s), nextNode(t, s)
		typeID, err := s.NextID(KindRelType)
		require.NoError(t, err)
		require.NoError(t, s.CreateRelationshipType(RelTypeID(typeID), "KNOWS"))
		relID, err := s.NextID(KindRelationship)
		require.NoError(t, err)
		loopID, err := s.NextID(KindRelationship)
		require.NoError(t, err)
		since := nextKey(t, s, "since")

		require.NoError(t, s.NodeCreate(tx, a))
		require.NoError(t, s.NodeCreate(tx, b))
		require.NoError(t, s.RelationshipCreate(tx, RelationshipID(relID), RelTypeID(typeID), a, b))
		require.NoError(t, s.RelationshipCreate(tx, RelationshipID(loopID), RelTypeID(typeID), a, a))
		_, err = s.RelationshipAddProperty(tx, RelationshipID(relID), since, int64(2001))
		require.NoError(t, err)
		require.NoError(t, s.CommitTx(tx))

		rec, ok, err := s.LoadRelationship(RelationshipID(relID))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, a, rec.StartNode)
		assert.Equal(t, b, rec.EndNode)
		assert.Equal(t, RelTypeID(typeID), rec.Type)

		rels, err := s.LoadRelationships(a)
		require.NoError(t, err)
		assert.Len(t, rels, 2, "self-loop appears once")
		rels, err = s.LoadRelationships(b)
		require.NoError(t, err)
		assert.Len(t, rels, 1)

		props, err := s.LoadRelationshipProperties(RelationshipID(relID))
		require.NoError(t, err)
		assert.Equal(t, int64(2001), propertyValues(t, s, props)[since])

		types, err := s.LoadRelationshipTypes()
		require.NoError(t, err)
		assert.Equal(t, []NamedID{{ID: typeID, Name: "KNOWS"}}, types)

		_, ok, err = s.LoadRelationship(RelationshipID(relID + 100))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_DeleteNodeBeforeItsRelationships(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		a, b := nextNode(t, s), nextNode(t, s)
		typeID, _ := s.NextID(KindRelType)
		require.NoError(t, s.CreateRelationshipType(RelTypeID(typeID), "T"))
		relID, _ := s.NextID(KindRelationship)

		require.NoError(t, s.NodeCreate("tx-1", a))
		require.NoError(t, s.NodeCreate("tx-1", b))
		require.NoError(t, s.RelationshipCreate("tx-1", RelationshipID(relID), RelTypeID(typeID), a, b))
		require.NoError(t, s.CommitTx("tx-1"))

		// node first, then the relationship
		require.NoError(t, s.NodeDelete("tx-2", a))
		require.NoError(t, s.RelationshipDelete("tx-2", RelationshipID(relID)))
		require.NoError(t, s.CommitTx("tx-2"))

		found, err := s.LoadLightNode(a)
		require.NoError(t, err)
		assert.False(t, found)
		rels, err := s.LoadRelationships(b)
		require.NoError(t, err)
		assert.Empty(t, rels)
	})
}

func TestStore_FailedCommitIsAtomic(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		a, b := nextNode(t, s), nextNode(t, s)
		typeID, _ := s.NextID(KindRelType)
		require.NoError(t, s.CreateRelationshipType(RelTypeID(typeID), "T"))
		relID, _ := s.NextID(KindRelationship)

		require.NoError(t, s.NodeCreate("tx-1", a))
		require.NoError(t, s.NodeCreate("tx-1", b))
		require.NoError(t, s.RelationshipCreate("tx-1", RelationshipID(relID), RelTypeID(typeID), a, b))
		require.NoError(t, s.CommitTx("tx-1"))

		// deleting a node that keeps a relationship must fail as a whole
		c := nextNode(t, s)
		require.NoError(t, s.NodeCreate("tx-2", c))
		require.NoError(t, s.NodeDelete("tx-2", a))
		err := s.CommitTx("tx-2")
		require.Error(t, err)

		found, err := s.LoadLightNode(c)
		require.NoError(t, err)
		assert.False(t, found, "partial batch must not be visible")
		found, err = s.LoadLightNode(a)
		require.NoError(t, err)
		assert.True(t, found)
	})
}

func TestStore_ChangeAndRemoveProperty(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		n := nextNode(t, s)
		key := nextKey(t, s, "age")
		require.NoError(t, s.NodeCreate("tx-1", n))
		pid, err := s.NodeAddProperty("tx-1", n, key, 30)
		require.NoError(t, err)
		require.NoError(t, s.CommitTx("tx-1"))

		require.NoError(t, s.NodeChangeProperty("tx-2", n, pid, 31))
		require.NoError(t, s.CommitTx("tx-2"))
		v, err := s.LoadPropertyValue(pid)
		require.NoError(t, err)
		assert.Equal(t, 31, v)

		require.NoError(t, s.NodeRemoveProperty("tx-3", n, pid))
		require.NoError(t, s.CommitTx("tx-3"))
		props, err := s.LoadNodeProperties(n)
		require.NoError(t, err)
		assert.Empty(t, props)
		_, err = s.LoadPropertyValue(pid)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_PropertyKeys(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		key := nextKey(t, s, "name")
		name, err := s.LoadPropertyKey(key)
		require.NoError(t, err)
		assert.Equal(t, "name", name)

		_, err = s.LoadPropertyKey(key + 10)
		assert.ErrorIs(t, err, ErrNotFound)

		keys, err := s.LoadPropertyKeys()
		require.NoError(t, err)
		assert.Equal(t, []NamedID{{ID: uint64(key), Name: "name"}}, keys)
	})
}

func TestStore_MissingNode(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.LoadNodeProperties(999)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.LoadRelationships(999)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteStore_LargeValuesAreElided(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	defer s.Close()

	n := nextNode(t, s)
	key := nextKey(t, s, "bio")
	big := strings.Repeat("x", inlineValueLimit*2)
	require.NoError(t, s.NodeCreate("tx-1", n))
	_, err = s.NodeAddProperty("tx-1", n, key, big)
	require.NoError(t, err)
	require.NoError(t, s.CommitTx("tx-1"))

	props, err := s.LoadNodeProperties(n)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.False(t, props[0].HasValue)
	v, err := s.LoadPropertyValue(props[0].ID)
	require.NoError(t, err)
	assert.Equal(t, big, v)
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBadgerStore(dir)
	require.NoError(t, err)

	n := nextNode(t, s)
	key := nextKey(t, s, "name")
	require.NoError(t, s.NodeCreate("tx-1", n))
	_, err = s.NodeAddProperty("tx-1", n, key, "persisted")
	require.NoError(t, err)
	require.NoError(t, s.CommitTx("tx-1"))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer s.Close()

	found, err := s.LoadLightNode(n)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(n), s.HighestIDInUse(KindNode), "counters survive reopen")

	props, err := s.LoadNodeProperties(n)
	require.NoError(t, err)
	assert.Equal(t, "persisted", propertyValues(t, s, props)[key])
}

func TestStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	_, err := s.LoadLightNode(1)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestStore_ReferenceNode(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, ok, err := s.ReferenceNode()
		require.NoError(t, err)
		assert.False(t, ok)

		n := nextNode(t, s)
		require.NoError(t, s.SetReferenceNode(n))
		got, ok, err := s.ReferenceNode()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, n, got)
		assert.Equal(t, uint64(n), s.HighestIDInUse(KindNode), "reference slot is not an id counter")

		require.NoError(t, s.SetReferenceNode(0))
		_, ok, err = s.ReferenceNode()
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSQLiteStore_ReferenceNodeSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	n := nextNode(t, s)
	require.NoError(t, s.SetReferenceNode(n))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.ReferenceNode()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, n, got)
	assert.Equal(t, uint64(n), s.HighestIDInUse(KindNode))
}
