package graphdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphkernel/pkg/config"
	"github.com/orneryd/graphkernel/pkg/core"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Cache.Adaptive = false
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func openOn(t *testing.T, engine, dir string) *DB {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Engine = engine
	cfg.Storage.DataDir = dir
	db, err := Open(cfg)
	require.NoError(t, err)
	return db
}

// knows creates two named nodes joined by KNOWS and returns their ids.
func knows(t *testing.T, db *DB) (a, b storage.NodeID, rel storage.RelationshipID) {
	t.Helper()
	_, err := db.Nodes().CreateRelationshipType("KNOWS")
	require.NoError(t, err)

	err = db.Update(func(tx *txn.Transaction) error {
		alice, err := db.Nodes().CreateNode(tx)
		if err != nil {
			return err
		}
		bob, err := db.Nodes().CreateNode(tx)
		if err != nil {
			return err
		}
		if err := alice.SetProperty("name", "alice"); err != nil {
			return err
		}
		if err := bob.SetProperty("name", "bob"); err != nil {
			return err
		}
		r, err := alice.CreateRelationshipTo(bob.ID(), "KNOWS")
		if err != nil {
			return err
		}
		a, b, rel = alice.ID(), bob.ID(), r.ID()
		return r.SetProperty("since", int64(2019))
	})
	require.NoError(t, err)
	return a, b, rel
}

func TestOpen_Defaults(t *testing.T) {
	db, err := Open(nil)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "memory", db.Config().Storage.Engine)
	assert.NotNil(t, db.Nodes())
}

func TestOpen_Invalid(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Engine = "tape"
	_, err := Open(cfg)
	assert.Error(t, err)
}

func TestDB_Knows(t *testing.T) {
	db := openMemory(t)
	a, b, rel := knows(t, db)

	err := db.View(func(tx *txn.Transaction) error {
		alice, err := db.Nodes().GetNode(tx, a)
		require.NoError(t, err)

		r, err := alice.SingleRelationship("KNOWS", core.Outgoing)
		require.NoError(t, err)
		assert.Equal(t, rel, r.ID())
		typ, err := r.Type()
		require.NoError(t, err)
		assert.Equal(t, "KNOWS", typ)

		other, err := r.OtherNode(a)
		require.NoError(t, err)
		assert.Equal(t, b, other.ID())

		name, err := other.GetProperty("name")
		require.NoError(t, err)
		assert.Equal(t, "bob", name)

		since, err := r.GetProperty("since")
		require.NoError(t, err)
		assert.Equal(t, int64(2019), since)
		return nil
	})
	require.NoError(t, err)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Counts.Nodes)
	assert.Equal(t, int64(1), stats.Counts.Relationships)
	assert.Equal(t, int64(1), stats.Transactions.Committed)
	assert.Equal(t, "memory", stats.Engine)
}

func TestDB_UpdateRollsBackOnError(t *testing.T) {
	db := openMemory(t)
	boom := errors.New("boom")

	var id storage.NodeID
	err := db.Update(func(tx *txn.Transaction) error {
		n, err := db.Nodes().CreateNode(tx)
		require.NoError(t, err)
		id = n.ID()
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.Nodes().GetNode(nil, id)
	assert.ErrorIs(t, err, core.ErrNotFound)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Transactions.RolledBack)
	assert.Zero(t, stats.Counts.Nodes)
}

func TestDB_UpdateRollsBackOnPanic(t *testing.T) {
	db := openMemory(t)

	assert.Panics(t, func() {
		_ = db.Update(func(tx *txn.Transaction) error {
			_, err := db.Nodes().CreateNode(tx)
			require.NoError(t, err)
			panic("boom")
		})
	})

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Transactions.Active)
	assert.Zero(t, stats.Kernel.HeldLocks)
}

func TestDB_ViewNeverCommits(t *testing.T) {
	db := openMemory(t)

	err := db.View(func(tx *txn.Transaction) error {
		_, err := db.Nodes().CreateNode(tx)
		return err
	})
	require.NoError(t, err)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Counts.Nodes)
	assert.Zero(t, stats.Transactions.Committed)
}

func TestDB_DanglingRelationshipVeto(t *testing.T) {
	db := openMemory(t)
	a, _, _ := knows(t, db)

	err := db.Update(func(tx *txn.Transaction) error {
		alice, err := db.Nodes().GetNode(tx, a)
		if err != nil {
			return err
		}
		return alice.Delete()
	})
	require.ErrorIs(t, err, core.ErrConstraintViolation)

	var cv *core.ConstraintViolationError
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, core.ViolationDanglingRelationship, cv.Type)

	// still there
	alice, err := db.Nodes().GetNode(nil, a)
	require.NoError(t, err)
	name, err := alice.GetProperty("name")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ConstraintVetoes)
}

func TestDB_Persistence(t *testing.T) {
	for _, engine := range []string{"badger", "sqlite"} {
		t.Run(engine, func(t *testing.T) {
			dir := t.TempDir()

			db := openOn(t, engine, dir)
			a, b, rel := knows(t, db)
			require.NoError(t, db.Nodes().SetReferenceNode(a))
			require.NoError(t, db.Close())

			db = openOn(t, engine, dir)
			defer db.Close()

			assert.Contains(t, db.Nodes().RelationshipTypes(), "KNOWS")

			alice, err := db.Nodes().GetNode(nil, a)
			require.NoError(t, err)
			rels, err := alice.Relationships(core.Outgoing, "KNOWS")
			require.NoError(t, err)
			require.Len(t, rels, 1)
			assert.Equal(t, rel, rels[0].ID())
			assert.Equal(t, b, rels[0].EndNodeID())

			name, err := alice.GetProperty("name")
			require.NoError(t, err)
			assert.Equal(t, "alice", name)

			ref, err := db.Nodes().ReferenceNode(nil)
			require.NoError(t, err)
			assert.Equal(t, a, ref.ID())
			st, err := db.Stats()
			require.NoError(t, err)
			assert.Equal(t, a, st.Kernel.ReferenceNode)
			assert.Equal(t, uint64(b), st.Kernel.HighestIDs["node"])

			// ids keep counting after reopen
			err = db.Update(func(tx *txn.Transaction) error {
				n, err := db.Nodes().CreateNode(tx)
				if err != nil {
					return err
				}
				assert.Greater(t, uint64(n.ID()), uint64(b))
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestDB_Closed(t *testing.T) {
	db, err := Open(nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Begin()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Stats()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Update(func(*txn.Transaction) error { return nil }), ErrClosed)
}
