package constraint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphkernel/pkg/core"
	"github.com/orneryd/graphkernel/pkg/lock"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

type env struct {
	t     *testing.T
	store *storage.MemoryStore
	txs   *txn.Manager
	nm    *core.NodeManager
	eval  *Evaluator
}

func setup(t *testing.T) *env {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	nm, err := core.NewNodeManager(store, lock.NewCoordinator(), core.DefaultConfig())
	require.NoError(t, err)
	eval := New(nm)
	nm.AddListener(eval)
	_, err = nm.CreateRelationshipType("KNOWS")
	require.NoError(t, err)
	return &env{t: t, store: store, txs: txn.NewManager(txn.Options{}), nm: nm, eval: eval}
}

func (e *env) begin() *txn.Transaction {
	e.t.Helper()
	tx, err := e.txs.Begin()
	require.NoError(e.t, err)
	require.NoError(e.t, tx.Enlist(e.store))
	return tx
}

// pair commits two nodes joined by a KNOWS relationship.
func (e *env) pair() (a, b storage.NodeID, rel storage.RelationshipID) {
	e.t.Helper()
	tx := e.begin()
	na, err := e.nm.CreateNode(tx)
	require.NoError(e.t, err)
	nb, err := e.nm.CreateNode(tx)
	require.NoError(e.t, err)
	r, err := na.CreateRelationshipTo(nb.ID(), "KNOWS")
	require.NoError(e.t, err)
	require.NoError(e.t, tx.Commit())
	return na.ID(), nb.ID(), r.ID()
}

func violation(t *testing.T, err error) *core.ConstraintViolationError {
	t.Helper()
	require.ErrorIs(t, err, core.ErrConstraintViolation)
	var cv *core.ConstraintViolationError
	require.True(t, errors.As(err, &cv))
	return cv
}

func TestEvaluator_DanglingRelationship(t *testing.T) {
	e := setup(t)
	a, b, _ := e.pair()

	tx := e.begin()
	n, err := e.nm.GetNode(tx, a)
	require.NoError(t, err)
	require.NoError(t, n.Delete())

	err = tx.Commit()
	cv := violation(t, err)
	assert.Equal(t, core.ViolationDanglingRelationship, cv.Type)
	assert.Equal(t, []uint64{uint64(a)}, cv.IDs)
	assert.Equal(t, txn.StatusRolledBack, tx.Status())

	for _, id := range []storage.NodeID{a, b} {
		_, err := e.nm.GetNode(nil, id)
		assert.NoError(t, err)
	}
	assert.Zero(t, e.eval.Active())
	assert.Equal(t, int64(1), e.eval.Vetoes())
}

func TestEvaluator_DeleteRelationshipThenNodes(t *testing.T) {
	e := setup(t)
	a, b, rel := e.pair()

	tx := e.begin()
	r, err := e.nm.GetRelationship(tx, rel)
	require.NoError(t, err)
	require.NoError(t, r.Delete())
	for _, id := range []storage.NodeID{a, b} {
		n, err := e.nm.GetNode(tx, id)
		require.NoError(t, err)
		require.NoError(t, n.Delete())
	}
	require.NoError(t, tx.Commit())

	counts, err := e.store.Counts()
	require.NoError(t, err)
	assert.Zero(t, counts.Nodes)
	assert.Zero(t, counts.Relationships)
	assert.Zero(t, e.eval.Vetoes())
}

func TestEvaluator_Vetoes(t *testing.T) {
	t.Run("double_delete_node", func(t *testing.T) {
		e := setup(t)
		tx := e.begin()
		n, err := e.nm.CreateNode(tx)
		require.NoError(t, err)
		require.NoError(t, n.Delete())
		cv := violation(t, n.Delete())
		assert.Equal(t, core.ViolationDoubleDelete, cv.Type)
		assert.True(t, tx.IsRollbackOnly())
		require.Error(t, tx.Commit())
	})

	t.Run("double_delete_relationship", func(t *testing.T) {
		e := setup(t)
		_, _, rel := e.pair()
		tx := e.begin()
		r, err := e.nm.GetRelationship(tx, rel)
		require.NoError(t, err)
		require.NoError(t, r.Delete())
		cv := violation(t, r.Delete())
		assert.Equal(t, core.ViolationDoubleDelete, cv.Type)
		assert.Equal(t, []uint64{uint64(rel)}, cv.IDs)
		require.NoError(t, tx.Rollback())
	})

	t.Run("deleted_endpoint", func(t *testing.T) {
		e := setup(t)
		tx := e.begin()
		a, err := e.nm.CreateNode(tx)
		require.NoError(t, err)
		b, err := e.nm.CreateNode(tx)
		require.NoError(t, err)
		require.NoError(t, b.Delete())

		_, err = a.CreateRelationshipTo(b.ID(), "KNOWS")
		cv := violation(t, err)
		assert.Equal(t, core.ViolationDeletedEndpoint, cv.Type)
		assert.Equal(t, []uint64{uint64(b.ID())}, cv.IDs)
		assert.True(t, tx.IsRollbackOnly())
		require.NoError(t, tx.Rollback())
	})

	t.Run("unknown_type", func(t *testing.T) {
		e := setup(t)
		tx := e.begin()
		a, err := e.nm.CreateNode(tx)
		require.NoError(t, err)
		_, err = a.CreateRelationshipTo(a.ID(), "HATES")
		assert.Equal(t, core.ViolationUnknownType, violation(t, err).Type)
		require.NoError(t, tx.Rollback())
	})

	t.Run("illegal_value", func(t *testing.T) {
		e := setup(t)
		tx := e.begin()
		a, err := e.nm.CreateNode(tx)
		require.NoError(t, err)
		err = a.SetProperty("when", struct{}{})
		assert.ErrorIs(t, err, core.ErrIllegalValue)
		assert.True(t, tx.IsRollbackOnly())
		require.NoError(t, tx.Rollback())
	})

	t.Run("property_of_deleted_relationship", func(t *testing.T) {
		e := setup(t)
		_, _, rel := e.pair()
		tx := e.begin()
		r, err := e.nm.GetRelationship(tx, rel)
		require.NoError(t, err)
		require.NoError(t, r.Delete())
		cv := violation(t, r.SetProperty("weight", 1.0))
		assert.Equal(t, core.ViolationDeletedPrimitive, cv.Type)
		require.NoError(t, tx.Rollback())
	})
}

func TestEvaluator_DirectEvents(t *testing.T) {
	e := setup(t)
	tx := e.begin()

	del := &core.Event{Type: core.EventNodeDelete, Tx: tx, NodeID: 5}
	require.NoError(t, e.eval.BeforeEvent(del))
	e.eval.AfterEvent(del)
	assert.Equal(t, 1, e.eval.Active())

	err := e.eval.BeforeEvent(&core.Event{Type: core.EventNodeAddProperty, Tx: tx, NodeID: 5, Key: "k", Value: "v"})
	assert.Equal(t, core.ViolationDeletedPrimitive, violation(t, err).Type)

	err = e.eval.BeforeEvent(&core.Event{Type: core.EventRelationshipCreate, Tx: tx, StartNode: 5, EndNode: 5, RelTypeName: "KNOWS"})
	cv := violation(t, err)
	assert.Equal(t, core.ViolationDeletedEndpoint, cv.Type)
	assert.Equal(t, []uint64{5}, cv.IDs)

	// Events without a transaction are not tracked.
	require.NoError(t, e.eval.BeforeEvent(&core.Event{Type: core.EventNodeDelete, NodeID: 5}))

	require.NoError(t, tx.Rollback())
	assert.Zero(t, e.eval.Active())
}
