package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nodeA = Key{Space: SpaceNode, ID: 1}
	nodeB = Key{Space: SpaceNode, ID: 2}
)

// acquireAsync runs fn in a goroutine and returns a channel that receives its result.
func acquireAsync(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func assertBlocked(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("expected acquisition to block, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func assertGranted(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("acquisition did not complete")
	}
}

func TestReadLocks(t *testing.T) {
	t.Run("shared_between_owners", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireRead("t1", nodeA))
		require.NoError(t, c.AcquireRead("t2", nodeA))
		require.NoError(t, c.ReleaseRead("t1", nodeA))
		require.NoError(t, c.ReleaseRead("t2", nodeA))
		assert.Equal(t, 0, c.Len())
	})

	t.Run("reentrant", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireRead("t1", nodeA))
		require.NoError(t, c.AcquireRead("t1", nodeA))
		require.NoError(t, c.ReleaseRead("t1", nodeA))
		assert.Equal(t, 1, c.Len())
		require.NoError(t, c.ReleaseRead("t1", nodeA))
		assert.Equal(t, 0, c.Len())
	})

	t.Run("blocked_by_foreign_writer", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireWrite("t1", nodeA))

		ch := acquireAsync(func() error { return c.AcquireRead("t2", nodeA) })
		assertBlocked(t, ch)

		require.NoError(t, c.ReleaseWrite("t1", nodeA))
		assertGranted(t, ch)
	})

	t.Run("writer_may_read_its_own_key", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireWrite("t1", nodeA))
		require.NoError(t, c.AcquireRead("t1", nodeA))
		require.NoError(t, c.ReleaseRead("t1", nodeA))
		assert.True(t, c.IsWriteLocked("t1", nodeA))
	})
}

func TestWriteLocks(t *testing.T) {
	t.Run("exclusive", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireWrite("t1", nodeA))

		ch := acquireAsync(func() error { return c.AcquireWrite("t2", nodeA) })
		assertBlocked(t, ch)

		// other keys are unaffected
		require.NoError(t, c.AcquireWrite("t3", nodeB))

		require.NoError(t, c.ReleaseWrite("t1", nodeA))
		assertGranted(t, ch)
		assert.True(t, c.IsWriteLocked("t2", nodeA))
	})

	t.Run("reentrant", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireWrite("t1", nodeA))
		require.NoError(t, c.AcquireWrite("t1", nodeA))
		require.NoError(t, c.ReleaseWrite("t1", nodeA))
		assert.True(t, c.IsWriteLocked("t1", nodeA))
		require.NoError(t, c.ReleaseWrite("t1", nodeA))
		assert.False(t, c.IsWriteLocked("t1", nodeA))
	})

	t.Run("sole_reader_upgrades", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireRead("t1", nodeA))
		require.NoError(t, c.AcquireWrite("t1", nodeA))
		assert.True(t, c.IsWriteLocked("t1", nodeA))
	})

	t.Run("waits_for_foreign_readers", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireRead("t1", nodeA))

		ch := acquireAsync(func() error { return c.AcquireWrite("t2", nodeA) })
		assertBlocked(t, ch)

		require.NoError(t, c.ReleaseRead("t1", nodeA))
		assertGranted(t, ch)
	})

	t.Run("waiting_writer_blocks_new_readers_only", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireRead("t1", nodeA))

		writer := acquireAsync(func() error { return c.AcquireWrite("t2", nodeA) })
		assertBlocked(t, writer)

		// t1 already holds the key, so its reentrant read goes through
		require.NoError(t, c.AcquireRead("t1", nodeA))

		newcomer := acquireAsync(func() error { return c.AcquireRead("t3", nodeA) })
		assertBlocked(t, newcomer)

		require.NoError(t, c.ReleaseRead("t1", nodeA))
		require.NoError(t, c.ReleaseRead("t1", nodeA))
		assertGranted(t, writer)
		assertBlocked(t, newcomer)

		require.NoError(t, c.ReleaseWrite("t2", nodeA))
		assertGranted(t, newcomer)
	})
}

func TestLockFailures(t *testing.T) {
	t.Run("release_without_hold", func(t *testing.T) {
		c := NewCoordinator()
		assert.ErrorIs(t, c.ReleaseRead("t1", nodeA), ErrLockFailure)
		assert.ErrorIs(t, c.ReleaseWrite("t1", nodeA), ErrLockFailure)

		require.NoError(t, c.AcquireWrite("t1", nodeA))
		assert.ErrorIs(t, c.ReleaseWrite("t2", nodeA), ErrLockFailure)
	})

	t.Run("invalid_arguments", func(t *testing.T) {
		c := NewCoordinator()
		assert.ErrorIs(t, c.AcquireRead("", nodeA), ErrLockFailure)
		assert.ErrorIs(t, c.AcquireWrite("t1", Key{ID: 7}), ErrLockFailure)
	})

	t.Run("release_all_attempts_every_hold", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireWrite("t1", nodeA))
		require.NoError(t, c.AcquireWrite("t1", nodeB))

		err := c.ReleaseAll("t1", []Hold{
			{Key: nodeA, Mode: Write},
			{Key: Key{Space: SpaceRelationship, ID: 9}, Mode: Write},
			{Key: nodeB, Mode: Write},
		})
		assert.ErrorIs(t, err, ErrLockFailure)
		assert.False(t, c.IsWriteLocked("t1", nodeA))
		assert.False(t, c.IsWriteLocked("t1", nodeB))
		assert.Equal(t, 0, c.Len())
	})

	t.Run("close_wakes_waiters", func(t *testing.T) {
		c := NewCoordinator()
		require.NoError(t, c.AcquireWrite("t1", nodeA))
		ch := acquireAsync(func() error { return c.AcquireWrite("t2", nodeA) })
		assertBlocked(t, ch)

		c.Close()
		select {
		case err := <-ch:
			assert.ErrorIs(t, err, ErrLockFailure)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter was not woken by Close")
		}
		assert.ErrorIs(t, c.AcquireRead("t3", nodeB), ErrLockFailure)
		assert.NoError(t, c.ReleaseWrite("t1", nodeA))
	})
}

func TestSnapshot(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.AcquireWrite("t1", nodeB))
	require.NoError(t, c.AcquireRead("t2", nodeA))
	require.NoError(t, c.AcquireRead("t3", nodeA))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "node[1]", snap[0].Key)
	assert.Equal(t, map[string]int{"t2": 1, "t3": 1}, snap[0].Readers)
	assert.Equal(t, "node[2]", snap[1].Key)
	assert.Equal(t, "t1", snap[1].Writer)
	assert.Equal(t, 1, snap[1].WriteCount)
}
