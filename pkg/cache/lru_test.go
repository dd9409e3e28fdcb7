package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	name   string
	pinned bool
}

func isPinned(i *item) bool { return i.pinned }

func TestLRU_GetPut(t *testing.T) {
	c := NewLRU[int, string]("test", 2, nil)

	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Put(1, "one")
	c.Put(2, "two")
	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	// 2 is now least recently used
	c.Put(3, "three")
	_, ok = c.Get(2)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())

	stats := c.Stats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestLRU_PutIfAbsent(t *testing.T) {
	c := NewLRU[int, *item]("test", 10, nil)
	first := &item{name: "first"}
	second := &item{name: "second"}

	got, inserted := c.PutIfAbsent(1, first)
	assert.True(t, inserted)
	assert.Same(t, first, got)

	got, inserted = c.PutIfAbsent(1, second)
	assert.False(t, inserted)
	assert.Same(t, first, got)
}

func TestLRU_Pinning(t *testing.T) {
	t.Run("pinned_entries_survive_eviction", func(t *testing.T) {
		c := NewLRU[int, *item]("test", 2, isPinned)
		c.Put(1, &item{name: "a", pinned: true})
		c.Put(2, &item{name: "b"})
		c.Put(3, &item{name: "c"})

		_, ok := c.Peek(1)
		assert.True(t, ok, "pinned entry must not be evicted")
		_, ok = c.Peek(2)
		assert.False(t, ok)
		_, ok = c.Peek(3)
		assert.True(t, ok)
	})

	t.Run("grows_past_max_when_everything_is_pinned", func(t *testing.T) {
		c := NewLRU[int, *item]("test", 1, isPinned)
		a := &item{name: "a", pinned: true}
		b := &item{name: "b", pinned: true}
		c.Put(1, a)
		c.Put(2, b)
		assert.Equal(t, 2, c.Len())

		a.pinned = false
		b.pinned = false
		c.Put(3, &item{name: "c"})
		assert.Equal(t, 1, c.Len())
	})

	t.Run("evict_skips_pinned", func(t *testing.T) {
		c := NewLRU[int, *item]("test", 10, isPinned)
		c.Put(1, &item{pinned: true})
		c.Put(2, &item{})

		assert.False(t, c.Evict(1))
		assert.True(t, c.Evict(2))
		assert.False(t, c.Evict(3))
		assert.Equal(t, 1, c.Len())
	})

	t.Run("clear_keeps_pinned", func(t *testing.T) {
		c := NewLRU[int, *item]("test", 10, isPinned)
		c.Put(1, &item{pinned: true})
		c.Put(2, &item{})
		c.Clear()
		assert.Equal(t, 1, c.Len())
		_, ok := c.Peek(1)
		assert.True(t, ok)
	})
}

func TestLRU_Resize(t *testing.T) {
	c := NewLRU[int, int]("test", 5, nil)
	for i := 0; i < 5; i++ {
		c.Put(i, i)
	}
	c.Resize(2)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, c.MaxSize())

	// most recent survive
	_, ok := c.Peek(4)
	assert.True(t, ok)
	_, ok = c.Peek(3)
	assert.True(t, ok)

	assert.True(t, c.Remove(4))
	assert.False(t, c.Remove(4))
}
