package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, "memory", c.Storage.Engine)
	assert.Equal(t, 1500, c.Cache.NodeCacheSize)
	assert.Equal(t, 3500, c.Cache.RelationshipCacheSize)
	assert.Equal(t, 0.77, c.Cache.HeapRatio)
	assert.True(t, c.Constraints.PreloadPropertyKeys)
	assert.False(t, c.Constraints.AutoCreateRelationshipTypes)
	assert.Equal(t, "Config{Storage: memory (./data), Cache: 1500/3500 adaptive=true, HTTP: 0.0.0.0:7480}", c.String())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GRAPHKERNEL_STORAGE_ENGINE", "Badger")
	t.Setenv("GRAPHKERNEL_DATA_DIR", "/var/lib/graph")
	t.Setenv("GRAPHKERNEL_NODE_CACHE_SIZE", "10")
	t.Setenv("GRAPHKERNEL_CACHE_HEAP_RATIO", "0.5")
	t.Setenv("GRAPHKERNEL_TX_TIMEOUT", "90")
	t.Setenv("GRAPHKERNEL_AUTO_CREATE_RELATIONSHIP_TYPES", "yes")
	t.Setenv("GRAPHKERNEL_HTTP_PORT", "not-a-port")

	c := LoadFromEnv()
	assert.Equal(t, "badger", c.Storage.Engine)
	assert.Equal(t, "/var/lib/graph", c.Storage.DataDir)
	assert.Equal(t, 10, c.Cache.NodeCacheSize)
	assert.Equal(t, 0.5, c.Cache.HeapRatio)
	assert.Equal(t, 90*time.Second, c.Transactions.Timeout)
	assert.True(t, c.Constraints.AutoCreateRelationshipTypes)
	assert.Equal(t, 7480, c.Server.Port, "unparsable values keep the default")
}

func TestLoad(t *testing.T) {
	t.Run("file_then_env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "graphkernel.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: sqlite
  data_dir: /tmp/graph
cache:
  node_cache_size: 200
  adaptive: false
transactions:
  timeout: 5s
runtime:
  memory_limit: 512MB
`), 0o644))
		t.Setenv("GRAPHKERNEL_NODE_CACHE_SIZE", "300")

		c, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "sqlite", c.Storage.Engine)
		assert.Equal(t, "/tmp/graph", c.Storage.DataDir)
		assert.Equal(t, 300, c.Cache.NodeCacheSize)
		assert.Equal(t, 3500, c.Cache.RelationshipCacheSize)
		assert.False(t, c.Cache.Adaptive)
		assert.Equal(t, 5*time.Second, c.Transactions.Timeout)
		assert.Equal(t, int64(512*1024*1024), c.Runtime.MemoryLimit)
	})

	t.Run("no_file", func(t *testing.T) {
		c, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Cache, c.Cache)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad_yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cache: [oops"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("write_then_load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.yaml")
		c := DefaultConfig()
		c.Storage.Engine = "badger"
		c.Server.Port = 9000
		require.NoError(t, c.WriteFile(path))

		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "badger", got.Storage.Engine)
		assert.Equal(t, 9000, got.Server.Port)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown_engine":     func(c *Config) { c.Storage.Engine = "postgres" },
		"badger_without_dir": func(c *Config) { c.Storage.Engine = "badger"; c.Storage.DataDir = "" },
		"zero_node_cache":    func(c *Config) { c.Cache.NodeCacheSize = 0 },
		"min_above_max":      func(c *Config) { c.Cache.RelationshipCacheMin = c.Cache.RelationshipCacheSize + 1 },
		"zero_interval":      func(c *Config) { c.Cache.AdaptiveInterval = 0 },
		"negative_tx_limit":  func(c *Config) { c.Transactions.MaxConcurrent = -1 },
		"negative_timeout":   func(c *Config) { c.Transactions.Timeout = -time.Second },
		"port_out_of_range":  func(c *Config) { c.Server.Port = 70000 },
		"negative_memory":    func(c *Config) { c.Runtime.MemoryLimit = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
