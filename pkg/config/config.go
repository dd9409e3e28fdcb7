// Package config loads graphkernel configuration from defaults, an optional
// YAML file and GRAPHKERNEL_* environment variables, in that order.
//
// Example Usage:
//
//	cfg, err := config.Load("graphkernel.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	cfg.Runtime.ApplyRuntimeMemory()
//
// Environment Variables:
//
// Storage:
//   - GRAPHKERNEL_STORAGE_ENGINE="memory", "badger" or "sqlite"
//   - GRAPHKERNEL_DATA_DIR="./data"
//   - GRAPHKERNEL_SYNC_WRITES=true
//   - GRAPHKERNEL_LOW_MEMORY=false
//
// Cache:
//   - GRAPHKERNEL_NODE_CACHE_SIZE=1500
//   - GRAPHKERNEL_RELATIONSHIP_CACHE_SIZE=3500
//   - GRAPHKERNEL_CACHE_ADAPTIVE=true
//   - GRAPHKERNEL_CACHE_HEAP_RATIO=0.77
//
// Transactions and constraints:
//   - GRAPHKERNEL_TX_MAX_CONCURRENT=1000
//   - GRAPHKERNEL_TX_TIMEOUT=30s
//   - GRAPHKERNEL_AUTO_CREATE_RELATIONSHIP_TYPES=false
//
// Runtime:
//   - GRAPHKERNEL_MEMORY_LIMIT="2GB"
//   - GRAPHKERNEL_GC_PERCENT=100
//
// For a complete list, see LoadFromEnv.
package config

import (
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all graphkernel configuration.
//
// Sections:
//   - Storage: backing store engine and location
//   - Cache: primitive cache sizes and adaptive sizing
//   - Transactions: concurrency and timeout limits
//   - Constraints: relationship type and property key policies
//   - Server: HTTP API
//   - Runtime: Go runtime memory tuning and diagnostics
type Config struct {
	Storage      StorageConfig     `yaml:"storage"`
	Cache        CacheConfig       `yaml:"cache"`
	Transactions TransactionConfig `yaml:"transactions"`
	Constraints  ConstraintConfig  `yaml:"constraints"`
	Server       ServerConfig      `yaml:"server"`
	Runtime      RuntimeConfig     `yaml:"runtime"`
}

// StorageConfig selects and configures the backing store.
type StorageConfig struct {
	// Engine is "memory", "badger" or "sqlite".
	Engine string `yaml:"engine"`
	// DataDir holds the badger files or the sqlite database.
	DataDir string `yaml:"data_dir"`
	// SyncWrites fsyncs badger writes.
	SyncWrites bool `yaml:"sync_writes"`
	// LowMemory trades badger throughput for a smaller footprint.
	LowMemory bool `yaml:"low_memory"`
	// Verbose enables badger's own logging.
	Verbose bool `yaml:"verbose"`
}

// CacheConfig sizes the node and relationship caches.
type CacheConfig struct {
	NodeCacheSize         int `yaml:"node_cache_size"`
	RelationshipCacheSize int `yaml:"relationship_cache_size"`
	NodeCacheMin          int `yaml:"node_cache_min"`
	RelationshipCacheMin  int `yaml:"relationship_cache_min"`
	// Adaptive shrinks the caches under heap pressure and grows them back.
	Adaptive bool `yaml:"adaptive"`
	// HeapRatio is the fraction of the memory limit above which caches shrink.
	HeapRatio float64 `yaml:"heap_ratio"`
	// AdaptiveInterval is how often heap usage is sampled.
	AdaptiveInterval time.Duration `yaml:"adaptive_interval"`
}

// TransactionConfig limits transactions.
type TransactionConfig struct {
	// MaxConcurrent is the number of open transactions allowed, 0 for no limit.
	MaxConcurrent int `yaml:"max_concurrent"`
	// Timeout rolls back transactions that commit later than this, 0 disables.
	Timeout time.Duration `yaml:"timeout"`
}

// ConstraintConfig holds the graph rule policies.
type ConstraintConfig struct {
	// AutoCreateRelationshipTypes creates unknown relationship types on use.
	AutoCreateRelationshipTypes bool `yaml:"auto_create_relationship_types"`
	// PreloadPropertyKeys reads every property key at startup.
	PreloadPropertyKeys bool `yaml:"preload_property_keys"`
	// LogEvents logs every applied mutation.
	LogEvents bool `yaml:"log_events"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RuntimeConfig holds Go runtime tuning.
type RuntimeConfig struct {
	// MemoryLimit is the soft memory limit (GOMEMLIMIT) in bytes, 0 for none.
	MemoryLimit int64 `yaml:"-"`
	// MemoryLimitStr is the human-readable form ("2GB", "512MB").
	MemoryLimitStr string `yaml:"memory_limit"`
	// GCPercent is GOGC. 100 is the Go default.
	GCPercent int `yaml:"gc_percent"`
	// GopsAgent starts the gops diagnostics agent in serve.
	GopsAgent bool `yaml:"gops_agent"`
}

// DefaultConfig returns the defaults: in-memory storage, the caches sized
// 1500/3500 with adaptive sizing at a 0.77 heap ratio, strict relationship
// types and the HTTP API on port 7480.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:  "memory",
			DataDir: "./data",
		},
		Cache: CacheConfig{
			NodeCacheSize:         1500,
			RelationshipCacheSize: 3500,
			Adaptive:              true,
			HeapRatio:             0.77,
			AdaptiveInterval:      5 * time.Second,
		},
		Transactions: TransactionConfig{
			MaxConcurrent: 1000,
			Timeout:       30 * time.Second,
		},
		Constraints: ConstraintConfig{
			PreloadPropertyKeys: true,
		},
		Server: ServerConfig{
			Address:         "0.0.0.0",
			Port:            7480,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Runtime: RuntimeConfig{
			GCPercent: 100,
		},
	}
}

// LoadFromEnv returns DefaultConfig overridden by the environment.
func LoadFromEnv() *Config {
	c := DefaultConfig()
	c.applyEnv()
	return c
}

// Load reads defaults, then the YAML file at path (skipped when path is
// empty), then the environment, and validates the result.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	if path != "" {
		if err := c.LoadFile(path); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile merges the YAML file at path into c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if c.Runtime.MemoryLimitStr != "" {
		c.Runtime.MemoryLimit = parseMemorySize(c.Runtime.MemoryLimitStr)
	}
	return nil
}

// WriteFile writes c as YAML to path.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Storage.Engine = strings.ToLower(getEnv("GRAPHKERNEL_STORAGE_ENGINE", c.Storage.Engine))
	c.Storage.DataDir = getEnv("GRAPHKERNEL_DATA_DIR", c.Storage.DataDir)
	c.Storage.SyncWrites = getEnvBool("GRAPHKERNEL_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.LowMemory = getEnvBool("GRAPHKERNEL_LOW_MEMORY", c.Storage.LowMemory)
	c.Storage.Verbose = getEnvBool("GRAPHKERNEL_STORAGE_VERBOSE", c.Storage.Verbose)

	c.Cache.NodeCacheSize = getEnvInt("GRAPHKERNEL_NODE_CACHE_SIZE", c.Cache.NodeCacheSize)
	c.Cache.RelationshipCacheSize = getEnvInt("GRAPHKERNEL_RELATIONSHIP_CACHE_SIZE", c.Cache.RelationshipCacheSize)
	c.Cache.NodeCacheMin = getEnvInt("GRAPHKERNEL_NODE_CACHE_MIN", c.Cache.NodeCacheMin)
	c.Cache.RelationshipCacheMin = getEnvInt("GRAPHKERNEL_RELATIONSHIP_CACHE_MIN", c.Cache.RelationshipCacheMin)
	c.Cache.Adaptive = getEnvBool("GRAPHKERNEL_CACHE_ADAPTIVE", c.Cache.Adaptive)
	c.Cache.HeapRatio = getEnvFloat("GRAPHKERNEL_CACHE_HEAP_RATIO", c.Cache.HeapRatio)
	c.Cache.AdaptiveInterval = getEnvDuration("GRAPHKERNEL_CACHE_ADAPTIVE_INTERVAL", c.Cache.AdaptiveInterval)

	c.Transactions.MaxConcurrent = getEnvInt("GRAPHKERNEL_TX_MAX_CONCURRENT", c.Transactions.MaxConcurrent)
	c.Transactions.Timeout = getEnvDuration("GRAPHKERNEL_TX_TIMEOUT", c.Transactions.Timeout)

	c.Constraints.AutoCreateRelationshipTypes = getEnvBool("GRAPHKERNEL_AUTO_CREATE_RELATIONSHIP_TYPES", c.Constraints.AutoCreateRelationshipTypes)
	c.Constraints.PreloadPropertyKeys = getEnvBool("GRAPHKERNEL_PRELOAD_PROPERTY_KEYS", c.Constraints.PreloadPropertyKeys)
	c.Constraints.LogEvents = getEnvBool("GRAPHKERNEL_LOG_EVENTS", c.Constraints.LogEvents)

	c.Server.Address = getEnv("GRAPHKERNEL_HTTP_ADDRESS", c.Server.Address)
	c.Server.Port = getEnvInt("GRAPHKERNEL_HTTP_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("GRAPHKERNEL_HTTP_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("GRAPHKERNEL_HTTP_WRITE_TIMEOUT", c.Server.WriteTimeout)

	if s := os.Getenv("GRAPHKERNEL_MEMORY_LIMIT"); s != "" {
		c.Runtime.MemoryLimitStr = s
		c.Runtime.MemoryLimit = parseMemorySize(s)
	}
	c.Runtime.GCPercent = getEnvInt("GRAPHKERNEL_GC_PERCENT", c.Runtime.GCPercent)
	c.Runtime.GopsAgent = getEnvBool("GRAPHKERNEL_GOPS_AGENT", c.Runtime.GopsAgent)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "memory":
	case "badger", "sqlite":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage engine %s needs a data directory", c.Storage.Engine)
		}
	default:
		return fmt.Errorf("unknown storage engine: %q", c.Storage.Engine)
	}

	if c.Cache.NodeCacheSize <= 0 || c.Cache.RelationshipCacheSize <= 0 {
		return fmt.Errorf("invalid cache sizes: nodes=%d relationships=%d", c.Cache.NodeCacheSize, c.Cache.RelationshipCacheSize)
	}
	if c.Cache.NodeCacheMin < 0 || c.Cache.NodeCacheMin > c.Cache.NodeCacheSize {
		return fmt.Errorf("invalid node cache minimum: %d", c.Cache.NodeCacheMin)
	}
	if c.Cache.RelationshipCacheMin < 0 || c.Cache.RelationshipCacheMin > c.Cache.RelationshipCacheSize {
		return fmt.Errorf("invalid relationship cache minimum: %d", c.Cache.RelationshipCacheMin)
	}
	if c.Cache.Adaptive && c.Cache.AdaptiveInterval <= 0 {
		return fmt.Errorf("invalid adaptive interval: %v", c.Cache.AdaptiveInterval)
	}

	if c.Transactions.MaxConcurrent < 0 {
		return fmt.Errorf("invalid max concurrent transactions: %d", c.Transactions.MaxConcurrent)
	}
	if c.Transactions.Timeout < 0 {
		return fmt.Errorf("invalid transaction timeout: %v", c.Transactions.Timeout)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.Port)
	}
	if c.Runtime.MemoryLimit < 0 {
		return fmt.Errorf("invalid memory limit: %s", c.Runtime.MemoryLimitStr)
	}
	return nil
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Storage: %s (%s), Cache: %d/%d adaptive=%v, HTTP: %s:%d}",
		c.Storage.Engine, c.Storage.DataDir,
		c.Cache.NodeCacheSize, c.Cache.RelationshipCacheSize, c.Cache.Adaptive,
		c.Server.Address, c.Server.Port,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (c *RuntimeConfig) ApplyRuntimeMemory() {
	if c.MemoryLimit > 0 {
		debug.SetMemoryLimit(c.MemoryLimit)
	}
	if c.GCPercent != 100 {
		debug.SetGCPercent(c.GCPercent)
	}
}
