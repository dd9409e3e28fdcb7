package config

import (
	"runtime/debug"
	"testing"
)

// =============================================================================
// parseMemorySize Tests
// =============================================================================

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		// Bytes
		{"bytes numeric", "1024", 1024},
		{"bytes with B suffix", "1024B", 1024},
		{"bytes lowercase", "1024b", 1024},

		// Kilobytes
		{"kilobytes K", "1K", 1024},
		{"kilobytes KB", "1KB", 1024},
		{"kilobytes lowercase", "1kb", 1024},
		{"kilobytes large", "512K", 512 * 1024},

		// Megabytes
		{"megabytes M", "1M", 1024 * 1024},
		{"megabytes MB", "1MB", 1024 * 1024},
		{"megabytes lowercase", "512mb", 512 * 1024 * 1024},
		{"megabytes large", "256M", 256 * 1024 * 1024},

		// Gigabytes
		{"gigabytes G", "1G", 1024 * 1024 * 1024},
		{"gigabytes GB", "1GB", 1024 * 1024 * 1024},
		{"gigabytes lowercase", "2gb", 2 * 1024 * 1024 * 1024},
		{"gigabytes large", "4G", 4 * 1024 * 1024 * 1024},

		// Terabytes
		{"terabytes T", "1T", 1024 * 1024 * 1024 * 1024},
		{"terabytes TB", "1TB", 1024 * 1024 * 1024 * 1024},

		// Unlimited/Zero
		{"zero", "0", 0},
		{"unlimited", "unlimited", 0},
		{"unlimited caps", "UNLIMITED", 0},
		{"empty string", "", 0},

		// Whitespace handling
		{"whitespace", "  2GB  ", 2 * 1024 * 1024 * 1024},

		// Invalid returns 0
		{"invalid chars", "abc", 0},
		// Negative values parse but result in negative (caller should validate)
		{"negative", "-1GB", -1 * 1024 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseMemorySize(tt.input)
			if got != tt.want {
				t.Errorf("parseMemorySize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

// =============================================================================
// FormatMemorySize Tests
// =============================================================================

func TestFormatMemorySize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1024, "1.00 KB"},
		{"kilobytes fractional", 1536, "1.50 KB"},
		{"megabytes", 1024 * 1024, "1.00 MB"},
		{"megabytes fractional", 512 * 1024 * 1024, "512.00 MB"},
		{"gigabytes", 1024 * 1024 * 1024, "1.00 GB"},
		{"gigabytes large", 4 * 1024 * 1024 * 1024, "4.00 GB"},
		{"terabytes", 1024 * 1024 * 1024 * 1024, "1.00 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatMemorySize(tt.bytes)
			if got != tt.want {
				t.Errorf("FormatMemorySize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

// =============================================================================
// LoadFromEnv Runtime Memory Tests
// =============================================================================

func TestLoadFromEnv_RuntimeMemory(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadFromEnv()

		if cfg.Runtime.MemoryLimit != 0 {
			t.Errorf("MemoryLimit = %d, want 0 (unlimited)", cfg.Runtime.MemoryLimit)
		}
		if cfg.Runtime.GCPercent != 100 {
			t.Errorf("GCPercent = %d, want 100", cfg.Runtime.GCPercent)
		}
		if cfg.Runtime.GopsAgent {
			t.Error("GopsAgent should be false by default")
		}
	})

	t.Run("memory limit from env", func(t *testing.T) {
		t.Setenv("GRAPHKERNEL_MEMORY_LIMIT", "2GB")

		cfg := LoadFromEnv()
		want := int64(2 * 1024 * 1024 * 1024)
		if cfg.Runtime.MemoryLimit != want {
			t.Errorf("MemoryLimit = %d, want %d", cfg.Runtime.MemoryLimit, want)
		}
		if cfg.Runtime.MemoryLimitStr != "2GB" {
			t.Errorf("MemoryLimitStr = %q, want %q", cfg.Runtime.MemoryLimitStr, "2GB")
		}
	})

	t.Run("gc percent from env", func(t *testing.T) {
		t.Setenv("GRAPHKERNEL_GC_PERCENT", "50")

		cfg := LoadFromEnv()
		if cfg.Runtime.GCPercent != 50 {
			t.Errorf("GCPercent = %d, want 50", cfg.Runtime.GCPercent)
		}
	})

	t.Run("gops agent from env", func(t *testing.T) {
		t.Setenv("GRAPHKERNEL_GOPS_AGENT", "on")

		cfg := LoadFromEnv()
		if !cfg.Runtime.GopsAgent {
			t.Error("GopsAgent should be true")
		}
	})
}

// =============================================================================
// ApplyRuntimeMemory Tests
// =============================================================================

func TestRuntimeConfig_ApplyRuntimeMemory(t *testing.T) {
	// Apply should not panic with defaults
	cfg := &RuntimeConfig{
		MemoryLimit: 0,
		GCPercent:   100,
	}
	cfg.ApplyRuntimeMemory() // Should be no-op for defaults

	prevLimit := debug.SetMemoryLimit(-1)
	defer debug.SetMemoryLimit(prevLimit)
	prevGC := debug.SetGCPercent(100)
	defer debug.SetGCPercent(prevGC)

	cfg2 := &RuntimeConfig{
		MemoryLimit: 1024 * 1024 * 1024, // 1GB
		GCPercent:   50,
	}
	cfg2.ApplyRuntimeMemory()
	if got := debug.SetMemoryLimit(-1); got != cfg2.MemoryLimit {
		t.Errorf("memory limit = %d, want %d", got, cfg2.MemoryLimit)
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkParseMemorySize(b *testing.B) {
	inputs := []string{"2GB", "512MB", "1024", "unlimited", "1TB"}

	for _, input := range inputs {
		b.Run(input, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				parseMemorySize(input)
			}
		})
	}
}

func BenchmarkFormatMemorySize(b *testing.B) {
	sizes := []int64{1024, 1024 * 1024, 1024 * 1024 * 1024}

	for _, size := range sizes {
		b.Run(FormatMemorySize(size), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				FormatMemorySize(size)
			}
		})
	}
}
