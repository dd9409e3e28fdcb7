package cache

import (
	"fmt"
	"log"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// Resizable is a cache the AdaptiveManager can shrink and grow.
type Resizable interface {
	Name() string
	Len() int
	MaxSize() int
	Resize(maxSize int)
}

// Heap ratio bounds and defaults.
const (
	DefaultHeapRatio = 0.77
	MinHeapRatio     = 0.1
	MaxHeapRatio     = 0.95

	// shrinkFactor divides the current size when the heap is over target.
	shrinkFactor = 1.15
	// growFactor multiplies a full cache's size when there is headroom.
	growFactor = 1.1
)

// ClampHeapRatio limits r to [MinHeapRatio, MaxHeapRatio].
func ClampHeapRatio(r float64) float64 {
	return math.Min(MaxHeapRatio, math.Max(MinHeapRatio, r))
}

// MemorySampler reports used heap bytes and the limit they are compared to.
type MemorySampler func() (used, limit uint64, err error)

// SampleRuntimeMemory uses the Go heap as "used" and the Go memory limit as
// the limit, or total system memory when no limit is set.
func SampleRuntimeMemory() (uint64, uint64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return ms.HeapAlloc, uint64(limit), nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read system memory: %w", err)
	}
	return ms.HeapAlloc, vm.Total, nil
}

// AdaptiveConfig configures the AdaptiveManager.
type AdaptiveConfig struct {
	// Interval between checks. Default 1s.
	Interval time.Duration
	// Sampler overrides SampleRuntimeMemory (tests).
	Sampler MemorySampler
}

type registration struct {
	cache     Resizable
	heapRatio float64
	minSize   int
	maxSize   int
}

// AdaptiveManager periodically compares heap usage against each registered
// cache's heap ratio. Over the ratio, a cache shrinks by shrinkFactor but
// never below its min size. Under the ratio, a full cache grows by growFactor
// up to the max size it was registered with.
type AdaptiveManager struct {
	interval time.Duration
	sample   MemorySampler

	mu     sync.Mutex
	caches []*registration

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewAdaptiveManager creates a manager. Call Start to run it in the background
// or Adjust to run a single pass.
func NewAdaptiveManager(cfg AdaptiveConfig) *AdaptiveManager {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Sampler == nil {
		cfg.Sampler = SampleRuntimeMemory
	}
	return &AdaptiveManager{interval: cfg.Interval, sample: cfg.Sampler}
}

// Register adds a cache. Its current MaxSize is the ceiling it may grow back to.
func (m *AdaptiveManager) Register(c Resizable, heapRatio float64, minSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.caches {
		if r.cache == c {
			return
		}
	}
	m.caches = append(m.caches, &registration{
		cache:     c,
		heapRatio: ClampHeapRatio(heapRatio),
		minSize:   max(minSize, 0),
		maxSize:   c.MaxSize(),
	})
}

// Unregister removes a cache.
func (m *AdaptiveManager) Unregister(c Resizable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.caches {
		if r.cache == c {
			m.caches = append(m.caches[:i], m.caches[i+1:]...)
			return
		}
	}
}

// Adjust samples memory once and resizes every registered cache. It returns
// the observed used/limit ratio.
func (m *AdaptiveManager) Adjust() (float64, error) {
	used, limit, err := m.sample()
	if err != nil {
		return 0, err
	}
	if limit == 0 {
		return 0, fmt.Errorf("memory limit reported as zero")
	}
	ratio := float64(used) / float64(limit)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.caches {
		current := r.cache.MaxSize()
		switch {
		case ratio > r.heapRatio:
			target := max(int(float64(current)/shrinkFactor), r.minSize)
			if target < current {
				r.cache.Resize(target)
				log.Printf("[Cache] %s shrunk %d -> %d (heap %.0f%% > %.0f%%)", r.cache.Name(), current, target, ratio*100, r.heapRatio*100)
			}
		case r.cache.Len() >= current && current < r.maxSize:
			target := min(max(int(float64(current)*growFactor), current+1), r.maxSize)
			r.cache.Resize(target)
		}
	}
	return ratio, nil
}

// Start runs Adjust every interval until Stop.
func (m *AdaptiveManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := m.Adjust(); err != nil {
					log.Printf("[Cache] adaptive sizing failed: %v", err)
				}
			}
		}
	}(m.stopCh, m.doneCh)
}

// Stop ends the background loop and waits for it.
func (m *AdaptiveManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()
	<-done
}
