package cache

import (
	"slices"
	"sync"

	"github.com/gomlx/kernelrt/handle"
	"k8s.io/klog/v2"
)

// JIT caches modules compiled at runtime, keyed by kernel name.
// It is safe for concurrent use.
type JIT struct {
	mu      sync.Mutex
	modules map[Key]*handle.Shared[handle.Module]
}

var _ Cache = (*JIT)(nil)

// NewJIT returns an empty JIT cache.
func NewJIT() *JIT {
	return &JIT{modules: make(map[Key]*handle.Shared[handle.Module])}
}

// Get implements Cache.
func (c *JIT) Get(key Key) *handle.Shared[handle.Module] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, found := c.modules[key]; found {
		return m.Clone()
	}
	return &handle.Shared[handle.Module]{}
}

// Store implements Cache. A module already stored under key is replaced (and its reference released).
// Invalid modules are ignored.
func (c *JIT) Store(key Key, module *handle.Shared[handle.Module]) {
	if !module.IsValid() {
		return
	}
	owned := module.Clone()
	c.mu.Lock()
	previous := c.modules[key]
	c.modules[key] = owned
	c.mu.Unlock()
	if previous != nil {
		klog.V(2).Infof("cache.JIT: replacing module for kernel %q", key.KernelName)
		previous.Release()
	}
}

// KernelNames returns the names of the kernels cached, sorted.
func (c *JIT) KernelNames() []string {
	c.mu.Lock()
	names := make([]string, 0, len(c.modules))
	for key := range c.modules {
		names = append(names, key.KernelName)
	}
	c.mu.Unlock()
	slices.Sort(names)
	return names
}

// Len returns the number of cached modules.
func (c *JIT) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.modules)
}

// Clear releases all cached modules.
func (c *JIT) Clear() {
	c.mu.Lock()
	modules := c.modules
	c.modules = make(map[Key]*handle.Shared[handle.Module])
	c.mu.Unlock()
	for _, m := range modules {
		m.Release()
	}
}
