package cache

import (
	"slices"
	"sync"

	"github.com/gomlx/kernelrt/handle"
	"github.com/pkg/errors"
)

// AOTModule is a precompiled module and the names of the kernels it defines.
type AOTModule struct {
	// Module is owned by the AOTModule.
	Module *handle.Shared[handle.Module]

	// DeviceID is the id of the device the module was built for.
	DeviceID uint64

	kernelNames map[string]struct{}
}

// NewAOTModule creates an AOTModule taking ownership of module.
// It fails if module is invalid or kernelNames is empty.
func NewAOTModule(module *handle.Shared[handle.Module], kernelNames []string, deviceID uint64) (*AOTModule, error) {
	if !module.IsValid() {
		return nil, errors.New("cache.NewAOTModule: invalid module")
	}
	m := &AOTModule{
		Module:      module,
		DeviceID:    deviceID,
		kernelNames: make(map[string]struct{}, len(kernelNames)),
	}
	for _, name := range kernelNames {
		if name != "" {
			m.kernelNames[name] = struct{}{}
		}
	}
	if len(m.kernelNames) == 0 {
		return nil, errors.Errorf("cache.NewAOTModule: module for device 0x%x defines no kernels", deviceID)
	}
	return m, nil
}

// HasKernel returns whether the module defines the kernel name.
func (m *AOTModule) HasKernel(name string) bool {
	_, found := m.kernelNames[name]
	return found
}

// KernelNames returns the sorted names of the kernels defined by the module.
func (m *AOTModule) KernelNames() []string {
	names := make([]string, 0, len(m.kernelNames))
	for name := range m.kernelNames {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Release the module.
func (m *AOTModule) Release() {
	m.Module.Release()
}

// AOT is a cache of precompiled modules, registered at setup and never changed afterward.
//
// Get returns the module of the first registered AOTModule that defines the kernel. Store does nothing.
type AOT struct {
	mu      sync.RWMutex
	modules []*AOTModule
}

var _ Cache = (*AOT)(nil)

// NewAOT returns an empty AOT cache.
func NewAOT() *AOT {
	return &AOT{}
}

// RegisterModule appends module to the cache, which takes ownership of it.
func (c *AOT) RegisterModule(module *AOTModule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = append(c.modules, module)
}

// Get implements Cache. It scans the modules in registration order.
func (c *AOT) Get(key Key) *handle.Shared[handle.Module] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.modules {
		if m.HasKernel(key.KernelName) {
			return m.Module.Clone()
		}
	}
	return &handle.Shared[handle.Module]{}
}

// Store implements Cache: it is a no-op, the contents of an AOT cache are fixed at registration.
func (c *AOT) Store(Key, *handle.Shared[handle.Module]) {}

// Modules returns the registered modules, in registration order.
func (c *AOT) Modules() []*AOTModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.modules)
}

// Release all registered modules and empty the cache.
func (c *AOT) Release() {
	c.mu.Lock()
	modules := c.modules
	c.modules = nil
	c.mu.Unlock()
	for _, m := range modules {
		m.Release()
	}
}

// Chain tries each cache in order on Get, and stores into all of them on Store.
//
// The typical chain is Chain{aot, jit}: precompiled modules first, then those compiled at runtime. Since
// AOT.Store is a no-op, stores only land in the JIT cache.
type Chain []Cache

var _ Cache = Chain(nil)

// Get implements Cache.
func (c Chain) Get(key Key) *handle.Shared[handle.Module] {
	for _, cache := range c {
		if m := cache.Get(key); m.IsValid() {
			return m
		}
	}
	return &handle.Shared[handle.Module]{}
}

// Store implements Cache.
func (c Chain) Store(key Key, module *handle.Shared[handle.Module]) {
	for _, cache := range c {
		cache.Store(key, module)
	}
}
