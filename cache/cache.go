// Package cache implements compilation caches of kernel modules: JIT, filled as kernels are compiled, and AOT,
// holding precompiled modules registered at setup.
//
// A cache stores modules built for one device: keys only carry the kernel name, so the same cache must
// not be shared across devices.
package cache

import (
	"github.com/gomlx/kernelrt/handle"
)

// Key of a cached module.
type Key struct {
	// KernelName is the name of an entry point defined by the module.
	KernelName string
}

// Cache of compiled modules.
//
// Implementations are not required to deduplicate concurrent compilations: two callers missing the same
// key will both compile and store.
type Cache interface {
	// Get returns a new reference to the module cached for key, which the caller must Release, or an
	// invalid handle if there is none.
	Get(key Key) *handle.Shared[handle.Module]

	// Store associates module with key. The cache takes its own reference: the caller still owns the one
	// it passed.
	Store(key Key, module *handle.Shared[handle.Module])
}
