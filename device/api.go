// Package device defines the uniform surface of the backend adapters: device information, memory references,
// compilation options, the error taxonomy and the API, KernelBundle, Kernel, ArgBinder and Event interfaces
// implemented by each backend (see sub-packages of github.com/gomlx/kernelrt/backends).
package device

import (
	"fmt"

	"github.com/gomlx/kernelrt/cache"
	"github.com/gomlx/kernelrt/handle"
)

// Backend identifies the family of a native runtime.
type Backend int

const (
	// OpenCL is the buffer-centric runtime, with explicit retain/release reference counting.
	OpenCL Backend = iota

	// LevelZero is the explicit-driver runtime, with explicit create/destroy.
	LevelZero

	// SYCL is the single-source runtime, dispatching to OpenCL or LevelZero underneath, with automatic
	// release of its objects.
	SYCL
)

// String implements fmt.Stringer.
func (b Backend) String() string {
	switch b {
	case OpenCL:
		return "OpenCL"
	case LevelZero:
		return "LevelZero"
	case SYCL:
		return "SYCL"
	}
	return fmt.Sprintf("Backend(%d)", int(b))
}

// API is implemented by the backend adapters. An API is bound to one native command queue (or command list)
// and is not safe for concurrent use.
type API interface {
	fmt.Stringer

	// Backend returns the family of the native runtime.
	Backend() Backend

	// Info queries the device capabilities.
	Info() (Info, error)

	// DeviceID returns the vendor's device id.
	DeviceID() (uint64, error)

	// BuildKernelBundle compiles source code. On failure it returns a *CompileError with the build log.
	BuildKernelBundle(source string, opts Options) (KernelBundle, error)

	// BuildKernelBundleFromBinary loads a precompiled module.
	BuildKernelBundleFromBinary(binary []byte, format ModuleFormat, opts Options) (KernelBundle, error)

	// MakeKernelBundle wraps a module previously built by this API (e.g. one returned by a cache).
	// The bundle takes its own reference to the module.
	MakeKernelBundle(module *handle.Shared[handle.Module]) (KernelBundle, error)

	// CreateKernel resolves the entry point name in the bundle.
	CreateKernel(bundle KernelBundle, name string) (Kernel, error)

	// LaunchKernel calls bindArgs to set the kernel arguments, then submits the kernel over the
	// global range split in work-groups of the local size, after the events in deps complete.
	// It returns without waiting for the kernel to finish.
	//
	// Each global size must be divisible by the local size: this is not checked.
	LaunchKernel(kernel Kernel, global, local [3]int, deps []Event, bindArgs func(ArgBinder) error) (Event, error)

	// CreateDeviceBuffer allocates device memory.
	CreateDeviceBuffer(bytes int) (Mem, error)

	// CreateTwiddleTable allocates device memory and uploads hostData to it. The upload is complete when it
	// returns.
	CreateTwiddleTable(hostData []byte) (Mem, error)

	// ReleaseEvent releases an event returned by LaunchKernel.
	ReleaseEvent(event Event) error

	// ReleaseBuffer releases memory returned by CreateDeviceBuffer or CreateTwiddleTable.
	ReleaseBuffer(mem Mem) error

	// CreateAOTModule loads a precompiled module and lists its kernels, to be registered in a cache.AOT.
	CreateAOTModule(binary []byte, format ModuleFormat) (*cache.AOTModule, error)

	// Destroy releases the native objects held by the API. It is idempotent.
	Destroy() error
}

// KernelBundle owns one compiled module.
type KernelBundle interface {
	// Module returns the module owned by the bundle. The caller must Clone it to keep it beyond the
	// bundle's lifetime.
	Module() *handle.Shared[handle.Module]

	// Binary returns the native device binary of the module.
	Binary() ([]byte, error)

	// Release drops the bundle's reference to its module.
	Release()
}

// Kernel is an entry point of a KernelBundle.
type Kernel interface {
	Name() string

	// Release drops the kernel's native handle, if it owns one.
	Release()
}

// ArgBinder sets the arguments of the kernel being launched. It is only valid during the bindArgs callback
// of API.LaunchKernel.
type ArgBinder interface {
	// SetArg binds a plain value by its byte representation.
	SetArg(index int, value []byte) error

	// SetMemArg binds a device memory reference, according to its kind.
	SetMemArg(index int, mem Mem) error
}

// Event is the completion handle of asynchronous device work.
type Event interface {
	// Await blocks until the device work is done.
	Await() error
}
