// Package sycl implements the kernel runtime API over a SYCL-like, single-source runtime.
//
// A SYCL runtime dispatches to a concrete backend underneath: OpenCL or Level Zero, resolved per device.
// Modules are built with the native helpers of that backend (packages cl and ze) through the runtime's
// interop functions, and then wrapped in runtime kernel bundles and kernels. Kernel arguments are bound by
// extracting the native kernel and delegating to the backend's binder.
//
// Runtime objects (bundles, kernels and events) are released automatically when their Go wrappers are
// garbage collected, or earlier with Release.
package sycl

import (
	"fmt"

	"github.com/gomlx/kernelrt/backends/cl"
	"github.com/gomlx/kernelrt/backends/ze"
	"github.com/gomlx/kernelrt/handle"
)

// Handles of SYCL runtime objects.
type (
	QueueHandle   handle.Native
	ContextHandle handle.Native
	DeviceHandle  handle.Native
	BundleHandle  handle.Native
	KernelHandle  handle.Native
	EventHandle   handle.Native
)

// BackendKind is the concrete backend a device resolved to.
type BackendKind int

const (
	BackendOpenCL BackendKind = iota
	BackendLevelZero
)

// String implements fmt.Stringer.
func (k BackendKind) String() string {
	switch k {
	case BackendOpenCL:
		return "opencl"
	case BackendLevelZero:
		return "ext_oneapi_level_zero"
	}
	return fmt.Sprintf("BackendKind(%d)", int(k))
}

// DeviceType is the info::device_type of a device.
type DeviceType int

const (
	DeviceTypeCustom DeviceType = iota
	DeviceTypeCPU
	DeviceTypeGPU
	DeviceTypeAccelerator
)

// DeviceProperties are the device info queries used.
type DeviceProperties struct {
	MaxWorkGroupSize uint64
	SubGroupSizes    []uint64
	LocalMemSize     uint64
	Type             DeviceType
}

// Runtime is the table of SYCL runtime functions used by the adapter. Runtime errors (SYCL exceptions) are
// returned as errors.
type Runtime interface {
	QueueContext(queue QueueHandle) ContextHandle
	QueueDevice(queue QueueHandle) DeviceHandle
	DeviceBackend(device DeviceHandle) BackendKind
	DeviceInfo(device DeviceHandle) (DeviceProperties, error)

	// OpenCL returns the driver of the OpenCL backend.
	OpenCL() cl.Driver

	// NativeCLContext and NativeCLDevice return the native objects retained: the caller must release them.
	NativeCLContext(context ContextHandle) (cl.ContextHandle, error)
	NativeCLDevice(device DeviceHandle) (cl.DeviceHandle, error)

	// NativeCLKernel returns the native kernel retained: the caller must release it.
	NativeCLKernel(kernel KernelHandle) (cl.KernelHandle, error)

	// MakeCLKernelBundle wraps a built program, taking over one reference to it.
	MakeCLKernelBundle(context ContextHandle, program cl.ProgramHandle) (BundleHandle, error)

	// MakeCLKernel wraps a native kernel, retaining it.
	MakeCLKernel(context ContextHandle, kernel cl.KernelHandle) (KernelHandle, error)

	// LevelZero returns the driver and the offline compiler of the Level Zero backend.
	LevelZero() (ze.Driver, ze.Compiler)

	// NativeZEContext, NativeZEDevice and NativeZEKernel return the native objects, still owned by the
	// runtime.
	NativeZEContext(context ContextHandle) (ze.ContextHandle, error)
	NativeZEDevice(device DeviceHandle) (ze.DeviceHandle, error)
	NativeZEKernel(kernel KernelHandle) (ze.KernelHandle, error)

	// MakeZEKernelBundle wraps a module. With transferOwnership the bundle destroys the module when released,
	// otherwise the module is kept alive by its creator.
	MakeZEKernelBundle(context ContextHandle, module ze.ModuleHandle, transferOwnership bool) (BundleHandle, error)

	// MakeZEKernel wraps a native kernel of the bundle's module.
	MakeZEKernel(context ContextHandle, bundle BundleHandle, kernel ze.KernelHandle, transferOwnership bool) (KernelHandle, error)

	// ReleaseBundle, ReleaseKernel and ReleaseEvent drop a reference to the runtime object.
	ReleaseBundle(bundle BundleHandle)
	ReleaseKernel(kernel KernelHandle)
	ReleaseEvent(event EventHandle)

	// Submit runs kernel over the nd-range, given in SYCL order (slowest varying dimension first), after
	// the events in deps complete.
	Submit(queue QueueHandle, kernel KernelHandle, global, local [3]uint64, deps []EventHandle) (EventHandle, error)

	// Wait blocks until the event completes.
	Wait(event EventHandle) error

	MallocDevice(bytes uint64, device DeviceHandle, context ContextHandle) (uintptr, error)
	Free(ptr uintptr, context ContextHandle) error
	Memcpy(queue QueueHandle, dst uintptr, src []byte) (EventHandle, error)
}
