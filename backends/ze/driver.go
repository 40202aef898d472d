// Package ze implements the kernel runtime API over a Level Zero-like, explicit-driver native runtime.
//
// The native runtime is reached through the Driver interface, which mirrors the Level Zero C entry points
// used, and source code is compiled offline to SPIR-V by a Compiler (the ocloc interface). Native objects are
// created and destroyed explicitly: each one is destroyed exactly once by its owner.
//
// Events come from an EventPool owned by the API: see EventPool for the reuse discipline callers must follow.
package ze

import (
	"github.com/gomlx/kernelrt/handle"
)

// Native handles of the Level Zero runtime.
type (
	DriverHandle      handle.Native
	DeviceHandle      handle.Native
	ContextHandle     handle.Native
	CommandListHandle handle.Native
	ModuleHandle      handle.Native
	BuildLogHandle    handle.Native
	KernelHandle      handle.Native
	EventPoolHandle   handle.Native
	EventHandle       handle.Native
)

// DeviceType is the ze_device_type_t.
type DeviceType uint32

const (
	DeviceTypeGPU  DeviceType = 1
	DeviceTypeCPU  DeviceType = 2
	DeviceTypeFPGA DeviceType = 3
	DeviceTypeMCA  DeviceType = 4
	DeviceTypeVPU  DeviceType = 5
)

// DeviceProperties is the subset of ze_device_properties_t used.
type DeviceProperties struct {
	Type     DeviceType
	VendorID uint32
	DeviceID uint32
	Name     string
}

// ComputeProperties is the subset of ze_device_compute_properties_t used.
type ComputeProperties struct {
	MaxTotalGroupSize    uint32
	MaxSharedLocalMemory uint32
	SubGroupSizes        []uint32
}

// ModuleFormat is the ze_module_format_t.
type ModuleFormat uint32

const (
	ModuleFormatILSPIRV ModuleFormat = 0
	ModuleFormatNative  ModuleFormat = 1
)

// EventPoolFlags is the ze_event_pool_flags_t.
type EventPoolFlags uint32

const (
	EventPoolFlagHostVisible EventPoolFlags = 1 << 0
)

// GroupCount is the ze_group_count_t: number of work-groups per dimension.
type GroupCount struct {
	X, Y, Z uint32
}

// TimeoutInfinite makes host synchronization wait without limit.
const TimeoutInfinite = ^uint64(0)

// Driver is the table of Level Zero entry points used by the adapter.
type Driver interface {
	DeviceGetProperties(device DeviceHandle) (DeviceProperties, Result)
	DeviceGetComputeProperties(device DeviceHandle) (ComputeProperties, Result)

	// ModuleCreate returns the module and its build log. The build log must be destroyed by the caller,
	// whether the creation succeeded or not.
	ModuleCreate(context ContextHandle, device DeviceHandle, format ModuleFormat, binary []byte) (ModuleHandle, BuildLogHandle, Result)
	ModuleBuildLogGetString(log BuildLogHandle) (string, Result)
	ModuleBuildLogDestroy(log BuildLogHandle) Result
	ModuleDestroy(module ModuleHandle) Result
	ModuleGetKernelNames(module ModuleHandle) ([]string, Result)
	ModuleGetNativeBinary(module ModuleHandle) ([]byte, Result)

	KernelCreate(module ModuleHandle, name string) (KernelHandle, Result)
	KernelDestroy(kernel KernelHandle) Result
	KernelSetArgumentValue(kernel KernelHandle, index uint32, value []byte) Result
	KernelSetGroupSize(kernel KernelHandle, x, y, z uint32) Result

	CommandListAppendLaunchKernel(list CommandListHandle, kernel KernelHandle, groups GroupCount,
		signal EventHandle, waitList []EventHandle) Result
	CommandListAppendMemoryCopy(list CommandListHandle, dst uintptr, src []byte,
		signal EventHandle, waitList []EventHandle) Result
	CommandListClose(list CommandListHandle) Result
	CommandListReset(list CommandListHandle) Result

	EventPoolCreate(context ContextHandle, flags EventPoolFlags, count uint32) (EventPoolHandle, Result)
	EventPoolDestroy(pool EventPoolHandle) Result
	EventCreate(pool EventPoolHandle, index uint32) (EventHandle, Result)
	EventDestroy(event EventHandle) Result
	EventHostSynchronize(event EventHandle, timeout uint64) Result
	EventHostReset(event EventHandle) Result

	MemAllocDevice(context ContextHandle, size, alignment uint64, device DeviceHandle) (uintptr, Result)
	MemFree(context ContextHandle, ptr uintptr) Result
}

// Compiler is the offline compiler (ocloc) interface.
type Compiler interface {
	// Invoke runs the compiler with the given command line (without the program name), on the given named
	// sources. It returns the named output files, which include the log "stdout.log".
	Invoke(args []string, sources map[string][]byte) (outputs map[string][]byte, err error)
}
