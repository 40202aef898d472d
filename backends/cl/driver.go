// Package cl implements the kernel runtime API over an OpenCL-like, buffer-centric native runtime.
//
// The native runtime is reached through the Driver interface, which mirrors the OpenCL C entry points used.
// Native objects are reference counted by the runtime (retain / release), and the adapter keeps those counts
// balanced: every handle retained here is released exactly once.
package cl

import (
	"github.com/gomlx/kernelrt/handle"
)

// Native handles of the OpenCL runtime.
type (
	PlatformHandle handle.Native
	DeviceHandle   handle.Native
	ContextHandle  handle.Native
	QueueHandle    handle.Native
	ProgramHandle  handle.Native
	KernelHandle   handle.Native
	EventHandle    handle.Native
	MemHandle      handle.Native
)

// MemFlags are the cl_mem_flags of a buffer.
type MemFlags uint64

const (
	MemReadWrite     MemFlags = 1 << 0
	MemWriteOnly     MemFlags = 1 << 1
	MemReadOnly      MemFlags = 1 << 2
	MemUseHostPtr    MemFlags = 1 << 3
	MemAllocHostPtr  MemFlags = 1 << 4
	MemCopyHostPtr   MemFlags = 1 << 5
	MemHostWriteOnly MemFlags = 1 << 7
	MemHostReadOnly  MemFlags = 1 << 8
	MemHostNoAccess  MemFlags = 1 << 9
)

// DeviceType is the cl_device_type bit field.
type DeviceType uint64

const (
	DeviceTypeDefault     DeviceType = 1 << 0
	DeviceTypeCPU         DeviceType = 1 << 1
	DeviceTypeGPU         DeviceType = 1 << 2
	DeviceTypeAccelerator DeviceType = 1 << 3
)

// USMExtensionFunction is the name of the extension function binding unified shared memory pointers as
// kernel arguments.
const USMExtensionFunction = "clSetKernelArgMemPointerINTEL"

// SetKernelArgMemPointerINTEL is the signature of the USMExtensionFunction.
type SetKernelArgMemPointerINTEL func(kernel KernelHandle, index uint32, ptr uintptr) Status

// Driver is the table of OpenCL entry points used by the adapter.
//
// Methods returning a handle and a Status correspond to the C functions returning the status through
// an errcode_ret pointer. Device information queries are split per parameter.
type Driver interface {
	RetainCommandQueue(queue QueueHandle) Status
	ReleaseCommandQueue(queue QueueHandle) Status
	GetCommandQueueContext(queue QueueHandle) (ContextHandle, Status)
	GetCommandQueueDevice(queue QueueHandle) (DeviceHandle, Status)

	RetainContext(context ContextHandle) Status
	ReleaseContext(context ContextHandle) Status

	RetainDevice(device DeviceHandle) Status
	ReleaseDevice(device DeviceHandle) Status
	GetDeviceMaxWorkGroupSize(device DeviceHandle) (uint64, Status)
	GetDeviceSubGroupSizes(device DeviceHandle) ([]uint64, Status)
	GetDeviceLocalMemSize(device DeviceHandle) (uint64, Status)
	GetDeviceType(device DeviceHandle) (DeviceType, Status)
	GetDevicePlatform(device DeviceHandle) (PlatformHandle, Status)
	GetDeviceIDIntel(device DeviceHandle) (uint32, Status)

	// GetExtensionFunctionAddressForPlatform returns the extension function, or nil if the platform
	// doesn't provide it. For USMExtensionFunction it returns a SetKernelArgMemPointerINTEL.
	GetExtensionFunctionAddressForPlatform(platform PlatformHandle, name string) any

	CreateProgramWithSource(context ContextHandle, source string) (ProgramHandle, Status)
	CreateProgramWithIL(context ContextHandle, il []byte) (ProgramHandle, Status)
	CreateProgramWithBinary(context ContextHandle, device DeviceHandle, binary []byte) (ProgramHandle, Status)
	BuildProgram(program ProgramHandle, devices []DeviceHandle, options string) Status
	GetProgramBuildLog(program ProgramHandle, device DeviceHandle) (string, Status)
	GetProgramKernelNames(program ProgramHandle) (string, Status)
	GetProgramBinary(program ProgramHandle, device DeviceHandle) ([]byte, Status)
	RetainProgram(program ProgramHandle) Status
	ReleaseProgram(program ProgramHandle) Status

	CreateKernel(program ProgramHandle, name string) (KernelHandle, Status)
	RetainKernel(kernel KernelHandle) Status
	ReleaseKernel(kernel KernelHandle) Status
	SetKernelArg(kernel KernelHandle, index uint32, value []byte) Status
	SetKernelArgSVMPointer(kernel KernelHandle, index uint32, ptr uintptr) Status

	EnqueueNDRangeKernel(queue QueueHandle, kernel KernelHandle, global, local []uint64,
		waitList []EventHandle) (EventHandle, Status)
	WaitForEvents(events []EventHandle) Status
	ReleaseEvent(event EventHandle) Status

	CreateBuffer(context ContextHandle, flags MemFlags, size uint64, hostData []byte) (MemHandle, Status)
	ReleaseMemObject(mem MemHandle) Status
}
