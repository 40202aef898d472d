package cl

import (
	"sync"

	"github.com/gomlx/kernelrt/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Extensions resolves, on first use, the optional extension functions of a device's platform, and caches
// the result (found or not) for the lifetime of the object.
type Extensions struct {
	driver Driver
	device DeviceHandle

	once                   sync.Once
	setKernelArgMemPointer SetKernelArgMemPointerINTEL
	err                    error
}

// NewExtensions creates the extensions resolver for the device. Nothing is queried until first use.
func NewExtensions(driver Driver, dev DeviceHandle) *Extensions {
	return &Extensions{driver: driver, device: dev}
}

// SetKernelArgMemPointer returns the USM kernel argument extension function, or a
// *device.ExtensionUnavailableError if the platform doesn't have it.
func (e *Extensions) SetKernelArgMemPointer() (SetKernelArgMemPointerINTEL, error) {
	e.once.Do(func() {
		platform, status := e.driver.GetDevicePlatform(e.device)
		if err := check(status, "clGetDeviceInfo(CL_DEVICE_PLATFORM)"); err != nil {
			e.err = err
			return
		}
		switch fn := e.driver.GetExtensionFunctionAddressForPlatform(platform, USMExtensionFunction).(type) {
		case SetKernelArgMemPointerINTEL:
			e.setKernelArgMemPointer = fn
		case func(KernelHandle, uint32, uintptr) Status:
			e.setKernelArgMemPointer = fn
		}
		if e.setKernelArgMemPointer == nil {
			e.err = errors.WithStack(&device.ExtensionUnavailableError{Backend: device.OpenCL, Extension: USMExtensionFunction})
			return
		}
		klog.V(1).Infof("cl: resolved %s for platform 0x%x", USMExtensionFunction, uintptr(platform))
	})
	return e.setKernelArgMemPointer, e.err
}

// Binder sets the arguments of an OpenCL kernel.
type Binder struct {
	driver     Driver
	kernel     KernelHandle
	extensions *Extensions
}

var _ device.ArgBinder = (*Binder)(nil)

// NewBinder creates a binder for the kernel. The extensions are only used for USM pointer arguments.
func NewBinder(driver Driver, kernel KernelHandle, extensions *Extensions) *Binder {
	return &Binder{driver: driver, kernel: kernel, extensions: extensions}
}

// SetArg implements device.ArgBinder.
func (b *Binder) SetArg(index int, value []byte) error {
	return check(b.driver.SetKernelArg(b.kernel, uint32(index), value), "clSetKernelArg")
}

// SetMemArg implements device.ArgBinder.
//
// Buffers are bound as plain values, USM pointers through the USMExtensionFunction and SVM pointers with
// clSetKernelArgSVMPointer.
func (b *Binder) SetMemArg(index int, mem device.Mem) error {
	switch mem.Kind {
	case device.MemBuffer:
		return b.SetArg(index, mem.Value.Bytes())
	case device.MemUSMPointer:
		setter, err := b.extensions.SetKernelArgMemPointer()
		if err != nil {
			return err
		}
		return check(setter(b.kernel, uint32(index), uintptr(mem.Value)), USMExtensionFunction)
	case device.MemSVMPointer:
		return check(b.driver.SetKernelArgSVMPointer(b.kernel, uint32(index), uintptr(mem.Value)),
			"clSetKernelArgSVMPointer")
	}
	return errors.WithStack(&device.UnsupportedMemoryKindError{Backend: device.OpenCL, Kind: mem.Kind})
}
