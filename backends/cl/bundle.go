package cl

import (
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/handle"
	"k8s.io/klog/v2"
)

// NewModule takes ownership of program, returning a shared module handle that releases it.
func NewModule(driver Driver, program ProgramHandle) *handle.Shared[handle.Module] {
	return handle.NewShared(handle.Module(program), func(m handle.Module) {
		if status := driver.ReleaseProgram(ProgramHandle(m)); status != Success {
			klog.Errorf("cl: clReleaseProgram(0x%x) failed: %s", uintptr(m), status)
		}
	})
}

// Bundle is a built OpenCL program.
type Bundle struct {
	driver Driver
	device DeviceHandle
	module *handle.Shared[handle.Module]
}

var _ device.KernelBundle = (*Bundle)(nil)

// Program returns the native program, or 0 if the bundle was released.
func (b *Bundle) Program() ProgramHandle {
	return ProgramHandle(b.module.Get())
}

// Module implements device.KernelBundle.
func (b *Bundle) Module() *handle.Shared[handle.Module] {
	return b.module
}

// Binary implements device.KernelBundle.
func (b *Bundle) Binary() ([]byte, error) {
	return ProgramBinary(b.driver, b.Program(), b.device)
}

// Release implements device.KernelBundle.
func (b *Bundle) Release() {
	b.module.Release()
}

// Kernel is an OpenCL kernel. It holds its own reference to the native kernel.
type Kernel struct {
	name   string
	kernel *handle.Shared[KernelHandle]
}

var _ device.Kernel = (*Kernel)(nil)

// newKernel retains kernel for the returned Kernel, which releases it on Release.
func newKernel(driver Driver, name string, kernel KernelHandle) (*Kernel, error) {
	if err := check(driver.RetainKernel(kernel), "clRetainKernel"); err != nil {
		return nil, err
	}
	return &Kernel{
		name: name,
		kernel: handle.NewShared(kernel, func(k KernelHandle) {
			if status := driver.ReleaseKernel(k); status != Success {
				klog.Errorf("cl: clReleaseKernel(0x%x) failed: %s", uintptr(k), status)
			}
		}),
	}, nil
}

// Name implements device.Kernel.
func (k *Kernel) Name() string { return k.name }

// Native returns the native kernel, or 0 if released.
func (k *Kernel) Native() KernelHandle { return k.kernel.Get() }

// Release implements device.Kernel.
func (k *Kernel) Release() { k.kernel.Release() }
