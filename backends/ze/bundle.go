package ze

import (
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/handle"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NewModule wraps a module in a shared module handle that destroys it.
func NewModule(driver Driver, module ModuleHandle) *handle.Shared[handle.Module] {
	return handle.NewShared(handle.Module(module), func(m handle.Module) {
		destroyModule(driver, ModuleHandle(m))
	})
}

// Bundle is a Level Zero module.
type Bundle struct {
	driver Driver
	module *handle.Shared[handle.Module]
}

var _ device.KernelBundle = (*Bundle)(nil)

// NativeModule returns the native module, or 0 if the bundle was released.
func (b *Bundle) NativeModule() ModuleHandle {
	return ModuleHandle(b.module.Get())
}

// Module implements device.KernelBundle.
func (b *Bundle) Module() *handle.Shared[handle.Module] {
	return b.module
}

// Binary implements device.KernelBundle.
func (b *Bundle) Binary() ([]byte, error) {
	return ModuleNativeBinary(b.driver, b.NativeModule())
}

// Release implements device.KernelBundle.
func (b *Bundle) Release() {
	b.module.Release()
}

// Kernel is a Level Zero kernel, destroyed when released.
type Kernel struct {
	name   string
	kernel *handle.Shared[KernelHandle]
}

var _ device.Kernel = (*Kernel)(nil)

// NewKernel takes ownership of kernel.
func NewKernel(driver Driver, name string, kernel KernelHandle) *Kernel {
	return &Kernel{
		name: name,
		kernel: handle.NewShared(kernel, func(k KernelHandle) {
			if result := driver.KernelDestroy(k); result != Success {
				klog.Errorf("ze: zeKernelDestroy(0x%x) failed: %s", uintptr(k), result)
			}
		}),
	}
}

// Name implements device.Kernel.
func (k *Kernel) Name() string { return k.name }

// Native returns the native kernel, or 0 if released.
func (k *Kernel) Native() KernelHandle { return k.kernel.Get() }

// Release implements device.Kernel.
func (k *Kernel) Release() { k.kernel.Release() }

// Event is an event of the API's event pool.
type Event struct {
	driver Driver
	event  EventHandle
}

var _ device.Event = (*Event)(nil)

// Native returns the native event.
func (e *Event) Native() EventHandle {
	if e == nil {
		return 0
	}
	return e.event
}

// Await implements device.Event.
func (e *Event) Await() error {
	if e == nil || e.event == 0 {
		return errors.New("ze.Event is nil or has been released")
	}
	return check(e.driver.EventHostSynchronize(e.event, TimeoutInfinite), "zeEventHostSynchronize")
}

// waitList converts dependencies to native events.
func waitList(deps []device.Event) ([]EventHandle, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	events := make([]EventHandle, 0, len(deps))
	for i, dep := range deps {
		e, ok := dep.(*Event)
		if !ok {
			return nil, errors.Errorf("ze: dependency #%d is a %T, not a *ze.Event", i, dep)
		}
		if e.Native() == 0 {
			return nil, errors.Errorf("ze: dependency #%d has been released", i)
		}
		events = append(events, e.event)
	}
	return events, nil
}
