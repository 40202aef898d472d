package sycl

import (
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/handle"
	"github.com/pkg/errors"
)

// Bundle is a runtime kernel bundle and the native module it wraps.
type Bundle struct {
	native nativeBackend
	module *handle.Shared[handle.Module]
	bundle *handle.Shared[BundleHandle]
}

var _ device.KernelBundle = (*Bundle)(nil)

// Native returns the runtime bundle, or 0 if released.
func (b *Bundle) Native() BundleHandle { return b.bundle.Get() }

// Module implements device.KernelBundle.
func (b *Bundle) Module() *handle.Shared[handle.Module] { return b.module }

// Binary implements device.KernelBundle.
func (b *Bundle) Binary() ([]byte, error) {
	if !b.module.IsValid() {
		return nil, errors.New("sycl.Bundle.Binary: bundle has been released")
	}
	return b.native.binary(b.module.Get())
}

// Release implements device.KernelBundle.
func (b *Bundle) Release() {
	b.bundle.Release()
	b.module.Release()
}

// Kernel is a runtime kernel.
type Kernel struct {
	name   string
	kernel *handle.Shared[KernelHandle]
}

var _ device.Kernel = (*Kernel)(nil)

// Name implements device.Kernel.
func (k *Kernel) Name() string { return k.name }

// Native returns the runtime kernel, or 0 if released.
func (k *Kernel) Native() KernelHandle { return k.kernel.Get() }

// Release implements device.Kernel.
func (k *Kernel) Release() { k.kernel.Release() }

// Event is a runtime event, released when garbage collected.
type Event struct {
	runtime Runtime
	event   *handle.Shared[EventHandle]
}

var _ device.Event = (*Event)(nil)

// Native returns the runtime event.
func (e *Event) Native() EventHandle {
	if e == nil {
		return 0
	}
	return e.event.Get()
}

// Await implements device.Event.
func (e *Event) Await() error {
	if e.Native() == 0 {
		return errors.New("sycl.Event is nil or has been released")
	}
	return e.runtime.Wait(e.event.Get())
}

func newEvent(runtime Runtime, event EventHandle) *Event {
	return &Event{runtime: runtime, event: handle.NewShared(event, runtime.ReleaseEvent)}
}

// Binder binds kernel arguments by extracting the native kernel of the active backend and delegating to its
// binder.
type Binder struct {
	native nativeBackend
	kernel KernelHandle
}

var _ device.ArgBinder = (*Binder)(nil)

// SetArg implements device.ArgBinder.
func (b *Binder) SetArg(index int, value []byte) error {
	return b.native.withBinder(b.kernel, func(nb device.ArgBinder) error {
		return nb.SetArg(index, value)
	})
}

// SetMemArg implements device.ArgBinder.
func (b *Binder) SetMemArg(index int, mem device.Mem) error {
	return b.native.withBinder(b.kernel, func(nb device.ArgBinder) error {
		return nb.SetMemArg(index, mem)
	})
}
