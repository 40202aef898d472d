package sycl

import (
	"fmt"
	"runtime"

	"github.com/gomlx/kernelrt/cache"
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/handle"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// API is the device.API of a SYCL queue.
type API struct {
	runtime Runtime
	queue   QueueHandle
	context ContextHandle
	device  DeviceHandle
	native  nativeBackend
}

var _ device.API = (*API)(nil)

// New creates an API for the queue, on the queue's context and device.
func New(rt Runtime, queue QueueHandle) (*API, error) {
	return NewWithContext(rt, queue, rt.QueueContext(queue), rt.QueueDevice(queue))
}

// NewWithContext creates an API for the queue with an explicitly given context and device.
func NewWithContext(rt Runtime, queue QueueHandle, context ContextHandle, dev DeviceHandle) (*API, error) {
	native, err := newNativeBackend(rt, context, dev)
	if err != nil {
		return nil, err
	}
	a := &API{runtime: rt, queue: queue, context: context, device: dev, native: native}
	runtime.SetFinalizer(a, func(a *API) {
		if err := a.Destroy(); err != nil {
			klog.Errorf("sycl.API.Destroy failed: %v", err)
		}
	})
	return a, nil
}

// errDestroyed is returned by the methods that need the native backend after Destroy.
func errDestroyed(method string) error {
	return errors.Errorf("sycl.API.%s: API has been destroyed", method)
}

// Destroy releases the native objects held by the backend strategy. It is idempotent.
func (a *API) Destroy() error {
	if a == nil || a.native == nil {
		return nil
	}
	err := a.native.destroy()
	a.native = nil
	return err
}

// String implements fmt.Stringer.
func (a *API) String() string {
	kind := "destroyed"
	if a.native != nil {
		kind = a.native.kind().String()
	}
	return fmt.Sprintf("SYCL API (queue=0x%x, backend=%s)", uintptr(a.queue), kind)
}

// Backend implements device.API.
func (a *API) Backend() device.Backend { return device.SYCL }

// NativeBackend returns the concrete backend the device resolved to. After Destroy it is still queried from
// the runtime.
func (a *API) NativeBackend() BackendKind {
	if a.native == nil {
		return a.runtime.DeviceBackend(a.device)
	}
	return a.native.kind()
}

// Info implements device.API.
func (a *API) Info() (device.Info, error) {
	props, err := a.runtime.DeviceInfo(a.device)
	if err != nil {
		return device.Info{}, errors.WithMessagef(err, "sycl: device info")
	}
	deviceType := device.Custom
	switch props.Type {
	case DeviceTypeCPU:
		deviceType = device.CPU
	case DeviceTypeGPU:
		deviceType = device.GPU
	}
	return device.NewInfo(props.MaxWorkGroupSize, props.SubGroupSizes, props.LocalMemSize, deviceType), nil
}

// DeviceID implements device.API.
func (a *API) DeviceID() (uint64, error) {
	if a.native == nil {
		return 0, errDestroyed("DeviceID")
	}
	return a.native.deviceID()
}

// newBundle wraps module in a runtime bundle. On failure module is released.
func (a *API) newBundle(module *handle.Shared[handle.Module]) (*Bundle, error) {
	if a.native == nil {
		module.Release()
		return nil, errDestroyed("MakeKernelBundle")
	}
	bundle, err := a.native.makeBundle(module.Get())
	if err != nil {
		module.Release()
		return nil, err
	}
	return &Bundle{
		native: a.native,
		module: module,
		bundle: handle.NewShared(bundle, a.runtime.ReleaseBundle),
	}, nil
}

// BuildKernelBundle implements device.API.
func (a *API) BuildKernelBundle(source string, opts device.Options) (device.KernelBundle, error) {
	if a.native == nil {
		return nil, errDestroyed("BuildKernelBundle")
	}
	module, err := a.native.buildModule(source, opts)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("sycl: built module 0x%x (%s) from %d bytes of source", uintptr(module.Get()), a.native.kind(), len(source))
	return a.newBundle(module)
}

// BuildKernelBundleFromBinary implements device.API.
func (a *API) BuildKernelBundleFromBinary(binary []byte, format device.ModuleFormat, opts device.Options) (device.KernelBundle, error) {
	if a.native == nil {
		return nil, errDestroyed("BuildKernelBundleFromBinary")
	}
	module, err := a.native.buildModuleFromBinary(binary, format, opts)
	if err != nil {
		return nil, err
	}
	return a.newBundle(module)
}

// MakeKernelBundle implements device.API.
func (a *API) MakeKernelBundle(module *handle.Shared[handle.Module]) (device.KernelBundle, error) {
	if a.native == nil {
		return nil, errDestroyed("MakeKernelBundle")
	}
	if !module.IsValid() {
		return nil, errors.New("sycl.API.MakeKernelBundle: invalid module")
	}
	return a.newBundle(module.Clone())
}

// CreateKernel implements device.API.
func (a *API) CreateKernel(bundle device.KernelBundle, name string) (device.Kernel, error) {
	if a.native == nil {
		return nil, errDestroyed("CreateKernel")
	}
	b, ok := bundle.(*Bundle)
	if !ok {
		return nil, errors.Errorf("sycl.API.CreateKernel: bundle is a %T, not a *sycl.Bundle", bundle)
	}
	if b.Native() == 0 || !b.module.IsValid() {
		return nil, errors.New("sycl.API.CreateKernel: bundle has been released")
	}
	kernel, err := a.native.createKernel(b.Native(), b.module.Get(), name)
	if err != nil {
		return nil, err
	}
	return &Kernel{name: name, kernel: handle.NewShared(kernel, a.runtime.ReleaseKernel)}, nil
}

// LaunchKernel implements device.API. The nd-range is submitted in SYCL order: the sizes are reversed.
func (a *API) LaunchKernel(kernel device.Kernel, global, local [3]int, deps []device.Event,
	bindArgs func(device.ArgBinder) error) (device.Event, error) {
	if a.native == nil {
		return nil, errDestroyed("LaunchKernel")
	}
	k, ok := kernel.(*Kernel)
	if !ok {
		return nil, errors.Errorf("sycl.API.LaunchKernel: kernel is a %T, not a *sycl.Kernel", kernel)
	}
	if k.Native() == 0 {
		return nil, errors.Errorf("sycl.API.LaunchKernel: kernel %q has been released", k.Name())
	}
	events, err := waitList(deps)
	if err != nil {
		return nil, err
	}
	if bindArgs != nil {
		if err := bindArgs(&Binder{native: a.native, kernel: k.Native()}); err != nil {
			return nil, errors.WithMessagef(err, "sycl: binding arguments of kernel %q", k.Name())
		}
	}
	globalRange := [3]uint64{uint64(global[2]), uint64(global[1]), uint64(global[0])}
	localRange := [3]uint64{uint64(local[2]), uint64(local[1]), uint64(local[0])}
	event, err := a.runtime.Submit(a.queue, k.Native(), globalRange, localRange, events)
	if err != nil {
		return nil, errors.WithMessagef(err, "sycl: launching kernel %q", k.Name())
	}
	klog.V(2).Infof("sycl: launched %q global=%v local=%v deps=%d", k.Name(), global, local, len(events))
	return newEvent(a.runtime, event), nil
}

func waitList(deps []device.Event) ([]EventHandle, error) {
	events := make([]EventHandle, 0, len(deps))
	for i, dep := range deps {
		e, ok := dep.(*Event)
		if !ok {
			return nil, errors.Errorf("sycl: dependency #%d is a %T, not a *sycl.Event", i, dep)
		}
		if e.Native() == 0 {
			return nil, errors.Errorf("sycl: dependency #%d has been released", i)
		}
		events = append(events, e.Native())
	}
	return events, nil
}

// CreateDeviceBuffer implements device.API. It returns a USM pointer.
func (a *API) CreateDeviceBuffer(bytes int) (device.Mem, error) {
	ptr, err := a.runtime.MallocDevice(uint64(bytes), a.device, a.context)
	if err != nil {
		return device.Mem{}, errors.WithMessagef(err, "sycl: malloc_device of %d bytes", bytes)
	}
	return device.NewMem(handle.Native(ptr), device.MemUSMPointer), nil
}

// CreateTwiddleTable implements device.API.
func (a *API) CreateTwiddleTable(hostData []byte) (device.Mem, error) {
	mem, err := a.CreateDeviceBuffer(len(hostData))
	if err != nil {
		return device.Mem{}, err
	}
	event, err := a.runtime.Memcpy(a.queue, uintptr(mem.Value), hostData)
	if err == nil {
		err = a.runtime.Wait(event)
		a.runtime.ReleaseEvent(event)
	}
	if err != nil {
		if err2 := a.ReleaseBuffer(mem); err2 != nil {
			klog.Errorf("sycl: failed to free twiddle table after failed upload: %+v", err2)
		}
		return device.Mem{}, errors.WithMessagef(err, "sycl: uploading %d bytes", len(hostData))
	}
	return mem, nil
}

// ReleaseEvent implements device.API. It does nothing: runtime events are released when garbage collected.
func (a *API) ReleaseEvent(device.Event) error { return nil }

// ReleaseBuffer implements device.API.
func (a *API) ReleaseBuffer(mem device.Mem) error {
	if mem.Kind != device.MemUSMPointer {
		return errors.WithStack(&device.UnsupportedMemoryKindError{Backend: device.SYCL, Kind: mem.Kind})
	}
	if err := a.runtime.Free(uintptr(mem.Value), a.context); err != nil {
		return errors.WithMessagef(err, "sycl: free")
	}
	return nil
}

// CreateAOTModule implements device.API.
func (a *API) CreateAOTModule(binary []byte, format device.ModuleFormat) (*cache.AOTModule, error) {
	if a.native == nil {
		return nil, errDestroyed("CreateAOTModule")
	}
	module, err := a.native.buildModuleFromBinary(binary, format, device.DefaultOptions())
	if err != nil {
		return nil, err
	}
	names, err := a.native.kernelNames(module.Get())
	if err != nil {
		module.Release()
		return nil, err
	}
	id, err := a.DeviceID()
	if err != nil {
		module.Release()
		return nil, err
	}
	aotModule, err := cache.NewAOTModule(module, names, id)
	if err != nil {
		module.Release()
		return nil, err
	}
	return aotModule, nil
}
