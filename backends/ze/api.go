package ze

import (
	"fmt"
	"runtime"

	"github.com/gomlx/kernelrt/cache"
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/handle"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// API is the device.API of a Level Zero command list.
//
// The command list, context and device are owned by the caller. The API owns its event pool, destroyed by
// Destroy or when garbage collected.
type API struct {
	driver   Driver
	compiler Compiler
	list     CommandListHandle
	context  ContextHandle
	device   DeviceHandle
	pool     *EventPool
}

var _ device.API = (*API)(nil)

type config struct {
	eventPoolSize int
}

// Option configures New.
type Option func(*config)

// WithEventPoolSize sets the capacity of the event pool, the maximum number of launches and uploads that can be
// in flight at the same time. Default is DefaultEventPoolSize.
func WithEventPoolSize(size int) Option {
	return func(c *config) {
		c.eventPoolSize = size
	}
}

// New creates an API for the command list. The compiler is used to compile kernel source to SPIR-V.
func New(driver Driver, compiler Compiler, list CommandListHandle, context ContextHandle, dev DeviceHandle,
	options ...Option) (*API, error) {
	cfg := config{eventPoolSize: DefaultEventPoolSize}
	for _, option := range options {
		option(&cfg)
	}
	pool, err := NewEventPool(driver, context, cfg.eventPoolSize)
	if err != nil {
		return nil, err
	}
	a := &API{driver: driver, compiler: compiler, list: list, context: context, device: dev, pool: pool}
	runtime.SetFinalizer(a, func(a *API) {
		if err := a.Destroy(); err != nil {
			klog.Errorf("ze.API.Destroy failed: %v", err)
		}
	})
	return a, nil
}

// Destroy destroys the event pool. It is a no-op if already destroyed.
func (a *API) Destroy() error {
	if a == nil || a.pool == nil {
		return nil
	}
	err := a.pool.Destroy()
	a.pool = nil
	return err
}

// String implements fmt.Stringer.
func (a *API) String() string {
	return fmt.Sprintf("LevelZero API (command list=0x%x, device=0x%x)", uintptr(a.list), uintptr(a.device))
}

// Backend implements device.API.
func (a *API) Backend() device.Backend { return device.LevelZero }

// Driver returns the native driver.
func (a *API) Driver() Driver { return a.driver }

// EventPool returns the pool the events of the API come from.
func (a *API) EventPool() *EventPool { return a.pool }

// Info implements device.API.
func (a *API) Info() (device.Info, error) {
	return DeviceInfo(a.driver, a.device)
}

// DeviceID implements device.API.
func (a *API) DeviceID() (uint64, error) {
	return DeviceID(a.driver, a.device)
}

// BuildKernelBundle implements device.API.
func (a *API) BuildKernelBundle(source string, opts device.Options) (device.KernelBundle, error) {
	module, err := BuildModuleFromSource(a.driver, a.compiler, a.context, a.device, source, opts)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("ze: built module 0x%x from %d bytes of source", uintptr(module), len(source))
	return &Bundle{driver: a.driver, module: NewModule(a.driver, module)}, nil
}

// BuildKernelBundleFromBinary implements device.API. The options are not used: binaries are already compiled.
func (a *API) BuildKernelBundleFromBinary(binary []byte, format device.ModuleFormat, _ device.Options) (device.KernelBundle, error) {
	module, err := BuildModule(a.driver, a.context, a.device, binary, format)
	if err != nil {
		return nil, err
	}
	return &Bundle{driver: a.driver, module: NewModule(a.driver, module)}, nil
}

// MakeKernelBundle implements device.API.
func (a *API) MakeKernelBundle(module *handle.Shared[handle.Module]) (device.KernelBundle, error) {
	if !module.IsValid() {
		return nil, errors.New("ze.API.MakeKernelBundle: invalid module")
	}
	return &Bundle{driver: a.driver, module: module.Clone()}, nil
}

// CreateKernel implements device.API.
func (a *API) CreateKernel(bundle device.KernelBundle, name string) (device.Kernel, error) {
	b, ok := bundle.(*Bundle)
	if !ok {
		return nil, errors.Errorf("ze.API.CreateKernel: bundle is a %T, not a *ze.Bundle", bundle)
	}
	if b.NativeModule() == 0 {
		return nil, errors.New("ze.API.CreateKernel: bundle has been released")
	}
	kernel, err := CreateKernel(a.driver, b.NativeModule(), name)
	if err != nil {
		return nil, err
	}
	return NewKernel(a.driver, name, kernel), nil
}

// LaunchKernel implements device.API. The launch signals an event of the pool.
func (a *API) LaunchKernel(kernel device.Kernel, global, local [3]int, deps []device.Event,
	bindArgs func(device.ArgBinder) error) (device.Event, error) {
	k, ok := kernel.(*Kernel)
	if !ok {
		return nil, errors.Errorf("ze.API.LaunchKernel: kernel is a %T, not a *ze.Kernel", kernel)
	}
	if k.Native() == 0 {
		return nil, errors.Errorf("ze.API.LaunchKernel: kernel %q has been released", k.Name())
	}
	if a.pool == nil {
		return nil, errors.New("ze.API.LaunchKernel: API has been destroyed")
	}
	for axis := range 3 {
		if local[axis] <= 0 {
			return nil, errors.Errorf("ze.API.LaunchKernel: local size %v must be positive in every dimension", local)
		}
	}
	events, err := waitList(deps)
	if err != nil {
		return nil, err
	}
	if bindArgs != nil {
		if err := bindArgs(NewBinder(a.driver, k.Native())); err != nil {
			return nil, errors.WithMessagef(err, "ze: binding arguments of kernel %q", k.Name())
		}
	}
	result := a.driver.KernelSetGroupSize(k.Native(), uint32(local[0]), uint32(local[1]), uint32(local[2]))
	if err := check(result, "zeKernelSetGroupSize"); err != nil {
		return nil, err
	}
	groups := GroupCount{
		X: uint32(global[0] / local[0]),
		Y: uint32(global[1] / local[1]),
		Z: uint32(global[2] / local[2]),
	}
	event, err := a.pool.GetEvent()
	if err != nil {
		return nil, err
	}
	result = a.driver.CommandListAppendLaunchKernel(a.list, k.Native(), groups, event, events)
	if err := check(result, "zeCommandListAppendLaunchKernel"); err != nil {
		return nil, errors.WithMessagef(err, "launching kernel %q", k.Name())
	}
	klog.V(2).Infof("ze: launched %q groups=%+v local=%v deps=%d", k.Name(), groups, local, len(events))
	return &Event{driver: a.driver, event: event}, nil
}

// CreateDeviceBuffer implements device.API. It returns a USM pointer.
func (a *API) CreateDeviceBuffer(bytes int) (device.Mem, error) {
	ptr, result := a.driver.MemAllocDevice(a.context, uint64(bytes), 0, a.device)
	if err := check(result, "zeMemAllocDevice"); err != nil {
		return device.Mem{}, errors.WithMessagef(err, "allocating %d bytes", bytes)
	}
	return device.NewMem(handle.Native(ptr), device.MemUSMPointer), nil
}

// CreateTwiddleTable implements device.API. It uploads the host data through the command list and waits for
// it, leaving the command list reset.
func (a *API) CreateTwiddleTable(hostData []byte) (device.Mem, error) {
	if a.pool == nil {
		return device.Mem{}, errors.New("ze.API.CreateTwiddleTable: API has been destroyed")
	}
	event, err := a.pool.GetEvent()
	if err != nil {
		return device.Mem{}, err
	}
	mem, err := a.CreateDeviceBuffer(len(hostData))
	if err != nil {
		return device.Mem{}, err
	}
	err = a.upload(uintptr(mem.Value), hostData, event)
	if err != nil {
		if err2 := a.ReleaseBuffer(mem); err2 != nil {
			klog.Errorf("ze: failed to free twiddle table after failed upload: %+v", err2)
		}
		return device.Mem{}, errors.WithMessagef(err, "uploading %d bytes", len(hostData))
	}
	return mem, nil
}

func (a *API) upload(dst uintptr, hostData []byte, event EventHandle) error {
	result := a.driver.CommandListAppendMemoryCopy(a.list, dst, hostData, event, nil)
	if err := check(result, "zeCommandListAppendMemoryCopy"); err != nil {
		return err
	}
	if err := check(a.driver.CommandListClose(a.list), "zeCommandListClose"); err != nil {
		return err
	}
	if err := check(a.driver.EventHostSynchronize(event, TimeoutInfinite), "zeEventHostSynchronize"); err != nil {
		return err
	}
	if err := check(a.driver.EventHostReset(event), "zeEventHostReset"); err != nil {
		return err
	}
	return check(a.driver.CommandListReset(a.list), "zeCommandListReset")
}

// ReleaseEvent implements device.API. The event is reset and returns to the pool, which owns it.
func (a *API) ReleaseEvent(event device.Event) error {
	e, ok := event.(*Event)
	if !ok {
		return errors.Errorf("ze.API.ReleaseEvent: event is a %T, not a *ze.Event", event)
	}
	if e.event == 0 {
		return nil
	}
	result := a.driver.EventHostReset(e.event)
	e.event = 0
	return check(result, "zeEventHostReset")
}

// ReleaseBuffer implements device.API.
func (a *API) ReleaseBuffer(mem device.Mem) error {
	if mem.Kind != device.MemUSMPointer {
		return errors.WithStack(&device.UnsupportedMemoryKindError{Backend: device.LevelZero, Kind: mem.Kind})
	}
	return check(a.driver.MemFree(a.context, uintptr(mem.Value)), "zeMemFree")
}

// CreateAOTModule implements device.API.
func (a *API) CreateAOTModule(binary []byte, format device.ModuleFormat) (*cache.AOTModule, error) {
	native, err := BuildModule(a.driver, a.context, a.device, binary, format)
	if err != nil {
		return nil, err
	}
	module := NewModule(a.driver, native)
	names, err := ModuleKernelNames(a.driver, native)
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
