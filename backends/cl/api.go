package cl

import (
	"fmt"
	"runtime"

	"github.com/gomlx/kernelrt/cache"
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/handle"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// API is the device.API of an OpenCL command queue.
//
// It holds a reference (retain) on the queue and its context, released by Destroy or when garbage collected.
type API struct {
	driver     Driver
	queue      QueueHandle
	context    ContextHandle
	device     DeviceHandle
	extensions *Extensions
}

var _ device.API = (*API)(nil)

// New creates an API for the queue, querying its context and device.
func New(driver Driver, queue QueueHandle) (*API, error) {
	if err := check(driver.RetainCommandQueue(queue), "clRetainCommandQueue"); err != nil {
		return nil, err
	}
	a := &API{driver: driver, queue: queue}
	context, status := driver.GetCommandQueueContext(queue)
	if err := check(status, "clGetCommandQueueInfo(CL_QUEUE_CONTEXT)"); err != nil {
		a.releaseOrLog()
		return nil, err
	}
	if err := check(driver.RetainContext(context), "clRetainContext"); err != nil {
		a.releaseOrLog()
		return nil, err
	}
	a.context = context
	a.device, status = driver.GetCommandQueueDevice(queue)
	if err := check(status, "clGetCommandQueueInfo(CL_QUEUE_DEVICE)"); err != nil {
		a.releaseOrLog()
		return nil, err
	}
	a.extensions = NewExtensions(driver, a.device)
	return a.track(), nil
}

// NewWithContext creates an API for the queue with an explicitly given context and device.
func NewWithContext(driver Driver, queue QueueHandle, context ContextHandle, dev DeviceHandle) (*API, error) {
	if err := check(driver.RetainCommandQueue(queue), "clRetainCommandQueue"); err != nil {
		return nil, err
	}
	a := &API{driver: driver, queue: queue, device: dev}
	if err := check(driver.RetainContext(context), "clRetainContext"); err != nil {
		a.releaseOrLog()
		return nil, err
	}
	a.context = context
	a.extensions = NewExtensions(driver, dev)
	return a.track(), nil
}

// track registers the finalizer that releases the native objects.
func (a *API) track() *API {
	runtime.SetFinalizer(a, func(a *API) {
		if err := a.Destroy(); err != nil {
			klog.Errorf("cl.API.Destroy failed: %v", err)
		}
	})
	return a
}

func (a *API) releaseOrLog() {
	if err := a.Destroy(); err != nil {
		klog.Errorf("cl: failed to release partially constructed API: %+v", err)
	}
}

// Clone returns another API on the same queue, context and device, with its own references to the queue
// and context. The resolved extensions are shared.
func (a *API) Clone() (*API, error) {
	if a.queue == 0 {
		return nil, errors.New("cl.API.Clone() called on a destroyed API")
	}
	if err := check(a.driver.RetainCommandQueue(a.queue), "clRetainCommandQueue"); err != nil {
		return nil, err
	}
	if err := check(a.driver.RetainContext(a.context), "clRetainContext"); err != nil {
		if status := a.driver.ReleaseCommandQueue(a.queue); status != Success {
			klog.Errorf("cl: clReleaseCommandQueue failed: %s", status)
		}
		return nil, err
	}
	c := &API{driver: a.driver, queue: a.queue, context: a.context, device: a.device, extensions: a.extensions}
	return c.track(), nil
}

// Destroy releases the context and the queue. It is a no-op if already destroyed.
func (a *API) Destroy() error {
	if a == nil || a.queue == 0 {
		return nil
	}
	var err error
	if a.context != 0 {
		err = check(a.driver.ReleaseContext(a.context), "clReleaseContext")
		a.context = 0
	}
	if err2 := check(a.driver.ReleaseCommandQueue(a.queue), "clReleaseCommandQueue"); err2 != nil && err == nil {
		err = err2
	}
	a.queue = 0
	return err
}

// String implements fmt.Stringer.
func (a *API) String() string {
	return fmt.Sprintf("OpenCL API (queue=0x%x, device=0x%x)", uintptr(a.queue), uintptr(a.device))
}

// Backend implements device.API.
func (a *API) Backend() device.Backend { return device.OpenCL }

// Driver returns the native driver.
func (a *API) Driver() Driver { return a.driver }

// Context returns the native context.
func (a *API) Context() ContextHandle { return a.context }

// Device returns the native device.
func (a *API) Device() DeviceHandle { return a.device }

// Info implements device.API.
func (a *API) Info() (device.Info, error) {
	return DeviceInfo(a.driver, a.device)
}

// DeviceID implements device.API.
func (a *API) DeviceID() (uint64, error) {
	return DeviceID(a.driver, a.device)
}

func (a *API) newBundle(program ProgramHandle) *Bundle {
	return &Bundle{driver: a.driver, device: a.device, module: NewModule(a.driver, program)}
}

// BuildKernelBundle implements device.API.
func (a *API) BuildKernelBundle(source string, opts device.Options) (device.KernelBundle, error) {
	program, err := BuildProgram(a.driver, a.context, a.device, source, opts)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("cl: built program 0x%x from %d bytes of source", uintptr(program), len(source))
	return a.newBundle(program), nil
}

// BuildKernelBundleFromBinary implements device.API.
func (a *API) BuildKernelBundleFromBinary(binary []byte, format device.ModuleFormat, opts device.Options) (device.KernelBundle, error) {
	program, err := BuildProgramFromBinary(a.driver, a.context, a.device, binary, format, opts)
	if err != nil {
		return nil, err
	}
	return a.newBundle(program), nil
}

// MakeKernelBundle implements device.API.
func (a *API) MakeKernelBundle(module *handle.Shared[handle.Module]) (device.KernelBundle, error) {
	if !module.IsValid() {
		return nil, errors.New("cl.API.MakeKernelBundle: invalid module")
	}
	return &Bundle{driver: a.driver, device: a.device, module: module.Clone()}, nil
}

// CreateKernel implements device.API.
func (a *API) CreateKernel(bundle device.KernelBundle, name string) (device.Kernel, error) {
	b, ok := bundle.(*Bundle)
	if !ok {
		return nil, errors.Errorf("cl.API.CreateKernel: bundle is a %T, not a *cl.Bundle", bundle)
	}
	if b.Program() == 0 {
		return nil, errors.New("cl.API.CreateKernel: bundle has been released")
	}
	native, err := CreateKernel(a.driver, b.Program(), name)
	if err != nil {
		return nil, err
	}
	kernel, err := newKernel(a.driver, name, native)
	if err2 := check(a.driver.ReleaseKernel(native), "clReleaseKernel"); err2 != nil && err == nil {
		kernel.Release()
		err = err2
	}
	if err != nil {
		return nil, err
	}
	return kernel, nil
}

// LaunchKernel implements device.API.
func (a *API) LaunchKernel(kernel device.Kernel, global, local [3]int, deps []device.Event,
	bindArgs func(device.ArgBinder) error) (device.Event, error) {
	k, ok := kernel.(*Kernel)
	if !ok {
		return nil, errors.Errorf("cl.API.LaunchKernel: kernel is a %T, not a *cl.Kernel", kernel)
	}
	if k.Native() == 0 {
		return nil, errors.Errorf("cl.API.LaunchKernel: kernel %q has been released", k.Name())
	}
	events, err := waitList(deps)
	if err != nil {
		return nil, err
	}
	if bindArgs != nil {
		if err := bindArgs(NewBinder(a.driver, k.Native(), a.extensions)); err != nil {
			return nil, errors.WithMessagef(err, "cl: binding arguments of kernel %q", k.Name())
		}
	}
	globalSize := []uint64{uint64(global[0]), uint64(global[1]), uint64(global[2])}
	localSize := []uint64{uint64(local[0]), uint64(local[1]), uint64(local[2])}
	event, status := a.driver.EnqueueNDRangeKernel(a.queue, k.Native(), globalSize, localSize, events)
	if err := check(status, "clEnqueueNDRangeKernel"); err != nil {
		return nil, errors.WithMessagef(err, "launching kernel %q", k.Name())
	}
	klog.V(2).Infof("cl: launched %q global=%v local=%v deps=%d", k.Name(), global, local, len(events))
	return &Event{driver: a.driver, event: event}, nil
}

// CreateDeviceBuffer implements device.API.
func (a *API) CreateDeviceBuffer(bytes int) (device.Mem, error) {
	mem, status := a.driver.CreateBuffer(a.context, MemReadWrite|MemHostNoAccess, uint64(bytes), nil)
	if err := check(status, "clCreateBuffer"); err != nil {
		return device.Mem{}, errors.WithMessagef(err, "allocating %d bytes", bytes)
	}
	return device.NewMem(handle.Native(mem), device.MemBuffer), nil
}

// CreateTwiddleTable implements device.API. The host data is copied at buffer creation.
func (a *API) CreateTwiddleTable(hostData []byte) (device.Mem, error) {
	mem, status := a.driver.CreateBuffer(a.context, MemCopyHostPtr|MemReadOnly, uint64(len(hostData)), hostData)
	if err := check(status, "clCreateBuffer"); err != nil {
		return device.Mem{}, errors.WithMessagef(err, "uploading %d bytes", len(hostData))
	}
	return device.NewMem(handle.Native(mem), device.MemBuffer), nil
}

// ReleaseEvent implements device.API.
func (a *API) ReleaseEvent(event device.Event) error {
	e, ok := event.(*Event)
	if !ok {
		return errors.Errorf("cl.API.ReleaseEvent: event is a %T, not a *cl.Event", event)
	}
	return e.release()
}

// ReleaseBuffer implements device.API.
func (a *API) ReleaseBuffer(mem device.Mem) error {
	if mem.Kind != device.MemBuffer {
		return errors.WithStack(&device.UnsupportedMemoryKindError{Backend: device.OpenCL, Kind: mem.Kind})
	}
	return check(a.driver.ReleaseMemObject(MemHandle(mem.Value)), "clReleaseMemObject")
}

// CreateAOTModule implements device.API.
func (a *API) CreateAOTModule(binary []byte, format device.ModuleFormat) (*cache.AOTModule, error) {
	program, err := BuildProgramFromBinary(a.driver, a.context, a.device, binary, format, device.DefaultOptions())
	if err != nil {
		return nil, err
	}
	module := NewModule(a.driver, program)
	names, err := ProgramKernelNames(a.driver, program)
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
