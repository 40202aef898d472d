package simdriver

import (
	"slices"
	"sync"

	"github.com/gomlx/kernelrt/backends/cl"
	"github.com/gomlx/kernelrt/backends/sycl"
	"github.com/gomlx/kernelrt/backends/ze"
	"github.com/gomlx/kernelrt/handle"
	"github.com/pkg/errors"
)

// SYCL is a simulated SYCL runtime whose only device resolves to either a simulated OpenCL or Level Zero
// backend.
type SYCL struct {
	Calls

	// Backend is the backend the device resolves to.
	Backend sycl.BackendKind

	// CL and ZE are the native backends: only the one matching Backend is set.
	CL *CL
	ZE *ZE

	Queue   sycl.QueueHandle
	Context sycl.ContextHandle
	Device  sycl.DeviceHandle

	mu          sync.Mutex
	bundles     map[sycl.BundleHandle]*syclBundle
	kernels     map[sycl.KernelHandle]*syclKernel
	events      map[sycl.EventHandle]bool
	allocations map[uintptr][]byte
	launches    []Launch
}

var _ sycl.Runtime = (*SYCL)(nil)

type syclBundle struct {
	program cl.ProgramHandle
	module  ze.ModuleHandle
	ownsZE  bool
}

type syclKernel struct {
	bundle sycl.BundleHandle
	clKern cl.KernelHandle
	zeKern ze.KernelHandle
	ownsZE bool
}

func newSYCL(kind sycl.BackendKind) *SYCL {
	return &SYCL{
		Backend:     kind,
		Queue:       sycl.QueueHandle(newHandle()),
		Context:     sycl.ContextHandle(newHandle()),
		Device:      sycl.DeviceHandle(newHandle()),
		bundles:     make(map[sycl.BundleHandle]*syclBundle),
		kernels:     make(map[sycl.KernelHandle]*syclKernel),
		events:      make(map[sycl.EventHandle]bool),
		allocations: make(map[uintptr][]byte),
	}
}

// NewSYCLOnCL creates a simulated SYCL runtime over a simulated OpenCL GPU.
func NewSYCLOnCL() *SYCL {
	s := newSYCL(sycl.BackendOpenCL)
	s.CL = NewCL()
	return s
}

// NewSYCLOnZE creates a simulated SYCL runtime over a simulated Level Zero GPU.
func NewSYCLOnZE() *SYCL {
	s := newSYCL(sycl.BackendLevelZero)
	s.ZE = NewZE()
	return s
}

// LiveBundles returns the number of runtime bundles not yet released.
func (s *SYCL) LiveBundles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bundles)
}

// LiveKernels returns the number of runtime kernels not yet released.
func (s *SYCL) LiveKernels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kernels)
}

// LiveEvents returns the number of runtime events not yet released.
func (s *SYCL) LiveEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// LiveAllocations returns the number of device allocations not freed.
func (s *SYCL) LiveAllocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allocations)
}

// Memory returns a copy of a device allocation, or nil if it doesn't exist.
func (s *SYCL) Memory(ptr uintptr) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.allocations[ptr])
}

// Launches returns the kernels submitted so far, with the nd-range in SYCL order.
func (s *SYCL) Launches() []Launch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.launches)
}

func (s *SYCL) QueueContext(queue sycl.QueueHandle) sycl.ContextHandle {
	s.add("queue::get_context")
	return s.Context
}

func (s *SYCL) QueueDevice(queue sycl.QueueHandle) sycl.DeviceHandle {
	s.add("queue::get_device")
	return s.Device
}

func (s *SYCL) DeviceBackend(device sycl.DeviceHandle) sycl.BackendKind {
	s.add("device::get_backend")
	return s.Backend
}

func (s *SYCL) DeviceInfo(device sycl.DeviceHandle) (sycl.DeviceProperties, error) {
	s.add("device::get_info")
	if device != s.Device {
		return sycl.DeviceProperties{}, errors.Errorf("invalid device 0x%x", uintptr(device))
	}
	if s.Backend == sycl.BackendOpenCL {
		props := sycl.DeviceProperties{
			MaxWorkGroupSize: s.CL.MaxWorkGroupSize,
			SubGroupSizes:    slices.Clone(s.CL.SubGroupSizes),
			LocalMemSize:     s.CL.LocalMemSize,
			Type:             sycl.DeviceTypeCustom,
		}
		switch s.CL.Type {
		case cl.DeviceTypeGPU:
			props.Type = sycl.DeviceTypeGPU
		case cl.DeviceTypeCPU:
			props.Type = sycl.DeviceTypeCPU
		}
		return props, nil
	}
	props := sycl.DeviceProperties{
		MaxWorkGroupSize: uint64(s.ZE.Compute.MaxTotalGroupSize),
		LocalMemSize:     uint64(s.ZE.Compute.MaxSharedLocalMemory),
		Type:             sycl.DeviceTypeCustom,
	}
	for _, size := range s.ZE.Compute.SubGroupSizes {
		props.SubGroupSizes = append(props.SubGroupSizes, uint64(size))
	}
	switch s.ZE.Properties.Type {
	case ze.DeviceTypeGPU:
		props.Type = sycl.DeviceTypeGPU
	case ze.DeviceTypeCPU:
		props.Type = sycl.DeviceTypeCPU
	}
	return props, nil
}

func (s *SYCL) OpenCL() cl.Driver { return s.CL }

func (s *SYCL) LevelZero() (ze.Driver, ze.Compiler) { return s.ZE, s.ZE }

func (s *SYCL) requireBackend(kind sycl.BackendKind) error {
	if s.Backend != kind {
		return errors.Errorf("device backend is %s, not %s", s.Backend, kind)
	}
	return nil
}

func (s *SYCL) NativeCLContext(context sycl.ContextHandle) (cl.ContextHandle, error) {
	s.add("get_native<opencl>(context)")
	if err := s.requireBackend(sycl.BackendOpenCL); err != nil {
		return 0, err
	}
	if status := s.CL.RetainContext(s.CL.Context); status != cl.Success {
		return 0, errors.Errorf("clRetainContext: %s", status)
	}
	return s.CL.Context, nil
}

func (s *SYCL) NativeCLDevice(device sycl.DeviceHandle) (cl.DeviceHandle, error) {
	s.add("get_native<opencl>(device)")
	if err := s.requireBackend(sycl.BackendOpenCL); err != nil {
		return 0, err
	}
	if status := s.CL.RetainDevice(s.CL.Device); status != cl.Success {
		return 0, errors.Errorf("clRetainDevice: %s", status)
	}
	return s.CL.Device, nil
}

func (s *SYCL) kernel(kernel sycl.KernelHandle) (*syclKernel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, found := s.kernels[kernel]
	if !found {
		return nil, errors.Errorf("invalid kernel 0x%x", uintptr(kernel))
	}
	return k, nil
}

func (s *SYCL) NativeCLKernel(kernel sycl.KernelHandle) (cl.KernelHandle, error) {
	s.add("get_native<opencl>(kernel)")
	k, err := s.kernel(kernel)
	if err != nil {
		return 0, err
	}
	if k.clKern == 0 {
		return 0, errors.Errorf("kernel 0x%x is not an OpenCL kernel", uintptr(kernel))
	}
	if status := s.CL.RetainKernel(k.clKern); status != cl.Success {
		return 0, errors.Errorf("clRetainKernel: %s", status)
	}
	return k.clKern, nil
}

func (s *SYCL) MakeCLKernelBundle(context sycl.ContextHandle, program cl.ProgramHandle) (sycl.BundleHandle, error) {
	s.add("make_kernel_bundle<opencl>")
	if err := s.requireBackend(sycl.BackendOpenCL); err != nil {
		return 0, err
	}
	if s.CL.Refs(handle.Native(program)) == 0 {
		return 0, errors.Errorf("invalid program 0x%x", uintptr(program))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bundle := sycl.BundleHandle(newHandle())
	s.bundles[bundle] = &syclBundle{program: program}
	return bundle, nil
}

func (s *SYCL) MakeCLKernel(context sycl.ContextHandle, kernel cl.KernelHandle) (sycl.KernelHandle, error) {
	s.add("make_kernel<opencl>")
	if err := s.requireBackend(sycl.BackendOpenCL); err != nil {
		return 0, err
	}
	if status := s.CL.RetainKernel(kernel); status != cl.Success {
		return 0, errors.Errorf("clRetainKernel: %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sycl.KernelHandle(newHandle())
	s.kernels[k] = &syclKernel{clKern: kernel}
	return k, nil
}

func (s *SYCL) NativeZEContext(context sycl.ContextHandle) (ze.ContextHandle, error) {
	s.add("get_native<ext_oneapi_level_zero>(context)")
	if err := s.requireBackend(sycl.BackendLevelZero); err != nil {
		return 0, err
	}
	return s.ZE.Context, nil
}

func (s *SYCL) NativeZEDevice(device sycl.DeviceHandle) (ze.DeviceHandle, error) {
	s.add("get_native<ext_oneapi_level_zero>(device)")
	if err := s.requireBackend(sycl.BackendLevelZero); err != nil {
		return 0, err
	}
	return s.ZE.Device, nil
}

func (s *SYCL) NativeZEKernel(kernel sycl.KernelHandle) (ze.KernelHandle, error) {
	s.add("get_native<ext_oneapi_level_zero>(kernel)")
	k, err := s.kernel(kernel)
	if err != nil {
		return 0, err
	}
	if k.zeKern == 0 {
		return 0, errors.Errorf("kernel 0x%x is not a Level Zero kernel", uintptr(kernel))
	}
	return k.zeKern, nil
}

func (s *SYCL) MakeZEKernelBundle(context sycl.ContextHandle, module ze.ModuleHandle, transferOwnership bool) (sycl.BundleHandle, error) {
	s.add("make_kernel_bundle<ext_oneapi_level_zero>")
	if err := s.requireBackend(sycl.BackendLevelZero); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bundle := sycl.BundleHandle(newHandle())
	s.bundles[bundle] = &syclBundle{module: module, ownsZE: transferOwnership}
	return bundle, nil
}

func (s *SYCL) MakeZEKernel(context sycl.ContextHandle, bundle sycl.BundleHandle, kernel ze.KernelHandle, transferOwnership bool) (sycl.KernelHandle, error) {
	s.add("make_kernel<ext_oneapi_level_zero>")
	if err := s.requireBackend(sycl.BackendLevelZero); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.bundles[bundle]; !found {
		return 0, errors.Errorf("invalid kernel bundle 0x%x", uintptr(bundle))
	}
	k := sycl.KernelHandle(newHandle())
	s.kernels[k] = &syclKernel{bundle: bundle, zeKern: kernel, ownsZE: transferOwnership}
	return k, nil
}

func (s *SYCL) ReleaseBundle(bundle sycl.BundleHandle) {
	s.add("~kernel_bundle")
	s.mu.Lock()
	b, found := s.bundles[bundle]
	delete(s.bundles, bundle)
	s.mu.Unlock()
	if !found {
		return
	}
	if b.program != 0 {
		s.CL.ReleaseProgram(b.program)
	}
	if b.ownsZE {
		s.ZE.ModuleDestroy(b.module)
	}
}

func (s *SYCL) ReleaseKernel(kernel sycl.KernelHandle) {
	s.add("~kernel")
	s.mu.Lock()
	k, found := s.kernels[kernel]
	delete(s.kernels, kernel)
	s.mu.Unlock()
	if !found {
		return
	}
	if k.clKern != 0 {
		s.CL.ReleaseKernel(k.clKern)
	}
	if k.ownsZE {
		s.ZE.KernelDestroy(k.zeKern)
	}
}

func (s *SYCL) ReleaseEvent(event sycl.EventHandle) {
	s.add("~event")
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, event)
}

func (s *SYCL) checkEvents(deps []sycl.EventHandle) ([]handle.Native, error) {
	wait := make([]handle.Native, 0, len(deps))
	for _, e := range deps {
		if !s.events[e] {
			return nil, errors.Errorf("invalid event 0x%x", uintptr(e))
		}
		wait = append(wait, handle.Native(e))
	}
	return wait, nil
}

func (s *SYCL) newEvent() sycl.EventHandle {
	event := sycl.EventHandle(newHandle())
	s.events[event] = true
	return event
}

func (s *SYCL) Submit(queue sycl.QueueHandle, kernel sycl.KernelHandle, global, local [3]uint64, deps []sycl.EventHandle) (sycl.EventHandle, error) {
	s.add("queue::parallel_for")
	if queue != s.Queue {
		return 0, errors.Errorf("invalid queue 0x%x", uintptr(queue))
	}
	k, err := s.kernel(kernel)
	if err != nil {
		return 0, err
	}
	var (
		args map[int]Arg
		name string
	)
	if k.clKern != 0 {
		args = s.CL.kernelArgs(k.clKern)
		name = s.CL.kernelName(k.clKern)
	} else {
		args = s.ZE.kernelArgs(k.zeKern)
		name = s.ZE.kernelName(k.zeKern)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wait, err := s.checkEvents(deps)
	if err != nil {
		return 0, err
	}
	for axis := range 3 {
		if local[axis] == 0 || global[axis]%local[axis] != 0 {
			return 0, errors.Errorf("nd_range: global size %v not divisible by local size %v", global, local)
		}
	}
	event := s.newEvent()
	s.launches = append(s.launches, Launch{
		Kernel: name,
		Global: global,
		Local:  local,
		Event:  handle.Native(event),
		Wait:   wait,
		Args:   args,
	})
	return event, nil
}

func (s *SYCL) Wait(event sycl.EventHandle) error {
	s.add("event::wait")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.events[event] {
		return errors.Errorf("invalid event 0x%x", uintptr(event))
	}
	return nil
}

func (s *SYCL) MallocDevice(bytes uint64, device sycl.DeviceHandle, context sycl.ContextHandle) (uintptr, error) {
	s.add("malloc_device")
	if device != s.Device || context != s.Context {
		return 0, errors.New("malloc_device: invalid device or context")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ptr := uintptr(newHandle())
	s.allocations[ptr] = make([]byte, bytes)
	return ptr, nil
}

func (s *SYCL) Free(ptr uintptr, context sycl.ContextHandle) error {
	s.add("free")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.allocations[ptr]; !found {
		return errors.Errorf("free: unknown pointer 0x%x", ptr)
	}
	delete(s.allocations, ptr)
	return nil
}

func (s *SYCL) Memcpy(queue sycl.QueueHandle, dst uintptr, src []byte) (sycl.EventHandle, error) {
	s.add("queue::memcpy")
	s.mu.Lock()
	defer s.mu.Unlock()
	mem, found := s.allocations[dst]
	if !found || len(mem) < len(src) {
		return 0, errors.Errorf("memcpy: invalid destination 0x%x for %d bytes", dst, len(src))
	}
	copy(mem, src)
	return s.newEvent(), nil
}
