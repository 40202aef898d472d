package simdriver

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/kernelrt/backends/cl"
	"github.com/gomlx/kernelrt/handle"
)

// CL is a simulated OpenCL runtime with one platform, device, context and command queue.
type CL struct {
	Calls

	// Device properties, can be changed before use.
	MaxWorkGroupSize uint64
	SubGroupSizes    []uint64
	LocalMemSize     uint64
	Type             cl.DeviceType
	VendorDeviceID   uint32

	// USMAbsent makes the platform report the USM kernel argument extension as missing.
	USMAbsent bool

	// FailBuildLog makes the build log query fail.
	FailBuildLog bool

	Platform cl.PlatformHandle
	Device   cl.DeviceHandle
	Context  cl.ContextHandle
	Queue    cl.QueueHandle

	mu       sync.Mutex
	refs     refCounts
	programs map[cl.ProgramHandle]*clProgram
	kernels  map[cl.KernelHandle]*clKernel
	buffers  map[cl.MemHandle]*Buffer
	launches []Launch
}

var _ cl.Driver = (*CL)(nil)

type clProgram struct {
	source string
	built  bool
	log    string
}

type clKernel struct {
	name string
	args map[int]Arg
}

// Buffer is a simulated memory object.
type Buffer struct {
	Flags cl.MemFlags
	Size  uint64
	Data  []byte
}

// NewCL creates a simulated OpenCL GPU. The application holds one reference to the context and queue.
func NewCL() *CL {
	s := &CL{
		MaxWorkGroupSize: 1024,
		SubGroupSizes:    []uint64{8, 16, 32},
		LocalMemSize:     64 * 1024,
		Type:             cl.DeviceTypeGPU,
		VendorDeviceID:   0x4905,
		refs:             make(refCounts),
		programs:         make(map[cl.ProgramHandle]*clProgram),
		kernels:          make(map[cl.KernelHandle]*clKernel),
		buffers:          make(map[cl.MemHandle]*Buffer),
	}
	s.Platform = cl.PlatformHandle(s.refs.create())
	s.Device = cl.DeviceHandle(s.refs.create())
	s.Context = cl.ContextHandle(s.refs.create())
	s.Queue = cl.QueueHandle(s.refs.create())
	return s
}

// Refs returns the reference count of a native object, 0 if it doesn't exist (anymore).
func (s *CL) Refs(h handle.Native) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[h]
}

// LivePrograms returns the number of programs not yet released.
func (s *CL) LivePrograms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.programs)
}

// LiveKernels returns the number of kernels not yet released.
func (s *CL) LiveKernels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kernels)
}

// Buffer returns a copy of the memory object, or nil if it doesn't exist.
func (s *CL) Buffer(mem cl.MemHandle) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, found := s.buffers[mem]
	if !found {
		return nil
	}
	c := *b
	c.Data = slices.Clone(b.Data)
	return &c
}

// Launches returns the kernels enqueued so far.
func (s *CL) Launches() []Launch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.launches)
}

func (s *CL) retain(h handle.Native, call string, invalid cl.Status) cl.Status {
	s.add(call)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.refs.retain(h) {
		return invalid
	}
	return cl.Success
}

func (s *CL) release(h handle.Native, call string, invalid cl.Status) cl.Status {
	s.add(call)
	s.mu.Lock()
	defer s.mu.Unlock()
	alive, deleted := s.refs.release(h)
	if !alive {
		return invalid
	}
	if deleted {
		delete(s.programs, cl.ProgramHandle(h))
		delete(s.kernels, cl.KernelHandle(h))
		delete(s.buffers, cl.MemHandle(h))
	}
	return cl.Success
}

func (s *CL) RetainCommandQueue(queue cl.QueueHandle) cl.Status {
	return s.retain(handle.Native(queue), "clRetainCommandQueue", cl.InvalidCommandQueue)
}

func (s *CL) ReleaseCommandQueue(queue cl.QueueHandle) cl.Status {
	return s.release(handle.Native(queue), "clReleaseCommandQueue", cl.InvalidCommandQueue)
}

func (s *CL) GetCommandQueueContext(queue cl.QueueHandle) (cl.ContextHandle, cl.Status) {
	s.add("clGetCommandQueueInfo")
	if queue != s.Queue {
		return 0, cl.InvalidCommandQueue
	}
	return s.Context, cl.Success
}

func (s *CL) GetCommandQueueDevice(queue cl.QueueHandle) (cl.DeviceHandle, cl.Status) {
	s.add("clGetCommandQueueInfo")
	if queue != s.Queue {
		return 0, cl.InvalidCommandQueue
	}
	return s.Device, cl.Success
}

func (s *CL) RetainContext(context cl.ContextHandle) cl.Status {
	return s.retain(handle.Native(context), "clRetainContext", cl.InvalidContext)
}

func (s *CL) ReleaseContext(context cl.ContextHandle) cl.Status {
	return s.release(handle.Native(context), "clReleaseContext", cl.InvalidContext)
}

func (s *CL) RetainDevice(device cl.DeviceHandle) cl.Status {
	return s.retain(handle.Native(device), "clRetainDevice", cl.InvalidDevice)
}

func (s *CL) ReleaseDevice(device cl.DeviceHandle) cl.Status {
	return s.release(handle.Native(device), "clReleaseDevice", cl.InvalidDevice)
}

func (s *CL) GetDeviceMaxWorkGroupSize(device cl.DeviceHandle) (uint64, cl.Status) {
	s.add("clGetDeviceInfo")
	if device != s.Device {
		return 0, cl.InvalidDevice
	}
	return s.MaxWorkGroupSize, cl.Success
}

func (s *CL) GetDeviceSubGroupSizes(device cl.DeviceHandle) ([]uint64, cl.Status) {
	s.add("clGetDeviceInfo")
	if device != s.Device {
		return nil, cl.InvalidDevice
	}
	return slices.Clone(s.SubGroupSizes), cl.Success
}

func (s *CL) GetDeviceLocalMemSize(device cl.DeviceHandle) (uint64, cl.Status) {
	s.add("clGetDeviceInfo")
	if device != s.Device {
		return 0, cl.InvalidDevice
	}
	return s.LocalMemSize, cl.Success
}

func (s *CL) GetDeviceType(device cl.DeviceHandle) (cl.DeviceType, cl.Status) {
	s.add("clGetDeviceInfo")
	if device != s.Device {
		return 0, cl.InvalidDevice
	}
	return s.Type, cl.Success
}

func (s *CL) GetDevicePlatform(device cl.DeviceHandle) (cl.PlatformHandle, cl.Status) {
	s.add("clGetDeviceInfo")
	if device != s.Device {
		return 0, cl.InvalidDevice
	}
	return s.Platform, cl.Success
}

func (s *CL) GetDeviceIDIntel(device cl.DeviceHandle) (uint32, cl.Status) {
	s.add("clGetDeviceInfo")
	if device != s.Device {
		return 0, cl.InvalidDevice
	}
	return s.VendorDeviceID, cl.Success
}

func (s *CL) GetExtensionFunctionAddressForPlatform(platform cl.PlatformHandle, name string) any {
	s.add("clGetExtensionFunctionAddressForPlatform")
	if platform != s.Platform || name != cl.USMExtensionFunction || s.USMAbsent {
		return nil
	}
	return cl.SetKernelArgMemPointerINTEL(func(kernel cl.KernelHandle, index uint32, ptr uintptr) cl.Status {
		return s.setArg(kernel, index, Arg{Kind: "usm", Pointer: ptr}, cl.USMExtensionFunction)
	})
}

func (s *CL) newProgram(context cl.ContextHandle, source, call string) (cl.ProgramHandle, cl.Status) {
	s.add(call)
	if context != s.Context {
		return 0, cl.InvalidContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	program := cl.ProgramHandle(s.refs.create())
	s.programs[program] = &clProgram{source: source}
	return program, cl.Success
}

func (s *CL) CreateProgramWithSource(context cl.ContextHandle, source string) (cl.ProgramHandle, cl.Status) {
	return s.newProgram(context, source, "clCreateProgramWithSource")
}

func (s *CL) CreateProgramWithIL(context cl.ContextHandle, il []byte) (cl.ProgramHandle, cl.Status) {
	source, ok := sourceOf(il)
	if !ok {
		s.add("clCreateProgramWithIL")
		return 0, cl.InvalidValue
	}
	return s.newProgram(context, source, "clCreateProgramWithIL")
}

func (s *CL) CreateProgramWithBinary(context cl.ContextHandle, device cl.DeviceHandle, binary []byte) (cl.ProgramHandle, cl.Status) {
	source, ok := sourceOf(binary)
	if !ok {
		s.add("clCreateProgramWithBinary")
		return 0, cl.InvalidBinary
	}
	if device != s.Device {
		s.add("clCreateProgramWithBinary")
		return 0, cl.InvalidDevice
	}
	return s.newProgram(context, source, "clCreateProgramWithBinary")
}

func (s *CL) BuildProgram(program cl.ProgramHandle, devices []cl.DeviceHandle, options string) cl.Status {
	s.add("clBuildProgram")
	s.mu.Lock()
	defer s.mu.Unlock()
	p, found := s.programs[program]
	if !found {
		return cl.InvalidProgram
	}
	if len(devices) != 1 || devices[0] != s.Device {
		return cl.InvalidDevice
	}
	if strings.Contains(options, "-invalid") {
		return cl.InvalidBuildOptions
	}
	var ok bool
	p.log, ok = compile("program.cl", p.source)
	if !ok {
		return cl.BuildProgramFailure
	}
	p.built = true
	return cl.Success
}

func (s *CL) GetProgramBuildLog(program cl.ProgramHandle, device cl.DeviceHandle) (string, cl.Status) {
	s.add("clGetProgramBuildInfo")
	if s.FailBuildLog {
		return "", cl.OutOfHostMemory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, found := s.programs[program]
	if !found {
		return "", cl.InvalidProgram
	}
	return p.log, cl.Success
}

func (s *CL) builtProgram(program cl.ProgramHandle) (*clProgram, cl.Status) {
	p, found := s.programs[program]
	if !found {
		return nil, cl.InvalidProgram
	}
	if !p.built {
		return nil, cl.InvalidProgramExecutable
	}
	return p, cl.Success
}

func (s *CL) GetProgramKernelNames(program cl.ProgramHandle) (string, cl.Status) {
	s.add("clGetProgramInfo")
	s.mu.Lock()
	defer s.mu.Unlock()
	p, status := s.builtProgram(program)
	if status != cl.Success {
		return "", status
	}
	return strings.Join(KernelNames(p.source), ";") + "\x00", cl.Success
}

func (s *CL) GetProgramBinary(program cl.ProgramHandle, device cl.DeviceHandle) ([]byte, cl.Status) {
	s.add("clGetProgramInfo")
	s.mu.Lock()
	defer s.mu.Unlock()
	p, status := s.builtProgram(program)
	if status != cl.Success {
		return nil, status
	}
	return Binary(p.source), cl.Success
}

func (s *CL) RetainProgram(program cl.ProgramHandle) cl.Status {
	return s.retain(handle.Native(program), "clRetainProgram", cl.InvalidProgram)
}

func (s *CL) ReleaseProgram(program cl.ProgramHandle) cl.Status {
	return s.release(handle.Native(program), "clReleaseProgram", cl.InvalidProgram)
}

func (s *CL) CreateKernel(program cl.ProgramHandle, name string) (cl.KernelHandle, cl.Status) {
	s.add("clCreateKernel")
	s.mu.Lock()
	defer s.mu.Unlock()
	p, status := s.builtProgram(program)
	if status != cl.Success {
		return 0, status
	}
	if !slices.Contains(KernelNames(p.source), name) {
		return 0, cl.InvalidKernelName
	}
	kernel := cl.KernelHandle(s.refs.create())
	s.kernels[kernel] = &clKernel{name: name, args: make(map[int]Arg)}
	return kernel, cl.Success
}

func (s *CL) RetainKernel(kernel cl.KernelHandle) cl.Status {
	return s.retain(handle.Native(kernel), "clRetainKernel", cl.InvalidKernel)
}

func (s *CL) ReleaseKernel(kernel cl.KernelHandle) cl.Status {
	return s.release(handle.Native(kernel), "clReleaseKernel", cl.InvalidKernel)
}

func (s *CL) setArg(kernel cl.KernelHandle, index uint32, arg Arg, call string) cl.Status {
	s.add(call)
	s.mu.Lock()
	defer s.mu.Unlock()
	k, found := s.kernels[kernel]
	if !found {
		return cl.InvalidKernel
	}
	k.args[int(index)] = arg
	return cl.Success
}

func (s *CL) SetKernelArg(kernel cl.KernelHandle, index uint32, value []byte) cl.Status {
	return s.setArg(kernel, index, Arg{Kind: "value", Value: slices.Clone(value)}, "clSetKernelArg")
}

func (s *CL) SetKernelArgSVMPointer(kernel cl.KernelHandle, index uint32, ptr uintptr) cl.Status {
	return s.setArg(kernel, index, Arg{Kind: "svm", Pointer: ptr}, "clSetKernelArgSVMPointer")
}

func (s *CL) EnqueueNDRangeKernel(queue cl.QueueHandle, kernel cl.KernelHandle, global, local []uint64,
	waitList []cl.EventHandle) (cl.EventHandle, cl.Status) {
	s.add("clEnqueueNDRangeKernel")
	s.mu.Lock()
	defer s.mu.Unlock()
	if queue != s.Queue {
		return 0, cl.InvalidCommandQueue
	}
	k, found := s.kernels[kernel]
	if !found {
		return 0, cl.InvalidKernel
	}
	if len(global) != 3 || len(local) != 3 {
		return 0, cl.InvalidWorkDimension
	}
	launch := Launch{Kernel: k.name, Args: maps.Clone(k.args)}
	for axis := range 3 {
		if local[axis] == 0 || global[axis]%local[axis] != 0 {
			return 0, cl.InvalidWorkGroupSize
		}
		launch.Global[axis] = global[axis]
		launch.Local[axis] = local[axis]
		launch.Groups[axis] = global[axis] / local[axis]
	}
	for _, e := range waitList {
		if s.refs[handle.Native(e)] <= 0 {
			return 0, cl.InvalidEventWaitList
		}
		launch.Wait = append(launch.Wait, handle.Native(e))
	}
	launch.Event = s.refs.create()
	s.launches = append(s.launches, launch)
	return cl.EventHandle(launch.Event), cl.Success
}

func (s *CL) WaitForEvents(events []cl.EventHandle) cl.Status {
	s.add("clWaitForEvents")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if s.refs[handle.Native(e)] <= 0 {
			return cl.InvalidEvent
		}
	}
	return cl.Success
}

func (s *CL) ReleaseEvent(event cl.EventHandle) cl.Status {
	return s.release(handle.Native(event), "clReleaseEvent", cl.InvalidEvent)
}

func (s *CL) CreateBuffer(context cl.ContextHandle, flags cl.MemFlags, size uint64, hostData []byte) (cl.MemHandle, cl.Status) {
	s.add("clCreateBuffer")
	if context != s.Context {
		return 0, cl.InvalidContext
	}
	if size == 0 {
		return 0, cl.InvalidBufferSize
	}
	if flags&cl.MemCopyHostPtr != 0 && uint64(len(hostData)) < size {
		return 0, cl.InvalidHostPtr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := cl.MemHandle(s.refs.create())
	b := &Buffer{Flags: flags, Size: size}
	if flags&cl.MemCopyHostPtr != 0 {
		b.Data = slices.Clone(hostData[:size])
	}
	s.buffers[mem] = b
	return mem, cl.Success
}

func (s *CL) ReleaseMemObject(mem cl.MemHandle) cl.Status {
	return s.release(handle.Native(mem), "clReleaseMemObject", cl.InvalidMemObject)
}

func (s *CL) kernelArgs(kernel cl.KernelHandle) map[int]Arg {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, found := s.kernels[kernel]; found {
		return maps.Clone(k.args)
	}
	return nil
}

func (s *CL) kernelName(kernel cl.KernelHandle) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, found := s.kernels[kernel]; found {
		return k.name
	}
	return ""
}
