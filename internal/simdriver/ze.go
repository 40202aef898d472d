package simdriver

import (
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/kernelrt/backends/ze"
	"github.com/gomlx/kernelrt/handle"
	"github.com/pkg/errors"
)

// ZE is a simulated Level Zero runtime with one device, context and command list.
// It also implements the offline compiler interface, ze.Compiler.
type ZE struct {
	Calls

	// Device properties, can be changed before use.
	Properties ze.DeviceProperties
	Compute    ze.ComputeProperties

	// FailBuildLog makes the build log query fail.
	FailBuildLog bool

	// NoCompilerLog makes the offline compiler omit its log.
	NoCompilerLog bool

	// NoBuildLog makes zeModuleCreate return no build log.
	NoBuildLog bool

	Device      ze.DeviceHandle
	Context     ze.ContextHandle
	CommandList ze.CommandListHandle

	mu          sync.Mutex
	modules     map[ze.ModuleHandle]string
	buildLogs   map[ze.BuildLogHandle]string
	kernels     map[ze.KernelHandle]*zeKernel
	pools       map[ze.EventPoolHandle]uint32
	events      map[ze.EventHandle]*zeEvent
	allocations map[uintptr][]byte
	listClosed  bool
	launches    []Launch
	argv        [][]string
}

var (
	_ ze.Driver   = (*ZE)(nil)
	_ ze.Compiler = (*ZE)(nil)
)

type zeKernel struct {
	name      string
	groupSize [3]uint32
	args      map[int]Arg
}

type zeEvent struct {
	pool      ze.EventPoolHandle
	index     uint32
	signalled bool
}

// NewZE creates a simulated Level Zero GPU.
func NewZE() *ZE {
	return &ZE{
		Properties: ze.DeviceProperties{Type: ze.DeviceTypeGPU, VendorID: 0x8086, DeviceID: 0x0bd5, Name: "Simulated GPU"},
		Compute: ze.ComputeProperties{
			MaxTotalGroupSize:    1024,
			MaxSharedLocalMemory: 128 * 1024,
			SubGroupSizes:        []uint32{16, 32},
		},
		Device:      ze.DeviceHandle(newHandle()),
		Context:     ze.ContextHandle(newHandle()),
		CommandList: ze.CommandListHandle(newHandle()),
		modules:     make(map[ze.ModuleHandle]string),
		buildLogs:   make(map[ze.BuildLogHandle]string),
		kernels:     make(map[ze.KernelHandle]*zeKernel),
		pools:       make(map[ze.EventPoolHandle]uint32),
		events:      make(map[ze.EventHandle]*zeEvent),
		allocations: make(map[uintptr][]byte),
	}
}

// LiveModules returns the number of modules not destroyed.
func (s *ZE) LiveModules() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.modules)
}

// LiveKernels returns the number of kernels not destroyed.
func (s *ZE) LiveKernels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kernels)
}

// LiveBuildLogs returns the number of build logs not destroyed.
func (s *ZE) LiveBuildLogs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buildLogs)
}

// LiveEvents returns the number of events not destroyed.
func (s *ZE) LiveEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// LiveAllocations returns the number of device allocations not freed.
func (s *ZE) LiveAllocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allocations)
}

// EventIndex returns the pool index the event was created with, or -1 if the event doesn't exist.
func (s *ZE) EventIndex(event ze.EventHandle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.events[event]
	if !found {
		return -1
	}
	return int(e.index)
}

// Signalled returns whether the event is signalled.
func (s *ZE) Signalled(event ze.EventHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.events[event]
	return found && e.signalled
}

// Memory returns a copy of the contents of a device allocation, or nil if it doesn't exist.
func (s *ZE) Memory(ptr uintptr) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.allocations[ptr])
}

// Launches returns the kernels appended so far.
func (s *ZE) Launches() []Launch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.launches)
}

// CompilerInvocations returns the command lines the offline compiler was invoked with.
func (s *ZE) CompilerInvocations() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.argv)
}

func (s *ZE) DeviceGetProperties(device ze.DeviceHandle) (ze.DeviceProperties, ze.Result) {
	s.add("zeDeviceGetProperties")
	if device != s.Device {
		return ze.DeviceProperties{}, ze.ErrorInvalidNullHandle
	}
	return s.Properties, ze.Success
}

func (s *ZE) DeviceGetComputeProperties(device ze.DeviceHandle) (ze.ComputeProperties, ze.Result) {
	s.add("zeDeviceGetComputeProperties")
	if device != s.Device {
		return ze.ComputeProperties{}, ze.ErrorInvalidNullHandle
	}
	props := s.Compute
	props.SubGroupSizes = slices.Clone(props.SubGroupSizes)
	return props, ze.Success
}

func (s *ZE) ModuleCreate(context ze.ContextHandle, device ze.DeviceHandle, format ze.ModuleFormat, binary []byte) (ze.ModuleHandle, ze.BuildLogHandle, ze.Result) {
	s.add("zeModuleCreate")
	if context != s.Context || device != s.Device {
		return 0, 0, ze.ErrorInvalidNullHandle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var buildLog ze.BuildLogHandle
	setLog := func(text string) {
		if !s.NoBuildLog {
			buildLog = ze.BuildLogHandle(newHandle())
			s.buildLogs[buildLog] = text
		}
	}
	source, ok := sourceOf(binary)
	if !ok {
		setLog("invalid module binary\n")
		if format == ze.ModuleFormatNative {
			return 0, buildLog, ze.ErrorInvalidNativeBinary
		}
		return 0, buildLog, ze.ErrorModuleBuildFailure
	}
	log, ok := compile("module.spv", source)
	setLog(log)
	if !ok {
		return 0, buildLog, ze.ErrorModuleBuildFailure
	}
	module := ze.ModuleHandle(newHandle())
	s.modules[module] = source
	return module, buildLog, ze.Success
}

func (s *ZE) ModuleBuildLogGetString(log ze.BuildLogHandle) (string, ze.Result) {
	s.add("zeModuleBuildLogGetString")
	if s.FailBuildLog {
		return "", ze.ErrorOutOfHostMemory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	text, found := s.buildLogs[log]
	if !found {
		return "", ze.ErrorInvalidNullHandle
	}
	return text, ze.Success
}

func (s *ZE) ModuleBuildLogDestroy(log ze.BuildLogHandle) ze.Result {
	s.add("zeModuleBuildLogDestroy")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.buildLogs[log]; !found {
		return ze.ErrorInvalidNullHandle
	}
	delete(s.buildLogs, log)
	return ze.Success
}

func (s *ZE) ModuleDestroy(module ze.ModuleHandle) ze.Result {
	s.add("zeModuleDestroy")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.modules[module]; !found {
		return ze.ErrorInvalidNullHandle
	}
	delete(s.modules, module)
	return ze.Success
}

func (s *ZE) ModuleGetKernelNames(module ze.ModuleHandle) ([]string, ze.Result) {
	s.add("zeModuleGetKernelNames")
	s.mu.Lock()
	defer s.mu.Unlock()
	source, found := s.modules[module]
	if !found {
		return nil, ze.ErrorInvalidNullHandle
	}
	return KernelNames(source), ze.Success
}

func (s *ZE) ModuleGetNativeBinary(module ze.ModuleHandle) ([]byte, ze.Result) {
	s.add("zeModuleGetNativeBinary")
	s.mu.Lock()
	defer s.mu.Unlock()
	source, found := s.modules[module]
	if !found {
		return nil, ze.ErrorInvalidNullHandle
	}
	return Binary(source), ze.Success
}

func (s *ZE) KernelCreate(module ze.ModuleHandle, name string) (ze.KernelHandle, ze.Result) {
	s.add("zeKernelCreate")
	s.mu.Lock()
	defer s.mu.Unlock()
	source, found := s.modules[module]
	if !found {
		return 0, ze.ErrorInvalidNullHandle
	}
	if !slices.Contains(KernelNames(source), name) {
		return 0, ze.ErrorInvalidKernelName
	}
	kernel := ze.KernelHandle(newHandle())
	s.kernels[kernel] = &zeKernel{name: name, args: make(map[int]Arg)}
	return kernel, ze.Success
}

func (s *ZE) KernelDestroy(kernel ze.KernelHandle) ze.Result {
	s.add("zeKernelDestroy")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.kernels[kernel]; !found {
		return ze.ErrorInvalidNullHandle
	}
	delete(s.kernels, kernel)
	return ze.Success
}

func (s *ZE) KernelSetArgumentValue(kernel ze.KernelHandle, index uint32, value []byte) ze.Result {
	s.add("zeKernelSetArgumentValue")
	s.mu.Lock()
	defer s.mu.Unlock()
	k, found := s.kernels[kernel]
	if !found {
		return ze.ErrorInvalidNullHandle
	}
	if len(value) == 0 {
		return ze.ErrorInvalidKernelArgumentSize
	}
	k.args[int(index)] = Arg{Kind: "value", Value: slices.Clone(value)}
	return ze.Success
}

func (s *ZE) KernelSetGroupSize(kernel ze.KernelHandle, x, y, z uint32) ze.Result {
	s.add("zeKernelSetGroupSize")
	s.mu.Lock()
	defer s.mu.Unlock()
	k, found := s.kernels[kernel]
	if !found {
		return ze.ErrorInvalidNullHandle
	}
	if x == 0 || y == 0 || z == 0 || uint64(x)*uint64(y)*uint64(z) > uint64(s.Compute.MaxTotalGroupSize) {
		return ze.ErrorInvalidGroupSizeDimension
	}
	k.groupSize = [3]uint32{x, y, z}
	return ze.Success
}

// checkEvents verifies the wait list. Must be called with the lock held.
func (s *ZE) checkEvents(waitList []ze.EventHandle) ([]handle.Native, ze.Result) {
	var wait []handle.Native
	for _, e := range waitList {
		if _, found := s.events[e]; !found {
			return nil, ze.ErrorInvalidNullHandle
		}
		wait = append(wait, handle.Native(e))
	}
	return wait, ze.Success
}

// signal marks the event as signalled, if given. Must be called with the lock held.
func (s *ZE) signal(event ze.EventHandle) ze.Result {
	if event == 0 {
		return ze.Success
	}
	e, found := s.events[event]
	if !found {
		return ze.ErrorInvalidNullHandle
	}
	e.signalled = true
	return ze.Success
}

func (s *ZE) CommandListAppendLaunchKernel(list ze.CommandListHandle, kernel ze.KernelHandle, groups ze.GroupCount,
	signal ze.EventHandle, waitList []ze.EventHandle) ze.Result {
	s.add("zeCommandListAppendLaunchKernel")
	s.mu.Lock()
	defer s.mu.Unlock()
	if list != s.CommandList || s.listClosed {
		return ze.ErrorInvalidArgument
	}
	k, found := s.kernels[kernel]
	if !found {
		return ze.ErrorInvalidNullHandle
	}
	wait, result := s.checkEvents(waitList)
	if result != ze.Success {
		return result
	}
	if result := s.signal(signal); result != ze.Success {
		return result
	}
	launch := Launch{Kernel: k.name, Event: handle.Native(signal), Wait: wait, Args: maps.Clone(k.args)}
	launch.Groups = [3]uint64{uint64(groups.X), uint64(groups.Y), uint64(groups.Z)}
	for axis := range 3 {
		launch.Local[axis] = uint64(k.groupSize[axis])
		launch.Global[axis] = launch.Groups[axis] * launch.Local[axis]
	}
	s.launches = append(s.launches, launch)
	return ze.Success
}

func (s *ZE) CommandListAppendMemoryCopy(list ze.CommandListHandle, dst uintptr, src []byte,
	signal ze.EventHandle, waitList []ze.EventHandle) ze.Result {
	s.add("zeCommandListAppendMemoryCopy")
	s.mu.Lock()
	defer s.mu.Unlock()
	if list != s.CommandList || s.listClosed {
		return ze.ErrorInvalidArgument
	}
	mem, found := s.allocations[dst]
	if !found {
		return ze.ErrorInvalidNullPointer
	}
	if len(src) > len(mem) {
		return ze.ErrorInvalidSize
	}
	if _, result := s.checkEvents(waitList); result != ze.Success {
		return result
	}
	copy(mem, src)
	return s.signal(signal)
}

func (s *ZE) CommandListClose(list ze.CommandListHandle) ze.Result {
	s.add("zeCommandListClose")
	s.mu.Lock()
	defer s.mu.Unlock()
	if list != s.CommandList {
		return ze.ErrorInvalidNullHandle
	}
	s.listClosed = true
	return ze.Success
}

func (s *ZE) CommandListReset(list ze.CommandListHandle) ze.Result {
	s.add("zeCommandListReset")
	s.mu.Lock()
	defer s.mu.Unlock()
	if list != s.CommandList {
		return ze.ErrorInvalidNullHandle
	}
	s.listClosed = false
	return ze.Success
}

func (s *ZE) EventPoolCreate(context ze.ContextHandle, flags ze.EventPoolFlags, count uint32) (ze.EventPoolHandle, ze.Result) {
	s.add("zeEventPoolCreate")
	if context != s.Context {
		return 0, ze.ErrorInvalidNullHandle
	}
	if count == 0 {
		return 0, ze.ErrorInvalidSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pool := ze.EventPoolHandle(newHandle())
	s.pools[pool] = count
	return pool, ze.Success
}

func (s *ZE) EventPoolDestroy(pool ze.EventPoolHandle) ze.Result {
	s.add("zeEventPoolDestroy")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.pools[pool]; !found {
		return ze.ErrorInvalidNullHandle
	}
	for _, e := range s.events {
		if e.pool == pool {
			return ze.ErrorHandleObjectInUse
		}
	}
	delete(s.pools, pool)
	return ze.Success
}

func (s *ZE) EventCreate(pool ze.EventPoolHandle, index uint32) (ze.EventHandle, ze.Result) {
	s.add("zeEventCreate")
	s.mu.Lock()
	defer s.mu.Unlock()
	count, found := s.pools[pool]
	if !found {
		return 0, ze.ErrorInvalidNullHandle
	}
	if index >= count {
		return 0, ze.ErrorInvalidArgument
	}
	event := ze.EventHandle(newHandle())
	s.events[event] = &zeEvent{pool: pool, index: index}
	return event, ze.Success
}

func (s *ZE) EventDestroy(event ze.EventHandle) ze.Result {
	s.add("zeEventDestroy")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.events[event]; !found {
		return ze.ErrorInvalidNullHandle
	}
	delete(s.events, event)
	return ze.Success
}

func (s *ZE) EventHostSynchronize(event ze.EventHandle, timeout uint64) ze.Result {
	s.add("zeEventHostSynchronize")
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.events[event]
	if !found {
		return ze.ErrorInvalidNullHandle
	}
	if !e.signalled {
		// Nothing was submitted to signal it: it would block forever.
		return ze.NotReady
	}
	return ze.Success
}

func (s *ZE) EventHostReset(event ze.EventHandle) ze.Result {
	s.add("zeEventHostReset")
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.events[event]
	if !found {
		return ze.ErrorInvalidNullHandle
	}
	e.signalled = false
	return ze.Success
}

func (s *ZE) MemAllocDevice(context ze.ContextHandle, size, alignment uint64, device ze.DeviceHandle) (uintptr, ze.Result) {
	s.add("zeMemAllocDevice")
	if context != s.Context || device != s.Device {
		return 0, ze.ErrorInvalidNullHandle
	}
	if size == 0 {
		return 0, ze.ErrorUnsupportedSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ptr := uintptr(newHandle())
	s.allocations[ptr] = make([]byte, size)
	return ptr, ze.Success
}

func (s *ZE) MemFree(context ze.ContextHandle, ptr uintptr) ze.Result {
	s.add("zeMemFree")
	if context != s.Context {
		return ze.ErrorInvalidNullHandle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.allocations[ptr]; !found {
		return ze.ErrorInvalidNullPointer
	}
	delete(s.allocations, ptr)
	return ze.Success
}

// Invoke implements ze.Compiler, simulating ocloc: it "compiles" the file given with -file to a SPIR-V
// (-spv_only) or native (-device) binary, and always outputs "stdout.log", unless NoCompilerLog is set.
func (s *ZE) Invoke(args []string, sources map[string][]byte) (map[string][]byte, error) {
	s.add("oclocInvoke")
	s.mu.Lock()
	s.argv = append(s.argv, slices.Clone(args))
	s.mu.Unlock()
	if len(args) == 0 || args[0] != "compile" {
		return nil, errors.Errorf("ocloc: unknown command %q", strings.Join(args, " "))
	}
	var fileName, deviceType string
	spvOnly := false
	for ii := 1; ii < len(args); ii++ {
		switch args[ii] {
		case "-spv_only":
			spvOnly = true
		case "-file", "-device", "-options", "-internal_options":
			if ii+1 >= len(args) {
				return nil, errors.Errorf("ocloc: missing value for %s", args[ii])
			}
			switch args[ii] {
			case "-file":
				fileName = args[ii+1]
			case "-device":
				deviceType = args[ii+1]
			}
			ii++
		default:
			return nil, errors.Errorf("ocloc: unknown option %q", args[ii])
		}
	}
	source, found := sources[fileName]
	if !found {
		return nil, errors.Errorf("ocloc: source %q not given", fileName)
	}
	log, ok := compile(fileName, string(source))
	outputs := make(map[string][]byte)
	if !s.NoCompilerLog {
		outputs["stdout.log"] = []byte(log)
	}
	if !ok {
		return outputs, nil
	}
	base := strings.TrimSuffix(fileName, path.Ext(fileName))
	if spvOnly {
		outputs[base+".spv"] = Binary(string(source))
	} else {
		outputs[fmt.Sprintf("%s_%s.bin", base, deviceType)] = Binary(string(source))
	}
	return outputs, nil
}

func (s *ZE) kernelArgs(kernel ze.KernelHandle) map[int]Arg {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, found := s.kernels[kernel]; found {
		return maps.Clone(k.args)
	}
	return nil
}

func (s *ZE) kernelName(kernel ze.KernelHandle) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, found := s.kernels[kernel]; found {
		return k.name
	}
	return ""
}
