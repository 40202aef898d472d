package cl_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/kernelrt/backends/cl"
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/handle"
	"github.com/gomlx/kernelrt/internal/simdriver"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

type errTester[T any] struct {
	value T
	err   error
}

// capture is a shortcut to test that there is no error and return the value.
func capture[T any](value T, err error) errTester[T] {
	return errTester[T]{value, err}
}

func (e errTester[T]) Test(t *testing.T) T {
	require.NoError(t, e.err)
	return e.value
}

const twoKernels = `
__kernel void k1(__global float *out, int n) {
	out[get_global_id(0)] = n;
}

kernel void k2(__global float *in) {}
`

// newAPI returns a simulated device and an API on its queue, destroyed at the end of the test.
func newAPI(t *testing.T) (*simdriver.CL, *cl.API) {
	sim := simdriver.NewCL()
	api := capture(cl.New(sim, sim.Queue)).Test(t)
	t.Cleanup(func() { require.NoError(t, api.Destroy()) })
	return sim, api
}

func TestNewAndClone(t *testing.T) {
	sim := simdriver.NewCL()
	queue, context := handle.Native(sim.Queue), handle.Native(sim.Context)
	require.Equal(t, 1, sim.Refs(queue))
	require.Equal(t, 1, sim.Refs(context))

	api := capture(cl.New(sim, sim.Queue)).Test(t)
	fmt.Printf("%s\n", api)
	assert.Equal(t, 2, sim.Refs(queue))
	assert.Equal(t, 2, sim.Refs(context))
	assert.Equal(t, sim.Context, api.Context())
	assert.Equal(t, sim.Device, api.Device())

	clone := capture(api.Clone()).Test(t)
	assert.Equal(t, 3, sim.Refs(queue))
	assert.Equal(t, 3, sim.Refs(context))

	require.NoError(t, clone.Destroy())
	require.NoError(t, clone.Destroy()) // No-op.
	assert.Equal(t, 2, sim.Refs(queue))
	assert.Equal(t, 2, sim.Refs(context))
	_, err := clone.Clone()
	require.Error(t, err)

	require.NoError(t, api.Destroy())
	assert.Equal(t, 1, sim.Refs(queue))
	assert.Equal(t, 1, sim.Refs(context))
	assert.Equal(t, 2, sim.Count("clReleaseContext"))
	assert.Equal(t, 2, sim.Count("clReleaseCommandQueue"))
}

func TestNewWithContext(t *testing.T) {
	sim := simdriver.NewCL()
	api := capture(cl.NewWithContext(sim, sim.Queue, sim.Context, sim.Device)).Test(t)
	assert.Equal(t, 2, sim.Refs(handle.Native(sim.Context)))
	assert.Zero(t, sim.Count("clGetCommandQueueInfo"))
	require.NoError(t, api.Destroy())
	assert.Equal(t, 1, sim.Refs(handle.Native(sim.Queue)))

	// An invalid context releases the queue again.
	_, err := cl.NewWithContext(sim, sim.Queue, cl.ContextHandle(0x1), sim.Device)
	var callErr *device.BackendCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "clRetainContext", callErr.Call)
	assert.Equal(t, 1, sim.Refs(handle.Native(sim.Queue)))
}

func TestInfo(t *testing.T) {
	sim, api := newAPI(t)
	sim.SubGroupSizes = []uint64{8, 16, 32, 64, 128, 256, 512}
	info := capture(api.Info()).Test(t)
	fmt.Printf("%s\n", info)
	assert.Equal(t, uint64(1024), info.MaxWorkGroupSize)
	assert.Equal(t, []uint64{8, 16, 32, 64, 128}, info.Subgroups())
	assert.Equal(t, uint64(64*1024), info.LocalMemorySize)
	assert.Equal(t, device.GPU, info.Type)
	assert.Equal(t, uint64(0x4905), capture(api.DeviceID()).Test(t))
}

func TestBuildKernelBundle(t *testing.T) {
	sim, api := newAPI(t)
	bundle := capture(api.BuildKernelBundle(twoKernels, device.DefaultOptions())).Test(t)
	require.Equal(t, 1, sim.LivePrograms())
	binary := capture(bundle.Binary()).Test(t)
	assert.Equal(t, simdriver.Binary(twoKernels), binary)

	// A second bundle on the same module shares the program.
	other := capture(api.MakeKernelBundle(bundle.Module())).Test(t)
	bundle.Release()
	assert.Equal(t, 1, sim.LivePrograms())
	kernel := capture(api.CreateKernel(other, "k2")).Test(t)
	assert.Equal(t, "k2", kernel.Name())
	other.Release()
	assert.Equal(t, 0, sim.LivePrograms())
	kernel.Release()
	assert.Equal(t, 0, sim.LiveKernels())
}

func TestBuildFailure(t *testing.T) {
	sim, api := newAPI(t)
	source := "__kernel void k1() {}\n#error out of registers\n"
	_, err := api.BuildKernelBundle(source, device.DefaultOptions())
	require.Error(t, err)
	fmt.Printf("Expected error: %v\n", err)
	var compileErr *device.CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, device.OpenCL, compileErr.Backend)
	assert.Equal(t, "CL_BUILD_PROGRAM_FAILURE", compileErr.StatusName)
	assert.Equal(t, int32(cl.BuildProgramFailure), compileErr.Status)
	assert.Equal(t, "program.cl:2: error: out of registers\n", compileErr.Log)
	assert.Contains(t, err.Error(), "clBuildProgram returned CL_BUILD_PROGRAM_FAILURE (-11).\nprogram.cl:2")
	assert.Equal(t, 0, sim.LivePrograms(), "failed program must be released")

	// Bad options fail the build too.
	_, err = api.BuildKernelBundle(twoKernels, device.DefaultOptions().WithFlags("-invalid"))
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "CL_INVALID_BUILD_OPTIONS", compileErr.StatusName)
}

func TestBuildFailureWithoutLog(t *testing.T) {
	sim, api := newAPI(t)
	sim.FailBuildLog = true
	_, err := api.BuildKernelBundle("#error nope\n", device.DefaultOptions())
	var compileErr *device.CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "CL_BUILD_PROGRAM_FAILURE", compileErr.StatusName)
	assert.Empty(t, compileErr.Log)
	assert.Equal(t, 0, sim.LivePrograms())
}

func TestCreateKernel(t *testing.T) {
	sim, api := newAPI(t)
	bundle := capture(api.BuildKernelBundle(twoKernels, device.DefaultOptions())).Test(t)
	defer bundle.Release()

	kernel := capture(api.CreateKernel(bundle, "k1")).Test(t)
	native := kernel.(*cl.Kernel).Native()
	assert.Equal(t, 1, sim.Refs(handle.Native(native)), "the kernel must own exactly one reference")
	kernel.Release()
	kernel.Release()
	assert.Equal(t, 0, sim.Refs(handle.Native(native)))

	_, err := api.CreateKernel(bundle, "k3")
	require.Error(t, err)
	fmt.Printf("Expected error: %v\n", err)
	var callErr *device.BackendCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "CL_INVALID_KERNEL_NAME", callErr.StatusName)
	assert.Equal(t, "clCreateKernel", callErr.Call)
	assert.Equal(t, 0, sim.LiveKernels())
}

func TestLaunchKernel(t *testing.T) {
	sim, api := newAPI(t)
	bundle := capture(api.BuildKernelBundle(twoKernels, device.DefaultOptions())).Test(t)
	defer bundle.Release()
	kernel := capture(api.CreateKernel(bundle, "k1")).Test(t)
	defer kernel.Release()

	out := capture(api.CreateDeviceBuffer(64 * 4)).Test(t)
	first := capture(api.LaunchKernel(kernel, [3]int{4, 4, 4}, [3]int{2, 2, 2}, nil, func(b device.ArgBinder) error {
		return device.BindArgs(b, out, int32(7))
	})).Test(t)
	require.NoError(t, first.Await())

	usm := device.USMPointer(0xabc0)
	second := capture(api.LaunchKernel(kernel, [3]int{8, 1, 1}, [3]int{4, 1, 1}, []device.Event{first},
		func(b device.ArgBinder) error {
			return device.BindArgs(b, usm, int32(8))
		})).Test(t)

	launches := sim.Launches()
	require.Len(t, launches, 2)
	assert.Equal(t, "k1", launches[0].Kernel)
	assert.Equal(t, [3]uint64{4, 4, 4}, launches[0].Global)
	assert.Equal(t, [3]uint64{2, 2, 2}, launches[0].Local)
	assert.Equal(t, [3]uint64{2, 2, 2}, launches[0].Groups)
	assert.Equal(t, simdriver.Arg{Kind: "value", Value: out.Value.Bytes()}, launches[0].Args[0])
	assert.Equal(t, simdriver.Arg{Kind: "value", Value: device.ScalarBytes(int32(7))}, launches[0].Args[1])

	assert.Equal(t, []handle.Native{handle.Native(first.(*cl.Event).Native())}, launches[1].Wait)
	assert.Equal(t, simdriver.Arg{Kind: "usm", Pointer: 0xabc0}, launches[1].Args[0])
	assert.Equal(t, 1, sim.Count("clGetExtensionFunctionAddressForPlatform"))

	// Releasing events.
	native := handle.Native(second.(*cl.Event).Native())
	require.Equal(t, 1, sim.Refs(native))
	require.NoError(t, api.ReleaseEvent(second))
	require.NoError(t, api.ReleaseEvent(second)) // No-op.
	assert.Equal(t, 0, sim.Refs(native))
	require.Error(t, second.Await())
	require.NoError(t, api.ReleaseEvent(first))

	// A released event can't be a dependency.
	_, err := api.LaunchKernel(kernel, [3]int{4, 4, 4}, [3]int{2, 2, 2}, []device.Event{first}, nil)
	require.Error(t, err)
	require.NoError(t, api.ReleaseBuffer(out))
}

func TestBindBufferWithoutExtension(t *testing.T) {
	sim, api := newAPI(t)
	sim.USMAbsent = true
	bundle := capture(api.BuildKernelBundle(twoKernels, device.DefaultOptions())).Test(t)
	defer bundle.Release()
	kernel := capture(api.CreateKernel(bundle, "k2")).Test(t)
	defer kernel.Release()

	buffer := capture(api.CreateDeviceBuffer(16)).Test(t)
	svm := device.NewMem(0x5000, device.MemSVMPointer)
	event := capture(api.LaunchKernel(kernel, [3]int{1, 1, 1}, [3]int{1, 1, 1}, nil, func(b device.ArgBinder) error {
		if err := b.SetMemArg(0, buffer); err != nil {
			return err
		}
		return b.SetMemArg(1, svm)
	})).Test(t)
	require.NoError(t, api.ReleaseEvent(event))
	assert.Zero(t, sim.Count("clGetExtensionFunctionAddressForPlatform"), "buffers never need the extension")
	assert.Equal(t, simdriver.Arg{Kind: "svm", Pointer: 0x5000}, sim.Launches()[0].Args[1])

	// USM binding fails without touching the kernel.
	_, err := api.LaunchKernel(kernel, [3]int{1, 1, 1}, [3]int{1, 1, 1}, nil, func(b device.ArgBinder) error {
		return b.SetMemArg(0, device.MemOf(device.USMPointer(0x6000)))
	})
	require.Error(t, err)
	fmt.Printf("Expected error: %v\n", err)
	var extErr *device.ExtensionUnavailableError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, cl.USMExtensionFunction, extErr.Extension)
	assert.Zero(t, sim.Count(cl.USMExtensionFunction))
	assert.Len(t, sim.Launches(), 1)

	// The lookup result is cached, also by clones.
	clone := capture(api.Clone()).Test(t)
	defer func() { require.NoError(t, clone.Destroy()) }()
	_, err = clone.LaunchKernel(kernel, [3]int{1, 1, 1}, [3]int{1, 1, 1}, nil, func(b device.ArgBinder) error {
		return b.SetMemArg(0, device.MemOf(device.USMPointer(0x6000)))
	})
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, 1, sim.Count("clGetExtensionFunctionAddressForPlatform"))

	// Unknown kinds are a programming error.
	_, err = api.LaunchKernel(kernel, [3]int{1, 1, 1}, [3]int{1, 1, 1}, nil, func(b device.ArgBinder) error {
		return b.SetMemArg(0, device.NewMem(0x7000, device.MemKind(42)))
	})
	var kindErr *device.UnsupportedMemoryKindError
	require.True(t, errors.As(err, &kindErr))
	require.NoError(t, api.ReleaseBuffer(buffer))
}

func TestBuffers(t *testing.T) {
	sim, api := newAPI(t)
	mem := capture(api.CreateDeviceBuffer(128)).Test(t)
	require.Equal(t, device.MemBuffer, mem.Kind)
	buffer := sim.Buffer(cl.MemHandle(mem.Value))
	require.NotNil(t, buffer)
	assert.Equal(t, cl.MemReadWrite|cl.MemHostNoAccess, buffer.Flags)
	assert.Equal(t, uint64(128), buffer.Size)

	twiddles := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	table := capture(api.CreateTwiddleTable(twiddles)).Test(t)
	twiddles[0] = 0xff // The data was copied at creation.
	buffer = sim.Buffer(cl.MemHandle(table.Value))
	require.NotNil(t, buffer)
	assert.Equal(t, cl.MemCopyHostPtr|cl.MemReadOnly, buffer.Flags)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buffer.Data)

	require.NoError(t, api.ReleaseBuffer(mem))
	require.NoError(t, api.ReleaseBuffer(table))
	assert.Nil(t, sim.Buffer(cl.MemHandle(table.Value)))

	err := api.ReleaseBuffer(device.NewMem(0x1, device.MemUSMPointer))
	var kindErr *device.UnsupportedMemoryKindError
	require.True(t, errors.As(err, &kindErr))
	assert.Equal(t, device.MemUSMPointer, kindErr.Kind)
}

func TestCreateAOTModule(t *testing.T) {
	sim, api := newAPI(t)
	module := capture(api.CreateAOTModule(simdriver.Binary(twoKernels), device.Native)).Test(t)
	assert.Equal(t, []string{"k1", "k2"}, module.KernelNames())
	assert.Equal(t, uint64(0x4905), module.DeviceID)
	assert.Equal(t, 1, sim.LivePrograms())
	module.Release()
	assert.Equal(t, 0, sim.LivePrograms())

	// SPIR-V goes through clCreateProgramWithIL.
	module = capture(api.CreateAOTModule(simdriver.Binary(twoKernels), device.SPIRV)).Test(t)
	assert.Equal(t, 1, sim.Count("clCreateProgramWithIL"))
	module.Release()

	_, err := api.CreateAOTModule([]byte("garbage"), device.Native)
	var callErr *device.BackendCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "CL_INVALID_BINARY", callErr.StatusName)
	assert.Equal(t, 0, sim.LivePrograms())
}
