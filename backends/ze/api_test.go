package ze_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/kernelrt/backends/ze"
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

const fftKernels = `
kernel void fft_r2(global float2 *data, uint n) {}
kernel void fft_r4(global float2 *data, uint n) {}
`

func newAPI(t *testing.T, options ...ze.Option) (*simdriver.ZE, *ze.API) {
	sim := simdriver.NewZE()
	api := capture(ze.New(sim, sim, sim.CommandList, sim.Context, sim.Device, options...)).Test(t)
	t.Cleanup(func() {
		require.NoError(t, api.Destroy())
		assert.Equal(t, 0, sim.LiveEvents())
	})
	return sim, api
}

func TestCompilerArgs(t *testing.T) {
	opts := device.Options{}
	assert.Equal(t, []string{"compile", "-spv_only", "-file", "kernel.cl"}, ze.CompilerArgs("", opts))

	opts = device.Options{Flags: []string{"-cl-mad-enable", "-cl-std=CL3.0"}, Extensions: []string{"cl_khr_fp64", "cl_khr_fp16"}}
	assert.Equal(t, []string{"compile",
		"-internal_options", "-cl-ext=+cl_khr_fp64,+cl_khr_fp16",
		"-options", "-cl-mad-enable -cl-std=CL3.0",
		"-device", "pvc",
		"-file", "kernel.cl"}, ze.CompilerArgs("pvc", opts))
}

func TestOfflineCompile(t *testing.T) {
	sim := simdriver.NewZE()
	spirv := capture(ze.CompileToSPIRV(sim, fftKernels, device.DefaultOptions())).Test(t)
	assert.Equal(t, simdriver.Binary(fftKernels), spirv)
	native := capture(ze.CompileNative(sim, fftKernels, "pvc", device.DefaultOptions())).Test(t)
	assert.Equal(t, simdriver.Binary(fftKernels), native)
	invocations := sim.CompilerInvocations()
	require.Len(t, invocations, 2)
	assert.Contains(t, invocations[1], "pvc")

	_, err := ze.CompileNative(sim, fftKernels, "", device.DefaultOptions())
	require.Error(t, err)

	// Failure carries the compiler's log.
	_, err = ze.CompileToSPIRV(sim, "#error bad radix\n", device.DefaultOptions())
	var compileErr *device.CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "ocloc", compileErr.Call)
	assert.Equal(t, "kernel.cl:1: error: bad radix\n", compileErr.Log)

	sim.NoCompilerLog = true
	_, err = ze.CompileToSPIRV(sim, "#error bad radix\n", device.DefaultOptions())
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "(no log available)", compileErr.Log)
}

func TestInfo(t *testing.T) {
	_, api := newAPI(t)
	info := capture(api.Info()).Test(t)
	fmt.Printf("%s\n", info)
	assert.Equal(t, uint64(1024), info.MaxWorkGroupSize)
	assert.Equal(t, []uint64{16, 32}, info.Subgroups())
	assert.Equal(t, uint64(128*1024), info.LocalMemorySize)
	assert.Equal(t, device.GPU, info.Type)
	assert.Equal(t, uint64(0x0bd5), capture(api.DeviceID()).Test(t))
}

func TestBuildKernelBundle(t *testing.T) {
	sim, api := newAPI(t)
	bundle := capture(api.BuildKernelBundle(fftKernels, device.DefaultOptions())).Test(t)
	assert.Equal(t, 1, sim.LiveModules())
	assert.Equal(t, 0, sim.LiveBuildLogs())
	binary := capture(bundle.Binary()).Test(t)
	assert.Equal(t, simdriver.Binary(fftKernels), binary)

	kernel := capture(api.CreateKernel(bundle, "fft_r4")).Test(t)
	assert.Equal(t, 1, sim.LiveKernels())
	kernel.Release()
	kernel.Release()
	assert.Equal(t, 0, sim.LiveKernels())

	_, err := api.CreateKernel(bundle, "fft_r8")
	var callErr *device.BackendCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "ZE_RESULT_ERROR_INVALID_KERNEL_NAME", callErr.StatusName)

	bundle.Release()
	assert.Equal(t, 0, sim.LiveModules())
}

func TestModuleBuildFailure(t *testing.T) {
	sim, api := newAPI(t)
	_, err := api.BuildKernelBundleFromBinary(simdriver.Binary("#error no registers left\n"), device.SPIRV, device.Options{})
	require.Error(t, err)
	fmt.Printf("Expected error: %v\n", err)
	var compileErr *device.CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "zeModuleCreate", compileErr.Call)
	assert.Equal(t, "ZE_RESULT_ERROR_MODULE_BUILD_FAILURE", compileErr.StatusName)
	assert.Equal(t, "module.spv:1: error: no registers left\n", compileErr.Log)
	assert.Equal(t, 0, sim.LiveBuildLogs(), "build log must always be destroyed")
	assert.Equal(t, 0, sim.LiveModules())

	// Log fetch failure still returns the compile error.
	sim.FailBuildLog = true
	_, err = api.BuildKernelBundleFromBinary([]byte("garbage"), device.Native, device.Options{})
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "ZE_RESULT_ERROR_INVALID_NATIVE_BINARY", compileErr.StatusName)
	assert.Empty(t, compileErr.Log)
	assert.Equal(t, 0, sim.LiveBuildLogs())
}

func TestModuleWithoutBuildLog(t *testing.T) {
	sim, api := newAPI(t)
	sim.NoBuildLog = true
	bundle := capture(api.BuildKernelBundleFromBinary(simdriver.Binary(fftKernels), device.SPIRV, device.Options{})).Test(t)
	assert.Equal(t, 1, sim.LiveModules())
	assert.Zero(t, sim.Count("zeModuleBuildLogDestroy"), "there is no build log to destroy")
	bundle.Release()

	_, err := api.BuildKernelBundleFromBinary(simdriver.Binary("#error no registers left\n"), device.SPIRV, device.Options{})
	var compileErr *device.CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Empty(t, compileErr.Log)
	assert.Zero(t, sim.Count("zeModuleBuildLogDestroy"))
	assert.Equal(t, 0, sim.LiveModules())
}

func TestEventPool(t *testing.T) {
	sim := simdriver.NewZE()
	pool := capture(ze.NewEventPool(sim, sim.Context, 3)).Test(t)
	require.Equal(t, 3, pool.Capacity())
	var indices []int
	var handles []ze.EventHandle
	for range 4 {
		event := capture(pool.GetEvent()).Test(t)
		handles = append(handles, event)
		indices = append(indices, sim.EventIndex(event))
	}
	assert.Equal(t, []int{1, 2, 0, 1}, indices)
	assert.Equal(t, handles[0], handles[3])
	assert.Equal(t, pool.Event(0), handles[2])

	require.NoError(t, pool.Resize(5))
	assert.Equal(t, 5, pool.Capacity())
	assert.Equal(t, 5, sim.LiveEvents())
	for range 5 {
		event := capture(pool.GetEvent()).Test(t)
		assert.NotContains(t, handles, event)
	}
	for _, event := range handles {
		assert.Equal(t, -1, sim.EventIndex(event), "events of the old pool must be destroyed")
	}

	require.NoError(t, pool.Destroy())
	require.NoError(t, pool.Destroy())
	assert.Equal(t, 0, sim.LiveEvents())
	_, err := pool.GetEvent()
	require.Error(t, err)

	_, err = ze.NewEventPool(sim, sim.Context, 0)
	require.Error(t, err)
}

func TestLaunchKernel(t *testing.T) {
	sim, api := newAPI(t, ze.WithEventPoolSize(4))
	require.Equal(t, 4, api.EventPool().Capacity())
	bundle := capture(api.BuildKernelBundle(fftKernels, device.DefaultOptions())).Test(t)
	defer bundle.Release()
	kernel := capture(api.CreateKernel(bundle, "fft_r2")).Test(t)
	defer kernel.Release()

	data := capture(api.CreateDeviceBuffer(1024)).Test(t)
	first := capture(api.LaunchKernel(kernel, [3]int{64, 4, 2}, [3]int{16, 2, 1}, nil, func(b device.ArgBinder) error {
		return device.BindArgs(b, data, uint32(64))
	})).Test(t)
	require.NoError(t, first.Await())
	second := capture(api.LaunchKernel(kernel, [3]int{8, 1, 1}, [3]int{8, 1, 1}, []device.Event{first}, nil)).Test(t)

	launches := sim.Launches()
	require.Len(t, launches, 2)
	assert.Equal(t, [3]uint64{4, 2, 2}, launches[0].Groups)
	assert.Equal(t, [3]uint64{16, 2, 1}, launches[0].Local)
	assert.Equal(t, [3]uint64{64, 4, 2}, launches[0].Global)
	assert.Equal(t, simdriver.Arg{Kind: "value", Value: data.Value.Bytes()}, launches[0].Args[0])
	assert.Equal(t, simdriver.Arg{Kind: "value", Value: device.ScalarBytes(uint32(64))}, launches[0].Args[1])
	assert.Equal(t, 1, sim.EventIndex(ze.EventHandle(launches[0].Event)))
	assert.Equal(t, 2, sim.EventIndex(ze.EventHandle(launches[1].Event)))
	assert.Equal(t, []handle.Native{launches[0].Event}, launches[1].Wait)

	// Releasing an event resets it, the pool keeps it.
	firstEvent := first.(*ze.Event).Native()
	require.True(t, sim.Signalled(firstEvent))
	require.NoError(t, api.ReleaseEvent(first))
	require.NoError(t, api.ReleaseEvent(first)) // No-op.
	assert.False(t, sim.Signalled(firstEvent))
	assert.Equal(t, 4, sim.LiveEvents())
	require.Error(t, first.Await())
	require.NoError(t, api.ReleaseEvent(second))

	// All memory kinds are bound as pointer values.
	_ = capture(api.LaunchKernel(kernel, [3]int{1, 1, 1}, [3]int{1, 1, 1}, nil, func(b device.ArgBinder) error {
		if err := b.SetMemArg(0, device.NewMem(0x100, device.MemBuffer)); err != nil {
			return err
		}
		return b.SetMemArg(1, device.NewMem(0x200, device.MemSVMPointer))
	})).Test(t)
	launches = sim.Launches()
	assert.Equal(t, handle.Native(0x200).Bytes(), launches[2].Args[1].Value)

	_, err := api.LaunchKernel(kernel, [3]int{1, 1, 1}, [3]int{1, 1, 1}, nil, func(b device.ArgBinder) error {
		return b.SetMemArg(0, device.NewMem(0x100, device.MemKind(42)))
	})
	var kindErr *device.UnsupportedMemoryKindError
	require.True(t, errors.As(err, &kindErr))
	assert.Equal(t, device.LevelZero, kindErr.Backend)
	require.NoError(t, api.ReleaseBuffer(data))
}

func TestLaunchKernelZeroLocalSize(t *testing.T) {
	sim, api := newAPI(t)
	bundle := capture(api.BuildKernelBundle(fftKernels, device.DefaultOptions())).Test(t)
	defer bundle.Release()
	kernel := capture(api.CreateKernel(bundle, "fft_r2")).Test(t)
	defer kernel.Release()

	require.NotPanics(t, func() {
		_, err := api.LaunchKernel(kernel, [3]int{64, 1, 1}, [3]int{16, 0, 1}, nil, nil)
		require.ErrorContains(t, err, "must be positive")
	})
	assert.Empty(t, sim.Launches())
	assert.Zero(t, sim.Count("zeKernelSetGroupSize"))
}

func TestTwiddleTable(t *testing.T) {
	sim, api := newAPI(t)
	twiddles := []byte{0, 0, 128, 63, 0, 0, 0, 0}
	sim.Reset()
	mem := capture(api.CreateTwiddleTable(twiddles)).Test(t)
	assert.Equal(t, device.MemUSMPointer, mem.Kind)
	assert.Equal(t, twiddles, sim.Memory(uintptr(mem.Value)))
	assert.Equal(t, []string{
		"zeMemAllocDevice",
		"zeCommandListAppendMemoryCopy",
		"zeCommandListClose",
		"zeEventHostSynchronize",
		"zeEventHostReset",
		"zeCommandListReset",
	}, sim.List())

	// The command list is usable again.
	bundle := capture(api.BuildKernelBundle(fftKernels, device.DefaultOptions())).Test(t)
	defer bundle.Release()
	kernel := capture(api.CreateKernel(bundle, "fft_r2")).Test(t)
	defer kernel.Release()
	event := capture(api.LaunchKernel(kernel, [3]int{2, 1, 1}, [3]int{2, 1, 1}, nil, func(b device.ArgBinder) error {
		return b.SetMemArg(0, mem)
	})).Test(t)
	require.NoError(t, api.ReleaseEvent(event))

	require.NoError(t, api.ReleaseBuffer(mem))
	assert.Equal(t, 0, sim.LiveAllocations())
	err := api.ReleaseBuffer(device.NewMem(0x10, device.MemBuffer))
	var kindErr *device.UnsupportedMemoryKindError
	require.True(t, errors.As(err, &kindErr))
}

func TestCreateAOTModule(t *testing.T) {
	sim, api := newAPI(t)
	module := capture(api.CreateAOTModule(simdriver.Binary(fftKernels), device.Native)).Test(t)
	assert.Equal(t, []string{"fft_r2", "fft_r4"}, module.KernelNames())
	assert.Equal(t, uint64(0x0bd5), module.DeviceID)
	assert.True(t, module.HasKernel("fft_r4"))
	module.Release()
	assert.Equal(t, 0, sim.LiveModules())
}

func TestDestroy(t *testing.T) {
	sim := simdriver.NewZE()
	api := capture(ze.New(sim, sim, sim.CommandList, sim.Context, sim.Device, ze.WithEventPoolSize(8))).Test(t)
	assert.Equal(t, 8, sim.LiveEvents())
	require.NoError(t, api.Destroy())
	require.NoError(t, api.Destroy())
	assert.Equal(t, 0, sim.LiveEvents())
	_, err := api.CreateTwiddleTable([]byte{1})
	require.Error(t, err)
}
