package sycl

import (
	"github.com/gomlx/kernelrt/backends/cl"
	"github.com/gomlx/kernelrt/backends/ze"
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/handle"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// nativeBackend is the strategy for the concrete backend of the device: it builds native modules, creates
// kernels out of them and binds kernel arguments.
type nativeBackend interface {
	kind() BackendKind
	buildModule(source string, opts device.Options) (*handle.Shared[handle.Module], error)
	buildModuleFromBinary(binary []byte, format device.ModuleFormat, opts device.Options) (*handle.Shared[handle.Module], error)

	// makeBundle wraps module in a runtime bundle. The module stays owned by its shared handle.
	makeBundle(module handle.Module) (BundleHandle, error)
	createKernel(bundle BundleHandle, module handle.Module, name string) (KernelHandle, error)
	binary(module handle.Module) ([]byte, error)
	kernelNames(module handle.Module) ([]string, error)
	deviceID() (uint64, error)

	// withBinder calls fn with the native binder of kernel.
	withBinder(kernel KernelHandle, fn func(device.ArgBinder) error) error
	destroy() error
}

// newNativeBackend returns the native strategy matching the backend the device resolved to.
// It is the only place where the backend is selected.
func newNativeBackend(runtime Runtime, context ContextHandle, dev DeviceHandle) (nativeBackend, error) {
	kind := runtime.DeviceBackend(dev)
	klog.V(1).Infof("sycl: device 0x%x resolved to backend %s", uintptr(dev), kind)
	switch kind {
	case BackendOpenCL:
		return newCLBackend(runtime, context, dev)
	case BackendLevelZero:
		return newZEBackend(runtime, context, dev)
	}
	return nil, errors.Errorf("sycl: unsupported backend %s", kind)
}

// clBackend builds through OpenCL interop.
type clBackend struct {
	runtime    Runtime
	driver     cl.Driver
	context    ContextHandle
	device     DeviceHandle
	nativeDev  cl.DeviceHandle
	extensions *cl.Extensions
}

func newCLBackend(runtime Runtime, context ContextHandle, dev DeviceHandle) (*clBackend, error) {
	nativeDev, err := runtime.NativeCLDevice(dev)
	if err != nil {
		return nil, errors.WithMessagef(err, "sycl: get_native<opencl>(device)")
	}
	driver := runtime.OpenCL()
	return &clBackend{
		runtime:    runtime,
		driver:     driver,
		context:    context,
		device:     dev,
		nativeDev:  nativeDev,
		extensions: cl.NewExtensions(driver, nativeDev),
	}, nil
}

func (b *clBackend) kind() BackendKind { return BackendOpenCL }

// withNative calls fn with the native context and device, retained only for the duration of the call.
func (b *clBackend) withNative(fn func(cl.ContextHandle, cl.DeviceHandle) (cl.ProgramHandle, error)) (*handle.Shared[handle.Module], error) {
	nativeContext, err := b.runtime.NativeCLContext(b.context)
	if err != nil {
		return nil, errors.WithMessagef(err, "sycl: get_native<opencl>(context)")
	}
	nativeDev, err := b.runtime.NativeCLDevice(b.device)
	if err != nil {
		b.release(nativeContext, 0)
		return nil, errors.WithMessagef(err, "sycl: get_native<opencl>(device)")
	}
	program, err := fn(nativeContext, nativeDev)
	b.release(nativeContext, nativeDev)
	if err != nil {
		return nil, err
	}
	return cl.NewModule(b.driver, program), nil
}

func (b *clBackend) release(context cl.ContextHandle, dev cl.DeviceHandle) {
	if context != 0 {
		if status := b.driver.ReleaseContext(context); status != cl.Success {
			klog.Errorf("sycl: clReleaseContext failed: %s", status)
		}
	}
	if dev != 0 {
		if status := b.driver.ReleaseDevice(dev); status != cl.Success {
			klog.Errorf("sycl: clReleaseDevice failed: %s", status)
		}
	}
}

func (b *clBackend) buildModule(source string, opts device.Options) (*handle.Shared[handle.Module], error) {
	return b.withNative(func(context cl.ContextHandle, dev cl.DeviceHandle) (cl.ProgramHandle, error) {
		return cl.BuildProgram(b.driver, context, dev, source, opts)
	})
}

func (b *clBackend) buildModuleFromBinary(binary []byte, format device.ModuleFormat, opts device.Options) (*handle.Shared[handle.Module], error) {
	return b.withNative(func(context cl.ContextHandle, dev cl.DeviceHandle) (cl.ProgramHandle, error) {
		return cl.BuildProgramFromBinary(b.driver, context, dev, binary, format, opts)
	})
}

func (b *clBackend) makeBundle(module handle.Module) (BundleHandle, error) {
	program := cl.ProgramHandle(module)
	// The runtime bundle takes over a reference, so it gets its own.
	if status := b.driver.RetainProgram(program); status != cl.Success {
		return 0, device.NewBackendCallError(device.OpenCL, "clRetainProgram", int32(status), status.String(), 0)
	}
	bundle, err := b.runtime.MakeCLKernelBundle(b.context, program)
	if err != nil {
		if status := b.driver.ReleaseProgram(program); status != cl.Success {
			klog.Errorf("sycl: clReleaseProgram failed: %s", status)
		}
		return 0, errors.WithMessagef(err, "sycl: make_kernel_bundle<opencl>")
	}
	return bundle, nil
}

func (b *clBackend) createKernel(_ BundleHandle, module handle.Module, name string) (KernelHandle, error) {
	native, err := cl.CreateKernel(b.driver, cl.ProgramHandle(module), name)
	if err != nil {
		return 0, err
	}
	kernel, err := b.runtime.MakeCLKernel(b.context, native)
	if status := b.driver.ReleaseKernel(native); status != cl.Success {
		klog.Errorf("sycl: clReleaseKernel failed: %s", status)
	}
	if err != nil {
		return 0, errors.WithMessagef(err, "sycl: make_kernel<opencl>(%q)", name)
	}
	return kernel, nil
}

func (b *clBackend) binary(module handle.Module) ([]byte, error) {
	return cl.ProgramBinary(b.driver, cl.ProgramHandle(module), b.nativeDev)
}

func (b *clBackend) kernelNames(module handle.Module) ([]string, error) {
	return cl.ProgramKernelNames(b.driver, cl.ProgramHandle(module))
}

func (b *clBackend) deviceID() (uint64, error) {
	return cl.DeviceID(b.driver, b.nativeDev)
}

// withBinder extracts the native kernel, which the runtime retains for us, and releases it after fn.
func (b *clBackend) withBinder(kernel KernelHandle, fn func(device.ArgBinder) error) error {
	native, err := b.runtime.NativeCLKernel(kernel)
	if err != nil {
		return errors.WithMessagef(err, "sycl: get_native<opencl>(kernel)")
	}
	err = fn(cl.NewBinder(b.driver, native, b.extensions))
	if status := b.driver.ReleaseKernel(native); status != cl.Success && err == nil {
		err = device.NewBackendCallError(device.OpenCL, "clReleaseKernel", int32(status), status.String(), 0)
	}
	return err
}

func (b *clBackend) destroy() error {
	if b.nativeDev == 0 {
		return nil
	}
	status := b.driver.ReleaseDevice(b.nativeDev)
	b.nativeDev = 0
	if status != cl.Success {
		return device.NewBackendCallError(device.OpenCL, "clReleaseDevice", int32(status), status.String(), 0)
	}
	return nil
}

// zeBackend builds through Level Zero interop.
type zeBackend struct {
	runtime       Runtime
	driver        ze.Driver
	compiler      ze.Compiler
	context       ContextHandle
	nativeContext ze.ContextHandle
	nativeDev     ze.DeviceHandle
}

func newZEBackend(runtime Runtime, context ContextHandle, dev DeviceHandle) (*zeBackend, error) {
	nativeContext, err := runtime.NativeZEContext(context)
	if err != nil {
		return nil, errors.WithMessagef(err, "sycl: get_native<ext_oneapi_level_zero>(context)")
	}
	nativeDev, err := runtime.NativeZEDevice(dev)
	if err != nil {
		return nil, errors.WithMessagef(err, "sycl: get_native<ext_oneapi_level_zero>(device)")
	}
	driver, compiler := runtime.LevelZero()
	return &zeBackend{
		runtime:       runtime,
		driver:        driver,
		compiler:      compiler,
		context:       context,
		nativeContext: nativeContext,
		nativeDev:     nativeDev,
	}, nil
}

func (b *zeBackend) kind() BackendKind { return BackendLevelZero }

func (b *zeBackend) buildModule(source string, opts device.Options) (*handle.Shared[handle.Module], error) {
	module, err := ze.BuildModuleFromSource(b.driver, b.compiler, b.nativeContext, b.nativeDev, source, opts)
	if err != nil {
		return nil, err
	}
	return ze.NewModule(b.driver, module), nil
}

func (b *zeBackend) buildModuleFromBinary(binary []byte, format device.ModuleFormat, _ device.Options) (*handle.Shared[handle.Module], error) {
	module, err := ze.BuildModule(b.driver, b.nativeContext, b.nativeDev, binary, format)
	if err != nil {
		return nil, err
	}
	return ze.NewModule(b.driver, module), nil
}

func (b *zeBackend) makeBundle(module handle.Module) (BundleHandle, error) {
	bundle, err := b.runtime.MakeZEKernelBundle(b.context, ze.ModuleHandle(module), false)
	if err != nil {
		return 0, errors.WithMessagef(err, "sycl: make_kernel_bundle<ext_oneapi_level_zero>")
	}
	return bundle, nil
}

func (b *zeBackend) createKernel(bundle BundleHandle, module handle.Module, name string) (KernelHandle, error) {
	native, err := ze.CreateKernel(b.driver, ze.ModuleHandle(module), name)
	if err != nil {
		return 0, err
	}
	kernel, err := b.runtime.MakeZEKernel(b.context, bundle, native, true)
	if err != nil {
		if result := b.driver.KernelDestroy(native); result != ze.Success {
			klog.Errorf("sycl: zeKernelDestroy failed: %s", result)
		}
		return 0, errors.WithMessagef(err, "sycl: make_kernel<ext_oneapi_level_zero>(%q)", name)
	}
	return kernel, nil
}

func (b *zeBackend) binary(module handle.Module) ([]byte, error) {
	return ze.ModuleNativeBinary(b.driver, ze.ModuleHandle(module))
}

func (b *zeBackend) kernelNames(module handle.Module) ([]string, error) {
	return ze.ModuleKernelNames(b.driver, ze.ModuleHandle(module))
}

func (b *zeBackend) deviceID() (uint64, error) {
	return ze.DeviceID(b.driver, b.nativeDev)
}

func (b *zeBackend) withBinder(kernel KernelHandle, fn func(device.ArgBinder) error) error {
	native, err := b.runtime.NativeZEKernel(kernel)
	if err != nil {
		return errors.WithMessagef(err, "sycl: get_native<ext_oneapi_level_zero>(kernel)")
	}
	return fn(ze.NewBinder(b.driver, native))
}

func (b *zeBackend) destroy() error { return nil }
