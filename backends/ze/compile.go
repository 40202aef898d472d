package ze

import (
	"slices"
	"strings"

	"github.com/gomlx/kernelrt/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// sourceFileName is the name given to the source passed to the offline compiler.
	sourceFileName = "kernel.cl"

	// compilerLogFileName is the compiler output holding its log.
	compilerLogFileName = "stdout.log"
)

// CompilerArgs returns the offline compiler command line (without the program name) to compile
// sourceFileName. If deviceType is empty, it compiles to SPIR-V only, otherwise to native code for the device.
func CompilerArgs(deviceType string, opts device.Options) []string {
	args := []string{"compile"}
	if len(opts.Extensions) > 0 {
		args = append(args, "-internal_options", "-cl-ext=+"+strings.Join(opts.Extensions, ",+"))
	}
	if len(opts.Flags) > 0 {
		args = append(args, "-options", opts.FlagsString())
	}
	if deviceType == "" {
		args = append(args, "-spv_only")
	} else {
		args = append(args, "-device", deviceType)
	}
	return append(args, "-file", sourceFileName)
}

// offlineCompile runs the compiler and picks the binary among its outputs: the ".spv" file for SPIR-V, or
// the ".bin" / ".ar" file for native code.
func offlineCompile(compiler Compiler, source, deviceType string, opts device.Options) ([]byte, error) {
	args := CompilerArgs(deviceType, opts)
	klog.V(2).Infof("ze: ocloc %s", strings.Join(args, " "))
	outputs, err := compiler.Invoke(args, map[string][]byte{sourceFileName: []byte(source)})
	if err != nil {
		return nil, errors.WithMessagef(err, "ze: failed to invoke the offline compiler")
	}
	var suffixes []string
	if deviceType == "" {
		suffixes = []string{".spv"}
	} else {
		suffixes = []string{".bin", ".ar"}
	}
	// Sorted for a deterministic choice if there is more than one candidate.
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if name == compilerLogFileName {
			continue
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) {
				return outputs[name], nil
			}
		}
	}
	log, found := outputs[compilerLogFileName]
	if !found {
		return nil, device.NewCompileError(device.LevelZero, "ocloc", 0, "", "(no log available)")
	}
	return nil, device.NewCompileError(device.LevelZero, "ocloc", 0, "", string(log))
}

// CompileToSPIRV compiles source to a SPIR-V module with the offline compiler.
func CompileToSPIRV(compiler Compiler, source string, opts device.Options) ([]byte, error) {
	return offlineCompile(compiler, source, "", opts)
}

// CompileNative compiles source to native code for deviceType (an ocloc device name, e.g. "pvc")
// with the offline compiler.
func CompileNative(compiler Compiler, source, deviceType string, opts device.Options) ([]byte, error) {
	if deviceType == "" {
		return nil, errors.New("ze.CompileNative: device type must not be empty")
	}
	return offlineCompile(compiler, source, deviceType, opts)
}

func moduleFormat(format device.ModuleFormat) (ModuleFormat, error) {
	switch format {
	case device.SPIRV:
		return ModuleFormatILSPIRV, nil
	case device.Native:
		return ModuleFormatNative, nil
	}
	return 0, errors.Errorf("ze: unknown module format %s", format)
}

// BuildModule creates a module from a SPIR-V or native binary. On failure it returns a *device.CompileError
// with the module build log. The build log is always destroyed. The returned module must be destroyed by
// the caller.
func BuildModule(driver Driver, context ContextHandle, dev DeviceHandle, binary []byte, format device.ModuleFormat) (ModuleHandle, error) {
	zeFormat, err := moduleFormat(format)
	if err != nil {
		return 0, err
	}
	module, buildLog, result := driver.ModuleCreate(context, dev, zeFormat, binary)
	if result != Success {
		log := ""
		if buildLog != 0 {
			var logResult Result
			log, logResult = driver.ModuleBuildLogGetString(buildLog)
			if logResult != Success {
				klog.Warningf("ze: failed to fetch build log after zeModuleCreate returned %s: zeModuleBuildLogGetString returned %s",
					result, logResult)
				log = ""
			}
		}
		destroyBuildLog(driver, buildLog)
		return 0, device.NewCompileError(device.LevelZero, "zeModuleCreate", int32(result), result.String(), log)
	}
	if buildLog != 0 {
		if err := check(driver.ModuleBuildLogDestroy(buildLog), "zeModuleBuildLogDestroy"); err != nil {
			destroyModule(driver, module)
			return 0, err
		}
	}
	return module, nil
}

func destroyBuildLog(driver Driver, buildLog BuildLogHandle) {
	if buildLog == 0 {
		return
	}
	if result := driver.ModuleBuildLogDestroy(buildLog); result != Success {
		klog.Errorf("ze: zeModuleBuildLogDestroy(0x%x) failed: %s", uintptr(buildLog), result)
	}
}

func destroyModule(driver Driver, module ModuleHandle) {
	if result := driver.ModuleDestroy(module); result != Success {
		klog.Errorf("ze: zeModuleDestroy(0x%x) failed: %s", uintptr(module), result)
	}
}

// BuildModuleFromSource compiles source to SPIR-V with the offline compiler, and creates the module.
func BuildModuleFromSource(driver Driver, compiler Compiler, context ContextHandle, dev DeviceHandle, source string,
	opts device.Options) (ModuleHandle, error) {
	spirv, err := CompileToSPIRV(compiler, source, opts)
	if err != nil {
		return 0, err
	}
	return BuildModule(driver, context, dev, spirv, device.SPIRV)
}

// CreateKernel resolves the kernel name in module. The returned kernel must be destroyed by the caller.
func CreateKernel(driver Driver, module ModuleHandle, name string) (KernelHandle, error) {
	kernel, result := driver.KernelCreate(module, name)
	if err := check(result, "zeKernelCreate"); err != nil {
		return 0, errors.WithMessagef(err, "kernel %q", name)
	}
	return kernel, nil
}

// ModuleKernelNames returns the names of the kernels in module.
func ModuleKernelNames(driver Driver, module ModuleHandle) ([]string, error) {
	names, result := driver.ModuleGetKernelNames(module)
	if err := check(result, "zeModuleGetKernelNames"); err != nil {
		return nil, err
	}
	return names, nil
}

// ModuleNativeBinary returns the native device binary of module.
func ModuleNativeBinary(driver Driver, module ModuleHandle) ([]byte, error) {
	binary, result := driver.ModuleGetNativeBinary(module)
	if err := check(result, "zeModuleGetNativeBinary"); err != nil {
		return nil, err
	}
	return binary, nil
}

// DeviceInfo queries the device capabilities.
func DeviceInfo(driver Driver, dev DeviceHandle) (device.Info, error) {
	props, result := driver.DeviceGetProperties(dev)
	if err := check(result, "zeDeviceGetProperties"); err != nil {
		return device.Info{}, err
	}
	compute, result := driver.DeviceGetComputeProperties(dev)
	if err := check(result, "zeDeviceGetComputeProperties"); err != nil {
		return device.Info{}, err
	}
	subgroupSizes := make([]uint64, len(compute.SubGroupSizes))
	for i, size := range compute.SubGroupSizes {
		subgroupSizes[i] = uint64(size)
	}
	deviceType := device.Custom
	switch props.Type {
	case DeviceTypeCPU:
		deviceType = device.CPU
	case DeviceTypeGPU:
		deviceType = device.GPU
	}
	return device.NewInfo(uint64(compute.MaxTotalGroupSize), subgroupSizes, uint64(compute.MaxSharedLocalMemory), deviceType), nil
}

// DeviceID returns the vendor device id.
func DeviceID(driver Driver, dev DeviceHandle) (uint64, error) {
	props, result := driver.DeviceGetProperties(dev)
	if err := check(result, "zeDeviceGetProperties"); err != nil {
		return 0, err
	}
	return uint64(props.DeviceID), nil
}
