package cl

import (
	"strings"

	"github.com/gomlx/kernelrt/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// checkBuildStatus returns a *device.CompileError with the program's build log if status is not Success.
// A failure to fetch the log is logged, and the compile error is returned with an empty log.
func checkBuildStatus(driver Driver, program ProgramHandle, dev DeviceHandle, status Status) error {
	if status == Success {
		return nil
	}
	log, logStatus := driver.GetProgramBuildLog(program, dev)
	if logStatus != Success {
		klog.Warningf("cl: failed to fetch build log after clBuildProgram returned %s: clGetProgramBuildInfo returned %s",
			status, logStatus)
		log = ""
	}
	return device.NewCompileError(device.OpenCL, "clBuildProgram", int32(status), status.String(), log)
}

// buildOrRelease builds program, releasing it if the build fails.
func buildOrRelease(driver Driver, program ProgramHandle, dev DeviceHandle, opts device.Options) error {
	status := driver.BuildProgram(program, []DeviceHandle{dev}, opts.FlagsString())
	if err := checkBuildStatus(driver, program, dev, status); err != nil {
		if releaseStatus := driver.ReleaseProgram(program); releaseStatus != Success {
			klog.Errorf("cl: failed to release program after failed build: %s", releaseStatus)
		}
		return err
	}
	return nil
}

// BuildProgram compiles source for the device. The returned program must be released by the caller.
func BuildProgram(driver Driver, context ContextHandle, dev DeviceHandle, source string, opts device.Options) (ProgramHandle, error) {
	program, status := driver.CreateProgramWithSource(context, source)
	if err := check(status, "clCreateProgramWithSource"); err != nil {
		return 0, err
	}
	if err := buildOrRelease(driver, program, dev, opts); err != nil {
		return 0, err
	}
	return program, nil
}

// BuildProgramFromBinary creates a program from SPIR-V (intermediate language) or a native device binary,
// and builds it. The returned program must be released by the caller.
func BuildProgramFromBinary(driver Driver, context ContextHandle, dev DeviceHandle, binary []byte,
	format device.ModuleFormat, opts device.Options) (ProgramHandle, error) {
	var program ProgramHandle
	var status Status
	var call string
	switch format {
	case device.SPIRV:
		program, status = driver.CreateProgramWithIL(context, binary)
		call = "clCreateProgramWithIL"
	case device.Native:
		program, status = driver.CreateProgramWithBinary(context, dev, binary)
		call = "clCreateProgramWithBinary"
	default:
		return 0, errors.Errorf("cl: unknown module format %s", format)
	}
	if err := check(status, call); err != nil {
		return 0, err
	}
	if err := buildOrRelease(driver, program, dev, opts); err != nil {
		return 0, err
	}
	return program, nil
}

// CreateKernel resolves the kernel name in program. The returned kernel must be released by the caller.
func CreateKernel(driver Driver, program ProgramHandle, name string) (KernelHandle, error) {
	kernel, status := driver.CreateKernel(program, name)
	if err := check(status, "clCreateKernel"); err != nil {
		return 0, errors.WithMessagef(err, "kernel %q", name)
	}
	return kernel, nil
}

// ProgramBinary returns the native device binary of a built program.
func ProgramBinary(driver Driver, program ProgramHandle, dev DeviceHandle) ([]byte, error) {
	binary, status := driver.GetProgramBinary(program, dev)
	if err := check(status, "clGetProgramInfo(CL_PROGRAM_BINARIES)"); err != nil {
		return nil, err
	}
	return binary, nil
}

// ProgramKernelNames returns the names of the kernels defined by a built program.
func ProgramKernelNames(driver Driver, program ProgramHandle) ([]string, error) {
	list, status := driver.GetProgramKernelNames(program)
	if err := check(status, "clGetProgramInfo(CL_PROGRAM_KERNEL_NAMES)"); err != nil {
		return nil, err
	}
	return splitKernelNames(list), nil
}

// splitKernelNames splits the ';' separated list of kernel names, dropping empty names and a trailing
// null character.
func splitKernelNames(list string) []string {
	list = strings.TrimRight(list, "\x00")
	var names []string
	for _, name := range strings.Split(list, ";") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// DeviceInfo queries the device capabilities.
func DeviceInfo(driver Driver, dev DeviceHandle) (device.Info, error) {
	maxWorkGroupSize, status := driver.GetDeviceMaxWorkGroupSize(dev)
	if err := check(status, "clGetDeviceInfo(CL_DEVICE_MAX_WORK_GROUP_SIZE)"); err != nil {
		return device.Info{}, err
	}
	subgroupSizes, status := driver.GetDeviceSubGroupSizes(dev)
	if err := check(status, "clGetDeviceInfo(CL_DEVICE_SUB_GROUP_SIZES_INTEL)"); err != nil {
		return device.Info{}, err
	}
	localMemSize, status := driver.GetDeviceLocalMemSize(dev)
	if err := check(status, "clGetDeviceInfo(CL_DEVICE_LOCAL_MEM_SIZE)"); err != nil {
		return device.Info{}, err
	}
	clType, status := driver.GetDeviceType(dev)
	if err := check(status, "clGetDeviceInfo(CL_DEVICE_TYPE)"); err != nil {
		return device.Info{}, err
	}
	deviceType := device.Custom
	switch clType {
	case DeviceTypeCPU:
		deviceType = device.CPU
	case DeviceTypeGPU:
		deviceType = device.GPU
	}
	return device.NewInfo(maxWorkGroupSize, subgroupSizes, localMemSize, deviceType), nil
}

// DeviceID returns the vendor device id.
func DeviceID(driver Driver, dev DeviceHandle) (uint64, error) {
	id, status := driver.GetDeviceIDIntel(dev)
	if err := check(status, "clGetDeviceInfo(CL_DEVICE_ID_INTEL)"); err != nil {
		return 0, err
	}
	return uint64(id), nil
}
