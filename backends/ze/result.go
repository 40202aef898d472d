package ze

import (
	"fmt"

	"github.com/gomlx/kernelrt/device"
)

// Result is a Level Zero result code (ze_result_t).
type Result uint32

const (
	Success                         Result = 0
	NotReady                        Result = 1
	ErrorDeviceLost                 Result = 0x70000001
	ErrorOutOfHostMemory            Result = 0x70000002
	ErrorOutOfDeviceMemory          Result = 0x70000003
	ErrorModuleBuildFailure         Result = 0x70000004
	ErrorModuleLinkFailure          Result = 0x70000005
	ErrorUninitialized              Result = 0x78000001
	ErrorUnsupportedVersion         Result = 0x78000002
	ErrorUnsupportedFeature         Result = 0x78000003
	ErrorInvalidArgument            Result = 0x78000004
	ErrorInvalidNullHandle          Result = 0x78000005
	ErrorHandleObjectInUse          Result = 0x78000006
	ErrorInvalidNullPointer         Result = 0x78000007
	ErrorInvalidSize                Result = 0x78000008
	ErrorUnsupportedSize            Result = 0x78000009
	ErrorInvalidEnumeration         Result = 0x7800000c
	ErrorInvalidNativeBinary        Result = 0x7800000f
	ErrorInvalidKernelName          Result = 0x78000011
	ErrorInvalidGroupSizeDimension  Result = 0x78000013
	ErrorInvalidKernelArgumentIndex Result = 0x78000015
	ErrorInvalidKernelArgumentSize  Result = 0x78000016
	ErrorInvalidCommandListType     Result = 0x78000019
	ErrorUnknown                    Result = 0x7ffffffe
)

var resultNames = map[Result]string{
	Success:                         "ZE_RESULT_SUCCESS",
	NotReady:                        "ZE_RESULT_NOT_READY",
	ErrorDeviceLost:                 "ZE_RESULT_ERROR_DEVICE_LOST",
	ErrorOutOfHostMemory:            "ZE_RESULT_ERROR_OUT_OF_HOST_MEMORY",
	ErrorOutOfDeviceMemory:          "ZE_RESULT_ERROR_OUT_OF_DEVICE_MEMORY",
	ErrorModuleBuildFailure:         "ZE_RESULT_ERROR_MODULE_BUILD_FAILURE",
	ErrorModuleLinkFailure:          "ZE_RESULT_ERROR_MODULE_LINK_FAILURE",
	ErrorUninitialized:              "ZE_RESULT_ERROR_UNINITIALIZED",
	ErrorUnsupportedVersion:         "ZE_RESULT_ERROR_UNSUPPORTED_VERSION",
	ErrorUnsupportedFeature:         "ZE_RESULT_ERROR_UNSUPPORTED_FEATURE",
	ErrorInvalidArgument:            "ZE_RESULT_ERROR_INVALID_ARGUMENT",
	ErrorInvalidNullHandle:          "ZE_RESULT_ERROR_INVALID_NULL_HANDLE",
	ErrorHandleObjectInUse:          "ZE_RESULT_ERROR_HANDLE_OBJECT_IN_USE",
	ErrorInvalidNullPointer:         "ZE_RESULT_ERROR_INVALID_NULL_POINTER",
	ErrorInvalidSize:                "ZE_RESULT_ERROR_INVALID_SIZE",
	ErrorUnsupportedSize:            "ZE_RESULT_ERROR_UNSUPPORTED_SIZE",
	ErrorInvalidEnumeration:         "ZE_RESULT_ERROR_INVALID_ENUMERATION",
	ErrorInvalidNativeBinary:        "ZE_RESULT_ERROR_INVALID_NATIVE_BINARY",
	ErrorInvalidKernelName:          "ZE_RESULT_ERROR_INVALID_KERNEL_NAME",
	ErrorInvalidGroupSizeDimension:  "ZE_RESULT_ERROR_INVALID_GROUP_SIZE_DIMENSION",
	ErrorInvalidKernelArgumentIndex: "ZE_RESULT_ERROR_INVALID_KERNEL_ARGUMENT_INDEX",
	ErrorInvalidKernelArgumentSize:  "ZE_RESULT_ERROR_INVALID_KERNEL_ARGUMENT_SIZE",
	ErrorInvalidCommandListType:     "ZE_RESULT_ERROR_INVALID_COMMAND_LIST_TYPE",
	ErrorUnknown:                    "ZE_RESULT_ERROR_UNKNOWN",
}

// String implements fmt.Stringer, returning the Level Zero name of the result.
func (r Result) String() string {
	if name, found := resultNames[r]; found {
		return name
	}
	return fmt.Sprintf("ZE_RESULT_UNKNOWN(0x%x)", uint32(r))
}

// check converts a failed result to a *device.BackendCallError located at the caller.
func check(result Result, call string) error {
	if result == Success {
		return nil
	}
	return device.NewBackendCallError(device.LevelZero, call, int32(result), result.String(), 1)
}
