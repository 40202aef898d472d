package device

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkStatus(status int32) error {
	if status == 0 {
		return nil
	}
	return NewBackendCallError(OpenCL, "clCreateKernel", status, "CL_INVALID_KERNEL_NAME", 0)
}

func TestBackendCallError(t *testing.T) {
	require.NoError(t, checkStatus(0))
	err := checkStatus(-46)
	require.Error(t, err)
	fmt.Printf("\t%v\n", err)

	var callErr *BackendCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "clCreateKernel", callErr.Call)
	assert.EqualValues(t, -46, callErr.Status)
	assert.Contains(t, callErr.Location, "errors_test.go:")
	assert.Equal(t, fmt.Sprintf("OpenCL: clCreateKernel in %s returned CL_INVALID_KERNEL_NAME (-46)", callErr.Location),
		err.Error())

	// Still classifiable after adding context.
	wrapped := errors.WithMessagef(err, "creating kernel %q", "k1")
	require.True(t, errors.As(wrapped, &callErr))
}

func TestCompileError(t *testing.T) {
	err := NewCompileError(OpenCL, "clBuildProgram", -11, "CL_BUILD_PROGRAM_FAILURE", "error: expected ';'")
	assert.Equal(t, "OpenCL: clBuildProgram returned CL_BUILD_PROGRAM_FAILURE (-11).\nerror: expected ';'", err.Error())
	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "error: expected ';'", compileErr.Log)

	err = NewCompileError(LevelZero, "source compilation", 0, "", "")
	assert.Equal(t, "LevelZero: source compilation failed\n", err.Error())
}

func TestOtherErrors(t *testing.T) {
	err := error(&ExtensionUnavailableError{Backend: OpenCL, Extension: "clSetKernelArgMemPointerINTEL"})
	assert.Contains(t, err.Error(), "clSetKernelArgMemPointerINTEL")
	err = &UnsupportedMemoryKindError{Backend: SYCL, Kind: MemKind(5)}
	assert.Equal(t, "SYCL: unsupported memory kind MemKind(5)", err.Error())
}
