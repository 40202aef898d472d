package ze_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/gomlx/kernelrt/backends/ze"
	"github.com/gomlx/kernelrt/device"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOcloc writes a shell script standing in for the offline compiler: it "compiles" kernel.cl into
// kernel.spv by copying it, or fails with a log if the source contains "#error".
func fakeOcloc(t *testing.T) *ze.Ocloc {
	if runtime.GOOS == "windows" {
		t.Skip("fake ocloc is a shell script")
	}
	script := `#!/bin/sh
if grep -q '#error' kernel.cl; then
  echo "kernel.cl:1:2: error: #error directive"
  exit 1
fi
echo "Build succeeded."
cp kernel.cl kernel.spv
`
	p := filepath.Join(t.TempDir(), "ocloc")
	require.NoError(t, os.WriteFile(p, []byte(script), 0o755))
	return &ze.Ocloc{Path: p}
}

func TestOcloc(t *testing.T) {
	ocloc := fakeOcloc(t)
	spirv, err := ze.CompileToSPIRV(ocloc, fftKernels, device.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, fftKernels, string(spirv))

	_, err = ze.CompileToSPIRV(ocloc, "#error bad\n", device.DefaultOptions())
	var compileErr *device.CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "kernel.cl:1:2: error: #error directive\n", compileErr.Log)

	_, err = ze.CompileToSPIRV(&ze.Ocloc{Path: filepath.Join(t.TempDir(), "missing")}, fftKernels, device.DefaultOptions())
	require.Error(t, err)
	require.False(t, errors.As(err, &compileErr))
}

func TestNewOcloc(t *testing.T) {
	t.Setenv(ze.OclocEnv, "/opt/intel/bin/ocloc")
	ocloc, err := ze.NewOcloc()
	require.NoError(t, err)
	assert.Equal(t, "/opt/intel/bin/ocloc", ocloc.Path)
}
