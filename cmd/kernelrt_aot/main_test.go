package main

import (
	"testing"

	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/internal/simdriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fftSource = `
__kernel void fft_r2(__global float2 *x) {}
__kernel void fft_r4(__global float2 *x) {}
kernel void helper(void) {}
`

func TestDeclaredKernels(t *testing.T) {
	assert.Equal(t, []string{"fft_r2", "fft_r4", "helper"}, declaredKernels(fftSource))
	assert.Equal(t, []string{"fft_r8"}, declaredKernels(
		"__kernel __attribute__((reqd_work_group_size(64, 1, 1))) void fft_r8(__global float2 *x) {}"))
	assert.Empty(t, declaredKernels("void f(void) {}"))
}

func TestCompileWithDriver(t *testing.T) {
	*flagDriver = simdriver.DriverCL
	entries, err := compileWithDriver([]string{"src/fft.cl"}, []string{fftSource}, device.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "fft.cl", e.Name)
	assert.Equal(t, device.Native, e.Format)
	assert.Equal(t, uint64(0x4905), e.DeviceID)
	assert.Equal(t, []string{"fft_r2", "fft_r4", "helper"}, e.KernelNames)
	assert.Equal(t, simdriver.Binary(fftSource), e.Binary)

	_, err = compileWithDriver([]string{"bad.cl"}, []string{"#error unsupported radix\n"}, device.DefaultOptions())
	require.ErrorContains(t, err, "bad.cl")
}
