package archive_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gomlx/kernelrt/backends/cl"
	"github.com/gomlx/kernelrt/cache"
	"github.com/gomlx/kernelrt/cache/archive"
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/internal/simdriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

const (
	fftSource  = "__kernel void fft_r2(__global float2 *x) {}\n__kernel void fft_r4(__global float2 *x) {}\n"
	scanSource = "__kernel void scan(__global float *x) {}\n__kernel void fft_r2(__global float2 *x) {}\n"
)

func TestRoundTrip(t *testing.T) {
	entries := []archive.Entry{
		{Name: "fft.cl", Format: device.Native, DeviceID: 0x4905, KernelNames: []string{"fft_r2", "fft_r4"},
			Binary: simdriver.Binary(fftSource)},
		{Format: device.SPIRV, DeviceID: archive.AnyDevice, KernelNames: []string{"scan"}, Binary: []byte{}},
	}
	filePath := filepath.Join(t.TempDir(), "kernels.krt")
	require.NoError(t, archive.WriteFile(filePath, entries))
	got, err := archive.ReadFile(filePath)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entries[0], got[0])
	assert.Equal(t, "", got[1].Name)
	assert.Equal(t, device.SPIRV, got[1].Format)
	assert.Equal(t, []string{"scan"}, got[1].KernelNames)
	assert.Empty(t, got[1].Binary)

	_, err = archive.ReadFile(filepath.Join(t.TempDir(), "missing.krt"))
	require.Error(t, err)
}

func TestUnmarshalErrors(t *testing.T) {
	// Unknown fields are skipped.
	b := archive.Marshal(nil)
	b = protowire.AppendTag(b, 15, protowire.BytesType)
	b = protowire.AppendString(b, "comment")
	entries, err := archive.Unmarshal(b)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Newer version.
	b = protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, archive.Version+1)
	_, err = archive.Unmarshal(b)
	require.Error(t, err)
	fmt.Printf("\tExpected error: %v\n", err)

	// Unknown module format.
	entry := protowire.AppendTag(nil, 2, protowire.VarintType)
	entry = protowire.AppendVarint(entry, 7)
	b = protowire.AppendTag(nil, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, entry)
	_, err = archive.Unmarshal(b)
	require.Error(t, err)

	// Truncated.
	b = archive.Marshal([]archive.Entry{{Format: device.Native, Binary: []byte("0123456789")}})
	_, err = archive.Unmarshal(b[:len(b)-3])
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	sim := simdriver.NewCL()
	api, err := cl.New(sim, sim.Queue)
	require.NoError(t, err)
	defer func() { require.NoError(t, api.Destroy()) }()
	deviceID, err := api.DeviceID()
	require.NoError(t, err)

	entries := []archive.Entry{
		{Name: "other-device", Format: device.Native, DeviceID: deviceID + 1, Binary: simdriver.Binary(scanSource)},
		{Name: "fft", Format: device.Native, DeviceID: deviceID, Binary: simdriver.Binary(fftSource)},
		{Name: "corrupted", Format: device.Native, DeviceID: deviceID, Binary: []byte("garbage")},
		{Name: "scan", Format: device.Native, DeviceID: archive.AnyDevice, Binary: simdriver.Binary(scanSource)},
	}
	aot := cache.NewAOT()
	defer aot.Release()
	count, err := archive.Load(api, entries, aot)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	modules := aot.Modules()
	require.Len(t, modules, 2)
	assert.Equal(t, []string{"fft_r2", "fft_r4"}, modules[0].KernelNames())
	assert.Equal(t, []string{"fft_r2", "scan"}, modules[1].KernelNames())

	// First registered module wins.
	module := aot.Get(cache.Key{KernelName: "fft_r2"})
	require.True(t, module.IsValid())
	assert.Equal(t, modules[0].Module.Get(), module.Get())
	module.Release()
	assert.False(t, aot.Get(cache.Key{KernelName: "ifft"}).IsValid())
	assert.Equal(t, 2, sim.LivePrograms())
}
