package drivers_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/drivers"
	"github.com/gomlx/kernelrt/internal/simdriver"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestOpen(t *testing.T) {
	for name, backend := range map[string]device.Backend{
		simdriver.DriverCL:     device.OpenCL,
		simdriver.DriverZE:     device.LevelZero,
		simdriver.DriverSYCLCL: device.SYCL,
		simdriver.DriverSYCLZE: device.SYCL,
	} {
		t.Run(name, func(t *testing.T) {
			api, err := drivers.Open(name)
			require.NoError(t, err)
			fmt.Printf("\t%s: %s\n", name, api)
			assert.Equal(t, backend, api.Backend())
			require.NoError(t, api.Destroy())
		})
	}

	_, err := drivers.Open("no-such-driver")
	require.Error(t, err)
	fmt.Printf("\tExpected error: %v\n", err)
}

func TestDefault(t *testing.T) {
	t.Setenv(drivers.DefaultDriverEnv, simdriver.DriverZE)
	name, err := drivers.Default()
	require.NoError(t, err)
	assert.Equal(t, simdriver.DriverZE, name)
	api, err := drivers.Open("")
	require.NoError(t, err)
	assert.Equal(t, device.LevelZero, api.Backend())
	require.NoError(t, api.Destroy())

	// With more than one driver registered there is no implicit default.
	t.Setenv(drivers.DefaultDriverEnv, "")
	_, err = drivers.Default()
	require.Error(t, err)
	fmt.Printf("\tExpected error: %v\n", err)
}

func TestRegister(t *testing.T) {
	failing := func() (device.API, error) { return nil, errors.New("no device found") }
	drivers.Register("test-failing", failing)
	_, err := drivers.Open("test-failing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device found")

	require.Panics(t, func() { drivers.Register("test-failing", failing) })
	require.Panics(t, func() { drivers.Register("", failing) })
	require.Panics(t, func() { drivers.Register("test-nil", nil) })
}

func TestAvailable(t *testing.T) {
	dir := t.TempDir()
	pluginPath := filepath.Join(dir, "kernelrt-driver-remote.so")
	require.NoError(t, os.WriteFile(pluginPath, nil, 0o644))
	drivers.SetSearchPaths(dir)
	defer drivers.SetSearchPaths()

	available := drivers.Available()
	for _, name := range []string{simdriver.DriverCL, simdriver.DriverZE, simdriver.DriverSYCLCL, simdriver.DriverSYCLZE} {
		assert.Contains(t, available, name)
	}
	assert.Equal(t, pluginPath, available["remote"])

	// An empty file is found but is not a loadable plugin.
	_, err := drivers.Open("remote")
	require.Error(t, err)
	_, err = drivers.Open(pluginPath)
	require.Error(t, err)
}
