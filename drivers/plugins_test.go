package drivers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathToDriverName(t *testing.T) {
	assert.Equal(t, "level-zero", pathToDriverName("/usr/lib/kernelrt/kernelrt-driver-level-zero.so"))
	assert.Equal(t, "cl", pathToDriverName("/opt/kernelrt-driver-cl.so"))
	assert.Equal(t, "", pathToDriverName("/opt/kernelrt-driver-.so"))
	assert.Equal(t, "", pathToDriverName("/opt/libOpenCL.so"))
	assert.Equal(t, "", pathToDriverName("kernelrt-driver-cl.so"))
}

func TestSearchDrivers(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	for _, p := range []string{
		filepath.Join(first, "kernelrt-driver-cl.so"),
		filepath.Join(second, "kernelrt-driver-cl.so"),
		filepath.Join(second, "kernelrt-driver-ze.so"),
		filepath.Join(second, "libze_loader.so"),
	} {
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	found := searchDrivers([]string{first, second, filepath.Join(first, "missing")}, "")
	assert.Equal(t, map[string]string{
		"cl": filepath.Join(first, "kernelrt-driver-cl.so"),
		"ze": filepath.Join(second, "kernelrt-driver-ze.so"),
	}, found)

	found = searchDrivers([]string{second, first}, "cl")
	assert.Equal(t, map[string]string{"cl": filepath.Join(second, "kernelrt-driver-cl.so")}, found)
	assert.Empty(t, searchDrivers([]string{first}, "ze"))
}

func TestParseSearchPaths(t *testing.T) {
	assert.Equal(t, []string{"/a", "/b"}, parseSearchPaths("/a::/b:"))
	assert.Empty(t, parseSearchPaths(""))
}

func TestLoadPluginFailure(t *testing.T) {
	p := filepath.Join(t.TempDir(), "kernelrt-driver-broken.so")
	require.NoError(t, os.WriteFile(p, []byte("not an ELF file"), 0o644))
	_, err := loadPlugin(p)
	require.Error(t, err)
}
