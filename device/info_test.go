package device

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoSubgroups(t *testing.T) {
	info := NewInfo(512, []uint64{16, 8, 32}, 64*1024, GPU)
	require.Equal(t, []uint64{16, 8, 32}, info.Subgroups())
	assert.EqualValues(t, 8, info.MinSubgroupSize())
	assert.EqualValues(t, 32, info.MaxSubgroupSize())
	assert.EqualValues(t, 1*32*256, info.RegisterSpace())

	info = NewInfo(512, []uint64{16, 32}, 64*1024, GPU)
	assert.EqualValues(t, 2*32*256, info.RegisterSpace())

	// No subgroup sizes reported.
	info = NewInfo(256, nil, 0, CPU)
	assert.EqualValues(t, 8, info.MinSubgroupSize())
	assert.EqualValues(t, 8, info.MaxSubgroupSize())
	assert.EqualValues(t, 32*256, info.RegisterSpace())

	// More sizes than capacity are dropped.
	info = NewInfo(256, []uint64{1, 2, 4, 8, 16, 32, 64}, 0, Custom)
	assert.Equal(t, MaxSubgroupSizes, info.NumSubgroupSizes)
	assert.EqualValues(t, 16, info.MaxSubgroupSize())
}

func TestInfoString(t *testing.T) {
	info := NewInfo(1024, []uint64{16, 32}, 128*1024, GPU)
	s := info.String()
	fmt.Printf("\t%s\n", s)
	assert.Contains(t, s, "gpu device")
	assert.Contains(t, s, "1,024")
	assert.Contains(t, s, "[16, 32]")
	assert.Contains(t, s, "128 KiB")
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "cpu", CPU.String())
	assert.Equal(t, "Type(7)", Type(7).String())
	assert.Equal(t, "usm_pointer", MemUSMPointer.String())
	assert.Equal(t, "MemKind(9)", MemKind(9).String())
	assert.Equal(t, "spirv", SPIRV.String())
	assert.Equal(t, "LevelZero", LevelZero.String())
}

func TestMemOf(t *testing.T) {
	m := MemOf(USMPointer(0x1000))
	assert.Equal(t, MemUSMPointer, m.Kind)
	assert.EqualValues(t, 0x1000, m.Value)

	m = MemOf(SVMPointer(0x2000))
	assert.Equal(t, MemSVMPointer, m.Kind)

	m = NewMem(0x3000, MemBuffer)
	assert.Equal(t, m, MemOf(m))
	assert.True(t, m.IsValid())
	assert.False(t, Mem{}.IsValid())
	assert.Equal(t, "buffer(0x3000)", m.String())
}

func TestOptions(t *testing.T) {
	t.Setenv(CompilerOptionsEnv, "-cl-fast-relaxed-math  -DFOO=1")
	opts := DefaultOptions()
	require.Equal(t, []string{"-cl-mad-enable", "-cl-fast-relaxed-math", "-DFOO=1"}, opts.Flags)
	assert.Equal(t, "-cl-mad-enable -cl-fast-relaxed-math -DFOO=1", opts.FlagsString())

	t.Setenv(CompilerOptionsEnv, "")
	opts = DefaultOptions()
	withExt := opts.WithExtensions("cl_intel_subgroups").WithFlags("-g")
	assert.Equal(t, []string{"-cl-mad-enable"}, opts.Flags, "WithFlags must not change the original")
	assert.Empty(t, opts.Extensions)
	assert.Equal(t, []string{"cl_intel_subgroups"}, withExt.Extensions)
	assert.Equal(t, []string{"-cl-mad-enable", "-g"}, withExt.Flags)
}
