package cache

import (
	"testing"

	"github.com/gomlx/kernelrt/handle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModules creates modules whose deleter counts deletions per native value.
type fakeModules struct {
	deleted map[handle.Module]int
}

func newFakeModules() *fakeModules {
	return &fakeModules{deleted: make(map[handle.Module]int)}
}

func (f *fakeModules) New(native handle.Module) *handle.Shared[handle.Module] {
	return handle.NewShared(native, func(m handle.Module) { f.deleted[m]++ })
}

func mustAOTModule(t *testing.T, module *handle.Shared[handle.Module], names ...string) *AOTModule {
	m, err := NewAOTModule(module, names, 0x0bd5)
	require.NoError(t, err)
	return m
}

func TestAOTFirstRegisteredWins(t *testing.T) {
	f := newFakeModules()
	aot := NewAOT()
	aot.RegisterModule(mustAOTModule(t, f.New(1), "fft_a", "fft_b"))
	aot.RegisterModule(mustAOTModule(t, f.New(2), "fft_b", "fft_c"))

	m := aot.Get(Key{"fft_b"})
	require.True(t, m.IsValid())
	assert.Equal(t, handle.Module(1), m.Get())
	m.Release()

	m = aot.Get(Key{"fft_c"})
	assert.Equal(t, handle.Module(2), m.Get())
	m.Release()

	m = aot.Get(Key{"fft_d"})
	assert.False(t, m.IsValid())

	// Store is a no-op.
	aot.Store(Key{"fft_a"}, f.New(3))
	aot.Store(Key{"fft_d"}, f.New(4))
	m = aot.Get(Key{"fft_a"})
	assert.Equal(t, handle.Module(1), m.Get())
	m.Release()
	assert.False(t, aot.Get(Key{"fft_d"}).IsValid())

	// Modules returned by Get are references: the cache keeps its own.
	assert.Empty(t, f.deleted[1])
	aot.Release()
	assert.Equal(t, 1, f.deleted[1])
	assert.Equal(t, 1, f.deleted[2])
	assert.Empty(t, aot.Modules())
}

func TestNewAOTModule(t *testing.T) {
	f := newFakeModules()
	_, err := NewAOTModule(f.New(1), nil, 0)
	require.Error(t, err)
	_, err = NewAOTModule(f.New(1), []string{""}, 0)
	require.Error(t, err)
	_, err = NewAOTModule(&handle.Shared[handle.Module]{}, []string{"k"}, 0)
	require.Error(t, err)

	m := mustAOTModule(t, f.New(2), "b", "a", "b")
	assert.Equal(t, []string{"a", "b"}, m.KernelNames())
	assert.True(t, m.HasKernel("a"))
	assert.False(t, m.HasKernel("c"))
}

func TestJIT(t *testing.T) {
	f := newFakeModules()
	jit := NewJIT()
	assert.False(t, jit.Get(Key{"k1"}).IsValid())

	mod := f.New(10)
	jit.Store(Key{"k1"}, mod)
	mod.Release() // The cache keeps its own reference.
	assert.Empty(t, f.deleted[10])

	got := jit.Get(Key{"k1"})
	require.True(t, got.IsValid())
	assert.Equal(t, handle.Module(10), got.Get())
	got.Release()

	// Replacing releases the previous module.
	mod = f.New(11)
	jit.Store(Key{"k1"}, mod)
	mod.Release()
	assert.Equal(t, 1, f.deleted[10])

	mod = f.New(12)
	jit.Store(Key{"k0"}, mod)
	mod.Release()
	jit.Store(Key{"k2"}, &handle.Shared[handle.Module]{})
	assert.Equal(t, []string{"k0", "k1"}, jit.KernelNames())
	assert.Equal(t, 2, jit.Len())

	jit.Clear()
	assert.Equal(t, 1, f.deleted[11])
	assert.Equal(t, 1, f.deleted[12])
	assert.Zero(t, jit.Len())
}

func TestChain(t *testing.T) {
	f := newFakeModules()
	aot := NewAOT()
	aot.RegisterModule(mustAOTModule(t, f.New(1), "fft_a"))
	jit := NewJIT()
	chain := Chain{aot, jit}

	m := chain.Get(Key{"fft_a"})
	assert.Equal(t, handle.Module(1), m.Get())
	m.Release()
	assert.False(t, chain.Get(Key{"fft_z"}).IsValid())

	// Miss: compile and store, lands in the JIT.
	mod := f.New(2)
	chain.Store(Key{"fft_z"}, mod)
	mod.Release()
	assert.Equal(t, []string{"fft_z"}, jit.KernelNames())
	m = chain.Get(Key{"fft_z"})
	assert.Equal(t, handle.Module(2), m.Get())
	m.Release()

	// The AOT entry shadows a JIT entry with the same name.
	mod = f.New(3)
	jit.Store(Key{"fft_a"}, mod)
	mod.Release()
	m = chain.Get(Key{"fft_a"})
	assert.Equal(t, handle.Module(1), m.Get())
	m.Release()
}
