package handle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingDeleter records every native value it's called with.
type countingDeleter struct {
	deleted []uintptr
}

func (d *countingDeleter) Delete(n Native) {
	d.deleted = append(d.deleted, uintptr(n))
}

func TestSharedDeleterCalledOnce(t *testing.T) {
	for _, native := range []Native{1, 0xdeadbeef, 42} {
		t.Run(fmt.Sprintf("0x%x", uintptr(native)), func(t *testing.T) {
			d := &countingDeleter{}
			h := NewShared(native, d.Delete)
			require.True(t, h.IsValid())
			require.Equal(t, native, h.Get())
			h.Release()
			require.Equal(t, []uintptr{uintptr(native)}, d.deleted)
			require.False(t, h.IsValid())
			require.Equal(t, Native(0), h.Get())

			// Releasing again is a no-op.
			h.Release()
			require.Len(t, d.deleted, 1)
		})
	}
}

func TestSharedNullNeverDeletes(t *testing.T) {
	d := &countingDeleter{}
	h := NewShared(Native(0), d.Delete)
	require.False(t, h.IsValid())
	c := h.Clone()
	require.False(t, c.IsValid())
	c.Release()
	h.Release()
	require.Empty(t, d.deleted)

	// Zero value and nil pointers are invalid and safe to release.
	var zero Shared[Native]
	require.False(t, zero.IsValid())
	zero.Release()
	var nilHandle *Shared[Module]
	require.False(t, nilHandle.IsValid())
	require.Equal(t, Module(0), nilHandle.Get())
	nilHandle.Release()
	require.Equal(t, "handle(invalid)", nilHandle.String())
}

func TestSharedClones(t *testing.T) {
	const numCopies = 5
	d := &countingDeleter{}
	before := Alive()
	h := NewShared(Native(7), d.Delete)
	require.Equal(t, before+1, Alive())

	copies := []*Shared[Native]{h}
	for range numCopies - 1 {
		copies = append(copies, h.Clone())
	}
	require.EqualValues(t, numCopies, h.RefCount())
	for _, c := range copies {
		require.Equal(t, Native(7), c.Get())
	}

	// Dropping all but the last copy keeps the resource alive.
	for _, c := range copies[:numCopies-1] {
		c.Release()
	}
	require.Empty(t, d.deleted)
	last := copies[numCopies-1]
	require.True(t, last.IsValid())
	require.EqualValues(t, 1, last.RefCount())

	last.Release()
	require.Equal(t, []uintptr{7}, d.deleted)
	require.Equal(t, before, Alive())
}

func TestSharedCloneAfterRelease(t *testing.T) {
	h := NewShared(Native(3), func(Native) {})
	h.Release()
	assert.Panics(t, func() { _ = h.Clone() })
}

func TestNativeBytes(t *testing.T) {
	n := Native(0x0102)
	b := n.Bytes()
	require.Len(t, b, Size)
	var sum int
	for _, v := range b {
		sum += int(v)
	}
	require.Equal(t, 3, sum)
}
