package device

import (
	"fmt"

	"github.com/gomlx/kernelrt/handle"
)

// MemKind is the addressing style of a device memory reference.
type MemKind int

const (
	// MemBuffer is a buffer object (e.g. an OpenCL cl_mem).
	MemBuffer MemKind = iota

	// MemUSMPointer is a unified shared memory pointer, obtained from an explicit device allocation.
	MemUSMPointer

	// MemSVMPointer is a shared virtual memory pointer.
	MemSVMPointer
)

// String implements fmt.Stringer.
func (k MemKind) String() string {
	switch k {
	case MemBuffer:
		return "buffer"
	case MemUSMPointer:
		return "usm_pointer"
	case MemSVMPointer:
		return "svm_pointer"
	}
	return fmt.Sprintf("MemKind(%d)", int(k))
}

// Mem is a reference to device memory passed as a kernel argument: a pointer-sized native value tagged
// with its kind.
type Mem struct {
	Value handle.Native
	Kind  MemKind
}

// NewMem creates a memory reference with an explicit kind.
func NewMem(value handle.Native, kind MemKind) Mem {
	return Mem{Value: value, Kind: kind}
}

// MemObject is implemented by typed device memory values that know their own kind.
type MemObject interface {
	MemKind() MemKind
	NativeMem() handle.Native
}

// MemOf creates a memory reference whose kind is derived from the type of obj.
func MemOf(obj MemObject) Mem {
	return Mem{Value: obj.NativeMem(), Kind: obj.MemKind()}
}

// IsValid returns whether m refers to something.
func (m Mem) IsValid() bool { return m.Value != 0 }

// MemKind implements MemObject.
func (m Mem) MemKind() MemKind { return m.Kind }

// NativeMem implements MemObject.
func (m Mem) NativeMem() handle.Native { return m.Value }

// String implements fmt.Stringer.
func (m Mem) String() string {
	return fmt.Sprintf("%s(0x%x)", m.Kind, uintptr(m.Value))
}

// USMPointer is a device pointer from a unified shared memory allocation.
type USMPointer uintptr

// MemKind implements MemObject.
func (USMPointer) MemKind() MemKind { return MemUSMPointer }

// NativeMem implements MemObject.
func (p USMPointer) NativeMem() handle.Native { return handle.Native(p) }

// SVMPointer is a shared virtual memory pointer.
type SVMPointer uintptr

// MemKind implements MemObject.
func (SVMPointer) MemKind() MemKind { return MemSVMPointer }

// NativeMem implements MemObject.
func (p SVMPointer) NativeMem() handle.Native { return handle.Native(p) }
