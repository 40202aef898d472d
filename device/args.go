package device

import (
	"unsafe"

	"github.com/gomlx/kernelrt/handle"
	"github.com/pkg/errors"
)

// Scalar are the plain types that can be bound as kernel arguments by value.
type Scalar interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64 | ~uintptr
}

// ScalarBytes returns the native byte representation of v.
func ScalarBytes[T Scalar](v T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v))
}

// SetScalar binds v to the argument index.
func SetScalar[T Scalar](b ArgBinder, index int, v T) error {
	return b.SetArg(index, ScalarBytes(v))
}

// BindArgs binds args to consecutive argument indices starting at 0.
//
// Mem and MemObject values are bound with SetMemArg, []byte as raw bytes, handle.Native as a pointer-sized
// value, and Go's fixed-size numeric types by value. Plain int and uint are rejected, since their size
// doesn't match any kernel argument type unambiguously.
func BindArgs(b ArgBinder, args ...any) error {
	for index, arg := range args {
		var err error
		switch v := arg.(type) {
		case Mem:
			err = b.SetMemArg(index, v)
		case MemObject:
			err = b.SetMemArg(index, MemOf(v))
		case []byte:
			err = b.SetArg(index, v)
		case handle.Native:
			err = b.SetArg(index, v.Bytes())
		case int8:
			err = SetScalar(b, index, v)
		case int16:
			err = SetScalar(b, index, v)
		case int32:
			err = SetScalar(b, index, v)
		case int64:
			err = SetScalar(b, index, v)
		case uint8:
			err = SetScalar(b, index, v)
		case uint16:
			err = SetScalar(b, index, v)
		case uint32:
			err = SetScalar(b, index, v)
		case uint64:
			err = SetScalar(b, index, v)
		case float32:
			err = SetScalar(b, index, v)
		case float64:
			err = SetScalar(b, index, v)
		default:
			return errors.Errorf("BindArgs: argument #%d has unsupported type %T", index, arg)
		}
		if err != nil {
			return errors.WithMessagef(err, "BindArgs: failed to bind argument #%d (%T)", index, arg)
		}
	}
	return nil
}
