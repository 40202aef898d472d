package ze

import (
	"github.com/gomlx/kernelrt/device"
	"github.com/pkg/errors"
)

// Binder sets the arguments of a Level Zero kernel.
type Binder struct {
	driver Driver
	kernel KernelHandle
}

var _ device.ArgBinder = (*Binder)(nil)

// NewBinder creates a binder for the kernel.
func NewBinder(driver Driver, kernel KernelHandle) *Binder {
	return &Binder{driver: driver, kernel: kernel}
}

// SetArg implements device.ArgBinder.
func (b *Binder) SetArg(index int, value []byte) error {
	return check(b.driver.KernelSetArgumentValue(b.kernel, uint32(index), value), "zeKernelSetArgumentValue")
}

// SetMemArg implements device.ArgBinder. Every known memory kind is bound by its pointer value.
func (b *Binder) SetMemArg(index int, mem device.Mem) error {
	switch mem.Kind {
	case device.MemBuffer, device.MemUSMPointer, device.MemSVMPointer:
		return b.SetArg(index, mem.Value.Bytes())
	}
	return errors.WithStack(&device.UnsupportedMemoryKindError{Backend: device.LevelZero, Kind: mem.Kind})
}
