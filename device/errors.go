package device

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// BackendCallError is returned when a native driver call fails.
type BackendCallError struct {
	Backend Backend

	// Call is the native call that failed, e.g. "clCreateKernel".
	Call string

	// Status is the native status code and StatusName its symbolic name.
	Status     int32
	StatusName string

	// Location is the file:line where the status was checked.
	Location string
}

// Error implements error.
func (e *BackendCallError) Error() string {
	return fmt.Sprintf("%s: %s in %s returned %s (%d)", e.Backend, e.Call, e.Location, e.StatusName, e.Status)
}

// NewBackendCallError creates a BackendCallError with a stack trace.
// Location is taken from the caller, skip frames above the caller of NewBackendCallError.
func NewBackendCallError(backend Backend, call string, status int32, statusName string, skip int) error {
	location := "unknown"
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		location = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return errors.WithStack(&BackendCallError{
		Backend:    backend,
		Call:       call,
		Status:     status,
		StatusName: statusName,
		Location:   location,
	})
}

// CompileError is returned when building a module fails. It always carries the build log, which may be empty
// if the driver didn't produce one, or if fetching it failed.
type CompileError struct {
	Backend    Backend
	Call       string
	Status     int32
	StatusName string
	Log        string
}

// Error implements error.
func (e *CompileError) Error() string {
	if e.StatusName == "" {
		return fmt.Sprintf("%s: %s failed\n%s", e.Backend, e.Call, e.Log)
	}
	return fmt.Sprintf("%s: %s returned %s (%d).\n%s", e.Backend, e.Call, e.StatusName, e.Status, e.Log)
}

// NewCompileError creates a CompileError with a stack trace.
func NewCompileError(backend Backend, call string, status int32, statusName, log string) error {
	return errors.WithStack(&CompileError{
		Backend:    backend,
		Call:       call,
		Status:     status,
		StatusName: statusName,
		Log:        log,
	})
}

// ExtensionUnavailableError is returned when an optional driver extension required by an operation is not
// available on the device.
type ExtensionUnavailableError struct {
	Backend   Backend
	Extension string
}

// Error implements error.
func (e *ExtensionUnavailableError) Error() string {
	return fmt.Sprintf("%s: extension function %q unavailable", e.Backend, e.Extension)
}

// UnsupportedMemoryKindError is returned when a memory reference has a kind the binder doesn't know.
// It signals a programming error.
type UnsupportedMemoryKindError struct {
	Backend Backend
	Kind    MemKind
}

// Error implements error.
func (e *UnsupportedMemoryKindError) Error() string {
	return fmt.Sprintf("%s: unsupported memory kind %s", e.Backend, e.Kind)
}
