/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package handle holds the opaque native handle representation shared by all backends, and Shared, a
// reference-counted owner of a native handle plus the function that deletes it.
//
// Native runtimes hand out handles of different nature: real pointers (OpenCL objects), driver-defined
// integers disguised as pointers (Level Zero), or values owned by a runtime with its own reference counting.
// Here they are all stored as a Native: an unsigned integer of pointer size that is never dereferenced.
// The zero value is the invalid (null) handle.
package handle

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// Native is an opaque backend-defined value stored in a pointer-sized slot.
// Zero means "no handle".
type Native uintptr

// Size of a Native in bytes, when bound as a kernel argument.
const Size = int(unsafe.Sizeof(Native(0)))

// Module is the backend-agnostic handle of a compiled module: an OpenCL program or a Level Zero module.
// Backends convert it to and from their own typed handles.
type Module Native

// Bytes returns the native byte representation of the handle, as a pointer-sized kernel argument.
func (n Native) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&n)), Size)
}

var handlesAlive atomic.Int64

// Alive returns the number of native resources owned by Shared handles that haven't been deleted yet.
func Alive() int64 {
	return handlesAlive.Load()
}

// control is the state shared by all copies of a Shared handle.
type control[T ~uintptr] struct {
	native  T
	deleter func(T)
	refs    atomic.Int64
}

func (c *control[T]) drop() {
	if c.refs.Add(-1) > 0 {
		return
	}
	if c.deleter != nil {
		c.deleter(c.native)
	}
	handlesAlive.Add(-1)
}

// Shared owns a reference to a native handle and its deleter.
//
// Copies are made with Clone, and each copy must be released with Release (or it is released when garbage
// collected). The deleter is called exactly once, when the last copy is released, and only if the native
// value was not zero.
//
// The zero value (and nil) is a valid "empty" Shared: it is never valid and never calls a deleter.
//
// Shared is not safe for concurrent Clone/Release of the same instance.
type Shared[T ~uintptr] struct {
	ctrl     *control[T]
	released *atomic.Bool
}

// NewShared takes ownership of native, to be deleted by deleter.
// If native is zero, the returned handle is invalid and deleter is never called.
func NewShared[T ~uintptr](native T, deleter func(T)) *Shared[T] {
	if native == 0 {
		return &Shared[T]{}
	}
	ctrl := &control[T]{native: native, deleter: deleter}
	ctrl.refs.Store(1)
	handlesAlive.Add(1)
	return newOwner(ctrl)
}

func newOwner[T ~uintptr](ctrl *control[T]) *Shared[T] {
	s := &Shared[T]{ctrl: ctrl, released: &atomic.Bool{}}
	runtime.AddCleanup(s, func(released *atomic.Bool) {
		if released.CompareAndSwap(false, true) {
			klog.V(2).Infof("handle.Shared(0x%x) garbage collected without Release()", uintptr(ctrl.native))
			ctrl.drop()
		}
	}, s.released)
	return s
}

// IsValid returns whether s owns a non-zero native handle and hasn't been released.
func (s *Shared[T]) IsValid() bool {
	return s != nil && s.ctrl != nil && !s.released.Load()
}

// Get returns the native handle, or zero if s is not valid.
func (s *Shared[T]) Get() T {
	if !s.IsValid() {
		return 0
	}
	return s.ctrl.native
}

// Clone returns a new owner of the same native handle, incrementing the reference count.
// Cloning an invalid handle returns an invalid handle.
func (s *Shared[T]) Clone() *Shared[T] {
	if s == nil || s.ctrl == nil {
		return &Shared[T]{}
	}
	if s.released.Load() {
		exceptions.Panicf("handle.Shared(0x%x).Clone() called after Release()", uintptr(s.ctrl.native))
	}
	s.ctrl.refs.Add(1)
	return newOwner(s.ctrl)
}

// Release drops this owner's reference. The deleter is called if this was the last one.
// It is a no-op if s is invalid or was already released.
func (s *Shared[T]) Release() {
	if s == nil || s.ctrl == nil {
		return
	}
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	s.ctrl.drop()
}

// RefCount returns the number of live owners of the native handle, or 0 for invalid handles.
func (s *Shared[T]) RefCount() int64 {
	if !s.IsValid() {
		return 0
	}
	return s.ctrl.refs.Load()
}

// String implements fmt.Stringer.
func (s *Shared[T]) String() string {
	if !s.IsValid() {
		return "handle(invalid)"
	}
	return fmt.Sprintf("handle(0x%x, refs=%d)", uintptr(s.ctrl.native), s.ctrl.refs.Load())
}
