// allocator.go: Allocator protocol and default allocator
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"reflect"
	"sync/atomic"
	"unsafe"
)

// Allocator supplies and reclaims storage for representations and managed
// objects. Storage is typed so the garbage collector can see any pointers
// stored in it; Allocate must return zeroed memory for one value of t.
//
// Deallocate receives exactly the pointer returned by Allocate. Implementations
// must be safe for concurrent use.
type Allocator interface {
	Allocate(t reflect.Type) unsafe.Pointer
	Deallocate(p unsafe.Pointer)
}

// Destroyer is implemented by managed types that need explicit teardown
// before their storage is returned. Destroy must not panic.
type Destroyer interface {
	Destroy()
}

// newDeleteAllocator hands out garbage-collected storage. Deallocate is a
// no-op: the block is reclaimed once nothing references it.
type newDeleteAllocator struct{}

func (newDeleteAllocator) Allocate(t reflect.Type) unsafe.Pointer {
	return reflect.New(t).UnsafePointer()
}

func (newDeleteAllocator) Deallocate(unsafe.Pointer) {}

type allocatorSlot struct {
	alloc Allocator
}

var (
	builtinAllocator Allocator = newDeleteAllocator{}
	defaultAllocator atomic.Pointer[allocatorSlot]
)

func init() {
	defaultAllocator.Store(&allocatorSlot{alloc: builtinAllocator})
}

// DefaultAllocator returns the process-wide allocator used whenever a nil
// Allocator is passed to this package.
func DefaultAllocator() Allocator {
	return defaultAllocator.Load().alloc
}

// SetDefaultAllocator installs a as the process-wide default and returns the
// previous one. A nil a restores the built-in garbage-collected allocator.
func SetDefaultAllocator(a Allocator) Allocator {
	if a == nil {
		a = builtinAllocator
	}
	return defaultAllocator.Swap(&allocatorSlot{alloc: a}).alloc
}

func allocatorOrDefault(a Allocator) Allocator {
	if a == nil {
		return DefaultAllocator()
	}
	return a
}

// NewObject allocates a zero T from a (or the default allocator).
func NewObject[T any](a Allocator) *T {
	a = allocatorOrDefault(a)
	return (*T)(a.Allocate(reflect.TypeFor[T]()))
}

// DestroyObject runs Destroy on p when *T implements Destroyer, clears the
// value and returns its storage to a. A nil p is ignored.
func DestroyObject[T any](a Allocator, p *T) {
	if p == nil {
		return
	}
	if d, ok := any(p).(Destroyer); ok {
		d.Destroy()
	}
	var zero T
	*p = zero
	allocatorOrDefault(a).Deallocate(unsafe.Pointer(p))
}
