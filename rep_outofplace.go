// rep_outofplace.go: Representation for separately allocated objects
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"reflect"
	"unsafe"
)

// outOfPlaceRep manages an object that was allocated on its own. The rep
// does not own the object's storage, only the obligation to run the deleter.
type outOfPlaceRep[T any] struct {
	RefCount
	ptr     *T
	destroy func(*T)
	shape   DeleterShape
	alloc   Allocator
}

// newOutOfPlaceRep builds a rep for p with count 1. Callers never pass a nil
// p: a nil pointer produces an empty Ptr without reaching this function.
//
// The deleter is classified before the rep is allocated, so an unsupported
// deleter panics without leaking a block.
func newOutOfPlaceRep[T any](p *T, deleter any, a Allocator) *outOfPlaceRep[T] {
	a = allocatorOrDefault(a)
	shape, destroy := classifyDeleter[T](deleter, a)

	r := (*outOfPlaceRep[T])(a.Allocate(reflect.TypeFor[outOfPlaceRep[T]]()))
	r.InitRefs()
	r.ptr = p
	r.destroy = destroy
	r.shape = shape
	r.alloc = a
	return r
}

// Release runs the deleter on the managed pointer, then returns the rep's
// storage to the allocator captured at construction.
func (r *outOfPlaceRep[T]) Release() {
	destroy, p, a := r.destroy, r.ptr, r.alloc
	destroy(p)

	r.ptr = nil
	r.destroy = nil
	r.alloc = nil
	a.Deallocate(unsafe.Pointer(r))
}

func (r *outOfPlaceRep[T]) OriginalPtr() unsafe.Pointer {
	return unsafe.Pointer(r.ptr)
}

func (r *outOfPlaceRep[T]) ManagedType() reflect.Type {
	return reflect.TypeFor[T]()
}

func (r *outOfPlaceRep[T]) deleterShape() DeleterShape {
	return r.shape
}
