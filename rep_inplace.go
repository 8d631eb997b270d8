// rep_inplace.go: Representations that embed the managed object
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"math/bits"
	"reflect"
	"unsafe"
)

// inplaceRep stores the managed object in the same block as the count.
// obj must stay the last field.
type inplaceRep[T any] struct {
	RefCount
	alloc Allocator
	obj   T
}

func allocateInplaceRep[T any](a Allocator) *inplaceRep[T] {
	r := (*inplaceRep[T])(a.Allocate(reflect.TypeFor[inplaceRep[T]]()))
	r.InitRefs()
	r.alloc = a
	return r
}

// discard returns the block of a rep whose object never finished
// construction. Destroy is not called.
func (r *inplaceRep[T]) discard() {
	var zero T
	r.obj = zero
	a := r.alloc
	r.alloc = nil
	a.Deallocate(unsafe.Pointer(r))
}

// Release destroys the embedded object and frees the combined block.
func (r *inplaceRep[T]) Release() {
	if d, ok := any(&r.obj).(Destroyer); ok {
		d.Destroy()
	}
	r.discard()
}

func (r *inplaceRep[T]) OriginalPtr() unsafe.Pointer {
	return unsafe.Pointer(&r.obj)
}

func (r *inplaceRep[T]) ManagedType() reflect.Type {
	return reflect.TypeFor[T]()
}

func (r *inplaceRep[T]) ptr() *T {
	return &r.obj
}

// bufferHeader is the fixed prefix of an uninitialized buffer block. The
// block itself is a run-time struct type:
//
//	struct { Header bufferHeader; Data [size]byte }
//
// and the byte region is found at the computed offset of Data, not by
// relying on field order in a Go declaration.
type bufferHeader struct {
	RefCount
	alloc    Allocator
	size     int
	offset   uintptr
	dataType reflect.Type
}

var (
	bufferHeaderType = reflect.TypeFor[bufferHeader]()
	byteType         = reflect.TypeFor[byte]()
)

// bufferSizeClass rounds size up to the next power of two. reflect never
// frees the types it builds, so block types exist only per size class.
func bufferSizeClass(size int) int {
	if size <= 0 {
		return 0
	}
	return 1 << bits.Len(uint(size-1))
}

// bufferBlockType returns the block type holding at least size bytes and
// the offset of the region inside the block.
func bufferBlockType(size int) (reflect.Type, uintptr) {
	t := reflect.StructOf([]reflect.StructField{
		{Name: "Header", Type: bufferHeaderType},
		{Name: "Data", Type: reflect.ArrayOf(bufferSizeClass(size), byteType)},
	})
	return t, t.Field(1).Offset
}

func allocateBufferRep(size int, a Allocator) *bufferHeader {
	t, offset := bufferBlockType(size)
	h := (*bufferHeader)(a.Allocate(t))
	h.InitRefs()
	h.alloc = a
	h.size = size
	h.offset = offset
	h.dataType = t.Field(1).Type
	return h
}

// Release frees the block. Bytes have no destructor.
func (h *bufferHeader) Release() {
	a := h.alloc
	h.alloc = nil
	a.Deallocate(unsafe.Pointer(h))
}

func (h *bufferHeader) OriginalPtr() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), h.offset)
}

// ManagedType is the size-class array; only the first size bytes are
// exposed by Bytes.
func (h *bufferHeader) ManagedType() reflect.Type {
	return h.dataType
}

// Bytes returns the buffer region.
func (h *bufferHeader) Bytes() []byte {
	return unsafe.Slice((*byte)(h.OriginalPtr()), h.size)
}
