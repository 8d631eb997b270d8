// buffer.go: Shared uninitialized byte buffers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"unsafe"

	"github.com/agilira/go-errors"
)

// CreateInplaceUninitializedBuffer allocates size bytes and their
// representation in one block from a (nil means the default allocator).
// The returned Ptr points at the first byte; a zero size still yields an
// engaged Ptr whose byte pointer is not dereferenceable.
//
// The region is aligned only as a byte array following the header, not to
// the platform's maximum alignment. Releasing the buffer returns the block
// without running any destructor.
func CreateInplaceUninitializedBuffer(size int, a Allocator) (Ptr[byte], error) {
	if size < 0 {
		return Ptr[byte]{}, errors.New(ErrCodeInvalidBufferSize, "buffer size cannot be negative").
			WithContext("size", size)
	}
	h := allocateBufferRep(size, allocatorOrDefault(a))
	return Ptr[byte]{ptr: (*byte)(h.OriginalPtr()), rep: h}, nil
}

// BufferBytes returns the whole region of a buffer created by
// CreateInplaceUninitializedBuffer, or nil for any other Ptr. Aliases into
// the buffer return the region from their own position to its end.
func BufferBytes(p Ptr[byte]) []byte {
	h, ok := p.rep.(*bufferHeader)
	if !ok || p.ptr == nil {
		return nil
	}
	region := h.Bytes()
	skip := uintptr(unsafe.Pointer(p.ptr)) - uintptr(h.OriginalPtr())
	if skip > uintptr(len(region)) {
		return nil
	}
	return region[skip:]
}
