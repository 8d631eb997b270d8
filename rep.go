// rep.go: Reference-counted representations for shared ownership
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

// Rep is the control block that owns the destruction obligation for a
// managed object. Any number of Ptr values, possibly of different element
// types, may reference the same Rep.
//
// Contract:
//   - IncrementRefs and DecrementRefs are atomic and may be called from any
//     goroutine holding a reference. n must be > 0.
//   - DecrementRefs never releases. The caller that observes a result of 0
//     must call Release, exactly once.
//   - Release destroys the managed object and returns the Rep's own storage.
//     The Rep must not be touched afterwards.
//   - NumReferences is a racy snapshot for diagnostics only.
//
// Misuse (decrementing below zero, calling methods after Release) is
// undefined behaviour and is not checked at run time.
//
// Implementations must be pointer types. Ptr compares representations by
// identity, and OwnerBefore orders them by address; a non-pointer Rep has
// no address and compares equal to every other non-pointer Rep.
type Rep interface {
	IncrementRefs(n int)
	DecrementRefs(n int) int
	Release()
	OriginalPtr() unsafe.Pointer
	NumReferences() int
}

// managedTyper is implemented by every representation in this package.
// The cast layer uses it to locate sub-objects of the complete managed object.
type managedTyper interface {
	ManagedType() reflect.Type
}

// RefCount is the counting core shared by all representations.
// Embed it and call InitRefs before the representation is published.
type RefCount struct {
	refs atomic.Int64
}

// InitRefs sets the count to 1, the reference held by the creator.
func (c *RefCount) InitRefs() {
	c.refs.Store(1)
}

// IncrementRefs atomically adds n references.
func (c *RefCount) IncrementRefs(n int) {
	c.refs.Add(int64(n))
}

// DecrementRefs atomically removes n references and returns the new count.
func (c *RefCount) DecrementRefs(n int) int {
	return int(c.refs.Add(-int64(n)))
}

// NumReferences returns a snapshot of the count.
func (c *RefCount) NumReferences() int {
	return int(c.refs.Load())
}

// ReleaseRef drops n references from rep and releases it when the count
// reaches zero. It reports whether rep was released. A nil rep is ignored.
func ReleaseRef(rep Rep, n int) bool {
	if rep == nil {
		return false
	}
	if rep.DecrementRefs(n) == 0 {
		rep.Release()
		return true
	}
	return false
}
