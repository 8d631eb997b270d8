// ptr.go: Reference-counted shared pointer
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"cmp"
	"fmt"
	"reflect"
	"unsafe"
)

// Error codes for shared operations
const (
	ErrCodeInvalidCast        = "SHARED_INVALID_CAST"
	ErrCodeUnsupportedDeleter = "SHARED_UNSUPPORTED_DELETER"
	ErrCodeInvalidBufferSize  = "SHARED_INVALID_BUFFER_SIZE"
	ErrCodeAllocationLimit    = "SHARED_ALLOCATION_LIMIT"
	ErrCodeAllocatorMisuse    = "SHARED_ALLOCATOR_MISUSE"
	ErrCodeLeakDetected       = "SHARED_LEAK_DETECTED"
	ErrCodeInvalidConfig      = "SHARED_INVALID_CONFIG"
	ErrCodeInvalidAuditConfig = "SHARED_INVALID_AUDIT_CONFIG"
	ErrCodeIOError            = "SHARED_IO_ERROR"
)

// Ptr is a shared-ownership handle to a value of type T.
//
// The zero Ptr is empty. An engaged Ptr holds one reference on its Rep and
// must eventually give it back with Reset, MoveAssign, Assign or Release.
// The Rep decides when the managed object is destroyed; the typed pointer
// decides what Get returns. The two differ for aliases and casts.
//
// Plain assignment of a Ptr copies the handle without taking a reference.
// Use Clone for an owning copy.
type Ptr[T any] struct {
	ptr *T
	rep Rep
}

// New returns a Ptr owning p, destroyed through the default allocator.
// A nil p yields an empty Ptr.
func New[T any](p *T) Ptr[T] {
	return NewWithAllocator(p, nil)
}

// NewWithAllocator returns a Ptr owning p. The representation is allocated
// from a, and p is destroyed with DestroyObject(a, p). A nil a means the
// default allocator. A nil p yields an empty Ptr and a is not used.
func NewWithAllocator[T any](p *T, a Allocator) Ptr[T] {
	if p == nil {
		return Ptr[T]{}
	}
	a = allocatorOrDefault(a)
	return Ptr[T]{ptr: p, rep: newOutOfPlaceRep(p, a, a)}
}

// NewWithDeleter returns a Ptr owning p that is destroyed by deleter. The
// deleter may be an Allocator, a Factory[T], an AllocatorAwareDeleter[T], a
// Deleter[T] or a func(*T); anything else panics with
// ErrCodeUnsupportedDeleter. The representation is allocated from a (nil
// means the default allocator).
//
// A nil p yields an empty Ptr. Neither deleter nor a is used in that case.
func NewWithDeleter[T any](p *T, deleter any, a Allocator) Ptr[T] {
	if p == nil {
		return Ptr[T]{}
	}
	return Ptr[T]{ptr: p, rep: newOutOfPlaceRep(p, deleter, a)}
}

// CreateInplace allocates the representation and a T in a single block from
// a and calls init on the new value. A nil init leaves the zero value.
//
// The allocator is not handed to init. A T that keeps its own allocator
// must capture it in the init closure.
//
// When init returns an error, the block is returned to a and the error is
// passed back unchanged. A panic in init is propagated after the block has
// been returned.
func CreateInplace[T any](a Allocator, init func(*T) error) (Ptr[T], error) {
	a = allocatorOrDefault(a)
	r := allocateInplaceRep[T](a)

	guard := r
	defer func() {
		if guard != nil {
			guard.discard()
		}
	}()

	if init != nil {
		if err := init(r.ptr()); err != nil {
			return Ptr[T]{}, err
		}
	}

	guard = nil
	return Ptr[T]{ptr: r.ptr(), rep: r}, nil
}

// CreateInplaceValue is CreateInplace with a copy of v as the initial value.
func CreateInplaceValue[T any](a Allocator, v T) Ptr[T] {
	p, _ := CreateInplace(a, func(obj *T) error {
		*obj = v
		return nil
	})
	return p
}

// CreateInplace replaces p's value with a new in-place object. On failure
// p is left exactly as it was.
func (p *Ptr[T]) CreateInplace(a Allocator, init func(*T) error) error {
	q, err := CreateInplace(a, init)
	if err != nil {
		return err
	}
	p.MoveAssign(&q)
	return nil
}

// FromRep builds a Ptr from a pointer and a representation whose reference
// it adopts. It is the counterpart of Release. A nil rep yields an empty Ptr.
func FromRep[T any](p *T, rep Rep) Ptr[T] {
	if rep == nil {
		return Ptr[T]{}
	}
	return Ptr[T]{ptr: p, rep: rep}
}

// Alias returns a Ptr that shares src's representation but points at obj,
// typically a field or element of src's object. The result keeps src's
// object alive. An empty src or a nil obj yields an empty Ptr.
func Alias[T, U any](src Ptr[U], obj *T) Ptr[T] {
	if src.rep == nil || obj == nil {
		return Ptr[T]{}
	}
	src.rep.IncrementRefs(1)
	return Ptr[T]{ptr: obj, rep: src.rep}
}

// Clone returns a new owning copy of p.
func (p Ptr[T]) Clone() Ptr[T] {
	if p.rep != nil {
		p.rep.IncrementRefs(1)
	}
	return p
}

// Assign makes p share src's value. If p and src already share a
// representation, only the typed pointer is copied and the count is not
// touched, so p.Assign(p) is a no-op.
func (p *Ptr[T]) Assign(src Ptr[T]) {
	if p.rep == src.rep {
		p.ptr = src.ptr
		return
	}
	if src.rep != nil {
		src.rep.IncrementRefs(1)
	}
	old := p.rep
	p.ptr, p.rep = src.ptr, src.rep
	ReleaseRef(old, 1)
}

// Move transfers p's reference to the returned Ptr and leaves p empty.
func (p *Ptr[T]) Move() Ptr[T] {
	q := *p
	*p = Ptr[T]{}
	return q
}

// MoveAssign transfers src's reference into p, releasing p's previous
// value. src is left empty.
func (p *Ptr[T]) MoveAssign(src *Ptr[T]) {
	if p == src {
		return
	}
	old := p.rep
	*p = *src
	*src = Ptr[T]{}
	ReleaseRef(old, 1)
}

// Swap exchanges the values of p and q.
func (p *Ptr[T]) Swap(q *Ptr[T]) {
	*p, *q = *q, *p
}

// Reset drops p's reference and leaves p empty. The managed object is
// destroyed when this was the last reference.
func (p *Ptr[T]) Reset() {
	old := p.rep
	*p = Ptr[T]{}
	ReleaseRef(old, 1)
}

// Load replaces p's value with ownership of obj, as NewWithAllocator does.
// The new representation is built before the old reference is dropped.
func (p *Ptr[T]) Load(obj *T, a Allocator) {
	q := NewWithAllocator(obj, a)
	p.MoveAssign(&q)
}

// LoadWithDeleter replaces p's value with ownership of obj, as
// NewWithDeleter does.
func (p *Ptr[T]) LoadWithDeleter(obj *T, deleter any, a Allocator) {
	q := NewWithDeleter(obj, deleter, a)
	p.MoveAssign(&q)
}

// Release detaches p without dropping its reference and leaves p empty. The
// caller owns one reference on the returned Rep and must hand it to FromRep
// or drop it with ReleaseRef.
func (p *Ptr[T]) Release() (*T, Rep) {
	obj, rep := p.ptr, p.rep
	*p = Ptr[T]{}
	return obj, rep
}

// Get returns the typed pointer. It is nil for an empty Ptr.
func (p Ptr[T]) Get() *T {
	return p.ptr
}

// Rep returns the representation, nil for an empty Ptr.
func (p Ptr[T]) Rep() Rep {
	return p.rep
}

// HasValue reports whether p points at an object.
func (p Ptr[T]) HasValue() bool {
	return p.ptr != nil
}

// IsEmpty reports whether p holds no representation.
func (p Ptr[T]) IsEmpty() bool {
	return p.rep == nil
}

// NumReferences returns a snapshot of the reference count, 0 when empty.
func (p Ptr[T]) NumReferences() int {
	if p.rep == nil {
		return 0
	}
	return p.rep.NumReferences()
}

// UseCount is NumReferences.
func (p Ptr[T]) UseCount() int {
	return p.NumReferences()
}

// Unique reports whether p holds the only reference.
func (p Ptr[T]) Unique() bool {
	return p.NumReferences() == 1
}

func (p Ptr[T]) String() string {
	name := reflect.TypeFor[T]().String()
	if p.rep == nil {
		return fmt.Sprintf("shared.Ptr[%s](empty)", name)
	}
	return fmt.Sprintf("shared.Ptr[%s](%p, refs=%d)", name, p.ptr, p.rep.NumReferences())
}

// Less orders pointers by the address of their pointee. It is meant for
// sorted containers keyed by Ptr; empty pointers sort first.
func Less[T any](a, b Ptr[T]) bool {
	return Compare(a, b) < 0
}

// Compare is the three-way form of Less.
func Compare[T any](a, b Ptr[T]) int {
	return cmp.Compare(uintptr(unsafe.Pointer(a.ptr)), uintptr(unsafe.Pointer(b.ptr)))
}

// OwnerBefore orders pointers by representation identity, so an alias and
// its source are equivalent.
func OwnerBefore[T, U any](a Ptr[T], b Ptr[U]) bool {
	return repAddr(a.rep) < repAddr(b.rep)
}

// repAddr returns the address of a pointer Rep, or 0 for nil and for the
// non-pointer representations Rep rules out.
func repAddr(rep Rep) uintptr {
	if rep == nil {
		return 0
	}
	v := reflect.ValueOf(rep)
	if v.Kind() != reflect.Pointer {
		return 0
	}
	return v.Pointer()
}
