// deleter.go: Deleter classification and dispatch
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"fmt"
	"reflect"

	"github.com/agilira/go-errors"
)

// DeleterShape identifies how a representation destroys its managed object.
// The shape is fixed when the representation is built.
type DeleterShape uint8

const (
	// ShapeNone is reported by representations that destroy their object
	// directly (in-place objects and raw buffers).
	ShapeNone DeleterShape = iota

	// ShapeAllocator: the deleter is an Allocator; destruction is
	// DestroyObject(allocator, p).
	ShapeAllocator

	// ShapeFactory: the deleter exposes DeleteObject(p).
	ShapeFactory

	// ShapeAllocatorAwareFunctor: the deleter is rebound to the
	// representation's allocator through WithAllocator, then called.
	ShapeAllocatorAwareFunctor

	// ShapeFunctor: any other Deleter or func(*T).
	ShapeFunctor
)

func (s DeleterShape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapeAllocator:
		return "allocator"
	case ShapeFactory:
		return "factory"
	case ShapeAllocatorAwareFunctor:
		return "allocator-aware-functor"
	case ShapeFunctor:
		return "functor"
	default:
		return "unknown"
	}
}

// Factory is an object that both creates and deletes values of T.
type Factory[T any] interface {
	DeleteObject(p *T)
}

// Deleter destroys a managed object.
type Deleter[T any] interface {
	Delete(p *T)
}

// DeleterFunc adapts an ordinary function to Deleter.
type DeleterFunc[T any] func(p *T)

// Delete calls f(p).
func (f DeleterFunc[T]) Delete(p *T) { f(p) }

// AllocatorAwareDeleter is a deleter whose own state is allocated. When it is
// captured by a representation, WithAllocator is called once with the
// representation's allocator and the returned deleter is the one invoked.
type AllocatorAwareDeleter[T any] interface {
	Deleter[T]
	WithAllocator(a Allocator) Deleter[T]
}

// classifyDeleter resolves the destroy expression for d. The checks run in
// the documented order: an Allocator that also has DeleteObject is treated
// as an allocator.
func classifyDeleter[T any](d any, repAlloc Allocator) (DeleterShape, func(*T)) {
	switch v := d.(type) {
	case Allocator:
		return ShapeAllocator, func(p *T) { DestroyObject(v, p) }
	case Factory[T]:
		return ShapeFactory, v.DeleteObject
	case AllocatorAwareDeleter[T]:
		return ShapeAllocatorAwareFunctor, v.WithAllocator(repAlloc).Delete
	case Deleter[T]:
		return ShapeFunctor, v.Delete
	case func(*T):
		return ShapeFunctor, v
	}
	panic(errors.New(ErrCodeUnsupportedDeleter, "deleter has no recognised shape").
		WithContext("deleter_type", fmt.Sprintf("%T", d)).
		WithContext("element_type", reflect.TypeFor[T]().String()))
}

type shapeReporter interface {
	deleterShape() DeleterShape
}

// DeleterShapeOf reports the deleter shape captured by rep. Representations
// from outside this package report ShapeNone.
func DeleterShapeOf(rep Rep) DeleterShape {
	if s, ok := rep.(shapeReporter); ok {
		return s.deleterShape()
	}
	return ShapeNone
}
