// cast.go: Aliasing casts between related struct types
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"reflect"
	"sync/atomic"
	"unsafe"

	"github.com/agilira/go-errors"
)

// subobject is a value-embedded struct reachable from an outer type,
// located at offset bytes from the start of the outer value.
type subobject struct {
	typ    reflect.Type
	offset uintptr
}

// layoutCache maps a type to its sub-objects, the type itself first at
// offset 0. Readers never lock; writers copy the map and CAS it in.
var layoutCache atomic.Pointer[map[reflect.Type][]subobject]

func init() {
	empty := make(map[reflect.Type][]subobject)
	layoutCache.Store(&empty)
}

func layoutOf(t reflect.Type) []subobject {
	if subs, ok := (*layoutCache.Load())[t]; ok {
		return subs
	}

	subs := append([]subobject{{typ: t}}, collectEmbedded(t, 0)...)

	for {
		oldMapPtr := layoutCache.Load()
		oldMap := *oldMapPtr
		if cached, ok := oldMap[t]; ok {
			return cached
		}
		newMap := make(map[reflect.Type][]subobject, len(oldMap)+1)
		for k, v := range oldMap {
			newMap[k] = v
		}
		newMap[t] = subs
		if layoutCache.CompareAndSwap(oldMapPtr, &newMap) {
			return subs
		}
	}
}

// collectEmbedded walks value-embedded struct fields depth first. Embedded
// pointers are not sub-objects and are skipped.
func collectEmbedded(t reflect.Type, base uintptr) []subobject {
	if t.Kind() != reflect.Struct {
		return nil
	}
	var out []subobject
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous || f.Type.Kind() == reflect.Pointer {
			continue
		}
		out = append(out, subobject{typ: f.Type, offset: base + f.Offset})
		out = append(out, collectEmbedded(f.Type, base+f.Offset)...)
	}
	return out
}

// LayoutCacheSize returns the number of types whose layout is cached.
func LayoutCacheSize() int {
	return len(*layoutCache.Load())
}

// embeddedOffset returns the offset of the unique to sub-object of from.
// Ambiguous embeddings do not resolve.
func embeddedOffset(from, to reflect.Type) (uintptr, bool) {
	var (
		offset uintptr
		found  int
	)
	for _, s := range layoutOf(from) {
		if s.typ == to {
			offset = s.offset
			found++
		}
	}
	return offset, found == 1
}

// completeObject returns the managed object's address and type, when the
// representation exposes them.
func completeObject(rep Rep) (unsafe.Pointer, reflect.Type, bool) {
	mt, ok := rep.(managedTyper)
	if !ok {
		return nil, nil, false
	}
	base := rep.OriginalPtr()
	if base == nil {
		return nil, nil, false
	}
	return base, mt.ManagedType(), true
}

// pathNode is one value on the way from the complete object down to a
// sub-object. embedded reports whether it is an embedded field of the node
// before it.
type pathNode struct {
	ptr      unsafe.Pointer
	typ      reflect.Type
	embedded bool
}

// pathTo descends from the t value at base to the from value at addr
// through struct fields and array elements. It returns nil when addr is not
// a from value inside base.
func pathTo(base unsafe.Pointer, t reflect.Type, addr unsafe.Pointer, from reflect.Type) []pathNode {
	path := []pathNode{{ptr: base, typ: t}}
	if descend(&path, addr, from) {
		return path
	}
	return nil
}

func descend(path *[]pathNode, addr unsafe.Pointer, from reflect.Type) bool {
	cur := (*path)[len(*path)-1]
	if cur.ptr == addr && cur.typ == from {
		return true
	}
	if uintptr(addr) < uintptr(cur.ptr) {
		return false
	}
	rel := uintptr(addr) - uintptr(cur.ptr)
	if rel >= cur.typ.Size() {
		return false
	}

	switch cur.typ.Kind() {
	case reflect.Struct:
		for i := 0; i < cur.typ.NumField(); i++ {
			f := cur.typ.Field(i)
			*path = append(*path, pathNode{
				ptr:      unsafe.Add(cur.ptr, f.Offset),
				typ:      f.Type,
				embedded: f.Anonymous,
			})
			if descend(path, addr, from) {
				return true
			}
			*path = (*path)[:len(*path)-1]
		}
	case reflect.Array:
		elem := cur.typ.Elem()
		if elem.Size() == 0 {
			return false
		}
		i := rel / elem.Size()
		*path = append(*path, pathNode{ptr: unsafe.Add(cur.ptr, i*elem.Size()), typ: elem})
		if descend(path, addr, from) {
			return true
		}
		*path = (*path)[:len(*path)-1]
	}
	return false
}

// mostDerived returns the outermost value that holds the from value at
// addr through embedding alone. The search starts at the complete managed
// object and passes through named fields and array elements, so an alias
// into a member or a list element finds the element it lives in.
func mostDerived(rep Rep, addr unsafe.Pointer, from reflect.Type) (pathNode, bool) {
	base, mt, ok := completeObject(rep)
	if !ok {
		return pathNode{}, false
	}
	path := pathTo(base, mt, addr, from)
	if path == nil {
		return pathNode{}, false
	}
	top := len(path) - 1
	for top > 0 && path[top].embedded {
		top--
	}
	return path[top], true
}

// enclosing finds the to sub-object of the most derived object holding the
// from value at addr. With cross set and a single to sub-object in that
// object, that one is taken even when it does not contain addr.
func enclosing(rep Rep, addr unsafe.Pointer, from, to reflect.Type, cross bool) (unsafe.Pointer, bool) {
	obj, ok := mostDerived(rep, addr, from)
	if !ok {
		return nil, false
	}

	var (
		containing, only unsafe.Pointer
		nContaining, n   int
	)
	for _, s := range layoutOf(obj.typ) {
		if s.typ != to {
			continue
		}
		candidate := unsafe.Add(obj.ptr, s.offset)
		n++
		only = candidate
		for _, inner := range layoutOf(to) {
			if inner.typ == from && unsafe.Add(candidate, inner.offset) == addr {
				containing = candidate
				nContaining++
				break
			}
		}
	}

	switch {
	case nContaining == 1:
		return containing, true
	case cross && nContaining == 0 && n == 1:
		return only, true
	default:
		return nil, false
	}
}

func share[To, From any](src Ptr[From], obj unsafe.Pointer) Ptr[To] {
	return Alias(src, (*To)(obj))
}

// StaticCast converts src to a Ptr[To] sharing its representation.
//
// An upcast follows the embedded fields of From. A downcast to a struct
// embedding From once is offset arithmetic and, like any static downcast,
// assumes src really points into a To. When To embeds From more than once
// the complete managed object decides which one src is. Any other
// conversion panics with ErrCodeInvalidCast. An empty or nil src yields an
// empty Ptr.
func StaticCast[To, From any](src Ptr[From]) Ptr[To] {
	if src.rep == nil || src.ptr == nil {
		return Ptr[To]{}
	}
	from, to := reflect.TypeFor[From](), reflect.TypeFor[To]()
	addr := unsafe.Pointer(src.ptr)

	if off, ok := embeddedOffset(from, to); ok {
		return share[To](src, unsafe.Add(addr, off))
	}
	if off, ok := embeddedOffset(to, from); ok {
		return share[To](src, unsafe.Add(addr, -int(off)))
	}
	if obj, ok := enclosing(src.rep, addr, from, to, false); ok {
		return share[To](src, obj)
	}
	panic(errors.New(ErrCodeInvalidCast, "types are not related by embedding").
		WithContext("from", from.String()).
		WithContext("to", to.String()))
}

// DynamicCast converts src to a Ptr[To] when the managed object has a To
// sub-object reachable from src's value. The most derived object holding
// src is consulted first, found through fields and array elements of the
// complete object, then the embedded fields of From. A cast that does not
// resolve yields an empty Ptr.
func DynamicCast[To, From any](src Ptr[From]) Ptr[To] {
	if src.rep == nil || src.ptr == nil {
		return Ptr[To]{}
	}
	from, to := reflect.TypeFor[From](), reflect.TypeFor[To]()
	addr := unsafe.Pointer(src.ptr)

	if obj, ok := enclosing(src.rep, addr, from, to, true); ok {
		return share[To](src, obj)
	}
	if off, ok := embeddedOffset(from, to); ok {
		return share[To](src, unsafe.Add(addr, off))
	}
	return Ptr[To]{}
}

// ConstCast returns an owning copy of src. Go has no const qualifier, so
// the pointee and representation are unchanged.
func ConstCast[T any](src Ptr[T]) Ptr[T] {
	return Alias(src, src.ptr)
}
