// test_allocator.go: Instrumented allocator for leak and misuse detection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"reflect"
	"sync"
	"unsafe"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AllocatorStats is a snapshot of an instrumented allocator's counters.
type AllocatorStats struct {
	Name           string `json:"name"`
	BlocksInUse    int64  `json:"blocks_in_use"`
	BytesInUse     int64  `json:"bytes_in_use"`
	MaxBlocks      int64  `json:"max_blocks"`
	MaxBytes       int64  `json:"max_bytes"`
	TotalBlocks    int64  `json:"total_blocks"`
	TotalBytes     int64  `json:"total_bytes"`
	MisuseCount    int64  `json:"misuse_count"`
	LastAllocation int64  `json:"last_allocation_ns"`
}

// BlockInfo describes a block that has not been returned.
type BlockInfo struct {
	Type        reflect.Type
	Size        int64
	AllocatedAt int64 // unix nanoseconds
}

// TestAllocator hands out garbage-collected storage and records every
// block it has not yet seen returned. It is meant for tests that must prove
// an operation leaks nothing.
//
// Deallocating a pointer the allocator does not own is counted as misuse
// and otherwise ignored. With a positive limit, the allocation that would
// exceed limit blocks in use panics with ErrCodeAllocationLimit.
type TestAllocator struct {
	name  string
	limit int64

	mu     sync.Mutex
	blocks map[unsafe.Pointer]BlockInfo
	stats  AllocatorStats
}

// NewTestAllocator creates an instrumented allocator. name identifies it in
// errors and statistics.
func NewTestAllocator(name string) *TestAllocator {
	return &TestAllocator{
		name:   name,
		blocks: make(map[unsafe.Pointer]BlockInfo),
		stats:  AllocatorStats{Name: name},
	}
}

// SetAllocationLimit sets the maximum number of blocks in use. Zero or a
// negative limit disables the check.
func (a *TestAllocator) SetAllocationLimit(limit int64) {
	a.mu.Lock()
	a.limit = limit
	a.mu.Unlock()
}

// Allocate implements Allocator.
func (a *TestAllocator) Allocate(t reflect.Type) unsafe.Pointer {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.stats.BlocksInUse >= a.limit {
		panic(errors.New(ErrCodeAllocationLimit, "allocation limit reached").
			WithContext("allocator", a.name).
			WithContext("limit", a.limit).
			WithContext("type", t.String()))
	}

	p := reflect.New(t).UnsafePointer()
	size := int64(t.Size())
	now := timecache.CachedTimeNano()

	a.blocks[p] = BlockInfo{Type: t, Size: size, AllocatedAt: now}
	a.stats.BlocksInUse++
	a.stats.BytesInUse += size
	a.stats.TotalBlocks++
	a.stats.TotalBytes += size
	a.stats.LastAllocation = now
	a.stats.MaxBlocks = max(a.stats.MaxBlocks, a.stats.BlocksInUse)
	a.stats.MaxBytes = max(a.stats.MaxBytes, a.stats.BytesInUse)
	return p
}

// Deallocate implements Allocator.
func (a *TestAllocator) Deallocate(p unsafe.Pointer) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.blocks[p]
	if !ok {
		a.stats.MisuseCount++
		return
	}
	delete(a.blocks, p)
	a.stats.BlocksInUse--
	a.stats.BytesInUse -= b.Size
}

// Owns reports whether p is a block handed out and not yet returned.
func (a *TestAllocator) Owns(p unsafe.Pointer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.blocks[p]
	return ok
}

// Stats returns a snapshot of the counters.
func (a *TestAllocator) Stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// BlocksInUse returns the number of outstanding blocks.
func (a *TestAllocator) BlocksInUse() int64 {
	return a.Stats().BlocksInUse
}

// BytesInUse returns the number of outstanding bytes.
func (a *TestAllocator) BytesInUse() int64 {
	return a.Stats().BytesInUse
}

// Outstanding lists the blocks still in use, in no particular order.
func (a *TestAllocator) Outstanding() []BlockInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]BlockInfo, 0, len(a.blocks))
	for _, b := range a.blocks {
		out = append(out, b)
	}
	return out
}

// Verify returns an ErrCodeLeakDetected error when blocks are still in use
// and an ErrCodeAllocatorMisuse error when foreign pointers were returned.
func (a *TestAllocator) Verify() error {
	s := a.Stats()
	if s.BlocksInUse != 0 {
		return errors.New(ErrCodeLeakDetected, "allocator has blocks in use").
			WithContext("allocator", a.name).
			WithContext("blocks_in_use", s.BlocksInUse).
			WithContext("bytes_in_use", s.BytesInUse)
	}
	if s.MisuseCount != 0 {
		return errors.New(ErrCodeAllocatorMisuse, "allocator received foreign pointers").
			WithContext("allocator", a.name).
			WithContext("misuse_count", s.MisuseCount)
	}
	return nil
}
