// audit_allocator.go: Allocator wrapper that audits block lifecycle events
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditAllocator forwards to another Allocator and publishes one
// LifecycleEvent per allocation, deallocation, misuse and limit hit. A
// background goroutine drains the events into an AuditLogger, so the
// allocation path never touches the audit backend.
//
// Pointers the wrapper did not hand out are reported as misuse and are not
// forwarded.
type AuditAllocator struct {
	name   string
	inner  Allocator
	logger *AuditLogger
	ring   *EventRing
	limit  int64

	blocks      sync.Map // unsafe.Pointer -> int64 size
	inUse       atomic.Int64
	bytesInUse  atomic.Int64
	totalBlocks atomic.Int64
	totalBytes  atomic.Int64
	maxBlocks   atomic.Int64
	misuse      atomic.Int64
	lastAlloc   atomic.Int64

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewAuditAllocator wraps inner (nil means the default allocator). Ring
// capacity, batch size and allocation limit come from config. logger may
// be nil, in which case events are counted and dropped.
func NewAuditAllocator(name string, inner Allocator, logger *AuditLogger, config Config) *AuditAllocator {
	cfg := config.WithDefaults()
	a := &AuditAllocator{
		name:   name,
		inner:  allocatorOrDefault(inner),
		logger: logger,
		limit:  cfg.AllocationLimit,
	}
	a.ring = NewEventRing(cfg.RingCapacity, cfg.BatchSize, a.process)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.ring.RunProcessor()
	}()
	return a
}

func (a *AuditAllocator) process(e *LifecycleEvent) {
	a.logger.LogLifecycle(a.name, e)
}

func (a *AuditAllocator) publish(kind uint8, p unsafe.Pointer, size int64, typeName string) {
	event := LifecycleEvent{
		Timestamp: timecache.CachedTimeNano(),
		Size:      size,
		Address:   uintptr(p),
		Kind:      kind,
	}
	event.SetTypeName(typeName)
	a.ring.Write(&event)
}

// Allocate implements Allocator.
func (a *AuditAllocator) Allocate(t reflect.Type) unsafe.Pointer {
	size := int64(t.Size())
	if a.limit > 0 {
		if a.inUse.Add(1) > a.limit {
			a.inUse.Add(-1)
			a.publish(EventLimit, nil, size, t.String())
			panic(errors.New(ErrCodeAllocationLimit, "allocation limit reached").
				WithContext("allocator", a.name).
				WithContext("limit", a.limit).
				WithContext("type", t.String()))
		}
	} else {
		a.inUse.Add(1)
	}

	allocated := false
	defer func() {
		if !allocated {
			a.inUse.Add(-1)
		}
	}()
	p := a.inner.Allocate(t)
	allocated = true
	a.blocks.Store(p, size)

	a.bytesInUse.Add(size)
	a.totalBlocks.Add(1)
	a.totalBytes.Add(size)
	for {
		current, peak := a.inUse.Load(), a.maxBlocks.Load()
		if current <= peak || a.maxBlocks.CompareAndSwap(peak, current) {
			break
		}
	}

	a.lastAlloc.Store(timecache.CachedTimeNano())
	a.publish(EventAllocate, p, size, t.String())
	return p
}

// Deallocate implements Allocator.
func (a *AuditAllocator) Deallocate(p unsafe.Pointer) {
	v, ok := a.blocks.LoadAndDelete(p)
	if !ok {
		a.misuse.Add(1)
		a.publish(EventMisuse, p, 0, "")
		return
	}
	size := v.(int64)

	a.inner.Deallocate(p)
	a.inUse.Add(-1)
	a.bytesInUse.Add(-size)
	a.publish(EventDeallocate, p, size, "")
}

// Stats returns a snapshot of the counters.
func (a *AuditAllocator) Stats() AllocatorStats {
	return AllocatorStats{
		Name:           a.name,
		BlocksInUse:    a.inUse.Load(),
		BytesInUse:     a.bytesInUse.Load(),
		MaxBlocks:      a.maxBlocks.Load(),
		TotalBlocks:    a.totalBlocks.Load(),
		TotalBytes:     a.totalBytes.Load(),
		MisuseCount:    a.misuse.Load(),
		LastAllocation: a.lastAlloc.Load(),
	}
}

// RingStats returns the event ring counters.
func (a *AuditAllocator) RingStats() map[string]int64 {
	return a.ring.Stats()
}

// Close stops the event processor, drains the ring and flushes the logger.
// Blocks still in use are audited as leak_detected and reported with an
// ErrCodeLeakDetected error. The logger itself is left open.
func (a *AuditAllocator) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.ring.Stop()
	a.wg.Wait()
	a.ring.Drain()

	var leakErr error
	if blocks := a.inUse.Load(); blocks > 0 {
		bytes := a.bytesInUse.Load()
		a.logger.LogLeak(a.name, blocks, bytes)
		leakErr = errors.New(ErrCodeLeakDetected, "allocator closed with blocks in use").
			WithContext("allocator", a.name).
			WithContext("blocks_in_use", blocks).
			WithContext("bytes_in_use", bytes)
	}

	if err := a.logger.Flush(); err != nil {
		return err
	}
	return leakErr
}
