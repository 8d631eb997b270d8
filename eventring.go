// eventring.go: MPSC ring buffer for allocator lifecycle events, derived from BoreasLite
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"runtime"
	"sync/atomic"
	"time"
)

// LifecycleEvent is one allocator event, 128 bytes (2 cache lines).
type LifecycleEvent struct {
	Timestamp int64     // unix nanoseconds
	Size      int64     // block size in bytes
	Address   uintptr   // block address, for pairing allocate/deallocate
	Type      [100]byte // block type name, truncated
	TypeLen   uint8
	Kind      uint8
	_         [2]byte
}

// Event kinds
const (
	EventAllocate uint8 = iota + 1
	EventDeallocate
	EventMisuse
	EventLimit
)

const maxEventTypeLen = 100

// TypeName returns the recorded type name.
func (e *LifecycleEvent) TypeName() string {
	return string(e.Type[:e.TypeLen])
}

// SetTypeName stores name, truncated to fit the event.
func (e *LifecycleEvent) SetTypeName(name string) {
	n := copy(e.Type[:maxEventTypeLen], name)
	e.TypeLen = uint8(n) // #nosec G115 -- n <= maxEventTypeLen
}

// EventKindName returns the audit action name for a kind.
func EventKindName(kind uint8) string {
	switch kind {
	case EventAllocate:
		return "block_allocate"
	case EventDeallocate:
		return "block_deallocate"
	case EventMisuse:
		return "allocator_misuse"
	case EventLimit:
		return "allocation_limit"
	default:
		return "unknown"
	}
}

// EventRing is a lock-free multi-producer single-consumer ring of
// LifecycleEvents. Producers never block: a full ring drops the event and
// counts it.
type EventRing struct {
	buffer   []LifecycleEvent
	capacity int64
	mask     int64

	writerCursor atomic.Int64
	readerCursor atomic.Int64
	_            [48]byte

	// availableBuffer[i] holds the sequence published in slot i, or -1.
	availableBuffer []atomic.Int64

	processor func(*LifecycleEvent)
	batchSize int64

	running atomic.Bool

	processed atomic.Int64
	dropped   atomic.Int64
}

// NewEventRing creates a ring. capacity must be a power of two; anything
// else falls back to 256. batchSize <= 0 means 16.
func NewEventRing(capacity, batchSize int64, processor func(*LifecycleEvent)) *EventRing {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		capacity = 256
	}
	if batchSize <= 0 {
		batchSize = 16
	}
	batchSize = min(batchSize, capacity)

	r := &EventRing{
		buffer:          make([]LifecycleEvent, capacity),
		capacity:        capacity,
		mask:            capacity - 1,
		availableBuffer: make([]atomic.Int64, capacity),
		processor:       processor,
		batchSize:       batchSize,
	}
	for i := range r.availableBuffer {
		r.availableBuffer[i].Store(-1)
	}
	r.running.Store(true)
	return r
}

// Write publishes a copy of event. It returns false when the ring is full
// or stopped.
func (r *EventRing) Write(event *LifecycleEvent) bool {
	if !r.running.Load() {
		r.dropped.Add(1)
		return false
	}

	// Claim a sequence only when its slot is free, so a full ring never
	// leaves an unpublished hole in front of the reader.
	var sequence int64
	for {
		sequence = r.writerCursor.Load()
		if sequence >= r.readerCursor.Load()+r.capacity {
			r.dropped.Add(1)
			return false
		}
		if r.writerCursor.CompareAndSwap(sequence, sequence+1) {
			break
		}
	}

	idx := sequence & r.mask
	r.buffer[idx] = *event
	r.availableBuffer[idx].Store(sequence)
	return true
}

// ProcessBatch hands up to one batch of contiguous published events to the
// processor and returns how many it processed. Only one goroutine may
// consume.
func (r *EventRing) ProcessBatch() int {
	current := r.readerCursor.Load()
	writerPos := r.writerCursor.Load()
	if current >= writerPos {
		return 0
	}

	maxProcess := min(r.batchSize, writerPos-current)
	available := current - 1
	for seq := current; seq < current+maxProcess; seq++ {
		if r.availableBuffer[seq&r.mask].Load() != seq {
			break
		}
		available = seq
	}
	if available < current {
		return 0
	}

	for seq := current; seq <= available; seq++ {
		idx := seq & r.mask
		r.processor(&r.buffer[idx])
		r.availableBuffer[idx].Store(-1)
	}

	processed := available - current + 1
	r.readerCursor.Store(available + 1)
	r.processed.Add(processed)
	return int(processed)
}

// RunProcessor consumes events until Stop is called, spinning briefly,
// then yielding, then sleeping while the ring is idle. Events still
// published when it returns have been drained.
func (r *EventRing) RunProcessor() {
	spins := 0
	for r.running.Load() {
		if r.ProcessBatch() > 0 {
			spins = 0
			continue
		}

		spins++
		if spins < 2000 {
			continue
		} else if spins < 8000 {
			if spins&7 == 0 {
				runtime.Gosched()
			}
		} else {
			time.Sleep(50 * time.Microsecond)
			spins = 0
		}
	}
	r.Drain()
}

// Drain processes everything currently published.
func (r *EventRing) Drain() int {
	total := 0
	for {
		n := r.ProcessBatch()
		if n == 0 {
			return total
		}
		total += n
	}
}

// Stop makes RunProcessor return after a final drain and rejects further
// writes.
func (r *EventRing) Stop() {
	r.running.Store(false)
}

// Stats returns counters for monitoring:
//   - writer_position, reader_position: sequence numbers
//   - buffer_size: capacity
//   - items_buffered: claimed but not yet processed
//   - items_processed, items_dropped: totals since creation
//   - running: 1 while accepting writes
func (r *EventRing) Stats() map[string]int64 {
	writerPos := r.writerCursor.Load()
	readerPos := r.readerCursor.Load()

	running := int64(0)
	if r.running.Load() {
		running = 1
	}
	return map[string]int64{
		"writer_position": writerPos,
		"reader_position": readerPos,
		"buffer_size":     r.capacity,
		"items_buffered":  writerPos - readerPos,
		"items_processed": r.processed.Load(),
		"items_dropped":   r.dropped.Load(),
		"running":         running,
	}
}
