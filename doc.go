// Package shared provides a reference-counted shared pointer whose
// bookkeeping lives in a pluggable representation, together with the
// allocator, auditing and configuration machinery that makes its memory
// behavior observable.
//
// # Architecture Overview
//
// The package is organized around four pieces:
//  1. **Ptr[T]**: a value type pairing an object address with a Rep
//  2. **Rep**: the shared count, implemented in-place or out-of-place
//  3. **Allocator**: the source of every block a Rep or object occupies
//  4. **AuditAllocator**: an allocator wrapper that publishes lifecycle events
//
// # Creating Shared Pointers
//
// An existing object can be adopted with a deleter, or created in the same
// block as its count:
//
//	obj := shared.NewObject[Session](alloc)
//	p := shared.NewWithDeleter(obj, func(s *Session) {
//		s.Close()
//		shared.DestroyObject(alloc, s)
//	}, alloc)
//	defer p.Reset()
//
//	q := shared.CreateInplaceValue(alloc, Session{ID: 7})
//	defer q.Reset()
//
// Deleters may be an Allocator, a Factory, an allocator-aware
// Deleter, any Deleter, or a plain func(*T). DeleterShapeOf reports which
// one a representation dispatches to.
//
// # Ownership Rules
//
// Ptr is copied by value but ownership is not: Clone takes a new reference,
// Reset gives one back, and Move transfers one. Each reference must be
// reset exactly once. The managed object is released when the last
// reference goes away; the representation itself is returned to its
// allocator right after.
//
// # Aliasing and Casts
//
// Alias shares ownership of one object while pointing at another, usually
// a field of it:
//
//	name := shared.Alias(p, &p.Get().Name)
//
// StaticCast moves between a struct and the structs it embeds by value,
// DynamicCast additionally resolves cross-casts and returns an empty Ptr
// on failure, and ConstCast only exists for symmetry. All three share the
// source's representation.
//
// # Uninitialized Buffers
//
// CreateInplaceUninitializedBuffer places a byte region and its count in
// one block. BufferBytes returns the region seen from the Ptr's address,
// so aliases into the buffer see its tail.
//
// # Allocators and Auditing
//
// TestAllocator counts blocks and bytes, detects misuse and enforces an
// optional limit. AuditAllocator wraps any allocator, publishes every
// allocation and release to a lock-free EventRing and records them through
// an AuditLogger backed by SQLite or JSONL:
//
//	logger, err := shared.NewAuditLogger(shared.DefaultAuditConfig())
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	alloc := shared.NewAuditAllocator("sessions", shared.NewTestAllocator("sessions"), logger, *config)
//	defer alloc.Close()
//
// # Configuration
//
// Config is loaded from YAML files, SHARED_* environment variables and
// command-line flags, in increasing order of precedence:
//
//	config, err := shared.LoadConfigMultiSource("shared.yaml")
//
// # Error Handling
//
// Errors carry go-errors codes such as ErrCodeInvalidCast and
// ErrCodeAllocationLimit. Programming errors (unsupported deleters,
// impossible casts, allocator misuse) panic with a coded error; I/O and
// configuration problems are returned.
//
// # Thread Safety
//
// Clone, Reset and every read of a Ptr are safe for concurrent use on
// distinct Ptr values that share a representation. A single Ptr value must
// not be mutated from several goroutines without synchronization.
//
// Repository: https://github.com/agilira/shared
package shared
