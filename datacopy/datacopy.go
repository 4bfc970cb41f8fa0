// Package datacopy implements the reference-counted value holder that lets
// the runtime fan a single produced value out to many readers without
// copying it, while still allowing exactly one mutating consumer to take
// ownership when no reader is competing for it (spec.md §4.3 "Data-copy
// tracker").
//
// The fast paths (shared-read increment, unconditional clone-for-write)
// are lock-free, driven by a CAS on the readers counter, matching spec.md
// §5's "DataCopies are lock-free" requirement. The one genuinely rare
// interleaving — a reader arriving while a writer is mid-promotion with no
// other readers — takes a per-copy mutex; this is the same "cold path can
// take a lock" idiom the teacher applies to its process-wide delayed-unpack
// queue (spec.md §9 "Global state").
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package datacopy

import (
	"math"
	"sync"
	"sync/atomic"
)

// writerPending is the sentinel stored in readers while exactly one task
// mutably holds the copy with no reader yet attached to it (spec.md's
// "INT_MIN", invariant I2).
const writerPending = math.MinInt32

// Deleter releases the resources behind a payload; invoked exactly once,
// when the last holder of a Copy releases it and no writer is pending
// (invariant I4).
type Deleter[V any] func(V)

// Cloner produces a physically independent duplicate of a payload. Used to
// enforce invariant I3: a reader may never observe a copy that a writer is
// concurrently mutating.
type Cloner[V any] func(V) V

// Continuation receives the clone that replaces the original DataCopy in a
// deferred writer's task slot, once the deferred release actually fires
// (i.e. once a reader shows up and forces the split described in
// spec.md §4.3's "dance").
type Continuation[V any] func(replacement *Copy[V])

// Copy is a reference-counted holder wrapping one Value (spec.md §3
// "DataCopy").
type Copy[V any] struct {
	mu       sync.Mutex
	payload  V
	deleter  Deleter[V]
	clone    Cloner[V]
	readers  atomic.Int32
	deferred Continuation[V] // set while readers == writerPending
	freed    atomic.Bool
}

// New wraps payload in a fresh Copy with reader-count 1 (the protocol's
// default for a freshly-produced value, spec.md §4.2 step 3).
func New[V any](payload V, del Deleter[V], clone Cloner[V]) *Copy[V] {
	c := &Copy[V]{payload: payload, deleter: del, clone: clone}
	c.readers.Store(1)
	return c
}

// Value returns the wrapped payload. Callers must not retain it beyond the
// holder's Release.
func (c *Copy[V]) Value() V { return c.payload }

// RegisterReader returns the Copy a new read-only holder should actually
// use. In the common case this is the receiver itself, with readers
// incremented; if the receiver is a writer-pending copy with no other
// reader, invariant-preserving promotion kicks in: the reader takes
// ownership of the original (now reset to readers=1) and the writer is
// handed a clone via its deferred continuation.
func (c *Copy[V]) RegisterReader() *Copy[V] {
	for {
		r := c.readers.Load()
		if r > 0 {
			if c.readers.CompareAndSwap(r, r+1) {
				return c
			}
			continue
		}
		break // r == writerPending: take the slow, mutex-guarded path
	}

	c.mu.Lock()
	r := c.readers.Load()
	if r > 0 {
		c.readers.Add(1)
		c.mu.Unlock()
		return c
	}
	// writer-pending: split. The reader keeps the original; the deferred
	// writer gets a fresh clone and its release fires now.
	writerCopy := New(c.clone(c.payload), c.deleter, c.clone)
	onDefer := c.deferred
	c.deferred = nil
	c.readers.Store(1)
	c.mu.Unlock()

	if onDefer != nil {
		onDefer(writerCopy)
	}
	return c
}

// RegisterWriter returns the Copy a new mutable holder should use. If the
// receiver currently has exactly one reader and no writer already pending,
// this task is promoted to writer-in-place and release is deferred until
// either the pending task completes undisturbed (Normalize) or a reader
// shows up mid-flight (RegisterReader above). Otherwise the requester gets
// an immediate clone and proceeds without deferral.
func (c *Copy[V]) RegisterWriter(onDefer Continuation[V]) (use *Copy[V], deferred bool) {
	if c.readers.CompareAndSwap(1, writerPending) {
		c.mu.Lock()
		c.deferred = onDefer
		c.mu.Unlock()
		return c, true
	}
	return New(c.clone(c.payload), c.deleter, c.clone), false
}

// Normalize resets a writer-pending copy back to an exclusive reader-count
// of 1, once its owning task is about to dispatch undisturbed (spec.md
// §4.2: "reset any transient writer markers on held copies to 1"). It is
// a no-op (and safe to call) if the copy never entered writer-pending
// state, or already left it via RegisterReader's dance — both cases make
// this idempotent.
func (c *Copy[V]) Normalize() {
	if c.readers.CompareAndSwap(writerPending, 1) {
		c.mu.Lock()
		c.deferred = nil
		c.mu.Unlock()
	}
}

// Release lowers the reader count; when it reaches zero and no writer is
// pending, the deleter runs exactly once (invariant I4).
func (c *Copy[V]) Release() {
	if c.readers.Add(-1) == 0 {
		c.free()
	}
}

func (c *Copy[V]) free() {
	if c.freed.CompareAndSwap(false, true) && c.deleter != nil {
		c.deleter(c.payload)
	}
}

// Readers reports the raw counter, for tests and introspection only.
func (c *Copy[V]) Readers() int32 { return c.readers.Load() }
