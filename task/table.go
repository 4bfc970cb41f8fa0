// Package task implements per-operator argument accumulation: the
// lock-striped task table that turns N independently-arriving input
// arguments for a given (operator, key) into one ready task descriptor
// (spec.md §4.2 "Argument accumulation and task table").
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package task

import (
	"fmt"
	"sync"

	"github.com/ttg-go/ttg/cmn/debug"
	"github.com/ttg-go/ttg/datacopy"
	"github.com/ttg-go/ttg/key"
)

// Mode distinguishes a read-only ("send") argument from a mutable
// ("move") one at registration time (spec.md §4.3).
type Mode int

const (
	ReadOnly Mode = iota
	Writer
)

// Reducer folds a new streaming value into the running accumulator for a
// streaming input (spec.md §4.2, §2 "Streaming inputs"). voidInput is true
// for control-only streams, where the reducer runs purely for its
// side effects and the returned value is ignored.
type Reducer func(acc, incoming any, voidInput bool) any

// noStreamSize marks an input slot that has not (yet, or ever) had
// set_argstream_size/finalize_argstream applied (spec.md §3 PendingTask:
// "INT_MIN..-1 reserved for 'no stream'").
const noStreamSize = -1

// DuplicateArgError is spec.md §7.2: the same (op, key, input) was set
// twice with distinct registrations.
type DuplicateArgError struct {
	Key   string
	Input int
}

func (e *DuplicateArgError) Error() string {
	return fmt.Sprintf("ttg: duplicate argument for key=%s input=%d", e.Key, e.Input)
}

// UnreceivedStreamError is spec.md §7.3: finalize_argstream closed a
// stream that never received a single value.
type UnreceivedStreamError struct {
	Key   string
	Input int
}

func (e *UnreceivedStreamError) Error() string {
	return fmt.Sprintf("ttg: finalize_argstream on key=%s input=%d that received no values", e.Key, e.Input)
}

type slotState struct {
	filled      bool
	copy        *datacopy.Copy[any]
	mode        Mode // ReadOnly unless SetMutableArg registered this slot
	streamSize  int32 // noStreamSize until set_argstream_size declares it
	streamCount int32 // number of values folded in so far
	streamSet   bool  // at least one streamed value has been folded in
}

// PendingTask is one record per (operator, key) pair (spec.md §3).
type PendingTask[K key.Key] struct {
	Key         K
	Slots       []slotState
	Accumulated int
	Priority    int32
}

// Copies returns the slots' DataCopy holders in input-index order, valid
// only once the task has fired (Accumulated == arity).
func (pt *PendingTask[K]) Copies() []*datacopy.Copy[any] {
	out := make([]*datacopy.Copy[any], len(pt.Slots))
	for i := range pt.Slots {
		out[i] = pt.Slots[i].copy
	}
	return out
}

type bucket[K key.Key] struct {
	mu sync.Mutex
	m  map[K]*PendingTask[K]
}

// Config describes one operator's fixed shape, known once at
// construction (spec.md §3 Operator: "static fan-in N").
type Config struct {
	Arity      int
	Streaming  []bool // len == Arity; true marks a streaming input
	Reducers   []Reducer
	NumBuckets int
}

// Table is the per-operator concurrent task table (spec.md §4.2).
type Table[K key.Key] struct {
	cfg      Config
	buckets  []bucket[K]
	priority func(K) int32
	onReady  func(*PendingTask[K])
}

// New constructs a task table for one operator. onReady is invoked
// (outside any bucket lock, on the goroutine that supplied the last input)
// exactly once per key, when all Arity inputs have been accumulated.
// op.Operator's onReady runs the task body right there; it does not pass
// the task to a scheduler, and PendingTask.Priority does not affect when
// it runs.
func New[K key.Key](cfg Config, priority func(K) int32, onReady func(*PendingTask[K])) *Table[K] {
	if cfg.NumBuckets <= 0 {
		cfg.NumBuckets = 64
	}
	t := &Table[K]{cfg: cfg, priority: priority, onReady: onReady}
	t.buckets = make([]bucket[K], cfg.NumBuckets)
	for i := range t.buckets {
		t.buckets[i].m = make(map[K]*PendingTask[K])
	}
	return t
}

func (t *Table[K]) bucketFor(k K) *bucket[K] {
	h := key.Hash(k)
	return &t.buckets[h%uint64(len(t.buckets))]
}

func (t *Table[K]) findOrCreateLocked(b *bucket[K], k K) *PendingTask[K] {
	pt, ok := b.m[k]
	if ok {
		return pt
	}
	pt = &PendingTask[K]{Key: k, Slots: make([]slotState, t.cfg.Arity)}
	for i := range pt.Slots {
		pt.Slots[i].streamSize = noStreamSize
	}
	if t.priority != nil {
		pt.Priority = t.priority(k)
	}
	b.m[k] = pt
	return pt
}

// SetArg accumulates one non-streaming input (spec.md §4.2 steps 1-5).
// copy must already have been registered against this argument's role
// (ReadOnly/Writer) by the caller — see datacopy.Copy.RegisterReader /
// RegisterWriter — so that the DataCopy dance (§4.3) runs without holding
// any bucket lock (deadlock avoidance: the dance's deferred continuation
// may reach back into a different operator's task table).
func (t *Table[K]) SetArg(k K, i int, copy *datacopy.Copy[any]) error {
	debug.Assert(i >= 0 && i < t.cfg.Arity)
	debug.Assert(!t.cfg.Streaming[i], "SetArg called on a streaming input")

	b := t.bucketFor(k)
	b.mu.Lock()
	pt := t.findOrCreateLocked(b, k)
	if pt.Slots[i].filled {
		b.mu.Unlock()
		return &DuplicateArgError{Key: k.String(), Input: i}
	}
	pt.Slots[i].filled = true
	pt.Slots[i].copy = copy
	fire := t.advanceLocked(pt)
	if fire {
		t.deleteLocked(b, k)
	}
	b.mu.Unlock()

	if fire {
		t.onReady(pt)
	}
	return nil
}

// SetMutableArg accumulates one non-streaming mutable ("move") input
// (spec.md §4.3 "one read-only and one mutating consumer"). It registers
// copy as a writer itself: if no other reader is contending, this task
// gets copy in place; if some other reader's RegisterReader call later
// triggers the writer dance, the fresh clone it produces replaces this
// slot's copy via replaceArg, before the task fires.
func (t *Table[K]) SetMutableArg(k K, i int, copy *datacopy.Copy[any]) error {
	debug.Assert(i >= 0 && i < t.cfg.Arity)
	debug.Assert(!t.cfg.Streaming[i], "SetMutableArg called on a streaming input")

	use, _ := copy.RegisterWriter(func(clone *datacopy.Copy[any]) {
		t.replaceArg(k, i, clone)
	})

	b := t.bucketFor(k)
	b.mu.Lock()
	pt := t.findOrCreateLocked(b, k)
	if pt.Slots[i].filled {
		b.mu.Unlock()
		return &DuplicateArgError{Key: k.String(), Input: i}
	}
	pt.Slots[i].filled = true
	pt.Slots[i].copy = use
	pt.Slots[i].mode = Writer
	fire := t.advanceLocked(pt)
	if fire {
		t.deleteLocked(b, k)
	}
	b.mu.Unlock()

	if fire {
		t.onReady(pt)
	}
	return nil
}

// replaceArg swaps the DataCopy held in an already-filled, not-yet-fired
// slot — the receive side of a deferred writer continuation registered by
// SetMutableArg. A no-op if the task already fired: advanceLocked's
// Normalize call clears the writer marker under the same bucket lock
// before any dance can reach here.
func (t *Table[K]) replaceArg(k K, i int, copy *datacopy.Copy[any]) {
	b := t.bucketFor(k)
	b.mu.Lock()
	if pt, ok := b.m[k]; ok {
		pt.Slots[i].copy = copy
	}
	b.mu.Unlock()
}

// SetStreamArg folds one value into a streaming input's accumulator
// (spec.md §4.2 streaming protocol). wrap boxes the running accumulator
// after every value; the last one wrapped becomes the argument once the
// declared count is reached.
func (t *Table[K]) SetStreamArg(k K, i int, value any, voidInput bool, wrap func(any) *datacopy.Copy[any]) error {
	debug.Assert(i >= 0 && i < t.cfg.Arity)
	debug.Assert(t.cfg.Streaming[i], "SetStreamArg called on a non-streaming input")

	b := t.bucketFor(k)
	b.mu.Lock()
	pt := t.findOrCreateLocked(b, k)
	slot := &pt.Slots[i]
	if !slot.streamSet {
		slot.streamSet = true
		slot.copy = wrap(value)
	} else {
		reduced := t.cfg.Reducers[i](slot.copy.Value(), value, voidInput)
		slot.copy = wrap(reduced)
	}
	slot.streamCount++
	ready := slot.streamSize != noStreamSize && slot.streamCount >= slot.streamSize
	var fire bool
	if ready {
		slot.filled = true
		fire = t.advanceLocked(pt)
	}
	if fire {
		t.deleteLocked(b, k)
	}
	b.mu.Unlock()

	if fire {
		t.onReady(pt)
	}
	return nil
}

// SetArgstreamSize declares that exactly n values will be reduced into
// input i of (op,key) (spec.md §4.1 set_argstream_size).
func (t *Table[K]) SetArgstreamSize(k K, i int, n int32) error {
	debug.Assert(t.cfg.Streaming[i])
	if n == 0 {
		return fmt.Errorf("ttg: set_argstream_size(%s, %d) with n=0", k, i)
	}
	b := t.bucketFor(k)
	b.mu.Lock()
	pt := t.findOrCreateLocked(b, k)
	slot := &pt.Slots[i]
	slot.streamSize = n
	ready := slot.streamSet && slot.streamCount >= slot.streamSize
	var fire bool
	if ready {
		slot.filled = true
		fire = t.advanceLocked(pt)
	}
	if fire {
		t.deleteLocked(b, k)
	}
	b.mu.Unlock()
	if fire {
		t.onReady(pt)
	}
	return nil
}

// FinalizeArgstream closes a stream early; the accumulated value becomes
// the argument (spec.md §4.1 finalize_argstream, §7.3). voidInput is
// accepted but not used: no reducer call is made here, for void inputs
// or otherwise.
func (t *Table[K]) FinalizeArgstream(k K, i int, voidInput bool) error {
	debug.Assert(t.cfg.Streaming[i])
	b := t.bucketFor(k)
	b.mu.Lock()
	pt := t.findOrCreateLocked(b, k)
	slot := &pt.Slots[i]
	if !slot.streamSet {
		b.mu.Unlock()
		return &UnreceivedStreamError{Key: k.String(), Input: i}
	}
	slot.filled = true
	fire := t.advanceLocked(pt)
	if fire {
		t.deleteLocked(b, k)
	}
	b.mu.Unlock()
	if fire {
		t.onReady(pt)
	}
	return nil
}

// Invoke directly fires a task for k, used by Op.Invoke for zero-arity
// operators or manual injection with all arguments already at hand
// (spec.md §4.1 invoke()).
func (t *Table[K]) Invoke(k K, copies []*datacopy.Copy[any]) {
	b := t.bucketFor(k)
	b.mu.Lock()
	pt := t.findOrCreateLocked(b, k)
	for i, c := range copies {
		pt.Slots[i].filled = true
		pt.Slots[i].copy = c
	}
	pt.Accumulated = t.cfg.Arity
	for i := range pt.Slots {
		if pt.Slots[i].copy != nil {
			pt.Slots[i].copy.Normalize()
		}
	}
	t.deleteLocked(b, k)
	b.mu.Unlock()
	t.onReady(pt)
}

// advanceLocked increments the accumulated-inputs counter and reports
// whether the task is now ready to fire. Must be called with the owning
// bucket's lock held.
func (t *Table[K]) advanceLocked(pt *PendingTask[K]) bool {
	pt.Accumulated++
	debug.Assert(pt.Accumulated <= t.cfg.Arity)
	if pt.Accumulated != t.cfg.Arity {
		return false
	}
	for i := range pt.Slots {
		if pt.Slots[i].copy != nil {
			pt.Slots[i].copy.Normalize()
		}
	}
	return true
}

func (t *Table[K]) deleteLocked(b *bucket[K], k K) {
	delete(b.m, k)
}

// Len reports the number of pending (not-yet-fired) tasks across all
// buckets, for tests and introspection; term.Detector does not read it.
func (t *Table[K]) Len() int {
	n := 0
	for i := range t.buckets {
		t.buckets[i].mu.Lock()
		n += len(t.buckets[i].m)
		t.buckets[i].mu.Unlock()
	}
	return n
}
