// Package flow implements Edges and Terminals: the typed, named channels
// that carry (key, value) pairs, control pulses, broadcast fan-out,
// stream-size, and finalize signals between Operators (spec.md §3 "Edge",
// "Terminal callbacks").
//
// Edge[K,V] and In/Out[K,V] are generic purely for compile-time wiring
// safety — you cannot accidentally bind a matrix-tile output to a
// float64 input. Once a value crosses Out.Send/Move/Broadcast it is
// boxed exactly once into a shared *datacopy.Copy[any] and fanned out to
// every bound input as that single shared holder, so the DataCopy
// reader/writer dance (spec.md §4.3) runs once per produced value no
// matter how many consumers are bound to it.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package flow

import (
	"sync"

	"github.com/ttg-go/ttg/cmn/debug"
	"github.com/ttg-go/ttg/datacopy"
)

// InCallbacks are the five input-terminal callbacks an Operator installs
// when it binds one of its input ports (spec.md §3 "Terminal callbacks").
// Send/Move/Broadcast receive the shared, already-registered DataCopy
// holder for this particular input; the callback owns exactly one
// reference and must eventually Release it (directly, or by handing it to
// a task table which releases it after dispatch).
type InCallbacks[K any] struct {
	Send              func(k K, c *datacopy.Copy[any])
	Move              func(k K, c *datacopy.Copy[any])
	Broadcast         func(keys []K, c *datacopy.Copy[any])
	SetArgstreamSize  func(k K, n int32)
	FinalizeArgstream func(k K)
}

// In is an input terminal: a named port that forwards whatever it
// receives to the owning Operator's task table via its InCallbacks.
// Mutable marks a terminal bound to a move (not send) input (spec.md §4.3):
// at most one bound In on a given Out may set it, and Out.Send routes that
// one consumer through the DataCopy writer dance instead of a shared read.
type In[K any, V any] struct {
	Name    string
	Mutable bool
	cb      InCallbacks[K]
}

func NewIn[K any, V any](name string, cb InCallbacks[K]) *In[K, V] {
	return &In[K, V]{Name: name, cb: cb}
}

// Out is an output terminal: forwards to every In bound to it (spec.md
// §3 "Output terminals forward to all bound inputs").
type Out[K any, V any] struct {
	Name   string
	del    datacopy.Deleter[any]
	clone  datacopy.Cloner[any]
	mu     sync.Mutex
	bound  []*In[K, V]
}

// NewOut builds an output terminal. del/clone describe how to release and
// duplicate a produced value of type V (spec.md §4.3 DataCopy Deleter /
// Cloner); wrap them once here so every Send/Move/Broadcast need only
// pass the raw value.
func NewOut[K any, V any](name string, del datacopy.Deleter[V], clone datacopy.Cloner[V]) *Out[K, V] {
	return &Out[K, V]{
		Name: name,
		del:  func(v any) { del(v.(V)) },
		clone: func(v any) any {
			return clone(v.(V))
		},
	}
}

// NewOutValue builds an output terminal for a plain value type (no
// pointers, no externally owned resources): release is a no-op and
// cloning is simple Go value assignment.
func NewOutValue[K any, V any](name string) *Out[K, V] {
	return NewOut[K, V](name, func(V) {}, func(v V) V { return v })
}

func (o *Out[K, V]) Bind(in *In[K, V]) {
	o.mu.Lock()
	o.bound = append(o.bound, in)
	o.mu.Unlock()
}

func (o *Out[K, V]) snapshot() []*In[K, V] {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*In[K, V], len(o.bound))
	copy(out, o.bound)
	return out
}

func (o *Out[K, V]) NumBound() int { o.mu.Lock(); defer o.mu.Unlock(); return len(o.bound) }

// Send fans a (K,V) pair out to every bound input, sharing one DataCopy
// across the read-only consumers (spec.md §4.2 "send") and routing at
// most one Mutable-flagged consumer through the writer dance (spec.md
// §4.3): that consumer gets the shared copy in place if no read-only
// consumer is bound alongside it, or an independent clone otherwise, so a
// mutating consumer never observes (or corrupts) what a read-only
// consumer is holding.
func (o *Out[K, V]) Send(k K, v V) {
	bound := o.snapshot()
	if len(bound) == 0 {
		return
	}

	var mutable *In[K, V]
	readOnly := make([]*In[K, V], 0, len(bound))
	for _, in := range bound {
		if in.Mutable {
			debug.Assert(mutable == nil, "send on an output terminal bound to more than one mutable input")
			mutable = in
			continue
		}
		readOnly = append(readOnly, in)
	}

	c := datacopy.New[any](v, o.del, o.clone)

	// Solo mutable consumer: no read-only contention is known at send
	// time, so it is handed the shared copy itself; its Move callback
	// (task.Table.SetMutableArg via op.BindMutableInput) registers it as
	// the writer, promoting it in place and deferring the clone-for-write
	// until (if ever) some later caller registers as a reader on this Copy.
	if mutable != nil && len(readOnly) == 0 {
		mutable.cb.Move(k, c)
		return
	}

	for i := 1; i < len(readOnly); i++ {
		c = c.RegisterReader()
	}
	if mutable != nil {
		// Read-only consumers are already known to be sharing c: the
		// mutable consumer gets an independent clone outright rather than
		// risk the in-place promotion aliasing a copy a reader also holds.
		clone := datacopy.New[any](o.clone(c.Value()), o.del, o.clone)
		mutable.cb.Move(k, clone)
	}
	for _, in := range readOnly {
		in.cb.Send(k, c)
	}
}

// Move forwards a mutably-owned (K,V) pair. Valid only when exactly one
// input is bound — moving a value to more than one consumer is a
// topology error caught here rather than left to race (spec.md §4.2
// "move").
func (o *Out[K, V]) Move(k K, v V) {
	bound := o.snapshot()
	if len(bound) == 0 {
		return
	}
	debug.Assert(len(bound) == 1, "move on an output terminal bound to more than one input")
	c := datacopy.New[any](v, o.del, o.clone)
	bound[0].cb.Move(k, c)
}

// Broadcast fans a single value out to many keys, letting each bound
// input's callback group keys by destination rank on its own (spec.md
// §4.4 Broadcast).
func (o *Out[K, V]) Broadcast(keys []K, v V) {
	bound := o.snapshot()
	if len(bound) == 0 {
		return
	}
	c := datacopy.New[any](v, o.del, o.clone)
	for i := 1; i < len(bound); i++ {
		c = c.RegisterReader()
	}
	for _, in := range bound {
		in.cb.Broadcast(keys, c)
	}
}

func (o *Out[K, V]) SetArgstreamSize(k K, n int32) {
	for _, in := range o.snapshot() {
		in.cb.SetArgstreamSize(k, n)
	}
}

func (o *Out[K, V]) FinalizeArgstream(k K) {
	for _, in := range o.snapshot() {
		in.cb.FinalizeArgstream(k)
	}
}

// Edge is a compile-time-typed channel <Key,Value> binding one producer's
// output terminal to zero-or-more consumers' input terminals (spec.md §3
// "Edge"). Void may be used for Key or Value to model control-only flows.
type Edge[K any, V any] struct {
	Name string
	Out  *Out[K, V]
}

// Void models a control-only Key or Value (spec.md §3 Edge).
type Void struct{}

func NewEdge[K any, V any](name string, del datacopy.Deleter[V], clone datacopy.Cloner[V]) *Edge[K, V] {
	return &Edge[K, V]{Name: name, Out: NewOut[K, V](name, del, clone)}
}

func NewValueEdge[K any, V any](name string) *Edge[K, V] {
	return &Edge[K, V]{Name: name, Out: NewOutValue[K, V](name)}
}

// To binds this edge's producer to one more consumer input terminal.
func (e *Edge[K, V]) To(in *In[K, V]) *Edge[K, V] {
	e.Out.Bind(in)
	return e
}
