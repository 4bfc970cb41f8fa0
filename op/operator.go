// Package op implements the Operator shell: the user-visible unit that
// binds N input terminals and a body closure (over whatever output
// terminals the body wants to send to) through a task table, and carries
// the make_executable/release lifecycle (spec.md §4.1 "Operator").
//
// An Operator also owns the routing decision spec.md §4.1 assigns it: a
// per-operator key-map says, for any key, which rank's task table that key
// belongs in. setArg/setMutableArg/setStreamArg and the broadcast callback
// consult it once per produced value and either accumulate locally or hand
// the value to transport for delivery to the owning rank (spec.md §4.4
// "Cross-process delivery"). Invoke does not consult it.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package op

import (
	"fmt"
	"sync"

	"github.com/ttg-go/ttg/cmn/debug"
	"github.com/ttg-go/ttg/cmn/nlog"
	"github.com/ttg-go/ttg/datacopy"
	"github.com/ttg-go/ttg/flow"
	"github.com/ttg-go/ttg/key"
	"github.com/ttg-go/ttg/memsys"
	"github.com/ttg-go/ttg/serialize"
	"github.com/ttg-go/ttg/task"
	"github.com/ttg-go/ttg/transport"
	"github.com/ttg-go/ttg/xact/xreg"
)

// Body is the user task body: given a key and its accumulated arguments
// (in input-port order), it runs the operator's computation. It sends
// results onward by closing over whatever flow.Out terminals it was built
// with — the Operator itself never needs to know output value types.
type Body[K key.Key] func(k K, args []any)

// KeyCodec linearizes a key to bytes for an active-message frame and back
// (spec.md §4.4: "transport linearizes keys into the frame"). Keyed on the
// operator's own K since key.Marshaler alone has no generic unmarshal
// counterpart.
type KeyCodec[K key.Key] struct {
	Marshal   func(K) ([]byte, error)
	Unmarshal func([]byte) (K, error)
}

// Operator is generic only over its key type: inputs are type-erased to
// `any` at this layer (spec.md leaves argument typing to the operator
// body). The generic BindInput wrapper below fixes only the compile-time
// type of each input terminal; the body asserts each args[i] back to its
// concrete Go type itself.
type Operator[K key.Key] struct {
	mu         sync.Mutex
	arity      int
	streaming  []bool
	reducers   []task.Reducer
	priority   func(K) int32
	body       Body[K]
	numBuckets int

	executable bool
	tbl        *task.Table[K]

	detector Detector

	// keyMap/rank implement spec.md §4.1's "owns terminals, key-map,
	// priority-map… determines where a task executes". A nil keyMap means
	// every key is local — the single-process default.
	keyMap key.Map[K]
	rank   int

	// opID/router/codec/keyCodec/pool are set together by SetRemote and
	// back the cross-process send/receive path (spec.md §4.4).
	opID     uint64
	router   *transport.Router
	codec    serialize.Monolithic
	keyCodec KeyCodec[K]
	pool     *memsys.MMSA
}

// Detector is the subset of term.Detector an Operator reports task
// lifecycle to, so that World.Fence reflects every operator's live task
// count (spec.md §4.6 P3). Declared locally to avoid a dependency cycle
// with package term.
type Detector interface {
	TaskStarted()
	TaskDone()
}

// New constructs an operator shell with a fixed input arity. It is not
// executable until MakeExecutable is called (spec.md §4.1: "operators
// must be made executable before any key may fire on them").
func New[K key.Key](arity int, body Body[K]) *Operator[K] {
	return &Operator[K]{
		arity:     arity,
		streaming: make([]bool, arity),
		reducers:  make([]task.Reducer, arity),
		body:      body,
	}
}

// SetPriority installs the priority map consulted at task-record creation
// time (spec.md §4.2 "Priority", §6 priority-map).
func (op *Operator[K]) SetPriority(p func(K) int32) *Operator[K] {
	op.mu.Lock()
	defer op.mu.Unlock()
	debug.Assert(!op.executable, "SetPriority after make_executable")
	op.priority = p
	return op
}

// SetStreaming marks input i as a streaming (reduced) input, installing
// its reducer (spec.md §4.1 set_input_reducer<i>).
func (op *Operator[K]) SetStreaming(i int, reducer task.Reducer) *Operator[K] {
	op.mu.Lock()
	defer op.mu.Unlock()
	debug.Assert(!op.executable, "SetStreaming after make_executable")
	op.streaming[i] = true
	op.reducers[i] = reducer
	return op
}

// SetNumBuckets overrides the task table's lock-striping width.
func (op *Operator[K]) SetNumBuckets(n int) *Operator[K] {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.numBuckets = n
	return op
}

// SetDetector wires this operator's task lifecycle into a termination
// detector (spec.md §4.6).
func (op *Operator[K]) SetDetector(d Detector) *Operator[K] {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.detector = d
	return op
}

// SetKeyMap installs the per-operator key-map (spec.md §4.1): for any key,
// it names the rank whose task table owns that key. m is wrapped with
// Validate so an out-of-range rank panics instead of silently routing
// nowhere (spec.md §9).
func (op *Operator[K]) SetKeyMap(m key.Map[K], nranks int) *Operator[K] {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.keyMap = m.Validate(nranks)
	return op
}

// SetRank tells the operator which rank it is running on, so it can tell
// a local key from a remote one via the key-map.
func (op *Operator[K]) SetRank(rank int) *Operator[K] {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.rank = rank
	return op
}

// SetRemote wires this operator into cross-process delivery (spec.md §4.4):
// opID identifies it on the wire, router sends outgoing frames and codec/
// keyCodec/pool serialize values and keys into them. It registers a
// receive dispatcher with xreg so frames addressed to opID (including any
// that arrived before this call, per xreg's delayed-unpack queue) are
// unpacked and fed to the local task table.
func (op *Operator[K]) SetRemote(opID uint64, router *transport.Router, codec serialize.Monolithic, kc KeyCodec[K], pool *memsys.MMSA) *Operator[K] {
	op.mu.Lock()
	op.opID, op.router, op.codec, op.keyCodec, op.pool = opID, router, codec, kc, pool
	op.mu.Unlock()
	xreg.Register(opID, op.recv)
	return op
}

// MakeExecutable builds the backing task table and flips the operator
// live. Idempotent (spec.md R2): calling it again on an already-executable
// operator is a no-op.
func (op *Operator[K]) MakeExecutable() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.executable {
		return
	}
	cfg := task.Config{
		Arity:      op.arity,
		Streaming:  op.streaming,
		Reducers:   op.reducers,
		NumBuckets: op.numBuckets,
	}
	op.tbl = task.New[K](cfg, op.priority, op.dispatch)
	op.executable = true
}

// Release tears the operator back down, dropping its task table and
// unregistering it from xreg if it was wired for remote delivery. Safe to
// call more than once (spec.md R3).
func (op *Operator[K]) Release() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if !op.executable {
		return
	}
	op.executable = false
	op.tbl = nil
	if op.router != nil {
		xreg.Unregister(op.opID)
	}
}

func (op *Operator[K]) table() *task.Table[K] {
	op.mu.Lock()
	defer op.mu.Unlock()
	debug.Assert(op.executable, "operator used before make_executable or after release")
	return op.tbl
}

// dispatch is the task table's onReady callback: it unwraps every slot's
// payload, runs the body, then releases every DataCopy the task held
// (invariant I4 — each accumulated argument is released exactly once,
// here, after the body that consumed it returns).
func (op *Operator[K]) dispatch(pt *task.PendingTask[K]) {
	if op.detector != nil {
		op.detector.TaskStarted()
		defer op.detector.TaskDone()
	}
	copies := pt.Copies()
	args := make([]any, len(copies))
	for i, c := range copies {
		if c != nil {
			args[i] = c.Value()
		}
	}
	op.body(pt.Key, args)
	for _, c := range copies {
		if c != nil {
			c.Release()
		}
	}
}

// Invoke fires k directly with already-at-hand arguments, bypassing the
// task table's accumulation protocol entirely (spec.md §4.1 invoke(key,
// args) / invoke() for zero-arity operators). Each argument is wrapped as
// an exclusively-held DataCopy with a no-op deleter: Invoke's caller
// retains ownership of the underlying Go values.
//
// Invoke is local-only: it is the caller's direct-injection escape hatch,
// not a produced value flowing through a terminal, so it never consults
// the key-map. Callers that shard keys across ranks (e.g. the sample
// application's tile ownership filter) are expected to only Invoke keys
// they themselves own.
func (op *Operator[K]) Invoke(k K, args ...any) {
	copies := make([]*datacopy.Copy[any], len(args))
	for i, a := range args {
		copies[i] = datacopy.New(a, func(any) {}, func(v any) any { return v })
	}
	op.table().Invoke(k, copies)
}

// targetRank reports which rank owns k and whether that is a rank other
// than this one (spec.md §4.1 key-map: "determines where a task
// executes"). A nil key-map means every key is local.
func (op *Operator[K]) targetRank(k K) (rank int, remote bool) {
	op.mu.Lock()
	km, myRank := op.keyMap, op.rank
	op.mu.Unlock()
	if km == nil {
		return myRank, false
	}
	target := km(k)
	return target, target != myRank
}

// routeKeys partitions keys into the ones this rank owns and the rest,
// grouped by destination rank, so a broadcast becomes one frame per
// destination rank rather than one per key (spec.md §8 scenario 3: "one
// frame per destination rank").
func (op *Operator[K]) routeKeys(keys []K) (local []K, remote map[int][]K) {
	remote = map[int][]K{}
	for _, k := range keys {
		if rank, isRemote := op.targetRank(k); isRemote {
			remote[rank] = append(remote[rank], k)
		} else {
			local = append(local, k)
		}
	}
	return
}

// sendRemote serializes value and keys and hands the resulting frame to
// the transport router for rank (spec.md §4.4 send path). i is the
// destination input index, carried as the frame's ParamID.
func (op *Operator[K]) sendRemote(rank, i int, keys []K, value any) error {
	op.mu.Lock()
	opID, router, codec, kc, pool := op.opID, op.router, op.codec, op.keyCodec, op.pool
	op.mu.Unlock()
	if router == nil {
		return fmt.Errorf("ttg: operator %d routes a key to rank %d but has no router configured (call SetRemote)", opID, rank)
	}

	keyBytes := make([][]byte, len(keys))
	for idx, k := range keys {
		kb, err := kc.Marshal(k)
		if err != nil {
			return fmt.Errorf("ttg: marshal key %s for op %d: %w", k, opID, err)
		}
		keyBytes[idx] = kb
	}

	sz, err := codec.PayloadSize(value)
	if err != nil {
		return fmt.Errorf("ttg: payload_size for op %d input %d: %w", opID, i, err)
	}
	buf, _ := pool.AllocSize(sz)
	defer pool.Free(buf)
	if err := codec.PackPayload(value, buf); err != nil {
		return fmt.Errorf("ttg: pack_payload for op %d input %d: %w", opID, i, err)
	}

	h := transport.Header{OpID: opID, ParamID: int64(i)}
	frame := transport.MonolithicFrame(h, keyBytes, buf)
	router.Send(rank, frame)
	return nil
}

// recv is the xreg.Dispatcher this operator registers via SetRemote: it
// unpacks a received frame's payload and replays it as a local set_arg
// (or streaming set_arg) for every key the frame carries (spec.md §4.4
// receive path).
func (op *Operator[K]) recv(_ uint32, paramID int64, payload []byte) {
	op.mu.Lock()
	codec, kc := op.codec, op.keyCodec
	op.mu.Unlock()

	keyBytes, valueBytes := transport.ParseMonolithicBody(payload)
	value, err := codec.UnpackPayload(valueBytes)
	if err != nil {
		nlog.Errorf("op: unpack remote payload for op %d input %d: %v", op.opID, paramID, err)
		return
	}
	i := int(paramID)

	if op.streaming[i] {
		for _, kb := range keyBytes {
			k, err := kc.Unmarshal(kb)
			if err != nil {
				nlog.Errorf("op: unmarshal remote key for op %d input %d: %v", op.opID, i, err)
				continue
			}
			_ = op.table().SetStreamArg(k, i, value, false, wrapAny)
		}
		return
	}

	c := wrapAny(value)
	for idx := 1; idx < len(keyBytes); idx++ {
		c = c.RegisterReader()
	}
	for _, kb := range keyBytes {
		k, err := kc.Unmarshal(kb)
		if err != nil {
			nlog.Errorf("op: unmarshal remote key for op %d input %d: %v", op.opID, i, err)
			c.Release()
			continue
		}
		if err := op.table().SetArg(k, i, c); err != nil {
			c.Release()
		}
	}
}

// setArg is the internal entry point used by BindInput's generated
// callbacks for a plain (non-streaming) send. It consults the key-map
// first: a key that targets another rank is serialized and handed to
// transport instead of accumulated in this rank's task table (spec.md
// §4.1 "determines where a task executes", §4.4).
func (op *Operator[K]) setArg(k K, i int, c *datacopy.Copy[any]) error {
	if rank, remote := op.targetRank(k); remote {
		if err := op.sendRemote(rank, i, []K{k}, c.Value()); err != nil {
			return err // the caller still owns c and releases it
		}
		c.Release()
		return nil
	}
	return op.table().SetArg(k, i, c)
}

// setMutableArg is setArg's counterpart for a move (mutable) input
// (spec.md §4.3). Locally it goes through the task table's writer-dance
// registration; remotely the value crosses the wire like any other
// argument — a remote "move" only ever reaches a freshly-deserialized
// copy on the far side, so there is nothing left to alias and the dance
// is unnecessary there.
func (op *Operator[K]) setMutableArg(k K, i int, c *datacopy.Copy[any]) error {
	if rank, remote := op.targetRank(k); remote {
		if err := op.sendRemote(rank, i, []K{k}, c.Value()); err != nil {
			return err // the caller still owns c and releases it
		}
		c.Release()
		return nil
	}
	return op.table().SetMutableArg(k, i, c)
}

func (op *Operator[K]) setStreamArg(k K, i int, value any, voidInput bool) error {
	if rank, remote := op.targetRank(k); remote {
		return op.sendRemote(rank, i, []K{k}, value)
	}
	return op.table().SetStreamArg(k, i, value, voidInput, wrapAny)
}

// setArgstreamSize/finalizeArgstream are local-only even when the key-map
// targets a remote rank: distinguishing a control frame from a value
// frame on the wire would need a new Header field, which is left as a
// documented scope cut (spec.md §4.1's accumulation protocol is otherwise
// fully wired; the remote stream-control path is not).
func (op *Operator[K]) setArgstreamSize(k K, i int, n int32) error {
	return op.table().SetArgstreamSize(k, i, n)
}

func (op *Operator[K]) finalizeArgstream(k K, i int, voidInput bool) error {
	return op.table().FinalizeArgstream(k, i, voidInput)
}

func wrapAny(v any) *datacopy.Copy[any] {
	return datacopy.New(v, func(any) {}, func(v any) any { return v })
}

// BindInput creates input terminal i of op as a concretely-typed
// flow.In[K,V], wiring its five callbacks into the operator's task table
// (spec.md §3 "Terminal callbacks", §4.1). The caller binds the returned
// terminal to an Edge[K,V] with Edge.To. V is only used to fix the
// compile-time type of the terminal for wiring; the operator itself
// tracks every argument as an already-boxed *datacopy.Copy[any], since a
// producer's Out terminal performs the boxing exactly once and shares
// that one holder across every bound consumer (flow.Out.Send).
//
// Package-level (not a method) because Go methods cannot carry their own
// type parameters beyond the receiver's.
func BindInput[K key.Key, V any](o *Operator[K], i int) *flow.In[K, V] {
	send := func(k K, c *datacopy.Copy[any]) {
		if err := o.setArg(k, i, c); err != nil {
			c.Release()
		}
	}
	move := send
	broadcast := func(keys []K, c *datacopy.Copy[any]) {
		local, remote := o.routeKeys(keys)
		need := len(local) + len(remote)
		if need == 0 {
			c.Release()
			return
		}
		for n := 1; n < need; n++ {
			c = c.RegisterReader()
		}
		for _, k := range local {
			if err := o.table().SetArg(k, i, c); err != nil {
				c.Release()
			}
		}
		for rank, ks := range remote {
			if err := o.sendRemote(rank, i, ks, c.Value()); err != nil {
				nlog.Errorf("op: broadcast set_arg(%d) to rank %d: %v", i, rank, err)
			}
			c.Release()
		}
	}
	setSize := func(k K, n int32) {
		_ = o.setArgstreamSize(k, i, n)
	}
	finalize := func(k K) {
		_ = o.finalizeArgstream(k, i, false)
	}
	if o.streaming[i] {
		send = func(k K, c *datacopy.Copy[any]) {
			_ = o.setStreamArg(k, i, c.Value(), false)
			c.Release()
		}
		move = send
		broadcast = func(keys []K, c *datacopy.Copy[any]) {
			local, remote := o.routeKeys(keys)
			for _, k := range local {
				_ = o.table().SetStreamArg(k, i, c.Value(), false, wrapAny)
			}
			for rank, ks := range remote {
				if err := o.sendRemote(rank, i, ks, c.Value()); err != nil {
					nlog.Errorf("op: streaming broadcast set_arg(%d) to rank %d: %v", i, rank, err)
				}
			}
			c.Release()
		}
	}
	return flow.NewIn[K, V]("", flow.InCallbacks[K]{
		Send:              send,
		Move:              move,
		Broadcast:         broadcast,
		SetArgstreamSize:  setSize,
		FinalizeArgstream: finalize,
	})
}

// BindMutableInput creates input terminal i of op as a move-only input,
// wired through the task table's writer-dance registration rather than
// plain accumulation (spec.md §4.3 "one read-only and one mutating
// consumer of the same producer value"). The returned terminal's Mutable
// flag tells flow.Out.Send to route this one bound consumer through
// datacopy.Copy.RegisterWriter instead of sharing the read-only Copy any
// other consumers are bound to.
func BindMutableInput[K key.Key, V any](o *Operator[K], i int) *flow.In[K, V] {
	debug.Assert(!o.streaming[i], "BindMutableInput on a streaming input")
	move := func(k K, c *datacopy.Copy[any]) {
		if err := o.setMutableArg(k, i, c); err != nil {
			c.Release()
		}
	}
	in := flow.NewIn[K, V]("", flow.InCallbacks[K]{Move: move})
	in.Mutable = true
	return in
}
