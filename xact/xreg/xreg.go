// Package xreg is the process-wide operator registry and delayed-unpack
// queue (spec.md §4.4 "Cross-process delivery" receive path, §9 "Global
// state"). Every Operator that accepts remote arguments registers an
// unpack dispatcher here under its op_id; frames that arrive before an
// operator has registered are buffered and replayed once it does.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package xreg

import "sync"

// Dispatcher is the per-operator receive-side callback: given a
// taskpool id, the param (input) index, and the remaining frame payload
// bytes, it deserializes the value and performs the local set_arg for
// every listed key (spec.md §4.4 receive path).
type Dispatcher func(taskpoolID uint32, paramID int64, payload []byte)

type pending struct {
	taskpoolID uint32
	paramID    int64
	payload    []byte
}

var (
	mu       sync.Mutex
	dispatch = map[uint64]Dispatcher{}
	delayed  = map[uint64][]pending{}
)

// Register installs opID's dispatcher and drains any frames that arrived
// for it before registration (spec.md: "When the missing operator
// registers, it drains and replays its queue").
func Register(opID uint64, d Dispatcher) {
	mu.Lock()
	dispatch[opID] = d
	queued := delayed[opID]
	delete(delayed, opID)
	mu.Unlock()

	for _, p := range queued {
		d(p.taskpoolID, p.paramID, p.payload)
	}
}

// Unregister removes opID, e.g. on operator Release.
func Unregister(opID uint64) {
	mu.Lock()
	delete(dispatch, opID)
	delete(delayed, opID)
	mu.Unlock()
}

// Deliver routes one received frame's payload to opID's dispatcher, or
// buffers it if the operator has not registered yet (spec.md §4.4: "the
// entire frame is copied and enqueued in a process-wide multimap keyed
// by op_id").
func Deliver(opID uint64, taskpoolID uint32, paramID int64, payload []byte) {
	mu.Lock()
	d, ok := dispatch[opID]
	if !ok {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		delayed[opID] = append(delayed[opID], pending{taskpoolID, paramID, cp})
		mu.Unlock()
		return
	}
	mu.Unlock()
	d(taskpoolID, paramID, payload)
}

// PendingCount reports the number of buffered, not-yet-replayed frames
// across all not-yet-registered operators, for tests and diagnostics (a
// nonzero count at fence time indicates an operator that never
// registered); term.Detector does not read it.
func PendingCount() int {
	mu.Lock()
	defer mu.Unlock()
	n := 0
	for _, q := range delayed {
		n += len(q)
	}
	return n
}
