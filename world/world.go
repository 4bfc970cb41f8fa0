// Package world implements the user-facing execution context (spec.md
// §6 "World"): Initialize/Finalize bracket a process's participation in
// a distributed run, Execute arms the scheduler and taskpools, Fence
// blocks for distributed quiescence, and Abort tears everything down
// early on an unrecoverable error.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package world

import (
	"context"
	"time"

	"github.com/ttg-go/ttg/cmn/cos"
	"github.com/ttg-go/ttg/cmn/nlog"
	"github.com/ttg-go/ttg/sched"
	"github.com/ttg-go/ttg/stats"
	"github.com/ttg-go/ttg/term"
	"github.com/ttg-go/ttg/transport"
)

// World is the per-process execution context (spec.md §6 "World").
type World struct {
	Rank  int
	Nrank int

	Det   *term.Detector
	Sched *sched.WorkersScheduler
	Net   *transport.Router

	cancel context.CancelFunc
}

// DefaultExecutionContext builds a World wired with the reference
// scheduler and an in-process loopback network, suitable for
// single-process multi-rank simulation and the sample application's
// default run mode (spec.md §6 "DefaultExecutionContext").
func DefaultExecutionContext(rank, nrank int, maxWorkers uint) *World {
	ctx, cancel := context.WithCancel(context.Background())
	det := term.New()
	s := sched.New(ctx, maxWorkers, func(err error) {
		nlog.Errorf("world: rank %d task error: %v", rank, err)
	})
	net := transport.NewRouter(&transport.Loopback{}, det)
	return &World{Rank: rank, Nrank: nrank, Det: det, Sched: s, Net: net, cancel: cancel}
}

// Initialize seeds the process-wide UUID generator and returns a
// ready-to-Execute World (spec.md §6 "Initialize").
func Initialize(rank, nrank int, maxWorkers uint) *World {
	cos.InitUUIDGen(uint64(rank) + 1)
	return DefaultExecutionContext(rank, nrank, maxWorkers)
}

// Execute arms the scheduler and marks every registered taskpool ready
// to fire (spec.md §4.6 "execute(world)").
func (w *World) Execute() {
	w.Sched.Start()
	w.Det.Execute()
}

// Fence blocks the host thread until the distributed task count is zero
// and no messages are in flight, then returns (spec.md §4.6 "fence(world)",
// invariant P3). It is reentrant.
func (w *World) Fence() {
	start := time.Now()
	w.Det.Fence()
	stats.FenceLatencySeconds.Observe(time.Since(start).Seconds())
}

// Abort tears the world down immediately without waiting for quiescence,
// for use on an unrecoverable error.
func (w *World) Abort() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Finalize releases process-wide resources at the end of a run.
func (w *World) Finalize() {
	w.Abort()
}
