// Package sched implements the Scheduler glue (spec.md §4.5 "Scheduler
// glue", §6 "Scheduler interface (consumed)"): turning a fired task
// descriptor into a unit of work on a shared, process-wide ready queue of
// parallel worker threads.
//
// The reference Scheduler is backed by github.com/ygrebnov/workers'
// dynamic-pool task runner: enqueue_taskpool maps to AddTask, start maps
// to Start (which also begins draining GetErrors/GetResults), and wait is
// a no-op because quiescence is detected by term.Detector.Fence.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package sched

import (
	"context"
	"sync"

	"github.com/ygrebnov/workers"
	"golang.org/x/sync/errgroup"
)

// Descriptor is a fired task descriptor (spec.md §4.5): a static dispatch
// entry, paired with the key it fires for. The runtime never inspects
// its contents — Run is opaque, matching "points at a static dispatch
// entry, the operator object, and the key".
type Descriptor struct {
	Run func()
}

// Scheduler is the consumed interface (spec.md §6): enqueue_taskpool
// posts one fired task; start arms the pool; wait blocks for in-flight
// work to drain.
type Scheduler interface {
	EnqueueTaskpool(d Descriptor) error
	Start()
	Wait()
}

// WorkersScheduler adapts github.com/ygrebnov/workers into the Scheduler
// interface. op.Operator does not submit tasks to it: a fired task's body
// runs inline in op.Operator.dispatch.
type WorkersScheduler struct {
	ctx context.Context
	w   workers.Workers[struct{}]

	mu      sync.Mutex
	started bool

	drain   *errgroup.Group
	onError func(error)
}

// New builds a scheduler with maxWorkers parallel worker threads (0 means
// a dynamically sized pool, per the underlying library's default).
func New(ctx context.Context, maxWorkers uint, onError func(error)) *WorkersScheduler {
	cfg := &workers.Config{MaxWorkers: maxWorkers, TasksBufferSize: 1024}
	s := &WorkersScheduler{ctx: ctx, w: workers.New[struct{}](ctx, cfg), onError: onError}
	return s
}

// Start arms the scheduler (spec.md §6 "start"). Safe to call more than
// once; only the first call takes effect.
func (s *WorkersScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.w.Start(s.ctx)

	g, _ := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		for err := range s.w.GetErrors() {
			if s.onError != nil {
				s.onError(err)
			}
		}
		return nil
	})
	g.Go(func() error {
		for range s.w.GetResults() {
			// task bodies never produce a Scheduler-level result; drain to
			// keep the buffered results channel from filling.
		}
		return nil
	})
	s.drain = g
}

// EnqueueTaskpool posts one fired task descriptor for execution by the
// next available worker thread (spec.md §6 "enqueue_taskpool").
func (s *WorkersScheduler) EnqueueTaskpool(d Descriptor) error {
	return s.w.AddTask(func(context.Context) error {
		d.Run()
		return nil
	})
}

// Wait is a placeholder for scheduler-level shutdown; distributed
// completion is actually detected by term.Detector.Fence, not by
// draining this scheduler's queues (spec.md §4.6: fence blocks on task
// count and in-flight messages, not on worker-pool emptiness alone,
// since remote arguments may still be in flight).
func (s *WorkersScheduler) Wait() {}
