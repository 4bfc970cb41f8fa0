// Package ttg is the Template Task Graph runtime's top-level API: it
// re-exports the key and flow building blocks (Key, Edge, Void and the
// edge constructors) under one import, and provides MakeGraphExecutable
// to flip an entire wired graph of operators live in one idempotent call
// (spec.md §6 "MakeGraphExecutable(root)"). Operators, task tables and
// worlds are used from the op, task and world packages directly.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ttg

import (
	"github.com/ttg-go/ttg/flow"
	"github.com/ttg-go/ttg/key"
)

// Key is the constraint every operator, edge, and task-table key must
// satisfy (spec.md §3 "Key space").
type Key = key.Key

// Edge is re-exported for callers that don't need flow's lower-level
// In/Out terminal types directly.
type Edge[K any, V any] = flow.Edge[K, V]

// Void models a control-only Key or Value.
type Void = flow.Void

func NewEdge[K any, V any](name string, del func(V), clone func(V) V) *Edge[K, V] {
	return flow.NewEdge[K, V](name, del, clone)
}

func NewValueEdge[K any, V any](name string) *Edge[K, V] {
	return flow.NewValueEdge[K, V](name)
}

// Node is any operator that can be flipped executable/released as a unit
// of a larger graph (spec.md R2, R3).
type Node interface {
	MakeExecutable()
	Release()
}

// MakeGraphExecutable walks every node reachable from roots (in
// practice: every operator the caller constructed for this graph, since
// Go generics give us no type-erased edge-walk across differently-keyed
// operators) and makes each executable. Idempotent per node (spec.md R2):
// calling it twice, or calling it on a graph where some nodes are already
// executable, is safe.
func MakeGraphExecutable(nodes ...Node) {
	for _, n := range nodes {
		n.MakeExecutable()
	}
}

// ReleaseGraph is MakeGraphExecutable's inverse (spec.md R3).
func ReleaseGraph(nodes ...Node) {
	for _, n := range nodes {
		n.Release()
	}
}
