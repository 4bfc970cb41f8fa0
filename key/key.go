// Package key defines the runtime's key space: the per-operator task
// identity type and the total key-to-rank mapping function (spec.md §3
// "Key", §2 "Key space and key-map").
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package key

import (
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// Key is any comparable, printable user type used as a task identity.
// Equality is Go's built-in `==` (comparable); ordered printing is
// satisfied by Stringer. A Key value is copied into the owning
// PendingTask record for the lifetime of that record (spec.md §3).
type Key interface {
	comparable
	fmt.Stringer
}

// Hashable lets a Key type supply its own total hash instead of falling
// back to the generic Stringer-based hash below. Implement this when the
// default String()-based hash would be too expensive or collision-prone
// for the key's actual shape (e.g. a tuple of large integers).
type Hashable interface {
	Hash() uint64
}

// Marshaler lets a Key type supply payload-size-preserving wire
// serialization (spec.md §3 Key). Nothing in this module calls it:
// op.Operator linearizes keys for active-message frames through the
// op.KeyCodec given to SetRemote, and there is no String()-based fallback.
type Marshaler interface {
	MarshalKey() ([]byte, error)
}

// Hash returns k's total hash, used for task-table bucket selection
// (spec.md §4.2) independent of any user KeyMap. If k implements
// Hashable, that hash is used; otherwise the key's String() is hashed
// with xxhash, which is deterministic within one process but does NOT
// by itself guarantee collision-freedom across unrelated key shapes —
// callers that need that guarantee should implement Hashable.
func Hash[K Key](k K) uint64 {
	if h, ok := any(k).(Hashable); ok {
		return h.Hash()
	}
	return xxhash.ChecksumString64(k.String())
}

// Map is a user-supplied total function mapping a Key to the rank of the
// process that owns tasks for that key (spec.md §2 "Key space and
// key-map"). Map must be total over the key space used by an Operator;
// returning a rank outside [0, nranks) is a topology error (spec.md §9).
type Map[K Key] func(k K) int

// Validate wraps m so that out-of-range ranks are reported as a fatal
// topology error instead of being silently used (spec.md §9 Open
// Question: key-map returning a non-existent rank is unconditionally a
// topology error, not gated behind a debug build).
func (m Map[K]) Validate(nranks int) Map[K] {
	return func(k K) int {
		rank := m(k)
		if rank < 0 || rank >= nranks {
			panic(fmt.Sprintf("ttg: key-map(%s) = %d is not a valid rank in [0,%d)", k, rank, nranks))
		}
		return rank
	}
}

// Const returns a Map that always targets the given rank — useful for
// single-input-port operators whose key space doesn't otherwise
// distribute (e.g. a reduction sink).
func Const[K Key](rank int) Map[K] {
	return func(K) int { return rank }
}
