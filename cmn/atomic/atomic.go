// Package atomic re-exports the stdlib typed atomics under the names the
// rest of the codebase imports as "github.com/ttg-go/ttg/cmn/atomic".
//
// The teacher (aistore) carries its own cmn/atomic wrapper package because
// it predates Go 1.19's typed atomics; no third-party atomics package
// appears anywhere in the example pack, so post-1.19 stdlib sync/atomic
// is the grounded choice here rather than reintroducing a redundant
// wrapper (see DESIGN.md).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import "sync/atomic"

type (
	Int32  = atomic.Int32
	Int64  = atomic.Int64
	Uint32 = atomic.Uint32
	Uint64 = atomic.Uint64
	Bool   = atomic.Bool
)
