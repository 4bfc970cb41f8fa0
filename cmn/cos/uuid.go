// Package cos provides common low-level types and utilities shared across
// the runtime: UUID generation and multi-error aggregation.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"sync/atomic"

	"github.com/teris-io/shortid"
)

// alphabet for generating short, URL-safe, globally-unique operator and
// message instance IDs, similar to shortid.DEFAULT_ABC.
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const LenShortID = 9

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

func InitUUIDGen(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

// GenUUID returns a short unique identifier from the shared generator,
// which InitUUIDGen seeds (seed 1 if it was never called). Operator
// instance IDs are not drawn from it: op.Operator takes its opID from
// SetRemote's caller.
func GenUUID() string {
	if sid == nil {
		InitUUIDGen(1)
	}
	return sid.MustGenerate()
}

// GenTie returns a 3-letter tie-breaker, cheap enough to call per-message
// when two UUIDs collide in a test harness (never happens in practice).
func GenTie() string {
	tie := rtie.Add(1)
	b0 := uuidABC[tie&0x3f]
	b1 := uuidABC[-tie&0x3f]
	b2 := uuidABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}
