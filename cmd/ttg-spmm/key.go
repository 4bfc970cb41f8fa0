// key.go defines the sample application's tile keys: Key2 for a single
// (row,col) output tile, Key3 for one (row,col,reduction-step) task of
// the multiply operator, whose partial product goes on to the Key2-keyed
// reduce operator (spec.md's original_source grounding: spmm.cc's templated
// Key<Rank>, specialized here to the two ranks the pipeline actually
// uses rather than templated over an arbitrary rank).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import "fmt"

type Key2 struct{ I, J int }

func (k Key2) String() string { return fmt.Sprintf("{%d,%d}", k.I, k.J) }

type Key3 struct{ I, J, K int }

func (k Key3) String() string { return fmt.Sprintf("{%d,%d,%d}", k.I, k.J, k.K) }

// tile2rank is the process-grid key-map (original_source/examples/spmm/spmm.cc
// tile2rank): rank = (j%Q)*P + (i%P). Resolved as unconditionally fatal
// on an out-of-range result by key.Map.Validate.
func tile2rank(i, j, p, q int) int {
	return (j%q)*p + (i % p)
}
