// matrix.go: dense tile storage and the reference (non-tiled) multiply
// used by the -x correctness check (original_source grounding: the
// dense/reference-check variant in original_source/madness/spmm.cc).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import "math/rand"

// Tile is a dense row-major tile of tileRows x tileCols float64s.
type Tile struct {
	Rows, Cols int
	Data       []float64
}

func newTile(rows, cols int) *Tile {
	return &Tile{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

func (t *Tile) at(r, c int) float64    { return t.Data[r*t.Cols+c] }
func (t *Tile) set(r, c int, v float64) { t.Data[r*t.Cols+c] = v }

func randomTile(rows, cols int, rng *rand.Rand, density float64) *Tile {
	t := newTile(rows, cols)
	for i := range t.Data {
		if rng.Float64() < density {
			t.Data[i] = rng.Float64()*2 - 1
		}
	}
	return t
}

// multiplyAdd computes acc += a*b (a is m x k, b is k x n) and returns
// acc, allocating a fresh zero tile if acc is nil.
func multiplyAdd(acc, a, b *Tile) *Tile {
	if acc == nil {
		acc = newTile(a.Rows, b.Cols)
	}
	for i := 0; i < a.Rows; i++ {
		for kk := 0; kk < a.Cols; kk++ {
			aik := a.at(i, kk)
			if aik == 0 {
				continue
			}
			for j := 0; j < b.Cols; j++ {
				acc.Data[i*acc.Cols+j] += aik * b.at(kk, j)
			}
		}
	}
	return acc
}

// ReferenceMultiply computes the full dense product C = A*B directly
// from the per-tile maps, for the -x correctness check. A is keyed by
// (i,k), B by (k,j); both indices are tile coordinates, so the result is
// reassembled tile-by-tile exactly like the pipeline's own output.
func ReferenceMultiply(a, b map[Key2]*Tile, mTiles, nTiles, kTiles int) map[Key2]*Tile {
	out := make(map[Key2]*Tile, mTiles*nTiles)
	for i := 0; i < mTiles; i++ {
		for j := 0; j < nTiles; j++ {
			var acc *Tile
			for k := 0; k < kTiles; k++ {
				at, ok := a[Key2{i, k}]
				if !ok {
					continue
				}
				bt, ok := b[Key2{k, j}]
				if !ok {
					continue
				}
				acc = multiplyAdd(acc, at, bt)
			}
			if acc != nil {
				out[Key2{i, j}] = acc
			}
		}
	}
	return out
}

func tilesEqual(a, b *Tile, tol float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Rows != b.Rows || a.Cols != b.Cols {
		return false
	}
	for i := range a.Data {
		d := a.Data[i] - b.Data[i]
		if d < -tol || d > tol {
			return false
		}
	}
	return true
}
