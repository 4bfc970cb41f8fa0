// Package memsys is a small fixed-size buffer pool; op.Operator.sendRemote
// draws its payload staging buffer from it (spec.md §4.4 "Cross-process
// delivery").
// It mirrors the shape of a slab allocator — a handful of size classes,
// each backed by a sync.Pool — without the multi-tier slab/SGL machinery
// a full object-storage runtime needs, since this runtime's buffers are
// short-lived wire frames rather than large multi-gigabyte objects.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import "sync"

const (
	PageSize       = 4 * 1024
	DefaultBufSize = 32 * 1024
	MaxPageSlabSize = 1024 * 1024
)

// sizeClasses are the pool buckets, smallest first; AllocSize rounds a
// request up to the first class that fits.
var sizeClasses = []int{PageSize, DefaultBufSize, 128 * 1024, MaxPageSlabSize}

// MMSA ("memory, multi-size allocator") hands out []byte buffers from a
// small set of pools and returns them on Free.
type MMSA struct {
	name  string
	pools []sync.Pool
}

// NewMMSA constructs a named allocator. name is cosmetic (stats/logging).
func NewMMSA(name string) (*MMSA, error) {
	mm := &MMSA{name: name, pools: make([]sync.Pool, len(sizeClasses))}
	for i, sz := range sizeClasses {
		sz := sz
		mm.pools[i].New = func() any { return make([]byte, sz) }
	}
	return mm, nil
}

var (
	defaultOnce sync.Once
	defaultMM   *MMSA
)

// PageMM returns the process-wide default allocator (spec.md §9 "Global
// state"), lazily constructed on first use.
func PageMM() *MMSA {
	defaultOnce.Do(func() { defaultMM, _ = NewMMSA("default") })
	return defaultMM
}

func classFor(size int) int {
	for i, sz := range sizeClasses {
		if size <= sz {
			return i
		}
	}
	return len(sizeClasses) - 1
}

// AllocSize returns a buffer of at least size bytes, sliced down to size,
// plus an opaque handle identifying which pool to return it to.
func (mm *MMSA) AllocSize(size int) (buf []byte, slab int) {
	slab = classFor(size)
	raw := mm.pools[slab].Get().([]byte)
	if cap(raw) < size {
		raw = make([]byte, size)
	}
	return raw[:size], slab
}

// Alloc returns a DefaultBufSize-capacity buffer (spec.md's default wire
// staging buffer).
func (mm *MMSA) Alloc() ([]byte, int) { return mm.AllocSize(DefaultBufSize) }

// Free returns buf to its pool. The slab index is recovered from the
// buffer's capacity, matching how it was classed on alloc.
func (mm *MMSA) Free(buf []byte) {
	if buf == nil {
		return
	}
	slab := classFor(cap(buf))
	mm.pools[slab].Put(buf[:cap(buf)])
}
