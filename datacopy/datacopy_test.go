package datacopy_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ttg-go/ttg/datacopy"
)

func cloneInt(v *int) *int {
	c := *v
	return &c
}

func TestSharedReaderFastPath(t *testing.T) {
	var deleted int
	v := 42
	c := datacopy.New(&v, func(p *int) { deleted++ }, cloneInt)

	r1 := c.RegisterReader()
	r2 := c.RegisterReader()
	require.Same(t, c, r1)
	require.Same(t, c, r2)
	require.EqualValues(t, 3, c.Readers())

	r1.Release()
	r2.Release()
	require.Equal(t, 0, deleted) // original New() holder still outstanding
	c.Release()
	require.Equal(t, 1, deleted)
}

// TestDeferredWriter reproduces spec.md §8 scenario 4: two consumers of the
// same producer value, one read-only, one mutating; after both complete
// the producer's DataCopy has been deleted exactly once, and the
// read-only consumer observed the pre-mutation value.
func TestDeferredWriter(t *testing.T) {
	var mu sync.Mutex
	var deletedOriginal int
	v := 7

	orig := datacopy.New(&v, func(p *int) {
		mu.Lock()
		deletedOriginal++
		mu.Unlock()
	}, cloneInt)

	var writerCopy *datacopy.Copy[*int]
	use, deferred := orig.RegisterWriter(func(replacement *datacopy.Copy[*int]) {
		writerCopy = replacement
	})
	require.True(t, deferred)
	require.Same(t, orig, use)

	// The producer's original holder is not released separately: the
	// RegisterWriter call above turned that one reference into the writer
	// task's hold, as when the producer task completes in the real pipeline.

	reader := orig.RegisterReader() // forces the dance: writer gets a clone
	require.NotNil(t, writerCopy, "writer's deferred continuation must fire")
	require.Same(t, orig, reader)
	require.EqualValues(t, 7, *reader.Value())
	require.EqualValues(t, 7, *writerCopy.Value())

	*writerCopy.Value() = 99 // writer mutates its private clone
	require.EqualValues(t, 7, *reader.Value(), "reader must not observe the writer's mutation")

	reader.Release()
	writerCopy.Release()
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, deletedOriginal) // original + clone, each deleted exactly once
}

func TestRegisterWriterClonesWhenSharedAlready(t *testing.T) {
	v := 1
	c := datacopy.New(&v, func(*int) {}, cloneInt)
	c.RegisterReader() // readers=2, no longer exclusive

	use, deferred := c.RegisterWriter(nil)
	require.False(t, deferred)
	require.NotSame(t, c, use)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	v := 1
	c := datacopy.New(&v, func(*int) {}, cloneInt)
	use, deferred := c.RegisterWriter(func(*datacopy.Copy[*int]) {})
	require.True(t, deferred)
	require.Same(t, c, use)

	c.Normalize()
	require.EqualValues(t, 1, c.Readers())
	c.Normalize() // second call: no-op
	require.EqualValues(t, 1, c.Readers())
}
