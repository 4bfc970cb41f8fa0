package task_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ttg-go/ttg/datacopy"
	"github.com/ttg-go/ttg/task"
)

type IntKey int

func (k IntKey) String() string { return fmt.Sprintf("%d", int(k)) }

func wrapAny(v any) *datacopy.Copy[any] {
	return datacopy.New(v, func(any) {}, func(v any) any { return v })
}

func TestTwoInputFiresOnce(t *testing.T) {
	var fired []int
	var mu sync.Mutex
	tbl := task.New[IntKey](task.Config{Arity: 2, Streaming: []bool{false, false}}, nil, func(pt *task.PendingTask[IntKey]) {
		mu.Lock()
		fired = append(fired, int(pt.Key))
		mu.Unlock()
	})

	require.NoError(t, tbl.SetArg(IntKey(1), 0, wrapAny(10)))
	require.Empty(t, fired)
	require.NoError(t, tbl.SetArg(IntKey(1), 1, wrapAny(20)))
	require.Equal(t, []int{1}, fired)
	require.Equal(t, 0, tbl.Len())
}

func TestDuplicateArgumentIsError(t *testing.T) {
	tbl := task.New[IntKey](task.Config{Arity: 2, Streaming: []bool{false, false}}, nil, func(*task.PendingTask[IntKey]) {})
	require.NoError(t, tbl.SetArg(IntKey(1), 0, wrapAny(10)))
	err := tbl.SetArg(IntKey(1), 0, wrapAny(11))
	require.Error(t, err)
	var dup *task.DuplicateArgError
	require.ErrorAs(t, err, &dup)
}

// TestStreamingReducerSum reproduces spec.md §8 scenario 5: declared size
// 100, sum reducer over doubles 1..100, firing argument equals 5050.0.
func TestStreamingReducerSum(t *testing.T) {
	sum := func(acc, incoming any, _ bool) any { return acc.(float64) + incoming.(float64) }

	var result float64
	tbl := task.New[IntKey](task.Config{
		Arity:     1,
		Streaming: []bool{true},
		Reducers:  []task.Reducer{sum},
	}, nil, func(pt *task.PendingTask[IntKey]) {
		result = pt.Copies()[0].Value().(float64)
	})
	require.NoError(t, tbl.SetArgstreamSize(IntKey(1), 0, 100))
	for i := 1; i <= 100; i++ {
		require.NoError(t, tbl.SetStreamArg(IntKey(1), 0, float64(i), false, wrapAny))
	}
	require.InDelta(t, 5050.0, result, 1e-9)
}

func TestFinalizeArgstreamOnEmptyStreamErrors(t *testing.T) {
	tbl := task.New[IntKey](task.Config{Arity: 1, Streaming: []bool{true}, Reducers: []task.Reducer{nil}}, nil, func(*task.PendingTask[IntKey]) {})
	err := tbl.FinalizeArgstream(IntKey(1), 0, false)
	require.Error(t, err)
}

// TestSetMutableArgDanceWithConcurrentReader reproduces spec.md §8
// scenario 4's writer-dance half: a producer value is registered as a
// mutable ("move") input before any other consumer reads it, then a
// second, independent consumer calls RegisterReader on the very same
// Copy — the dance that splits the value rather than letting the reader
// observe a partially-mutated payload.
func TestSetMutableArgDanceWithConcurrentReader(t *testing.T) {
	var mu sync.Mutex
	var deleted []int

	type payload struct{ n int }
	del := func(p any) {
		mu.Lock()
		deleted = append(deleted, p.(*payload).n)
		mu.Unlock()
	}
	clone := func(p any) any {
		orig := p.(*payload)
		return &payload{n: orig.n}
	}

	var fired *task.PendingTask[IntKey]
	tbl := task.New[IntKey](task.Config{Arity: 2, Streaming: []bool{false, false}}, nil, func(pt *task.PendingTask[IntKey]) {
		fired = pt
	})

	original := datacopy.New[any](&payload{n: 1}, del, clone)
	require.NoError(t, tbl.SetMutableArg(IntKey(1), 0, original))

	// A second, independent consumer reads the same produced value before
	// the mutable task fires — this forces RegisterReader's slow path,
	// which hands the reader the original and replaces the mutable task's
	// stored slot with a fresh clone via the deferred continuation.
	reader := original.RegisterReader()
	require.Equal(t, 1, reader.Value().(*payload).n)
	reader.Release()

	require.NoError(t, tbl.SetArg(IntKey(1), 1, wrapAny(99)))
	require.NotNil(t, fired)

	copies := fired.Copies()
	require.NotSame(t, original, copies[0], "mutable slot must hold the clone handed to the deferred continuation")
	require.Equal(t, 1, copies[0].Value().(*payload).n)
	copies[0].Release()
	copies[1].Release()

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []int{1, 1}, deleted, "original and clone are released independently, exactly once each")
}

func TestZeroArityInvoke(t *testing.T) {
	var n int
	tbl := task.New[IntKey](task.Config{Arity: 0}, nil, func(*task.PendingTask[IntKey]) { n++ })
	tbl.Invoke(IntKey(0), nil)
	tbl.Invoke(IntKey(1), nil)
	require.Equal(t, 2, n)
}
