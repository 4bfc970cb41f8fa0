package flow_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ttg-go/ttg/datacopy"
	"github.com/ttg-go/ttg/flow"
)

type IntKey int

func (k IntKey) String() string { return fmt.Sprintf("%d", int(k)) }

func TestSendFansOutOneSharedCopy(t *testing.T) {
	var mu sync.Mutex
	var seen []float64

	recv := func(k IntKey, c *datacopy.Copy[any]) {
		mu.Lock()
		seen = append(seen, c.Value().(float64))
		mu.Unlock()
		c.Release()
	}

	out := flow.NewValueEdge[IntKey, float64]("e")
	in1 := flow.NewIn[IntKey, float64]("a", flow.InCallbacks[IntKey]{Send: recv})
	in2 := flow.NewIn[IntKey, float64]("b", flow.InCallbacks[IntKey]{Send: recv})
	out.To(in1)
	out.To(in2)

	out.Out.Send(IntKey(1), 9)

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []float64{9, 9}, seen)
}

// TestSendToOneReadOnlyAndOneMutableConsumer models spec.md §8 scenario 4:
// one read-only and one mutating consumer of the same produced value. The
// read-only consumer must observe the pre-mutation value, the mutating
// consumer must get a distinct object it can freely mutate, and the
// deleter must fire exactly once per physical object (twice total).
func TestSendToOneReadOnlyAndOneMutableConsumer(t *testing.T) {
	type box struct{ n int }

	var mu sync.Mutex
	var deletedN []int
	del := func(b *box) {
		mu.Lock()
		deletedN = append(deletedN, b.n)
		mu.Unlock()
	}
	clone := func(b *box) *box { return &box{n: b.n} }

	var readSeen int
	readOnly := func(k IntKey, c *datacopy.Copy[any]) {
		readSeen = c.Value().(*box).n
		c.Release()
	}

	var mutated *box
	var mutableCopy *datacopy.Copy[any]
	move := func(k IntKey, c *datacopy.Copy[any]) {
		mutableCopy = c
		b := c.Value().(*box)
		b.n = 99 // free to mutate: nobody else can be holding this object
		mutated = b
	}

	out := flow.NewOut[IntKey, *box]("e", del, clone)
	inRead := flow.NewIn[IntKey, *box]("reader", flow.InCallbacks[IntKey]{Send: readOnly})
	inMove := flow.NewIn[IntKey, *box]("writer", flow.InCallbacks[IntKey]{Move: move})
	inMove.Mutable = true
	out.Bind(inRead)
	out.Bind(inMove)

	out.Send(IntKey(1), &box{n: 1})

	require.Equal(t, 1, readSeen, "read-only consumer must see the pre-mutation value")
	require.Equal(t, 99, mutated.n)
	require.NotNil(t, mutableCopy)
	mutableCopy.Release()

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []int{1, 99}, deletedN, "original and clone are each deleted exactly once")
}

func TestBroadcastReachesAllBoundInputs(t *testing.T) {
	var mu sync.Mutex
	var calls int

	out := flow.NewValueEdge[IntKey, float64]("e")
	recv := func(keys []IntKey, c *datacopy.Copy[any]) {
		mu.Lock()
		calls++
		mu.Unlock()
		c.Release()
	}
	in1 := flow.NewIn[IntKey, float64]("a", flow.InCallbacks[IntKey]{Broadcast: recv})
	in2 := flow.NewIn[IntKey, float64]("b", flow.InCallbacks[IntKey]{Broadcast: recv})
	out.To(in1)
	out.To(in2)

	out.Out.Broadcast([]IntKey{1, 2, 3}, 7)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, calls)
}
