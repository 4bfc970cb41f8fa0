package transport_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ttg-go/ttg/term"
	"github.com/ttg-go/ttg/transport"
	"github.com/ttg-go/ttg/xact/xreg"
)

func TestRouterDeliversToRegisteredOp(t *testing.T) {
	det := term.New()
	r := transport.NewRouter(&transport.Loopback{}, det)

	var mu sync.Mutex
	var got []byte
	const opID = uint64(555)
	xreg.Register(opID, func(taskpoolID uint32, paramID int64, payload []byte) {
		mu.Lock()
		got = payload
		mu.Unlock()
	})
	defer xreg.Unregister(opID)

	h := transport.Header{TaskpoolID: 1, OpID: opID, ParamID: 0}
	frame := transport.MonolithicFrame(h, [][]byte{[]byte("k0")}, []byte("v0"))
	r.Send(0, frame)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, time.Millisecond)
}

func TestRouterBuffersUntilOpRegisters(t *testing.T) {
	det := term.New()
	r := transport.NewRouter(&transport.Loopback{}, det)

	const opID = uint64(777)
	h := transport.Header{TaskpoolID: 1, OpID: opID, ParamID: 0}
	frame := transport.MonolithicFrame(h, [][]byte{[]byte("k0")}, []byte("v0"))
	r.Send(0, frame)

	require.Eventually(t, func() bool { return xreg.PendingCount() > 0 }, time.Second, time.Millisecond)

	var mu sync.Mutex
	var delivered bool
	xreg.Register(opID, func(uint32, int64, []byte) {
		mu.Lock()
		delivered = true
		mu.Unlock()
	})
	defer xreg.Unregister(opID)

	mu.Lock()
	d := delivered
	mu.Unlock()
	require.True(t, d, "registering must replay the buffered frame synchronously")
}
