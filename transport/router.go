// router.go carries the adapted shape of this package's ancestor: a
// named-endpoint registry (handlers map, mutex-guarded) feeding a
// per-destination send queue drained by one goroutine each (its
// workCh/sendLoop pair), plus a per-rank housekeeping tick registered for
// idle teardown; its callback (maybeTeardown) does nothing, so per-rank
// queues are never torn down. Here the "endpoint" is a rank rather than a
// URL, and the payload is an active-message frame rather than an object
// byte stream.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"sync"
	"time"

	"github.com/ttg-go/ttg/cmn/nlog"
	"github.com/ttg-go/ttg/hk"
	"github.com/ttg-go/ttg/term"
	"github.com/ttg-go/ttg/xact/xreg"
)

// Network is the actual wire: something that can hand a byte frame to a
// given rank and invoke a receive callback when one arrives. A process
// using real sockets implements this once; tests use Loopback below.
type Network interface {
	SendTo(rank int, frame []byte) error
	SetRecvHandler(func(frame []byte))
}

const idleTeardown = 30 * time.Second

// Router is the process-wide active-message router: it queues outgoing
// frames per destination rank, feeds incoming frames to xreg.Deliver, and
// reports every in-flight message to a term.Detector so that fence()
// reflects "no messages in flight" (spec.md §4.4 Acknowledgement, §4.6 P3).
type Router struct {
	net  Network
	det  *term.Detector
	mu   sync.Mutex
	outq map[int]chan []byte
}

func NewRouter(net Network, det *term.Detector) *Router {
	r := &Router{net: net, det: det, outq: map[int]chan []byte{}}
	net.SetRecvHandler(r.onRecv)
	return r
}

// Send enqueues frame for asynchronous delivery to rank, starting that
// rank's send loop on first use and arming its housekeeping idle-teardown
// (spec.md §4.4 send path: registration/embedding of handles happens
// synchronously; the actual wire write does not block the caller).
func (r *Router) Send(rank int, frame []byte) {
	r.det.MsgOut()
	q := r.queueFor(rank)
	q <- frame
}

func (r *Router) queueFor(rank int) chan []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.outq[rank]
	if ok {
		return q
	}
	q = make(chan []byte, 64)
	r.outq[rank] = q
	name := rankHKName(rank)
	go r.sendLoop(rank, q)
	hk.Reg(name, func() time.Duration {
		r.maybeTeardown(rank)
		return 0
	}, idleTeardown)
	return q
}

func rankHKName(rank int) string {
	return "transport.rank." + itoa(rank) + hk.NameSuffix
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

func (r *Router) sendLoop(rank int, q chan []byte) {
	for frame := range q {
		if err := r.net.SendTo(rank, frame); err != nil {
			nlog.Errorf("transport: send to rank %d: %v", rank, err)
		}
		r.det.MsgDone()
	}
}

// maybeTeardown is a placeholder hook where an idle per-rank connection
// would be closed in a real-socket Network implementation; the in-process
// Loopback Network has nothing to tear down.
func (r *Router) maybeTeardown(int) {}

// onRecv is the single static unpack callback (spec.md §4.4 receive
// path): decode the header, route the remaining payload to the
// destination operator via xreg, or buffer it if unregistered.
func (r *Router) onRecv(frame []byte) {
	r.det.MsgOut()
	defer r.det.MsgDone()
	h := getHeader(frame)
	xreg.Deliver(h.OpID, h.TaskpoolID, h.ParamID, frame[sizeMsgHeader:])
}

// Loopback is an in-process Network: rank is ignored and every sent
// frame is delivered straight to the registered receive handler, useful
// for single-process multi-rank simulation and tests (mirrors how the
// teacher's tests fake a stream with an in-memory reader instead of a
// real socket).
type Loopback struct {
	mu  sync.Mutex
	rcv func(frame []byte)
}

func (l *Loopback) SetRecvHandler(f func(frame []byte)) {
	l.mu.Lock()
	l.rcv = f
	l.mu.Unlock()
}

func (l *Loopback) SendTo(_ int, frame []byte) error {
	l.mu.Lock()
	rcv := l.rcv
	l.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	rcv(cp)
	return nil
}
