// Package transport implements cross-process delivery of operator
// arguments: active-message framing, the split-metadata RDMA-style path
// for large payloads, and the delayed-unpack queue for messages that
// race an operator's local registration (spec.md §4.4 "Cross-process
// delivery").
//
// frame.go is the wire layout. It plays the same role this package's
// ancestor gives to pdu.go: a small fixed header followed by a
// variable-length body, built with manual offset bookkeeping rather
// than reflection. Each frame builder allocates one new buffer for the
// frame it returns.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"encoding/binary"

	"github.com/ttg-go/ttg/cmn/debug"
)

const (
	// sizeMsgHeader is the fixed prefix of every frame (spec.md §4.4
	// frame layout): taskpool_id(u32) op_id(u64) param_id(i64) num_keys(i32).
	sizeMsgHeader = 4 + 8 + 8 + 4

	// NoParam marks the "no-input trigger" case: a zero-arity operator's
	// remote invoke, which carries only a key list (spec.md §4.4).
	NoParam int64 = -1
)

// Header is the fixed part of an active-message frame.
type Header struct {
	TaskpoolID uint32
	OpID       uint64
	ParamID    int64
	NumKeys    int32
}

func putHeader(buf []byte, h Header) {
	debug.Assert(len(buf) >= sizeMsgHeader)
	binary.LittleEndian.PutUint32(buf[0:4], h.TaskpoolID)
	binary.LittleEndian.PutUint64(buf[4:12], h.OpID)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(h.ParamID))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.NumKeys))
}

func getHeader(buf []byte) Header {
	debug.Assert(len(buf) >= sizeMsgHeader)
	return Header{
		TaskpoolID: binary.LittleEndian.Uint32(buf[0:4]),
		OpID:       binary.LittleEndian.Uint64(buf[4:12]),
		ParamID:    int64(binary.LittleEndian.Uint64(buf[12:20])),
		NumKeys:    int32(binary.LittleEndian.Uint32(buf[20:24])),
	}
}

// putLenPrefixed appends a u32 length followed by b.
func putLenPrefixed(dst []byte, b []byte) []byte {
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	dst = append(dst, lenbuf[:]...)
	dst = append(dst, b...)
	return dst
}

func getLenPrefixed(src []byte) (b []byte, rest []byte) {
	n := binary.LittleEndian.Uint32(src[:4])
	return src[4 : 4+n], src[4+n:]
}

// MonolithicFrame assembles a complete frame carrying a length-prefixed
// monolithic value and one length-prefixed key blob per key (spec.md
// §4.4 "for monolithic payload").
func MonolithicFrame(h Header, keys [][]byte, value []byte) []byte {
	h.NumKeys = int32(len(keys))
	buf := make([]byte, sizeMsgHeader, sizeMsgHeader+value2size(keys, value))
	putHeader(buf, h)
	for _, k := range keys {
		buf = putLenPrefixed(buf, k)
	}
	buf = putLenPrefixed(buf, value)
	return buf
}

func value2size(keys [][]byte, value []byte) int {
	n := 4 + len(value)
	for _, k := range keys {
		n += 4 + len(k)
	}
	return n
}

// ParseMonolithicFrame is the receive-side inverse of MonolithicFrame.
func ParseMonolithicFrame(frame []byte) (h Header, keys [][]byte, value []byte) {
	h = getHeader(frame)
	rest := frame[sizeMsgHeader:]
	keys = make([][]byte, h.NumKeys)
	for i := range keys {
		keys[i], rest = getLenPrefixed(rest)
	}
	value, _ = getLenPrefixed(rest)
	return
}

// ParseMonolithicBody is ParseMonolithicFrame's counterpart for a
// dispatcher that only receives the post-header payload (xreg.Dispatcher's
// signature carries taskpool/op/param IDs out of band and drops NumKeys
// along with the rest of the header). It recovers the key count implicitly:
// every length-prefixed segment up to the last one is a key, and the last
// segment is the value, matching the layout MonolithicFrame writes after
// its header.
func ParseMonolithicBody(body []byte) (keys [][]byte, value []byte) {
	for len(body) > 0 {
		var seg []byte
		seg, body = getLenPrefixed(body)
		if len(body) == 0 {
			value = seg
			return
		}
		keys = append(keys, seg)
	}
	return
}

// SplitIovecHandle is one registered memory region as it travels on the
// wire: a transport-assigned handle plus its byte length (spec.md §4.4
// "for each iovec: handle_size, handle_bytes, release_fn_ptr"). ReleaseTag
// identifies the local release closure to invoke on remote completion.
type SplitIovecHandle struct {
	Handle     []byte
	Len        int32
	ReleaseTag uint64
}

// SplitMetadataFrame assembles a frame for a split-metadata value: a
// small metadata header plus source rank, a remote-callback tag, and the
// list of iovec handles the destination will RDMA-get from (spec.md
// §4.4 "for split-metadata payload").
func SplitMetadataFrame(h Header, keys [][]byte, meta []byte, sourceRank int32, remoteCallbackTag uint64, iovecs []SplitIovecHandle) []byte {
	h.NumKeys = int32(len(keys))
	buf := make([]byte, sizeMsgHeader)
	putHeader(buf, h)
	for _, k := range keys {
		buf = putLenPrefixed(buf, k)
	}
	buf = putLenPrefixed(buf, meta)

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(sourceRank))
	buf = append(buf, scratch[:]...)
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(iovecs)))
	buf = append(buf, scratch[:]...)
	var tagbuf [8]byte
	binary.LittleEndian.PutUint64(tagbuf[:], remoteCallbackTag)
	buf = append(buf, tagbuf[:]...)
	for _, iv := range iovecs {
		buf = putLenPrefixed(buf, iv.Handle)
		binary.LittleEndian.PutUint64(tagbuf[:], iv.ReleaseTag)
		buf = append(buf, tagbuf[:]...)
	}
	return buf
}

// ParseSplitMetadataFrame is the receive-side inverse of
// SplitMetadataFrame.
func ParseSplitMetadataFrame(frame []byte) (h Header, keys [][]byte, meta []byte, sourceRank int32, remoteCallbackTag uint64, iovecs []SplitIovecHandle) {
	h = getHeader(frame)
	rest := frame[sizeMsgHeader:]
	keys = make([][]byte, h.NumKeys)
	for i := range keys {
		keys[i], rest = getLenPrefixed(rest)
	}
	meta, rest = getLenPrefixed(rest)
	sourceRank = int32(binary.LittleEndian.Uint32(rest[0:4]))
	numIovecs := binary.LittleEndian.Uint32(rest[4:8])
	remoteCallbackTag = binary.LittleEndian.Uint64(rest[8:16])
	rest = rest[16:]
	iovecs = make([]SplitIovecHandle, numIovecs)
	for i := range iovecs {
		var handle []byte
		handle, rest = getLenPrefixed(rest)
		tag := binary.LittleEndian.Uint64(rest[:8])
		rest = rest[8:]
		iovecs[i] = SplitIovecHandle{Handle: handle, Len: int32(len(handle)), ReleaseTag: tag}
	}
	return
}
