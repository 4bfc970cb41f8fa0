// Package serialize implements the user-facing Serialization interface
// (spec.md §6 "Serialization interface (consumed)") plus the monolithic
// codecs the runtime ships (json-iterator, msgp, and an lz4 wrapper
// around another codec), and the SplitMetadata descriptor interface for
// values that expose their bytes as a list of regions to avoid a double
// copy over the wire (spec.md §4.4 "split-metadata"). No SplitMetadata
// implementation is provided here.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package serialize

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Monolithic is the default codec: one opaque, length-prefixed byte blob
// (spec.md §4.4 "monolithic"). V is boxed as `any` at this layer since
// the transport frame is type-erased; callers own the concrete type via
// the operator input index they're serializing for.
type Monolithic interface {
	PayloadSize(v any) (int, error)
	PackPayload(v any, buf []byte) error
	UnpackPayload(buf []byte) (any, error)
}

// JSONCodec packs any Go value through json-iterator, as a monolithic
// codec (spec.md §6's `payload_size`/`pack_payload`/`unpack_payload`).
type JSONCodec struct {
	New func() any // returns a fresh zero value to unmarshal into
}

func (c JSONCodec) PayloadSize(v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, errors.Wrap(err, "serialize: json payload_size")
	}
	return len(b), nil
}

func (c JSONCodec) PackPayload(v any, buf []byte) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "serialize: json pack_payload")
	}
	if len(b) > len(buf) {
		return errors.Errorf("serialize: json pack_payload buffer too small (%d < %d)", len(buf), len(b))
	}
	copy(buf, b)
	return nil
}

func (c JSONCodec) UnpackPayload(buf []byte) (any, error) {
	var dst any
	if c.New != nil {
		dst = c.New()
	}
	if err := json.Unmarshal(buf, &dst); err != nil {
		return nil, errors.Wrap(err, "serialize: json unpack_payload")
	}
	return dst, nil
}

// LZ4Codec wraps another Monolithic codec with lz4 block compression,
// for large monolithic payloads where the wire is the bottleneck.
type LZ4Codec struct {
	Inner Monolithic
}

func (c LZ4Codec) PayloadSize(v any) (int, error) {
	raw := make([]byte, 0)
	sz, err := c.Inner.PayloadSize(v)
	if err != nil {
		return 0, err
	}
	raw = make([]byte, sz)
	if err := c.Inner.PackPayload(v, raw); err != nil {
		return 0, err
	}
	bound := lz4.CompressBlockBound(len(raw))
	return bound, nil
}

func (c LZ4Codec) PackPayload(v any, buf []byte) error {
	sz, err := c.Inner.PayloadSize(v)
	if err != nil {
		return err
	}
	raw := make([]byte, sz)
	if err := c.Inner.PackPayload(v, raw); err != nil {
		return err
	}
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(raw, buf, ht[:])
	if err != nil {
		return errors.Wrap(err, "serialize: lz4 compress")
	}
	if n == 0 {
		// incompressible; lz4 requires callers fall back to storing raw
		copy(buf, raw)
		return errors.New("serialize: lz4 block incompressible, caller must store raw")
	}
	return nil
}

func (c LZ4Codec) UnpackPayload(buf []byte) (any, error) {
	dst := make([]byte, len(buf)*4)
	n, err := lz4.UncompressBlock(buf, dst)
	if err != nil {
		return nil, errors.Wrap(err, "serialize: lz4 decompress")
	}
	return c.Inner.UnpackPayload(dst[:n])
}

// MsgpCodec packs values that already know how to msgp-encode themselves
// (msgp.Sizer/msgp.Marshaler/msgp.Unmarshaler, as produced by msgp's code
// generator). Denser and faster than JSONCodec for fixed-shape streaming
// payloads such as tiles; New must return a pointer implementing
// msgp.Unmarshaler for UnpackPayload to decode into.
type MsgpCodec struct {
	New func() msgp.Unmarshaler
}

func (c MsgpCodec) PayloadSize(v any) (int, error) {
	s, ok := v.(msgp.Sizer)
	if !ok {
		return 0, errors.Errorf("serialize: %T does not implement msgp.Sizer", v)
	}
	return s.Msgsize(), nil
}

func (c MsgpCodec) PackPayload(v any, buf []byte) error {
	m, ok := v.(msgp.Marshaler)
	if !ok {
		return errors.Errorf("serialize: %T does not implement msgp.Marshaler", v)
	}
	out, err := m.MarshalMsg(buf[:0])
	if err != nil {
		return errors.Wrap(err, "serialize: msgp pack_payload")
	}
	if len(out) > len(buf) {
		return errors.Errorf("serialize: msgp pack_payload buffer too small (%d < %d)", len(buf), len(out))
	}
	if len(out) > 0 && &out[0] != &buf[0] {
		copy(buf, out)
	}
	return nil
}

func (c MsgpCodec) UnpackPayload(buf []byte) (any, error) {
	dst := c.New()
	if _, err := dst.UnmarshalMsg(buf); err != nil {
		return nil, errors.Wrap(err, "serialize: msgp unpack_payload")
	}
	return dst, nil
}

// Iovec is one region of a split-metadata value: a source address
// (opaque to this package; the transport layer maps it to an RDMA
// handle) and its byte length (spec.md §4.4 split-metadata).
type Iovec struct {
	Addr []byte
	Len  int
}

// SplitMetadata is the opt-in descriptor for values whose bytes should
// travel as separately-registered memory regions rather than be copied
// into the message frame (spec.md §6 "split-metadata descriptor").
type SplitMetadata interface {
	GetMetadata(v any) ([]byte, error)
	GetData(v any) ([]Iovec, error)
	CreateFromMetadata(meta []byte) (any, error)
}
