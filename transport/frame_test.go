package transport_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ttg-go/ttg/transport"
)

func TestMonolithicFrameRoundTrip(t *testing.T) {
	h := transport.Header{TaskpoolID: 1, OpID: 42, ParamID: 2}
	keys := [][]byte{[]byte("k0"), []byte("k1"), []byte("k2")}
	value := []byte(`{"x":1}`)

	frame := transport.MonolithicFrame(h, keys, value)
	gotH, gotKeys, gotValue := transport.ParseMonolithicFrame(frame)

	require.Equal(t, h.TaskpoolID, gotH.TaskpoolID)
	require.Equal(t, h.OpID, gotH.OpID)
	require.Equal(t, h.ParamID, gotH.ParamID)
	require.EqualValues(t, len(keys), gotH.NumKeys)
	require.Equal(t, keys, gotKeys)
	require.Equal(t, value, gotValue)
}

func TestNoInputTriggerFrame(t *testing.T) {
	h := transport.Header{TaskpoolID: 1, OpID: 7, ParamID: transport.NoParam}
	keys := [][]byte{[]byte("k0")}
	frame := transport.MonolithicFrame(h, keys, nil)
	gotH, gotKeys, gotValue := transport.ParseMonolithicFrame(frame)
	require.Equal(t, transport.NoParam, gotH.ParamID)
	require.Equal(t, keys, gotKeys)
	require.Empty(t, gotValue)
}

func TestSplitMetadataFrameRoundTrip(t *testing.T) {
	h := transport.Header{TaskpoolID: 3, OpID: 9, ParamID: 0}
	keys := [][]byte{[]byte("k0")}
	meta := []byte("rows=4,cols=4")
	iovecs := []transport.SplitIovecHandle{
		{Handle: []byte("handle-a"), ReleaseTag: 111},
		{Handle: []byte("handle-b"), ReleaseTag: 222},
	}
	frame := transport.SplitMetadataFrame(h, keys, meta, 5, 999, iovecs)
	gotH, gotKeys, gotMeta, gotRank, gotTag, gotIovecs := transport.ParseSplitMetadataFrame(frame)

	require.Equal(t, h.OpID, gotH.OpID)
	require.Equal(t, keys, gotKeys)
	require.Equal(t, meta, gotMeta)
	require.EqualValues(t, 5, gotRank)
	require.EqualValues(t, 999, gotTag)
	require.Len(t, gotIovecs, 2)
	require.Equal(t, iovecs[0].Handle, gotIovecs[0].Handle)
	require.EqualValues(t, 111, gotIovecs[0].ReleaseTag)
	require.EqualValues(t, 222, gotIovecs[1].ReleaseTag)
}
