package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiplyAddAccumulates(t *testing.T) {
	a := &Tile{Rows: 2, Cols: 2, Data: []float64{1, 0, 0, 1}} // identity
	b := &Tile{Rows: 2, Cols: 2, Data: []float64{1, 2, 3, 4}}

	got := multiplyAdd(nil, a, b)
	require.Equal(t, []float64{1, 2, 3, 4}, got.Data)

	got = multiplyAdd(got, a, b)
	require.Equal(t, []float64{2, 4, 6, 8}, got.Data)
}

func TestReferenceMultiplyMatchesHandComputedTiles(t *testing.T) {
	A := map[Key2]*Tile{
		{0, 0}: {Rows: 1, Cols: 1, Data: []float64{2}},
		{0, 1}: {Rows: 1, Cols: 1, Data: []float64{3}},
	}
	B := map[Key2]*Tile{
		{0, 0}: {Rows: 1, Cols: 1, Data: []float64{5}},
		{1, 0}: {Rows: 1, Cols: 1, Data: []float64{7}},
	}

	out := ReferenceMultiply(A, B, 1, 1, 2)
	require.Contains(t, out, Key2{0, 0})
	require.InDelta(t, 2*5+3*7, out[Key2{0, 0}].Data[0], 1e-9)
}

func TestReferenceMultiplySkipsMissingTiles(t *testing.T) {
	A := map[Key2]*Tile{{0, 0}: {Rows: 1, Cols: 1, Data: []float64{2}}}
	B := map[Key2]*Tile{} // no B tiles at all: product for (0,0) has no contributions

	out := ReferenceMultiply(A, B, 1, 1, 1)
	require.NotContains(t, out, Key2{0, 0})
}

func TestTilesEqualToleratesSmallDrift(t *testing.T) {
	a := &Tile{Rows: 1, Cols: 1, Data: []float64{1.0}}
	b := &Tile{Rows: 1, Cols: 1, Data: []float64{1.0 + 1e-12}}
	require.True(t, tilesEqual(a, b, 1e-9))

	c := &Tile{Rows: 1, Cols: 1, Data: []float64{1.1}}
	require.False(t, tilesEqual(a, c, 1e-9))
}

func TestRandomTileRespectsDensityBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tile := randomTile(4, 4, rng, 0)
	for _, v := range tile.Data {
		require.Zero(t, v)
	}

	tile = randomTile(4, 4, rng, 1)
	for _, v := range tile.Data {
		require.NotZero(t, v)
	}
}

func TestTile2Rank(t *testing.T) {
	require.Equal(t, 0, tile2rank(0, 0, 2, 2))
	require.Equal(t, 1, tile2rank(1, 0, 2, 2))
	require.Equal(t, 2, tile2rank(0, 1, 2, 2))
	require.Equal(t, 3, tile2rank(1, 1, 2, 2))
}
