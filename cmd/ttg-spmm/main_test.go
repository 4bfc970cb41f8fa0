package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunPipelineMatchesReferenceMultiply(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const mTiles, nTiles, kTiles = 2, 2, 3

	A := make(map[Key2]*Tile)
	B := make(map[Key2]*Tile)
	for i := 0; i < mTiles; i++ {
		for k := 0; k < kTiles; k++ {
			A[Key2{i, k}] = randomTile(3, 3, rng, 0.8)
		}
	}
	for k := 0; k < kTiles; k++ {
		for j := 0; j < nTiles; j++ {
			B[Key2{k, j}] = randomTile(3, 3, rng, 0.8)
		}
	}

	got := runPipeline(A, B, 1, 1, mTiles, nTiles, kTiles, 2)
	want := ReferenceMultiply(A, B, mTiles, nTiles, kTiles)

	require.True(t, resultsMatch(got, want))
}

func TestSplitDashDashTruncatesTrailingArgs(t *testing.T) {
	require.Equal(t, []string{"-P", "2"}, splitDashDash([]string{"-P", "2", "--", "-x"}))
	require.Equal(t, []string{"-P", "2"}, splitDashDash([]string{"-P", "2"}))
}

func TestRunRejectsNonPositiveDims(t *testing.T) {
	require.Equal(t, 1, run([]string{"-M", "0"}))
}
