package key_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ttg-go/ttg/key"
)

type IntKey int

func (k IntKey) String() string { return fmt.Sprintf("%d", int(k)) }

func TestHashDeterministic(t *testing.T) {
	a, b := key.Hash(IntKey(7)), key.Hash(IntKey(7))
	require.Equal(t, a, b)
	require.NotEqual(t, a, key.Hash(IntKey(8)))
}

func TestMapValidatePanicsOutOfRange(t *testing.T) {
	m := key.Map[IntKey](func(k IntKey) int { return int(k) }).Validate(4)
	require.Panics(t, func() { m(IntKey(9)) })
	require.NotPanics(t, func() { m(IntKey(2)) })
}

func TestConstMap(t *testing.T) {
	m := key.Const[IntKey](3)
	require.Equal(t, 3, m(IntKey(99)))
}
