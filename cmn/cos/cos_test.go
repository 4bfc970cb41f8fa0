package cos_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ttg-go/ttg/cmn/cos"
)

func TestGenUUID(t *testing.T) {
	cos.InitUUIDGen(42)
	a := cos.GenUUID()
	b := cos.GenUUID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}

func TestErrsDedup(t *testing.T) {
	var e cos.Errs
	e.Add(nil)
	for range 3 {
		e.Add(errTest{})
	}
	require.Equal(t, 1, e.Cnt())
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
