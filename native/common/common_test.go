package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckedMath(t *testing.T) {
	maxWord := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	_, err := Add(maxWord, big.NewInt(1))
	require.ErrorIs(t, err, ErrOverflow)

	_, err = Sub(big.NewInt(1), big.NewInt(2))
	require.ErrorIs(t, err, ErrUnderflow)

	_, err = Mul(maxWord, big.NewInt(2))
	require.ErrorIs(t, err, ErrOverflow)

	_, err = Add(big.NewInt(-1), big.NewInt(1))
	require.ErrorIs(t, err, ErrNegativeAmount)

	got, err := MulDiv(maxWord, big.NewInt(4), big.NewInt(8))
	require.NoError(t, err)
	require.Equal(t, 0, new(big.Int).Rsh(maxWord, 1).Cmp(got))

	_, err = MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0))
	require.ErrorIs(t, err, ErrDivideByZero)

	root, err := Sqrt(big.NewInt(99))
	require.NoError(t, err)
	require.Equal(t, int64(9), root.Int64())

	sum, err := Add(nil, big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, int64(3), sum.Int64())
}

func TestReentrancyGuard(t *testing.T) {
	var g ReentrancyGuard
	calls := 0
	err := g.NonReentrant(func() error {
		calls++
		return g.NonReentrant(func() error {
			calls++
			return nil
		})
	})
	require.ErrorIs(t, err, ErrReentrantCall)
	require.Equal(t, 1, calls)
	require.False(t, g.Locked())
	require.NoError(t, g.NonReentrant(func() error { return nil }))
}

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

func TestPauseGuard(t *testing.T) {
	require.NoError(t, Guard(nil, "swap"))
	require.ErrorIs(t, Guard(pauses{"swap": true}, "swap"), ErrModulePaused)
	require.NoError(t, Guard(pauses{"swap": true}, "escrow"))
}
