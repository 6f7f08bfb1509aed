package common

import (
	"math/big"

	"github.com/holiman/uint256"

	coreerrors "finerp/core/errors"
)

var (
	ErrOverflow       = coreerrors.Invariant("math: overflow")
	ErrUnderflow      = coreerrors.Invariant("math: underflow")
	ErrNegativeAmount = coreerrors.Validation("math: negative amount")
	ErrDivideByZero   = coreerrors.Invariant("math: division by zero")
)

// Amounts are unsigned 256-bit values. Every helper fails instead of wrapping.

func toWord(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return word, nil
}

func operands(a, b *big.Int) (*uint256.Int, *uint256.Int, error) {
	x, err := toWord(a)
	if err != nil {
		return nil, nil, err
	}
	y, err := toWord(b)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// CheckAmount validates that v fits the unsigned 256-bit range.
func CheckAmount(v *big.Int) error {
	_, err := toWord(v)
	return err
}

func Add(a, b *big.Int) (*big.Int, error) {
	x, y, err := operands(a, b)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return sum.ToBig(), nil
}

func Sub(a, b *big.Int) (*big.Int, error) {
	x, y, err := operands(a, b)
	if err != nil {
		return nil, err
	}
	diff, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrUnderflow
	}
	return diff.ToBig(), nil
}

func Mul(a, b *big.Int) (*big.Int, error) {
	x, y, err := operands(a, b)
	if err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return product.ToBig(), nil
}

// MulDiv returns floor(a*b/d) with a full-width intermediate product.
func MulDiv(a, b, d *big.Int) (*big.Int, error) {
	x, y, err := operands(a, b)
	if err != nil {
		return nil, err
	}
	z, err := toWord(d)
	if err != nil {
		return nil, err
	}
	if z.IsZero() {
		return nil, ErrDivideByZero
	}
	quotient, overflow := new(uint256.Int).MulDivOverflow(x, y, z)
	if overflow {
		return nil, ErrOverflow
	}
	return quotient.ToBig(), nil
}

// Sqrt returns the floor of the square root of a.
func Sqrt(a *big.Int) (*big.Int, error) {
	x, err := toWord(a)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Sqrt(x).ToBig(), nil
}

func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// CloneBigInt returns a copy of v, treating nil as zero.
func CloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
