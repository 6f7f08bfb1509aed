package swap

import (
	"math/big"

	nativecommon "finerp/native/common"
)

var (
	feeNumerator   = big.NewInt(FeeNumerator)
	feeDenominator = big.NewInt(FeeDenominator)
)

// AmountOut prices amountIn against the reserves after the 0.3% fee:
//
//	out = in*997*rOut / (rIn*1000 + in*997)
func AmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee, err := nativecommon.Mul(amountIn, feeNumerator)
	if err != nil {
		return nil, err
	}
	scaledReserve, err := nativecommon.Mul(reserveIn, feeDenominator)
	if err != nil {
		return nil, err
	}
	denominator, err := nativecommon.Add(scaledReserve, inWithFee)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(inWithFee, reserveOut, denominator)
}

// Quote returns the amount of the other token matching amountA at the
// current reserve ratio.
func Quote(amountA, reserveA, reserveB *big.Int) (*big.Int, error) {
	if amountA == nil || amountA.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if reserveA.Sign() <= 0 || reserveB.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	return nativecommon.MulDiv(amountA, reserveB, reserveA)
}

// optimalAmounts keeps a deposit at the pool ratio: whichever side is in
// excess is reduced so no value is donated to existing providers.
func optimalAmounts(desiredA, desiredB, reserveA, reserveB *big.Int) (*big.Int, *big.Int, error) {
	if reserveA.Sign() == 0 && reserveB.Sign() == 0 {
		return new(big.Int).Set(desiredA), new(big.Int).Set(desiredB), nil
	}
	optimalB, err := Quote(desiredA, reserveA, reserveB)
	if err != nil {
		return nil, nil, err
	}
	if optimalB.Cmp(desiredB) <= 0 {
		return new(big.Int).Set(desiredA), optimalB, nil
	}
	optimalA, err := Quote(desiredB, reserveB, reserveA)
	if err != nil {
		return nil, nil, err
	}
	return optimalA, new(big.Int).Set(desiredB), nil
}

// mintedLiquidity returns the shares for a deposit. The first deposit mints
// sqrt(a*b) less MinimumLiquidity; later deposits mint the smaller of the
// two proportional shares.
func mintedLiquidity(amountA, amountB, reserveA, reserveB, total *big.Int) (*big.Int, error) {
	if total.Sign() == 0 {
		product, err := nativecommon.Mul(amountA, amountB)
		if err != nil {
			return nil, err
		}
		root, err := nativecommon.Sqrt(product)
		if err != nil {
			return nil, err
		}
		if root.Cmp(MinimumLiquidity) <= 0 {
			return nil, ErrInsufficientLiquidityMinted
		}
		return new(big.Int).Sub(root, MinimumLiquidity), nil
	}
	sharesA, err := nativecommon.MulDiv(amountA, total, reserveA)
	if err != nil {
		return nil, err
	}
	sharesB, err := nativecommon.MulDiv(amountB, total, reserveB)
	if err != nil {
		return nil, err
	}
	shares := nativecommon.Min(sharesA, sharesB)
	if shares.Sign() <= 0 {
		return nil, ErrInsufficientLiquidityMinted
	}
	return shares, nil
}
