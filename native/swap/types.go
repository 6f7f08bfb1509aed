package swap

import (
	"bytes"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// FeeNumerator over FeeDenominator is the share of amountIn that trades;
	// the remaining 0.3% stays in the pool for liquidity providers.
	FeeNumerator   = 997
	FeeDenominator = 1000
)

// MinimumLiquidity is locked forever on the first deposit so a seeded pool
// never returns to empty reserves.
var MinimumLiquidity = big.NewInt(1000)

// Pool is a constant-product pair. Token0 sorts below Token1.
type Pool struct {
	Token0         [20]byte
	Token1         [20]byte
	Reserve0       *big.Int
	Reserve1       *big.Int
	TotalLiquidity *big.Int
	CreatedAt      uint64
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Reserve0 = new(big.Int).Set(p.Reserve0)
	clone.Reserve1 = new(big.Int).Set(p.Reserve1)
	clone.TotalLiquidity = new(big.Int).Set(p.TotalLiquidity)
	return &clone
}

// Reserves returns the reserves ordered as (tokenA, tokenB).
func (p *Pool) Reserves(tokenA [20]byte) (*big.Int, *big.Int) {
	if tokenA == p.Token0 {
		return new(big.Int).Set(p.Reserve0), new(big.Int).Set(p.Reserve1)
	}
	return new(big.Int).Set(p.Reserve1), new(big.Int).Set(p.Reserve0)
}

func (p *Pool) setReserves(tokenA [20]byte, reserveA, reserveB *big.Int) {
	if tokenA == p.Token0 {
		p.Reserve0, p.Reserve1 = reserveA, reserveB
		return
	}
	p.Reserve0, p.Reserve1 = reserveB, reserveA
}

// SortTokens orders a pair canonically by byte value.
func SortTokens(tokenA, tokenB [20]byte) ([20]byte, [20]byte, error) {
	if tokenA == tokenB {
		return [20]byte{}, [20]byte{}, ErrIdenticalTokens
	}
	if tokenA == ([20]byte{}) || tokenB == ([20]byte{}) {
		return [20]byte{}, [20]byte{}, ErrZeroAddress
	}
	if bytes.Compare(tokenA[:], tokenB[:]) < 0 {
		return tokenA, tokenB, nil
	}
	return tokenB, tokenA, nil
}

// PoolID is keccak256(token0 || token1) of the sorted pair, so both
// orderings name the same pool.
func PoolID(tokenA, tokenB [20]byte) (ethcommon.Hash, error) {
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	return ethcommon.BytesToHash(ethcrypto.Keccak256(token0[:], token1[:])), nil
}
