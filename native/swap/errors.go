package swap

import (
	"errors"

	coreerrors "finerp/core/errors"
)

var (
	errNilState  = errors.New("swap: state not configured")
	errNilTokens = errors.New("swap: token resolver not configured")

	ErrAlreadyInitialized = coreerrors.StateMachine("swap: already initialized")
	ErrNotInitialized     = coreerrors.StateMachine("swap: not initialized")
	ErrIdenticalTokens    = coreerrors.Validation("swap: identical tokens")
	ErrZeroAddress        = coreerrors.Validation("swap: zero address")
	ErrInvalidAmount      = coreerrors.Validation("swap: amount must be positive")
	ErrPoolNotFound       = coreerrors.Validation("swap: pool not found")
	ErrContractPaused     = coreerrors.StateMachine("swap: paused")
	ErrNotPaused          = coreerrors.StateMachine("swap: not paused")

	ErrInsufficientLiquidity       = coreerrors.Invariant("swap: insufficient liquidity")
	ErrInsufficientLiquidityMinted = coreerrors.Invariant("swap: insufficient liquidity minted")
	ErrInsufficientLiquidityBurned = coreerrors.Invariant("swap: insufficient liquidity burned")
	ErrInsufficientShares          = coreerrors.Invariant("swap: insufficient liquidity shares")
	ErrInsufficientOutput          = coreerrors.Invariant("swap: insufficient output amount")
	ErrSlippage                    = coreerrors.Invariant("swap: slippage exceeded")
	ErrInvariantViolated           = coreerrors.Invariant("swap: constant product decreased")
)
