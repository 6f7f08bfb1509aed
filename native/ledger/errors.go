package ledger

import coreerrors "finerp/core/errors"

var (
	ErrAlreadyInitialized    = coreerrors.StateMachine("ledger: already initialized")
	ErrNotInitialized        = coreerrors.StateMachine("ledger: not initialized")
	ErrContractPaused        = coreerrors.StateMachine("ledger: contract paused")
	ErrNotPaused             = coreerrors.StateMachine("ledger: contract not paused")
	ErrExceedsMaxSupply      = coreerrors.Invariant("ledger: exceeds max supply")
	ErrInsufficientBalance   = coreerrors.Invariant("ledger: insufficient balance")
	ErrInsufficientAllowance = coreerrors.Invariant("ledger: insufficient allowance")
	ErrZeroAddress           = coreerrors.Validation("ledger: zero address")
	ErrInvalidConfig         = coreerrors.Validation("ledger: invalid token config")
)
