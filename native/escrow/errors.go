package escrow

import (
	"errors"

	coreerrors "finerp/core/errors"
)

var (
	errNilState         = errors.New("escrow engine: state not configured")
	errNilTokenResolver = errors.New("escrow engine: token resolver not configured")

	ErrAlreadyInitialized     = coreerrors.StateMachine("escrow: already initialized")
	ErrNotInitialized         = coreerrors.StateMachine("escrow: not initialized")
	ErrProjectNotFound        = coreerrors.Validation("escrow: project not found")
	ErrTaskNotFound           = coreerrors.Validation("escrow: task not found")
	ErrZeroAddress            = coreerrors.Validation("escrow: zero address")
	ErrInvalidAmount          = coreerrors.Validation("escrow: amount must be positive")
	ErrNotEmployer            = coreerrors.Authorization("escrow: caller is not the project employer")
	ErrNotWorker              = coreerrors.Authorization("escrow: caller is not the task worker")
	ErrInsufficientFunds      = coreerrors.Invariant("escrow: insufficient project funds")
	ErrAlreadyApproved        = coreerrors.Invariant("escrow: payment already approved by caller")
	ErrTaskAlreadyPaid        = coreerrors.Invariant("escrow: task already paid")
	ErrInvalidTaskStatus      = coreerrors.StateMachine("escrow: invalid task status")
	ErrTaskNotCompleted       = coreerrors.StateMachine("escrow: task not completed")
	ErrProjectNotActive       = coreerrors.StateMachine("escrow: project not active")
	ErrRefundNotRequested     = coreerrors.StateMachine("escrow: refund not requested")
	ErrRefundAlreadyRequested = coreerrors.Timing("escrow: refund already requested")
	ErrTimelockNotExpired     = coreerrors.Timing("escrow: timelock not expired")
)
