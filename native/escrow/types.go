package escrow

import (
	"math/big"

	"finerp/native/ledger"
)

// TaskStatus values are part of the external interface; getTask reports them
// as their numeric form.
type TaskStatus uint8

const (
	TaskPending TaskStatus = iota
	TaskInProgress
	TaskCompleted
	TaskPaid
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "PENDING"
	case TaskInProgress:
		return "IN_PROGRESS"
	case TaskCompleted:
		return "COMPLETED"
	case TaskPaid:
		return "PAID"
	case TaskCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Open reports whether the task still holds a claim that may be cancelled.
func (s TaskStatus) Open() bool {
	return s == TaskPending || s == TaskInProgress
}

// Terminal reports whether the task can no longer move funds.
func (s TaskStatus) Terminal() bool {
	return s == TaskPaid || s == TaskCancelled
}

type ProjectStatus uint8

const (
	ProjectActive ProjectStatus = iota
	ProjectCompleted
	ProjectCancelled
)

func (s ProjectStatus) String() string {
	switch s {
	case ProjectActive:
		return "ACTIVE"
	case ProjectCompleted:
		return "COMPLETED"
	case ProjectCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

const (
	// RequiredApprovals is the approver quorum for payments above the threshold.
	RequiredApprovals uint64 = 2
	// RefundTimelock is the delay between requestRefund and processRefund.
	RefundTimelock uint64 = 86_400
)

// ApprovalThreshold is the largest task amount released without approvals.
var ApprovalThreshold = ledger.Units(10_000)

// Project tracks one employer deposit. RefundRequestedAt is zero when no
// refund is pending.
type Project struct {
	ID                uint64
	Employer          [20]byte
	TotalFunded       *big.Int
	TotalAllocated    *big.Int
	TotalReleased     *big.Int
	TotalRefunded     *big.Int
	Status            ProjectStatus
	CreatedAt         uint64
	RefundRequestedAt uint64
	OpenTasks         uint64
}

// Allocatable is the pool new tasks may draw from.
func (p *Project) Allocatable() *big.Int {
	return new(big.Int).Sub(p.TotalFunded, p.TotalAllocated)
}

// Custody is what the escrow still holds for this project.
func (p *Project) Custody() *big.Int {
	return new(big.Int).Sub(p.TotalFunded, p.TotalReleased)
}

func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalFunded = cloneBigInt(p.TotalFunded)
	clone.TotalAllocated = cloneBigInt(p.TotalAllocated)
	clone.TotalReleased = cloneBigInt(p.TotalReleased)
	clone.TotalRefunded = cloneBigInt(p.TotalRefunded)
	return &clone
}

type Task struct {
	ID            uint64
	ProjectID     uint64
	Worker        [20]byte
	Amount        *big.Int
	Status        TaskStatus
	CreatedAt     uint64
	CompletedAt   uint64
	ApprovalCount uint64
}

func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Amount = cloneBigInt(t.Amount)
	return &clone
}

// Settings are fixed at initialization.
type Settings struct {
	Token             [20]byte
	ApprovalThreshold *big.Int
	RequiredApprovals uint64
	RefundTimelock    uint64
	NextProjectID     uint64
	NextTaskID        uint64
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
