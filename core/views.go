package core

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"finerp/native/escrow"
	"finerp/native/ledger"
	"finerp/native/multisig"
	"finerp/native/swap"
)

type TokenMetadata struct {
	Address     Address `json:"address"`
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	Decimals    uint8   `json:"decimals"`
	MaxSupply   Amount  `json:"maxSupply"`
	TotalSupply Amount  `json:"totalSupply"`
	Paused      bool    `json:"paused"`
	PauseReason string  `json:"pauseReason,omitempty"`
}

func tokenMetadataView(addr [20]byte, m *ledger.Metadata) *TokenMetadata {
	return &TokenMetadata{
		Address:     addr,
		Name:        m.Name,
		Symbol:      m.Symbol,
		Decimals:    m.Decimals,
		MaxSupply:   NewAmount(m.MaxSupply),
		TotalSupply: NewAmount(m.TotalSupply),
		Paused:      m.Paused,
		PauseReason: m.PauseReason,
	}
}

type ProjectView struct {
	ID                uint64  `json:"id"`
	Employer          Address `json:"employer"`
	TotalFunded       Amount  `json:"totalFunded"`
	TotalAllocated    Amount  `json:"totalAllocated"`
	TotalReleased     Amount  `json:"totalReleased"`
	TotalRefunded     Amount  `json:"totalRefunded"`
	Allocatable       Amount  `json:"allocatable"`
	Custody           Amount  `json:"custody"`
	Status            uint8   `json:"status"`
	StatusName        string  `json:"statusName"`
	CreatedAt         uint64  `json:"createdAt"`
	RefundRequestedAt uint64  `json:"refundRequestedAt"`
	OpenTasks         uint64  `json:"openTasks"`
}

func projectView(p *escrow.Project) *ProjectView {
	return &ProjectView{
		ID:                p.ID,
		Employer:          p.Employer,
		TotalFunded:       NewAmount(p.TotalFunded),
		TotalAllocated:    NewAmount(p.TotalAllocated),
		TotalReleased:     NewAmount(p.TotalReleased),
		TotalRefunded:     NewAmount(p.TotalRefunded),
		Allocatable:       NewAmount(p.Allocatable()),
		Custody:           NewAmount(p.Custody()),
		Status:            uint8(p.Status),
		StatusName:        p.Status.String(),
		CreatedAt:         p.CreatedAt,
		RefundRequestedAt: p.RefundRequestedAt,
		OpenTasks:         p.OpenTasks,
	}
}

type TaskView struct {
	ID            uint64  `json:"id"`
	ProjectID     uint64  `json:"projectId"`
	Worker        Address `json:"worker"`
	Amount        Amount  `json:"amount"`
	Status        uint8   `json:"status"`
	StatusName    string  `json:"statusName"`
	CreatedAt     uint64  `json:"createdAt"`
	CompletedAt   uint64  `json:"completedAt"`
	ApprovalCount uint64  `json:"approvalCount"`
}

func taskView(t *escrow.Task) *TaskView {
	return &TaskView{
		ID:            t.ID,
		ProjectID:     t.ProjectID,
		Worker:        t.Worker,
		Amount:        NewAmount(t.Amount),
		Status:        uint8(t.Status),
		StatusName:    t.Status.String(),
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
		ApprovalCount: t.ApprovalCount,
	}
}

type EscrowSettingsView struct {
	Token             Address `json:"token"`
	ApprovalThreshold Amount  `json:"approvalThreshold"`
	RequiredApprovals uint64  `json:"requiredApprovals"`
	RefundTimelock    uint64  `json:"refundTimelock"`
	ProjectCount      uint64  `json:"projectCount"`
	TaskCount         uint64  `json:"taskCount"`
}

func escrowSettingsView(s *escrow.Settings) *EscrowSettingsView {
	return &EscrowSettingsView{
		Token:             s.Token,
		ApprovalThreshold: NewAmount(s.ApprovalThreshold),
		RequiredApprovals: s.RequiredApprovals,
		RefundTimelock:    s.RefundTimelock,
		ProjectCount:      countFromNext(s.NextProjectID),
		TaskCount:         countFromNext(s.NextTaskID),
	}
}

// Escrow ids are 1-based, so the next id is one past the count.
func countFromNext(next uint64) uint64 {
	if next == 0 {
		return 0
	}
	return next - 1
}

type MultisigTxView struct {
	ID            uint64        `json:"id"`
	Destination   Address       `json:"destination"`
	Value         Amount        `json:"value"`
	Data          hexutil.Bytes `json:"data"`
	Executed      bool          `json:"executed"`
	Submitter     Address       `json:"submitter"`
	SubmittedAt   uint64        `json:"submittedAt"`
	Confirmations []Address     `json:"confirmations"`
}

func multisigTxView(tx *multisig.Transaction, confirmers [][20]byte) *MultisigTxView {
	return &MultisigTxView{
		ID:            tx.ID,
		Destination:   tx.Destination,
		Value:         NewAmount(tx.Value),
		Data:          hexutil.Bytes(tx.Data),
		Executed:      tx.Executed,
		Submitter:     tx.Submitter,
		SubmittedAt:   tx.SubmittedAt,
		Confirmations: addressList(confirmers),
	}
}

type PoolView struct {
	ID             ethcommon.Hash `json:"id"`
	Token0         Address        `json:"token0"`
	Token1         Address        `json:"token1"`
	Reserve0       Amount         `json:"reserve0"`
	Reserve1       Amount         `json:"reserve1"`
	TotalLiquidity Amount         `json:"totalLiquidity"`
	CreatedAt      uint64         `json:"createdAt"`
}

func poolView(id ethcommon.Hash, p *swap.Pool) *PoolView {
	return &PoolView{
		ID:             id,
		Token0:         p.Token0,
		Token1:         p.Token1,
		Reserve0:       NewAmount(p.Reserve0),
		Reserve1:       NewAmount(p.Reserve1),
		TotalLiquidity: NewAmount(p.TotalLiquidity),
		CreatedAt:      p.CreatedAt,
	}
}

func addressList(raw [][20]byte) []Address {
	out := make([]Address, 0, len(raw))
	for _, addr := range raw {
		out = append(out, addr)
	}
	return out
}
