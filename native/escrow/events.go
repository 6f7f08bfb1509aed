package escrow

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"finerp/core/types"
	nativecommon "finerp/native/common"
)

const (
	EventTypeProjectFunded    = "escrow.project.funded"
	EventTypeProjectCancelled = "escrow.project.cancelled"
	EventTypeProjectCompleted = "escrow.project.completed"
	EventTypeTaskAllocated    = "escrow.task.allocated"
	EventTypeTaskStarted      = "escrow.task.started"
	EventTypeTaskCompleted    = "escrow.task.completed"
	EventTypeTaskCancelled    = "escrow.task.cancelled"
	EventTypePaymentApproved  = "escrow.payment.approved"
	EventTypeTaskPaid         = "escrow.task.paid"
	EventTypeRefundRequested  = "escrow.refund.requested"
	EventTypeRefundProcessed  = "escrow.refund.processed"
)

// Field order and indexing of these events are consumed by off-chain
// indexers and must not change.
var escrowABI = nativecommon.MustParseABI(`[
  {"type":"event","name":"ProjectFunded","inputs":[
    {"name":"projectId","type":"uint256","indexed":true},
    {"name":"employer","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"TaskAllocated","inputs":[
    {"name":"taskId","type":"uint256","indexed":true},
    {"name":"projectId","type":"uint256","indexed":true},
    {"name":"worker","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"TaskStarted","inputs":[
    {"name":"taskId","type":"uint256","indexed":true},
    {"name":"worker","type":"address","indexed":true}]},
  {"type":"event","name":"TaskCompleted","inputs":[
    {"name":"taskId","type":"uint256","indexed":true},
    {"name":"worker","type":"address","indexed":true},
    {"name":"completedAt","type":"uint256","indexed":false}]},
  {"type":"event","name":"TaskCancelled","inputs":[
    {"name":"taskId","type":"uint256","indexed":true},
    {"name":"projectId","type":"uint256","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"PaymentApproved","inputs":[
    {"name":"taskId","type":"uint256","indexed":true},
    {"name":"approver","type":"address","indexed":true},
    {"name":"approvalCount","type":"uint256","indexed":false}]},
  {"type":"event","name":"TaskPaid","inputs":[
    {"name":"taskId","type":"uint256","indexed":true},
    {"name":"worker","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"RefundRequested","inputs":[
    {"name":"projectId","type":"uint256","indexed":true},
    {"name":"employer","type":"address","indexed":true},
    {"name":"requestedAt","type":"uint256","indexed":false}]},
  {"type":"event","name":"RefundProcessed","inputs":[
    {"name":"projectId","type":"uint256","indexed":true},
    {"name":"employer","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"ProjectCancelled","inputs":[
    {"name":"projectId","type":"uint256","indexed":true},
    {"name":"refunded","type":"uint256","indexed":false}]},
  {"type":"event","name":"ProjectCompleted","inputs":[
    {"name":"projectId","type":"uint256","indexed":true}]}
]`)

// EventID returns topic zero of the named escrow log, or the zero hash.
func EventID(name string) ethcommon.Hash {
	return escrowABI.Events[name].ID
}

func u256(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func (e *Engine) event(eventType, logName string, attrs map[string]string, values ...interface{}) error {
	log, err := nativecommon.EncodeLog(escrowABI, e.address, logName, values...)
	if err != nil {
		return err
	}
	attrs["contract"] = nativecommon.AddressAttr(e.address)
	e.emit(&types.Event{Type: eventType, Attributes: attrs, Log: log})
	return nil
}

func projectAttrs(p *Project) map[string]string {
	return map[string]string{
		"projectId":      strconv.FormatUint(p.ID, 10),
		"employer":       nativecommon.AddressAttr(p.Employer),
		"totalFunded":    p.TotalFunded.String(),
		"totalAllocated": p.TotalAllocated.String(),
		"totalReleased":  p.TotalReleased.String(),
		"status":         p.Status.String(),
	}
}

func taskAttrs(t *Task) map[string]string {
	return map[string]string{
		"taskId":    strconv.FormatUint(t.ID, 10),
		"projectId": strconv.FormatUint(t.ProjectID, 10),
		"worker":    nativecommon.AddressAttr(t.Worker),
		"amount":    t.Amount.String(),
		"status":    t.Status.String(),
	}
}

func (e *Engine) emitProjectFunded(p *Project) error {
	return e.event(EventTypeProjectFunded, "ProjectFunded", projectAttrs(p),
		u256(p.ID), ethcommon.Address(p.Employer), p.TotalFunded)
}

func (e *Engine) emitTaskAllocated(t *Task) error {
	return e.event(EventTypeTaskAllocated, "TaskAllocated", taskAttrs(t),
		u256(t.ID), u256(t.ProjectID), ethcommon.Address(t.Worker), t.Amount)
}

func (e *Engine) emitTaskStarted(t *Task) error {
	return e.event(EventTypeTaskStarted, "TaskStarted", taskAttrs(t),
		u256(t.ID), ethcommon.Address(t.Worker))
}

func (e *Engine) emitTaskCompleted(t *Task) error {
	attrs := taskAttrs(t)
	attrs["completedAt"] = strconv.FormatUint(t.CompletedAt, 10)
	return e.event(EventTypeTaskCompleted, "TaskCompleted", attrs,
		u256(t.ID), ethcommon.Address(t.Worker), u256(t.CompletedAt))
}

func (e *Engine) emitTaskCancelled(t *Task) error {
	return e.event(EventTypeTaskCancelled, "TaskCancelled", taskAttrs(t),
		u256(t.ID), u256(t.ProjectID), t.Amount)
}

func (e *Engine) emitPaymentApproved(t *Task, approver [20]byte) error {
	attrs := taskAttrs(t)
	attrs["approver"] = nativecommon.AddressAttr(approver)
	attrs["approvalCount"] = strconv.FormatUint(t.ApprovalCount, 10)
	return e.event(EventTypePaymentApproved, "PaymentApproved", attrs,
		u256(t.ID), ethcommon.Address(approver), u256(t.ApprovalCount))
}

func (e *Engine) emitTaskPaid(t *Task) error {
	return e.event(EventTypeTaskPaid, "TaskPaid", taskAttrs(t),
		u256(t.ID), ethcommon.Address(t.Worker), t.Amount)
}

func (e *Engine) emitRefundRequested(p *Project) error {
	attrs := projectAttrs(p)
	attrs["requestedAt"] = strconv.FormatUint(p.RefundRequestedAt, 10)
	return e.event(EventTypeRefundRequested, "RefundRequested", attrs,
		u256(p.ID), ethcommon.Address(p.Employer), u256(p.RefundRequestedAt))
}

func (e *Engine) emitRefundProcessed(p *Project, amount *big.Int) error {
	attrs := projectAttrs(p)
	attrs["amount"] = amount.String()
	return e.event(EventTypeRefundProcessed, "RefundProcessed", attrs,
		u256(p.ID), ethcommon.Address(p.Employer), amount)
}

func (e *Engine) emitProjectCancelled(p *Project, refunded *big.Int) error {
	attrs := projectAttrs(p)
	attrs["refunded"] = refunded.String()
	return e.event(EventTypeProjectCancelled, "ProjectCancelled", attrs, u256(p.ID), refunded)
}

func (e *Engine) emitProjectCompleted(p *Project) error {
	return e.event(EventTypeProjectCompleted, "ProjectCompleted", projectAttrs(p), u256(p.ID))
}
