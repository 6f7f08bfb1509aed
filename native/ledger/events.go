package ledger

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"finerp/core/types"
	nativecommon "finerp/native/common"
)

const (
	EventTypeTransfer = "ledger.transfer"
	EventTypeMint     = "ledger.mint"
	EventTypeBurn     = "ledger.burn"
	EventTypeApproval = "ledger.approval"
	EventTypePaused   = "ledger.paused"
	EventTypeUnpaused = "ledger.unpaused"
)

var ledgerABI = nativecommon.MustParseABI(`[
  {"type":"event","name":"Transfer","inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"Approval","inputs":[
    {"name":"owner","type":"address","indexed":true},
    {"name":"spender","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"Paused","inputs":[
    {"name":"account","type":"address","indexed":false}]},
  {"type":"event","name":"Unpaused","inputs":[
    {"name":"account","type":"address","indexed":false}]}
]`)

// balanceChange captures an account balance around a mutation so indexers can
// rebuild balances from the event stream alone.
type balanceChange struct {
	account [20]byte
	before  *big.Int
	after   *big.Int
}

func (e *Engine) transferEvent(eventType string, from, to balanceChange, amount *big.Int, supplyBefore, supplyAfter *big.Int) (*types.Event, error) {
	log, err := nativecommon.EncodeLog(ledgerABI, e.address, "Transfer",
		ethcommon.Address(from.account), ethcommon.Address(to.account), amount)
	if err != nil {
		return nil, err
	}
	attrs := map[string]string{
		"token":  nativecommon.AddressAttr(e.address),
		"from":   nativecommon.AddressAttr(from.account),
		"to":     nativecommon.AddressAttr(to.account),
		"amount": amount.String(),
	}
	if from.before != nil {
		attrs["fromBalanceBefore"] = from.before.String()
		attrs["fromBalanceAfter"] = from.after.String()
	}
	if to.before != nil {
		attrs["toBalanceBefore"] = to.before.String()
		attrs["toBalanceAfter"] = to.after.String()
	}
	if supplyBefore != nil {
		attrs["supplyBefore"] = supplyBefore.String()
		attrs["supplyAfter"] = supplyAfter.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs, Log: log}, nil
}

func (e *Engine) approvalEvent(owner, spender [20]byte, before, after *big.Int) (*types.Event, error) {
	log, err := nativecommon.EncodeLog(ledgerABI, e.address, "Approval",
		ethcommon.Address(owner), ethcommon.Address(spender), after)
	if err != nil {
		return nil, err
	}
	return &types.Event{
		Type: EventTypeApproval,
		Attributes: map[string]string{
			"token":           nativecommon.AddressAttr(e.address),
			"owner":           nativecommon.AddressAttr(owner),
			"spender":         nativecommon.AddressAttr(spender),
			"allowanceBefore": before.String(),
			"allowanceAfter":  after.String(),
		},
		Log: log,
	}, nil
}

func (e *Engine) pauseEvent(paused bool, account [20]byte, reason string) (*types.Event, error) {
	name, eventType := "Unpaused", EventTypeUnpaused
	if paused {
		name, eventType = "Paused", EventTypePaused
	}
	log, err := nativecommon.EncodeLog(ledgerABI, e.address, name, ethcommon.Address(account))
	if err != nil {
		return nil, err
	}
	attrs := map[string]string{
		"token":   nativecommon.AddressAttr(e.address),
		"account": nativecommon.AddressAttr(account),
	}
	if reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: eventType, Attributes: attrs, Log: log}, nil
}
