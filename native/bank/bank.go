package bank

import (
	"errors"
	"fmt"
	"math/big"

	coreerrors "finerp/core/errors"
	"finerp/core/events"
	"finerp/core/types"
	nativecommon "finerp/native/common"
)

const (
	EventTypeTransfer = "bank.transfer"
	EventTypeCredit   = "bank.credit"
)

var (
	ErrInsufficientBalance = coreerrors.Invariant("bank: insufficient balance")
	ErrZeroAddress         = coreerrors.Validation("bank: zero address")
	errNilState            = errors.New("bank: state not configured")
)

type store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Bank keeps the native coin balances carried as transaction value.
type Bank struct {
	state   store
	emitter events.Emitter
}

func New(state store, emitter events.Emitter) *Bank {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Bank{state: state, emitter: emitter}
}

func balanceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("bank/balance/%x", addr))
}

func (b *Bank) Balance(addr [20]byte) (*big.Int, error) {
	if b.state == nil {
		return nil, errNilState
	}
	var balance big.Int
	ok, err := b.state.KVGet(balanceKey(addr), &balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return &balance, nil
}

func (b *Bank) write(addr [20]byte, balance *big.Int) error {
	if balance.Sign() == 0 {
		return b.state.KVDelete(balanceKey(addr))
	}
	return b.state.KVPut(balanceKey(addr), balance)
}

// Credit mints native value into addr. Only genesis and dev faucets call it.
func (b *Bank) Credit(addr [20]byte, amount *big.Int) error {
	if addr == ([20]byte{}) {
		return ErrZeroAddress
	}
	if err := nativecommon.CheckAmount(amount); err != nil {
		return err
	}
	current, err := b.Balance(addr)
	if err != nil {
		return err
	}
	updated, err := nativecommon.Add(current, amount)
	if err != nil {
		return err
	}
	if err := b.write(addr, updated); err != nil {
		return err
	}
	b.emitter.Emit(events.Wrap{Evt: &types.Event{
		Type: EventTypeCredit,
		Attributes: map[string]string{
			"account": nativecommon.AddressAttr(addr),
			"amount":  amount.String(),
			"balance": updated.String(),
		},
	}})
	return nil
}

// Transfer moves native value between accounts. A zero amount is a no-op.
func (b *Bank) Transfer(from, to [20]byte, amount *big.Int) error {
	if to == ([20]byte{}) {
		return ErrZeroAddress
	}
	if err := nativecommon.CheckAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := b.Balance(from)
	if err != nil {
		return err
	}
	remaining, err := nativecommon.Sub(fromBalance, amount)
	if err != nil {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBalance, amount)
	}
	if err := b.write(from, remaining); err != nil {
		return err
	}
	toBalance, err := b.Balance(to)
	if err != nil {
		return err
	}
	credited, err := nativecommon.Add(toBalance, amount)
	if err != nil {
		return err
	}
	if err := b.write(to, credited); err != nil {
		return err
	}
	b.emitter.Emit(events.Wrap{Evt: &types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"from":   nativecommon.AddressAttr(from),
			"to":     nativecommon.AddressAttr(to),
			"amount": amount.String(),
		},
	}})
	return nil
}
