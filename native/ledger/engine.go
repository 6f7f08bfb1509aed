package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"finerp/core/events"
	"finerp/core/types"
	"finerp/native/access"
	nativecommon "finerp/native/common"
)

var errNilState = errors.New("ledger engine: state not configured")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Engine is one capped-supply token instance living at address. Every
// mutating method takes the caller explicitly; authorization is checked before
// any state is touched.
type Engine struct {
	address [20]byte
	state   engineState
	emitter events.Emitter
}

func NewEngine(address [20]byte) *Engine {
	return &Engine{address: address, emitter: events.NoopEmitter{}}
}

func (e *Engine) Address() [20]byte { return e.address }

func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Wrap{Evt: evt})
}

// Roles exposes the token's role table.
func (e *Engine) Roles() *access.Controller {
	return access.NewController(e.state, e.address, e.emitter)
}

func (e *Engine) metaKey() []byte {
	return []byte(fmt.Sprintf("ledger/%x/meta", e.address))
}

func (e *Engine) balanceKey(account [20]byte) []byte {
	return []byte(fmt.Sprintf("ledger/%x/balance/%x", e.address, account))
}

func (e *Engine) allowanceKey(owner, spender [20]byte) []byte {
	return []byte(fmt.Sprintf("ledger/%x/allowance/%x/%x", e.address, owner, spender))
}

func (e *Engine) loadMeta() (*Metadata, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var meta Metadata
	ok, err := e.state.KVGet(e.metaKey(), &meta)
	if err != nil {
		return nil, err
	}
	if !ok || !meta.Initialized {
		return nil, ErrNotInitialized
	}
	return &meta, nil
}

func (e *Engine) storeMeta(meta *Metadata) error {
	return e.state.KVPut(e.metaKey(), meta)
}

func (e *Engine) readAmount(key []byte) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	value := new(big.Int)
	if _, err := e.state.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (e *Engine) writeAmount(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		return e.state.KVDelete(key)
	}
	return e.state.KVPut(key, value)
}

// Initialize mints the whole supply cap to admin and hands admin every role.
// It succeeds exactly once per instance.
func (e *Engine) Initialize(admin [20]byte, cfg Config) error {
	if e.state == nil {
		return errNilState
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	if admin == ([20]byte{}) {
		return ErrZeroAddress
	}
	if _, err := e.loadMeta(); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}
	meta := &Metadata{
		Name:        cfg.Name,
		Symbol:      cfg.Symbol,
		Decimals:    Decimals,
		MaxSupply:   new(big.Int).Set(cfg.MaxSupply),
		TotalSupply: big.NewInt(0),
		Initialized: true,
	}
	roles := e.Roles()
	for _, role := range []access.Role{access.DefaultAdminRole, access.MinterRole, access.PauserRole} {
		if err := roles.Setup(role, admin, admin); err != nil {
			return err
		}
	}
	return e.mint(meta, admin, cfg.MaxSupply)
}

func (e *Engine) Metadata() (*Metadata, error) { return e.loadMeta() }

func (e *Engine) TotalSupply() (*big.Int, error) {
	meta, err := e.loadMeta()
	if err != nil {
		return nil, err
	}
	return nativecommon.CloneBigInt(meta.TotalSupply), nil
}

func (e *Engine) Paused() (bool, error) {
	meta, err := e.loadMeta()
	if err != nil {
		return false, err
	}
	return meta.Paused, nil
}

func (e *Engine) BalanceOf(account [20]byte) (*big.Int, error) {
	return e.readAmount(e.balanceKey(account))
}

func (e *Engine) Allowance(owner, spender [20]byte) (*big.Int, error) {
	return e.readAmount(e.allowanceKey(owner, spender))
}

// Mint creates amount new base units for to. Requires MINTER.
func (e *Engine) Mint(caller, to [20]byte, amount *big.Int) error {
	meta, err := e.loadMeta()
	if err != nil {
		return err
	}
	if err := e.Roles().Require(access.MinterRole, caller); err != nil {
		return err
	}
	if meta.Paused {
		return ErrContractPaused
	}
	return e.mint(meta, to, amount)
}

func (e *Engine) mint(meta *Metadata, to [20]byte, amount *big.Int) error {
	if to == ([20]byte{}) {
		return ErrZeroAddress
	}
	if err := nativecommon.CheckAmount(amount); err != nil {
		return err
	}
	supplyAfter, err := nativecommon.Add(meta.TotalSupply, amount)
	if err != nil {
		return err
	}
	if supplyAfter.Cmp(meta.MaxSupply) > 0 {
		return ErrExceedsMaxSupply
	}
	before, err := e.BalanceOf(to)
	if err != nil {
		return err
	}
	after, err := nativecommon.Add(before, amount)
	if err != nil {
		return err
	}
	supplyBefore := nativecommon.CloneBigInt(meta.TotalSupply)
	meta.TotalSupply = supplyAfter
	if err := e.storeMeta(meta); err != nil {
		return err
	}
	if err := e.writeAmount(e.balanceKey(to), after); err != nil {
		return err
	}
	evt, err := e.transferEvent(EventTypeMint,
		balanceChange{},
		balanceChange{account: to, before: before, after: after},
		amount, supplyBefore, supplyAfter)
	if err != nil {
		return err
	}
	e.emit(evt)
	return nil
}

// Burn destroys amount of the caller's own balance.
func (e *Engine) Burn(caller [20]byte, amount *big.Int) error {
	meta, err := e.loadMeta()
	if err != nil {
		return err
	}
	if meta.Paused {
		return ErrContractPaused
	}
	return e.burn(meta, caller, amount)
}

// BurnFrom destroys amount of account's balance on behalf of a MINTER holder,
// consuming the allowance account granted to the caller.
func (e *Engine) BurnFrom(caller, account [20]byte, amount *big.Int) error {
	meta, err := e.loadMeta()
	if err != nil {
		return err
	}
	if err := e.Roles().Require(access.MinterRole, caller); err != nil {
		return err
	}
	if meta.Paused {
		return ErrContractPaused
	}
	if err := e.spendAllowance(account, caller, amount); err != nil {
		return err
	}
	return e.burn(meta, account, amount)
}

func (e *Engine) burn(meta *Metadata, account [20]byte, amount *big.Int) error {
	if err := nativecommon.CheckAmount(amount); err != nil {
		return err
	}
	before, err := e.BalanceOf(account)
	if err != nil {
		return err
	}
	if before.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	after, err := nativecommon.Sub(before, amount)
	if err != nil {
		return err
	}
	supplyBefore := nativecommon.CloneBigInt(meta.TotalSupply)
	supplyAfter, err := nativecommon.Sub(meta.TotalSupply, amount)
	if err != nil {
		return err
	}
	meta.TotalSupply = supplyAfter
	if err := e.storeMeta(meta); err != nil {
		return err
	}
	if err := e.writeAmount(e.balanceKey(account), after); err != nil {
		return err
	}
	evt, err := e.transferEvent(EventTypeBurn,
		balanceChange{account: account, before: before, after: after},
		balanceChange{},
		amount, supplyBefore, supplyAfter)
	if err != nil {
		return err
	}
	e.emit(evt)
	return nil
}

// Pause blocks every balance movement until Unpause. Requires PAUSER.
func (e *Engine) Pause(caller [20]byte, reason string) error {
	meta, err := e.loadMeta()
	if err != nil {
		return err
	}
	if err := e.Roles().Require(access.PauserRole, caller); err != nil {
		return err
	}
	if meta.Paused {
		return ErrContractPaused
	}
	meta.Paused = true
	meta.PauseReason = reason
	if err := e.storeMeta(meta); err != nil {
		return err
	}
	evt, err := e.pauseEvent(true, caller, reason)
	if err != nil {
		return err
	}
	e.emit(evt)
	return nil
}

func (e *Engine) Unpause(caller [20]byte) error {
	meta, err := e.loadMeta()
	if err != nil {
		return err
	}
	if err := e.Roles().Require(access.PauserRole, caller); err != nil {
		return err
	}
	if !meta.Paused {
		return ErrNotPaused
	}
	meta.Paused = false
	meta.PauseReason = ""
	if err := e.storeMeta(meta); err != nil {
		return err
	}
	evt, err := e.pauseEvent(false, caller, "")
	if err != nil {
		return err
	}
	e.emit(evt)
	return nil
}

// Transfer moves amount from the caller to to.
func (e *Engine) Transfer(caller, to [20]byte, amount *big.Int) error {
	meta, err := e.loadMeta()
	if err != nil {
		return err
	}
	if meta.Paused {
		return ErrContractPaused
	}
	return e.move(caller, to, amount)
}

// Approve sets the allowance spender may draw from owner. It stays available
// while the token is paused.
func (e *Engine) Approve(owner, spender [20]byte, amount *big.Int) error {
	if _, err := e.loadMeta(); err != nil {
		return err
	}
	if spender == ([20]byte{}) {
		return ErrZeroAddress
	}
	if err := nativecommon.CheckAmount(amount); err != nil {
		return err
	}
	before, err := e.Allowance(owner, spender)
	if err != nil {
		return err
	}
	after := nativecommon.CloneBigInt(amount)
	if err := e.writeAmount(e.allowanceKey(owner, spender), after); err != nil {
		return err
	}
	evt, err := e.approvalEvent(owner, spender, before, after)
	if err != nil {
		return err
	}
	e.emit(evt)
	return nil
}

// TransferFrom moves amount from from to to using the caller's allowance.
func (e *Engine) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	meta, err := e.loadMeta()
	if err != nil {
		return err
	}
	if meta.Paused {
		return ErrContractPaused
	}
	if err := nativecommon.CheckAmount(amount); err != nil {
		return err
	}
	balance, err := e.BalanceOf(from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.spendAllowance(from, spender, amount); err != nil {
		return err
	}
	return e.move(from, to, amount)
}

func (e *Engine) spendAllowance(owner, spender [20]byte, amount *big.Int) error {
	current, err := e.Allowance(owner, spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	remaining, err := nativecommon.Sub(current, amount)
	if err != nil {
		return err
	}
	return e.writeAmount(e.allowanceKey(owner, spender), remaining)
}

func (e *Engine) move(from, to [20]byte, amount *big.Int) error {
	if from == ([20]byte{}) || to == ([20]byte{}) {
		return ErrZeroAddress
	}
	if err := nativecommon.CheckAmount(amount); err != nil {
		return err
	}
	fromBefore, err := e.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBefore.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAfter, err := nativecommon.Sub(fromBefore, amount)
	if err != nil {
		return err
	}
	if err := e.writeAmount(e.balanceKey(from), fromAfter); err != nil {
		return err
	}
	toBefore, err := e.BalanceOf(to)
	if err != nil {
		return err
	}
	toAfter, err := nativecommon.Add(toBefore, amount)
	if err != nil {
		return err
	}
	if err := e.writeAmount(e.balanceKey(to), toAfter); err != nil {
		return err
	}
	if from == to {
		fromAfter = toAfter
	}
	evt, err := e.transferEvent(EventTypeTransfer,
		balanceChange{account: from, before: fromBefore, after: fromAfter},
		balanceChange{account: to, before: toBefore, after: toAfter},
		amount, nil, nil)
	if err != nil {
		return err
	}
	e.emit(evt)
	return nil
}
