package multisig

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	coreerrors "finerp/core/errors"
	"finerp/core/events"
	"finerp/core/types"
	"finerp/native/access"
	"finerp/native/approvals"
	nativecommon "finerp/native/common"
)

// ModuleName keys the wallet schema version in state.
const ModuleName = "multisig"

const MaxOwners = 50

var (
	errNilState  = errors.New("multisig: state not configured")
	errNilCaller = errors.New("multisig: call router not configured")

	ErrAlreadyInitialized = coreerrors.StateMachine("multisig: already initialized")
	ErrNotInitialized     = coreerrors.StateMachine("multisig: not initialized")
	ErrNotOwner           = coreerrors.Authorization("multisig: caller is not an owner")
	ErrOnlyWallet         = coreerrors.Authorization("multisig: only the wallet itself may call")
	ErrInvalidOwners      = coreerrors.Validation("multisig: invalid owner set")
	ErrInvalidRequirement = coreerrors.Validation("multisig: invalid requirement")
	ErrInvalidDestination = coreerrors.Validation("multisig: invalid destination")
	ErrTxNotFound         = coreerrors.Validation("multisig: transaction not found")
	ErrAlreadyConfirmed   = coreerrors.Invariant("multisig: already confirmed")
	ErrNotConfirmed       = coreerrors.StateMachine("multisig: not confirmed")
	ErrAlreadyExecuted    = coreerrors.StateMachine("multisig: transaction already executed")
	ErrCannotExecute      = coreerrors.Invariant("multisig: cannot execute tx")
	ErrExecutionFailed    = coreerrors.StateMachine("multisig: inner call failed")
)

const (
	EventTypeSubmission   = "multisig.submission"
	EventTypeConfirmation = "multisig.confirmation"
	EventTypeRevocation   = "multisig.revocation"
	EventTypeExecution    = "multisig.execution"
	EventTypeDeposit      = "multisig.deposit"
	EventTypeOwnerAdded   = "multisig.owner_added"
	EventTypeOwnerRemoved = "multisig.owner_removed"
	EventTypeRequirement  = "multisig.requirement_changed"
)

var walletABI = nativecommon.MustParseABI(`[
  {"type":"event","name":"Submission","inputs":[{"name":"transactionId","type":"uint256","indexed":true}]},
  {"type":"event","name":"Confirmation","inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"transactionId","type":"uint256","indexed":true}]},
  {"type":"event","name":"Revocation","inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"transactionId","type":"uint256","indexed":true}]},
  {"type":"event","name":"Execution","inputs":[{"name":"transactionId","type":"uint256","indexed":true}]},
  {"type":"event","name":"Deposit","inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"OwnerAddition","inputs":[{"name":"owner","type":"address","indexed":true}]},
  {"type":"event","name":"OwnerRemoval","inputs":[{"name":"owner","type":"address","indexed":true}]},
  {"type":"event","name":"RequirementChange","inputs":[{"name":"required","type":"uint256","indexed":false}]}
]`)

type walletState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Snapshot() int
	RevertToSnapshot(id int) error
	DiscardSnapshot(id int)
}

// Caller performs the nested call of an executed transaction with the wallet
// as sender. The chain moves value out of the wallet's native balance.
type Caller interface {
	Call(from, to [20]byte, value *big.Int, data []byte) ([]byte, error)
}

// Transaction is a proposal waiting for owner confirmations.
type Transaction struct {
	ID          uint64
	Destination [20]byte
	Value       *big.Int
	Data        []byte
	Executed    bool
	Submitter   [20]byte
	SubmittedAt uint64
}

// Settings is the owner set and quorum of the wallet.
type Settings struct {
	Owners   [][20]byte
	Required uint64
	NextTxID uint64
}

func (s *Settings) isOwner(addr [20]byte) bool {
	for _, owner := range s.Owners {
		if owner == addr {
			return true
		}
	}
	return false
}

// Wallet is an M-of-N owner wallet. Submitting never confirms; every owner
// confirms explicitly and any owner may execute once the quorum is met.
type Wallet struct {
	address [20]byte
	state   walletState
	emitter events.Emitter
	caller  Caller
	nowFn   func() int64
	guard   nativecommon.ReentrancyGuard
}

func NewWallet(address [20]byte) *Wallet {
	return &Wallet{
		address: address,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (w *Wallet) Address() [20]byte { return w.address }

func (w *Wallet) SetState(state walletState) { w.state = state }

func (w *Wallet) SetCaller(caller Caller) { w.caller = caller }

func (w *Wallet) SetNowFunc(now func() int64) {
	if now == nil {
		w.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	w.nowFn = now
}

func (w *Wallet) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		w.emitter = events.NoopEmitter{}
		return
	}
	w.emitter = emitter
}

func (w *Wallet) Roles() *access.Controller {
	return access.NewController(w.state, w.address, w.emitter)
}

func (w *Wallet) gate() *approvals.Gate {
	return approvals.New(w.state, fmt.Sprintf("multisig/%x", w.address))
}

func (w *Wallet) settingsKey() []byte {
	return []byte(fmt.Sprintf("multisig/%x/settings", w.address))
}

func (w *Wallet) txKey(id uint64) []byte {
	return []byte(fmt.Sprintf("multisig/%x/tx/%d", w.address, id))
}

func (w *Wallet) mutate(fn func() error) error {
	if w.state == nil {
		return errNilState
	}
	return w.guard.NonReentrant(func() error {
		return nativecommon.Atomic(w.state, fn)
	})
}

func (w *Wallet) loadSettings() (*Settings, error) {
	if w.state == nil {
		return nil, errNilState
	}
	var settings Settings
	ok, err := w.state.KVGet(w.settingsKey(), &settings)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &settings, nil
}

func (w *Wallet) loadTx(id uint64) (*Transaction, error) {
	var tx Transaction
	ok, err := w.state.KVGet(w.txKey(id), &tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTxNotFound, id)
	}
	return &tx, nil
}

func (w *Wallet) emit(eventType, logName string, attrs map[string]string, values ...interface{}) error {
	log, err := nativecommon.EncodeLog(walletABI, w.address, logName, values...)
	if err != nil {
		return err
	}
	attrs["wallet"] = nativecommon.AddressAttr(w.address)
	w.emitter.Emit(events.Wrap{Evt: &types.Event{Type: eventType, Attributes: attrs, Log: log}})
	return nil
}

func validateOwners(owners [][20]byte, required uint64) error {
	if len(owners) == 0 || len(owners) > MaxOwners {
		return ErrInvalidOwners
	}
	seen := make(map[[20]byte]struct{}, len(owners))
	for _, owner := range owners {
		if owner == ([20]byte{}) {
			return ErrInvalidOwners
		}
		if _, dup := seen[owner]; dup {
			return ErrInvalidOwners
		}
		seen[owner] = struct{}{}
	}
	if required == 0 || required > uint64(len(owners)) {
		return ErrInvalidRequirement
	}
	return nil
}

// Initialize sets the owner set and quorum once. admin may authorize schema
// upgrades; it does not need to be an owner.
func (w *Wallet) Initialize(owners [][20]byte, required uint64, admin [20]byte) error {
	return w.mutate(func() error {
		if _, err := w.loadSettings(); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, ErrNotInitialized) {
			return err
		}
		if err := validateOwners(owners, required); err != nil {
			return err
		}
		settings := &Settings{Owners: append([][20]byte(nil), owners...), Required: required}
		if err := w.state.KVPut(w.settingsKey(), settings); err != nil {
			return err
		}
		if admin == ([20]byte{}) {
			return nil
		}
		return w.Roles().Setup(access.DefaultAdminRole, admin, admin)
	})
}

func (w *Wallet) AuthorizeUpgrade(caller [20]byte) error {
	if _, err := w.loadSettings(); err != nil {
		return err
	}
	return w.Roles().Require(access.DefaultAdminRole, caller)
}

// Deposit records native value received by the wallet. The chain has already
// credited the wallet's balance.
func (w *Wallet) Deposit(from [20]byte, value *big.Int) error {
	if _, err := w.loadSettings(); err != nil {
		return err
	}
	amount := nativecommon.CloneBigInt(value)
	if amount.Sign() == 0 {
		return nil
	}
	return w.emit(EventTypeDeposit, "Deposit", map[string]string{
		"sender": nativecommon.AddressAttr(from),
		"value":  amount.String(),
	}, ethcommon.Address(from), amount)
}

// SubmitTransaction stores a new proposal with zero confirmations and
// returns its id. Ids start at zero.
func (w *Wallet) SubmitTransaction(caller, destination [20]byte, value *big.Int, data []byte) (uint64, error) {
	var id uint64
	err := w.mutate(func() error {
		settings, err := w.loadSettings()
		if err != nil {
			return err
		}
		if !settings.isOwner(caller) {
			return ErrNotOwner
		}
		if destination == ([20]byte{}) {
			return ErrInvalidDestination
		}
		amount := nativecommon.CloneBigInt(value)
		if err := nativecommon.CheckAmount(amount); err != nil {
			return err
		}
		tx := &Transaction{
			ID:          settings.NextTxID,
			Destination: destination,
			Value:       amount,
			Data:        append([]byte(nil), data...),
			Submitter:   caller,
			SubmittedAt: uint64(w.nowFn()),
		}
		settings.NextTxID++
		if err := w.state.KVPut(w.settingsKey(), settings); err != nil {
			return err
		}
		if err := w.state.KVPut(w.txKey(tx.ID), tx); err != nil {
			return err
		}
		id = tx.ID
		return w.emit(EventTypeSubmission, "Submission", map[string]string{
			"transactionId": strconv.FormatUint(tx.ID, 10),
			"destination":   nativecommon.AddressAttr(destination),
			"value":         amount.String(),
			"submitter":     nativecommon.AddressAttr(caller),
		}, new(big.Int).SetUint64(tx.ID))
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (w *Wallet) ConfirmTransaction(caller [20]byte, id uint64) error {
	return w.mutate(func() error {
		settings, err := w.loadSettings()
		if err != nil {
			return err
		}
		if !settings.isOwner(caller) {
			return ErrNotOwner
		}
		tx, err := w.loadTx(id)
		if err != nil {
			return err
		}
		if tx.Executed {
			return ErrAlreadyExecuted
		}
		if _, err := w.gate().Confirm(id, caller); err != nil {
			if errors.Is(err, approvals.ErrAlreadyConfirmed) {
				return ErrAlreadyConfirmed
			}
			return err
		}
		confirmers, err := w.ownerConfirmers(settings, id)
		if err != nil {
			return err
		}
		count := uint64(len(confirmers))
		return w.emit(EventTypeConfirmation, "Confirmation", map[string]string{
			"transactionId": strconv.FormatUint(id, 10),
			"sender":        nativecommon.AddressAttr(caller),
			"confirmations": strconv.FormatUint(count, 10),
		}, ethcommon.Address(caller), new(big.Int).SetUint64(id))
	})
}

func (w *Wallet) RevokeConfirmation(caller [20]byte, id uint64) error {
	return w.mutate(func() error {
		settings, err := w.loadSettings()
		if err != nil {
			return err
		}
		if !settings.isOwner(caller) {
			return ErrNotOwner
		}
		tx, err := w.loadTx(id)
		if err != nil {
			return err
		}
		if tx.Executed {
			return ErrAlreadyExecuted
		}
		if _, err := w.gate().Revoke(id, caller); err != nil {
			if errors.Is(err, approvals.ErrNotConfirmed) {
				return ErrNotConfirmed
			}
			return err
		}
		confirmers, err := w.ownerConfirmers(settings, id)
		if err != nil {
			return err
		}
		count := uint64(len(confirmers))
		return w.emit(EventTypeRevocation, "Revocation", map[string]string{
			"transactionId": strconv.FormatUint(id, 10),
			"sender":        nativecommon.AddressAttr(caller),
			"confirmations": strconv.FormatUint(count, 10),
		}, ethcommon.Address(caller), new(big.Int).SetUint64(id))
	})
}

// ExecuteTransaction performs the confirmed call. If the inner call fails the
// whole execution reverts, leaving the proposal unexecuted and retryable.
func (w *Wallet) ExecuteTransaction(caller [20]byte, id uint64) ([]byte, error) {
	var result []byte
	err := w.mutate(func() error {
		settings, err := w.loadSettings()
		if err != nil {
			return err
		}
		if !settings.isOwner(caller) {
			return ErrNotOwner
		}
		tx, err := w.loadTx(id)
		if err != nil {
			return err
		}
		if tx.Executed {
			return fmt.Errorf("%w: %v", ErrCannotExecute, ErrAlreadyExecuted)
		}
		confirmers, err := w.ownerConfirmers(settings, id)
		if err != nil {
			return err
		}
		if uint64(len(confirmers)) < settings.Required {
			return ErrCannotExecute
		}
		if w.caller == nil {
			return errNilCaller
		}
		tx.Executed = true
		if err := w.state.KVPut(w.txKey(id), tx); err != nil {
			return err
		}
		if err := w.emit(EventTypeExecution, "Execution", map[string]string{
			"transactionId": strconv.FormatUint(id, 10),
			"executor":      nativecommon.AddressAttr(caller),
		}, new(big.Int).SetUint64(id)); err != nil {
			return err
		}
		out, callErr := w.caller.Call(w.address, tx.Destination, tx.Value, tx.Data)
		if callErr != nil {
			return fmt.Errorf("%w: %v", ErrExecutionFailed, callErr)
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Owner management runs only as the nested call of an executed proposal.

func (w *Wallet) AddOwner(caller, owner [20]byte) error {
	return w.administer(caller, func(settings *Settings) error {
		if owner == ([20]byte{}) || settings.isOwner(owner) || len(settings.Owners) >= MaxOwners {
			return ErrInvalidOwners
		}
		settings.Owners = append(settings.Owners, owner)
		return w.emit(EventTypeOwnerAdded, "OwnerAddition", map[string]string{
			"owner": nativecommon.AddressAttr(owner),
		}, ethcommon.Address(owner))
	})
}

func (w *Wallet) RemoveOwner(caller, owner [20]byte) error {
	return w.administer(caller, func(settings *Settings) error {
		if !settings.isOwner(owner) || len(settings.Owners) == 1 {
			return ErrInvalidOwners
		}
		kept := make([][20]byte, 0, len(settings.Owners)-1)
		for _, existing := range settings.Owners {
			if existing != owner {
				kept = append(kept, existing)
			}
		}
		settings.Owners = kept
		if settings.Required > uint64(len(kept)) {
			settings.Required = uint64(len(kept))
		}
		return w.emit(EventTypeOwnerRemoved, "OwnerRemoval", map[string]string{
			"owner": nativecommon.AddressAttr(owner),
		}, ethcommon.Address(owner))
	})
}

func (w *Wallet) ChangeRequirement(caller [20]byte, required uint64) error {
	return w.administer(caller, func(settings *Settings) error {
		if required == 0 || required > uint64(len(settings.Owners)) {
			return ErrInvalidRequirement
		}
		settings.Required = required
		return w.emit(EventTypeRequirement, "RequirementChange", map[string]string{
			"required": strconv.FormatUint(required, 10),
		}, new(big.Int).SetUint64(required))
	})
}

func (w *Wallet) administer(caller [20]byte, fn func(*Settings) error) error {
	if caller != w.address {
		return ErrOnlyWallet
	}
	if w.state == nil {
		return errNilState
	}
	return nativecommon.Atomic(w.state, func() error {
		settings, err := w.loadSettings()
		if err != nil {
			return err
		}
		if err := fn(settings); err != nil {
			return err
		}
		return w.state.KVPut(w.settingsKey(), settings)
	})
}

// --- views ---

func (w *Wallet) GetTransaction(id uint64) (*Transaction, error) {
	if w.state == nil {
		return nil, errNilState
	}
	return w.loadTx(id)
}

func (w *Wallet) TransactionCount() (uint64, error) {
	settings, err := w.loadSettings()
	if err != nil {
		return 0, err
	}
	return settings.NextTxID, nil
}

func (w *Wallet) Owners() ([][20]byte, error) {
	settings, err := w.loadSettings()
	if err != nil {
		return nil, err
	}
	return settings.Owners, nil
}

func (w *Wallet) Required() (uint64, error) {
	settings, err := w.loadSettings()
	if err != nil {
		return 0, err
	}
	return settings.Required, nil
}

func (w *Wallet) IsOwner(addr [20]byte) (bool, error) {
	settings, err := w.loadSettings()
	if err != nil {
		return false, err
	}
	return settings.isOwner(addr), nil
}

// Confirmations lists the current owners that confirmed id. Confirmations
// left by removed owners are not reported and do not count toward quorum.
func (w *Wallet) Confirmations(id uint64) ([][20]byte, error) {
	if w.state == nil {
		return nil, errNilState
	}
	settings, err := w.loadSettings()
	if err != nil {
		return nil, err
	}
	return w.ownerConfirmers(settings, id)
}

func (w *Wallet) ConfirmationCount(id uint64) (uint64, error) {
	confirmers, err := w.Confirmations(id)
	if err != nil {
		return 0, err
	}
	return uint64(len(confirmers)), nil
}

func (w *Wallet) ownerConfirmers(settings *Settings, id uint64) ([][20]byte, error) {
	all, err := w.gate().Confirmers(id)
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(all))
	for _, confirmer := range all {
		if settings.isOwner(confirmer) {
			out = append(out, confirmer)
		}
	}
	return out, nil
}
