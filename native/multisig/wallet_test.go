package multisig

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"finerp/core/events"
	"finerp/core/state"
	"finerp/native/ledger"
	"finerp/storage"
	"finerp/storage/trie"
)

var (
	owner1     = [20]byte{0x11}
	owner2     = [20]byte{0x12}
	owner3     = [20]byte{0x13}
	outsider   = [20]byte{0x14}
	admin      = [20]byte{0x01}
	payee      = [20]byte{0x21}
	walletAddr = [20]byte{0xa1}
	tokenAddr  = [20]byte{0xf1}
)

// tokenRouter forwards "transfer" payloads to a ledger so executions move
// real balances.
type tokenRouter struct {
	token  *ledger.Engine
	wallet *Wallet
	calls  int
	fail   error
}

func (r *tokenRouter) Call(from, to [20]byte, value *big.Int, data []byte) ([]byte, error) {
	r.calls++
	if r.fail != nil {
		return nil, r.fail
	}
	switch {
	case to == tokenAddr:
		return []byte("ok"), r.token.Transfer(from, payee, new(big.Int).SetBytes(data))
	case to == walletAddr:
		return nil, r.wallet.AddOwner(from, [20]byte(data))
	}
	return nil, nil
}

type fixture struct {
	state  *state.Manager
	wallet *Wallet
	token  *ledger.Engine
	router *tokenRouter
	events *events.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	st := state.NewManager(tr)

	token := ledger.NewEngine(tokenAddr)
	token.SetState(st)
	require.NoError(t, token.Initialize(admin, ledger.FINConfig()))

	f := &fixture{state: st, token: token, events: &events.Buffer{}}
	f.wallet = NewWallet(walletAddr)
	f.wallet.SetState(st)
	f.wallet.SetEmitter(f.events)
	f.router = &tokenRouter{token: token, wallet: f.wallet}
	f.wallet.SetCaller(f.router)
	require.NoError(t, f.wallet.Initialize([][20]byte{owner1, owner2, owner3}, 2, admin))
	require.NoError(t, token.Transfer(admin, walletAddr, ledger.Units(1_000)))
	return f
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, evt := range f.events.Drain() {
		out = append(out, evt.Type)
	}
	return out
}

func TestInitializeValidation(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.wallet.Initialize([][20]byte{owner1}, 1, admin), ErrAlreadyInitialized)

	fresh := NewWallet([20]byte{0xa2})
	fresh.SetState(f.state)
	require.ErrorIs(t, fresh.Initialize(nil, 1, admin), ErrInvalidOwners)
	require.ErrorIs(t, fresh.Initialize([][20]byte{owner1, owner1}, 1, admin), ErrInvalidOwners)
	require.ErrorIs(t, fresh.Initialize([][20]byte{owner1, {}}, 1, admin), ErrInvalidOwners)
	require.ErrorIs(t, fresh.Initialize([][20]byte{owner1, owner2}, 3, admin), ErrInvalidRequirement)
	require.ErrorIs(t, fresh.Initialize([][20]byte{owner1, owner2}, 0, admin), ErrInvalidRequirement)
	require.NoError(t, fresh.Initialize([][20]byte{owner1, owner2}, 2, admin))
}

func TestTwoOfThreeExecution(t *testing.T) {
	f := newFixture(t)
	amount := ledger.Units(250)

	id, err := f.wallet.SubmitTransaction(owner1, tokenAddr, big.NewInt(0), amount.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)

	count, err := f.wallet.ConfirmationCount(id)
	require.NoError(t, err)
	require.Zero(t, count, "submitting must not confirm")

	require.NoError(t, f.wallet.ConfirmTransaction(owner1, id))
	_, err = f.wallet.ExecuteTransaction(owner1, id)
	require.ErrorIs(t, err, ErrCannotExecute)

	require.ErrorIs(t, f.wallet.ConfirmTransaction(owner1, id), ErrAlreadyConfirmed)
	require.ErrorIs(t, f.wallet.ConfirmTransaction(outsider, id), ErrNotOwner)
	require.NoError(t, f.wallet.ConfirmTransaction(owner2, id))

	f.events.Drain()
	out, err := f.wallet.ExecuteTransaction(owner3, id)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), out)
	require.Equal(t, []string{EventTypeExecution}, f.eventTypes())

	balance, err := f.token.BalanceOf(payee)
	require.NoError(t, err)
	require.Equal(t, amount, balance)

	tx, err := f.wallet.GetTransaction(id)
	require.NoError(t, err)
	require.True(t, tx.Executed)
	require.Equal(t, owner1, tx.Submitter)

	_, err = f.wallet.ExecuteTransaction(owner1, id)
	require.ErrorIs(t, err, ErrCannotExecute)
	require.ErrorIs(t, f.wallet.ConfirmTransaction(owner3, id), ErrAlreadyExecuted)
	require.Equal(t, 1, f.router.calls)
}

func TestRevokeDropsBelowQuorum(t *testing.T) {
	f := newFixture(t)
	id, err := f.wallet.SubmitTransaction(owner2, tokenAddr, nil, big.NewInt(1).Bytes())
	require.NoError(t, err)

	require.ErrorIs(t, f.wallet.RevokeConfirmation(owner1, id), ErrNotConfirmed)
	require.NoError(t, f.wallet.ConfirmTransaction(owner1, id))
	require.NoError(t, f.wallet.ConfirmTransaction(owner2, id))
	require.NoError(t, f.wallet.RevokeConfirmation(owner1, id))

	confirmers, err := f.wallet.Confirmations(id)
	require.NoError(t, err)
	require.Equal(t, [][20]byte{owner2}, confirmers)

	_, err = f.wallet.ExecuteTransaction(owner2, id)
	require.ErrorIs(t, err, ErrCannotExecute)
	require.Zero(t, f.router.calls)
}

func TestRemovedOwnerConfirmationDoesNotCount(t *testing.T) {
	f := newFixture(t)
	id, err := f.wallet.SubmitTransaction(owner1, tokenAddr, nil, ledger.Units(10).Bytes())
	require.NoError(t, err)
	require.NoError(t, f.wallet.ConfirmTransaction(owner3, id))
	require.NoError(t, f.wallet.RemoveOwner(walletAddr, owner3))
	f.events.Drain()
	require.NoError(t, f.wallet.ConfirmTransaction(owner1, id))
	evts := f.events.Drain()
	require.Len(t, evts, 1)
	require.Equal(t, "1", evts[0].Attributes["confirmations"])

	count, err := f.wallet.ConfirmationCount(id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
	confirmers, err := f.wallet.Confirmations(id)
	require.NoError(t, err)
	require.Equal(t, [][20]byte{owner1}, confirmers)

	_, err = f.wallet.ExecuteTransaction(owner1, id)
	require.ErrorIs(t, err, ErrCannotExecute)
	require.Zero(t, f.router.calls)
	balance, err := f.token.BalanceOf(payee)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	require.NoError(t, f.wallet.ConfirmTransaction(owner2, id))
	_, err = f.wallet.ExecuteTransaction(owner2, id)
	require.NoError(t, err)
	balance, err = f.token.BalanceOf(payee)
	require.NoError(t, err)
	require.Equal(t, ledger.Units(10), balance)
}

func TestFailedInnerCallRevertsExecution(t *testing.T) {
	f := newFixture(t)
	id, err := f.wallet.SubmitTransaction(owner1, tokenAddr, nil, ledger.Units(5).Bytes())
	require.NoError(t, err)
	require.NoError(t, f.wallet.ConfirmTransaction(owner1, id))
	require.NoError(t, f.wallet.ConfirmTransaction(owner2, id))

	f.router.fail = errors.New("boom")
	_, err = f.wallet.ExecuteTransaction(owner1, id)
	require.ErrorIs(t, err, ErrExecutionFailed)

	tx, err := f.wallet.GetTransaction(id)
	require.NoError(t, err)
	require.False(t, tx.Executed)

	f.router.fail = nil
	_, err = f.wallet.ExecuteTransaction(owner1, id)
	require.NoError(t, err)
}

func TestSelfAdministration(t *testing.T) {
	f := newFixture(t)
	newOwner := [20]byte{0x19}
	require.ErrorIs(t, f.wallet.AddOwner(owner1, newOwner), ErrOnlyWallet)

	id, err := f.wallet.SubmitTransaction(owner1, walletAddr, nil, newOwner[:])
	require.NoError(t, err)
	require.NoError(t, f.wallet.ConfirmTransaction(owner1, id))
	require.NoError(t, f.wallet.ConfirmTransaction(owner3, id))
	_, err = f.wallet.ExecuteTransaction(owner1, id)
	require.NoError(t, err)

	isOwner, err := f.wallet.IsOwner(newOwner)
	require.NoError(t, err)
	require.True(t, isOwner)

	require.NoError(t, f.wallet.RemoveOwner(walletAddr, owner3))
	require.NoError(t, f.wallet.ChangeRequirement(walletAddr, 3))
	require.ErrorIs(t, f.wallet.ChangeRequirement(walletAddr, 4), ErrInvalidRequirement)

	owners, err := f.wallet.Owners()
	require.NoError(t, err)
	require.Equal(t, [][20]byte{owner1, owner2, newOwner}, owners)
}

func TestDepositAndCounts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.wallet.Deposit(outsider, big.NewInt(42)))
	evts := f.events.Drain()
	require.Len(t, evts, 1)
	require.Equal(t, EventTypeDeposit, evts[0].Type)
	require.Equal(t, "42", evts[0].Attributes["value"])
	require.NotNil(t, evts[0].Log)

	for i := 0; i < 3; i++ {
		_, err := f.wallet.SubmitTransaction(owner3, payee, nil, nil)
		require.NoError(t, err)
	}
	count, err := f.wallet.TransactionCount()
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)
	_, err = f.wallet.SubmitTransaction(owner3, [20]byte{}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidDestination)
	_, err = f.wallet.GetTransaction(9)
	require.ErrorIs(t, err, ErrTxNotFound)
}

func TestUpgradeAuthorization(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.wallet.AuthorizeUpgrade(admin))
	require.Error(t, f.wallet.AuthorizeUpgrade(owner1))
}
