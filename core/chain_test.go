package core

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finerp/core/genesis"
	"finerp/core/state"
	"finerp/core/types"
	"finerp/crypto"
	"finerp/native/escrow"
	"finerp/native/ledger"
	"finerp/storage"
)

const testChainID = 77

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type account struct {
	key  *crypto.PrivateKey
	addr [20]byte
}

func newAccount(t *testing.T) account {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return account{key: key, addr: key.PubKey().Address().Raw()}
}

type harness struct {
	t     *testing.T
	db    storage.Database
	chain *Chain

	admin     account
	approver  account
	ownerA    account
	ownerB    account
	worker    account
	recipient account
}

func genesisDocument(h *harness) string {
	return `
chainId: 77
genesisTime: "2026-01-01T00:00:00Z"
admin: ` + crypto.FormatAddress(h.admin.addr) + `
multisig:
  owners: [` + crypto.FormatAddress(h.ownerA.addr) + `, ` + crypto.FormatAddress(h.ownerB.addr) + `]
  required: 2
balances:
  ` + crypto.FormatAddress(h.admin.addr) + `: "1000"
roles:
  - contract: escrow
    role: APPROVER_ROLE
    account: ` + crypto.FormatAddress(h.approver.addr) + `
`
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		db:        storage.NewMemDB(),
		admin:     newAccount(t),
		approver:  newAccount(t),
		ownerA:    newAccount(t),
		ownerB:    newAccount(t),
		worker:    newAccount(t),
		recipient: newAccount(t),
	}
	t.Cleanup(h.db.Close)
	if opts.ChainID == 0 {
		opts.ChainID = testChainID
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	chain, err := NewChain(h.db, opts)
	require.NoError(t, err)
	spec, err := genesis.Parse([]byte(genesisDocument(h)))
	require.NoError(t, err)
	_, err = chain.ApplyGenesis(spec)
	require.NoError(t, err)
	h.chain = chain
	return h
}

func contractAddr(name string) [20]byte { return crypto.ContractAddress(name) }

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func (h *harness) signed(from account, to [20]byte, value *big.Int, method string, args interface{}) *types.Transaction {
	h.t.Helper()
	nonce, err := h.chain.Nonce(from.addr)
	require.NoError(h.t, err)
	tx := &types.Transaction{
		ChainID: testChainID,
		Nonce:   nonce,
		To:      to,
		Value:   value,
		Method:  method,
		Args:    mustJSON(h.t, args),
	}
	require.NoError(h.t, tx.Sign(from.key.PrivateKey))
	return tx
}

func (h *harness) send(from account, to [20]byte, method string, args interface{}) *types.Receipt {
	h.t.Helper()
	receipt, err := h.chain.ApplyTransaction(h.signed(from, to, nil, method, args))
	require.NoError(h.t, err)
	return receipt
}

func (h *harness) mustSend(from account, to [20]byte, method string, args interface{}) *types.Receipt {
	h.t.Helper()
	receipt := h.send(from, to, method, args)
	require.Equal(h.t, types.ReceiptSuccess, receipt.Status, receipt.Error)
	return receipt
}

func (h *harness) view(to [20]byte, method string, args interface{}, out interface{}) {
	h.t.Helper()
	raw, err := h.chain.Call([20]byte{}, to, method, mustJSON(h.t, args))
	require.NoError(h.t, err)
	require.NoError(h.t, json.Unmarshal(raw, out))
}

func (h *harness) tokenBalance(name string, addr [20]byte) *big.Int {
	h.t.Helper()
	var amount Amount
	h.view(contractAddr(name), "balanceOf", map[string]interface{}{"account": Address(addr)}, &amount)
	return amount.Big()
}

func requireAmount(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.Zero(t, want.Cmp(got), "want %s got %s", want, got)
}

func TestGenesisDeploysContracts(t *testing.T) {
	h := newHarness(t, Options{})

	head := h.chain.Head()
	require.NotNil(t, head)
	require.Equal(t, uint64(0), head.Header.Height)
	require.Equal(t, uint64(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix()), head.Header.Timestamp)

	requireAmount(t, ledger.MaxSupply, h.tokenBalance(ContractToken, h.admin.addr))
	native, err := h.chain.Balance(h.admin.addr)
	require.NoError(t, err)
	requireAmount(t, ledger.Units(1000), native)

	infos, err := h.chain.Contracts()
	require.NoError(t, err)
	require.Len(t, infos, 5)
	for _, info := range infos {
		require.Equal(t, ContractSchemaVersion, info.Version, info.Name)
		require.Equal(t, Address(crypto.ContractAddress(info.Name)), info.Address)
	}

	var hasRole bool
	h.view(contractAddr(ContractEscrow), "hasRole", map[string]interface{}{
		"role": "APPROVER_ROLE", "account": Address(h.approver.addr),
	}, &hasRole)
	require.True(t, hasRole)

	spec, err := genesis.Parse([]byte(genesisDocument(h)))
	require.NoError(t, err)
	_, err = h.chain.ApplyGenesis(spec)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestEscrowSettlementLifecycle(t *testing.T) {
	h := newHarness(t, Options{DevMode: true})
	escrowAddr := contractAddr(ContractEscrow)
	tokenAddr := contractAddr(ContractToken)
	employer := h.admin

	h.mustSend(employer, tokenAddr, "approve", map[string]interface{}{
		"spender": Address(escrowAddr), "amount": NewAmount(ledger.Units(100_000)),
	})
	receipt := h.mustSend(employer, escrowAddr, "fundProject", map[string]interface{}{
		"amount": NewAmount(ledger.Units(100_000)),
	})
	require.JSONEq(t, `{"projectId":1}`, string(receipt.Result))
	require.NotEmpty(t, receipt.Events)

	receipt = h.mustSend(employer, escrowAddr, "allocateTask", map[string]interface{}{
		"projectId": 1, "worker": Address(h.worker.addr), "amount": NewAmount(ledger.Units(5_000)),
	})
	require.JSONEq(t, `{"taskId":1}`, string(receipt.Result))
	h.mustSend(employer, escrowAddr, "allocateTask", map[string]interface{}{
		"projectId": 1, "worker": Address(h.worker.addr), "amount": NewAmount(ledger.Units(20_000)),
	})

	// small task releases on completion
	h.mustSend(h.worker, escrowAddr, "completeTask", map[string]interface{}{"taskId": 1})
	requireAmount(t, ledger.Units(5_000), h.tokenBalance(ContractToken, h.worker.addr))

	// large task waits for two approvers
	h.mustSend(h.worker, escrowAddr, "completeTask", map[string]interface{}{"taskId": 2})
	requireAmount(t, ledger.Units(5_000), h.tokenBalance(ContractToken, h.worker.addr))
	h.mustSend(employer, escrowAddr, "approvePayment", map[string]interface{}{"taskId": 2})

	receipt = h.send(employer, escrowAddr, "approvePayment", map[string]interface{}{"taskId": 2})
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Equal(t, escrow.ErrAlreadyApproved.Error(), receipt.Error)
	require.Equal(t, "invariant", receipt.ErrorKind)
	require.Empty(t, receipt.Events)

	h.mustSend(h.approver, escrowAddr, "approvePayment", map[string]interface{}{"taskId": 2})
	requireAmount(t, ledger.Units(25_000), h.tokenBalance(ContractToken, h.worker.addr))

	var task TaskView
	h.view(escrowAddr, "getTask", map[string]interface{}{"taskId": 2}, &task)
	require.Equal(t, "PAID", task.StatusName)
	require.Equal(t, uint64(2), task.ApprovalCount)

	// refund of the unallocated remainder after the timelock
	h.mustSend(employer, escrowAddr, "requestRefund", map[string]interface{}{"projectId": 1})
	receipt = h.send(employer, escrowAddr, "processRefund", map[string]interface{}{"projectId": 1})
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Equal(t, "timing", receipt.ErrorKind)

	_, err := h.chain.IncreaseTime(int64(escrow.RefundTimelock))
	require.NoError(t, err)
	before := h.tokenBalance(ContractToken, employer.addr)
	receipt = h.mustSend(employer, escrowAddr, "processRefund", map[string]interface{}{"projectId": 1})
	require.JSONEq(t, `{"refunded":"`+ledger.Units(75_000).String()+`"}`, string(receipt.Result))
	requireAmount(t, new(big.Int).Add(before, ledger.Units(75_000)), h.tokenBalance(ContractToken, employer.addr))

	var project ProjectView
	h.view(escrowAddr, "getProject", map[string]interface{}{"projectId": 1}, &project)
	requireAmount(t, ledger.Units(25_000), project.TotalFunded.Big())
	requireAmount(t, ledger.Units(25_000), project.TotalReleased.Big())
	requireAmount(t, ledger.Units(75_000), project.TotalRefunded.Big())
	requireAmount(t, big.NewInt(0), project.Custody.Big())
	requireAmount(t, big.NewInt(0), h.tokenBalance(ContractToken, escrowAddr))
}

func TestMultisigExecutesNestedCalls(t *testing.T) {
	h := newHarness(t, Options{})
	walletAddr := contractAddr(ContractMultisig)
	tokenAddr := contractAddr(ContractToken)

	h.mustSend(h.admin, tokenAddr, "transfer", map[string]interface{}{
		"to": Address(walletAddr), "amount": NewAmount(ledger.Units(500)),
	})

	receipt := h.mustSend(h.ownerA, walletAddr, "submitTransaction", map[string]interface{}{
		"to": Address(tokenAddr),
		"call": map[string]interface{}{
			"method": "transfer",
			"args":   map[string]interface{}{"to": Address(h.recipient.addr), "amount": NewAmount(ledger.Units(200))},
		},
	})
	require.JSONEq(t, `{"txId":0}`, string(receipt.Result))

	h.mustSend(h.ownerA, walletAddr, "confirmTransaction", map[string]interface{}{"txId": 0})
	receipt = h.send(h.ownerA, walletAddr, "executeTransaction", map[string]interface{}{"txId": 0})
	require.Equal(t, types.ReceiptFailed, receipt.Status)

	h.mustSend(h.ownerB, walletAddr, "confirmTransaction", map[string]interface{}{"txId": 0})
	receipt = h.mustSend(h.ownerB, walletAddr, "executeTransaction", map[string]interface{}{"txId": 0})
	require.Equal(t, "true", string(receipt.Result))
	requireAmount(t, ledger.Units(200), h.tokenBalance(ContractToken, h.recipient.addr))
	requireAmount(t, ledger.Units(300), h.tokenBalance(ContractToken, walletAddr))

	// owner changes go through the wallet itself
	receipt = h.send(h.ownerA, walletAddr, "addOwner", map[string]interface{}{"owner": Address(h.recipient.addr)})
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Equal(t, "authorization", receipt.ErrorKind)

	h.mustSend(h.ownerA, walletAddr, "submitTransaction", map[string]interface{}{
		"to": Address(walletAddr),
		"call": map[string]interface{}{
			"method": "addOwner",
			"args":   map[string]interface{}{"owner": Address(h.recipient.addr)},
		},
	})
	h.mustSend(h.ownerA, walletAddr, "confirmTransaction", map[string]interface{}{"txId": 1})
	h.mustSend(h.ownerB, walletAddr, "confirmTransaction", map[string]interface{}{"txId": 1})
	h.mustSend(h.ownerA, walletAddr, "executeTransaction", map[string]interface{}{"txId": 1})

	var owners []Address
	h.view(walletAddr, "getOwners", nil, &owners)
	require.Len(t, owners, 3)
	require.Contains(t, owners, Address(h.recipient.addr))
}

func TestMultisigFailedInnerCallRevertsAndStaysPending(t *testing.T) {
	h := newHarness(t, Options{})
	walletAddr := contractAddr(ContractMultisig)
	tokenAddr := contractAddr(ContractToken)

	h.mustSend(h.ownerA, walletAddr, "submitTransaction", map[string]interface{}{
		"to": Address(tokenAddr),
		"call": map[string]interface{}{
			"method": "transfer",
			"args":   map[string]interface{}{"to": Address(h.recipient.addr), "amount": NewAmount(ledger.Units(10))},
		},
	})
	h.mustSend(h.ownerA, walletAddr, "confirmTransaction", map[string]interface{}{"txId": 0})
	h.mustSend(h.ownerB, walletAddr, "confirmTransaction", map[string]interface{}{"txId": 0})

	// the wallet holds no FIN yet
	receipt := h.send(h.ownerA, walletAddr, "executeTransaction", map[string]interface{}{"txId": 0})
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Empty(t, receipt.Events)

	var tx MultisigTxView
	h.view(walletAddr, "getTransaction", map[string]interface{}{"txId": 0}, &tx)
	require.False(t, tx.Executed)

	h.mustSend(h.admin, tokenAddr, "transfer", map[string]interface{}{
		"to": Address(walletAddr), "amount": NewAmount(ledger.Units(10)),
	})
	h.mustSend(h.ownerA, walletAddr, "executeTransaction", map[string]interface{}{"txId": 0})
	requireAmount(t, ledger.Units(10), h.tokenBalance(ContractToken, h.recipient.addr))
}

func TestTransactionValidation(t *testing.T) {
	h := newHarness(t, Options{})
	tokenAddr := contractAddr(ContractToken)
	args := map[string]interface{}{"to": Address(h.recipient.addr), "amount": NewAmount(big.NewInt(1))}

	tx := h.signed(h.admin, tokenAddr, nil, "transfer", args)
	tx.ChainID = testChainID + 1
	require.NoError(t, tx.Sign(h.admin.key.PrivateKey))
	_, err := h.chain.ApplyTransaction(tx)
	require.ErrorIs(t, err, ErrWrongChainID)

	tx = h.signed(h.admin, tokenAddr, nil, "transfer", args)
	tx.Nonce++
	require.NoError(t, tx.Sign(h.admin.key.PrivateKey))
	_, err = h.chain.ApplyTransaction(tx)
	require.ErrorIs(t, err, ErrNonceTooHigh)

	tx = h.signed(h.admin, tokenAddr, nil, "transfer", args)
	_, err = h.chain.ApplyTransaction(tx)
	require.NoError(t, err)
	_, err = h.chain.ApplyTransaction(tx)
	require.ErrorIs(t, err, ErrNonceTooLow)

	unsigned := &types.Transaction{ChainID: testChainID, To: tokenAddr, Method: "transfer"}
	_, err = h.chain.ApplyTransaction(unsigned)
	require.ErrorIs(t, err, types.ErrMissingSignature)

	require.Equal(t, uint64(1), h.chain.Head().Header.Height)
}

func TestFailedTransactionConsumesNonceAndRevertsState(t *testing.T) {
	h := newHarness(t, Options{})
	tokenAddr := contractAddr(ContractToken)
	before := h.chain.Head()

	receipt := h.send(h.recipient, tokenAddr, "transfer", map[string]interface{}{
		"to": Address(h.worker.addr), "amount": NewAmount(ledger.Units(1)),
	})
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Equal(t, "invariant", receipt.ErrorKind)
	require.NotNil(t, receipt.Events)
	require.Empty(t, receipt.Events)

	nonce, err := h.chain.Nonce(h.recipient.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	head := h.chain.Head()
	require.Equal(t, before.Header.Height+1, head.Header.Height)
	require.Equal(t, before.Hash, head.Header.ParentHash)

	stored, err := h.chain.Receipt(receipt.TxHash)
	require.NoError(t, err)
	require.Equal(t, receipt.Error, stored.Error)
	require.Equal(t, head.Hash, stored.BlockHash)

	receipt = h.send(h.recipient, tokenAddr, "noSuchMethod", nil)
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Contains(t, receipt.Error, ErrUnknownMethod.Error())

	receipt = h.send(h.admin, tokenAddr, "transfer", map[string]interface{}{"bogus": 1})
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Equal(t, "validation", receipt.ErrorKind)
}

func TestNativeValueTransfers(t *testing.T) {
	h := newHarness(t, Options{})
	walletAddr := contractAddr(ContractMultisig)

	receipt, err := h.chain.ApplyTransaction(h.signed(h.admin, h.recipient.addr, ledger.Units(10), "", nil))
	require.NoError(t, err)
	require.Equal(t, types.ReceiptSuccess, receipt.Status, receipt.Error)
	balance, err := h.chain.Balance(h.recipient.addr)
	require.NoError(t, err)
	requireAmount(t, ledger.Units(10), balance)

	receipt, err = h.chain.ApplyTransaction(h.signed(h.admin, walletAddr, ledger.Units(5), "", nil))
	require.NoError(t, err)
	require.Equal(t, types.ReceiptSuccess, receipt.Status, receipt.Error)
	balance, err = h.chain.Balance(walletAddr)
	require.NoError(t, err)
	requireAmount(t, ledger.Units(5), balance)

	receipt, err = h.chain.ApplyTransaction(h.signed(h.admin, contractAddr(ContractEscrow), ledger.Units(1), "", nil))
	require.NoError(t, err)
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Equal(t, ErrNotPayable.Error(), receipt.Error)

	receipt, err = h.chain.ApplyTransaction(h.signed(h.admin, contractAddr(ContractToken), ledger.Units(1), "totalSupply", nil))
	require.NoError(t, err)
	require.Equal(t, types.ReceiptFailed, receipt.Status)

	// the wallet forwards native value it holds
	h.mustSend(h.ownerA, walletAddr, "submitTransaction", map[string]interface{}{
		"to": Address(h.worker.addr), "value": NewAmount(ledger.Units(2)),
	})
	h.mustSend(h.ownerA, walletAddr, "confirmTransaction", map[string]interface{}{"txId": 0})
	h.mustSend(h.ownerB, walletAddr, "confirmTransaction", map[string]interface{}{"txId": 0})
	h.mustSend(h.ownerB, walletAddr, "executeTransaction", map[string]interface{}{"txId": 0})
	balance, err = h.chain.Balance(h.worker.addr)
	require.NoError(t, err)
	requireAmount(t, ledger.Units(2), balance)
}

func TestCallDoesNotPersist(t *testing.T) {
	h := newHarness(t, Options{})
	tokenAddr := contractAddr(ContractToken)

	raw, err := h.chain.Call(h.admin.addr, tokenAddr, "transfer", mustJSON(t, map[string]interface{}{
		"to": Address(h.recipient.addr), "amount": NewAmount(ledger.Units(1)),
	}))
	require.NoError(t, err)
	require.Equal(t, "true", string(raw))
	requireAmount(t, big.NewInt(0), h.tokenBalance(ContractToken, h.recipient.addr))
	require.Equal(t, uint64(0), h.chain.Head().Header.Height)

	_, err = h.chain.Call(h.admin.addr, [20]byte{0xee}, "transfer", nil)
	require.ErrorIs(t, err, ErrUnknownContract)
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	h := newHarness(t, Options{PausedModules: []string{ContractEscrow}})
	escrowAddr := contractAddr(ContractEscrow)

	receipt := h.send(h.admin, escrowAddr, "fundProject", map[string]interface{}{"amount": NewAmount(ledger.Units(1))})
	require.Equal(t, types.ReceiptFailed, receipt.Status)

	var count uint64
	h.view(escrowAddr, "projectCount", nil, &count)
	require.Zero(t, count)
}

func TestUpgradeRunsMigrations(t *testing.T) {
	h := newHarness(t, Options{})
	escrowAddr := contractAddr(ContractEscrow)
	marker := []byte("escrow/migrated")

	require.NoError(t, h.chain.RegisterMigration(ContractEscrow, 1, 2, func(st *state.Manager) error {
		return st.KVPut(marker, uint64(2))
	}))
	require.ErrorIs(t, h.chain.RegisterMigration("nope", 1, 2, func(*state.Manager) error { return nil }), ErrUnknownContract)

	receipt := h.send(h.worker, escrowAddr, MethodUpgradeTo, map[string]interface{}{"version": 2})
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Equal(t, "authorization", receipt.ErrorKind)

	receipt = h.send(h.admin, escrowAddr, MethodUpgradeTo, map[string]interface{}{"version": 3})
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Contains(t, receipt.Error, ErrNoMigrationPath.Error())

	receipt = h.mustSend(h.admin, escrowAddr, MethodUpgradeTo, map[string]interface{}{"version": 2})
	require.JSONEq(t, `{"from":1,"version":2}`, string(receipt.Result))

	infos, err := h.chain.Contracts()
	require.NoError(t, err)
	for _, info := range infos {
		if info.Name == ContractEscrow {
			require.Equal(t, uint32(2), info.Version)
		} else {
			require.Equal(t, ContractSchemaVersion, info.Version)
		}
	}

	receipt = h.send(h.admin, escrowAddr, MethodUpgradeTo, map[string]interface{}{"version": 2})
	require.Equal(t, types.ReceiptFailed, receipt.Status)
	require.Contains(t, receipt.Error, ErrDowngrade.Error())
}

func TestSwapThroughChain(t *testing.T) {
	h := newHarness(t, Options{})
	swapAddr := contractAddr(ContractSwap)
	fin, fusd := contractAddr(ContractToken), contractAddr(ContractStable)

	for _, token := range [][20]byte{fin, fusd} {
		h.mustSend(h.admin, token, "approve", map[string]interface{}{
			"spender": Address(swapAddr), "amount": NewAmount(ledger.Units(1_000_000)),
		})
	}
	h.mustSend(h.admin, swapAddr, "addLiquidity", map[string]interface{}{
		"tokenA": Address(fin), "tokenB": Address(fusd),
		"amountA": NewAmount(ledger.Units(100_000)), "amountB": NewAmount(ledger.Units(100_000)),
	})

	var quoted Amount
	h.view(swapAddr, "getAmountOut", map[string]interface{}{
		"tokenIn": Address(fin), "tokenOut": Address(fusd), "amountIn": NewAmount(ledger.Units(1_000)),
	}, &quoted)

	receipt := h.mustSend(h.admin, swapAddr, "swap", map[string]interface{}{
		"tokenIn": Address(fin), "tokenOut": Address(fusd),
		"amountIn": NewAmount(ledger.Units(1_000)), "minAmountOut": quoted,
	})
	var out map[string]Amount
	require.NoError(t, json.Unmarshal(receipt.Result, &out))
	requireAmount(t, quoted.Big(), out["amountOut"].Big())

	receipt = h.send(h.admin, swapAddr, "swap", map[string]interface{}{
		"tokenIn": Address(fin), "tokenOut": Address(fusd),
		"amountIn": NewAmount(ledger.Units(1_000)), "minAmountOut": NewAmount(ledger.Units(1_000)),
	})
	require.Equal(t, types.ReceiptFailed, receipt.Status)
}

func TestIncreaseTimeRequiresDevMode(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.chain.IncreaseTime(60)
	require.ErrorIs(t, err, ErrDevModeDisabled)

	dev := newHarness(t, Options{DevMode: true})
	offset, err := dev.chain.IncreaseTime(60)
	require.NoError(t, err)
	require.Equal(t, int64(60), offset)
	require.Equal(t, testNow.Unix()+60, dev.chain.Now())
	_, err = dev.chain.IncreaseTime(0)
	require.ErrorIs(t, err, ErrInvalidArgs)
}

func TestCommitHookAndReopen(t *testing.T) {
	h := newHarness(t, Options{})
	var sealed []*types.Block
	h.chain.OnCommit(func(b *types.Block) { sealed = append(sealed, b) })

	receipt := h.mustSend(h.admin, contractAddr(ContractToken), "transfer", map[string]interface{}{
		"to": Address(h.recipient.addr), "amount": NewAmount(ledger.Units(3)),
	})
	require.Len(t, sealed, 1)
	require.Equal(t, receipt.TxHash, sealed[0].Header.TxHash)
	require.Equal(t, uint64(testNow.Unix()), sealed[0].Header.Timestamp)

	reopened, err := NewChain(h.db, Options{ChainID: testChainID})
	require.NoError(t, err)
	require.Equal(t, h.chain.Head().Hash, reopened.Head().Hash)

	raw, err := reopened.Call([20]byte{}, contractAddr(ContractToken), "balanceOf", mustJSON(t, map[string]interface{}{
		"account": Address(h.recipient.addr),
	}))
	require.NoError(t, err)
	require.JSONEq(t, `"`+ledger.Units(3).String()+`"`, string(raw))

	nonce, err := reopened.Nonce(h.admin.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	block, err := reopened.BlockByNumber(1)
	require.NoError(t, err)
	require.Equal(t, receipt.TxHash, block.Receipt.TxHash)
	_, err = reopened.BlockByNumber(9)
	require.True(t, errors.Is(err, ErrBlockNotFound))
}
