package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "finerp/core/errors"
	"finerp/core/events"
	"finerp/core/state"
	"finerp/core/types"
	"finerp/crypto"
	"finerp/native/bank"
	nativecommon "finerp/native/common"
	"finerp/native/escrow"
	"finerp/native/ledger"
	"finerp/native/multisig"
	"finerp/native/swap"
	"finerp/storage"
	"finerp/storage/trie"
)

// Deployment names of the native contracts. Each contract lives at
// crypto.ContractAddress(name).
const (
	ContractToken    = "fin-token"
	ContractStable   = "fin-usd"
	ContractEscrow   = "escrow"
	ContractMultisig = "multisig"
	ContractSwap     = "swap"
)

// MethodUpgradeTo is accepted by every contract and migrates its schema.
const MethodUpgradeTo = "upgradeTo"

var (
	ErrInvalidArgs        = coreerrors.Validation("chain: invalid arguments")
	ErrUnknownContract    = coreerrors.Validation("chain: unknown contract")
	ErrUnknownMethod      = coreerrors.Validation("chain: unknown method")
	ErrNotPayable         = coreerrors.Validation("chain: call does not accept value")
	ErrWrongChainID       = coreerrors.Validation("chain: wrong chain id")
	ErrNonceTooLow        = coreerrors.Validation("chain: nonce too low")
	ErrNonceTooHigh       = coreerrors.Validation("chain: nonce too high")
	ErrDevModeDisabled    = coreerrors.Authorization("chain: dev mode disabled")
	ErrNotInitialized     = coreerrors.StateMachine("chain: genesis not applied")
	ErrAlreadyInitialized = coreerrors.StateMachine("chain: genesis already applied")
)

// NestedCall is the call data a multisig proposal carries: a method on the
// destination contract and its JSON arguments. Empty data is a bare value
// transfer.
type NestedCall struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type Options struct {
	ChainID uint64
	// DevMode enables IncreaseTime.
	DevMode bool
	// PausedModules are contract names whose mutations are rejected.
	PausedModules []string
	Now           func() time.Time
	Logger        *slog.Logger
}

// CommitHook observes every sealed block, including its receipt and events.
type CommitHook func(block *types.Block)

// ContractInfo describes a deployed contract.
type ContractInfo struct {
	Name    string       `json:"name"`
	Address Address      `json:"address"`
	Version uint32       `json:"version"`
	Methods []MethodInfo `json:"methods"`
}

// Chain executes signed transactions serially against the native contracts
// and seals each one in its own block.
type Chain struct {
	mu sync.Mutex

	opts       Options
	logger     *slog.Logger
	db         storage.Database
	state      *state.Manager
	blocks     *Blockchain
	bank       *bank.Bank
	events     *events.Buffer
	clock      *Clock
	blockTime  uint64
	migrations *MigrationRegistry
	paused     map[string]bool
	hooks      []CommitHook

	contracts map[[20]byte]Contract
	byName    map[string]Contract

	token    *ledger.Engine
	stable   *ledger.Engine
	escrow   *escrow.Engine
	multisig *multisig.Wallet
	swap     *swap.Engine
}

// NewChain opens the chain stored in db at its head, or an empty chain
// awaiting ApplyGenesis.
func NewChain(db storage.Database, opts Options) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("chain: database required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	blocks, err := NewBlockchain(db)
	if err != nil {
		return nil, err
	}
	var root []byte
	if head := blocks.Head(); head != nil {
		root = head.Header.StateRoot.Bytes()
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("open state trie: %w", err)
	}
	manager := state.NewManager(tr)
	if err := manager.EnsureStateVersion(); err != nil {
		return nil, err
	}

	c := &Chain{
		opts:       opts,
		logger:     logger.With("component", "chain"),
		db:         db,
		state:      manager,
		blocks:     blocks,
		events:     &events.Buffer{},
		clock:      NewClock(opts.Now),
		migrations: NewMigrationRegistry(),
		paused:     make(map[string]bool),
		contracts:  make(map[[20]byte]Contract),
		byName:     make(map[string]Contract),
	}
	for _, module := range opts.PausedModules {
		c.paused[module] = true
	}
	c.bank = bank.New(manager, c.events)
	c.wire()
	return c, nil
}

func (c *Chain) wire() {
	c.token = ledger.NewEngine(crypto.ContractAddress(ContractToken))
	c.stable = ledger.NewEngine(crypto.ContractAddress(ContractStable))
	for _, engine := range []*ledger.Engine{c.token, c.stable} {
		engine.SetState(c.state)
		engine.SetEmitter(c.events)
	}

	c.escrow = escrow.NewEngine(crypto.ContractAddress(ContractEscrow))
	c.escrow.SetState(c.state)
	c.escrow.SetEmitter(c.events)
	c.escrow.SetNowFunc(c.now)
	c.escrow.SetTokenResolver(func(addr [20]byte) (escrow.Token, error) {
		engine, err := c.ledgerAt(addr)
		if err != nil {
			return nil, err
		}
		return engine, nil
	})

	c.multisig = multisig.NewWallet(crypto.ContractAddress(ContractMultisig))
	c.multisig.SetState(c.state)
	c.multisig.SetEmitter(c.events)
	c.multisig.SetNowFunc(c.now)
	c.multisig.SetCaller(nestedCaller{chain: c})

	c.swap = swap.NewEngine(crypto.ContractAddress(ContractSwap))
	c.swap.SetState(c.state)
	c.swap.SetEmitter(c.events)
	c.swap.SetNowFunc(c.now)
	c.swap.SetTokenResolver(func(addr [20]byte) (swap.Token, error) {
		engine, err := c.ledgerAt(addr)
		if err != nil {
			return nil, err
		}
		return engine, nil
	})

	c.register(newLedgerContract(ContractToken, c.token))
	c.register(newLedgerContract(ContractStable, c.stable))
	c.register(newEscrowContract(c.escrow))
	c.register(newMultisigContract(c.multisig))
	c.register(newSwapContract(c.swap))
}

func (c *Chain) register(contract Contract) {
	c.contracts[contract.Address()] = contract
	c.byName[contract.Name()] = contract
}

func (c *Chain) ledgerAt(addr [20]byte) (*ledger.Engine, error) {
	switch addr {
	case c.token.Address():
		return c.token, nil
	case c.stable.Address():
		return c.stable, nil
	}
	return nil, fmt.Errorf("%w: %s is not a token", ErrUnknownContract, crypto.FormatAddress(addr))
}

// now is the time engines observe: the sealing block's timestamp while a
// transaction executes, the clock otherwise.
func (c *Chain) now() int64 {
	if c.blockTime != 0 {
		return int64(c.blockTime)
	}
	return c.clock.Now()
}

// IsPaused implements the module pause view consulted before mutations.
func (c *Chain) IsPaused(module string) bool { return c.paused[module] }

// OnCommit registers a hook run after each block is sealed.
func (c *Chain) OnCommit(hook CommitHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// RegisterMigration adds a schema upgrade step for a contract.
func (c *Chain) RegisterMigration(contract string, from, to uint32, fn Migration) error {
	if _, ok := c.byName[contract]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, contract)
	}
	return c.migrations.Register(contract, from, to, fn)
}

func (c *Chain) ChainID() uint64 { return c.opts.ChainID }

func (c *Chain) DevMode() bool { return c.opts.DevMode }

func (c *Chain) Head() *types.Block { return c.blocks.Head() }

func (c *Chain) BlockByNumber(height uint64) (*types.Block, error) {
	return c.blocks.BlockByNumber(height)
}

func (c *Chain) BlockByHash(hash common.Hash) (*types.Block, error) {
	return c.blocks.BlockByHash(hash)
}

func (c *Chain) Receipt(txHash common.Hash) (*types.Receipt, error) {
	return c.blocks.Receipt(txHash)
}

// ContractAddress resolves a deployment name.
func (c *Chain) ContractAddress(name string) ([20]byte, bool) {
	contract, ok := c.byName[name]
	if !ok {
		return [20]byte{}, false
	}
	return contract.Address(), true
}

// IsView reports whether method on the contract at addr is read-only.
func (c *Chain) IsView(addr [20]byte, method string) (bool, error) {
	contract, ok := c.contracts[addr]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownContract, crypto.FormatAddress(addr))
	}
	if method == MethodUpgradeTo {
		return false, nil
	}
	m, ok := contract.methods()[method]
	if !ok {
		return false, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, contract.Name(), method)
	}
	return m.view, nil
}

// Contracts lists the deployed contracts with their methods and schema
// versions.
func (c *Chain) Contracts() ([]ContractInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ContractInfo, 0, len(c.byName))
	for name, contract := range c.byName {
		version, err := c.state.ModuleVersion(name)
		if err != nil {
			return nil, err
		}
		info := ContractInfo{Name: name, Address: contract.Address(), Version: version}
		for methodName, m := range contract.methods() {
			info.Methods = append(info.Methods, MethodInfo{Name: methodName, View: m.view})
		}
		info.Methods = append(info.Methods, MethodInfo{Name: MethodUpgradeTo})
		sort.Slice(info.Methods, func(i, j int) bool { return info.Methods[i].Name < info.Methods[j].Name })
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func nonceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("account/nonce/%x", addr))
}

func (c *Chain) nonce(addr [20]byte) (uint64, error) {
	var nonce uint64
	if _, err := c.state.KVGet(nonceKey(addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// Nonce returns the next nonce expected from addr.
func (c *Chain) Nonce(addr [20]byte) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce(addr)
}

// Balance returns the native coin balance of addr.
func (c *Chain) Balance(addr [20]byte) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bank.Balance(addr)
}

// Now returns the current chain time in unix seconds.
func (c *Chain) Now() int64 { return c.clock.Now() }

// IncreaseTime advances chain time. Only available in dev mode.
func (c *Chain) IncreaseTime(seconds int64) (int64, error) {
	if !c.opts.DevMode {
		return 0, ErrDevModeDisabled
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("%w: seconds must be positive", ErrInvalidArgs)
	}
	offset := c.clock.Advance(seconds)
	c.logger.Info("chain time advanced", "seconds", seconds, "offset", offset)
	return offset, nil
}

// ApplyTransaction validates tx, executes it atomically and seals the
// outcome in a new block. Transactions that fail validation are rejected
// with an error and leave no trace; transactions that fail during execution
// consume their nonce and produce a failed receipt.
func (c *Chain) ApplyTransaction(tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", ErrInvalidArgs)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	head := c.blocks.Head()
	if head == nil {
		return nil, ErrNotInitialized
	}
	if tx.ChainID != c.opts.ChainID {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongChainID, tx.ChainID, c.opts.ChainID)
	}
	from, err := tx.From()
	if err != nil {
		return nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	expected, err := c.nonce(from)
	if err != nil {
		return nil, err
	}
	switch {
	case tx.Nonce < expected:
		return nil, fmt.Errorf("%w: got %d, want %d", ErrNonceTooLow, tx.Nonce, expected)
	case tx.Nonce > expected:
		return nil, fmt.Errorf("%w: got %d, want %d", ErrNonceTooHigh, tx.Nonce, expected)
	}
	if err := c.state.KVPut(nonceKey(from), expected+1); err != nil {
		return nil, err
	}

	height := head.Header.Height + 1
	c.blockTime = c.clock.Next(head.Header.Timestamp)
	defer func() { c.blockTime = 0 }()

	receipt := &types.Receipt{
		TxHash: hash,
		Height: height,
		From:   common.Address(from),
		To:     common.Address(tx.To),
		Method: tx.Method,
		Status: types.ReceiptSuccess,
	}
	result, execErr := c.invoke(from, tx.To, tx.Value, tx.Method, tx.Args)
	receipt.Events = c.events.Drain()
	if execErr != nil {
		receipt.Status = types.ReceiptFailed
		receipt.Error = execErr.Error()
		receipt.ErrorKind = coreerrors.KindOf(execErr).String()
	} else if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		receipt.Result = encoded
	}
	if receipt.Events == nil {
		receipt.Events = []*types.Event{}
	}

	block, err := c.seal(head, height, hash, receipt)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("transaction applied",
		"height", height,
		"tx", hash.Hex(),
		"method", tx.Method,
		"status", receipt.Status,
		"error", receipt.Error)
	c.notify(block)
	return receipt, nil
}

func (c *Chain) seal(head *types.Block, height uint64, txHash common.Hash, receipt *types.Receipt) (*types.Block, error) {
	root, err := c.state.Commit(head.Header.StateRoot, height)
	if err != nil {
		return nil, fmt.Errorf("commit state: %w", err)
	}
	header := &types.BlockHeader{
		Height:     height,
		Timestamp:  c.blockTime,
		ParentHash: head.Hash,
		StateRoot:  root,
		TxHash:     txHash,
	}
	blockHash, err := header.Hash()
	if err != nil {
		return nil, err
	}
	if receipt != nil {
		receipt.BlockHash = blockHash
	}
	block := &types.Block{Header: header, Hash: blockHash, Receipt: receipt}
	if err := c.blocks.AddBlock(block); err != nil {
		return nil, err
	}
	return block, nil
}

func (c *Chain) notify(block *types.Block) {
	for _, hook := range c.hooks {
		hook(block)
	}
}

// Call runs a method without keeping any of its effects and returns the JSON
// result. Views and mutations are both allowed, which makes Call a dry run
// for transactions.
func (c *Chain) Call(from, to [20]byte, method string, args json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := c.state.Snapshot()
	mark := c.events.Mark()
	defer func() {
		if err := c.state.RevertToSnapshot(snapshot); err != nil {
			c.logger.Error("revert call snapshot", "error", err)
		}
		c.events.Truncate(mark)
	}()
	result, err := c.dispatch(from, to, nil, method, args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// invoke runs one call inside its own snapshot. A failure reverts every
// write and drops every event of the call, nested calls included.
func (c *Chain) invoke(from, to [20]byte, value *big.Int, method string, args json.RawMessage) (interface{}, error) {
	snapshot := c.state.Snapshot()
	mark := c.events.Mark()
	result, err := c.dispatch(from, to, value, method, args)
	if err != nil {
		c.events.Truncate(mark)
		if revertErr := c.state.RevertToSnapshot(snapshot); revertErr != nil {
			return nil, errors.Join(err, revertErr)
		}
		return nil, err
	}
	c.state.DiscardSnapshot(snapshot)
	return result, nil
}

func (c *Chain) dispatch(from, to [20]byte, value *big.Int, method string, args json.RawMessage) (interface{}, error) {
	amount := nativecommon.CloneBigInt(value)
	if err := nativecommon.CheckAmount(amount); err != nil {
		return nil, err
	}
	contract, isContract := c.contracts[to]

	if method == "" {
		if isContract && contract.Name() != ContractMultisig {
			return nil, ErrNotPayable
		}
		if err := c.bank.Transfer(from, to, amount); err != nil {
			return nil, err
		}
		if isContract {
			return nil, c.multisig.Deposit(from, amount)
		}
		return nil, nil
	}

	if !isContract {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, crypto.FormatAddress(to))
	}
	if amount.Sign() > 0 {
		return nil, ErrNotPayable
	}
	if method == MethodUpgradeTo {
		if err := nativecommon.Guard(c, contract.Name()); err != nil {
			return nil, err
		}
		return c.upgrade(from, contract, args)
	}
	m, ok := contract.methods()[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, contract.Name(), method)
	}
	if !m.view {
		if err := nativecommon.Guard(c, contract.Name()); err != nil {
			return nil, err
		}
	}
	return m.fn(from, args)
}

type upgradeArgs struct {
	Version uint32 `json:"version"`
}

func (c *Chain) upgrade(caller [20]byte, contract Contract, raw json.RawMessage) (interface{}, error) {
	var args upgradeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := contract.AuthorizeUpgrade(caller); err != nil {
		return nil, err
	}
	current, err := c.state.ModuleVersion(contract.Name())
	if err != nil {
		return nil, err
	}
	plan, err := c.migrations.Plan(contract.Name(), current, args.Version)
	if err != nil {
		return nil, err
	}
	for _, step := range plan {
		if err := step(c.state); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", contract.Name(), err)
		}
	}
	if err := c.state.SetModuleVersion(contract.Name(), args.Version); err != nil {
		return nil, err
	}
	return map[string]uint32{"from": current, "version": args.Version}, nil
}

// nestedCaller routes multisig executions back through the chain so the
// nested call gets its own snapshot and the wallet as caller.
type nestedCaller struct {
	chain *Chain
}

func (n nestedCaller) Call(from, to [20]byte, value *big.Int, data []byte) ([]byte, error) {
	var call NestedCall
	if len(data) > 0 {
		if err := json.Unmarshal(data, &call); err != nil {
			return nil, fmt.Errorf("%w: call data: %v", ErrInvalidArgs, err)
		}
		if call.Method == "" {
			return nil, fmt.Errorf("%w: call data without method", ErrInvalidArgs)
		}
	}
	result, err := n.chain.invoke(from, to, value, call.Method, call.Args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}
