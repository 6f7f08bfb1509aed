package core

import (
	"fmt"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"finerp/core/genesis"
	"finerp/core/state"
	"finerp/core/types"
	"finerp/native/access"
	"finerp/native/ledger"
)

// ContractSchemaVersion is the schema every contract starts at.
const ContractSchemaVersion uint32 = 1

// ApplyGenesis initializes every contract from spec and seals block 0. It
// fails once any block exists.
func (c *Chain) ApplyGenesis(spec *genesis.Spec) (*types.Block, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil genesis spec", ErrInvalidArgs)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.blocks.Head() != nil {
		return nil, ErrAlreadyInitialized
	}
	if spec.ChainID != c.opts.ChainID {
		return nil, fmt.Errorf("%w: genesis %d, node %d", ErrWrongChainID, spec.ChainID, c.opts.ChainID)
	}
	c.blockTime = uint64(spec.Timestamp().Unix())
	defer func() { c.blockTime = 0 }()

	if err := c.deploy(spec); err != nil {
		// nothing was committed; drop the partial writes
		if resetErr := c.state.Trie().Reset(c.state.Trie().Root()); resetErr != nil {
			c.logger.Error("reset state after failed genesis", "error", resetErr)
		}
		c.events.Drain()
		return nil, err
	}
	c.events.Drain()

	root, err := c.state.Commit(gethtypes.EmptyRootHash, 0)
	if err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}
	header := &types.BlockHeader{
		Height:    0,
		Timestamp: uint64(spec.Timestamp().Unix()),
		StateRoot: root,
	}
	hash, err := header.Hash()
	if err != nil {
		return nil, err
	}
	block := &types.Block{Header: header, Hash: hash}
	if err := c.blocks.AddBlock(block); err != nil {
		return nil, err
	}
	c.logger.Info("genesis applied",
		"chainId", spec.ChainID,
		"stateRoot", root.Hex(),
		"hash", hash.Hex())
	c.notify(block)
	return block, nil
}

func (c *Chain) deploy(spec *genesis.Spec) error {
	admin := spec.AdminAddress()

	tokenCfg, err := spec.Token.Config(ledger.FINConfig())
	if err != nil {
		return err
	}
	if err := c.token.Initialize(admin, tokenCfg); err != nil {
		return fmt.Errorf("initialize %s: %w", ContractToken, err)
	}
	stableCfg, err := spec.Stable.Config(genesis.StableDefaults())
	if err != nil {
		return err
	}
	if err := c.stable.Initialize(admin, stableCfg); err != nil {
		return fmt.Errorf("initialize %s: %w", ContractStable, err)
	}
	if err := c.escrow.Initialize(c.token.Address(), admin); err != nil {
		return fmt.Errorf("initialize %s: %w", ContractEscrow, err)
	}
	owners, required := spec.MultisigOwners()
	if err := c.multisig.Initialize(owners, required, admin); err != nil {
		return fmt.Errorf("initialize %s: %w", ContractMultisig, err)
	}
	if err := c.swap.Initialize(admin); err != nil {
		return fmt.Errorf("initialize %s: %w", ContractSwap, err)
	}

	for account, amount := range spec.Balances {
		addr, err := genesis.ParseAccount(account)
		if err != nil {
			return err
		}
		value, err := genesis.ParseAmount(amount)
		if err != nil {
			return err
		}
		if err := c.bank.Credit(addr, value); err != nil {
			return fmt.Errorf("balance %s: %w", account, err)
		}
	}
	for i, alloc := range spec.Allocations {
		engine, err := c.ledgerByName(alloc.Token)
		if err != nil {
			return fmt.Errorf("allocations[%d]: %w", i, err)
		}
		to, err := genesis.ParseAccount(alloc.To)
		if err != nil {
			return err
		}
		amount, err := genesis.ParseAmount(alloc.Amount)
		if err != nil {
			return err
		}
		if err := engine.Transfer(admin, to, amount); err != nil {
			return fmt.Errorf("allocations[%d]: %w", i, err)
		}
	}
	for i, grant := range spec.Roles {
		roles, err := c.rolesOf(grant.Contract)
		if err != nil {
			return fmt.Errorf("roles[%d]: %w", i, err)
		}
		role, err := access.ParseRole(grant.Role)
		if err != nil {
			return fmt.Errorf("roles[%d]: %w", i, err)
		}
		account, err := genesis.ParseAccount(grant.Account)
		if err != nil {
			return err
		}
		if err := roles.GrantRole(admin, role, account); err != nil {
			return fmt.Errorf("roles[%d]: %w", i, err)
		}
	}
	for _, name := range spec.Paused {
		if err := c.pauseAtGenesis(admin, name); err != nil {
			return err
		}
	}

	for name := range c.byName {
		if err := c.state.SetModuleVersion(name, ContractSchemaVersion); err != nil {
			return err
		}
	}
	return c.state.SetStateVersion(state.StateVersion)
}

func (c *Chain) ledgerByName(name string) (*ledger.Engine, error) {
	switch name {
	case ContractToken:
		return c.token, nil
	case ContractStable:
		return c.stable, nil
	}
	return nil, fmt.Errorf("%w: %q is not a token", ErrUnknownContract, name)
}

func (c *Chain) rolesOf(name string) (*access.Controller, error) {
	switch name {
	case ContractToken:
		return c.token.Roles(), nil
	case ContractStable:
		return c.stable.Roles(), nil
	case ContractEscrow:
		return c.escrow.Roles(), nil
	case ContractMultisig:
		return c.multisig.Roles(), nil
	case ContractSwap:
		return c.swap.Roles(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownContract, name)
}

func (c *Chain) pauseAtGenesis(admin [20]byte, name string) error {
	switch name {
	case ContractSwap:
		return c.swap.Pause(admin)
	default:
		engine, err := c.ledgerByName(name)
		if err != nil {
			return fmt.Errorf("paused: %w", err)
		}
		return engine.Pause(admin, "genesis")
	}
}
