package core

import (
	"encoding/json"

	"finerp/native/access"
	"finerp/native/ledger"
)

type ledgerContract struct {
	name   string
	engine *ledger.Engine
	table  methodTable
}

func newLedgerContract(name string, engine *ledger.Engine) *ledgerContract {
	c := &ledgerContract{name: name, engine: engine, table: methodTable{}}
	c.register()
	return c
}

func (c *ledgerContract) Name() string { return c.name }

func (c *ledgerContract) Address() [20]byte { return c.engine.Address() }

func (c *ledgerContract) AuthorizeUpgrade(caller [20]byte) error {
	return c.engine.Roles().Require(access.DefaultAdminRole, caller)
}

func (c *ledgerContract) methods() methodTable { return c.table }

type transferArgs struct {
	From    Address `json:"from"`
	To      Address `json:"to"`
	Account Address `json:"account"`
	Spender Address `json:"spender"`
	Owner   Address `json:"owner"`
	Amount  Amount  `json:"amount"`
	Reason  string  `json:"reason"`
}

func (c *ledgerContract) register() {
	e := c.engine
	t := c.table
	t.mutation("mint", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		var args transferArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, e.Mint(caller, args.To, args.Amount.Big())
	})
	t.mutation("burn", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		var args transferArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, e.Burn(caller, args.Amount.Big())
	})
	t.mutation("burnFrom", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		var args transferArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, e.BurnFrom(caller, args.Account, args.Amount.Big())
	})
	t.mutation("pause", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		var args transferArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, e.Pause(caller, args.Reason)
	})
	t.mutation("unpause", func(caller [20]byte, _ json.RawMessage) (interface{}, error) {
		return nil, e.Unpause(caller)
	})
	t.mutation("transfer", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		var args transferArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return true, e.Transfer(caller, args.To, args.Amount.Big())
	})
	t.mutation("approve", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		var args transferArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return true, e.Approve(caller, args.Spender, args.Amount.Big())
	})
	t.mutation("transferFrom", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		var args transferArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return true, e.TransferFrom(caller, args.From, args.To, args.Amount.Big())
	})

	t.view("balanceOf", func(raw json.RawMessage) (interface{}, error) {
		var args transferArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		balance, err := e.BalanceOf(args.Account)
		if err != nil {
			return nil, err
		}
		return NewAmount(balance), nil
	})
	t.view("allowance", func(raw json.RawMessage) (interface{}, error) {
		var args transferArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		allowance, err := e.Allowance(args.Owner, args.Spender)
		if err != nil {
			return nil, err
		}
		return NewAmount(allowance), nil
	})
	t.view("totalSupply", func(json.RawMessage) (interface{}, error) {
		supply, err := e.TotalSupply()
		if err != nil {
			return nil, err
		}
		return NewAmount(supply), nil
	})
	t.view("paused", func(json.RawMessage) (interface{}, error) {
		return e.Paused()
	})
	t.view("metadata", func(json.RawMessage) (interface{}, error) {
		meta, err := e.Metadata()
		if err != nil {
			return nil, err
		}
		return tokenMetadataView(e.Address(), meta), nil
	})
	t.view("name", func(json.RawMessage) (interface{}, error) {
		meta, err := e.Metadata()
		if err != nil {
			return nil, err
		}
		return meta.Name, nil
	})
	t.view("symbol", func(json.RawMessage) (interface{}, error) {
		meta, err := e.Metadata()
		if err != nil {
			return nil, err
		}
		return meta.Symbol, nil
	})
	t.view("decimals", func(json.RawMessage) (interface{}, error) {
		meta, err := e.Metadata()
		if err != nil {
			return nil, err
		}
		return meta.Decimals, nil
	})
	addRoleMethods(t, e.Roles, access.MinterRole, access.PauserRole)
}
