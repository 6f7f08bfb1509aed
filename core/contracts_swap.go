package core

import (
	"encoding/json"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"finerp/native/access"
	"finerp/native/swap"
)

type swapContract struct {
	engine *swap.Engine
	table  methodTable
}

func newSwapContract(engine *swap.Engine) *swapContract {
	c := &swapContract{engine: engine, table: methodTable{}}
	c.register()
	return c
}

func (c *swapContract) Name() string { return ContractSwap }

func (c *swapContract) Address() [20]byte { return c.engine.Address() }

func (c *swapContract) AuthorizeUpgrade(caller [20]byte) error {
	return c.engine.AuthorizeUpgrade(caller)
}

func (c *swapContract) methods() methodTable { return c.table }

type swapArgs struct {
	TokenA       Address        `json:"tokenA"`
	TokenB       Address        `json:"tokenB"`
	TokenIn      Address        `json:"tokenIn"`
	TokenOut     Address        `json:"tokenOut"`
	AmountA      Amount         `json:"amountA"`
	AmountB      Amount         `json:"amountB"`
	AmountIn     Amount         `json:"amountIn"`
	MinAmountOut Amount         `json:"minAmountOut"`
	Liquidity    Amount         `json:"liquidity"`
	PoolID       ethcommon.Hash `json:"poolId"`
	Provider     Address        `json:"provider"`
}

func (c *swapContract) register() {
	e := c.engine
	t := c.table
	decode := func(raw json.RawMessage) (swapArgs, error) {
		var args swapArgs
		err := decodeArgs(raw, &args)
		return args, err
	}

	t.mutation("addLiquidity", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		usedA, usedB, minted, err := e.AddLiquidity(caller, args.TokenA, args.TokenB, args.AmountA.Big(), args.AmountB.Big())
		if err != nil {
			return nil, err
		}
		return map[string]Amount{
			"amountA":   NewAmount(usedA),
			"amountB":   NewAmount(usedB),
			"liquidity": NewAmount(minted),
		}, nil
	})
	t.mutation("removeLiquidity", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		outA, outB, err := e.RemoveLiquidity(caller, args.TokenA, args.TokenB, args.Liquidity.Big())
		if err != nil {
			return nil, err
		}
		return map[string]Amount{"amountA": NewAmount(outA), "amountB": NewAmount(outB)}, nil
	})
	t.mutation("swap", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out, err := e.Swap(caller, args.TokenIn, args.TokenOut, args.AmountIn.Big(), args.MinAmountOut.Big())
		if err != nil {
			return nil, err
		}
		return map[string]Amount{"amountOut": NewAmount(out)}, nil
	})
	t.mutation("pause", func(caller [20]byte, _ json.RawMessage) (interface{}, error) {
		return nil, e.Pause(caller)
	})
	t.mutation("unpause", func(caller [20]byte, _ json.RawMessage) (interface{}, error) {
		return nil, e.Unpause(caller)
	})

	t.view("getAmountOut", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out, err := e.GetAmountOut(args.TokenIn, args.TokenOut, args.AmountIn.Big())
		if err != nil {
			return nil, err
		}
		return NewAmount(out), nil
	})
	t.view("getPoolId", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return e.GetPoolID(args.TokenA, args.TokenB)
	})
	t.view("pools", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		pool, err := e.Pool(args.PoolID)
		if err != nil {
			return nil, err
		}
		return poolView(args.PoolID, pool), nil
	})
	t.view("listPools", func(json.RawMessage) (interface{}, error) {
		ids, err := e.PoolIDs()
		if err != nil {
			return nil, err
		}
		out := make([]*PoolView, 0, len(ids))
		for _, id := range ids {
			pool, err := e.Pool(id)
			if err != nil {
				return nil, err
			}
			out = append(out, poolView(id, pool))
		}
		return out, nil
	})
	t.view("liquidityOf", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		shares, err := e.LiquidityOf(args.PoolID, args.Provider)
		if err != nil {
			return nil, err
		}
		return NewAmount(shares), nil
	})
	addRoleMethods(t, e.Roles, access.PauserRole)
}
