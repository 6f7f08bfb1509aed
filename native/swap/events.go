package swap

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"finerp/core/events"
	"finerp/core/types"
	nativecommon "finerp/native/common"
)

const (
	EventTypePoolCreated      = "swap.pool.created"
	EventTypeLiquidityAdded   = "swap.liquidity.added"
	EventTypeLiquidityRemoved = "swap.liquidity.removed"
	EventTypeSwap             = "swap.executed"
	EventTypePaused           = "swap.paused"
	EventTypeUnpaused         = "swap.unpaused"
)

var swapABI = nativecommon.MustParseABI(`[
  {"type":"event","name":"PoolCreated","inputs":[
    {"name":"poolId","type":"bytes32","indexed":true},
    {"name":"token0","type":"address","indexed":true},
    {"name":"token1","type":"address","indexed":true}]},
  {"type":"event","name":"LiquidityAdded","inputs":[
    {"name":"poolId","type":"bytes32","indexed":true},
    {"name":"provider","type":"address","indexed":true},
    {"name":"amount0","type":"uint256","indexed":false},
    {"name":"amount1","type":"uint256","indexed":false},
    {"name":"liquidity","type":"uint256","indexed":false}]},
  {"type":"event","name":"LiquidityRemoved","inputs":[
    {"name":"poolId","type":"bytes32","indexed":true},
    {"name":"provider","type":"address","indexed":true},
    {"name":"amount0","type":"uint256","indexed":false},
    {"name":"amount1","type":"uint256","indexed":false},
    {"name":"liquidity","type":"uint256","indexed":false}]},
  {"type":"event","name":"Swap","inputs":[
    {"name":"poolId","type":"bytes32","indexed":true},
    {"name":"trader","type":"address","indexed":true},
    {"name":"tokenIn","type":"address","indexed":false},
    {"name":"amountIn","type":"uint256","indexed":false},
    {"name":"amountOut","type":"uint256","indexed":false}]},
  {"type":"event","name":"Paused","inputs":[{"name":"account","type":"address","indexed":false}]},
  {"type":"event","name":"Unpaused","inputs":[{"name":"account","type":"address","indexed":false}]}
]`)

func (e *Engine) event(eventType, logName string, attrs map[string]string, values ...interface{}) error {
	log, err := nativecommon.EncodeLog(swapABI, e.address, logName, values...)
	if err != nil {
		return err
	}
	e.emitter.Emit(events.Wrap{Evt: &types.Event{Type: eventType, Attributes: attrs, Log: log}})
	return nil
}

func poolAttrs(id ethcommon.Hash, p *Pool) map[string]string {
	return map[string]string{
		"poolId":   id.Hex(),
		"token0":   nativecommon.AddressAttr(p.Token0),
		"token1":   nativecommon.AddressAttr(p.Token1),
		"reserve0": p.Reserve0.String(),
		"reserve1": p.Reserve1.String(),
	}
}

func (e *Engine) emitPoolCreated(id ethcommon.Hash, p *Pool) error {
	return e.event(EventTypePoolCreated, "PoolCreated", poolAttrs(id, p),
		id, ethcommon.Address(p.Token0), ethcommon.Address(p.Token1))
}

func (e *Engine) emitLiquidity(eventType, logName string, id ethcommon.Hash, p *Pool, provider [20]byte, amount0, amount1, liquidity *big.Int) error {
	attrs := poolAttrs(id, p)
	attrs["provider"] = nativecommon.AddressAttr(provider)
	attrs["amount0"] = amount0.String()
	attrs["amount1"] = amount1.String()
	attrs["liquidity"] = liquidity.String()
	return e.event(eventType, logName, attrs, id, ethcommon.Address(provider), amount0, amount1, liquidity)
}

func (e *Engine) emitSwap(id ethcommon.Hash, p *Pool, trader, tokenIn [20]byte, amountIn, amountOut *big.Int) error {
	attrs := poolAttrs(id, p)
	attrs["trader"] = nativecommon.AddressAttr(trader)
	attrs["tokenIn"] = nativecommon.AddressAttr(tokenIn)
	attrs["amountIn"] = amountIn.String()
	attrs["amountOut"] = amountOut.String()
	return e.event(EventTypeSwap, "Swap", attrs, id, ethcommon.Address(trader), ethcommon.Address(tokenIn), amountIn, amountOut)
}
