package swap

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"finerp/core/events"
	"finerp/native/access"
	nativecommon "finerp/native/common"
)

// ModuleName keys the swap schema version in state.
const ModuleName = "swap"

type engineState interface {
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

// Token is the ledger surface the pool pulls deposits and pays out through.
type Token interface {
	Transfer(caller, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
}

type TokenResolver func(address [20]byte) (Token, error)

// Settings is the pool-wide configuration.
type Settings struct {
	Initialized bool
	Paused      bool
}

// Engine runs constant-product pools keyed by the sorted token pair.
type Engine struct {
	address [20]byte
	state   engineState
	emitter events.Emitter
	tokens  TokenResolver
	nowFn   func() int64
	guard   nativecommon.ReentrancyGuard
}

func NewEngine(address [20]byte) *Engine {
	return &Engine{
		address: address,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) Address() [20]byte { return e.address }

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetTokenResolver(resolver TokenResolver) { e.tokens = resolver }

func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) Roles() *access.Controller {
	return access.NewController(e.state, e.address, e.emitter)
}

func (e *Engine) mutate(fn func() error) error {
	if e.state == nil {
		return errNilState
	}
	return e.guard.NonReentrant(func() error {
		return nativecommon.Atomic(e.state, fn)
	})
}

func (e *Engine) loadSettings() (*Settings, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var settings Settings
	ok, err := e.state.KVGet(e.settingsKey(), &settings)
	if err != nil {
		return nil, err
	}
	if !ok || !settings.Initialized {
		return nil, ErrNotInitialized
	}
	return &settings, nil
}

func (e *Engine) active() error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if settings.Paused {
		return ErrContractPaused
	}
	return nil
}

func (e *Engine) token(addr [20]byte) (Token, error) {
	if e.tokens == nil {
		return nil, errNilTokens
	}
	return e.tokens(addr)
}

func (e *Engine) loadPool(id ethcommon.Hash) (*Pool, bool, error) {
	var pool Pool
	ok, err := e.state.KVGet(e.poolKey(id), &pool)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &pool, true, nil
}

func (e *Engine) storePool(id ethcommon.Hash, pool *Pool) error {
	return e.state.KVPut(e.poolKey(id), pool)
}

func (e *Engine) readShares(id ethcommon.Hash, provider [20]byte) (*big.Int, error) {
	var shares big.Int
	ok, err := e.state.KVGet(e.sharesKey(id, provider), &shares)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return &shares, nil
}

func (e *Engine) writeShares(id ethcommon.Hash, provider [20]byte, shares *big.Int) error {
	if shares.Sign() == 0 {
		return e.state.KVDelete(e.sharesKey(id, provider))
	}
	return e.state.KVPut(e.sharesKey(id, provider), shares)
}

// Initialize configures the pool contract once and grants admin the admin
// and pauser roles.
func (e *Engine) Initialize(admin [20]byte) error {
	if admin == ([20]byte{}) {
		return ErrZeroAddress
	}
	return e.mutate(func() error {
		if _, err := e.loadSettings(); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, ErrNotInitialized) {
			return err
		}
		if err := e.state.KVPut(e.settingsKey(), &Settings{Initialized: true}); err != nil {
			return err
		}
		roles := e.Roles()
		for _, role := range []access.Role{access.DefaultAdminRole, access.PauserRole} {
			if err := roles.Setup(role, admin, admin); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) AuthorizeUpgrade(caller [20]byte) error {
	if _, err := e.loadSettings(); err != nil {
		return err
	}
	return e.Roles().Require(access.DefaultAdminRole, caller)
}

func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	return e.mutate(func() error {
		settings, err := e.loadSettings()
		if err != nil {
			return err
		}
		if err := e.Roles().Require(access.PauserRole, caller); err != nil {
			return err
		}
		if settings.Paused == paused {
			if paused {
				return ErrContractPaused
			}
			return ErrNotPaused
		}
		settings.Paused = paused
		if err := e.state.KVPut(e.settingsKey(), settings); err != nil {
			return err
		}
		eventType, logName := EventTypePaused, "Paused"
		if !paused {
			eventType, logName = EventTypeUnpaused, "Unpaused"
		}
		return e.event(eventType, logName, map[string]string{
			"account": nativecommon.AddressAttr(caller),
		}, ethcommon.Address(caller))
	})
}

// AddLiquidity deposits up to (amountA, amountB). The first deposit sets the
// price; later deposits are trimmed to the pool ratio and only the used
// amounts are pulled. Returns the amounts taken and the shares minted.
func (e *Engine) AddLiquidity(provider, tokenA, tokenB [20]byte, amountA, amountB *big.Int) (*big.Int, *big.Int, *big.Int, error) {
	var usedA, usedB, minted *big.Int
	err := e.mutate(func() error {
		if err := e.active(); err != nil {
			return err
		}
		if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
			return ErrInvalidAmount
		}
		id, err := PoolID(tokenA, tokenB)
		if err != nil {
			return err
		}
		pool, ok, err := e.loadPool(id)
		if err != nil {
			return err
		}
		created := !ok
		if created {
			token0, token1, _ := SortTokens(tokenA, tokenB)
			pool = &Pool{
				Token0:         token0,
				Token1:         token1,
				Reserve0:       big.NewInt(0),
				Reserve1:       big.NewInt(0),
				TotalLiquidity: big.NewInt(0),
				CreatedAt:      uint64(e.nowFn()),
			}
			if err := e.state.KVAppend(e.poolIndexKey(), id.Bytes()); err != nil {
				return err
			}
		}
		reserveA, reserveB := pool.Reserves(tokenA)
		usedA, usedB, err = optimalAmounts(amountA, amountB, reserveA, reserveB)
		if err != nil {
			return err
		}
		minted, err = mintedLiquidity(usedA, usedB, reserveA, reserveB, pool.TotalLiquidity)
		if err != nil {
			return err
		}

		total := new(big.Int).Add(pool.TotalLiquidity, minted)
		if created {
			total.Add(total, MinimumLiquidity)
		}
		newA, err := nativecommon.Add(reserveA, usedA)
		if err != nil {
			return err
		}
		newB, err := nativecommon.Add(reserveB, usedB)
		if err != nil {
			return err
		}
		pool.setReserves(tokenA, newA, newB)
		pool.TotalLiquidity = total
		if err := e.storePool(id, pool); err != nil {
			return err
		}
		held, err := e.readShares(id, provider)
		if err != nil {
			return err
		}
		if err := e.writeShares(id, provider, new(big.Int).Add(held, minted)); err != nil {
			return err
		}

		tokenAImpl, err := e.token(tokenA)
		if err != nil {
			return err
		}
		tokenBImpl, err := e.token(tokenB)
		if err != nil {
			return err
		}
		if err := tokenAImpl.TransferFrom(e.address, provider, e.address, usedA); err != nil {
			return fmt.Errorf("swap: pull token A: %w", err)
		}
		if err := tokenBImpl.TransferFrom(e.address, provider, e.address, usedB); err != nil {
			return fmt.Errorf("swap: pull token B: %w", err)
		}

		if created {
			if err := e.emitPoolCreated(id, pool); err != nil {
				return err
			}
		}
		amount0, amount1 := usedA, usedB
		if tokenA != pool.Token0 {
			amount0, amount1 = usedB, usedA
		}
		return e.emitLiquidity(EventTypeLiquidityAdded, "LiquidityAdded", id, pool, provider, amount0, amount1, minted)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return usedA, usedB, minted, nil
}

// RemoveLiquidity burns shares and pays out the proportional reserves,
// returned in (tokenA, tokenB) order.
func (e *Engine) RemoveLiquidity(provider, tokenA, tokenB [20]byte, liquidity *big.Int) (*big.Int, *big.Int, error) {
	var outA, outB *big.Int
	err := e.mutate(func() error {
		if err := e.active(); err != nil {
			return err
		}
		if liquidity == nil || liquidity.Sign() <= 0 {
			return ErrInvalidAmount
		}
		id, err := PoolID(tokenA, tokenB)
		if err != nil {
			return err
		}
		pool, ok, err := e.loadPool(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPoolNotFound
		}
		held, err := e.readShares(id, provider)
		if err != nil {
			return err
		}
		remaining, err := nativecommon.Sub(held, liquidity)
		if err != nil {
			return ErrInsufficientShares
		}
		reserveA, reserveB := pool.Reserves(tokenA)
		if outA, err = nativecommon.MulDiv(liquidity, reserveA, pool.TotalLiquidity); err != nil {
			return err
		}
		if outB, err = nativecommon.MulDiv(liquidity, reserveB, pool.TotalLiquidity); err != nil {
			return err
		}
		if outA.Sign() == 0 || outB.Sign() == 0 {
			return ErrInsufficientLiquidityBurned
		}
		pool.setReserves(tokenA, new(big.Int).Sub(reserveA, outA), new(big.Int).Sub(reserveB, outB))
		pool.TotalLiquidity = new(big.Int).Sub(pool.TotalLiquidity, liquidity)
		if err := e.storePool(id, pool); err != nil {
			return err
		}
		if err := e.writeShares(id, provider, remaining); err != nil {
			return err
		}

		tokenAImpl, err := e.token(tokenA)
		if err != nil {
			return err
		}
		tokenBImpl, err := e.token(tokenB)
		if err != nil {
			return err
		}
		if err := tokenAImpl.Transfer(e.address, provider, outA); err != nil {
			return fmt.Errorf("swap: pay token A: %w", err)
		}
		if err := tokenBImpl.Transfer(e.address, provider, outB); err != nil {
			return fmt.Errorf("swap: pay token B: %w", err)
		}
		amount0, amount1 := outA, outB
		if tokenA != pool.Token0 {
			amount0, amount1 = outB, outA
		}
		return e.emitLiquidity(EventTypeLiquidityRemoved, "LiquidityRemoved", id, pool, provider, amount0, amount1, liquidity)
	})
	if err != nil {
		return nil, nil, err
	}
	return outA, outB, nil
}

// Swap sells amountIn of tokenIn for at least minAmountOut of tokenOut.
func (e *Engine) Swap(trader, tokenIn, tokenOut [20]byte, amountIn, minAmountOut *big.Int) (*big.Int, error) {
	var amountOut *big.Int
	err := e.mutate(func() error {
		if err := e.active(); err != nil {
			return err
		}
		id, err := PoolID(tokenIn, tokenOut)
		if err != nil {
			return err
		}
		pool, ok, err := e.loadPool(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPoolNotFound
		}
		reserveIn, reserveOut := pool.Reserves(tokenIn)
		amountOut, err = AmountOut(amountIn, reserveIn, reserveOut)
		if err != nil {
			return err
		}
		if amountOut.Sign() == 0 || amountOut.Cmp(reserveOut) >= 0 {
			return ErrInsufficientOutput
		}
		if minAmountOut != nil && amountOut.Cmp(minAmountOut) < 0 {
			return fmt.Errorf("%w: out %s < min %s", ErrSlippage, amountOut, minAmountOut)
		}
		newIn, err := nativecommon.Add(reserveIn, amountIn)
		if err != nil {
			return err
		}
		newOut := new(big.Int).Sub(reserveOut, amountOut)
		if err := checkProduct(reserveIn, reserveOut, newIn, newOut); err != nil {
			return err
		}
		pool.setReserves(tokenIn, newIn, newOut)
		if err := e.storePool(id, pool); err != nil {
			return err
		}

		in, err := e.token(tokenIn)
		if err != nil {
			return err
		}
		out, err := e.token(tokenOut)
		if err != nil {
			return err
		}
		if err := in.TransferFrom(e.address, trader, e.address, amountIn); err != nil {
			return fmt.Errorf("swap: pull input: %w", err)
		}
		if err := out.Transfer(e.address, trader, amountOut); err != nil {
			return fmt.Errorf("swap: pay output: %w", err)
		}
		return e.emitSwap(id, pool, trader, tokenIn, amountIn, amountOut)
	})
	if err != nil {
		return nil, err
	}
	return amountOut, nil
}

func checkProduct(oldIn, oldOut, newIn, newOut *big.Int) error {
	before := new(big.Int).Mul(oldIn, oldOut)
	after := new(big.Int).Mul(newIn, newOut)
	if after.Cmp(before) < 0 {
		return ErrInvariantViolated
	}
	return nil
}

// GetAmountOut quotes Swap without touching state.
func (e *Engine) GetAmountOut(tokenIn, tokenOut [20]byte, amountIn *big.Int) (*big.Int, error) {
	if _, err := e.loadSettings(); err != nil {
		return nil, err
	}
	id, err := PoolID(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	pool, ok, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotFound
	}
	reserveIn, reserveOut := pool.Reserves(tokenIn)
	return AmountOut(amountIn, reserveIn, reserveOut)
}

func (e *Engine) GetPoolID(tokenA, tokenB [20]byte) (ethcommon.Hash, error) {
	return PoolID(tokenA, tokenB)
}

// Pool returns the pool stored under id.
func (e *Engine) Pool(id ethcommon.Hash) (*Pool, error) {
	if e.state == nil {
		return nil, errNilState
	}
	pool, ok, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

// PoolIDs lists pools in creation order.
func (e *Engine) PoolIDs() ([]ethcommon.Hash, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(e.poolIndexKey(), &raw); err != nil {
		return nil, err
	}
	ids := make([]ethcommon.Hash, 0, len(raw))
	for _, entry := range raw {
		ids = append(ids, ethcommon.BytesToHash(entry))
	}
	return ids, nil
}

func (e *Engine) LiquidityOf(id ethcommon.Hash, provider [20]byte) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	return e.readShares(id, provider)
}
