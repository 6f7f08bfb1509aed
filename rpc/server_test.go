package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"finerp/core"
	"finerp/core/genesis"
	"finerp/core/types"
	"finerp/crypto"
	"finerp/native/ledger"
	"finerp/storage"
)

const (
	testChainID = 77
	testSecret  = "rpc-test-secret"
)

type testAccount struct {
	key  *crypto.PrivateKey
	addr [20]byte
}

func newTestAccount(t *testing.T) testAccount {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return testAccount{key: key, addr: key.PubKey().Address().Raw()}
}

type testEnv struct {
	t      *testing.T
	chain  *core.Chain
	server *Server
	http   *httptest.Server
	admin  testAccount
	alice  testAccount
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	chain, err := core.NewChain(db, core.Options{
		ChainID: testChainID,
		DevMode: true,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)

	env := &testEnv{t: t, chain: chain, admin: newTestAccount(t), alice: newTestAccount(t)}
	spec, err := genesis.Parse([]byte(`
chainId: 77
genesisTime: "2026-01-01T00:00:00Z"
admin: ` + crypto.FormatAddress(env.admin.addr) + `
balances:
  ` + crypto.FormatAddress(env.admin.addr) + `: "10"
`))
	require.NoError(t, err)
	_, err = chain.ApplyGenesis(spec)
	require.NoError(t, err)

	env.server = NewServer(chain, cfg, nil)
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(func() {
		env.http.Close()
		require.NoError(t, env.server.Shutdown(context.Background()))
	})
	return env
}

func (e *testEnv) post(method string, header http.Header, params ...interface{}) (int, RPCResponse) {
	e.t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(e.t, err)
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: json.RawMessage("1")})
	require.NoError(e.t, err)
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/rpc", bytes.NewReader(body))
	require.NoError(e.t, err)
	for key, values := range header {
		req.Header[key] = values
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var out RPCResponse
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (e *testEnv) result(method string, out interface{}, params ...interface{}) {
	e.t.Helper()
	_, resp := e.post(method, nil, params...)
	require.Nil(e.t, resp.Error, "%s: %+v", method, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(e.t, err)
	require.NoError(e.t, json.Unmarshal(raw, out))
}

func (e *testEnv) signedTransfer(to [20]byte, amount *big.Int) *types.Transaction {
	e.t.Helper()
	nonce, err := e.chain.Nonce(e.admin.addr)
	require.NoError(e.t, err)
	args, err := json.Marshal(map[string]interface{}{"to": core.Address(to), "amount": core.NewAmount(amount)})
	require.NoError(e.t, err)
	tokenAddr, ok := e.chain.ContractAddress(core.ContractToken)
	require.True(e.t, ok)
	tx := &types.Transaction{
		ChainID: testChainID,
		Nonce:   nonce,
		To:      tokenAddr,
		Method:  "transfer",
		Args:    args,
	}
	require.NoError(e.t, tx.Sign(e.admin.key.PrivateKey))
	return tx
}

func (e *testEnv) tokenBalance(addr [20]byte) *big.Int {
	e.t.Helper()
	var amount core.Amount
	e.result("ledger_balanceOf", &amount, core.ContractToken, map[string]interface{}{"account": core.Address(addr)})
	return amount.Big()
}

func TestChainMethods(t *testing.T) {
	env := newTestEnv(t, Config{})

	var chainID uint64
	env.result("fin_chainId", &chainID)
	require.Equal(t, uint64(testChainID), chainID)

	var height uint64
	env.result("fin_blockNumber", &height)
	require.Zero(t, height)

	var block types.Block
	env.result("fin_getBlockByNumber", &block, "latest")
	require.Equal(t, env.chain.Head().Hash, block.Hash)

	var balance BalanceResult
	env.result("fin_getBalance", &balance, core.Address(env.admin.addr))
	require.Zero(t, ledger.Units(10).Cmp(balance.Balance.Big()))
	require.Zero(t, balance.Nonce)

	var contracts []core.ContractInfo
	env.result("fin_contracts", &contracts)
	require.Len(t, contracts, 5)

	var symbol string
	env.result("ledger_symbol", &symbol, core.ContractStable)
	require.Equal(t, "FUSD", symbol)
}

func TestSendTransactionAppliesAndReturnsReceipt(t *testing.T) {
	env := newTestEnv(t, Config{})

	tx := env.signedTransfer(env.alice.addr, ledger.Units(25))
	var receipt types.Receipt
	env.result("fin_sendTransaction", &receipt, NewTransactionArgs(tx))
	require.Equal(t, types.ReceiptSuccess, receipt.Status, receipt.Error)
	require.NotEmpty(t, receipt.Events)
	require.Zero(t, ledger.Units(25).Cmp(env.tokenBalance(env.alice.addr)))

	var stored types.Receipt
	env.result("fin_getReceipt", &stored, receipt.TxHash)
	require.Equal(t, receipt.BlockHash, stored.BlockHash)

	raw, err := env.signedTransfer(env.alice.addr, ledger.Units(5)).Encode()
	require.NoError(t, err)
	env.result("fin_sendRawTransaction", &receipt, hexutil.Bytes(raw))
	require.Equal(t, types.ReceiptSuccess, receipt.Status, receipt.Error)
	require.Zero(t, ledger.Units(30).Cmp(env.tokenBalance(env.alice.addr)))

	var nonce uint64
	env.result("fin_getNonce", &nonce, core.Address(env.admin.addr))
	require.Equal(t, uint64(2), nonce)
}

func TestSendTransactionRejectsWrongChainID(t *testing.T) {
	env := newTestEnv(t, Config{})

	tx := env.signedTransfer(env.alice.addr, ledger.Units(1))
	tx.ChainID = testChainID + 1
	require.NoError(t, tx.Sign(env.admin.key.PrivateKey))

	_, resp := env.post("fin_sendTransaction", nil, NewTransactionArgs(tx))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeValidation, resp.Error.Code)
}

func TestCallDryRunsMutations(t *testing.T) {
	env := newTestEnv(t, Config{})

	var ok bool
	env.result("fin_call", &ok, CallArgs{
		From:   addrPtr(env.admin.addr),
		To:     core.ContractToken,
		Method: "transfer",
		Args:   json.RawMessage(`{"to":"` + crypto.FormatAddress(env.alice.addr) + `","amount":"1"}`),
	})
	require.True(t, ok)
	require.Zero(t, env.tokenBalance(env.alice.addr).Sign())

	_, resp := env.post("fin_call", nil, CallArgs{
		From:   addrPtr(env.alice.addr),
		To:     core.ContractToken,
		Method: "transfer",
		Args:   json.RawMessage(`{"to":"` + crypto.FormatAddress(env.admin.addr) + `","amount":"1"}`),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvariant, resp.Error.Code)
}

func addrPtr(addr [20]byte) *core.Address {
	a := core.Address(addr)
	return &a
}

func TestModuleNamespaceServesOnlyViews(t *testing.T) {
	env := newTestEnv(t, Config{})

	var count uint64
	env.result("escrow_projectCount", &count)
	require.Zero(t, count)

	_, resp := env.post("ledger_transfer", nil, core.ContractToken, map[string]interface{}{})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)

	_, resp = env.post("escrow_noSuchView", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	_, resp = env.post("bogus_method", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestMalformedRequests(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, err := env.http.Client().Post(env.http.URL+"/rpc", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, codeParseError, out.Error.Code)
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func devToken(t *testing.T, secret string, expires time.Time) http.Header {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": expires.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return http.Header{"Authorization": []string{"Bearer " + signed}}
}

func TestDevNamespaceRequiresJWT(t *testing.T) {
	env := newTestEnv(t, Config{JWTSecret: testSecret})

	status, resp := env.post("dev_increaseTime", nil, 3600)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, _ = env.post("dev_increaseTime", devToken(t, "wrong-secret", time.Now().Add(time.Hour)), 3600)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.post("dev_increaseTime", devToken(t, testSecret, time.Now().Add(-time.Hour)), 3600)
	require.Equal(t, http.StatusUnauthorized, status)

	before := env.chain.Now()
	status, resp = env.post("dev_increaseTime", devToken(t, testSecret, time.Now().Add(time.Hour)), 3600)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
	require.Equal(t, before+3600, env.chain.Now())
}

func TestDevNamespaceDisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, Config{})

	status, resp := env.post("dev_increaseTime", devToken(t, testSecret, time.Now().Add(time.Hour)), 60)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	env := newTestEnv(t, Config{RateLimitPerSec: 0.001, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		status, resp := env.post("fin_chainId", nil)
		require.Equal(t, http.StatusOK, status)
		require.Nil(t, resp.Error)
	}
	status, resp := env.post("fin_chainId", nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{Metrics: true})
	env.result("fin_chainId", new(uint64))

	resp, err := env.http.Client().Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, body.String(), "fin_rpc_requests_total")
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?type=" + ledger.EventTypeTransfer
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// the subscription is registered after the upgrade completes
	require.Eventually(t, func() bool {
		env.server.hub.mu.Lock()
		defer env.server.hub.mu.Unlock()
		return len(env.server.hub.subs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var receipt types.Receipt
	env.result("fin_sendTransaction", &receipt, NewTransactionArgs(env.signedTransfer(env.alice.addr, ledger.Units(3))))
	require.Equal(t, types.ReceiptSuccess, receipt.Status, receipt.Error)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg EventMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, ledger.EventTypeTransfer, msg.Event.Type)
	require.Equal(t, receipt.TxHash, msg.TxHash)
	require.Equal(t, uint64(1), msg.Height)
}
