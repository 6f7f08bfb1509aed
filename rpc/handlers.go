package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"finerp/core"
	"finerp/core/types"
	"finerp/observability"
)

// moduleNamespaces are served by forwarding <namespace>_<view> to the
// contract's read-only method.
var moduleNamespaces = map[string]bool{
	"ledger":   true,
	"escrow":   true,
	"multisig": true,
	"swap":     true,
}

var namespaceContracts = map[string]string{
	"escrow":   core.ContractEscrow,
	"multisig": core.ContractMultisig,
	"swap":     core.ContractSwap,
}

func (s *Server) routes() map[string]methodHandler {
	return map[string]methodHandler{
		"fin_chainId":            s.handleChainID,
		"fin_blockNumber":        s.handleBlockNumber,
		"fin_time":               s.handleTime,
		"fin_getBlockByNumber":   s.handleGetBlockByNumber,
		"fin_getBlockByHash":     s.handleGetBlockByHash,
		"fin_getReceipt":         s.handleGetReceipt,
		"fin_getNonce":           s.handleGetNonce,
		"fin_getBalance":         s.handleGetBalance,
		"fin_contracts":          s.handleContracts,
		"fin_call":               s.handleCall,
		"fin_sendTransaction":    s.handleSendTransaction,
		"fin_sendRawTransaction": s.handleSendRawTransaction,
		"dev_increaseTime":       s.handleIncreaseTime,
	}
}

func singleParam(params []json.RawMessage, out interface{}) error {
	if len(params) != 1 {
		return invalidParams("expected exactly one parameter", nil)
	}
	if err := json.Unmarshal(params[0], out); err != nil {
		return invalidParams("invalid parameter", err.Error())
	}
	return nil
}

func (s *Server) handleChainID(_ *http.Request, _ []json.RawMessage) (interface{}, error) {
	return s.chain.ChainID(), nil
}

func (s *Server) handleBlockNumber(_ *http.Request, _ []json.RawMessage) (interface{}, error) {
	head := s.chain.Head()
	if head == nil {
		return nil, core.ErrNotInitialized
	}
	return head.Header.Height, nil
}

func (s *Server) handleTime(_ *http.Request, _ []json.RawMessage) (interface{}, error) {
	return TimeResult{Now: s.chain.Now()}, nil
}

// parseHeight accepts a number, a decimal or 0x string, or "latest".
func (s *Server) parseHeight(raw json.RawMessage) (uint64, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var height uint64
		if err := json.Unmarshal(raw, &height); err != nil {
			return 0, invalidParams("block height must be a number or \"latest\"", nil)
		}
		return height, nil
	}
	text = strings.TrimSpace(text)
	if text == "latest" {
		head := s.chain.Head()
		if head == nil {
			return 0, core.ErrNotInitialized
		}
		return head.Header.Height, nil
	}
	if strings.HasPrefix(text, "0x") {
		height, err := hexutil.DecodeUint64(text)
		if err != nil {
			return 0, invalidParams("invalid block height", err.Error())
		}
		return height, nil
	}
	height, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, invalidParams("invalid block height", err.Error())
	}
	return height, nil
}

func (s *Server) handleGetBlockByNumber(_ *http.Request, params []json.RawMessage) (interface{}, error) {
	if len(params) != 1 {
		return nil, invalidParams("expected block height", nil)
	}
	height, err := s.parseHeight(params[0])
	if err != nil {
		return nil, err
	}
	return s.chain.BlockByNumber(height)
}

func (s *Server) handleGetBlockByHash(_ *http.Request, params []json.RawMessage) (interface{}, error) {
	var hash common.Hash
	if err := singleParam(params, &hash); err != nil {
		return nil, err
	}
	return s.chain.BlockByHash(hash)
}

func (s *Server) handleGetReceipt(_ *http.Request, params []json.RawMessage) (interface{}, error) {
	var hash common.Hash
	if err := singleParam(params, &hash); err != nil {
		return nil, err
	}
	return s.chain.Receipt(hash)
}

func (s *Server) handleGetNonce(_ *http.Request, params []json.RawMessage) (interface{}, error) {
	var addr core.Address
	if err := singleParam(params, &addr); err != nil {
		return nil, err
	}
	return s.chain.Nonce(addr)
}

func (s *Server) handleGetBalance(_ *http.Request, params []json.RawMessage) (interface{}, error) {
	var addr core.Address
	if err := singleParam(params, &addr); err != nil {
		return nil, err
	}
	balance, err := s.chain.Balance(addr)
	if err != nil {
		return nil, err
	}
	nonce, err := s.chain.Nonce(addr)
	if err != nil {
		return nil, err
	}
	return BalanceResult{Address: addr, Balance: core.NewAmount(balance), Nonce: nonce}, nil
}

func (s *Server) handleContracts(_ *http.Request, _ []json.RawMessage) (interface{}, error) {
	return s.chain.Contracts()
}

// handleCall executes any method, views and mutations alike, and discards
// its effects.
func (s *Server) handleCall(_ *http.Request, params []json.RawMessage) (interface{}, error) {
	var args CallArgs
	if err := singleParam(params, &args); err != nil {
		return nil, err
	}
	to, err := resolveContract(s.chain, args.To)
	if err != nil {
		return nil, invalidParams(err.Error(), nil)
	}
	var from [20]byte
	if args.From != nil {
		from = *args.From
	}
	return s.chain.Call(from, to, args.Method, args.Args)
}

func (s *Server) handleSendTransaction(_ *http.Request, params []json.RawMessage) (interface{}, error) {
	var args TransactionArgs
	if err := singleParam(params, &args); err != nil {
		return nil, err
	}
	return s.apply(args.Transaction())
}

func (s *Server) handleSendRawTransaction(_ *http.Request, params []json.RawMessage) (interface{}, error) {
	var raw hexutil.Bytes
	if err := singleParam(params, &raw); err != nil {
		return nil, err
	}
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return nil, invalidParams("invalid transaction encoding", err.Error())
	}
	return s.apply(tx)
}

func (s *Server) apply(tx *types.Transaction) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := s.chain.ApplyTransaction(tx)
	if err != nil {
		return nil, err
	}
	observability.Chain().ObserveTransaction(s.contractLabel(tx.To), tx.Method, receipt.Status == types.ReceiptSuccess, time.Since(start))
	return receipt, nil
}

func (s *Server) contractLabel(addr [20]byte) string {
	for _, name := range []string{core.ContractToken, core.ContractStable, core.ContractEscrow, core.ContractMultisig, core.ContractSwap} {
		if contractAddr, ok := s.chain.ContractAddress(name); ok && contractAddr == addr {
			return name
		}
	}
	return "account"
}

func (s *Server) handleIncreaseTime(_ *http.Request, params []json.RawMessage) (interface{}, error) {
	var seconds int64
	if err := singleParam(params, &seconds); err != nil {
		return nil, err
	}
	offset, err := s.chain.IncreaseTime(seconds)
	if err != nil {
		return nil, err
	}
	return TimeResult{Now: s.chain.Now(), Offset: offset}, nil
}

// handleModuleView serves <namespace>_<method> for view methods. Ledger
// views take the token (name or address) as the first parameter; every
// namespace takes the method arguments object last.
func (s *Server) handleModuleView(namespace, method string, params []json.RawMessage) (interface{}, error) {
	var target [20]byte
	if namespace == "ledger" {
		if len(params) == 0 {
			return nil, invalidParams("ledger views require a token parameter", nil)
		}
		var token string
		if err := json.Unmarshal(params[0], &token); err != nil {
			return nil, invalidParams("token must be a contract name or address", nil)
		}
		addr, err := resolveContract(s.chain, token)
		if err != nil {
			return nil, invalidParams(err.Error(), nil)
		}
		target = addr
		params = params[1:]
	} else {
		addr, ok := s.chain.ContractAddress(namespaceContracts[namespace])
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrUnknownContract, namespace)
		}
		target = addr
	}
	if len(params) > 1 {
		return nil, invalidParams("expected a single arguments object", nil)
	}
	var args json.RawMessage
	if len(params) == 1 {
		args = params[0]
	}
	view, err := s.chain.IsView(target, method)
	if err != nil {
		return nil, err
	}
	if !view {
		return nil, &RPCError{
			Code:    codeInvalidRequest,
			Message: fmt.Sprintf("%s_%s changes state; submit it with fin_sendTransaction", namespace, method),
		}
	}
	return s.chain.Call([20]byte{}, target, method, args)
}
