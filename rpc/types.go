package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"finerp/core"
	"finerp/core/types"
	"finerp/crypto"
)

// TransactionArgs is the JSON form of a signed transaction accepted by
// fin_sendTransaction.
type TransactionArgs struct {
	ChainID   uint64          `json:"chainId"`
	Nonce     uint64          `json:"nonce"`
	To        core.Address    `json:"to"`
	Value     *core.Amount    `json:"value,omitempty"`
	Method    string          `json:"method,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Signature hexutil.Bytes   `json:"signature"`
}

// NewTransactionArgs converts a signed transaction to its JSON form.
func NewTransactionArgs(tx *types.Transaction) TransactionArgs {
	args := TransactionArgs{
		ChainID:   tx.ChainID,
		Nonce:     tx.Nonce,
		To:        tx.To,
		Method:    tx.Method,
		Args:      json.RawMessage(tx.Args),
		Signature: tx.Signature,
	}
	if tx.Value != nil {
		value := core.NewAmount(tx.Value)
		args.Value = &value
	}
	return args
}

// Transaction rebuilds the signed transaction. The signature covers the
// compact encoding of Args, which is what json.Marshal emits.
func (a TransactionArgs) Transaction() *types.Transaction {
	tx := &types.Transaction{
		ChainID:   a.ChainID,
		Nonce:     a.Nonce,
		To:        a.To,
		Method:    a.Method,
		Signature: a.Signature,
	}
	if a.Value != nil {
		tx.Value = a.Value.Big()
	}
	if len(a.Args) > 0 && string(a.Args) != "null" {
		tx.Args = []byte(a.Args)
	}
	return tx
}

// CallArgs is the parameter object of fin_call.
type CallArgs struct {
	From   *core.Address   `json:"from,omitempty"`
	To     string          `json:"to"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// BalanceResult is returned by fin_getBalance.
type BalanceResult struct {
	Address core.Address `json:"address"`
	Balance core.Amount  `json:"balance"`
	Nonce   uint64       `json:"nonce"`
}

// TimeResult is returned by fin_time and dev_increaseTime.
type TimeResult struct {
	Now    int64 `json:"now"`
	Offset int64 `json:"offset,omitempty"`
}

// resolveContract accepts a deployment name or an address.
func resolveContract(chain *core.Chain, ref string) ([20]byte, error) {
	ref = strings.TrimSpace(ref)
	if addr, ok := chain.ContractAddress(ref); ok {
		return addr, nil
	}
	addr, err := crypto.ParseAddress(ref)
	if err != nil {
		return [20]byte{}, fmt.Errorf("unknown contract %q", ref)
	}
	return addr, nil
}
