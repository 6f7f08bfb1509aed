package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"finerp/core"
	"finerp/core/types"
	"finerp/crypto"
	"finerp/native/ledger"
)

// resolveTarget accepts an address or a native contract deployment name.
func resolveTarget(ref string) ([20]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return [20]byte{}, fmt.Errorf("target required")
	}
	if addr, err := crypto.ParseAddress(ref); err == nil {
		return addr, nil
	}
	switch ref {
	case core.ContractToken, core.ContractStable, core.ContractEscrow, core.ContractMultisig, core.ContractSwap:
		return crypto.ContractAddress(ref), nil
	}
	return [20]byte{}, fmt.Errorf("unknown contract or address %q", ref)
}

// parseArgs validates optional JSON arguments and returns their compact form.
func parseArgs(args []string) (json.RawMessage, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(args[0]), &v); err != nil {
		return nil, fmt.Errorf("arguments must be JSON: %w", err)
	}
	return json.Marshal(v)
}

// submit signs a transaction with the keystore key, filling chain id and
// nonce from the node, and sends it in raw form.
func (a *app) submit(ctx context.Context, to [20]byte, value *big.Int, method string, args json.RawMessage) (*types.Receipt, error) {
	key, err := a.loadKey()
	if err != nil {
		return nil, err
	}
	c := a.client()
	var chainID uint64
	if err := c.call(ctx, "fin_chainId", &chainID); err != nil {
		return nil, err
	}
	var nonce uint64
	if err := c.call(ctx, "fin_getNonce", &nonce, key.PubKey().Address().String()); err != nil {
		return nil, err
	}
	tx := &types.Transaction{
		ChainID: chainID,
		Nonce:   nonce,
		To:      to,
		Value:   value,
		Method:  method,
		Args:    args,
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return nil, err
	}
	raw, err := tx.Encode()
	if err != nil {
		return nil, err
	}
	var receipt types.Receipt
	if err := c.call(ctx, "fin_sendRawTransaction", &receipt, hexutil.Bytes(raw)); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (a *app) printReceipt(receipt *types.Receipt) error {
	if a.jsonOutput() {
		return a.printJSON(receipt)
	}
	status := "success"
	if receipt.Status != types.ReceiptSuccess {
		status = "failed"
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(a.out)
	tw.AppendRows([]table.Row{
		{"Tx", receipt.TxHash.Hex()},
		{"Block", receipt.Height},
		{"Method", receipt.Method},
		{"Status", status},
	})
	if receipt.Error != "" {
		tw.AppendRow(table.Row{"Error", fmt.Sprintf("%s (%s)", receipt.Error, receipt.ErrorKind)})
	}
	if len(receipt.Result) > 0 {
		tw.AppendRow(table.Row{"Result", string(receipt.Result)})
	}
	for _, ev := range receipt.Events {
		tw.AppendRow(table.Row{"Event", ev.Type})
	}
	tw.Render()
	if receipt.Status != types.ReceiptSuccess {
		return fmt.Errorf("transaction failed: %s", receipt.Error)
	}
	return nil
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) sendCmd() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "send CONTRACT METHOD [ARGS_JSON]",
		Short: "Sign and submit a contract call",
		Example: `  finctl send fin-token approve '{"spender":"escrow-address","amount":"1000000000000000000"}'
  finctl send escrow completeTask '{"taskId":1}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := resolveTarget(args[0])
			if err != nil {
				return err
			}
			callArgs, err := parseArgs(args[2:])
			if err != nil {
				return err
			}
			var amount *big.Int
			if value != "" {
				if amount, err = ledger.ParseUnits(value); err != nil {
					return err
				}
			}
			receipt, err := a.submit(cmd.Context(), to, amount, args[1], callArgs)
			if err != nil {
				return err
			}
			return a.printReceipt(receipt)
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "native coins to attach, in whole units (e.g. 1.5)")
	return cmd
}

func (a *app) transferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer TO AMOUNT",
		Short: "Send native coins; AMOUNT is in whole units",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := resolveTarget(args[0])
			if err != nil {
				return err
			}
			amount, err := ledger.ParseUnits(args[1])
			if err != nil {
				return err
			}
			receipt, err := a.submit(cmd.Context(), to, amount, "", nil)
			if err != nil {
				return err
			}
			return a.printReceipt(receipt)
		},
	}
}

func (a *app) callCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "call CONTRACT METHOD [ARGS_JSON]",
		Short: "Run a method without committing it",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := parseArgs(args[2:])
			if err != nil {
				return err
			}
			params := map[string]interface{}{"to": args[0], "method": args[1]}
			if callArgs != nil {
				params["args"] = callArgs
			}
			if from != "" {
				params["from"] = from
			}
			var result json.RawMessage
			if err := a.client().call(cmd.Context(), "fin_call", &result, params); err != nil {
				return err
			}
			var pretty interface{}
			if err := json.Unmarshal(result, &pretty); err != nil {
				return err
			}
			return a.printJSON(pretty)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "caller address for the dry run")
	return cmd
}

func (a *app) receiptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receipt TX_HASH",
		Short: "Show a transaction receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := common.HexToHash(args[0])
			var receipt types.Receipt
			if err := a.client().call(cmd.Context(), "fin_getReceipt", &receipt, hash); err != nil {
				return err
			}
			return a.printReceipt(&receipt)
		},
	}
}

func (a *app) advanceTimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance-time SECONDS",
		Short: "Advance chain time on a dev-mode node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid seconds: %w", err)
			}
			var result struct {
				Now    int64 `json:"now"`
				Offset int64 `json:"offset"`
			}
			if err := a.client().call(cmd.Context(), "dev_increaseTime", &result, seconds); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "chain time %s (offset %ds)\n", formatTime(uint64(result.Now)), result.Offset)
			return nil
		},
	}
}

