package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"finerp/core"
	"finerp/crypto"
)

type balanceRow struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [ADDRESS]",
		Short: "Show native and token balances (defaults to the keystore address)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var account string
			if len(args) == 1 {
				addr, err := crypto.ParseAddress(args[0])
				if err != nil {
					return err
				}
				account = crypto.FormatAddress(addr)
			} else {
				key, err := a.loadKey()
				if err != nil {
					return err
				}
				account = key.PubKey().Address().String()
			}
			rows, err := a.balances(cmd.Context(), account)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.printJSON(rows)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(a.out)
			tw.SetTitle(account)
			tw.AppendHeader(table.Row{"Asset", "Balance"})
			for _, row := range rows {
				tw.AppendRow(table.Row{row.Asset, row.Balance})
			}
			tw.Render()
			return nil
		},
	}
}

func (a *app) balances(ctx context.Context, account string) ([]balanceRow, error) {
	c := a.client()
	var native struct {
		Balance core.Amount `json:"balance"`
	}
	if err := c.call(ctx, "fin_getBalance", &native, account); err != nil {
		return nil, err
	}
	rows := []balanceRow{{Asset: "native", Balance: formatAmount(native.Balance.Big())}}
	for _, token := range []string{core.ContractToken, core.ContractStable} {
		var symbol string
		if err := c.call(ctx, "ledger_symbol", &symbol, token); err != nil {
			return nil, err
		}
		var amount core.Amount
		if err := c.call(ctx, "ledger_balanceOf", &amount, token, map[string]string{"account": account}); err != nil {
			return nil, err
		}
		rows = append(rows, balanceRow{Asset: symbol, Balance: formatAmount(amount.Big())})
	}
	return rows, nil
}

func (a *app) contractsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contracts",
		Short: "List deployed contracts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []core.ContractInfo
			if err := a.client().call(cmd.Context(), "fin_contracts", &infos); err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.printJSON(infos)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(a.out)
			tw.AppendHeader(table.Row{"Name", "Address", "Schema", "Methods"})
			for _, info := range infos {
				tw.AppendRow(table.Row{info.Name, info.Address.String(), info.Version, len(info.Methods)})
			}
			tw.Render()
			return nil
		},
	}
}

func (a *app) projectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "project ID",
		Short: "Show an escrow project and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid project id: %w", err)
			}
			c := a.client()
			idArgs := map[string]uint64{"projectId": id}
			var project core.ProjectView
			if err := c.call(cmd.Context(), "escrow_getProject", &project, idArgs); err != nil {
				return err
			}
			var tasks []core.TaskView
			if err := c.call(cmd.Context(), "escrow_getProjectTasks", &tasks, idArgs); err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.printJSON(map[string]interface{}{"project": project, "tasks": tasks})
			}

			summary := table.NewWriter()
			summary.SetOutputMirror(a.out)
			summary.SetTitle(fmt.Sprintf("Project %d (%s)", project.ID, project.StatusName))
			summary.AppendRows([]table.Row{
				{"Employer", project.Employer.String()},
				{"Funded", formatAmount(project.TotalFunded.Big())},
				{"Allocated", formatAmount(project.TotalAllocated.Big())},
				{"Released", formatAmount(project.TotalReleased.Big())},
				{"Refunded", formatAmount(project.TotalRefunded.Big())},
				{"In custody", formatAmount(project.Custody.Big())},
				{"Created", formatTime(project.CreatedAt)},
				{"Refund requested", formatTime(project.RefundRequestedAt)},
			})
			summary.Render()

			if len(tasks) == 0 {
				return nil
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(a.out)
			tw.AppendHeader(table.Row{"Task", "Worker", "Amount", "Status", "Approvals", "Completed"})
			for _, t := range tasks {
				tw.AppendRow(table.Row{t.ID, t.Worker.String(), formatAmount(t.Amount.Big()), t.StatusName, t.ApprovalCount, formatTime(t.CompletedAt)})
			}
			tw.Render()
			return nil
		},
	}
}

func (a *app) multisigCmd() *cobra.Command {
	var pendingOnly bool
	cmd := &cobra.Command{
		Use:   "multisig",
		Short: "List multisig proposals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			var count uint64
			if err := c.call(cmd.Context(), "multisig_getTransactionCount", &count); err != nil {
				return err
			}
			var required uint64
			if err := c.call(cmd.Context(), "multisig_required", &required); err != nil {
				return err
			}
			proposals := make([]core.MultisigTxView, 0, count)
			for id := uint64(0); id < count; id++ {
				var tx core.MultisigTxView
				if err := c.call(cmd.Context(), "multisig_getTransaction", &tx, map[string]uint64{"txId": id}); err != nil {
					return err
				}
				if pendingOnly && tx.Executed {
					continue
				}
				proposals = append(proposals, tx)
			}
			if a.jsonOutput() {
				return a.printJSON(proposals)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(a.out)
			tw.AppendHeader(table.Row{"ID", "Destination", "Value", "Confirmations", "Executed"})
			for _, tx := range proposals {
				tw.AppendRow(table.Row{
					tx.ID,
					tx.Destination.String(),
					formatAmount(tx.Value.Big()),
					fmt.Sprintf("%d/%d", len(tx.Confirmations), required),
					tx.Executed,
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "hide executed proposals")
	return cmd
}
