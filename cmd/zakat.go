package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/model"
)

var zakatCmd = &cobra.Command{
	Use:   "zakat",
	Short: "Track zakat due on income",
}

var zakatAddCmd = &cobra.Command{
	Use:   "add <transaction-id>",
	Short: "Record the zakat due on an income transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			entry, err := v.Ledger().Zakat.AddForTransaction(ctx, args[0])
			if err != nil {
				return err
			}
			printSuccess(os.Stdout, "Zakat due: %.2f (%s)", entry.Amount, entry.ID)
			return nil
		})
	},
}

var zakatPayCmd = &cobra.Command{
	Use:   "pay <id>",
	Short: "Mark a zakat entry paid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			entry, err := v.Ledger().Zakat.MarkAsPaid(ctx, args[0])
			if err != nil {
				return err
			}
			printSuccess(os.Stdout, "Zakat of %.2f marked paid", entry.Amount)
			return nil
		})
	},
}

var zakatListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List unpaid zakat",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			entries, err := v.Ledger().Zakat.Filter(ctx, unpaidZakat)
			if err != nil {
				return err
			}
			printZakat(os.Stdout, entries)
			return nil
		})
	},
}

func init() {
	zakatCmd.AddCommand(zakatAddCmd, zakatPayCmd, zakatListCmd)
}

func unpaidZakat(e *model.ZakatEntry) bool {
	return !e.IsPaid
}

func printZakat(w io.Writer, entries []*model.ZakatEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	var total float64
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %14.2f  tx %s\n", e.ID, e.Amount, e.TransactionID)
		total += e.Amount
	}
	fmt.Fprintf(w, "Total due: %.2f\n", total)
}
