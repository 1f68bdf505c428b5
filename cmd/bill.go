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

var (
	billName     string
	billAmount   float64
	billDueDay   int
	billCategory string
	billMonth    string
)

var billCmd = &cobra.Command{
	Use:     "bill",
	Aliases: []string{"bills"},
	Short:   "Manage recurring monthly bills",
}

var billAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a recurring bill",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			bill := &model.Bill{
				Name:       billName,
				Amount:     billAmount,
				DueDateDay: billDueDay,
				Category:   billCategory,
				IsActive:   true,
			}
			if err := v.Ledger().Bills.Add(ctx, bill); err != nil {
				return err
			}
			printSuccess(os.Stdout, "Added bill %s due on day %d (%s)", bill.Name, bill.DueDateDay, bill.ID)
			return nil
		})
	},
}

var billPayCmd = &cobra.Command{
	Use:   "pay <id>",
	Short: "Mark a bill paid for a month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			month := billMonth
			if month == "" {
				month = monthArg(nil)
			}
			bill, err := v.Ledger().Bills.MarkPaid(ctx, args[0], month)
			if err != nil {
				return err
			}
			printSuccess(os.Stdout, "%s paid for %s", bill.Name, month)
			return nil
		})
	},
}

var billUnpaidCmd = &cobra.Command{
	Use:   "unpaid",
	Short: "List active bills not paid for a month",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			month := billMonth
			if month == "" {
				month = monthArg(nil)
			}
			bills, err := v.Ledger().Bills.Unpaid(ctx, month)
			if err != nil {
				return err
			}
			printBills(os.Stdout, bills)
			return nil
		})
	},
}

func init() {
	billAddCmd.Flags().StringVar(&billName, "name", "", "bill name")
	billAddCmd.Flags().Float64Var(&billAmount, "amount", 0, "monthly amount")
	billAddCmd.Flags().IntVar(&billDueDay, "due-day", 1, "day of month the bill is due (1-31)")
	billAddCmd.Flags().StringVar(&billCategory, "category", "", "category")
	_ = billAddCmd.MarkFlagRequired("name")
	_ = billAddCmd.MarkFlagRequired("amount")

	billPayCmd.Flags().StringVar(&billMonth, "month", "", "month as YYYY-MM (default: current)")
	billUnpaidCmd.Flags().StringVar(&billMonth, "month", "", "month as YYYY-MM (default: current)")

	billCmd.AddCommand(billAddCmd, billPayCmd, billUnpaidCmd)
}

func printBills(w io.Writer, bills []*model.Bill) {
	if len(bills) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	for _, b := range bills {
		fmt.Fprintf(w, "%s  day %2d  %-20s %14.2f  %s\n", b.ID, b.DueDateDay, b.Name, b.Amount, b.Category)
	}
}
