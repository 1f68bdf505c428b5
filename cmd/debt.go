package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/model"
)

var (
	debtType        string
	debtPerson      string
	debtAmount      float64
	debtDescription string
	debtDue         string
	debtAll         bool
)

var debtCmd = &cobra.Command{
	Use:     "debt",
	Aliases: []string{"debts"},
	Short:   "Track money owed and lent",
}

var debtAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a debt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			debt := &model.Debt{
				Type:          debtType,
				Person:        debtPerson,
				InitialAmount: debtAmount,
				Description:   debtDescription,
				DueDate:       debtDue,
			}
			if err := v.Ledger().Debts.Add(ctx, debt); err != nil {
				return err
			}
			printSuccess(os.Stdout, "Recorded %s debt with %s (%s)", debt.Type, debt.Person, debt.ID)
			return nil
		})
	},
}

var debtPayCmd = &cobra.Command{
	Use:   "pay <id> <amount>",
	Short: "Record a payment against a debt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("%w: amount %q", apperrors.ErrInvalidInput, args[1])
		}
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			debt, err := v.Ledger().Debts.RecordPayment(ctx, args[0], amount)
			if err != nil {
				return err
			}
			if debt.IsPaid {
				printSuccess(os.Stdout, "Debt with %s paid off", debt.Person)
			} else {
				printSuccess(os.Stdout, "Outstanding with %s: %.2f", debt.Person, debt.OutstandingAmount)
			}
			return nil
		})
	},
}

var debtListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List open debts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			keep := openDebt
			if debtAll {
				keep = func(*model.Debt) bool { return true }
			}
			debts, err := v.Ledger().Debts.Filter(ctx, keep)
			if err != nil {
				return err
			}
			printDebts(os.Stdout, debts)
			return nil
		})
	},
}

func init() {
	debtAddCmd.Flags().StringVar(&debtType, "type", model.DebtPayable, "payable or receivable")
	debtAddCmd.Flags().StringVar(&debtPerson, "person", "", "counterparty")
	debtAddCmd.Flags().Float64Var(&debtAmount, "amount", 0, "initial amount")
	debtAddCmd.Flags().StringVar(&debtDescription, "description", "", "description")
	debtAddCmd.Flags().StringVar(&debtDue, "due", "", "due date as YYYY-MM-DD")
	_ = debtAddCmd.MarkFlagRequired("person")
	_ = debtAddCmd.MarkFlagRequired("amount")

	debtListCmd.Flags().BoolVar(&debtAll, "all", false, "include paid debts")

	debtCmd.AddCommand(debtAddCmd, debtPayCmd, debtListCmd)
}

func openDebt(d *model.Debt) bool {
	return !d.IsPaid
}

func printDebts(w io.Writer, debts []*model.Debt) {
	if len(debts) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	for _, d := range debts {
		due := d.DueDate
		if due == "" {
			due = "-"
		}
		fmt.Fprintf(w, "%s  %-10s %-20s %14.2f / %.2f  due %s\n",
			d.ID, d.Type, d.Person, d.OutstandingAmount, d.InitialAmount, due)
	}
}
