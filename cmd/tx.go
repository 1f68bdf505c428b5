package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/model"
)

var (
	txAccount  string
	txType     string
	txAmount   float64
	txCategory string
	txDate     string
	txNote     string
	txMonth    string
)

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Manage transactions",
}

var txAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a transaction",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			when := time.Now()
			if txDate != "" {
				d, err := time.ParseInLocation("2006-01-02", txDate, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				when = d
			}
			tx := &model.Transaction{
				Type:      txType,
				AccountID: txAccount,
				Amount:    txAmount,
				Category:  txCategory,
				Date:      when.Format("2006-01-02"),
				Time:      when.Format("15:04"),
				Note:      txNote,
			}
			if err := v.Ledger().Transactions.Add(ctx, tx); err != nil {
				return err
			}
			printSuccess(os.Stdout, "Recorded %s of %.2f (%s)", tx.Type, tx.Amount, tx.ID)
			return nil
		})
	},
}

var txListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List transactions of a month or an account",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			txs := v.Ledger().Transactions
			var (
				list []*model.Transaction
				err  error
			)
			if txAccount != "" {
				list, err = txs.ByAccount(ctx, txAccount)
			} else {
				month := txMonth
				if month == "" {
					month = monthArg(nil)
				}
				list, err = txs.ByMonth(ctx, month)
			}
			if err != nil {
				return err
			}
			printTransactions(os.Stdout, list)
			return nil
		})
	},
}

var txRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			if err := v.Ledger().Transactions.Delete(ctx, args[0]); err != nil {
				return err
			}
			printSuccess(os.Stdout, "Deleted transaction %s", args[0])
			return nil
		})
	},
}

func init() {
	txAddCmd.Flags().StringVar(&txAccount, "account", "", "account id")
	txAddCmd.Flags().StringVar(&txType, "type", model.TransactionExpense, "income or expense")
	txAddCmd.Flags().Float64Var(&txAmount, "amount", 0, "amount")
	txAddCmd.Flags().StringVar(&txCategory, "category", "", "category")
	txAddCmd.Flags().StringVar(&txDate, "date", "", "date as YYYY-MM-DD (default: now)")
	txAddCmd.Flags().StringVar(&txNote, "note", "", "free text note")
	_ = txAddCmd.MarkFlagRequired("account")
	_ = txAddCmd.MarkFlagRequired("amount")

	txListCmd.Flags().StringVar(&txAccount, "account", "", "only this account")
	txListCmd.Flags().StringVar(&txMonth, "month", "", "month as YYYY-MM (default: current)")

	txCmd.AddCommand(txAddCmd, txListCmd, txRmCmd)
}

func printTransactions(w io.Writer, txs []*model.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].Date+txs[i].Time < txs[j].Date+txs[j].Time
	})

	var total float64
	for _, t := range txs {
		fmt.Fprintf(w, "%s %s  %-7s %14.2f  %-15s %s\n", t.Date, t.Time, t.Type, t.Amount, t.Category, t.ID)
		total += t.Signed()
	}
	fmt.Fprintf(w, "Net: %.2f\n", total)
}
