package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/ledger"
	"github.com/illarion/duitvault/internal/model"
)

var (
	accountName    string
	accountType    string
	accountOpening float64
)

var accountCmd = &cobra.Command{
	Use:     "account",
	Aliases: []string{"accounts"},
	Short:   "Manage accounts",
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			acc := &model.Account{
				Name:           accountName,
				Type:           accountType,
				OpeningBalance: accountOpening,
			}
			if err := v.Ledger().Accounts.Add(ctx, acc); err != nil {
				return err
			}
			printSuccess(os.Stdout, "Added account %s (%s)", acc.Name, acc.ID)
			return nil
		})
	},
}

var accountListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List accounts with balances",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			return printAccounts(ctx, os.Stdout, v.Ledger())
		})
	},
}

var accountRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an account and its transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			if err := v.Ledger().Accounts.Delete(ctx, args[0]); err != nil {
				return err
			}
			printSuccess(os.Stdout, "Deleted account %s", args[0])
			return nil
		})
	},
}

func init() {
	accountAddCmd.Flags().StringVar(&accountName, "name", "", "account name")
	accountAddCmd.Flags().StringVar(&accountType, "type", model.AccountBank, "bank, cash, ewallet, card or other")
	accountAddCmd.Flags().Float64Var(&accountOpening, "opening", 0, "opening balance")
	_ = accountAddCmd.MarkFlagRequired("name")

	accountCmd.AddCommand(accountAddCmd, accountListCmd, accountRmCmd)
}

func printAccounts(ctx context.Context, w io.Writer, l *ledger.Ledger) error {
	accounts, err := l.Accounts.List(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Fprintln(w, "(none)")
		return nil
	}
	for _, acc := range accounts {
		balance, err := l.Accounts.Balance(ctx, acc.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s  %-20s %-8s %14.2f %s\n", acc.ID, acc.Name, acc.Type, balance, acc.Currency)
	}
	return nil
}
