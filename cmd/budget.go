package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/model"
)

var budgetMonth string

var budgetCmd = &cobra.Command{
	Use:     "budget",
	Aliases: []string{"budgets"},
	Short:   "Manage monthly category budgets",
}

var budgetSetCmd = &cobra.Command{
	Use:   "set <category=amount>...",
	Short: "Replace the budget of a month",
	Example: `  duit budget set food=1500000 transport=400000
  duit budget set --month 2025-02 rent=3000000`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		categories, err := parseCategories(args)
		if err != nil {
			return err
		}
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			budget, err := v.Ledger().Budgets.Upsert(ctx, budgetMonthOrCurrent(), categories)
			if err != nil {
				return err
			}
			printSuccess(os.Stdout, "Budget for %s saved (%d categories)", budget.ID, len(budget.CategoryBudgets))
			return nil
		})
	},
}

var budgetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a month's budget against its expenses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			l := v.Ledger()
			month := budgetMonthOrCurrent()
			budget, err := l.Budgets.Get(ctx, month)
			if err != nil {
				return err
			}
			txs, err := l.Transactions.ByMonth(ctx, month)
			if err != nil {
				return err
			}

			spent := make(map[string]float64)
			for _, t := range txs {
				if t.Type == model.TransactionExpense {
					spent[t.Category] += t.Amount
				}
			}

			names := make([]string, 0, len(budget.CategoryBudgets))
			for name := range budget.CategoryBudgets {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("Budget %s\n", month)
			for _, name := range names {
				limit := budget.CategoryBudgets[name]
				line := fmt.Sprintf("  %-15s %14.2f / %.2f", name, spent[name], limit)
				if spent[name] > limit {
					line = warnText.Sprint(line + "  over")
				}
				fmt.Println(line)
			}
			return nil
		})
	},
}

func init() {
	budgetSetCmd.Flags().StringVar(&budgetMonth, "month", "", "month as YYYY-MM (default: current)")
	budgetShowCmd.Flags().StringVar(&budgetMonth, "month", "", "month as YYYY-MM (default: current)")

	budgetCmd.AddCommand(budgetSetCmd, budgetShowCmd)
}

func budgetMonthOrCurrent() string {
	if budgetMonth != "" {
		return budgetMonth
	}
	return monthArg(nil)
}

// parseCategories reads category=amount pairs
func parseCategories(args []string) (map[string]float64, error) {
	out := make(map[string]float64, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: expected category=amount, got %q", apperrors.ErrInvalidInput, arg)
		}
		amount, err := strconv.ParseFloat(value, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("%w: bad amount in %q", apperrors.ErrInvalidInput, arg)
		}
		out[name] = amount
	}
	return out, nil
}
