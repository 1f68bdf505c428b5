package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/model"
)

const monthLayout = "2006-01"

func checkMonth(month string) error {
	if _, err := time.Parse(monthLayout, month); err != nil {
		return fmt.Errorf("%w: month must be YYYY-MM, got %q", apperrors.ErrInvalidInput, month)
	}
	return nil
}

// Accounts manages accounts
type Accounts struct {
	*Repo[*model.Account]
	txs *Repo[*model.Transaction]
}

// Add stores a new account
func (a *Accounts) Add(ctx context.Context, acc *model.Account) error {
	assignID(&acc.ID)
	if acc.Currency == "" {
		acc.Currency = model.CurrencyIDR
	}
	return a.put(ctx, acc)
}

// Delete removes the account and its transactions
func (a *Accounts) Delete(ctx context.Context, id string) error {
	txs, err := a.txs.Filter(ctx, func(t *model.Transaction) bool { return t.AccountID == id })
	if err != nil {
		return err
	}
	for _, t := range txs {
		if err := a.txs.Delete(ctx, t.ID); err != nil {
			return err
		}
	}
	return a.Repo.Delete(ctx, id)
}

// Balance returns the opening balance plus income minus expenses
func (a *Accounts) Balance(ctx context.Context, id string) (float64, error) {
	acc, err := a.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	txs, err := a.txs.Filter(ctx, func(t *model.Transaction) bool { return t.AccountID == id })
	if err != nil {
		return 0, err
	}
	balance := acc.OpeningBalance
	for _, t := range txs {
		balance += t.Signed()
	}
	return balance, nil
}

// Transactions manages transactions
type Transactions struct {
	*Repo[*model.Transaction]
	accounts *Repo[*model.Account]
}

// Add stores a new transaction against an existing account
func (t *Transactions) Add(ctx context.Context, tx *model.Transaction) error {
	if _, err := t.accounts.Get(ctx, tx.AccountID); err != nil {
		return err
	}
	assignID(&tx.ID)
	if tx.Source == "" {
		tx.Source = model.SourceManual
	}
	return t.put(ctx, tx)
}

// ByAccount lists the transactions of one account
func (t *Transactions) ByAccount(ctx context.Context, accountID string) ([]*model.Transaction, error) {
	return t.Filter(ctx, func(tx *model.Transaction) bool { return tx.AccountID == accountID })
}

// ByMonth lists the transactions dated in month (YYYY-MM)
func (t *Transactions) ByMonth(ctx context.Context, month string) ([]*model.Transaction, error) {
	if err := checkMonth(month); err != nil {
		return nil, err
	}
	return t.Filter(ctx, func(tx *model.Transaction) bool { return strings.HasPrefix(tx.Date, month+"-") })
}

// Debts manages debts
type Debts struct {
	*Repo[*model.Debt]
}

// Add stores a new debt; the outstanding amount starts at the initial amount
func (d *Debts) Add(ctx context.Context, debt *model.Debt) error {
	assignID(&debt.ID)
	if debt.OutstandingAmount == 0 && !debt.IsPaid {
		debt.OutstandingAmount = debt.InitialAmount
	}
	return d.put(ctx, debt)
}

// RecordPayment reduces the outstanding amount; the debt is paid at zero
func (d *Debts) RecordPayment(ctx context.Context, id string, amount float64) (*model.Debt, error) {
	return d.Update(ctx, id, func(debt *model.Debt) error {
		if amount <= 0 || amount > debt.OutstandingAmount {
			return fmt.Errorf("%w: payment %.2f against outstanding %.2f",
				apperrors.ErrInvalidInput, amount, debt.OutstandingAmount)
		}
		debt.OutstandingAmount = math.Max(0, debt.OutstandingAmount-amount)
		debt.IsPaid = debt.OutstandingAmount == 0
		return nil
	})
}

// Bills manages recurring bills
type Bills struct {
	*Repo[*model.Bill]
}

// Add stores a new bill
func (b *Bills) Add(ctx context.Context, bill *model.Bill) error {
	assignID(&bill.ID)
	return b.put(ctx, bill)
}

// MarkPaid records that the bill was paid for month (YYYY-MM)
func (b *Bills) MarkPaid(ctx context.Context, id, month string) (*model.Bill, error) {
	if err := checkMonth(month); err != nil {
		return nil, err
	}
	return b.Update(ctx, id, func(bill *model.Bill) error {
		bill.LastPaidMonth = month
		return nil
	})
}

// Unpaid lists active bills not yet paid for month
func (b *Bills) Unpaid(ctx context.Context, month string) ([]*model.Bill, error) {
	if err := checkMonth(month); err != nil {
		return nil, err
	}
	return b.Filter(ctx, func(bill *model.Bill) bool {
		return bill.IsActive && bill.LastPaidMonth != month
	})
}

// Zakat manages zakat entries
type Zakat struct {
	*Repo[*model.ZakatEntry]
	txs *Repo[*model.Transaction]
}

// AddForTransaction records the zakat due on an income transaction
func (z *Zakat) AddForTransaction(ctx context.Context, transactionID string) (*model.ZakatEntry, error) {
	tx, err := z.txs.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Type != model.TransactionIncome {
		return nil, fmt.Errorf("%w: zakat applies to income, %s is %s", apperrors.ErrInvalidInput, tx.ID, tx.Type)
	}

	entry := &model.ZakatEntry{
		ID:            model.NewID(),
		TransactionID: tx.ID,
		Amount:        math.Round(tx.Amount*model.ZakatRate*100) / 100,
	}
	return entry, z.put(ctx, entry)
}

// MarkAsPaid marks the entry paid now
func (z *Zakat) MarkAsPaid(ctx context.Context, id string) (*model.ZakatEntry, error) {
	return z.Update(ctx, id, func(e *model.ZakatEntry) error {
		paidAt := z.now().UTC()
		e.IsPaid = true
		e.PaidAt = &paidAt
		return nil
	})
}

// Budgets manages monthly budgets, keyed by YYYY-MM
type Budgets struct {
	*Repo[*model.Budget]
}

// Upsert replaces the category limits for month
func (b *Budgets) Upsert(ctx context.Context, month string, categories map[string]float64) (*model.Budget, error) {
	if err := checkMonth(month); err != nil {
		return nil, err
	}
	budget, err := b.Get(ctx, month)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if budget == nil {
		budget = &model.Budget{ID: month}
	}
	budget.CategoryBudgets = categories
	return budget, b.put(ctx, budget)
}
