package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/model"
	"github.com/illarion/duitvault/internal/securestore"
	"github.com/illarion/duitvault/internal/settings"
	"github.com/illarion/duitvault/internal/storage"
)

var testNow = time.Date(2025, 5, 14, 8, 30, 0, 0, time.UTC)

func newLedger(t *testing.T) (*Ledger, *crypto.Engine) {
	t.Helper()
	kv, err := storage.OpenBolt(filepath.Join(t.TempDir(), "vault.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	engine := crypto.NewEngine(settings.New(kv), crypto.WithIterations(1000))
	_, err = engine.Setup(context.Background(), []byte("passphrase"))
	require.NoError(t, err)

	records := securestore.New(kv, engine, zerolog.Nop())
	return New(records, WithClock(func() time.Time { return testNow })), engine
}

func addAccount(t *testing.T, l *Ledger, name string, opening float64) *model.Account {
	t.Helper()
	acc := &model.Account{Name: name, Type: model.AccountBank, OpeningBalance: opening}
	require.NoError(t, l.Accounts.Add(context.Background(), acc))
	return acc
}

func addTx(t *testing.T, l *Ledger, accountID, kind string, amount float64, date string) *model.Transaction {
	t.Helper()
	tx := &model.Transaction{
		Type:      kind,
		AccountID: accountID,
		Amount:    amount,
		Category:  "general",
		Date:      date,
		Time:      "12:00",
	}
	require.NoError(t, l.Transactions.Add(context.Background(), tx))
	return tx
}

func TestAccountsCRUD(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	acc := addAccount(t, l, "BCA", 100000)
	assert.NotEmpty(t, acc.ID)
	assert.Equal(t, model.CurrencyIDR, acc.Currency)
	assert.Equal(t, testNow, acc.CreatedAt)

	got, err := l.Accounts.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "BCA", got.Name)

	updated, err := l.Accounts.Update(ctx, acc.ID, func(a *model.Account) error {
		a.Name = "BCA Tahapan"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "BCA Tahapan", updated.Name)

	list, err := l.Accounts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "BCA Tahapan", list[0].Name)

	_, err = l.Accounts.Update(ctx, "missing", func(*model.Account) error { return nil })
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = l.Accounts.Update(ctx, acc.ID, func(a *model.Account) error {
		a.ID = "other"
		return nil
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = l.Accounts.Get(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.ErrorIs(t, l.Accounts.Add(ctx, &model.Account{Type: model.AccountBank}), apperrors.ErrInvalidInput)
}

func TestAccountDeleteCascades(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	keep := addAccount(t, l, "Dompet", 0)
	drop := addAccount(t, l, "BCA", 0)
	addTx(t, l, keep.ID, model.TransactionExpense, 20000, "2025-05-02")
	addTx(t, l, drop.ID, model.TransactionIncome, 50000, "2025-05-03")
	addTx(t, l, drop.ID, model.TransactionExpense, 10000, "2025-05-04")

	require.NoError(t, l.Accounts.Delete(ctx, drop.ID))

	txs, err := l.Transactions.List(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, keep.ID, txs[0].AccountID)

	_, err = l.Accounts.Get(ctx, drop.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBalanceAndFilters(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	acc := addAccount(t, l, "BCA", 100000)
	other := addAccount(t, l, "Dompet", 0)
	addTx(t, l, acc.ID, model.TransactionIncome, 500000, "2025-04-28")
	addTx(t, l, acc.ID, model.TransactionExpense, 75000, "2025-05-01")
	addTx(t, l, other.ID, model.TransactionExpense, 1000, "2025-05-02")

	balance, err := l.Accounts.Balance(ctx, acc.ID)
	require.NoError(t, err)
	assert.InDelta(t, 525000, balance, 0.001)

	byAccount, err := l.Transactions.ByAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, byAccount, 2)

	may, err := l.Transactions.ByMonth(ctx, "2025-05")
	require.NoError(t, err)
	assert.Len(t, may, 2)

	_, err = l.Transactions.ByMonth(ctx, "May")
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = l.Transactions.Add(ctx, &model.Transaction{AccountID: "missing", Type: model.TransactionIncome})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDebtPayments(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	debt := &model.Debt{Type: model.DebtReceivable, Person: "Sari", InitialAmount: 300000}
	require.NoError(t, l.Debts.Add(ctx, debt))
	assert.Equal(t, 300000.0, debt.OutstandingAmount)

	got, err := l.Debts.RecordPayment(ctx, debt.ID, 100000)
	require.NoError(t, err)
	assert.Equal(t, 200000.0, got.OutstandingAmount)
	assert.False(t, got.IsPaid)

	_, err = l.Debts.RecordPayment(ctx, debt.ID, 250000)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = l.Debts.RecordPayment(ctx, debt.ID, -1)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	got, err = l.Debts.RecordPayment(ctx, debt.ID, 200000)
	require.NoError(t, err)
	assert.Zero(t, got.OutstandingAmount)
	assert.True(t, got.IsPaid)

	stored, err := l.Debts.Get(ctx, debt.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPaid)
}

func TestBills(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	internet := &model.Bill{Name: "Internet", Amount: 350000, DueDateDay: 10, IsActive: true}
	gym := &model.Bill{Name: "Gym", Amount: 200000, DueDateDay: 1, IsActive: false}
	require.NoError(t, l.Bills.Add(ctx, internet))
	require.NoError(t, l.Bills.Add(ctx, gym))

	unpaid, err := l.Bills.Unpaid(ctx, "2025-05")
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.Equal(t, internet.ID, unpaid[0].ID)

	got, err := l.Bills.MarkPaid(ctx, internet.ID, "2025-05")
	require.NoError(t, err)
	assert.Equal(t, "2025-05", got.LastPaidMonth)

	unpaid, err = l.Bills.Unpaid(ctx, "2025-05")
	require.NoError(t, err)
	assert.Empty(t, unpaid)

	_, err = l.Bills.MarkPaid(ctx, internet.ID, "2025-13")
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestZakat(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	acc := addAccount(t, l, "BCA", 0)
	salary := addTx(t, l, acc.ID, model.TransactionIncome, 10000000, "2025-05-01")
	groceries := addTx(t, l, acc.ID, model.TransactionExpense, 50000, "2025-05-02")

	entry, err := l.Zakat.AddForTransaction(ctx, salary.ID)
	require.NoError(t, err)
	assert.Equal(t, 250000.0, entry.Amount)
	assert.False(t, entry.IsPaid)

	_, err = l.Zakat.AddForTransaction(ctx, groceries.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	paid, err := l.Zakat.MarkAsPaid(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, testNow, *paid.PaidAt)
}

func TestBudgetsUpsert(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	b, err := l.Budgets.Upsert(ctx, "2025-05", map[string]float64{"food": 1500000})
	require.NoError(t, err)
	assert.Equal(t, "2025-05", b.ID)

	b, err = l.Budgets.Upsert(ctx, "2025-05", map[string]float64{"food": 1200000, "transport": 400000})
	require.NoError(t, err)
	assert.Len(t, b.CategoryBudgets, 2)

	list, err := l.Budgets.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1200000.0, list[0].CategoryBudgets["food"])

	_, err = l.Budgets.Upsert(ctx, "2025-05-01", nil)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = l.Budgets.Upsert(ctx, "2025-06", map[string]float64{"food": -1})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLockedLedgerFails(t *testing.T) {
	ctx := context.Background()
	l, engine := newLedger(t)
	addAccount(t, l, "BCA", 0)

	engine.ClearKey()
	_, err := l.Accounts.List(ctx)
	require.ErrorIs(t, err, apperrors.ErrNoActiveKey)
	require.ErrorIs(t, l.Accounts.Add(ctx, &model.Account{Name: "x", Type: model.AccountCash}), apperrors.ErrNoActiveKey)
}
