package model

import (
	"fmt"

	"github.com/jellydator/validation"

	apperrors "github.com/illarion/duitvault/internal/errors"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
	clockLayout = "15:04"
)

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, err)
}

func timestampRules(t *Timestamps) []*validation.FieldRules {
	return []*validation.FieldRules{
		validation.Field(&t.CreatedAt, validation.Required),
		validation.Field(&t.UpdatedAt, validation.Required),
	}
}

// Validate checks the account fields
func (a *Account) Validate() error {
	rules := append([]*validation.FieldRules{
		validation.Field(&a.ID, validation.Required),
		validation.Field(&a.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&a.Type, validation.Required,
			validation.In(AccountBank, AccountCash, AccountEWallet, AccountCard, AccountOther)),
		validation.Field(&a.Currency, validation.Required, validation.In(CurrencyIDR)),
		validation.Field(&a.OpeningBalance, validation.Min(0.0)),
	}, timestampRules(&a.Timestamps)...)
	return invalid(validation.ValidateStruct(a, rules...))
}

// Validate checks the coordinates
func (l Location) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Lat, validation.Min(-90.0), validation.Max(90.0)),
		validation.Field(&l.Lng, validation.Min(-180.0), validation.Max(180.0)),
	)
}

// Validate checks the transaction fields
func (t *Transaction) Validate() error {
	rules := append([]*validation.FieldRules{
		validation.Field(&t.ID, validation.Required),
		validation.Field(&t.Type, validation.Required, validation.In(TransactionIncome, TransactionExpense)),
		validation.Field(&t.AccountID, validation.Required),
		validation.Field(&t.Amount, validation.Min(0.0)),
		validation.Field(&t.Category, validation.Required, validation.Length(1, 100)),
		validation.Field(&t.Date, validation.Required, validation.Date(dateLayout)),
		validation.Field(&t.Time, validation.Required, validation.Date(clockLayout)),
		validation.Field(&t.Location),
		validation.Field(&t.Note, validation.Length(0, 1000)),
		validation.Field(&t.Source, validation.Required, validation.In(SourceManual, SourceOCR)),
	}, timestampRules(&t.Timestamps)...)
	return invalid(validation.ValidateStruct(t, rules...))
}

// Validate checks the debt fields
func (d *Debt) Validate() error {
	rules := append([]*validation.FieldRules{
		validation.Field(&d.ID, validation.Required),
		validation.Field(&d.Type, validation.Required, validation.In(DebtPayable, DebtReceivable)),
		validation.Field(&d.Person, validation.Required, validation.Length(1, 100)),
		validation.Field(&d.InitialAmount, validation.Min(0.0)),
		validation.Field(&d.OutstandingAmount, validation.Min(0.0)),
		validation.Field(&d.DueDate, validation.Date(dateLayout)),
	}, timestampRules(&d.Timestamps)...)
	return invalid(validation.ValidateStruct(d, rules...))
}

// Validate checks the bill fields
func (b *Bill) Validate() error {
	rules := append([]*validation.FieldRules{
		validation.Field(&b.ID, validation.Required),
		validation.Field(&b.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&b.Amount, validation.Min(0.0)),
		validation.Field(&b.DueDateDay, validation.Required, validation.Min(1), validation.Max(31)),
		validation.Field(&b.LastPaidMonth, validation.Date(monthLayout)),
	}, timestampRules(&b.Timestamps)...)
	return invalid(validation.ValidateStruct(b, rules...))
}

// Validate checks the zakat entry fields
func (z *ZakatEntry) Validate() error {
	rules := append([]*validation.FieldRules{
		validation.Field(&z.ID, validation.Required),
		validation.Field(&z.TransactionID, validation.Required),
		validation.Field(&z.Amount, validation.Min(0.0)),
	}, timestampRules(&z.Timestamps)...)
	return invalid(validation.ValidateStruct(z, rules...))
}

// Validate checks the budget fields
func (b *Budget) Validate() error {
	rules := append([]*validation.FieldRules{
		validation.Field(&b.ID, validation.Required, validation.Date(monthLayout)),
		validation.Field(&b.CategoryBudgets, validation.Each(validation.Min(0.0))),
	}, timestampRules(&b.Timestamps)...)
	return invalid(validation.ValidateStruct(b, rules...))
}
