// Package model defines the record kinds a vault stores.
//
// Entity is a closed sum type: Account, Transaction, Debt, Bill, ZakatEntry
// and Budget are its only implementations. Every decoded record passes
// Validate before it is handed to callers.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/illarion/duitvault/internal/errors"
)

// SchemaVersion is stamped on every encrypted record and backup
const SchemaVersion = 1

// Kind names a collection
type Kind string

const (
	KindAccount     Kind = "accounts"
	KindTransaction Kind = "transactions"
	KindDebt        Kind = "debts"
	KindBill        Kind = "bills"
	KindZakat       Kind = "zakat"
	KindBudget      Kind = "budgets"
)

// Kinds lists every collection in import order
var Kinds = []Kind{
	KindAccount,
	KindTransaction,
	KindDebt,
	KindBill,
	KindZakat,
	KindBudget,
}

// ParseKind validates a collection name
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown collection %q", apperrors.ErrInvalidInput, s)
}

// Entity is implemented by every record kind
type Entity interface {
	EntityID() string
	Kind() Kind
	Validate() error
	entity()
}

// New returns an empty entity of kind
func New(kind Kind) (Entity, error) {
	switch kind {
	case KindAccount:
		return &Account{}, nil
	case KindTransaction:
		return &Transaction{}, nil
	case KindDebt:
		return &Debt{}, nil
	case KindBill:
		return &Bill{}, nil
	case KindZakat:
		return &ZakatEntry{}, nil
	case KindBudget:
		return &Budget{}, nil
	}
	return nil, fmt.Errorf("%w: unknown collection %q", apperrors.ErrInvalidInput, kind)
}

// Decode parses and validates a plaintext record of kind
func Decode(kind Kind, data []byte) (Entity, error) {
	e, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("%w: malformed %s record: %v", apperrors.ErrInvalidInput, kind, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewID returns a time-ordered record id
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Timestamps are carried by every record
type Timestamps struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Touch sets CreatedAt if unset and UpdatedAt to now
func (t *Timestamps) Touch(now time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

// Account types
const (
	AccountBank    = "bank"
	AccountCash    = "cash"
	AccountEWallet = "ewallet"
	AccountCard    = "card"
	AccountOther   = "other"
)

// CurrencyIDR is the only supported currency
const CurrencyIDR = "IDR"

// Account is a place money is kept
type Account struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Currency       string  `json:"currency"`
	OpeningBalance float64 `json:"openingBalance"`
	Timestamps
}

// Transaction types and sources
const (
	TransactionIncome  = "income"
	TransactionExpense = "expense"

	SourceManual = "manual"
	SourceOCR    = "ocr"
)

// Location is where a transaction happened
type Location struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label,omitempty"`
}

// Transaction is a single income or expense
type Transaction struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	AccountID string    `json:"accountId"`
	Amount    float64   `json:"amount"`
	Category  string    `json:"category"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Time      string    `json:"time"` // HH:mm
	Location  *Location `json:"location,omitempty"`
	Note      string    `json:"note,omitempty"`
	Source    string    `json:"source"`
	Timestamps
}

// Signed returns the amount with expenses negative
func (t *Transaction) Signed() float64 {
	if t.Type == TransactionExpense {
		return -t.Amount
	}
	return t.Amount
}

// Debt directions
const (
	DebtPayable    = "payable"
	DebtReceivable = "receivable"
)

// Debt is money owed to or by someone
type Debt struct {
	ID                string  `json:"id"`
	Type              string  `json:"type"`
	Person            string  `json:"person"`
	InitialAmount     float64 `json:"initialAmount"`
	OutstandingAmount float64 `json:"outstandingAmount"`
	Description       string  `json:"description,omitempty"`
	DueDate           string  `json:"dueDate,omitempty"` // YYYY-MM-DD
	IsPaid            bool    `json:"isPaid"`
	Timestamps
}

// Bill is a recurring monthly payment
type Bill struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Amount        float64 `json:"amount"`
	DueDateDay    int     `json:"dueDateDay"`
	Category      string  `json:"category"`
	IsActive      bool    `json:"isActive"`
	LastPaidMonth string  `json:"lastPaidMonth,omitempty"` // YYYY-MM
	Timestamps
}

// ZakatEntry is the zakat due on an income transaction
type ZakatEntry struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transactionId"`
	Amount        float64    `json:"amount"`
	IsPaid        bool       `json:"isPaid"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	Timestamps
}

// ZakatRate is applied to income to compute the amount due
const ZakatRate = 0.025

// Budget holds per-category spending limits for one month; ID is YYYY-MM
type Budget struct {
	ID              string             `json:"id"`
	CategoryBudgets map[string]float64 `json:"categoryBudgets"`
	Timestamps
}

func (a *Account) EntityID() string     { return a.ID }
func (t *Transaction) EntityID() string { return t.ID }
func (d *Debt) EntityID() string        { return d.ID }
func (b *Bill) EntityID() string        { return b.ID }
func (z *ZakatEntry) EntityID() string  { return z.ID }
func (b *Budget) EntityID() string      { return b.ID }

func (*Account) Kind() Kind     { return KindAccount }
func (*Transaction) Kind() Kind { return KindTransaction }
func (*Debt) Kind() Kind        { return KindDebt }
func (*Bill) Kind() Kind        { return KindBill }
func (*ZakatEntry) Kind() Kind  { return KindZakat }
func (*Budget) Kind() Kind      { return KindBudget }

func (*Account) entity()     {}
func (*Transaction) entity() {}
func (*Debt) entity()        {}
func (*Bill) entity()        {}
func (*ZakatEntry) entity()  {}
func (*Budget) entity()      {}
