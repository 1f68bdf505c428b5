// Package ledger is the typed record API over the encrypted store.
// Every call needs an active key; without one it fails with ErrNoActiveKey.
// Session gating is left to the caller wrapping Records.
package ledger

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/model"
)

// Records is the encrypted record store
type Records interface {
	Put(ctx context.Context, e model.Entity) error
	Get(ctx context.Context, kind model.Kind, id string) (model.Entity, error)
	List(ctx context.Context, kind model.Kind) ([]model.Entity, error)
	Delete(ctx context.Context, kind model.Kind, id string) error
}

type entity interface {
	model.Entity
	Touch(now time.Time)
}

// Repo is the CRUD surface shared by every record kind
type Repo[T entity] struct {
	records Records
	kind    model.Kind
	now     func() time.Time
}

func newRepo[T entity](records Records, kind model.Kind, now func() time.Time) *Repo[T] {
	return &Repo[T]{records: records, kind: kind, now: now}
}

// Get returns the record with id or ErrNotFound
func (r *Repo[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	e, err := r.records.Get(ctx, r.kind, id)
	if err != nil {
		return zero, err
	}
	if e == nil {
		return zero, fmt.Errorf("%s %s: %w", r.kind, id, apperrors.ErrNotFound)
	}
	v, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s %s has type %T", apperrors.ErrInvalidInput, r.kind, id, e)
	}
	return v, nil
}

// List returns every record, ordered by id
func (r *Repo[T]) List(ctx context.Context) ([]T, error) {
	return r.Filter(ctx, nil)
}

// Filter returns the records keep accepts. A nil keep accepts all.
func (r *Repo[T]) Filter(ctx context.Context, keep func(T) bool) ([]T, error) {
	entities, err := r.records.List(ctx, r.kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		v, ok := e.(T)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s has type %T", apperrors.ErrInvalidInput, r.kind, e.EntityID(), e)
		}
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Update loads the record, applies mutate and stores it
func (r *Repo[T]) Update(ctx context.Context, id string, mutate func(T) error) (T, error) {
	v, err := r.Get(ctx, id)
	if err != nil {
		return v, err
	}
	if err := mutate(v); err != nil {
		return v, err
	}
	if v.EntityID() != id {
		return v, fmt.Errorf("%w: id cannot change", apperrors.ErrInvalidInput)
	}
	return v, r.put(ctx, v)
}

// Delete removes the record; deleting a missing record is not an error
func (r *Repo[T]) Delete(ctx context.Context, id string) error {
	return r.records.Delete(ctx, r.kind, id)
}

func (r *Repo[T]) put(ctx context.Context, v T) error {
	v.Touch(r.now().UTC())
	return r.records.Put(ctx, v)
}

// Ledger groups the per-kind services
type Ledger struct {
	Accounts     *Accounts
	Transactions *Transactions
	Debts        *Debts
	Bills        *Bills
	Zakat        *Zakat
	Budgets      *Budgets
}

// Option configures a Ledger
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a ledger over records
func New(records Records, opts ...Option) *Ledger {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	accounts := newRepo[*model.Account](records, model.KindAccount, o.now)
	txs := newRepo[*model.Transaction](records, model.KindTransaction, o.now)

	return &Ledger{
		Accounts:     &Accounts{Repo: accounts, txs: txs},
		Transactions: &Transactions{Repo: txs, accounts: accounts},
		Debts:        &Debts{Repo: newRepo[*model.Debt](records, model.KindDebt, o.now)},
		Bills:        &Bills{Repo: newRepo[*model.Bill](records, model.KindBill, o.now)},
		Zakat:        &Zakat{Repo: newRepo[*model.ZakatEntry](records, model.KindZakat, o.now), txs: txs},
		Budgets:      &Budgets{Repo: newRepo[*model.Budget](records, model.KindBudget, o.now)},
	}
}

func assignID(id *string) {
	if *id == "" {
		*id = model.NewID()
	}
}
