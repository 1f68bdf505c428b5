package storage

import (
	"context"
	"fmt"

	apperrors "github.com/illarion/duitvault/internal/errors"
)

// Supported drivers
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
)

// ErrNotFound is returned by Get for an absent id
var ErrNotFound = fmt.Errorf("record %w", apperrors.ErrNotFound)

// Tx is a view of the store inside a single transaction.
// Blobs returned from a Tx are copies and remain valid after it ends.
type Tx interface {
	Put(collection, id string, blob []byte) error
	Get(collection, id string) ([]byte, error)
	Delete(collection, id string) error
	// ForEach visits records in id order
	ForEach(collection string, fn func(id string, blob []byte) error) error
	Clear(collection string) error
	// Rename replaces the contents of dst with src and empties src
	Rename(src, dst string) error
}

// Store is a durable collection -> id -> blob store.
type Store interface {
	Put(ctx context.Context, collection, id string, blob []byte) error
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Delete(ctx context.Context, collection, id string) error
	ListAll(ctx context.Context, collection string) ([][]byte, error)
	Clear(ctx context.Context, collection string) error

	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// Compactor is implemented by stores that can reclaim unused disk space
type Compactor interface {
	Compact() error
}

// Open opens the store for driver at path
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverBolt, "":
		return OpenBolt(path)
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", apperrors.ErrInvalidInput, driver)
	}
}

type txRunner interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

// ops implements the single-record Store methods on top of View/Update
type ops struct {
	r txRunner
}

func (o ops) Put(ctx context.Context, collection, id string, blob []byte) error {
	return o.r.Update(ctx, func(tx Tx) error {
		return tx.Put(collection, id, blob)
	})
}

func (o ops) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var blob []byte
	err := o.r.View(ctx, func(tx Tx) error {
		var err error
		blob, err = tx.Get(collection, id)
		return err
	})
	return blob, err
}

func (o ops) Delete(ctx context.Context, collection, id string) error {
	return o.r.Update(ctx, func(tx Tx) error {
		return tx.Delete(collection, id)
	})
}

func (o ops) ListAll(ctx context.Context, collection string) ([][]byte, error) {
	var blobs [][]byte
	err := o.r.View(ctx, func(tx Tx) error {
		return tx.ForEach(collection, func(_ string, blob []byte) error {
			blobs = append(blobs, blob)
			return nil
		})
	})
	return blobs, err
}

func (o ops) Clear(ctx context.Context, collection string) error {
	return o.r.Update(ctx, func(tx Tx) error {
		return tx.Clear(collection)
	})
}

func checkKey(collection, id string) error {
	if collection == "" {
		return fmt.Errorf("%w: empty collection name", apperrors.ErrInvalidInput)
	}
	if id == "" {
		return fmt.Errorf("%w: empty record id", apperrors.ErrInvalidInput)
	}
	return nil
}
