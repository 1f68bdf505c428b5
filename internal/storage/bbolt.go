package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore provides BBolt-based storage with one bucket per collection
type BoltStore struct {
	ops
	db   *bolt.DB
	path string
}

var boltOptions = &bolt.Options{Timeout: 2 * time.Second}

// OpenBolt opens or creates a BBolt database
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, boltOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BoltStore{db: db, path: path}
	s.ops = ops{r: s}
	return s, nil
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// View runs fn in a read-only transaction
func (s *BoltStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(boltTx{tx: tx})
	})
}

// Update runs fn in a read-write transaction; any error rolls it back
func (s *BoltStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(boltTx{tx: tx})
	})
}

type boltTx struct {
	tx *bolt.Tx
}

func (t boltTx) Put(collection, id string, blob []byte) error {
	if err := checkKey(collection, id); err != nil {
		return err
	}
	bucket, err := t.tx.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", collection, err)
	}
	return bucket.Put([]byte(id), blob)
}

func (t boltTx) Get(collection, id string) ([]byte, error) {
	bucket := t.tx.Bucket([]byte(collection))
	if bucket == nil {
		return nil, ErrNotFound
	}
	blob := bucket.Get([]byte(id))
	if blob == nil {
		return nil, ErrNotFound
	}
	// Make a copy since the slice is only valid during the transaction
	return append([]byte(nil), blob...), nil
}

func (t boltTx) Delete(collection, id string) error {
	bucket := t.tx.Bucket([]byte(collection))
	if bucket == nil {
		return nil
	}
	return bucket.Delete([]byte(id))
}

func (t boltTx) ForEach(collection string, fn func(id string, blob []byte) error) error {
	bucket := t.tx.Bucket([]byte(collection))
	if bucket == nil {
		return nil
	}
	return bucket.ForEach(func(k, v []byte) error {
		return fn(string(k), append([]byte(nil), v...))
	})
}

func (t boltTx) Clear(collection string) error {
	err := t.tx.DeleteBucket([]byte(collection))
	if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return fmt.Errorf("failed to clear bucket %s: %w", collection, err)
	}
	return nil
}

func (t boltTx) Rename(src, dst string) error {
	if err := t.Clear(dst); err != nil {
		return err
	}
	srcBucket := t.tx.Bucket([]byte(src))
	if srcBucket == nil {
		return nil
	}
	dstBucket, err := t.tx.CreateBucket([]byte(dst))
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", dst, err)
	}
	if err := srcBucket.ForEach(func(k, v []byte) error {
		return dstBucket.Put(k, v)
	}); err != nil {
		return err
	}
	return t.tx.DeleteBucket([]byte(src))
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after key rotation or import, which rewrite every record.
func (s *BoltStore) Compact() error {
	srcPath := s.path
	tmpPath := srcPath + ".compact"

	// Create new database
	dst, err := bolt.Open(tmpPath, 0600, boltOptions)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets
	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return s.reopen(fmt.Errorf("failed to close source database: %w", err))
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		os.Remove(tmpPath)
		return s.reopen(fmt.Errorf("failed to backup original: %w", err))
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		os.Remove(tmpPath)
		return s.reopen(fmt.Errorf("failed to replace database: %w", err))
	}
	os.Remove(backupPath)

	return s.reopen(nil)
}

// reopen reopens the database file after Compact closed it, so the store
// stays usable whether or not the compaction went through.
func (s *BoltStore) reopen(cause error) error {
	db, err := bolt.Open(s.path, 0600, boltOptions)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("failed to reopen database: %w", err))
	}
	s.db = db
	return cause
}
