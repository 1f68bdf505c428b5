package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps every collection in a single records table
type SQLiteStore struct {
	ops
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	s.ops = ops{r: s}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS records (
        collection TEXT NOT NULL,
        id TEXT NOT NULL,
        blob BLOB NOT NULL,
        PRIMARY KEY (collection, id)
    );
    `
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compact rebuilds the database file, reclaiming unused pages
func (s *SQLiteStore) Compact() error {
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back
func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(sqliteTx{ctx: ctx, tx: tx})
}

// Update runs fn in a transaction committed only if fn succeeds
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(sqliteTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t sqliteTx) Put(collection, id string, blob []byte) error {
	if err := checkKey(collection, id); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
        INSERT INTO records (collection, id, blob) VALUES (?, ?, ?)
        ON CONFLICT(collection, id) DO UPDATE SET blob = excluded.blob`,
		collection, id, blob)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (t sqliteTx) Get(collection, id string) ([]byte, error) {
	var blob []byte
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT blob FROM records WHERE collection = ? AND id = ?`,
		collection, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return blob, nil
}

func (t sqliteTx) Delete(collection, id string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (t sqliteTx) ForEach(collection string, fn func(id string, blob []byte) error) error {
	type record struct {
		id   string
		blob []byte
	}

	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT id, blob FROM records WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return fmt.Errorf("list %s: %w", collection, err)
	}

	// Drain rows before calling fn so it may write through the same tx
	var records []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.id, &r.blob); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s: %w", collection, err)
		}
		records = append(records, r)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range records {
		if err := fn(r.id, r.blob); err != nil {
			return err
		}
	}
	return nil
}

func (t sqliteTx) Clear(collection string) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}
	return nil
}

func (t sqliteTx) Rename(src, dst string) error {
	if err := t.Clear(dst); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE records SET collection = ? WHERE collection = ?`, dst, src); err != nil {
		return fmt.Errorf("rename %s to %s: %w", src, dst, err)
	}
	return nil
}
