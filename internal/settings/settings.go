// Package settings stores the small cleartext namespace a vault needs before
// it can decrypt anything: crypto metadata, the key-check sentinel, lock
// state, secondary-factor hashes and the vault id.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/storage"
)

// Collection holds every settings key
const Collection = "_settings"

const (
	keyCryptoMeta = "crypto-meta"
	keySentinel   = "sentinel"
	keyLockState  = "lock-state"
	keyVaultID    = "vault-id"
	keyFactors    = "factors"
)

// LockRecord is the persisted part of the lock state
type LockRecord struct {
	Locked        bool        `json:"locked"`
	Attempts      int         `json:"attempts"`
	CooldownUntil *time.Time  `json:"cooldownUntil"`
	LastFailures  []time.Time `json:"lastFailures"`
}

// Factors holds argon2id hashes of the quick-unlock secrets
type Factors struct {
	PINHash      string `json:"pinHash,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
}

// Settings reads and writes the settings collection
type Settings struct {
	store storage.Store
}

// New creates settings over store
func New(store storage.Store) *Settings {
	return &Settings{store: store}
}

func (s *Settings) view(ctx context.Context, key string, out any) (bool, error) {
	var found bool
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		found, err = read(tx, key, out)
		return err
	})
	return found, err
}

func (s *Settings) update(ctx context.Context, fn func(w Writer) error) error {
	return s.store.Update(ctx, func(tx storage.Tx) error {
		return fn(Writer{tx: tx})
	})
}

// LoadMetadata returns the crypto metadata, or nil if the vault was never set up
func (s *Settings) LoadMetadata(ctx context.Context) (*crypto.Metadata, error) {
	var meta crypto.Metadata
	found, err := s.view(ctx, keyCryptoMeta, &meta)
	if err != nil || !found {
		return nil, err
	}
	return &meta, nil
}

// SaveMetadata replaces the crypto metadata
func (s *Settings) SaveMetadata(ctx context.Context, meta *crypto.Metadata) error {
	return s.update(ctx, func(w Writer) error { return w.SaveMetadata(meta) })
}

// Sentinel returns the key-check sentinel, or nil if none was sealed yet
func (s *Settings) Sentinel(ctx context.Context) (*crypto.Payload, error) {
	var p crypto.Payload
	found, err := s.view(ctx, keySentinel, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// SaveSentinel replaces the key-check sentinel
func (s *Settings) SaveSentinel(ctx context.Context, p *crypto.Payload) error {
	return s.update(ctx, func(w Writer) error { return w.SaveSentinel(p) })
}

// LockState returns the persisted lock state; the zero value if none
func (s *Settings) LockState(ctx context.Context) (LockRecord, error) {
	var rec LockRecord
	_, err := s.view(ctx, keyLockState, &rec)
	return rec, err
}

// SaveLockState persists the lock state
func (s *Settings) SaveLockState(ctx context.Context, rec LockRecord) error {
	return s.update(ctx, func(w Writer) error { return write(w.tx, keyLockState, rec) })
}

// Factors returns the configured secondary-factor hashes
func (s *Settings) Factors(ctx context.Context) (Factors, error) {
	var f Factors
	_, err := s.view(ctx, keyFactors, &f)
	return f, err
}

// SaveFactors replaces the secondary-factor hashes
func (s *Settings) SaveFactors(ctx context.Context, f Factors) error {
	return s.update(ctx, func(w Writer) error { return write(w.tx, keyFactors, f) })
}

// VaultID returns the vault identifier used as the keyring account
func (s *Settings) VaultID(ctx context.Context) (string, error) {
	var id string
	found, err := s.view(ctx, keyVaultID, &id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("vault id %w", apperrors.ErrNotFound)
	}
	return id, nil
}

// GetOrCreateVaultID returns the vault identifier, creating one if needed
func (s *Settings) GetOrCreateVaultID(ctx context.Context) (string, error) {
	var id string
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		found, err := read(tx, keyVaultID, &id)
		if err != nil || found {
			return err
		}
		id = uuid.NewString()
		return write(tx, keyVaultID, id)
	})
	return id, err
}

// Writer writes settings inside an existing transaction
type Writer struct {
	tx storage.Tx
}

// In returns a writer bound to tx
func In(tx storage.Tx) Writer {
	return Writer{tx: tx}
}

// SaveMetadata replaces the crypto metadata
func (w Writer) SaveMetadata(meta *crypto.Metadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	return write(w.tx, keyCryptoMeta, meta)
}

// SaveSentinel replaces the key-check sentinel
func (w Writer) SaveSentinel(p *crypto.Payload) error {
	return write(w.tx, keySentinel, p)
}

func read(tx storage.Tx, key string, out any) (bool, error) {
	blob, err := tx.Get(Collection, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return false, fmt.Errorf("failed to parse setting %s: %w", key, err)
	}
	return true, nil
}

func write(tx storage.Tx, key string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize setting %s: %w", key, err)
	}
	return tx.Put(Collection, key, blob)
}
