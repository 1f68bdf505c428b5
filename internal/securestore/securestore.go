// Package securestore encrypts entities on write and decrypts them on read.
//
// Records are stored as {id, payload} envelopes; nothing about an entity is
// readable at rest, so List decrypts the whole collection.
package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/model"
	"github.com/illarion/duitvault/internal/storage"
)

// ShadowPrefix names the staging collections used during re-encryption
const ShadowPrefix = "_shadow."

// Cipher is the part of the crypto engine the store needs
type Cipher interface {
	Encrypt(value any, schemaVersion int) (*crypto.Payload, error)
	DecryptBytes(p *crypto.Payload) ([]byte, error)
}

// Envelope is the at-rest form of a record
type Envelope struct {
	ID      string          `json:"id"`
	Payload *crypto.Payload `json:"payload"`
}

// Store is the encrypted record store
type Store struct {
	kv     storage.Store
	cipher Cipher
	log    zerolog.Logger

	// rotation is held exclusively by ReencryptAll and shared by everything else
	rotation sync.RWMutex
	writers  map[model.Kind]*sync.Mutex

	decryptLimit int
}

// New creates a store over kv using cipher for the session key
func New(kv storage.Store, cipher Cipher, log zerolog.Logger) *Store {
	writers := make(map[model.Kind]*sync.Mutex, len(model.Kinds))
	for _, k := range model.Kinds {
		writers[k] = &sync.Mutex{}
	}
	return &Store{
		kv:           kv,
		cipher:       cipher,
		log:          log.With().Str("component", "securestore").Logger(),
		writers:      writers,
		decryptLimit: runtime.GOMAXPROCS(0),
	}
}

func (s *Store) writer(kind model.Kind) (*sync.Mutex, error) {
	mu, ok := s.writers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown collection %q", apperrors.ErrInvalidInput, kind)
	}
	return mu, nil
}

// Put validates, encrypts and writes e, replacing any record with the same id
func (s *Store) Put(ctx context.Context, e model.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.rotation.RLock()
	defer s.rotation.RUnlock()

	mu, err := s.writer(e.Kind())
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()

	payload, err := s.cipher.Encrypt(e, model.SchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s/%s: %w", e.Kind(), e.EntityID(), err)
	}
	blob, err := json.Marshal(Envelope{ID: e.EntityID(), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to serialize envelope: %w", err)
	}
	return s.kv.Put(ctx, string(e.Kind()), e.EntityID(), blob)
}

// Get returns the entity with id, or nil without error if it does not exist
func (s *Store) Get(ctx context.Context, kind model.Kind, id string) (model.Entity, error) {
	if _, err := s.writer(kind); err != nil {
		return nil, err
	}

	s.rotation.RLock()
	defer s.rotation.RUnlock()

	blob, err := s.kv.Get(ctx, string(kind), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.open(kind, blob, s.cipher.DecryptBytes)
}

// List decrypts every record of kind in storage order. Any failure aborts the
// whole call; no partial result is returned.
func (s *Store) List(ctx context.Context, kind model.Kind) ([]model.Entity, error) {
	if _, err := s.writer(kind); err != nil {
		return nil, err
	}

	s.rotation.RLock()
	defer s.rotation.RUnlock()

	blobs, err := s.kv.ListAll(ctx, string(kind))
	if err != nil {
		return nil, err
	}

	out := make([]model.Entity, len(blobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.decryptLimit)
	for i, blob := range blobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := s.open(kind, blob, s.cipher.DecryptBytes)
			if err != nil {
				return err
			}
			out[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the record with id; deleting a missing id is not an error
func (s *Store) Delete(ctx context.Context, kind model.Kind, id string) error {
	s.rotation.RLock()
	defer s.rotation.RUnlock()

	mu, err := s.writer(kind)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()

	return s.kv.Delete(ctx, string(kind), id)
}

// ClearAll empties every managed collection in one transaction
func (s *Store) ClearAll(ctx context.Context) error {
	s.rotation.Lock()
	defer s.rotation.Unlock()

	return s.kv.Update(ctx, func(tx storage.Tx) error {
		for _, kind := range model.Kinds {
			if err := tx.Clear(string(kind)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of records per collection without decrypting
func (s *Store) Count(ctx context.Context) (map[model.Kind]int, error) {
	s.rotation.RLock()
	defer s.rotation.RUnlock()

	counts := make(map[model.Kind]int, len(model.Kinds))
	err := s.kv.View(ctx, func(tx storage.Tx) error {
		for _, kind := range model.Kinds {
			err := tx.ForEach(string(kind), func(string, []byte) error {
				counts[kind]++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return counts, err
}

// ReencryptAll rewrites every record from prev to next. Records are staged in
// shadow collections first; only when all of them succeed are the shadows
// swapped in, together with commit, in a single transaction. On failure the
// live collections are untouched. swap, when set, runs after the commit and
// before writers are let back in, so no write can land under prev once the
// records are live under next.
func (s *Store) ReencryptAll(ctx context.Context, prev, next *crypto.Key, commit func(storage.Tx) error, swap func()) error {
	s.rotation.Lock()
	defer s.rotation.Unlock()

	if err := s.dropShadows(ctx); err != nil {
		return fmt.Errorf("failed to clear staging area: %w", err)
	}

	var staged int
	for _, kind := range model.Kinds {
		n, err := s.stage(ctx, kind, prev, next)
		if err != nil {
			if derr := s.dropShadows(context.WithoutCancel(ctx)); derr != nil {
				s.log.Error().Err(derr).Msg("failed to discard staged records")
			}
			return fmt.Errorf("failed to re-encrypt %s: %w", kind, err)
		}
		staged += n
	}

	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		for _, kind := range model.Kinds {
			if err := tx.Rename(shadowOf(kind), string(kind)); err != nil {
				return err
			}
		}
		if commit != nil {
			return commit(tx)
		}
		return nil
	})
	if err != nil {
		if derr := s.dropShadows(context.WithoutCancel(ctx)); derr != nil {
			s.log.Error().Err(derr).Msg("failed to discard staged records")
		}
		return fmt.Errorf("failed to swap re-encrypted records: %w", err)
	}
	if swap != nil {
		swap()
	}

	s.log.Info().Int("records", staged).Int("key_version", next.Version()).Msg("re-encrypted vault")
	return nil
}

// stage copies kind into its shadow collection under next
func (s *Store) stage(ctx context.Context, kind model.Kind, prev, next *crypto.Key) (int, error) {
	var n int
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		return tx.ForEach(string(kind), func(id string, blob []byte) error {
			e, err := s.open(kind, blob, prev.OpenBytes)
			if err != nil {
				return err
			}
			payload, err := next.Seal(e, model.SchemaVersion)
			if err != nil {
				return err
			}
			out, err := json.Marshal(Envelope{ID: id, Payload: payload})
			if err != nil {
				return err
			}
			n++
			return tx.Put(shadowOf(kind), id, out)
		})
	})
	return n, err
}

func (s *Store) dropShadows(ctx context.Context) error {
	return s.kv.Update(ctx, func(tx storage.Tx) error {
		for _, kind := range model.Kinds {
			if err := tx.Clear(shadowOf(kind)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) open(kind model.Kind, blob []byte, decrypt func(*crypto.Payload) ([]byte, error)) (model.Entity, error) {
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope in %s: %v", apperrors.ErrDecryption, kind, err)
	}

	plaintext, err := decrypt(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", kind, env.ID, err)
	}
	defer crypto.ClearBytes(plaintext)

	e, err := model.Decode(kind, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", kind, env.ID, err)
	}
	if e.EntityID() != env.ID {
		return nil, fmt.Errorf("%w: envelope id %s does not match record %s", apperrors.ErrDecryption, env.ID, e.EntityID())
	}
	return e, nil
}

func shadowOf(kind model.Kind) string {
	return ShadowPrefix + string(kind)
}
