package crypto

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	apperrors "github.com/illarion/duitvault/internal/errors"
)

// MetaStore persists the cleartext crypto metadata.
type MetaStore interface {
	// LoadMetadata returns nil, nil when the vault was never set up.
	LoadMetadata(ctx context.Context) (*Metadata, error)
	SaveMetadata(ctx context.Context, meta *Metadata) error
}

// ReencryptFunc moves every stored record from prev to next. It must persist
// meta itself, in the same atomic step that makes the re-encrypted records live.
// install switches the session to next and may only be called once the new
// records are committed; callers that serialize writers should call it before
// releasing them. If fn returns without calling it, RotateKey installs next
// after fn succeeds.
type ReencryptFunc func(ctx context.Context, prev, next *Key, meta *Metadata, install func()) error

// Engine owns the session key and the metadata it was derived from.
type Engine struct {
	store      MetaStore
	iterations int
	log        zerolog.Logger

	rotating sync.Mutex

	mu   sync.RWMutex
	meta *Metadata
	key  *Key
}

// Option configures an Engine
type Option func(*Engine)

// WithIterations overrides the PBKDF2 iteration count for newly generated metadata
func WithIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.iterations = n
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log.With().Str("component", "crypto").Logger()
	}
}

// NewEngine creates an engine without a key
func NewEngine(store MetaStore, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		iterations: DefaultIterations,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Metadata returns a copy of the active metadata, or nil if the vault was never set up
func (e *Engine) Metadata(ctx context.Context) (*Metadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	return meta.Clone(), nil
}

func (e *Engine) loadLocked(ctx context.Context) (*Metadata, error) {
	if e.meta != nil {
		return e.meta, nil
	}
	meta, err := e.store.LoadMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load crypto metadata: %w", err)
	}
	e.meta = meta
	return meta, nil
}

// Setup derives and caches the session key. Existing metadata is reused;
// otherwise a fresh salt is generated.
func (e *Engine) Setup(ctx context.Context, passphrase []byte) (*Metadata, error) {
	if len(passphrase) == 0 {
		return nil, apperrors.ErrMissingPassphrase
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		if meta, err = NewMetadata(e.iterations, InitialKeyVersion); err != nil {
			return nil, err
		}
		e.log.Debug().Int("iterations", meta.Iterations).Msg("generated crypto metadata")
	}

	key, err := meta.DeriveKey(passphrase)
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveMetadata(ctx, meta); err != nil {
		key.Destroy()
		return nil, fmt.Errorf("failed to persist crypto metadata: %w", err)
	}

	e.replaceKeyLocked(key)
	e.meta = meta
	return meta.Clone(), nil
}

// EnsureKey returns the cached key or derives one from passphrase
func (e *Engine) EnsureKey(ctx context.Context, passphrase []byte) (*Key, error) {
	e.mu.RLock()
	key := e.key
	e.mu.RUnlock()
	if key != nil {
		return key, nil
	}

	if len(passphrase) == 0 {
		return nil, apperrors.ErrMissingPassphrase
	}
	if _, err := e.Setup(ctx, passphrase); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key, nil
}

// HasKey reports whether a session key is cached
func (e *Engine) HasKey() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key != nil
}

func (e *Engine) activeKey() (*Key, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.key == nil {
		return nil, apperrors.ErrNoActiveKey
	}
	return e.key, nil
}

// Encrypt serializes value and encrypts it with the session key
func (e *Engine) Encrypt(value any, schemaVersion int) (*Payload, error) {
	key, err := e.activeKey()
	if err != nil {
		return nil, err
	}
	return key.Seal(value, schemaVersion)
}

// Decrypt decrypts p with the session key into out
func (e *Engine) Decrypt(p *Payload, out any) error {
	key, err := e.activeKey()
	if err != nil {
		return err
	}
	return key.Open(p, out)
}

// DecryptBytes decrypts p with the session key and returns the raw JSON plaintext
func (e *Engine) DecryptBytes(p *Payload) ([]byte, error) {
	key, err := e.activeKey()
	if err != nil {
		return nil, err
	}
	return key.OpenBytes(p)
}

// Derive derives a candidate key for meta without touching the session
func (e *Engine) Derive(passphrase []byte, meta *Metadata) (*Key, error) {
	return meta.DeriveKey(passphrase)
}

// RotateKey derives a key for newPassphrase under fresh metadata and hands both
// keys to fn. The session switches to the new key only if fn succeeds; on
// failure the session key and metadata are left as they were.
func (e *Engine) RotateKey(ctx context.Context, newPassphrase []byte, fn ReencryptFunc) error {
	e.rotating.Lock()
	defer e.rotating.Unlock()

	e.mu.RLock()
	prev, current := e.key, e.meta
	e.mu.RUnlock()

	if prev == nil || current == nil {
		return apperrors.ErrNoActiveKey
	}
	if len(newPassphrase) == 0 {
		return apperrors.ErrMissingPassphrase
	}

	meta, err := NewMetadata(e.iterations, current.KeyVersion+1)
	if err != nil {
		return err
	}
	next, err := meta.DeriveKey(newPassphrase)
	if err != nil {
		return err
	}

	var installed bool
	install := func() {
		if installed {
			return
		}
		installed = true
		e.mu.Lock()
		e.replaceKeyLocked(next)
		e.meta = meta
		e.mu.Unlock()
	}

	if err := fn(ctx, prev, next, meta.Clone(), install); err != nil {
		if !installed {
			next.Destroy()
		}
		e.log.Warn().Err(err).Int("key_version", current.KeyVersion).Msg("key rotation aborted")
		return fmt.Errorf("key rotation failed: %w", err)
	}
	install()

	e.log.Info().Int("key_version", meta.KeyVersion).Msg("key rotated")
	return nil
}

// ApplyMetadata persists meta as the active metadata and installs key as the
// session key. A nil key clears the session key.
func (e *Engine) ApplyMetadata(ctx context.Context, meta *Metadata, key *Key) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	if err := e.store.SaveMetadata(ctx, meta); err != nil {
		return fmt.Errorf("failed to persist crypto metadata: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.replaceKeyLocked(key)
	e.meta = meta.Clone()
	return nil
}

// ClearKey destroys the session key
func (e *Engine) ClearKey() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replaceKeyLocked(nil)
}

func (e *Engine) replaceKeyLocked(key *Key) {
	if e.key != nil && e.key != key {
		e.key.Destroy()
	}
	e.key = key
}
