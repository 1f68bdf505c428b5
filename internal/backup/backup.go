// Package backup exports a whole vault into one encrypted file and restores it.
//
// A backup carries its own crypto metadata, so it can be restored on a fresh
// install with nothing but the passphrase that was active at export time.
// Import validates everything it can before touching local data; once the
// backup's metadata is applied there is no rollback, and any later failure
// is reported as ErrImportIncomplete. Quick-unlock factors do not travel with
// a backup and are cleared on import.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/model"
)

// Header identifies a backup file
const Header = "DUIT_BACKUP_V1"

// maxIterations bounds the KDF work a backup file can demand
const maxIterations = 10_000_000

// File is the on-disk backup format
type File struct {
	Header  string           `json:"header"`
	Meta    *crypto.Metadata `json:"meta"`
	Payload *crypto.Payload  `json:"payload"`
}

// Content is the decrypted backup payload
type Content struct {
	CreatedAt     time.Time                    `json:"createdAt"`
	SchemaVersion int                          `json:"schemaVersion"`
	Stores        map[string][]json.RawMessage `json:"stores"`
}

// ImportResult summarizes a completed import
type ImportResult struct {
	CreatedAt time.Time
	Counts    map[model.Kind]int
	Warnings  []string
}

// Engine is the crypto surface the codec needs
type Engine interface {
	Metadata(ctx context.Context) (*crypto.Metadata, error)
	Encrypt(value any, schemaVersion int) (*crypto.Payload, error)
	Derive(passphrase []byte, meta *crypto.Metadata) (*crypto.Key, error)
	ApplyMetadata(ctx context.Context, meta *crypto.Metadata, key *crypto.Key) error
}

// Records is the encrypted record store
type Records interface {
	List(ctx context.Context, kind model.Kind) ([]model.Entity, error)
	Put(ctx context.Context, e model.Entity) error
	ClearAll(ctx context.Context) error
}

// Sealer reseals the key-check sentinel under the active key and drops
// session state tied to the replaced vault
type Sealer interface {
	SealSentinel(ctx context.Context) error
	ClearSecondaryFactors(ctx context.Context) error
}

// Codec exports and imports backups
type Codec struct {
	engine  Engine
	records Records
	sealer  Sealer
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures a Codec
type Option func(*Codec)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Codec) { c.log = log.With().Str("component", "backup").Logger() }
}

// New creates a codec
func New(engine Engine, records Records, sealer Sealer, opts ...Option) *Codec {
	c := &Codec{
		engine:  engine,
		records: records,
		sealer:  sealer,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Export encrypts every collection under the active key
func (c *Codec) Export(ctx context.Context) ([]byte, error) {
	meta, err := c.engine.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, apperrors.ErrNotInitialized
	}

	content := Content{
		CreatedAt:     c.now().UTC(),
		SchemaVersion: model.SchemaVersion,
		Stores:        make(map[string][]json.RawMessage, len(model.Kinds)),
	}
	for _, kind := range model.Kinds {
		entities, err := c.records.List(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", kind, err)
		}
		raws := make([]json.RawMessage, 0, len(entities))
		for _, e := range entities {
			raw, err := json.Marshal(e)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s %s: %w", kind, e.EntityID(), err)
			}
			raws = append(raws, raw)
		}
		content.Stores[string(kind)] = raws
	}

	payload, err := c.engine.Encrypt(content, model.SchemaVersion)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(File{Header: Header, Meta: meta, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	c.log.Debug().Int("bytes", len(data)).Msg("backup exported")
	return data, nil
}

// Import replaces the vault with the backup's contents. The backup's
// metadata becomes the active metadata and passphrase its passphrase.
func (c *Codec) Import(ctx context.Context, data, passphrase []byte) (*ImportResult, error) {
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}

	key, err := c.engine.Derive(passphrase, f.Meta)
	if err != nil {
		return nil, err
	}

	content, entities, warnings, err := open(f, key)
	if err != nil {
		key.Destroy()
		return nil, err
	}

	if err := c.engine.ApplyMetadata(ctx, f.Meta, key); err != nil {
		key.Destroy()
		return nil, err
	}

	// destructive from here on
	if err := c.sealer.ClearSecondaryFactors(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to clear quick-unlock factors: %w", apperrors.ErrImportIncomplete, err)
	}
	if err := c.records.ClearAll(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to clear vault: %w", apperrors.ErrImportIncomplete, err)
	}

	result := &ImportResult{
		CreatedAt: content.CreatedAt,
		Counts:    make(map[model.Kind]int, len(model.Kinds)),
		Warnings:  warnings,
	}
	for _, kind := range model.Kinds {
		for _, e := range entities[kind] {
			if err := c.records.Put(ctx, e); err != nil {
				return nil, fmt.Errorf("%w: failed to restore %s %s: %w", apperrors.ErrImportIncomplete, kind, e.EntityID(), err)
			}
			result.Counts[kind]++
		}
	}

	if err := c.sealer.SealSentinel(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrImportIncomplete, err)
	}

	for _, w := range warnings {
		c.log.Warn().Msg(w)
	}
	c.log.Info().Time("created_at", content.CreatedAt).Msg("backup imported")
	return result, nil
}

// Parse decodes a backup file and checks its header and metadata
func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidFormat, err)
	}
	if f.Header != Header {
		return nil, fmt.Errorf("%w: unexpected header %q", apperrors.ErrInvalidFormat, f.Header)
	}
	if err := f.Meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidFormat, err)
	}
	if f.Meta.Iterations > maxIterations {
		return nil, fmt.Errorf("%w: %d kdf iterations exceeds limit", apperrors.ErrInvalidFormat, f.Meta.Iterations)
	}
	if f.Payload == nil {
		return nil, fmt.Errorf("%w: payload missing", apperrors.ErrInvalidFormat)
	}
	return &f, nil
}

// open decrypts and decodes every record without touching local state
func open(f *File, key *crypto.Key) (*Content, map[model.Kind][]model.Entity, []string, error) {
	plaintext, err := key.OpenBytes(f.Payload)
	if err != nil {
		return nil, nil, nil, err
	}
	defer crypto.ClearBytes(plaintext)

	var content Content
	if err := json.Unmarshal(plaintext, &content); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: malformed content: %v", apperrors.ErrInvalidFormat, err)
	}

	var warnings []string
	if content.SchemaVersion != model.SchemaVersion {
		warnings = append(warnings, fmt.Sprintf("backup schema version %d differs from %d, importing anyway",
			content.SchemaVersion, model.SchemaVersion))
	}

	entities := make(map[model.Kind][]model.Entity, len(model.Kinds))
	for name, raws := range content.Stores {
		kind, err := model.ParseKind(name)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("ignoring unknown collection %q", name))
			continue
		}
		list := make([]model.Entity, 0, len(raws))
		for i, raw := range raws {
			e, err := model.Decode(kind, raw)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("%w: %s record %d: %w", apperrors.ErrInvalidFormat, kind, i, err)
			}
			list = append(list, e)
		}
		entities[kind] = list
	}
	return &content, entities, warnings, nil
}
