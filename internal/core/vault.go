package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/illarion/duitvault/internal/audit"
	"github.com/illarion/duitvault/internal/backup"
	"github.com/illarion/duitvault/internal/config"
	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/ledger"
	"github.com/illarion/duitvault/internal/lock"
	"github.com/illarion/duitvault/internal/model"
	"github.com/illarion/duitvault/internal/securestore"
	"github.com/illarion/duitvault/internal/security"
	"github.com/illarion/duitvault/internal/settings"
	"github.com/illarion/duitvault/internal/storage"
)

const (
	DirPermSecure  = 0700 // Directory: owner rwx only
	FilePermSecure = 0600 // File: owner rw only
)

// Vault is an open vault and its session
type Vault struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    storage.Store
	settings *settings.Settings
	engine   *crypto.Engine
	records  *securestore.Store
	lock     *lock.Machine
	codec    *backup.Codec
	ledger   *ledger.Ledger
	backups  *security.Dir
	audit    audit.Recorder
}

// Exists reports whether the configured vault file exists
func Exists(cfg *config.Config) bool {
	_, err := os.Stat(cfg.VaultPath())
	return err == nil
}

// Open opens or creates the vault store and starts a locked session
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, DirPermSecure); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.Open(cfg.StoreDriver, cfg.VaultPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	v := &Vault{
		cfg:      cfg,
		log:      log,
		store:    store,
		settings: settings.New(store),
		audit:    audit.Nop{},
	}
	if cfg.AuditEnabled {
		v.audit = audit.NewLog(cfg.AuditPath())
	}

	v.engine = crypto.NewEngine(v.settings,
		crypto.WithIterations(cfg.KDFIterations),
		crypto.WithLogger(log),
	)
	v.records = securestore.New(store, v.engine, log)

	v.lock, err = lock.New(v.engine, v.settings, v.records,
		lock.WithPolicy(lock.Policy{
			Threshold:       cfg.LockoutThreshold,
			BaseCooldown:    cfg.CooldownBase,
			MaxCooldown:     cfg.CooldownMax,
			FailureLogLimit: cfg.FailureLogLimit,
		}),
		lock.WithLogger(log),
		lock.WithAudit(v.audit),
	)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := v.lock.Initialize(ctx); err != nil {
		store.Close()
		return nil, err
	}

	v.backups, err = security.OpenDir(cfg.BackupDir())
	if err != nil {
		store.Close()
		return nil, err
	}

	v.codec = backup.New(v.engine, v.records, v.lock, backup.WithLogger(log))
	v.ledger = ledger.New(sessionRecords{Records: v.records, vault: v})
	return v, nil
}

// Close drops the session key and closes the store
func (v *Vault) Close() error {
	v.engine.ClearKey()
	return errors.Join(v.backups.Close(), v.store.Close())
}

// Lock returns the session state machine
func (v *Vault) Lock() *lock.Machine {
	return v.lock
}

// Ledger returns the record API. Calls fail with ErrLocked unless the session
// is unlocked, even while a quick lock still holds the key.
func (v *Vault) Ledger() *ledger.Ledger {
	return v.ledger
}

// Config returns the configuration the vault was opened with
func (v *Vault) Config() *config.Config {
	return v.cfg
}

// Initialized reports whether crypto metadata exists
func (v *Vault) Initialized() bool {
	return v.lock.Phase() != lock.PhaseUninitialized
}

// Init derives the first key from passphrase and seals the sentinel
func (v *Vault) Init(ctx context.Context, passphrase []byte) error {
	if v.Initialized() {
		return apperrors.ErrAlreadyExists
	}
	if _, err := v.lock.Unlock(ctx, lock.Credentials{Passphrase: passphrase}); err != nil {
		return err
	}
	if _, err := v.settings.GetOrCreateVaultID(ctx); err != nil {
		return fmt.Errorf("failed to create vault id: %w", err)
	}
	v.log.Info().Str("path", v.cfg.VaultPath()).Msg("vault initialized")
	return nil
}

// Unlock opens the session with the master passphrase
func (v *Vault) Unlock(ctx context.Context, passphrase []byte) error {
	if !v.Initialized() {
		return apperrors.ErrNotInitialized
	}
	_, err := v.lock.Unlock(ctx, lock.Credentials{Passphrase: passphrase})
	return err
}

// ChangePassphrase verifies current and re-encrypts the vault under next
func (v *Vault) ChangePassphrase(ctx context.Context, current, next []byte) error {
	if err := v.Unlock(ctx, current); err != nil {
		return err
	}
	return v.lock.RotateKey(ctx, next)
}

// requireUnlocked fails unless the session is open
func (v *Vault) requireUnlocked() error {
	switch v.lock.Phase() {
	case lock.PhaseUninitialized:
		return apperrors.ErrNotInitialized
	case lock.PhaseUnlocked:
		return nil
	default:
		return apperrors.ErrLocked
	}
}

// sessionRecords refuses record access outside the unlocked phase
type sessionRecords struct {
	ledger.Records
	vault *Vault
}

func (r sessionRecords) Put(ctx context.Context, e model.Entity) error {
	if err := r.vault.requireUnlocked(); err != nil {
		return err
	}
	return r.Records.Put(ctx, e)
}

func (r sessionRecords) Get(ctx context.Context, kind model.Kind, id string) (model.Entity, error) {
	if err := r.vault.requireUnlocked(); err != nil {
		return nil, err
	}
	return r.Records.Get(ctx, kind, id)
}

func (r sessionRecords) List(ctx context.Context, kind model.Kind) ([]model.Entity, error) {
	if err := r.vault.requireUnlocked(); err != nil {
		return nil, err
	}
	return r.Records.List(ctx, kind)
}

func (r sessionRecords) Delete(ctx context.Context, kind model.Kind, id string) error {
	if err := r.vault.requireUnlocked(); err != nil {
		return err
	}
	return r.Records.Delete(ctx, kind, id)
}

// Export returns an encrypted backup of the whole vault
func (v *Vault) Export(ctx context.Context) ([]byte, error) {
	if err := v.requireUnlocked(); err != nil {
		return nil, err
	}
	data, err := v.codec.Export(ctx)
	if err != nil {
		v.audit.Record(audit.Entry{Operation: audit.OpExport, Outcome: audit.OutcomeFail, Detail: err.Error()})
		return nil, err
	}
	v.audit.Record(audit.Entry{Operation: audit.OpExport, Outcome: audit.OutcomeOK})
	return data, nil
}

// Import replaces the vault with a backup. An uninitialized vault accepts
// any backup; an initialized one must be unlocked first.
func (v *Vault) Import(ctx context.Context, data, passphrase []byte) (*backup.ImportResult, error) {
	if err := v.requireUnlocked(); err != nil && !errors.Is(err, apperrors.ErrNotInitialized) {
		return nil, err
	}
	result, err := v.codec.Import(ctx, data, passphrase)
	if err != nil {
		v.audit.Record(audit.Entry{Operation: audit.OpImport, Outcome: audit.OutcomeFail, Detail: err.Error()})
		return nil, err
	}
	if _, err := v.settings.GetOrCreateVaultID(ctx); err != nil {
		return nil, err
	}
	v.audit.Record(audit.Entry{Operation: audit.OpImport, Outcome: audit.OutcomeOK})
	return result, nil
}

// Diff compares a backup with the live vault
func (v *Vault) Diff(ctx context.Context, data, passphrase []byte) (map[string]string, error) {
	if err := v.requireUnlocked(); err != nil {
		return nil, err
	}
	diffs, err := v.codec.Diff(ctx, data, passphrase)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(diffs))
	for kind, d := range diffs {
		out[string(kind)] = d
	}
	return out, nil
}

// BackupName returns the default file name for a backup taken at t
func BackupName(t time.Time) string {
	return "duit-" + t.UTC().Format("20060102-150405") + security.BackupExt
}

// WriteBackup stores data under name in the backup directory and returns its path
func (v *Vault) WriteBackup(name string, data []byte) (string, error) {
	if err := v.backups.WriteFile(name, data); err != nil {
		return "", err
	}
	clean, err := v.backups.ValidateAndNormalize(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.backups.Path(), filepath.FromSlash(clean)), nil
}

// ReadBackup reads name from the backup directory
func (v *Vault) ReadBackup(name string) ([]byte, error) {
	return v.backups.ReadFile(name)
}

// Backups lists the files in the backup directory
func (v *Vault) Backups() ([]string, error) {
	return v.backups.List()
}

// Compact reclaims unused space in the vault file
func (v *Vault) Compact() error {
	c, ok := v.store.(storage.Compactor)
	if !ok {
		return fmt.Errorf("compact: %w", apperrors.ErrNotImplemented)
	}
	return c.Compact()
}

// VaultID returns the vault id used as the keyring account
func (v *Vault) VaultID(ctx context.Context) (string, error) {
	return v.settings.GetOrCreateVaultID(ctx)
}

// AuditEntries returns the audit trail, or nil when auditing is off
func (v *Vault) AuditEntries() ([]audit.Entry, error) {
	l, ok := v.audit.(*audit.Log)
	if !ok {
		return nil, nil
	}
	return l.Entries()
}
