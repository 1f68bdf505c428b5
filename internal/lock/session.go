package lock

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jellydator/validation"

	"github.com/illarion/duitvault/internal/audit"
	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/settings"
	"github.com/illarion/duitvault/internal/storage"
)

var pinPattern = regexp.MustCompile(`^[0-9]{4,12}$`)

// RotateKey re-encrypts every record under a key derived from newPassphrase.
// The session must be unlocked. Records, metadata and sentinel are committed
// together; on failure the old key and data remain in effect.
func (m *Machine) RotateKey(ctx context.Context, newPassphrase []byte) error {
	if err := m.guard.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.guard.Release(1)

	if m.Phase() != PhaseUnlocked {
		return apperrors.ErrLocked
	}

	err := m.engine.RotateKey(ctx, newPassphrase, func(ctx context.Context, prev, next *crypto.Key, meta *crypto.Metadata, install func()) error {
		check, err := next.Seal(sentinel{OK: true, At: m.now().UTC()}, 0)
		if err != nil {
			return err
		}
		return m.records.ReencryptAll(ctx, prev, next, func(tx storage.Tx) error {
			w := settings.In(tx)
			if err := w.SaveMetadata(meta); err != nil {
				return err
			}
			return w.SaveSentinel(check)
		}, install)
	})
	if err != nil {
		m.audit.Record(audit.Entry{Timestamp: m.stamp(), Operation: audit.OpRotate, Outcome: audit.OutcomeFail, Detail: err.Error()})
		return err
	}

	m.log.Info().Msg("master key rotated")
	m.audit.Record(audit.Entry{Timestamp: m.stamp(), Operation: audit.OpRotate, Outcome: audit.OutcomeOK})
	return nil
}

// Reset clears the failure counters and cooldown and locks the session.
// The derived key is dropped.
func (m *Machine) Reset(ctx context.Context) error {
	if err := m.guard.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.guard.Release(1)

	m.mu.Lock()
	m.rec = settings.LockRecord{Locked: true}
	m.masterReady = false
	m.engine.ClearKey()
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.audit.Record(audit.Entry{Timestamp: m.stamp(), Operation: audit.OpReset, Outcome: audit.OutcomeOK})
	return nil
}

// SetSecondaryFactors replaces the PIN and password used for quick unlock.
// An empty value removes that factor.
func (m *Machine) SetSecondaryFactors(ctx context.Context, pin, password string) error {
	if err := m.guard.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.guard.Release(1)

	if m.Phase() != PhaseUnlocked {
		return apperrors.ErrLocked
	}

	if err := validation.Validate(pin, validation.Match(pinPattern).Error("must be 4 to 12 digits")); err != nil {
		return fmt.Errorf("%w: pin %v", apperrors.ErrInvalidInput, err)
	}
	if err := validation.Validate(password, validation.Length(6, 128)); err != nil {
		return fmt.Errorf("%w: password %v", apperrors.ErrInvalidInput, err)
	}

	var f settings.Factors
	var err error
	if pin != "" {
		if f.PINHash, err = m.hasher.Hash([]byte(pin)); err != nil {
			return fmt.Errorf("failed to hash PIN: %w", err)
		}
	}
	if password != "" {
		if f.PasswordHash, err = m.hasher.Hash([]byte(password)); err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
	}
	if err := m.settings.SaveFactors(ctx, f); err != nil {
		return err
	}

	m.audit.Record(audit.Entry{Timestamp: m.stamp(), Operation: audit.OpFactors, Outcome: audit.OutcomeOK})
	return nil
}

// HasSecondaryFactors reports whether a PIN or password is configured
func (m *Machine) HasSecondaryFactors(ctx context.Context) (bool, error) {
	f, err := m.settings.Factors(ctx)
	if err != nil {
		return false, err
	}
	return f.PINHash != "" || f.PasswordHash != "", nil
}

// ClearSecondaryFactors removes the PIN and password. Used when the vault's
// contents are replaced, as on import.
func (m *Machine) ClearSecondaryFactors(ctx context.Context) error {
	if err := m.guard.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.guard.Release(1)

	if err := m.settings.SaveFactors(ctx, settings.Factors{}); err != nil {
		return err
	}
	m.log.Info().Msg("secondary factors cleared")
	return nil
}

// SealSentinel writes a fresh key-check sentinel under the active key and
// marks the session unlocked. Used after the key was installed directly,
// as on import.
func (m *Machine) SealSentinel(ctx context.Context) error {
	if err := m.guard.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.guard.Release(1)

	if err := m.sealSentinel(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	m.masterReady = true
	m.rec.Locked = false
	m.rec.Attempts = 0
	m.rec.CooldownUntil = nil
	m.persistLocked(ctx)
	return nil
}
