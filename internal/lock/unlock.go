package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/illarion/duitvault/internal/audit"
	apperrors "github.com/illarion/duitvault/internal/errors"
)

// Method identifies how a session was unlocked
type Method string

const (
	MethodPassphrase Method = "passphrase"
	MethodPIN        Method = "pin"
	MethodPassword   Method = "password"
	MethodWebAuthn   Method = "webauthn"
)

// Credentials carries whatever the user supplied to unlock.
// The passphrase takes precedence over the secondary factors.
type Credentials struct {
	Passphrase []byte
	PIN        string
	Password   string
	WebAuthn   bool
}

// Options controls Lock
type Options struct {
	// ClearKey drops the derived key so the next unlock needs the passphrase
	ClearKey bool
}

type sentinel struct {
	OK bool      `json:"ok"`
	At time.Time `json:"at"`
}

// Unlock verifies the credentials and opens the session.
// While a cooldown is active every attempt is refused before any
// credential is checked.
func (m *Machine) Unlock(ctx context.Context, c Credentials) (Method, error) {
	if err := m.guard.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.guard.Release(1)

	if err := m.checkCooldown(); err != nil {
		m.audit.Record(audit.Entry{Timestamp: m.stamp(), Operation: audit.OpCooldown, Outcome: audit.OutcomeFail})
		return "", err
	}

	switch {
	case len(c.Passphrase) > 0:
		return MethodPassphrase, m.unlockPassphrase(ctx, c.Passphrase)
	case c.PIN != "" || c.Password != "":
		return m.unlockFactor(ctx, c)
	case c.WebAuthn:
		return MethodWebAuthn, fmt.Errorf("webauthn unlock: %w", apperrors.ErrNotImplemented)
	default:
		return "", fmt.Errorf("%w: no credentials supplied", apperrors.ErrInvalidInput)
	}
}

func (m *Machine) unlockPassphrase(ctx context.Context, passphrase []byte) error {
	meta, err := m.engine.Metadata(ctx)
	if err != nil {
		return err
	}
	fresh := meta == nil

	if _, err := m.engine.Setup(ctx, passphrase); err != nil {
		return err
	}

	if err := m.verifySentinel(ctx, fresh); err != nil {
		m.engine.ClearKey()
		m.mu.Lock()
		m.masterReady = false
		if apperrors.Is(err, apperrors.ErrDecryption) {
			m.registerFailureLocked(ctx, MethodPassphrase)
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.masterReady = true
	m.registerSuccessLocked(ctx, MethodPassphrase)
	m.mu.Unlock()
	return nil
}

func (m *Machine) verifySentinel(ctx context.Context, fresh bool) error {
	p, err := m.settings.Sentinel(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		if !fresh {
			m.log.Warn().Msg("key-check sentinel missing, sealing a new one")
		}
		return m.sealSentinel(ctx)
	}

	var s sentinel
	if err := m.engine.Decrypt(p, &s); err != nil {
		return err
	}
	if !s.OK {
		return apperrors.ErrDecryption
	}
	return nil
}

func (m *Machine) sealSentinel(ctx context.Context) error {
	p, err := m.engine.Encrypt(sentinel{OK: true, At: m.now().UTC()}, 0)
	if err != nil {
		return err
	}
	return m.settings.SaveSentinel(ctx, p)
}

func (m *Machine) unlockFactor(ctx context.Context, c Credentials) (Method, error) {
	method := MethodPIN
	if c.PIN == "" {
		method = MethodPassword
	}

	m.mu.Lock()
	ready := m.masterReady
	m.mu.Unlock()
	if !ready || !m.engine.HasKey() {
		return method, fmt.Errorf("%w: session was not opened with the passphrase", apperrors.ErrMissingPassphrase)
	}

	factors, err := m.settings.Factors(ctx)
	if err != nil {
		return method, err
	}

	var ok bool
	if c.PIN != "" && factors.PINHash != "" {
		if ok, err = m.hasher.Verify([]byte(c.PIN), factors.PINHash); err != nil {
			return method, fmt.Errorf("failed to verify PIN: %w", err)
		}
	}
	if !ok && c.Password != "" && factors.PasswordHash != "" {
		if ok, err = m.hasher.Verify([]byte(c.Password), factors.PasswordHash); err != nil {
			return method, fmt.Errorf("failed to verify password: %w", err)
		}
		if ok {
			method = MethodPassword
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		m.registerFailureLocked(ctx, method)
		return method, apperrors.ErrInvalidCredentials
	}
	m.registerSuccessLocked(ctx, method)
	return method, nil
}

func (m *Machine) checkCooldown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rec.CooldownUntil == nil {
		return nil
	}
	now := m.now()
	if now.Before(*m.rec.CooldownUntil) {
		return &apperrors.CooldownError{
			Until:     *m.rec.CooldownUntil,
			Remaining: m.rec.CooldownUntil.Sub(now),
		}
	}
	return nil
}

func (m *Machine) registerFailureLocked(ctx context.Context, method Method) {
	now := m.now()
	m.rec.Attempts++

	failures := append([]time.Time{now}, m.rec.LastFailures...)
	if limit := m.policy.FailureLogLimit; limit > 0 && len(failures) > limit {
		failures = failures[:limit]
	}
	m.rec.LastFailures = failures

	if d := m.policy.Cooldown(m.rec.Attempts); d > 0 {
		until := now.Add(d)
		m.rec.CooldownUntil = &until
		m.log.Warn().Int("attempts", m.rec.Attempts).Dur("cooldown", d).Msg("unlock throttled")
	}
	m.persistLocked(ctx)

	m.audit.Record(audit.Entry{
		Timestamp: m.stamp(),
		Operation: audit.OpUnlock,
		Outcome:   audit.OutcomeFail,
		Method:    string(method),
		Attempts:  m.rec.Attempts,
	})
}

func (m *Machine) registerSuccessLocked(ctx context.Context, method Method) {
	m.rec.Locked = false
	m.rec.Attempts = 0
	m.rec.CooldownUntil = nil
	m.persistLocked(ctx)

	m.log.Debug().Str("method", string(method)).Msg("session unlocked")
	m.audit.Record(audit.Entry{
		Timestamp: m.stamp(),
		Operation: audit.OpUnlock,
		Outcome:   audit.OutcomeOK,
		Method:    string(method),
	})
}

// Lock closes the session. The key stays cached unless opts.ClearKey is set.
func (m *Machine) Lock(ctx context.Context, opts Options) error {
	if err := m.guard.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.guard.Release(1)

	m.lock(ctx, opts, "")
	return nil
}

func (m *Machine) lock(ctx context.Context, opts Options, detail string) {
	m.mu.Lock()
	m.rec.Locked = true
	if opts.ClearKey {
		m.masterReady = false
		m.engine.ClearKey()
	}
	m.persistLocked(ctx)
	m.mu.Unlock()

	if detail == "" && opts.ClearKey {
		detail = "key cleared"
	}
	m.audit.Record(audit.Entry{Timestamp: m.stamp(), Operation: audit.OpLock, Outcome: audit.OutcomeOK, Detail: detail})
}

func (m *Machine) stamp() string {
	return m.now().UTC().Format("2006-01-02T15:04:05.000000Z")
}
