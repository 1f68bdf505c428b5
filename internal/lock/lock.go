package lock

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/allisson/go-pwdhash"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/illarion/duitvault/internal/audit"
	"github.com/illarion/duitvault/internal/crypto"
	"github.com/illarion/duitvault/internal/settings"
	"github.com/illarion/duitvault/internal/storage"
)

// Phase is the session phase
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseAwaitingMaster
	PhaseUnlocked
	PhaseQuickLocked
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseAwaitingMaster:
		return "awaiting-master"
	case PhaseUnlocked:
		return "unlocked"
	case PhaseQuickLocked:
		return "quick-locked"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is a snapshot of the lock state
type State struct {
	Phase         Phase
	Locked        bool
	Attempts      int
	CooldownUntil *time.Time
	LastFailures  []time.Time // most recent first
	MasterReady   bool
}

// Policy controls failure throttling
type Policy struct {
	Threshold       int           // failures before cooldown starts
	BaseCooldown    time.Duration // cooldown at the threshold, doubled per further failure
	MaxCooldown     time.Duration // 0 means uncapped
	FailureLogLimit int
}

// DefaultPolicy returns the standard throttling policy
func DefaultPolicy() Policy {
	return Policy{
		Threshold:       5,
		BaseCooldown:    30 * time.Second,
		MaxCooldown:     24 * time.Hour,
		FailureLogLimit: 10,
	}
}

// Cooldown returns the wait imposed after the given number of consecutive failures
func (p Policy) Cooldown(attempts int) time.Duration {
	if attempts < p.Threshold {
		return 0
	}
	exp := attempts - p.Threshold
	if exp > 62 {
		exp = 62
	}
	// saturate instead of wrapping when the shift would overflow
	d := time.Duration(math.MaxInt64)
	if p.BaseCooldown <= d>>exp {
		d = p.BaseCooldown << exp
	}
	if p.MaxCooldown > 0 && d > p.MaxCooldown {
		d = p.MaxCooldown
	}
	return d
}

// Engine is the part of the crypto engine the machine drives
type Engine interface {
	Metadata(ctx context.Context) (*crypto.Metadata, error)
	Setup(ctx context.Context, passphrase []byte) (*crypto.Metadata, error)
	Encrypt(value any, schemaVersion int) (*crypto.Payload, error)
	Decrypt(p *crypto.Payload, out any) error
	ClearKey()
	HasKey() bool
	RotateKey(ctx context.Context, newPassphrase []byte, fn crypto.ReencryptFunc) error
}

// Reencrypter rewrites all records under a new key
type Reencrypter interface {
	ReencryptAll(ctx context.Context, prev, next *crypto.Key, commit func(storage.Tx) error, swap func()) error
}

// Hasher hashes and verifies secondary factors
type Hasher interface {
	Hash(password []byte) (string, error)
	Verify(password []byte, encoded string) (bool, error)
}

// Machine is the lock state machine
type Machine struct {
	engine   Engine
	settings *settings.Settings
	records  Reencrypter
	hasher   Hasher
	policy   Policy
	now      func() time.Time
	log      zerolog.Logger
	audit    audit.Recorder

	// guard serializes transitions; idle locks skip instead of waiting
	guard *semaphore.Weighted

	mu          sync.Mutex
	rec         settings.LockRecord
	masterReady bool
	initialized bool
}

// Option configures a Machine
type Option func(*Machine)

// WithPolicy overrides the throttling policy
func WithPolicy(p Policy) Option {
	return func(m *Machine) { m.policy = p }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(m *Machine) { m.log = log.With().Str("component", "lock").Logger() }
}

// WithAudit sets the audit recorder
func WithAudit(r audit.Recorder) Option {
	return func(m *Machine) { m.audit = r }
}

// WithHasher overrides the secondary-factor hasher
func WithHasher(h Hasher) Option {
	return func(m *Machine) { m.hasher = h }
}

// New creates a machine. Call Initialize before use.
func New(engine Engine, s *settings.Settings, records Reencrypter, opts ...Option) (*Machine, error) {
	m := &Machine{
		engine:   engine,
		settings: s,
		records:  records,
		policy:   DefaultPolicy(),
		now:      time.Now,
		log:      zerolog.Nop(),
		audit:    audit.Nop{},
		guard:    semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.hasher == nil {
		hasher, err := pwdhash.New(pwdhash.WithPolicy(pwdhash.PolicyInteractive))
		if err != nil {
			return nil, fmt.Errorf("failed to create factor hasher: %w", err)
		}
		m.hasher = hasher
	}
	return m, nil
}

// Initialize loads the persisted state and starts a locked session
func (m *Machine) Initialize(ctx context.Context) error {
	if err := m.guard.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.guard.Release(1)

	rec, err := m.settings.LockState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load lock state: %w", err)
	}
	meta, err := m.engine.Metadata(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = rec
	m.rec.Locked = true
	m.masterReady = false
	m.initialized = meta != nil
	return nil
}

// State returns a snapshot of the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := State{
		Phase:        m.phaseLocked(),
		Locked:       m.rec.Locked,
		Attempts:     m.rec.Attempts,
		LastFailures: append([]time.Time(nil), m.rec.LastFailures...),
		MasterReady:  m.masterReady,
	}
	if m.rec.CooldownUntil != nil {
		until := *m.rec.CooldownUntil
		s.CooldownUntil = &until
	}
	return s
}

// Phase returns the current phase
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phaseLocked()
}

func (m *Machine) phaseLocked() Phase {
	switch {
	case !m.initialized:
		return PhaseUninitialized
	case !m.masterReady:
		return PhaseAwaitingMaster
	case m.rec.Locked:
		return PhaseQuickLocked
	default:
		return PhaseUnlocked
	}
}

func (m *Machine) persistLocked(ctx context.Context) {
	if err := m.settings.SaveLockState(ctx, m.rec); err != nil {
		m.log.Error().Err(err).Msg("failed to persist lock state")
	}
}
