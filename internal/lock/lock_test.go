package lock

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/illarion/duitvault/internal/audit"
	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/model"
	"github.com/illarion/duitvault/internal/securestore"
	"github.com/illarion/duitvault/internal/settings"
	"github.com/illarion/duitvault/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type countingEngine struct {
	*crypto.Engine
	decrypts atomic.Int64
}

func (e *countingEngine) Decrypt(p *crypto.Payload, out any) error {
	e.decrypts.Add(1)
	return e.Engine.Decrypt(p, out)
}

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) ops(op, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Operation == op && e.Outcome == outcome {
			n++
		}
	}
	return n
}

type fixture struct {
	kv       storage.Store
	settings *settings.Settings
	engine   *countingEngine
	records  *securestore.Store
	clock    *fakeClock
	audit    *recorder
	m        *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv, err := storage.OpenBolt(filepath.Join(t.TempDir(), "vault.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	f := &fixture{
		kv:       kv,
		settings: settings.New(kv),
		clock:    &fakeClock{t: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)},
		audit:    &recorder{},
	}
	f.engine = &countingEngine{Engine: crypto.NewEngine(f.settings, crypto.WithIterations(1000))}
	f.records = securestore.New(kv, f.engine.Engine, zerolog.Nop())
	f.m = f.machine(t)
	return f
}

// machine builds a fresh machine over the fixture's store, as after a restart
func (f *fixture) machine(t *testing.T) *Machine {
	t.Helper()
	m, err := New(f.engine, f.settings, f.records,
		WithClock(f.clock.Now),
		WithAudit(f.audit),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

func (f *fixture) unlock(t *testing.T, passphrase string) {
	t.Helper()
	method, err := f.m.Unlock(context.Background(), Credentials{Passphrase: []byte(passphrase)})
	require.NoError(t, err)
	require.Equal(t, MethodPassphrase, method)
}

func TestPolicyCooldown(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{4, 0},
		{5, 30 * time.Second},
		{6, 60 * time.Second},
		{7, 120 * time.Second},
		{16, 24 * time.Hour},
		{500, 24 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Cooldown(tt.attempts), "attempts=%d", tt.attempts)
	}

	uncapped := Policy{Threshold: 3, BaseCooldown: time.Second}
	assert.Equal(t, 4*time.Second, uncapped.Cooldown(5))

	// long failure streaks never wrap to zero or negative
	uncapped = Policy{Threshold: 5, BaseCooldown: 30 * time.Second}
	prev := time.Duration(0)
	for attempts := 5; attempts <= 80; attempts++ {
		d := uncapped.Cooldown(attempts)
		require.Greater(t, d, time.Duration(0), "attempts=%d", attempts)
		require.GreaterOrEqual(t, d, prev, "attempts=%d", attempts)
		prev = d
	}
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.Cooldown(40))
	assert.Equal(t, 24*time.Hour, p.Cooldown(40))
}

func TestPhaseTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assert.Equal(t, PhaseUninitialized, f.m.Phase())

	f.unlock(t, "correct horse")
	st := f.m.State()
	assert.Equal(t, PhaseUnlocked, st.Phase)
	assert.True(t, st.MasterReady)
	assert.False(t, st.Locked)

	p, err := f.settings.Sentinel(ctx)
	require.NoError(t, err)
	require.NotNil(t, p, "first unlock seals the sentinel")
	assert.Equal(t, 0, p.SchemaVersion)

	require.NoError(t, f.m.Lock(ctx, Options{}))
	assert.Equal(t, PhaseQuickLocked, f.m.Phase())
	assert.True(t, f.engine.HasKey())

	require.NoError(t, f.m.Lock(ctx, Options{ClearKey: true}))
	assert.Equal(t, PhaseAwaitingMaster, f.m.Phase())
	assert.False(t, f.engine.HasKey())

	// restart always comes up locked
	f.unlock(t, "correct horse")
	m := f.machine(t)
	assert.Equal(t, PhaseAwaitingMaster, m.Phase())
	assert.True(t, m.State().Locked)
}

func TestWrongPassphraseThrottles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.unlock(t, "correct horse")
	require.NoError(t, f.m.Lock(ctx, Options{ClearKey: true}))

	wrong := Credentials{Passphrase: []byte("battery staple")}
	for i := 1; i <= 5; i++ {
		_, err := f.m.Unlock(ctx, wrong)
		require.ErrorIs(t, err, apperrors.ErrDecryption, "attempt %d", i)
		assert.False(t, f.engine.HasKey())
	}

	st := f.m.State()
	assert.Equal(t, 5, st.Attempts)
	require.NotNil(t, st.CooldownUntil)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), *st.CooldownUntil)

	// refused before the passphrase is even tried
	_, err := f.m.Unlock(ctx, Credentials{Passphrase: []byte("correct horse")})
	var cd *apperrors.CooldownError
	require.ErrorAs(t, err, &cd)
	assert.ErrorIs(t, err, apperrors.ErrCooldown)
	assert.Equal(t, 30*time.Second, cd.Remaining)
	assert.Equal(t, 5, f.m.State().Attempts)

	f.clock.Advance(31 * time.Second)
	_, err = f.m.Unlock(ctx, wrong)
	require.ErrorIs(t, err, apperrors.ErrDecryption)
	assert.Equal(t, f.clock.Now().Add(60*time.Second), *f.m.State().CooldownUntil)

	f.clock.Advance(61 * time.Second)
	_, err = f.m.Unlock(ctx, wrong)
	require.ErrorIs(t, err, apperrors.ErrDecryption)
	assert.Equal(t, f.clock.Now().Add(120*time.Second), *f.m.State().CooldownUntil)

	f.clock.Advance(121 * time.Second)
	f.unlock(t, "correct horse")
	st = f.m.State()
	assert.Equal(t, 0, st.Attempts)
	assert.Nil(t, st.CooldownUntil)
	assert.Len(t, st.LastFailures, 7)

	assert.Equal(t, 7, f.audit.ops(audit.OpUnlock, audit.OutcomeFail))
	assert.Equal(t, 1, f.audit.ops(audit.OpCooldown, audit.OutcomeFail))
}

func TestPINThrottlingSkipsDecryption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.unlock(t, "correct horse")
	require.NoError(t, f.m.SetSecondaryFactors(ctx, "1234", ""))
	require.NoError(t, f.m.Lock(ctx, Options{}))
	require.Equal(t, PhaseQuickLocked, f.m.Phase())

	decrypts := f.engine.decrypts.Load()
	for i := 1; i <= 5; i++ {
		method, err := f.m.Unlock(ctx, Credentials{PIN: "000000"})
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials, "attempt %d", i)
		assert.Equal(t, MethodPIN, method)
	}

	_, err := f.m.Unlock(ctx, Credentials{PIN: "000000"})
	var cd *apperrors.CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, 30*time.Second, cd.Remaining)
	assert.Equal(t, decrypts, f.engine.decrypts.Load())
	assert.Equal(t, PhaseQuickLocked, f.m.Phase())

	f.clock.Advance(30 * time.Second)
	method, err := f.m.Unlock(ctx, Credentials{PIN: "1234"})
	require.NoError(t, err)
	assert.Equal(t, MethodPIN, method)
	assert.Equal(t, PhaseUnlocked, f.m.Phase())
	assert.Equal(t, 0, f.m.State().Attempts)
}

func TestPasswordFactor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.unlock(t, "correct horse")
	require.NoError(t, f.m.SetSecondaryFactors(ctx, "", "hunter22"))
	require.NoError(t, f.m.Lock(ctx, Options{}))

	_, err := f.m.Unlock(ctx, Credentials{PIN: "1234"})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials, "no PIN configured")

	method, err := f.m.Unlock(ctx, Credentials{PIN: "1234", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, MethodPassword, method)
}

func TestFactorRequiresMasterSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.unlock(t, "correct horse")
	require.NoError(t, f.m.SetSecondaryFactors(ctx, "1234", ""))
	require.NoError(t, f.m.Lock(ctx, Options{ClearKey: true}))

	_, err := f.m.Unlock(ctx, Credentials{PIN: "1234"})
	require.ErrorIs(t, err, apperrors.ErrMissingPassphrase)
	assert.Equal(t, 0, f.m.State().Attempts, "not counted as a failure")
	assert.Equal(t, PhaseAwaitingMaster, f.m.Phase())
}

func TestUnlockWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	method, err := f.m.Unlock(ctx, Credentials{WebAuthn: true})
	require.ErrorIs(t, err, apperrors.ErrNotImplemented)
	assert.Equal(t, MethodWebAuthn, method)

	_, err = f.m.Unlock(ctx, Credentials{})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 0, f.m.State().Attempts)
}

func TestSetSecondaryFactors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.ErrorIs(t, f.m.SetSecondaryFactors(ctx, "1234", ""), apperrors.ErrLocked)

	f.unlock(t, "correct horse")
	require.ErrorIs(t, f.m.SetSecondaryFactors(ctx, "12ab", ""), apperrors.ErrInvalidInput)
	require.ErrorIs(t, f.m.SetSecondaryFactors(ctx, "123", ""), apperrors.ErrInvalidInput)
	require.ErrorIs(t, f.m.SetSecondaryFactors(ctx, "", "short"), apperrors.ErrInvalidInput)

	has, err := f.m.HasSecondaryFactors(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, f.m.SetSecondaryFactors(ctx, "482913", "hunter22"))
	has, err = f.m.HasSecondaryFactors(ctx)
	require.NoError(t, err)
	assert.True(t, has)
	factors, err := f.settings.Factors(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, factors.PINHash)
	assert.NotContains(t, factors.PINHash, "482913")
	assert.NotEmpty(t, factors.PasswordHash)
}

func TestFailureLogLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.unlock(t, "correct horse")
	require.NoError(t, f.m.Lock(ctx, Options{ClearKey: true}))

	m, err := New(f.engine, f.settings, f.records,
		WithClock(f.clock.Now),
		WithPolicy(Policy{Threshold: 100, BaseCooldown: time.Second, FailureLogLimit: 10}),
	)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))

	for i := 0; i < 12; i++ {
		f.clock.Advance(time.Second)
		_, err := m.Unlock(ctx, Credentials{Passphrase: []byte("nope")})
		require.ErrorIs(t, err, apperrors.ErrDecryption)
	}

	st := m.State()
	assert.Equal(t, 12, st.Attempts)
	require.Len(t, st.LastFailures, 10)
	assert.Equal(t, f.clock.Now(), st.LastFailures[0])
	assert.True(t, st.LastFailures[0].After(st.LastFailures[9]))
	assert.Nil(t, st.CooldownUntil)
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.unlock(t, "correct horse")
	require.NoError(t, f.m.Lock(ctx, Options{ClearKey: true}))

	for i := 0; i < 5; i++ {
		_, _ = f.m.Unlock(ctx, Credentials{Passphrase: []byte("nope")})
	}

	m := f.machine(t)
	_, err := m.Unlock(ctx, Credentials{Passphrase: []byte("correct horse")})
	require.ErrorIs(t, err, apperrors.ErrCooldown)
	assert.Equal(t, 5, m.State().Attempts)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.unlock(t, "correct horse")
	require.NoError(t, f.m.Lock(ctx, Options{ClearKey: true}))
	for i := 0; i < 6; i++ {
		_, _ = f.m.Unlock(ctx, Credentials{Passphrase: []byte("nope")})
	}
	require.NotNil(t, f.m.State().CooldownUntil)

	require.NoError(t, f.m.Reset(ctx))
	st := f.m.State()
	assert.Equal(t, 0, st.Attempts)
	assert.Nil(t, st.CooldownUntil)
	assert.Empty(t, st.LastFailures)
	assert.True(t, st.Locked)
	assert.Equal(t, PhaseAwaitingMaster, st.Phase)

	f.unlock(t, "correct horse")
	assert.Equal(t, 1, f.audit.ops(audit.OpReset, audit.OutcomeOK))
}

func TestMissingSentinelIsSealed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// metadata exists but the sentinel was never written
	_, err := f.engine.Setup(ctx, []byte("correct horse"))
	require.NoError(t, err)
	f.engine.ClearKey()
	m := f.machine(t)
	assert.Equal(t, PhaseAwaitingMaster, m.Phase())

	_, err = m.Unlock(ctx, Credentials{Passphrase: []byte("correct horse")})
	require.NoError(t, err)
	p, err := f.settings.Sentinel(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NoError(t, m.Lock(ctx, Options{ClearKey: true}))
	_, err = m.Unlock(ctx, Credentials{Passphrase: []byte("other")})
	require.ErrorIs(t, err, apperrors.ErrDecryption)
}

func TestSealSentinel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.Setup(ctx, []byte("imported"))
	require.NoError(t, err)
	require.NoError(t, f.m.SealSentinel(ctx))
	assert.Equal(t, PhaseUnlocked, f.m.Phase())

	m := f.machine(t)
	_, err = m.Unlock(ctx, Credentials{Passphrase: []byte("imported")})
	require.NoError(t, err)
}

func TestRotateKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.ErrorIs(t, f.m.RotateKey(ctx, []byte("new")), apperrors.ErrLocked)

	f.unlock(t, "old passphrase")
	acc := &model.Account{
		ID:       model.NewID(),
		Name:     "BCA",
		Type:     model.AccountBank,
		Currency: model.CurrencyIDR,
	}
	acc.Touch(f.clock.Now())
	require.NoError(t, f.records.Put(ctx, acc))
	before, err := f.engine.Metadata(ctx)
	require.NoError(t, err)

	require.NoError(t, f.m.RotateKey(ctx, []byte("new passphrase")))
	after, err := f.engine.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.KeyVersion+1, after.KeyVersion)
	assert.NotEqual(t, before.Salt, after.Salt)
	assert.Equal(t, PhaseUnlocked, f.m.Phase())

	require.NoError(t, f.m.Lock(ctx, Options{ClearKey: true}))
	_, err = f.m.Unlock(ctx, Credentials{Passphrase: []byte("old passphrase")})
	require.ErrorIs(t, err, apperrors.ErrDecryption)

	f.unlock(t, "new passphrase")
	got, err := f.records.Get(ctx, model.KindAccount, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "BCA", got.(*model.Account).Name)
	assert.Equal(t, 1, f.audit.ops(audit.OpRotate, audit.OutcomeOK))
}

func TestIdleWatcherQuickLocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.unlock(t, "correct horse")
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := f.m.WatchIdle(ctx, 20*time.Millisecond)
	defer w.Stop()

	select {
	case <-w.Locked():
	case <-time.After(2 * time.Second):
		t.Fatal("idle watcher did not lock")
	}
	assert.Equal(t, PhaseQuickLocked, f.m.Phase())
	assert.True(t, f.engine.HasKey(), "idle lock keeps the key")
}

func TestIdleWatcherStop(t *testing.T) {
	f := newFixture(t)
	f.unlock(t, "correct horse")
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	w := f.m.WatchIdle(ctx, time.Hour)
	w.Touch()
	w.Touch()
	cancel()
	w.Stop()
	w.Stop()
	assert.Equal(t, PhaseUnlocked, f.m.Phase())
}

func TestRandomizeKeypad(t *testing.T) {
	keys, err := RandomizeKeypad()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, keys)
}
