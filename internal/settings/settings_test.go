package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/storage"
)

func newTestSettings(t *testing.T) (*Settings, storage.Store) {
	t.Helper()
	store, err := storage.OpenBolt(filepath.Join(t.TempDir(), "settings.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSettings(t)

	meta, err := s.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Nil(t, meta)

	want, err := crypto.NewMetadata(1000, crypto.InitialKeyVersion)
	require.NoError(t, err)
	require.NoError(t, s.SaveMetadata(ctx, want))

	got, err := s.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSaveMetadataRejectsInvalid(t *testing.T) {
	s, _ := newTestSettings(t)
	err := s.SaveMetadata(context.Background(), &crypto.Metadata{KDF: "argon2"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLockStateDefaultsToZero(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSettings(t)

	rec, err := s.LockState(ctx)
	require.NoError(t, err)
	assert.Equal(t, LockRecord{}, rec)

	until := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := LockRecord{
		Locked:        true,
		Attempts:      6,
		CooldownUntil: &until,
		LastFailures:  []time.Time{until, until.Add(-time.Minute)},
	}
	require.NoError(t, s.SaveLockState(ctx, want))

	rec, err = s.LockState(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, rec)
}

func TestVaultID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSettings(t)

	_, err := s.VaultID(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	id, err := s.GetOrCreateVaultID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := s.GetOrCreateVaultID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	got, err := s.VaultID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestWriterInsideUpdate(t *testing.T) {
	ctx := context.Background()
	s, store := newTestSettings(t)

	meta, err := crypto.NewMetadata(1000, 2)
	require.NoError(t, err)
	sentinel := &crypto.Payload{IV: make([]byte, crypto.NonceSize), AuthTag: make([]byte, crypto.TagSize)}

	boom := errors.New("boom")
	err = store.Update(ctx, func(tx storage.Tx) error {
		w := In(tx)
		if err := w.SaveMetadata(meta); err != nil {
			return err
		}
		if err := w.SaveSentinel(sentinel); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "rolled back transaction must not persist metadata")

	require.NoError(t, store.Update(ctx, func(tx storage.Tx) error {
		return In(tx).SaveSentinel(sentinel)
	}))
	p, err := s.Sentinel(ctx)
	require.NoError(t, err)
	assert.Equal(t, sentinel.IV, p.IV)
}
