package securestore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/model"
	"github.com/illarion/duitvault/internal/settings"
	"github.com/illarion/duitvault/internal/storage"
)

var testNow = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	kv       storage.Store
	settings *settings.Settings
	engine   *crypto.Engine
	store    *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv, err := storage.OpenBolt(filepath.Join(t.TempDir(), "vault.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	s := settings.New(kv)
	engine := crypto.NewEngine(s, crypto.WithIterations(1000))
	_, err = engine.Setup(context.Background(), []byte("passphrase"))
	require.NoError(t, err)

	return &fixture{
		kv:       kv,
		settings: s,
		engine:   engine,
		store:    New(kv, engine, zerolog.Nop()),
	}
}

func account(name string) *model.Account {
	return &model.Account{
		ID:         model.NewID(),
		Name:       name,
		Type:       model.AccountBank,
		Currency:   model.CurrencyIDR,
		Timestamps: model.Timestamps{CreatedAt: testNow, UpdatedAt: testNow},
	}
}

func bill(name string) *model.Bill {
	return &model.Bill{
		ID:         model.NewID(),
		Name:       name,
		Amount:     100000,
		DueDateDay: 5,
		IsActive:   true,
		Timestamps: model.Timestamps{CreatedAt: testNow, UpdatedAt: testNow},
	}
}

func TestPutGetListDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, b := account("BCA"), account("Dompet")
	require.NoError(t, f.store.Put(ctx, a))
	require.NoError(t, f.store.Put(ctx, b))

	got, err := f.store.Get(ctx, model.KindAccount, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	list, err := f.store.List(ctx, model.KindAccount)
	require.NoError(t, err)
	assert.Equal(t, []model.Entity{a, b}, list)

	require.NoError(t, f.store.Delete(ctx, model.KindAccount, a.ID))
	require.NoError(t, f.store.Delete(ctx, model.KindAccount, a.ID), "delete is idempotent")

	got, err = f.store.Get(ctx, model.KindAccount, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutRejectsInvalidEntity(t *testing.T) {
	f := newFixture(t)
	bad := account("")
	err := f.store.Put(context.Background(), bad)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestNoPlaintextAtRest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := account("Rekening Rahasia")
	require.NoError(t, f.store.Put(ctx, a))

	blob, err := f.kv.Get(ctx, string(model.KindAccount), a.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "Rekening Rahasia")

	var env Envelope
	require.NoError(t, json.Unmarshal(blob, &env))
	assert.Equal(t, a.ID, env.ID)
	assert.Equal(t, model.SchemaVersion, env.Payload.SchemaVersion)
}

func TestListAbortsOnCorruptRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.Put(ctx, account(fmt.Sprintf("acc-%d", i))))
	}
	victim := account("victim")
	require.NoError(t, f.store.Put(ctx, victim))
	corrupt(t, f.kv, model.KindAccount, victim.ID)

	list, err := f.store.List(ctx, model.KindAccount)
	assert.ErrorIs(t, err, apperrors.ErrDecryption)
	assert.Nil(t, list)

	_, err = f.store.Get(ctx, model.KindAccount, victim.ID)
	assert.ErrorIs(t, err, apperrors.ErrDecryption)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.Put(ctx, account("BCA")))
	require.NoError(t, f.store.Put(ctx, bill("Listrik")))

	require.NoError(t, f.store.ClearAll(ctx))

	counts, err := f.store.Count(ctx)
	require.NoError(t, err)
	for _, kind := range model.Kinds {
		assert.Zero(t, counts[kind], kind)
	}

	// Settings survive
	meta, err := f.settings.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.NotNil(t, meta)
}

func TestReencryptAllViaRotateKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, b := account("BCA"), bill("Internet")
	require.NoError(t, f.store.Put(ctx, a))
	require.NoError(t, f.store.Put(ctx, b))

	before := rawPayload(t, f.kv, model.KindAccount, a.ID)
	oldMeta, err := f.engine.Metadata(ctx)
	require.NoError(t, err)
	oldKey, err := oldMeta.DeriveKey([]byte("passphrase"))
	require.NoError(t, err)

	err = f.engine.RotateKey(ctx, []byte("new passphrase"), func(ctx context.Context, prev, next *crypto.Key, meta *crypto.Metadata, install func()) error {
		return f.store.ReencryptAll(ctx, prev, next, func(tx storage.Tx) error {
			return settings.In(tx).SaveMetadata(meta)
		}, install)
	})
	require.NoError(t, err)

	got, err := f.store.Get(ctx, model.KindAccount, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	got, err = f.store.Get(ctx, model.KindBill, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	after := rawPayload(t, f.kv, model.KindAccount, a.ID)
	assert.NotEqual(t, before.IV, after.IV)
	assert.Equal(t, oldMeta.KeyVersion+1, after.KeyVersion)

	// Old key can no longer read rewritten records
	_, err = oldKey.OpenBytes(after)
	assert.ErrorIs(t, err, apperrors.ErrDecryption)

	// Persisted metadata matches the new key
	meta, err := f.settings.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, after.KeyVersion, meta.KeyVersion)

	assertNoShadows(t, f.kv)
}

func TestReencryptAllFailureLeavesVaultIntact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := account("BCA")
	require.NoError(t, f.store.Put(ctx, a))
	good := bill("Air")
	require.NoError(t, f.store.Put(ctx, good))
	broken := bill("Rusak")
	require.NoError(t, f.store.Put(ctx, broken))
	corrupt(t, f.kv, model.KindBill, broken.ID)

	oldMeta, err := f.engine.Metadata(ctx)
	require.NoError(t, err)
	before := rawPayload(t, f.kv, model.KindAccount, a.ID)

	err = f.engine.RotateKey(ctx, []byte("new passphrase"), func(ctx context.Context, prev, next *crypto.Key, meta *crypto.Metadata, install func()) error {
		return f.store.ReencryptAll(ctx, prev, next, func(tx storage.Tx) error {
			return settings.In(tx).SaveMetadata(meta)
		}, install)
	})
	require.ErrorIs(t, err, apperrors.ErrDecryption)

	// Accounts were staged before bills failed, but the live copy is untouched
	assert.Equal(t, before, rawPayload(t, f.kv, model.KindAccount, a.ID))

	got, err := f.store.Get(ctx, model.KindAccount, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	meta, err := f.settings.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, oldMeta.KeyVersion, meta.KeyVersion)
	assert.Equal(t, oldMeta.Salt, meta.Salt)

	assertNoShadows(t, f.kv)
}

func TestReencryptAllCommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := account("BCA")
	require.NoError(t, f.store.Put(ctx, a))
	before := rawPayload(t, f.kv, model.KindAccount, a.ID)

	meta, err := f.engine.Metadata(ctx)
	require.NoError(t, err)
	prev, err := meta.DeriveKey([]byte("passphrase"))
	require.NoError(t, err)
	nextMeta, err := crypto.NewMetadata(1000, meta.KeyVersion+1)
	require.NoError(t, err)
	next, err := nextMeta.DeriveKey([]byte("other"))
	require.NoError(t, err)

	err = f.store.ReencryptAll(ctx, prev, next, func(storage.Tx) error {
		return fmt.Errorf("commit refused")
	}, func() {
		t.Fatal("swap must not run when the commit fails")
	})
	require.Error(t, err)

	assert.Equal(t, before, rawPayload(t, f.kv, model.KindAccount, a.ID))
	assertNoShadows(t, f.kv)
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, f.store.Put(ctx, account(fmt.Sprintf("acc-%02d", i))))
		}(i)
	}
	wg.Wait()

	list, err := f.store.List(ctx, model.KindAccount)
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

func TestWriteAfterReencryptUsesNewKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := account("BCA")
	require.NoError(t, f.store.Put(ctx, a))

	late := account("Jenius")
	err := f.engine.RotateKey(ctx, []byte("new passphrase"), func(ctx context.Context, prev, next *crypto.Key, meta *crypto.Metadata, install func()) error {
		err := f.store.ReencryptAll(ctx, prev, next, func(tx storage.Tx) error {
			return settings.In(tx).SaveMetadata(meta)
		}, install)
		if err != nil {
			return err
		}
		return f.store.Put(ctx, late)
	})
	require.NoError(t, err)

	meta, err := f.settings.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, meta.KeyVersion, rawPayload(t, f.kv, model.KindAccount, late.ID).KeyVersion)

	got, err := f.store.Get(ctx, model.KindAccount, late.ID)
	require.NoError(t, err)
	assert.Equal(t, late, got)

	list, err := f.store.List(ctx, model.KindAccount)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestWritersDuringRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	for i := 0; i < 10; i++ {
		require.NoError(t, f.store.Put(ctx, account(fmt.Sprintf("seed-%02d", i))))
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			for i := 0; i < 10; i++ {
				assert.NoError(t, f.store.Put(ctx, account(fmt.Sprintf("w%d-%02d", w, i))))
			}
		}(w)
	}

	close(start)
	err := f.engine.RotateKey(ctx, []byte("new passphrase"), func(ctx context.Context, prev, next *crypto.Key, meta *crypto.Metadata, install func()) error {
		return f.store.ReencryptAll(ctx, prev, next, func(tx storage.Tx) error {
			return settings.In(tx).SaveMetadata(meta)
		}, install)
	})
	require.NoError(t, err)
	wg.Wait()

	meta, err := f.settings.LoadMetadata(ctx)
	require.NoError(t, err)

	list, err := f.store.List(ctx, model.KindAccount)
	require.NoError(t, err)
	require.Len(t, list, 50)
	for _, e := range list {
		acc := e.(*model.Account)
		assert.Equal(t, meta.KeyVersion, rawPayload(t, f.kv, model.KindAccount, acc.ID).KeyVersion, acc.Name)
	}
	assertNoShadows(t, f.kv)
}

func TestUnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.List(context.Background(), model.Kind("_settings"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func rawPayload(t *testing.T, kv storage.Store, kind model.Kind, id string) *crypto.Payload {
	t.Helper()
	blob, err := kv.Get(context.Background(), string(kind), id)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(blob, &env))
	return env.Payload
}

func corrupt(t *testing.T, kv storage.Store, kind model.Kind, id string) {
	t.Helper()
	p := rawPayload(t, kv, kind, id)
	p.Ciphertext[0] ^= 0xff
	blob, err := json.Marshal(Envelope{ID: id, Payload: p})
	require.NoError(t, err)
	require.NoError(t, kv.Put(context.Background(), string(kind), id, blob))
}

func assertNoShadows(t *testing.T, kv storage.Store) {
	t.Helper()
	err := kv.View(context.Background(), func(tx storage.Tx) error {
		for _, kind := range model.Kinds {
			err := tx.ForEach(shadowOf(kind), func(id string, _ []byte) error {
				return fmt.Errorf("leftover shadow record %s", id)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(shadowOf(model.KindBill), ShadowPrefix))
}
