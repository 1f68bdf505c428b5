package core

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/illarion/duitvault/internal/lock"
	"github.com/illarion/duitvault/internal/model"
)

// StatusInfo contains status information
type StatusInfo struct {
	Path          string
	Driver        string
	Size          int64
	VaultID       string
	Phase         lock.Phase
	Attempts      int
	CooldownUntil *time.Time
	LastFailures  []time.Time
	Algorithm     string
	KDF           string
	KDFIterations int
	KeyVersion    int
	SchemaVersion int
	Counts        map[model.Kind]int
	Backups       int
}

// Status returns the current status (no passphrase required)
func (v *Vault) Status(ctx context.Context) (*StatusInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := v.lock.State()
	status := &StatusInfo{
		Path:          v.cfg.VaultPath(),
		Driver:        v.cfg.StoreDriver,
		Phase:         st.Phase,
		Attempts:      st.Attempts,
		CooldownUntil: st.CooldownUntil,
		LastFailures:  st.LastFailures,
		Algorithm:     "AES-256-GCM",
		SchemaVersion: model.SchemaVersion,
	}

	if info, err := os.Stat(status.Path); err == nil {
		status.Size = info.Size()
	}

	meta, err := v.engine.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return status, nil
	}
	status.KDF = meta.KDF
	status.KDFIterations = meta.Iterations
	status.KeyVersion = meta.KeyVersion

	// Not critical
	if id, err := v.settings.VaultID(ctx); err == nil {
		status.VaultID = id
	}

	// counting reads envelopes only, no key needed
	if status.Counts, err = v.records.Count(ctx); err != nil {
		return nil, err
	}

	names, err := v.backups.List()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	status.Backups = len(names)
	return status, nil
}
