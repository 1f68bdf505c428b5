// Package keyring caches the master passphrase in the OS keyring, keyed by vault id.
package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	apperrors "github.com/illarion/duitvault/internal/errors"
)

const serviceName = "duitvault"

// ErrDisabled is returned when the cache is turned off by configuration
var ErrDisabled = errors.New("keyring disabled")

// Cache stores one passphrase per vault
type Cache struct {
	enabled bool
}

// New returns a cache; a disabled cache never touches the OS keyring
func New(enabled bool) *Cache {
	return &Cache{enabled: enabled}
}

// Enabled reports whether the cache is active
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Save stores the passphrase for vaultID
func (c *Cache) Save(vaultID string, passphrase []byte) error {
	if !c.enabled {
		return ErrDisabled
	}
	if err := keyring.Set(serviceName, vaultID, string(passphrase)); err != nil {
		return fmt.Errorf("failed to save to keyring: %w", err)
	}
	return nil
}

// Load returns the cached passphrase for vaultID
func (c *Cache) Load(vaultID string) ([]byte, error) {
	if !c.enabled {
		return nil, ErrDisabled
	}
	secret, err := keyring.Get(serviceName, vaultID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring entry %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	return []byte(secret), nil
}

// Delete removes the cached passphrase; a missing entry is not an error
func (c *Cache) Delete(vaultID string) error {
	if !c.enabled {
		return nil
	}
	err := keyring.Delete(serviceName, vaultID)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}

// Has reports whether a passphrase is cached for vaultID
func (c *Cache) Has(vaultID string) bool {
	if !c.enabled {
		return false
	}
	_, err := keyring.Get(serviceName, vaultID)
	return err == nil
}
