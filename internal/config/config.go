// Package config provides application configuration through environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/jellydator/validation"
	"github.com/joho/godotenv"

	apperrors "github.com/illarion/duitvault/internal/errors"
)

const (
	appName = "duitvault"

	// PassphraseEnv holds the master passphrase for non-interactive use
	PassphraseEnv = "DUIT_PASSPHRASE"
)

// Config holds all application configuration.
type Config struct {
	// DataDir holds the vault database, audit log and backups.
	DataDir string
	// StoreDriver selects the storage backend ("bolt" or "sqlite").
	StoreDriver string

	// KDFIterations is the PBKDF2 iteration count for newly generated metadata.
	KDFIterations int

	// IdleTimeout is how long an interactive session may sit idle before it quick-locks.
	IdleTimeout time.Duration

	// LockoutThreshold is the number of consecutive failures before cooldowns start.
	LockoutThreshold int
	// CooldownBase is the cooldown imposed at the threshold.
	CooldownBase time.Duration
	// CooldownMax caps the cooldown.
	CooldownMax time.Duration
	// FailureLogLimit is how many failure timestamps are retained.
	FailureLogLimit int

	// LogLevel is the logging level (e.g., "debug", "info", "warn", "error").
	LogLevel string
	// LogFormat is "console" or "json".
	LogFormat string

	// KeyringEnabled allows caching the passphrase in the OS keyring.
	KeyringEnabled bool
	// AuditEnabled turns the audit trail on.
	AuditEnabled bool
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	// Try to load .env file recursively
	loadDotEnv()

	return &Config{
		// Storage
		DataDir:     env.GetString("DUIT_DATA_DIR", defaultDataDir()),
		StoreDriver: env.GetString("DUIT_STORE_DRIVER", "bolt"),

		// Crypto
		KDFIterations: env.GetInt("DUIT_KDF_ITERATIONS", 250000),

		// Session
		IdleTimeout:      env.GetDuration("DUIT_IDLE_TIMEOUT_SECONDS", 60, time.Second),
		LockoutThreshold: env.GetInt("DUIT_LOCKOUT_THRESHOLD", 5),
		CooldownBase:     env.GetDuration("DUIT_COOLDOWN_BASE_SECONDS", 30, time.Second),
		CooldownMax:      env.GetDuration("DUIT_COOLDOWN_MAX_SECONDS", 86400, time.Second),
		FailureLogLimit:  env.GetInt("DUIT_FAILURE_LOG_LIMIT", 10),

		// Logging
		LogLevel:  env.GetString("DUIT_LOG_LEVEL", "warn"),
		LogFormat: env.GetString("DUIT_LOG_FORMAT", "console"),

		KeyringEnabled: env.GetBool("DUIT_KEYRING_ENABLED", true),
		AuditEnabled:   env.GetBool("DUIT_AUDIT_ENABLED", true),
	}
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.StoreDriver, validation.Required, validation.In("bolt", "sqlite")),
		validation.Field(&c.KDFIterations, validation.Required, validation.Min(1000)),
		validation.Field(&c.IdleTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.LockoutThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.CooldownBase, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.CooldownMax, validation.Required, validation.Min(c.CooldownBase)),
		validation.Field(&c.FailureLogLimit, validation.Min(0)),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error", "disabled")),
		validation.Field(&c.LogFormat, validation.In("console", "json")),
	)
	if err != nil {
		return fmt.Errorf("%w: config: %v", apperrors.ErrInvalidInput, err)
	}
	return nil
}

// VaultPath returns the database file for the configured driver.
func (c *Config) VaultPath() string {
	if c.StoreDriver == "sqlite" {
		return filepath.Join(c.DataDir, "vault.sqlite")
	}
	return filepath.Join(c.DataDir, "vault.db")
}

// BackupDir returns the directory backups are written to and read from.
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// AuditPath returns the audit log file.
func (c *Config) AuditPath() string {
	return filepath.Join(c.DataDir, "audit.jsonl")
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(dir, appName)
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
