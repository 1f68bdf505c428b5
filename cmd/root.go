// Package cmd implements the duit command line interface.
package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/config"
	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/keyring"
	"github.com/illarion/duitvault/internal/logging"
)

var (
	verbose     bool
	dataDirFlag string
	driverFlag  string

	cfg    *config.Config
	logger zerolog.Logger
	cache  *keyring.Cache
)

var rootCmd = &cobra.Command{
	Use:   "duit",
	Short: "Encrypted personal finance vault",
	Long: `duit keeps accounts, transactions, debts, bills, zakat and budgets in a
local vault encrypted with a key derived from your master passphrase.

Set DUIT_PASSPHRASE for non-interactive use, or cache the passphrase
with 'duit keyring save'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if dataDirFlag != "" {
			cfg.DataDir = dataDirFlag
		}
		if driverFlag != "" {
			cfg.StoreDriver = driverFlag
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger = logging.New(level, cfg.LogFormat, os.Stderr)
		cache = keyring.New(cfg.KeyringEnabled)
		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "vault directory (overrides DUIT_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "storage driver: bolt or sqlite (overrides DUIT_STORE_DRIVER)")

	rootCmd.AddCommand(
		initCmd,
		statusCmd,
		passwdCmd,
		resetCmd,
		exportCmd,
		importCmd,
		diffCmd,
		backupsCmd,
		pinCmd,
		keypadCmd,
		shellCmd,
		accountCmd,
		txCmd,
		debtCmd,
		billCmd,
		zakatCmd,
		budgetCmd,
		compactCmd,
		keyringCmd,
		auditCmd,
	)
}

// Execute runs the command line and returns the process exit code
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		HandleError(os.Stderr, err)
		return 1
	}
	return 0
}

// openVault opens the configured vault in a locked session
func openVault(ctx context.Context) (*core.Vault, error) {
	return core.Open(ctx, cfg, logger)
}

// withVault opens the vault, runs fn and closes it
func withVault(cmd *cobra.Command, fn func(ctx context.Context, v *core.Vault) error) error {
	ctx := cmd.Context()
	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()
	return fn(ctx, v)
}

// withUnlockedVault opens the vault and unlocks it before running fn
func withUnlockedVault(cmd *cobra.Command, fn func(ctx context.Context, v *core.Vault) error) error {
	return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
		if err := UnlockVault(ctx, v); err != nil {
			return err
		}
		return fn(ctx, v)
	})
}

var errAborted = errors.New("aborted")
