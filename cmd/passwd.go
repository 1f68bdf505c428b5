package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the master passphrase",
	Long: `Re-encrypts every record under a key derived from a new passphrase.
The vault stays readable with the old passphrase until the switch commits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			if !core.IsTerminal() {
				return apperrors.ErrMissingPassphrase
			}
			next, err := core.ReadPassphraseConfirm("Enter new passphrase: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(next)

			stop := startSpinner("Re-encrypting vault...")
			err = v.Lock().RotateKey(ctx, next)
			stop()
			if err != nil {
				return err
			}

			// Always try to update keyring if an entry exists
			vaultID, err := v.VaultID(ctx)
			if err == nil && cache.Has(vaultID) {
				if err := cache.Save(vaultID, next); err == nil {
					printSuccess(os.Stdout, "Keyring updated with new passphrase")
				}
			}

			// Compact database after rewriting all data
			if err := v.Compact(); err != nil {
				printWarning(os.Stderr, "compaction failed: %s", err)
			}

			printSuccess(os.Stdout, "Passphrase changed")
			return nil
		})
	},
}
