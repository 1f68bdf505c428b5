package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
)

var initSaveKeyring bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new vault",
	Long: `Creates the vault, derives the first key from a new master passphrase
and seals the verification sentinel.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
			if v.Initialized() {
				return apperrors.ErrAlreadyExists
			}

			passphrase, err := GetPassphraseForInit("Enter new passphrase: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(passphrase)

			stop := startSpinner("Deriving key...")
			err = v.Init(ctx, passphrase)
			stop()
			if err != nil {
				return err
			}
			printSuccess(os.Stdout, "Initialized vault at %s", cfg.VaultPath())

			if initSaveKeyring {
				vaultID, err := v.VaultID(ctx)
				if err != nil {
					return err
				}
				if err := cache.Save(vaultID, passphrase); err != nil {
					printWarning(os.Stderr, "%s", err)
					return nil
				}
				printSuccess(os.Stdout, "Passphrase saved to keyring")
			}
			return nil
		})
	},
}

func init() {
	initCmd.Flags().BoolVar(&initSaveKeyring, "keyring", false, "save the passphrase to the OS keyring")
}
