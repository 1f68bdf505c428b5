package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
)

var keyringCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Manage the passphrase cached in the OS keyring",
}

var keyringSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Verify the passphrase and save it to the keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
			if !v.Initialized() {
				return apperrors.ErrNotInitialized
			}
			if !core.IsTerminal() {
				return apperrors.ErrMissingPassphrase
			}

			// Prompt even if an entry exists, it may be stale
			passphrase, err := core.ReadPassphrase("Enter passphrase: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(passphrase)

			stop := startSpinner("Verifying passphrase...")
			err = v.Unlock(ctx, passphrase)
			stop()
			if err != nil {
				return err
			}

			vaultID, err := v.VaultID(ctx)
			if err != nil {
				return err
			}
			if err := cache.Save(vaultID, passphrase); err != nil {
				return err
			}
			printSuccess(os.Stdout, "Passphrase saved to keyring")
			return nil
		})
	},
}

var keyringDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the passphrase from the keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
			vaultID, err := v.VaultID(ctx)
			if err != nil {
				return err
			}
			if !cache.Has(vaultID) {
				fmt.Println("No passphrase stored in keyring")
				return nil
			}
			if err := cache.Delete(vaultID); err != nil {
				return err
			}
			printSuccess(os.Stdout, "Passphrase removed from keyring")
			return nil
		})
	},
}

var keyringStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a passphrase is cached",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cache.Enabled() {
			fmt.Println("Keyring disabled")
			return nil
		}
		return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
			vaultID, err := v.VaultID(ctx)
			if err != nil {
				return err
			}
			if cache.Has(vaultID) {
				fmt.Println("Passphrase stored in keyring")
			} else {
				fmt.Println("No passphrase stored in keyring")
			}
			return nil
		})
	},
}

func init() {
	keyringCmd.AddCommand(keyringSaveCmd, keyringDeleteCmd, keyringStatusCmd)
}
