package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/backup"
	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/crypto"
	"github.com/illarion/duitvault/internal/model"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write an encrypted backup of the vault",
	Long: `Writes every record to a single encrypted backup file. The backup is
protected by the current master passphrase.

By default the file is stored in the backups directory as
duit-YYYYMMDD-HHMMSS.duit. Use -o - to write to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			data, err := v.Export(ctx)
			if err != nil {
				return err
			}
			if exportOutput == "-" {
				_, err := os.Stdout.Write(data)
				return err
			}

			name := exportOutput
			if name == "" {
				name = core.BackupName(time.Now())
			}
			path, err := v.WriteBackup(name, data)
			if err != nil {
				return err
			}
			printSuccess(os.Stdout, "Backup written to %s", path)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <backup>",
	Short: "Replace the vault contents with a backup",
	Long: `Replaces every record with the contents of a backup. The backup is
fully decrypted and validated before anything is removed.

<backup> is a name in the backups directory or a path to a file.
An initialized vault must be unlocked first. After the import the
vault passphrase is the backup's passphrase.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
			data, err := readBackupArg(v, args[0])
			if err != nil {
				return err
			}
			if v.Initialized() {
				if err := UnlockVault(ctx, v); err != nil {
					return err
				}
			}

			var result *backup.ImportResult
			passphrase, _, err := GetPassphraseWithRetry("Enter backup passphrase: ", "", func(p []byte) (err error) {
				defer startSpinner("Importing backup...")()
				result, err = v.Import(ctx, data, p)
				return err
			})
			if err != nil {
				return err
			}
			crypto.ClearBytes(passphrase)

			for _, w := range result.Warnings {
				printWarning(os.Stderr, "%s", w)
			}
			printSuccess(os.Stdout, "Imported backup from %s", result.CreatedAt.Local().Format(time.RFC3339))
			for _, kind := range model.Kinds {
				fmt.Printf("  %-13s %d\n", kind, result.Counts[kind])
			}

			vaultID, err := v.VaultID(ctx)
			if err == nil && cache.Has(vaultID) {
				printHint(os.Stdout, "The keyring entry may hold the old passphrase, run %s", codeText.Sprint("duit keyring save"))
			}
			return nil
		})
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <backup>",
	Short: "Compare a backup with the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			data, err := readBackupArg(v, args[0])
			if err != nil {
				return err
			}

			var diffs map[string]string
			passphrase, _, err := GetPassphraseWithRetry("Enter backup passphrase: ", "", func(p []byte) (err error) {
				diffs, err = v.Diff(ctx, data, p)
				return err
			})
			if err != nil {
				return err
			}
			crypto.ClearBytes(passphrase)

			if len(diffs) == 0 {
				fmt.Println("No differences")
				return nil
			}
			for _, kind := range model.Kinds {
				if d, ok := diffs[string(kind)]; ok {
					fmt.Print(d)
				}
			}
			return nil
		})
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List backups in the backups directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
			names, err := v.Backups()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("(none)")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "backup file name, or - for stdout")
}

// readBackupArg reads a bare name from the backups directory and anything
// else as a path
func readBackupArg(v *core.Vault, arg string) ([]byte, error) {
	if filepath.IsAbs(arg) || strings.ContainsRune(arg, filepath.Separator) {
		return os.ReadFile(arg)
	}
	return v.ReadBackup(arg)
}

