package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/lock"
	"github.com/illarion/duitvault/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault state without unlocking",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !core.Exists(cfg) {
			fmt.Println("No vault found at", cfg.VaultPath())
			printHint(os.Stdout, "Run %s to create one", codeText.Sprint("duit init"))
			return nil
		}
		return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
			status, err := v.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(os.Stdout, status)
			return nil
		})
	},
}

func printStatus(w io.Writer, s *core.StatusInfo) {
	fmt.Fprintf(w, "Vault:    %s (%s, %d bytes)\n", s.Path, s.Driver, s.Size)
	if s.Phase == lock.PhaseUninitialized {
		fmt.Fprintln(w, "State:    not initialized")
		return
	}
	fmt.Fprintf(w, "Vault ID: %s\n", s.VaultID)
	fmt.Fprintf(w, "State:    %s\n", s.Phase)
	fmt.Fprintf(w, "Cipher:   %s, %s x%d, key v%d, schema v%d\n",
		s.Algorithm, s.KDF, s.KDFIterations, s.KeyVersion, s.SchemaVersion)

	if s.Attempts > 0 {
		printWarning(w, "%d failed unlock attempt(s)", s.Attempts)
		for _, at := range s.LastFailures {
			fmt.Fprintf(w, "  %s\n", at.Local().Format(time.RFC3339))
		}
	}
	if s.CooldownUntil != nil && time.Now().Before(*s.CooldownUntil) {
		printWarning(w, "unlock blocked until %s", s.CooldownUntil.Local().Format(time.RFC3339))
	}

	fmt.Fprintln(w, "\nRecords:")
	for _, kind := range model.Kinds {
		fmt.Fprintf(w, "  %-13s %d\n", kind, s.Counts[kind])
	}
	fmt.Fprintf(w, "\nBackups:  %d\n", s.Backups)
}
