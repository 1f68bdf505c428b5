package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Reclaim unused space in the vault file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
			// Get file size before
			info, err := os.Stat(cfg.VaultPath())
			if err != nil {
				return err
			}
			sizeBefore := info.Size()

			if err := v.Compact(); err != nil {
				return err
			}

			// Get file size after
			info, err = os.Stat(cfg.VaultPath())
			if err != nil {
				return err
			}
			sizeAfter := info.Size()

			fmt.Printf("Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(sizeAfter))
			return nil
		})
	},
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
