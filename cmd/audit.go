package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/audit"
	"github.com/illarion/duitvault/internal/core"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the security audit trail",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.AuditEnabled {
			fmt.Println("Audit trail disabled")
			return nil
		}
		return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
			entries, err := v.AuditEntries()
			if err != nil {
				return err
			}
			if auditLimit > 0 && len(entries) > auditLimit {
				entries = entries[len(entries)-auditLimit:]
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-8s %-4s", e.Timestamp, e.Operation, e.Outcome)
				if e.Method != "" {
					line += " method=" + e.Method
				}
				if e.Attempts > 0 {
					line += fmt.Sprintf(" attempts=%d", e.Attempts)
				}
				if e.Detail != "" {
					line += " " + e.Detail
				}
				if e.Outcome == audit.OutcomeFail {
					line = warnText.Sprint(line)
				}
				fmt.Println(line)
			}
			return nil
		})
	},
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "show the last n entries, 0 for all")
}
