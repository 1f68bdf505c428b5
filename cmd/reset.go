package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear failed attempts and cooldown",
	Long: `Clears the failed unlock counter, the cooldown and the failure log.
Records and keys are not touched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes && !confirm(fmt.Sprintf("Reset lock state of %s?", cfg.VaultPath())) {
			return errAborted
		}
		return withVault(cmd, func(ctx context.Context, v *core.Vault) error {
			if !v.Initialized() {
				return nil
			}
			if err := v.Lock().Reset(ctx); err != nil {
				return err
			}
			printSuccess(os.Stdout, "Lock state reset")
			return nil
		})
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
}

func confirm(question string) bool {
	if !core.IsTerminal() {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
