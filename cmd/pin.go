package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/lock"
)

var (
	pinWithPassword bool
	pinClear        bool
)

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Set the PIN and password used to resume a locked shell",
	Long: `Sets the quick-unlock PIN (4 to 12 digits) and, with --password, an
alternative password of 6 to 128 characters. They resume a shell session
that locked itself after inactivity. They never replace the master
passphrase, which is still required to open the vault.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			if pinClear {
				if err := v.Lock().SetSecondaryFactors(ctx, "", ""); err != nil {
					return err
				}
				printSuccess(os.Stdout, "PIN and password removed")
				return nil
			}
			if !core.IsTerminal() {
				return fmt.Errorf("%w: pin must be entered on a terminal", apperrors.ErrInvalidInput)
			}

			pin, err := readSecretConfirm("Enter new PIN: ", "Confirm PIN: ")
			if err != nil {
				return err
			}
			var password string
			if pinWithPassword {
				if password, err = readSecretConfirm("Enter new password: ", "Confirm password: "); err != nil {
					return err
				}
			}

			if err := v.Lock().SetSecondaryFactors(ctx, pin, password); err != nil {
				return err
			}
			printSuccess(os.Stdout, "Quick unlock configured")
			return nil
		})
	},
}

var keypadCmd = &cobra.Command{
	Use:   "keypad",
	Short: "Print a shuffled PIN keypad",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printKeypad(os.Stdout)
	},
}

func init() {
	pinCmd.Flags().BoolVar(&pinWithPassword, "password", false, "also set a quick-unlock password")
	pinCmd.Flags().BoolVar(&pinClear, "clear", false, "remove the PIN and password")
}

func readSecretConfirm(prompt, confirmPrompt string) (string, error) {
	first, err := core.ReadPassphrase(prompt)
	if err != nil {
		return "", err
	}
	second, err := core.ReadPassphrase(confirmPrompt)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("%w: entries do not match", apperrors.ErrInvalidInput)
	}
	return string(first), nil
}

// printKeypad draws the digits 0-9 in random order as a 3x3 grid with the
// last digit centered below
func printKeypad(w io.Writer) error {
	keys, err := lock.RandomizeKeypad()
	if err != nil {
		return err
	}
	var b strings.Builder
	for row := 0; row < 3; row++ {
		b.WriteString(" ")
		for col := 0; col < 3; col++ {
			fmt.Fprintf(&b, "[%s] ", keys[row*3+col])
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "     [%s]\n", keys[9])
	_, err = fmt.Fprint(w, b.String())
	return err
}
