package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/lock"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive session",
	Long: `Opens the vault once and keeps it open for read commands. After
DUIT_IDLE_TIMEOUT_SECONDS without input the session locks itself; the
next command asks for the PIN (or the passphrase when no PIN is set).
Type 'help' for the command list.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !core.IsTerminal() {
			return fmt.Errorf("%w: shell needs a terminal", apperrors.ErrInvalidInput)
		}
		return withUnlockedVault(cmd, func(ctx context.Context, v *core.Vault) error {
			return runShell(ctx, v, os.Stdin, os.Stdout, core.ReadPassphrase, cfg.IdleTimeout)
		})
	},
}

const shellHelp = `Commands:
  status              vault state
  accounts            accounts and balances
  tx [YYYY-MM]        transactions of a month (default: current)
  bills [YYYY-MM]     unpaid bills of a month (default: current)
  debts               open debts
  zakat               unpaid zakat
  keypad              shuffled PIN keypad
  lock                lock the session
  help                this text
  exit                close the vault
`

// shell is an interactive session over an unlocked vault
type shell struct {
	v       *core.Vault
	out     io.Writer
	secret  func(prompt string) ([]byte, error)
	watcher *lock.IdleWatcher
}

func runShell(ctx context.Context, v *core.Vault, in io.Reader, out io.Writer,
	secret func(prompt string) ([]byte, error), idle time.Duration) error {
	sh := &shell{v: v, out: out, secret: secret}
	if idle > 0 {
		sh.watcher = v.Lock().WatchIdle(ctx, idle)
		defer sh.watcher.Stop()
	}
	defer v.Lock().Lock(context.WithoutCancel(ctx), lock.Options{ClearKey: true})

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "duit> ")
		if !scanner.Scan() {
			break
		}
		sh.reportIdleLock()
		if sh.watcher != nil {
			sh.watcher.Touch()
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprint(out, shellHelp)
			continue
		}

		if err := sh.ensureUnlocked(ctx); err != nil {
			HandleError(out, err)
			continue
		}
		if err := sh.exec(ctx, fields[0], fields[1:]); err != nil {
			HandleError(out, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func (sh *shell) reportIdleLock() {
	if sh.watcher == nil {
		return
	}
	select {
	case <-sh.watcher.Locked():
		printWarning(sh.out, "session locked after inactivity")
	default:
	}
}

// ensureUnlocked resumes a locked session with the PIN, the password or
// the master passphrase
func (sh *shell) ensureUnlocked(ctx context.Context) error {
	m := sh.v.Lock()
	switch m.Phase() {
	case lock.PhaseUnlocked:
		return nil
	case lock.PhaseQuickLocked:
		has, err := m.HasSecondaryFactors(ctx)
		if err != nil {
			return err
		}
		if has {
			return sh.unlockWithFactor(ctx)
		}
	}

	passphrase, err := sh.secret("Enter passphrase: ")
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(passphrase)
	_, err = m.Unlock(ctx, lock.Credentials{Passphrase: passphrase})
	return err
}

func (sh *shell) unlockWithFactor(ctx context.Context) error {
	if err := printKeypad(sh.out); err != nil {
		return err
	}
	secret, err := sh.secret("PIN or password: ")
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(secret)

	creds := lock.Credentials{Password: string(secret)}
	if isDigits(secret) {
		creds = lock.Credentials{PIN: string(secret)}
	}
	method, err := sh.v.Lock().Unlock(ctx, creds)
	if err != nil {
		return err
	}
	logger.Debug().Str("method", string(method)).Msg("session resumed")
	return nil
}

func (sh *shell) exec(ctx context.Context, name string, args []string) error {
	l := sh.v.Ledger()
	switch name {
	case "status":
		status, err := sh.v.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(sh.out, status)
	case "accounts":
		return printAccounts(ctx, sh.out, l)
	case "tx":
		txs, err := l.Transactions.ByMonth(ctx, monthArg(args))
		if err != nil {
			return err
		}
		printTransactions(sh.out, txs)
	case "bills":
		bills, err := l.Bills.Unpaid(ctx, monthArg(args))
		if err != nil {
			return err
		}
		printBills(sh.out, bills)
	case "debts":
		debts, err := l.Debts.Filter(ctx, openDebt)
		if err != nil {
			return err
		}
		printDebts(sh.out, debts)
	case "zakat":
		entries, err := l.Zakat.Filter(ctx, unpaidZakat)
		if err != nil {
			return err
		}
		printZakat(sh.out, entries)
	case "keypad":
		return printKeypad(sh.out)
	case "lock":
		if err := sh.v.Lock().Lock(ctx, lock.Options{}); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "Locked")
	default:
		return fmt.Errorf("%w: unknown command %q, type 'help'", apperrors.ErrInvalidInput, name)
	}
	return nil
}

func isDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func monthArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return time.Now().Format("2006-01")
}
