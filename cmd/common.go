package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/illarion/duitvault/internal/core"
	"github.com/illarion/duitvault/internal/crypto"
	apperrors "github.com/illarion/duitvault/internal/errors"
	"github.com/illarion/duitvault/internal/keyring"
)

const maxPromptAttempts = 3

// Passphrase sources
const (
	sourceEnv     = "env"
	sourceKeyring = "keyring"
	sourcePrompt  = "prompt"
)

// GetPassphraseWithRetry returns a passphrase that verify accepts.
// DUIT_PASSPHRASE is tried first, then the keyring, then the terminal.
// A keyring entry that no longer verifies is removed. The caller is
// responsible for calling crypto.ClearBytes on the result.
func GetPassphraseWithRetry(prompt, vaultID string, verify func([]byte) error) ([]byte, string, error) {
	if passphrase := core.GetPassphraseFromEnv(); passphrase != nil {
		if err := verify(passphrase); err != nil {
			crypto.ClearBytes(passphrase)
			return nil, "", err
		}
		return passphrase, sourceEnv, nil
	}

	if vaultID != "" && cache.Enabled() {
		passphrase, err := cache.Load(vaultID)
		switch {
		case err == nil:
			verr := verify(passphrase)
			if verr == nil {
				return passphrase, sourceKeyring, nil
			}
			crypto.ClearBytes(passphrase)
			if !errors.Is(verr, apperrors.ErrDecryption) {
				return nil, "", verr
			}
			printWarning(os.Stderr, "stored keyring passphrase is stale, removing it")
			if err := cache.Delete(vaultID); err != nil {
				logger.Warn().Err(err).Msg("failed to delete stale keyring entry")
			}
		case !errors.Is(err, apperrors.ErrNotFound):
			logger.Debug().Err(err).Msg("keyring unavailable")
		}
	}

	if !core.IsTerminal() {
		return nil, "", apperrors.ErrMissingPassphrase
	}

	var lastErr error
	for range maxPromptAttempts {
		passphrase, err := core.ReadPassphrase(prompt)
		if err != nil {
			return nil, "", err
		}
		lastErr = verify(passphrase)
		if lastErr == nil {
			return passphrase, sourcePrompt, nil
		}
		crypto.ClearBytes(passphrase)
		if !errors.Is(lastErr, apperrors.ErrDecryption) {
			break
		}
		printError(os.Stderr, "wrong passphrase")
	}
	return nil, "", lastErr
}

// GetPassphraseForInit reads a new passphrase from the environment or
// prompts for it twice
func GetPassphraseForInit(prompt string) ([]byte, error) {
	if passphrase := core.GetPassphraseFromEnv(); passphrase != nil {
		return passphrase, nil
	}
	if !core.IsTerminal() {
		return nil, apperrors.ErrMissingPassphrase
	}
	return core.ReadPassphraseConfirm(prompt)
}

// UnlockVault opens the session using the first passphrase source that works
func UnlockVault(ctx context.Context, v *core.Vault) error {
	if !v.Initialized() {
		return apperrors.ErrNotInitialized
	}
	vaultID, err := v.VaultID(ctx)
	if err != nil {
		return err
	}

	passphrase, source, err := GetPassphraseWithRetry("Enter passphrase: ", vaultID, func(p []byte) error {
		defer startSpinner("Deriving key...")()
		return v.Unlock(ctx, p)
	})
	if err != nil {
		return err
	}
	crypto.ClearBytes(passphrase)
	logger.Debug().Str("source", source).Msg("vault unlocked")
	return nil
}

// HandleError prints err with a hint for the errors users can act on
func HandleError(w io.Writer, err error) {
	var cooldown *apperrors.CooldownError
	switch {
	case errors.As(err, &cooldown):
		printError(w, "too many failed attempts")
		printHint(w, "Try again in %s (at %s)", cooldown.Remaining.Round(time.Second), cooldown.Until.Local().Format(time.Kitchen))
	case errors.Is(err, apperrors.ErrNotInitialized):
		printError(w, "vault not initialized")
		printHint(w, "Run %s first", codeText.Sprint("duit init"))
	case errors.Is(err, apperrors.ErrAlreadyExists):
		printError(w, "vault already exists at %s", cfg.VaultPath())
		printHint(w, "Use %s to see current state", codeText.Sprint("duit status"))
	case errors.Is(err, apperrors.ErrImportIncomplete):
		printError(w, "%s", err)
		printHint(w, "Run %s again with the backup's passphrase", codeText.Sprint("duit import <backup>"))
	case errors.Is(err, apperrors.ErrDecryption):
		printError(w, "wrong passphrase or corrupted data")
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		printError(w, "wrong PIN or password")
	case errors.Is(err, apperrors.ErrMissingPassphrase):
		printError(w, "passphrase required")
		printHint(w, "Set %s or run from a terminal", codeText.Sprint("DUIT_PASSPHRASE"))
	case errors.Is(err, apperrors.ErrInvalidFormat):
		printError(w, "%s", err)
		printHint(w, "The file is not a duit backup or is damaged")
	case errors.Is(err, apperrors.ErrLocked), errors.Is(err, apperrors.ErrNoActiveKey):
		printError(w, "vault is locked")
	case errors.Is(err, keyring.ErrDisabled):
		printError(w, "keyring disabled")
		printHint(w, "Set %s to enable it", codeText.Sprint("DUIT_KEYRING_ENABLED=true"))
	case errors.Is(err, errAborted):
		fmt.Fprintln(w, "Aborted")
	default:
		printError(w, "%s", err)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
