package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/illarion/duitvault/cmd"
	"github.com/illarion/duitvault/internal/platform"
)

func main() {
	if err := platform.DisableCoreDumps(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Execute(ctx)
	stop()

	// Purge the session and wipe the keys before exiting
	memguard.SafeExit(code)
}
