package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

var (
	successText = color.New(color.FgGreen)
	warnText    = color.New(color.FgYellow)
	errorText   = color.New(color.FgRed, color.Bold)
	hintText    = color.New(color.FgCyan)
	codeText    = color.New(color.FgMagenta)
)

func printSuccess(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, "%s %s\n", successText.Sprint("✓"), fmt.Sprintf(format, a...))
}

func printWarning(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, "%s %s\n", warnText.Sprint("!"), fmt.Sprintf(format, a...))
}

func printError(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, "%s %s\n", errorText.Sprint("Error:"), fmt.Sprintf(format, a...))
}

func printHint(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, "%s %s\n", hintText.Sprint("→"), fmt.Sprintf(format, a...))
}

// startSpinner shows message on stderr while key derivation runs.
// Nothing is drawn when stderr is not a terminal or verbose logging is on.
func startSpinner(message string) func() {
	if verbose || !isTerminal(os.Stderr) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	// Ignore color errors
	_ = s.Color("cyan")
	s.Start()
	return s.Stop
}
