// Command wagoo-bridge runs the Wagoo desktop pairing host and talks to a
// running one.
//
// Usage:
//
//	wagoo-bridge start [wagoo://...]   Run the pairing host
//	wagoo-bridge status                Show the running host's status
//	wagoo-bridge pair                  Print the pairing QR code
//	wagoo-bridge discover              Probe for hosts over UDP (or mDNS)
//	wagoo-bridge open <wagoo://...>    Hand a deep link to the running host
//	wagoo-bridge history               List recorded pairing events
//	wagoo-bridge version               Print the version
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	apperrors "github.com/wagoo/bridge/internal/errors"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runContext(ctx, args, os.Getenv, stdout, stderr)
}

func runContext(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	root := newRootCmd(getenv)
	root.SetArgs(args[1:])
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		code, msg := apperrors.ToCodeAndMessage(err)
		if code == apperrors.CodeUnknown {
			root.PrintErrln("Error:", err)
		} else {
			root.PrintErrf("Error: %s (%s)\n", msg, code)
		}
		return 1
	}
	return 0
}
