// ABOUTME: Entry point for fold-whatsapp, a WhatsApp assistant bridged through WAHA
// ABOUTME: Builds the cobra command tree and maps failures to exit codes

package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __       _     _                 _           _
 / _| ___ | | __| |    __      __ | |__   __ _| |_ ___  __ _ _ __  _ __
| |_ / _ \| |/ _' |____\ \ /\ / / | '_ \ / _' | __/ __|/ _' | '_ \| '_ \
|  _| (_) | | (_| |_____\ V  V /  | | | | (_| | |_\__ \ (_| | |_) | |_) |
|_|  \___/|_|\__,_|      \_/\_/   |_| |_|\__,_|\__|___/\__,_| .__/| .__/
                                                             |_|   |_|
`

const wahaHint = "Is WAHA running? Start it with: docker run -it -p 3000:3000 devlikeapro/waha"

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		reportError(stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fold-whatsapp",
		Short: "WhatsApp chat assistant bridged through a WAHA gateway",
		Long: `fold-whatsapp links a WhatsApp account through a WAHA gateway session,
receives messages on a webhook, and answers one allow-listed chat with an
LLM-backed assistant that keeps a bounded per-chat history.

Running without a subcommand is the same as "fold-whatsapp serve".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: $FOLD_WHATSAPP_CONFIG, ./fold-whatsapp.yaml, ~/.config/fold-whatsapp/config.yaml)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(
		newServeCmd(opts),
		newSessionsCmd(opts),
		newSessionCmd(opts),
		newPairCmd(opts),
		newHealthCmd(opts),
		newStatsCmd(opts),
		newInitCmd(),
	)
	return cmd
}

// startupError marks failures that happen before the bot is live.
type startupError struct {
	err error
}

func (e *startupError) Error() string { return e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

// reportError prints err; a refused connection during startup almost always
// means the gateway container is not running, so that case gets a hint.
func reportError(w io.Writer, err error) {
	red := color.New(color.FgRed)
	var se *startupError
	if !errors.As(err, &se) {
		red.Fprintf(w, "Error: %v\n", err)
		return
	}
	red.Fprintf(w, "Failed to start: %v\n", se.err)
	if errors.Is(err, syscall.ECONNREFUSED) {
		color.New(color.FgYellow).Fprintln(w, wahaHint)
	}
}

func printBanner(w io.Writer) {
	color.New(color.FgCyan).Fprint(w, banner)
	color.New(color.FgHiBlack).Fprintf(w, "    version: %s\n\n", version)
}
