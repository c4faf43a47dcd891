// ABOUTME: The serve command: load config, print startup info, run the bot
// ABOUTME: QR codes are drawn only when stdout is a terminal

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/2389/fold-whatsapp/internal/config"
	"github.com/2389/fold-whatsapp/internal/session"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and link the WhatsApp session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions, out io.Writer) error {
	configPath := config.Resolve(opts.configPath)

	printBanner(out)

	cfg, err := config.Load(configPath)
	if err != nil {
		return &startupError{err: fmt.Errorf("loading config: %w", err)}
	}
	if err := cfg.ValidateServe(); err != nil {
		return &startupError{err: fmt.Errorf("validating config: %w", err)}
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	printStartup(out, cfg, configPath)

	logger.Info("starting fold-whatsapp",
		"config", configPath,
		"waha_url", cfg.WAHA.URL,
		"session", cfg.Session.Name,
		"listen", cfg.ListenAddr(),
	)

	b, err := newBot(cfg, logger, terminalPresenter(out), out)
	if err != nil {
		return &startupError{err: err}
	}
	defer b.close()

	return b.run(ctx)
}

// terminalPresenter returns a QR-drawing presenter when out is a terminal
// and nil otherwise, which makes the session manager log instead.
func terminalPresenter(out io.Writer) session.Presenter {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return session.NewTerminalPresenter(out)
}

func printStartup(out io.Writer, cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	if configPath == "" {
		configPath = "(environment only)"
	}

	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", configPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "WAHA:      %s\n", cfg.WAHA.URL)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Session:   %s\n", cfg.Session.Name)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Webhook:   %s\n", cfg.ListenAddr())
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Chat:      %s", cfg.Bot.AllowedChatID)
	if cfg.Bot.PrivateOnly {
		gray.Fprint(out, " (private only)")
	}
	fmt.Fprintln(out)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Model:     %s\n", cfg.Completion.Model)

	if cfg.Tailscale.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprint(out, "Tailscale: ")
		cyan.Fprint(out, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Fprint(out, " [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(out, " (ephemeral)")
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out)
}
