// ABOUTME: Session management commands: list, status, stop/restart/logout/delete, pair
// ABOUTME: Output is rendered with lipgloss styles over a tabwriter

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/2389/fold-whatsapp/internal/config"
	"github.com/2389/fold-whatsapp/internal/session"
	"github.com/2389/fold-whatsapp/internal/waha"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// loadCLIConfig loads configuration for the one-shot commands. They log to
// stderr and raise the default info level to warn.
func loadCLIConfig(opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.Resolve(opts.configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logCfg := cfg.Logging
	if parseLevel(logCfg.Level) == slog.LevelInfo {
		logCfg.Level = "warn"
	}
	return cfg, setupLogger(logCfg, os.Stderr), nil
}

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List WAHA sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadCLIConfig(opts)
			if err != nil {
				return err
			}
			sessions, err := newManager(cfg, logger, nil).List(cmd.Context(), all)
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
			renderSessions(cmd.OutOrStdout(), sessions, cfg.Session.Name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include stopped sessions")
	return cmd
}

func newSessionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or control the configured session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the configured session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadCLIConfig(opts)
			if err != nil {
				return err
			}
			sess, err := newManager(cfg, logger, nil).Get(cmd.Context())
			if err != nil {
				return fmt.Errorf("getting session %q: %w", cfg.Session.Name, err)
			}
			renderSession(cmd.OutOrStdout(), sess)
			return nil
		},
	})

	actions := []struct {
		use, short string
		run        func(*session.Manager, context.Context) error
	}{
		{"stop", "Stop the session (keeps the linked account)", (*session.Manager).Stop},
		{"restart", "Restart the session", (*session.Manager).Restart},
		{"logout", "Unlink the WhatsApp account from the session", (*session.Manager).Logout},
		{"delete", "Delete the session from WAHA", (*session.Manager).Delete},
	}
	for _, a := range actions {
		cmd.AddCommand(&cobra.Command{
			Use:   a.use,
			Short: a.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := loadCLIConfig(opts)
				if err != nil {
					return err
				}
				if err := a.run(newManager(cfg, logger, nil), cmd.Context()); err != nil {
					return fmt.Errorf("%s session %q: %w", a.use, cfg.Session.Name, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓")+" "+a.use+" "+cfg.Session.Name)
				return nil
			},
		})
	}
	return cmd
}

func newPairCmd(opts *rootOptions) *cobra.Command {
	var phone string
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Request a pairing code to link a phone number without a QR scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadCLIConfig(opts)
			if err != nil {
				return err
			}
			if phone == "" {
				phone = cfg.Session.PairingPhone
			}
			code, err := newManager(cfg, logger, nil).RequestPairingCode(cmd.Context(), phone)
			if err != nil {
				return fmt.Errorf("requesting pairing code: %w", err)
			}
			session.NewTerminalPresenter(cmd.OutOrStdout()).ShowPairingCode(code)
			return nil
		},
	}
	cmd.Flags().StringVarP(&phone, "phone", "p", "", "phone number in international format, digits only (default: session.pairing_phone)")
	return cmd
}

func statusStyle(s waha.Status) lipgloss.Style {
	switch s {
	case waha.StatusWorking:
		return okStyle
	case waha.StatusFailed:
		return failStyle
	case waha.StatusScanQRCode, waha.StatusStarting:
		return warnStyle
	default:
		return dimStyle
	}
}

func renderSessions(out io.Writer, sessions []session.Session, configured string) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, headerStyle.Render("No sessions found"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d session(s)", len(sessions))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("NAME")+"\t"+titleStyle.Render("STATUS")+"\t"+titleStyle.Render("ACCOUNT")+"\t")
	for _, s := range sessions {
		name := s.Name
		if name == configured {
			name += " *"
		}
		account := dimStyle.Render("-")
		if s.Identity != nil {
			account = s.Identity.ID
			if s.Identity.DisplayName != "" {
				account += " " + dimStyle.Render("("+s.Identity.DisplayName+")")
			}
		}
		_, _ = fmt.Fprintln(w, name+"\t"+statusStyle(s.Status).Render(string(s.Status))+"\t"+account+"\t")
	}
	_ = w.Flush()
}

func renderSession(out io.Writer, s *session.Session) {
	fmt.Fprintln(out, headerStyle.Render("Session "+s.Name))
	fmt.Fprintf(out, "  %s %s\n", dimStyle.Render("status: "), statusStyle(s.Status).Render(string(s.Status)))
	if s.Identity != nil {
		fmt.Fprintf(out, "  %s %s %s\n", dimStyle.Render("account:"), s.Identity.ID, dimStyle.Render(s.Identity.DisplayName))
	}
	if s.WebhookURL != "" {
		fmt.Fprintf(out, "  %s %s\n", dimStyle.Render("webhook:"), s.WebhookURL)
	}
}
