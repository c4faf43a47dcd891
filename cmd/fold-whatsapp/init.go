// ABOUTME: The init command writes a starter fold-whatsapp.yaml interactively
// ABOUTME: Secrets are written as ${VAR} references so they stay in the environment

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/fold-whatsapp/internal/config"
)

func newInitCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "fold-whatsapp.yaml", "default path offered for the config file")
	return cmd
}

func runInit(in io.Reader, out io.Writer, defaultPath string) error {
	reader := bufio.NewReader(in)
	defaults := config.Default()

	fmt.Fprintln(out, "fold-whatsapp configuration setup")
	fmt.Fprintln(out, "=================================")
	fmt.Fprintln(out)

	outputFile := ask(reader, out, "Config file path", defaultPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(ask(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- WAHA Gateway ---")
	wahaURL := ask(reader, out, "WAHA URL", defaults.WAHA.URL)
	sessionName := ask(reader, out, "Session name", defaults.Session.Name)
	deviceName := ask(reader, out, "Linked device name", defaults.Session.DeviceName)

	fmt.Fprintln(out, "\n--- Webhook ---")
	port := ask(reader, out, "Webhook port", fmt.Sprint(defaults.Server.Port))
	webhookURL := ask(reader, out, "Public webhook URL (leave empty for http://localhost:<port>/webhook)", "")

	fmt.Fprintln(out, "\n--- Assistant ---")
	chatID := ask(reader, out, "Allowed chat id", defaults.Bot.AllowedChatID)
	privateOnly := yes(ask(reader, out, "Ignore group chats?", "yes"))
	model := ask(reader, out, "Completion model", defaults.Completion.Model)
	promptFile := ask(reader, out, "System prompt file (leave empty for the built-in prompt)", "")

	fmt.Fprintln(out, "\n--- Tailscale ---")
	tailscaleEnabled := yes(ask(reader, out, "Serve the webhook on a tailnet?", "no"))
	var tsHostname string
	var tsFunnel bool
	if tailscaleEnabled {
		tsHostname = ask(reader, out, "Tailscale hostname", defaults.Tailscale.Hostname)
		tsFunnel = yes(ask(reader, out, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Fprintln(out, "\n--- Logging ---")
	logLevel := ask(reader, out, "Log level (debug/info/warn/error)", defaults.Logging.Level)
	logFormat := ask(reader, out, "Log format (text/json)", defaults.Logging.Format)

	var cfg strings.Builder
	cfg.WriteString("# fold-whatsapp configuration\n")
	cfg.WriteString("# Generated by fold-whatsapp init\n\n")

	cfg.WriteString("waha:\n")
	cfg.WriteString(fmt.Sprintf("  url: %q\n", wahaURL))
	cfg.WriteString("  api_key: \"${WAHA_API_KEY}\"\n\n")

	cfg.WriteString("session:\n")
	cfg.WriteString(fmt.Sprintf("  name: %q\n", sessionName))
	cfg.WriteString(fmt.Sprintf("  device_name: %q\n\n", deviceName))

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  port: %s\n", port))
	if webhookURL != "" {
		cfg.WriteString(fmt.Sprintf("  webhook_url: %q\n", webhookURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", tsHostname))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("bot:\n")
	cfg.WriteString(fmt.Sprintf("  allowed_chat_id: %q\n", chatID))
	cfg.WriteString(fmt.Sprintf("  private_only: %t\n", privateOnly))
	if promptFile != "" {
		cfg.WriteString(fmt.Sprintf("  system_prompt_file: %q\n", promptFile))
	}
	cfg.WriteString("\n")

	cfg.WriteString("completion:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", defaults.Completion.BaseURL))
	cfg.WriteString("  api_key: \"${GROQ_API_KEY}\"\n")
	cfg.WriteString(fmt.Sprintf("  model: %q\n\n", model))

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nExport your keys, then start the bot:")
	fmt.Fprintln(out, "  export GROQ_API_KEY=...")
	fmt.Fprintf(out, "  fold-whatsapp serve --config %s\n", outputFile)

	return nil
}

func ask(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// EOF falls back to the default.
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	return a == "yes" || a == "y"
}
