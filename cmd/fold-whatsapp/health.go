// ABOUTME: health and stats commands that query a running bot over HTTP
// ABOUTME: stats renders the /status conversation summary as a table

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/fold-whatsapp/internal/config"
	"github.com/2389/fold-whatsapp/internal/webhook"
)

const checkTimeout = 5 * time.Second

// localBaseURL is where a bot started with cfg can be reached from this host.
func localBaseURL(cfg *config.Config) string {
	host, port, err := net.SplitHostPort(cfg.ListenAddr())
	if err != nil {
		return "http://localhost:" + strconv.Itoa(cfg.Server.Port)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func baseURLFor(opts *rootOptions, override string) (string, error) {
	if override != "" {
		return strings.TrimSuffix(override, "/"), nil
	}
	cfg, _, err := loadCLIConfig(opts)
	if err != nil {
		return "", err
	}
	return localBaseURL(cfg), nil
}

func get(ctx context.Context, url string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that a running bot answers on /health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := baseURLFor(opts, url)
			if err != nil {
				return err
			}
			resp, err := get(cmd.Context(), base+"/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "base URL of the bot (default: derived from server config)")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var (
		url     string
		rawJSON bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show active conversations of a running bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := baseURLFor(opts, url)
			if err != nil {
				return err
			}
			resp, err := get(cmd.Context(), base+"/status")
			if err != nil {
				return fmt.Errorf("fetching status: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				var e webhook.ErrorResponse
				if json.Unmarshal(body, &e) == nil && e.Message != "" {
					return fmt.Errorf("status %d: %s", resp.StatusCode, e.Message)
				}
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			if rawJSON {
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
				return nil
			}

			var status webhook.StatusResponse
			if err := json.Unmarshal(body, &status); err != nil {
				return fmt.Errorf("parsing status: %w", err)
			}
			renderStats(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "base URL of the bot (default: derived from server config)")
	cmd.Flags().BoolVar(&rawJSON, "json", false, "print the raw /status response")
	return cmd
}

func renderStats(out io.Writer, status webhook.StatusResponse) {
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Bot %s, %d active conversation(s)", status.Status, status.ActiveConversations)))
	if len(status.Chats) == 0 {
		return
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("CHAT")+"\t"+titleStyle.Render("MESSAGES")+"\t")
	for _, c := range status.Chats {
		_, _ = fmt.Fprintln(w, c.ChatID+"\t"+okStyle.Render(strconv.Itoa(c.MessageCount))+"\t")
	}
	_ = w.Flush()
}
