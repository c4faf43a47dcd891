// ABOUTME: Wires config into the running bot: WAHA session, router, webhook server
// ABOUTME: Serves the webhook first, then drives the session handshake alongside it

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/fold-whatsapp/internal/completion"
	"github.com/2389/fold-whatsapp/internal/config"
	"github.com/2389/fold-whatsapp/internal/conversation"
	"github.com/2389/fold-whatsapp/internal/dedupe"
	"github.com/2389/fold-whatsapp/internal/format"
	"github.com/2389/fold-whatsapp/internal/prompt"
	"github.com/2389/fold-whatsapp/internal/router"
	"github.com/2389/fold-whatsapp/internal/session"
	"github.com/2389/fold-whatsapp/internal/waha"
	"github.com/2389/fold-whatsapp/internal/webhook"
)

// bot owns every long-lived component of `serve`.
type bot struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	sessions *session.Manager
	store    *conversation.Store
	prompt   *prompt.Source
	dedupe   *dedupe.Cache
	server   *webhook.Server

	// created is set once the gateway accepted the session config, which
	// is when a stop on shutdown becomes meaningful.
	created atomic.Bool
	// onLive, if set, runs after the session reached WORKING.
	onLive func()
}

func newManager(cfg *config.Config, logger *slog.Logger, presenter session.Presenter) *session.Manager {
	client := waha.NewClient(cfg.WAHA.URL, cfg.WAHA.APIKey, waha.WithTimeout(cfg.WAHA.Timeout))

	opts := session.Options{
		Name:       cfg.Session.Name,
		DeviceName: cfg.Session.DeviceName,
		Debug:      cfg.Session.Debug,
		Ignore: session.Ignore{
			Groups:    cfg.Session.Ignore.Groups,
			Status:    cfg.Session.Ignore.Status,
			Channels:  cfg.Session.Ignore.Channels,
			Broadcast: cfg.Session.Ignore.Broadcast,
		},
		PollInterval:    cfg.Session.PollInterval,
		MaxPollAttempts: cfg.Session.MaxPollAttempts,
		PairingPhone:    cfg.Session.PairingPhone,
		Presenter:       presenter,
	}
	if cfg.Session.Proxy.Server != "" {
		opts.Proxy = &session.Proxy{
			Server:   cfg.Session.Proxy.Server,
			Username: cfg.Session.Proxy.Username,
			Password: cfg.Session.Proxy.Password,
		}
	}
	return session.NewManager(client, opts, logger)
}

func newBot(cfg *config.Config, logger *slog.Logger, presenter session.Presenter, out io.Writer) (*bot, error) {
	b := &bot{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		sessions: newManager(cfg, logger, presenter),
		store:    conversation.NewStore(cfg.Bot.HistoryCap),
	}

	if cfg.Bot.SystemPromptFile != "" {
		src, err := prompt.FromFile(cfg.Bot.SystemPromptFile, logger)
		if err != nil {
			return nil, fmt.Errorf("loading system prompt: %w", err)
		}
		b.prompt = src
	} else {
		b.prompt = prompt.Static(cfg.Bot.SystemPrompt)
	}

	completer := completion.NewClient(completion.Options{
		BaseURL:     cfg.Completion.BaseURL,
		APIKey:      cfg.Completion.APIKey,
		Model:       cfg.Completion.Model,
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: cfg.Completion.Temperature,
		Timeout:     cfg.Completion.Timeout,
	})

	rcfg := router.DefaultConfig(cfg.Bot.AllowedChatID)
	rcfg.PrivateOnly = cfg.Bot.PrivateOnly
	rcfg.ResetCommand = cfg.Bot.ResetCommand
	rcfg.ResetReply = cfg.Bot.ResetReply
	rcfg.RecordUndeliveredReplies = cfg.Bot.RecordUndeliveredReplies

	deps := router.Deps{
		Sender:    b.sessions,
		Store:     b.store,
		Completer: completer,
		Prompt:    b.prompt,
	}
	if cfg.Bot.FormatMarkdown {
		deps.Formatter = format.NewWhatsApp()
	}
	rt := router.New(rcfg, deps, logger)

	b.dedupe = dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)

	b.server = webhook.NewServer(webhook.Config{
		Addr:            cfg.ListenAddr(),
		PublicURL:       cfg.Server.WebhookURL,
		ProcessTimeout:  cfg.Server.ProcessTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Tailscale: webhook.TailscaleConfig{
			Enabled:   cfg.Tailscale.Enabled,
			Hostname:  cfg.Tailscale.Hostname,
			StateDir:  cfg.Tailscale.StateDir,
			AuthKey:   cfg.Tailscale.AuthKey,
			Ephemeral: cfg.Tailscale.Ephemeral,
			Funnel:    cfg.Tailscale.Funnel,
			HTTPS:     cfg.Tailscale.HTTPS,
		},
	}, webhook.Deps{
		Dispatcher: rt,
		Stats:      b.store,
		Dedupe:     b.dedupe,
	}, logger)

	return b, nil
}

// run serves until ctx is canceled. The listener is opened before the
// handshake so the webhook URL handed to WAHA is already reachable.
func (b *bot) run(ctx context.Context) error {
	if err := b.server.Listen(ctx); err != nil {
		return &startupError{err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.server.Run(gctx)
	})
	g.Go(func() error {
		return b.handshake(gctx)
	})

	err := g.Wait()
	b.stopSession()

	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *bot) handshake(ctx context.Context) error {
	webhookURL := b.server.WebhookURL()
	b.logger.Info("configuring session", "webhook_url", webhookURL)

	if _, err := b.sessions.CreateOrResume(ctx, webhookURL); err != nil {
		return &startupError{err: err}
	}
	b.created.Store(true)

	sess, err := b.sessions.AwaitStatus(ctx, waha.StatusWorking, b.cfg.Session.MaxPollAttempts)
	if err != nil {
		return &startupError{err: err}
	}

	b.printLive(sess)
	if b.onLive != nil {
		b.onLive()
	}
	return nil
}

func (b *bot) printLive(sess *session.Session) {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	fmt.Fprintln(b.out)
	green.Fprint(b.out, "    ✓ ")
	fmt.Fprintln(b.out, "Bot is live! Waiting for WhatsApp messages...")
	if sess != nil && sess.Identity != nil {
		green.Fprint(b.out, "    ▶ ")
		fmt.Fprintf(b.out, "Account:   %s", sess.Identity.ID)
		if sess.Identity.DisplayName != "" {
			gray.Fprintf(b.out, " (%s)", sess.Identity.DisplayName)
		}
		fmt.Fprintln(b.out)
	}
	green.Fprint(b.out, "    ▶ ")
	fmt.Fprintf(b.out, "Status:    %s/status\n", b.server.BaseURL())
	gray.Fprintf(b.out, "    Tip: send %s in the chat to start a fresh conversation\n\n", b.cfg.Bot.ResetCommand)
}

// stopSession asks WAHA to stop the session with a fresh context, since the
// serving context is already canceled by the time this runs.
func (b *bot) stopSession() {
	if !b.created.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := b.sessions.Stop(ctx); err != nil {
		b.logger.Error("failed to stop session", "error", err)
	}
}

func (b *bot) close() {
	b.dedupe.Close()
	if err := b.prompt.Close(); err != nil {
		b.logger.Warn("closing prompt source", "error", err)
	}
}
