// ABOUTME: Webhook HTTP server lifecycle: listen, serve, drain and shut down
// ABOUTME: Tracks in-flight deliveries so shutdown waits for replies in progress

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/fold-whatsapp/internal/conversation"
	"github.com/2389/fold-whatsapp/internal/router"
)

// Defaults for Config.
const (
	DefaultAddr            = ":3001"
	DefaultPath            = "/webhook"
	DefaultProcessTimeout  = 2 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

const maxBodyBytes = 1 << 20

// Config controls where and how the server listens.
type Config struct {
	// Addr is the TCP listen address. Ignored when Tailscale is enabled.
	Addr string
	// PublicURL overrides the webhook URL registered with the gateway.
	PublicURL string
	// ProcessTimeout bounds the background handling of one delivery.
	ProcessTimeout time.Duration
	// ShutdownTimeout bounds the graceful shutdown performed by Run.
	ShutdownTimeout time.Duration

	Tailscale TailscaleConfig
}

// Dispatcher handles one parsed event.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt router.Event) bool
}

// StatsProvider reports conversation statistics.
type StatsProvider interface {
	Stats() conversation.Stats
}

// Deduper reports whether a delivery key was already processed.
type Deduper interface {
	Seen(key string) bool
}

// Deps are the server's collaborators. Dedupe is optional.
type Deps struct {
	Dispatcher Dispatcher
	Stats      StatsProvider
	Dedupe     Deduper
}

// Server receives gateway webhooks.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	httpServer  *http.Server
	listener    net.Listener
	tsnetServer *tsnet.Server
	baseURL     string

	// processing contexts derive from baseCtx so a stalled delivery can be
	// canceled once the shutdown deadline passes.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	inflight   sync.WaitGroup
}

// NewServer creates a server. Call Listen (or Run) to start accepting.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = DefaultProcessTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With("component", "webhook"),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(DefaultPath, s.handleWebhook)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Listen opens the listener (TCP or tailnet) without serving yet, so the
// webhook URL is known before the gateway session is configured.
func (s *Server) Listen(ctx context.Context) error {
	if s.listener != nil {
		return nil
	}
	if s.cfg.Tailscale.Enabled {
		if s.cfg.Addr != DefaultAddr {
			s.logger.Warn("server address is ignored when tailscale is enabled", "addr", s.cfg.Addr)
		}
		return s.listenTailscale(ctx)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on webhook address: %w", err)
	}
	s.listener = ln
	s.baseURL = "http://" + localHostPort(ln.Addr())
	return nil
}

// Addr returns the listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// BaseURL returns the URL the server is reachable at, without a path.
func (s *Server) BaseURL() string {
	return s.baseURL
}

// WebhookURL returns the URL the gateway should deliver events to.
func (s *Server) WebhookURL() string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL
	}
	return s.baseURL + DefaultPath
}

// Run serves until ctx is canceled or the server fails, then shuts down
// gracefully. It returns nil after a shutdown caused by ctx.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server listening", "addr", s.listener.Addr().String(), "webhook_url", s.WebhookURL())
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("webhook server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, stopping webhook server")
	case serveErr = <-errCh:
		s.logger.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// Shutdown stops accepting requests, waits for in-flight deliveries until
// ctx expires, and releases the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := s.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining deliveries: %w", err))
	}
	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until all background deliveries finish or ctx expires. On
// expiry the remaining deliveries are canceled.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancelBase()
		return ctx.Err()
	}
}

// localHostPort turns a listener address into localhost:port.
func localHostPort(addr net.Addr) string {
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return net.JoinHostPort("localhost", port)
}

// trimDNSName strips the trailing dot from a MagicDNS name.
func trimDNSName(name string) string {
	return strings.TrimSuffix(name, ".")
}
