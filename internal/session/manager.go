// ABOUTME: Manager drives the WAHA session lifecycle for this process
// ABOUTME: Create-or-reuse, bounded status polling, send, and idempotent teardown

package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/fold-whatsapp/internal/waha"
)

// Defaults match the gateway's typical handshake latency: a human scanning a
// QR code within three minutes.
const (
	DefaultName            = "default"
	DefaultDeviceName      = "WAHABot"
	DefaultPollInterval    = 3 * time.Second
	DefaultMaxPollAttempts = 60
)

// Gateway is the subset of the WAHA client the manager uses.
type Gateway interface {
	CreateSession(ctx context.Context, req waha.CreateSessionRequest) (*waha.Session, error)
	UpdateSession(ctx context.Context, name string, cfg waha.SessionConfig) (*waha.Session, error)
	GetSession(ctx context.Context, name string) (*waha.Session, error)
	ListSessions(ctx context.Context, all bool) ([]waha.Session, error)
	StartSession(ctx context.Context, name string) error
	StopSession(ctx context.Context, name string) error
	RestartSession(ctx context.Context, name string) error
	LogoutSession(ctx context.Context, name string) error
	DeleteSession(ctx context.Context, name string) error
	GetMe(ctx context.Context, name string) (*waha.Me, error)
	SendText(ctx context.Context, req waha.SendTextRequest) error
	GetQR(ctx context.Context, name string) (*waha.QRCode, error)
	RequestPairingCode(ctx context.Context, name, phone string) (*waha.PairingCode, error)
}

// Session is the process-local view of the remote session.
type Session struct {
	Name       string
	Status     waha.Status
	Identity   *Identity
	WebhookURL string
}

// Identity is the WhatsApp account a working session is connected as.
type Identity struct {
	ID          string
	DisplayName string
}

// Ignore selects chat kinds WAHA should not deliver to the webhook.
type Ignore struct {
	Groups    bool
	Status    bool
	Channels  bool
	Broadcast bool
}

// Proxy is an optional outbound proxy for the session.
type Proxy struct {
	Server   string
	Username string
	Password string
}

// Options configures a Manager.
type Options struct {
	Name            string
	DeviceName      string
	Debug           bool
	Ignore          Ignore
	Proxy           *Proxy
	PollInterval    time.Duration
	MaxPollAttempts int

	// PairingPhone switches the handshake from QR scanning to a pairing code
	// requested for this phone number.
	PairingPhone string

	// Presenter shows QR values and pairing codes. Defaults to logging them.
	Presenter Presenter
}

// Manager owns the single WAHA session of this process.
type Manager struct {
	client Gateway
	opts   Options
	logger *slog.Logger

	// sleep waits between poll attempts; swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager. Zero-valued options fall back to defaults.
func NewManager(client Gateway, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.DeviceName == "" {
		opts.DeviceName = DefaultDeviceName
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = DefaultMaxPollAttempts
	}
	logger = logger.With("component", "session", "session", opts.Name)
	if opts.Presenter == nil {
		opts.Presenter = LogPresenter{Log: logger.Info}
	}
	return &Manager{
		client: client,
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Name returns the configured session name.
func (m *Manager) Name() string { return m.opts.Name }

// CreateOrResume ensures the named session exists and calls back webhookURL.
// An existing session is reused: its config is updated and it is started if
// stopped.
func (m *Manager) CreateOrResume(ctx context.Context, webhookURL string) (*Session, error) {
	if webhookURL == "" {
		return nil, &ValidationError{Field: "webhookURL"}
	}

	cfg := m.sessionConfig(webhookURL)
	created, err := m.client.CreateSession(ctx, waha.CreateSessionRequest{
		Name:   m.opts.Name,
		Start:  true,
		Config: cfg,
	})
	if err == nil {
		m.logger.Info("session created", "status", created.Status, "webhook", webhookURL)
		return m.fromWire(created, webhookURL), nil
	}
	if !waha.IsConflict(err) {
		return nil, &SessionCreateError{Name: m.opts.Name, Err: err}
	}

	m.logger.Info("session already exists, reusing")
	if _, err := m.client.UpdateSession(ctx, m.opts.Name, cfg); err != nil {
		return nil, &SessionCreateError{Name: m.opts.Name, Err: err}
	}

	existing, err := m.client.GetSession(ctx, m.opts.Name)
	if err != nil {
		return nil, &SessionCreateError{Name: m.opts.Name, Err: err}
	}

	if existing.Status == waha.StatusStopped {
		if err := m.client.StartSession(ctx, m.opts.Name); err != nil {
			return nil, &SessionCreateError{Name: m.opts.Name, Err: err}
		}
		existing.Status = waha.StatusStarting
	}

	m.logger.Info("session config updated", "status", existing.Status, "webhook", webhookURL)
	return m.fromWire(existing, webhookURL), nil
}

// handshake tracks artifacts already surfaced during one AwaitStatus call.
type handshake struct {
	lastQR          string
	pairingReported bool
}

// AwaitStatus polls WAHA until the session reaches target. FAILED ends the
// wait with *SessionFailedError; running out of attempts with
// *SessionTimeoutError. Poll errors count as attempts and are logged.
func (m *Manager) AwaitStatus(ctx context.Context, target waha.Status, maxAttempts int) (*Session, error) {
	if maxAttempts <= 0 {
		maxAttempts = m.opts.MaxPollAttempts
	}

	var (
		hs         handshake
		lastStatus waha.Status
		lastErr    error
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sess, err := m.client.GetSession(ctx, m.opts.Name)
		if err != nil {
			lastErr = err
			m.logger.Warn("polling session status failed", "attempt", attempt, "error", err)
		} else {
			lastErr = nil
			if sess.Status != lastStatus {
				m.logger.Info("session status", "status", sess.Status, "attempt", attempt)
			}
			lastStatus = sess.Status

			if sess.Status == target {
				return m.fromWire(sess, ""), nil
			}

			switch sess.Status {
			case waha.StatusFailed:
				return nil, &SessionFailedError{Name: m.opts.Name, Status: sess.Status}
			case waha.StatusScanQRCode:
				m.surfaceAuthArtifact(ctx, &hs)
			}
		}

		if attempt == maxAttempts {
			break
		}
		if err := m.sleep(ctx, m.opts.PollInterval); err != nil {
			return nil, err
		}
	}

	return nil, &SessionTimeoutError{
		Name:       m.opts.Name,
		Target:     target,
		Attempts:   maxAttempts,
		LastStatus: lastStatus,
		LastErr:    lastErr,
	}
}

// surfaceAuthArtifact presents a pairing code (once) or a QR value (when it
// changes). Failures are expected while WAHA settles and are not returned.
func (m *Manager) surfaceAuthArtifact(ctx context.Context, hs *handshake) {
	if m.opts.PairingPhone != "" {
		if hs.pairingReported {
			return
		}
		code, err := m.client.RequestPairingCode(ctx, m.opts.Name, m.opts.PairingPhone)
		if err != nil {
			m.logger.Debug("pairing code not available yet", "error", err)
			return
		}
		hs.pairingReported = true
		m.opts.Presenter.ShowPairingCode(code.Code)
		return
	}

	value, ok := m.fetchQR(ctx)
	if !ok || value == hs.lastQR {
		return
	}
	hs.lastQR = value
	m.opts.Presenter.ShowQR(value)
}

// fetchQR returns the current QR value, or false when none is available.
func (m *Manager) fetchQR(ctx context.Context) (string, bool) {
	qr, err := m.client.GetQR(ctx, m.opts.Name)
	if err != nil {
		m.logger.Debug("QR code not available yet", "error", err)
		return "", false
	}
	if qr.Value == "" {
		return "", false
	}
	return qr.Value, true
}

// SendMessage sends text to chatID. There is no retry.
func (m *Manager) SendMessage(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return &ValidationError{Field: "chatId"}
	}
	if text == "" {
		return &ValidationError{Field: "text"}
	}

	err := m.client.SendText(ctx, waha.SendTextRequest{
		Session: m.opts.Name,
		ChatID:  chatID,
		Text:    text,
	})
	if err != nil {
		return &SendError{ChatID: chatID, Err: err}
	}
	return nil
}

// RequestPairingCode asks WAHA for a pairing code for phone.
func (m *Manager) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if phone == "" {
		return "", &ValidationError{Field: "phone"}
	}
	code, err := m.client.RequestPairingCode(ctx, m.opts.Name, phone)
	if err != nil {
		return "", err
	}
	return code.Code, nil
}

// Stop stops the session. A missing session is already stopped.
func (m *Manager) Stop(ctx context.Context) error {
	return m.teardown(ctx, "stop", m.client.StopSession)
}

// Restart restarts the session, re-entering the handshake if needed.
func (m *Manager) Restart(ctx context.Context) error {
	return m.teardown(ctx, "restart", m.client.RestartSession)
}

// Logout unlinks the WhatsApp account; the next start needs a new handshake.
func (m *Manager) Logout(ctx context.Context) error {
	return m.teardown(ctx, "logout", m.client.LogoutSession)
}

// Delete removes the session from WAHA.
func (m *Manager) Delete(ctx context.Context) error {
	return m.teardown(ctx, "delete", m.client.DeleteSession)
}

func (m *Manager) teardown(ctx context.Context, action string, op func(context.Context, string) error) error {
	err := op(ctx, m.opts.Name)
	if waha.IsNotFound(err) {
		m.logger.Info("session not found, nothing to " + action)
		return nil
	}
	if err != nil {
		return err
	}
	m.logger.Info("session " + action + " requested")
	return nil
}

// Get returns the current remote session.
func (m *Manager) Get(ctx context.Context) (*Session, error) {
	sess, err := m.client.GetSession(ctx, m.opts.Name)
	if err != nil {
		return nil, err
	}
	return m.fromWire(sess, ""), nil
}

// List returns running sessions, or all of them when includeInactive is set.
func (m *Manager) List(ctx context.Context, includeInactive bool) ([]Session, error) {
	wire, err := m.client.ListSessions(ctx, includeInactive)
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(wire))
	for i := range wire {
		sessions = append(sessions, *m.fromWire(&wire[i], ""))
	}
	return sessions, nil
}

// Me returns the connected account of a working session.
func (m *Manager) Me(ctx context.Context) (*Identity, error) {
	me, err := m.client.GetMe(ctx, m.opts.Name)
	if err != nil {
		return nil, err
	}
	return &Identity{ID: me.ID, DisplayName: me.PushName}, nil
}

func (m *Manager) sessionConfig(webhookURL string) waha.SessionConfig {
	cfg := waha.SessionConfig{
		Debug:  m.opts.Debug,
		Client: waha.ClientConfig{DeviceName: m.opts.DeviceName},
		Ignore: waha.IgnoreConfig{
			Groups:    m.opts.Ignore.Groups,
			Status:    m.opts.Ignore.Status,
			Channels:  m.opts.Ignore.Channels,
			Broadcast: m.opts.Ignore.Broadcast,
		},
		Webhooks: []waha.Webhook{{
			URL:    webhookURL,
			Events: []string{waha.EventMessage, waha.EventSessionStatus},
		}},
	}
	if p := m.opts.Proxy; p != nil && p.Server != "" {
		cfg.Proxy = &waha.ProxyConfig{Server: p.Server, Username: p.Username, Password: p.Password}
	}
	return cfg
}

// fromWire converts a WAHA session. webhookURL overrides the target when the
// response does not echo the config back.
func (m *Manager) fromWire(s *waha.Session, webhookURL string) *Session {
	out := &Session{
		Name:       s.Name,
		Status:     s.Status,
		WebhookURL: webhookURL,
	}
	if out.Name == "" {
		out.Name = m.opts.Name
	}
	if s.Me != nil {
		out.Identity = &Identity{ID: s.Me.ID, DisplayName: s.Me.PushName}
	}
	if out.WebhookURL == "" && s.Config != nil && len(s.Config.Webhooks) > 0 {
		out.WebhookURL = s.Config.Webhooks[0].URL
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
