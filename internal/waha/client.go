// ABOUTME: HTTP client for the WAHA REST API
// ABOUTME: Session lifecycle, auth artifacts and text sending over JSON

package waha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every call to WAHA.
const DefaultTimeout = 30 * time.Second

// Client communicates with the WAHA HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-call timeout. It applies to a copy of the
// http.Client, so a shared client passed to WithHTTPClient is not modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a client for the WAHA instance at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.client
		hc.Timeout = c.timeout
		c.client = &hc
	}
	return c
}

// CreateSession creates a new session. A session with the same name yields
// an error for which IsConflict reports true.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpdateSession replaces the config of an existing session.
func (c *Client) UpdateSession(ctx context.Context, name string, cfg SessionConfig) (*Session, error) {
	var sess Session
	body := updateSessionRequest{Name: name, Config: cfg}
	if err := c.do(ctx, http.MethodPut, sessionPath(name, ""), body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession fetches a session by name.
func (c *Client) GetSession(ctx context.Context, name string) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodGet, sessionPath(name, ""), nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions lists running sessions, or every session when all is set.
func (c *Client) ListSessions(ctx context.Context, all bool) ([]Session, error) {
	path := "/api/sessions"
	if all {
		path += "?all=true"
	}
	var sessions []Session
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// StartSession starts a stopped session.
func (c *Client) StartSession(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, sessionPath(name, "start"), nil, nil)
}

// StopSession stops a running session without logging it out.
func (c *Client) StopSession(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, sessionPath(name, "stop"), nil, nil)
}

// RestartSession stops and starts a session.
func (c *Client) RestartSession(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, sessionPath(name, "restart"), nil, nil)
}

// LogoutSession unlinks the WhatsApp account from a session.
func (c *Client) LogoutSession(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, sessionPath(name, "logout"), nil, nil)
}

// DeleteSession removes a session entirely.
func (c *Client) DeleteSession(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(name, ""), nil, nil)
}

// GetMe returns the account a working session is connected as.
func (c *Client) GetMe(ctx context.Context, name string) (*Me, error) {
	var me Me
	if err := c.do(ctx, http.MethodGet, sessionPath(name, "me"), nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// SendText sends a plain text message to a chat.
func (c *Client) SendText(ctx context.Context, req SendTextRequest) error {
	return c.do(ctx, http.MethodPost, "/api/sendText", req, nil)
}

// GetQR fetches the raw QR value for a session waiting for a scan. WAHA
// answers 4xx when the session is not exactly in SCAN_QR_CODE.
func (c *Client) GetQR(ctx context.Context, name string) (*QRCode, error) {
	var qr QRCode
	if err := c.do(ctx, http.MethodGet, authPath(name, "qr")+"?format=raw", nil, &qr); err != nil {
		return nil, err
	}
	return &qr, nil
}

// RequestPairingCode asks WAHA for a code to link phone without a QR scan.
func (c *Client) RequestPairingCode(ctx context.Context, name, phone string) (*PairingCode, error) {
	var code PairingCode
	body := pairingCodeRequest{PhoneNumber: phone}
	if err := c.do(ctx, http.MethodPost, authPath(name, "request-code"), body, &code); err != nil {
		return nil, err
	}
	return &code, nil
}

func sessionPath(name, action string) string {
	p := "/api/sessions/" + url.PathEscape(name)
	if action != "" {
		p += "/" + action
	}
	return p
}

func authPath(name, action string) string {
	return "/api/" + url.PathEscape(name) + "/auth/" + action
}

// do performs a JSON request. out may be nil when the body is not needed.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Message: "no response from gateway", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Message: "reading response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{StatusCode: resp.StatusCode, Message: extractMessage(resp.StatusCode, data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response from %s %s: %w", method, path, err)
	}
	return nil
}
