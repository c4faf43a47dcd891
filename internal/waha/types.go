// ABOUTME: Wire types for the WAHA session and messaging API
// ABOUTME: Mirrors the JSON bodies WAHA accepts and returns

package waha

// Status is the authoritative session status string reported by WAHA.
type Status string

const (
	StatusStopped    Status = "STOPPED"
	StatusStarting   Status = "STARTING"
	StatusScanQRCode Status = "SCAN_QR_CODE"
	StatusWorking    Status = "WORKING"
	StatusFailed     Status = "FAILED"
)

// Webhook event names the bridge subscribes to.
const (
	EventMessage       = "message"
	EventSessionStatus = "session.status"
)

// Session is the session object returned by GET /api/sessions/{name}.
type Session struct {
	Name   string         `json:"name"`
	Status Status         `json:"status"`
	Me     *Me            `json:"me,omitempty"`
	Config *SessionConfig `json:"config,omitempty"`
}

// Me identifies the WhatsApp account a working session is connected as.
type Me struct {
	ID       string `json:"id"`
	PushName string `json:"pushName,omitempty"`
}

// SessionConfig is the config object attached to a session.
type SessionConfig struct {
	Debug    bool         `json:"debug"`
	Client   ClientConfig `json:"client"`
	Ignore   IgnoreConfig `json:"ignore"`
	Webhooks []Webhook    `json:"webhooks"`
	Proxy    *ProxyConfig `json:"proxy,omitempty"`
}

// ClientConfig controls how the linked device presents itself.
type ClientConfig struct {
	DeviceName string `json:"deviceName,omitempty"`
}

// IgnoreConfig lists chat kinds WAHA should not deliver.
type IgnoreConfig struct {
	Groups    bool `json:"groups"`
	Status    bool `json:"status"`
	Channels  bool `json:"channels"`
	Broadcast bool `json:"broadcast"`
}

// Webhook is a callback target with the events it receives.
type Webhook struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// ProxyConfig routes the session's WhatsApp traffic through a proxy.
type ProxyConfig struct {
	Server   string `json:"server"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// CreateSessionRequest is the body for POST /api/sessions.
type CreateSessionRequest struct {
	Name   string        `json:"name"`
	Start  bool          `json:"start"`
	Config SessionConfig `json:"config"`
}

type updateSessionRequest struct {
	Name   string        `json:"name"`
	Config SessionConfig `json:"config"`
}

// SendTextRequest is the body for POST /api/sendText.
type SendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

// QRCode is the raw QR value returned by GET /api/{session}/auth/qr?format=raw.
type QRCode struct {
	Value string `json:"value"`
}

type pairingCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// PairingCode is the code a user types on their phone to link the device.
type PairingCode struct {
	Code string `json:"code"`
}
