// ABOUTME: Presenters surface handshake artifacts (QR values, pairing codes)
// ABOUTME: The terminal presenter renders QR codes with qrterminal

package session

import (
	"fmt"
	"io"
	"sync"

	"github.com/mdp/qrterminal/v3"
)

// Presenter shows authentication artifacts to whoever links the device.
type Presenter interface {
	ShowQR(value string)
	ShowPairingCode(code string)
}

// TerminalPresenter draws QR codes as half-block characters on a writer.
type TerminalPresenter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminalPresenter creates a presenter writing to out.
func NewTerminalPresenter(out io.Writer) *TerminalPresenter {
	return &TerminalPresenter{out: out}
}

func (p *TerminalPresenter) ShowQR(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, "\nScan this QR code with WhatsApp (Linked devices → Link a device):")
	qrterminal.GenerateHalfBlock(value, qrterminal.L, p.out)
	fmt.Fprintln(p.out)
}

func (p *TerminalPresenter) ShowPairingCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\nEnter this pairing code in WhatsApp (Linked devices → Link with phone number): %s\n\n", code)
}

// LogPresenter only reports that an artifact is available. Used when stdout
// is not a terminal, where a QR drawing would be noise.
type LogPresenter struct {
	Log func(msg string, args ...any)
}

func (p LogPresenter) ShowQR(value string) {
	p.Log("QR code ready; run interactively or fetch /api/{session}/auth/qr to scan it", "length", len(value))
}

func (p LogPresenter) ShowPairingCode(code string) {
	p.Log("pairing code ready", "code", code)
}
