// ABOUTME: Optional tailnet listener for the webhook server via tsnet
// ABOUTME: The node's MagicDNS name becomes the public webhook base URL

package webhook

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// TailscaleConfig configures the tailnet listener.
type TailscaleConfig struct {
	Enabled   bool
	Hostname  string
	StateDir  string
	AuthKey   string
	Ephemeral bool
	// Funnel exposes the webhook publicly over HTTPS, which lets a gateway
	// outside the tailnet deliver events.
	Funnel bool
	// HTTPS serves tailnet-only HTTPS with auto-provisioned certs.
	HTTPS bool
}

// DefaultTailscaleHostname is used when no hostname is configured.
const DefaultTailscaleHostname = "fold-whatsapp"

// stateFile is the file tsnet persists the node identity in.
const stateFile = "tailscaled.state"

// node builds the tsnet server for this config. Each hostname gets its own
// state directory. An auth key is only needed to register a node that has
// no saved state yet, or an ephemeral one.
func (c TailscaleConfig) node() (*tsnet.Server, error) {
	hostname := c.Hostname
	if hostname == "" {
		hostname = DefaultTailscaleHostname
	}

	dir := c.StateDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
		}
		dir = filepath.Join(home, ".local", "share", "fold-whatsapp", "tailscale", hostname)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey := c.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		_, err := os.Stat(filepath.Join(dir, stateFile))
		if c.Ephemeral || err != nil {
			return nil, fmt.Errorf("tailscale auth key required to register %q: set tailscale.auth_key in config or TS_AUTHKEY environment variable", hostname)
		}
	}

	return &tsnet.Server{
		Hostname:  hostname,
		Dir:       dir,
		Ephemeral: c.Ephemeral,
		AuthKey:   authKey,
	}, nil
}

// listenTailscale brings up a tsnet node and listens on it.
func (s *Server) listenTailscale(ctx context.Context) error {
	tsCfg := s.cfg.Tailscale
	node, err := tsCfg.node()
	if err != nil {
		return err
	}
	tsCfg.Hostname = node.Hostname
	s.tsnetServer = node

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", node.Dir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return fmt.Errorf("starting tailscale: %w", err)
	}

	host := tailnetHost(tsCfg.Hostname, status)
	s.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "dns_name", host)

	ln, err := s.tailscaleListener(tsCfg)
	if err != nil {
		_ = s.tsnetServer.Close()
		return err
	}
	s.listener = ln
	s.baseURL = tailnetBaseURL(host, tsCfg)
	return nil
}

func (s *Server) tailscaleListener(tsCfg TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		s.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := s.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := s.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// tailnetHost prefers the node's MagicDNS name over the bare hostname.
func tailnetHost(hostname string, status *ipnstate.Status) string {
	if status != nil && status.Self != nil && status.Self.DNSName != "" {
		return trimDNSName(status.Self.DNSName)
	}
	return hostname
}

func tailnetBaseURL(host string, tsCfg TailscaleConfig) string {
	if tsCfg.Funnel || tsCfg.HTTPS {
		return "https://" + host
	}
	return "http://" + host
}
