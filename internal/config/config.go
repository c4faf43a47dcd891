// ABOUTME: Configuration loading and parsing for fold-whatsapp
// ABOUTME: YAML or TOML files with ${VAR} expansion, then an environment overlay

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete fold-whatsapp configuration.
type Config struct {
	WAHA       WAHAConfig       `yaml:"waha" toml:"waha"`
	Session    SessionConfig    `yaml:"session" toml:"session"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Bot        BotConfig        `yaml:"bot" toml:"bot"`
	Completion CompletionConfig `yaml:"completion" toml:"completion"`
	Dedupe     DedupeConfig     `yaml:"dedupe" toml:"dedupe"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// WAHAConfig points at the WhatsApp HTTP API gateway.
type WAHAConfig struct {
	URL    string `yaml:"url" toml:"url" env:"WAHA_URL"`
	APIKey string `yaml:"api_key" toml:"api_key" env:"WAHA_API_KEY"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout" env:"WAHA_TIMEOUT"`
}

// SessionConfig describes the gateway session the bot drives.
type SessionConfig struct {
	Name         string       `yaml:"name" toml:"name" env:"WAHA_SESSION"`
	DeviceName   string       `yaml:"device_name" toml:"device_name" env:"WAHA_CLIENT_DEVICE_NAME"`
	Debug        bool         `yaml:"debug" toml:"debug" env:"WAHA_DEBUG"`
	Ignore       IgnoreConfig `yaml:"ignore" toml:"ignore"`
	Proxy        ProxyConfig  `yaml:"proxy" toml:"proxy"`
	PairingPhone string       `yaml:"pairing_phone" toml:"pairing_phone" env:"WAHA_PAIRING_PHONE"`

	MaxPollAttempts int           `yaml:"max_poll_attempts" toml:"max_poll_attempts" env:"WAHA_MAX_POLL_ATTEMPTS"`
	PollInterval    time.Duration `yaml:"-" toml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval" toml:"poll_interval" env:"WAHA_POLL_INTERVAL"`
}

// IgnoreConfig lists the chat kinds the gateway should not deliver.
type IgnoreConfig struct {
	Groups    bool `yaml:"groups" toml:"groups" env:"WAHA_IGNORE_GROUPS"`
	Status    bool `yaml:"status" toml:"status" env:"WAHA_IGNORE_STATUS"`
	Channels  bool `yaml:"channels" toml:"channels" env:"WAHA_IGNORE_CHANNELS"`
	Broadcast bool `yaml:"broadcast" toml:"broadcast" env:"WAHA_IGNORE_BROADCAST"`
}

// ProxyConfig is the optional outbound proxy for the session.
type ProxyConfig struct {
	Server   string `yaml:"server" toml:"server" env:"WAHA_PROXY_SERVER"`
	Username string `yaml:"username" toml:"username" env:"WAHA_PROXY_USERNAME"`
	Password string `yaml:"password" toml:"password" env:"WAHA_PROXY_PASSWORD"`
}

// ServerConfig holds webhook listener configuration.
type ServerConfig struct {
	Port       int    `yaml:"port" toml:"port" env:"WEBHOOK_PORT"`
	HTTPAddr   string `yaml:"http_addr" toml:"http_addr" env:"WEBHOOK_ADDR"`
	WebhookURL string `yaml:"webhook_url" toml:"webhook_url" env:"WEBHOOK_URL"`

	ProcessTimeout     time.Duration `yaml:"-" toml:"-"`
	ProcessTimeoutRaw  string        `yaml:"process_timeout" toml:"process_timeout"`
	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" env:"TAILSCALE_ENABLED"`
	Hostname  string `yaml:"hostname" toml:"hostname" env:"TAILSCALE_HOSTNAME"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" env:"TS_AUTHKEY"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public HTTPS, implies https
}

// BotConfig controls which chat the assistant serves and how it replies.
type BotConfig struct {
	AllowedChatID    string `yaml:"allowed_chat_id" toml:"allowed_chat_id" env:"GF_NUMBER"`
	PrivateOnly      bool   `yaml:"private_only" toml:"private_only" env:"PRIVATE_ONLY"`
	SystemPrompt     string `yaml:"system_prompt" toml:"system_prompt" env:"BOT_SYSTEM_PROMPT"`
	SystemPromptFile string `yaml:"system_prompt_file" toml:"system_prompt_file" env:"BOT_SYSTEM_PROMPT_FILE"`
	HistoryCap       int    `yaml:"history_cap" toml:"history_cap" env:"BOT_HISTORY_CAP"`
	ResetCommand     string `yaml:"reset_command" toml:"reset_command"`
	ResetReply       string `yaml:"reset_reply" toml:"reset_reply"`
	FormatMarkdown   bool   `yaml:"format_markdown" toml:"format_markdown" env:"BOT_FORMAT_MARKDOWN"`
	// RecordUndeliveredReplies keeps replies in history even if sending failed.
	RecordUndeliveredReplies bool `yaml:"record_undelivered_replies" toml:"record_undelivered_replies" env:"BOT_RECORD_UNDELIVERED_REPLIES"`
}

// CompletionConfig points at an OpenAI-compatible chat completions API.
type CompletionConfig struct {
	BaseURL   string `yaml:"base_url" toml:"base_url" env:"COMPLETION_BASE_URL"`
	APIKey    string `yaml:"api_key" toml:"api_key" env:"GROQ_API_KEY"`
	Model     string `yaml:"model" toml:"model" env:"COMPLETION_MODEL"`
	MaxTokens int    `yaml:"max_tokens" toml:"max_tokens" env:"COMPLETION_MAX_TOKENS"`

	Temperature    *float64      `yaml:"-" toml:"-"`
	TemperatureRaw string        `yaml:"temperature" toml:"temperature" env:"COMPLETION_TEMPERATURE"`
	Timeout        time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw     string        `yaml:"timeout" toml:"timeout" env:"COMPLETION_TIMEOUT"`
}

// DedupeConfig bounds the webhook redelivery filter.
type DedupeConfig struct {
	MaxSize int           `yaml:"max_size" toml:"max_size"`
	TTL     time.Duration `yaml:"-" toml:"-"`
	TTLRaw  string        `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" env:"LOG_FORMAT"`
}

// Default returns the configuration used before any file or environment
// value is applied.
func Default() *Config {
	return &Config{
		WAHA: WAHAConfig{
			URL:        "http://localhost:3000",
			TimeoutRaw: "30s",
		},
		Session: SessionConfig{
			Name:            "default",
			DeviceName:      "WAHABot",
			MaxPollAttempts: 60,
			PollIntervalRaw: "3s",
		},
		Server: ServerConfig{
			Port:               3001,
			ProcessTimeoutRaw:  "2m",
			ShutdownTimeoutRaw: "10s",
		},
		Tailscale: TailscaleConfig{
			Hostname: "fold-whatsapp",
		},
		Bot: BotConfig{
			AllowedChatID:            "621278424236@c.us",
			PrivateOnly:              true,
			HistoryCap:               20,
			ResetCommand:             "/reset",
			ResetReply:               "Conversation reset. How can I help you?",
			FormatMarkdown:           true,
			RecordUndeliveredReplies: true,
		},
		Completion: CompletionConfig{
			BaseURL:    "https://api.groq.com/openai/v1",
			Model:      "llama-3.1-8b-instant",
			MaxTokens:  1024,
			TimeoutRaw: "90s",
		},
		Dedupe: DedupeConfig{
			MaxSize: 10_000,
			TTLRaw:  "10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration: defaults, then the file at path (if path
// is not empty), then environment variables. Files ending in .toml are
// parsed as TOML, anything else as YAML. Environment variables in the
// format ${VAR_NAME} inside the file are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(path, expandEnvVars(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := parseTemperature(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func decode(path, data string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(data, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(data), cfg)
}

// Resolve returns the config file to load. An explicit path always wins;
// otherwise FOLD_WHATSAPP_CONFIG, ./fold-whatsapp.yaml,
// ./fold-whatsapp.toml and ~/.config/fold-whatsapp/config.yaml are tried in
// order. It returns "" when none exists, meaning environment-only config.
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("FOLD_WHATSAPP_CONFIG"); p != "" {
		return p
	}

	candidates := []string{"fold-whatsapp.yaml", "fold-whatsapp.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "fold-whatsapp", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ListenAddr returns the webhook listen address: server.http_addr when
// set, otherwise all interfaces on server.port.
func (c *Config) ListenAddr() string {
	if c.Server.HTTPAddr != "" {
		return c.Server.HTTPAddr
	}
	return ":" + strconv.Itoa(c.Server.Port)
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.WAHA.URL == "" {
		return errors.New("waha.url is required")
	}
	u, err := url.Parse(c.WAHA.URL)
	if err != nil {
		return fmt.Errorf("waha.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("waha.url must use http or https scheme")
	}

	if c.Session.Name == "" {
		return errors.New("session.name is required")
	}
	if c.Session.MaxPollAttempts < 1 {
		return errors.New("session.max_poll_attempts must be at least 1")
	}
	if c.Session.PollInterval <= 0 {
		return errors.New("session.poll_interval must be positive")
	}
	if c.Session.Proxy.Server == "" && (c.Session.Proxy.Username != "" || c.Session.Proxy.Password != "") {
		return errors.New("session.proxy.server is required when proxy credentials are set")
	}

	if c.Server.HTTPAddr == "" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Server.WebhookURL); err != nil {
			return fmt.Errorf("server.webhook_url is not a valid URL: %w", err)
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Bot.AllowedChatID == "" {
		return errors.New("bot.allowed_chat_id is required")
	}
	if c.Bot.HistoryCap < 1 {
		return errors.New("bot.history_cap must be at least 1")
	}

	if c.Completion.MaxTokens < 1 {
		return errors.New("completion.max_tokens must be at least 1")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// ValidateServe adds the checks only the long-running bot needs.
func (c *Config) ValidateServe() error {
	if c.Completion.APIKey == "" {
		return errors.New("completion.api_key is required (set GROQ_API_KEY)")
	}
	if c.Completion.BaseURL == "" {
		return errors.New("completion.base_url is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"waha.timeout", cfg.WAHA.TimeoutRaw, &cfg.WAHA.Timeout},
		{"session.poll_interval", cfg.Session.PollIntervalRaw, &cfg.Session.PollInterval},
		{"server.process_timeout", cfg.Server.ProcessTimeoutRaw, &cfg.Server.ProcessTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"completion.timeout", cfg.Completion.TimeoutRaw, &cfg.Completion.Timeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func parseTemperature(cfg *Config) error {
	if cfg.Completion.TemperatureRaw == "" {
		return nil
	}
	t, err := strconv.ParseFloat(cfg.Completion.TemperatureRaw, 64)
	if err != nil {
		return fmt.Errorf("parsing completion.temperature %q: %w", cfg.Completion.TemperatureRaw, err)
	}
	if t < 0 || t > 2 {
		return fmt.Errorf("completion.temperature %v must be between 0 and 2", t)
	}
	cfg.Completion.Temperature = &t
	return nil
}
