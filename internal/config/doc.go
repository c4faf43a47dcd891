// Package config handles configuration loading for fold-whatsapp.
//
// # Overview
//
// Configuration is assembled in three layers: built-in defaults, an
// optional YAML or TOML file, and environment variables. Later layers
// win. A deployment can run from environment variables alone.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path given with --config
//  2. Path from FOLD_WHATSAPP_CONFIG environment variable
//  3. ./fold-whatsapp.yaml, then ./fold-whatsapp.toml
//  4. ~/.config/fold-whatsapp/config.yaml
//
// Files ending in .toml are parsed as TOML; everything else as YAML.
//
// # Environment Variable Expansion
//
// File values can reference environment variables:
//
//	completion:
//	  api_key: "${GROQ_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Environment Overlay
//
// After the file is read, these variables override it when set:
//
//	WAHA_URL, WAHA_API_KEY, WAHA_TIMEOUT
//	WAHA_SESSION, WAHA_CLIENT_DEVICE_NAME, WAHA_DEBUG, WAHA_PAIRING_PHONE
//	WAHA_IGNORE_GROUPS, WAHA_IGNORE_STATUS, WAHA_IGNORE_CHANNELS, WAHA_IGNORE_BROADCAST
//	WAHA_PROXY_SERVER, WAHA_PROXY_USERNAME, WAHA_PROXY_PASSWORD
//	WAHA_POLL_INTERVAL, WAHA_MAX_POLL_ATTEMPTS
//	WEBHOOK_PORT, WEBHOOK_ADDR, WEBHOOK_URL
//	GF_NUMBER, PRIVATE_ONLY, BOT_SYSTEM_PROMPT, BOT_SYSTEM_PROMPT_FILE
//	BOT_HISTORY_CAP, BOT_FORMAT_MARKDOWN, BOT_RECORD_UNDELIVERED_REPLIES
//	GROQ_API_KEY, COMPLETION_BASE_URL, COMPLETION_MODEL, COMPLETION_MAX_TOKENS
//	COMPLETION_TEMPERATURE, COMPLETION_TIMEOUT
//	TAILSCALE_ENABLED, TAILSCALE_HOSTNAME, TS_AUTHKEY
//	LOG_LEVEL, LOG_FORMAT
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  poll_interval: "3s"
//	server:
//	  shutdown_timeout: "10s"
//
// # Example
//
//	waha:
//	  url: "http://localhost:3000"
//	  api_key: "${WAHA_API_KEY}"
//	session:
//	  name: "default"
//	  device_name: "WAHABot"
//	  ignore:
//	    groups: true
//	server:
//	  port: 3001
//	bot:
//	  allowed_chat_id: "15551234567@c.us"
//	  private_only: true
//	  system_prompt_file: "./prompt.txt"
//	completion:
//	  api_key: "${GROQ_API_KEY}"
//	logging:
//	  level: "info"
//	  format: "text"
//
// # Validation
//
// Load calls Validate, which checks URLs, ranges and log settings.
// ValidateServe adds the completion credentials the bot needs at runtime.
package config
