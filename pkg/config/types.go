package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config is the persistent trickle configuration stored as config.toml in the
// .trickle/ directory.
type Config struct {
	Version int          `toml:"version"`
	Proxy   ProxyConfig  `toml:"proxy"`
	Client  ClientConfig `toml:"client"`
	Chat    ChatConfig   `toml:"chat"`
}

// ProxyConfig holds relay proxy settings.
type ProxyConfig struct {
	Listen    string `toml:"listen,omitempty"`
	Upstream  string `toml:"upstream,omitempty"`
	Model     string `toml:"model,omitempty"`
	APIKeyEnv string `toml:"api_key_env,omitempty"`
	Relay     string `toml:"relay,omitempty"`

	// Journal is a JSONL file that every finished relay is appended to.
	// Empty disables the journal.
	Journal string `toml:"journal,omitempty"`

	// RateLimit caps relayed requests per second. Zero disables the limit.
	RateLimit float64 `toml:"rate_limit,omitempty"`
}

// ClientConfig holds settings for `trickle chat`, which talks to a running
// relay (or any endpoint speaking the same protocol).
type ClientConfig struct {
	ChatURL string `toml:"chat_url,omitempty"`
	Timeout string `toml:"timeout,omitempty"`
}

// ChatConfig holds conversation settings.
type ChatConfig struct {
	Greeting string `toml:"greeting,omitempty"`
}

// Relay modes for proxy.relay.
const (
	RelayText = "text"
	RelayRaw  = "raw"
)

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
var configKeys = map[string]configKeyInfo{
	"proxy.listen": {
		get: func(c *Config) string { return c.Proxy.Listen },
		set: func(c *Config, v string) error { c.Proxy.Listen = v; return nil },
	},
	"proxy.upstream": {
		get: func(c *Config) string { return c.Proxy.Upstream },
		set: func(c *Config, v string) error { c.Proxy.Upstream = v; return nil },
	},
	"proxy.model": {
		get: func(c *Config) string { return c.Proxy.Model },
		set: func(c *Config, v string) error { c.Proxy.Model = v; return nil },
	},
	"proxy.api_key_env": {
		get: func(c *Config) string { return c.Proxy.APIKeyEnv },
		set: func(c *Config, v string) error { c.Proxy.APIKeyEnv = v; return nil },
	},
	"proxy.relay": {
		get: func(c *Config) string { return c.Proxy.Relay },
		set: func(c *Config, v string) error {
			if err := ValidateRelay(v); err != nil {
				return err
			}
			c.Proxy.Relay = v
			return nil
		},
	},
	"proxy.journal": {
		get: func(c *Config) string { return c.Proxy.Journal },
		set: func(c *Config, v string) error { c.Proxy.Journal = v; return nil },
	},
	"proxy.rate_limit": {
		get: func(c *Config) string { return strconv.FormatFloat(c.Proxy.RateLimit, 'g', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for proxy.rate_limit: %w", err)
			}
			if f < 0 {
				return fmt.Errorf("invalid value for proxy.rate_limit: %v is negative", f)
			}
			c.Proxy.RateLimit = f
			return nil
		},
	},
	"client.chat_url": {
		get: func(c *Config) string { return c.Client.ChatURL },
		set: func(c *Config, v string) error { c.Client.ChatURL = v; return nil },
	},
	"client.timeout": {
		get: func(c *Config) string { return c.Client.Timeout },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for client.timeout: %w", err)
			}
			c.Client.Timeout = v
			return nil
		},
	},
	"chat.greeting": {
		get: func(c *Config) string { return c.Chat.Greeting },
		set: func(c *Config, v string) error { c.Chat.Greeting = v; return nil },
	},
}

// ValidateRelay reports an error for anything but the known relay modes.
func ValidateRelay(mode string) error {
	switch mode {
	case RelayText, RelayRaw:
		return nil
	default:
		return fmt.Errorf("invalid relay mode %q (expected %q or %q)", mode, RelayText, RelayRaw)
	}
}
