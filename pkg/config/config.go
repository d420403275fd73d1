package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/trickle/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// orderedKeys lists every config key in TOML section order.
var orderedKeys = []string{
	"proxy.listen",
	"proxy.upstream",
	"proxy.model",
	"proxy.api_key_env",
	"proxy.relay",
	"proxy.journal",
	"proxy.rate_limit",
	"client.chat_url",
	"client.timeout",
	"chat.greeting",
}

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

// NewConfiger resolves the .trickle/ directory (override first) and points the
// Configer at its config.toml, which does not need to exist yet.
func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{ddm: dotdir.NewManager()}

	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(target, configFile)
	if _, err := os.Stat(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns all supported configuration keys in a stable order.
func ValidConfigKeys() []string {
	return slices.Clone(orderedKeys)
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads config.toml. A missing file yields NewDefaultConfig(), and
// fields left unset in the file are filled from the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	d := NewDefaultConfig()

	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}

	fill(&cfg.Proxy.Listen, d.Proxy.Listen)
	fill(&cfg.Proxy.Upstream, d.Proxy.Upstream)
	fill(&cfg.Proxy.Model, d.Proxy.Model)
	fill(&cfg.Proxy.APIKeyEnv, d.Proxy.APIKeyEnv)
	fill(&cfg.Proxy.Relay, d.Proxy.Relay)
	fill(&cfg.Client.ChatURL, d.Client.ChatURL)
	fill(&cfg.Client.Timeout, d.Client.Timeout)
	fill(&cfg.Chat.Greeting, d.Chat.Greeting)
}

// SaveConfig persists cfg to config.toml in the target .trickle/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets key to value, and saves it.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the value of key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// PresetConfig returns a Config for a known upstream.
// Supported presets: "openai", "ollama", "openrouter".
func PresetConfig(name string) (*Config, error) {
	cfg := NewDefaultConfig()

	switch strings.ToLower(name) {
	case "openai":
		return cfg, nil

	case "ollama":
		// Ollama serves the OpenAI-compatible API under /v1 and ignores the key.
		cfg.Proxy.Upstream = "http://localhost:11434/v1"
		cfg.Proxy.Model = "llama3.2"
		cfg.Proxy.APIKeyEnv = "OLLAMA_API_KEY"
		return cfg, nil

	case "openrouter":
		cfg.Proxy.Upstream = "https://openrouter.ai/api/v1"
		cfg.Proxy.Model = "openai/gpt-3.5-turbo"
		cfg.Proxy.APIKeyEnv = "OPENROUTER_API_KEY"
		return cfg, nil

	default:
		return nil, fmt.Errorf("unknown preset: %q (available: %s)", name, strings.Join(ValidPresetNames(), ", "))
	}
}

// ValidPresetNames returns the list of recognized preset names.
func ValidPresetNames() []string {
	return []string{"openai", "ollama", "openrouter"}
}

// ParseConfigTOML parses raw TOML bytes into a Config.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	if cfg.Proxy.Relay != "" {
		if err := ValidateRelay(cfg.Proxy.Relay); err != nil {
			return nil, err
		}
	}

	if cfg.Proxy.RateLimit < 0 {
		return nil, fmt.Errorf("invalid proxy.rate_limit %v: must not be negative", cfg.Proxy.RateLimit)
	}

	return cfg, nil
}
