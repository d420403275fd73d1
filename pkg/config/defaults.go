package config

const (
	defaultProxyListen = ":8080"
	defaultUpstream    = "https://api.openai.com/v1"
	defaultModel       = "gpt-3.5-turbo"
	defaultAPIKeyEnv   = "OPENAI_API_KEY"
	defaultRelay       = RelayText

	defaultChatURL       = "http://localhost:8080/api/chat"
	defaultClientTimeout = "5m"

	defaultGreeting = "Hello! How can I help you today?"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Proxy: ProxyConfig{
			Listen:    defaultProxyListen,
			Upstream:  defaultUpstream,
			Model:     defaultModel,
			APIKeyEnv: defaultAPIKeyEnv,
			Relay:     defaultRelay,
		},
		Client: ClientConfig{
			ChatURL: defaultChatURL,
			Timeout: defaultClientTimeout,
		},
		Chat: ChatConfig{
			Greeting: defaultGreeting,
		},
	}
}
