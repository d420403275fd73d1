package proxy

import (
	"net/http"

	"github.com/papercomputeco/trickle/proxy/worker"
)

// Config is the relay proxy configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// UpstreamURL is the base URL of an OpenAI-compatible API
	// (e.g., "https://api.openai.com/v1"). "/chat/completions" is appended.
	UpstreamURL string

	// Model is sent upstream with every conversation.
	Model string

	// APIKey authenticates against the upstream. When empty the client's
	// Authorization header is forwarded instead.
	APIKey string

	// Relay is "text" (re-frame each content delta as a data frame) or
	// "raw" (pass the upstream event stream through). Defaults to "text".
	Relay string

	// RateLimit caps accepted chat requests per second. Zero disables it.
	RateLimit float64

	// Journal receives a record of every finished relay. Nil disables it.
	Journal worker.Sink

	// HTTPClient overrides the client used for upstream requests.
	HTTPClient *http.Client
}
