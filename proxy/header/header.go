// Package header decides which headers cross the relay proxy:
//
//	Client <--> Relay <--> Upstream chat-completions API
//
// Each leg negotiates compression, hops and encoding independently, and the
// relay builds its own upstream body, so body-describing headers never cross.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// RequestID tags a relay in both directions and in the logs.
	RequestID = "X-Request-Id"

	Authorization = "Authorization"

	EventStreamContentType = "text/event-stream; charset=utf-8"
)

// skipRequest is the set of client request headers that are not forwarded
// upstream.
var skipRequest = map[string]struct{}{
	// Hop-by-hop.
	"Connection": {},

	// Rewritten by http.Transport to match the upstream URL.
	"Host": {},

	// Stripped so http.Transport negotiates gzip itself and decompresses
	// transparently.
	"Accept-Encoding": {},

	// The relay sends its own body.
	"Content-Length": {},
	"Content-Type":   {},
	"Accept":         {},

	// Browser context that means nothing to the upstream.
	"Cookie":  {},
	"Origin":  {},
	"Referer": {},

	// Set explicitly by the relay.
	RequestID: {},
}

// skipResponse is the set of upstream response headers that are not copied
// back to the client.
var skipResponse = map[string]struct{}{
	// Hop-by-hop. fasthttp manages chunking for the client leg itself.
	"Connection":        {},
	"Transfer-Encoding": {},

	// http.Transport has already decompressed the body, so the upstream
	// encoding and length no longer describe it.
	"Content-Encoding": {},
	"Content-Length":   {},

	// Upstream cookies stay upstream.
	"Set-Cookie": {},
}

// Handler manages headers between proxy connections.
type Handler struct {
	apiKey string
}

// NewHandler returns a Handler. A non-empty apiKey replaces whatever
// Authorization the client sent; with an empty one the client's header is
// forwarded unchanged.
func NewHandler(apiKey string) *Handler {
	return &Handler{apiKey: apiKey}
}

// HasAPIKey reports whether the relay authenticates on the client's behalf.
func (h *Handler) HasAPIKey() bool {
	return h.apiKey != ""
}

// SetUpstreamRequestHeaders copies the client's request headers onto req,
// minus the filtered ones, then sets the relay's own content negotiation and
// authorization.
func (h *Handler) SetUpstreamRequestHeaders(c *fiber.Ctx, req *http.Request, requestID string) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if _, skip := skipRequest[k]; !skip {
			req.Header.Set(k, string(value))
		}
	})

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(RequestID, requestID)

	if h.apiKey != "" {
		req.Header.Set(Authorization, "Bearer "+h.apiKey)
	}
}

// SetClientResponseHeaders copies upstream response headers to the client,
// minus the filtered ones. Used when an upstream error is relayed as is.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if _, skip := skipResponse[k]; !skip {
			c.Set(k, strings.Join(v, ", "))
		}
	}
}

// SetStreamHeaders marks the client response as an unbuffered event stream.
func (h *Handler) SetStreamHeaders(c *fiber.Ctx, requestID string) {
	c.Set(fiber.HeaderContentType, EventStreamContentType)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	// Tells nginx-style reverse proxies not to buffer the stream.
	c.Set("X-Accel-Buffering", "no")
	c.Set(RequestID, requestID)
}

// ResolveRequestID returns the client's X-Request-Id when it is a sensible
// token, otherwise a fresh UUID.
func ResolveRequestID(c *fiber.Ctx) string {
	if id := strings.TrimSpace(c.Get(RequestID)); id != "" && len(id) <= 128 && !strings.ContainsAny(id, " \t\r\n") {
		return id
	}
	return uuid.NewString()
}
