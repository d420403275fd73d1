// Package proxy provides the chat relay: a single route that takes a chat
// query, asks an OpenAI-compatible upstream for a streamed completion, and
// streams the answer back as "data:" frames.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/time/rate"

	"github.com/papercomputeco/trickle/pkg/chat"
	"github.com/papercomputeco/trickle/pkg/config"
	"github.com/papercomputeco/trickle/pkg/logger"
	"github.com/papercomputeco/trickle/pkg/sse"
	"github.com/papercomputeco/trickle/proxy/header"
	"github.com/papercomputeco/trickle/proxy/worker"
)

const (
	// ChatPath is the relay route.
	ChatPath = "/api/chat"

	// HealthPath answers liveness probes.
	HealthPath = "/healthz"

	completionsPath = "/chat/completions"

	// maxErrorBody caps how much of an upstream error body is relayed.
	maxErrorBody = 64 * 1024
)

// ChatRequest is the body accepted on ChatPath. Query alone is the minimal
// form; Messages carries earlier turns for clients that keep history.
type ChatRequest struct {
	Query    string         `json:"query"`
	Messages []chat.Message `json:"messages,omitempty"`
}

// ErrorResponse is the JSON body of every error the relay produces itself.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type completionRequest struct {
	Model    string         `json:"model"`
	Messages []chat.Message `json:"messages"`
	Stream   bool           `json:"stream"`
}

// completionChunk is the part of a chat.completion.chunk the relay reads.
type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Proxy relays chat queries to an upstream completions API.
type Proxy struct {
	config         Config
	completionsURL string
	logger         *slog.Logger
	httpClient     *http.Client
	server         *fiber.App
	headerHandler  *header.Handler
	limiter        *rate.Limiter
	journal        *worker.Pool

	// relays tracks in-flight stream goroutines so Close can drain them
	// before the journal stops accepting records.
	relays sync.WaitGroup
}

// New creates a new Proxy. A nil logger discards output.
func New(cfg Config, log *slog.Logger) (*Proxy, error) {
	if cfg.UpstreamURL == "" {
		return nil, errors.New("upstream URL is required")
	}
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", cfg.UpstreamURL)
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	if cfg.Relay == "" {
		cfg.Relay = config.RelayText
	}
	if err := config.ValidateRelay(cfg.Relay); err != nil {
		return nil, err
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must not be negative, got %v", cfg.RateLimit)
	}
	if log == nil {
		log = logger.Nop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			// Completions can take a while to finish streaming.
			Timeout: 5 * time.Minute,
		}
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	// The event stream must reach the client unbuffered.
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == ChatPath
		},
	}))

	p := &Proxy{
		config:         cfg,
		completionsURL: strings.TrimRight(cfg.UpstreamURL, "/") + completionsPath,
		logger:         log,
		httpClient:     httpClient,
		server:         app,
		headerHandler:  header.NewHandler(cfg.APIKey),
	}

	if cfg.Journal != nil {
		p.journal, err = worker.NewPool(&worker.Config{
			Sink:   cfg.Journal,
			Logger: log,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create journal pool: %w", err)
		}
	}

	handlers := []fiber.Handler{p.handleChat}
	if cfg.RateLimit > 0 {
		burst := max(1, int(math.Ceil(cfg.RateLimit)))
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		handlers = append([]fiber.Handler{p.rateLimit}, handlers...)
	}

	app.Get(HealthPath, p.handleHealth)
	app.Post(ChatPath, handlers...)

	return p, nil
}

// Run starts the proxy server on the configured listen address.
func (p *Proxy) Run() error {
	p.logger.Info("starting relay proxy",
		"listen", p.config.ListenAddr,
		"upstream", p.config.UpstreamURL,
		"model", p.config.Model,
		"relay", p.config.Relay,
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the proxy server using the provided listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logger.Info("starting relay proxy",
		"listen", listener.Addr().String(),
		"upstream", p.config.UpstreamURL,
		"model", p.config.Model,
		"relay", p.config.Relay,
	)

	return p.server.Listener(listener)
}

// Close shuts the server down, waits for in-flight relays, then drains the
// journal.
func (p *Proxy) Close() error {
	err := p.server.Shutdown()
	p.relays.Wait()
	if p.journal != nil {
		p.journal.Close()
	}
	return err
}

func (p *Proxy) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (p *Proxy) rateLimit(c *fiber.Ctx) error {
	if p.limiter.Allow() {
		return c.Next()
	}

	p.logger.Warn("chat request rate limited", "ip", c.IP())
	c.Set(fiber.HeaderRetryAfter, "1")
	return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{Error: "rate limit exceeded"})
}

// handleChat forwards one chat request upstream and streams the answer back.
func (p *Proxy) handleChat(c *fiber.Ctx) error {
	startTime := time.Now()
	requestID := header.ResolveRequestID(c)
	log := p.logger.With("request_id", requestID)

	var req ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		log.Debug("rejecting malformed chat request", "error", err)
		return p.fail(c, fiber.StatusBadRequest, requestID, "invalid request body")
	}

	messages := req.conversation()
	if len(messages) == 0 {
		return p.fail(c, fiber.StatusBadRequest, requestID, "query is required")
	}

	body, err := json.Marshal(completionRequest{
		Model:    p.config.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		log.Error("failed to encode upstream request", "error", err)
		return p.fail(c, fiber.StatusInternalServerError, requestID, "internal error")
	}

	// Use context.Background() instead of c.Context() because fasthttp recycles
	// its RequestCtx after the handler returns, while the relay goroutine keeps
	// reading the upstream body.
	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, p.completionsURL, bytes.NewReader(body))
	if err != nil {
		log.Error("failed to create upstream request", "error", err)
		return p.fail(c, fiber.StatusInternalServerError, requestID, "internal error")
	}
	p.headerHandler.SetUpstreamRequestHeaders(c, httpReq, requestID)

	log.Debug("forwarding chat to upstream",
		"url", p.completionsURL,
		"model", p.config.Model,
		"messages", len(messages),
	)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		log.Error("upstream request failed", "error", err)
		return p.fail(c, fiber.StatusBadGateway, requestID, "upstream request failed")
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		httpResp.Body.Close()
		log.Warn("upstream returned error",
			"status", httpResp.StatusCode,
			"body", string(respBody),
		)
		p.headerHandler.SetClientResponseHeaders(c, httpResp)
		c.Set(header.RequestID, requestID)
		return c.Status(httpResp.StatusCode).Send(respBody)
	}

	p.headerHandler.SetStreamHeaders(c, requestID)

	// io.Pipe gives per-chunk streaming: pw.Write blocks until fasthttp's
	// chunked body writer has consumed and flushed the frame.
	pr, pw := io.Pipe()
	rec := worker.Record{
		RequestID: requestID,
		Model:     p.config.Model,
		Relay:     p.config.Relay,
		Messages:  messages,
		StartedAt: startTime,
	}

	p.relays.Add(1)
	go p.relay(httpResp, pw, rec, log)

	// Unknown size (-1) makes fasthttp use chunked transfer encoding.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// relay moves the upstream event stream into pw in the configured mode. An
// upstream failure closes pw with the error, which aborts the chunked
// response so the client sees a truncated stream rather than a clean end.
func (p *Proxy) relay(httpResp *http.Response, pw *io.PipeWriter, rec worker.Record, log *slog.Logger) {
	defer p.relays.Done()
	defer httpResp.Body.Close()

	var (
		answer strings.Builder
		deltas int
		tr     *sse.TeeReader
		out    io.Writer
	)

	if p.config.Relay == config.RelayRaw {
		tr = sse.NewTeeReader(httpResp.Body, pw)
	} else {
		tr = sse.NewReader(httpResp.Body)
		out = pw
	}

	err := func() error {
		for {
			ev, err := tr.Next()
			if err != nil {
				return fmt.Errorf("relaying upstream stream: %w", err)
			}
			if ev == nil {
				return nil
			}
			if ev.Data == sse.DoneSentinel {
				continue
			}

			delta, err := contentDelta(ev.Data)
			if err != nil {
				return err
			}
			if delta == "" {
				continue
			}

			answer.WriteString(delta)
			deltas++

			if out != nil {
				if _, err := io.WriteString(out, dataFrame(delta)); err != nil {
					return fmt.Errorf("writing to client: %w", err)
				}
			}
		}
	}()

	rec.Answer = answer.String()
	rec.Deltas = deltas
	rec.Duration = time.Since(rec.StartedAt)

	if err != nil {
		rec.Error = err.Error()
		log.Warn("relay stopped early",
			"error", err,
			"deltas", deltas,
			"duration", rec.Duration,
		)
	} else {
		log.Info("relay finished",
			"model", rec.Model,
			"relay", rec.Relay,
			"messages", len(rec.Messages),
			"deltas", deltas,
			"chars", answer.Len(),
			"duration", rec.Duration,
		)
	}

	if p.journal != nil {
		p.journal.Enqueue(rec)
	}

	pw.CloseWithError(err)
}

// conversation returns the messages to send upstream: the prior turns with
// blank entries dropped, then the query as the final user message.
func (r ChatRequest) conversation() []chat.Message {
	messages := make([]chat.Message, 0, len(r.Messages)+1)
	for _, m := range r.Messages {
		if strings.TrimSpace(m.Content) == "" || m.Role == "" {
			continue
		}
		messages = append(messages, m)
	}

	if strings.TrimSpace(r.Query) != "" {
		messages = append(messages, chat.Message{Role: chat.RoleUser, Content: r.Query})
	}

	if len(messages) == 0 || messages[len(messages)-1].Role != chat.RoleUser {
		return nil
	}
	return messages
}

func (p *Proxy) fail(c *fiber.Ctx, status int, requestID, msg string) error {
	c.Set(header.RequestID, requestID)
	return c.Status(status).JSON(ErrorResponse{Error: msg, RequestID: requestID})
}

// contentDelta extracts choices[0].delta.content from a completion chunk.
// Payloads that are not JSON objects are skipped; an error object ends the
// relay.
func contentDelta(data string) (string, error) {
	var chunk completionChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", nil
	}
	if chunk.Error != nil {
		return "", fmt.Errorf("upstream error: %s", chunk.Error.Message)
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}

// dataFrame frames one content delta. The single space after the prefix is
// consumed by the decoder, so a delta's own leading whitespace survives.
func dataFrame(delta string) string {
	return sse.DataPrefix + " " + delta + sse.FrameDelimiter
}
