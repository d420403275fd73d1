package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/papercomputeco/trickle/pkg/logger"
	"github.com/papercomputeco/trickle/pkg/sse"
	"github.com/papercomputeco/trickle/pkg/utils"
)

// RequestIDHeader carries the relay's per-request id.
const RequestIDHeader = "X-Request-Id"

// errorBodyLimit caps how much of a non-2xx body is kept in a StatusError.
const errorBodyLimit = 4 * 1024

var (
	// ErrEmptyQuery is returned for a blank query. Nothing is sent.
	ErrEmptyQuery = errors.New("chat: query is empty")

	// ErrNoBody is returned when the endpoint answered without a body.
	ErrNoBody = sse.ErrNoBody
)

// StatusError is returned when the chat endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("chat endpoint returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("chat endpoint returned %d: %s", e.Code, utils.Truncate(body, 200))
}

// Request is the JSON body posted to the chat endpoint.
type Request struct {
	Query    string    `json:"query"`
	Messages []Message `json:"messages,omitempty"`
}

// Reply is the outcome of one streamed answer.
type Reply struct {
	// Text is the final Accumulated Text.
	Text string

	// Truncated reports that the stream ended mid-frame.
	Truncated bool

	// Updates is the number of times onUpdate was called.
	Updates int

	Duration time.Duration

	// RequestID is the X-Request-Id response header, if any.
	RequestID string
}

// Client posts queries to a streaming chat endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
}

type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client. It should not set a Timeout, which
// would cut long answers off; use WithTimeout instead.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTimeout bounds each Send, streaming included. Zero means no limit.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient returns a Client posting to url.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{},
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the chat endpoint.
func (c *Client) URL() string {
	return c.url
}

// Send posts query and streams the answer, calling onUpdate with the full
// Accumulated Text each time it grows. On a stream error the text received
// so far is returned in the Reply together with the error.
func (c *Client) Send(ctx context.Context, query string, onUpdate func(string)) (Reply, error) {
	return c.SendRequest(ctx, Request{Query: query}, onUpdate)
}

// SendRequest posts a prepared request. Callers that manage their own
// history use it to attach earlier turns.
func (c *Client) SendRequest(ctx context.Context, req Request, onUpdate func(string)) (Reply, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Reply{}, ErrEmptyQuery
	}
	return c.send(ctx, req, onUpdate)
}

// Converse sends query with the user and assistant turns of conv as
// context. On success both the query and the answer are recorded in conv.
// The query is recorded even if the answer fails, with whatever partial
// answer arrived.
func (c *Client) Converse(ctx context.Context, conv *Conversation, query string, onUpdate func(string)) (Reply, error) {
	if strings.TrimSpace(query) == "" {
		return Reply{}, ErrEmptyQuery
	}

	req := Request{Query: query, Messages: conv.Context()}
	conv.AddUser(query)

	reply, err := c.send(ctx, req, onUpdate)
	if err != nil && reply.Text == "" {
		return reply, err
	}
	conv.AddAssistant(reply.Text)
	return reply, err
}

func (c *Client) send(ctx context.Context, body Request, onUpdate func(string)) (Reply, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Reply{}, fmt.Errorf("marshaling query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	c.logger.Debug("sending query", "url", c.url, "query_len", len(body.Query), "context_messages", len(body.Messages))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("sending query: %w", err)
	}
	defer resp.Body.Close()

	reply := Reply{RequestID: resp.Header.Get(RequestIDHeader)}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		reply.Duration = time.Since(start)
		return reply, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	opts := []sse.DecoderOption{sse.WithLogger(c.logger)}
	if enc := c.encodingFor(resp.Header.Get("Content-Type")); enc != nil {
		opts = append(opts, enc)
	}

	res, err := sse.Stream(ctx, resp.Body, onUpdate, opts...)
	reply.Text = res.Text
	reply.Truncated = res.Truncated
	reply.Updates = res.Updates
	reply.Duration = time.Since(start)

	if err != nil {
		if errors.Is(err, sse.ErrNoBody) {
			return reply, ErrNoBody
		}
		return reply, fmt.Errorf("streaming reply: %w", err)
	}

	c.logger.Debug("reply finished",
		"request_id", reply.RequestID,
		"updates", reply.Updates,
		"chars", len(reply.Text),
		"truncated", reply.Truncated,
		"duration", reply.Duration,
	)
	return reply, nil
}

// encodingFor maps the charset parameter of a Content-Type header to a
// decoder option. UTF-8, a missing charset and unknown charsets yield nil.
func (c *Client) encodingFor(contentType string) sse.DecoderOption {
	if contentType == "" {
		return nil
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		c.logger.Warn("unparseable content type, assuming utf-8", "content_type", contentType, "error", err)
		return nil
	}

	charset := strings.ToLower(strings.TrimSpace(params["charset"]))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		c.logger.Warn("unknown charset, assuming utf-8", "charset", charset)
		return nil
	}

	return sse.WithEncoding(enc)
}
