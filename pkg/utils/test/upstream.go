// Package testutils holds fakes shared by package tests.
package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/papercomputeco/trickle/pkg/chat"
)

// CompletionRequest is the body a chat-completions upstream receives.
type CompletionRequest struct {
	Model    string         `json:"model"`
	Messages []chat.Message `json:"messages"`
	Stream   bool           `json:"stream"`
}

// RecordedRequest is one request seen by a FakeUpstream.
type RecordedRequest struct {
	Path   string
	Header http.Header
	Body   CompletionRequest
}

// FakeUpstream is an OpenAI-style chat-completions server that streams a
// fixed list of content deltas.
type FakeUpstream struct {
	*httptest.Server

	mu        sync.Mutex
	deltas    []string
	status    int
	errorBody string
	trailer   string
	requests  []RecordedRequest
}

// NewFakeUpstream starts a server streaming deltas, one chunk per delta,
// followed by "data: [DONE]". Callers must Close it.
func NewFakeUpstream(deltas ...string) *FakeUpstream {
	f := &FakeUpstream{deltas: deltas, status: http.StatusOK}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

// FailWith makes every following request answer status with body.
func (f *FakeUpstream) FailWith(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.errorBody = body
}

// EndWith replaces the closing "data: [DONE]" event with raw.
func (f *FakeUpstream) EndWith(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trailer = raw
}

// Requests returns the requests received so far.
func (f *FakeUpstream) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

func (f *FakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	rec := RecordedRequest{Path: r.URL.Path, Header: r.Header.Clone()}
	_ = json.NewDecoder(r.Body).Decode(&rec.Body)

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	status, errorBody, deltas, trailer := f.status, f.errorBody, f.deltas, f.trailer
	f.mu.Unlock()

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, errorBody)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	// A keep-alive comment and a role-only chunk, as OpenAI sends them.
	fmt.Fprint(w, ": keep-alive\n\n")
	fmt.Fprint(w, `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`+"\n\n")
	for _, d := range deltas {
		fmt.Fprint(w, CompletionChunk(d))
		if flusher != nil {
			flusher.Flush()
		}
	}

	if trailer != "" {
		fmt.Fprint(w, trailer)
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

// CompletionChunk renders one streamed chat.completion.chunk event carrying
// content as its delta.
func CompletionChunk(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion.chunk",
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]string{"content": content},
		}},
	})
	return "data: " + string(payload) + "\n\n"
}

// Frames renders payloads as "data:" frames the way the relay emits them.
func Frames(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: " + p + "\n\n")
	}
	return b.String()
}
