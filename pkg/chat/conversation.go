// Package chat talks to a streaming chat endpoint: it posts a query, decodes
// the "data:" framed answer as it arrives, and keeps the session history.
package chat

import (
	"slices"
	"sync"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a conversation. Its JSON form is the
// {"role","content"} pair that chat-completions APIs expect.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the in-memory history of one chat session. It opens with
// a system greeting that is shown to the user but never sent upstream.
// A Conversation is safe for concurrent use.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

// NewConversation starts a conversation with the given greeting. An empty
// greeting starts it empty.
func NewConversation(greeting string) *Conversation {
	c := &Conversation{}
	if greeting != "" {
		c.messages = append(c.messages, Message{Role: RoleSystem, Content: greeting})
	}
	return c
}

func (c *Conversation) AddUser(content string) {
	c.add(Message{Role: RoleUser, Content: content})
}

// AddAssistant records a finished answer. Empty answers are kept, as they
// were still a turn.
func (c *Conversation) AddAssistant(content string) {
	c.add(Message{Role: RoleAssistant, Content: content})
}

// Restore appends previously saved messages, e.g. from a transcript.
func (c *Conversation) Restore(msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the full history, greeting included.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.messages)
}

// Context returns the user and assistant turns, which is what gets sent
// upstream as prior context.
func (c *Conversation) Context() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Message
	for _, m := range c.messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of messages, greeting included.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

func (c *Conversation) add(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}
