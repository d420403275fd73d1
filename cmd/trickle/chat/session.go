package chatcmder

import (
	"context"

	"github.com/papercomputeco/trickle/pkg/chat"
)

// session ties a client to the conversation shown on screen. Both front
// ends record turns through it so the transcript reads the same either way.
type session struct {
	client  *chat.Client
	conv    *chat.Conversation
	history bool
}

// begin records query as a user turn and returns the request to send. With
// history enabled the earlier turns travel along as context.
func (s *session) begin(query string) chat.Request {
	req := chat.Request{Query: query}
	if s.history {
		req.Messages = s.conv.Context()
	}
	s.conv.AddUser(query)
	return req
}

// finish records the answer. A failed answer is kept if any of it arrived.
func (s *session) finish(reply chat.Reply, err error) {
	if err != nil && reply.Text == "" {
		return
	}
	s.conv.AddAssistant(reply.Text)
}

func (s *session) ask(ctx context.Context, query string, onUpdate func(string)) (chat.Reply, error) {
	reply, err := s.client.SendRequest(ctx, s.begin(query), onUpdate)
	s.finish(reply, err)
	return reply, err
}
