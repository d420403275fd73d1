package chatcmder

import (
	"context"
	"net/http"

	bubbletea "github.com/charmbracelet/bubbletea"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/trickle/pkg/chat"
)

var (
	enterKey = bubbletea.KeyMsg{Type: bubbletea.KeyEnter}
	escKey   = bubbletea.KeyMsg{Type: bubbletea.KeyEsc}
)

func update(m chatModel, msg bubbletea.Msg) (chatModel, bubbletea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(chatModel), cmd
}

// drain feeds stream messages back into the model until the answer is done.
func drain(m chatModel) chatModel {
	for m.stream != nil {
		m, _ = update(m, m.stream.wait()())
	}
	return m
}

var _ = Describe("chat TUI", func() {
	var (
		endpoint *chatEndpoint
		s        *session
		m        chatModel
	)

	BeforeEach(func() {
		endpoint = newChatEndpoint("data: **Hello**\n\n", "data:  world\n\n")
		s = newSession(endpoint.URL, false)
		m = newChatModel(context.Background(), s)
		m, _ = update(m, bubbletea.WindowSizeMsg{Width: 80, Height: 24})
	})

	It("shows the greeting and the input placeholder", func() {
		view := m.View()
		Expect(view).To(ContainSubstring("Hello! How can I help you today?"))
		Expect(view).To(ContainSubstring(inputPlaceholder))
	})

	It("waits for a window size before drawing", func() {
		fresh := newChatModel(context.Background(), s)
		Expect(fresh.View()).To(ContainSubstring("Loading"))
	})

	It("streams an answer and records the turn", func() {
		var cmd bubbletea.Cmd
		m.input.SetValue("hi there")
		m, cmd = update(m, enterKey)
		Expect(cmd).NotTo(BeNil())
		Expect(m.stream).NotTo(BeNil())
		Expect(m.input.Value()).To(BeEmpty())
		Expect(m.input.Focused()).To(BeFalse())
		Expect(m.View()).To(ContainSubstring("hi there"))
		Expect(m.View()).To(ContainSubstring(typingLabel))

		m = drain(m)

		Expect(m.input.Focused()).To(BeTrue())
		Expect(m.notice).To(BeEmpty())
		Expect(s.conv.Messages()[1:]).To(Equal([]chat.Message{
			{Role: chat.RoleUser, Content: "hi there"},
			{Role: chat.RoleAssistant, Content: "**Hello** world"},
		}))
		Expect(m.View()).To(ContainSubstring("world"))
		Expect(m.View()).NotTo(ContainSubstring(typingLabel))
	})

	It("shows the partial answer while it streams", func() {
		m.input.SetValue("hi")
		m, _ = update(m, enterKey)

		m, _ = update(m, streamUpdateMsg{text: "Hel"})
		Expect(m.partial).To(Equal("Hel"))
		Expect(m.View()).To(ContainSubstring("Hel"))
		Expect(m.View()).NotTo(ContainSubstring(typingLabel))

		drain(m)
	})

	It("ignores a blank question", func() {
		m.input.SetValue("   ")
		m, _ = update(m, enterKey)
		Expect(m.stream).To(BeNil())
		Expect(endpoint.Requests()).To(BeEmpty())
	})

	It("ignores typing while an answer streams", func() {
		release := endpoint.holdAnswers()

		m.input.SetValue("hi")
		m, _ = update(m, enterKey)
		m, _ = update(m, bubbletea.KeyMsg{Type: bubbletea.KeyRunes, Runes: []rune("x")})
		m, _ = update(m, enterKey)
		Expect(m.input.Value()).To(BeEmpty())

		close(release)
		drain(m)
		Expect(endpoint.Requests()).To(HaveLen(1))
	})

	It("shows an error notice when the answer fails", func() {
		endpoint.failWith(http.StatusBadGateway)

		m.input.SetValue("hi")
		m, _ = update(m, enterKey)
		m = drain(m)

		Expect(m.notice).To(ContainSubstring("502"))
		Expect(m.View()).To(ContainSubstring("502"))
		Expect(s.conv.Context()).To(Equal([]chat.Message{{Role: chat.RoleUser, Content: "hi"}}))
	})

	It("quits on escape and cancels a streaming answer", func() {
		endpoint.holdAnswers()

		m.input.SetValue("hi")
		m, _ = update(m, enterKey)
		stream := m.stream

		_, cmd := update(m, escKey)
		Expect(cmd()).To(Equal(bubbletea.QuitMsg{}))

		done := stream.wait()()
		for {
			if d, ok := done.(streamDoneMsg); ok {
				Expect(d.err).To(HaveOccurred())
				break
			}
			done = stream.wait()()
		}
	})
})

var _ = Describe("answerStream", func() {
	It("keeps only the newest unread update", func() {
		a := newAnswerStream(func() {})
		a.publish("a")
		a.publish("ab")
		a.publish("abc")

		Expect(a.wait()()).To(Equal(streamUpdateMsg{text: "abc"}))
	})
})
