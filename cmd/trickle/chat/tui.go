package chatcmder

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	bubbletea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/papercomputeco/trickle/pkg/chat"
	"github.com/papercomputeco/trickle/pkg/cliui"
)

const (
	inputPlaceholder = "Type your question..."
	typingLabel      = "AI is typing..."

	// footerHeight is the divider, the input line and the help line.
	footerHeight = 3
)

var (
	dividerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("237"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type chatKeyMap struct {
	Send     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
}

func (k chatKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.PageUp, k.PageDown, k.Quit}
}

func (k chatKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultChatKeyMap() chatKeyMap {
	return chatKeyMap{
		Send:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		PageUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		PageDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
		Quit:     key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit")),
	}
}

// streamUpdateMsg carries the latest Accumulated Text of the answer.
type streamUpdateMsg struct {
	text string
}

type streamDoneMsg struct {
	reply chat.Reply
	err   error
}

// answerStream connects one in-flight answer to the program. updates holds
// at most the newest text; older values are dropped since each update
// carries the whole answer so far.
type answerStream struct {
	cancel  context.CancelFunc
	updates chan string
	done    chan streamDoneMsg
}

func newAnswerStream(cancel context.CancelFunc) *answerStream {
	return &answerStream{
		cancel:  cancel,
		updates: make(chan string, 1),
		done:    make(chan streamDoneMsg, 1),
	}
}

// publish replaces any unread update with text. It must only be called
// from the single goroutine producing the answer.
func (a *answerStream) publish(text string) {
	select {
	case <-a.updates:
	default:
	}
	a.updates <- text
}

func (a *answerStream) wait() bubbletea.Cmd {
	return func() bubbletea.Msg {
		select {
		case text := <-a.updates:
			return streamUpdateMsg{text: text}
		case msg := <-a.done:
			return msg
		}
	}
}

type chatModel struct {
	ctx     context.Context
	session *session

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	help     help.Model
	keys     chatKeyMap

	stream  *answerStream
	partial string
	notice  string

	// rendered caches glamour output per message index for the current width.
	rendered map[int]string

	width int
	ready bool
}

func runTUI(ctx context.Context, s *session) error {
	program := bubbletea.NewProgram(newChatModel(ctx, s),
		bubbletea.WithContext(ctx),
		bubbletea.WithAltScreen(),
	)
	_, err := program.Run()
	return err
}

func newChatModel(ctx context.Context, s *session) chatModel {
	input := textinput.New()
	input.Placeholder = inputPlaceholder
	input.Prompt = "> "
	input.Focus()

	return chatModel{
		ctx:      ctx,
		session:  s,
		input:    input,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(cliui.StepStyle)),
		help:     help.New(),
		keys:     defaultChatKeyMap(),
		rendered: map[int]string{},
	}
}

func (m chatModel) Init() bubbletea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg bubbletea.Msg) (bubbletea.Model, bubbletea.Cmd) {
	switch msg := msg.(type) {
	case bubbletea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case bubbletea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.stream == nil {
			return m, nil
		}
		var cmd bubbletea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd

	case streamUpdateMsg:
		if m.stream == nil {
			return m, nil
		}
		m.partial = msg.text
		m.refresh()
		return m, m.stream.wait()

	case streamDoneMsg:
		return m.finishAnswer(msg)
	}

	return m, nil
}

func (m chatModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	divider := dividerStyle.Render(strings.Repeat("─", max(m.width, 1)))
	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		divider,
		m.input.View(),
		m.help.View(m.keys),
	)
}

func (m chatModel) handleKey(msg bubbletea.KeyMsg) (bubbletea.Model, bubbletea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.stream != nil {
			m.stream.cancel()
		}
		return m, bubbletea.Quit

	case key.Matches(msg, m.keys.PageUp, m.keys.PageDown):
		var cmd bubbletea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case key.Matches(msg, m.keys.Send):
		if m.stream != nil {
			return m, nil
		}
		query := strings.TrimSpace(m.input.Value())
		if query == "" {
			return m, nil
		}
		return m.ask(query)
	}

	// Input is disabled while an answer is streaming.
	if m.stream != nil {
		return m, nil
	}

	var cmd bubbletea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask records query and starts streaming its answer in the background.
func (m chatModel) ask(query string) (bubbletea.Model, bubbletea.Cmd) {
	req := m.session.begin(query)

	ctx, cancel := context.WithCancel(m.ctx)
	stream := newAnswerStream(cancel)
	go func() {
		reply, err := m.session.client.SendRequest(ctx, req, stream.publish)
		stream.done <- streamDoneMsg{reply: reply, err: err}
	}()

	m.stream = stream
	m.partial = ""
	m.notice = ""
	m.input.Reset()
	m.input.Blur()
	m.refresh()

	return m, bubbletea.Batch(m.spinner.Tick, stream.wait())
}

func (m chatModel) finishAnswer(msg streamDoneMsg) (bubbletea.Model, bubbletea.Cmd) {
	if m.stream == nil {
		return m, nil
	}

	m.session.finish(msg.reply, msg.err)
	m.stream.cancel()
	m.stream = nil
	m.partial = ""

	switch {
	case msg.err != nil:
		m.notice = cliui.FailMark + " " + cliui.ErrorStyle.Render(msg.err.Error())
	case msg.reply.Truncated:
		m.notice = cliui.DimStyle.Render("(the answer ended mid-frame)")
	}

	m.input.Focus()
	m.refresh()
	return m, textinput.Blink
}

func (m *chatModel) resize(width, height int) {
	vpHeight := max(height-footerHeight, 1)
	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.viewport.KeyMap = viewport.KeyMap{
			PageUp:   m.keys.PageUp,
			PageDown: m.keys.PageDown,
		}
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}

	if width != m.width {
		m.rendered = map[int]string{}
	}
	m.width = width
	m.input.Width = max(width-4, 1)
	m.help.Width = width
	m.refresh()
}

// refresh redraws the history and keeps it scrolled to the newest line.
func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.history())
	m.viewport.GotoBottom()
}

func (m *chatModel) history() string {
	width := max(m.width-2, 10)

	var b strings.Builder
	for i, msg := range m.session.conv.Messages() {
		switch msg.Role {
		case chat.RoleSystem:
			b.WriteString(cliui.SystemStyle.Render(ansi.Wrap(msg.Content, width, "")))
		case chat.RoleUser:
			b.WriteString(cliui.UserStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(ansi.Wrap(msg.Content, width, ""))
		case chat.RoleAssistant:
			b.WriteString(cliui.AssistantStyle.Render("AI"))
			b.WriteString("\n")
			b.WriteString(m.markdown(i, msg.Content, width))
		}
		b.WriteString("\n\n")
	}

	if m.stream != nil {
		b.WriteString(cliui.AssistantStyle.Render("AI"))
		b.WriteString("\n")
		if m.partial == "" {
			b.WriteString(m.spinner.View() + " " + cliui.DimStyle.Render(typingLabel))
		} else {
			b.WriteString(ansi.Wrap(m.partial, width, ""))
		}
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString("\n")
	}

	return b.String()
}

// markdown renders a finished answer once per width.
func (m *chatModel) markdown(idx int, content string, width int) string {
	if out, ok := m.rendered[idx]; ok {
		return out
	}

	out, err := cliui.RenderMarkdown(content, width)
	if err != nil {
		out = ansi.Wrap(content, width, "")
	}
	out = strings.Trim(out, "\n")
	m.rendered[idx] = out
	return out
}
