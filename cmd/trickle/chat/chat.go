// Package chatcmder provides the chat command, which streams answers from a
// chat endpoint into the terminal as they arrive.
package chatcmder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/trickle/pkg/chat"
	"github.com/papercomputeco/trickle/pkg/cliui"
	"github.com/papercomputeco/trickle/pkg/config"
	"github.com/papercomputeco/trickle/pkg/dotdir"
	"github.com/papercomputeco/trickle/pkg/logger"
)

// debugLogFile receives JSON logs when --debug is set.
const debugLogFile = "chat.log"

type chatCommander struct {
	chatURL   string
	timeout   time.Duration
	greeting  string
	configDir string

	plain   bool
	resume  bool
	history bool
	debug   bool

	in  io.Reader
	out io.Writer

	logger *slog.Logger
}

const chatLongDesc string = `Start an interactive chat session.

Each question is posted to the chat endpoint as {"query": "..."} and the
answer is shown as it streams in. By default the endpoint is the relay
started by "trickle serve".

In a terminal the chat runs as a full-screen UI; finished answers are
rendered as markdown. With --plain, or when input or output is not a
terminal, it falls back to a line-based prompt.

The session is saved to the .trickle/ directory on exit. Use --resume to
continue it and --history to send earlier turns along with each question.

Examples:
  trickle chat
  trickle chat --chat-url http://localhost:9000/api/chat
  echo "What is SSE?" | trickle chat --plain`

const chatShortDesc string = "Chat with a streaming endpoint"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, []string{
				config.FlagChatURL,
				config.FlagTimeout,
			})

			cmder.chatURL = v.GetString("client.chat_url")
			cmder.timeout = v.GetDuration("client.timeout")
			cmder.greeting = v.GetString("chat.greeting")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagChatURL, &cmder.chatURL)
	config.AddDurationFlag(cmd, config.Flags, config.FlagTimeout, &cmder.timeout)
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Use the line-based prompt instead of the full-screen UI")
	cmd.Flags().BoolVar(&cmder.resume, "resume", false, "Continue the last saved session")
	cmd.Flags().BoolVar(&cmder.history, "history", false, "Send earlier turns as context with each question")

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tui := !c.plain && isTerminal(c.in) && isTerminal(c.out)
	lipgloss.SetColorProfile(colorProfile(c.out))

	log, closeLog, err := c.newLogger(tui)
	if err != nil {
		return err
	}
	defer closeLog()
	c.logger = log

	ddm := dotdir.NewManager()
	conv := chat.NewConversation(c.greeting)
	if c.resume {
		if err := c.restore(ddm, conv); err != nil {
			return err
		}
	}

	s := &session{
		client: chat.NewClient(c.chatURL,
			chat.WithTimeout(c.timeout),
			chat.WithLogger(c.logger),
		),
		conv:    conv,
		history: c.history,
	}

	c.logger.Debug("starting chat",
		"chat_url", c.chatURL,
		"timeout", c.timeout,
		"tui", tui,
		"history", c.history,
	)

	if tui {
		err = runTUI(ctx, s)
	} else {
		err = runPlain(ctx, c.in, c.out, s)
	}

	if saveErr := c.save(ddm, s); saveErr != nil {
		c.logger.Warn("could not save transcript", "error", saveErr)
	}

	return err
}

// newLogger returns the session logger. Plain mode logs to stderr; the TUI
// owns the screen, so there logs go nowhere. With --debug both modes also
// append JSON records to chat.log in the .trickle/ directory.
func (c *chatCommander) newLogger(tui bool) (*slog.Logger, func(), error) {
	var console *slog.Logger
	if tui {
		console = logger.Nop()
	} else {
		console = logger.New(
			logger.WithDebug(c.debug),
			logger.WithPretty(true),
			logger.WithWriter(os.Stderr),
		)
	}

	if !c.debug {
		return console, func() {}, nil
	}

	dir, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, debugLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening debug log: %w", err)
	}

	file := logger.New(logger.WithDebug(true), logger.WithJSON(true), logger.WithWriter(f))
	return logger.Multi(console, file), func() { _ = f.Close() }, nil
}

// restore loads the saved transcript into conv.
func (c *chatCommander) restore(ddm *dotdir.Manager, conv *chat.Conversation) error {
	t, err := ddm.LoadTranscript(c.configDir)
	if err != nil {
		return fmt.Errorf("loading transcript: %w", err)
	}
	if t == nil {
		fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render("No saved session, starting fresh."))
		return nil
	}

	conv.Restore(fromTranscript(t))
	c.logger.Debug("restored transcript", "messages", len(t.Messages), "saved_at", t.SavedAt)
	return nil
}

// save persists the session unless nothing was asked.
func (c *chatCommander) save(ddm *dotdir.Manager, s *session) error {
	t := toTranscript(s.conv, c.chatURL)
	if len(t.Messages) == 0 {
		return nil
	}
	return ddm.SaveTranscript(t, c.configDir)
}

func toTranscript(conv *chat.Conversation, chatURL string) *dotdir.Transcript {
	t := &dotdir.Transcript{ChatURL: chatURL}
	for _, m := range conv.Context() {
		t.Messages = append(t.Messages, dotdir.TranscriptMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return t
}

func fromTranscript(t *dotdir.Transcript) []chat.Message {
	msgs := make([]chat.Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		role := chat.Role(m.Role)
		if role != chat.RoleUser && role != chat.RoleAssistant {
			continue
		}
		msgs = append(msgs, chat.Message{Role: role, Content: m.Content})
	}
	return msgs
}

// isTerminal reports whether v is an *os.File attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// colorProfile picks the color profile for styles written to out. Writers
// that are not terminals get plain text; terminals honor NO_COLOR and
// CLICOLOR_FORCE.
func colorProfile(out io.Writer) termenv.Profile {
	if !isTerminal(out) {
		return termenv.Ascii
	}
	return termenv.NewOutput(out.(*os.File)).EnvColorProfile()
}
