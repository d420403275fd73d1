package chatcmder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/papercomputeco/trickle/pkg/chat"
	"github.com/papercomputeco/trickle/pkg/cliui"
	"github.com/papercomputeco/trickle/pkg/render"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

const exitCommand = "/exit"

// runPlain is the line-based front end: one question per line, the answer
// painted incrementally as it streams.
func runPlain(ctx context.Context, in io.Reader, out io.Writer, s *session) error {
	fmt.Fprintln(out)
	for _, m := range s.conv.Messages() {
		switch m.Role {
		case chat.RoleSystem:
			fmt.Fprintf(out, "  %s\n", cliui.SystemStyle.Render(m.Content))
		case chat.RoleUser:
			fmt.Fprintf(out, "%s%s\n", userPrompt, m.Content)
		case chat.RoleAssistant:
			fmt.Fprintf(out, "%s%s\n\n", assistantPrompt, m.Content)
		}
	}
	fmt.Fprintf(out, "\n  %s\n\n", cliui.DimStyle.Render("Type your question and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, userPrompt)
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == exitCommand {
			break
		}

		fmt.Fprint(out, assistantPrompt)
		reply, err := streamAnswer(ctx, out, s, query)
		fmt.Fprint(out, "\n\n")

		if err != nil {
			fmt.Fprintf(out, "  %s %v\n\n", cliui.FailMark, err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if reply.Truncated {
			fmt.Fprintf(out, "  %s\n\n", cliui.DimStyle.Render("(the answer ended mid-frame)"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(out)
	return nil
}

// streamAnswer asks query and paints the growing answer to out.
func streamAnswer(ctx context.Context, out io.Writer, s *session, query string) (chat.Reply, error) {
	painter := render.NewSuffixPainter(out)
	coalescer := render.NewCoalescer(painter)

	reply, err := s.ask(ctx, query, coalescer.Update)
	if paintErr := coalescer.Stop(); paintErr != nil && err == nil {
		err = fmt.Errorf("writing answer: %w", paintErr)
	}
	return reply, err
}
