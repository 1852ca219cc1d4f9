// Package ui renders the chat in a terminal and runs the input loop.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/comigor/lana-go/internal/config"
	"github.com/comigor/lana-go/internal/history"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("27")).
			Padding(0, 1)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("141")).
				Bold(true)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("183")).
			Bold(true).
			MarginTop(1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	armedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
)

const greeting = "My name is Lana\nand I'm your AI personal assistant"

// previewWidth bounds the last-message preview in the conversation list.
const previewWidth = 48

// Renderer writes styled chat output.
type Renderer struct {
	out io.Writer
	md  *glamour.TermRenderer
}

// NewRenderer creates a renderer whose markdown style and wrap width come from cfg.
func NewRenderer(out io.Writer, cfg config.ClientConfig) (*Renderer, error) {
	opts := []glamour.TermRendererOption{}
	switch cfg.MarkdownStyle {
	case "", "auto":
		opts = append(opts, glamour.WithAutoStyle())
	default:
		opts = append(opts, glamour.WithStandardStyle(cfg.MarkdownStyle))
	}
	if cfg.WordWrap > 0 {
		opts = append(opts, glamour.WithWordWrap(cfg.WordWrap))
	}
	md, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create markdown renderer")
	}
	return &Renderer{out: out, md: md}, nil
}

// Greeting prints the empty-state banner.
func (r *Renderer) Greeting() {
	fmt.Fprintln(r.out, titleStyle.Render(greeting))
	fmt.Fprintln(r.out, infoStyle.Render("Type a message, or /help for commands."))
}

// Title prints the conversation title.
func (r *Renderer) Title(title string) {
	if title == "" {
		return
	}
	fmt.Fprintln(r.out, titleStyle.Render(title))
}

// Message prints one turn. Assistant content is rendered as markdown with
// highlighted code blocks; user content is printed as typed.
func (r *Renderer) Message(m history.Message) {
	switch m.Role {
	case history.RoleUser:
		fmt.Fprintln(r.out, userStyle.Render("you")+" "+m.Content)
	case history.RoleAssistant:
		fmt.Fprintln(r.out, assistantLabelStyle.Render("lana"))
		out, err := r.md.Render(m.Content)
		if err != nil {
			out = m.Content + "\n"
		}
		fmt.Fprint(r.out, out)
	default:
		r.Error(errors.Wrapf(history.ErrUnknownRole, "cannot render role %q", m.Role))
	}
}

// Conversation prints a title followed by every message.
func (r *Renderer) Conversation(title string, msgs []history.Message) {
	if len(msgs) == 0 {
		r.Greeting()
		return
	}
	r.Title(title)
	for _, m := range msgs {
		r.Message(m)
	}
}

// Typing prints the in-flight indicator.
func (r *Renderer) Typing() {
	fmt.Fprintln(r.out, infoStyle.Render("AI is typing..."))
}

// List prints conversations in display order, with the last message as a preview.
func (r *Renderer) List(convs []history.Conversation, selectedID string, armed func(int) bool) {
	if len(convs) == 0 {
		fmt.Fprintln(r.out, infoStyle.Render("No conversations yet."))
		return
	}
	for i, c := range convs {
		marker := " "
		if c.ID == selectedID {
			marker = "*"
		}
		line := fmt.Sprintf("%s %2d. %s", marker, i, c.Title)
		if armed != nil && armed(i) {
			line += " " + armedStyle.Render(fmt.Sprintf("[delete armed: /delete %d to confirm]", i))
		}
		fmt.Fprintln(r.out, line)
		if last, ok := c.LastMessage(); ok {
			fmt.Fprintln(r.out, "      "+infoStyle.Render(preview(last.Content)))
		}
	}
}

// Info prints a dim notice.
func (r *Renderer) Info(msg string) {
	fmt.Fprintln(r.out, infoStyle.Render(msg))
}

// Error prints an alert.
func (r *Renderer) Error(err error) {
	fmt.Fprintln(r.out, errorStyle.Render("Error: "+err.Error()))
}

// Prompt returns the styled input prompt.
func (r *Renderer) Prompt() string {
	return promptStyle.Render("lana> ")
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= previewWidth {
		return s
	}
	return string(runes[:previewWidth-1]) + "…"
}
