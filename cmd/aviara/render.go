package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"aviara-chat/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("135"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

const wrapWidth = 100

type printer struct {
	out io.Writer
	md  *glamour.TermRenderer
}

func newPrinter(out io.Writer, style string) (*printer, error) {
	opt := glamour.WithAutoStyle()
	if s := strings.TrimSpace(style); s != "" && s != "auto" {
		opt = glamour.WithStandardStyle(s)
	}
	md, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(wrapWidth))
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return &printer{out: out, md: md}, nil
}

func (p *printer) chatList(chats []domain.Chat, activeID string) {
	if len(chats) == 0 {
		fmt.Fprintln(p.out, "No conversations yet.")
		return
	}
	fmt.Fprintln(p.out, headerStyle.Render(fmt.Sprintf("%d conversations", len(chats))))
	for _, c := range chats {
		marker := "  "
		if c.ID == activeID {
			marker = "* "
		}
		fmt.Fprintf(p.out, "%s%s %s %s %s\n",
			marker,
			titleStyle.Render(c.Title),
			idStyle.Render(c.ID),
			countStyle.Render(fmt.Sprintf("%d turns", len(c.Messages))),
			dateStyle.Render(formatMillis(c.CreatedAt)),
		)
	}
}

func (p *printer) chat(c domain.Chat) {
	fmt.Fprintf(p.out, "%s %s\n\n", titleStyle.Render(c.Title), idStyle.Render(c.ID))
	for i, m := range c.Messages {
		p.turn(i, m)
	}
}

func (p *printer) turn(index int, m domain.Message) {
	switch {
	case m.Role == domain.RoleUser:
		fmt.Fprintf(p.out, "%s %s\n", userStyle.Render(fmt.Sprintf("[%d] you:", index)), m.Text)
	case m.IsError:
		fmt.Fprintf(p.out, "%s %s\n", assistantStyle.Render(fmt.Sprintf("[%d] aviara:", index)), errorStyle.Render(m.Text))
		fmt.Fprintf(p.out, "%s\n", dateStyle.Render(fmt.Sprintf("retry with: aviara retry %d", index)))
	default:
		fmt.Fprintln(p.out, assistantStyle.Render(fmt.Sprintf("[%d] aviara:", index)))
		fmt.Fprintln(p.out, p.markdown(m.Text))
	}
}

// lastTurn prints the final turn of c, which after a completion is the
// assistant reply or its apology.
func (p *printer) lastTurn(c domain.Chat) {
	if len(c.Messages) == 0 {
		return
	}
	last := len(c.Messages) - 1
	p.turn(last, c.Messages[last])
}

func (p *printer) markdown(text string) string {
	rendered, err := p.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
