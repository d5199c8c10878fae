package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"aviara-chat/internal/domain"
)

// MarkdownExporter writes a human-readable transcript.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(chat domain.Chat, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", chat.Title)
	fmt.Fprintf(&b, "_Created %s_\n", formatMillis(chat.CreatedAt))

	for _, m := range chat.Messages {
		heading := "User"
		if m.Role == domain.RoleAssistant {
			heading = "Assistant"
		}
		if m.IsError {
			heading += " (failed)"
		}
		fmt.Fprintf(&b, "\n## %s\n\n", heading)
		fmt.Fprintf(&b, "_%s_\n\n", formatMillis(m.Timestamp))
		b.WriteString(strings.TrimRight(m.Text, "\n"))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (e *MarkdownExporter) Extension() string {
	return "md"
}

func (e *MarkdownExporter) ContentType() string {
	return "text/markdown"
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
