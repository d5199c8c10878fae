// Package export serializes a conversation into a downloadable file.
package export

import (
	"bytes"
	"fmt"
	"io"
	"regexp"

	"aviara-chat/internal/domain"
)

// Exporter writes a conversation in one format.
type Exporter interface {
	Export(chat domain.Chat, w io.Writer) error
	Extension() string
	ContentType() string
}

// File is a rendered export ready to hand to a download trigger.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// NewExporter creates an exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "", "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("export: unsupported format: %s (supported: json, yaml, md)", format)
	}
}

// Render exports chat in format and names the file after its title.
func Render(chat domain.Chat, format string) (File, error) {
	exp, err := NewExporter(format)
	if err != nil {
		return File{}, err
	}
	var buf bytes.Buffer
	if err := exp.Export(chat, &buf); err != nil {
		return File{}, fmt.Errorf("export: render %s: %w", exp.Extension(), err)
	}
	return File{
		Name:        Filename(chat.Title, exp.Extension()),
		ContentType: exp.ContentType(),
		Data:        buf.Bytes(),
	}, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Filename replaces every non-alphanumeric character of title with an
// underscore and appends ext.
func Filename(title, ext string) string {
	return unsafeFilenameChars.ReplaceAllString(title, "_") + "." + ext
}
