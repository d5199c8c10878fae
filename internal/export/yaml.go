package export

import (
	"io"

	"gopkg.in/yaml.v3"

	"aviara-chat/internal/domain"
)

// YAMLExporter writes the full record as YAML.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(chat domain.Chat, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()

	return enc.Encode(chat)
}

func (e *YAMLExporter) Extension() string {
	return "yaml"
}

func (e *YAMLExporter) ContentType() string {
	return "application/yaml"
}
