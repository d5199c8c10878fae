package export

import (
	"encoding/json"
	"io"

	"aviara-chat/internal/domain"
)

// JSONExporter writes the full record as pretty-printed JSON.
type JSONExporter struct{}

func (e *JSONExporter) Export(chat domain.Chat, w io.Writer) error {
	if chat.Messages == nil {
		chat.Messages = []domain.Message{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(chat)
}

func (e *JSONExporter) Extension() string {
	return "json"
}

func (e *JSONExporter) ContentType() string {
	return "application/json"
}
