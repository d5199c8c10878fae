package domain

// ChatMessage is the provider-agnostic chat message shape sent to LLM
// integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToChatMessages converts stored turns into the provider message shape.
// Error turns are placeholders for failed completions and are not replayed.
func ToChatMessages(history []Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		if m.IsError {
			continue
		}
		out = append(out, ChatMessage{Role: string(m.Role), Content: m.Text})
	}
	return out
}
