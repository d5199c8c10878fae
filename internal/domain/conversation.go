package domain

import "unicode/utf8"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	titleMaxRunes = 40
	titleEllipsis = "..."
)

// Message is a single conversation turn. Timestamp is milliseconds since the
// Unix epoch.
type Message struct {
	Role      Role   `json:"role" yaml:"role"`
	Text      string `json:"text" yaml:"text"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp"`
	IsError   bool   `json:"isError,omitempty" yaml:"isError,omitempty"`
}

// Retryable reports whether m is an assistant turn recorded for a failed
// completion.
func (m Message) Retryable() bool {
	return m.Role == RoleAssistant && m.IsError
}

// Chat is a persisted conversation. CreatedAt is milliseconds since the Unix
// epoch.
type Chat struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	CreatedAt int64     `json:"createdAt" yaml:"createdAt"`
}

// Clone returns a copy of c that shares no message storage with it.
func (c Chat) Clone() Chat {
	c.Messages = CloneMessages(c.Messages)
	return c
}

func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// FirstUserMessage returns the earliest user turn in msgs.
func FirstUserMessage(msgs []Message) (Message, bool) {
	for _, m := range msgs {
		if m.Role == RoleUser {
			return m, true
		}
	}
	return Message{}, false
}

// LastUserMessage returns the most recent user turn in msgs.
func LastUserMessage(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// DeriveTitle builds a conversation title from the first user prompt: the
// first 40 characters followed by an ellipsis marker.
func DeriveTitle(text string) string {
	if utf8.RuneCountInString(text) > titleMaxRunes {
		text = string([]rune(text)[:titleMaxRunes])
	}
	return text + titleEllipsis
}
