package completion

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"aviara-chat/internal/domain"
	"aviara-chat/internal/integrations/openai"
	"aviara-chat/internal/normalizer"
)

type chatter interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) ([]byte, error)
}

// OpenAI completes against an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	chat  chatter
	model string
	norm  *normalizer.Normalizer
}

func NewOpenAI(chat chatter, model string) (*OpenAI, error) {
	if chat == nil {
		return nil, errors.New("completion: openai client must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("completion: openai model must not be empty")
	}
	return &OpenAI{chat: chat, model: model, norm: normalizer.New()}, nil
}

func (o *OpenAI) Complete(ctx context.Context, prompt string, history []domain.Message) (string, error) {
	raw, err := o.chat.Chat(ctx, o.model, withPrompt(prompt, history))
	if err != nil {
		f := Classify(err)
		var statusErr *openai.HTTPStatusError
		if errors.As(err, &statusErr) {
			f.Body = statusErr.Body
			if statusErr.StatusCode == http.StatusNotFound {
				f.Kind = Unsupported
			}
		}
		return "", f
	}
	text, err := o.norm.Normalize(raw)
	if err != nil {
		return "", &Failure{Kind: MalformedResponse, Body: truncate(string(raw), 4096), Err: err}
	}
	return text, nil
}
