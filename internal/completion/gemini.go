package completion

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"aviara-chat/internal/domain"
	"aviara-chat/internal/integrations/gemini"
	"aviara-chat/internal/normalizer"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, apiKey, model string, messages []domain.ChatMessage) ([]byte, error)
}

// Gemini completes directly against the Generative Language API.
type Gemini struct {
	gen    contentGenerator
	apiKey string
	model  string
	norm   *normalizer.Normalizer
}

func NewGemini(gen contentGenerator, apiKey, model string) (*Gemini, error) {
	if gen == nil {
		return nil, errors.New("completion: gemini generator must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("completion: gemini model must not be empty")
	}
	return &Gemini{gen: gen, apiKey: strings.TrimSpace(apiKey), model: model, norm: normalizer.New()}, nil
}

func (g *Gemini) Complete(ctx context.Context, prompt string, history []domain.Message) (string, error) {
	if g.apiKey == "" {
		return "", &Failure{Kind: Unauthorized, Err: errors.New("gemini api key is not configured")}
	}
	raw, err := g.gen.GenerateContent(ctx, g.apiKey, g.model, withPrompt(prompt, history))
	if err != nil {
		f := Classify(err)
		var statusErr *gemini.HTTPStatusError
		if errors.As(err, &statusErr) {
			f.Body = statusErr.Body
			if statusErr.StatusCode == http.StatusNotFound {
				f.Kind = Unsupported
			}
		}
		return "", f
	}
	text, err := g.norm.Normalize(raw)
	if err != nil {
		return "", &Failure{Kind: MalformedResponse, Body: truncate(string(raw), 4096), Err: err}
	}
	return text, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
