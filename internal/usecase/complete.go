package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"aviara-chat/internal/domain"
	"aviara-chat/internal/integrations/gemini"
	"aviara-chat/internal/integrations/paramstore"
	"aviara-chat/internal/normalizer"
)

const (
	apiKeyParam   = "/google-api-key"
	modelMapParam = "/config/model_map"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type ContentGenerator interface {
	GenerateContent(ctx context.Context, apiKey, model string, messages []domain.ChatMessage) ([]byte, error)
}

// DefaultModelMap maps UI model names to provider model ids. An empty id
// marks a model the UI offers but this endpoint does not serve.
func DefaultModelMap() map[string]string {
	return map[string]string{
		"Gemini 2.5 Flash":  "models/gemini-2.5-flash",
		"o3-mini":           "",
		"Claude 3.5 Sonnet": "",
		"GPT-4-1 Mini":      "",
		"GPT-4-1":           "",
	}
}

type CompletionService struct {
	params      ParamGetter
	gen         ContentGenerator
	paramPrefix string
	norm        *normalizer.Normalizer

	cacheMu     sync.RWMutex
	cacheLoaded bool
	apiKey      string
	modelMap    map[string]string
}

type CompleteInput struct {
	Prompt string
	Model  string
}

type CompleteOutput struct {
	Text string
}

func NewCompletionService(p ParamGetter, gen ContentGenerator, paramPrefix string) (*CompletionService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: content generator must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &CompletionService{
		params:      p,
		gen:         gen,
		paramPrefix: paramPrefix,
		norm:        normalizer.New(),
	}, nil
}

// Complete maps in.Model to a provider model, forwards the prompt and
// normalizes the provider response to plain text.
func (s *CompletionService) Complete(ctx context.Context, in CompleteInput) (CompleteOutput, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return CompleteOutput{}, newError(ErrorInvalidInput, "empty_prompt", "Prompt must not be empty.", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return CompleteOutput{}, newError(ErrorInternal, "ssm_load_error", "Failed to generate content", err)
	}

	s.cacheMu.RLock()
	mapped := s.modelMap[in.Model]
	apiKey := s.apiKey
	s.cacheMu.RUnlock()

	if mapped == "" {
		return CompleteOutput{}, newError(ErrorUnsupportedModel, "unmapped_model",
			fmt.Sprintf("Model %s is not supported by this endpoint.", in.Model), nil)
	}
	if apiKey == "" {
		return CompleteOutput{}, newError(ErrorMissingCredential, "missing_api_key", "Missing server credential.", nil)
	}

	raw, err := s.gen.GenerateContent(ctx, apiKey, mapped, []domain.ChatMessage{{Role: string(domain.RoleUser), Content: in.Prompt}})
	if err != nil {
		var statusErr *gemini.HTTPStatusError
		if errors.As(err, &statusErr) {
			return CompleteOutput{}, newError(ErrorUpstream, "gemini_status_error",
				fmt.Sprintf("Generative API returned %d: %s", statusErr.StatusCode, statusErr.Body), err)
		}
		return CompleteOutput{}, newError(ErrorUpstream, "gemini_error", "Failed to generate content", err)
	}

	text, err := s.norm.Normalize(raw)
	if err != nil {
		return CompleteOutput{}, newError(ErrorUpstream, "gemini_malformed_response", "Could not parse response from generative API", err)
	}
	return CompleteOutput{Text: text}, nil
}

// ensureConfig loads the credential and model map once. A failed load is
// not cached, so the next request tries again.
func (s *CompletionService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	apiKey, modelMap, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}

	s.apiKey = apiKey
	s.modelMap = modelMap
	s.cacheLoaded = true
	return nil
}

// loadSSMParams treats a missing credential parameter as an empty key and a
// missing model map as DefaultModelMap.
func (s *CompletionService) loadSSMParams(ctx context.Context) (apiKey string, modelMap map[string]string, err error) {
	var token struct {
		Token string `json:"token"`
	}
	err = paramstore.GetJSON(ctx, s.params, s.paramPrefix+apiKeyParam, &token)
	switch {
	case errors.Is(err, paramstore.ErrParameterNotFound):
	case err != nil:
		return "", nil, fmt.Errorf("usecase: load api key: %w", err)
	default:
		apiKey = strings.TrimSpace(token.Token)
	}

	err = paramstore.GetJSON(ctx, s.params, s.paramPrefix+modelMapParam, &modelMap)
	switch {
	case errors.Is(err, paramstore.ErrParameterNotFound):
		modelMap = DefaultModelMap()
	case err != nil:
		return "", nil, fmt.Errorf("usecase: load model map: %w", err)
	}
	if modelMap == nil {
		modelMap = map[string]string{}
	}
	return apiKey, modelMap, nil
}
