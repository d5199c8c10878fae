package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"aviara-chat/internal/domain"
	"aviara-chat/internal/integrations/gemini"
	"aviara-chat/internal/integrations/paramstore"
)

const testPrefix = "/aviara/dev"

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", paramstore.ErrParameterNotFound, name)
	}
	return v, nil
}

type transientParams struct {
	*mockParams
	failOnce bool
}

func (p *transientParams) GetParameter(ctx context.Context, name string) (string, error) {
	if p.failOnce {
		p.failOnce = false
		return "", errors.New("temporary ssm failure")
	}
	return p.mockParams.GetParameter(ctx, name)
}

type mockGenerator struct {
	raw      []byte
	err      error
	apiKey   string
	model    string
	messages []domain.ChatMessage
}

func (m *mockGenerator) GenerateContent(_ context.Context, apiKey, model string, messages []domain.ChatMessage) ([]byte, error) {
	m.apiKey = apiKey
	m.model = model
	m.messages = messages
	return m.raw, m.err
}

func defaultParams() *mockParams {
	return &mockParams{vals: map[string]string{
		testPrefix + "/google-api-key":   `{"token":"g-key"}`,
		testPrefix + "/config/model_map": `{"Gemini 2.5 Flash":"models/gemini-2.5-flash","GPT-4-1":null}`,
	}}
}

func geminiReply(text string) []byte {
	return []byte(fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, text))
}

func newService(t *testing.T, p ParamGetter, gen ContentGenerator) *CompletionService {
	t.Helper()
	svc, err := NewCompletionService(p, gen, testPrefix+"/")
	require.NoError(t, err)
	return svc
}

func requireCode(t *testing.T, err error, code ErrorCode) *Error {
	t.Helper()
	var ucErr *Error
	require.True(t, errors.As(err, &ucErr), "expected *usecase.Error, got %v", err)
	require.Equal(t, code, ucErr.Code)
	return ucErr
}

func TestNewCompletionService_ValidatesDependencies(t *testing.T) {
	_, err := NewCompletionService(nil, &mockGenerator{}, testPrefix)
	require.Error(t, err)
	_, err = NewCompletionService(defaultParams(), nil, testPrefix)
	require.Error(t, err)
	_, err = NewCompletionService(defaultParams(), &mockGenerator{}, " / ")
	require.Error(t, err)
}

func TestComplete_HappyPath(t *testing.T) {
	gen := &mockGenerator{raw: geminiReply("Hi there")}
	svc := newService(t, defaultParams(), gen)

	out, err := svc.Complete(context.Background(), CompleteInput{Prompt: "Hello", Model: "Gemini 2.5 Flash"})
	require.NoError(t, err)
	require.Equal(t, "Hi there", out.Text)
	require.Equal(t, "g-key", gen.apiKey)
	require.Equal(t, "models/gemini-2.5-flash", gen.model)
	require.Equal(t, []domain.ChatMessage{{Role: "user", Content: "Hello"}}, gen.messages)
}

func TestComplete_CachesConfig(t *testing.T) {
	params := defaultParams()
	svc := newService(t, params, &mockGenerator{raw: geminiReply("ok")})

	for i := 0; i < 3; i++ {
		_, err := svc.Complete(context.Background(), CompleteInput{Prompt: "q", Model: "Gemini 2.5 Flash"})
		require.NoError(t, err)
	}
	require.Equal(t, 2, params.calls)
}

func TestComplete_RetriesConfigAfterTransientFailure(t *testing.T) {
	params := &transientParams{mockParams: defaultParams(), failOnce: true}
	svc := newService(t, params, &mockGenerator{raw: geminiReply("ok")})

	_, err := svc.Complete(context.Background(), CompleteInput{Prompt: "q", Model: "Gemini 2.5 Flash"})
	requireCode(t, err, ErrorInternal)

	out, err := svc.Complete(context.Background(), CompleteInput{Prompt: "q", Model: "Gemini 2.5 Flash"})
	require.NoError(t, err)
	require.Equal(t, "ok", out.Text)
}

func TestComplete_BlankPrompt(t *testing.T) {
	gen := &mockGenerator{}
	svc := newService(t, defaultParams(), gen)

	_, err := svc.Complete(context.Background(), CompleteInput{Prompt: "  ", Model: "Gemini 2.5 Flash"})
	requireCode(t, err, ErrorInvalidInput)
	require.Empty(t, gen.model)
}

func TestComplete_UnsupportedModel(t *testing.T) {
	for _, model := range []string{"GPT-4-1", "unknown", ""} {
		t.Run(model, func(t *testing.T) {
			gen := &mockGenerator{}
			svc := newService(t, defaultParams(), gen)

			_, err := svc.Complete(context.Background(), CompleteInput{Prompt: "q", Model: model})
			ucErr := requireCode(t, err, ErrorUnsupportedModel)
			require.Equal(t, fmt.Sprintf("Model %s is not supported by this endpoint.", model), ucErr.Message)
			require.Empty(t, gen.model)
		})
	}
}

func TestComplete_MissingCredential(t *testing.T) {
	params := defaultParams()
	delete(params.vals, testPrefix+"/google-api-key")
	gen := &mockGenerator{}
	svc := newService(t, params, gen)

	_, err := svc.Complete(context.Background(), CompleteInput{Prompt: "q", Model: "Gemini 2.5 Flash"})
	requireCode(t, err, ErrorMissingCredential)
	require.Empty(t, gen.model)
}

func TestComplete_DefaultModelMapWhenParameterMissing(t *testing.T) {
	params := defaultParams()
	delete(params.vals, testPrefix+"/config/model_map")
	gen := &mockGenerator{raw: geminiReply("ok")}
	svc := newService(t, params, gen)

	_, err := svc.Complete(context.Background(), CompleteInput{Prompt: "q", Model: "Gemini 2.5 Flash"})
	require.NoError(t, err)
	require.Equal(t, "models/gemini-2.5-flash", gen.model)

	_, err = svc.Complete(context.Background(), CompleteInput{Prompt: "q", Model: "o3-mini"})
	requireCode(t, err, ErrorUnsupportedModel)
}

func TestComplete_MalformedModelMap(t *testing.T) {
	params := defaultParams()
	params.vals[testPrefix+"/config/model_map"] = `not-json`
	svc := newService(t, params, &mockGenerator{})

	_, err := svc.Complete(context.Background(), CompleteInput{Prompt: "q", Model: "Gemini 2.5 Flash"})
	requireCode(t, err, ErrorInternal)
}

func TestComplete_UpstreamFailures(t *testing.T) {
	cases := []struct {
		name    string
		gen     *mockGenerator
		reason  string
		message string
	}{
		{
			name:    "status error",
			gen:     &mockGenerator{err: &gemini.HTTPStatusError{StatusCode: http.StatusTooManyRequests, Body: "quota"}},
			reason:  "gemini_status_error",
			message: "Generative API returned 429: quota",
		},
		{
			name:    "transport error",
			gen:     &mockGenerator{err: errors.New("dial tcp: timeout")},
			reason:  "gemini_error",
			message: "Failed to generate content",
		},
		{
			name:    "unrecognized shape",
			gen:     &mockGenerator{raw: []byte(`{"foo":"bar"}`)},
			reason:  "gemini_malformed_response",
			message: "Could not parse response from generative API",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(t, defaultParams(), tc.gen)
			_, err := svc.Complete(context.Background(), CompleteInput{Prompt: "q", Model: "Gemini 2.5 Flash"})
			ucErr := requireCode(t, err, ErrorUpstream)
			require.Equal(t, tc.reason, ucErr.Reason)
			require.Equal(t, tc.message, ucErr.Message)
		})
	}
}
