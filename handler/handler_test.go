package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"aviara-chat/internal/usecase"
)

type stubUseCase struct {
	out    usecase.CompleteOutput
	err    error
	in     usecase.CompleteInput
	called bool
}

func (s *stubUseCase) Complete(_ context.Context, in usecase.CompleteInput) (usecase.CompleteOutput, error) {
	s.called = true
	s.in = in
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/api/gemini",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	uc := &stubUseCase{out: usecase.CompleteOutput{Text: "Hi there"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"prompt":"Hello","model":"Gemini 2.5 Flash"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.CompleteInput{Prompt: "Hello", Model: "Gemini 2.5 Flash"}, uc.in)

	out := parseBody[completeResponse](t, resp.Body)
	require.Equal(t, "Hi there", out.Text)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubUseCase{}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.False(t, uc.called)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Code)
	require.NotEmpty(t, out.Error)
}

func TestHandle_RejectsNonPost(t *testing.T) {
	uc := &stubUseCase{}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(`{}`)
	event.HTTPMethod = http.MethodGet
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.False(t, uc.called)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:    "invalid input",
			err:     &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_prompt", Message: "Prompt must not be empty."},
			status:  http.StatusBadRequest,
			code:    string(usecase.ErrorInvalidInput),
			message: "Prompt must not be empty.",
		},
		{
			name:    "unsupported model",
			err:     &usecase.Error{Code: usecase.ErrorUnsupportedModel, Reason: "unmapped_model", Message: "Model o3-mini is not supported by this endpoint."},
			status:  http.StatusBadRequest,
			code:    string(usecase.ErrorUnsupportedModel),
			message: "Model o3-mini is not supported by this endpoint.",
		},
		{
			name:    "missing credential",
			err:     &usecase.Error{Code: usecase.ErrorMissingCredential, Reason: "missing_api_key", Message: "Missing server credential."},
			status:  http.StatusInternalServerError,
			code:    string(usecase.ErrorMissingCredential),
			message: "Missing server credential.",
		},
		{
			name:    "upstream",
			err:     &usecase.Error{Code: usecase.ErrorUpstream, Reason: "gemini_status_error", Message: "Generative API returned 503: unavailable"},
			status:  http.StatusBadGateway,
			code:    string(usecase.ErrorUpstream),
			message: "Generative API returned 503: unavailable",
		},
		{
			name:    "internal without message",
			err:     &usecase.Error{Code: usecase.ErrorInternal, Reason: "ssm_load_error"},
			status:  http.StatusInternalServerError,
			code:    string(usecase.ErrorInternal),
			message: "Failed to generate content",
		},
		{
			name:    "unexpected",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			code:    string(usecase.ErrorInternal),
			message: "Failed to generate content",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{err: tc.err}
			h, err := NewHandler(uc)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"prompt":"Hello","model":"Gemini 2.5 Flash"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Code)
			require.Equal(t, tc.message, out.Error)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubUseCase{out: usecase.CompleteOutput{Text: "ok"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(`{"prompt":"Hello","model":"Gemini 2.5 Flash"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_GeneratesCorrelationID(t *testing.T) {
	prev := newUUID
	newUUID = func() string { return "generated-id" }
	t.Cleanup(func() { newUUID = prev })

	h, err := NewHandler(&stubUseCase{out: usecase.CompleteOutput{Text: "ok"}})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"prompt":"Hello","model":"Gemini 2.5 Flash"}`))
	require.NoError(t, err)
	require.Equal(t, "generated-id", resp.Headers["X-Correlation-Id"])
}
