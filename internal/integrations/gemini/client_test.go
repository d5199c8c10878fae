package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"aviara-chat/internal/domain"
)

func TestGenerateURL(t *testing.T) {
	cases := []struct {
		base  string
		model string
		want  string
	}{
		{"https://generativelanguage.googleapis.com/v1", "models/gemini-2.5-flash", "https://generativelanguage.googleapis.com/v1/models/gemini-2.5-flash:generateContent"},
		{"https://generativelanguage.googleapis.com/v1/", "gemini-2.0-flash", "https://generativelanguage.googleapis.com/v1/models/gemini-2.0-flash:generateContent"},
		{"", "gemini-2.0-flash", "https://generativelanguage.googleapis.com/v1/models/gemini-2.0-flash:generateContent"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, generateURL(tc.base, tc.model), "base=%q model=%q", tc.base, tc.model)
	}
}

func TestGenerateContent_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/models/gemini-2.5-flash:generateContent", r.URL.Path)
		require.Equal(t, "key-123", r.Header.Get("x-goog-api-key"))
		require.Empty(t, r.URL.RawQuery)

		var body generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 2)
		require.Equal(t, "user", body.Contents[0].Role)
		require.Equal(t, "model", body.Contents[1].Role)
		require.Equal(t, "hello", body.Contents[0].Parts[0].Text)
		require.Equal(t, 1024, body.GenerationConfig.MaxOutputTokens)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hi there"}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL+"/v1"), WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	raw, err := c.GenerateContent(context.Background(), "key-123", "models/gemini-2.5-flash", []domain.ChatMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "earlier answer"},
	})
	require.NoError(t, err)
	require.Contains(t, string(raw), "Hi there")
}

func TestGenerateContent_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.GenerateContent(context.Background(), "bad", "gemini-2.0-flash", nil)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.HTTPStatusCode())
	require.Contains(t, statusErr.Body, "API key not valid")
	require.NotContains(t, statusErr.Error(), "bad")
}

func TestGenerateContent_Validation(t *testing.T) {
	c := NewClient()
	_, err := c.GenerateContent(context.Background(), "key", " ", nil)
	require.ErrorContains(t, err, "model")

	_, err = c.GenerateContent(context.Background(), "", "gemini-2.0-flash", nil)
	require.ErrorContains(t, err, "api key")
}

func TestGenerateContent_NetworkError(t *testing.T) {
	c := NewClient(WithBaseURL("http://127.0.0.1:1"), WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	_, err := c.GenerateContent(context.Background(), "key", "gemini-2.0-flash", nil)
	require.ErrorContains(t, err, "request failed")
}
