package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aviara-chat/internal/domain"
)

const (
	defaultBaseURL         = "https://generativelanguage.googleapis.com/v1"
	defaultTemperature     = 0.2
	defaultMaxOutputTokens = 1024
)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// generateRequest is the request shape for the generateContent method.
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the Generative Language REST API and returns raw response
// payloads. The API key travels in a header so it never appears in URLs.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	temperature     float64
	maxOutputTokens int
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithGeneration(temperature float64, maxOutputTokens int) Option {
	return func(c *Client) {
		c.temperature = temperature
		if maxOutputTokens > 0 {
			c.maxOutputTokens = maxOutputTokens
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:         defaultBaseURL,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		temperature:     defaultTemperature,
		maxOutputTokens: defaultMaxOutputTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// generateURL accepts both "gemini-x" and "models/gemini-x" model names.
func generateURL(baseURL, model string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	model = strings.TrimPrefix(strings.TrimSpace(model), "/")
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	return base + "/" + model + ":generateContent"
}

func toContents(messages []domain.ChatMessage) []content {
	out := make([]content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == string(domain.RoleAssistant) {
			role = "model"
		}
		out = append(out, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	return out
}

// GenerateContent sends messages to model and returns the raw JSON response.
func (c *Client) GenerateContent(ctx context.Context, apiKey, model string, messages []domain.ChatMessage) ([]byte, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("gemini: model must not be empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}

	body, err := json.Marshal(generateRequest{
		Contents: toContents(messages),
		GenerationConfig: generationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxOutputTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := generateURL(c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gemini: read response body: %w", err)
	}
	return buf, nil
}
