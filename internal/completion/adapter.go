package completion

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

type adapterRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type adapterResponse struct {
	Text  *string `json:"text"`
	Error string  `json:"error"`
}

// Adapter completes through the request-adapter endpoint, which holds the
// provider credential server-side. The endpoint is single-turn: only the
// prompt is forwarded.
type Adapter struct {
	url        string
	model      string
	httpClient *http.Client
}

func NewAdapter(url, model string, httpClient *http.Client) (*Adapter, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("completion: adapter url must not be empty")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("completion: adapter model must not be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Adapter{url: url, model: model, httpClient: httpClient}, nil
}

func (a *Adapter) Complete(ctx context.Context, prompt string, _ []domain.Message) (string, error) {
	body, err := json.Marshal(adapterRequest{Prompt: prompt, Model: a.model})
	if err != nil {
		return "", &Failure{Kind: NetworkFailure, Err: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return "", &Failure{Kind: NetworkFailure, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.httpClient.Do(req)
	if err != nil {
		return "", &Failure{Kind: NetworkFailure, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", &Failure{Kind: NetworkFailure, Err: fmt.Errorf("read response body: %w", err)}
	}

	var out adapterResponse
	decodeErr := json.Unmarshal(buf, &out)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		f := &Failure{Kind: UpstreamError, Status: res.StatusCode, Body: truncate(string(buf), 4096)}
		if decodeErr == nil && out.Error != "" {
			f.Err = errors.New(out.Error)
		}
		switch res.StatusCode {
		case http.StatusBadRequest:
			f.Kind = Unsupported
		case http.StatusUnauthorized, http.StatusForbidden:
			f.Kind = Unauthorized
		}
		return "", f
	}
	if decodeErr != nil {
		return "", &Failure{Kind: MalformedResponse, Body: truncate(string(buf), 4096), Err: decodeErr}
	}
	if out.Text == nil {
		return "", &Failure{Kind: MalformedResponse, Body: truncate(string(buf), 4096), Err: errors.New("response has no text field")}
	}
	return *out.Text, nil
}
