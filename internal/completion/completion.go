// Package completion is the boundary between the session engine and
// completion providers. Every binding reports failures as *Failure.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"aviara-chat/internal/domain"
	"aviara-chat/internal/normalizer"
)

type FailureKind string

const (
	Unauthorized      FailureKind = "UNAUTHORIZED"
	Unsupported       FailureKind = "UNSUPPORTED"
	UpstreamError     FailureKind = "UPSTREAM_ERROR"
	MalformedResponse FailureKind = "MALFORMED_RESPONSE"
	NetworkFailure    FailureKind = "NETWORK_FAILURE"
)

// Failure is a classified completion failure. Status and Body are set for
// upstream HTTP failures.
type Failure struct {
	Kind   FailureKind
	Status int
	Body   string
	Err    error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	msg := "completion: " + string(f.Kind)
	if f.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", f.Status)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

func (f *Failure) HTTPStatusCode() int {
	return f.Status
}

// Client issues a single-shot completion for prompt given the conversation so
// far. history ends with the user turn carrying prompt. Implementations never
// retry internally and return either text or a *Failure.
type Client interface {
	Complete(ctx context.Context, prompt string, history []domain.Message) (string, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, prompt string, history []domain.Message) (string, error)

func (f Func) Complete(ctx context.Context, prompt string, history []domain.Message) (string, error) {
	return f(ctx, prompt, history)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Classify converts any error into a *Failure. Errors that carry an HTTP
// status become Unauthorized (401/403) or UpstreamError; unrecognized or
// undecodable payloads become MalformedResponse; anything else is treated
// as a transport failure.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, normalizer.ErrUnrecognizedShape) {
		return &Failure{Kind: MalformedResponse, Err: err}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Failure{Kind: MalformedResponse, Err: err}
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		status := statusErr.HTTPStatusCode()
		out := &Failure{Kind: UpstreamError, Status: status, Err: err}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			out.Kind = Unauthorized
		}
		return out
	}
	return &Failure{Kind: NetworkFailure, Err: err}
}

// withPrompt returns the provider messages for history, appending prompt as
// a user turn when history does not already end with it.
func withPrompt(prompt string, history []domain.Message) []domain.ChatMessage {
	msgs := domain.ToChatMessages(history)
	if n := len(msgs); n == 0 || msgs[n-1].Role != string(domain.RoleUser) || msgs[n-1].Content != prompt {
		msgs = append(msgs, domain.ChatMessage{Role: string(domain.RoleUser), Content: prompt})
	}
	return msgs
}
