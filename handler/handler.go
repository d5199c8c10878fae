package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"aviara-chat/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// CompletionUseCase is the request-adapter use case behind the endpoint.
type CompletionUseCase interface {
	Complete(ctx context.Context, in usecase.CompleteInput) (usecase.CompleteOutput, error)
}

type Handler struct {
	uc     CompletionUseCase
	logger *slog.Logger
}

type completeRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type completeResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func NewHandler(uc CompletionUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, logger: slog.Default()}, nil
}

// Handle serves POST {prompt, model} and answers {text} or {error, code}.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	logger := h.logger.With("correlation_id", corrID)

	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodPost {
		return respond(corrID, http.StatusMethodNotAllowed, errorResponse{
			Error: "Method not allowed.",
			Code:  "METHOD_NOT_ALLOWED",
		}), nil
	}

	var body completeRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		logger.Warn("handler: invalid request body", "err", err)
		return respond(corrID, http.StatusBadRequest, errorResponse{
			Error: "Invalid request body.",
			Code:  string(usecase.ErrorInvalidInput),
		}), nil
	}

	out, err := h.uc.Complete(ctx, usecase.CompleteInput{Prompt: body.Prompt, Model: body.Model})
	if err != nil {
		status, resp := mapError(err)
		logger.Error("handler: completion failed", "status", status, "code", resp.Code, "err", err)
		return respond(corrID, status, resp), nil
	}

	logger.Info("handler: completion served", "model", body.Model)
	return respond(corrID, http.StatusOK, completeResponse{Text: out.Text}), nil
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{
			Error: "Failed to generate content",
			Code:  string(usecase.ErrorInternal),
		}
	}
	resp := errorResponse{Error: ucErr.Message, Code: string(ucErr.Code)}
	if resp.Error == "" {
		resp.Error = "Failed to generate content"
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorUnsupportedModel:
		return http.StatusBadRequest, resp
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func respond(corrID string, status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"Failed to generate content","code":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

// correlationID reuses an inbound correlation header, matched
// case-insensitively, or generates a new one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return newUUID()
}

var newUUID = func() string {
	return uuid.NewString()
}
