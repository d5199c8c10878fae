package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"aviara-chat/handler"
	"aviara-chat/internal/integrations/gemini"
	"aviara-chat/internal/integrations/paramstore"
	"aviara-chat/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// ---- Configuration (read only here) ----
	paramPrefix := mustEnv("PARAM_PREFIX")
	geminiBaseURL := os.Getenv("GEMINI_BASE_URL")
	httpTimeout := time.Duration(envInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	geminiOpts := []gemini.Option{gemini.WithHTTPClient(&http.Client{Timeout: httpTimeout})}
	if geminiBaseURL != "" {
		geminiOpts = append(geminiOpts, gemini.WithBaseURL(geminiBaseURL))
	}
	geminiClient := gemini.NewClient(geminiOpts...)

	// ---- Handler ----
	completionService, err := usecase.NewCompletionService(ssmClient, geminiClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create completion service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(completionService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
