package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"aviara-chat/internal/chatstore"
	"aviara-chat/internal/completion"
	"aviara-chat/internal/integrations/gemini"
	"aviara-chat/internal/integrations/openai"
	"aviara-chat/internal/integrations/paramstore"
	"aviara-chat/internal/repository"
	"aviara-chat/internal/session"
)

const (
	defaultGeminiModel  = "gemini-2.5-flash"
	defaultOpenAIModel  = "gpt-4.1-mini"
	defaultAdapterModel = "Gemini 2.5 Flash"
)

type app struct {
	engine *session.Engine
	close  func() error
}

func openApp(ctx context.Context, cfg cliConfig, logger *slog.Logger) (*app, error) {
	kv, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	chats, err := chatstore.New(kv, chatstore.WithLogger(logger))
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	llm, err := newCompletionClient(ctx, cfg)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	engine, err := session.NewEngine(chats, llm, session.WithLogger(logger))
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	if err := engine.Load(ctx); err != nil {
		_ = closeStore()
		return nil, err
	}
	return &app{engine: engine, close: closeStore}, nil
}

func openStore(ctx context.Context, cfg cliConfig) (repository.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "", "bolt":
		s, err := repository.OpenBolt(cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sqlite":
		s, err := repository.OpenSQLite(cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "dynamodb":
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load AWS config: %w", err)
		}
		s, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.Table, cfg.Namespace)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "memory":
		return repository.NewMemory(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend %q (supported: bolt, sqlite, dynamodb, memory)", cfg.Backend)
	}
}

func newCompletionClient(ctx context.Context, cfg cliConfig) (completion.Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case "", "gemini":
		opts := []gemini.Option{
			gemini.WithHTTPClient(httpClient),
			gemini.WithGeneration(cfg.Temperature, cfg.MaxTokens),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return completion.NewGemini(gemini.NewClient(opts...), cfg.APIKey, orDefault(cfg.Model, defaultGeminiModel))
	case "openai":
		opts := []openai.Option{
			openai.WithHTTPClient(httpClient),
			openai.WithTemperature(cfg.Temperature),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		switch {
		case cfg.APIKey != "":
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		case cfg.ParamPrefix != "":
			awsCfg, err := config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("load AWS config: %w", err)
			}
			params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return nil, err
			}
			opts = append(opts, openai.WithParamStore(params, cfg.ParamPrefix))
		}
		client, err := openai.NewClient(opts...)
		if err != nil {
			return nil, err
		}
		return completion.NewOpenAI(client, orDefault(cfg.Model, defaultOpenAIModel))
	case "adapter":
		return completion.NewAdapter(cfg.AdapterURL, orDefault(cfg.Model, defaultAdapterModel), httpClient)
	default:
		return nil, fmt.Errorf("unsupported provider %q (supported: gemini, openai, adapter)", cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
