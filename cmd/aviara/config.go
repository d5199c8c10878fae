package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "aviara"

type cliConfig struct {
	Backend     string
	DB          string
	Table       string
	Namespace   string
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	AdapterURL  string
	ParamPrefix string
	Style       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Verbose     bool
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "config file (YAML, TOML or JSON)")
	flags.String("backend", "bolt", "storage backend: bolt, sqlite, dynamodb or memory")
	flags.String("db", "", "database file for the bolt and sqlite backends")
	flags.String("table", "aviara-chat", "DynamoDB table for the dynamodb backend")
	flags.String("namespace", "default", "key namespace for the dynamodb backend")
	flags.String("provider", "gemini", "completion provider: gemini, openai or adapter")
	flags.String("model", "", "model name (provider default when empty)")
	flags.String("api-key", "", "provider API key")
	flags.String("base-url", "", "provider API base URL")
	flags.String("adapter-url", "", "request-adapter endpoint URL for the adapter provider")
	flags.String("param-prefix", "", "SSM parameter prefix used to resolve the OpenAI key")
	flags.String("style", "auto", "markdown style for assistant replies (auto, dark, light, notty)")
	flags.Float64("temperature", 0.2, "sampling temperature")
	flags.Int("max-tokens", 1024, "maximum reply tokens (gemini)")
	flags.Duration("timeout", 60*time.Second, "completion request timeout")
	flags.BoolP("verbose", "v", false, "enable debug logging")
}

// bindConfig layers flags, AVIARA_* environment variables and an optional
// config file into v.
func bindConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("config: bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return nil
}

func loadConfig(v *viper.Viper) cliConfig {
	cfg := cliConfig{
		Backend:     strings.ToLower(strings.TrimSpace(v.GetString("backend"))),
		DB:          strings.TrimSpace(v.GetString("db")),
		Table:       v.GetString("table"),
		Namespace:   v.GetString("namespace"),
		Provider:    strings.ToLower(strings.TrimSpace(v.GetString("provider"))),
		Model:       strings.TrimSpace(v.GetString("model")),
		APIKey:      strings.TrimSpace(v.GetString("api-key")),
		BaseURL:     strings.TrimSpace(v.GetString("base-url")),
		AdapterURL:  strings.TrimSpace(v.GetString("adapter-url")),
		ParamPrefix: strings.TrimSpace(v.GetString("param-prefix")),
		Style:       v.GetString("style"),
		Temperature: v.GetFloat64("temperature"),
		MaxTokens:   v.GetInt("max-tokens"),
		Timeout:     v.GetDuration("timeout"),
		Verbose:     v.GetBool("verbose"),
	}
	if cfg.DB == "" {
		cfg.DB = defaultDBPath(cfg.Backend)
	}
	return cfg
}

func defaultDBPath(backend string) string {
	name := "aviara.db"
	if backend == "sqlite" {
		name = "aviara.sqlite"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "aviara", name)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
