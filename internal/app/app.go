// Package app builds the components shared by the reporag binaries from a
// loaded configuration.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/reporag/internal/ai"
	"github.com/seanblong/reporag/internal/config"
	"github.com/seanblong/reporag/internal/indexer"
	"github.com/seanblong/reporag/internal/store"
)

// LoadDotEnv reads .env from the working directory if there is one. Values
// already set in the environment win.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to read .env: %v\n", err)
	}
}

// SetupLogger sets the global zerolog level and logger and returns it.
func SetupLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}

// EmbedConfig returns the client configuration for the embedding provider.
func EmbedConfig(cfg config.Specification) *ai.ClientConfig {
	return &ai.ClientConfig{
		Provider:   ai.Provider(cfg.Provider),
		APIKey:     cfg.APIKey,
		EmbedModel: cfg.EmbedModel,
		BaseURL:    cfg.BaseURL,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		Dim:        cfg.Dim,
	}
}

// ChatConfig returns the client configuration for the completion
// provider. Unset chat fields fall back to the embedding provider's when
// both use the same provider.
func ChatConfig(cfg config.Specification) *ai.ClientConfig {
	provider := cfg.EffectiveChatProvider()
	cc := &ai.ClientConfig{
		Provider:  ai.Provider(provider),
		APIKey:    cfg.ChatAPIKey,
		ChatModel: cfg.ChatModel,
		BaseURL:   cfg.ChatBaseURL,
		ProjectID: cfg.ProjectID,
		Location:  cfg.Location,
		Dim:       cfg.Dim,
	}
	if provider == cfg.Provider {
		if cc.APIKey == "" {
			cc.APIKey = cfg.APIKey
		}
		if cc.BaseURL == "" {
			cc.BaseURL = cfg.BaseURL
		}
	}
	return cc
}

// RetryConfig maps the retry section of the configuration.
func RetryConfig(cfg config.Specification) ai.RetryConfig {
	return ai.RetryConfig{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		RequestsPerSecond: cfg.Retry.RequestsPerSecond,
	}
}

// StoreConfig maps the store section of the configuration.
func StoreConfig(cfg config.Specification) store.Config {
	return store.Config{
		Backend:  cfg.Store.Backend,
		DataDir:  cfg.Store.DataDir,
		Database: cfg.Store.Database,
	}
}

// IndexOptions maps the configuration to indexer options.
func IndexOptions(cfg config.Specification) indexer.Options {
	return indexer.Options{
		ChunkSize:           cfg.Embedding.ChunkSize,
		ChunkOverlap:        cfg.Embedding.ChunkOverlap,
		BatchSize:           cfg.Embedding.BatchSize,
		SupportedExtensions: cfg.Files.SupportedExtensions,
		ExcludePatterns:     cfg.Files.ExcludePatterns,
		DataDir:             cfg.Store.DataDir,
		Provider:            cfg.Provider,
	}
}

// NewEmbedder creates the embedding client wrapped with retries.
func NewEmbedder(ctx context.Context, cfg config.Specification) (ai.Embedder, error) {
	e, err := ai.NewEmbedder(ctx, EmbedConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return ai.WithRetry(e, RetryConfig(cfg)), nil
}

// NewCompleter creates the completion client wrapped with retries.
func NewCompleter(ctx context.Context, cfg config.Specification) (ai.Completer, error) {
	c, err := ai.NewCompleter(ctx, ChatConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create completer: %w", err)
	}
	return ai.WithRetryCompleter(c, RetryConfig(cfg)), nil
}
