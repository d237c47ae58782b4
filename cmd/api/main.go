package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/reporag/internal/api"
	"github.com/seanblong/reporag/internal/app"
	"github.com/seanblong/reporag/internal/auth"
	"github.com/seanblong/reporag/internal/chat"
	"github.com/seanblong/reporag/internal/config"
	"github.com/seanblong/reporag/internal/search"
	"github.com/seanblong/reporag/internal/store"
)

func main() {
	app.LoadDotEnv()

	fs := pflag.NewFlagSet("reporag-api", pflag.ExitOnError)
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	fs.Usage = cfg.Usage

	logger, err := app.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	logger.Info().
		Str("provider", cfg.Provider).
		Str("chat_provider", cfg.EffectiveChatProvider()).
		Str("backend", cfg.Store.Backend).
		Bool("auth_enabled", cfg.Auth.Enabled).
		Msg("starting reporag api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, app.StoreConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open vector store")
	}
	defer st.Close()

	embedder, err := app.NewEmbedder(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create embedding client")
	}
	completer, err := app.NewCompleter(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create completion client")
	}
	authenticator, err := auth.New(cfg.Auth.JwtSecret, cfg.Auth.TokenTTL, cfg.Auth.Enabled)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up auth")
	}

	retriever := search.NewRetriever(embedder, st, cfg.TopK)
	if err := retriever.Reload(ctx); err != nil {
		if !errors.Is(err, store.ErrNotIndexed) {
			logger.Fatal().Err(err).Msg("failed to load vector store")
		}
		logger.Warn().Msg("no index found yet, /api routes return 503 until the indexer has run")
	}

	assistant := chat.NewService(retriever, completer, chat.Options{
		ProjectName:  cfg.ProjectName,
		TopK:         cfg.TopK,
		HistoryTurns: cfg.HistoryTurns,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	})

	srv := api.NewServer(retriever, assistant, authenticator, logger)
	srv.DefaultTopK = cfg.TopK
	if p, ok := st.(api.Pinger); ok {
		srv.Backend = p
	}
	if err := srv.StartReloader(cfg.ReloadSchedule); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule reloads")
	}
	defer srv.Stop()

	s := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("api server stopped")
}
