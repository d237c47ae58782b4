package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/reporag/internal/app"
	"github.com/seanblong/reporag/internal/config"
	"github.com/seanblong/reporag/internal/indexer"
	"github.com/seanblong/reporag/internal/store"
)

func main() {
	app.LoadDotEnv()

	fs := pflag.NewFlagSet("reporag-indexer", pflag.ExitOnError)
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	fs.Usage = cfg.Usage

	logger, err := app.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, app.StoreConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open vector store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close vector store")
		}
	}()

	embedder, err := app.NewEmbedder(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create embedding client")
	}
	logger.Info().
		Str("provider", cfg.Provider).
		Str("embed_model", embedder.Model()).
		Str("root", cfg.RepoRoot).
		Str("backend", cfg.Store.Backend).
		Msg("starting indexer")

	start := time.Now()
	res, err := indexer.New(st, embedder, cfg.RepoRoot, app.IndexOptions(cfg)).Run(ctx)
	if err != nil {
		// Deferred cleanup doesn't run after Fatal, so close explicitly.
		_ = st.Close()
		logger.Fatal().Err(err).Msg("indexing failed")
	}

	logger.Info().
		Str("run_id", res.RunID).
		Int("files", res.FileCount).
		Int("chunks", res.ChunkCount).
		Dur("took", time.Since(start)).
		Msg("index written")
}
