package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/reporag/internal/app"
	"github.com/seanblong/reporag/internal/chat"
	"github.com/seanblong/reporag/internal/config"
	"github.com/seanblong/reporag/internal/indexer"
	"github.com/seanblong/reporag/internal/repl"
	"github.com/seanblong/reporag/internal/search"
	"github.com/seanblong/reporag/internal/store"
)

func main() {
	app.LoadDotEnv()

	fs := pflag.NewFlagSet("reporag-chat", pflag.ExitOnError)
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	fs.Usage = cfg.Usage

	if _, err := app.SetupLogger(cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	// stdout belongs to the conversation
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, app.StoreConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open vector store")
	}
	defer st.Close()

	embedder, err := app.NewEmbedder(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create embedding client")
	}
	completer, err := app.NewCompleter(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create completion client")
	}

	retriever := search.NewRetriever(embedder, st, cfg.TopK)
	assistant := chat.NewService(retriever, completer, chat.Options{
		ProjectName:  cfg.ProjectName,
		TopK:         cfg.TopK,
		HistoryTurns: cfg.HistoryTurns,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	})
	index := func(ctx context.Context) (indexer.Result, error) {
		return indexer.New(st, embedder, cfg.RepoRoot, app.IndexOptions(cfg)).Run(ctx)
	}

	session := repl.New(retriever, assistant, index, os.Stdin, os.Stdout)
	if err := session.Init(ctx); err != nil {
		_ = st.Close()
		log.Fatal().Err(err).Msg("failed to load index")
	}
	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("chat session ended with an error")
	}
}
