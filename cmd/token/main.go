package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/reporag/internal/app"
	"github.com/seanblong/reporag/internal/auth"
	"github.com/seanblong/reporag/internal/config"
)

// token prints a bearer token for the API. Subject and name are read from
// REPORAG_TOKEN_SUBJECT and REPORAG_TOKEN_NAME since the flag set is owned
// by the configuration loader.
func main() {
	app.LoadDotEnv()

	fs := pflag.NewFlagSet("reporag-token", pflag.ExitOnError)
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	fs.Usage = cfg.Usage

	// stdout carries only the token
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	subject := os.Getenv("REPORAG_TOKEN_SUBJECT")
	if subject == "" {
		subject = "cli"
	}

	// Tokens can be issued ahead of enabling auth on the server.
	a, err := auth.New(cfg.Auth.JwtSecret, cfg.Auth.TokenTTL, true)
	if err != nil {
		log.Fatal().Err(err).Msg("auth.jwtSecret must be set to issue tokens")
	}
	token, err := a.Issue(subject, os.Getenv("REPORAG_TOKEN_NAME"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue token")
	}

	log.Info().Str("subject", subject).Dur("ttl", cfg.Auth.TokenTTL).Msg("issued token")
	fmt.Println(token)
}
