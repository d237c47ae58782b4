package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/seanblong/reporag/internal/ai"
	"github.com/seanblong/reporag/internal/auth"
	"github.com/seanblong/reporag/internal/chat"
	"github.com/seanblong/reporag/internal/search"
	"github.com/seanblong/reporag/internal/store"
	"github.com/seanblong/reporag/pkg/models"
)

// Retriever is the read side of the index the server needs.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, typeFilter string) ([]models.ScoredRecord, error)
	Records(ctx context.Context) ([]models.VectorRecord, error)
	Summary(ctx context.Context) (models.IndexSummary, bool, error)
	Reload(ctx context.Context) error
}

// Assistant answers questions and runs code tasks.
type Assistant interface {
	Answer(ctx context.Context, question string, history []models.Message) (chat.Reply, error)
	Task(ctx context.Context, kind string, in chat.TaskInput) (string, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP routes to the retriever and chat service.
type Server struct {
	Retriever Retriever
	Assistant Assistant
	Auth      *auth.Authenticator
	Logger    zerolog.Logger

	// Backend, when set, is pinged by /healthz.
	Backend Pinger

	// DefaultTopK is used for searches that do not set topK.
	DefaultTopK int

	// SearchTimeout bounds search and info requests, CompletionTimeout
	// bounds everything that calls a chat model.
	SearchTimeout     time.Duration
	CompletionTimeout time.Duration

	validate *validator.Validate
	cron     *cron.Cron
}

// NewServer creates a new API server
func NewServer(r Retriever, a Assistant, authenticator *auth.Authenticator, logger zerolog.Logger) *Server {
	return &Server{
		Retriever:         r,
		Assistant:         a,
		Auth:              authenticator,
		Logger:            logger,
		DefaultTopK:       search.DefaultTopK,
		SearchTimeout:     30 * time.Second,
		CompletionTimeout: 2 * time.Minute,
		validate:          validator.New(),
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/info", s.handleInfo)
	api.HandleFunc("POST /api/search", s.handleSearch)
	api.HandleFunc("POST /api/chat", s.handleChat)
	api.HandleFunc("POST /api/reload", s.handleReload)
	api.HandleFunc("POST /api/analyze-code", s.handleAnalyze)
	api.HandleFunc("POST /api/generate-code", s.handleGenerate)
	api.HandleFunc("POST /api/debug-code", s.handleDebug)
	api.HandleFunc("POST /api/generate-docs", s.handleDocs)
	api.HandleFunc("POST /api/generate-tests", s.handleTests)
	mux.Handle("/api/", s.Auth.Middleware(api))

	logger := s.Logger
	return hlog.NewHandler(logger)(
		hlog.RequestIDHandler("req_id", "X-Request-Id")(
			hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
				hlog.FromRequest(r).Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("size", size).
					Dur("dur", dur).
					Msg("http")
			})(mux),
		),
	)
}

// StartReloader reloads the retriever snapshot on a cron schedule. An
// empty schedule does nothing.
func (s *Server) StartReloader(schedule string) error {
	if schedule == "" {
		return nil
	}
	logger := s.Logger
	c := cron.New(cron.WithLogger(cron.PrintfLogger(&logger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.SearchTimeout)
		defer cancel()
		if err := s.Retriever.Reload(ctx); err != nil {
			s.Logger.Error().Err(err).Msg("scheduled reload failed")
			return
		}
		s.Logger.Info().Str("schedule", schedule).Msg("reloaded index snapshot")
	})
	if err != nil {
		return fmt.Errorf("invalid reload schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the reload scheduler and waits for a running reload.
func (s *Server) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()

	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, store.ErrNotIndexed):
		status = http.StatusServiceUnavailable
		msg = "no index found, run the indexer first"
	case errors.As(err, &verrs), errors.Is(err, errBadRequest),
		errors.Is(err, ai.ErrEmptyInput), errors.Is(err, chat.ErrUnknownTask):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	level := zerolog.WarnLevel
	if status >= 500 {
		level = zerolog.ErrorLevel
	}
	hlog.FromRequest(r).WithLevel(level).Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, r, status, errorResponse{Error: msg})
}

var errBadRequest = errors.New("malformed request body")

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return s.validate.Struct(v)
}

// sanitize replaces similarities JSON cannot encode.
func sanitize(results []models.ScoredRecord) []models.ScoredRecord {
	if results == nil {
		return []models.ScoredRecord{}
	}
	for i := range results {
		if math.IsNaN(results[i].Similarity) || math.IsInf(results[i].Similarity, 0) {
			results[i].Similarity = 0
		}
	}
	return results
}
