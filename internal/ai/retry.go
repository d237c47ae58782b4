package ai

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// RetryConfig bounds retries of provider calls. RequestsPerSecond <= 0
// disables rate limiting.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64
}

const backoffMultiplier = 2.0

var retryableStatusCodes = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

type retrier struct {
	cfg     RetryConfig
	limiter *rate.Limiter
}

func newRetrier(cfg RetryConfig) *retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	r := &retrier{cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return r
}

func (r *retrier) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == r.cfg.MaxAttempts-1 {
			break
		}

		backoff := calculateBackoff(attempt, r.cfg.InitialBackoff, r.cfg.MaxBackoff)
		log.Debug().
			Str("op", op).
			Int("attempt", attempt+1).
			Err(lastErr).
			Dur("backoff", backoff).
			Msg("retrying provider call after backoff")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

// calculateBackoff grows initial by 2x per attempt up to max, with ±25% jitter.
func calculateBackoff(attempt int, initial, max time.Duration) time.Duration {
	backoff := float64(initial)
	for i := 0; i < attempt; i++ {
		backoff *= backoffMultiplier
		if backoff >= float64(max) {
			backoff = float64(max)
			break
		}
	}
	backoff += backoff * 0.25 * (rand.Float64()*2 - 1)
	if backoff <= 0 {
		backoff = float64(initial)
	}
	return time.Duration(backoff)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrEmptyInput),
		errors.Is(err, ErrBatchSize),
		errors.Is(err, ErrUnsupportedProvider),
		errors.Is(err, ErrMissingAPIKey):
		return false
	}
	if code := statusCode(err); code > 0 {
		return retryableStatusCodes[code]
	}
	return true
}

// statusCode digs the HTTP status out of the provider error types we know.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	return 0
}

type retryingEmbedder struct {
	Embedder
	r *retrier
}

// WithRetry wraps an Embedder so every call goes through the rate limiter
// and is retried with exponential backoff on transient failures.
func WithRetry(e Embedder, cfg RetryConfig) Embedder {
	return &retryingEmbedder{Embedder: e, r: newRetrier(cfg)}
}

func (e *retryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.r.do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = e.Embedder.Embed(ctx, texts)
		return err
	})
	return out, err
}

func (e *retryingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.r.do(ctx, "embed_query", func(ctx context.Context) error {
		var err error
		out, err = e.Embedder.EmbedQuery(ctx, text)
		return err
	})
	return out, err
}

type retryingCompleter struct {
	c Completer
	r *retrier
}

// WithRetryCompleter is WithRetry for completions.
func WithRetryCompleter(c Completer, cfg RetryConfig) Completer {
	return &retryingCompleter{c: c, r: newRetrier(cfg)}
}

func (c *retryingCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var out string
	err := c.r.do(ctx, "complete", func(ctx context.Context) error {
		var err error
		out, err = c.c.Complete(ctx, req)
		return err
	})
	return out, err
}
