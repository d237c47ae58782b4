package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/seanblong/reporag/pkg/models"
)

// Embedder turns text into vectors. Embed returns exactly one vector per
// input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dim() int
	Model() string
}

// Completer produces a single chat completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a provider-neutral chat request. System messages
// are mapped to whatever the provider uses for system instructions.
type CompletionRequest struct {
	Messages    []models.Message
	Temperature float32
	MaxTokens   int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderVertexAI  Provider = "vertexai"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderStub      Provider = "stub"
)

var (
	ErrEmptyInput          = errors.New("ai: empty input")
	ErrBatchSize           = errors.New("ai: provider returned a different number of embeddings than inputs")
	ErrUnsupportedProvider = errors.New("ai: unsupported provider")
	ErrMissingAPIKey       = errors.New("ai: api key unset")
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	Provider   Provider
	APIKey     string
	EmbedModel string
	ChatModel  string
	BaseURL    string
	ProjectID  string
	Location   string
	Dim        int
	Timeout    time.Duration
}

const defaultTimeout = 60 * time.Second

func (c *ClientConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

// NewEmbedder creates the embedding client for config.Provider.
func NewEmbedder(ctx context.Context, config *ClientConfig) (Embedder, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderOllama:
		return NewOllamaClient(config), nil
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, fmt.Errorf("%w for embeddings: %q", ErrUnsupportedProvider, config.Provider)
	}
}

// NewCompleter creates the chat completion client for config.Provider.
func NewCompleter(ctx context.Context, config *ClientConfig) (Completer, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderOllama:
		return NewOllamaClient(config), nil
	case ProviderAnthropic:
		return NewAnthropicClient(config), nil
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, fmt.Errorf("%w for completions: %q", ErrUnsupportedProvider, config.Provider)
	}
}

// splitSystem separates system messages (joined by blank lines) from the conversation.
func splitSystem(msgs []models.Message) (string, []models.Message) {
	var sys []string
	rest := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}

func checkBatch(texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return fmt.Errorf("%w: got %d for %d inputs", ErrBatchSize, len(vecs), len(texts))
	}
	return nil
}

func firstVector(vecs [][]float32, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrBatchSize)
	}
	return vecs[0], nil
}

const defaultStubDim = 256

// StubClient is an offline provider. It embeds text as a normalized
// hashed bag of words, so texts sharing words score as similar, and it
// answers completions by echoing the question.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = defaultStubDim
	}
	return &StubClient{dim: dim}
}

func (s *StubClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vector(t)
	}
	return out, nil
}

func (s *StubClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return firstVector(s.Embed(ctx, []string{text}))
}

func (s *StubClient) vector(text string) []float32 {
	v := make([]float32, s.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(s.dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func (s *StubClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, conv := splitSystem(req.Messages)
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == models.RoleUser {
			return "stub answer: " + conv[i].Content, nil
		}
	}
	return "", ErrEmptyInput
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

func (s *StubClient) Model() string {
	return "stub-hash"
}
