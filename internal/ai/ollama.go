package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient talks to a local Ollama server over its REST API.
type OllamaClient struct {
	config *ClientConfig
	http   *http.Client
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

func NewOllamaClient(config *ClientConfig) *OllamaClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = defaultOllamaURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text"
	}
	if config.ChatModel == "" {
		config.ChatModel = "llama3.1"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}

	return &OllamaClient{
		config: config,
		http:   &http.Client{Timeout: config.timeout()},
	}
}

func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	payload := map[string]any{
		"model": c.config.EmbedModel,
		"input": texts,
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.post(ctx, "/api/embed", payload, &out); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if err := checkBatch(texts, out.Embeddings); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

func (c *OllamaClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return firstVector(c.Embed(ctx, []string{text}))
}

func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", ErrEmptyInput
	}

	msgs := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, map[string]string{"role": m.Role, "content": m.Content})
	}
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	payload := map[string]any{
		"model":    c.config.ChatModel,
		"messages": msgs,
		"stream":   false,
		"options":  options,
	}

	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := c.post(ctx, "/api/chat", payload, &out); err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return strings.TrimSpace(out.Message.Content), nil
}

func (c *OllamaClient) post(ctx context.Context, path string, payload, into any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	return json.NewDecoder(resp.Body).Decode(into)
}

func (c *OllamaClient) Dim() int {
	return c.config.Dim
}

func (c *OllamaClient) Model() string {
	return c.config.EmbedModel
}
