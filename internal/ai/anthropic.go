package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/seanblong/reporag/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicClient only implements Completer; Anthropic has no embeddings API.
type AnthropicClient struct {
	config *ClientConfig
	client anthropic.Client
}

func NewAnthropicClient(config *ClientConfig) *AnthropicClient {
	if config.ChatModel == "" {
		config.ChatModel = defaultAnthropicModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: config.timeout()}),
		// retries are handled by WithRetryCompleter
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicClient{
		config: config,
		client: anthropic.NewClient(opts...),
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c.config.APIKey == "" {
		return "", fmt.Errorf("%w: CHAT_API_KEY", ErrMissingAPIKey)
	}
	sys, conv := splitSystem(req.Messages)
	if len(conv) == 0 {
		return "", ErrEmptyInput
	}

	msgs := make([]anthropic.MessageParam, 0, len(conv))
	for _, m := range conv {
		if m.Role == models.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.config.ChatModel),
		MaxTokens:   maxTokens,
		Messages:    msgs,
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("no text content returned")
	}
	return strings.TrimSpace(b.String()), nil
}
