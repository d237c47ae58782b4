package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seanblong/reporag/pkg/models"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(&ClientConfig{
		APIKey:  "test-api-key",
		BaseURL: srv.URL + "/v1/",
		Timeout: 5 * time.Second,
	})
}

func TestNewOpenAIClient_Defaults(t *testing.T) {
	tests := []struct {
		name      string
		config    *ClientConfig
		wantModel string
		wantChat  string
		wantDim   int
	}{
		{"defaults", &ClientConfig{}, "text-embedding-3-small", "gpt-4o-mini", 1536},
		{"large model", &ClientConfig{EmbedModel: "text-embedding-3-large"}, "text-embedding-3-large", "gpt-4o-mini", 3072},
		{"explicit", &ClientConfig{EmbedModel: "custom", ChatModel: "gpt-4", Dim: 512}, "custom", "gpt-4", 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewOpenAIClient(tt.config)
			if c.Model() != tt.wantModel {
				t.Errorf("Model() = %q, want %q", c.Model(), tt.wantModel)
			}
			if c.config.ChatModel != tt.wantChat {
				t.Errorf("ChatModel = %q, want %q", c.config.ChatModel, tt.wantChat)
			}
			if c.Dim() != tt.wantDim {
				t.Errorf("Dim() = %d, want %d", c.Dim(), tt.wantDim)
			}
		})
	}
}

func TestOpenAIClient_Embed(t *testing.T) {
	var gotInput []string
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-api-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotInput = req.Input
		w.Header().Set("Content-Type", "application/json")
		// out of order on purpose; the client sorts by index
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`))
	})

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if strings.Join(gotInput, ",") != "a,b" {
		t.Errorf("server saw input %v", gotInput)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("unexpected vectors %v", vecs)
	}
}

func TestOpenAIClient_EmbedErrors(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		c := NewOpenAIClient(&ClientConfig{})
		if _, err := c.Embed(context.Background(), []string{"x"}); err == nil || !strings.Contains(err.Error(), "PROVIDER_API_KEY") {
			t.Errorf("expected missing key error, got %v", err)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		c := NewOpenAIClient(&ClientConfig{APIKey: "k"})
		if _, err := c.Embed(context.Background(), nil); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("expected ErrEmptyInput, got %v", err)
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[1]}]}`))
		})
		if _, err := c.Embed(context.Background(), []string{"a", "b"}); !errors.Is(err, ErrBatchSize) {
			t.Errorf("expected ErrBatchSize, got %v", err)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
		})
		_, err := c.Embed(context.Background(), []string{"a"})
		if err == nil {
			t.Fatal("expected error")
		}
		if statusCode(err) != http.StatusTooManyRequests {
			t.Errorf("statusCode = %d, want 429 (err %v)", statusCode(err), err)
		}
		if !retryable(err) {
			t.Error("429 should be retryable")
		}
	})
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  It starts the server.  "}}]}`))
	})

	out, err := c.Complete(context.Background(), CompletionRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "ctx"},
			{Role: models.RoleUser, Content: "what does main do?"},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "It starts the server." {
		t.Errorf("Complete = %q", out)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 2000 || got.Temperature != 0.1 {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "what does main do?" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestOpenAIClient_CompleteNoChoices(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","choices":[]}`))
	})
	_, err := c.Complete(context.Background(), CompletionRequest{Messages: []models.Message{{Role: "user", Content: "x"}}})
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Errorf("expected no choices error, got %v", err)
	}
}
