package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seanblong/reporag/pkg/models"
)

func TestNewOllamaClient_Defaults(t *testing.T) {
	c := NewOllamaClient(&ClientConfig{BaseURL: "http://ollama:11434/"})
	if c.config.BaseURL != "http://ollama:11434" {
		t.Errorf("BaseURL = %q", c.config.BaseURL)
	}
	if c.Model() != "nomic-embed-text" || c.config.ChatModel != "llama3.1" || c.Dim() != 768 {
		t.Errorf("unexpected defaults %+v", c.config)
	}

	c = NewOllamaClient(&ClientConfig{})
	if c.config.BaseURL != defaultOllamaURL {
		t.Errorf("BaseURL = %q, want %q", c.config.BaseURL, defaultOllamaURL)
	}
}

func TestOllamaClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		out := struct {
			Embeddings [][]float32 `json:"embeddings"`
		}{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := NewOllamaClient(&ClientConfig{BaseURL: srv.URL})
	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Errorf("unexpected vectors %v", vecs)
	}

	q, err := c.EmbedQuery(context.Background(), "q")
	if err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}
	if len(q) != 2 {
		t.Errorf("query vector = %v", q)
	}
}

func TestOllamaClient_EmbedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nomic-embed-text\" not found"}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(&ClientConfig{BaseURL: srv.URL})
	_, err := c.Embed(context.Background(), []string{"a"})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound || se.Message != `model "nomic-embed-text" not found` {
		t.Errorf("unexpected status error %+v", se)
	}
	if retryable(err) {
		t.Error("404 should not be retryable")
	}
}

func TestOllamaClient_Complete(t *testing.T) {
	var got struct {
		Model    string           `json:"model"`
		Stream   bool             `json:"stream"`
		Messages []models.Message `json:"messages"`
		Options  map[string]any   `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"answer\n"},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(&ClientConfig{BaseURL: srv.URL, ChatModel: "qwen2.5-coder"})
	out, err := c.Complete(context.Background(), CompletionRequest{
		Messages:    []models.Message{{Role: "system", Content: "s"}, {Role: "user", Content: "q"}},
		Temperature: 0.2,
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "answer" {
		t.Errorf("Complete = %q", out)
	}
	if got.Model != "qwen2.5-coder" || got.Stream || len(got.Messages) != 2 {
		t.Errorf("unexpected request %+v", got)
	}
	if got.Options["num_predict"] != float64(100) {
		t.Errorf("num_predict = %v", got.Options["num_predict"])
	}
}

func TestOllamaClient_EmptyInput(t *testing.T) {
	c := NewOllamaClient(&ClientConfig{})
	if _, err := c.Embed(context.Background(), nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := c.Complete(context.Background(), CompletionRequest{}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}
