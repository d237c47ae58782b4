package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/seanblong/reporag/internal/ai"
	"github.com/seanblong/reporag/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockSearcher implements Searcher for testing
type MockSearcher struct {
	SearchFunc         func(ctx context.Context, query string, topK int, typeFilter string) ([]models.ScoredRecord, error)
	RecordsForPathFunc func(ctx context.Context, substr string) ([]models.VectorRecord, error)

	LastTopK int
}

func (m *MockSearcher) Search(ctx context.Context, query string, topK int, typeFilter string) ([]models.ScoredRecord, error) {
	m.LastTopK = topK
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, topK, typeFilter)
	}
	return nil, nil
}

func (m *MockSearcher) RecordsForPath(ctx context.Context, substr string) ([]models.VectorRecord, error) {
	if m.RecordsForPathFunc != nil {
		return m.RecordsForPathFunc(ctx, substr)
	}
	return nil, nil
}

// MockCompleter implements ai.Completer and records every request
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, req ai.CompletionRequest) (string, error)
	Requests     []ai.CompletionRequest
}

func (m *MockCompleter) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	m.Requests = append(m.Requests, req)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "mock answer", nil
}

func scored(path, content string, sim float64) models.ScoredRecord {
	return models.ScoredRecord{
		VectorRecord: models.VectorRecord{Content: content, Metadata: models.ChunkMetadata{FilePath: path}},
		Similarity:   sim,
	}
}

func TestService_Answer(t *testing.T) {
	results := []models.ScoredRecord{
		scored("src/a.ts", "const a = 1;", 0.9),
		scored("docs/b.md", "# B", 0.5),
	}
	searcher := &MockSearcher{SearchFunc: func(ctx context.Context, q string, k int, f string) ([]models.ScoredRecord, error) {
		if q != "what is a?" || f != "" {
			t.Errorf("unexpected search %q filter %q", q, f)
		}
		return results, nil
	}}
	completer := &MockCompleter{}
	svc := NewService(searcher, completer, Options{ProjectName: "toppings"})

	var history []models.Message
	for i := 0; i < 10; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		history = append(history, models.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}

	reply, err := svc.Answer(context.Background(), "  what is a?  ", history)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if reply.Text != "mock answer" || len(reply.Sources) != 2 {
		t.Errorf("unexpected reply %+v", reply)
	}
	if searcher.LastTopK != 5 {
		t.Errorf("topK = %d, want default 5", searcher.LastTopK)
	}

	if len(completer.Requests) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(completer.Requests))
	}
	req := completer.Requests[0]
	if req.Temperature != 0.1 || req.MaxTokens != 2000 {
		t.Errorf("temperature %v max tokens %d", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != models.RoleSystem || req.Messages[1].Role != models.RoleUser {
		t.Fatalf("unexpected messages %+v", req.Messages)
	}
	if req.Messages[1].Content != "what is a?" {
		t.Errorf("user message = %q", req.Messages[1].Content)
	}

	system := req.Messages[0].Content
	wantContext := "File: src/a.ts\nconst a = 1;\n\n---\n\nFile: docs/b.md\n# B"
	if !strings.Contains(system, wantContext) {
		t.Errorf("system prompt missing context block:\n%s", system)
	}
	if !strings.Contains(system, "toppings") {
		t.Error("system prompt missing project name")
	}
	// default 3 turns keeps the last 6 messages
	if strings.Contains(system, "turn 3\n") {
		t.Error("history older than 3 turns leaked into the prompt")
	}
	for i := 4; i < 10; i++ {
		if !strings.Contains(system, fmt.Sprintf("turn %d\n", i)) {
			t.Errorf("history turn %d missing", i)
		}
	}
	if !strings.Contains(system, "assistant: turn 9") {
		t.Error("history should be rendered as role: content")
	}
}

func TestService_AnswerErrors(t *testing.T) {
	searchErr := errors.New("index missing")
	completeErr := errors.New("rate limited")

	tests := []struct {
		name      string
		question  string
		searcher  *MockSearcher
		completer *MockCompleter
		want      error
	}{
		{"empty question", "   ", &MockSearcher{}, &MockCompleter{}, ai.ErrEmptyInput},
		{
			"search fails", "q",
			&MockSearcher{SearchFunc: func(ctx context.Context, q string, k int, f string) ([]models.ScoredRecord, error) {
				return nil, searchErr
			}},
			&MockCompleter{}, searchErr,
		},
		{
			"completion fails", "q", &MockSearcher{},
			&MockCompleter{CompleteFunc: func(ctx context.Context, req ai.CompletionRequest) (string, error) {
				return "", completeErr
			}},
			completeErr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.searcher, tt.completer, Options{}).Answer(context.Background(), tt.question, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestService_AnswerWithStub(t *testing.T) {
	svc := NewService(&MockSearcher{}, ai.NewStubClient(0), Options{})
	reply, err := svc.Answer(context.Background(), "where is the router?", nil)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if reply.Text != "stub answer: where is the router?" {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestRecentHistory(t *testing.T) {
	h := []models.Message{{Content: "1"}, {Content: "2"}, {Content: "3"}}
	tests := []struct {
		turns int
		want  int
	}{
		{0, 0},
		{1, 2},
		{2, 3},
		{5, 3},
	}
	for _, tt := range tests {
		got := RecentHistory(h, tt.turns)
		if len(got) != tt.want {
			t.Errorf("RecentHistory(turns=%d) has %d messages, want %d", tt.turns, len(got), tt.want)
		}
		if len(got) > 0 && got[len(got)-1].Content != "3" {
			t.Errorf("RecentHistory should keep the newest message")
		}
	}
}

func TestFormatContext(t *testing.T) {
	if got := FormatContext(nil); got != "" {
		t.Errorf("FormatContext(nil) = %q", got)
	}
	got := FormatContext([]models.ScoredRecord{scored("a.go", "package a", 1)})
	if got != "File: a.go\npackage a" {
		t.Errorf("FormatContext = %q", got)
	}
}

func TestService_Task(t *testing.T) {
	tests := []struct {
		kind      string
		in        TaskInput
		wantTemp  float32
		wantMax   int
		wantParts []string
	}{
		{TaskAnalyze, TaskInput{Code: "x := 1", FilePath: "a.go"}, 0.1, 1500, []string{"File: a.go", "Analysis type: general", "```\nx := 1\n```"}},
		{TaskGenerate, TaskInput{Prompt: "a retry helper", Language: "go", Context: []string{"ctx one", "ctx two"}}, 0.2, 2000, []string{"Write go code", "a retry helper", "Reference context:\nctx one\n\nctx two"}},
		{TaskGenerate, TaskInput{Prompt: "a button"}, 0.2, 2000, []string{"Write typescript code"}},
		{TaskDebug, TaskInput{Code: "panic()", Error: "nil map"}, 0.1, 1500, []string{"Error: nil map"}},
		{TaskDebug, TaskInput{Code: "panic()"}, 0.1, 1500, []string{"Error: general debugging"}},
		{TaskDocs, TaskInput{Code: "func F()", Format: "godoc"}, 0.1, 1500, []string{"Write godoc documentation"}},
		{TaskDocs, TaskInput{Code: "function f()"}, 0.1, 1500, []string{"Write jsdoc documentation"}},
		{TaskTests, TaskInput{Code: "func F()", Format: "go test"}, 0.2, 2000, []string{"Write go test tests"}},
		{TaskTests, TaskInput{Code: "function f()"}, 0.2, 2000, []string{"Write jest tests"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			completer := &MockCompleter{}
			svc := NewService(&MockSearcher{}, completer, Options{})
			out, err := svc.Task(context.Background(), tt.kind, tt.in)
			if err != nil {
				t.Fatalf("Task failed: %v", err)
			}
			if out != "mock answer" {
				t.Errorf("out = %q", out)
			}
			req := completer.Requests[0]
			if req.Temperature != tt.wantTemp || req.MaxTokens != tt.wantMax {
				t.Errorf("temperature %v max tokens %d", req.Temperature, req.MaxTokens)
			}
			if len(req.Messages) != 1 || req.Messages[0].Role != models.RoleUser {
				t.Fatalf("task should send a single user message, got %+v", req.Messages)
			}
			for _, p := range tt.wantParts {
				if !strings.Contains(req.Messages[0].Content, p) {
					t.Errorf("prompt missing %q:\n%s", p, req.Messages[0].Content)
				}
			}
		})
	}
}

func TestService_TaskErrors(t *testing.T) {
	svc := NewService(&MockSearcher{}, &MockCompleter{}, Options{})
	ctx := context.Background()

	if _, err := svc.Task(ctx, "refactor", TaskInput{Code: "x"}); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}
	if _, err := svc.Task(ctx, TaskAnalyze, TaskInput{}); !errors.Is(err, ai.ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput for missing code, got %v", err)
	}
	if _, err := svc.Task(ctx, TaskGenerate, TaskInput{Code: "x"}); !errors.Is(err, ai.ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput for missing prompt, got %v", err)
	}
}

func TestService_AnalyzeFile(t *testing.T) {
	long := strings.Repeat("a", 2000)
	searcher := &MockSearcher{RecordsForPathFunc: func(ctx context.Context, substr string) ([]models.VectorRecord, error) {
		if substr != "server" {
			return nil, nil
		}
		return []models.VectorRecord{
			{Content: long, Metadata: models.ChunkMetadata{FilePath: "src/server.ts"}},
			{Content: "other", Metadata: models.ChunkMetadata{FilePath: "src/server_test.ts"}},
			{Content: long, Metadata: models.ChunkMetadata{FilePath: "src/server.ts"}},
		}, nil
	}}
	completer := &MockCompleter{}
	svc := NewService(searcher, completer, Options{})

	path, out, err := svc.AnalyzeFile(context.Background(), "server")
	if err != nil {
		t.Fatalf("AnalyzeFile failed: %v", err)
	}
	if path != "src/server.ts" || out != "mock answer" {
		t.Errorf("AnalyzeFile = %q, %q", path, out)
	}
	prompt := completer.Requests[0].Messages[0].Content
	if strings.Contains(prompt, "other") {
		t.Error("chunks of other files should not be included")
	}
	want := long + "\n" + strings.Repeat("a", 999) + "\n```"
	if !strings.Contains(prompt, want) {
		t.Error("expected the joined code to be cut at 3000 chars")
	}

	if _, _, err := svc.AnalyzeFile(context.Background(), "missing"); !errors.Is(err, ErrFileNotIndexed) {
		t.Errorf("expected ErrFileNotIndexed, got %v", err)
	}
}

func TestService_AnalyzeFileKeepsRunesWhole(t *testing.T) {
	content := strings.Repeat("a", analyzeFileLimit-1) + "é tail"
	searcher := &MockSearcher{RecordsForPathFunc: func(ctx context.Context, substr string) ([]models.VectorRecord, error) {
		return []models.VectorRecord{{Content: content, Metadata: models.ChunkMetadata{FilePath: "src/i18n.ts"}}}, nil
	}}
	completer := &MockCompleter{}
	svc := NewService(searcher, completer, Options{})

	if _, _, err := svc.AnalyzeFile(context.Background(), "i18n"); err != nil {
		t.Fatalf("AnalyzeFile failed: %v", err)
	}
	prompt := completer.Requests[0].Messages[0].Content
	if !utf8.ValidString(prompt) {
		t.Error("prompt contains a split UTF-8 sequence")
	}
	if !strings.Contains(prompt, strings.Repeat("a", analyzeFileLimit-1)+"\n```") {
		t.Error("expected the code to stop before the multi-byte rune")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s    string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本語", 4, "日"},
		{"日本語", 2, ""},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.s, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.n, got, tt.want)
		}
	}
}
