package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/reporag/internal/ai"
	"github.com/seanblong/reporag/pkg/models"
)

// ErrUnknownTask is returned by Task for a kind it has no prompt for.
var ErrUnknownTask = errors.New("chat: unknown task")

// ErrFileNotIndexed is returned by AnalyzeFile when no stored chunk matches the path.
var ErrFileNotIndexed = errors.New("chat: file not found in index")

const (
	defaultTopK         = 5
	defaultHistoryTurns = 3
	defaultTemperature  = 0.1
	defaultMaxTokens    = 2000

	// analyzeFileLimit caps how much of a stored file is sent for analysis.
	analyzeFileLimit = 3000

	contextSeparator = "\n\n---\n\n"
)

// Searcher is the part of the retriever the chat layer needs.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, typeFilter string) ([]models.ScoredRecord, error)
	RecordsForPath(ctx context.Context, substr string) ([]models.VectorRecord, error)
}

// Options tune answer generation. Zero values fall back to defaults.
type Options struct {
	ProjectName  string
	TopK         int
	HistoryTurns int
	Temperature  float32
	MaxTokens    int
}

// Reply is an answer together with the chunks it was grounded on.
type Reply struct {
	Text    string                `json:"response"`
	Sources []models.ScoredRecord `json:"sources"`
}

// Service answers questions about the indexed repository.
type Service struct {
	Searcher  Searcher
	Completer ai.Completer
	Options   Options
}

// NewService creates a new chat service with the provided searcher and completer
func NewService(s Searcher, c ai.Completer, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = defaultHistoryTurns
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.ProjectName == "" {
		opts.ProjectName = "this project"
	}
	return &Service{Searcher: s, Completer: c, Options: opts}
}

// Answer retrieves the chunks most relevant to question and asks the
// completer to answer from them. Only the last HistoryTurns exchanges of
// history are forwarded.
func (s *Service) Answer(ctx context.Context, question string, history []models.Message) (Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Reply{}, ai.ErrEmptyInput
	}

	results, err := s.Searcher.Search(ctx, question, s.Options.TopK, "")
	if err != nil {
		return Reply{}, fmt.Errorf("retrieve context: %w", err)
	}

	system := s.systemPrompt(FormatContext(results), RecentHistory(history, s.Options.HistoryTurns))
	text, err := s.Completer.Complete(ctx, ai.CompletionRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUser, Content: question},
		},
		Temperature: s.Options.Temperature,
		MaxTokens:   s.Options.MaxTokens,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("completion: %w", err)
	}

	log.Debug().Int("sources", len(results)).Int("history", len(history)).Msg("answered question")
	return Reply{Text: text, Sources: results}, nil
}

func (s *Service) systemPrompt(codeContext string, history []models.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert assistant for %s.\n", s.Options.ProjectName)
	b.WriteString("Use the codebase context below to give accurate, useful answers.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(codeContext)
	b.WriteString("\n\nPrevious conversation:\n")
	for _, m := range history {
		b.WriteString(m.Role + ": " + m.Content + "\n")
	}
	b.WriteString("\nGuidelines:\n")
	b.WriteString("- Be specific and practical\n")
	b.WriteString("- Format code examples as fenced code blocks\n")
	fmt.Fprintf(&b, "- Follow the structure and conventions of %s\n", s.Options.ProjectName)
	return b.String()
}

// FormatContext renders search results as "File: <path>\n<content>"
// blocks separated by a horizontal rule.
func FormatContext(results []models.ScoredRecord) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = "File: " + r.Metadata.FilePath + "\n" + r.Content
	}
	return strings.Join(parts, contextSeparator)
}

// RecentHistory returns the last turns*2 messages of history.
func RecentHistory(history []models.Message, turns int) []models.Message {
	n := turns * 2
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

// Truncate returns the longest prefix of s that is at most n bytes and does
// not split a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// AnalyzeFile joins the stored chunks of the first file whose path
// contains pathSubstr and runs the analyze task on it.
func (s *Service) AnalyzeFile(ctx context.Context, pathSubstr string) (string, string, error) {
	records, err := s.Searcher.RecordsForPath(ctx, pathSubstr)
	if err != nil {
		return "", "", err
	}
	if len(records) == 0 {
		return "", "", fmt.Errorf("%w: %s", ErrFileNotIndexed, pathSubstr)
	}

	path := records[0].Metadata.FilePath
	var parts []string
	for _, r := range records {
		if r.Metadata.FilePath == path {
			parts = append(parts, r.Content)
		}
	}
	code := Truncate(strings.Join(parts, "\n"), analyzeFileLimit)

	out, err := s.Task(ctx, TaskAnalyze, TaskInput{Code: code, FilePath: path, Format: "file"})
	if err != nil {
		return "", "", err
	}
	return path, out, nil
}
