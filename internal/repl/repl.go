// Package repl implements the interactive chat loop over an index.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/reporag/internal/chat"
	"github.com/seanblong/reporag/internal/indexer"
	"github.com/seanblong/reporag/internal/store"
	"github.com/seanblong/reporag/pkg/models"
)

// Retriever is the read side of the index the session uses.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, typeFilter string) ([]models.ScoredRecord, error)
	Records(ctx context.Context) ([]models.VectorRecord, error)
	Summary(ctx context.Context) (models.IndexSummary, bool, error)
	Reload(ctx context.Context) error
}

// Assistant answers questions and analyzes stored files.
type Assistant interface {
	Answer(ctx context.Context, question string, history []models.Message) (chat.Reply, error)
	AnalyzeFile(ctx context.Context, pathSubstr string) (string, string, error)
}

// IndexFunc rebuilds the index.
type IndexFunc func(ctx context.Context) (indexer.Result, error)

const (
	searchResults = 5
	previewLength = 200
	defaultPrompt = "reporag> "
	helpText      = `Commands:
  :help             show this help
  :quit, :exit      leave the chat
  :clear            forget the conversation history
  :stats            show index statistics
  :search <query>   run a semantic search
  :analyze <file>   analyze a file from the index
  :reindex          rebuild the index

Anything else is sent as a question about the codebase.
`
)

// Session is one interactive conversation.
type Session struct {
	Retriever Retriever
	Assistant Assistant
	Index     IndexFunc
	Prompt    string

	in      *bufio.Scanner
	out     io.Writer
	history []models.Message
}

// New creates a new Session reading commands from in and writing to out.
func New(r Retriever, a Assistant, index IndexFunc, in io.Reader, out io.Writer) *Session {
	return &Session{
		Retriever: r,
		Assistant: a,
		Index:     index,
		Prompt:    defaultPrompt,
		in:        bufio.NewScanner(in),
		out:       out,
	}
}

// Init loads the index, building it first when none exists yet.
func (s *Session) Init(ctx context.Context) error {
	records, err := s.Retriever.Records(ctx)
	if errors.Is(err, store.ErrNotIndexed) {
		s.printf("No index found, indexing the codebase...\n")
		if err := s.reindex(ctx); err != nil {
			return err
		}
		records, err = s.Retriever.Records(ctx)
	}
	if err != nil {
		return err
	}
	s.printf("%d code chunks available. Type a question, :help for commands, :quit to leave.\n\n", len(records))
	return nil
}

// Run reads lines until :quit, end of input or ctx is cancelled. A
// cancelled ctx ends the session even while waiting for input.
func (s *Session) Run(ctx context.Context) error {
	lines := make(chan string)
	done := make(chan error, 1)
	go func() {
		defer close(lines)
		for s.in.Scan() {
			select {
			case lines <- s.in.Text():
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
		}
		done <- s.in.Err()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.printf("%s", s.Prompt)
		select {
		case <-ctx.Done():
			s.printf("\n")
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				s.printf("\n")
				return <-done
			}
			if quit := s.Handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// Handle executes one input line and reports whether the session should end.
func (s *Session) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		if line != "" {
			s.ask(ctx, line)
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case ":quit", ":exit":
		s.printf("Bye!\n")
		return true
	case ":help":
		s.printf("%s", helpText)
	case ":clear":
		s.history = nil
		s.printf("Conversation history cleared.\n")
	case ":stats":
		s.stats(ctx)
	case ":search":
		s.search(ctx, arg)
	case ":analyze":
		s.analyze(ctx, arg)
	case ":reindex":
		s.printf("Re-indexing the codebase...\n")
		if err := s.reindex(ctx); err != nil {
			s.printf("Re-index failed: %v\n", err)
		} else {
			s.printf("Re-index complete.\n")
		}
	default:
		s.printf("Unknown command %q, try :help\n", cmd)
	}
	return false
}

// History returns the conversation so far.
func (s *Session) History() []models.Message {
	return s.history
}

func (s *Session) reindex(ctx context.Context) error {
	if s.Index == nil {
		return errors.New("indexing is not available")
	}
	res, err := s.Index(ctx)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	log.Info().Int("files", res.FileCount).Int("chunks", res.ChunkCount).Msg("indexed codebase")
	return s.Retriever.Reload(ctx)
}

func (s *Session) ask(ctx context.Context, question string) {
	reply, err := s.Assistant.Answer(ctx, question, s.history)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	s.history = append(s.history,
		models.Message{Role: models.RoleUser, Content: question},
		models.Message{Role: models.RoleAssistant, Content: reply.Text},
	)

	s.printf("\n%s\n\n", reply.Text)
	if len(reply.Sources) > 0 {
		s.printf("Sources:\n")
		for i, r := range reply.Sources {
			s.printf("  %d. %s (%.1f%%)\n", i+1, r.Metadata.FilePath, r.Similarity*100)
		}
		s.printf("\n")
	}
}

func (s *Session) search(ctx context.Context, query string) {
	if query == "" {
		s.printf("Usage: :search <query>\n")
		return
	}
	results, err := s.Retriever.Search(ctx, query, searchResults, "")
	if err != nil {
		s.printf("Search failed: %v\n", err)
		return
	}
	s.printf("%d results for %q:\n", len(results), query)
	for i, r := range results {
		preview := r.Content
		if len(preview) > previewLength {
			preview = chat.Truncate(preview, previewLength) + "..."
		}
		s.printf("\n%d. %s (similarity %.1f%%)\n   type: %s\n   %s\n", i+1, r.Metadata.FilePath, r.Similarity*100, r.Metadata.Type, preview)
	}
	s.printf("\n")
}

func (s *Session) analyze(ctx context.Context, path string) {
	if path == "" {
		s.printf("Usage: :analyze <file>\n")
		return
	}
	file, analysis, err := s.Assistant.AnalyzeFile(ctx, path)
	if err != nil {
		s.printf("Analysis failed: %v\n", err)
		return
	}
	s.printf("\nAnalysis of %s:\n%s\n\n", file, analysis)
}

func (s *Session) stats(ctx context.Context) {
	summary, ok, err := s.Retriever.Summary(ctx)
	if err != nil || !ok {
		s.printf("No statistics available.\n")
		return
	}
	s.printf("Last indexed: %s\nFiles: %d\nChunks: %d\nDimension: %d\nHistory messages: %d\n",
		summary.IndexedAt.Local().Format("2006-01-02 15:04:05"), summary.TotalFiles, summary.TotalChunks, summary.Dimension, len(s.history))

	types := make([]string, 0, len(summary.FileTypes))
	for t := range summary.FileTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	s.printf("File types:\n")
	for _, t := range types {
		s.printf("  %s: %d\n", t, summary.FileTypes[t])
	}
}

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
