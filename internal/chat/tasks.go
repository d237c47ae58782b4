package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/seanblong/reporag/internal/ai"
	"github.com/seanblong/reporag/pkg/models"
)

// Task kinds accepted by Service.Task.
const (
	TaskAnalyze  = "analyze"
	TaskGenerate = "generate"
	TaskDebug    = "debug"
	TaskDocs     = "docs"
	TaskTests    = "tests"
)

// TaskInput carries the fields a task prompt may use. Format is the
// analysis type, doc style or test framework depending on the task.
type TaskInput struct {
	Code     string   `json:"code"`
	FilePath string   `json:"filePath"`
	Language string   `json:"language"`
	Error    string   `json:"error"`
	Prompt   string   `json:"prompt"`
	Context  []string `json:"context"`
	Format   string   `json:"format"`
}

type taskTemplate struct {
	temperature float32
	maxTokens   int
	render      func(in TaskInput) string
}

var tasks = map[string]taskTemplate{
	TaskAnalyze: {0.1, 1500, func(in TaskInput) string {
		return fmt.Sprintf(`Analyze the following code.

File: %s
Analysis type: %s

Code:
%s

Cover:
- Code quality
- Security issues
- Performance
- Best practices
- Suggested improvements`, in.FilePath, orDefault(in.Format, "general"), fence(in.Code))
	}},
	TaskGenerate: {0.2, 2000, func(in TaskInput) string {
		var ctx string
		if len(in.Context) > 0 {
			ctx = "Reference context:\n" + strings.Join(in.Context, "\n\n")
		}
		return fmt.Sprintf(`Write %s code for the following request:

%s

%s

Requirements:
- High quality, readable code
- Useful comments
- Error handling
- Type definitions where the language has them`, orDefault(in.Language, "typescript"), in.Prompt, ctx)
	}},
	TaskDebug: {0.1, 1500, func(in TaskInput) string {
		return fmt.Sprintf(`Help debug the following code.

File: %s
Error: %s

Code:
%s

Provide:
- The root cause
- A suggested fix
- The corrected code
- How to prevent it from happening again`, in.FilePath, orDefault(in.Error, "general debugging"), fence(in.Code))
	}},
	TaskDocs: {0.1, 1500, func(in TaskInput) string {
		return fmt.Sprintf(`Write %s documentation for the following code.

File: %s

Code:
%s

Include:
- What each function or type does
- Parameters
- Return values
- Usage examples
- Caveats`, orDefault(in.Format, "jsdoc"), in.FilePath, fence(in.Code))
	}},
	TaskTests: {0.2, 2000, func(in TaskInput) string {
		return fmt.Sprintf(`Write %s tests for the following code.

File: %s

Code:
%s

Cover:
- Unit tests
- Edge cases
- Error cases
- Mocks where needed
- Meaningful assertions`, orDefault(in.Format, "jest"), in.FilePath, fence(in.Code))
	}},
}

// Task runs one of the prompt-only code tasks. No retrieval is done.
func (s *Service) Task(ctx context.Context, kind string, in TaskInput) (string, error) {
	tmpl, ok := tasks[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, kind)
	}
	if kind == TaskGenerate && strings.TrimSpace(in.Prompt) == "" {
		return "", fmt.Errorf("%s: %w", kind, ai.ErrEmptyInput)
	}
	if kind != TaskGenerate && strings.TrimSpace(in.Code) == "" {
		return "", fmt.Errorf("%s: %w", kind, ai.ErrEmptyInput)
	}

	out, err := s.Completer.Complete(ctx, ai.CompletionRequest{
		Messages:    []models.Message{{Role: models.RoleUser, Content: tmpl.render(in)}},
		Temperature: tmpl.temperature,
		MaxTokens:   tmpl.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", kind, err)
	}
	return out, nil
}

func fence(code string) string {
	return "```\n" + code + "\n```"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
