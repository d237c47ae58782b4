package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/seanblong/reporag/internal/chat"
	"github.com/seanblong/reporag/pkg/models"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type infoResponse struct {
	Metadata    *models.IndexSummary `json:"metadata"`
	VectorCount int                  `json:"vectorCount"`
	Status      string               `json:"status"`
}

type chatRequest struct {
	Message string           `json:"message" validate:"required"`
	Context []models.Message `json:"context" validate:"omitempty,max=100,dive"`
}

type chatResponse struct {
	Response  string                `json:"response"`
	Sources   []models.ScoredRecord `json:"sources"`
	Timestamp time.Time             `json:"timestamp"`
}

type reloadResponse struct {
	VectorCount int `json:"vectorCount"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Backend != nil {
		if err := s.Backend.Ping(r.Context()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("backend ping failed")
			writeJSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Timestamp: time.Now().UTC()})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.SearchTimeout)
	defer cancel()

	records, err := s.Retriever.Records(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := infoResponse{VectorCount: len(records), Status: "ready"}
	summary, ok, err := s.Retriever.Summary(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ok {
		resp.Metadata = &summary
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.SearchTimeout)
	defer cancel()

	topK := req.TopK
	if topK == 0 {
		topK = s.DefaultTopK
	}

	start := time.Now()
	results, err := s.Retriever.Search(ctx, req.Query, topK, req.FileType)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, models.SearchResponse{Results: sanitize(results), Query: req.Query, TopK: topK})
	hlog.FromRequest(r).Info().Str("q", req.Query).Int("k", topK).Str("file_type", req.FileType).
		Int("results", len(results)).Dur("dur", time.Since(start)).Msg("served search")
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.CompletionTimeout)
	defer cancel()

	reply, err := s.Assistant.Answer(ctx, req.Message, req.Context)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, chatResponse{
		Response:  reply.Text,
		Sources:   sanitize(reply.Sources),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.SearchTimeout)
	defer cancel()

	if err := s.Retriever.Reload(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	records, err := s.Retriever.Records(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, reloadResponse{VectorCount: len(records)})
}

type analyzeRequest struct {
	Code         string `json:"code" validate:"required"`
	FilePath     string `json:"filePath"`
	AnalysisType string `json:"analysisType"`
}

type generateRequest struct {
	Prompt   string   `json:"prompt" validate:"required"`
	Language string   `json:"language"`
	Context  []string `json:"context"`
}

type debugRequest struct {
	Code     string `json:"code" validate:"required"`
	Error    string `json:"error"`
	FilePath string `json:"filePath"`
}

type docsRequest struct {
	Code     string `json:"code" validate:"required"`
	FilePath string `json:"filePath"`
	DocType  string `json:"docType"`
}

type testsRequest struct {
	Code          string `json:"code" validate:"required"`
	FilePath      string `json:"filePath"`
	TestFramework string `json:"testFramework"`
}

// runTask decodes req, runs the task built from it and writes the output
// under key together with the echoed fields.
func runTask[T any](s *Server, w http.ResponseWriter, r *http.Request, kind, key string, input func(T) chat.TaskInput, echo func(T) map[string]any) {
	var req T
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.CompletionTimeout)
	defer cancel()

	out, err := s.Assistant.Task(ctx, kind, input(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := echo(req)
	resp[key] = out
	writeJSON(w, r, http.StatusOK, resp)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	runTask(s, w, r, chat.TaskAnalyze, "analysis",
		func(req analyzeRequest) chat.TaskInput {
			return chat.TaskInput{Code: req.Code, FilePath: req.FilePath, Format: req.AnalysisType}
		},
		func(req analyzeRequest) map[string]any {
			return map[string]any{"filePath": req.FilePath, "analysisType": orDefault(req.AnalysisType, "general")}
		})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	runTask(s, w, r, chat.TaskGenerate, "code",
		func(req generateRequest) chat.TaskInput {
			return chat.TaskInput{Prompt: req.Prompt, Language: req.Language, Context: req.Context}
		},
		func(req generateRequest) map[string]any {
			return map[string]any{"prompt": req.Prompt, "language": orDefault(req.Language, "typescript")}
		})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	runTask(s, w, r, chat.TaskDebug, "suggestions",
		func(req debugRequest) chat.TaskInput {
			return chat.TaskInput{Code: req.Code, FilePath: req.FilePath, Error: req.Error}
		},
		func(req debugRequest) map[string]any {
			return map[string]any{"code": req.Code, "error": req.Error}
		})
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	runTask(s, w, r, chat.TaskDocs, "documentation",
		func(req docsRequest) chat.TaskInput {
			return chat.TaskInput{Code: req.Code, FilePath: req.FilePath, Format: req.DocType}
		},
		func(req docsRequest) map[string]any {
			return map[string]any{"filePath": req.FilePath, "docType": orDefault(req.DocType, "jsdoc")}
		})
}

func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	runTask(s, w, r, chat.TaskTests, "tests",
		func(req testsRequest) chat.TaskInput {
			return chat.TaskInput{Code: req.Code, FilePath: req.FilePath, Format: req.TestFramework}
		},
		func(req testsRequest) map[string]any {
			return map[string]any{"filePath": req.FilePath, "testFramework": orDefault(req.TestFramework, "jest")}
		})
}
