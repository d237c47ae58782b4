package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/reporag/internal/ai"
	"github.com/seanblong/reporag/internal/store"
	"github.com/seanblong/reporag/pkg/models"
)

// DefaultTopK is used when neither the caller nor the Retriever set one.
const DefaultTopK = 5

// snapshot is an immutable view of one index. Readers never modify it.
type snapshot struct {
	records []models.VectorRecord
	summary *models.IndexSummary
}

// Retriever ranks stored chunks against a query. It is safe for
// concurrent use; Reload swaps the snapshot without blocking readers.
type Retriever struct {
	Embedder ai.Embedder
	Store    store.VectorStore
	TopK     int

	snap   atomic.Pointer[snapshot]
	loadMu sync.Mutex
}

// NewRetriever creates a new Retriever with the provided embedder and store
func NewRetriever(embedder ai.Embedder, s store.VectorStore, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{
		Embedder: embedder,
		Store:    s,
		TopK:     topK,
	}
}

// Reload reads the store and replaces the current snapshot. On error the
// previous snapshot stays in place.
func (r *Retriever) Reload(ctx context.Context) error {
	records, err := r.Store.Load(ctx)
	if err != nil {
		return err
	}

	s := &snapshot{records: records}
	summary, err := r.Store.LoadMetadata(ctx)
	switch {
	case err == nil:
		s.summary = &summary
	case errors.Is(err, store.ErrNotIndexed):
		log.Warn().Msg("index metadata missing, serving vectors without a summary")
	default:
		return fmt.Errorf("load metadata: %w", err)
	}

	r.snap.Store(s)
	log.Info().Int("records", len(records)).Msg("loaded vector snapshot")
	return nil
}

// current returns the snapshot, loading it on first use.
func (r *Retriever) current(ctx context.Context) (*snapshot, error) {
	if s := r.snap.Load(); s != nil {
		return s, nil
	}
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if s := r.snap.Load(); s != nil {
		return s, nil
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r.snap.Load(), nil
}

// Search embeds query and returns the topK records most similar to it.
// A non-empty typeFilter keeps only records whose metadata type matches.
// Ties keep store order.
func (r *Retriever) Search(ctx context.Context, query string, topK int, typeFilter string) ([]models.ScoredRecord, error) {
	s, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = r.TopK
	}

	q, err := r.Embedder.EmbedQuery(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results := make([]models.ScoredRecord, 0, len(s.records))
	for _, rec := range s.records {
		if typeFilter != "" && rec.Metadata.Type != typeFilter {
			continue
		}
		results = append(results, models.ScoredRecord{
			VectorRecord: rec,
			Similarity:   CosineSimilarity(q, rec.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > topK {
		results = results[:topK]
	}
	log.Debug().Str("query", query).Int("top_k", topK).Str("type", typeFilter).Int("results", len(results)).Msg("search")
	return results, nil
}

// Records returns every record of the current snapshot. The slice is
// shared and must not be modified.
func (r *Retriever) Records(ctx context.Context) ([]models.VectorRecord, error) {
	s, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.records, nil
}

// RecordsForPath returns the records whose file path contains substr, in
// store order.
func (r *Retriever) RecordsForPath(ctx context.Context, substr string) ([]models.VectorRecord, error) {
	s, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.VectorRecord
	for _, rec := range s.records {
		if strings.Contains(rec.Metadata.FilePath, substr) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Summary returns the index metadata. ok is false when the index was
// written without one.
func (r *Retriever) Summary(ctx context.Context) (summary models.IndexSummary, ok bool, err error) {
	s, err := r.current(ctx)
	if err != nil {
		return models.IndexSummary{}, false, err
	}
	if s.summary == nil {
		return models.IndexSummary{}, false, nil
	}
	return *s.summary, true, nil
}

// CosineSimilarity returns dot(a,b)/(|a||b|). A zero-norm vector or a
// dimension mismatch yields NaN.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.NaN()
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
