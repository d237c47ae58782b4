package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/reporag/internal/ai"
	"github.com/seanblong/reporag/internal/store"
	"github.com/seanblong/reporag/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Options controls what gets indexed and how.
type Options struct {
	ChunkSize           int
	ChunkOverlap        int
	BatchSize           int
	SupportedExtensions []string
	ExcludePatterns     []string
	// DataDir holds the index lock and is never indexed itself. Empty
	// disables locking.
	DataDir string
	// Provider is recorded in the index summary.
	Provider string
}

// Result reports what a run indexed.
type Result struct {
	RunID      string
	FileCount  int
	ChunkCount int
}

// Indexer builds the vector store for one repository root.
type Indexer struct {
	Store      store.VectorStore
	Embedder   ai.Embedder
	RepoRoot   string
	Options    Options
	Walker     FileSystemWalker
	FileReader FileReader

	now func() time.Time
}

// New creates a new Indexer instance.
func New(s store.VectorStore, e ai.Embedder, repoRoot string, opts Options) *Indexer {
	return NewWithDependencies(s, e, repoRoot, opts, &DefaultFileSystemWalker{}, &DefaultFileReader{})
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(s store.VectorStore, e ai.Embedder, repoRoot string, opts Options, walker FileSystemWalker, fileReader FileReader) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	return &Indexer{
		Store:      s,
		Embedder:   e,
		RepoRoot:   repoRoot,
		Options:    opts,
		Walker:     walker,
		FileReader: fileReader,
		now:        time.Now,
	}
}

// Run executes collect, process, chunk, embed, persist and summarize in
// that order. Nothing is written unless every embedding batch succeeds.
func (ix *Indexer) Run(ctx context.Context) (Result, error) {
	if ix.Options.DataDir != "" {
		lock, err := store.AcquireIndexLock(ix.Options.DataDir)
		if err != nil {
			return Result{}, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warn().Err(err).Msg("failed to release index lock")
			}
		}()
	}

	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("root", ix.RepoRoot).Logger()
	started := ix.now()

	paths, err := ix.collect(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("collect files: %w", err)
	}
	logger.Info().Int("files", len(paths)).Msg("collected files")

	files := ix.process(ctx, paths)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var chunks []models.Chunk
	for _, f := range files {
		chunks = append(chunks, ChunkFile(f.Content, f.Path, ix.Options.ChunkSize, ix.Options.ChunkOverlap)...)
	}
	logger.Info().Int("chunks", len(chunks)).Msg("chunked files")

	embeddings, err := ix.embed(ctx, chunks)
	if err != nil {
		return Result{}, err
	}

	records := make([]models.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = models.VectorRecord{
			ID:        fmt.Sprintf("chunk_%d", i),
			Embedding: embeddings[i],
			Metadata:  c.Metadata,
			Content:   c.Content,
		}
	}
	if err := ix.Store.Save(ctx, records); err != nil {
		return Result{}, fmt.Errorf("save vectors: %w", err)
	}

	summary := ix.summarize(runID, paths, records)
	if err := ix.Store.SaveMetadata(ctx, summary); err != nil {
		return Result{}, fmt.Errorf("save metadata: %w", err)
	}

	logger.Info().
		Int("files", summary.TotalFiles).
		Int("chunks", summary.TotalChunks).
		Int("dimension", summary.Dimension).
		Dur("took", ix.now().Sub(started)).
		Msg("indexing complete")

	return Result{RunID: runID, FileCount: summary.TotalFiles, ChunkCount: summary.TotalChunks}, nil
}

// collect walks the root and returns the sorted, de-duplicated slash
// separated paths (relative to the root) of every indexable file.
func (ix *Indexer) collect(ctx context.Context) ([]string, error) {
	exts := make(map[string]bool, len(ix.Options.SupportedExtensions))
	for _, e := range ix.Options.SupportedExtensions {
		exts[strings.ToLower(e)] = true
	}
	excluded := make(map[string]bool, len(ix.Options.ExcludePatterns))
	for _, p := range ix.Options.ExcludePatterns {
		excluded[p] = true
	}

	dataDir := ix.dataDirUnderRoot()
	inDataDir := func(relPath string) bool {
		return dataDir != "" && (relPath == dataDir || strings.HasPrefix(relPath, dataDir+"/"))
	}

	seen := make(map[string]bool)
	var out []string

	err := ix.Walker.Walk(ix.RepoRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			relPath := rel(ix.RepoRoot, path)
			if relPath == "." {
				return nil
			}
			// Handle test case where de might be nil (for MockFileSystemWalker)
			if de != nil && de.IsDir() {
				if excluded[filepath.Base(path)] || inDataDir(relPath) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if shouldSkip(relPath, excluded) || inDataDir(relPath) {
				return nil
			}
			if !exts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			if !seen[relPath] {
				seen[relPath] = true
				out = append(out, relPath)
			}
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			log.Warn().Err(err).Str("path", path).Msg("failed to walk path")
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(out)
	return out, nil
}

// dataDirUnderRoot returns the data directory relative to the root in
// slash form, or "" when it lies outside the root.
func (ix *Indexer) dataDirUnderRoot() string {
	if ix.Options.DataDir == "" {
		return ""
	}
	root, err := filepath.Abs(ix.RepoRoot)
	if err != nil {
		return ""
	}
	dir, err := filepath.Abs(ix.Options.DataDir)
	if err != nil {
		return ""
	}
	r, err := filepath.Rel(root, dir)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(r)
}

// process reads files concurrently; the result keeps the input order and
// leaves out files that could not be read.
func (ix *Indexer) process(ctx context.Context, paths []string) []models.SourceFile {
	numWorkers := runtime.NumCPU()
	if numWorkers > 8 {
		numWorkers = 8
	}

	slots := make([]*models.SourceFile, len(paths))
	work := make(chan int, numWorkers*2)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				p := paths[i]
				b, err := ix.FileReader.ReadFile(filepath.Join(ix.RepoRoot, filepath.FromSlash(p)))
				if err != nil {
					log.Warn().Err(err).Str("path", p).Msg("failed to read file, skipping")
					continue
				}
				slots[i] = &models.SourceFile{Path: p, Content: string(b), Type: DetectType(p)}
			}
		}()
	}

feed:
	for i := range paths {
		select {
		case work <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	files := make([]models.SourceFile, 0, len(paths))
	for _, f := range slots {
		if f != nil {
			files = append(files, *f)
		}
	}
	return files
}

// embed requests embeddings in batches of Options.BatchSize and
// concatenates them in chunk order.
func (ix *Indexer) embed(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	out := make([][]float32, 0, len(chunks))
	size := ix.Options.BatchSize

	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		vecs, err := ix.Embedder.Embed(ctx, texts)
		if err == nil && len(vecs) != len(texts) {
			err = fmt.Errorf("%w: got %d for %d inputs", ai.ErrBatchSize, len(vecs), len(texts))
		}
		if err != nil {
			log.Error().Err(err).Int("batch_start", start).Int("batch_end", end).Msg("embedding batch failed")
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}

		for _, v := range vecs {
			if len(out) > 0 && len(v) != len(out[0]) {
				return nil, fmt.Errorf("embed batch %d-%d: embedding dimension changed from %d to %d", start, end, len(out[0]), len(v))
			}
			out = append(out, v)
		}
		log.Info().Int("done", end).Int("total", len(chunks)).Msg("embedded batch")
	}
	return out, nil
}

func (ix *Indexer) summarize(runID string, paths []string, records []models.VectorRecord) models.IndexSummary {
	fileTypes := make(map[string]int)
	for _, p := range paths {
		fileTypes[DetectType(p)]++
	}

	dim := ix.Embedder.Dim()
	if len(records) > 0 {
		dim = len(records[0].Embedding)
	}

	return models.IndexSummary{
		RunID:       runID,
		IndexedAt:   ix.now().UTC(),
		TotalFiles:  len(paths),
		TotalChunks: len(records),
		Dimension:   dim,
		FileTypes:   fileTypes,
		Config: models.IndexConfig{
			Provider:            ix.Options.Provider,
			EmbedModel:          ix.Embedder.Model(),
			Dimension:           dim,
			ChunkSize:           ix.Options.ChunkSize,
			ChunkOverlap:        ix.Options.ChunkOverlap,
			BatchSize:           ix.Options.BatchSize,
			SupportedExtensions: ix.Options.SupportedExtensions,
			ExcludePatterns:     ix.Options.ExcludePatterns,
		},
	}
}

// shouldSkip returns true if any directory segment of relPath is excluded.
func shouldSkip(relPath string, excluded map[string]bool) bool {
	segs := strings.Split(relPath, "/")
	for _, s := range segs[:len(segs)-1] {
		if excluded[s] {
			return true
		}
	}
	return false
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}
