package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/seanblong/reporag/pkg/models"
)

// FileStore keeps the index as two JSON documents under dataDir:
// vectors/embeddings.json and metadata.json.
type FileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dataDir: dataDir}
}

func (s *FileStore) vectorsPath() string {
	return filepath.Join(s.dataDir, "vectors", "embeddings.json")
}

func (s *FileStore) metadataPath() string {
	return filepath.Join(s.dataDir, "metadata.json")
}

func (s *FileStore) Save(ctx context.Context, records []models.VectorRecord) error {
	if records == nil {
		records = []models.VectorRecord{}
	}
	return writeJSONAtomic(ctx, s.vectorsPath(), records)
}

func (s *FileStore) Load(ctx context.Context) ([]models.VectorRecord, error) {
	var records []models.VectorRecord
	if err := readJSON(s.vectorsPath(), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *FileStore) SaveMetadata(ctx context.Context, summary models.IndexSummary) error {
	return writeJSONAtomic(ctx, s.metadataPath(), summary)
}

func (s *FileStore) LoadMetadata(ctx context.Context) (models.IndexSummary, error) {
	var summary models.IndexSummary
	if err := readJSON(s.metadataPath(), &summary); err != nil {
		return models.IndexSummary{}, err
	}
	return summary, nil
}

func (s *FileStore) Close() error { return nil }

// writeJSONAtomic writes v to a temp file next to path and renames it into
// place, so readers see either the old or the new document.
func writeJSONAtomic(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotIndexed, path)
		}
		return err
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
