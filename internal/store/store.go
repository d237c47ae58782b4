package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/seanblong/reporag/pkg/models"
)

var (
	// ErrNotIndexed is returned by Load and LoadMetadata when no index has been written yet.
	ErrNotIndexed = errors.New("store: no index found, run the indexer first")
	// ErrIndexLocked is returned when another indexing run holds the lock.
	ErrIndexLocked = errors.New("store: index is locked by another run")
)

// VectorStore persists the full record set of one index. Save replaces
// everything previously stored; there are no per-record updates.
type VectorStore interface {
	Save(ctx context.Context, records []models.VectorRecord) error
	Load(ctx context.Context) ([]models.VectorRecord, error)
	SaveMetadata(ctx context.Context, summary models.IndexSummary) error
	LoadMetadata(ctx context.Context) (models.IndexSummary, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string
	DataDir  string
	Database string
}

// Open returns the VectorStore for cfg.Backend. The postgres backend is
// migrated before it is returned.
func Open(ctx context.Context, cfg Config) (VectorStore, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(cfg.DataDir), nil
	case BackendBolt:
		return NewBoltStore(cfg.DataDir)
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", cfg.Backend)
	}
}
