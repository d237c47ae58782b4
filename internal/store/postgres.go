package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/seanblong/reporag/pkg/models"
)

// PostgresStore keeps the index in Postgres with the pgvector extension.
// Vectors are stored for persistence only; ranking still happens in the
// retriever by linear scan.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new store connected to the given database URL.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: p}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies necessary database migrations and schema setup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const q = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vector_records (
  seq          INT PRIMARY KEY,
  id           TEXT NOT NULL UNIQUE,
  embedding    vector NOT NULL,
  file_path    TEXT NOT NULL,
  type         TEXT NOT NULL,
  chunk_index  INT NOT NULL,
  lines        INT NOT NULL,
  content      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS vector_records_type_idx
  ON vector_records (type);

CREATE TABLE IF NOT EXISTS index_metadata (
  id          INT PRIMARY KEY CHECK (id = 1),
  summary     JSONB NOT NULL,
  indexed_at  TIMESTAMP WITH TIME ZONE NOT NULL
);
`
	_, err := s.pool.Exec(ctx, q)
	return err
}

// Save replaces all records inside one transaction.
func (s *PostgresStore) Save(ctx context.Context, records []models.VectorRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE vector_records`); err != nil {
		return fmt.Errorf("truncate vector_records: %w", err)
	}

	const q = `
		INSERT INTO vector_records (seq, id, embedding, file_path, type, chunk_index, lines, content)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	batch := &pgx.Batch{}
	for i, r := range records {
		batch.Queue(q,
			i, r.ID, pgvector.NewVector(r.Embedding),
			r.Metadata.FilePath, r.Metadata.Type, r.Metadata.ChunkIndex, r.Metadata.Lines,
			r.Content,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert vector_records: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Load(ctx context.Context) ([]models.VectorRecord, error) {
	var present bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM index_metadata WHERE id = 1)`).Scan(&present); err != nil {
		return nil, err
	}
	if !present {
		return nil, fmt.Errorf("%w: index_metadata is empty", ErrNotIndexed)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, embedding::text, file_path, type, chunk_index, lines, content
		FROM vector_records
		ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VectorRecord
	for rows.Next() {
		var (
			r   models.VectorRecord
			raw string
		)
		if err := rows.Scan(&r.ID, &raw, &r.Metadata.FilePath, &r.Metadata.Type,
			&r.Metadata.ChunkIndex, &r.Metadata.Lines, &r.Content); err != nil {
			return nil, err
		}
		var v pgvector.Vector
		if err := v.Scan(raw); err != nil {
			return nil, fmt.Errorf("parse embedding of %s: %w", r.ID, err)
		}
		r.Embedding = v.Slice()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveMetadata(ctx context.Context, summary models.IndexSummary) error {
	b, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO index_metadata (id, summary, indexed_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET summary = EXCLUDED.summary, indexed_at = EXCLUDED.indexed_at`,
		b, summary.IndexedAt)
	return err
}

func (s *PostgresStore) LoadMetadata(ctx context.Context) (models.IndexSummary, error) {
	var (
		b       []byte
		summary models.IndexSummary
	)
	err := s.pool.QueryRow(ctx, `SELECT summary FROM index_metadata WHERE id = 1`).Scan(&b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.IndexSummary{}, fmt.Errorf("%w: index_metadata is empty", ErrNotIndexed)
		}
		return models.IndexSummary{}, err
	}
	if err := json.Unmarshal(b, &summary); err != nil {
		return models.IndexSummary{}, fmt.Errorf("decode index metadata: %w", err)
	}
	return summary, nil
}

// Ping checks the database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
