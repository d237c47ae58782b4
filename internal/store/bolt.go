package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/seanblong/reporag/pkg/models"
)

const boltFileName = "index.db"

var (
	vectorsBucket  = []byte("vectors")
	metadataBucket = []byte("metadata")
	recordsKey     = []byte("records")
	summaryKey     = []byte("summary")
)

// BoltStore keeps the index in a single bbolt file. Each document is one
// JSON value, replaced inside one write transaction. The file is opened per
// operation so an indexer and a server process can share it.
type BoltStore struct {
	path    string
	timeout time.Duration
}

func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dataDir, err)
	}
	return &BoltStore{path: filepath.Join(dataDir, boltFileName), timeout: 5 * time.Second}, nil
}

func (s *BoltStore) Save(ctx context.Context, records []models.VectorRecord) error {
	if records == nil {
		records = []models.VectorRecord{}
	}
	return s.put(ctx, vectorsBucket, recordsKey, records)
}

func (s *BoltStore) Load(ctx context.Context) ([]models.VectorRecord, error) {
	var records []models.VectorRecord
	if err := s.get(ctx, vectorsBucket, recordsKey, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BoltStore) SaveMetadata(ctx context.Context, summary models.IndexSummary) error {
	return s.put(ctx, metadataBucket, summaryKey, summary)
}

func (s *BoltStore) LoadMetadata(ctx context.Context) (models.IndexSummary, error) {
	var summary models.IndexSummary
	if err := s.get(ctx, metadataBucket, summaryKey, &summary); err != nil {
		return models.IndexSummary{}, err
	}
	return summary, nil
}

func (s *BoltStore) Close() error { return nil }

func (s *BoltStore) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: s.timeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", s.path, err)
	}
	return db, nil
}

func (s *BoltStore) put(ctx context.Context, bucket, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", bucket, err)
	}

	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) get(ctx context.Context, bucket, key []byte, into any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotIndexed, s.path)
	}

	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%w: bucket %s", ErrNotIndexed, bucket)
		}
		data := b.Get(key)
		if data == nil {
			return fmt.Errorf("%w: key %s", ErrNotIndexed, key)
		}
		// data is only valid inside the transaction; Unmarshal copies it.
		if err := json.Unmarshal(data, into); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		return nil
	})
}
