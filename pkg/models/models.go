package models

import "time"

// ChunkMetadata describes where a chunk came from.
type ChunkMetadata struct {
	FilePath   string `json:"filePath"`
	Type       string `json:"type"`
	ChunkIndex int    `json:"chunkIndex"`
	Lines      int    `json:"lines"`
}

// Chunk is a contiguous slice of a source file, the unit of embedding.
type Chunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

type SourceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// VectorRecord is the persisted unit of the vector store.
type VectorRecord struct {
	ID        string        `json:"id"`
	Embedding []float32     `json:"embedding"`
	Metadata  ChunkMetadata `json:"metadata"`
	Content   string        `json:"content"`
}

type ScoredRecord struct {
	VectorRecord
	Similarity float64 `json:"similarity"`
}

// IndexConfig is the configuration snapshot recorded with every index run.
type IndexConfig struct {
	Provider            string   `json:"provider"`
	EmbedModel          string   `json:"embedModel"`
	Dimension           int      `json:"dimension"`
	ChunkSize           int      `json:"chunkSize"`
	ChunkOverlap        int      `json:"chunkOverlap"`
	BatchSize           int      `json:"batchSize"`
	SupportedExtensions []string `json:"supportedExtensions"`
	ExcludePatterns     []string `json:"excludePatterns"`
}

// IndexSummary is the metadata written next to the vector store.
type IndexSummary struct {
	RunID       string         `json:"runId"`
	IndexedAt   time.Time      `json:"indexedAt"`
	TotalFiles  int            `json:"totalFiles"`
	TotalChunks int            `json:"totalChunks"`
	Dimension   int            `json:"dimension"`
	FileTypes   map[string]int `json:"fileTypes"`
	Config      IndexConfig    `json:"config"`
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type SearchRequest struct {
	Query    string `json:"query" validate:"required"`
	TopK     int    `json:"topK,omitempty" validate:"omitempty,min=1,max=100"`
	FileType string `json:"fileType,omitempty"`
}

type SearchResponse struct {
	Results []ScoredRecord `json:"results"`
	Query   string         `json:"query"`
	TopK    int            `json:"topK"`
}
