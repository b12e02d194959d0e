package retrieval

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a policy document does not exist.
var ErrNotFound = errors.New("policy document not found")

// Document lifecycle states. Chunks of pending documents are invisible to
// search; a document becomes active only after every chunk batch committed.
const (
	StatusPending = "pending"
	StatusActive  = "active"
)

// KnowledgeStore persists policy documents and their embedded chunks and
// answers vector similarity queries over active documents.
//
// Two implementations exist: SQLiteStore (brute-force cosine over float32
// blobs, the default) and PgStore (Postgres with the pgvector extension).
type KnowledgeStore interface {
	// CreateDocument records a new document in the pending state.
	CreateDocument(ctx context.Context, doc Document) error

	// ActivateDocument marks a document active once all its chunks are stored.
	ActivateDocument(ctx context.Context, id string, totalChunks int, sections []string) error

	// DeleteDocument removes a document and all of its chunks.
	// Returns ErrNotFound when no such document exists.
	DeleteDocument(ctx context.Context, id string) error

	// ListDocuments returns documents, newest first. An empty companyID lists all.
	ListDocuments(ctx context.Context, companyID string) ([]Document, error)

	// Insert stores one batch of chunks atomically: either every chunk in the
	// batch is written with its embedding, or none is.
	Insert(ctx context.Context, chunks []PolicyChunk) error

	// Search returns up to opts.TopK chunks of active documents whose cosine
	// similarity to vector is at least opts.MinSimilarity, best first.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error)

	// Sample returns up to limit chunks of active documents in no particular
	// ranking. Used when similarity search is unavailable.
	Sample(ctx context.Context, companyID string, limit int) ([]PolicyChunk, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
}

// Document is an ingested policy file.
type Document struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	Version     int       `json:"version"`
	TotalChunks int       `json:"total_chunks"`
	Sections    []string  `json:"sections"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// PolicyChunk is one embedded piece of a policy document.
type PolicyChunk struct {
	ID           string         `json:"id"`
	DocumentID   string         `json:"document_id"`
	CompanyID    string         `json:"company_id,omitempty"`
	DocumentName string         `json:"document_name"`
	Section      string         `json:"section"`
	Subsection   string         `json:"subsection,omitempty"`
	Content      string         `json:"content"`
	ChunkIndex   int            `json:"chunk_index"`
	Embedding    []float32      `json:"-"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Match is a chunk returned by a policy search. Sentinel matches stand in for
// an empty knowledge base or an empty result and carry no real policy text.
type Match struct {
	PolicyChunk
	Score    float32 `json:"score"`
	Sentinel bool    `json:"sentinel,omitempty"`
}

// SearchOptions scopes a similarity search.
type SearchOptions struct {
	TopK          int
	MinSimilarity float32
	CompanyID     string
}
