package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
)

// Compile-time check that PgStore implements KnowledgeStore.
var _ KnowledgeStore = (*PgStore)(nil)

// PgStore keeps the knowledge base in Postgres and ranks chunks with the
// pgvector cosine distance operator.
type PgStore struct {
	db         *sql.DB
	dimensions int
}

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS policy_documents (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL DEFAULT '',
    file_name TEXT NOT NULL,
    file_size BIGINT NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,
    total_chunks INTEGER NOT NULL DEFAULT 0,
    sections JSONB NOT NULL DEFAULT '[]',
    uploaded_by TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policy_chunks (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES policy_documents(id) ON DELETE CASCADE,
    company_id TEXT NOT NULL DEFAULT '',
    document_name TEXT NOT NULL,
    section TEXT NOT NULL,
    subsection TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    embedding vector(%d) NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_policy_chunks_company ON policy_chunks(company_id);
`

// OpenPgStore connects to Postgres through the pgx driver and creates the
// schema when missing. dimensions fixes the vector column width.
func OpenPgStore(ctx context.Context, dsn string, dimensions int) (*PgStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", dimensions)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(pgSchema, dimensions)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating policy schema: %w", err)
	}
	return &PgStore{db: db, dimensions: dimensions}, nil
}

// Close closes the connection pool.
func (s *PgStore) Close() error {
	return s.db.Close()
}

func (s *PgStore) CreateDocument(ctx context.Context, doc Document) error {
	sections, err := json.Marshal(nonNil(doc.Sections))
	if err != nil {
		return fmt.Errorf("encoding sections: %w", err)
	}
	status := doc.Status
	if status == "" {
		status = StatusPending
	}
	version := doc.Version
	if version == 0 {
		version = 1
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy_documents (id, company_id, file_name, file_size, version, total_chunks, sections, uploaded_by, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		doc.ID, doc.CompanyID, doc.FileName, doc.FileSize, version, doc.TotalChunks,
		string(sections), doc.UploadedBy, status, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *PgStore) ActivateDocument(ctx context.Context, id string, totalChunks int, sections []string) error {
	enc, err := json.Marshal(nonNil(sections))
	if err != nil {
		return fmt.Errorf("encoding sections: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE policy_documents SET status = $1, total_chunks = $2, sections = $3 WHERE id = $4`,
		StatusActive, totalChunks, string(enc), id)
	if err != nil {
		return fmt.Errorf("activating document %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PgStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policy_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PgStore) ListDocuments(ctx context.Context, companyID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, file_name, file_size, version, total_chunks, sections, uploaded_by, status, created_at
		FROM policy_documents WHERE ($1 = '' OR company_id = $1)
		ORDER BY created_at DESC, id ASC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var sections []byte
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.FileName, &d.FileSize, &d.Version, &d.TotalChunks,
			&sections, &d.UploadedBy, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if err := json.Unmarshal(sections, &d.Sections); err != nil {
			return nil, fmt.Errorf("decoding sections of %s: %w", d.ID, err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Insert writes one batch of chunks in a transaction.
func (s *PgStore) Insert(ctx context.Context, chunks []PolicyChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO policy_chunks (id, document_id, company_id, document_name, section, subsection, content, chunk_index, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if len(c.Embedding) != s.dimensions {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, store expects %d", c.ID, len(c.Embedding), s.dimensions)
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", c.ID, err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.CompanyID, c.DocumentName, c.Section, c.Subsection,
			c.Content, c.ChunkIndex, pgvector.NewVector(c.Embedding), string(meta), createdAt); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

const pgChunkColumns = `c.id, c.document_id, c.company_id, c.document_name, c.section, c.subsection, c.content, c.chunk_index, c.embedding, c.metadata, c.created_at`

func (s *PgStore) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error) {
	if opts.TopK <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pgChunkColumns+`, 1 - (c.embedding <=> $1) AS score
		FROM policy_chunks c
		JOIN policy_documents d ON d.id = c.document_id
		WHERE d.status = $2 AND ($3 = '' OR c.company_id = $3)
		  AND 1 - (c.embedding <=> $1) >= $4
		ORDER BY c.embedding <=> $1
		LIMIT $5`,
		pgvector.NewVector(vector), StatusActive, opts.CompanyID, opts.MinSimilarity, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []Match
	for rows.Next() {
		var m Match
		var score float64
		if err := scanPgChunk(rows, &m.PolicyChunk, &score); err != nil {
			return nil, err
		}
		m.Score = float32(score)
		results = append(results, m)
	}
	return results, rows.Err()
}

func (s *PgStore) Sample(ctx context.Context, companyID string, limit int) ([]PolicyChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pgChunkColumns+`
		FROM policy_chunks c
		JOIN policy_documents d ON d.id = c.document_id
		WHERE d.status = $1 AND ($2 = '' OR c.company_id = $2)
		ORDER BY d.created_at DESC, c.chunk_index ASC
		LIMIT $3`, StatusActive, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("sampling chunks: %w", err)
	}
	defer rows.Close()

	var chunks []PolicyChunk
	for rows.Next() {
		var c PolicyChunk
		if err := scanPgChunk(rows, &c); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *PgStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM policy_chunks").Scan(&count)
	return count, err
}

func scanPgChunk(rows *sql.Rows, c *PolicyChunk, extra ...any) error {
	var vec pgvector.Vector
	var meta []byte
	dest := []any{&c.ID, &c.DocumentID, &c.CompanyID, &c.DocumentName, &c.Section, &c.Subsection,
		&c.Content, &c.ChunkIndex, &vec, &meta, &c.CreatedAt}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return fmt.Errorf("scanning chunk: %w", err)
	}
	c.Embedding = vec.Slice()
	if err := json.Unmarshal(meta, &c.Metadata); err != nil {
		return fmt.Errorf("decoding metadata for %s: %w", c.ID, err)
	}
	return nil
}
