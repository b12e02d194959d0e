package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements KnowledgeStore.
var _ KnowledgeStore = (*SQLiteStore)(nil)

// SQLiteStore provides policy storage and brute-force cosine similarity search
// backed by SQLite. This is the default implementation of KnowledgeStore.
//
// Scans cover every chunk of active documents; past roughly 100K chunks
// query latency becomes noticeable and PgStore is the better fit.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for policy operations.
// The policy tables must already exist (created via storage migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// DB exposes the underlying handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc Document) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CompanyID, doc.FileName, doc.FileSize, version, doc.TotalChunks,
		string(sections), doc.UploadedBy, status, createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ActivateDocument(ctx context.Context, id string, totalChunks int, sections []string) error {
	enc, err := json.Marshal(nonNil(sections))
	if err != nil {
		return fmt.Errorf("encoding sections: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE policy_documents SET status = ?, total_chunks = ?, sections = ? WHERE id = ?`,
		StatusActive, totalChunks, string(enc), id)
	if err != nil {
		return fmt.Errorf("activating document %s: %w", id, err)
	}
	return requireRow(res, id)
}

// DeleteDocument removes chunks explicitly as well as through the cascade, so
// the delete holds even on connections opened without foreign key enforcement.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM policy_chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM policy_documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, companyID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, file_name, file_size, version, total_chunks, sections, uploaded_by, status, created_at
		FROM policy_documents WHERE (? = '' OR company_id = ?)
		ORDER BY created_at DESC, id ASC`, companyID, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var sections, createdAt string
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.FileName, &d.FileSize, &d.Version, &d.TotalChunks,
			&sections, &d.UploadedBy, &d.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if err := json.Unmarshal([]byte(sections), &d.Sections); err != nil {
			return nil, fmt.Errorf("decoding sections of %s: %w", d.ID, err)
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", d.ID, err)
		}
		d.CreatedAt = t
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Insert adds one batch of chunks inside a single transaction.
func (s *SQLiteStore) Insert(ctx context.Context, chunks []PolicyChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO policy_chunks (id, document_id, company_id, document_name, section, subsection, content, chunk_index, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
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
			c.Content, c.ChunkIndex, encodeFloat32s(c.Embedding), string(meta), createdAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
// Full chunk details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over the chunks of
// active documents, returning the top-K matches above the similarity floor.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error) {
	if opts.TopK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.embedding FROM policy_chunks c
		JOIN policy_documents d ON d.id = c.document_id
		WHERE d.status = ? AND (? = '' OR c.company_id = ?)`,
		StatusActive, opts.CompanyID, opts.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if score < opts.MinSimilarity {
			continue
		}
		if h.Len() < opts.TopK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full chunks only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	chunks, err := s.getByIDs(ctx, topIDs)
	if err != nil {
		return nil, err
	}

	results := make([]Match, len(chunks))
	for i, c := range chunks {
		results[i] = Match{PolicyChunk: c, Score: scores[c.ID]}
	}

	// IN query doesn't preserve order.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Sample returns chunks without ranking, ordered by document recency and
// chunk position.
func (s *SQLiteStore) Sample(ctx context.Context, companyID string, limit int) ([]PolicyChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM policy_chunks c
		JOIN policy_documents d ON d.id = c.document_id
		WHERE d.status = ? AND (? = '' OR c.company_id = ?)
		ORDER BY d.created_at DESC, c.chunk_index ASC LIMIT ?`,
		StatusActive, companyID, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("sampling chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// Count returns the number of stored chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM policy_chunks").Scan(&count)
	return count, err
}

// timeLayout is fixed width so stored timestamps sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const chunkColumns = `c.id, c.document_id, c.company_id, c.document_name, c.section, c.subsection, c.content, c.chunk_index, c.embedding, c.metadata, c.created_at`

func (s *SQLiteStore) getByIDs(ctx context.Context, ids []string) ([]PolicyChunk, error) {
	queryArgs := make([]any, len(ids))
	for i, id := range ids {
		queryArgs[i] = id
	}
	query := `SELECT ` + chunkColumns + ` FROM policy_chunks c WHERE c.id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]PolicyChunk, error) {
	var chunks []PolicyChunk
	for rows.Next() {
		var c PolicyChunk
		var blob []byte
		var meta, createdAt string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.CompanyID, &c.DocumentName, &c.Section, &c.Subsection,
			&c.Content, &c.ChunkIndex, &blob, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}
		c.Embedding = embedding
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", c.ID, err)
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", c.ID, err)
		}
		c.CreatedAt = t
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
