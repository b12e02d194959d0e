// Package ingest turns uploaded policy documents into embedded, searchable
// chunks in the knowledge store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/policyguard/internal/chunking"
	"github.com/kalambet/policyguard/internal/extract"
	"github.com/kalambet/policyguard/internal/retrieval"
)

// Defaults applied by New.
const (
	DefaultMaxBytes      = 10 << 20
	DefaultMinTextLength = 100
	DefaultBatchSize     = retrieval.DefaultBatchSize
)

// TextExtractor converts an uploaded document into text.
type TextExtractor interface {
	Extract(ctx context.Context, kind extract.Kind, mimeType string, data []byte) (string, error)
}

// BatchEmbedder generates one embedding per text, in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds the ingestion limits.
type Config struct {
	BatchSize     int
	MinTextLength int
	MaxBytes      int64
}

// Upload is one policy document submitted for ingestion.
type Upload struct {
	FileName   string
	MIMEType   string
	Data       []byte
	CompanyID  string
	UploadedBy string
}

// Result reports the outcome of one ingestion.
type Result struct {
	Success       bool     `json:"success"`
	DocumentID    string   `json:"document_id,omitempty"`
	FileName      string   `json:"file_name"`
	ChunksCreated int      `json:"chunks_created"`
	Sections      []string `json:"sections"`
	Message       string   `json:"message,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Ingester runs the ingestion pipeline. Each document is all or nothing: if
// any batch fails, everything stored for it so far is removed.
type Ingester struct {
	extractor TextExtractor
	chunker   *chunking.Chunker
	embedder  BatchEmbedder
	store     retrieval.KnowledgeStore
	cfg       Config
	now       func() time.Time
}

// New creates an Ingester. Zero config values take the package defaults.
func New(extractor TextExtractor, chunker *chunking.Chunker, embedder BatchEmbedder, store retrieval.KnowledgeStore, cfg Config) *Ingester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultMinTextLength
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Ingester{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Ingest validates, extracts, chunks and stores one document. On failure the
// returned Result carries Success=false and the error message; input problems
// are reported as *InputError.
func (i *Ingester) Ingest(ctx context.Context, up Upload) (Result, error) {
	kind, mimeType, err := extract.Detect(up.FileName, up.MIMEType)
	if err != nil || kind == extract.KindImage {
		return failure(up.FileName, &InputError{
			Code: CodeUnsupportedType,
			Msg:  fmt.Sprintf("unsupported policy document type %q; expected PDF, DOCX or plain text", up.MIMEType),
			Err:  err,
		})
	}
	if int64(len(up.Data)) > i.cfg.MaxBytes {
		return failure(up.FileName, &InputError{
			Code: CodeTooLarge,
			Msg:  fmt.Sprintf("file is %d bytes; the limit is %d", len(up.Data), i.cfg.MaxBytes),
		})
	}

	text, err := i.extractor.Extract(ctx, kind, mimeType, up.Data)
	if err != nil && !errors.Is(err, extract.ErrEmptyText) {
		return failure(up.FileName, fmt.Errorf("extracting text: %w", err))
	}

	return i.ingestText(ctx, text, up.FileName, int64(len(up.Data)), up.CompanyID, up.UploadedBy)
}

// IngestText stores already-extracted policy text under fileName.
func (i *Ingester) IngestText(ctx context.Context, text, fileName, companyID, uploadedBy string) (Result, error) {
	return i.ingestText(ctx, text, fileName, int64(len(text)), companyID, uploadedBy)
}

func (i *Ingester) ingestText(ctx context.Context, text, fileName string, size int64, companyID, uploadedBy string) (Result, error) {
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < i.cfg.MinTextLength {
		return failure(fileName, &InputError{
			Code: CodeTooShort,
			Msg:  fmt.Sprintf("document has too little text (%d characters, need at least %d); it may be scanned or empty", n, i.cfg.MinTextLength),
		})
	}

	chunks := i.chunker.Chunk(text, fileName)
	sections := chunking.Sections(chunks)

	version, err := i.nextVersion(ctx, companyID, fileName)
	if err != nil {
		return failure(fileName, err)
	}

	now := i.now().UTC()
	doc := retrieval.Document{
		ID:         uuid.NewString(),
		CompanyID:  companyID,
		FileName:   fileName,
		FileSize:   size,
		Version:    version,
		Sections:   sections,
		UploadedBy: uploadedBy,
		Status:     retrieval.StatusPending,
		CreatedAt:  now,
	}
	if err := i.store.CreateDocument(ctx, doc); err != nil {
		return failure(fileName, fmt.Errorf("creating document record: %w", err))
	}

	if err := i.storeChunks(ctx, doc, chunks, now); err != nil {
		i.rollback(ctx, doc.ID)
		return failure(fileName, err)
	}

	if err := i.store.ActivateDocument(ctx, doc.ID, len(chunks), sections); err != nil {
		i.rollback(ctx, doc.ID)
		return failure(fileName, fmt.Errorf("activating document: %w", err))
	}

	slog.Info("policy document ingested",
		"document_id", doc.ID,
		"file", fileName,
		"company_id", companyID,
		"chunks", len(chunks),
		"sections", len(sections),
	)

	return Result{
		Success:       true,
		DocumentID:    doc.ID,
		FileName:      fileName,
		ChunksCreated: len(chunks),
		Sections:      sections,
		Message:       fmt.Sprintf("Successfully processed %d policy sections from %s", len(chunks), fileName),
	}, nil
}

// storeChunks embeds and inserts chunks batch by batch. Each batch is written
// atomically with its vectors.
func (i *Ingester) storeChunks(ctx context.Context, doc retrieval.Document, chunks []chunking.Chunk, now time.Time) error {
	for start := 0; start < len(chunks); start += i.cfg.BatchSize {
		end := min(start+i.cfg.BatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for j, ch := range batch {
			texts[j] = ch.Content
		}
		vecs, err := i.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}

		records := make([]retrieval.PolicyChunk, len(batch))
		for j, ch := range batch {
			records[j] = retrieval.PolicyChunk{
				ID:           uuid.NewString(),
				DocumentID:   doc.ID,
				CompanyID:    doc.CompanyID,
				DocumentName: doc.FileName,
				Section:      ch.Section,
				Content:      ch.Content,
				ChunkIndex:   ch.Index,
				Embedding:    vecs[j],
				Metadata: map[string]any{
					"source_file": doc.FileName,
					"page":        ch.Page,
					"ingested_at": now.Format(time.RFC3339),
					"version":     doc.Version,
				},
				CreatedAt: now,
			}
		}
		if err := i.store.Insert(ctx, records); err != nil {
			return fmt.Errorf("storing chunks %d-%d: %w", start, end-1, err)
		}
		slog.Debug("policy chunk batch stored", "document_id", doc.ID, "from", start, "to", end-1)
	}
	return nil
}

// rollback removes a partially ingested document. It runs even when ctx was
// cancelled.
func (i *Ingester) rollback(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := i.store.DeleteDocument(ctx, id); err != nil && !errors.Is(err, retrieval.ErrNotFound) {
		slog.Error("rolling back partial ingestion failed", "document_id", id, "error", err)
		return
	}
	slog.Warn("partial ingestion rolled back", "document_id", id)
}

// nextVersion numbers re-uploads of the same file within a company.
func (i *Ingester) nextVersion(ctx context.Context, companyID, fileName string) (int, error) {
	docs, err := i.store.ListDocuments(ctx, companyID)
	if err != nil {
		return 0, fmt.Errorf("listing documents: %w", err)
	}
	version := 1
	for _, d := range docs {
		if d.CompanyID == companyID && d.FileName == fileName && d.Version >= version {
			version = d.Version + 1
		}
	}
	return version, nil
}

func failure(fileName string, err error) (Result, error) {
	return Result{
		Success:  false,
		FileName: fileName,
		Sections: []string{},
		Error:    err.Error(),
	}, err
}
