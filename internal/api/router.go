// Package api exposes policy ingestion, policy search and invoice analysis
// over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/policyguard/internal/analysis"
	"github.com/kalambet/policyguard/internal/ingest"
	"github.com/kalambet/policyguard/internal/invoice"
	"github.com/kalambet/policyguard/internal/retrieval"
	"github.com/kalambet/policyguard/internal/storage"
)

const (
	maxRequestBodySize    = 1 << 20 // 1MB
	defaultMaxUploadBytes = 10 << 20
	// multipartOverhead leaves room for form fields and part headers on top
	// of the file itself.
	multipartOverhead = 1 << 20
)

// PolicyIngester stores policy documents in the knowledge base.
type PolicyIngester interface {
	Ingest(ctx context.Context, up ingest.Upload) (ingest.Result, error)
	IngestText(ctx context.Context, text, fileName, companyID, uploadedBy string) (ingest.Result, error)
}

// PolicyStore lists and deletes ingested policy documents.
type PolicyStore interface {
	ListDocuments(ctx context.Context, companyID string) ([]retrieval.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// PolicySearcher finds policy sections for a query. Results are never empty.
type PolicySearcher interface {
	Search(ctx context.Context, query, companyID string, limit int) []retrieval.Match
}

// InvoiceAnalyzer runs the invoice analysis pipeline.
type InvoiceAnalyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (invoice.AnalysisResult, error)
	AnalyzeText(ctx context.Context, text, companyID string) (invoice.AnalysisResult, error)
}

// AnalysisHistory persists finished analyses.
type AnalysisHistory interface {
	SaveAnalysis(ctx context.Context, rec storage.AnalysisRecord) error
	GetAnalysis(ctx context.Context, id string) (storage.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, limit, offset int) ([]storage.AnalysisRecord, error)
}

// Deps holds the collaborators of the HTTP and MCP surfaces.
type Deps struct {
	Ingester       PolicyIngester
	Policies       PolicyStore
	Searcher       PolicySearcher
	Analyzer       InvoiceAnalyzer
	History        AnalysisHistory
	Token          string
	MaxUploadBytes int64
}

func (d Deps) maxUpload() int64 {
	if d.MaxUploadBytes > 0 {
		return d.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

// NewHandler returns the HTTP API. Every route except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/policies", handleUploadPolicy(deps))
		r.Get("/policies", handleListPolicies(deps))
		r.Delete("/policies/{id}", handleDeletePolicy(deps))
		r.Post("/policies/search", handleSearchPolicies(deps))

		r.Post("/invoices/analyze", handleAnalyzeInvoice(deps))
		r.Get("/invoices", handleListInvoices(deps))
		r.Get("/invoices/{id}", handleGetInvoice(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
