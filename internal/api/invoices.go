package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/policyguard/internal/analysis"
	"github.com/kalambet/policyguard/internal/invoice"
	"github.com/kalambet/policyguard/internal/storage"
)

// InvoiceSummary is one row of GET /invoices.
type InvoiceSummary struct {
	ID               string         `json:"id"`
	CompanyID        string         `json:"company_id,omitempty"`
	FileName         string         `json:"file_name"`
	Status           invoice.Status `json:"status"`
	OverallRiskScore int            `json:"overall_risk_score"`
	Summary          string         `json:"summary"`
	CreatedAt        time.Time      `json:"created_at"`
}

func handleAnalyzeInvoice(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, status, err := readUpload(w, r, deps.maxUpload())
		if err != nil {
			httpError(w, status, "invalid_request_error", "%v", err)
			return
		}
		companyID := r.FormValue("company_id")

		res, err := deps.Analyzer.Analyze(r.Context(), analysis.Request{
			FileName:  file.name,
			MIMEType:  file.mimeType,
			Data:      file.data,
			CompanyID: companyID,
		})
		if err != nil {
			writeAnalysisError(w, err)
			return
		}

		saveAnalysis(r, deps, companyID, file.name, res)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

// saveAnalysis records a result in the history. A storage failure is logged
// and does not change the response.
func saveAnalysis(r *http.Request, deps Deps, companyID, fileName string, res invoice.AnalysisResult) {
	if deps.History == nil {
		return
	}
	if err := deps.History.SaveAnalysis(r.Context(), analysisRecord(companyID, fileName, res)); err != nil {
		slog.Warn("failed to store invoice analysis", "invoice_id", res.InvoiceID, "error", err)
	}
}

func analysisRecord(companyID, fileName string, res invoice.AnalysisResult) storage.AnalysisRecord {
	return storage.AnalysisRecord{
		ID:        res.InvoiceID,
		CompanyID: companyID,
		FileName:  fileName,
		Result:    res,
		CreatedAt: res.ProcessedAt,
	}
}

func writeAnalysisError(w http.ResponseWriter, err error) {
	var inputErr *analysis.InputError
	if !errors.As(err, &inputErr) {
		slog.Error("invoice analysis failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "analysis failed: %v", err)
		return
	}
	code := http.StatusBadRequest
	switch inputErr.Code {
	case analysis.CodeUnsupportedType:
		code = http.StatusUnsupportedMediaType
	case analysis.CodeTooLarge:
		code = http.StatusRequestEntityTooLarge
	}
	httpError(w, code, "invalid_request_error", "%s", inputErr.Msg)
}

func handleListInvoices(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		recs, err := deps.History.ListAnalyses(r.Context(), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list invoices: %v", err)
			return
		}

		out := make([]InvoiceSummary, len(recs))
		for i, rec := range recs {
			out[i] = InvoiceSummary{
				ID:               rec.ID,
				CompanyID:        rec.CompanyID,
				FileName:         rec.FileName,
				Status:           rec.Result.Status,
				OverallRiskScore: rec.Result.OverallRiskScore,
				Summary:          rec.Result.Summary,
				CreatedAt:        rec.CreatedAt,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleGetInvoice(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.History.GetAnalysis(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "invoice analysis not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get invoice analysis: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec.Result)
	}
}
