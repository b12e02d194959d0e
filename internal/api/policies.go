package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/policyguard/internal/ingest"
	"github.com/kalambet/policyguard/internal/retrieval"
)

const maxSearchLimit = 50

// SearchRequest is the body of POST /policies/search.
type SearchRequest struct {
	Query     string `json:"query"`
	CompanyID string `json:"company_id"`
	Limit     int    `json:"limit"`
}

func handleUploadPolicy(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, status, err := readUpload(w, r, deps.maxUpload())
		if err != nil {
			writeJSON(w, status, ingest.Result{Success: false, Sections: []string{}, Error: err.Error()})
			return
		}

		res, err := deps.Ingester.Ingest(r.Context(), ingest.Upload{
			FileName:   file.name,
			MIMEType:   file.mimeType,
			Data:       file.data,
			CompanyID:  r.FormValue("company_id"),
			UploadedBy: r.FormValue("uploaded_by"),
		})
		if err != nil {
			writeJSON(w, ingestStatus(err), res)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func ingestStatus(err error) int {
	var inputErr *ingest.InputError
	if !errors.As(err, &inputErr) {
		slog.Error("policy ingestion failed", "error", err)
		return http.StatusInternalServerError
	}
	switch inputErr.Code {
	case ingest.CodeUnsupportedType:
		return http.StatusUnsupportedMediaType
	case ingest.CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func handleListPolicies(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Policies.ListDocuments(r.Context(), r.URL.Query().Get("company_id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list policies: %v", err)
			return
		}

		if docs == nil {
			docs = []retrieval.Document{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(docs)
	}
}

func handleDeletePolicy(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Policies.DeleteDocument(r.Context(), id)
		if errors.Is(err, retrieval.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "policy document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete policy: %v", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSearchPolicies(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		matches := deps.Searcher.Search(r.Context(), req.Query, req.CompanyID, clampLimit(req.Limit, retrieval.DefaultTopK, maxSearchLimit))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(matches)
	}
}

func clampLimit(v, defaultVal, maxVal int) int {
	if v <= 0 {
		return defaultVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
