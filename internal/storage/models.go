package storage

import (
	"errors"
	"time"

	"github.com/kalambet/policyguard/internal/invoice"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// AnalysisRecord is a persisted invoice analysis.
type AnalysisRecord struct {
	ID        string                 `json:"id"`
	CompanyID string                 `json:"company_id,omitempty"`
	FileName  string                 `json:"file_name"`
	Result    invoice.AnalysisResult `json:"result"`
	CreatedAt time.Time              `json:"created_at"`
}
