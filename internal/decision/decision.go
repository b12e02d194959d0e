// Package decision turns the validation and compliance results into one risk
// score, a terminal status and a human-readable summary.
package decision

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/policyguard/internal/invoice"
)

// Thresholds of the status rules.
const (
	RejectAbove = 70
	ReviewAbove = 40

	// EarlyExitMissing is the number of missing mandatory fields above which
	// an invalid invoice skips the compliance stage.
	EarlyExitMissing = 3

	defaultCurrency = "₹"
)

// OverallRisk weighs extraction uncertainty at 30% and policy risk at 70%.
// A zero confidence counts as an uncertainty of 50.
func OverallRisk(v invoice.ValidationResult, c invoice.PolicyCompliance) int {
	uncertainty := 50.0
	if v.ConfidenceScore > 0 {
		uncertainty = 100 - v.ConfidenceScore
	}
	risk := math.Round(0.3*uncertainty + 0.7*c.RiskScore)
	return int(math.Max(0, math.Min(100, risk)))
}

// Decide applies the status rules in order; the first match wins.
func Decide(v invoice.ValidationResult, c invoice.PolicyCompliance, overallRisk int) invoice.Status {
	switch {
	case !v.IsValid:
		return invoice.StatusRejected
	case !c.IsCompliant || overallRisk > RejectAbove:
		if c.HasCritical() {
			return invoice.StatusRejected
		}
		return invoice.StatusFlagged
	case overallRisk > ReviewAbove:
		return invoice.StatusNeedsReview
	}
	return invoice.StatusApproved
}

// Summary renders the templated description of a decision.
func Summary(v invoice.ValidationResult, c invoice.PolicyCompliance, status invoice.Status) string {
	var parts []string

	switch status {
	case invoice.StatusApproved:
		parts = append(parts, "Invoice passed all checks and is approved for processing.")
	case invoice.StatusRejected:
		parts = append(parts, "Invoice has been rejected.")
		if len(v.MissingMandatoryFields) > 0 {
			parts = append(parts, "Missing fields: "+strings.Join(v.MissingMandatoryFields, ", "))
		}
		if c.HasCritical() {
			parts = append(parts, "Critical policy violations detected.")
		}
	case invoice.StatusFlagged:
		parts = append(parts, "Invoice has been flagged for review.")
		parts = append(parts, fmt.Sprintf("%d policy violation(s) detected.", len(c.Violations)))
	default:
		parts = append(parts, "Invoice needs manual review.")
	}

	if amt := amountText(v.ExtractedFields); amt != "" {
		parts = append(parts, "Amount: "+amt)
	}

	return strings.Join(parts, " ")
}

// ShouldExitEarly reports whether validation failed badly enough that the
// compliance stage is not worth running.
func ShouldExitEarly(v invoice.ValidationResult) bool {
	return !v.IsValid && len(v.MissingMandatoryFields) > EarlyExitMissing
}

// Aggregate combines both stage results into the terminal artifact.
func Aggregate(v invoice.ValidationResult, c invoice.PolicyCompliance, now time.Time) invoice.AnalysisResult {
	risk := OverallRisk(v, c)
	status := Decide(v, c, risk)
	return invoice.AnalysisResult{
		InvoiceID:        NewInvoiceID(),
		Status:           status,
		Validation:       v,
		Compliance:       c,
		OverallRiskScore: risk,
		Summary:          Summary(v, c, status),
		ProcessedAt:      now.UTC(),
	}
}

// EarlyExit builds the result for an invoice whose compliance stage was
// skipped.
func EarlyExit(v invoice.ValidationResult, now time.Time) invoice.AnalysisResult {
	return invoice.AnalysisResult{
		InvoiceID:        NewInvoiceID(),
		Status:           invoice.StatusRejected,
		Validation:       v,
		Compliance:       invoice.SkippedCompliance(),
		OverallRiskScore: 100,
		Summary:          "Invoice rejected due to missing mandatory fields: " + strings.Join(v.MissingMandatoryFields, ", "),
		ProcessedAt:      now.UTC(),
	}
}

// Failed builds the rejected result reported when analysis could not run to
// completion. The summary names the error.
func Failed(err error, now time.Time) invoice.AnalysisResult {
	v := invoice.FallbackValidation()
	return invoice.AnalysisResult{
		InvoiceID:        NewInvoiceID(),
		Status:           invoice.StatusRejected,
		Validation:       v,
		Compliance:       invoice.SkippedCompliance(),
		OverallRiskScore: 100,
		Summary:          "Invoice analysis failed: " + err.Error(),
		ProcessedAt:      now.UTC(),
	}
}

// NewInvoiceID returns a fresh invoice identifier.
func NewInvoiceID() string {
	return "INV-" + uuid.NewString()
}

func amountText(f invoice.Fields) string {
	if f.Amount == nil || *f.Amount == 0 {
		return ""
	}
	cur := defaultCurrency
	if f.Currency != nil && strings.TrimSpace(*f.Currency) != "" {
		cur = strings.TrimSpace(*f.Currency)
	}
	return cur + strconv.FormatFloat(*f.Amount, 'f', -1, 64)
}
