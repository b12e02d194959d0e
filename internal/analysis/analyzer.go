// Package analysis runs an invoice through text extraction, field validation,
// policy compliance and the final decision.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/policyguard/internal/decision"
	"github.com/kalambet/policyguard/internal/extract"
	"github.com/kalambet/policyguard/internal/invoice"
)

// DefaultMaxBytes caps the size of an invoice upload.
const DefaultMaxBytes = 10 << 20

// TextExtractor converts an uploaded document into text.
type TextExtractor interface {
	Extract(ctx context.Context, kind extract.Kind, mimeType string, data []byte) (string, error)
}

// Validator runs the field validation stage.
type Validator interface {
	Validate(ctx context.Context, rawText string) invoice.ValidationResult
}

// ComplianceChecker runs the policy compliance stage.
type ComplianceChecker interface {
	Check(ctx context.Context, f invoice.Fields, rawText, companyID string) invoice.PolicyCompliance
}

// Request is one invoice submission.
type Request struct {
	FileName  string
	MIMEType  string
	Data      []byte
	CompanyID string
}

// Analyzer orchestrates the analysis pipeline for one invoice at a time. It
// holds no per-invoice state, so one Analyzer may serve concurrent callers.
type Analyzer struct {
	extractor TextExtractor
	validator Validator
	checker   ComplianceChecker
	maxBytes  int64
	now       func() time.Time
}

// NewAnalyzer creates an Analyzer. A non-positive maxBytes uses DefaultMaxBytes.
func NewAnalyzer(extractor TextExtractor, validator Validator, checker ComplianceChecker, maxBytes int64) *Analyzer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Analyzer{
		extractor: extractor,
		validator: validator,
		checker:   checker,
		maxBytes:  maxBytes,
		now:       time.Now,
	}
}

// Analyze validates the submission, extracts its text and runs the pipeline.
// The only errors returned are *InputError; every other failure, including a
// panic, becomes a rejected result whose summary names the problem.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (invoice.AnalysisResult, error) {
	kind, mimeType, err := extract.Detect(req.FileName, req.MIMEType)
	if err != nil || kind == extract.KindDOCX {
		return invoice.AnalysisResult{}, &InputError{
			Code: CodeUnsupportedType,
			Msg:  fmt.Sprintf("unsupported invoice type %q; expected PDF, image or plain text", req.MIMEType),
			Err:  err,
		}
	}
	if len(req.Data) == 0 {
		return invoice.AnalysisResult{}, &InputError{Code: CodeEmpty, Msg: "invoice file is empty"}
	}
	if int64(len(req.Data)) > a.maxBytes {
		return invoice.AnalysisResult{}, &InputError{
			Code: CodeTooLarge,
			Msg:  fmt.Sprintf("invoice is %d bytes; the limit is %d", len(req.Data), a.maxBytes),
		}
	}

	var inputErr error
	result := a.guard(func() invoice.AnalysisResult {
		text, err := a.extractor.Extract(ctx, kind, mimeType, req.Data)
		if errors.Is(err, extract.ErrEmptyText) {
			inputErr = &InputError{Code: CodeEmpty, Msg: "no text could be extracted from the invoice", Err: err}
			return invoice.AnalysisResult{}
		}
		if err != nil {
			slog.Error("invoice text extraction failed", "file", req.FileName, "error", err)
			return decision.Failed(fmt.Errorf("extracting text: %w", err), a.now())
		}
		return a.run(ctx, text, req.CompanyID)
	})
	if inputErr != nil {
		return invoice.AnalysisResult{}, inputErr
	}
	return result, nil
}

// AnalyzeText runs the pipeline on text that was extracted elsewhere.
func (a *Analyzer) AnalyzeText(ctx context.Context, text, companyID string) (invoice.AnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return invoice.AnalysisResult{}, &InputError{Code: CodeEmpty, Msg: "invoice text is empty"}
	}
	return a.guard(func() invoice.AnalysisResult {
		return a.run(ctx, text, companyID)
	}), nil
}

func (a *Analyzer) run(ctx context.Context, text, companyID string) invoice.AnalysisResult {
	v := a.validator.Validate(ctx, text)

	var result invoice.AnalysisResult
	if decision.ShouldExitEarly(v) {
		result = decision.EarlyExit(v, a.now())
	} else {
		c := a.checker.Check(ctx, v.ExtractedFields, text, companyID)
		result = decision.Aggregate(v, c, a.now())
	}

	slog.Info("invoice analysed",
		"invoice_id", result.InvoiceID,
		"status", result.Status,
		"risk", result.OverallRiskScore,
		"company_id", companyID,
	)
	return result
}

// guard converts a panic inside fn into a rejected result.
func (a *Analyzer) guard(fn func() invoice.AnalysisResult) (result invoice.AnalysisResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("invoice analysis panicked", "panic", r)
			result = decision.Failed(fmt.Errorf("internal error: %v", r), a.now())
		}
	}()
	return fn()
}
