// Package validation extracts structured invoice fields from raw text and
// checks them against the mandatory field rules.
package validation

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/kalambet/policyguard/internal/engine"
	"github.com/kalambet/policyguard/internal/invoice"
	"github.com/kalambet/policyguard/internal/llmjson"
)

// DefaultTimeout bounds a single validation call.
const DefaultTimeout = 60 * time.Second

// Chatter is the interface for chat completion.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Validator asks a chat model to extract invoice fields, then enforces the
// deterministic checklist on whatever came back.
type Validator struct {
	client  Chatter
	model   string
	gst     invoice.GSTRule
	timeout time.Duration
}

// NewValidator creates a Validator. A non-positive timeout uses DefaultTimeout.
func NewValidator(client Chatter, model string, gst invoice.GSTRule, timeout time.Duration) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Validator{client: client, model: model, gst: gst, timeout: timeout}
}

// Validate extracts and validates fields from rawText. It never fails: chat
// errors, timeouts and unparseable output all yield invoice.FallbackValidation.
func (v *Validator) Validate(ctx context.Context, rawText string) invoice.ValidationResult {
	if strings.TrimSpace(rawText) == "" {
		return invoice.FallbackValidation()
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	raw, err := v.client.Chat(ctx, v.model, BuildPrompt(rawText), validationSchema())
	if err != nil {
		slog.Warn("invoice validation chat failed", "error", err)
		return invoice.FallbackValidation()
	}

	var resp response
	if err := llmjson.Decode(raw, &resp); err != nil {
		slog.Warn("failed to parse validation from LLM response", "error", err, "response", raw)
		return invoice.FallbackValidation()
	}

	return v.reconcile(resp, rawText)
}

// reconcile merges the model's report with the deterministic checks. Known
// field labels are decided by the checks alone; labels the checks do not know
// about are kept as the model reported them.
func (v *Validator) reconcile(resp response, rawText string) invoice.ValidationResult {
	fields := resp.ExtractedFields.toFields()
	rep := invoice.Check(fields, rawText, v.gst)

	missing := dedupe(rep.Missing)
	for _, m := range resp.Missing {
		label := m.ptr()
		if label == nil || isKnownLabel(*label) {
			continue
		}
		missing = appendUnique(missing, *label)
	}

	var errs []string
	for _, e := range resp.Errors {
		if s := e.ptr(); s != nil {
			errs = appendUnique(errs, *s)
		}
	}
	for _, e := range rep.Errors {
		errs = appendUnique(errs, e)
	}

	valid := resp.IsValid == nil || *resp.IsValid
	if rep.Reject {
		valid = false
	}
	for _, m := range missing {
		if invoice.IsUnconditional(m) {
			valid = false
			break
		}
	}

	if missing == nil {
		missing = []string{}
	}
	if errs == nil {
		errs = []string{}
	}

	return invoice.ValidationResult{
		IsValid:                valid,
		ExtractedFields:        fields,
		MissingMandatoryFields: missing,
		ValidationErrors:       errs,
		ConfidenceScore:        clampScore(resp.Confidence),
	}
}

func clampScore(f flexFloat) float64 {
	if !f.ok {
		return 0
	}
	switch {
	case f.v < 0:
		return 0
	case f.v > 100:
		return 100
	}
	return f.v
}

var knownLabels = func() map[string]bool {
	m := make(map[string]bool)
	for _, l := range append(invoice.MandatoryFields(), invoice.ConditionalFields()...) {
		m[labelKey(l)] = true
	}
	// Common spellings models use for the same fields.
	for _, alias := range []string{"Vendor Name", "Merchant/Vendor Name", "Vendor Address", "Date", "Total Amount", "Amount Paid", "Tax ID", "Route", "From-To", "Check-in", "Check-out", "Booking Reference"} {
		m[labelKey(alias)] = true
	}
	return m
}()

func isKnownLabel(label string) bool {
	return knownLabels[labelKey(label)]
}

// labelKey folds a field label to lower-case letters and digits so that
// "merchant_name" and "Merchant Name" compare equal.
func labelKey(label string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func dedupe(in []string) []string {
	var out []string
	for _, s := range in {
		out = appendUnique(out, s)
	}
	return out
}

func appendUnique(list []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, s) {
			return list
		}
	}
	return append(list, s)
}
