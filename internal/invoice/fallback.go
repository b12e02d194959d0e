package invoice

// Messages used by the fallback results.
const (
	MissingUnparseable = "Unable to parse invoice"
	ErrorExtractFailed = "Failed to extract invoice data"
	RecommendManual    = "Manual review recommended"
	RecommendFixFirst  = "Fix validation errors before policy check"
)

// FallbackValidation is substituted when stage 1 output cannot be used.
func FallbackValidation() ValidationResult {
	return ValidationResult{
		IsValid:                false,
		ExtractedFields:        Fields{},
		MissingMandatoryFields: []string{MissingUnparseable},
		ValidationErrors:       []string{ErrorExtractFailed},
		ConfidenceScore:        0,
	}
}

// FallbackCompliance is substituted when stage 2 output cannot be used. It is
// neutral and biased toward review.
func FallbackCompliance() PolicyCompliance {
	return PolicyCompliance{
		IsCompliant:            true,
		Violations:             []Violation{},
		RiskScore:              50,
		Recommendations:        []string{RecommendManual},
		RelevantPolicySections: []string{},
	}
}

// SkippedCompliance is recorded when stage 2 is skipped by the early exit.
func SkippedCompliance() PolicyCompliance {
	return PolicyCompliance{
		IsCompliant:            false,
		Violations:             []Violation{},
		RiskScore:              100,
		Recommendations:        []string{RecommendFixFirst},
		RelevantPolicySections: []string{},
	}
}
