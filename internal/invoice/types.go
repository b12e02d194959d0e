package invoice

import "time"

// Type is the inferred category of an invoice.
type Type string

const (
	TypeFlight    Type = "flight"
	TypeHotel     Type = "hotel"
	TypeMeal      Type = "meal"
	TypeTransport Type = "transport"
	TypeOther     Type = "other"
)

// Status is the terminal decision for an analysed invoice.
type Status string

const (
	StatusApproved    Status = "approved"
	StatusFlagged     Status = "flagged"
	StatusRejected    Status = "rejected"
	StatusNeedsReview Status = "needs_review"
)

// Severity classifies a policy violation. Ordered low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalises a model-provided severity. ok is false when the
// value is not one of the four known levels.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(normalize(s)) {
	case SeverityLow:
		return SeverityLow, true
	case SeverityMedium:
		return SeverityMedium, true
	case SeverityHigh:
		return SeverityHigh, true
	case SeverityCritical:
		return SeverityCritical, true
	}
	return SeverityMedium, false
}

// ParseType normalises a model-provided invoice type. Unknown values map to nil.
func ParseType(s string) *Type {
	t := Type(normalize(s))
	switch t {
	case TypeFlight, TypeHotel, TypeMeal, TypeTransport, TypeOther:
		return &t
	}
	return nil
}

// TaxBreakup holds GST components.
type TaxBreakup struct {
	CGST     *float64 `json:"cgst"`
	SGST     *float64 `json:"sgst"`
	IGST     *float64 `json:"igst"`
	TotalGST *float64 `json:"total_gst"`
}

// TravelDetails are populated for flight and transport invoices.
type TravelDetails struct {
	PassengerName *string `json:"passenger_name"`
	FromLocation  *string `json:"from_location"`
	ToLocation    *string `json:"to_location"`
	TravelDate    *string `json:"travel_date"`
	PNRNumber     *string `json:"pnr_number"`
}

// HotelDetails are populated for hotel invoices.
type HotelDetails struct {
	GuestName *string `json:"guest_name"`
	CheckIn   *string `json:"check_in"`
	CheckOut  *string `json:"check_out"`
	City      *string `json:"city"`
}

// LineItem is one billed line on an invoice.
type LineItem struct {
	Description string   `json:"description"`
	Amount      *float64 `json:"amount"`
}

// Fields is the structured extraction of one invoice. Every field is
// independently nullable; absence is reported, never inferred.
type Fields struct {
	MerchantName    *string        `json:"merchant_name"`
	MerchantAddress *string        `json:"merchant_address"`
	MerchantContact *string        `json:"merchant_contact"`
	InvoiceNumber   *string        `json:"invoice_number"`
	InvoiceDate     *string        `json:"invoice_date"`
	BuyerName       *string        `json:"buyer_name"`
	EmployeeID      *string        `json:"employee_id"`
	Description     *string        `json:"description"`
	Amount          *float64       `json:"amount"`
	Currency        *string        `json:"currency"`
	GSTIN           *string        `json:"gstin"`
	TaxBreakup      *TaxBreakup    `json:"tax_breakup"`
	PaymentProof    *string        `json:"payment_proof"`
	InvoiceType     *Type          `json:"invoice_type"`
	TravelDetails   *TravelDetails `json:"travel_details"`
	HotelDetails    *HotelDetails  `json:"hotel_details"`
	LineItems       []LineItem     `json:"line_items,omitempty"`
	Handwritten     *bool          `json:"handwritten,omitempty"`
	HasStampOrSign  *bool          `json:"has_stamp_or_signature,omitempty"`
	AppearsAltered  *bool          `json:"appears_altered,omitempty"`
}

// ValidationResult is the output of stage 1.
type ValidationResult struct {
	IsValid                bool     `json:"is_valid"`
	ExtractedFields        Fields   `json:"extracted_fields"`
	MissingMandatoryFields []string `json:"missing_mandatory_fields"`
	ValidationErrors       []string `json:"validation_errors"`
	ConfidenceScore        float64  `json:"confidence_score"`
}

// Violation is one policy breach found in stage 2.
type Violation struct {
	Rule        string   `json:"rule"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// PolicyCompliance is the output of stage 2.
type PolicyCompliance struct {
	IsCompliant            bool        `json:"is_compliant"`
	Violations             []Violation `json:"policy_violations"`
	RiskScore              float64     `json:"risk_score"`
	Recommendations        []string    `json:"recommendations"`
	RelevantPolicySections []string    `json:"relevant_policy_sections"`
}

// HasCritical reports whether any violation is critical.
func (c PolicyCompliance) HasCritical() bool {
	for _, v := range c.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// AnalysisResult is the terminal artifact for one invoice submission.
type AnalysisResult struct {
	InvoiceID        string           `json:"invoice_id"`
	Status           Status           `json:"status"`
	Validation       ValidationResult `json:"validation"`
	Compliance       PolicyCompliance `json:"policy_compliance"`
	OverallRiskScore int              `json:"overall_risk_score"`
	Summary          string           `json:"summary"`
	ProcessedAt      time.Time        `json:"processed_at"`
}
