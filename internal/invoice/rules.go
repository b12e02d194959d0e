package invoice

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Unconditional mandatory field labels. A missing label from this set
// invalidates the invoice on its own.
const (
	FieldMerchantName    = "Merchant Name"
	FieldMerchantAddress = "Merchant Address"
	FieldInvoiceNumber   = "Invoice Number"
	FieldInvoiceDate     = "Invoice Date"
	FieldDescription     = "Description"
	FieldAmount          = "Amount"
	FieldCurrency        = "Currency"
)

// Conditional mandatory field labels.
const (
	FieldGSTIN         = "GSTIN"
	FieldTaxBreakup    = "Tax Breakup"
	FieldPassengerName = "Passenger Name"
	FieldRoute         = "Route (From-To)"
	FieldTravelDate    = "Travel Date"
	FieldPNR           = "PNR"
	FieldGuestName     = "Guest Name"
	FieldCheckIn       = "Check-in Date"
	FieldCheckOut      = "Check-out Date"
	FieldCity          = "City"
)

// DefaultGSTPattern matches a 15 character Indian GSTIN.
const DefaultGSTPattern = `\b[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]\b`

var unconditional = []string{
	FieldMerchantName,
	FieldMerchantAddress,
	FieldInvoiceNumber,
	FieldInvoiceDate,
	FieldDescription,
	FieldAmount,
	FieldCurrency,
}

var conditional = []string{
	FieldGSTIN,
	FieldTaxBreakup,
	FieldPassengerName,
	FieldRoute,
	FieldTravelDate,
	FieldPNR,
	FieldGuestName,
	FieldCheckIn,
	FieldCheckOut,
	FieldCity,
}

// MandatoryFields returns the unconditional mandatory labels in checklist order.
func MandatoryFields() []string {
	return append([]string(nil), unconditional...)
}

// ConditionalFields returns the labels that are mandatory only for some
// invoice types or tax regimes.
func ConditionalFields() []string {
	return append([]string(nil), conditional...)
}

// IsUnconditional reports whether label names an always-mandatory field.
func IsUnconditional(label string) bool {
	for _, f := range unconditional {
		if strings.EqualFold(f, strings.TrimSpace(label)) {
			return true
		}
	}
	return false
}

// GSTRule decides when GST conditional fields apply. A nil Pattern disables
// the rule entirely.
type GSTRule struct {
	Pattern *regexp.Regexp
}

// NewGSTRule compiles pattern. An empty pattern yields a disabled rule.
func NewGSTRule(pattern string) (GSTRule, error) {
	if strings.TrimSpace(pattern) == "" {
		return GSTRule{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return GSTRule{}, fmt.Errorf("compiling GST pattern: %w", err)
	}
	return GSTRule{Pattern: re}, nil
}

// Triggered reports whether the invoice is GST-bearing: a plausible tax ID
// appears in the extracted field or the raw text, or tax components were
// extracted.
func (r GSTRule) Triggered(f Fields, rawText string) bool {
	if r.Pattern == nil {
		return false
	}
	if present(f.GSTIN) && r.Pattern.MatchString(strings.ToUpper(*f.GSTIN)) {
		return true
	}
	if r.Pattern.MatchString(strings.ToUpper(rawText)) {
		return true
	}
	return hasTaxComponents(f.TaxBreakup)
}

// Report is the outcome of the deterministic field checks.
type Report struct {
	Missing []string
	Errors  []string
	// Reject is set when a rejection-worthy condition was found.
	Reject bool
}

// Check applies the mandatory checklist, conditional rules and rejection
// criteria to f.
func Check(f Fields, rawText string, gst GSTRule) Report {
	var rep Report

	need := func(ok bool, label string) {
		if !ok {
			rep.Missing = append(rep.Missing, label)
		}
	}

	need(present(f.MerchantName), FieldMerchantName)
	need(present(f.MerchantAddress), FieldMerchantAddress)
	need(present(f.InvoiceNumber), FieldInvoiceNumber)
	need(present(f.InvoiceDate), FieldInvoiceDate)
	need(present(f.Description), FieldDescription)
	need(f.Amount != nil, FieldAmount)
	need(present(f.Currency), FieldCurrency)

	if gst.Triggered(f, rawText) {
		need(present(f.GSTIN), FieldGSTIN)
		need(hasTaxComponents(f.TaxBreakup), FieldTaxBreakup)
	}
	if present(f.GSTIN) && gst.Pattern != nil && !gst.Pattern.MatchString(strings.ToUpper(*f.GSTIN)) {
		rep.Errors = append(rep.Errors, fmt.Sprintf("GSTIN %q does not look like a valid tax identifier", *f.GSTIN))
	}

	if f.InvoiceType != nil {
		switch *f.InvoiceType {
		case TypeFlight:
			t := f.TravelDetails
			if t == nil {
				t = &TravelDetails{}
			}
			need(present(t.PassengerName), FieldPassengerName)
			need(present(t.FromLocation) && present(t.ToLocation), FieldRoute)
			need(present(t.TravelDate), FieldTravelDate)
			need(present(t.PNRNumber), FieldPNR)
		case TypeHotel:
			h := f.HotelDetails
			if h == nil {
				h = &HotelDetails{}
			}
			need(present(h.GuestName), FieldGuestName)
			need(present(h.CheckIn), FieldCheckIn)
			need(present(h.CheckOut), FieldCheckOut)
			need(present(h.City), FieldCity)
		}
	}

	if !present(f.InvoiceDate) {
		rep.Errors = append(rep.Errors, "Invoice date is missing")
		rep.Reject = true
	}
	if !present(f.MerchantName) {
		rep.Errors = append(rep.Errors, "Merchant name is missing")
		rep.Reject = true
	}
	if isTrue(f.Handwritten) && !isTrue(f.HasStampOrSign) {
		rep.Errors = append(rep.Errors, "Handwritten invoice without stamp or signature")
		rep.Reject = true
	}
	if isTrue(f.AppearsAltered) {
		rep.Errors = append(rep.Errors, "Invoice appears altered or forged")
		rep.Reject = true
	}
	if msg, ok := amountMismatch(f); ok {
		rep.Errors = append(rep.Errors, msg)
		rep.Reject = true
	}

	return rep
}

// amountMismatch compares the stated total with the sum of line items, with
// and without GST, allowing 1% or one currency unit of rounding.
func amountMismatch(f Fields) (string, bool) {
	if f.Amount == nil || len(f.LineItems) == 0 {
		return "", false
	}
	var sum float64
	var counted int
	for _, li := range f.LineItems {
		if li.Amount != nil {
			sum += *li.Amount
			counted++
		}
	}
	if counted == 0 {
		return "", false
	}

	total := *f.Amount
	tol := math.Max(1, 0.01*math.Abs(total))
	if math.Abs(sum-total) <= tol {
		return "", false
	}
	if f.TaxBreakup != nil {
		tax := taxTotal(f.TaxBreakup)
		if tax > 0 && math.Abs(sum+tax-total) <= tol {
			return "", false
		}
	}
	return fmt.Sprintf("Amount mismatch: line items total %.2f but invoice total is %.2f", sum, total), true
}

func taxTotal(t *TaxBreakup) float64 {
	if t.TotalGST != nil {
		return *t.TotalGST
	}
	var sum float64
	for _, v := range []*float64{t.CGST, t.SGST, t.IGST} {
		if v != nil {
			sum += *v
		}
	}
	return sum
}

func hasTaxComponents(t *TaxBreakup) bool {
	if t == nil {
		return false
	}
	return t.CGST != nil || t.SGST != nil || t.IGST != nil || t.TotalGST != nil
}

func present(s *string) bool {
	if s == nil {
		return false
	}
	v := normalize(*s)
	return v != "" && v != "null" && v != "n/a"
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
