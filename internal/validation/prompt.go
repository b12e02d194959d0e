package validation

import (
	"fmt"
	"strings"

	"github.com/kalambet/policyguard/internal/engine"
	"github.com/kalambet/policyguard/internal/invoice"
)

const systemPromptTemplate = `You are an invoice validation engine. Your job is to extract and validate invoice data. Your output must be ONLY a single valid JSON object. Do not include any other text, prose, or markdown.

MANDATORY FIELDS that MUST be present (report missing ones with exactly these names):
%s

CONDITIONAL MANDATORY FIELDS:
- For GST invoices: %s, %s (CGST/SGST/IGST and total)
- For Flight: %s, %s, %s, %s
- For Hotel: %s, %s, %s, %s
- For Meals: restaurant name, date, amount

REJECTION CRITERIA (add a validation error and set is_valid to false):
- No date
- No merchant name
- Handwritten without stamp/signature (set handwritten and has_stamp_or_signature)
- Amount mismatch between line items and total (list line_items with amounts)
- Fake/altered appearance (set appears_altered)

Rules:
- Use null for any field that is not present in the text. Never guess a value.
- invoice_type is one of: flight, hotel, meal, transport, other.
- Amounts are plain numbers without currency symbols or thousands separators.
- confidence_score is 0-100 and reflects how certain the extraction is, not whether the invoice is acceptable.

Return a JSON object with:
- is_valid: boolean
- extracted_fields: object with merchant_name, merchant_address, merchant_contact, invoice_number, invoice_date, buyer_name, employee_id, description, amount, currency, gstin, tax_breakup {cgst, sgst, igst, total_gst}, payment_proof, invoice_type, travel_details {passenger_name, from_location, to_location, travel_date, pnr_number}, hotel_details {guest_name, check_in, check_out, city}, line_items [{description, amount}], handwritten, has_stamp_or_signature, appears_altered
- missing_mandatory_fields: array of missing field names
- validation_errors: array of error messages
- confidence_score: number`

const userPromptTemplate = `Analyze this invoice and extract all fields. Identify missing mandatory fields.

INVOICE TEXT:
%s

Return your analysis as a JSON object.`

// BuildPrompt constructs the chat messages for field validation.
func BuildPrompt(rawText string) []engine.Message {
	var sb strings.Builder
	for i, f := range invoice.MandatoryFields() {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, f)
	}

	system := fmt.Sprintf(systemPromptTemplate,
		strings.TrimRight(sb.String(), "\n"),
		invoice.FieldGSTIN, invoice.FieldTaxBreakup,
		invoice.FieldPassengerName, invoice.FieldRoute, invoice.FieldTravelDate, invoice.FieldPNR,
		invoice.FieldGuestName, invoice.FieldCheckIn, invoice.FieldCheckOut, invoice.FieldCity,
	)

	return []engine.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: fmt.Sprintf(userPromptTemplate, rawText)},
	}
}

// validationSchema returns the JSON schema for structured validation output.
func validationSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"is_valid":                 {Type: "boolean", Description: "Whether the invoice passes validation"},
			"extracted_fields":         {Type: "object", Description: "All invoice fields; null when absent"},
			"missing_mandatory_fields": {Type: "array", Description: "Names of missing mandatory fields"},
			"validation_errors":        {Type: "array", Description: "Validation error messages"},
			"confidence_score":         {Type: "number", Description: "Extraction confidence 0-100"},
		},
		Required: []string{"is_valid", "extracted_fields", "missing_mandatory_fields", "validation_errors", "confidence_score"},
	}
}
