package validation

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/kalambet/policyguard/internal/invoice"
)

// response mirrors the model's JSON output. Models are loose with scalar
// types, so every leaf accepts several encodings and degrades to null
// instead of failing the whole decode.
type response struct {
	IsValid         *bool        `json:"is_valid"`
	ExtractedFields fieldsDTO    `json:"extracted_fields"`
	Missing         []flexString `json:"missing_mandatory_fields"`
	Errors          []flexString `json:"validation_errors"`
	Confidence      flexFloat    `json:"confidence_score"`
}

type fieldsDTO struct {
	MerchantName    flexString        `json:"merchant_name"`
	MerchantAddress flexString        `json:"merchant_address"`
	MerchantContact flexString        `json:"merchant_contact"`
	InvoiceNumber   flexString        `json:"invoice_number"`
	InvoiceDate     flexString        `json:"invoice_date"`
	BuyerName       flexString        `json:"buyer_name"`
	EmployeeID      flexString        `json:"employee_id"`
	Description     flexString        `json:"description"`
	Amount          flexFloat         `json:"amount"`
	Currency        flexString        `json:"currency"`
	GSTIN           flexString        `json:"gstin"`
	TaxBreakup      *taxBreakupDTO    `json:"tax_breakup"`
	PaymentProof    flexString        `json:"payment_proof"`
	InvoiceType     flexString        `json:"invoice_type"`
	TravelDetails   *travelDetailsDTO `json:"travel_details"`
	HotelDetails    *hotelDetailsDTO  `json:"hotel_details"`
	LineItems       []lineItemDTO     `json:"line_items"`
	Handwritten     flexBool          `json:"handwritten"`
	HasStampOrSign  flexBool          `json:"has_stamp_or_signature"`
	AppearsAltered  flexBool          `json:"appears_altered"`
}

type taxBreakupDTO struct {
	CGST     flexFloat `json:"cgst"`
	SGST     flexFloat `json:"sgst"`
	IGST     flexFloat `json:"igst"`
	TotalGST flexFloat `json:"total_gst"`
}

type travelDetailsDTO struct {
	PassengerName flexString `json:"passenger_name"`
	FromLocation  flexString `json:"from_location"`
	ToLocation    flexString `json:"to_location"`
	TravelDate    flexString `json:"travel_date"`
	PNRNumber     flexString `json:"pnr_number"`
}

type hotelDetailsDTO struct {
	GuestName flexString `json:"guest_name"`
	CheckIn   flexString `json:"check_in"`
	CheckOut  flexString `json:"check_out"`
	City      flexString `json:"city"`
}

type lineItemDTO struct {
	Description flexString `json:"description"`
	Amount      flexFloat  `json:"amount"`
}

func (d fieldsDTO) toFields() invoice.Fields {
	f := invoice.Fields{
		MerchantName:    d.MerchantName.ptr(),
		MerchantAddress: d.MerchantAddress.ptr(),
		MerchantContact: d.MerchantContact.ptr(),
		InvoiceNumber:   d.InvoiceNumber.ptr(),
		InvoiceDate:     d.InvoiceDate.ptr(),
		BuyerName:       d.BuyerName.ptr(),
		EmployeeID:      d.EmployeeID.ptr(),
		Description:     d.Description.ptr(),
		Amount:          d.Amount.ptr(),
		Currency:        d.Currency.ptr(),
		GSTIN:           d.GSTIN.ptr(),
		PaymentProof:    d.PaymentProof.ptr(),
		Handwritten:     d.Handwritten.ptr(),
		HasStampOrSign:  d.HasStampOrSign.ptr(),
		AppearsAltered:  d.AppearsAltered.ptr(),
	}
	if s := d.InvoiceType.ptr(); s != nil {
		f.InvoiceType = invoice.ParseType(*s)
	}
	if t := d.TaxBreakup; t != nil {
		f.TaxBreakup = &invoice.TaxBreakup{
			CGST:     t.CGST.ptr(),
			SGST:     t.SGST.ptr(),
			IGST:     t.IGST.ptr(),
			TotalGST: t.TotalGST.ptr(),
		}
	}
	if t := d.TravelDetails; t != nil {
		f.TravelDetails = &invoice.TravelDetails{
			PassengerName: t.PassengerName.ptr(),
			FromLocation:  t.FromLocation.ptr(),
			ToLocation:    t.ToLocation.ptr(),
			TravelDate:    t.TravelDate.ptr(),
			PNRNumber:     t.PNRNumber.ptr(),
		}
	}
	if h := d.HotelDetails; h != nil {
		f.HotelDetails = &invoice.HotelDetails{
			GuestName: h.GuestName.ptr(),
			CheckIn:   h.CheckIn.ptr(),
			CheckOut:  h.CheckOut.ptr(),
			City:      h.City.ptr(),
		}
	}
	for _, li := range d.LineItems {
		desc := ""
		if s := li.Description.ptr(); s != nil {
			desc = *s
		}
		f.LineItems = append(f.LineItems, invoice.LineItem{Description: desc, Amount: li.Amount.ptr()})
	}
	return f
}

// flexString accepts a JSON string or number. Anything else decodes as null.
type flexString struct {
	v  string
	ok bool
}

func (s *flexString) UnmarshalJSON(b []byte) error {
	*s = flexString{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == 'n' {
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return nil
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return nil
		}
		*s = flexString{v: v, ok: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*s = flexString{v: n.String(), ok: true}
	}
	return nil
}

func (s flexString) ptr() *string {
	if !s.ok {
		return nil
	}
	v := s.v
	return &v
}

// flexFloat accepts a JSON number or a string such as "₹5,400.00".
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = flexFloat{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == 'n' {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if v, ok := parseAmount(s); ok {
			*f = flexFloat{v: v, ok: true}
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flexFloat{v: v, ok: true}
	}
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.ok {
		return nil
	}
	v := f.v
	return &v
}

// parseAmount keeps digits, sign and decimal point, dropping currency
// symbols, codes and thousands separators.
func parseAmount(s string) (float64, bool) {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			sb.WriteRune(r)
		}
	}
	v, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// flexBool accepts true/false or the strings "true", "yes", "false", "no".
type flexBool struct {
	v  bool
	ok bool
}

func (f *flexBool) UnmarshalJSON(b []byte) error {
	*f = flexBool{}
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	switch v := raw.(type) {
	case bool:
		*f = flexBool{v: v, ok: true}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			*f = flexBool{v: true, ok: true}
		case "false", "no":
			*f = flexBool{v: false, ok: true}
		}
	}
	return nil
}

func (f flexBool) ptr() *bool {
	if !f.ok {
		return nil
	}
	v := f.v
	return &v
}
