package compliance

import (
	"fmt"
	"strings"

	"github.com/kalambet/policyguard/internal/invoice"
)

const maxQueryDescription = 200

// BuildQueries formulates the retrieval queries for an invoice: one for its
// expense category, one for its amount range and one for what was bought.
// Duplicates are dropped and order is stable.
func BuildQueries(f invoice.Fields, rawText string) []string {
	var out []string
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" {
			return
		}
		for _, existing := range out {
			if strings.EqualFold(existing, q) {
				return
			}
		}
		out = append(out, q)
	}

	category := "general"
	if f.InvoiceType != nil && *f.InvoiceType != invoice.TypeOther {
		category = string(*f.InvoiceType)
	}
	add(fmt.Sprintf("%s expense policy allowances and limits", category))

	if f.Amount != nil {
		currency := "INR"
		if f.Currency != nil && strings.TrimSpace(*f.Currency) != "" {
			currency = strings.TrimSpace(*f.Currency)
		}
		add(fmt.Sprintf("spending limit and approval requirement for %s expenses %s %s", category, amountBucket(*f.Amount), currency))
	}

	switch {
	case f.Description != nil && strings.TrimSpace(*f.Description) != "":
		desc := truncate(*f.Description, maxQueryDescription)
		if f.MerchantName != nil {
			desc += " " + *f.MerchantName
		}
		add(desc)
	default:
		add(truncate(rawText, maxQueryDescription))
	}

	return out
}

// amountBucket names the range an amount falls in. The boundaries follow the
// usual approval tiers of an expense policy.
func amountBucket(amount float64) string {
	switch {
	case amount < 1000:
		return "under 1,000"
	case amount < 10000:
		return "between 1,000 and 10,000"
	case amount < 50000:
		return "between 10,000 and 50,000"
	}
	return "above 50,000"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
