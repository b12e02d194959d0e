package compliance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/policyguard/internal/invoice"
)

func TestBuildQueries_AllSignals(t *testing.T) {
	got := BuildQueries(hotelFields(), "ignored")

	require.Len(t, got, 3)
	assert.Equal(t, "hotel expense policy allowances and limits", got[0])
	assert.Equal(t, "spending limit and approval requirement for hotel expenses between 10,000 and 50,000 INR", got[1])
	assert.Equal(t, "Room stay, 2 nights Taj Hotels", got[2])
}

func TestBuildQueries_SparseFields(t *testing.T) {
	got := BuildQueries(invoice.Fields{}, "  Cab ride\n from airport  ")

	assert.Equal(t, []string{
		"general expense policy allowances and limits",
		"Cab ride from airport",
	}, got)
}

func TestBuildQueries_OtherTypeIsGeneral(t *testing.T) {
	typ := invoice.TypeOther
	got := BuildQueries(invoice.Fields{InvoiceType: &typ, Amount: fltp(250)}, "")

	require.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[0], "general"))
	assert.Contains(t, got[1], "under 1,000 INR")
}

func TestBuildQueries_LongDescriptionTruncated(t *testing.T) {
	desc := strings.Repeat("a", 500)
	got := BuildQueries(invoice.Fields{Description: &desc}, "")

	require.Len(t, got, 2)
	assert.Len(t, got[1], maxQueryDescription)
}

func TestAmountBucket(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{0, "under 1,000"},
		{999.99, "under 1,000"},
		{1000, "between 1,000 and 10,000"},
		{49999, "between 10,000 and 50,000"},
		{50000, "above 50,000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, amountBucket(tt.amount), "amount %v", tt.amount)
	}
}
