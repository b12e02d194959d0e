package compliance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/policyguard/internal/engine"
	"github.com/kalambet/policyguard/internal/invoice"
	"github.com/kalambet/policyguard/internal/retrieval"
)

type mockChatter struct {
	response string
	err      error
	delay    time.Duration

	mu       sync.Mutex
	messages []engine.Message
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	m.mu.Lock()
	m.messages = messages
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func (m *mockChatter) prompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) < 2 {
		return ""
	}
	return m.messages[1].Content
}

type searchCall struct {
	query     string
	companyID string
	limit     int
}

type mockSearcher struct {
	results func(query string) []retrieval.Match

	mu    sync.Mutex
	calls []searchCall
}

func (m *mockSearcher) Search(_ context.Context, query, companyID string, limit int) []retrieval.Match {
	m.mu.Lock()
	m.calls = append(m.calls, searchCall{query: query, companyID: companyID, limit: limit})
	m.mu.Unlock()
	return m.results(query)
}

type filterAllReranker struct{}

func (filterAllReranker) Rerank(context.Context, string, []retrieval.Match) ([]retrieval.Match, error) {
	return []retrieval.Match{}, nil
}

func policyMatch(id, section, content string, score float32) retrieval.Match {
	return retrieval.Match{
		PolicyChunk: retrieval.PolicyChunk{ID: id, DocumentName: "policy.pdf", Section: section, Content: content},
		Score:       score,
	}
}

func strp(s string) *string   { return &s }
func fltp(f float64) *float64 { return &f }

func hotelFields() invoice.Fields {
	typ := invoice.TypeHotel
	return invoice.Fields{
		MerchantName: strp("Taj Hotels"),
		Description:  strp("Room stay, 2 nights"),
		Amount:       fltp(18000),
		Currency:     strp("INR"),
		InvoiceType:  &typ,
	}
}

func newTestChecker(chat Chatter, s Searcher) *Checker {
	return NewChecker(chat, s, nil, Config{Model: "gpt-4o", TopK: 5, Timeout: time.Second})
}

func fixedResults(ms ...retrieval.Match) func(string) []retrieval.Match {
	return func(string) []retrieval.Match { return ms }
}

func TestCheck_ParsesAndNormalises(t *testing.T) {
	searcher := &mockSearcher{results: fixedResults(
		policyMatch("c1", "Hotel Accommodation", "Hotel stays are capped at 7000 per night.", 0.82),
		policyMatch("c2", "Approval Matrix", "Expenses above 10000 need manager approval.", 0.71),
	)}
	chat := &mockChatter{response: `{"is_compliant": false,
	  "policy_violations": [{"rule": "Hotel cap", "description": "9000 per night exceeds 7000", "severity": "HIGH"},
	                        {"rule": "Approval", "violation": "No approval attached", "severity": "urgent"}],
	  "risk_score": 130,
	  "recommendations": ["Attach manager approval", " "],
	  "relevant_policy_sections": ["hotel accommodation", "Invented Section"]}`}

	got := newTestChecker(chat, searcher).Check(context.Background(), hotelFields(), "raw", "acme")

	assert.False(t, got.IsCompliant)
	assert.Equal(t, 100.0, got.RiskScore)
	require.Len(t, got.Violations, 2)
	assert.Equal(t, invoice.Violation{Rule: "Hotel cap", Description: "9000 per night exceeds 7000", Severity: invoice.SeverityHigh}, got.Violations[0])
	assert.Equal(t, "No approval attached", got.Violations[1].Description)
	assert.Equal(t, invoice.SeverityMedium, got.Violations[1].Severity)
	assert.Equal(t, []string{"Attach manager approval"}, got.Recommendations)
	assert.Equal(t, []string{"Hotel Accommodation"}, got.RelevantPolicySections)

	prompt := chat.prompt()
	assert.Contains(t, prompt, "### Hotel Accommodation")
	assert.Contains(t, prompt, `"merchant_name": "Taj Hotels"`)
	assert.Contains(t, prompt, "RAW INVOICE TEXT:\nraw")
}

func TestCheck_QueriesScopedAndConcurrent(t *testing.T) {
	searcher := &mockSearcher{results: fixedResults(policyMatch("c1", "Travel", "x", 0.9))}
	chat := &mockChatter{response: `{"is_compliant": true, "policy_violations": [], "risk_score": 10, "recommendations": [], "relevant_policy_sections": []}`}

	newTestChecker(chat, searcher).Check(context.Background(), hotelFields(), "raw", "acme")

	queries := BuildQueries(hotelFields(), "raw")
	require.Len(t, searcher.calls, len(queries))
	got := make([]string, 0, len(searcher.calls))
	for _, c := range searcher.calls {
		assert.Equal(t, "acme", c.companyID)
		assert.Equal(t, 5, c.limit)
		got = append(got, c.query)
	}
	assert.ElementsMatch(t, queries, got)
}

func TestCheck_EmptyKnowledgeBaseDoesNotFabricateSections(t *testing.T) {
	searcher := &mockSearcher{results: fixedResults(retrieval.NoPolicy())}
	chat := &mockChatter{response: `{"is_compliant": true, "policy_violations": [], "risk_score": 30,
	  "recommendations": ["Upload a policy"], "relevant_policy_sections": ["Travel Policy"]}`}

	got := newTestChecker(chat, searcher).Check(context.Background(), hotelFields(), "raw", "")

	assert.Equal(t, []string{}, got.RelevantPolicySections)
	assert.Contains(t, chat.prompt(), retrieval.ContentNoPolicy)
}

func TestCheck_UnknownSectionsFallBackToRetrieved(t *testing.T) {
	searcher := &mockSearcher{results: fixedResults(
		policyMatch("c1", "Meals", "a", 0.8),
		policyMatch("c2", "Travel", "b", 0.7),
	)}
	chat := &mockChatter{response: `{"is_compliant": true, "policy_violations": [], "risk_score": 20,
	  "recommendations": [], "relevant_policy_sections": ["Something Else"]}`}

	got := newTestChecker(chat, searcher).Check(context.Background(), hotelFields(), "raw", "")
	assert.Equal(t, []string{"Meals", "Travel"}, got.RelevantPolicySections)
}

func TestCheck_MalformedOutputYieldsFallback(t *testing.T) {
	searcher := &mockSearcher{results: fixedResults(policyMatch("c1", "Meals", "a", 0.8))}
	chat := &mockChatter{response: "I think this is fine."}

	got := newTestChecker(chat, searcher).Check(context.Background(), hotelFields(), "raw", "")
	assert.Equal(t, invoice.FallbackCompliance(), got)
}

func TestCheck_MissingRiskScoreYieldsFallback(t *testing.T) {
	searcher := &mockSearcher{results: fixedResults(policyMatch("c1", "Meals", "a", 0.8))}
	chat := &mockChatter{response: `{"is_compliant": true, "policy_violations": []}`}

	got := newTestChecker(chat, searcher).Check(context.Background(), hotelFields(), "raw", "")
	assert.Equal(t, invoice.FallbackCompliance(), got)
}

func TestCheck_ChatErrorYieldsFallback(t *testing.T) {
	searcher := &mockSearcher{results: fixedResults(policyMatch("c1", "Meals", "a", 0.8))}
	chat := &mockChatter{err: errors.New("rate limited")}

	got := newTestChecker(chat, searcher).Check(context.Background(), hotelFields(), "raw", "")
	assert.Equal(t, invoice.FallbackCompliance(), got)
}

func TestCheck_TimeoutYieldsFallback(t *testing.T) {
	searcher := &mockSearcher{results: fixedResults(policyMatch("c1", "Meals", "a", 0.8))}
	chat := &mockChatter{response: `{"is_compliant": true, "risk_score": 0}`, delay: 5 * time.Second}
	c := NewChecker(chat, searcher, nil, Config{Model: "gpt-4o", Timeout: 50 * time.Millisecond})

	start := time.Now()
	got := c.Check(context.Background(), hotelFields(), "raw", "")

	assert.Equal(t, invoice.FallbackCompliance(), got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCheck_RerankerFilteringEverythingSubstitutesNoResults(t *testing.T) {
	searcher := &mockSearcher{results: fixedResults(policyMatch("c1", "Meals", "a", 0.8))}
	chat := &mockChatter{response: `{"is_compliant": true, "policy_violations": [], "risk_score": 20, "recommendations": [], "relevant_policy_sections": []}`}
	c := NewChecker(chat, searcher, filterAllReranker{}, Config{Model: "gpt-4o"})

	got := c.Check(context.Background(), hotelFields(), "raw", "")

	assert.Contains(t, chat.prompt(), retrieval.ContentNoResults)
	assert.Equal(t, []string{}, got.RelevantPolicySections)
}

func TestRetrieve_MergesAndDeduplicates(t *testing.T) {
	searcher := &mockSearcher{results: func(q string) []retrieval.Match {
		if q == "first" {
			return []retrieval.Match{policyMatch("c1", "Meals", "a", 0.6), policyMatch("c2", "Travel", "b", 0.7)}
		}
		return []retrieval.Match{policyMatch("c1", "Meals", "a", 0.9), retrieval.NoResults()}
	}}
	c := newTestChecker(&mockChatter{}, searcher)

	got := c.retrieve(context.Background(), []string{"first", "second"}, "")

	require.Len(t, got, 2)
	byID := map[string]float32{}
	for _, m := range got {
		assert.False(t, m.Sentinel)
		byID[m.ID] = m.Score
	}
	assert.Equal(t, float32(0.9), byID["c1"])
	assert.Equal(t, float32(0.7), byID["c2"])
}

func TestRetrieve_NoPolicyWinsOverNoResults(t *testing.T) {
	searcher := &mockSearcher{results: func(q string) []retrieval.Match {
		if q == "first" {
			return []retrieval.Match{retrieval.NoResults()}
		}
		return []retrieval.Match{retrieval.NoPolicy()}
	}}
	c := newTestChecker(&mockChatter{}, searcher)

	got := c.retrieve(context.Background(), []string{"first", "second"}, "")

	require.Len(t, got, 1)
	assert.True(t, got[0].Sentinel)
	assert.Equal(t, retrieval.SectionNoPolicy, got[0].Section)
}
