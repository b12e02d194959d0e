package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/policyguard/internal/retrieval"
)

func match(id, section, content string, score float32) retrieval.Match {
	return retrieval.Match{
		PolicyChunk: retrieval.PolicyChunk{
			ID:           id,
			DocumentName: "policy.pdf",
			Section:      section,
			Content:      content,
		},
		Score: score,
	}
}

func TestCompose_Empty(t *testing.T) {
	c := New(4000)
	text, used := c.Compose(nil)
	if text != "" || used != nil {
		t.Errorf("Compose(nil) = %q, %v; want empty", text, used)
	}
}

func TestCompose_SectionsAppended(t *testing.T) {
	c := New(4000)
	text, used := c.Compose([]retrieval.Match{
		match("a", "Meal Allowance", "Meals are capped at 1500 per day.", 0.7),
		match("b", "Travel Policy", "Economy class only.", 0.9),
	})

	if !strings.HasPrefix(text, "[Policy Sections]\n") {
		t.Errorf("missing header: %q", text)
	}
	if len(used) != 2 {
		t.Fatalf("len(used) = %d, want 2", len(used))
	}
	if used[0].ID != "b" {
		t.Errorf("used[0] = %q, want highest score first", used[0].ID)
	}
	if strings.Index(text, "Travel Policy") > strings.Index(text, "Meal Allowance") {
		t.Error("higher scoring section should come first")
	}
	if !strings.Contains(text, "Source: policy.pdf, Similarity: 0.90") {
		t.Errorf("missing source annotation: %q", text)
	}
}

func TestCompose_TokenBudget(t *testing.T) {
	c := New(50) // very tight budget ~200 chars

	matches := make([]retrieval.Match, 20)
	for i := range matches {
		matches[i] = match("id", "S", strings.Repeat("x", 100), float32(20-i)/20.0)
	}

	text, _ := c.Compose(matches)
	if tokens := EstimateTokens(text); tokens > 50 {
		t.Errorf("context exceeds token budget: %d tokens", tokens)
	}
}

func TestCompose_LowestScoringMatchDropped(t *testing.T) {
	// Budget allows one match but not two.
	c := New(60) // ~240 chars

	text, used := c.Compose([]retrieval.Match{
		match("b", "B", strings.Repeat("B", 80), 0.5),
		match("a", "A", strings.Repeat("A", 80), 0.9),
	})

	if !strings.Contains(text, strings.Repeat("A", 80)) {
		t.Error("expected high-scoring match A to be kept")
	}
	if strings.Contains(text, strings.Repeat("B", 80)) {
		t.Error("expected low-scoring match B to be dropped")
	}
	if len(used) != 1 || used[0].ID != "a" {
		t.Errorf("used = %+v, want only a", used)
	}
}

func TestCompose_Sentinel(t *testing.T) {
	c := New(4000)
	s := retrieval.Match{
		PolicyChunk: retrieval.PolicyChunk{Section: retrieval.SectionNoPolicy, Content: retrieval.ContentNoPolicy},
		Sentinel:    true,
	}
	text, used := c.Compose([]retrieval.Match{s})
	if !strings.Contains(text, "### No Policy\nNo policy documents found in knowledge base.") {
		t.Errorf("sentinel not rendered: %q", text)
	}
	if strings.Contains(text, "Similarity") {
		t.Errorf("sentinel should not carry a similarity: %q", text)
	}
	if len(used) != 1 || !used[0].Sentinel {
		t.Errorf("used = %+v", used)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"hello world", 3},
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
	}

	for _, tt := range tests {
		got := EstimateTokens(tt.input)
		if got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
