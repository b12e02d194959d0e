// Package compliance retrieves the policy sections relevant to an invoice and
// asks a chat model to judge the invoice against them.
package compliance

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/policyguard/internal/composer"
	"github.com/kalambet/policyguard/internal/engine"
	"github.com/kalambet/policyguard/internal/invoice"
	"github.com/kalambet/policyguard/internal/llmjson"
	"github.com/kalambet/policyguard/internal/reranking"
	"github.com/kalambet/policyguard/internal/retrieval"
)

// Defaults applied by NewChecker.
const (
	DefaultTimeout    = 60 * time.Second
	defaultQueryLimit = 3
)

// Chatter is the interface for chat completion.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Searcher finds policy sections for a query. Implementations never return an
// empty slice; see retrieval.Searcher.
type Searcher interface {
	Search(ctx context.Context, query, companyID string, limit int) []retrieval.Match
}

// Config holds the tunables of a Checker.
type Config struct {
	Model            string
	TopK             int
	Timeout          time.Duration
	MaxContextTokens int
}

// Checker runs the policy compliance stage.
type Checker struct {
	client   Chatter
	searcher Searcher
	reranker reranking.Reranker
	composer *composer.Composer
	model    string
	topK     int
	timeout  time.Duration
}

// NewChecker creates a Checker. A nil reranker disables reranking.
func NewChecker(client Chatter, searcher Searcher, rr reranking.Reranker, cfg Config) *Checker {
	if rr == nil {
		rr = &reranking.NoOpReranker{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		client:   client,
		searcher: searcher,
		reranker: rr,
		composer: composer.New(cfg.MaxContextTokens),
		model:    cfg.Model,
		topK:     cfg.TopK,
		timeout:  timeout,
	}
}

// Check evaluates the invoice against the company's policies. It never fails:
// chat errors, timeouts and unusable output yield invoice.FallbackCompliance.
func (c *Checker) Check(ctx context.Context, f invoice.Fields, rawText, companyID string) invoice.PolicyCompliance {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	queries := BuildQueries(f, rawText)
	matches := c.retrieve(ctx, queries, companyID)

	ranked, err := c.reranker.Rerank(ctx, strings.Join(queries, "\n"), matches)
	if err != nil {
		slog.Warn("reranking policy sections failed, keeping retrieval order", "error", err)
		ranked = matches
	}
	if len(ranked) == 0 {
		ranked = []retrieval.Match{retrieval.NoResults()}
	}

	policyContext, used := c.composer.Compose(ranked)

	raw, err := c.client.Chat(ctx, c.model, BuildPrompt(f, rawText, policyContext), complianceSchema())
	if err != nil {
		slog.Warn("compliance check chat failed", "error", err)
		return invoice.FallbackCompliance()
	}

	var resp response
	if err := llmjson.Decode(raw, &resp); err != nil {
		slog.Warn("failed to parse compliance from LLM response", "error", err, "response", raw)
		return invoice.FallbackCompliance()
	}
	if resp.IsCompliant == nil || resp.RiskScore == nil {
		slog.Warn("compliance response is missing required fields", "response", raw)
		return invoice.FallbackCompliance()
	}

	return resp.toCompliance(sectionLabels(used))
}

// retrieve runs the queries concurrently and merges the results. Real matches
// are de-duplicated by chunk ID keeping the best score. Placeholders survive
// only when no query found anything real, and "No Policy" wins over
// "No Results" since it means the knowledge base itself is empty.
func (c *Checker) retrieve(ctx context.Context, queries []string, companyID string) []retrieval.Match {
	results := make([][]retrieval.Match, len(queries))

	var g errgroup.Group
	g.SetLimit(defaultQueryLimit)
	for i, q := range queries {
		g.Go(func() error {
			results[i] = c.searcher.Search(ctx, q, companyID, c.topK)
			return nil
		})
	}
	_ = g.Wait()

	var merged []retrieval.Match
	index := make(map[string]int)
	var placeholder *retrieval.Match
	for _, rs := range results {
		for _, m := range rs {
			if m.Sentinel {
				if placeholder == nil || m.Section == retrieval.SectionNoPolicy {
					p := m
					placeholder = &p
				}
				continue
			}
			if i, ok := index[m.ID]; ok {
				if m.Score > merged[i].Score {
					merged[i].Score = m.Score
				}
				continue
			}
			index[m.ID] = len(merged)
			merged = append(merged, m)
		}
	}

	if len(merged) == 0 {
		if placeholder != nil {
			return []retrieval.Match{*placeholder}
		}
		return []retrieval.Match{retrieval.NoResults()}
	}
	return merged
}

// sectionLabels returns the distinct section labels of real matches, in order.
func sectionLabels(matches []retrieval.Match) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if m.Sentinel || m.Section == "" {
			continue
		}
		key := strings.ToLower(m.Section)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m.Section)
	}
	return out
}

type response struct {
	IsCompliant     *bool          `json:"is_compliant"`
	Violations      []violationDTO `json:"policy_violations"`
	RiskScore       *float64       `json:"risk_score"`
	Recommendations []string       `json:"recommendations"`
	Sections        []string       `json:"relevant_policy_sections"`
}

// violationDTO accepts the explanation under either "violation" or
// "description".
type violationDTO struct {
	Rule        string `json:"rule"`
	Violation   string `json:"violation"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// toCompliance normalises the model output. Reported sections are kept only
// when they name a section that was actually retrieved; if none do, every
// retrieved section is reported instead.
func (r response) toCompliance(retrieved []string) invoice.PolicyCompliance {
	out := invoice.PolicyCompliance{
		IsCompliant:            *r.IsCompliant,
		Violations:             []invoice.Violation{},
		RiskScore:              clamp(*r.RiskScore),
		Recommendations:        []string{},
		RelevantPolicySections: []string{},
	}

	for _, v := range r.Violations {
		desc := strings.TrimSpace(v.Violation)
		if desc == "" {
			desc = strings.TrimSpace(v.Description)
		}
		if desc == "" && strings.TrimSpace(v.Rule) == "" {
			continue
		}
		sev, ok := invoice.ParseSeverity(v.Severity)
		if !ok {
			slog.Debug("unknown violation severity, using medium", "severity", v.Severity)
		}
		out.Violations = append(out.Violations, invoice.Violation{
			Rule:        strings.TrimSpace(v.Rule),
			Description: desc,
			Severity:    sev,
		})
	}

	for _, rec := range r.Recommendations {
		if rec = strings.TrimSpace(rec); rec != "" {
			out.Recommendations = append(out.Recommendations, rec)
		}
	}

	for _, s := range r.Sections {
		for _, label := range retrieved {
			if strings.EqualFold(strings.TrimSpace(s), label) && !contains(out.RelevantPolicySections, label) {
				out.RelevantPolicySections = append(out.RelevantPolicySections, label)
			}
		}
	}
	if len(out.RelevantPolicySections) == 0 {
		out.RelevantPolicySections = append(out.RelevantPolicySections, retrieved...)
	}

	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
