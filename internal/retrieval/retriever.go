package retrieval

import (
	"context"
	"log/slog"
)

// Section labels and texts of the placeholder matches returned when search
// has nothing real to offer.
const (
	SectionNoResults = "No Results"
	ContentNoResults = "No relevant policy sections found for this query."
	SectionNoPolicy  = "No Policy"
	ContentNoPolicy  = "No policy documents found in knowledge base."
)

// Default search parameters.
const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.5
)

// SearcherConfig holds the ranking parameters of a Searcher.
type SearcherConfig struct {
	TopK          int
	MinSimilarity float32
}

// Searcher combines embedding and similarity search with a degradation
// chain so callers always receive at least one match.
type Searcher struct {
	embedder      *Embedder
	store         KnowledgeStore
	topK          int
	minSimilarity float32
}

// NewSearcher creates a Searcher backed by the given Embedder and KnowledgeStore.
func NewSearcher(embedder *Embedder, store KnowledgeStore, cfg SearcherConfig) *Searcher {
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Searcher{
		embedder:      embedder,
		store:         store,
		topK:          topK,
		minSimilarity: cfg.MinSimilarity,
	}
}

// Search returns policy chunks relevant to query, scoped to companyID when it
// is non-empty. limit overrides the configured top-K when positive.
//
// The result is never empty:
//   - ranked search with no hit above the similarity floor yields a single
//     "No Results" placeholder;
//   - when embedding or ranked search fails, up to top-K unranked chunks are
//     returned instead;
//   - when that fallback fails or finds nothing, a single "No Policy"
//     placeholder is returned.
func (s *Searcher) Search(ctx context.Context, query, companyID string, limit int) []Match {
	topK := s.topK
	if limit > 0 {
		topK = limit
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err == nil {
		var matches []Match
		matches, err = s.store.Search(ctx, vec, SearchOptions{
			TopK:          topK,
			MinSimilarity: s.minSimilarity,
			CompanyID:     companyID,
		})
		if err == nil {
			if len(matches) == 0 {
				return []Match{NoResults()}
			}
			return matches
		}
		slog.Warn("policy similarity search failed, falling back to unranked chunks", "error", err)
	} else {
		slog.Warn("embedding policy query failed, falling back to unranked chunks", "error", err)
	}

	chunks, err := s.store.Sample(ctx, companyID, topK)
	if err != nil {
		slog.Warn("unranked policy fallback failed", "error", err)
		return []Match{NoPolicy()}
	}
	if len(chunks) == 0 {
		return []Match{NoPolicy()}
	}
	matches := make([]Match, len(chunks))
	for i, c := range chunks {
		matches[i] = Match{PolicyChunk: c}
	}
	return matches
}

// NoResults is the placeholder for a ranked search with no hit.
func NoResults() Match { return sentinel(SectionNoResults, ContentNoResults) }

// NoPolicy is the placeholder for a knowledge base with nothing to offer.
func NoPolicy() Match { return sentinel(SectionNoPolicy, ContentNoPolicy) }

func sentinel(section, content string) Match {
	return Match{
		PolicyChunk: PolicyChunk{Section: section, Content: content},
		Sentinel:    true,
	}
}
