package reranking

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/policyguard/internal/engine"
	"github.com/kalambet/policyguard/internal/llmjson"
	"github.com/kalambet/policyguard/internal/retrieval"
)

const defaultConcurrency = 3

// Reranker re-scores retrieved policy matches by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, matches []retrieval.Match) ([]retrieval.Match, error)
}

// NewReranker returns an LLMReranker if enabled and eng is non-nil,
// NoOpReranker otherwise.
//
// topK controls the early-return threshold: once topK matches have been scored,
// the reranker returns that subset immediately without waiting for remaining
// matches. Set topK to 0 (or >= len(matches)) to disable early return.
func NewReranker(eng engine.Engine, model string, enabled bool, timeout time.Duration, threshold float64, topK int) Reranker {
	if !enabled || eng == nil {
		return &NoOpReranker{}
	}
	return &LLMReranker{
		engine:    eng,
		model:     model,
		timeout:   timeout,
		threshold: threshold,
		topK:      topK,
	}
}

// LLMReranker asks the chat model to score (query, policy section) pairs.
// Scoring runs concurrently (bounded to defaultConcurrency goroutines).
// Results are filtered by threshold and sorted by score descending.
// Sentinel matches are never scored and are returned unchanged.
type LLMReranker struct {
	engine    engine.Engine
	model     string
	timeout   time.Duration
	threshold float64
	topK      int // early-return threshold; 0 = score all
}

// Rerank scores each match against the query and returns a filtered, sorted
// result set. If the timeout fires before scoring completes, the original
// order is returned unchanged.
func (r *LLMReranker) Rerank(ctx context.Context, query string, matches []retrieval.Match) ([]retrieval.Match, error) {
	if len(matches) == 0 || hasSentinel(matches) {
		return matches, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Early return fires when topK > 0 and topK < len(matches).
	earlyReturnAt := r.topK
	if earlyReturnAt <= 0 || earlyReturnAt >= len(matches) {
		earlyReturnAt = 0
	}

	// Buffered channel prevents goroutines from blocking on send after we stop reading.
	results := make(chan retrieval.Match, len(matches))
	sem := make(chan struct{}, defaultConcurrency)

	var wg sync.WaitGroup
	for _, m := range matches {
		wg.Add(1)
		go func(match retrieval.Match) {
			defer wg.Done()
			// Acquire concurrency slot or bail on cancellation.
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.scoreMatch(timeoutCtx, query, match)
			if err != nil {
				if timeoutCtx.Err() != nil {
					return
				}
				slog.Debug("reranker: score failed, retaining original", "error", err)
				results <- match
				return
			}
			match.Score = float32(score)
			results <- match
		}(m)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	scored := make([]retrieval.Match, 0, len(matches))
collect:
	for {
		select {
		case m, ok := <-results:
			if !ok {
				break collect
			}
			scored = append(scored, m)
			if earlyReturnAt > 0 && len(scored) >= earlyReturnAt {
				cancel()
				break collect
			}
		case <-timeoutCtx.Done():
			slog.Warn("reranker: timed out, keeping retrieval order", "scored", len(scored), "total", len(matches))
			return matches, nil
		}
	}

	if len(scored) == 0 {
		return matches, nil
	}

	filtered := make([]retrieval.Match, 0, len(scored))
	for _, m := range scored {
		if float64(m.Score) >= r.threshold {
			filtered = append(filtered, m)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})

	return filtered, nil
}

func (r *LLMReranker) scoreMatch(ctx context.Context, query string, match retrieval.Match) (float64, error) {
	prompt := "Rate how relevant the following expense policy section is to the invoice query on a scale of 0.0 to 1.0.\n" +
		"Query: " + query + "\n" +
		"Section: " + match.Section + "\n" +
		"Text: " + match.Content + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	schema := &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"score": {Type: "number", Description: "Relevance score 0.0-1.0"},
		},
		Required: []string{"score"},
	}

	resp, err := r.engine.Chat(ctx, r.model, []engine.Message{
		{Role: "user", Content: prompt},
	}, schema)
	if err != nil {
		return float64(match.Score), err
	}

	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := llmjson.Decode(resp, &obj); err != nil || obj.Score == nil {
		slog.Debug("reranker: parse failed, using original score", "resp", resp, "error", err)
		return float64(match.Score), nil
	}
	return *obj.Score, nil
}

func hasSentinel(matches []retrieval.Match) bool {
	for _, m := range matches {
		if m.Sentinel {
			return true
		}
	}
	return false
}

// NoOpReranker passes matches through unchanged. Used when reranking is disabled.
type NoOpReranker struct{}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, matches []retrieval.Match) ([]retrieval.Match, error) {
	return matches, nil
}
