package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/policyguard/internal/engine"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of texts sent per embedding call.
const DefaultBatchSize = 10

// EmbedderConfig tunes batching and pacing of embedding calls.
type EmbedderConfig struct {
	// BatchSize caps texts per call. Zero means DefaultBatchSize.
	BatchSize int
	// Rate is the number of calls allowed per second. Zero disables pacing.
	Rate float64
	// Dimensions, when positive, is enforced on every returned vector.
	Dimensions int
}

// Embedder wraps an Engine to generate text embeddings in paced batches.
type Embedder struct {
	engine     engine.Engine
	model      string
	batchSize  int
	dimensions int
	limiter    *rate.Limiter
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string, cfg EmbedderConfig) *Embedder {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}
	return &Embedder{
		engine:     e,
		model:      model,
		batchSize:  batch,
		dimensions: cfg.Dimensions,
		limiter:    limiter,
	}
}

// BatchSize reports how many texts go into one embedding call.
func (e *Embedder) BatchSize() int {
	return e.batchSize
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.call(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text in input order. Inputs larger than
// the batch size are split into calls that run concurrently, each waiting on
// the rate limiter. Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(2) // Bound concurrency to avoid overwhelming the engine.

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.call(gCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Embedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vecs, err := e.engine.Embed(ctx, e.model, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty vector for text %d", i)
		}
		if e.dimensions > 0 && len(v) != e.dimensions {
			return nil, fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), e.dimensions)
		}
	}
	return vecs, nil
}
