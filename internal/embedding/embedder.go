package embedding

import (
	"context"
	"fmt"
	"math"

	"kb/internal/domain"
)

// Embedder converts text into fixed-dimension vectors. Embed must return one
// vector per input text, in input order.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Progress is called after every completed batch.
type Progress func(done, total int)

// DefaultBatchSize is used when a non-positive batch size is requested.
const DefaultBatchSize = 32

// EmbedAll embeds texts in consecutive batches of batchSize and concatenates
// the results, so output order always matches input order. Any batch failure
// aborts the whole call with an error wrapping domain.ErrEmbedding; a batch
// answered with no vectors at all also wraps domain.ErrNoVectors.
func EmbedAll(ctx context.Context, e Embedder, texts []string, batchSize int, progress Progress) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	out := make([][]float32, 0, len(texts))
	dim := 0
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch := texts[start:end]
		vecs, err := e.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d: %w", domain.ErrEmbedding, start/batchSize, err)
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("%w: %w: batch %d", domain.ErrEmbedding, domain.ErrNoVectors, start/batchSize)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("%w: batch %d: got %d vectors for %d texts", domain.ErrEmbedding, start/batchSize, len(vecs), len(batch))
		}
		for _, v := range vecs {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) == 0 || len(v) != dim {
				return nil, fmt.Errorf("%w: batch %d: inconsistent vector dimension %d (want %d)", domain.ErrEmbedding, start/batchSize, len(v), dim)
			}
		}
		out = append(out, vecs...)
		if progress != nil {
			progress(len(out), len(texts))
		}
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func EmbedQuery(ctx context.Context, e Embedder, query string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one query", domain.ErrEmbedding, len(vecs))
	}
	return vecs[0], nil
}

// L2Normalize scales v to unit length in place. Zero vectors are left as is.
func L2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
