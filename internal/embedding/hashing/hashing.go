package hashing

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"

	"kb/internal/embedding"
)

// DefaultDimension is used when Options.Dimension is not positive.
const DefaultDimension = 512

// Options configures the hashing embedder.
type Options struct {
	Dimension int
	Normalize bool
}

// Embedder implements a signed feature-hashing vectorizer. Latin words become
// unigram features; runs of Han ideographs contribute single-character and
// bigram features. It needs no corpus preparation, so vectors stay comparable
// across process restarts and index reloads.
type Embedder struct {
	dimension    int
	normalize    bool
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewEmbedder creates a hashing embedder.
func NewEmbedder(opts Options) *Embedder {
	dim := opts.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{
		dimension:    dim,
		normalize:    opts.Normalize,
		tokenPattern: regexp.MustCompile(`\p{Han}+|[\p{L}\p{N}]+(?:['’]\p{L}+)*`),
		stopwords:    defaultStopwords(),
	}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes one vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *Embedder) embed(text string) []float32 {
	vec := make([]float32, e.dimension)
	tokens := e.tokenize(text)
	if len(tokens) == 0 {
		return vec
	}
	weight := 1 / float32(len(tokens))
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % uint32(e.dimension))
		if sum&(1<<31) != 0 {
			vec[idx] -= weight
		} else {
			vec[idx] += weight
		}
	}
	if e.normalize {
		embedding.L2Normalize(vec)
	}
	return vec
}

func (e *Embedder) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := e.tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	var out []string
	for _, t := range raw {
		if r := []rune(t); unicode.Is(unicode.Han, r[0]) {
			for i := range r {
				out = append(out, string(r[i]))
				if i+1 < len(r) {
					out = append(out, string(r[i:i+2]))
				}
			}
			continue
		}
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
