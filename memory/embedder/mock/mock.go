package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder is a deterministic bag-of-words embedder for tests and offline
// use. Each lower-cased token is hashed into a bucket, so texts that share
// tokens have positive cosine similarity and identical token sets are
// identical vectors.
type Embedder struct {
	dimensions int
}

// DefaultDimensions keeps bucket collisions rare for short texts.
const DefaultDimensions = 512

// New creates a new mock embedder. dimensions <= 0 selects DefaultDimensions.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Embed creates a deterministic embedding from text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, m.dimensions)
	for _, tok := range Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		embedding[h.Sum64()%uint64(m.dimensions)]++
	}

	// Empty text still needs a non-zero vector for cosine similarity
	if isZero(embedding) {
		embedding[0] = 1
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// Tokenize lower-cases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}

	return normalized
}
