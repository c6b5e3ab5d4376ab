package docstore

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Embedder turns text into vectors. The remote client implements this;
// ChargramEmbedder is the offline fallback so ingestion keeps working
// without API access.
type Embedder interface {
	ModelID() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const chargramModelID = "chargram-384-v1"

// SelectEmbedder picks the embedder for a configured model name: the
// remote client when a real embeddings model is named, the offline
// chargram embedder when the name is empty or the chargram id itself.
func SelectEmbedder(model string, remote Embedder) Embedder {
	model = strings.TrimSpace(model)
	if remote == nil || model == "" || model == chargramModelID {
		return NewChargramEmbedder()
	}
	return remote
}

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// ChargramEmbedder hashes character trigrams and word tokens into a
// fixed-size vector. Crude next to a learned model, but deterministic,
// dependency-free and good enough for lexical similarity.
type ChargramEmbedder struct {
	dims int
}

func NewChargramEmbedder() *ChargramEmbedder {
	return &ChargramEmbedder{dims: 384}
}

func (e *ChargramEmbedder) ModelID() string { return chargramModelID }

func (e *ChargramEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *ChargramEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dims)
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return vec
	}
	window := "#" + normalized + "#"
	for i := 0; i+3 <= len(window); i++ {
		gram := window[i : i+3]
		h := fnv.New64a()
		_, _ = h.Write([]byte(gram))
		sum := h.Sum64()
		vec[int(sum%uint64(e.dims))] += 1
	}
	// Whole tokens weigh slightly more than their trigrams.
	for _, token := range tokenize(normalized) {
		h := fnv.New64a()
		_, _ = h.Write([]byte("tok:" + token))
		sum := h.Sum64()
		vec[int(sum%uint64(e.dims))] += 1.25
	}
	normalizeVector(vec)
	return vec
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	matches := tokenPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}
	return matches
}

func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range vec {
		vec[i] *= inv
	}
}

// cosineSimilarity assumes normalized inputs, so the dot product is the
// cosine.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i] * b[i])
	}
	return dot
}
