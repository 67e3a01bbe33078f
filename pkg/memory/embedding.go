// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/sipeed/picoclaw/pkg/logger"
)

// EmbedFunc computes an embedding for one text; implementations are not
// required to be L2-normalized or cached, EmbeddingService handles both.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

const embeddingDimension = 256

// EmbeddingService implements the embed(text) -> (vector, model, cached)
// contract: L2-normalized vectors, a TTL cache keyed by text content, and a
// deterministic hash fallback used offline and in tests.
type EmbeddingService struct {
	mu       sync.Mutex
	cache    map[string]cacheEntry
	cacheTTL time.Duration
	real     EmbedFunc // nil when no provider credential is configured
	model    string
}

type cacheEntry struct {
	vector    []float32
	model     string
	expiresAt time.Time
}

// NewEmbeddingService builds a service. If real is nil, every call uses the
// deterministic fallback (used for tests and offline mode).
func NewEmbeddingService(real EmbedFunc, model string, cacheTTL time.Duration) *EmbeddingService {
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Minute
	}
	if model == "" {
		model = "fallback-hash"
	}
	return &EmbeddingService{
		cache:    map[string]cacheEntry{},
		cacheTTL: cacheTTL,
		real:     real,
		model:    model,
	}
}

// SetProvider swaps the real embedding function at runtime (e.g. when
// provider credentials are loaded after startup) and flushes the cache,
// since entries computed under a different provider are no longer valid.
func (s *EmbeddingService) SetProvider(real EmbedFunc, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.real = real
	if model != "" {
		s.model = model
	}
	s.cache = map[string]cacheEntry{}
}

// Embed returns (vector, model, cached) for text, per the spec's embedding
// contract. The vector is always unit length.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, string, bool, error) {
	s.mu.Lock()
	if entry, ok := s.cache[text]; ok && time.Now().Before(entry.expiresAt) {
		vec, model := entry.vector, entry.model
		s.mu.Unlock()
		return vec, model, true, nil
	}
	real := s.real
	model := s.model
	s.mu.Unlock()

	var vec []float32
	var err error
	if real != nil {
		vec, err = real(ctx, text)
		if err != nil {
			logger.WarnCF("memory", "real embedding provider failed, using fallback", map[string]interface{}{"error": err.Error()})
			vec = fallbackEmbed(text)
			model = "fallback-hash"
		}
	} else {
		vec = fallbackEmbed(text)
		model = "fallback-hash"
	}
	vec = l2Normalize(vec)

	s.mu.Lock()
	s.cache[text] = cacheEntry{vector: vec, model: model, expiresAt: time.Now().Add(s.cacheTTL)}
	s.mu.Unlock()

	return vec, model, false, nil
}

// fallbackEmbed hashes each word of the text into a fixed-dimension
// vector: texts sharing many words land in similar directions (cosine
// similarity > 0.8 for high lexical overlap), while unrelated texts are
// close to orthogonal (cosine similarity < 0.5), matching the spec's
// invariant for the deterministic offline provider.
func fallbackEmbed(text string) []float32 {
	vec := make([]float32, embeddingDimension)
	words := tokenize(text)
	if len(words) == 0 {
		vec[0] = 1
		return vec
	}
	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		// Fold the 32-byte digest into 8 uint32 buckets, each voting on one
		// dimension; a word therefore always lands on the same handful of
		// dimensions across calls, so shared words between two texts push
		// their vectors in the same directions.
		for j := 0; j < len(sum); j += 4 {
			bucket := binary.BigEndian.Uint32(sum[j : j+4])
			idx := int(bucket) % embeddingDimension
			sign := float32(1)
			if bucket%2 == 0 {
				sign = -1
			}
			vec[idx] += sign
		}
	}
	return vec
}

func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		out := make([]float32, len(vec))
		if len(out) > 0 {
			out[0] = 1
		}
		return out
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// CosineSimilarity computes cosine similarity between two equal-length,
// unit-normalized vectors (a plain dot product in that case).
func CosineSimilarity(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float32
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot
}
