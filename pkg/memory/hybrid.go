// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package memory

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// tokenize lowercases and splits text into word/CJK-run tokens. Used by both
// the BM25 scorer here and the deterministic fallback embedding.
func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// bm25Scorer precomputes corpus statistics (average doc length, document
// frequency per term) once per search call so scoring each candidate is O(1)
// per query term, keeping the whole hybrid pass at O(N log N).
type bm25Scorer struct {
	avgDocLen float64
	docFreq   map[string]int
	docCount  int
}

func newBM25Scorer(docs map[string][]string) *bm25Scorer {
	s := &bm25Scorer{docFreq: map[string]int{}}
	var totalLen int
	for _, tokens := range docs {
		totalLen += len(tokens)
		seen := map[string]bool{}
		for _, t := range tokens {
			if !seen[t] {
				s.docFreq[t]++
				seen[t] = true
			}
		}
	}
	s.docCount = len(docs)
	if s.docCount > 0 {
		s.avgDocLen = float64(totalLen) / float64(s.docCount)
	}
	return s
}

// score computes the BM25 score of queryTokens against one document's
// tokens, normalized to roughly [0,1] by dividing by a fixed ceiling so it
// composes cleanly with the other [0,1]-ish terms in the composite score.
func (s *bm25Scorer) score(queryTokens, docTokens []string) float64 {
	if len(docTokens) == 0 || s.docCount == 0 {
		return 0
	}
	termFreq := map[string]int{}
	for _, t := range docTokens {
		termFreq[t]++
	}
	docLen := float64(len(docTokens))

	var total float64
	for _, qt := range queryTokens {
		df := s.docFreq[qt]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (float64(s.docCount)-float64(df)+0.5)/(float64(df)+0.5))
		tf := float64(termFreq[qt])
		denom := tf + bm25K1*(1-bm25B+bm25B*docLen/maxFloat(s.avgDocLen, 1))
		if denom == 0 {
			continue
		}
		total += idf * (tf * (bm25K1 + 1) / denom)
	}

	const ceiling = 10.0 // empirical cap for short fact-sized documents
	normalized := total / ceiling
	if normalized > 1 {
		normalized = 1
	}
	if normalized < 0 {
		normalized = 0
	}
	return normalized
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// typeWeight ranks lifecycle types as specified: pinned > profile > longTerm
// > midTerm > shortTerm.
func typeWeight(lifecycle LifecycleType) float64 {
	switch lifecycle {
	case LifecyclePinned:
		return 1.0
	case LifecycleProfile:
		return 0.8
	case LifecycleLongTerm:
		return 0.6
	case LifecycleMidTerm:
		return 0.4
	case LifecycleShortTerm:
		return 0.2
	default:
		return 0.1
	}
}

const recencyHalfLife = 30 * 24 * time.Hour

// recencyDecay is exponential with a ~30-day half-life.
func recencyDecay(ts time.Time, now time.Time) float64 {
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(recencyHalfLife))
}

// accessFrequencyLog compresses an unbounded access counter on a log scale:
// 0 for no accesses, 1 at 100 accesses, growing slowly past 1 beyond that.
func accessFrequencyLog(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	return math.Log1p(float64(accessCount)) / math.Log1p(100)
}

// ScoreWeights are the composite-score coefficients (alpha..zeta in the
// spec). Callers rarely need to override the defaults.
type ScoreWeights struct {
	Semantic   float64
	BM25       float64
	Type       float64
	Recency    float64
	Importance float64
	Access     float64
}

// DefaultScoreWeights favors semantic similarity, matching the spec's
// "default weights prefer semantic similarity" instruction.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Semantic:   0.45,
		BM25:       0.2,
		Type:       0.15,
		Recency:    0.1,
		Importance: 0.07,
		Access:     0.03,
	}
}

// ScoredMemory is one ranked hybrid-search result.
type ScoredMemory struct {
	Vector *MemoryVector
	Score  float64
	Rank   int
}

// SearchOptions configures one hybrid retrieval call.
type SearchOptions struct {
	UserID    string
	Type      LifecycleType // "" means any
	MinTime   time.Time
	Threshold float64 // default 0.3
	Limit     int     // default 10
	Weights   ScoreWeights
}

// HybridSearch implements the single-pass composite scoring algorithm from
// the spec: cosine similarity pre-filter, then one O(N log N) sort by
// composite score, then a side-effecting access-count bump on the returned
// vectors only.
func (s *Store) HybridSearch(ctx searchCtx, query string, opts SearchOptions) ([]ScoredMemory, error) {
	if opts.Threshold == 0 {
		opts.Threshold = 0.3
	}
	if opts.Limit == 0 {
		opts.Limit = 10
	}
	weights := opts.Weights
	if weights == (ScoreWeights{}) {
		weights = DefaultScoreWeights()
	}

	queryVec, _, _, err := s.embeddings.Embed(ctx.Context, query)
	if err != nil {
		return nil, err
	}
	queryTokens := tokenize(query)

	s.mu.RLock()
	candidates := s.candidatesLocked(opts.UserID, opts.Type, opts.MinTime)
	docs := make(map[string][]string, len(candidates))
	for _, v := range candidates {
		docs[v.ID] = tokenize(v.Content)
	}
	s.mu.RUnlock()

	scorer := newBM25Scorer(docs)
	now := time.Now()

	type scored struct {
		v   *MemoryVector
		sem float32
		sc  float64
	}
	var prelim []scored
	for _, v := range candidates {
		sem := CosineSimilarity(queryVec, v.Embedding)
		if float64(sem) < opts.Threshold {
			continue
		}
		composite := weights.Semantic*float64(sem) +
			weights.BM25*scorer.score(queryTokens, docs[v.ID]) +
			weights.Type*typeWeight(v.Lifecycle) +
			weights.Recency*recencyDecay(v.Timestamp, now) +
			weights.Importance*float64(v.Importance) +
			weights.Access*accessFrequencyLog(v.AccessCount)
		prelim = append(prelim, scored{v: v, sem: sem, sc: composite})
	}

	sort.Slice(prelim, func(i, j int) bool { return prelim[i].sc > prelim[j].sc })
	if len(prelim) > opts.Limit {
		prelim = prelim[:opts.Limit]
	}

	out := make([]ScoredMemory, len(prelim))
	s.mu.Lock()
	for i, p := range prelim {
		out[i] = ScoredMemory{Vector: p.v, Score: p.sc, Rank: i}
		if live, ok := s.vectors[p.v.ID]; ok {
			live.AccessCount++
			live.LastAccessed = now
		}
	}
	s.mu.Unlock()
	s.scheduleSave()

	return out, nil
}
