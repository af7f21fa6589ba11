// Package labelbank implements the immutable, memory-resident ANN shard
// of labeled exemplar vectors that the hot loop queries on every frame.
//
// A shard is built offline (Build), persisted to disk (shardfile), and
// opened read-only at process start (Open). Once open it never mutates:
// Lookup and TopK are safe for concurrent use without locking.
package labelbank

import (
	"errors"
	"sort"

	"github.com/latchvision/latchvision/pkg/calibration"
	"github.com/latchvision/latchvision/pkg/vector"
)

// ErrDimMismatch is returned by Lookup for a query whose length differs
// from the shard's dim; ErrEmptyShard by Build and Open for a shard with
// no rows. TopK never fails: Lookup checks the query's dimension before
// calling it (spec.md §4.1 Failures).
var (
	ErrDimMismatch = errors.New("labelbank: query dimension mismatch")
	ErrEmptyShard  = errors.New("labelbank: shard has zero rows")
)

// MaxK bounds how many neighbors any caller may request.
const MaxK = 64

// Pair is one (label, vector) input row to Build.
type Pair struct {
	Label  string
	Vector []float32
}

// NeighborHit is one top-k result: a label and its cosine score.
type NeighborHit struct {
	Label string
	Score float64
}

// Shard is an immutable, in-memory ANN index over labeled exemplars.
type Shard struct {
	dim      int
	vectors  []float32 // row-major, dim floats per row
	labelIDs []int32   // row i belongs to label labelIDs[i]
	labels   []string  // labelIDs[i] indexes into this slice
	calib    *calibration.Table
	hash     string // bench_struct_hash, stable across builds regardless of row order
}

// Dim returns the shard's vector dimensionality.
func (s *Shard) Dim() int { return s.dim }

// Count returns the number of exemplar rows in the shard.
func (s *Shard) Count() int { return len(s.labelIDs) }

// StructHash returns the structural hash recorded at build time.
func (s *Shard) StructHash() string { return s.hash }

// Calibration exposes the shard's read-only calibration table.
func (s *Shard) Calibration() *calibration.Table { return s.calib }

func (s *Shard) row(i int) []float32 {
	return s.vectors[i*s.dim : (i+1)*s.dim]
}

// TopK returns up to k nearest neighbors of query by cosine similarity.
// Ties are broken by lower label id. Scores are clamped to [-1, 1].
// If the shard has fewer than k rows, all rows are returned.
//
// TopK never errors: query is assumed to already be dimension-checked
// by the caller (Lookup does this), matching spec.md §4.1's contract
// that TopK cannot fail once a shard is open.
func (s *Shard) TopK(query []float32, k int) []NeighborHit {
	if k > MaxK {
		k = MaxK
	}
	if k <= 0 || len(s.labelIDs) == 0 {
		return nil
	}
	if k > len(s.labelIDs) {
		k = len(s.labelIDs)
	}

	h := &scoreHeap{}
	for i := 0; i < len(s.labelIDs); i++ {
		score := vector.CosineSimilarity(query, s.row(i))
		item := scoreItem{score: score, labelID: s.labelIDs[i]}
		if h.Len() < k {
			h.push(item)
		} else if betterThanWorst(item, (*h)[0]) {
			h.popWorst()
			h.push(item)
		}
	}

	items := make([]scoreItem, len(*h))
	copy(items, *h)
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].labelID < items[j].labelID
	})

	hits := make([]NeighborHit, len(items))
	for i, it := range items {
		hits[i] = NeighborHit{Label: s.labels[it.labelID], Score: vector.Clamp(it.score)}
	}
	return hits
}

// betterThanWorst reports whether candidate should replace the current
// worst-of-k (higher score wins; on a tie, the lower label id wins; on
// a tie of both, the item already held stays).
func betterThanWorst(candidate, worst scoreItem) bool {
	if candidate.score != worst.score {
		return candidate.score > worst.score
	}
	return candidate.labelID < worst.labelID
}

// Lookup wraps TopK with the top-1 calibrated-accept aggregation rule:
// the top-1 neighbor wins unless its score falls below its own label's
// calibrated accept threshold, in which case the result is "unknown".
// Neighbors are still populated when unknown.
func (s *Shard) Lookup(query []float32, k int) (label string, confidence float64, neighbors []NeighborHit, err error) {
	if len(query) != s.dim {
		return "", 0, nil, ErrDimMismatch
	}
	neighbors = s.TopK(query, k)
	if len(neighbors) == 0 {
		return "unknown", 0, neighbors, nil
	}
	top := neighbors[0]
	threshold := s.calib.Threshold(top.Label)
	if top.Score < threshold {
		return "unknown", top.Score, neighbors, nil
	}
	return top.Label, top.Score, neighbors, nil
}
