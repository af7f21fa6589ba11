// Package promote implements offline KB promotion: deterministic
// herding of accepted ledger evidence into capped int8 medoids per
// class (spec.md §4.5).
package promote

import (
	"math"

	"github.com/latchvision/latchvision/pkg/vector"
)

// Lambda is the default diversity penalty weight in the herding
// objective ⟨μ, m_j⟩ − λ·max_{i<j}⟨m_i, m_j⟩.
const Lambda = 0.5

// centroid returns normalize(mean(vectors)).
func centroid(vectors [][]float32) []float32 {
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	mean := make([]float32, dim)
	for i, s := range sum {
		mean[i] = float32(s / float64(len(vectors)))
	}
	return vector.Normalize(mean)
}

// selectMedoids runs diversity-penalized greedy herding, returning up
// to cap indices into vectors in selection order. Ties in the herding
// objective are broken by earliest sequence (lowest sequences[i]),
// making selection fully deterministic.
func selectMedoids(vectors [][]float32, sequences []uint64, cap int, lambda float64) []int {
	n := len(vectors)
	if n == 0 || cap <= 0 {
		return nil
	}
	if cap > n {
		cap = n
	}

	mu := centroid(vectors)
	affinity := make([]float64, n)
	for i, v := range vectors {
		affinity[i] = vector.DotProduct(mu, v)
	}

	maxSimToSelected := make([]float64, n)
	for i := range maxSimToSelected {
		maxSimToSelected[i] = math.Inf(-1)
	}

	selected := make([]int, 0, cap)
	chosen := make([]bool, n)

	for len(selected) < cap {
		bestIdx := -1
		bestVal := math.Inf(-1)
		for i := 0; i < n; i++ {
			if chosen[i] {
				continue
			}
			penalty := 0.0
			if len(selected) > 0 && !math.IsInf(maxSimToSelected[i], -1) {
				penalty = lambda * maxSimToSelected[i]
			}
			val := affinity[i] - penalty
			if val > bestVal || (val == bestVal && sequences[i] < sequences[bestIdx]) {
				bestVal = val
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		selected = append(selected, bestIdx)
		chosen[bestIdx] = true
		for i := 0; i < n; i++ {
			sim := vector.DotProduct(vectors[bestIdx], vectors[i])
			if sim > maxSimToSelected[i] {
				maxSimToSelected[i] = sim
			}
		}
	}
	return selected
}
