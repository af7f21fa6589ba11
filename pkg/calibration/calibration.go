// Package calibration computes and holds the per-label quantile
// thresholds and temperature scalar used to turn a raw cosine score into
// an accept/unknown decision and a probability.
//
// Calibration tables are built offline alongside a LabelBank shard
// (spec.md §4.4) and are read-only at runtime: the hot loop only ever
// calls Table.Threshold and Table.Probability.
package calibration

import (
	"math"
	"sort"
)

// Quantiles computed at build time, per spec.md §3.
var Quantiles = []float64{0.5, 0.9, 0.99}

// defaultEpsilon is the default tolerated other-class acceptance rate.
const defaultEpsilon = 0.01

// minTemperature and maxTemperature bound the golden-section search,
// matching the clip range used for temperature scaling in the pack this
// project was grounded on.
const (
	minTemperature = 0.5
	maxTemperature = 5.0
)

// LabelStats holds the per-label quantile thresholds derived from the
// empirical CDF of same-class cosine scores.
type LabelStats struct {
	Label        string
	SameClassQ   map[float64]float64 // quantile -> cosine score
	AcceptThresh float64              // τ: accept threshold for this label
}

// Table is the read-only calibration block persisted in a shard.
type Table struct {
	byLabel     map[string]LabelStats
	defaultTau  float64
	Temperature float64
}

// NewTable builds a Table from precomputed per-label stats and a fitted
// temperature. defaultTau is used for any label absent from stats (and
// as the "unknown" floor referenced by end-to-end scenario 2 in
// spec.md §8 as τ_min).
func NewTable(stats []LabelStats, temperature, defaultTau float64) *Table {
	t := &Table{
		byLabel:     make(map[string]LabelStats, len(stats)),
		defaultTau:  defaultTau,
		Temperature: temperature,
	}
	for _, s := range stats {
		t.byLabel[s.Label] = s
	}
	return t
}

// Threshold returns τ_label, the calibrated accept threshold for label.
// Labels with no calibration data fall back to the table's default.
func (t *Table) Threshold(label string) float64 {
	if s, ok := t.byLabel[label]; ok {
		return s.AcceptThresh
	}
	return t.defaultTau
}

// DefaultThreshold returns τ_min, the floor used when no label-specific
// threshold applies.
func (t *Table) DefaultThreshold() float64 { return t.defaultTau }

// Probability maps a cosine score for label into a calibrated
// probability via sigmoid((cos-τ)/T).
func (t *Table) Probability(label string, cos float64) float64 {
	tau := t.Threshold(label)
	T := t.Temperature
	if T <= 0 {
		T = 1
	}
	z := (cos - tau) / T
	return 1.0 / (1.0 + math.Exp(-z))
}

// Percentile computes the p-quantile of values using the same
// linear-interpolation method NumPy uses (and that spec.md §4.7
// requires for the windowed p95 controller): index = p*(n-1), linear
// interpolation between floor and ceil.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	weight := idx - float64(lo)
	return sorted[lo]*(1-weight) + sorted[hi]*weight
}

// BuildLabelStats computes the accept threshold for one label from its
// same-class cosine scores and the nearest-other-class cosine scores,
// per spec.md §4.4: τ such that P(same-class >= τ) >= 0.95 and
// P(other-class >= τ) <= epsilon (default 0.01). When the two bounds
// conflict, τ takes the other-class bound and the same-class condition
// does not hold.
func BuildLabelStats(label string, sameClass, otherClass []float64, epsilon float64) LabelStats {
	if epsilon <= 0 {
		epsilon = defaultEpsilon
	}
	q := map[float64]float64{}
	for _, quant := range Quantiles {
		q[quant] = Percentile(sameClass, quant)
	}

	// P(same-class >= tau) >= 0.95 means tau can be no higher than the
	// 5th percentile of the same-class distribution.
	tauSame := Percentile(sameClass, 0.05)

	// P(other-class >= tau) <= epsilon means tau must be at least the
	// (1-epsilon) quantile of the other-class distribution.
	tauOther := Percentile(otherClass, 1.0-epsilon)

	tau := tauSame
	if tauOther > tau {
		tau = tauOther
	}

	return LabelStats{Label: label, SameClassQ: q, AcceptThresh: tau}
}

// FitTemperature fits a scalar temperature minimizing the binary
// cross-entropy between sigmoid((cos-tau)/T) and the same-class
// indicator, via golden-section search over [0.5, 5.0]. This mirrors
// the dependency-free golden-section temperature fit used elsewhere in
// this codebase's lineage for deterministic calibration.
func FitTemperature(cosines []float64, tau float64, sameClass []bool, maxIter int) float64 {
	if len(cosines) == 0 || len(cosines) != len(sameClass) {
		return 1.0
	}
	if maxIter <= 0 {
		maxIter = 50
	}
	nll := func(T float64) float64 {
		var sum float64
		for i, cos := range cosines {
			p := 1.0 / (1.0 + math.Exp(-(cos-tau)/T))
			p = math.Min(math.Max(p, 1e-12), 1-1e-12)
			if sameClass[i] {
				sum -= math.Log(p)
			} else {
				sum -= math.Log(1 - p)
			}
		}
		return sum / float64(len(cosines))
	}

	phi := (math.Sqrt(5) - 1) / 2
	a, b := minTemperature, maxTemperature
	c := b - phi*(b-a)
	d := a + phi*(b-a)
	fc, fd := nll(c), nll(d)

	for i := 0; i < maxIter && math.Abs(b-a) >= 1e-4; i++ {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - phi*(b-a)
			fc = nll(c)
		} else {
			a, c, fc = c, d, fd
			d = a + phi*(b-a)
			fd = nll(d)
		}
	}

	T := (a + b) / 2
	if T < minTemperature {
		T = minTemperature
	}
	if T > maxTemperature {
		T = maxTemperature
	}
	return T
}
