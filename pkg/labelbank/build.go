package labelbank

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/latchvision/latchvision/pkg/calibration"
	"github.com/latchvision/latchvision/pkg/vector"
)

// Build constructs a Shard from labeled exemplar pairs. All input
// vectors must already be L2-normalized (spec.md §3 invariant); Build
// does not re-normalize them, so a caller skipping normalization will
// get a shard whose dot products are no longer true cosine scores.
//
// Calibration is computed per label from same-class vs. nearest-other-
// class cosine scores within the pairs themselves, matching spec.md
// §4.4 at a shard-build scale (a production build would calibrate
// against a held-out set; this keeps Build self-contained and
// deterministic for bench fixtures).
func Build(pairs []Pair, dim int) (*Shard, error) {
	if len(pairs) == 0 {
		return nil, ErrEmptyShard
	}

	labels := make([]string, 0)
	labelIndex := make(map[string]int32)
	vectors := make([]float32, 0, len(pairs)*dim)
	labelIDs := make([]int32, 0, len(pairs))

	for _, p := range pairs {
		if len(p.Vector) != dim {
			return nil, fmt.Errorf("labelbank: build row dim %d != shard dim %d", len(p.Vector), dim)
		}
		id, ok := labelIndex[p.Label]
		if !ok {
			id = int32(len(labels))
			labelIndex[p.Label] = id
			labels = append(labels, p.Label)
		}
		vectors = append(vectors, p.Vector...)
		labelIDs = append(labelIDs, id)
	}

	calib := buildCalibration(pairs, labels, labelIndex)

	s := &Shard{
		dim:      dim,
		vectors:  vectors,
		labelIDs: labelIDs,
		labels:   labels,
		calib:    calib,
	}
	s.hash = structHash(s)
	return s, nil
}

// buildCalibration computes per-label accept thresholds from the
// same-class vs. nearest-other-class cosine distributions within pairs.
func buildCalibration(pairs []Pair, labels []string, labelIndex map[string]int32) *calibration.Table {
	byLabel := make(map[string][][]float32, len(labels))
	for _, p := range pairs {
		byLabel[p.Label] = append(byLabel[p.Label], p.Vector)
	}

	var stats []calibration.LabelStats
	var allCos []float64
	var allSame []bool

	for _, label := range labels {
		members := byLabel[label]
		same := sameClassCosines(members)
		other := otherClassCosines(label, members, byLabel, labels)

		ls := calibration.BuildLabelStats(label, same, other, 0.01)
		stats = append(stats, ls)

		for _, c := range same {
			allCos = append(allCos, c)
			allSame = append(allSame, true)
		}
		for _, c := range other {
			allCos = append(allCos, c)
			allSame = append(allSame, false)
		}
	}

	// Global temperature fit against a representative label's threshold;
	// with heterogeneous per-label tau values we fit against the median
	// tau so the temperature reflects the bank overall.
	medianTau := medianThreshold(stats)
	temperature := calibration.FitTemperature(allCos, medianTau, allSame, 50)

	defaultTau := medianTau
	return calibration.NewTable(stats, temperature, defaultTau)
}

func sameClassCosines(members [][]float32) []float64 {
	if len(members) < 2 {
		// A single exemplar has no same-class peer; treat self-similarity
		// (1.0) as the sole sample so downstream quantiles stay defined.
		return []float64{1.0}
	}
	var out []float64
	for i := range members {
		for j := range members {
			if i == j {
				continue
			}
			out = append(out, vector.CosineSimilarity(members[i], members[j]))
		}
	}
	return out
}

// otherClassCosines returns, for each member, its cosine to the nearest
// exemplar of any other label.
func otherClassCosines(label string, members [][]float32, byLabel map[string][][]float32, labels []string) []float64 {
	var out []float64
	for _, a := range members {
		nearest := math.Inf(-1)
		for _, other := range labels {
			if other == label {
				continue
			}
			for _, b := range byLabel[other] {
				if c := vector.CosineSimilarity(a, b); c > nearest {
					nearest = c
				}
			}
		}
		if !math.IsInf(nearest, -1) {
			out = append(out, nearest)
		}
	}
	if len(out) == 0 {
		return []float64{-1.0}
	}
	return out
}

func medianThreshold(stats []calibration.LabelStats) float64 {
	if len(stats) == 0 {
		return 0.35
	}
	vals := make([]float64, len(stats))
	for i, s := range stats {
		vals[i] = s.AcceptThresh
	}
	return calibration.Percentile(vals, 0.5)
}

// structHash computes bench_struct_hash: a hash over the shard's
// dimension, sorted label dictionary and vector payload, stable across
// builds regardless of input row ordering (spec.md §4.1 Open
// contract). It deliberately excludes nothing machine-specific, so the
// same logical shard hashes identically on any host.
func structHash(s *Shard) string {
	h := sha256.New()

	var dimBuf [4]byte
	binary.LittleEndian.PutUint32(dimBuf[:], uint32(s.dim))
	h.Write(dimBuf[:])

	sortedLabels := make([]string, len(s.labels))
	copy(sortedLabels, s.labels)
	sort.Strings(sortedLabels)
	for _, l := range sortedLabels {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}

	// Hash rows keyed by (label, vector) rather than row index, so
	// reordering rows at build time does not change the hash.
	rows := make([]string, s.Count())
	for i := 0; i < s.Count(); i++ {
		row := s.row(i)
		buf := make([]byte, 4*len(row))
		for j, v := range row {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		rows[i] = s.labels[s.labelIDs[i]] + ":" + string(buf)
	}
	sort.Strings(rows)
	for _, r := range rows {
		h.Write([]byte(r))
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}
