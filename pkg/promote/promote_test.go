package promote

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/latchvision/latchvision/pkg/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(v []float32) []float32 { return vector.Normalize(v) }

func TestPromote_EmptyClassSkipped(t *testing.T) {
	res, err := Promote("x", nil, nil, 3, Lambda)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestPromote_CapsAtThreeMedoids(t *testing.T) {
	embeddings := make([][]float32, 0, 10)
	sequences := make([]uint64, 0, 10)
	for i := 0; i < 10; i++ {
		embeddings = append(embeddings, unit([]float32{float32(i%4) + 1, float32(i), 0, 0}))
		sequences = append(sequences, uint64(i+1))
	}

	res, err := Promote("widget", embeddings, sequences, 3, Lambda)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Medoids), 3)
	assert.Len(t, res.Medoids, 3)
}

func TestPromote_FewerEmbeddingsThanCap(t *testing.T) {
	embeddings := [][]float32{unit([]float32{1, 0, 0, 0}), unit([]float32{0, 1, 0, 0})}
	sequences := []uint64{1, 2}

	res, err := Promote("widget", embeddings, sequences, 3, Lambda)
	require.NoError(t, err)
	assert.Len(t, res.Medoids, 2)
}

func TestPromote_MedoidCosineToCentroidAtLeastMinOfInputs(t *testing.T) {
	embeddings := [][]float32{
		unit([]float32{1, 0, 0, 0}),
		unit([]float32{0.95, 0.05, 0, 0}),
		unit([]float32{0, 1, 0, 0}),
	}
	sequences := []uint64{1, 2, 3}

	mu := centroid(embeddings)
	minCos := 2.0
	for _, e := range embeddings {
		c := vector.DotProduct(mu, e)
		if c < minCos {
			minCos = c
		}
	}

	res, err := Promote("widget", embeddings, sequences, 3, Lambda)
	require.NoError(t, err)
	for _, m := range res.Medoids {
		dequant := m.Quant.Dequantize()
		c := vector.DotProduct(mu, dequant)
		assert.GreaterOrEqual(t, c, minCos-1e-2)
	}
}

func TestQuantizeDequantize_CosineErrorWithinBound(t *testing.T) {
	v := unit([]float32{0.3, -0.7, 0.5, 0.1, -0.2})
	q := vector.Quantize(v)
	dq := q.Dequantize()
	cos := vector.CosineSimilarity(v, dq)
	assert.GreaterOrEqual(t, cos, 1-DequantCosineErrorBound)
}

func TestSaveLoadClassFile_RoundTrip(t *testing.T) {
	embeddings := [][]float32{unit([]float32{1, 0, 0, 0}), unit([]float32{0, 1, 0, 0})}
	sequences := []uint64{5, 9}
	res, err := Promote("widget", embeddings, sequences, 3, Lambda)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "widget.medoid")
	require.NoError(t, SaveClassFile(path, res.Medoids))

	loaded, err := LoadClassFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, len(res.Medoids))
	for i, m := range res.Medoids {
		assert.Equal(t, m.Ordinal, loaded[i].Ordinal)
		assert.Equal(t, m.Digest, loaded[i].Digest)
		assert.Equal(t, m.Quant.Payload, loaded[i].Quant.Payload)
	}
}

func TestSaveClassFile_LeavesPriorFileUntouchedOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.medoid")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	// Writing into a directory that doesn't exist for the temp file fails,
	// simulating an IOError without disturbing the existing file.
	badDir := filepath.Join(dir, "missing")
	badPath := filepath.Join(badDir, "widget.medoid")
	err := SaveClassFile(badPath, nil)
	assert.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestLoadClassFile_DigestMismatchIsDataError(t *testing.T) {
	embeddings := [][]float32{unit([]float32{1, 0, 0, 0})}
	sequences := []uint64{1}
	res, err := Promote("widget", embeddings, sequences, 1, Lambda)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "widget.medoid")
	require.NoError(t, SaveClassFile(path, res.Medoids))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[10] ^= 0xFF // corrupt one payload byte (after dim, ordinal, scale, zero)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = LoadClassFile(path)
	assert.Error(t, err)
}

func TestAppendPromotionLedger_AppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "promotion_ledger.jsonl")

	require.NoError(t, AppendPromotionLedger(path, LedgerRecord{Label: "widget", Sequences: []uint64{1, 2}, Digest: "abc"}))
	require.NoError(t, AppendPromotionLedger(path, LedgerRecord{Label: "gadget", Sequences: []uint64{3}, Digest: "def"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(string(data)))
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}
