package labelbank

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/latchvision/latchvision/pkg/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(v []float32) []float32 {
	return vector.Normalize(v)
}

func TestBuild_EmptyShard(t *testing.T) {
	_, err := Build(nil, 4)
	assert.ErrorIs(t, err, ErrEmptyShard)
}

func TestBuild_DimMismatch(t *testing.T) {
	_, err := Build([]Pair{{Label: "a", Vector: unit([]float32{1, 0, 0})}}, 4)
	assert.Error(t, err)
}

func TestTopK_FewerRowsThanK(t *testing.T) {
	shard, err := Build([]Pair{
		{Label: "red-mug", Vector: unit([]float32{1, 0, 0, 0})},
		{Label: "maroon-cup", Vector: unit([]float32{0.9, 0.1, 0, 0})},
	}, 4)
	require.NoError(t, err)

	hits := shard.TopK(unit([]float32{1, 0, 0, 0}), 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "red-mug", hits[0].Label)
	// strictly descending
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestTopK_ScoresClamped(t *testing.T) {
	shard, err := Build([]Pair{
		{Label: "a", Vector: unit([]float32{1, 0, 0, 0})},
	}, 4)
	require.NoError(t, err)
	hits := shard.TopK(unit([]float32{1, 0, 0, 0}), 1)
	require.Len(t, hits, 1)
	assert.LessOrEqual(t, hits[0].Score, 1.0)
	assert.GreaterOrEqual(t, hits[0].Score, -1.0)
}

func TestLookup_KnownHit(t *testing.T) {
	shard, err := Build([]Pair{
		{Label: "red-mug", Vector: unit([]float32{1, 0, 0, 0})},
		{Label: "red-mug", Vector: unit([]float32{0.98, 0.02, 0, 0})},
		{Label: "maroon-cup", Vector: unit([]float32{0, 1, 0, 0})},
		{Label: "maroon-cup", Vector: unit([]float32{0, 0.98, 0.02, 0})},
	}, 4)
	require.NoError(t, err)

	label, conf, neighbors, err := shard.Lookup(unit([]float32{1, 0.01, 0, 0}), 5)
	require.NoError(t, err)
	assert.Equal(t, "red-mug", label)
	assert.Greater(t, conf, 0.0)
	require.NotEmpty(t, neighbors)
	assert.Equal(t, label, neighbors[0].Label)
}

func TestLookup_DimMismatch(t *testing.T) {
	shard, err := Build([]Pair{{Label: "a", Vector: unit([]float32{1, 0, 0, 0})}}, 4)
	require.NoError(t, err)
	_, _, _, err = shard.Lookup([]float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrDimMismatch)
}

func TestSaveOpen_RoundTrip(t *testing.T) {
	shard, err := Build([]Pair{
		{Label: "red-mug", Vector: unit([]float32{1, 0, 0, 0})},
		{Label: "maroon-cup", Vector: unit([]float32{0, 1, 0, 0})},
		{Label: "maroon-cup", Vector: unit([]float32{0.05, 0.95, 0, 0})},
	}, 4)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "shard.lvsb")
	require.NoError(t, Save(shard, path))

	_, err = os.Stat(path)
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, shard.Dim(), reopened.Dim())
	assert.Equal(t, shard.Count(), reopened.Count())
	assert.Equal(t, shard.StructHash(), reopened.StructHash())

	query := unit([]float32{1, 0, 0, 0})
	wantHits := shard.TopK(query, 3)
	gotHits := reopened.TopK(query, 3)
	require.Equal(t, len(wantHits), len(gotHits))
	for i := range wantHits {
		assert.Equal(t, wantHits[i].Label, gotHits[i].Label)
		assert.InDelta(t, wantHits[i].Score, gotHits[i].Score, 1e-6)
	}
}

func TestOpen_EmptyShardFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.lvsb")
	require.NoError(t, os.WriteFile(path, []byte("LVSB"), 0o644))
	_, err := Open(path)
	assert.Error(t, err)
}
