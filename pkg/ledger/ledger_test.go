package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/latchvision/latchvision/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_FirstEntryUsesZeroHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append("red-mug", []float32{1, 0, 0}))

	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ZeroHash, entries[0].PrevHash)
	assert.EqualValues(t, 1, entries[0].Sequence)
}

func TestAppend_ChainsSequentialEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append("a", []float32{1, 0}))
	require.NoError(t, w.Append("b", []float32{0, 1}))
	require.NoError(t, w.Append("c", []float32{1, 1}))

	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i := 1; i < len(entries); i++ {
		h, err := Hash(entries[i-1])
		require.NoError(t, err)
		assert.Equal(t, h, entries[i].PrevHash)
		assert.Equal(t, entries[i-1].Sequence+1, entries[i].Sequence)
	}
}

func TestOpen_ReopenContinuesSequenceAndChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append("a", []float32{1, 0}))
	require.NoError(t, w.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()
	require.NoError(t, w2.Append("b", []float32{0, 1}))

	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.EqualValues(t, 2, entries[1].Sequence)
}

func TestLoad_CorruptedEmbeddingBreaksChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append("a", []float32{1, 0}))
	require.NoError(t, w.Append("b", []float32{0, 1}))
	require.NoError(t, w.Append("c", []float32{1, 1}))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 3)
	lines[1] = strings.Replace(lines[1], `"embedding":[0,1]`, `"embedding":[0,0.5]`, 1)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	_, err = Load(path)
	require.Error(t, err)
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.KindLedgerCorrupt, typed.Kind)
}

func TestLoad_EmptyFileHasNoEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
