package verify

import (
	"context"
	"testing"

	"github.com/latchvision/latchvision/pkg/calibration"
	"github.com/latchvision/latchvision/pkg/gallery"
	"github.com/latchvision/latchvision/pkg/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	appends []struct {
		label string
		embed []float32
	}
	failNext bool
}

func (f *fakeLedger) Append(label string, embedding []float32) error {
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.appends = append(f.appends, struct {
		label string
		embed []float32
	}{label, embedding})
	return nil
}

func newTestGallery(t *testing.T) *gallery.Store {
	t.Helper()
	s, err := gallery.Open(gallery.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testCalib(tau float64) *calibration.Table {
	return calibration.NewTable([]calibration.LabelStats{
		{Label: "red-mug", AcceptThresh: tau},
	}, 1.0, tau)
}

func TestEvaluate_NoCandidate(t *testing.T) {
	g := NewGate(newTestGallery(t), testCalib(0.5), &fakeLedger{})
	ev := g.Evaluate(oracle.Candidate{Sequence: 1})
	assert.False(t, ev.Accepted)
	assert.Equal(t, ReasonNoCandidate, ev.Reason)
}

func TestEvaluate_UnknownLabel(t *testing.T) {
	g := NewGate(newTestGallery(t), testCalib(0.5), &fakeLedger{})
	ev := g.Evaluate(oracle.Candidate{Labels: []string{"nothing-curated"}, Embedding: []float32{1, 0}})
	assert.False(t, ev.Accepted)
	assert.Equal(t, ReasonUnknownLabel, ev.Reason)
}

func TestEvaluate_AcceptsAboveThreshold(t *testing.T) {
	store := newTestGallery(t)
	require.NoError(t, store.Put(gallery.Entry{ID: "e1", Label: "red-mug", Embedding: []float32{1, 0, 0}}))

	g := NewGate(store, testCalib(0.5), &fakeLedger{})
	ev := g.Evaluate(oracle.Candidate{Labels: []string{"red-mug"}, Embedding: []float32{1, 0, 0}})
	assert.True(t, ev.Accepted)
	assert.Equal(t, ReasonAccepted, ev.Reason)
	assert.InDelta(t, 1.0, ev.Score, 1e-6)
}

func TestEvaluate_RejectsBelowThreshold(t *testing.T) {
	store := newTestGallery(t)
	require.NoError(t, store.Put(gallery.Entry{ID: "e1", Label: "red-mug", Embedding: []float32{1, 0, 0}}))

	g := NewGate(store, testCalib(0.99), &fakeLedger{})
	ev := g.Evaluate(oracle.Candidate{Labels: []string{"red-mug"}, Embedding: []float32{0, 1, 0}})
	assert.False(t, ev.Accepted)
	assert.Equal(t, ReasonBelowThreshold, ev.Reason)
}

func TestVerify_AcceptedCandidateAppendsToLedger(t *testing.T) {
	store := newTestGallery(t)
	require.NoError(t, store.Put(gallery.Entry{ID: "e1", Label: "red-mug", Embedding: []float32{1, 0, 0}}))
	ledger := &fakeLedger{}

	g := NewGate(store, testCalib(0.5), ledger)
	err := g.Verify(context.Background(), oracle.Candidate{Labels: []string{"red-mug"}, Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	require.Len(t, ledger.appends, 1)
	assert.Equal(t, "red-mug", ledger.appends[0].label)
}

func TestVerify_RejectNeverAppendsOrErrors(t *testing.T) {
	store := newTestGallery(t)
	ledger := &fakeLedger{}
	g := NewGate(store, testCalib(0.5), ledger)

	err := g.Verify(context.Background(), oracle.Candidate{Labels: []string{"nothing-curated"}, Embedding: []float32{1, 0}})
	require.NoError(t, err)
	assert.Empty(t, ledger.appends)
}

func TestVerify_LedgerFailurePropagates(t *testing.T) {
	store := newTestGallery(t)
	require.NoError(t, store.Put(gallery.Entry{ID: "e1", Label: "red-mug", Embedding: []float32{1, 0, 0}}))
	ledger := &fakeLedger{failNext: true}

	g := NewGate(store, testCalib(0.5), ledger)
	err := g.Verify(context.Background(), oracle.Candidate{Labels: []string{"red-mug"}, Embedding: []float32{1, 0, 0}})
	assert.Error(t, err)
}

func TestStats_CalledEqualsAcceptedPlusRejected(t *testing.T) {
	store := newTestGallery(t)
	require.NoError(t, store.Put(gallery.Entry{ID: "e1", Label: "red-mug", Embedding: []float32{1, 0, 0}}))
	g := NewGate(store, testCalib(0.5), &fakeLedger{})

	g.Evaluate(oracle.Candidate{Labels: []string{"red-mug"}, Embedding: []float32{1, 0, 0}})
	g.Evaluate(oracle.Candidate{Labels: []string{"red-mug"}, Embedding: []float32{0, 1, 0}})
	g.Evaluate(oracle.Candidate{})

	stats := g.Stats()
	assert.Equal(t, stats.Called, stats.Accepted+stats.Rejected)
	assert.EqualValues(t, 3, stats.Called)
}
