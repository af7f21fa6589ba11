// Package verify implements the second-stage accept/reject gate: it
// checks an Oracle candidate's proposed label against a small curated
// gallery using a calibrated per-label threshold, and on accept
// appends the evidence to the Ledger (spec.md §4.3).
//
// Modeled on this codebase's evidence-accumulation pattern (inference
// package): a decision is made from accumulated signal strength
// against a threshold, counted either way, never raised as a caller
// error for an ordinary reject.
package verify

import (
	"context"
	"sync/atomic"

	"github.com/latchvision/latchvision/pkg/calibration"
	"github.com/latchvision/latchvision/pkg/gallery"
	"github.com/latchvision/latchvision/pkg/oracle"
	"github.com/latchvision/latchvision/pkg/vector"
)

const (
	ReasonAccepted       = "accepted"
	ReasonBelowThreshold = "below_threshold"
	ReasonUnknownLabel   = "unknown_label"
	ReasonNoCandidate    = "no_candidate"
)

// Evidence is the outcome of one verify call.
type Evidence struct {
	Label     string
	Embedding []float32
	Accepted  bool
	Reason    string
	Score     float64
	Sequence  uint64
}

// LedgerWriter is the durable append sink for accepted evidence. Kept
// as a narrow local interface so verify never imports the ledger
// package's on-disk concerns directly.
type LedgerWriter interface {
	Append(label string, embedding []float32) error
}

// Gate evaluates candidates against a curated gallery.
type Gate struct {
	gallery *gallery.Store
	calib   *calibration.Table
	ledger  LedgerWriter

	called   uint64
	accepted uint64
	rejected uint64
}

// NewGate builds a Gate. calib supplies the per-label accept
// thresholds (quantile-derived per spec.md §4.4); it may be a table of
// its own or a LabelBank shard's table (the CLI passes the shard's).
func NewGate(store *gallery.Store, calib *calibration.Table, ledger LedgerWriter) *Gate {
	return &Gate{gallery: store, calib: calib, ledger: ledger}
}

// Evaluate runs the accept/reject decision for one candidate without
// touching the Ledger. Exported separately from Verify so telemetry
// and shadow-mode callers can inspect a decision without risking a
// durable write.
//
// When a candidate carries no proposed label (c.Labels is empty), this
// returns ReasonNoCandidate — the Verify path still runs and is still
// counted, it simply has nothing to check.
func (g *Gate) Evaluate(c oracle.Candidate) Evidence {
	atomic.AddUint64(&g.called, 1)

	if len(c.Labels) == 0 {
		atomic.AddUint64(&g.rejected, 1)
		return Evidence{Accepted: false, Reason: ReasonNoCandidate, Sequence: c.Sequence}
	}

	label := c.Labels[0]
	refs, err := g.gallery.ByLabel(label)
	if err != nil || len(refs) == 0 {
		atomic.AddUint64(&g.rejected, 1)
		return Evidence{Label: label, Accepted: false, Reason: ReasonUnknownLabel, Score: -1, Sequence: c.Sequence}
	}

	best := -1.0
	for _, ref := range refs {
		score := vector.CosineSimilarity(c.Embedding, ref.Embedding)
		if score > best {
			best = score
		}
	}

	tau := g.calib.Threshold(label)
	if best >= tau {
		atomic.AddUint64(&g.accepted, 1)
		return Evidence{Label: label, Embedding: c.Embedding, Accepted: true, Reason: ReasonAccepted, Score: best, Sequence: c.Sequence}
	}
	atomic.AddUint64(&g.rejected, 1)
	return Evidence{Label: label, Embedding: c.Embedding, Accepted: false, Reason: ReasonBelowThreshold, Score: best, Sequence: c.Sequence}
}

// Verify implements oracle.Verifier: evaluate the candidate, and on
// accept append it to the Ledger. A non-nil error here means the
// durable append itself failed — never an ordinary reject, which is
// never surfaced as an error (spec.md §4.3 Failures).
func (g *Gate) Verify(ctx context.Context, c oracle.Candidate) error {
	evidence := g.Evaluate(c)
	if !evidence.Accepted {
		return nil
	}
	return g.ledger.Append(evidence.Label, evidence.Embedding)
}

// Metrics is the observable accounting state of the gate. Per
// spec.md §4.3, called == accepted + rejected always holds.
type Metrics struct {
	Called   uint64
	Accepted uint64
	Rejected uint64
}

// Stats returns a snapshot of the gate's call accounting.
func (g *Gate) Stats() Metrics {
	return Metrics{
		Called:   atomic.LoadUint64(&g.called),
		Accepted: atomic.LoadUint64(&g.accepted),
		Rejected: atomic.LoadUint64(&g.rejected),
	}
}
