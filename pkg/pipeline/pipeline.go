// Package pipeline wires LabelBank, the Controller, the Candidate
// Oracle, Verify, and Telemetry into the per-frame hot loop (spec.md
// §2, §5).
//
// Modeled on this codebase's top-level DB orchestrator: a single
// struct holds every already-open dependency, constructed once by New,
// and exposes the run's operations as methods. Nothing here opens its
// own sockets — frames arrive already decoded and embedded, matching
// spec.md §5's "the core never opens its own sockets".
package pipeline

import (
	"context"

	"github.com/latchvision/latchvision/internal/purity"
	"github.com/latchvision/latchvision/internal/vlog"
	"github.com/latchvision/latchvision/pkg/config"
	"github.com/latchvision/latchvision/pkg/controller"
	"github.com/latchvision/latchvision/pkg/labelbank"
	"github.com/latchvision/latchvision/pkg/oracle"
	"github.com/latchvision/latchvision/pkg/telemetry"
	"github.com/latchvision/latchvision/pkg/verify"
)

// Frame is one input to the hot loop: a pre-embedded query vector plus
// an optional detector bounding box (spec.md §5 frame source).
type Frame struct {
	Embedding []float32
	BBox      *telemetry.BBox
	Sequence  uint64
}

// Pipeline is the wired hot-loop runtime for one session.
type Pipeline struct {
	cfg config.Config

	shard      *labelbank.Shard
	controller *controller.Controller
	queue      *oracle.Queue
	worker     *oracle.Worker
	gate       *verify.Gate
	recorder   *telemetry.Recorder
	monitor    *purity.Monitor

	backend    string
	sdkVersion string

	frameSeq    uint64
	lastUnknown bool
}

// Deps bundles the dependencies New wires together. The caller is
// responsible for opening the shard and gallery/ledger-backed Gate
// before constructing a Pipeline — Pipeline only orchestrates them.
type Deps struct {
	Shard      *labelbank.Shard
	Gate       *verify.Gate
	Backend    string // "faiss" or "numpy", per spec.md §6
	SDKVersion string
}

// New builds a Pipeline. The Candidate Oracle's queue and its
// background worker are created and started here, reading
// oracle.maxlen from cfg.
func New(cfg config.Config, deps Deps) *Pipeline {
	queue := oracle.NewQueue(cfg.Oracle.MaxLen)
	worker := oracle.NewWorker(queue, deps.Gate)

	p := &Pipeline{
		cfg:        cfg,
		shard:      deps.Shard,
		controller: controller.New(controllerConfig(cfg), cfg.Pipeline.FrameStride),
		queue:      queue,
		worker:     worker,
		gate:       deps.Gate,
		recorder:   telemetry.NewRecorder(deps.SDKVersion, deps.Backend, deps.Shard.Count()),
		monitor:    purity.New(),
		backend:    deps.Backend,
		sdkVersion: deps.SDKVersion,
	}
	return p
}

func controllerConfig(cfg config.Config) controller.Config {
	return controller.Config{
		BudgetMs:   cfg.Latency.BudgetMs,
		Window:     cfg.Latency.Window,
		LowWater:   cfg.Latency.LowWater,
		MinStride:  cfg.Pipeline.MinStride,
		MaxStride:  cfg.Pipeline.MaxStride,
		AutoStride: cfg.Pipeline.AutoStride,
	}
}

// PurityMonitor returns the dialer-control audit hook for installation
// on any transport the caller's frame source might use (spec.md §7
// --audit-purity). The hot loop itself never dials anything; this is
// wired at the process boundary, not inside ProcessFrame.
func (p *Pipeline) PurityMonitor() *purity.Monitor { return p.monitor }

// ProcessFrame runs one frame through LabelBank.lookup, updates the
// Controller, and on an open-set miss offers the embedding to the
// Candidate Oracle. It returns the frozen MatchResult for this frame,
// or ok=false if the Controller's stride caused this frame to be
// skipped entirely (spec.md §4.7).
func (p *Pipeline) ProcessFrame(ctx context.Context, f Frame, durationMs float64) (telemetry.MatchResult, bool) {
	p.frameSeq++
	stride := p.controller.Stride()
	processed := stride <= 1 || p.frameSeq%uint64(stride) == 0

	result := p.controller.RecordFrame(durationMs, processed)
	if !processed {
		// Reuse the last processed frame's unknown flag so a skipped
		// frame never distorts the aggregate unknown_rate (spec.md
		// §4.7 skip semantics).
		p.recorder.RecordUnknown(p.lastUnknown)
		return telemetry.MatchResult{}, false
	}
	p.recorder.RecordFrame(durationMs)

	label, confidence, neighbors, err := p.shard.Lookup(f.Embedding, p.cfg.Matcher.TopK)
	if err != nil {
		vlog.Warn("labelbank lookup failed", vlog.Fields{"error": err.Error()})
		label, confidence = telemetry.UnknownLabel, 0
	}

	unknown := label == telemetry.UnknownLabel
	p.lastUnknown = unknown
	p.recorder.RecordUnknown(unknown)

	if unknown || len(neighbors) < p.cfg.Matcher.MinNeighbors {
		p.offerToOracle(f, neighbors)
	}

	mr := telemetry.MatchResult{
		Label:      label,
		Confidence: confidence,
		Neighbors:  toNeighborResults(neighbors),
		Backend:    p.backend,
		Stride:     stride,
		BudgetHit:  result.P95WindowMs != nil && *result.P95WindowMs > p.cfg.Latency.BudgetMs,
		BBox:       f.BBox,
		SDKVersion: p.sdkVersion,
	}
	return mr, true
}

func toNeighborResults(hits []labelbank.NeighborHit) []telemetry.NeighborResult {
	out := make([]telemetry.NeighborResult, len(hits))
	for i, h := range hits {
		out[i] = telemetry.NeighborResult{Label: h.Label, Score: h.Score}
	}
	return out
}

// offerToOracle proposes the top neighbor labels as verify candidates.
// TryEnqueue never blocks the hot loop; an overflowing queue silently
// sheds the oldest candidate (spec.md §4.2).
func (p *Pipeline) offerToOracle(f Frame, neighbors []labelbank.NeighborHit) {
	labels := make([]string, 0, len(neighbors))
	scores := make([]float64, 0, len(neighbors))
	for _, n := range neighbors {
		labels = append(labels, n.Label)
		scores = append(scores, n.Score)
	}
	p.queue.TryEnqueue(oracle.Candidate{
		Embedding: f.Embedding,
		Labels:    labels,
		Scores:    scores,
		Sequence:  f.Sequence,
	})
	p.worker.Notify()
}

// RecordStage attributes a sub-stage duration (detect/track/embed/match)
// to the current frame's telemetry.
func (p *Pipeline) RecordStage(stage string, durationMs float64) {
	p.recorder.RecordStage(stage, durationMs)
}

// Finalize stops the Oracle worker, drains any remaining candidates
// (logged, not verified — the run is over), and returns the end-of-run
// metrics document.
func (p *Pipeline) Finalize(coldStartMs *float64) telemetry.Metrics {
	p.worker.Shutdown()
	ctrlReport := p.controller.Stats()
	purityReport := p.monitor.Report()
	return p.recorder.Finalize(ctrlReport, purityReport, p.cfg.UnknownRateBand, coldStartMs)
}

// VerifyStats exposes the Verify gate's accept/reject counters for
// diagnostics (called == accepted + rejected, spec.md §4.3).
func (p *Pipeline) VerifyStats() verify.Metrics { return p.gate.Stats() }

// QueueStats exposes the Candidate Oracle's queue metrics for the
// end-of-run SLO gate (spec.md §4.2).
func (p *Pipeline) QueueStats() oracle.Metrics { return p.queue.Stats() }

// BudgetMs returns the configured per-frame latency budget.
func (p *Pipeline) BudgetMs() float64 { return p.cfg.Latency.BudgetMs }

// WriteStageTimingsCSV writes this run's per-stage timing breakdown.
func (p *Pipeline) WriteStageTimingsCSV(path string) error {
	return p.recorder.WriteStageTimingsCSV(path)
}
