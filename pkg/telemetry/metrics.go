package telemetry

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/latchvision/latchvision/internal/purity"
	"github.com/latchvision/latchvision/pkg/calibration"
	"github.com/latchvision/latchvision/pkg/controller"
)

// SchemaVersion is the current metrics_schema_version.
const SchemaVersion = "0.1"

// ControllerSummary mirrors controller.Report in the metrics.json
// shape (spec.md §4.7 Reported fields).
type ControllerSummary struct {
	StartStride     int     `json:"start_stride"`
	EndStride       int     `json:"end_stride"`
	FramesTotal     uint64  `json:"frames_total"`
	FramesProcessed uint64  `json:"frames_processed"`
	AutoStride      bool    `json:"auto_stride"`
	MinStride       int     `json:"min_stride"`
	MaxStride       int     `json:"max_stride"`
	Window          int     `json:"window"`
	LowWater        float64 `json:"low_water"`
}

func summarizeController(r controller.Report) ControllerSummary {
	return ControllerSummary{
		StartStride:     r.StartStride,
		EndStride:       r.EndStride,
		FramesTotal:     r.FramesTotal,
		FramesProcessed: r.FramesProcessed,
		AutoStride:      r.Config.AutoStride,
		MinStride:       r.Config.MinStride,
		MaxStride:       r.Config.MaxStride,
		Window:          r.Config.Window,
		LowWater:        r.Config.LowWater,
	}
}

// Metrics is the end-of-run metrics.json document.
type Metrics struct {
	MetricsSchemaVersion string             `json:"metrics_schema_version"`
	RunID                string             `json:"run_id"`
	FPS                  float64            `json:"fps"`
	P50                  float64            `json:"p50"`
	P95                  float64            `json:"p95"`
	P99                  float64            `json:"p99"`
	StageMs              map[string]float64 `json:"stage_ms"`
	KBSize               int                `json:"kb_size"`
	BackendSelected      string             `json:"backend_selected"`
	SDKVersion           string             `json:"sdk_version"`
	Controller           ControllerSummary  `json:"controller"`
	UnknownRate          float64            `json:"unknown_rate"`
	UnknownRateBand      [2]float64         `json:"unknown_rate_band"`
	ProcessColdStartMs   *float64           `json:"process_cold_start_ms,omitempty"`
	Purity               purity.Summary     `json:"purity"`
	MetricsHash          string             `json:"metrics_hash"`
}

type stageAccum struct {
	totalMs float64
	count   int
}

// Recorder accumulates per-frame and per-stage timing for one run.
type Recorder struct {
	mu sync.Mutex

	sdkVersion string
	backend    string
	kbSize     int

	frameDurationsMs []float64 // every processed frame's wall duration
	stages           map[string]*stageAccum

	unknownTotal uint64 // every frame, processed or skipped
	unknownCount uint64
}

// NewRecorder starts a fresh telemetry recorder for one run.
func NewRecorder(sdkVersion, backend string, kbSize int) *Recorder {
	return &Recorder{
		sdkVersion: sdkVersion,
		backend:    backend,
		kbSize:     kbSize,
		stages:     make(map[string]*stageAccum),
	}
}

// RecordFrame records one processed frame's total wall duration for
// fps/p50/p95/p99. Skipped frames are excluded, per spec.md §4.8 —
// only processed frames contribute to count.
func (r *Recorder) RecordFrame(durationMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frameDurationsMs = append(r.frameDurationsMs, durationMs)
}

// RecordUnknown tallies one frame's resolved unknown flag toward the
// run's aggregate unknown_rate. Every frame contributes exactly one
// call, including skipped frames — the caller reuses the last
// processed frame's value for those, per spec.md §4.7's skip
// semantics, so the rate is not distorted by the skip itself.
func (r *Recorder) RecordUnknown(unknown bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unknownTotal++
	if unknown {
		r.unknownCount++
	}
}

// RecordStage accumulates one processed-frame stage duration (e.g.
// "detect", "track", "embed", "match").
func (r *Recorder) RecordStage(stage string, durationMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.stages[stage]
	if !ok {
		acc = &stageAccum{}
		r.stages[stage] = acc
	}
	acc.totalMs += durationMs
	acc.count++
}

// Finalize builds the end-of-run Metrics document.
func (r *Recorder) Finalize(ctrl controller.Report, purityReport purity.Summary, unknownRateBand [2]float64, coldStartMs *float64) Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	stageMs := make(map[string]float64, len(r.stages))
	for name, acc := range r.stages {
		if acc.count > 0 {
			stageMs[name] = acc.totalMs / float64(acc.count)
		}
	}

	var fps, p50, p95, p99 float64
	if n := len(r.frameDurationsMs); n > 0 {
		sorted := make([]float64, n)
		copy(sorted, r.frameDurationsMs)
		sort.Float64s(sorted)
		p50 = calibration.Percentile(sorted, 0.5)
		p95 = calibration.Percentile(sorted, 0.95)
		p99 = calibration.Percentile(sorted, 0.99)

		sumMs := 0.0
		for _, d := range r.frameDurationsMs {
			sumMs += d
		}
		if sumMs > 0 {
			fps = float64(n) / (sumMs / 1000.0)
		}
	}

	var unknownRate float64
	if r.unknownTotal > 0 {
		unknownRate = float64(r.unknownCount) / float64(r.unknownTotal)
	}

	m := Metrics{
		MetricsSchemaVersion: SchemaVersion,
		RunID:                uuid.NewString(),
		FPS:                  fps,
		P50:                  p50,
		P95:                  p95,
		P99:                  p99,
		StageMs:              stageMs,
		KBSize:               r.kbSize,
		BackendSelected:      r.backend,
		SDKVersion:           r.sdkVersion,
		Controller:           summarizeController(ctrl),
		UnknownRate:          unknownRate,
		UnknownRateBand:      unknownRateBand,
		ProcessColdStartMs:   coldStartMs,
		Purity:               purityReport,
	}
	m.MetricsHash = ComputeHash(m)
	return m
}

// ComputeHash computes a bit-stable digest over the canonical subset
// of m that excludes wall-clock and host-identifying fields — here,
// run_id and process_cold_start_ms (spec.md §4.8). Two runs of the
// same fixture, seed, and binary must produce identical hashes.
func ComputeHash(m Metrics) string {
	canonical := m
	canonical.RunID = ""
	canonical.ProcessColdStartMs = nil
	canonical.MetricsHash = ""

	data, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteJSON writes m to path as indented JSON.
func WriteJSON(path string, m Metrics) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("telemetry: encode metrics: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// StageStat is one row of stage_timings.csv.
type StageStat struct {
	Stage   string
	TotalMs float64
	MeanMs  float64
	Count   int
}

// WriteStageTimingsCSV writes header "stage,total_ms,mean_ms,count"
// followed by one sorted row per stage, LF line endings (spec.md §6).
func (r *Recorder) WriteStageTimingsCSV(path string) error {
	r.mu.Lock()
	stats := make([]StageStat, 0, len(r.stages))
	for name, acc := range r.stages {
		mean := 0.0
		if acc.count > 0 {
			mean = acc.totalMs / float64(acc.count)
		}
		stats = append(stats, StageStat{Stage: name, TotalMs: acc.totalMs, MeanMs: mean, Count: acc.count})
	}
	r.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Stage < stats[j].Stage })

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("telemetry: create stage timings file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"stage", "total_ms", "mean_ms", "count"}); err != nil {
		return err
	}
	for _, s := range stats {
		row := []string{
			s.Stage,
			fmt.Sprintf("%f", s.TotalMs),
			fmt.Sprintf("%f", s.MeanMs),
			fmt.Sprintf("%d", s.Count),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Summary renders a one-line human-readable recap for console output.
func (m Metrics) Summary() string {
	return fmt.Sprintf("fps=%.1f p95=%.1fms kb=%s backend=%s stride=%d->%d",
		m.FPS, m.P95, humanize.Comma(int64(m.KBSize)), m.BackendSelected,
		m.Controller.StartStride, m.Controller.EndStride)
}
