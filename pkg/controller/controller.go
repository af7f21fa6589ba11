// Package controller implements the windowed p95 latency controller:
// it holds tail latency under a budget by adapting the frame stride
// (spec.md §4.7).
//
// The ring buffer here follows this codebase's temporal access
// tracker: a preallocated slice walked with a wrapping index rather
// than a growing/shrinking slice, so storing a frame's duration never
// grows the buffer. Once warmup is over, computing the windowed p95
// copies the window on every frame.
package controller

import (
	"sync"

	"github.com/latchvision/latchvision/pkg/calibration"
)

// Config is the Controller's static policy configuration.
type Config struct {
	BudgetMs   float64 // B, default 33 or 66 depending on profile
	Window     int     // W, default 120
	LowWater   float64 // default 0.8
	MinStride  int     // default 1
	MaxStride  int     // default 4
	AutoStride bool
}

// DefaultConfig returns the documented defaults (spec.md §6).
func DefaultConfig() Config {
	return Config{
		BudgetMs:   66,
		Window:     120,
		LowWater:   0.8,
		MinStride:  1,
		MaxStride:  4,
		AutoStride: true,
	}
}

// Result is returned after recording one frame's duration.
type Result struct {
	P95WindowMs *float64 // nil during warmup
	Stride      int      // stride in effect after this frame
}

// Controller adapts stride to hold windowed p95 latency under budget.
type Controller struct {
	mu sync.Mutex

	cfg Config

	ring    []float64
	ringPos int
	filled  int // samples currently in the ring, capped at len(ring)
	seen    int // total samples ever recorded, uncapped, for the warmup gate

	stride         int
	startStride    int
	lowWaterStreak int

	framesTotal     uint64
	framesProcessed uint64
}

// New creates a Controller starting at initialStride (normally
// pipeline.frame_stride from config).
func New(cfg Config, initialStride int) *Controller {
	if initialStride < cfg.MinStride {
		initialStride = cfg.MinStride
	}
	if initialStride > cfg.MaxStride {
		initialStride = cfg.MaxStride
	}
	return &Controller{
		cfg:         cfg,
		ring:        make([]float64, cfg.Window),
		stride:      initialStride,
		startStride: initialStride,
	}
}

// warmupThreshold is max(W, 30) per spec.md §4.7.
func (c *Controller) warmupThreshold() int {
	if c.cfg.Window > 30 {
		return c.cfg.Window
	}
	return 30
}

// RecordFrame records one frame's wall duration — every frame,
// processed or skipped, contributes to the latency window — and
// re-evaluates the stride policy.
func (c *Controller) RecordFrame(durationMs float64, processed bool) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.framesTotal++
	if processed {
		c.framesProcessed++
	}

	c.ring[c.ringPos] = durationMs
	c.ringPos = (c.ringPos + 1) % len(c.ring)
	if c.filled < len(c.ring) {
		c.filled++
	}
	c.seen++

	if c.seen < c.warmupThreshold() {
		return Result{P95WindowMs: nil, Stride: c.stride}
	}

	window := c.windowSnapshot()
	p95 := calibration.Percentile(window, 0.95)

	if c.cfg.AutoStride {
		switch {
		case p95 > c.cfg.BudgetMs && c.stride < c.cfg.MaxStride:
			c.stride++
			c.lowWaterStreak = 0
		case p95 < c.cfg.BudgetMs*c.cfg.LowWater:
			c.lowWaterStreak++
			if c.lowWaterStreak >= c.cfg.Window {
				if c.stride > c.cfg.MinStride {
					c.stride--
				}
				c.lowWaterStreak = 0
			}
		}
	}

	return Result{P95WindowMs: &p95, Stride: c.stride}
}

func (c *Controller) windowSnapshot() []float64 {
	out := make([]float64, c.filled)
	if c.filled < len(c.ring) {
		copy(out, c.ring[:c.filled])
		return out
	}
	// buffer is full; ringPos is the index of the oldest sample
	copy(out, c.ring[c.ringPos:])
	copy(out[len(c.ring)-c.ringPos:], c.ring[:c.ringPos])
	return out
}

// Stride returns the current stride without recording a frame.
func (c *Controller) Stride() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stride
}

// Report is the end-of-run controller summary (spec.md §4.7 Reported fields).
type Report struct {
	StartStride     int
	EndStride       int
	FramesTotal     uint64
	FramesProcessed uint64
	Config          Config
}

// Stats returns the end-of-run report.
func (c *Controller) Stats() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Report{
		StartStride:     c.startStride,
		EndStride:       c.stride,
		FramesTotal:     c.framesTotal,
		FramesProcessed: c.framesProcessed,
		Config:          c.cfg,
	}
}
