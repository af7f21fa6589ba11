package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/latchvision/latchvision/pkg/pipeline"
	"github.com/latchvision/latchvision/pkg/telemetry"
)

// fixtureFrame is one line of a frame fixture JSONL file — the
// "frame source" of spec.md §6: pre-embedded vectors with an optional
// detector bounding box. The core never opens its own sockets or
// decodes image bytes; a fixture stands in for whatever collaborator
// produces embeddings upstream.
type fixtureFrame struct {
	Embedding  []float32       `json:"embedding"`
	BBox       *telemetry.BBox `json:"bbox,omitempty"`
	DurationMs float64         `json:"duration_ms"`
}

// loadFixture reads every frame from a JSONL fixture file.
func loadFixture(path string) ([]pipeline.Frame, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open fixture %s: %w", path, err)
	}
	defer f.Close()

	var frames []pipeline.Frame
	var durations []float64
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	var seq uint64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ff fixtureFrame
		if err := json.Unmarshal(line, &ff); err != nil {
			return nil, nil, fmt.Errorf("parse fixture line %d: %w", seq+1, err)
		}
		seq++
		frames = append(frames, pipeline.Frame{Embedding: ff.Embedding, BBox: ff.BBox, Sequence: seq})
		durations = append(durations, ff.DurationMs)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan fixture %s: %w", path, err)
	}
	if len(frames) == 0 {
		return nil, nil, fmt.Errorf("fixture %s is empty", path)
	}
	return frames, durations, nil
}
