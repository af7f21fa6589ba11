package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/latchvision/latchvision/pkg/labelbank"
)

// kbDocument is the on-disk JSON shape of paths.kb_json: the labeled
// exemplar pairs a LabelBank shard is built from at startup.
type kbDocument struct {
	Dim   int `json:"dim"`
	Pairs []struct {
		Label  string    `json:"label"`
		Vector []float32 `json:"vector"`
	} `json:"pairs"`
}

// loadShard reads a kb_json document and builds an in-memory shard.
func loadShard(path string) (*labelbank.Shard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kb_json %s: %w", path, err)
	}
	var doc kbDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse kb_json %s: %w", path, err)
	}
	pairs := make([]labelbank.Pair, len(doc.Pairs))
	for i, p := range doc.Pairs {
		pairs[i] = labelbank.Pair{Label: p.Label, Vector: p.Vector}
	}
	return labelbank.Build(pairs, doc.Dim)
}
