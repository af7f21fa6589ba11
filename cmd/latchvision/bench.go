package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/latchvision/latchvision/internal/errs"
	"github.com/latchvision/latchvision/pkg/telemetry"
)

// benchQuery is one ground-truthed query in a bench suite — the
// fixture format `cmd/latchvision bench` evaluates (grounded on the
// teacher's eval harness, generalized from search-quality IR metrics
// to the open-set recall/false-accept metrics of spec.md §4.1/§4.3).
type benchQuery struct {
	Embedding []float32 `json:"embedding"`
	// Label is the ground truth: a curated label, or
	// telemetry.UnknownLabel for a query that has no match in the KB.
	Label string `json:"label"`
}

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Evaluate a shard's recall and open-set false-accept rate against a query suite",
		Long: `bench runs a ground-truthed query suite against a kb_json shard and
reports recall@1, recall@k, and the unknowns-false-accept rate,
exiting 2 if the false-accept rate exceeds --fa-threshold — the same
tally-then-compare-once guard shape as the calibration benchmark's
false-accept-rate guard.`,
		RunE: runBench,
	}
	cmd.Flags().String("kb-json", "", "path to the label bank KB JSON file (required)")
	cmd.Flags().String("suite", "", "path to the bench query suite JSONL file (required)")
	cmd.Flags().Int("topk", 5, "neighbor count for recall@k")
	cmd.Flags().Float64("fa-threshold", 0.025, "maximum tolerated unknowns false-accept rate")
	cmd.MarkFlagRequired("kb-json")
	cmd.MarkFlagRequired("suite")
	return cmd
}

func runBench(cmd *cobra.Command, args []string) error {
	kbPath, _ := cmd.Flags().GetString("kb-json")
	suitePath, _ := cmd.Flags().GetString("suite")
	topk, _ := cmd.Flags().GetInt("topk")
	faThreshold, _ := cmd.Flags().GetFloat64("fa-threshold")

	shard, err := loadShard(kbPath)
	if err != nil {
		return errs.Data("load kb_json", err)
	}

	queries, err := loadBenchSuite(suitePath)
	if err != nil {
		return errs.Data("load bench suite", err)
	}

	var total, recallAt1, recallAtK, falseAccepts, unknownTotal int
	for _, q := range queries {
		total++
		label, _, neighbors, err := shard.Lookup(q.Embedding, topk)
		if err != nil {
			continue
		}

		if q.Label == telemetry.UnknownLabel {
			unknownTotal++
			if label != telemetry.UnknownLabel {
				falseAccepts++
			}
			continue
		}

		if label == q.Label {
			recallAt1++
		}
		for _, n := range neighbors {
			if n.Label == q.Label {
				recallAtK++
				break
			}
		}
	}

	knownTotal := total - unknownTotal
	r1 := ratio(recallAt1, knownTotal)
	rk := ratio(recallAtK, knownTotal)
	fa := ratio(falseAccepts, unknownTotal)

	fmt.Printf("queries=%d known=%d unknown=%d\n", total, knownTotal, unknownTotal)
	fmt.Printf("recall@1=%.4f recall@%d=%.4f unknowns_false_accept_rate=%.4f\n", r1, topk, rk, fa)

	if fa > faThreshold {
		return errs.Data(fmt.Sprintf("unknowns false-accept rate %.4f exceeds threshold %.4f", fa, faThreshold), nil)
	}
	return nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func loadBenchSuite(path string) ([]benchQuery, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open suite %s: %w", path, err)
	}
	defer f.Close()

	var queries []benchQuery
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var q benchQuery
		if err := json.Unmarshal(line, &q); err != nil {
			return nil, fmt.Errorf("parse suite line: %w", err)
		}
		queries = append(queries, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("suite %s is empty", path)
	}
	return queries, nil
}
