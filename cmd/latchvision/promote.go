package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/latchvision/latchvision/internal/errs"
	"github.com/latchvision/latchvision/pkg/ledger"
	"github.com/latchvision/latchvision/pkg/promote"
)

func newPromoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote Evidence Ledger entries into curated per-class medoid files",
		Long: `promote is the offline writer of spec.md §4.5: it reads the
Evidence Ledger, groups accepted embeddings by label, and selects up
to three diversity-penalized medoids per class, quantizing and
digesting each before writing it to the output directory. It never
runs concurrently with a hot loop.`,
		RunE: runPromote,
	}
	cmd.Flags().String("ledger-path", "", "Evidence Ledger JSONL path (required)")
	cmd.Flags().String("out-dir", "", "directory to write class medoid files into (required)")
	cmd.Flags().Int("cap", 3, "maximum medoids retained per class")
	cmd.Flags().Float64("lambda", promote.Lambda, "diversity penalty weight")
	cmd.MarkFlagRequired("ledger-path")
	cmd.MarkFlagRequired("out-dir")
	return cmd
}

func runPromote(cmd *cobra.Command, args []string) error {
	ledgerPath, _ := cmd.Flags().GetString("ledger-path")
	outDir, _ := cmd.Flags().GetString("out-dir")
	cap, _ := cmd.Flags().GetInt("cap")
	lambda, _ := cmd.Flags().GetFloat64("lambda")

	entries, err := ledger.Load(ledgerPath)
	if err != nil {
		return errs.Data("load ledger", err)
	}

	byLabel := make(map[string][][]float32)
	seqByLabel := make(map[string][]uint64)
	for _, e := range entries {
		byLabel[e.Label] = append(byLabel[e.Label], e.Embedding)
		seqByLabel[e.Label] = append(seqByLabel[e.Label], e.Sequence)
	}

	promotionLedgerPath := filepath.Join(outDir, "promotion_ledger.jsonl")
	for label, embeddings := range byLabel {
		result, err := promote.Promote(label, embeddings, seqByLabel[label], cap, lambda)
		if err != nil {
			return errs.Data(fmt.Sprintf("promote class %s", label), err)
		}
		if result.Skipped {
			fmt.Printf("class %s: skipped (%s)\n", label, result.Reason)
			continue
		}

		classPath := filepath.Join(outDir, sanitizeFilename(label)+".medoids")
		if err := promote.SaveClassFile(classPath, result.Medoids); err != nil {
			return errs.Data(fmt.Sprintf("save class file for %s", label), err)
		}

		sequences := make([]uint64, len(result.Medoids))
		for i, m := range result.Medoids {
			sequences[i] = m.Sequence
		}
		digest := ""
		if len(result.Medoids) > 0 {
			digest = result.Medoids[0].Digest
		}
		rec := promote.LedgerRecord{Label: label, Sequences: sequences, Digest: digest, Timestamp: time.Now().UTC()}
		if err := promote.AppendPromotionLedger(promotionLedgerPath, rec); err != nil {
			return errs.Data(fmt.Sprintf("append promotion ledger for %s", label), err)
		}
		fmt.Printf("class %s: promoted %d medoid(s) -> %s\n", label, len(result.Medoids), classPath)
	}
	return nil
}

func sanitizeFilename(label string) string {
	out := make([]rune, 0, len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
