package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/latchvision/latchvision/internal/errs"
	"github.com/latchvision/latchvision/internal/purity"
	"github.com/latchvision/latchvision/pkg/config"
	"github.com/latchvision/latchvision/pkg/gallery"
	"github.com/latchvision/latchvision/pkg/ledger"
	"github.com/latchvision/latchvision/pkg/pipeline"
	"github.com/latchvision/latchvision/pkg/telemetry"
	"github.com/latchvision/latchvision/pkg/verify"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a frame fixture through the recognition hot loop",
		RunE:  runRun,
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().String("manifest", "", "YAML config manifest path")
	cmd.Flags().String("fixture", "", "frame fixture JSONL path (required)")
	cmd.Flags().String("gallery-dir", "", "Verify gallery data directory (required)")
	cmd.Flags().String("ledger-path", "", "Evidence Ledger JSONL path (required)")
	cmd.Flags().String("metrics-out", "metrics.json", "metrics.json output path")
	cmd.Flags().String("stage-timings-out", "stage_timings.csv", "stage_timings.csv output path")
	cmd.Flags().String("backend", "numpy", `matcher backend, "faiss" or "numpy"`)
	cmd.Flags().Bool("audit-purity", false, "fail the run if the pipeline's purity monitor recorded a network attempt")
	cmd.Flags().Bool("gate", false, "exit non-zero on SLO breach at end of run")
	cmd.MarkFlagRequired("fixture")
	cmd.MarkFlagRequired("gallery-dir")
	cmd.MarkFlagRequired("ledger-path")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	manifest, _ := cmd.Flags().GetString("manifest")
	cfg, err := config.Resolve(cmd.Flags(), manifest)
	if err != nil {
		return errs.Config("resolve configuration", err)
	}

	fixturePath, _ := cmd.Flags().GetString("fixture")
	frames, durations, err := loadFixture(fixturePath)
	if err != nil {
		return errs.Data("load fixture", err)
	}

	if cfg.Paths.KBJSON == "" {
		return errs.Config("paths.kb_json is required", nil)
	}
	shard, err := loadShard(cfg.Paths.KBJSON)
	if err != nil {
		return errs.Data("load kb_json", err)
	}

	galleryDir, _ := cmd.Flags().GetString("gallery-dir")
	store, err := gallery.Open(gallery.Options{DataDir: galleryDir})
	if err != nil {
		return errs.Data("open gallery", err)
	}
	defer store.Close()

	ledgerPath, _ := cmd.Flags().GetString("ledger-path")
	lw, err := ledger.Open(ledgerPath)
	if err != nil {
		return errs.Data("open ledger", err)
	}
	defer lw.Close()

	// The Verify gate reuses the shard's own calibration table; the CLI
	// builds no separate gallery calibration.
	gate := verify.NewGate(store, shard.Calibration(), lw)

	backend, _ := cmd.Flags().GetString("backend")
	p := pipeline.New(cfg, pipeline.Deps{Shard: shard, Gate: gate, Backend: backend, SDKVersion: version})

	auditPurity, _ := cmd.Flags().GetBool("audit-purity")
	var monitor *purity.Monitor
	if auditPurity {
		monitor = p.PurityMonitor()
	}

	ctx := context.Background()
	for i, f := range frames {
		mr, ok := p.ProcessFrame(ctx, f, durations[i])
		if ok {
			fmt.Printf("frame %d: label=%s confidence=%.3f stride=%d\n", f.Sequence, mr.Label, mr.Confidence, mr.Stride)
		}
	}

	metrics := p.Finalize(nil)
	if monitor != nil {
		metrics.Purity = monitor.Report()
		metrics.MetricsHash = telemetry.ComputeHash(metrics)
	}

	metricsOut, _ := cmd.Flags().GetString("metrics-out")
	if err := telemetry.WriteJSON(metricsOut, metrics); err != nil {
		return errs.Data("write metrics.json", err)
	}

	stageOut, _ := cmd.Flags().GetString("stage-timings-out")
	if err := p.WriteStageTimingsCSV(stageOut); err != nil {
		return errs.Data("write stage_timings.csv", err)
	}

	gateMode, _ := cmd.Flags().GetBool("gate")
	if gateMode {
		if err := telemetry.EvaluateSLO(metrics, cfg.Latency.BudgetMs, p.QueueStats()); err != nil {
			return err
		}
	}
	if auditPurity {
		if err := monitor.Guard(); err != nil {
			return err
		}
	}
	return nil
}
