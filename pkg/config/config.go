// Package config resolves the pipeline's immutable configuration from
// four layers, highest priority first: CLI flags, LATCHVISION_*
// environment variables, a YAML manifest, and built-in defaults
// (spec.md §6). Resolution happens once, at startup; the resulting
// Config is passed by value into the pipeline — there is no
// process-wide config singleton read at runtime.
//
// Environment Variables:
//
//	LATCHVISION_LATENCY_BUDGET_MS      - latency.budget_ms (default: 66)
//	LATCHVISION_LATENCY_WINDOW         - latency.window (default: 120)
//	LATCHVISION_LATENCY_LOW_WATER      - latency.low_water (default: 0.8)
//	LATCHVISION_PIPELINE_FRAME_STRIDE  - pipeline.frame_stride (default: 1)
//	LATCHVISION_PIPELINE_MIN_STRIDE    - pipeline.min_stride (default: 1)
//	LATCHVISION_PIPELINE_MAX_STRIDE    - pipeline.max_stride (default: 4)
//	LATCHVISION_PIPELINE_AUTO_STRIDE   - pipeline.auto_stride (default: true)
//	LATCHVISION_MATCHER_TOPK           - matcher.topk (default: 5)
//	LATCHVISION_MATCHER_THRESHOLD      - matcher.threshold (default: 0.35)
//	LATCHVISION_MATCHER_MIN_NEIGHBORS  - matcher.min_neighbors (default: 1)
//	LATCHVISION_ORACLE_MAXLEN          - oracle.maxlen (default: 64)
//	LATCHVISION_PATHS_KB_JSON          - paths.kb_json
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LatencyConfig is the windowed p95 controller's budget policy.
type LatencyConfig struct {
	BudgetMs float64 `yaml:"budget_ms"`
	Window   int     `yaml:"window"`
	LowWater float64 `yaml:"low_water"`
}

// PipelineConfig is the frame-stride policy.
type PipelineConfig struct {
	FrameStride int  `yaml:"frame_stride"`
	MinStride   int  `yaml:"min_stride"`
	MaxStride   int  `yaml:"max_stride"`
	AutoStride  bool `yaml:"auto_stride"`
}

// MatcherConfig controls LabelBank lookup/aggregation.
type MatcherConfig struct {
	TopK         int     `yaml:"topk"`
	Threshold    float64 `yaml:"threshold"`
	MinNeighbors int     `yaml:"min_neighbors"`
}

// PathsConfig locates on-disk artifacts.
type PathsConfig struct {
	KBJSON string `yaml:"kb_json"`
}

// OracleConfig controls the Candidate Oracle queue.
type OracleConfig struct {
	MaxLen int `yaml:"maxlen"`
}

// Config is the fully resolved, immutable run configuration.
type Config struct {
	Latency         LatencyConfig  `yaml:"latency"`
	Pipeline        PipelineConfig `yaml:"pipeline"`
	Matcher         MatcherConfig  `yaml:"matcher"`
	Paths           PathsConfig    `yaml:"paths"`
	Oracle          OracleConfig   `yaml:"oracle"`
	UnknownRateBand [2]float64     `yaml:"unknown_rate_band"`
}

// Default returns the documented built-in defaults (spec.md §6).
func Default() Config {
	return Config{
		Latency: LatencyConfig{
			BudgetMs: 66,
			Window:   120,
			LowWater: 0.8,
		},
		Pipeline: PipelineConfig{
			FrameStride: 1,
			MinStride:   1,
			MaxStride:   4,
			AutoStride:  true,
		},
		Matcher: MatcherConfig{
			TopK:         5,
			Threshold:    0.35,
			MinNeighbors: 1,
		},
		Oracle: OracleConfig{
			MaxLen: 64,
		},
		UnknownRateBand: [2]float64{0.05, 0.20},
	}
}

// loadManifest reads a YAML manifest on top of cfg. A missing path is
// not an error — the manifest layer is optional.
func loadManifest(cfg Config, path string) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse manifest %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overlays LATCHVISION_* environment variables onto cfg.
func applyEnv(cfg Config) Config {
	if v := os.Getenv("LATCHVISION_LATENCY_BUDGET_MS"); v != "" {
		cfg.Latency.BudgetMs = parseFloat(v, cfg.Latency.BudgetMs)
	}
	if v := os.Getenv("LATCHVISION_LATENCY_WINDOW"); v != "" {
		cfg.Latency.Window = parseInt(v, cfg.Latency.Window)
	}
	if v := os.Getenv("LATCHVISION_LATENCY_LOW_WATER"); v != "" {
		cfg.Latency.LowWater = parseFloat(v, cfg.Latency.LowWater)
	}
	if v := os.Getenv("LATCHVISION_PIPELINE_FRAME_STRIDE"); v != "" {
		cfg.Pipeline.FrameStride = parseInt(v, cfg.Pipeline.FrameStride)
	}
	if v := os.Getenv("LATCHVISION_PIPELINE_MIN_STRIDE"); v != "" {
		cfg.Pipeline.MinStride = parseInt(v, cfg.Pipeline.MinStride)
	}
	if v := os.Getenv("LATCHVISION_PIPELINE_MAX_STRIDE"); v != "" {
		cfg.Pipeline.MaxStride = parseInt(v, cfg.Pipeline.MaxStride)
	}
	if v := os.Getenv("LATCHVISION_PIPELINE_AUTO_STRIDE"); v != "" {
		cfg.Pipeline.AutoStride = parseBool(v, cfg.Pipeline.AutoStride)
	}
	if v := os.Getenv("LATCHVISION_MATCHER_TOPK"); v != "" {
		cfg.Matcher.TopK = parseInt(v, cfg.Matcher.TopK)
	}
	if v := os.Getenv("LATCHVISION_MATCHER_THRESHOLD"); v != "" {
		cfg.Matcher.Threshold = parseFloat(v, cfg.Matcher.Threshold)
	}
	if v := os.Getenv("LATCHVISION_MATCHER_MIN_NEIGHBORS"); v != "" {
		cfg.Matcher.MinNeighbors = parseInt(v, cfg.Matcher.MinNeighbors)
	}
	if v := os.Getenv("LATCHVISION_ORACLE_MAXLEN"); v != "" {
		cfg.Oracle.MaxLen = parseInt(v, cfg.Oracle.MaxLen)
	}
	if v := os.Getenv("LATCHVISION_PATHS_KB_JSON"); v != "" {
		cfg.Paths.KBJSON = v
	}
	return cfg
}

// applyFlags overlays pflag values onto cfg, but only for flags the
// caller actually set — an unset flag must not shadow the env/manifest
// layers beneath it, so we check flags.Changed rather than the flag's
// current (possibly zero-value-default) value.
func applyFlags(cfg Config, flags *pflag.FlagSet) Config {
	if flags == nil {
		return cfg
	}
	if flags.Changed("budget-ms") {
		if v, err := flags.GetFloat64("budget-ms"); err == nil {
			cfg.Latency.BudgetMs = v
		}
	}
	if flags.Changed("window") {
		if v, err := flags.GetInt("window"); err == nil {
			cfg.Latency.Window = v
		}
	}
	if flags.Changed("low-water") {
		if v, err := flags.GetFloat64("low-water"); err == nil {
			cfg.Latency.LowWater = v
		}
	}
	if flags.Changed("frame-stride") {
		if v, err := flags.GetInt("frame-stride"); err == nil {
			cfg.Pipeline.FrameStride = v
		}
	}
	if flags.Changed("min-stride") {
		if v, err := flags.GetInt("min-stride"); err == nil {
			cfg.Pipeline.MinStride = v
		}
	}
	if flags.Changed("max-stride") {
		if v, err := flags.GetInt("max-stride"); err == nil {
			cfg.Pipeline.MaxStride = v
		}
	}
	if flags.Changed("auto-stride") {
		if v, err := flags.GetBool("auto-stride"); err == nil {
			cfg.Pipeline.AutoStride = v
		}
	}
	if flags.Changed("topk") {
		if v, err := flags.GetInt("topk"); err == nil {
			cfg.Matcher.TopK = v
		}
	}
	if flags.Changed("threshold") {
		if v, err := flags.GetFloat64("threshold"); err == nil {
			cfg.Matcher.Threshold = v
		}
	}
	if flags.Changed("min-neighbors") {
		if v, err := flags.GetInt("min-neighbors"); err == nil {
			cfg.Matcher.MinNeighbors = v
		}
	}
	if flags.Changed("oracle-maxlen") {
		if v, err := flags.GetInt("oracle-maxlen"); err == nil {
			cfg.Oracle.MaxLen = v
		}
	}
	if flags.Changed("kb-json") {
		if v, err := flags.GetString("kb-json"); err == nil {
			cfg.Paths.KBJSON = v
		}
	}
	return cfg
}

// Resolve merges, in increasing priority, built-in defaults, the YAML
// manifest at manifestPath (if non-empty and present), LATCHVISION_*
// environment variables, and flags — matching spec.md §6's documented
// precedence "CLI > environment > manifest > built-in defaults".
func Resolve(flags *pflag.FlagSet, manifestPath string) (Config, error) {
	cfg, err := loadManifest(Default(), manifestPath)
	if err != nil {
		return Config{}, err
	}
	cfg = applyEnv(cfg)
	cfg = applyFlags(cfg, flags)
	return cfg, nil
}

// RegisterFlags adds the CLI flag layer to flags, mirroring the
// enumerated configuration options of spec.md §6.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.Float64("budget-ms", d.Latency.BudgetMs, "per-frame latency budget in milliseconds")
	flags.Int("window", d.Latency.Window, "controller latency window size (frames)")
	flags.Float64("low-water", d.Latency.LowWater, "low-water fraction of budget for lowering stride")
	flags.Int("frame-stride", d.Pipeline.FrameStride, "initial frame stride")
	flags.Int("min-stride", d.Pipeline.MinStride, "minimum frame stride")
	flags.Int("max-stride", d.Pipeline.MaxStride, "maximum frame stride")
	flags.Bool("auto-stride", d.Pipeline.AutoStride, "enable automatic stride adaptation")
	flags.Int("topk", d.Matcher.TopK, "LabelBank neighbor count")
	flags.Float64("threshold", d.Matcher.Threshold, "match acceptance threshold")
	flags.Int("min-neighbors", d.Matcher.MinNeighbors, "minimum neighbors required to accept a match")
	flags.Int("oracle-maxlen", d.Oracle.MaxLen, "candidate oracle queue capacity")
	flags.String("kb-json", d.Paths.KBJSON, "path to the label bank KB JSON file")
}

func parseBool(s string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultVal
	}
}

func parseInt(s string, defaultVal int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultVal
	}
	return v
}

func parseFloat(s string, defaultVal float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return defaultVal
	}
	return v
}
