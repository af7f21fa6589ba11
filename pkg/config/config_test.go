package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_NoOverridesReturnsDefaults(t *testing.T) {
	cfg, err := Resolve(nil, "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestResolve_ManifestOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("latency:\n  budget_ms: 33\nmatcher:\n  topk: 8\n"), 0o644))

	cfg, err := Resolve(nil, path)
	require.NoError(t, err)
	assert.Equal(t, 33.0, cfg.Latency.BudgetMs)
	assert.Equal(t, 8, cfg.Matcher.TopK)
	assert.Equal(t, Default().Latency.Window, cfg.Latency.Window)
}

func TestResolve_MissingManifestIsNotAnError(t *testing.T) {
	cfg, err := Resolve(nil, filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestResolve_EnvOverridesManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("latency:\n  budget_ms: 33\n"), 0o644))

	t.Setenv("LATCHVISION_LATENCY_BUDGET_MS", "50")

	cfg, err := Resolve(nil, path)
	require.NoError(t, err)
	assert.Equal(t, 50.0, cfg.Latency.BudgetMs)
}

func TestResolve_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("LATCHVISION_LATENCY_BUDGET_MS", "50")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--budget-ms=20"}))

	cfg, err := Resolve(flags, "")
	require.NoError(t, err)
	assert.Equal(t, 20.0, cfg.Latency.BudgetMs)
}

func TestResolve_UnsetFlagsDoNotShadowLowerLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("matcher:\n  topk: 9\n"), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--budget-ms=20"}))

	cfg, err := Resolve(flags, path)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cfg.Latency.BudgetMs)
	assert.Equal(t, 9, cfg.Matcher.TopK, "unset --topk flag must not shadow the manifest value")
}

func TestParseBool_FallsBackToDefaultOnGarbage(t *testing.T) {
	assert.True(t, parseBool("on", false))
	assert.False(t, parseBool("off", true))
	assert.True(t, parseBool("garbage", true))
}
