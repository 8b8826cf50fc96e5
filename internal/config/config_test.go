package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "qrels.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, "data/processed/documents", cfg.Paths.DocumentsDir)
	assert.Equal(t, "data/processed/annotations_merged_final.json", cfg.Paths.MergedOutput)
	assert.Equal(t, "data/processed/deduplication_conflicts.log", cfg.Paths.ConflictLog)
	assert.Equal(t, "data/processed/chunk_manifests", cfg.Paths.ManifestsDir)
	assert.Equal(t, "data/processed/qrels", cfg.Paths.QrelsDir)
	assert.Equal(t, DefaultAnnotations(), cfg.Paths.Annotations)

	assert.InDelta(t, 0.5, cfg.Dedup.IoUThreshold, 0.0001)
	assert.Equal(t, "g1", cfg.Dedup.DefaultGroup)
	assert.Equal(t, "+", cfg.Dedup.ProvenanceSeparator)
	assert.Equal(t, StrategyChain, cfg.Dedup.Strategy)
	assert.Equal(t, 50, cfg.Dedup.ConflictTextWidth)

	assert.InDelta(t, 0.85, cfg.Align.SMEThreshold, 0.0001)
	assert.InDelta(t, 0.50, cfg.Align.ChunkThreshold, 0.0001)
	assert.Equal(t, 1, cfg.Align.RelevanceGrade)
	assert.Equal(t, "0", cfg.Align.Iteration)
	assert.Equal(t, 4, cfg.Align.Workers)

	assert.Equal(t, []float64{0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95}, cfg.Tune.SMEGrid)
	assert.Equal(t, []float64{0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.5}, cfg.Tune.ChunkGrid)
	assert.Equal(t, "chunks_SENT.jsonl", cfg.Tune.Manifest)
	assert.True(t, cfg.Tune.LogGrid)

	assert.Equal(t, 512, cfg.Chunk.Window)
	assert.Equal(t, 64, cfg.Chunk.Overlap)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/qrels
log:
  level: debug
  format: console
paths:
  annotations:
    - path: raw/a.json
      provenance: SME_A
dedup:
  strategy: cluster
align:
  chunk_threshold: 0.4
tune:
  sme_grid: [0.8, 0.9]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []AnnotationSource{{Path: "raw/a.json", Provenance: "SME_A"}}, cfg.Paths.Annotations)
	assert.Equal(t, StrategyCluster, cfg.Dedup.Strategy)
	assert.InDelta(t, 0.4, cfg.Align.ChunkThreshold, 0.0001)
	assert.Equal(t, []float64{0.8, 0.9}, cfg.Tune.SMEGrid)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.85, cfg.Align.SMEThreshold, 0.0001)
	assert.Len(t, cfg.Tune.ChunkGrid, 8)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("QRELS_STORE_DRIVER", "postgres")
	t.Setenv("QRELS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("QRELS_ALIGN_WORKERS", "8")
	t.Setenv("QRELS_DEDUP_IOU_THRESHOLD", "0.6")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Align.Workers)
	assert.InDelta(t, 0.6, cfg.Dedup.IoUThreshold, 0.0001)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("align: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Dedup.IoUThreshold = 0.5
	cfg.Dedup.Strategy = StrategyChain
	cfg.Dedup.ProvenanceSeparator = "+"
	cfg.Dedup.ConflictTextWidth = 50
	cfg.Align.SMEThreshold = 0.85
	cfg.Align.ChunkThreshold = 0.5
	cfg.Align.Workers = 4
	cfg.Tune.SMEGrid = []float64{0.8, 0.9}
	cfg.Tune.ChunkGrid = []float64{0.3}
	cfg.Store.Driver = "sqlite"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidate_ThresholdBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"iou zero", func(c *Config) { c.Dedup.IoUThreshold = 0 }, "dedup.iou_threshold"},
		{"sme above one", func(c *Config) { c.Align.SMEThreshold = 1.1 }, "align.sme_threshold"},
		{"chunk negative", func(c *Config) { c.Align.ChunkThreshold = -0.2 }, "align.chunk_threshold"},
		{"grid value", func(c *Config) { c.Tune.ChunkGrid = []float64{0.3, 1.5} }, "tune.chunk_grid[1]"},
		{"empty sme grid", func(c *Config) { c.Tune.SMEGrid = nil }, "tune.sme_grid must not be empty"},
		{"empty chunk grid", func(c *Config) { c.Tune.ChunkGrid = []float64{} }, "tune.chunk_grid must not be empty"},
		{"workers", func(c *Config) { c.Align.Workers = 0 }, "align.workers must be >= 1"},
		{"strategy", func(c *Config) { c.Dedup.Strategy = "greedy" }, `dedup.strategy "greedy" is unknown`},
		{"separator", func(c *Config) { c.Dedup.ProvenanceSeparator = "" }, "dedup.provenance_separator is required"},
		{"text width", func(c *Config) { c.Dedup.ConflictTextWidth = 0 }, "dedup.conflict_text_width"},
		{"driver", func(c *Config) { c.Store.Driver = "mysql" }, `store.driver "mysql" is unknown`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_UpperBoundInclusive(t *testing.T) {
	cfg := validDefaults()
	cfg.Align.SMEThreshold = 1
	cfg.Align.ChunkThreshold = 1
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Align.Workers = 0
	cfg.Dedup.Strategy = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "align.workers")
	assert.Contains(t, err.Error(), "dedup.strategy")
}
