package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Paths PathsConfig `yaml:"paths" mapstructure:"paths"`
	Dedup DedupConfig `yaml:"dedup" mapstructure:"dedup"`
	Align AlignConfig `yaml:"align" mapstructure:"align"`
	Tune  TuneConfig  `yaml:"tune" mapstructure:"tune"`
	Chunk ChunkConfig `yaml:"chunk" mapstructure:"chunk"`
	Store StoreConfig `yaml:"store" mapstructure:"store"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates the corpus on disk.
type PathsConfig struct {
	DocumentsDir string             `yaml:"documents_dir" mapstructure:"documents_dir"`
	Annotations  []AnnotationSource `yaml:"annotations" mapstructure:"annotations"`
	MergedOutput string             `yaml:"merged_output" mapstructure:"merged_output"`
	ConflictLog  string             `yaml:"conflict_log" mapstructure:"conflict_log"`
	ManifestsDir string             `yaml:"manifests_dir" mapstructure:"manifests_dir"`
	QrelsDir     string             `yaml:"qrels_dir" mapstructure:"qrels_dir"`
	ReportsDir   string             `yaml:"reports_dir" mapstructure:"reports_dir"`
}

// AnnotationSource is one annotator's span file. Provenance is stamped on
// records that do not carry their own sme_id.
type AnnotationSource struct {
	Path       string `yaml:"path" mapstructure:"path"`
	Provenance string `yaml:"provenance" mapstructure:"provenance"`
}

// DedupConfig configures span deduplication.
type DedupConfig struct {
	IoUThreshold        float64 `yaml:"iou_threshold" mapstructure:"iou_threshold"`
	DefaultGroup        string  `yaml:"default_group" mapstructure:"default_group"`
	ProvenanceSeparator string  `yaml:"provenance_separator" mapstructure:"provenance_separator"`
	Strategy            string  `yaml:"strategy" mapstructure:"strategy"`
	ConflictTextWidth   int     `yaml:"conflict_text_width" mapstructure:"conflict_text_width"`
}

// AlignConfig configures span-to-chunk alignment.
type AlignConfig struct {
	SMEThreshold   float64 `yaml:"sme_threshold" mapstructure:"sme_threshold"`
	ChunkThreshold float64 `yaml:"chunk_threshold" mapstructure:"chunk_threshold"`
	RelevanceGrade int     `yaml:"relevance_grade" mapstructure:"relevance_grade"`
	Iteration      string  `yaml:"iteration" mapstructure:"iteration"`
	Workers        int     `yaml:"workers" mapstructure:"workers"`
}

// TuneConfig configures the threshold grid search.
type TuneConfig struct {
	SMEGrid   []float64 `yaml:"sme_grid" mapstructure:"sme_grid"`
	ChunkGrid []float64 `yaml:"chunk_grid" mapstructure:"chunk_grid"`
	Manifest  string    `yaml:"manifest" mapstructure:"manifest"`
	LogGrid   bool      `yaml:"log_grid" mapstructure:"log_grid"`
}

// ChunkConfig configures the character-window chunker.
type ChunkConfig struct {
	Window  int `yaml:"window" mapstructure:"window"`
	Overlap int `yaml:"overlap" mapstructure:"overlap"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`

	// OpenAttempts bounds retries of open and migrate on transient errors.
	OpenAttempts int `yaml:"open_attempts" mapstructure:"open_attempts"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Dedup strategies.
const (
	StrategyChain   = "chain"
	StrategyCluster = "cluster"
)

// DefaultAnnotations returns the two synthetic annotator sources.
func DefaultAnnotations() []AnnotationSource {
	return []AnnotationSource{
		{Path: "data/processed/annotations_sme1_openai.json", Provenance: "SME1_OpenAI_Synth"},
		{Path: "data/processed/annotations_sme2_gemini.json", Provenance: "SME2_Gemini_Synth"},
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("QRELS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("paths.documents_dir", "data/processed/documents")
	v.SetDefault("paths.annotations", defaultAnnotationMaps())
	v.SetDefault("paths.merged_output", "data/processed/annotations_merged_final.json")
	v.SetDefault("paths.conflict_log", "data/processed/deduplication_conflicts.log")
	v.SetDefault("paths.manifests_dir", "data/processed/chunk_manifests")
	v.SetDefault("paths.qrels_dir", "data/processed/qrels")
	v.SetDefault("paths.reports_dir", "data/processed/reports")
	v.SetDefault("dedup.iou_threshold", 0.5)
	v.SetDefault("dedup.default_group", "g1")
	v.SetDefault("dedup.provenance_separator", "+")
	v.SetDefault("dedup.strategy", StrategyChain)
	v.SetDefault("dedup.conflict_text_width", 50)
	v.SetDefault("align.sme_threshold", 0.85)
	v.SetDefault("align.chunk_threshold", 0.50)
	v.SetDefault("align.relevance_grade", 1)
	v.SetDefault("align.iteration", "0")
	v.SetDefault("align.workers", 4)
	v.SetDefault("tune.sme_grid", []float64{0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95})
	v.SetDefault("tune.chunk_grid", []float64{0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.5})
	v.SetDefault("tune.manifest", "chunks_SENT.jsonl")
	v.SetDefault("tune.log_grid", true)
	v.SetDefault("chunk.window", 512)
	v.SetDefault("chunk.overlap", 64)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "qrels.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.open_attempts", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func defaultAnnotationMaps() []map[string]any {
	var out []map[string]any
	for _, src := range DefaultAnnotations() {
		out = append(out, map[string]any{"path": src.Path, "provenance": src.Provenance})
	}
	return out
}

// Validate checks tunables before any stage runs. All problems are reported
// together.
func (c *Config) Validate() error {
	var problems []string

	checkFraction := func(name string, v float64) {
		if v <= 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be in (0, 1], got %v", name, v))
		}
	}

	checkFraction("dedup.iou_threshold", c.Dedup.IoUThreshold)
	checkFraction("align.sme_threshold", c.Align.SMEThreshold)
	checkFraction("align.chunk_threshold", c.Align.ChunkThreshold)

	switch c.Dedup.Strategy {
	case StrategyChain, StrategyCluster:
	default:
		problems = append(problems, fmt.Sprintf("dedup.strategy %q is unknown (want %s or %s)", c.Dedup.Strategy, StrategyChain, StrategyCluster))
	}
	if c.Dedup.ProvenanceSeparator == "" {
		problems = append(problems, "dedup.provenance_separator is required")
	}
	if c.Dedup.ConflictTextWidth <= 0 {
		problems = append(problems, "dedup.conflict_text_width must be > 0")
	}
	if c.Align.Workers < 1 {
		problems = append(problems, "align.workers must be >= 1")
	}

	if len(c.Tune.SMEGrid) == 0 {
		problems = append(problems, "tune.sme_grid must not be empty")
	}
	for i, v := range c.Tune.SMEGrid {
		checkFraction(fmt.Sprintf("tune.sme_grid[%d]", i), v)
	}
	if len(c.Tune.ChunkGrid) == 0 {
		problems = append(problems, "tune.chunk_grid must not be empty")
	}
	for i, v := range c.Tune.ChunkGrid {
		checkFraction(fmt.Sprintf("tune.chunk_grid[%d]", i), v)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is unknown", c.Store.Driver))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
