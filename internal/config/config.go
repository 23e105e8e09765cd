package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"rnadiff/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Input      InputConfig      `yaml:"input" toml:"input"`
	Design     DesignConfig     `yaml:"design" toml:"design"`
	Analysis   AnalysisConfig   `yaml:"analysis" toml:"analysis"`
	Enrichment EnrichmentConfig `yaml:"enrichment" toml:"enrichment"`
	Output     OutputConfig     `yaml:"output" toml:"output"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// InputConfig holds input table locations
type InputConfig struct {
	CountsFile   string   `yaml:"counts_file" toml:"counts_file"`
	MetadataFile string   `yaml:"metadata_file" toml:"metadata_file"`
	Delimiter    string   `yaml:"delimiter" toml:"delimiter"`
	GeneSetFiles []string `yaml:"gene_set_files" toml:"gene_set_files"` // doublestar patterns
	GeneSetCache string   `yaml:"gene_set_cache" toml:"gene_set_cache"` // bbolt file, empty disables caching
}

// DesignConfig names the contrast: Factor is a metadata column, Denominator the reference level.
type DesignConfig struct {
	Factor      string `yaml:"factor" toml:"factor"`
	Numerator   string `yaml:"numerator" toml:"numerator"`
	Denominator string `yaml:"denominator" toml:"denominator"`
}

// AnalysisConfig holds differential-expression settings
type AnalysisConfig struct {
	CountThreshold    int64   `yaml:"count_threshold" toml:"count_threshold"`
	SignificanceLevel float64 `yaml:"significance_level" toml:"significance_level"`
	Test              string  `yaml:"test" toml:"test"`         // "wald" or "lrt"
	FitType           string  `yaml:"fit_type" toml:"fit_type"` // "parametric" or "mean"
	Workers           int     `yaml:"workers" toml:"workers"`
	TrendMaxIter      int     `yaml:"trend_max_iter" toml:"trend_max_iter"`
	MinPriorVariance  float64 `yaml:"min_prior_variance" toml:"min_prior_variance"`
	OutlierSD         float64 `yaml:"outlier_sd" toml:"outlier_sd"`
	FilterQuantiles   int     `yaml:"filter_quantiles" toml:"filter_quantiles"`
	MaxFilterQuantile float64 `yaml:"max_filter_quantile" toml:"max_filter_quantile"`
	PCATopGenes       int     `yaml:"pca_top_genes" toml:"pca_top_genes"`
}

// EnrichmentConfig holds gene-set enrichment settings
type EnrichmentConfig struct {
	Permutations int     `yaml:"permutations" toml:"permutations"`
	Seed         int64   `yaml:"seed" toml:"seed"`
	MinSetSize   int     `yaml:"min_set_size" toml:"min_set_size"`
	MaxSetSize   int     `yaml:"max_set_size" toml:"max_set_size"`
	Weight       float64 `yaml:"weight" toml:"weight"`
}

// OutputConfig holds export settings
type OutputConfig struct {
	Dir      string `yaml:"dir" toml:"dir"`
	Workbook bool   `yaml:"workbook" toml:"workbook"`
}

// DatabaseConfig holds result store settings. An empty URL disables persistence.
type DatabaseConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// ServerConfig holds results API settings
type ServerConfig struct {
	Port string `yaml:"port" toml:"port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Input: InputConfig{
			Delimiter: "\t",
		},
		Analysis: AnalysisConfig{
			CountThreshold:    1,
			SignificanceLevel: 0.05,
			Test:              "wald",
			Workers:           runtime.NumCPU(),
			TrendMaxIter:      10,
			MinPriorVariance:  0.25,
			OutlierSD:         2,
			FilterQuantiles:   50,
			MaxFilterQuantile: 0.95,
			PCATopGenes:       500,
		},
		Enrichment: EnrichmentConfig{
			Permutations: 1000,
			Seed:         42,
			MinSetSize:   10,
			MaxSetSize:   500,
			Weight:       1,
		},
		Output: OutputConfig{
			Dir: "results",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML or TOML file and
// environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return errors.ConfigInvalid("unsupported configuration format: " + filepath.Ext(path))
	}
	if err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Input.CountsFile = getEnvOrDefault("COUNTS_FILE", cfg.Input.CountsFile)
	cfg.Input.MetadataFile = getEnvOrDefault("METADATA_FILE", cfg.Input.MetadataFile)
	cfg.Input.Delimiter = getEnvOrDefault("DELIMITER", cfg.Input.Delimiter)
	if patterns := os.Getenv("GENE_SET_FILES"); patterns != "" {
		cfg.Input.GeneSetFiles = splitList(patterns)
	}
	cfg.Input.GeneSetCache = getEnvOrDefault("GENE_SET_CACHE", cfg.Input.GeneSetCache)

	cfg.Design.Factor = getEnvOrDefault("CONTRAST_FACTOR", cfg.Design.Factor)
	cfg.Design.Numerator = getEnvOrDefault("CONTRAST_NUMERATOR", cfg.Design.Numerator)
	cfg.Design.Denominator = getEnvOrDefault("CONTRAST_DENOMINATOR", cfg.Design.Denominator)

	cfg.Analysis.CountThreshold = int64(getEnvIntOrDefault("COUNT_THRESHOLD", int(cfg.Analysis.CountThreshold)))
	cfg.Analysis.SignificanceLevel = getEnvFloatOrDefault("SIGNIFICANCE_LEVEL", cfg.Analysis.SignificanceLevel)
	cfg.Analysis.Test = getEnvOrDefault("DE_TEST", cfg.Analysis.Test)
	cfg.Analysis.FitType = getEnvOrDefault("FIT_TYPE", cfg.Analysis.FitType)
	cfg.Analysis.Workers = getEnvIntOrDefault("WORKERS", cfg.Analysis.Workers)

	cfg.Enrichment.Permutations = getEnvIntOrDefault("PERMUTATIONS", cfg.Enrichment.Permutations)
	cfg.Enrichment.Seed = int64(getEnvIntOrDefault("SEED", int(cfg.Enrichment.Seed)))
	cfg.Enrichment.MinSetSize = getEnvIntOrDefault("MIN_SET_SIZE", cfg.Enrichment.MinSetSize)
	cfg.Enrichment.MaxSetSize = getEnvIntOrDefault("MAX_SET_SIZE", cfg.Enrichment.MaxSetSize)

	cfg.Output.Dir = getEnvOrDefault("OUTPUT_DIR", cfg.Output.Dir)
	cfg.Output.Workbook = getEnvBoolOrDefault("OUTPUT_WORKBOOK", cfg.Output.Workbook)

	cfg.Database.URL = getEnvOrDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Server.Port = getEnvOrDefault("PORT", cfg.Server.Port)
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
}

// ValidatePipeline checks the settings a pipeline run cannot proceed without.
func (c *Config) ValidatePipeline() error {
	if c.Input.CountsFile == "" {
		return errors.ConfigInvalid("counts file is required")
	}
	if c.Input.MetadataFile == "" {
		return errors.ConfigInvalid("metadata file is required")
	}
	if c.Design.Factor == "" {
		return errors.ConfigInvalid("contrast factor is required")
	}
	if c.Design.Numerator == "" || c.Design.Denominator == "" {
		return errors.ConfigInvalid("contrast levels (numerator and denominator) are required")
	}
	if c.Design.Numerator == c.Design.Denominator {
		return errors.ConfigInvalid("contrast levels must differ")
	}
	if c.Analysis.CountThreshold < 0 {
		return errors.ConfigInvalid("count threshold must be non-negative")
	}
	if c.Analysis.SignificanceLevel <= 0 || c.Analysis.SignificanceLevel >= 1 {
		return errors.ConfigInvalid("significance level must be in (0, 1)")
	}
	if c.Analysis.Test != "wald" && c.Analysis.Test != "lrt" {
		return errors.ConfigInvalid("test must be wald or lrt")
	}
	if c.Analysis.FitType != "parametric" && c.Analysis.FitType != "mean" {
		return errors.ConfigInvalid("dispersion fit type must be parametric or mean")
	}
	if c.Enrichment.Permutations < 1 {
		return errors.ConfigInvalid("permutations must be positive")
	}
	if c.Enrichment.MinSetSize < 1 || c.Enrichment.MaxSetSize < c.Enrichment.MinSetSize {
		return errors.ConfigInvalid("gene set size bounds are invalid")
	}
	return nil
}

// DelimiterRune resolves the configured delimiter, accepting "tab" and "comma" aliases.
func (c *Config) DelimiterRune() rune {
	switch strings.ToLower(c.Input.Delimiter) {
	case "", "\t", "tab", `\t`:
		return '\t'
	case ",", "comma":
		return ','
	default:
		return []rune(c.Input.Delimiter)[0]
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
