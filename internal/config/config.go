package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Lichess  LichessConfig  `yaml:"lichess" mapstructure:"lichess"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// RegistryConfig points at the engine registry file.
type RegistryConfig struct {
	// Path to an engines.json (or .yaml) registry. Empty means the
	// platform default Nibbler location.
	Path string `yaml:"path" mapstructure:"path"`
}

// LichessConfig configures the opening explorer client.
type LichessConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	TokenFile string  `yaml:"token_file" mapstructure:"token_file"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// CacheConfig configures the local explorer cache.
type CacheConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	Disabled bool   `yaml:"disabled" mapstructure:"disabled"`
}

// AnalysisConfig holds the engine budgets and selection thresholds.
type AnalysisConfig struct {
	// Nodes is the per-position search budget.
	Nodes uint64 `yaml:"nodes" mapstructure:"nodes"`
	// DoubleCheckNodes is the deepening budget for candidates the wide
	// search barely touched. Negative means one tenth of Nodes.
	DoubleCheckNodes int64 `yaml:"double_check_nodes" mapstructure:"double_check_nodes"`
	// EvalThreshold and InitialEvalMargin are in hundredths of a
	// percentage point of win probability.
	EvalThreshold     uint64  `yaml:"eval_threshold" mapstructure:"eval_threshold"`
	InitialEvalMargin uint64  `yaml:"initial_eval_margin" mapstructure:"initial_eval_margin"`
	RarityFreq        float64 `yaml:"rarity_threshold_freq" mapstructure:"rarity_threshold_freq"`
	RarityCount       uint64  `yaml:"rarity_threshold_count" mapstructure:"rarity_threshold_count"`
	FirstMove         int     `yaml:"first_move" mapstructure:"first_move"`
	BookCutoff        uint64  `yaml:"book_cutoff" mapstructure:"book_cutoff"`
	IncludeInput      bool    `yaml:"include_input" mapstructure:"include_input"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// OutputConfig controls annotation and reporting.
type OutputConfig struct {
	Arrows bool `yaml:"arrows" mapstructure:"arrows"`
	// PVPlies is how many plies of the engine line are written into
	// suggestion variations.
	PVPlies int  `yaml:"pv_plies" mapstructure:"pv_plies"`
	Summary bool `yaml:"summary" mapstructure:"summary"`
	// Diagrams is an SVG output filename pattern containing "{}", or
	// empty to disable diagram output.
	Diagrams string `yaml:"diagrams" mapstructure:"diagrams"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NOVELTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("lichess.base_url", "https://explorer.lichess.ovh")
	v.SetDefault("lichess.rate_limit", 2.0)
	v.SetDefault("lichess.burst", 2)
	v.SetDefault("cache.path", "novelty-grinder-cache.db")
	v.SetDefault("cache.ttl_hours", 24*7)
	v.SetDefault("analysis.nodes", 100_000)
	v.SetDefault("analysis.double_check_nodes", -1)
	v.SetDefault("analysis.eval_threshold", 200)
	v.SetDefault("analysis.initial_eval_margin", 300)
	v.SetDefault("analysis.rarity_threshold_freq", 0.05)
	v.SetDefault("analysis.rarity_threshold_count", 0)
	v.SetDefault("analysis.first_move", 1)
	v.SetDefault("analysis.book_cutoff", 2)
	v.SetDefault("analysis.concurrency", 1)
	v.SetDefault("output.pv_plies", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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

// Validate rejects values no run could make sense of.
func (c *Config) Validate() error {
	if c.Analysis.Nodes == 0 {
		return eris.New("config: analysis.nodes must be positive")
	}
	if c.Analysis.RarityFreq < 0 || c.Analysis.RarityFreq > 1 {
		return eris.New("config: analysis.rarity_threshold_freq must be in [0, 1]")
	}
	if c.Analysis.FirstMove < 1 {
		return eris.New("config: analysis.first_move must be at least 1")
	}
	if c.Analysis.Concurrency < 1 {
		return eris.New("config: analysis.concurrency must be at least 1")
	}
	if c.Output.PVPlies < 0 {
		return eris.New("config: output.pv_plies must not be negative")
	}
	if c.Cache.TTLHours < 0 {
		return eris.New("config: cache.ttl_hours must not be negative")
	}
	if c.Lichess.RateLimit <= 0 {
		return eris.New("config: lichess.rate_limit must be positive")
	}
	return nil
}

// InitLogger initializes the global zap logger. Logs go to stderr so
// annotated PGN output on stdout stays clean.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.OutputPaths = []string{"stderr"}

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
