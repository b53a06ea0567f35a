package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/landcover/internal/crs"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Composite  CompositeConfig  `yaml:"composite" mapstructure:"composite"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Sampling   SamplingConfig   `yaml:"sampling" mapstructure:"sampling"`
	Forest     ForestConfig     `yaml:"forest" mapstructure:"forest"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SourceConfig configures where scenes come from.
type SourceConfig struct {
	Catalog     string      `yaml:"catalog" mapstructure:"catalog"`
	CacheDir    string      `yaml:"cache_dir" mapstructure:"cache_dir"`
	Collection  string      `yaml:"collection" mapstructure:"collection"`
	UserAgent   string      `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry       RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig mirrors resilience.RetryConfig in file form.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// RunConfig describes what a classify run processes.
type RunConfig struct {
	Year    int      `yaml:"year" mapstructure:"year"`
	Start   string   `yaml:"start" mapstructure:"start"`
	End     string   `yaml:"end" mapstructure:"end"`
	AOI     string   `yaml:"aoi" mapstructure:"aoi"`
	Regions []string `yaml:"regions" mapstructure:"regions"`
	Seed    uint64   `yaml:"seed" mapstructure:"seed"`
}

// CompositeConfig tunes the median reduction.
type CompositeConfig struct {
	TileSize int `yaml:"tile_size" mapstructure:"tile_size"`
	Workers  int `yaml:"workers" mapstructure:"workers"`
}

// NormalizeConfig tunes the min/max reduction.
type NormalizeConfig struct {
	Scale      float64 `yaml:"scale" mapstructure:"scale"`
	MaxPixels  int     `yaml:"max_pixels" mapstructure:"max_pixels"`
	BestEffort bool    `yaml:"best_effort" mapstructure:"best_effort"`
	TileSize   int     `yaml:"tile_size" mapstructure:"tile_size"`
	Workers    int     `yaml:"workers" mapstructure:"workers"`
}

// SamplingConfig configures the train/validation split and extraction.
type SamplingConfig struct {
	SplitThreshold float64 `yaml:"split_threshold" mapstructure:"split_threshold"`
	Scale          float64 `yaml:"scale" mapstructure:"scale"`
}

// ForestConfig configures the random forest.
type ForestConfig struct {
	Trees            int `yaml:"trees" mapstructure:"trees"`
	MaxDepth         int `yaml:"max_depth" mapstructure:"max_depth"`
	MinLeafSize      int `yaml:"min_leaf_size" mapstructure:"min_leaf_size"`
	FeaturesPerSplit int `yaml:"features_per_split" mapstructure:"features_per_split"`
	Workers          int `yaml:"workers" mapstructure:"workers"`
}

// ExportConfig configures region exports.
type ExportConfig struct {
	Dir       string  `yaml:"dir" mapstructure:"dir"`
	Scale     float64 `yaml:"scale" mapstructure:"scale"`
	CRS       string  `yaml:"crs" mapstructure:"crs"`
	Workers   int     `yaml:"workers" mapstructure:"workers"`
	MaxPixels int     `yaml:"max_pixels" mapstructure:"max_pixels"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run health alerts.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ExportFailureThreshold float64 `yaml:"export_failure_threshold" mapstructure:"export_failure_threshold"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultRegions are the export regions used when none are configured.
var DefaultRegions = []string{
	"huntsville", "auburn", "birmingham", "decatur", "mobile", "montgomery", "tuscaloosa",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LANDCOVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "landcover.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("source.catalog", "scenes")
	v.SetDefault("source.cache_dir", ".cache/scenes")
	v.SetDefault("source.collection", "LANDSAT/LT05/C01/T1_SR")
	v.SetDefault("source.user_agent", "landcover/1.0")
	v.SetDefault("source.timeout_secs", 120)
	v.SetDefault("source.retry.max_attempts", 3)
	v.SetDefault("source.retry.initial_backoff_ms", 500)
	v.SetDefault("source.retry.max_backoff_ms", 10000)
	v.SetDefault("source.retry.multiplier", 2.0)
	v.SetDefault("source.retry.jitter_fraction", 0.25)
	v.SetDefault("run.year", 2010)
	v.SetDefault("run.start", "2010-01-01")
	v.SetDefault("run.end", "2010-12-31")
	v.SetDefault("run.aoi", "alabama")
	v.SetDefault("run.regions", DefaultRegions)
	v.SetDefault("run.seed", 0)
	v.SetDefault("composite.tile_size", 256)
	v.SetDefault("composite.workers", 4)
	v.SetDefault("normalize.scale", 20)
	v.SetDefault("normalize.max_pixels", 10_000_000)
	v.SetDefault("normalize.best_effort", true)
	v.SetDefault("normalize.tile_size", 256)
	v.SetDefault("normalize.workers", 4)
	v.SetDefault("sampling.split_threshold", 0.6)
	v.SetDefault("sampling.scale", 10)
	v.SetDefault("forest.trees", 50)
	v.SetDefault("forest.max_depth", 0)
	v.SetDefault("forest.min_leaf_size", 1)
	v.SetDefault("forest.features_per_split", 0)
	v.SetDefault("forest.workers", 4)
	v.SetDefault("export.dir", "LULC")
	v.SetDefault("export.scale", 30)
	v.SetDefault("export.crs", crs.WorldMercator)
	v.SetDefault("export.workers", 4)
	v.SetDefault("export.max_pixels", 1_000_000_000)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.export_failure_threshold", 0.5)
	v.SetDefault("monitoring.lookback_window_hours", 168)
	v.SetDefault("monitoring.check_interval_secs", 900)

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

// DateRange parses run.start and run.end. The end date is inclusive.
func (r RunConfig) DateRange() (time.Time, time.Time, error) {
	start, err := time.Parse(time.DateOnly, r.Start)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "config: parse run.start %q", r.Start)
	}
	end, err := time.Parse(time.DateOnly, r.End)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "config: parse run.end %q", r.End)
	}
	return start, end, nil
}

// Validate checks the fields a command mode depends on. Modes: "classify",
// "serve", "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "classify":
		errs = append(errs, c.validateClassify()...)
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.Enabled && c.Monitoring.LookbackWindowHours <= 0 {
			errs = append(errs, "monitoring.lookback_window_hours must be > 0")
		}
	case "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateClassify() []string {
	var errs []string

	if c.Source.Catalog == "" {
		errs = append(errs, "source.catalog is required")
	}
	if c.Source.Collection == "" {
		errs = append(errs, "source.collection is required")
	}
	if c.Source.Retry.MaxAttempts < 1 {
		errs = append(errs, "source.retry.max_attempts must be >= 1")
	}
	if c.Run.AOI == "" {
		errs = append(errs, "run.aoi is required")
	}
	if start, end, err := c.Run.DateRange(); err != nil {
		errs = append(errs, err.Error())
	} else if end.Before(start) {
		errs = append(errs, "run.end must not be before run.start")
	}
	if t := c.Sampling.SplitThreshold; t <= 0 || t >= 1 {
		errs = append(errs, "sampling.split_threshold must be in (0, 1)")
	}
	if c.Sampling.Scale <= 0 {
		errs = append(errs, "sampling.scale must be > 0")
	}
	if c.Normalize.Scale <= 0 {
		errs = append(errs, "normalize.scale must be > 0")
	}
	if c.Normalize.MaxPixels < 1 {
		errs = append(errs, "normalize.max_pixels must be >= 1")
	}
	if c.Forest.Trees < 1 {
		errs = append(errs, "forest.trees must be >= 1")
	}
	if c.Forest.MinLeafSize < 1 {
		errs = append(errs, "forest.min_leaf_size must be >= 1")
	}
	if c.Export.Scale <= 0 {
		errs = append(errs, "export.scale must be > 0")
	}
	if _, err := crs.Lookup(c.Export.CRS); err != nil {
		errs = append(errs, "export.crs: "+err.Error())
	}
	if c.Export.Dir == "" {
		errs = append(errs, "export.dir is required")
	}
	return errs
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
