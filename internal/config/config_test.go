package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2010, cfg.Run.Year)
	assert.Equal(t, DefaultRegions, cfg.Run.Regions)
	assert.InDelta(t, 0.6, cfg.Sampling.SplitThreshold, 1e-9)
	assert.InDelta(t, 10.0, cfg.Sampling.Scale, 1e-9)
	assert.InDelta(t, 20.0, cfg.Normalize.Scale, 1e-9)
	assert.True(t, cfg.Normalize.BestEffort)
	assert.Equal(t, 50, cfg.Forest.Trees)
	assert.Equal(t, "LULC", cfg.Export.Dir)
	assert.InDelta(t, 30.0, cfg.Export.Scale, 1e-9)
	assert.Equal(t, "EPSG:3395", cfg.Export.CRS)
	assert.Equal(t, 3, cfg.Source.Retry.MaxAttempts)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 168, cfg.Monitoring.LookbackWindowHours)

	require.NoError(t, cfg.Validate("classify"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/landcover
log:
  level: debug
  format: console
run:
  year: 2015
  start: "2015-01-01"
  end: "2015-12-31"
  regions: [mobile]
forest:
  trees: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 2015, cfg.Run.Year)
	assert.Equal(t, []string{"mobile"}, cfg.Run.Regions)
	assert.Equal(t, 10, cfg.Forest.Trees)
	// Defaults still apply for unset values
	assert.Equal(t, "LULC", cfg.Export.Dir)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("LANDCOVER_STORE_DRIVER", "postgres")
	t.Setenv("LANDCOVER_LOG_LEVEL", "warn")
	t.Setenv("LANDCOVER_EXPORT_DIR", "out")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "out", cfg.Export.Dir)
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

// validDefaults returns a Config that passes classify validation.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store = StoreConfig{Driver: "sqlite", DatabaseURL: "landcover.db"}
	cfg.Source = SourceConfig{Catalog: "scenes", Collection: "L5", Retry: RetryConfig{MaxAttempts: 3}}
	cfg.Run = RunConfig{Year: 2010, Start: "2010-01-01", End: "2010-12-31", AOI: "alabama"}
	cfg.Normalize = NormalizeConfig{Scale: 20, MaxPixels: 1000}
	cfg.Sampling = SamplingConfig{SplitThreshold: 0.6, Scale: 10}
	cfg.Forest = ForestConfig{Trees: 50, MinLeafSize: 1}
	cfg.Export = ExportConfig{Dir: "LULC", Scale: 30, CRS: "EPSG:3395"}
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateClassify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"threshold zero", func(c *Config) { c.Sampling.SplitThreshold = 0 }, "split_threshold"},
		{"threshold one", func(c *Config) { c.Sampling.SplitThreshold = 1 }, "split_threshold"},
		{"no trees", func(c *Config) { c.Forest.Trees = 0 }, "forest.trees"},
		{"zero export scale", func(c *Config) { c.Export.Scale = 0 }, "export.scale"},
		{"negative sample scale", func(c *Config) { c.Sampling.Scale = -1 }, "sampling.scale"},
		{"unknown crs", func(c *Config) { c.Export.CRS = "EPSG:2263" }, "export.crs"},
		{"end before start", func(c *Config) { c.Run.End = "2009-12-31" }, "run.end"},
		{"bad date", func(c *Config) { c.Run.Start = "Jan 1" }, "run.start"},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("classify")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestRunConfig_DateRange(t *testing.T) {
	start, end, err := RunConfig{Start: "2010-01-01", End: "2010-12-31"}.DateRange()
	require.NoError(t, err)
	assert.Equal(t, 2010, start.Year())
	assert.Equal(t, 365, int(end.Sub(start).Hours()/24)+1)
}
