package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	n, err := cfg.MaxFileBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10<<30), n)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative rows per file", func(c *Config) { c.Archive.RowsPerFile = -1 }},
		{"bad file size", func(c *Config) { c.Archive.MaxFileSize = "lots" }},
		{"empty output dir", func(c *Config) { c.Conversion.OutputDir = "" }},
		{"reversed window", func(c *Config) { c.Conversion.StartChan, c.Conversion.EndChan = 10, 5 }},
		{"negative channel", func(c *Config) { c.Conversion.StartChan = -1 }},
		{"negative tsamp", func(c *Config) { c.Conversion.SampleTime = -64 }},
		{"zero dumps", func(c *Config) { c.Conversion.DumpsPerUnit = 0 }},
		{"zero products", func(c *Config) { c.Conversion.Products = 0 }},
		{"unknown layout", func(c *Config) { c.Conversion.Layout = "stokes" }},
		{"4-bit synth", func(c *Config) { c.Synth.NBits = 4 }},
		{"3 polarizations", func(c *Config) { c.Synth.NPol = 3 }},
		{"no rows", func(c *Config) { c.Synth.Rows = 0 }},
		{"zero tbin", func(c *Config) { c.Synth.TBin = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
conversion:
  start_chan: 5
  end_chan: 10
  layout: interleaved
archive:
  max_file_size: 512 MiB
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Conversion.StartChan)
	assert.Equal(t, 10, cfg.Conversion.EndChan)
	assert.Equal(t, "interleaved", cfg.Conversion.Layout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 32, cfg.Conversion.TelescopeID, "unset values keep their defaults")

	n, err := cfg.MaxFileBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(512<<20), n)
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := viper.New()
	v.Set("conversion.dumps_per_unit", 0)
	_, err := Load(v)
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	out, err := Dump(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, string(out), "layout: blocked")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, *DefaultConfig(), back)
}
