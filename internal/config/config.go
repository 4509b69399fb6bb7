// Package config provides configuration structures and defaults for the
// PSRFITS tools
package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Archive    ArchiveConfig    `mapstructure:"archive" yaml:"archive"`       // Archive file set settings
	Conversion ConversionConfig `mapstructure:"conversion" yaml:"conversion"` // psrfits2fil settings
	Synth      SynthConfig      `mapstructure:"synth" yaml:"synth"`           // Synthetic archive settings
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`       // Logging configuration
}

// ArchiveConfig controls how write sessions split an observation into files
type ArchiveConfig struct {
	RowsPerFile int    `mapstructure:"rows_per_file" yaml:"rows_per_file"` // Rows per file; 0 sizes files by MaxFileSize
	MaxFileSize string `mapstructure:"max_file_size" yaml:"max_file_size"` // Payload volume per file, e.g. "10 GiB"
}

// ConversionConfig contains PSRFITS to filterbank conversion parameters
type ConversionConfig struct {
	OutputDir    string  `mapstructure:"output_dir" yaml:"output_dir"`         // Directory for .fil files
	StartChan    int     `mapstructure:"start_chan" yaml:"start_chan"`         // First channel kept (1-based, 0 = first)
	EndChan      int     `mapstructure:"end_chan" yaml:"end_chan"`             // Last channel kept (0 = last)
	Flip         bool    `mapstructure:"flip" yaml:"flip"`                     // Reverse channel order (forced for positive CHAN_BW)
	CenterFreq   float64 `mapstructure:"center_freq" yaml:"center_freq"`       // Band centre in MHz (0 = OBSFREQ)
	SampleTime   float64 `mapstructure:"sample_time" yaml:"sample_time"`       // Sample time in microseconds (0 = TBIN)
	Bandpass     bool    `mapstructure:"bandpass" yaml:"bandpass"`             // Stop after the first subintegration
	TelescopeID  int     `mapstructure:"telescope_id" yaml:"telescope_id"`     // sigproc telescope code
	MachineID    int     `mapstructure:"machine_id" yaml:"machine_id"`         // sigproc backend code
	Products     int     `mapstructure:"products" yaml:"products"`             // Products per channel per sample in the input
	DumpsPerUnit int     `mapstructure:"dumps_per_unit" yaml:"dumps_per_unit"` // Dumps accumulated per output write
	Layout       string  `mapstructure:"layout" yaml:"layout"`                 // Product layout: "blocked" or "interleaved"
}

// SynthConfig describes the synthetic observation written by psrfits-synth
type SynthConfig struct {
	Basename    string  `mapstructure:"basename" yaml:"basename"`         // Output archive basename
	ObsMode     string  `mapstructure:"obs_mode" yaml:"obs_mode"`         // SEARCH or PSR
	Rows        int     `mapstructure:"rows" yaml:"rows"`                 // Subintegrations to write
	NChan       int     `mapstructure:"nchan" yaml:"nchan"`               // Frequency channels
	NPol        int     `mapstructure:"npol" yaml:"npol"`                 // Polarization products (1, 2 or 4)
	NBits       int     `mapstructure:"nbits" yaml:"nbits"`               // Bits per sample (8 or 16)
	NSblk       int     `mapstructure:"nsblk" yaml:"nsblk"`               // Samples per row in Search mode
	NBin        int     `mapstructure:"nbin" yaml:"nbin"`                 // Phase bins in Fold mode
	TBin        float64 `mapstructure:"tbin" yaml:"tbin"`                 // Sample time in seconds
	CenterFreq  float64 `mapstructure:"center_freq" yaml:"center_freq"`   // Band centre in MHz
	Bandwidth   float64 `mapstructure:"bandwidth" yaml:"bandwidth"`       // Total bandwidth in MHz, negative for descending channels
	Source      string  `mapstructure:"source" yaml:"source"`             // Source name
	RA          string  `mapstructure:"ra" yaml:"ra"`                     // hh:mm:ss.ss
	Dec         string  `mapstructure:"dec" yaml:"dec"`                   // dd:mm:ss.ss
	Telescope   string  `mapstructure:"telescope" yaml:"telescope"`       // Telescope name
	StartMJD    float64 `mapstructure:"start_mjd" yaml:"start_mjd"`       // Observation start epoch
	PulsePeriod float64 `mapstructure:"pulse_period" yaml:"pulse_period"` // Injected pulse period in seconds (0 = noise only)
	Seed        int64   `mapstructure:"seed" yaml:"seed"`                 // Noise generator seed
}

// LoggingConfig contains logging configuration parameters
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // Log level (debug, info, warn, error)
	File   string `mapstructure:"file" yaml:"file"`     // Optional log file path
	Format string `mapstructure:"format" yaml:"format"` // "text" for console output, "json" otherwise
}

// DefaultConfig returns a configuration with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			RowsPerFile: 0,        // Size files by volume
			MaxFileSize: "10 GiB", // Same limit as the acquisition software
		},
		Conversion: ConversionConfig{
			OutputDir:    ".",       // Current directory
			StartChan:    0,         // Full band
			EndChan:      0,         // Full band
			Flip:         false,     // Keep channel order unless CHAN_BW > 0
			CenterFreq:   0,         // Use OBSFREQ
			SampleTime:   0,         // Use TBIN
			Bandpass:     false,     // Convert everything
			TelescopeID:  32,        // 20 m telescope code
			MachineID:    32,        // Cyborg backend code
			Products:     4,         // Full Stokes input
			DumpsPerUnit: 1,         // Emit every dump immediately
			Layout:       "blocked", // PSRFITS (NCHAN,NPOL) ordering
		},
		Synth: SynthConfig{
			Basename:    "./synth/synth",
			ObsMode:     "SEARCH",
			Rows:        10,
			NChan:       64,
			NPol:        4,
			NBits:       8,
			NSblk:       64,
			NBin:        128,
			TBin:        6.4e-5,
			CenterFreq:  1400,
			Bandwidth:   -100,
			Source:      "J0534+2200",
			RA:          "05:34:31.97",
			Dec:         "+22:00:52.1",
			Telescope:   "Synthetic",
			StartMJD:    60000.5,
			PulsePeriod: 0.0333924,
			Seed:        1,
		},
		Logging: LoggingConfig{
			Level:  "info", // Info level logging
			File:   "",     // stderr only
			Format: "text", // Human readable
		},
	}
}

// Load merges the values known to v over the defaults and validates them
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MaxFileBytes returns the parsed Archive.MaxFileSize
func (c *Config) MaxFileBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Archive.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_file_size %q: %w", c.Archive.MaxFileSize, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("max_file_size must be positive")
	}
	return int64(n), nil
}

// Validate checks values that cannot be caught by the type system
func (c *Config) Validate() error {
	if c.Archive.RowsPerFile < 0 {
		return fmt.Errorf("invalid rows_per_file: %d", c.Archive.RowsPerFile)
	}
	if _, err := c.MaxFileBytes(); err != nil {
		return err
	}

	conv := c.Conversion
	if conv.OutputDir == "" {
		return fmt.Errorf("output directory not specified")
	}
	if conv.StartChan < 0 || conv.EndChan < 0 {
		return fmt.Errorf("invalid channel window %d..%d", conv.StartChan, conv.EndChan)
	}
	if conv.StartChan > 0 && conv.EndChan > 0 && conv.StartChan > conv.EndChan {
		return fmt.Errorf("start channel %d is after end channel %d", conv.StartChan, conv.EndChan)
	}
	if conv.CenterFreq < 0 || conv.SampleTime < 0 {
		return fmt.Errorf("center frequency and sample time overrides cannot be negative")
	}
	if conv.Products < 1 {
		return fmt.Errorf("invalid products: %d", conv.Products)
	}
	if conv.DumpsPerUnit < 1 {
		return fmt.Errorf("invalid dumps_per_unit: %d", conv.DumpsPerUnit)
	}
	if conv.Layout != "blocked" && conv.Layout != "interleaved" {
		return fmt.Errorf("invalid layout: %s (must be 'blocked' or 'interleaved')", conv.Layout)
	}

	s := c.Synth
	if s.Rows < 1 {
		return fmt.Errorf("invalid synth rows: %d", s.Rows)
	}
	if s.NBits != 8 && s.NBits != 16 {
		return fmt.Errorf("invalid synth nbits: %d (must be 8 or 16)", s.NBits)
	}
	if s.NPol != 1 && s.NPol != 2 && s.NPol != 4 {
		return fmt.Errorf("invalid synth npol: %d (must be 1, 2 or 4)", s.NPol)
	}
	if s.NChan < 1 || s.NSblk < 1 || s.NBin < 1 || s.TBin <= 0 {
		return fmt.Errorf("synth nchan, nsblk, nbin and tbin must be positive")
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", c.Logging.Format)
	}
	return nil
}

// Dump renders cfg as YAML
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}
