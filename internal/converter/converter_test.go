package converter

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psrfits-tools/internal/config"
	"psrfits-tools/internal/filterbank"
	"psrfits-tools/internal/psrfits"
	"psrfits-tools/internal/synth"
)

// archive writes a small synthetic observation and returns its settings
// and the path of its first file
func archive(t *testing.T, modify func(*config.SynthConfig)) (config.SynthConfig, string) {
	t.Helper()
	cfg := config.DefaultConfig().Synth
	cfg.Basename = filepath.Join(t.TempDir(), "in", "synth")
	cfg.Rows = 5
	cfg.NChan = 8
	cfg.NPol = 4
	cfg.NSblk = 16
	if modify != nil {
		modify(&cfg)
	}
	_, err := synth.Generate(context.Background(), cfg, 2, zerolog.Nop())
	require.NoError(t, err)
	return cfg, psrfits.SegmentFilename(cfg.Basename, 1)
}

func conversion(t *testing.T) config.ConversionConfig {
	cfg := config.DefaultConfig().Conversion
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func convert(t *testing.T, cfg config.ConversionConfig, input string) (Result, *filterbank.Header, []byte) {
	t.Helper()
	c := NewConverter(cfg, zerolog.Nop())
	require.NoError(t, c.Initialize(input))
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	hdr, n, err := filterbank.ReadHeader(bytes.NewReader(data))
	require.NoError(t, err)
	return res, hdr, data[n:]
}

func TestConvertWholeArchive(t *testing.T) {
	scfg, input := archive(t, nil)
	cfg := conversion(t)
	res, hdr, samples := convert(t, cfg, input)

	assert.Equal(t, filepath.Join(cfg.OutputDir, "synth_0001.fil"), res.Output)
	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, int64(5*16), res.Dumps)
	assert.Equal(t, int64(len(samples)), res.Bytes)
	assert.Len(t, samples, 5*16*8)
	assert.False(t, res.Flipped)

	assert.Equal(t, "synth", hdr.RawDataFile)
	assert.Equal(t, "J0534+2200", hdr.SourceName)
	assert.Equal(t, 8, hdr.NChans)
	assert.Equal(t, 8, hdr.NBits)
	assert.InDelta(t, 1443.75, hdr.FCh1, 1e-9)
	assert.InDelta(t, -12.5, hdr.FOff, 1e-9)
	assert.InDelta(t, scfg.TBin, hdr.TSamp, 1e-15)
	assert.InDelta(t, scfg.StartMJD, hdr.TStart, 1e-9)
	assert.Equal(t, 32, hdr.TelescopeID)
	assert.InDelta(t, 53431.97, hdr.SrcRAJ, 1e-6)
	assert.InDelta(t, 220052.1, hdr.SrcDEJ, 1e-6)
	assert.InDelta(t, 180.0, hdr.AzStart, 1e-9)
	assert.InDelta(t, 30.0, hdr.ZAStart, 1e-9)

	// the first output sample is the first product of every channel
	gen, err := synth.NewGenerator(scfg, zerolog.Nop())
	require.NoError(t, err)
	first := gen.Record(0).Data.Bytes()
	assert.Equal(t, first[:8], samples[:8])
	assert.Equal(t, first[32:40], samples[8:16])
}

func TestConvertAscendingBandIsFlipped(t *testing.T) {
	scfg, input := archive(t, func(c *config.SynthConfig) { c.Bandwidth = 100 })
	res, hdr, samples := convert(t, conversion(t), input)

	assert.True(t, res.Flipped)
	assert.InDelta(t, 1443.75, hdr.FCh1, 1e-9)
	assert.InDelta(t, -12.5, hdr.FOff, 1e-9)

	gen, err := synth.NewGenerator(scfg, zerolog.Nop())
	require.NoError(t, err)
	first := gen.Record(0).Data.Bytes()
	for c := 0; c < 8; c++ {
		assert.Equal(t, first[7-c], samples[c])
	}
}

func TestConvertChannelWindowAndOverrides(t *testing.T) {
	_, input := archive(t, nil)
	cfg := conversion(t)
	cfg.StartChan = 3
	cfg.EndChan = 6
	cfg.CenterFreq = 1500
	cfg.SampleTime = 128
	cfg.TelescopeID = 6
	res, hdr, samples := convert(t, cfg, input)

	assert.Equal(t, 4, res.Channels)
	assert.Equal(t, 4, hdr.NChans)
	assert.InDelta(t, 1500+50-2.5*12.5, hdr.FCh1, 1e-9)
	assert.InDelta(t, 128e-6, hdr.TSamp, 1e-15)
	assert.Equal(t, 6, hdr.TelescopeID)
	assert.Len(t, samples, 5*16*4)
}

func TestConvertBandpassStopsAfterFirstRow(t *testing.T) {
	_, input := archive(t, nil)
	cfg := conversion(t)
	cfg.Bandpass = true
	res, _, samples := convert(t, cfg, input)

	assert.Equal(t, 1, res.Rows)
	assert.Len(t, samples, 16*8)
}

func TestConvertSixteenBit(t *testing.T) {
	scfg, input := archive(t, func(c *config.SynthConfig) { c.NBits = 16 })
	_, hdr, samples := convert(t, conversion(t), input)

	assert.Equal(t, 16, hdr.NBits)
	require.Len(t, samples, 5*16*8*2)

	gen, err := synth.NewGenerator(scfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, gen.Record(0).Data.Bytes()[:16], samples[:16])
}

func TestInitializeRejects(t *testing.T) {
	dir := t.TempDir()

	c := NewConverter(conversion(t), zerolog.Nop())
	assert.ErrorIs(t, c.Initialize(filepath.Join(dir, "obs.fits")), psrfits.ErrConfig)
	assert.ErrorIs(t, c.Initialize(filepath.Join(dir, "obs_0001.fits")), psrfits.ErrOpen)

	_, fold := archive(t, func(c *config.SynthConfig) { c.ObsMode = "PSR"; c.NBin = 16 })
	err := c.Initialize(fold)
	assert.ErrorContains(t, err, "only SEARCH data")

	cfg := conversion(t)
	cfg.Layout = "stokes"
	_, input := archive(t, nil)
	assert.Error(t, NewConverter(cfg, zerolog.Nop()).Initialize(input))
}

func TestRunWithoutInitialize(t *testing.T) {
	_, err := NewConverter(conversion(t), zerolog.Nop()).Run(context.Background())
	assert.Error(t, err)
}

func TestMakePlan(t *testing.T) {
	hdr := psrfits.ObservationHeader{NChan: 16, CenterFreq: 1400, Bandwidth: -160, TBin: 1e-4}

	p, err := MakePlan(config.ConversionConfig{}, hdr)
	require.NoError(t, err)
	assert.Equal(t, Plan{StartChan: 1, EndChan: 16, CenterFreq: 1400, ChanBW: -10, TSamp: 1e-4}, p)
	assert.InDelta(t, 1475.0, p.FCh1(hdr.Bandwidth), 1e-9)

	_, err = MakePlan(config.ConversionConfig{EndChan: 17}, hdr)
	assert.Error(t, err)

	// a user flip of a descending band labels the output ascending, so foff
	// is positive here where a fixed -|chbw| would mislabel every channel
	p, err = MakePlan(config.ConversionConfig{Flip: true}, hdr)
	require.NoError(t, err)
	assert.InDelta(t, 1325.0, p.FCh1(hdr.Bandwidth), 1e-9)
	assert.InDelta(t, 10.0, p.FOff(), 1e-9)
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "guppi_B0329_0007.fil", OutputName("/data/raw/guppi_B0329", 7))
}
