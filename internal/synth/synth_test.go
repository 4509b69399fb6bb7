package synth

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psrfits-tools/internal/config"
	"psrfits-tools/internal/psrfits"
)

func smallSearch(dir string) config.SynthConfig {
	cfg := config.DefaultConfig().Synth
	cfg.Basename = filepath.Join(dir, "obs", "synth")
	cfg.Rows = 5
	cfg.NChan = 8
	cfg.NPol = 4
	cfg.NSblk = 16
	return cfg
}

func TestGenerateSearchArchive(t *testing.T) {
	cfg := smallSearch(t.TempDir())
	summary, err := Generate(context.Background(), cfg, 2, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, psrfits.Summary{Rows: 5, Time: 5 * 16 * cfg.TBin, Files: 3, Status: 0}, summary)

	rs, err := psrfits.OpenReadSession(cfg.Basename, 1, zerolog.Nop())
	require.NoError(t, err)
	defer rs.Close()

	hdr := rs.Header()
	assert.Equal(t, "J0534+2200", hdr.Source)
	assert.Equal(t, 8, hdr.NChan)
	assert.InDelta(t, -12.5, hdr.ChanBW, 1e-9)
	assert.InDelta(t, cfg.StartMJD, hdr.MJDEpoch(), 1e-9)
	assert.Equal(t, "2023-02-25T12:00:00.000", hdr.DateObs)

	rows := 0
	for {
		rec, err := rs.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 8*4*16, rec.Data.Len())
		assert.InDelta(t, 1400+50-6.25, float64(rec.Freqs[0]), 1e-3)
		rows++
	}
	assert.Equal(t, 5, rows)
}

func TestGeneratorIsDeterministic(t *testing.T) {
	cfg := smallSearch(t.TempDir())
	a, err := NewGenerator(cfg, zerolog.Nop())
	require.NoError(t, err)
	b, err := NewGenerator(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, a.Record(0).Data.Bytes(), b.Record(0).Data.Bytes())
}

func TestPulseRaisesFirstProduct(t *testing.T) {
	cfg := smallSearch(t.TempDir())
	cfg.NPol = 1
	cfg.NSblk = 1000
	cfg.PulsePeriod = 1000 * cfg.TBin
	gen, err := NewGenerator(cfg, zerolog.Nop())
	require.NoError(t, err)

	data := gen.Record(0).Data
	mean := func(from, to int) float64 {
		var sum float64
		for s := from; s < to; s++ {
			for c := 0; c < cfg.NChan; c++ {
				sum += float64(data.At(c + cfg.NChan*s))
			}
		}
		return sum / float64((to-from)*cfg.NChan)
	}
	assert.Greater(t, mean(0, 20), mean(500, 520)+50)
}

func TestGenerateFoldArchive(t *testing.T) {
	cfg := smallSearch(t.TempDir())
	cfg.ObsMode = "PSR"
	cfg.NBin = 32
	cfg.Rows = 2
	summary, err := Generate(context.Background(), cfg, 0, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 1, summary.Files)

	rs, err := psrfits.OpenReadSession(cfg.Basename, 1, zerolog.Nop())
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, psrfits.Fold, rs.Mode())
	assert.Equal(t, 32*8*4, rs.Geometry().BytesPerSubint)
}

func TestGenerateCancelled(t *testing.T) {
	cfg := smallSearch(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := Generate(ctx, cfg, 0, zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Rows)
}

func TestGenerateRejectsFourBitSearch(t *testing.T) {
	cfg := smallSearch(t.TempDir())
	cfg.NBits = 4
	_, err := NewGenerator(cfg, zerolog.Nop())
	assert.Error(t, err)
}
