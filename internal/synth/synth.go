// Package synth generates synthetic PSRFITS observations: Gaussian noise
// with an optional periodic pulse, written through a psrfits.WriteSession
package synth

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"psrfits-tools/internal/config"
	"psrfits-tools/internal/psrfits"
)

const (
	mjdUnixEpoch = 40587.0
	dutyCycle    = 0.03 // pulse width as a fraction of the period
	noiseMean    = 64.0
	noiseSigma   = 8.0
	pulseHeight  = 96.0
)

// Generator produces the records of one synthetic observation
type Generator struct {
	cfg  config.SynthConfig
	hdr  psrfits.ObservationHeader
	mode psrfits.Mode
	geom psrfits.Geometry
	rng  *rand.Rand
}

// NewGenerator derives the observation header and row layout from cfg
func NewGenerator(cfg config.SynthConfig, logger zerolog.Logger) (*Generator, error) {
	hdr := Header(cfg)
	mode := psrfits.ResolveMode(hdr.ObsMode, logger)
	geom, err := psrfits.ComputeGeometry(&hdr, mode)
	if err != nil {
		return nil, err
	}
	if mode == psrfits.Search && cfg.NBits != 8 && cfg.NBits != 16 {
		return nil, fmt.Errorf("synthetic search data must be 8 or 16 bit, got %d", cfg.NBits)
	}
	return &Generator{
		cfg:  cfg,
		hdr:  hdr,
		mode: mode,
		geom: geom,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Header builds the observation header described by cfg
func Header(cfg config.SynthConfig) psrfits.ObservationHeader {
	hdr := psrfits.ObservationHeader{
		ObsMode:    cfg.ObsMode,
		Telescope:  cfg.Telescope,
		Observer:   "psrfits-synth",
		ProjectID:  "SYNTH",
		Frontend:   "SYNTH",
		Backend:    "SYNTH",
		PolnType:   "LIN",
		Source:     cfg.Source,
		TrackMode:  "TRACK",
		RAStr:      cfg.RA,
		DecStr:     cfg.Dec,
		CalMode:    "OFF",
		FeedMode:   "FA",
		CenterFreq: cfg.CenterFreq,
		Bandwidth:  cfg.Bandwidth,
		OrigNChan:  cfg.NChan,
		BeamFWHM:   0.25,
		NPol:       cfg.NPol,
		TBin:       cfg.TBin,
		NBin:       1,
		NChan:      cfg.NChan,
		NSblk:      cfg.NSblk,
		NBits:      cfg.NBits,
	}
	if cfg.NChan > 0 {
		hdr.ChanBW = cfg.Bandwidth / float64(cfg.NChan)
	}
	if psrfits.ClassifyMode(cfg.ObsMode).Mode == psrfits.Fold {
		hdr.NBin = cfg.NBin
		hdr.NBits = 8
	}
	hdr.SetMJDEpoch(cfg.StartMJD)
	unix := (cfg.StartMJD - mjdUnixEpoch) * 86400
	sec := math.Floor(unix)
	start := time.Unix(int64(sec), int64((unix-sec)*1e9)).UTC()
	hdr.DateObs = start.Format("2006-01-02T15:04:05.000")
	hdr.StartLST = math.Mod(float64(hdr.StartSecs)+hdr.StartOffs, 86400)
	hdr.ScanLen = float64(cfg.Rows) * subintDuration(cfg, psrfits.ClassifyMode(cfg.ObsMode).Mode)
	return hdr
}

func subintDuration(cfg config.SynthConfig, mode psrfits.Mode) float64 {
	if mode == psrfits.Fold {
		return 10.0
	}
	return float64(cfg.NSblk) * cfg.TBin
}

// ObservationHeader returns the header written to every file
func (g *Generator) ObservationHeader() psrfits.ObservationHeader {
	return g.hdr
}

// Geometry returns the row layout of the generated records
func (g *Generator) Geometry() psrfits.Geometry {
	return g.geom
}

// Record returns subintegration i, counting from zero
func (g *Generator) Record(i int) *psrfits.SubintRecord {
	rec := psrfits.NewSubintRecord(g.geom)
	rec.TSubint = subintDuration(g.cfg, g.mode)
	rec.OffsSub = (float64(i) + 0.5) * rec.TSubint
	rec.LSTSub = math.Mod(g.hdr.StartLST+rec.OffsSub, 86400)
	rec.TelAz = 180
	rec.TelZen = 30

	for c := range rec.Freqs {
		rec.Freqs[c] = float32(g.hdr.CenterFreq - g.hdr.Bandwidth/2 + (float64(c)+0.5)*g.hdr.ChanBW)
		rec.Weights[c] = 1
	}
	for j := range rec.Scales {
		rec.Scales[j] = 1
	}

	if g.mode == psrfits.Fold {
		rec.Data = g.foldPayload()
	} else {
		rec.Data = g.searchPayload(i)
	}
	return rec
}

func (g *Generator) sample(pulse bool) float64 {
	v := noiseMean + noiseSigma*g.rng.NormFloat64()
	if pulse {
		v += pulseHeight
	}
	return v
}

func (g *Generator) onPulse(phase float64) bool {
	return g.cfg.PulsePeriod > 0 && phase < dutyCycle
}

// searchPayload fills an (nchan, npol, nsblk) block, channel fastest
func (g *Generator) searchPayload(row int) psrfits.Payload {
	nchan, npol, nsblk := g.hdr.NChan, g.hdr.NPol, g.hdr.NSblk
	n := nchan * npol * nsblk
	limit := 255.0
	if g.hdr.NBits == 16 {
		limit = 65535.0
	}

	values := make([]uint16, n)
	for t := 0; t < nsblk; t++ {
		var phase float64
		if g.cfg.PulsePeriod > 0 {
			at := float64(row*nsblk+t) * g.hdr.TBin
			phase = math.Mod(at, g.cfg.PulsePeriod) / g.cfg.PulsePeriod
		}
		pulse := g.onPulse(phase)
		for p := 0; p < npol; p++ {
			for c := 0; c < nchan; c++ {
				v := g.sample(pulse && p == 0)
				values[c+nchan*(p+npol*t)] = uint16(math.Max(0, math.Min(limit, math.Round(v))))
			}
		}
	}

	if g.hdr.NBits == 16 {
		return psrfits.Samples16(values)
	}
	out := make(psrfits.Samples8, n)
	for i, v := range values {
		out[i] = byte(v)
	}
	return out
}

// foldPayload fills an (nbin, nchan, npol) profile, bin fastest
func (g *Generator) foldPayload() psrfits.Payload {
	nbin, nchan, npol := g.hdr.NBin, g.hdr.NChan, g.hdr.NPol
	out := make(psrfits.Samples8, nbin*nchan*npol)
	for p := 0; p < npol; p++ {
		for c := 0; c < nchan; c++ {
			for b := 0; b < nbin; b++ {
				pulse := g.onPulse(float64(b)/float64(nbin)) && p == 0
				v := g.sample(pulse)
				out[b+nbin*(c+nchan*p)] = byte(math.Max(0, math.Min(255, math.Round(v))))
			}
		}
	}
	return out
}

// Generate writes cfg.Rows records to the archive at cfg.Basename. A
// cancelled ctx stops generation after the current row; the archive written
// so far stays valid.
func Generate(ctx context.Context, cfg config.SynthConfig, rowsPerFile int, logger zerolog.Logger) (psrfits.Summary, error) {
	gen, err := NewGenerator(cfg, logger)
	if err != nil {
		return psrfits.Summary{}, err
	}
	if dir := filepath.Dir(cfg.Basename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return psrfits.Summary{}, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	session, err := psrfits.NewWriteSession(cfg.Basename, gen.ObservationHeader(), rowsPerFile, logger)
	if err != nil {
		return psrfits.Summary{}, err
	}

	for i := 0; i < cfg.Rows; i++ {
		select {
		case <-ctx.Done():
			summary := session.Close()
			return summary, fmt.Errorf("generation cancelled: %w", ctx.Err())
		default:
		}
		if err := session.Append(gen.Record(i)); err != nil {
			summary := session.Close()
			return summary, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	return session.Close(), nil
}
