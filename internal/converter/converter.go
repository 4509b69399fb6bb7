// Package converter turns a PSRFITS search-mode archive into a sigproc
// filterbank file, keeping the first product of a window of channels
package converter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"psrfits-tools/internal/config"
	"psrfits-tools/internal/filterbank"
	"psrfits-tools/internal/psrfits"
)

// Result summarizes a conversion
type Result struct {
	Output   string // path of the .fil file, empty if nothing was written
	Rows     int    // subintegrations converted
	Skipped  int    // rows whose payload could not be read
	Files    int    // input files visited
	Channels int    // channels per output sample
	Dumps    int64  // output time samples
	Bytes    int64  // sample bytes written after the header
	Flipped  bool
}

// Converter drives one read session into one filterbank file
type Converter struct {
	config   config.ConversionConfig
	logger   zerolog.Logger
	basename string
	filenum  int
	layout   filterbank.Layout

	session  *psrfits.ReadSession
	out      *os.File
	buf      *bufio.Writer
	outPath  string
	repacker *filterbank.Repacker
}

// NewConverter returns a converter for cfg. Nothing is opened until
// Initialize.
func NewConverter(cfg config.ConversionConfig, logger zerolog.Logger) *Converter {
	return &Converter{
		config: cfg,
		logger: logger,
	}
}

// OutputName returns the filterbank file name for an archive file:
// <base of basename>_<NNNN>.fil
func OutputName(basename string, filenum int) string {
	return fmt.Sprintf("%s_%04d.fil", filepath.Base(basename), filenum)
}

// Initialize opens the input archive file and checks that it can be
// converted. No output is created yet.
func (c *Converter) Initialize(input string) error {
	basename, filenum, err := psrfits.ParseSegmentFilename(input)
	if err != nil {
		return err
	}
	layout, err := filterbank.ParseLayout(c.config.Layout)
	if err != nil {
		return err
	}

	session, err := psrfits.OpenReadSession(basename, filenum, c.logger)
	if err != nil {
		return err
	}
	hdr := session.Header()
	if session.Mode() != psrfits.Search {
		session.Close()
		return fmt.Errorf("%s holds %s mode data, only SEARCH data can be converted", input, session.Mode())
	}
	if hdr.NBits != 8 && hdr.NBits != 16 {
		session.Close()
		return fmt.Errorf("only 8 or 16 bit data can be converted, %s has %d", input, hdr.NBits)
	}
	if c.config.Products != hdr.NPol {
		c.logger.Warn().Int("products", c.config.Products).Int("npol", hdr.NPol).
			Msg("configured products per channel differ from NPOL")
	}

	if err := os.MkdirAll(c.config.OutputDir, 0755); err != nil {
		session.Close()
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	c.session = session
	c.basename = basename
	c.filenum = filenum
	c.layout = layout
	c.outPath = filepath.Join(c.config.OutputDir, OutputName(basename, filenum))
	return nil
}

// OutputPath returns where the filterbank file is written
func (c *Converter) OutputPath() string {
	return c.outPath
}

// Plan is the channel selection and frequency labelling of an output file
type Plan struct {
	StartChan  int // 1-based, inclusive
	EndChan    int
	Flip       bool
	CenterFreq float64 // MHz
	ChanBW     float64 // MHz, signed
	TSamp      float64 // s
}

// FCh1 returns the centre frequency of the first output channel
func (p Plan) FCh1(bandwidth float64) float64 {
	first := p.StartChan
	if p.Flip {
		first = p.EndChan
	}
	return p.CenterFreq - bandwidth/2 + (float64(first)-0.5)*p.ChanBW
}

// FOff returns the frequency step between output channels
func (p Plan) FOff() float64 {
	if p.Flip {
		return -p.ChanBW
	}
	return p.ChanBW
}

// MakePlan resolves the channel window, flip and overrides in cfg against
// the archive header. Ascending bands are always flipped so that the
// output runs from high to low frequency.
func MakePlan(cfg config.ConversionConfig, hdr psrfits.ObservationHeader) (Plan, error) {
	p := Plan{
		StartChan:  cfg.StartChan,
		EndChan:    cfg.EndChan,
		Flip:       cfg.Flip,
		CenterFreq: cfg.CenterFreq,
		TSamp:      cfg.SampleTime * 1e-6,
	}
	if p.StartChan == 0 {
		p.StartChan = 1
	}
	if p.EndChan == 0 {
		p.EndChan = hdr.NChan
	}
	if p.StartChan > p.EndChan || p.EndChan > hdr.NChan {
		return Plan{}, fmt.Errorf("channel window %d..%d outside 1..%d", p.StartChan, p.EndChan, hdr.NChan)
	}
	if p.CenterFreq == 0 {
		p.CenterFreq = hdr.CenterFreq
	}
	if p.TSamp == 0 {
		p.TSamp = hdr.TBin
	}
	p.ChanBW = hdr.Bandwidth / float64(hdr.NChan)
	if p.ChanBW > 0 {
		p.Flip = true
	}
	return p, nil
}

// BuildHeader assembles the filterbank header from the archive header, the
// first subintegration and the plan
func BuildHeader(cfg config.ConversionConfig, hdr psrfits.ObservationHeader, first *psrfits.SubintRecord,
	plan Plan, rawName string, logger zerolog.Logger) *filterbank.Header {
	fh := &filterbank.Header{
		RawDataFile: rawName,
		SourceName:  hdr.Source,
		DataType:    1,
		NChans:      plan.EndChan - plan.StartChan + 1,
		FCh1:        plan.FCh1(hdr.Bandwidth),
		FOff:        plan.FOff(),
		NBits:       hdr.NBits,
		NBeams:      1,
		IBeam:       1,
		NIFs:        1,
		TSamp:       plan.TSamp,
		TStart:      hdr.MJDEpoch(),
		TelescopeID: cfg.TelescopeID,
		MachineID:   cfg.MachineID,
		AzStart:     first.TelAz,
		ZAStart:     first.TelZen,
	}
	var err error
	if fh.SrcRAJ, err = filterbank.EncodeRA(hdr.RAStr); err != nil {
		logger.Warn().Err(err).Msg("source RA not encoded")
	}
	if fh.SrcDEJ, err = filterbank.EncodeDec(hdr.DecStr); err != nil {
		logger.Warn().Err(err).Msg("source declination not encoded")
	}
	return fh
}

// start creates the output file and writes its header
func (c *Converter) start(first *psrfits.SubintRecord) (Plan, error) {
	hdr := c.session.Header()
	plan, err := MakePlan(c.config, hdr)
	if err != nil {
		return Plan{}, err
	}

	c.logger.Info().Float64("fcent", plan.CenterFreq).Msgf("Center frequency %f MHz", plan.CenterFreq)
	if plan.Flip {
		c.logger.Info().Msg("Flipping channels!")
	} else {
		c.logger.Info().Msg("No flipping of the channels!")
	}
	c.logger.Info().Int("nchans", plan.EndChan-plan.StartChan+1).
		Msgf("Output number of channels %d", plan.EndChan-plan.StartChan+1)
	c.logger.Info().Float64("tsamp", plan.TSamp).Msgf("Sampling time %f us", plan.TSamp*1e6)

	f, err := os.Create(c.outPath)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to create output file: %w", err)
	}
	c.out = f
	c.buf = bufio.NewWriterSize(f, 1<<20)
	c.logger.Info().Str("file", c.outPath).Msgf("Output %s", c.outPath)

	fh := BuildHeader(c.config, hdr, first, plan, filepath.Base(c.basename), c.logger)
	if _, err := fh.WriteTo(c.buf); err != nil {
		return Plan{}, err
	}

	c.repacker, err = filterbank.NewRepacker(filterbank.RepackConfig{
		NChan:        hdr.NChan,
		StartChan:    plan.StartChan,
		EndChan:      plan.EndChan,
		Flip:         plan.Flip,
		NBits:        hdr.NBits,
		Products:     c.config.Products,
		DumpsPerUnit: c.config.DumpsPerUnit,
		Layout:       c.layout,
	}, c.buf)
	if err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// Run converts rows until the archive ends, ctx is cancelled or, in
// bandpass mode, after the first row
func (c *Converter) Run(ctx context.Context) (Result, error) {
	var res Result
	if c.session == nil {
		return res, errors.New("converter not initialized")
	}

	files := map[int]bool{}
	for {
		select {
		case <-ctx.Done():
			return c.finish(res), fmt.Errorf("conversion cancelled: %w", ctx.Err())
		default:
		}

		rec, err := c.session.Next()
		if err == io.EOF {
			break
		}
		files[c.session.State().FileNum] = true
		if err != nil {
			if errors.Is(err, psrfits.ErrPayload) {
				res.Skipped++
				continue
			}
			return c.finish(res), err
		}

		if c.repacker == nil {
			plan, err := c.start(rec)
			if err != nil {
				return c.finish(res), err
			}
			res.Output = c.outPath
			res.Flipped = plan.Flip
			res.Channels = plan.EndChan - plan.StartChan + 1
		}
		if err := c.repacker.Feed(rec.Data); err != nil {
			return c.finish(res), err
		}
		res.Rows++
		res.Files = len(files)

		if c.config.Bandpass {
			break
		}
	}

	res = c.finish(res)
	if res.Rows == 0 {
		return res, fmt.Errorf("no subintegrations read from %s", c.session.Filename())
	}
	return res, nil
}

// finish emits whatever the repacker still holds and fills in the totals
func (c *Converter) finish(res Result) Result {
	if c.repacker == nil {
		return res
	}
	if err := c.repacker.Finish(); err != nil {
		c.logger.Error().Err(err).Msg("final samples not written")
	}
	res.Dumps = c.repacker.Dumps()
	res.Bytes = c.repacker.BytesWritten()
	return res
}

// Close flushes the output file and releases the archive
func (c *Converter) Close() error {
	var errs []error
	if c.buf != nil {
		if err := c.buf.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("output flush error: %w", err))
		}
		c.buf = nil
	}
	if c.out != nil {
		if err := c.out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("output close error: %w", err))
		}
		c.out = nil
	}
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive close error: %w", err))
		}
	}
	return errors.Join(errs...)
}
