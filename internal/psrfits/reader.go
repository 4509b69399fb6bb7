package psrfits

import (
	"errors"
	"io"

	"github.com/rs/zerolog"

	"psrfits-tools/internal/fits"
)

// ReadSession reads subintegrations in order from a numbered file set,
// moving to the next file when the current one is exhausted. A ReadSession
// is not safe for concurrent use.
type ReadSession struct {
	basename    string
	logger      zerolog.Logger
	file        *fits.File
	path        string
	hdr         ObservationHeader
	mode        Mode
	geom        Geometry
	rowsPerFile int
	state       SegmentState
	fieldErrors int
	closed      bool
}

// OpenReadSession opens file number filenum of the archive with the given
// basename
func OpenReadSession(basename string, filenum int, logger zerolog.Logger) (*ReadSession, error) {
	if filenum < 1 {
		return nil, configError("open", "file number %d must be positive", filenum)
	}
	s := &ReadSession{
		basename: basename,
		logger:   logger,
		state:    SegmentState{FileNum: filenum},
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ReadSession) open() error {
	path := SegmentFilename(s.basename, s.state.FileNum)
	f, err := fits.Open(path)
	if err != nil {
		return &Error{Kind: KindOpen, Op: "open", Path: path, Err: err}
	}

	fail := func(err error) error {
		f.Close()
		return &Error{Kind: KindOpen, Op: "open", Path: path, Err: err}
	}

	var hdr ObservationHeader
	primary, err := readPrimaryKeys(f, &hdr)
	if err != nil {
		return fail(err)
	}
	if primary.missing != nil {
		return fail(primary.missing)
	}
	mode := ResolveMode(hdr.ObsMode, s.logger)

	subint, rows, err := readSubintKeys(f, &hdr, mode)
	if err != nil {
		return fail(err)
	}
	if subint.missing != nil {
		return fail(subint.missing)
	}
	geom, err := ComputeGeometry(&hdr, mode)
	if err != nil {
		return fail(err)
	}

	for _, ferr := range append(primary.failures, subint.failures...) {
		s.fieldErrors++
		s.logger.Warn().Err(ferr).Str("file", path).Msg("header keyword not decoded")
	}

	s.file = f
	s.path = path
	s.hdr = hdr
	s.mode = mode
	s.geom = geom
	s.rowsPerFile = rows
	s.state.RowNum = 1

	s.logger.Info().
		Str("file", path).
		Str("mode", mode.String()).
		Int("nbits", hdr.NBits).
		Int("nchan", hdr.NChan).
		Int("nsblk", hdr.NSblk).
		Int("npol", hdr.NPol).
		Int("rows", rows).
		Msgf("Opened %s", path)
	return nil
}

// Next returns the next subintegration. It returns io.EOF once the last
// file is exhausted, which includes failing to open the next file in the
// sequence. A PayloadError skips the row; the session stays usable.
func (s *ReadSession) Next() (*SubintRecord, error) {
	if s.closed || s.file == nil {
		return nil, io.EOF
	}
	for s.state.RowNum > s.rowsPerFile {
		s.file.Close()
		s.file = nil
		s.state.FileNum++
		if err := s.open(); err != nil {
			s.logger.Debug().Err(err).Int("filenum", s.state.FileNum).Msg("end of archive")
			return nil, io.EOF
		}
	}

	row := s.state.RowNum
	rec := NewSubintRecord(s.geom)

	val := make([]float64, 1)
	for i, dst := range rec.scalarPtrs() {
		col := colTSubint + i
		if err := s.file.ReadFloat64s(col, row, val); err != nil {
			s.fieldError(col, row, err)
			continue
		}
		*dst = val[0]
	}

	arrays := []struct {
		col int
		dst []float32
	}{
		{colFreqs, rec.Freqs},
		{colWeights, rec.Weights},
		{colOffsets, rec.Offsets},
		{colScales, rec.Scales},
	}
	for _, a := range arrays {
		if err := s.file.ReadFloat32s(a.col, row, a.dst); err != nil {
			s.fieldError(a.col, row, err)
		}
	}

	raw := make([]byte, s.geom.BytesPerSubint)
	if err := s.file.ReadBytes(colData, row, raw); err != nil {
		return nil, s.skipRow(err)
	}
	payload, err := DecodePayload(raw, s.hdr.NBits)
	if err != nil {
		return nil, s.skipRow(err)
	}
	rec.Data = payload

	s.state.advance(s.geom.SamplesPerRow, s.hdr.TBin)
	return rec, nil
}

func (s *ReadSession) fieldError(col, row int, err error) {
	s.fieldErrors++
	ferr := &Error{Kind: KindFieldDecode, Op: "read column", Path: s.path, Field: columnNames[col-1], Err: err}
	s.logger.Warn().Err(ferr).Int("row", row).Msg("column not decoded")
}

func (s *ReadSession) skipRow(err error) error {
	row := s.state.RowNum
	s.state.RowNum++
	var perr *Error
	if !errors.As(err, &perr) {
		perr = &Error{Kind: KindPayload, Op: "read row", Err: err}
	}
	perr.Path = s.path
	perr.Field = "DATA"
	s.logger.Error().Err(perr).Int("row", row).Msg("row payload skipped")
	return perr
}

// Header returns the observation header of the current file
func (s *ReadSession) Header() ObservationHeader {
	return s.hdr
}

// Mode returns the resolved acquisition mode
func (s *ReadSession) Mode() Mode {
	return s.mode
}

// Geometry returns the row layout of the current file
func (s *ReadSession) Geometry() Geometry {
	return s.geom
}

// State returns the current position and totals
func (s *ReadSession) State() SegmentState {
	return s.state
}

// RowsPerFile returns the row count of the current file
func (s *ReadSession) RowsPerFile() int {
	return s.rowsPerFile
}

// Filename returns the path of the current file
func (s *ReadSession) Filename() string {
	return s.path
}

// FieldErrors returns how many keywords and columns failed to decode
func (s *ReadSession) FieldErrors() int {
	return s.fieldErrors
}

// Close releases the current file. It is safe to call more than once.
func (s *ReadSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
