package psrfits

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"psrfits-tools/internal/fits"
)

var errSessionClosed = errors.New("write session is closed")

// WriteSession appends subintegrations to a numbered file set, starting a
// new file every rowsPerFile rows. Every row is flushed to stable storage
// before Append returns. A WriteSession is not safe for concurrent use.
type WriteSession struct {
	basename    string
	hdr         ObservationHeader
	mode        Mode
	geom        Geometry
	rowsPerFile int
	nrcvr       int
	logger      zerolog.Logger

	file    *fits.File
	path    string
	state   SegmentState
	status  int
	closed  bool
	summary Summary

	now func() time.Time
}

// NewWriteSession prepares a session for the archive basename. No file is
// created until the first Append. rowsPerFile <= 0 sizes files to
// MaxFileBytes of payload.
func NewWriteSession(basename string, hdr ObservationHeader, rowsPerFile int, logger zerolog.Logger) (*WriteSession, error) {
	if basename == "" {
		return nil, configError("create", "empty basename")
	}
	mode := ResolveMode(hdr.ObsMode, logger)
	geom, err := ComputeGeometry(&hdr, mode)
	if err != nil {
		return nil, err
	}
	if rowsPerFile <= 0 {
		rowsPerFile = RowsPerFile(MaxFileBytes, geom)
	}
	if hdr.TrackMode != "TRACK" {
		logger.Warn().Str("trk_mode", hdr.TrackMode).Msg("non-tracking observations are written as-is")
	}

	return &WriteSession{
		basename:    basename,
		hdr:         hdr,
		mode:        mode,
		geom:        geom,
		rowsPerFile: rowsPerFile,
		nrcvr:       receiverCount(&hdr, logger),
		logger:      logger,
		now:         time.Now,
	}, nil
}

// receiverCount derives NRCVR from the polarization setup. Summed data and
// more than two products both record two receiver channels.
func receiverCount(hdr *ObservationHeader, logger zerolog.Logger) int {
	if hdr.SummedPolns {
		if hdr.NPol > 1 {
			logger.Warn().Int("npol", hdr.NPol).Msgf("can't have %d polarizations and be summed, recording NRCVR=2", hdr.NPol)
		}
		return 2
	}
	if hdr.NPol > 2 {
		logger.Warn().Int("npol", hdr.NPol).Msg("more than 2 polarizations, recording NRCVR=2")
		return 2
	}
	return hdr.NPol
}

// Append writes rec as the next row, creating the next file first when
// needed
func (s *WriteSession) Append(rec *SubintRecord) error {
	if s.closed {
		return &Error{Kind: KindOpen, Op: "append", Err: errSessionClosed}
	}
	if rec == nil || rec.Data == nil {
		return &Error{Kind: KindPayload, Op: "append", Field: "DATA", Err: errors.New("record has no payload")}
	}
	data := rec.Data.Bytes()
	if len(data) != s.geom.BytesPerSubint {
		return &Error{Kind: KindPayload, Op: "append", Field: "DATA",
			Err: fmt.Errorf("payload is %d bytes, rows hold %d", len(data), s.geom.BytesPerSubint)}
	}

	if s.file == nil || s.state.RowNum > s.rowsPerFile {
		if err := s.nextFile(); err != nil {
			s.status = StatusCode(err)
			return err
		}
	}

	row := s.state.RowNum
	val := make([]float64, 1)
	for i, v := range rec.scalars() {
		val[0] = v
		if err := s.file.WriteFloat64s(colTSubint+i, row, val); err != nil {
			s.fieldError(colTSubint+i, row, err)
		}
	}
	arrays := []struct {
		col int
		src []float32
	}{
		{colFreqs, rec.Freqs},
		{colWeights, rec.Weights},
		{colOffsets, rec.Offsets},
		{colScales, rec.Scales},
	}
	for _, a := range arrays {
		if err := s.file.WriteFloat32s(a.col, row, a.src); err != nil {
			s.fieldError(a.col, row, err)
		}
	}

	if err := s.file.WriteBytes(colData, row, data); err != nil {
		s.dropRow(row)
		s.status = int(KindPayload)
		return &Error{Kind: KindPayload, Op: "append", Path: s.path, Field: "DATA", Err: err}
	}
	if err := s.file.Flush(); err != nil {
		s.dropRow(row)
		s.status = int(KindPayload)
		return &Error{Kind: KindPayload, Op: "flush", Path: s.path, Err: err}
	}

	s.state.advance(s.geom.SamplesPerRow, s.hdr.TBin)
	return nil
}

// dropRow forgets a row whose payload never landed so that NAXIS2 keeps
// matching the rows counted in the session totals
func (s *WriteSession) dropRow(row int) {
	if s.file.NumRows() < row {
		return
	}
	if err := s.file.TruncateRows(row - 1); err != nil {
		s.logger.Warn().Err(err).Int("row", row).Msg("partial row not dropped")
	}
}

func (s *WriteSession) fieldError(col, row int, err error) {
	s.status = int(KindFieldEncode)
	ferr := &Error{Kind: KindFieldEncode, Op: "write column", Path: s.path, Field: columnNames[col-1], Err: err}
	s.logger.Warn().Err(ferr).Int("row", row).Msg("column not encoded")
}

// nextFile closes the open file, if any, and creates the next one in the set
func (s *WriteSession) nextFile() error {
	if s.file != nil {
		s.logger.Info().Str("file", s.path).Msgf("Closing file '%s'", s.path)
		err := s.file.Close()
		s.file = nil
		if err != nil {
			return &Error{Kind: KindOpen, Op: "close", Path: s.path, Err: err}
		}
	}

	filenum := s.state.FileNum + 1
	path := SegmentFilename(s.basename, filenum)
	s.logger.Info().Str("file", path).Str("mode", s.mode.String()).
		Msgf("Opening file '%s' in %s mode", path, s.mode)

	f, err := fits.Create(path, templateFor(s.mode))
	if err != nil {
		return &Error{Kind: KindOpen, Op: "create", Path: path, Err: err}
	}

	date := s.now().UTC().Format("2006-01-02T15:04:05")
	failures := writePrimaryKeys(f, &s.hdr, date, s.nrcvr)
	failures = append(failures, writeSubintKeys(f, &s.hdr, s.geom, s.state.TotalRows)...)
	for _, ferr := range failures {
		s.status = int(KindFieldEncode)
		s.logger.Warn().Err(ferr).Str("file", path).Msg("header keyword not encoded")
	}

	if err := f.Flush(); err != nil {
		f.Close()
		return &Error{Kind: KindOpen, Op: "create", Path: path, Err: err}
	}
	s.file = f
	s.path = path
	s.state.FileNum = filenum
	s.state.RowNum = 1
	return nil
}

// Geometry returns the row layout
func (s *WriteSession) Geometry() Geometry {
	return s.geom
}

// Mode returns the resolved acquisition mode
func (s *WriteSession) Mode() Mode {
	return s.mode
}

// RowsPerFile returns the row limit per file
func (s *WriteSession) RowsPerFile() int {
	return s.rowsPerFile
}

// State returns the current position and totals
func (s *WriteSession) State() SegmentState {
	return s.state
}

// Filename returns the path of the file being written
func (s *WriteSession) Filename() string {
	return s.path
}

// Close flushes and closes the open file and reports the session totals.
// Later calls return the same summary.
func (s *WriteSession) Close() Summary {
	if s.closed {
		return s.summary
	}
	s.closed = true
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.status = int(KindOpen)
			s.logger.Error().Err(err).Str("file", s.path).Msg("close failed")
		} else {
			s.logger.Info().Str("file", s.path).Msgf("Closing file '%s'", s.path)
		}
		s.file = nil
	}
	s.summary = Summary{
		Rows:   s.state.TotalRows,
		Time:   s.state.TotalTime,
		Files:  s.state.FileNum,
		Status: s.status,
	}
	s.logger.Info().
		Int("rows", s.summary.Rows).
		Float64("seconds", s.summary.Time).
		Int("files", s.summary.Files).
		Int("status", s.summary.Status).
		Msg(s.summary.String())
	return s.summary
}
