package psrfits

import (
	"math"

	"psrfits-tools/internal/fits"
)

// ObservationHeader holds the archive-wide keywords of an observation. It is
// fixed for the life of a session.
type ObservationHeader struct {
	ObsMode   string // OBS_MODE: SEARCH, PSR, CAL, ...
	Telescope string
	Observer  string
	ProjectID string
	Frontend  string
	Backend   string
	PolnType  string // FD_POLN: LIN or CIRC
	DateObs   string // YYYY-MM-DDTHH:MM:SS.SSS
	Source    string
	TrackMode string // TRACK, SCANGC, SCANLAT
	RAStr     string // HH:MM:SS.SSSS
	DecStr    string // DD:MM:SS.SSSS
	CalMode   string // OFF, SYNC, EXT1, EXT2
	FeedMode  string // FA, CPA, SPA, TPA

	CenterFreq float64 // OBSFREQ, MHz
	Bandwidth  float64 // OBSBW, MHz
	OrigNChan  int     // OBSNCHAN
	BeamFWHM   float64 // BMAJ, deg
	CalFreq    float64 // Hz
	CalDutyCyc float64
	CalPhase   float64
	FeedAngle  float64 // FA_REQ, deg
	ScanLen    float64 // s
	StartLST   float64 // s past 00h

	// Start epoch as stored on disk
	StartMJD  int     // STT_IMJD
	StartSecs int     // STT_SMJD
	StartOffs float64 // STT_OFFS

	NPol         int
	SummedPolns  bool    // POL_TYPE AA+BB
	TBin         float64 // sample time, s
	NBin         int
	OffsetSubint int // NSUBOFFS
	NChan        int
	ChanBW       float64 // MHz
	NSblk        int
	NBits        int
}

// MJDEpoch returns the start epoch as a fractional MJD
func (h ObservationHeader) MJDEpoch() float64 {
	return float64(h.StartMJD) + (float64(h.StartSecs)+h.StartOffs)/86400.0
}

// SetMJDEpoch splits a fractional MJD into the on-disk start epoch fields
func (h *ObservationHeader) SetMJDEpoch(mjd float64) {
	day := math.Floor(mjd)
	secs := (mjd - day) * 86400.0
	whole := math.Floor(secs)
	h.StartMJD = int(day)
	h.StartSecs = int(whole)
	h.StartOffs = secs - whole
}

// PolType returns the POL_TYPE value the writer stores for this header
func (h ObservationHeader) PolType() string {
	if h.SummedPolns {
		return "AA+BB"
	}
	switch h.NPol {
	case 1:
		return "AA"
	case 2:
		return "AABB"
	}
	return "IQUV"
}

// keyReader reads keywords off one HDU header and records per-field failures
type keyReader struct {
	hdr       *fits.Header
	essential map[string]bool
	missing   error // first essential failure
	failures  []error
}

func (r *keyReader) fail(key string, err error) {
	e := &Error{Kind: KindFieldDecode, Op: "read key", Field: key, Err: err}
	if r.essential[key] {
		if r.missing == nil {
			r.missing = e
		}
		return
	}
	r.failures = append(r.failures, e)
}

func (r *keyReader) str(key string, dst *string) {
	v, err := r.hdr.String(key)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = v
}

func (r *keyReader) float(key string, dst *float64) {
	v, err := r.hdr.Float(key)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = v
}

func (r *keyReader) integer(key string, dst *int) {
	v, err := r.hdr.Int(key)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = int(v)
}

// essentialKeys cannot be missing without making the row layout unknowable
func essentialKeys(mode Mode) map[string]bool {
	keys := map[string]bool{
		"OBS_MODE": true,
		"NCHAN":    true,
		"NPOL":     true,
		"NBITS":    true,
		"NAXIS2":   true,
	}
	if mode == Fold {
		keys["NBIN"] = true
	} else {
		keys["NSBLK"] = true
	}
	return keys
}

// readPrimaryKeys fills the primary HDU keywords of hdr in contract order
func readPrimaryKeys(f *fits.File, hdr *ObservationHeader) (*keyReader, error) {
	if err := f.MoveAbs(1); err != nil {
		return nil, err
	}
	r := &keyReader{hdr: f.Header(), essential: map[string]bool{"OBS_MODE": true}}
	r.str("OBS_MODE", &hdr.ObsMode)
	r.str("TELESCOP", &hdr.Telescope)
	r.str("OBSERVER", &hdr.Observer)
	r.str("PROJID", &hdr.ProjectID)
	r.str("FRONTEND", &hdr.Frontend)
	r.str("BACKEND", &hdr.Backend)
	r.str("FD_POLN", &hdr.PolnType)
	r.str("DATE-OBS", &hdr.DateObs)
	r.float("OBSFREQ", &hdr.CenterFreq)
	r.float("OBSBW", &hdr.Bandwidth)
	r.integer("OBSNCHAN", &hdr.OrigNChan)
	r.str("SRC_NAME", &hdr.Source)
	r.str("TRK_MODE", &hdr.TrackMode)
	r.str("RA", &hdr.RAStr)
	r.str("DEC", &hdr.DecStr)
	r.float("BMAJ", &hdr.BeamFWHM)
	r.str("CAL_MODE", &hdr.CalMode)
	r.float("CAL_FREQ", &hdr.CalFreq)
	r.float("CAL_DCYC", &hdr.CalDutyCyc)
	r.float("CAL_PHS", &hdr.CalPhase)
	r.str("FD_MODE", &hdr.FeedMode)
	r.float("FA_REQ", &hdr.FeedAngle)
	r.float("SCANLEN", &hdr.ScanLen)
	r.integer("STT_IMJD", &hdr.StartMJD)
	r.integer("STT_SMJD", &hdr.StartSecs)
	r.float("STT_OFFS", &hdr.StartOffs)
	r.float("STT_LST", &hdr.StartLST)
	return r, nil
}

// readSubintKeys fills the SUBINT keywords of hdr and returns NAXIS2
func readSubintKeys(f *fits.File, hdr *ObservationHeader, mode Mode) (*keyReader, int, error) {
	if err := f.MoveName("SUBINT"); err != nil {
		return nil, 0, err
	}
	r := &keyReader{hdr: f.Header(), essential: essentialKeys(mode)}
	r.integer("NPOL", &hdr.NPol)
	var polType string
	r.str("POL_TYPE", &polType)
	hdr.SummedPolns = polType == "AA+BB"
	r.float("TBIN", &hdr.TBin)
	r.integer("NBIN", &hdr.NBin)
	r.integer("NSUBOFFS", &hdr.OffsetSubint)
	r.integer("NCHAN", &hdr.NChan)
	r.float("CHAN_BW", &hdr.ChanBW)
	r.integer("NSBLK", &hdr.NSblk)
	r.integer("NBITS", &hdr.NBits)
	rows := 0
	r.integer("NAXIS2", &rows)
	return r, rows, nil
}

// keyWriter updates keywords on the current HDU and records failures
type keyWriter struct {
	f        *fits.File
	failures []error
}

func (w *keyWriter) set(key string, value interface{}) {
	if err := w.f.UpdateKey(key, value, ""); err != nil {
		w.failures = append(w.failures, &Error{Kind: KindFieldEncode, Op: "update key", Path: w.f.Path(), Field: key, Err: err})
	}
}

// writePrimaryKeys stores the primary HDU keywords for a newly created file
func writePrimaryKeys(f *fits.File, hdr *ObservationHeader, date string, nrcvr int) []error {
	if err := f.MoveAbs(1); err != nil {
		return []error{&Error{Kind: KindFieldEncode, Op: "move to primary HDU", Path: f.Path(), Err: err}}
	}
	w := &keyWriter{f: f}
	w.set("OBS_MODE", hdr.ObsMode)
	w.set("DATE", date)
	w.set("TELESCOP", hdr.Telescope)
	w.set("OBSERVER", hdr.Observer)
	w.set("PROJID", hdr.ProjectID)
	w.set("FRONTEND", hdr.Frontend)
	w.set("BACKEND", hdr.Backend)
	w.set("NRCVR", nrcvr)
	w.set("FD_POLN", hdr.PolnType)
	w.set("DATE-OBS", hdr.DateObs)
	w.set("OBSFREQ", hdr.CenterFreq)
	w.set("OBSBW", hdr.Bandwidth)
	w.set("OBSNCHAN", hdr.OrigNChan)
	w.set("SRC_NAME", hdr.Source)
	w.set("TRK_MODE", hdr.TrackMode)
	w.set("RA", hdr.RAStr)
	w.set("DEC", hdr.DecStr)
	w.set("STT_CRD1", hdr.RAStr)
	w.set("STP_CRD1", hdr.RAStr)
	w.set("STT_CRD2", hdr.DecStr)
	w.set("STP_CRD2", hdr.DecStr)
	w.set("BMAJ", hdr.BeamFWHM)
	w.set("BMIN", hdr.BeamFWHM)
	w.set("CAL_MODE", hdr.CalMode)
	if hdr.CalMode != "OFF" {
		w.set("CAL_FREQ", hdr.CalFreq)
		w.set("CAL_DCYC", hdr.CalDutyCyc)
		w.set("CAL_PHS", hdr.CalPhase)
	}
	w.set("FD_MODE", hdr.FeedMode)
	w.set("FA_REQ", hdr.FeedAngle)
	w.set("SCANLEN", hdr.ScanLen)
	w.set("STT_IMJD", hdr.StartMJD)
	w.set("STT_SMJD", hdr.StartSecs)
	w.set("STT_OFFS", hdr.StartOffs)
	w.set("STT_LST", hdr.StartLST)
	return w.failures
}

// writeSubintKeys stores the SUBINT keywords and resizes the vector columns
func writeSubintKeys(f *fits.File, hdr *ObservationHeader, g Geometry, offsetSubint int) []error {
	if err := f.MoveName("SUBINT"); err != nil {
		return []error{&Error{Kind: KindFieldEncode, Op: "move to SUBINT", Path: f.Path(), Err: err}}
	}
	w := &keyWriter{f: f}
	w.set("NPOL", hdr.NPol)
	w.set("POL_TYPE", hdr.PolType())
	w.set("TBIN", hdr.TBin)
	w.set("NSUBOFFS", offsetSubint)
	w.set("NCHAN", hdr.NChan)
	w.set("CHAN_BW", hdr.ChanBW)
	if g.Mode == Fold {
		w.set("NSBLK", 1)
		w.set("NBITS", 1)
		w.set("NBIN", hdr.NBin)
		w.set("EPOCHS", "MIDTIME")
	} else {
		w.set("NSBLK", hdr.NSblk)
		w.set("NBITS", hdr.NBits)
		w.set("NBIN", 1)
	}

	widths := []int{g.ChanWidth, g.ChanWidth, g.IvalWidth, g.IvalWidth, g.BytesPerSubint}
	for i, n := range widths {
		col := colFreqs + i
		if err := f.ModifyVectorLen(col, n); err != nil {
			w.failures = append(w.failures, &Error{Kind: KindFieldEncode, Op: "resize column", Path: f.Path(), Field: columnNames[col-1], Err: err})
		}
	}
	w.set("TDIM17", g.TDim())
	return w.failures
}
