package psrfits

import "psrfits-tools/internal/fits"

// SUBINT column positions
const (
	colTSubint = iota + 1
	colOffsSub
	colLSTSub
	colRASub
	colDecSub
	colGLonSub
	colGLatSub
	colFDAng
	colPosAng
	colParAng
	colTelAz
	colTelZen
	colFreqs
	colWeights
	colOffsets
	colScales
	colData
)

var columnNames = []string{
	"TSUBINT", "OFFS_SUB", "LST_SUB", "RA_SUB", "DEC_SUB", "GLON_SUB", "GLAT_SUB",
	"FD_ANG", "POS_ANG", "PAR_ANG", "TEL_AZ", "TEL_ZEN",
	"DAT_FREQ", "DAT_WTS", "DAT_OFFS", "DAT_SCL", "DATA",
}

func subintColumns() []fits.Column {
	return []fits.Column{
		{Name: "TSUBINT", Code: 'D', Repeat: 1, Unit: "s"},
		{Name: "OFFS_SUB", Code: 'D', Repeat: 1, Unit: "s"},
		{Name: "LST_SUB", Code: 'D', Repeat: 1, Unit: "s"},
		{Name: "RA_SUB", Code: 'D', Repeat: 1, Unit: "deg"},
		{Name: "DEC_SUB", Code: 'D', Repeat: 1, Unit: "deg"},
		{Name: "GLON_SUB", Code: 'D', Repeat: 1, Unit: "deg"},
		{Name: "GLAT_SUB", Code: 'D', Repeat: 1, Unit: "deg"},
		{Name: "FD_ANG", Code: 'E', Repeat: 1, Unit: "deg"},
		{Name: "POS_ANG", Code: 'E', Repeat: 1, Unit: "deg"},
		{Name: "PAR_ANG", Code: 'E', Repeat: 1, Unit: "deg"},
		{Name: "TEL_AZ", Code: 'E', Repeat: 1, Unit: "deg"},
		{Name: "TEL_ZEN", Code: 'E', Repeat: 1, Unit: "deg"},
		{Name: "DAT_FREQ", Code: 'E', Repeat: 1, Unit: "MHz"},
		{Name: "DAT_WTS", Code: 'E', Repeat: 1},
		{Name: "DAT_OFFS", Code: 'E', Repeat: 1},
		{Name: "DAT_SCL", Code: 'E', Repeat: 1},
		{Name: "DATA", Code: 'B', Repeat: 1, Unit: "Jy"},
	}
}

// primaryCards lists the primary keywords in the order a new file carries them
func primaryCards(obsMode string) []fits.Card {
	return []fits.Card{
		{Key: "HDRVER", Value: "3.4", Comment: "Header version"},
		{Key: "FITSTYPE", Value: "PSRFITS", Comment: "FITS definition for pulsar data files"},
		{Key: "DATE", Value: "", Comment: "File creation date (YYYY-MM-DDThh:mm:ss UTC)"},
		{Key: "OBSERVER", Value: "", Comment: "Observer name(s)"},
		{Key: "PROJID", Value: "", Comment: "Project name"},
		{Key: "TELESCOP", Value: "", Comment: "Telescope name"},
		{Key: "OBS_MODE", Value: obsMode, Comment: "(PSR, CAL, SEARCH)"},
		{Key: "DATE-OBS", Value: "", Comment: "Date of observation (YYYY-MM-DDThh:mm:ss UTC)"},
		{Key: "FRONTEND", Value: "", Comment: "Frontend ID"},
		{Key: "NRCVR", Value: 0, Comment: "Number of receiver polarisation channels"},
		{Key: "FD_POLN", Value: "", Comment: "LIN or CIRC"},
		{Key: "FD_MODE", Value: "FA", Comment: "Feed track mode - FA, CPA, SPA, TPA"},
		{Key: "FA_REQ", Value: 0.0, Comment: "[deg] Feed/Posn angle requested"},
		{Key: "BACKEND", Value: "", Comment: "Backend ID"},
		{Key: "OBSFREQ", Value: 0.0, Comment: "[MHz] Centre frequency for observation"},
		{Key: "OBSBW", Value: 0.0, Comment: "[MHz] Bandwidth for observation"},
		{Key: "OBSNCHAN", Value: 0, Comment: "Number of frequency channels (original)"},
		{Key: "SRC_NAME", Value: "", Comment: "Source or scan ID"},
		{Key: "TRK_MODE", Value: "TRACK", Comment: "Track mode (TRACK, SCANGC, SCANLAT)"},
		{Key: "RA", Value: "", Comment: "Right ascension (hh:mm:ss.ssss)"},
		{Key: "DEC", Value: "", Comment: "Declination (-dd:mm:ss.sss)"},
		{Key: "STT_CRD1", Value: "", Comment: "Start coord 1 (hh:mm:ss.sss or ddd.ddd)"},
		{Key: "STT_CRD2", Value: "", Comment: "Start coord 2 (-dd:mm:ss.sss or -dd.ddd)"},
		{Key: "STP_CRD1", Value: "", Comment: "Stop coord 1 (hh:mm:ss.sss or ddd.ddd)"},
		{Key: "STP_CRD2", Value: "", Comment: "Stop coord 2 (-dd:mm:ss.sss or -dd.ddd)"},
		{Key: "BMAJ", Value: 0.0, Comment: "[deg] Beam major axis length"},
		{Key: "BMIN", Value: 0.0, Comment: "[deg] Beam minor axis length"},
		{Key: "SCANLEN", Value: 0.0, Comment: "[s] Requested scan length"},
		{Key: "CAL_MODE", Value: "OFF", Comment: "Cal mode (OFF, SYNC, EXT1, EXT2)"},
		{Key: "CAL_FREQ", Value: 0.0, Comment: "[Hz] Cal modulation frequency"},
		{Key: "CAL_DCYC", Value: 0.0, Comment: "Cal duty cycle"},
		{Key: "CAL_PHS", Value: 0.0, Comment: "Cal phase (wrt start time)"},
		{Key: "STT_IMJD", Value: 0, Comment: "Start MJD (UTC days) (J - long integer)"},
		{Key: "STT_SMJD", Value: 0, Comment: "[s] Start time (sec past UTC 00h) (J)"},
		{Key: "STT_OFFS", Value: 0.0, Comment: "[s] Start time offset (D)"},
		{Key: "STT_LST", Value: 0.0, Comment: "[s] Start LST (D)"},
	}
}

func subintCards() []fits.Card {
	return []fits.Card{
		{Key: "EPOCHS", Value: "VALID", Comment: "Epoch convention (VALID, MIDTIME, STT_MJD)"},
		{Key: "INT_TYPE", Value: "TIME", Comment: "Time axis (TIME, BINPHSPERI, BINLNGASC, etc)"},
		{Key: "INT_UNIT", Value: "SEC", Comment: "Unit of time axis (SEC, PHS (0-1), DEG)"},
		{Key: "SCALE", Value: "FluxDen", Comment: "Intensity units (FluxDen/RefFlux/Jansky)"},
		{Key: "NPOL", Value: 1, Comment: "Nr of polarisations"},
		{Key: "POL_TYPE", Value: "AA", Comment: "Polarisation identifier (e.g., AABBCRCI, AA+BB)"},
		{Key: "TBIN", Value: 0.0, Comment: "[s] Time per bin or sample"},
		{Key: "NBIN", Value: 1, Comment: "Nr of bins (PSR/CAL mode; else 1)"},
		{Key: "NBIN_PRD", Value: 0, Comment: "Nr of bins/pulse period (for gated data)"},
		{Key: "PHS_OFFS", Value: 0.0, Comment: "Phase offset of bin 0 for gated data"},
		{Key: "NBITS", Value: 8, Comment: "Nr of bits/datum (SEARCH mode 'X' data, else 1)"},
		{Key: "NSUBOFFS", Value: 0, Comment: "Subint offset (Contiguous SEARCH-mode files)"},
		{Key: "NCHAN", Value: 1, Comment: "Number of channels/sub-bands in this file"},
		{Key: "CHAN_BW", Value: 0.0, Comment: "[MHz] Channel/sub-band width"},
		{Key: "NCHNOFFS", Value: 0, Comment: "Channel/sub-band offset for split files"},
		{Key: "NSBLK", Value: 1, Comment: "Samples/row (SEARCH mode, else 1)"},
		{Key: "TDIM17", Value: "(1,1,1,1)", Comment: "Dimensions (NBIN,NCHAN,NPOL,NSBLK)"},
	}
}

// SearchTemplate returns the HDU layout of a Search mode file: the primary
// header and the SUBINT table.
func SearchTemplate() fits.Template {
	return fits.Template{
		{Cards: primaryCards("SEARCH")},
		{Name: "SUBINT", Cards: subintCards(), Columns: subintColumns()},
	}
}

// FoldTemplate returns the HDU layout of a Fold mode file, which carries an
// empty POLYCO table ahead of SUBINT.
func FoldTemplate() fits.Template {
	return fits.Template{
		{Cards: primaryCards("PSR")},
		{
			Name: "POLYCO",
			Columns: []fits.Column{
				{Name: "DATE_PRO", Code: 'A', Repeat: 24},
				{Name: "POLYVER", Code: 'A', Repeat: 16},
				{Name: "NSPAN", Code: 'I', Repeat: 1, Unit: "min"},
				{Name: "NCOEF", Code: 'I', Repeat: 1},
				{Name: "NPBLK", Code: 'I', Repeat: 1},
				{Name: "NSITE", Code: 'A', Repeat: 8},
				{Name: "REF_FREQ", Code: 'D', Repeat: 1, Unit: "MHz"},
				{Name: "PRED_PHS", Code: 'D', Repeat: 1},
				{Name: "REF_MJD", Code: 'D', Repeat: 1},
				{Name: "REF_PHS", Code: 'D', Repeat: 1},
				{Name: "REF_F0", Code: 'D', Repeat: 1, Unit: "Hz"},
				{Name: "LGFITERR", Code: 'D', Repeat: 1},
				{Name: "COEFF", Code: 'D', Repeat: 15},
			},
		},
		{Name: "SUBINT", Cards: subintCards(), Columns: subintColumns()},
	}
}

// templateFor returns the file layout for mode
func templateFor(mode Mode) fits.Template {
	if mode == Fold {
		return FoldTemplate()
	}
	return SearchTemplate()
}
