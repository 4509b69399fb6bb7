package psrfits

import "fmt"

// MaxFileBytes is the payload volume after which a write session starts a
// new file when no explicit row limit is given
const MaxFileBytes int64 = 10 << 30

// Geometry holds the per-row widths derived from a header and mode
type Geometry struct {
	Mode           Mode
	BytesPerSubint int
	ChanWidth      int // DAT_FREQ, DAT_WTS
	IvalWidth      int // DAT_OFFS, DAT_SCL
	SamplesPerRow  int // NSBLK in Search mode, 1 in Fold mode
	Dims           [4]int
}

// TDim renders the DATA column dimensions
func (g Geometry) TDim() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", g.Dims[0], g.Dims[1], g.Dims[2], g.Dims[3])
}

// ComputeGeometry derives the row layout for hdr in the given mode
func ComputeGeometry(hdr *ObservationHeader, mode Mode) (Geometry, error) {
	const op = "compute geometry"
	if hdr.NChan < 1 {
		return Geometry{}, configError(op, "nchan %d must be positive", hdr.NChan)
	}
	switch hdr.NPol {
	case 1, 2, 4:
	default:
		return Geometry{}, configError(op, "npol %d must be 1, 2 or 4", hdr.NPol)
	}

	g := Geometry{
		Mode:      mode,
		ChanWidth: hdr.NChan,
		IvalWidth: hdr.NChan * hdr.NPol,
	}
	switch mode {
	case Search:
		if hdr.NBits < 1 {
			return Geometry{}, configError(op, "nbits %d must be positive", hdr.NBits)
		}
		if hdr.NSblk < 1 {
			return Geometry{}, configError(op, "nsblk %d must be positive", hdr.NSblk)
		}
		bits := hdr.NBits * hdr.NChan * hdr.NPol * hdr.NSblk
		if bits%8 != 0 {
			return Geometry{}, configError(op, "search payload of %d bits is not a whole number of bytes", bits)
		}
		g.BytesPerSubint = bits / 8
		g.SamplesPerRow = hdr.NSblk
		g.Dims = [4]int{1, hdr.NChan, hdr.NPol, hdr.NSblk}
	case Fold:
		if hdr.NBin < 1 {
			return Geometry{}, configError(op, "nbin %d must be positive", hdr.NBin)
		}
		g.BytesPerSubint = hdr.NBin * hdr.NChan * hdr.NPol
		g.SamplesPerRow = 1
		g.Dims = [4]int{hdr.NBin, hdr.NChan, hdr.NPol, 1}
	default:
		return Geometry{}, configError(op, "unknown mode %d", int(mode))
	}
	return g, nil
}

// RowsPerFile returns how many rows of geometry g fit in maxBytes, at least one
func RowsPerFile(maxBytes int64, g Geometry) int {
	if g.BytesPerSubint <= 0 {
		return 1
	}
	n := maxBytes / int64(g.BytesPerSubint)
	if n < 1 {
		return 1
	}
	return int(n)
}
