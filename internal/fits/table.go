package fits

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Column describes one binary table field
type Column struct {
	Name   string // TTYPEn
	Code   byte   // TFORMn data type: A, B, I, J, K, E or D
	Repeat int    // TFORMn repeat count
	Unit   string // TUNITn
}

// Form renders the TFORM value
func (c Column) Form() string {
	return fmt.Sprintf("%d%c", c.Repeat, c.Code)
}

// Width returns the number of bytes the column occupies in a row
func (c Column) Width() int {
	return c.Repeat * elemSize(c.Code)
}

func elemSize(code byte) int {
	switch code {
	case 'A', 'B', 'L':
		return 1
	case 'I':
		return 2
	case 'J', 'E':
		return 4
	case 'K', 'D':
		return 8
	}
	return 0
}

// ParseForm decodes a binary table TFORM value such as "1D", "E" or "2048B"
func ParseForm(form string) (code byte, repeat int, err error) {
	form = strings.TrimSpace(form)
	i := 0
	for i < len(form) && form[i] >= '0' && form[i] <= '9' {
		i++
	}
	if i == len(form) {
		return 0, 0, fmt.Errorf("invalid TFORM %q", form)
	}
	repeat = 1
	if i > 0 {
		if repeat, err = strconv.Atoi(form[:i]); err != nil {
			return 0, 0, fmt.Errorf("invalid TFORM %q: %w", form, err)
		}
	}
	code = form[i]
	if elemSize(code) == 0 {
		return 0, 0, fmt.Errorf("unsupported TFORM type %q", form)
	}
	return code, repeat, nil
}

// columnsFromHeader rebuilds the column list from TFIELDS/TTYPEn/TFORMn
func columnsFromHeader(h *Header) ([]Column, error) {
	n, err := h.Int("TFIELDS")
	if err != nil {
		return nil, err
	}
	cols := make([]Column, n)
	for i := range cols {
		form, err := h.String(nth("TFORM", i+1))
		if err != nil {
			return nil, err
		}
		code, repeat, err := ParseForm(form)
		if err != nil {
			return nil, err
		}
		name, _ := h.String(nth("TTYPE", i+1))
		unit, _ := h.String(nth("TUNIT", i+1))
		cols[i] = Column{Name: name, Code: code, Repeat: repeat, Unit: unit}
	}
	return cols, nil
}

// applyColumns writes the table structure keywords for cols into h
func applyColumns(h *Header, cols []Column) {
	width := 0
	for _, c := range cols {
		width += c.Width()
	}
	h.Set("NAXIS1", width, "width of table in bytes")
	h.Set("TFIELDS", len(cols), "number of fields per row")
	for i, c := range cols {
		h.Set(nth("TTYPE", i+1), c.Name, "")
		h.Set(nth("TFORM", i+1), c.Form(), "")
		if c.Unit != "" {
			h.Set(nth("TUNIT", i+1), c.Unit, "")
		}
	}
}

func nth(prefix string, n int) string {
	return prefix + strconv.Itoa(n)
}

// encodeFloats converts values to the column's on-disk representation
func encodeFloats(code byte, src []float64, dst []byte) error {
	size := elemSize(code)
	for i, v := range src {
		b := dst[i*size : (i+1)*size]
		switch code {
		case 'B':
			b[0] = byte(clamp(math.Round(v), 0, math.MaxUint8))
		case 'I':
			binary.BigEndian.PutUint16(b, uint16(int16(clamp(math.Round(v), math.MinInt16, math.MaxInt16))))
		case 'J':
			binary.BigEndian.PutUint32(b, uint32(int32(clamp(math.Round(v), math.MinInt32, math.MaxInt32))))
		case 'K':
			binary.BigEndian.PutUint64(b, uint64(int64(v)))
		case 'E':
			binary.BigEndian.PutUint32(b, math.Float32bits(float32(v)))
		case 'D':
			binary.BigEndian.PutUint64(b, math.Float64bits(v))
		default:
			return fmt.Errorf("cannot store numbers in TFORM type %c", code)
		}
	}
	return nil
}

// decodeFloats converts on-disk column values to float64
func decodeFloats(code byte, src []byte, dst []float64) error {
	size := elemSize(code)
	for i := range dst {
		b := src[i*size : (i+1)*size]
		switch code {
		case 'B':
			dst[i] = float64(b[0])
		case 'I':
			dst[i] = float64(int16(binary.BigEndian.Uint16(b)))
		case 'J':
			dst[i] = float64(int32(binary.BigEndian.Uint32(b)))
		case 'K':
			dst[i] = float64(int64(binary.BigEndian.Uint64(b)))
		case 'E':
			dst[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case 'D':
			dst[i] = math.Float64frombits(binary.BigEndian.Uint64(b))
		default:
			return fmt.Errorf("cannot read numbers from TFORM type %c", code)
		}
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
