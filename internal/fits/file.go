package fits

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrHeaderFull is returned when a header would grow after its file
	// layout has been fixed
	ErrHeaderFull = errors.New("header size is fixed once data has been laid out")
	// ErrValueTooLong is returned for string values that do not fit one card
	ErrValueTooLong = errors.New("string value exceeds 60 characters")
	// ErrReadOnly is returned by write operations on files opened with Open
	ErrReadOnly = errors.New("file is opened read-only")
	// ErrNotTable is returned by row operations on an HDU that is not a binary table
	ErrNotTable = errors.New("current HDU is not a binary table")
)

// HDUTemplate describes one header/data unit created by Create. The first
// template is the primary HDU and must not have columns.
type HDUTemplate struct {
	Name    string // EXTNAME, ignored for the primary HDU
	Cards   []Card
	Columns []Column
}

// Template lists the HDUs of a file to create, in order
type Template []HDUTemplate

type hdu struct {
	header   *Header
	columns  []Column
	offsets  []int // byte offset of each column within a row
	rowWidth int
	rows     int
	start    int64 // file offset of the header
	hdrSize  int64
	dataSize int64 // unpadded data bytes (primary arrays are never written)
}

func (h *hdu) isTable() bool {
	x, err := h.header.String("XTENSION")
	return err == nil && strings.TrimSpace(x) == "BINTABLE"
}

func (h *hdu) dataStart() int64 {
	return h.start + h.hdrSize
}

func (h *hdu) reindex() {
	h.offsets = make([]int, len(h.columns))
	w := 0
	for i, c := range h.columns {
		h.offsets[i] = w
		w += c.Width()
	}
	h.rowWidth = w
}

// File is an open FITS file positioned on one of its HDUs. A File is not safe
// for concurrent use.
type File struct {
	path     string
	f        *os.File
	hdus     []*hdu
	cur      int
	writable bool
	laidOut  bool
}

// Create makes a new file at path laid out from tmpl. An existing file is
// truncated. Nothing but the headers is written until the first Flush.
func Create(path string, tmpl Template) (*File, error) {
	if len(tmpl) == 0 {
		return nil, fmt.Errorf("create %s: empty template", path)
	}
	if len(tmpl[0].Columns) != 0 {
		return nil, fmt.Errorf("create %s: primary HDU cannot hold a table", path)
	}

	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	file := &File{path: path, f: fd, writable: true}
	for i, t := range tmpl {
		var h *Header
		if i == 0 {
			h = NewHeader(
				Card{Key: "SIMPLE", Value: true, Comment: "file does conform to FITS standard"},
				Card{Key: "BITPIX", Value: 8, Comment: "number of bits per data pixel"},
				Card{Key: "NAXIS", Value: 0, Comment: "number of data axes"},
				Card{Key: "EXTEND", Value: true, Comment: "FITS dataset may contain extensions"},
			)
		} else {
			h = NewHeader(
				Card{Key: "XTENSION", Value: "BINTABLE", Comment: "binary table extension"},
				Card{Key: "BITPIX", Value: 8, Comment: "8-bit bytes"},
				Card{Key: "NAXIS", Value: 2, Comment: "2-dimensional binary table"},
				Card{Key: "NAXIS1", Value: 0, Comment: "width of table in bytes"},
				Card{Key: "NAXIS2", Value: 0, Comment: "number of rows in table"},
				Card{Key: "PCOUNT", Value: 0, Comment: "size of special data area"},
				Card{Key: "GCOUNT", Value: 1, Comment: "one data group"},
				Card{Key: "TFIELDS", Value: 0, Comment: "number of fields per row"},
			)
			applyColumns(h, t.Columns)
			h.Set("EXTNAME", t.Name, "name of this binary table extension")
		}
		for _, c := range t.Cards {
			h.Set(c.Key, c.Value, c.Comment)
		}
		u := &hdu{header: h, columns: append([]Column(nil), t.Columns...)}
		u.reindex()
		file.hdus = append(file.hdus, u)
	}
	return file, nil
}

// Open opens an existing file read-only, positioned on the primary HDU
func Open(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	file := &File{path: path, f: fd, laidOut: true}
	if err := file.scan(); err != nil {
		fd.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, nil
}

func (f *File) scan() error {
	info, err := f.f.Stat()
	if err != nil {
		return err
	}
	var offset int64
	for offset < info.Size() {
		r := io.NewSectionReader(f.f, offset, info.Size()-offset)
		h, n, err := readHeader(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		u := &hdu{header: h, start: offset, hdrSize: n}
		if u.dataSize, err = dataSize(h); err != nil {
			return err
		}
		if u.isTable() {
			if u.columns, err = columnsFromHeader(h); err != nil {
				return err
			}
			u.reindex()
			naxis1, _ := h.Int("NAXIS1")
			if int(naxis1) != u.rowWidth {
				return fmt.Errorf("HDU %d: NAXIS1 %d does not match column widths %d", len(f.hdus)+1, naxis1, u.rowWidth)
			}
			rows, _ := h.Int("NAXIS2")
			u.rows = int(rows)
		}
		f.hdus = append(f.hdus, u)
		offset += n + padded(u.dataSize)
	}
	if len(f.hdus) == 0 {
		return errors.New("no header found")
	}
	return nil
}

func dataSize(h *Header) (int64, error) {
	bitpix, err := h.Int("BITPIX")
	if err != nil {
		return 0, err
	}
	naxis, err := h.Int("NAXIS")
	if err != nil {
		return 0, err
	}
	if naxis == 0 {
		return 0, nil
	}
	size := int64(1)
	for i := 1; i <= int(naxis); i++ {
		n, err := h.Int(nth("NAXIS", i))
		if err != nil {
			return 0, err
		}
		size *= n
	}
	if bitpix < 0 {
		bitpix = -bitpix
	}
	pcount, _ := h.Int("PCOUNT")
	gcount, err := h.Int("GCOUNT")
	if err != nil {
		gcount = 1
	}
	return (bitpix/8*size + pcount) * gcount, nil
}

// Path returns the file name
func (f *File) Path() string {
	return f.path
}

// NumHDUs returns the number of HDUs in the file
func (f *File) NumHDUs() int {
	return len(f.hdus)
}

// CurrentHDU returns the 1-based index of the current HDU
func (f *File) CurrentHDU() int {
	return f.cur + 1
}

// MoveAbs makes the n-th (1-based) HDU current
func (f *File) MoveAbs(n int) error {
	if n < 1 || n > len(f.hdus) {
		return fmt.Errorf("HDU %d out of range (file has %d)", n, len(f.hdus))
	}
	f.cur = n - 1
	return nil
}

// MoveName makes the binary table with the given EXTNAME current
func (f *File) MoveName(extname string) error {
	for i, u := range f.hdus {
		name, err := u.header.String("EXTNAME")
		if err == nil && u.isTable() && strings.EqualFold(strings.TrimSpace(name), extname) {
			f.cur = i
			return nil
		}
	}
	return fmt.Errorf("binary table %q not found in %s", extname, f.path)
}

// Header returns the header of the current HDU. Callers must not modify it
// directly; use UpdateKey.
func (f *File) Header() *Header {
	return f.hdus[f.cur].header
}

// UpdateKey sets a keyword in the current HDU's header
func (f *File) UpdateKey(key string, value interface{}, comment string) error {
	if !f.writable {
		return ErrReadOnly
	}
	if v, ok := value.(string); ok && len(v) > maxStringValue {
		return fmt.Errorf("update %s: %w", key, ErrValueTooLong)
	}
	u := f.hdus[f.cur]
	if !f.laidOut {
		u.header.Set(key, value, comment)
		return nil
	}
	next := u.header.clone()
	next.Set(key, value, comment)
	if next.encodedSize() != u.hdrSize {
		return fmt.Errorf("update %s: %w", key, ErrHeaderFull)
	}
	u.header = next
	return nil
}

// Columns returns the columns of the current binary table
func (f *File) Columns() []Column {
	return f.hdus[f.cur].columns
}

// ColumnIndex returns the 1-based index of the named column, or 0
func (f *File) ColumnIndex(name string) int {
	for i, c := range f.hdus[f.cur].columns {
		if strings.EqualFold(c.Name, name) {
			return i + 1
		}
	}
	return 0
}

// NumRows returns the row count of the current binary table
func (f *File) NumRows() int {
	return f.hdus[f.cur].rows
}

// ModifyVectorLen changes the repeat count of a column. It is only allowed
// while the table has no rows.
func (f *File) ModifyVectorLen(col, n int) error {
	if !f.writable {
		return ErrReadOnly
	}
	u := f.hdus[f.cur]
	if !u.isTable() {
		return ErrNotTable
	}
	if col < 1 || col > len(u.columns) {
		return fmt.Errorf("column %d out of range", col)
	}
	if u.rows > 0 {
		return fmt.Errorf("column %d: cannot resize a table holding %d rows", col, u.rows)
	}
	if n < 0 {
		return fmt.Errorf("column %d: negative vector length %d", col, n)
	}
	u.columns[col-1].Repeat = n
	u.reindex()
	u.header.Set(nth("TFORM", col), u.columns[col-1].Form(), "")
	u.header.Set("NAXIS1", u.rowWidth, "")
	return nil
}

// ensureLayout fixes the file offsets of every HDU. Header sizes cannot
// change afterwards.
func (f *File) ensureLayout() {
	if f.laidOut {
		return
	}
	var offset int64
	for _, u := range f.hdus {
		u.start = offset
		u.hdrSize = u.header.encodedSize()
		offset += u.hdrSize + padded(u.dataSize)
	}
	f.laidOut = true
}

func (f *File) cell(col, row, n int, forWrite bool) (*hdu, int64, Column, error) {
	u := f.hdus[f.cur]
	if !u.isTable() {
		return nil, 0, Column{}, ErrNotTable
	}
	if col < 1 || col > len(u.columns) {
		return nil, 0, Column{}, fmt.Errorf("column %d out of range", col)
	}
	c := u.columns[col-1]
	if n > c.Repeat {
		return nil, 0, Column{}, fmt.Errorf("column %d (%s): %d elements exceed repeat %d", col, c.Name, n, c.Repeat)
	}
	limit := u.rows
	if forWrite {
		if f.cur != len(f.hdus)-1 {
			return nil, 0, Column{}, fmt.Errorf("rows can only be appended to the last HDU")
		}
		limit = u.rows + 1
	}
	if row < 1 || row > limit {
		return nil, 0, Column{}, fmt.Errorf("row %d out of range (table has %d)", row, u.rows)
	}
	off := u.dataStart() + int64(row-1)*int64(u.rowWidth) + int64(u.offsets[col-1])
	return u, off, c, nil
}

// ReadFloat64s reads len(dst) numeric elements of a cell
func (f *File) ReadFloat64s(col, row int, dst []float64) error {
	_, off, c, err := f.cell(col, row, len(dst), false)
	if err != nil {
		return err
	}
	raw := make([]byte, len(dst)*elemSize(c.Code))
	if _, err := f.f.ReadAt(raw, off); err != nil {
		return fmt.Errorf("read column %d row %d: %w", col, row, err)
	}
	return decodeFloats(c.Code, raw, dst)
}

// ReadFloat32s reads len(dst) numeric elements of a cell as float32
func (f *File) ReadFloat32s(col, row int, dst []float32) error {
	tmp := make([]float64, len(dst))
	if err := f.ReadFloat64s(col, row, tmp); err != nil {
		return err
	}
	for i, v := range tmp {
		dst[i] = float32(v)
	}
	return nil
}

// ReadBytes reads len(dst) raw bytes from a byte or character column
func (f *File) ReadBytes(col, row int, dst []byte) error {
	_, off, c, err := f.cell(col, row, len(dst), false)
	if err != nil {
		return err
	}
	if c.Code != 'B' && c.Code != 'A' {
		return fmt.Errorf("column %d (%s) is not a byte column", col, c.Name)
	}
	if _, err := f.f.ReadAt(dst, off); err != nil {
		return fmt.Errorf("read column %d row %d: %w", col, row, err)
	}
	return nil
}

func (f *File) writeCell(col, row int, n int, encode func(Column, []byte) error) error {
	if !f.writable {
		return ErrReadOnly
	}
	f.ensureLayout()
	u, off, c, err := f.cell(col, row, n, true)
	if err != nil {
		return err
	}
	raw := make([]byte, n*elemSize(c.Code))
	if err := encode(c, raw); err != nil {
		return err
	}
	if _, err := f.f.WriteAt(raw, off); err != nil {
		return fmt.Errorf("write column %d row %d: %w", col, row, err)
	}
	if row > u.rows {
		u.rows = row
		u.dataSize = int64(u.rows) * int64(u.rowWidth)
		u.header.Set("NAXIS2", u.rows, "")
	}
	return nil
}

// TruncateRows drops every row after the first n of the current binary
// table. Bytes already written past the new end are cut on the next Flush.
func (f *File) TruncateRows(n int) error {
	if !f.writable {
		return ErrReadOnly
	}
	u := f.hdus[f.cur]
	if !u.isTable() {
		return ErrNotTable
	}
	if n < 0 || n > u.rows {
		return fmt.Errorf("cannot truncate %d rows to %d", u.rows, n)
	}
	u.rows = n
	u.dataSize = int64(n) * int64(u.rowWidth)
	u.header.Set("NAXIS2", n, "")
	return nil
}

// WriteFloat64s stores numeric elements into a cell, converting to the
// column type. Writing to row NumRows()+1 appends a row.
func (f *File) WriteFloat64s(col, row int, src []float64) error {
	return f.writeCell(col, row, len(src), func(c Column, raw []byte) error {
		return encodeFloats(c.Code, src, raw)
	})
}

// WriteFloat32s stores float32 elements into a cell
func (f *File) WriteFloat32s(col, row int, src []float32) error {
	tmp := make([]float64, len(src))
	for i, v := range src {
		tmp[i] = float64(v)
	}
	return f.WriteFloat64s(col, row, tmp)
}

// WriteBytes stores raw bytes into a byte or character column
func (f *File) WriteBytes(col, row int, src []byte) error {
	return f.writeCell(col, row, len(src), func(c Column, raw []byte) error {
		if c.Code != 'B' && c.Code != 'A' {
			return fmt.Errorf("column %d (%s) is not a byte column", col, c.Name)
		}
		copy(raw, src)
		return nil
	})
}

// Flush rewrites every header in place, pads the data to a block boundary
// and syncs the file to stable storage.
func (f *File) Flush() error {
	if !f.writable {
		return nil
	}
	f.ensureLayout()
	for i, u := range f.hdus {
		buf := u.header.Encode()
		if int64(len(buf)) != u.hdrSize {
			return fmt.Errorf("flush HDU %d: %w", i+1, ErrHeaderFull)
		}
		if _, err := f.f.WriteAt(buf, u.start); err != nil {
			return fmt.Errorf("flush HDU %d: %w", i+1, err)
		}
	}
	last := f.hdus[len(f.hdus)-1]
	if err := f.f.Truncate(last.dataStart() + padded(last.dataSize)); err != nil {
		return fmt.Errorf("flush %s: %w", f.path, err)
	}
	return f.f.Sync()
}

// Close flushes a writable file and releases the handle
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	var err error
	if f.writable {
		err = f.Flush()
	}
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	f.f = nil
	return err
}
