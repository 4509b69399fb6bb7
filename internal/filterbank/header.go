// Package filterbank writes sigproc filterbank streams: a keyword header
// followed by channelized samples repacked from PSRFITS payloads.
package filterbank

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const maxKeywordLen = 4096

// Header is the sigproc filterbank header
type Header struct {
	RawDataFile string
	SourceName  string
	DataType    int
	NChans      int
	FCh1        float64 // MHz, centre of the first output channel
	FOff        float64 // MHz, channel step
	NBits       int
	NBeams      int
	IBeam       int
	NIFs        int
	TSamp       float64 // s
	TStart      float64 // MJD
	TelescopeID int
	MachineID   int
	SrcRAJ      float64 // hhmmss.s
	SrcDEJ      float64 // ddmmss.s
	AzStart     float64 // deg
	ZAStart     float64 // deg
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) str(s string) {
	binary.Write(&e.buf, binary.LittleEndian, int32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) integer(name string, v int) {
	e.str(name)
	binary.Write(&e.buf, binary.LittleEndian, int32(v))
}

func (e *encoder) double(name string, v float64) {
	e.str(name)
	binary.Write(&e.buf, binary.LittleEndian, v)
}

// WriteTo writes the header in a single call
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	var e encoder
	e.str("HEADER_START")
	e.str("rawdatafile")
	e.str(h.RawDataFile)
	e.str("source_name")
	e.str(h.SourceName)
	e.integer("data_type", h.DataType)
	e.integer("nchans", h.NChans)
	e.double("fch1", h.FCh1)
	e.double("foff", h.FOff)
	e.integer("nbits", h.NBits)
	e.integer("nbeams", h.NBeams)
	e.integer("ibeam", h.IBeam)
	e.integer("nifs", h.NIFs)
	e.double("tsamp", h.TSamp)
	e.double("tstart", h.TStart)
	e.integer("telescope_id", h.TelescopeID)
	e.integer("machine_id", h.MachineID)
	e.double("src_raj", h.SrcRAJ)
	e.double("src_dej", h.SrcDEJ)
	e.double("az_start", h.AzStart)
	e.double("za_start", h.ZAStart)
	e.str("HEADER_END")

	n, err := w.Write(e.buf.Bytes())
	if err != nil {
		return int64(n), fmt.Errorf("write filterbank header: %w", err)
	}
	return int64(n), nil
}

// ErrNotFilterbank is returned when a stream does not start with HEADER_START
var ErrNotFilterbank = errors.New("not a sigproc filterbank stream")

type decoder struct {
	r io.Reader
	n int64
}

func (d *decoder) str() (string, error) {
	var size int32
	if err := binary.Read(d.r, binary.LittleEndian, &size); err != nil {
		return "", err
	}
	if size < 0 || size > maxKeywordLen {
		return "", fmt.Errorf("keyword length %d out of range", size)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", err
	}
	d.n += 4 + int64(size)
	return string(b), nil
}

func (d *decoder) integer() (int, error) {
	var v int32
	if err := binary.Read(d.r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	d.n += 4
	return int(v), nil
}

func (d *decoder) double() (float64, error) {
	var v uint64
	if err := binary.Read(d.r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	d.n += 8
	return math.Float64frombits(v), nil
}

// ReadHeader parses a filterbank header and returns it along with the number
// of bytes consumed, which is where the samples start
func ReadHeader(r io.Reader) (*Header, int64, error) {
	d := &decoder{r: r}
	start, err := d.str()
	if err != nil || start != "HEADER_START" {
		return nil, d.n, ErrNotFilterbank
	}

	h := &Header{}
	ints := map[string]*int{
		"data_type":    &h.DataType,
		"nchans":       &h.NChans,
		"nbits":        &h.NBits,
		"nbeams":       &h.NBeams,
		"ibeam":        &h.IBeam,
		"nifs":         &h.NIFs,
		"telescope_id": &h.TelescopeID,
		"machine_id":   &h.MachineID,
	}
	doubles := map[string]*float64{
		"fch1":     &h.FCh1,
		"foff":     &h.FOff,
		"tsamp":    &h.TSamp,
		"tstart":   &h.TStart,
		"src_raj":  &h.SrcRAJ,
		"src_dej":  &h.SrcDEJ,
		"az_start": &h.AzStart,
		"za_start": &h.ZAStart,
	}
	strs := map[string]*string{
		"rawdatafile": &h.RawDataFile,
		"source_name": &h.SourceName,
	}

	for {
		key, err := d.str()
		if err != nil {
			return nil, d.n, fmt.Errorf("read filterbank header: %w", err)
		}
		switch {
		case key == "HEADER_END":
			return h, d.n, nil
		case ints[key] != nil:
			if *ints[key], err = d.integer(); err != nil {
				return nil, d.n, fmt.Errorf("read %s: %w", key, err)
			}
		case doubles[key] != nil:
			if *doubles[key], err = d.double(); err != nil {
				return nil, d.n, fmt.Errorf("read %s: %w", key, err)
			}
		case strs[key] != nil:
			if *strs[key], err = d.str(); err != nil {
				return nil, d.n, fmt.Errorf("read %s: %w", key, err)
			}
		default:
			return nil, d.n, fmt.Errorf("read filterbank header: unknown keyword %q", key)
		}
	}
}
