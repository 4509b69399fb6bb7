package filterbank

import (
	"encoding/binary"
	"fmt"
	"io"

	"psrfits-tools/internal/psrfits"
)

// Layout describes how the products of one time sample are ordered
type Layout int

const (
	// LayoutInterleaved stores the products of each channel together:
	// c1p1 c1p2 c1p3 c1p4 c2p1 ...
	LayoutInterleaved Layout = iota
	// LayoutBlocked stores one block of nchan values per product:
	// c1p1 c2p1 ... cNp1 c1p2 ...
	LayoutBlocked
)

func (l Layout) String() string {
	if l == LayoutBlocked {
		return "blocked"
	}
	return "interleaved"
}

// ParseLayout accepts "interleaved" or "blocked"
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "interleaved":
		return LayoutInterleaved, nil
	case "blocked":
		return LayoutBlocked, nil
	}
	return 0, fmt.Errorf("unknown product layout %q (must be 'interleaved' or 'blocked')", s)
}

// RepackConfig selects what the repacker keeps and how it groups output
type RepackConfig struct {
	NChan        int
	StartChan    int // 1-based, 0 means 1
	EndChan      int // 1-based inclusive, 0 means NChan
	Flip         bool
	NBits        int // 8 or 16
	Products     int // values per channel per time sample, 0 means 4
	DumpsPerUnit int // dumps per sink write, 0 means 1
	Layout       Layout
}

// Repacker reduces payloads to the first product of each selected channel
// and writes the result to a sink. Each output unit is one Write call.
type Repacker struct {
	cfg  RepackConfig
	sink io.Writer

	pos   int      // element position within the current time sample
	dump  []uint16 // kept values of the current time sample
	unit  []byte   // encoded dumps awaiting emission
	dumps int      // dumps in unit

	totalDumps int64
	written    int64
}

// NewRepacker validates cfg, fills in defaults and returns a repacker
// writing to sink
func NewRepacker(cfg RepackConfig, sink io.Writer) (*Repacker, error) {
	bad := func(format string, args ...interface{}) error {
		return &psrfits.Error{Kind: psrfits.KindConfig, Op: "repack", Err: fmt.Errorf(format, args...)}
	}
	if cfg.NBits != 8 && cfg.NBits != 16 {
		return nil, bad("only 8 or 16 bit data can be repacked, got %d", cfg.NBits)
	}
	if cfg.NChan < 1 {
		return nil, bad("nchan %d must be positive", cfg.NChan)
	}
	if cfg.StartChan == 0 {
		cfg.StartChan = 1
	}
	if cfg.EndChan == 0 {
		cfg.EndChan = cfg.NChan
	}
	if cfg.StartChan < 1 || cfg.EndChan > cfg.NChan || cfg.StartChan > cfg.EndChan {
		return nil, bad("channel window %d..%d outside 1..%d", cfg.StartChan, cfg.EndChan, cfg.NChan)
	}
	if cfg.Products == 0 {
		cfg.Products = 4
	}
	if cfg.Products < 1 {
		return nil, bad("products %d must be positive", cfg.Products)
	}
	if cfg.DumpsPerUnit == 0 {
		cfg.DumpsPerUnit = 1
	}
	if cfg.DumpsPerUnit < 1 {
		return nil, bad("dumps per unit %d must be positive", cfg.DumpsPerUnit)
	}
	if sink == nil {
		return nil, bad("no output sink")
	}

	kept := cfg.EndChan - cfg.StartChan + 1
	return &Repacker{
		cfg:  cfg,
		sink: sink,
		dump: make([]uint16, 0, kept),
		unit: make([]byte, 0, kept*cfg.DumpsPerUnit*cfg.NBits/8),
	}, nil
}

// Config returns the effective configuration, defaults applied
func (r *Repacker) Config() RepackConfig {
	return r.cfg
}

// Channels returns the number of channels per dump
func (r *Repacker) Channels() int {
	return r.cfg.EndChan - r.cfg.StartChan + 1
}

// Dumps returns the number of complete dumps seen so far
func (r *Repacker) Dumps() int64 {
	return r.totalDumps
}

// BytesWritten returns the number of bytes handed to the sink
func (r *Repacker) BytesWritten() int64 {
	return r.written
}

// channelOf maps an element position within a time sample to its 1-based
// channel and 0-based product
func (r *Repacker) channelOf(pos int) (channel, product int) {
	if r.cfg.Layout == LayoutBlocked {
		return pos%r.cfg.NChan + 1, pos / r.cfg.NChan
	}
	return pos/r.cfg.Products + 1, pos % r.cfg.Products
}

// Feed consumes one payload. A partial time sample at the end of the
// payload is continued by the next call.
func (r *Repacker) Feed(p psrfits.Payload) error {
	if p == nil {
		return &psrfits.Error{Kind: psrfits.KindPayload, Op: "repack", Err: fmt.Errorf("nil payload")}
	}
	if p.Width() != r.cfg.NBits {
		return &psrfits.Error{Kind: psrfits.KindPayload, Op: "repack",
			Err: fmt.Errorf("payload holds %d-bit samples, repacker expects %d", p.Width(), r.cfg.NBits)}
	}

	perSample := r.cfg.NChan * r.cfg.Products
	for i, n := 0, p.Len(); i < n; i++ {
		ch, prod := r.channelOf(r.pos)
		if prod == 0 && ch >= r.cfg.StartChan && ch <= r.cfg.EndChan {
			r.dump = append(r.dump, p.At(i))
		}
		r.pos++
		if r.pos == perSample {
			r.pos = 0
			if err := r.endDump(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repacker) endDump() error {
	if r.cfg.Flip {
		for i, j := 0, len(r.dump)-1; i < j; i, j = i+1, j-1 {
			r.dump[i], r.dump[j] = r.dump[j], r.dump[i]
		}
	}
	r.unit = r.encode(r.unit, r.dump)
	r.dump = r.dump[:0]
	r.dumps++
	r.totalDumps++
	if r.dumps == r.cfg.DumpsPerUnit {
		return r.emit()
	}
	return nil
}

func (r *Repacker) encode(dst []byte, values []uint16) []byte {
	for _, v := range values {
		if r.cfg.NBits == 8 {
			dst = append(dst, byte(v))
		} else {
			dst = binary.LittleEndian.AppendUint16(dst, v)
		}
	}
	return dst
}

func (r *Repacker) emit() error {
	unit := r.unit
	r.unit = r.unit[:0]
	r.dumps = 0
	if len(unit) == 0 {
		return nil
	}
	n, err := r.sink.Write(unit)
	r.written += int64(n)
	if err != nil {
		return fmt.Errorf("write output unit: %w", err)
	}
	return nil
}

// Finish writes whatever has been accumulated: complete dumps not yet
// emitted plus the kept values of an unfinished time sample, in input
// order. Nothing is padded.
func (r *Repacker) Finish() error {
	r.unit = r.encode(r.unit, r.dump)
	r.dump = r.dump[:0]
	r.pos = 0
	return r.emit()
}
