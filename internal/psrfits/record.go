package psrfits

import (
	"encoding/binary"
	"fmt"
)

// Payload is the sample block of one row. The concrete type is chosen once
// per session from NBITS: Samples16 for 16-bit data, Samples8 otherwise.
type Payload interface {
	// Width is the element size in bits
	Width() int
	// Len is the number of elements
	Len() int
	// At returns element i widened to 16 bits
	At(i int) uint16
	// Bytes returns the on-disk representation
	Bytes() []byte
}

// Samples8 holds byte-wide samples
type Samples8 []byte

func (s Samples8) Width() int { return 8 }
func (s Samples8) Len() int { return len(s) }
func (s Samples8) At(i int) uint16 { return uint16(s[i]) }
func (s Samples8) Bytes() []byte { return []byte(s) }

// Samples16 holds 16-bit samples, stored little-endian on disk
type Samples16 []uint16

func (s Samples16) Width() int { return 16 }
func (s Samples16) Len() int { return len(s) }
func (s Samples16) At(i int) uint16 { return s[i] }

func (s Samples16) Bytes() []byte {
	b := make([]byte, 2*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b
}

// DecodePayload interprets raw row bytes for the given bits per sample
func DecodePayload(raw []byte, nbits int) (Payload, error) {
	if nbits != 16 {
		return Samples8(raw), nil
	}
	if len(raw)%2 != 0 {
		return nil, &Error{Kind: KindPayload, Op: "decode payload", Err: fmt.Errorf("%d bytes is not a whole number of 16-bit samples", len(raw))}
	}
	s := make(Samples16, len(raw)/2)
	for i := range s {
		s[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return s, nil
}

// SubintRecord is one row of the SUBINT table
type SubintRecord struct {
	TSubint float64 // s
	OffsSub float64 // s from start to subint centre
	LSTSub  float64 // s
	RASub   float64 // deg
	DecSub  float64 // deg
	GLonSub float64 // deg
	GLatSub float64 // deg
	FDAng   float64 // deg, stored as float32
	PosAng  float64
	ParAng  float64
	TelAz   float64
	TelZen  float64
	Freqs   []float32 // nchan
	Weights []float32 // nchan
	Offsets []float32 // nchan*npol
	Scales  []float32 // nchan*npol
	Data    Payload
}

func (r *SubintRecord) scalars() []float64 {
	return []float64{
		r.TSubint, r.OffsSub, r.LSTSub, r.RASub, r.DecSub, r.GLonSub, r.GLatSub,
		r.FDAng, r.PosAng, r.ParAng, r.TelAz, r.TelZen,
	}
}

func (r *SubintRecord) scalarPtrs() []*float64 {
	return []*float64{
		&r.TSubint, &r.OffsSub, &r.LSTSub, &r.RASub, &r.DecSub, &r.GLonSub, &r.GLatSub,
		&r.FDAng, &r.PosAng, &r.ParAng, &r.TelAz, &r.TelZen,
	}
}

// NewSubintRecord returns a record with arrays sized for g
func NewSubintRecord(g Geometry) *SubintRecord {
	return &SubintRecord{
		Freqs:   make([]float32, g.ChanWidth),
		Weights: make([]float32, g.ChanWidth),
		Offsets: make([]float32, g.IvalWidth),
		Scales:  make([]float32, g.IvalWidth),
	}
}

// SegmentState tracks the position of a session within an archive
type SegmentState struct {
	FileNum      int // current file, 1-based; 0 before the first file
	RowNum       int // next row within the current file, 1-based
	TotalRows    int
	TotalSamples int64
	TotalTime    float64 // TotalSamples * TBIN
}

func (s *SegmentState) advance(samples int, tbin float64) {
	s.RowNum++
	s.TotalRows++
	s.TotalSamples += int64(samples)
	s.TotalTime = float64(s.TotalSamples) * tbin
}

// Summary reports the outcome of a session
type Summary struct {
	Rows   int
	Time   float64
	Files  int
	Status int
}

func (s Summary) String() string {
	return fmt.Sprintf("Done.  Wrote %d subints (%f sec) in %d files (status = %d).", s.Rows, s.Time, s.Files, s.Status)
}
