package filterbank

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psrfits-tools/internal/psrfits"
)

// unitRecorder keeps every Write call as a separate unit
type unitRecorder struct {
	units [][]byte
}

func (u *unitRecorder) Write(p []byte) (int, error) {
	u.units = append(u.units, append([]byte(nil), p...))
	return len(p), nil
}

func (u *unitRecorder) all() []byte {
	var out []byte
	for _, p := range u.units {
		out = append(out, p...)
	}
	return out
}

// interleaved builds one time sample with each channel contributing
// [v, v+1, v+2, v+3]
func interleaved(first ...byte) []byte {
	var out []byte
	for _, v := range first {
		out = append(out, v, v+1, v+2, v+3)
	}
	return out
}

func TestRepackIdentity(t *testing.T) {
	var sink unitRecorder
	r, err := NewRepacker(RepackConfig{NChan: 4, NBits: 8}, &sink)
	require.NoError(t, err)

	payload := append(interleaved(10, 20, 30, 40), interleaved(50, 60, 70, 80)...)
	require.NoError(t, r.Feed(psrfits.Samples8(payload)))
	require.NoError(t, r.Finish())

	assert.Equal(t, [][]byte{{10, 20, 30, 40}, {50, 60, 70, 80}}, sink.units)
	assert.Equal(t, int64(2), r.Dumps())
	assert.Equal(t, int64(8), r.BytesWritten())
}

func TestRepackFlip(t *testing.T) {
	var sink unitRecorder
	r, err := NewRepacker(RepackConfig{NChan: 4, NBits: 8, Flip: true}, &sink)
	require.NoError(t, err)

	require.NoError(t, r.Feed(psrfits.Samples8(interleaved(10, 20, 30, 40))))
	assert.Equal(t, [][]byte{{40, 30, 20, 10}}, sink.units)
}

func TestRepackChannelWindow(t *testing.T) {
	var sink unitRecorder
	r, err := NewRepacker(RepackConfig{NChan: 16, NBits: 8, StartChan: 5, EndChan: 10}, &sink)
	require.NoError(t, err)
	assert.Equal(t, 6, r.Channels())

	var first []byte
	for c := 1; c <= 16; c++ {
		first = append(first, byte(c*10))
	}
	require.NoError(t, r.Feed(psrfits.Samples8(interleaved(first...))))

	require.Len(t, sink.units, 1)
	assert.Equal(t, []byte{50, 60, 70, 80, 90, 100}, sink.units[0])
}

func TestRepackBlockedLayout(t *testing.T) {
	var sink unitRecorder
	r, err := NewRepacker(RepackConfig{NChan: 3, NBits: 8, Layout: LayoutBlocked, Flip: true}, &sink)
	require.NoError(t, err)

	// four blocks of three channels, only the first block is kept
	sample := []byte{1, 2, 3, 11, 12, 13, 21, 22, 23, 31, 32, 33}
	require.NoError(t, r.Feed(psrfits.Samples8(append(sample, sample...))))
	assert.Equal(t, [][]byte{{3, 2, 1}, {3, 2, 1}}, sink.units)
}

func TestRepackSixteenBit(t *testing.T) {
	var sink unitRecorder
	r, err := NewRepacker(RepackConfig{NChan: 2, NBits: 16, Products: 2}, &sink)
	require.NoError(t, err)

	require.NoError(t, r.Feed(psrfits.Samples16{0x1234, 0xffff, 0xabcd, 0xffff}))
	assert.Equal(t, [][]byte{{0x34, 0x12, 0xcd, 0xab}}, sink.units)
}

func TestRepackDumpAccumulation(t *testing.T) {
	var sink unitRecorder
	r, err := NewRepacker(RepackConfig{NChan: 2, NBits: 8, Products: 1, DumpsPerUnit: 3}, &sink)
	require.NoError(t, err)

	require.NoError(t, r.Feed(psrfits.Samples8{1, 2, 3, 4}))
	assert.Empty(t, sink.units)
	require.NoError(t, r.Feed(psrfits.Samples8{5, 6, 7, 8, 9}))
	assert.Equal(t, [][]byte{{1, 2, 3, 4, 5, 6}}, sink.units)

	// one whole dump plus half a time sample remain
	require.NoError(t, r.Finish())
	assert.Equal(t, [][]byte{{1, 2, 3, 4, 5, 6}, {7, 8, 9}}, sink.units)

	require.NoError(t, r.Finish())
	assert.Len(t, sink.units, 2, "nothing left to emit")
}

func TestRepackPartialSampleAcrossFeeds(t *testing.T) {
	var sink unitRecorder
	r, err := NewRepacker(RepackConfig{NChan: 2, NBits: 8, Flip: true}, &sink)
	require.NoError(t, err)

	sample := interleaved(10, 20)
	require.NoError(t, r.Feed(psrfits.Samples8(sample[:5])))
	assert.Empty(t, sink.units)
	require.NoError(t, r.Feed(psrfits.Samples8(sample[5:])))
	assert.Equal(t, [][]byte{{20, 10}}, sink.units)
}

func TestRepackFinishDoesNotReversePartialSample(t *testing.T) {
	var sink unitRecorder
	r, err := NewRepacker(RepackConfig{NChan: 3, NBits: 8, Flip: true}, &sink)
	require.NoError(t, err)

	require.NoError(t, r.Feed(psrfits.Samples8(interleaved(1, 2))))
	require.NoError(t, r.Finish())
	assert.Equal(t, [][]byte{{1, 2}}, sink.units)
}

func TestRepackConfigErrors(t *testing.T) {
	var sink bytes.Buffer
	bad := []RepackConfig{
		{NChan: 4, NBits: 4},
		{NChan: 4, NBits: 32},
		{NChan: 0, NBits: 8},
		{NChan: 4, NBits: 8, StartChan: 3, EndChan: 2},
		{NChan: 4, NBits: 8, EndChan: 5},
		{NChan: 4, NBits: 8, DumpsPerUnit: -1},
	}
	for _, cfg := range bad {
		_, err := NewRepacker(cfg, &sink)
		assert.ErrorIs(t, err, psrfits.ErrConfig, "%+v", cfg)
	}

	r, err := NewRepacker(RepackConfig{NChan: 4, NBits: 16}, &sink)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Feed(psrfits.Samples8{1, 2, 3}), psrfits.ErrPayload)
	assert.ErrorIs(t, r.Feed(nil), psrfits.ErrPayload)
	assert.Zero(t, sink.Len())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestRepackSinkError(t *testing.T) {
	r, err := NewRepacker(RepackConfig{NChan: 1, NBits: 8, Products: 1}, failingWriter{})
	require.NoError(t, err)
	assert.ErrorContains(t, r.Feed(psrfits.Samples8{1}), "disk full")
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("blocked")
	require.NoError(t, err)
	assert.Equal(t, LayoutBlocked, l)
	assert.Equal(t, "blocked", l.String())

	l, err = ParseLayout("interleaved")
	require.NoError(t, err)
	assert.Equal(t, LayoutInterleaved, l)

	_, err = ParseLayout("stokes")
	assert.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		RawDataFile: "guppi_54587_B0329+54",
		SourceName:  "B0329+54",
		DataType:    1,
		NChans:      6,
		FCh1:        1500.5,
		FOff:        -0.5,
		NBits:       8,
		NBeams:      1,
		IBeam:       1,
		NIFs:        1,
		TSamp:       6.4e-5,
		TStart:      54587.5,
		TelescopeID: 32,
		MachineID:   32,
		SrcRAJ:      33259.37,
		SrcDEJ:      543443.57,
		AzStart:     180,
		ZAStart:     30,
	}

	var buf bytes.Buffer
	n, err := h.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	buf.Write([]byte{1, 2, 3})

	got, consumed, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, n, consumed)
	assert.Equal(t, []byte{1, 2, 3}, buf.Bytes())
}

func TestHeaderFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	_, err := (&Header{}).WriteTo(&buf)
	require.NoError(t, err)

	data := buf.Bytes()
	keys := []string{"HEADER_START", "rawdatafile", "source_name", "data_type", "nchans", "fch1", "foff",
		"nbits", "nbeams", "ibeam", "nifs", "tsamp", "tstart", "telescope_id", "machine_id",
		"src_raj", "src_dej", "az_start", "za_start", "HEADER_END"}
	last := -1
	for _, k := range keys {
		i := bytes.Index(data, []byte(k))
		require.Greater(t, i, last, k)
		last = i
	}
}

func TestReadHeaderRejectsOtherStreams(t *testing.T) {
	_, _, err := ReadHeader(bytes.NewReader([]byte("SIMPLE  =                    T")))
	assert.ErrorIs(t, err, ErrNotFilterbank)
}

func TestEncodeCoordinates(t *testing.T) {
	ra, err := EncodeRA("03:32:59.37")
	require.NoError(t, err)
	assert.InDelta(t, 33259.37, ra, 1e-9)

	dec, err := EncodeDec("+54:34:43.57")
	require.NoError(t, err)
	assert.InDelta(t, 543443.57, dec, 1e-9)

	dec, err = EncodeDec("-12:30:15")
	require.NoError(t, err)
	assert.InDelta(t, -123015.0, dec, 1e-9)

	dec, err = EncodeDec("-00:30:00")
	require.NoError(t, err)
	assert.InDelta(t, -3000.0, dec, 1e-9)

	_, err = EncodeRA("03h32m")
	assert.Error(t, err)
	_, err = EncodeDec("12:xx:00")
	assert.Error(t, err)
}
