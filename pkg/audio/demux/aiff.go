// ABOUTME: AIFF and AIFC demuxer
// ABOUTME: Reads the COMM chunk with go-audio/aiff and emits f32le packets from SSND
package demux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/go-audio/aiff"
	"github.com/musicthing/musicthing/pkg/audio"
)

const aiffPacketFrames = 1024

// AIFF demuxes Audio Interchange File Format files, including AIFC files
// whose sound data is uncompressed
type AIFF struct{}

func (AIFF) Name() string         { return "aiff" }
func (AIFF) Extensions() []string { return []string{"aif", "aiff", "aifc"} }

func (AIFF) Sniff(header []byte) bool {
	if len(header) < 12 || !bytes.Equal(header[0:4], []byte("FORM")) {
		return false
	}
	form := string(header[8:12])
	return form == "AIFF" || form == "AIFC"
}

// aiffLayout is how SSND stores sample points
type aiffLayout struct {
	little bool
	float  bool
}

// aiffLayoutFor maps an AIFC compression type to a sample layout. Plain AIFF
// files carry no compression type.
func aiffLayoutFor(compression [4]byte, bits int) (aiffLayout, bool) {
	switch string(compression[:]) {
	case "\x00\x00\x00\x00", "NONE", "twos":
		return aiffLayout{}, bits > 0 && bits <= 32
	case "sowt":
		return aiffLayout{little: true}, bits > 0 && bits <= 32
	case "fl32", "FL32":
		return aiffLayout{float: true}, bits == 32
	}
	return aiffLayout{}, false
}

type aiffReader struct {
	src         io.ReadSeeker
	track       audio.Track
	layout      aiffLayout
	width       int
	dataStart   int64
	totalFrames int64
	pos         int64
	raw         []byte
	buf         []byte
}

// Open parses the header and positions src at the first sample frame
func (AIFF) Open(src io.ReadSeeker) (FormatReader, error) {
	start, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	d := aiff.NewDecoder(src)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("invalid aiff header: %w", err)
	}
	format := d.Format()
	if format == nil || format.NumChannels == 0 {
		return nil, audio.NewError(audio.KindTrack, "open aiff", audio.ErrNoAudioTrack)
	}
	form := string(d.Form[:])

	// Chunks start after FORM, the size and the form type
	if _, err := src.Seek(start+12, io.SeekStart); err != nil {
		return nil, err
	}
	dataStart, dataSize, err := findSoundData(src)
	if err != nil {
		return nil, audio.NewError(audio.KindTrack, "open aiff", fmt.Errorf("%w: %v", audio.ErrNoAudioTrack, err))
	}

	bits := int(d.BitDepth)
	params := audio.CodecParams{
		Codec:        audio.CodecPCMF32LE,
		SampleRate:   format.SampleRate,
		Channels:     format.NumChannels,
		SampleFormat: audio.SampleF32,
	}
	layout, ok := aiffLayoutFor(d.Encoding, bits)
	if !ok {
		// Compressed AIFC and odd sample sizes are not decoded here
		params.Codec = aiffCodec(form, d.Encoding, bits)
		params.SampleFormat = audio.SampleUnknown
	}
	if params.SampleRate > 0 {
		params.TimeBase = audio.NewTimeBase(params.SampleRate)
	}

	r := &aiffReader{
		src:       src,
		layout:    layout,
		dataStart: dataStart,
		track:     audio.Track{ID: 0, Params: params, Container: "aiff", Source: form},
	}
	if d.EncodingName != "" {
		r.track.Source = form + " " + d.EncodingName
	}

	if ok {
		r.width = (bits + 7) / 8
		frameBytes := int64(r.width * params.Channels)
		r.totalFrames = dataSize / frameBytes
		r.track.Params.NumFrames = audio.Timestamp(r.totalFrames)
		r.raw = make([]byte, aiffPacketFrames*int(frameBytes))
		r.buf = make([]byte, aiffPacketFrames*params.Channels*4)
	}

	if _, err := src.Seek(dataStart, io.SeekStart); err != nil {
		return nil, err
	}
	return r, nil
}

func aiffCodec(form string, compression [4]byte, bits int) audio.CodecType {
	if form == "AIFC" {
		name := strings.ToLower(strings.TrimSpace(string(compression[:])))
		return audio.CodecType(fmt.Sprintf("aifc_%s_%dbit", name, bits))
	}
	return audio.CodecType(fmt.Sprintf("aiff_%dbit", bits))
}

// findSoundData walks chunks from the current offset to the SSND chunk and
// returns the offset and size of its sample frames
func findSoundData(src io.ReadSeeker) (int64, int64, error) {
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(src, hdr[:]); err != nil {
			return 0, 0, errors.New("no SSND chunk")
		}
		size := int64(binary.BigEndian.Uint32(hdr[4:8]))

		if string(hdr[0:4]) == "SSND" {
			var ssnd [8]byte
			if _, err := io.ReadFull(src, ssnd[:]); err != nil {
				return 0, 0, err
			}
			offset := int64(binary.BigEndian.Uint32(ssnd[0:4]))
			pos, err := src.Seek(0, io.SeekCurrent)
			if err != nil {
				return 0, 0, err
			}

			dataStart := pos + offset
			dataSize := size - 8 - offset

			// Streamed or truncated files overstate the chunk size
			end, err := src.Seek(0, io.SeekEnd)
			if err != nil {
				return 0, 0, err
			}
			if avail := end - dataStart; dataSize < 0 || dataSize > avail {
				dataSize = max(avail, 0)
			}
			return dataStart, dataSize, nil
		}

		// Chunks are padded to an even length
		if _, err := src.Seek(size+size&1, io.SeekCurrent); err != nil {
			return 0, 0, err
		}
	}
}

func (r *aiffReader) Tracks() []audio.Track {
	return []audio.Track{r.track}
}

func (r *aiffReader) NextPacket() (audio.Packet, error) {
	if r.width == 0 || r.pos >= r.totalFrames {
		return audio.Packet{}, io.EOF
	}

	channels := r.track.Params.Channels
	frameBytes := r.width * channels

	frames := min(int64(aiffPacketFrames), r.totalFrames-r.pos)
	n, err := io.ReadFull(r.src, r.raw[:frames*int64(frameBytes)])
	if err != nil {
		if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return audio.Packet{}, err
		}
		frames = int64(n / frameBytes)
		r.totalFrames = r.pos + frames
		if frames == 0 {
			return audio.Packet{}, io.EOF
		}
	}

	samples := int(frames) * channels
	data := r.buf[:samples*4]
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(r.sample(r.raw[i*r.width:(i+1)*r.width])))
	}

	pkt := audio.Packet{
		TrackID:  r.track.ID,
		StartTS:  audio.Timestamp(r.pos),
		Duration: audio.Timestamp(frames),
		Data:     data,
	}
	r.pos += frames
	return pkt, nil
}

// sample converts one sample point. Integer points are left-justified in
// their bytes, so they scale by the full container width.
func (r *aiffReader) sample(b []byte) float32 {
	switch {
	case r.layout.float:
		return math.Float32frombits(binary.BigEndian.Uint32(b))
	case r.layout.little:
		return audio.IntToFloat(littleEndianSample(b), len(b)*8)
	default:
		return audio.IntToFloat(bigEndianSample(b), len(b)*8)
	}
}

// bigEndianSample sign-extends a big-endian sample point
func bigEndianSample(b []byte) int32 {
	var v int32
	for _, c := range b {
		v = v<<8 | int32(c)
	}
	shift := 32 - 8*len(b)
	return v << shift >> shift
}

// littleEndianSample sign-extends a byte-swapped (sowt) sample point
func littleEndianSample(b []byte) int32 {
	var v int32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | int32(b[i])
	}
	shift := 32 - 8*len(b)
	return v << shift >> shift
}

func (r *aiffReader) Seek(ts audio.Timestamp) (audio.Timestamp, error) {
	if r.width == 0 {
		return 0, nil
	}
	ts = clampTS(ts, audio.Timestamp(r.totalFrames))
	frameBytes := int64(r.width * r.track.Params.Channels)
	if _, err := r.src.Seek(r.dataStart+int64(ts)*frameBytes, io.SeekStart); err != nil {
		return 0, fmt.Errorf("aiff seek: %w", err)
	}
	r.pos = int64(ts)
	return ts, nil
}

func (r *aiffReader) Close() error {
	return nil
}
