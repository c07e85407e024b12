// ABOUTME: Ogg Vorbis reader
// ABOUTME: Decodes Vorbis with jfreymuth/oggvorbis into f32le packets
package demux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/jfreymuth/oggvorbis"
	"github.com/musicthing/musicthing/pkg/audio"
)

const vorbisPacketFrames = 1024

// vorbisStream is the part of oggvorbis.Reader the reader uses
type vorbisStream interface {
	SampleRate() int
	Channels() int
	Length() int64
	Position() int64
	SetPosition(pos int64) error
	Read(p []float32) (int, error)
}

type vorbisReader struct {
	dec     vorbisStream
	track   audio.Track
	samples []float32
	buf     []byte
}

func openVorbis(src io.ReadSeeker) (FormatReader, error) {
	dec, err := oggvorbis.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open vorbis stream: %w", err)
	}
	return newVorbisReader(dec), nil
}

func newVorbisReader(dec vorbisStream) *vorbisReader {
	channels := dec.Channels()
	params := audio.CodecParams{
		Codec:        audio.CodecPCMF32LE,
		SampleRate:   dec.SampleRate(),
		Channels:     channels,
		SampleFormat: audio.SampleF32,
		NumFrames:    audio.Timestamp(dec.Length()),
	}
	if params.SampleRate > 0 {
		params.TimeBase = audio.NewTimeBase(params.SampleRate)
	}

	return &vorbisReader{
		dec:     dec,
		track:   audio.Track{ID: 0, Params: params, Container: "ogg", Source: "vorbis"},
		samples: make([]float32, vorbisPacketFrames*channels),
		buf:     make([]byte, vorbisPacketFrames*channels*4),
	}
}

func (r *vorbisReader) Tracks() []audio.Track {
	return []audio.Track{r.track}
}

func (r *vorbisReader) NextPacket() (audio.Packet, error) {
	channels := r.track.Params.Channels
	start := r.dec.Position()

	n, err := r.dec.Read(r.samples)
	frames := n / channels
	if frames == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return audio.Packet{}, io.EOF
		}
		return audio.Packet{}, fmt.Errorf("vorbis decode error: %w", err)
	}

	data := r.buf[:frames*channels*4]
	for i, v := range r.samples[:frames*channels] {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	return audio.Packet{
		TrackID:  r.track.ID,
		StartTS:  audio.Timestamp(start),
		Duration: audio.Timestamp(frames),
		Data:     data,
	}, nil
}

func (r *vorbisReader) Seek(ts audio.Timestamp) (audio.Timestamp, error) {
	total := r.track.Params.NumFrames
	ts = clampTS(ts, total)
	if total > 0 && ts >= total {
		ts = total - 1
	}
	if err := r.dec.SetPosition(int64(ts)); err != nil {
		return 0, fmt.Errorf("vorbis seek: %w", err)
	}
	return audio.Timestamp(r.dec.Position()), nil
}

func (r *vorbisReader) Close() error {
	return nil
}
