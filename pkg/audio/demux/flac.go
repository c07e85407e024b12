// ABOUTME: FLAC demuxer
// ABOUTME: Reads FLAC frames with mewkiz/flac and emits one f32le packet per frame
package demux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/mewkiz/flac"
	"github.com/musicthing/musicthing/pkg/audio"
)

// FLAC demuxes native FLAC streams
type FLAC struct{}

func (FLAC) Name() string         { return "flac" }
func (FLAC) Extensions() []string { return []string{"flac"} }

func (FLAC) Sniff(header []byte) bool {
	return len(header) >= 4 && bytes.Equal(header[:4], []byte("fLaC"))
}

type flacReader struct {
	stream *flac.Stream
	track  audio.Track
	buf    []byte
}

// Open reads the stream info block; mewkiz/flac builds a seek table on demand
func (FLAC) Open(src io.ReadSeeker) (FormatReader, error) {
	stream, err := flac.NewSeek(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open flac stream: %w", err)
	}

	info := stream.Info
	params := audio.CodecParams{
		Codec:        audio.CodecPCMF32LE,
		SampleRate:   int(info.SampleRate),
		Channels:     int(info.NChannels),
		SampleFormat: audio.SampleF32,
		NumFrames:    audio.Timestamp(info.NSamples),
	}
	if info.SampleRate > 0 {
		params.TimeBase = audio.NewTimeBase(int(info.SampleRate))
	}

	return &flacReader{
		stream: stream,
		track:  audio.Track{ID: 0, Params: params, Container: "flac", Source: "flac"},
		buf:    make([]byte, int(info.BlockSizeMax)*int(info.NChannels)*4),
	}, nil
}

func (r *flacReader) Tracks() []audio.Track {
	return []audio.Track{r.track}
}

func (r *flacReader) NextPacket() (audio.Packet, error) {
	frame, err := r.stream.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return audio.Packet{}, io.EOF
		}
		return audio.Packet{}, fmt.Errorf("flac frame: %w", err)
	}

	blockSize := int(frame.BlockSize)
	channels := len(frame.Subframes)
	if channels != r.track.Params.Channels {
		return audio.Packet{}, fmt.Errorf("flac frame has %d channels, stream has %d", channels, r.track.Params.Channels)
	}

	need := blockSize * channels * 4
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	data := r.buf[:need]

	bits := int(frame.BitsPerSample)
	for i := 0; i < blockSize; i++ {
		for ch := 0; ch < channels; ch++ {
			v := audio.IntToFloat(frame.Subframes[ch].Samples[i], bits)
			binary.LittleEndian.PutUint32(data[(i*channels+ch)*4:], math.Float32bits(v))
		}
	}

	return audio.Packet{
		TrackID:  r.track.ID,
		StartTS:  audio.Timestamp(frame.SampleNumber()),
		Duration: audio.Timestamp(blockSize),
		Data:     data,
	}, nil
}

func (r *flacReader) Seek(ts audio.Timestamp) (audio.Timestamp, error) {
	total := r.track.Params.NumFrames
	ts = clampTS(ts, total)
	if total > 0 && ts >= total {
		ts = total - 1
	}
	actual, err := r.stream.Seek(uint64(ts))
	if err != nil {
		return 0, fmt.Errorf("flac seek: %w", err)
	}
	return audio.Timestamp(actual), nil
}

// Close leaves the source open; flac.Stream.Close would close it
func (r *flacReader) Close() error {
	return nil
}
