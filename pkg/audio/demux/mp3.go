// ABOUTME: MP3 demuxer
// ABOUTME: Decodes MPEG audio with go-mp3 into 1152-frame s16le packets
package demux

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/musicthing/musicthing/pkg/audio"
)

const (
	mp3PacketFrames = 1152
	// go-mp3 always produces 16-bit stereo
	mp3FrameBytes = 4
)

// MP3 demuxes MPEG-1/2 layer III streams
type MP3 struct{}

func (MP3) Name() string         { return "mp3" }
func (MP3) Extensions() []string { return []string{"mp3"} }

func (MP3) Sniff(header []byte) bool {
	if len(header) >= 3 && bytes.Equal(header[:3], []byte("ID3")) {
		return true
	}
	// Frame sync with a non-reserved layer; layer bits 00 would be ADTS
	return len(header) >= 2 &&
		header[0] == 0xFF &&
		header[1]&0xE0 == 0xE0 &&
		(header[1]>>1)&0x03 != 0
}

type mp3Reader struct {
	dec   *mp3.Decoder
	track audio.Track
	pos   int64
	buf   []byte
}

// Open decodes the stream headers; go-mp3 scans the file to compute its length
func (MP3) Open(src io.ReadSeeker) (FormatReader, error) {
	dec, err := mp3.NewDecoder(src)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	rate := dec.SampleRate()
	params := audio.CodecParams{
		Codec:        audio.CodecPCMS16LE,
		SampleRate:   rate,
		Channels:     2,
		SampleFormat: audio.SampleS16,
	}
	if rate > 0 {
		params.TimeBase = audio.NewTimeBase(rate)
	}
	if length := dec.Length(); length > 0 {
		params.NumFrames = audio.Timestamp(length / mp3FrameBytes)
	}

	return &mp3Reader{
		dec:   dec,
		track: audio.Track{ID: 0, Params: params, Container: "mp3", Source: "mp3"},
		buf:   make([]byte, mp3PacketFrames*mp3FrameBytes),
	}, nil
}

func (r *mp3Reader) Tracks() []audio.Track {
	return []audio.Track{r.track}
}

func (r *mp3Reader) NextPacket() (audio.Packet, error) {
	n, err := io.ReadFull(r.dec, r.buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return audio.Packet{}, io.EOF
		}
		return audio.Packet{}, fmt.Errorf("mp3 decode error: %w", err)
	}

	frames := n / mp3FrameBytes
	if frames == 0 {
		return audio.Packet{}, io.EOF
	}

	pkt := audio.Packet{
		TrackID:  r.track.ID,
		StartTS:  audio.Timestamp(r.pos),
		Duration: audio.Timestamp(frames),
		Data:     r.buf[:frames*mp3FrameBytes],
	}
	r.pos += int64(frames)
	return pkt, nil
}

func (r *mp3Reader) Seek(ts audio.Timestamp) (audio.Timestamp, error) {
	ts = clampTS(ts, r.track.Params.NumFrames)
	off, err := r.dec.Seek(int64(ts)*mp3FrameBytes, io.SeekStart)
	if err != nil {
		return 0, fmt.Errorf("mp3 seek: %w", err)
	}
	r.pos = off / mp3FrameBytes
	return audio.Timestamp(r.pos), nil
}

func (r *mp3Reader) Close() error {
	return nil
}
