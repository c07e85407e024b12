// ABOUTME: WAV demuxer
// ABOUTME: Parses RIFF headers with go-audio/wav and slices raw PCM into packets
package demux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/musicthing/musicthing/pkg/audio"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	wavPacketFrames = 1024
)

// WAV demuxes RIFF/WAVE files
type WAV struct{}

func (WAV) Name() string         { return "wav" }
func (WAV) Extensions() []string { return []string{"wav", "wave"} }

func (WAV) Sniff(header []byte) bool {
	return len(header) >= 12 &&
		bytes.Equal(header[0:4], []byte("RIFF")) &&
		bytes.Equal(header[8:12], []byte("WAVE"))
}

type wavReader struct {
	src         io.ReadSeeker
	track       audio.Track
	dataStart   int64
	frameBytes  int
	totalFrames int64
	pos         int64
	buf         []byte
}

// Open parses the header and positions src at the first sample
func (WAV) Open(src io.ReadSeeker) (FormatReader, error) {
	start, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	subFormat, err := wavSubFormat(src, start)
	if err != nil {
		return nil, fmt.Errorf("invalid wav header: %w", err)
	}
	if _, err := src.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	d := wav.NewDecoder(src)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("invalid wav header: %w", err)
	}
	if d.NumChans == 0 {
		return nil, audio.NewError(audio.KindTrack, "open wav", audio.ErrNoAudioTrack)
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, audio.NewError(audio.KindTrack, "open wav", fmt.Errorf("%w: %v", audio.ErrNoAudioTrack, err))
	}

	dataStart, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	tag := d.WavAudioFormat
	if tag == wavFormatExtensible && subFormat != 0 {
		tag = subFormat
	}

	params := audio.CodecParams{
		Codec:        wavCodec(tag, int(d.BitDepth)),
		SampleRate:   int(d.SampleRate),
		Channels:     int(d.NumChans),
		SampleFormat: wavSampleFormat(tag, int(d.BitDepth)),
	}
	if params.SampleRate > 0 {
		params.TimeBase = audio.NewTimeBase(params.SampleRate)
	}

	r := &wavReader{
		src:       src,
		dataStart: dataStart,
		track:     audio.Track{ID: 0, Params: params, Container: "wav", Source: string(params.Codec)},
	}

	if width := params.SampleFormat.BytesPerSample(); width > 0 {
		r.frameBytes = width * params.Channels

		size := d.PCMLen()
		end, err := src.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, err
		}
		// Streamed files leave the data size at 0 or 0xFFFFFFFF
		if avail := end - dataStart; size <= 0 || size > avail {
			size = avail
		}
		if _, err := src.Seek(dataStart, io.SeekStart); err != nil {
			return nil, err
		}

		r.totalFrames = size / int64(r.frameBytes)
		r.track.Params.NumFrames = audio.Timestamp(r.totalFrames)
		r.buf = make([]byte, wavPacketFrames*r.frameBytes)
	}

	return r, nil
}

// wavSubFormat returns the format tag carried in the SubFormat GUID of a
// WAVE_FORMAT_EXTENSIBLE fmt chunk, or 0 for any other header. go-audio/riff
// discards the extension bytes, so the chunk is read directly.
func wavSubFormat(src io.ReadSeeker, start int64) (uint16, error) {
	if _, err := src.Seek(start+12, io.SeekStart); err != nil {
		return 0, err
	}

	var hdr [8]byte
	for {
		if _, err := io.ReadFull(src, hdr[:]); err != nil {
			// No fmt chunk; go-audio/wav reports the header error
			return 0, nil
		}
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		if string(hdr[0:4]) != "fmt " {
			if _, err := src.Seek(size+size&1, io.SeekCurrent); err != nil {
				return 0, err
			}
			continue
		}

		if size < 40 {
			return 0, nil
		}
		var ext [40]byte
		if _, err := io.ReadFull(src, ext[:]); err != nil {
			return 0, err
		}
		if binary.LittleEndian.Uint16(ext[0:2]) != wavFormatExtensible {
			return 0, nil
		}
		// The GUID's first two bytes are the plain format tag
		return binary.LittleEndian.Uint16(ext[24:26]), nil
	}
}

func wavSampleFormat(tag uint16, bits int) audio.SampleFormat {
	switch tag {
	case wavFormatPCM:
		switch bits {
		case 8:
			return audio.SampleU8
		case 16:
			return audio.SampleS16
		case 24:
			return audio.SampleS24
		case 32:
			return audio.SampleS32
		}
	case wavFormatFloat:
		if bits == 32 {
			return audio.SampleF32
		}
	}
	return audio.SampleUnknown
}

func wavCodec(tag uint16, bits int) audio.CodecType {
	if codec := audio.PCMCodec(wavSampleFormat(tag, bits)); codec != audio.CodecUnknown {
		return codec
	}
	return audio.CodecType(fmt.Sprintf("wav_format_%d_%dbit", tag, bits))
}

func (r *wavReader) Tracks() []audio.Track {
	return []audio.Track{r.track}
}

func (r *wavReader) NextPacket() (audio.Packet, error) {
	if r.frameBytes == 0 || r.pos >= r.totalFrames {
		return audio.Packet{}, io.EOF
	}

	frames := min(int64(wavPacketFrames), r.totalFrames-r.pos)
	n, err := io.ReadFull(r.src, r.buf[:frames*int64(r.frameBytes)])
	if err != nil {
		if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return audio.Packet{}, err
		}
		// Truncated file: keep the whole frames that were read
		frames = int64(n / r.frameBytes)
		r.totalFrames = r.pos + frames
		if frames == 0 {
			return audio.Packet{}, io.EOF
		}
	}

	pkt := audio.Packet{
		TrackID:  r.track.ID,
		StartTS:  audio.Timestamp(r.pos),
		Duration: audio.Timestamp(frames),
		Data:     r.buf[:frames*int64(r.frameBytes)],
	}
	r.pos += frames
	return pkt, nil
}

func (r *wavReader) Seek(ts audio.Timestamp) (audio.Timestamp, error) {
	if r.frameBytes == 0 {
		return 0, nil
	}
	ts = clampTS(ts, audio.Timestamp(r.totalFrames))
	if _, err := r.src.Seek(r.dataStart+int64(ts)*int64(r.frameBytes), io.SeekStart); err != nil {
		return 0, fmt.Errorf("wav seek: %w", err)
	}
	r.pos = int64(ts)
	return ts, nil
}

func (r *wavReader) Close() error {
	return nil
}
