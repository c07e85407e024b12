// ABOUTME: PCM audio decoder
// ABOUTME: Decodes little-endian integer and float PCM to float32 samples
package decode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/musicthing/musicthing/pkg/audio"
)

// PCMDecoder decodes raw PCM packets
type PCMDecoder struct {
	params  audio.CodecParams
	pending *audio.CodecParams
	out     []float32
}

// NewPCM creates a new PCM decoder
func NewPCM(params audio.CodecParams) (Decoder, error) {
	if err := checkPCM(params); err != nil {
		return nil, err
	}
	return &PCMDecoder{params: params}, nil
}

func checkPCM(params audio.CodecParams) error {
	switch params.Codec {
	case audio.CodecPCMU8, audio.CodecPCMS16LE, audio.CodecPCMS24LE, audio.CodecPCMS32LE, audio.CodecPCMF32LE:
	default:
		return fmt.Errorf("invalid codec for PCM decoder: %s", params.Codec)
	}
	if params.Channels <= 0 {
		return fmt.Errorf("invalid channel count for PCM decoder: %d", params.Channels)
	}
	return nil
}

func bytesPerSample(codec audio.CodecType) int {
	switch codec {
	case audio.CodecPCMU8:
		return 1
	case audio.CodecPCMS16LE:
		return 2
	case audio.CodecPCMS24LE:
		return 3
	default:
		return 4
	}
}

// Decode converts PCM bytes to float32 samples
func (d *PCMDecoder) Decode(pkt audio.Packet) ([]float32, error) {
	if p, changed := pendingParams(d.params, pkt); changed {
		if err := checkPCM(*p); err != nil {
			return nil, err
		}
		d.pending = p
		return nil, ErrResetRequired
	}

	width := bytesPerSample(d.params.Codec)
	frameBytes := width * d.params.Channels
	data := pkt.Data
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("pcm packet of %d bytes is not a whole number of %d-byte frames", len(data), frameBytes)
	}

	n := len(data) / width
	if cap(d.out) < n {
		d.out = make([]float32, n)
	}
	out := d.out[:n]

	switch d.params.Codec {
	case audio.CodecPCMU8:
		for i := range out {
			out[i] = audio.Uint8ToFloat(data[i])
		}
	case audio.CodecPCMS16LE:
		for i := range out {
			out[i] = audio.Int16ToFloat(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
	case audio.CodecPCMS24LE:
		for i := range out {
			b := [3]byte{data[i*3], data[i*3+1], data[i*3+2]}
			out[i] = audio.Int24ToFloat(audio.SampleFrom24Bit(b))
		}
	case audio.CodecPCMS32LE:
		for i := range out {
			out[i] = audio.Int32ToFloat(int32(binary.LittleEndian.Uint32(data[i*4:])))
		}
	case audio.CodecPCMF32LE:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	}
	return out, nil
}

// Reset adopts any pending format change
func (d *PCMDecoder) Reset() {
	if d.pending != nil {
		d.params = *d.pending
		d.pending = nil
	}
}

// Params returns the current output parameters
func (d *PCMDecoder) Params() audio.CodecParams {
	return d.params
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}
