// ABOUTME: Opus audio decoder
// ABOUTME: Decodes Opus packets to float32 samples via libopus
package decode

import (
	"fmt"

	"github.com/musicthing/musicthing/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// opusMaxFrame is 120ms at 48kHz, the longest Opus packet
const opusMaxFrame = 5760

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder *opus.Decoder
	params  audio.CodecParams
	pending *audio.CodecParams
	pcm     []float32
}

// NewOpus creates a new Opus decoder
func NewOpus(params audio.CodecParams) (Decoder, error) {
	if params.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", params.Codec)
	}

	dec, err := opus.NewDecoder(params.SampleRate, params.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder: dec,
		params:  params,
		pcm:     make([]float32, opusMaxFrame*params.Channels),
	}, nil
}

// Decode converts an Opus packet to float32 samples
func (d *OpusDecoder) Decode(pkt audio.Packet) ([]float32, error) {
	if p, changed := pendingParams(d.params, pkt); changed {
		d.pending = p
		return nil, ErrResetRequired
	}

	n, err := d.decoder.DecodeFloat32(pkt.Data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return d.pcm[:n*d.params.Channels], nil
}

// Reset replaces the libopus state, adopting any pending format change.
// If the pending parameters are rejected the old state is kept and the next
// Decode reports the change again.
func (d *OpusDecoder) Reset() {
	params := d.params
	if d.pending != nil {
		params = *d.pending
	}

	dec, err := opus.NewDecoder(params.SampleRate, params.Channels)
	if err != nil {
		return
	}
	d.decoder = dec
	d.params = params
	d.pending = nil
	if need := opusMaxFrame * params.Channels; cap(d.pcm) < need {
		d.pcm = make([]float32, need)
	}
}

// Params returns the current output parameters
func (d *OpusDecoder) Params() audio.CodecParams {
	return d.params
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
