// ABOUTME: Decoder interface definition and codec registry
// ABOUTME: Common interface for all packet decoders producing float32 PCM
package decode

import (
	"errors"
	"fmt"

	"github.com/musicthing/musicthing/pkg/audio"
)

// ErrResetRequired means the stream changed format and the decoder must be
// Reset before the same packet is decoded again.
var ErrResetRequired = errors.New("decoder reset required")

// Decoder decodes packets of one track to interleaved float32 samples
type Decoder interface {
	// Decode converts a packet to samples. The returned slice is only valid
	// until the next call.
	Decode(pkt audio.Packet) ([]float32, error)

	// Reset discards internal state, adopting any pending format change
	Reset()

	// Params returns the parameters the decoder currently produces
	Params() audio.CodecParams

	// Close releases decoder resources
	Close() error
}

// Factory builds a decoder for params
type Factory func(params audio.CodecParams) (Decoder, error)

var factories = map[audio.CodecType]Factory{
	audio.CodecPCMU8:    NewPCM,
	audio.CodecPCMS16LE: NewPCM,
	audio.CodecPCMS24LE: NewPCM,
	audio.CodecPCMS32LE: NewPCM,
	audio.CodecPCMF32LE: NewPCM,
	audio.CodecOpus:     NewOpus,
}

// Supported reports whether a decoder exists for codec
func Supported(codec audio.CodecType) bool {
	_, ok := factories[codec]
	return ok
}

// New creates the decoder registered for params.Codec
func New(params audio.CodecParams) (Decoder, error) {
	factory, ok := factories[params.Codec]
	if !ok {
		name := string(params.Codec)
		if name == "" {
			name = "unknown"
		}
		return nil, audio.NewError(audio.KindCodec, "new decoder",
			fmt.Errorf("%w: %s", audio.ErrUnsupportedCodec, name))
	}

	dec, err := factory(params)
	if err != nil {
		return nil, audio.NewError(audio.KindCodec, "new decoder", err)
	}
	return dec, nil
}

// pendingParams checks a packet for an in-stream format change
func pendingParams(current audio.CodecParams, pkt audio.Packet) (*audio.CodecParams, bool) {
	if pkt.Params == nil || pkt.Params.Equal(current) {
		return nil, false
	}
	p := *pkt.Params
	return &p, true
}
