// ABOUTME: Audio decoder package for packet decoding
// ABOUTME: Provides Decoder interface, codec registry, PCM and Opus decoders
// Package decode turns demuxed packets into interleaved float32 samples.
//
// Supports: PCM (u8, s16le, s24le, s32le, f32le) and Opus.
//
// A packet carrying new codec parameters makes Decode return
// ErrResetRequired; the caller resets the decoder and decodes the same
// packet again.
//
// Example:
//
//	dec, err := decode.New(track.Params)
//	samples, err := dec.Decode(pkt)
//	if errors.Is(err, decode.ErrResetRequired) {
//	    dec.Reset()
//	    samples, err = dec.Decode(pkt)
//	}
package decode
