// ABOUTME: Realtime output callback that decodes packets into the sample ring
// ABOUTME: Follows seeks through the Position register and degrades faults to silence
package playback

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/musicthing/musicthing/pkg/audio/decode"
	"github.com/musicthing/musicthing/pkg/audio/demux"
	"github.com/musicthing/musicthing/pkg/audio/resample"
)

const (
	// Upper bound on queued samples; a single decode burst never comes close
	ringLimit = 1 << 20

	ringInitialFrames = 16384
)

// renderer owns the reader, decoder and ring of one stream. Everything except
// the atomic flags is touched only from the host's audio thread.
type renderer struct {
	reader    demux.FormatReader
	decoder   decode.Decoder
	track     audio.Track
	pos       *Position
	ring      *sampleRing
	resampler *resample.Resampler
	channels  int

	// Position value this renderer last wrote
	expected audio.Timestamp

	// Decoded frames before this timestamp are dropped after a seek
	trimUntil audio.Timestamp

	// Packet to decode again after a decoder reset
	pending *audio.Packet

	exhausted bool
	failed    atomic.Bool
	ended     atomic.Bool

	report func(error)

	resampled []float32
	remapped  []float32
}

func newRenderer(reader demux.FormatReader, decoder decode.Decoder, track audio.Track, pos *Position, channels int, report func(error)) *renderer {
	return &renderer{
		reader:   reader,
		decoder:  decoder,
		track:    track,
		pos:      pos,
		ring:     newSampleRing(ringInitialFrames*channels, ringLimit),
		channels: channels,
		expected: pos.Load(),
		report:   report,
	}
}

// setResampler installs or removes the rate conversion stage. Only call while
// no stream is driving the renderer.
func (r *renderer) setResampler(inputRate, outputRate int) {
	if inputRate == outputRate || inputRate == 0 {
		r.resampler = nil
		return
	}
	r.resampler = resample.New(inputRate, outputRate, r.channels)
}

// Render fills out completely: decoded audio while any is available, zeros
// after end of stream or a fault.
func (r *renderer) Render(out []float32) {
	if r.failed.Load() {
		clear(out)
		return
	}

	defer func() {
		if v := recover(); v != nil {
			r.fail(audio.NewError(audio.KindRuntimeDecode, "render",
				fmt.Errorf("%w: panic: %v", audio.ErrRuntimeDecodeFault, v)))
			clear(out)
		}
	}()

	if err := r.fill(len(out)); err != nil {
		r.fail(err)
		clear(out)
		return
	}

	n := r.ring.Read(out)
	clear(out[n:])

	// A seek stored while the ring drained is serviced by the next fill
	if r.exhausted && r.ring.Len() == 0 && r.pos.Load() == r.expected {
		r.ended.Store(true)
	}
}

// fill decodes until the ring holds need samples or the stream is exhausted
func (r *renderer) fill(need int) error {
	// A seek stored since the last packet invalidates what is queued
	if !r.ended.Load() && r.pos.Load() != r.expected {
		if err := r.resync(); err != nil {
			return err
		}
	}

	for r.ring.Len() < need && !r.exhausted {
		if err := r.step(); err != nil {
			return err
		}
	}
	return nil
}

// step handles one packet
func (r *renderer) step() error {
	var pkt audio.Packet
	retry := r.pending != nil

	if retry {
		pkt = *r.pending
		r.pending = nil
	} else {
		var err error
		pkt, err = r.reader.NextPacket()
		if errors.Is(err, io.EOF) {
			r.exhausted = true
			return nil
		}
		if err != nil {
			return runtimeFault("read packet", err)
		}
	}

	if pkt.TrackID != r.track.ID {
		return nil
	}

	if !r.pos.CompareAndSwap(pkt.StartTS, pkt.EndTS()) {
		target := r.pos.Load()

		// Nobody stored a seek: the container's timestamps jumped
		if target != r.expected || !r.pos.CompareAndSwap(target, pkt.EndTS()) {
			return r.resync()
		}
	}
	r.expected = pkt.EndTS()

	samples, err := r.decoder.Decode(pkt)
	if errors.Is(err, decode.ErrResetRequired) {
		if retry {
			return runtimeFault("decode", fmt.Errorf("decoder requested a second reset at %d", pkt.StartTS))
		}

		// Roll back so the retried packet passes the position check again
		if r.pos.CompareAndSwap(pkt.EndTS(), pkt.StartTS) {
			r.expected = pkt.StartTS
		}
		r.decoder.Reset()
		r.pending = &pkt
		return nil
	}
	if err != nil {
		return runtimeFault("decode", err)
	}

	return r.queue(pkt, samples)
}

// resync follows a seek stored by the control side
func (r *renderer) resync() error {
	target := r.pos.Load()

	actual, err := r.reader.Seek(target)
	if err != nil {
		return runtimeFault("seek", err)
	}

	r.decoder.Reset()
	r.ring.Reset()
	if r.resampler != nil {
		r.resampler.Reset()
	}
	r.pending = nil
	r.exhausted = false
	r.trimUntil = target

	// A newer seek makes this swap fail; the next packet check catches it
	r.pos.CompareAndSwap(target, actual)
	r.expected = actual
	return nil
}

// queue trims decoded samples to the packet's valid range and the seek
// target, then appends them to the ring
func (r *renderer) queue(pkt audio.Packet, samples []float32) error {
	decCh := r.decoder.Params().Channels
	if decCh <= 0 {
		decCh = r.channels
	}

	frames := len(samples) / decCh
	first := min(max(pkt.TrimStart, 0), frames)
	last := max(frames-max(pkt.TrimEnd, 0), first)

	// Timestamp of the first kept frame
	ts := pkt.StartTS
	if skip := int(r.trimUntil - ts); skip > 0 {
		first = min(first+skip, last)
	}

	samples = samples[first*decCh : last*decCh]
	if len(samples) == 0 {
		return nil
	}

	if decCh != r.channels {
		samples = r.remap(samples, decCh)
	}
	if r.resampler != nil {
		r.resampled = r.resampler.Append(r.resampled[:0], samples)
		samples = r.resampled
	}

	if err := r.ring.Write(samples); err != nil {
		return runtimeFault("queue", err)
	}
	return nil
}

// remap converts interleaved samples from inCh channels to the stream's
// channel count, repeating the last source channel or dropping extras
func (r *renderer) remap(samples []float32, inCh int) []float32 {
	frames := len(samples) / inCh
	need := frames * r.channels
	if cap(r.remapped) < need {
		r.remapped = make([]float32, need)
	}
	out := r.remapped[:need]
	for f := 0; f < frames; f++ {
		for ch := 0; ch < r.channels; ch++ {
			out[f*r.channels+ch] = samples[f*inCh+min(ch, inCh-1)]
		}
	}
	return out
}

// fail reports err once; the renderer is silent afterwards
func (r *renderer) fail(err error) {
	if r.failed.CompareAndSwap(false, true) && r.report != nil {
		r.report(err)
	}
}

func runtimeFault(op string, err error) error {
	return audio.NewError(audio.KindRuntimeDecode, op, fmt.Errorf("%w: %w", audio.ErrRuntimeDecodeFault, err))
}
