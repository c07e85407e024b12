// ABOUTME: Test doubles for the playback package
// ABOUTME: In-memory host and stream, scripted reader and decoder, WAV fixtures
package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/musicthing/musicthing/pkg/audio/decode"
	"github.com/musicthing/musicthing/pkg/audio/demux"
	"github.com/musicthing/musicthing/pkg/audio/output"
)

// frameValue is the sample every fixture stores for frame ts
func frameValue(ts audio.Timestamp) float32 {
	return float32(ts+1) / 1e6
}

// fakeStream lets tests pull audio the way a host's audio thread would
type fakeStream struct {
	mu      sync.Mutex
	dev     output.Device
	cfg     output.StreamConfig
	render  output.Callback
	onError func(error)
	playing bool
	closed  bool
	pauses  int
}

func (s *fakeStream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.playing = true
	return nil
}

func (s *fakeStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.playing = false
	s.pauses++
	return nil
}

// Close holds the lock pull renders under, so no render runs after it returns
func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.playing = false
	return nil
}

// pull runs the callback for frames frames. It returns nil once the stream
// is closed.
func (s *fakeStream) pull(frames int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	out := make([]float32, frames*s.cfg.Channels)
	for i := range out {
		out[i] = -1
	}
	s.render(out)
	return out
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) pauseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauses
}

type fakeHost struct {
	mu      sync.Mutex
	devices []output.Device
	configs map[string][]output.SupportedConfig
	streams []*fakeStream
}

func stereoConfigs(minRate, maxRate int) []output.SupportedConfig {
	return []output.SupportedConfig{
		{Channels: 1, MinSampleRate: minRate, MaxSampleRate: maxRate, Format: audio.SampleF32},
		{Channels: 2, MinSampleRate: minRate, MaxSampleRate: maxRate, Format: audio.SampleF32},
	}
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		devices: []output.Device{
			{ID: "dev1", Name: "Speakers", Default: true},
			{ID: "dev2", Name: "Headphones"},
		},
		configs: map[string][]output.SupportedConfig{
			"dev1": stereoConfigs(8000, 192000),
			"dev2": stereoConfigs(8000, 192000),
		},
	}
}

func (h *fakeHost) Name() string { return "fake" }

func (h *fakeHost) Devices() ([]output.Device, error) {
	return h.devices, nil
}

func (h *fakeHost) DefaultDevice() (output.Device, error) {
	return h.devices[0], nil
}

func (h *fakeHost) SupportedConfigs(dev output.Device) ([]output.SupportedConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	configs, ok := h.configs[dev.ID]
	if !ok {
		return nil, fmt.Errorf("unknown device %q", dev.ID)
	}
	return configs, nil
}

func (h *fakeHost) OpenStream(dev output.Device, cfg output.StreamConfig, render output.Callback, onError func(error)) (output.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &fakeStream{dev: dev, cfg: cfg, render: render, onError: onError}
	h.streams = append(h.streams, s)
	return s, nil
}

func (h *fakeHost) Close() error { return nil }

// last returns the most recently opened stream
func (h *fakeHost) last() *fakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[len(h.streams)-1]
}

// open returns the streams that are not closed
func (h *fakeHost) open() []*fakeStream {
	h.mu.Lock()
	streams := append([]*fakeStream(nil), h.streams...)
	h.mu.Unlock()

	var live []*fakeStream
	for _, s := range streams {
		if !s.isClosed() {
			live = append(live, s)
		}
	}
	return live
}

// scriptedReader yields fixed-size packets covering [0, total)
type scriptedReader struct {
	tracks       []audio.Track
	packetFrames int
	total        audio.Timestamp
	next         audio.Timestamp
	seeks        []audio.Timestamp
	trim         func(pkt *audio.Packet)
	onNext       func(next audio.Timestamp)
	closed       bool
}

func newScriptedReader(total audio.Timestamp, packetFrames, channels int) *scriptedReader {
	return &scriptedReader{
		tracks: []audio.Track{{
			ID: 1,
			Params: audio.CodecParams{
				Codec:        audio.CodecPCMF32LE,
				SampleRate:   44100,
				Channels:     channels,
				SampleFormat: audio.SampleF32,
				NumFrames:    total,
				TimeBase:     audio.NewTimeBase(44100),
			},
		}},
		packetFrames: packetFrames,
		total:        total,
	}
}

func (r *scriptedReader) Tracks() []audio.Track { return r.tracks }

func (r *scriptedReader) NextPacket() (audio.Packet, error) {
	if r.onNext != nil {
		r.onNext(r.next)
	}
	if r.next >= r.total {
		return audio.Packet{}, io.EOF
	}
	dur := min(audio.Timestamp(r.packetFrames), r.total-r.next)
	pkt := audio.Packet{TrackID: 1, StartTS: r.next, Duration: dur}
	if r.trim != nil {
		r.trim(&pkt)
	}
	r.next += dur
	return pkt, nil
}

func (r *scriptedReader) Seek(ts audio.Timestamp) (audio.Timestamp, error) {
	r.seeks = append(r.seeks, ts)
	ts = max(0, min(ts, r.total))
	r.next = ts - ts%audio.Timestamp(r.packetFrames)
	return r.next, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

// scriptedDecoder emits frameValue samples and fails on request
type scriptedDecoder struct {
	channels int
	resets   int
	resetAt  map[audio.Timestamp]int
	failAt   audio.Timestamp
	panicAt  audio.Timestamp
	closed   bool
	out      []float32
}

func newScriptedDecoder(channels int) *scriptedDecoder {
	return &scriptedDecoder{
		channels: channels,
		resetAt:  make(map[audio.Timestamp]int),
		failAt:   -1,
		panicAt:  -1,
	}
}

func (d *scriptedDecoder) Decode(pkt audio.Packet) ([]float32, error) {
	if n := d.resetAt[pkt.StartTS]; n > 0 {
		d.resetAt[pkt.StartTS] = n - 1
		return nil, decode.ErrResetRequired
	}
	if pkt.StartTS == d.failAt {
		return nil, errors.New("corrupt packet")
	}
	if pkt.StartTS == d.panicAt {
		panic("decoder blew up")
	}

	frames := int(pkt.Duration) + pkt.TrimStart + pkt.TrimEnd
	d.out = d.out[:0]
	for i := 0; i < frames; i++ {
		v := float32(-1)
		if i >= pkt.TrimStart && i < pkt.TrimStart+int(pkt.Duration) {
			v = frameValue(pkt.StartTS + audio.Timestamp(i-pkt.TrimStart))
		}
		for ch := 0; ch < d.channels; ch++ {
			d.out = append(d.out, v)
		}
	}
	return d.out, nil
}

func (d *scriptedDecoder) Reset() { d.resets++ }

func (d *scriptedDecoder) Params() audio.CodecParams {
	return audio.CodecParams{Codec: audio.CodecPCMF32LE, SampleRate: 44100, Channels: d.channels, SampleFormat: audio.SampleF32}
}

func (d *scriptedDecoder) Close() error {
	d.closed = true
	return nil
}

// stubDemuxer hands out a prepared reader for sources starting with "STUB"
type stubDemuxer struct {
	reader *scriptedReader
}

func (s stubDemuxer) Name() string         { return "stub" }
func (s stubDemuxer) Extensions() []string { return []string{"stub"} }
func (s stubDemuxer) Sniff(header []byte) bool {
	return bytes.HasPrefix(header, []byte("STUB"))
}
func (s stubDemuxer) Open(src io.ReadSeeker) (demux.FormatReader, error) {
	return s.reader, nil
}

// f32WAV builds a float WAV file whose frame i holds frameValue(i)
func f32WAV(frames, channels, sampleRate int) []byte {
	data := make([]byte, frames*channels*4)
	for i := 0; i < frames; i++ {
		bits := math.Float32bits(frameValue(audio.Timestamp(i)))
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint32(data[(i*channels+ch)*4:], bits)
		}
	}

	buf := new(bytes.Buffer)
	blockAlign := uint16(channels * 4)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(3))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate)*uint32(blockAlign))
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(32))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

// eventually polls cond until it holds or a second passes
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
