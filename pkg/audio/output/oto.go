// ABOUTME: Oto-based audio host exposing a single default device
// ABOUTME: Adapts the render callback to oto's pull-based io.Reader player
package output

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/rs/zerolog"
)

const (
	otoDeviceID = "default"
	otoMinRate  = 8000
	otoMaxRate  = 192000
	otoChannels = 2
)

// Oto is a Host backed by the oto library. oto allows one context per
// process, so the first stream fixes the rate and channel count. The context
// is opened with otoChannels so later mono streams can still be played.
type Oto struct {
	logger     zerolog.Logger
	mu         sync.Mutex
	otoCtx     *oto.Context
	sampleRate int
	channels   int
}

// NewOto creates an Oto host. The oto context is created lazily by the first
// OpenStream.
func NewOto(logger zerolog.Logger) *Oto {
	return &Oto{logger: logger}
}

// Name returns the backend name
func (o *Oto) Name() string {
	return "oto"
}

// Devices returns the single system default device
func (o *Oto) Devices() ([]Device, error) {
	d, _ := o.DefaultDevice()
	return []Device{d}, nil
}

// DefaultDevice returns the system default device
func (o *Oto) DefaultDevice() (Device, error) {
	return Device{ID: otoDeviceID, Name: "System default", Default: true}, nil
}

// SupportedConfigs reports mono and stereo float32 output. Once a context
// exists its rate is fixed; narrower streams are upmixed to its channels.
func (o *Oto) SupportedConfigs(dev Device) ([]SupportedConfig, error) {
	if dev.ID != otoDeviceID {
		return nil, audio.NewError(audio.KindDevice, "supported configs", fmt.Errorf("unknown device %q", dev.ID))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil {
		return fixedConfigs(o.sampleRate, o.channels), nil
	}

	return []SupportedConfig{
		{Channels: 1, MinSampleRate: otoMinRate, MaxSampleRate: otoMaxRate, Format: audio.SampleF32},
		{Channels: 2, MinSampleRate: otoMinRate, MaxSampleRate: otoMaxRate, Format: audio.SampleF32},
	}, nil
}

// fixedConfigs lists what an existing context can still play
func fixedConfigs(rate, channels int) []SupportedConfig {
	configs := make([]SupportedConfig, 0, channels)
	for ch := 1; ch <= channels; ch++ {
		configs = append(configs, SupportedConfig{
			Channels:      ch,
			MinSampleRate: rate,
			MaxSampleRate: rate,
			Format:        audio.SampleF32,
		})
	}
	return configs
}

// OpenStream creates a paused player that pulls from render
func (o *Oto) OpenStream(dev Device, cfg StreamConfig, render Callback, onError func(error)) (Stream, error) {
	if dev.ID != otoDeviceID {
		return nil, deviceError("open stream", fmt.Errorf("unknown device %q", dev.ID))
	}
	if cfg.Format != audio.SampleF32 {
		return nil, deviceError("open stream", fmt.Errorf("unsupported stream format %s", cfg.Format))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx == nil {
		channels := max(cfg.Channels, otoChannels)
		op := &oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
		}
		if cfg.BufferFrames > 0 && cfg.SampleRate > 0 {
			op.BufferSize = time.Duration(cfg.BufferFrames) * time.Second / time.Duration(cfg.SampleRate)
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return nil, deviceError("open stream", err)
		}
		<-readyChan

		o.otoCtx = ctx
		o.sampleRate = cfg.SampleRate
		o.channels = channels

		o.logger.Info().
			Int("rate", cfg.SampleRate).
			Int("channels", channels).
			Msg("Oto context initialized")
	} else if cfg.SampleRate != o.sampleRate || cfg.Channels > o.channels {
		return nil, deviceError("open stream", fmt.Errorf(
			"oto context is fixed at %dHz/%dch, cannot open %dHz/%dch",
			o.sampleRate, o.channels, cfg.SampleRate, cfg.Channels))
	}

	r := &renderReader{render: render, channels: cfg.Channels, outChannels: o.channels}
	player := o.otoCtx.NewPlayer(r)
	if cfg.BufferFrames > 0 {
		player.SetBufferSize(cfg.BufferFrames * o.channels * 4)
	}

	return &otoStream{player: player, reader: r, ctx: o.otoCtx, onError: onError}, nil
}

// Close suspends the shared context. oto cannot release it.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil {
		return o.otoCtx.Suspend()
	}
	return nil
}

// renderReader turns the render callback into the io.Reader oto pulls from.
// Frames of channels samples are widened to outChannels by repeating the
// last channel.
type renderReader struct {
	render      Callback
	channels    int
	outChannels int
	scratch     []float32
	wide        []float32

	closed   atomic.Bool
	inFlight sync.WaitGroup
	mu       sync.Mutex
}

func (r *renderReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		return 0, io.EOF
	}
	r.inFlight.Add(1)
	r.mu.Unlock()
	defer r.inFlight.Done()

	outCh := max(r.outChannels, r.channels)

	// Whole frames only
	frameBytes := 4 * outCh
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}

	samples := frames * r.channels
	if cap(r.scratch) < samples {
		r.scratch = make([]float32, samples)
	}
	buf := r.scratch[:samples]
	r.render(buf)

	if outCh != r.channels {
		if cap(r.wide) < frames*outCh {
			r.wide = make([]float32, frames*outCh)
		}
		wide := r.wide[:frames*outCh]
		for f := 0; f < frames; f++ {
			for ch := 0; ch < outCh; ch++ {
				wide[f*outCh+ch] = buf[f*r.channels+min(ch, r.channels-1)]
			}
		}
		buf = wide
	}

	encodeF32(p, buf)
	return frames * frameBytes, nil
}

// close blocks until no Read is running and makes later Reads return EOF
func (r *renderReader) close() {
	r.mu.Lock()
	r.closed.Store(true)
	r.mu.Unlock()
	r.inFlight.Wait()
}

type otoStream struct {
	player  *oto.Player
	reader  *renderReader
	ctx     *oto.Context
	onError func(error)
	once    sync.Once
}

func (s *otoStream) Play() error {
	if s.reader.closed.Load() {
		return errors.New("stream closed")
	}
	if err := s.ctx.Err(); err != nil {
		if s.onError != nil {
			s.onError(audio.NewError(audio.KindDevice, "stream", fmt.Errorf("%w: %v", audio.ErrDeviceLost, err)))
		}
		return audio.NewError(audio.KindDevice, "play", err)
	}
	s.player.Play()
	return nil
}

func (s *otoStream) Pause() error {
	if s.reader.closed.Load() {
		return errors.New("stream closed")
	}
	s.player.Pause()
	return nil
}

func (s *otoStream) Close() error {
	var err error
	s.once.Do(func() {
		s.reader.close()
		s.player.Pause()
		err = s.player.Close()
	})
	return err
}
