//go:build portaudio

// ABOUTME: PortAudio host implementation
// ABOUTME: Cross-platform device enumeration and callback streams using PortAudio
package output

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/rs/zerolog"
)

// Rates probed with IsFormatSupported
var standardRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000, 176400, 192000}

// PortAudio is a Host backed by PortAudio
type PortAudio struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closed bool
}

// NewPortAudio initializes PortAudio
func NewPortAudio(logger zerolog.Logger) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, audio.NewError(audio.KindDevice, "init portaudio", err)
	}
	return &PortAudio{logger: logger}, nil
}

// Name returns the backend name
func (p *PortAudio) Name() string {
	return "portaudio"
}

// Devices lists devices with at least one output channel
func (p *PortAudio) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, audio.NewError(audio.KindDevice, "devices", err)
	}

	def, _ := portaudio.DefaultOutputDevice()

	var devices []Device
	for _, info := range infos {
		if info.MaxOutputChannels == 0 {
			continue
		}
		name := info.Name
		if info.HostApi != nil {
			name = fmt.Sprintf("%s (%s)", info.Name, info.HostApi.Name)
		}
		devices = append(devices, Device{
			ID:      strconv.Itoa(info.Index),
			Name:    name,
			Default: def != nil && def.Index == info.Index,
			native:  info,
		})
	}
	return devices, nil
}

// DefaultDevice returns PortAudio's default output device
func (p *PortAudio) DefaultDevice() (Device, error) {
	devices, err := p.Devices()
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.Default {
			return d, nil
		}
	}
	if len(devices) == 0 {
		return Device{}, audio.NewError(audio.KindDevice, "default device", errors.New("no output devices"))
	}
	return devices[0], nil
}

// SupportedConfigs probes each channel count against the standard rates
func (p *PortAudio) SupportedConfigs(dev Device) ([]SupportedConfig, error) {
	info, ok := dev.native.(*portaudio.DeviceInfo)
	if !ok {
		return nil, audio.NewError(audio.KindDevice, "supported configs", fmt.Errorf("device %q does not belong to portaudio", dev.Name))
	}

	var configs []SupportedConfig
	for ch := 1; ch <= info.MaxOutputChannels; ch++ {
		for _, rate := range standardRates {
			params := portaudio.LowLatencyParameters(nil, info)
			params.Output.Channels = ch
			params.SampleRate = float64(rate)
			if err := portaudio.IsFormatSupported(params, func(out []float32) {}); err != nil {
				continue
			}
			configs = append(configs, SupportedConfig{
				Channels:      ch,
				MinSampleRate: rate,
				MaxSampleRate: rate,
				Format:        audio.SampleF32,
			})
		}
	}
	return configs, nil
}

// OpenStream opens a paused float32 stream on dev
func (p *PortAudio) OpenStream(dev Device, cfg StreamConfig, render Callback, onError func(error)) (Stream, error) {
	info, ok := dev.native.(*portaudio.DeviceInfo)
	if !ok {
		return nil, deviceError("open stream", fmt.Errorf("device %q does not belong to portaudio", dev.Name))
	}
	if cfg.Format != audio.SampleF32 {
		return nil, deviceError("open stream", fmt.Errorf("unsupported stream format %s", cfg.Format))
	}

	params := portaudio.LowLatencyParameters(nil, info)
	params.Output.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.BufferFrames

	stream, err := portaudio.OpenStream(params, func(out []float32) {
		render(out)
	})
	if err != nil {
		return nil, deviceError("open stream", err)
	}

	p.logger.Info().
		Str("device", dev.Name).
		Int("rate", cfg.SampleRate).
		Int("channels", cfg.Channels).
		Msg("Stream opened")

	return &portAudioStream{stream: stream}, nil
}

// Close terminates PortAudio
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return portaudio.Terminate()
}

type portAudioStream struct {
	stream  *portaudio.Stream
	mu      sync.Mutex
	running bool
	closed  bool
}

func (s *portAudioStream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("stream closed")
	}
	if s.running {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return audio.NewError(audio.KindDevice, "play", err)
	}
	s.running = true
	return nil
}

func (s *portAudioStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running {
		return nil
	}
	s.running = false
	if err := s.stream.Stop(); err != nil {
		return audio.NewError(audio.KindDevice, "pause", err)
	}
	return nil
}

// Close aborts the stream; Pa_AbortStream returns once the callback has exited
func (s *portAudioStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.running {
		s.running = false
		if err := s.stream.Abort(); err != nil {
			return err
		}
	}
	return s.stream.Close()
}
