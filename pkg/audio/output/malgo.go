// ABOUTME: Malgo-based audio host with device enumeration and callback streams
// ABOUTME: Uses miniaudio via malgo, rendering float32 frames on its audio thread
package output

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/rs/zerolog"
)

const (
	malgoMinRate = 8000
	malgoMaxRate = 384000

	// Channel counts advertised when a backend reports no native formats
	malgoMaxChannels = 8
)

// Malgo is a Host backed by miniaudio
type Malgo struct {
	logger   zerolog.Logger
	malgoCtx *malgo.AllocatedContext
	mu       sync.Mutex
}

// NewMalgo initializes a miniaudio context
func NewMalgo(logger zerolog.Logger) (*Malgo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug().Str("source", "miniaudio").Msg(message)
	})
	if err != nil {
		return nil, audio.NewError(audio.KindDevice, "init malgo context", err)
	}

	return &Malgo{
		logger:   logger,
		malgoCtx: ctx,
	}, nil
}

// Name returns the backend name
func (m *Malgo) Name() string {
	return "malgo"
}

// Devices lists playback devices
func (m *Malgo) Devices() ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		return nil, audio.NewError(audio.KindDevice, "devices", errors.New("host closed"))
	}

	infos, err := m.malgoCtx.Devices(malgo.Playback)
	if err != nil {
		return nil, audio.NewError(audio.KindDevice, "devices", err)
	}

	devices := make([]Device, 0, len(infos))
	for i := range infos {
		info := infos[i]
		devices = append(devices, Device{
			ID:      hex.EncodeToString(info.ID[:]),
			Name:    info.Name(),
			Default: info.IsDefault != 0,
			native:  info.ID,
		})
	}
	return devices, nil
}

// DefaultDevice returns the device the backend marks as default, or the first
func (m *Malgo) DefaultDevice() (Device, error) {
	devices, err := m.Devices()
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, audio.NewError(audio.KindDevice, "default device", errors.New("no playback devices"))
	}
	for _, d := range devices {
		if d.Default {
			return d, nil
		}
	}
	return devices[0], nil
}

// SupportedConfigs reports the device's native formats. miniaudio converts
// float32 to any native format, so every native entry is also offered as F32.
func (m *Malgo) SupportedConfigs(dev Device) ([]SupportedConfig, error) {
	id, ok := dev.native.(malgo.DeviceID)
	if !ok {
		return nil, audio.NewError(audio.KindDevice, "supported configs", fmt.Errorf("device %q does not belong to malgo", dev.Name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		return nil, audio.NewError(audio.KindDevice, "supported configs", errors.New("host closed"))
	}

	info, err := m.malgoCtx.DeviceInfo(malgo.Playback, id, malgo.Shared)
	if err != nil {
		return nil, audio.NewError(audio.KindDevice, "device info", err)
	}

	var configs []SupportedConfig
	seen := make(map[SupportedConfig]bool)
	add := func(c SupportedConfig) {
		if !seen[c] {
			seen[c] = true
			configs = append(configs, c)
		}
	}

	count := int(info.FormatCount)
	if count > len(info.Formats) {
		count = len(info.Formats)
	}
	for _, f := range info.Formats[:count] {
		minRate, maxRate := int(f.SampleRate), int(f.SampleRate)
		if f.SampleRate == 0 {
			minRate, maxRate = malgoMinRate, malgoMaxRate
		}

		channels := []int{int(f.Channels)}
		if f.Channels == 0 {
			channels = channelRange(malgoMaxChannels)
		}

		for _, ch := range channels {
			if native := sampleFormat(f.Format); native != audio.SampleUnknown && native != audio.SampleF32 {
				add(SupportedConfig{Channels: ch, MinSampleRate: minRate, MaxSampleRate: maxRate, Format: native})
			}
			add(SupportedConfig{Channels: ch, MinSampleRate: minRate, MaxSampleRate: maxRate, Format: audio.SampleF32})
		}
	}

	if len(configs) == 0 {
		for _, ch := range channelRange(malgoMaxChannels) {
			add(SupportedConfig{Channels: ch, MinSampleRate: malgoMinRate, MaxSampleRate: malgoMaxRate, Format: audio.SampleF32})
		}
	}

	return configs, nil
}

// OpenStream initializes a paused float32 playback stream on dev
func (m *Malgo) OpenStream(dev Device, cfg StreamConfig, render Callback, onError func(error)) (Stream, error) {
	if cfg.Format != audio.SampleF32 {
		return nil, deviceError("open stream", fmt.Errorf("unsupported stream format %s", cfg.Format))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		return nil, deviceError("open stream", errors.New("host closed"))
	}

	s := &malgoStream{
		render:  render,
		onError: onError,
		scratch: make([]float32, max(cfg.BufferFrames, 1024)*cfg.Channels),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.BufferFrames)
	deviceConfig.Alsa.NoMMap = 1

	if id, ok := dev.native.(malgo.DeviceID); ok {
		s.id = id
		deviceConfig.Playback.DeviceID = s.id.Pointer()
	}

	s.channels = cfg.Channels

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			s.dataCallback(pOutputSample, frameCount)
		},
		Stop: s.stopCallback,
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, deviceError("open stream", err)
	}
	s.device = device

	m.logger.Info().
		Str("device", dev.Name).
		Int("rate", cfg.SampleRate).
		Int("channels", cfg.Channels).
		Int("period", cfg.BufferFrames).
		Msg("Stream opened")

	return s, nil
}

// Close releases the miniaudio context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		return nil
	}
	if err := m.malgoCtx.Uninit(); err != nil {
		m.logger.Warn().Err(err).Msg("malgo context uninit error")
	}
	m.malgoCtx.Free()
	m.malgoCtx = nil
	return nil
}

type malgoStream struct {
	device   *malgo.Device
	id       malgo.DeviceID
	channels int
	render   Callback
	onError  func(error)
	scratch  []float32

	// Set while Pause or Close stop the device, so the stop callback can tell a
	// requested stop from a lost device
	stopping atomic.Bool
	closed   atomic.Bool
}

func (s *malgoStream) dataCallback(out []byte, frameCount uint32) {
	n := int(frameCount) * s.channels
	if n > len(s.scratch) {
		// Backends may deliver periods larger than requested
		s.scratch = make([]float32, n)
	}
	samples := s.scratch[:n]
	s.render(samples)
	encodeF32(out, samples)
}

func (s *malgoStream) stopCallback() {
	if s.stopping.Load() || s.closed.Load() {
		return
	}
	if s.onError != nil {
		s.onError(audio.NewError(audio.KindDevice, "stream", audio.ErrDeviceLost))
	}
}

func (s *malgoStream) Play() error {
	if s.closed.Load() {
		return errors.New("stream closed")
	}
	s.stopping.Store(false)
	if err := s.device.Start(); err != nil {
		return audio.NewError(audio.KindDevice, "play", err)
	}
	return nil
}

func (s *malgoStream) Pause() error {
	if s.closed.Load() {
		return errors.New("stream closed")
	}
	s.stopping.Store(true)
	if err := s.device.Stop(); err != nil {
		return audio.NewError(audio.KindDevice, "pause", err)
	}
	return nil
}

// Close stops and uninitializes the device. ma_device_uninit waits for the
// audio thread, so no callback runs after it returns.
func (s *malgoStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.stopping.Store(true)
	s.device.Uninit()
	return nil
}

// sampleFormat maps a miniaudio format to ours
func sampleFormat(f malgo.FormatType) audio.SampleFormat {
	switch f {
	case malgo.FormatU8:
		return audio.SampleU8
	case malgo.FormatS16:
		return audio.SampleS16
	case malgo.FormatS24:
		return audio.SampleS24
	case malgo.FormatS32:
		return audio.SampleS32
	case malgo.FormatF32:
		return audio.SampleF32
	default:
		return audio.SampleUnknown
	}
}

func channelRange(n int) []int {
	channels := make([]int, n)
	for i := range channels {
		channels[i] = i + 1
	}
	return channels
}
