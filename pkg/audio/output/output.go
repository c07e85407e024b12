// ABOUTME: Audio host and stream interfaces shared by all backends
// ABOUTME: Describes devices, supported configurations and callback-driven streams
package output

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/rs/zerolog"
)

// Device identifies one playback endpoint of a host
type Device struct {
	ID      string
	Name    string
	Default bool

	native any
}

// String returns the device name for display
func (d Device) String() string {
	if d.Default {
		return d.Name + " (default)"
	}
	return d.Name
}

// IsZero reports whether d is the zero device
func (d Device) IsZero() bool {
	return d.ID == "" && d.Name == ""
}

// SupportedConfig is one channel count / sample format a device accepts over a
// contiguous range of sample rates
type SupportedConfig struct {
	Channels      int
	MinSampleRate int
	MaxSampleRate int
	Format        audio.SampleFormat
}

// Contains reports whether rate lies within the config's range
func (c SupportedConfig) Contains(rate int) bool {
	return rate >= c.MinSampleRate && rate <= c.MaxSampleRate
}

func (c SupportedConfig) String() string {
	if c.MinSampleRate == c.MaxSampleRate {
		return fmt.Sprintf("%dch %s %dHz", c.Channels, c.Format, c.MinSampleRate)
	}
	return fmt.Sprintf("%dch %s %d-%dHz", c.Channels, c.Format, c.MinSampleRate, c.MaxSampleRate)
}

// StreamConfig is the concrete format a stream is opened with
type StreamConfig struct {
	Channels     int
	SampleRate   int
	Format       audio.SampleFormat
	BufferFrames int
}

// Callback fills out with interleaved samples. It runs on the host's audio
// thread and must write every element of out.
type Callback func(out []float32)

// Stream is an open playback stream
type Stream interface {
	// Play starts or resumes invoking the callback
	Play() error

	// Pause stops invoking the callback without releasing the stream
	Pause() error

	// Close releases the stream. The callback is never invoked after Close
	// returns.
	Close() error
}

// Host is an audio backend able to enumerate devices and open streams
type Host interface {
	Name() string
	Devices() ([]Device, error)
	DefaultDevice() (Device, error)
	SupportedConfigs(dev Device) ([]SupportedConfig, error)

	// OpenStream opens a paused stream on dev. onError receives asynchronous
	// failures such as the device disappearing.
	OpenStream(dev Device, cfg StreamConfig, render Callback, onError func(error)) (Stream, error)

	Close() error
}

// HostNames lists the backends NewHost accepts
func HostNames() []string {
	return []string{"malgo", "oto", "portaudio"}
}

// NewHost creates the named backend
func NewHost(name string, logger zerolog.Logger) (Host, error) {
	logger = logger.With().Str("host", name).Logger()

	switch strings.ToLower(name) {
	case "", "malgo":
		host, err := NewMalgo(logger)
		if err != nil {
			return nil, err
		}
		return host, nil
	case "oto":
		return NewOto(logger), nil
	case "portaudio":
		host, err := NewPortAudio(logger)
		if err != nil {
			return nil, err
		}
		return host, nil
	default:
		return nil, fmt.Errorf("unknown audio host %q (available: %s)", name, strings.Join(HostNames(), ", "))
	}
}

// FindDevice returns the first device of host whose ID equals query or whose
// name contains it, case-insensitively. An empty query selects the default.
func FindDevice(host Host, query string) (Device, error) {
	if query == "" {
		return host.DefaultDevice()
	}

	devices, err := host.Devices()
	if err != nil {
		return Device{}, err
	}

	for _, d := range devices {
		if d.ID == query {
			return d, nil
		}
	}
	q := strings.ToLower(query)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), q) {
			return d, nil
		}
	}
	return Device{}, audio.NewError(audio.KindDevice, "find device", fmt.Errorf("no device matches %q", query))
}

// encodeF32 writes samples as little-endian float32 bytes into dst
func encodeF32(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}

// deviceError wraps a stream construction failure
func deviceError(op string, err error) error {
	return audio.NewError(audio.KindDevice, op, fmt.Errorf("%w: %v", audio.ErrDeviceBuild, err))
}
