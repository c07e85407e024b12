//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package output

import (
	"errors"

	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/rs/zerolog"
)

var errPortAudioDisabled = errors.New("PortAudio support not enabled (build with -tags portaudio)")

// PortAudio host (stub)
type PortAudio struct{}

// NewPortAudio always fails without the portaudio build tag
func NewPortAudio(logger zerolog.Logger) (*PortAudio, error) {
	return nil, audio.NewError(audio.KindDevice, "init portaudio", errPortAudioDisabled)
}

func (p *PortAudio) Name() string { return "portaudio" }

func (p *PortAudio) Devices() ([]Device, error) { return nil, errPortAudioDisabled }

func (p *PortAudio) DefaultDevice() (Device, error) { return Device{}, errPortAudioDisabled }

func (p *PortAudio) SupportedConfigs(dev Device) ([]SupportedConfig, error) {
	return nil, errPortAudioDisabled
}

func (p *PortAudio) OpenStream(dev Device, cfg StreamConfig, render Callback, onError func(error)) (Stream, error) {
	return nil, errPortAudioDisabled
}

func (p *PortAudio) Close() error { return nil }
