// ABOUTME: Chooses an output stream configuration for a decoded track
// ABOUTME: Matches channel count and float32 format, preferring the track's rate
package playback

import (
	"errors"
	"fmt"

	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/musicthing/musicthing/pkg/audio/output"
)

// Negotiate picks a stream configuration from a device's supported configs.
// Only float32 configs with the track's channel count qualify. The track's
// own rate is used when a config covers it; otherwise the highest rate any
// qualifying config supports.
func Negotiate(configs []output.SupportedConfig, params audio.CodecParams) (output.StreamConfig, error) {
	var (
		found   bool
		maxRate int
	)

	for _, c := range configs {
		if c.Channels != params.Channels || c.Format != audio.SampleF32 {
			continue
		}
		if c.Contains(params.SampleRate) {
			return output.StreamConfig{
				Channels:   params.Channels,
				SampleRate: params.SampleRate,
				Format:     audio.SampleF32,
			}, nil
		}
		if !found || c.MaxSampleRate > maxRate {
			maxRate = c.MaxSampleRate
			found = true
		}
	}

	if !found {
		return output.StreamConfig{}, audio.NewError(audio.KindDevice, "negotiate",
			fmt.Errorf("%w: %d channels of %s", audio.ErrNoCompatibleConfig, params.Channels, audio.SampleF32))
	}

	return output.StreamConfig{
		Channels:   params.Channels,
		SampleRate: maxRate,
		Format:     audio.SampleF32,
	}, nil
}

// NegotiateDevice enumerates dev's configurations on host and negotiates
func NegotiateDevice(host output.Host, dev output.Device, params audio.CodecParams) (output.StreamConfig, error) {
	configs, err := host.SupportedConfigs(dev)
	if err != nil {
		var kinded *audio.Error
		if errors.As(err, &kinded) {
			return output.StreamConfig{}, err
		}
		return output.StreamConfig{}, audio.NewError(audio.KindDevice, "supported configs", err)
	}
	return Negotiate(configs, params)
}

// placeholderConfig picks a format for the silent stream kept open while idle
func placeholderConfig(configs []output.SupportedConfig) (output.StreamConfig, error) {
	var best *output.SupportedConfig
	for i := range configs {
		c := &configs[i]
		if c.Format != audio.SampleF32 {
			continue
		}
		if best == nil || (c.Channels == 2 && best.Channels != 2) {
			best = c
		}
	}
	if best == nil {
		return output.StreamConfig{}, audio.NewError(audio.KindDevice, "placeholder stream", audio.ErrNoCompatibleConfig)
	}

	rate := best.MaxSampleRate
	for _, preferred := range []int{48000, 44100} {
		if best.Contains(preferred) {
			rate = preferred
			break
		}
	}
	return output.StreamConfig{Channels: best.Channels, SampleRate: rate, Format: audio.SampleF32}, nil
}
