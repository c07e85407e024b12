// ABOUTME: Tests for stream configuration negotiation
// ABOUTME: Covers rate preference, fallback to the maximum rate and failures
package playback

import (
	"errors"
	"testing"

	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/musicthing/musicthing/pkg/audio/output"
)

func trackParams(rate, channels int) audio.CodecParams {
	return audio.CodecParams{
		Codec:        audio.CodecPCMS16LE,
		SampleRate:   rate,
		Channels:     channels,
		SampleFormat: audio.SampleS16,
	}
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name     string
		configs  []output.SupportedConfig
		params   audio.CodecParams
		wantRate int
		wantErr  error
	}{
		{
			name:     "track rate in range",
			configs:  stereoConfigs(8000, 192000),
			params:   trackParams(44100, 2),
			wantRate: 44100,
		},
		{
			name: "48k only device falls back to its maximum rate",
			configs: []output.SupportedConfig{
				{Channels: 2, MinSampleRate: 44100, MaxSampleRate: 44100, Format: audio.SampleS16},
				{Channels: 2, MinSampleRate: 48000, MaxSampleRate: 48000, Format: audio.SampleF32},
			},
			params:   trackParams(44100, 2),
			wantRate: 48000,
		},
		{
			name: "highest rate among matching configs",
			configs: []output.SupportedConfig{
				{Channels: 2, MinSampleRate: 8000, MaxSampleRate: 32000, Format: audio.SampleF32},
				{Channels: 2, MinSampleRate: 88200, MaxSampleRate: 96000, Format: audio.SampleF32},
				{Channels: 1, MinSampleRate: 8000, MaxSampleRate: 192000, Format: audio.SampleF32},
			},
			params:   trackParams(44100, 2),
			wantRate: 96000,
		},
		{
			name: "exact match wins over a higher rate",
			configs: []output.SupportedConfig{
				{Channels: 2, MinSampleRate: 96000, MaxSampleRate: 96000, Format: audio.SampleF32},
				{Channels: 2, MinSampleRate: 44100, MaxSampleRate: 44100, Format: audio.SampleF32},
			},
			params:   trackParams(44100, 2),
			wantRate: 44100,
		},
		{
			name:    "no config with the track's channel count",
			configs: stereoConfigs(8000, 192000),
			params:  trackParams(44100, 3),
			wantErr: audio.ErrNoCompatibleConfig,
		},
		{
			name: "no float config",
			configs: []output.SupportedConfig{
				{Channels: 2, MinSampleRate: 8000, MaxSampleRate: 192000, Format: audio.SampleS16},
			},
			params:  trackParams(44100, 2),
			wantErr: audio.ErrNoCompatibleConfig,
		},
		{
			name:    "empty device",
			params:  trackParams(44100, 2),
			wantErr: audio.ErrNoCompatibleConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Negotiate(tt.configs, tt.params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if !audio.IsKind(err, audio.KindDevice) {
					t.Errorf("expected device error kind, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Channels != tt.params.Channels {
				t.Errorf("expected %d channels, got %d", tt.params.Channels, cfg.Channels)
			}
			if cfg.Format != audio.SampleF32 {
				t.Errorf("expected f32, got %s", cfg.Format)
			}
			if cfg.SampleRate != tt.wantRate {
				t.Errorf("expected %d Hz, got %d", tt.wantRate, cfg.SampleRate)
			}
		})
	}
}

func TestNegotiateDevice(t *testing.T) {
	host := newFakeHost()
	host.configs["dev1"] = []output.SupportedConfig{
		{Channels: 2, MinSampleRate: 48000, MaxSampleRate: 48000, Format: audio.SampleF32},
	}

	cfg, err := NegotiateDevice(host, host.devices[0], trackParams(44100, 2))
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("expected 48000, got %d", cfg.SampleRate)
	}

	_, err = NegotiateDevice(host, output.Device{ID: "missing"}, trackParams(44100, 2))
	if !audio.IsKind(err, audio.KindDevice) {
		t.Errorf("expected device error, got %v", err)
	}
}

func TestPlaceholderConfig(t *testing.T) {
	cfg, err := placeholderConfig(stereoConfigs(8000, 192000))
	if err != nil {
		t.Fatalf("placeholder: %v", err)
	}
	if cfg.Channels != 2 || cfg.SampleRate != 48000 {
		t.Errorf("expected 2ch 48000, got %+v", cfg)
	}

	cfg, err = placeholderConfig([]output.SupportedConfig{
		{Channels: 1, MinSampleRate: 22050, MaxSampleRate: 22050, Format: audio.SampleF32},
	})
	if err != nil {
		t.Fatalf("placeholder: %v", err)
	}
	if cfg.Channels != 1 || cfg.SampleRate != 22050 {
		t.Errorf("expected 1ch 22050, got %+v", cfg)
	}

	if _, err := placeholderConfig(nil); !errors.Is(err, audio.ErrNoCompatibleConfig) {
		t.Errorf("expected ErrNoCompatibleConfig, got %v", err)
	}
}
