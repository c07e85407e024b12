// ABOUTME: Tests for container probing
// ABOUTME: Verifies hint ordering, sniffing and probe error kinds
package demux

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/musicthing/musicthing/pkg/audio"
)

func TestHintFromPath(t *testing.T) {
	tests := []struct {
		path string
		ext  string
	}{
		{"/music/Song.WAV", "wav"},
		{"track.opus", "opus"},
		{"noext", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := HintFromPath(tt.path).Extension; got != tt.ext {
				t.Errorf("expected %q, got %q", tt.ext, got)
			}
		})
	}
}

func TestProbeSniffsRegardlessOfHint(t *testing.T) {
	data := makeWAV(wavFormatPCM, 44100, 2, 16, rampS16(10, 2))

	for _, ext := range []string{"wav", "mp3", ""} {
		t.Run("hint "+ext, func(t *testing.T) {
			reader, err := DefaultRegistry().Probe(bytes.NewReader(data), Hint{Extension: ext})
			if err != nil {
				t.Fatalf("probe failed: %v", err)
			}
			track, err := DefaultTrack(reader)
			if err != nil {
				t.Fatalf("no track: %v", err)
			}
			if track.Container != "wav" {
				t.Errorf("expected wav container, got %q", track.Container)
			}
		})
	}
}

func TestProbeUnsupportedFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"text", []byte("this is definitely not an audio file, just some text")},
		{"empty", nil},
		{"short", []byte("RI")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DefaultRegistry().Probe(bytes.NewReader(tt.data), Hint{Extension: "wav"})
			if !errors.Is(err, audio.ErrUnsupportedFormat) {
				t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
			}
			if !audio.IsKind(err, audio.KindProbe) {
				t.Error("expected probe error kind")
			}
		})
	}
}

func TestProbeRestoresOffsetForDemuxer(t *testing.T) {
	// Probing must hand the demuxer a source positioned at the start
	data := makeWAV(wavFormatPCM, 8000, 1, 16, rampS16(4, 1))
	src := bytes.NewReader(data)

	reader, err := DefaultRegistry().Probe(src, Hint{})
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	pkt, err := reader.NextPacket()
	if err != nil {
		t.Fatalf("next packet: %v", err)
	}
	if pkt.StartTS != 0 || pkt.Duration != 4 {
		t.Errorf("unexpected packet %d+%d", pkt.StartTS, pkt.Duration)
	}
}

type stubDemuxer struct {
	name   string
	opened *int
}

func (s stubDemuxer) Name() string             { return s.name }
func (s stubDemuxer) Extensions() []string     { return []string{"stub"} }
func (s stubDemuxer) Sniff(header []byte) bool { return len(header) > 0 && header[0] == 'S' }
func (s stubDemuxer) Open(io.ReadSeeker) (FormatReader, error) {
	*s.opened++
	return &unsupportedReader{}, nil
}

func TestRegistryRegisterReplaces(t *testing.T) {
	first, second := 0, 0
	r := NewRegistry()
	r.Register(stubDemuxer{name: "stub", opened: &first})
	r.Register(stubDemuxer{name: "stub", opened: &second})

	if _, err := r.Probe(bytes.NewReader([]byte("Stub data")), Hint{}); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if first != 0 || second != 1 {
		t.Errorf("expected replacement demuxer to open, got first=%d second=%d", first, second)
	}
}

func TestDefaultTrackNoAudio(t *testing.T) {
	_, err := DefaultTrack(&unsupportedReader{})
	if !errors.Is(err, audio.ErrNoAudioTrack) {
		t.Fatalf("expected ErrNoAudioTrack, got %v", err)
	}
	if !audio.IsKind(err, audio.KindTrack) {
		t.Error("expected track error kind")
	}
}

func TestMP3Sniff(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   bool
	}{
		{"id3", []byte("ID3\x04\x00"), true},
		{"mpeg1 layer3", []byte{0xFF, 0xFB, 0x90, 0x00}, true},
		{"adts aac", []byte{0xFF, 0xF1, 0x50, 0x80}, false},
		{"riff", []byte("RIFF"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (MP3{}).Sniff(tt.header); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
