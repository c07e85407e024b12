// ABOUTME: Container probing and the FormatReader interface
// ABOUTME: Registry chooses a demuxer by extension hint and content sniffing
package demux

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/musicthing/musicthing/pkg/audio"
)

// sniffLen is how many leading bytes demuxers get to recognize their container
const sniffLen = 64

// FormatReader reads timestamped packets from a container
type FormatReader interface {
	// Tracks lists the audio tracks; it may be empty
	Tracks() []audio.Track

	// NextPacket returns the next packet, or io.EOF at end of stream.
	// Packet data is only valid until the next call.
	NextPacket() (audio.Packet, error)

	// Seek positions the reader so the next packet starts at or before ts
	// and returns that packet's start timestamp.
	Seek(ts audio.Timestamp) (audio.Timestamp, error)

	// Close releases reader resources; it does not close the source
	Close() error
}

// Hint narrows probing for sources whose type is already suspected
type Hint struct {
	Extension string
}

// HintFromPath derives a hint from a file name
func HintFromPath(path string) Hint {
	return Hint{Extension: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")}
}

// Demuxer recognizes and opens one container format
type Demuxer interface {
	Name() string
	Extensions() []string
	Sniff(header []byte) bool
	Open(src io.ReadSeeker) (FormatReader, error)
}

// Registry holds the known demuxers in probe order
type Registry struct {
	mu       sync.RWMutex
	demuxers []Demuxer
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a registry with every built-in container
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(WAV{})
	r.Register(AIFF{})
	r.Register(FLAC{})
	r.Register(Ogg{})
	r.Register(MP3{})
	return r
}

// Register adds d, replacing any demuxer with the same name
func (r *Registry) Register(d Demuxer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.demuxers {
		if existing.Name() == d.Name() {
			r.demuxers[i] = d
			return
		}
	}
	r.demuxers = append(r.demuxers, d)
}

// candidates orders demuxers so those matching the hint come first
func (r *Registry) candidates(hint Hint) []Demuxer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext := strings.TrimPrefix(strings.ToLower(hint.Extension), ".")
	var preferred, rest []Demuxer
	for _, d := range r.demuxers {
		if ext != "" && hasExtension(d, ext) {
			preferred = append(preferred, d)
		} else {
			rest = append(rest, d)
		}
	}
	return append(preferred, rest...)
}

func hasExtension(d Demuxer, ext string) bool {
	for _, e := range d.Extensions() {
		if e == ext {
			return true
		}
	}
	return false
}

// Probe identifies the container in src and opens a reader for it
func (r *Registry) Probe(src io.ReadSeeker, hint Hint) (FormatReader, error) {
	start, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, audio.NewError(audio.KindProbe, "probe", fmt.Errorf("source is not seekable: %w", err))
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(src, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, audio.NewError(audio.KindProbe, "probe", err)
	}
	header = header[:n]

	for _, d := range r.candidates(hint) {
		if !d.Sniff(header) {
			continue
		}
		if _, err := src.Seek(start, io.SeekStart); err != nil {
			return nil, audio.NewError(audio.KindProbe, "probe", err)
		}

		reader, err := d.Open(src)
		if err != nil {
			var kinded *audio.Error
			if errors.As(err, &kinded) {
				return nil, err
			}
			return nil, audio.NewError(audio.KindProbe, "open "+d.Name(), err)
		}
		return reader, nil
	}

	return nil, audio.NewError(audio.KindProbe, "probe", audio.ErrUnsupportedFormat)
}

// DefaultTrack returns the first track, which every built-in container
// uses for its audio stream
func DefaultTrack(r FormatReader) (audio.Track, error) {
	tracks := r.Tracks()
	if len(tracks) == 0 {
		return audio.Track{}, audio.NewError(audio.KindTrack, "select track", audio.ErrNoAudioTrack)
	}
	return tracks[0], nil
}

// clampTS bounds ts to [0, total]
func clampTS(ts, total audio.Timestamp) audio.Timestamp {
	if ts < 0 {
		return 0
	}
	if total > 0 && ts > total {
		return total
	}
	return ts
}
