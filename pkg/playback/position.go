// ABOUTME: Atomic playback position shared by the control side and the audio callback
// ABOUTME: Seeks store into it; the renderer advances it with compare-and-swap
package playback

import (
	"sync/atomic"

	"github.com/musicthing/musicthing/pkg/audio"
)

// Position holds the start timestamp of the next packet the renderer expects.
// The control side only stores; the renderer only compares-and-swaps, so a
// failed swap is how the renderer learns about a seek.
type Position struct {
	v atomic.Int64
}

// Load returns the current value
func (p *Position) Load() audio.Timestamp {
	return audio.Timestamp(p.v.Load())
}

// Store overwrites the value unconditionally
func (p *Position) Store(ts audio.Timestamp) {
	p.v.Store(int64(ts))
}

// CompareAndSwap sets the value to next if it still equals expected
func (p *Position) CompareAndSwap(expected, next audio.Timestamp) bool {
	return p.v.CompareAndSwap(int64(expected), int64(next))
}
