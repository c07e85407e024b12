// ABOUTME: FIFO of interleaved float32 samples owned by the audio callback
// ABOUTME: Grows with decode bursts up to a fixed limit and drains by request size
package playback

import "errors"

var errRingOverflow = errors.New("sample ring overflow")

// sampleRing is a single-owner sample queue. It is not safe for concurrent use.
type sampleRing struct {
	buf   []float32
	start int
	limit int
}

func newSampleRing(capacity, limit int) *sampleRing {
	return &sampleRing{
		buf:   make([]float32, 0, capacity),
		limit: limit,
	}
}

// Len returns the number of queued samples
func (r *sampleRing) Len() int {
	return len(r.buf) - r.start
}

// Write queues samples, failing if the ring would exceed its limit
func (r *sampleRing) Write(samples []float32) error {
	if r.Len()+len(samples) > r.limit {
		return errRingOverflow
	}

	// Reclaim the drained prefix before growing
	if r.start > 0 && len(r.buf)+len(samples) > cap(r.buf) {
		n := copy(r.buf, r.buf[r.start:])
		r.buf = r.buf[:n]
		r.start = 0
	}
	r.buf = append(r.buf, samples...)
	return nil
}

// Read moves up to len(dst) samples into dst and returns the count
func (r *sampleRing) Read(dst []float32) int {
	n := copy(dst, r.buf[r.start:])
	r.start += n
	if r.start == len(r.buf) {
		r.buf = r.buf[:0]
		r.start = 0
	}
	return n
}

// Reset drops every queued sample
func (r *sampleRing) Reset() {
	r.buf = r.buf[:0]
	r.start = 0
}
