// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Streams float32 frames, carrying the last input frame across calls
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64   // in input frames, relative to lastSample
	lastSample []float32 // one sample per channel
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastSample: make([]float32, channels),
	}
}

// Passthrough reports whether the rates match
func (r *Resampler) Passthrough() bool {
	return r.inputRate == r.outputRate
}

// frame returns sample ch of virtual frame i, where frame 0 is the last frame
// of the previous call and frame k is input frame k-1
func (r *Resampler) frame(input []float32, i, ch int) float32 {
	if i == 0 {
		return r.lastSample[ch]
	}
	return input[(i-1)*r.channels+ch]
}

// Append resamples interleaved input and appends the result to dst
func (r *Resampler) Append(dst, input []float32) []float32 {
	if r.Passthrough() {
		return append(dst, input...)
	}

	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return dst
	}

	if !r.primed {
		copy(r.lastSample, input[:r.channels])
		input = input[r.channels:]
		inputFrames--
		r.primed = true
	}

	for {
		idx := int(r.position)
		if idx >= inputFrames {
			break
		}

		// Linear interpolation factor
		frac := float32(r.position - float64(idx))
		for ch := 0; ch < r.channels; ch++ {
			s1 := r.frame(input, idx, ch)
			s2 := r.frame(input, idx+1, ch)
			dst = append(dst, s1+(s2-s1)*frac)
		}
		r.position += r.ratio
	}

	// Carry the final frame and the fractional position into the next call
	if inputFrames > 0 {
		copy(r.lastSample, input[(inputFrames-1)*r.channels:inputFrames*r.channels])
		r.position -= float64(inputFrames)
	}
	return dst
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0.0
	r.primed = false
	for i := range r.lastSample {
		r.lastSample[i] = 0
	}
}

// OutputSamplesNeeded estimates how many output samples inputSamples produce
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio) + 1
	return outputFrames * r.channels
}
