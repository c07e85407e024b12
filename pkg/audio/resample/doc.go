// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts float32 audio between sample rates in a streaming fashion
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates.
// Handles both upsampling and downsampling across consecutive chunks.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out = r.Append(out[:0], decoded)
package resample
