// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines timestamps, tracks, packets, errors and sample conversions
// Package audio provides the types shared by the demuxers, decoders, output
// hosts and the playback engine.
//
// This package defines:
//   - Timestamp and TimeBase: frame counts and their rational tick length
//   - CodecParams, Track, TrackMetadata: what a probed stream contains
//   - Packet: one timestamped unit of data read from a container
//   - Error: kinded failures (probe, track, codec, device, runtime decode)
//
// It also provides conversions from integer PCM to float32 samples.
//
// Example:
//
//	meta := audio.TrackMetadata{Duration: 441000, TimeBase: audio.NewTimeBase(44100)}
//	fmt.Println(meta.Length()) // 10s
//	ts := meta.TimeBase.Timestamp(2500 * time.Millisecond) // 110250
package audio
