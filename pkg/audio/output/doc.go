// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Host and Stream interfaces and malgo, oto and PortAudio hosts
// Package output provides audio playback backends.
//
// A Host enumerates devices and their supported configurations and opens
// callback-driven streams. Streams always carry interleaved float32 samples.
//
// The oto host has a single process-wide context. The first stream fixes its
// sample rate; mono streams are widened to the context's stereo layout, and
// tracks at other rates negotiate to the fixed rate.
//
// Example:
//
//	host, err := output.NewHost("malgo", logger)
//	dev, err := host.DefaultDevice()
//	stream, err := host.OpenStream(dev, output.StreamConfig{
//	    Channels: 2, SampleRate: 48000, Format: audio.SampleF32, BufferFrames: 1024,
//	}, render, onError)
//	err = stream.Play()
package output
