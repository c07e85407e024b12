// ABOUTME: Playback engine package
// ABOUTME: Connects demuxers and decoders to an output device stream
// Package playback plays one track at a time on an output device.
//
// The control side (Engine methods) and the host's audio thread share a
// single atomic Position. A seek stores the target; the audio thread notices
// the mismatch at the next packet boundary, seeks the reader, resets the
// decoder and resumes from the target.
//
// Example:
//
//	engine, err := playback.NewEngine(playback.DefaultConfig(host))
//	meta, err := engine.Open("song.flac")
//	engine.RequestSeek(30 * time.Second)
//	pos := meta.TimeBase.Duration(engine.CurrentPosition())
package playback
