// ABOUTME: One opened track: its reader, decoder, renderer and device stream
// ABOUTME: Runs the fault dispatcher and the pause-on-seek worker for the stream
package playback

import (
	"io"
	"sync"

	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/musicthing/musicthing/pkg/audio/decode"
	"github.com/musicthing/musicthing/pkg/audio/demux"
	"github.com/musicthing/musicthing/pkg/audio/output"
	"github.com/rs/zerolog"
)

type session struct {
	id     string
	src    io.ReadSeeker
	hint   demux.Hint
	logger zerolog.Logger

	reader  demux.FormatReader
	decoder decode.Decoder
	track   audio.Track
	meta    audio.TrackMetadata

	pos       Position
	rend      *renderer
	stream    output.Stream
	streamCfg output.StreamConfig

	faults chan error
	seeks  chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	releaseOnce sync.Once
}

// report hands a stream failure to the dispatcher without blocking; it is
// called from the audio thread
func (s *session) report(err error) {
	select {
	case s.faults <- err:
	default:
	}
}

// start launches the workers serving the current stream
func (s *session) start(e *Engine) {
	s.done = make(chan struct{})
	stream := s.stream

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.dispatchFaults(e)
	}()
	go func() {
		defer s.wg.Done()
		s.rearmAfterSeeks(stream)
	}()
}

// stop ends the workers and waits for them
func (s *session) stop() {
	if s.done == nil {
		return
	}
	close(s.done)
	s.wg.Wait()
	s.done = nil
}

func (s *session) dispatchFaults(e *Engine) {
	select {
	case <-s.done:
	case err := <-s.faults:
		// handleFault stops this session, which waits on this goroutine
		go e.handleFault(s, err)
	}
}

// rearmAfterSeeks pauses and resumes the stream after each seek so the host
// drops audio queued from before the jump
func (s *session) rearmAfterSeeks(stream output.Stream) {
	for {
		select {
		case <-s.done:
			return
		case <-s.seeks:
			if err := stream.Pause(); err != nil {
				s.logger.Warn().Err(err).Msg("Pause for seek failed")
				continue
			}
			if err := stream.Play(); err != nil {
				s.logger.Warn().Err(err).Msg("Resume after seek failed")
			}
		}
	}
}

// release closes the decoder and reader; the stream must already be closed
func (s *session) release() {
	s.releaseOnce.Do(func() {
		if err := s.decoder.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Decoder close error")
		}
		if err := s.reader.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Reader close error")
		}
	})
}
