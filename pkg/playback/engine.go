// ABOUTME: Playback engine tying probing, decoding and device streams together
// ABOUTME: Manages the Idle/Loading/Playing lifecycle, seeks and device switching
package playback

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/musicthing/musicthing/pkg/audio/decode"
	"github.com/musicthing/musicthing/pkg/audio/demux"
	"github.com/musicthing/musicthing/pkg/audio/output"
	"github.com/rs/zerolog"
)

// State is the engine's lifecycle state
type State int32

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DeviceSwitchPolicy decides what SelectDevice does with a playing session
type DeviceSwitchPolicy int

const (
	// DeviceSwitchRestart drops the session and idles on the new device
	DeviceSwitchRestart DeviceSwitchPolicy = iota

	// DeviceSwitchPreserve moves the session, position intact, to the new device
	DeviceSwitchPreserve
)

func (p DeviceSwitchPolicy) String() string {
	if p == DeviceSwitchPreserve {
		return "preserve"
	}
	return "restart"
}

// ParseDeviceSwitchPolicy parses "restart" or "preserve"
func ParseDeviceSwitchPolicy(s string) (DeviceSwitchPolicy, error) {
	switch s {
	case "", "restart":
		return DeviceSwitchRestart, nil
	case "preserve":
		return DeviceSwitchPreserve, nil
	default:
		return DeviceSwitchRestart, fmt.Errorf("unknown device switch policy %q (use restart or preserve)", s)
	}
}

// Config holds engine configuration
type Config struct {
	Host output.Host

	// Device to start on; the zero Device selects the host default
	Device output.Device

	Registry     *demux.Registry
	NewDecoder   decode.Factory
	DeviceSwitch DeviceSwitchPolicy

	// Resample converts tracks to the device rate instead of playing them at it
	Resample bool

	// PauseOnSeek briefly pauses the device stream when a seek is requested
	PauseOnSeek bool

	BufferFrames int
	Logger       zerolog.Logger
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig(host output.Host) Config {
	return Config{
		Host:         host,
		Registry:     demux.DefaultRegistry(),
		NewDecoder:   decode.New,
		DeviceSwitch: DeviceSwitchRestart,
		PauseOnSeek:  true,
		BufferFrames: 1024,
		Logger:       zerolog.Nop(),
	}
}

// Engine plays one track at a time on one output device
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	// mu serializes control operations; the audio callback never takes it
	mu      sync.Mutex
	device  output.Device
	idle    output.Stream
	session *session
	closed  bool

	state   atomic.Int32
	current atomic.Pointer[session]

	errMu   sync.Mutex
	onError func(error)
}

// NewEngine opens the configured device and starts the idle placeholder stream
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Host == nil {
		return nil, errors.New("playback: no audio host")
	}
	if cfg.Registry == nil {
		cfg.Registry = demux.DefaultRegistry()
	}
	if cfg.NewDecoder == nil {
		cfg.NewDecoder = decode.New
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = 1024
	}

	e := &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "engine").Logger(),
		device: cfg.Device,
	}

	if e.device.IsZero() {
		dev, err := cfg.Host.DefaultDevice()
		if err != nil {
			return nil, err
		}
		e.device = dev
	}

	if err := e.startIdleLocked(); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("host", cfg.Host.Name()).
		Str("device", e.device.Name).
		Msg("Engine ready")

	return e, nil
}

// OnStreamError sets the function called when a playing stream fails. It runs
// on its own goroutine, never on the audio thread.
func (e *Engine) OnStreamError(fn func(error)) {
	e.errMu.Lock()
	e.onError = fn
	e.errMu.Unlock()
}

// Open starts playing the file at path
func (e *Engine) Open(path string) (audio.TrackMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.TrackMetadata{}, audio.NewError(audio.KindProbe, "open", err)
	}
	return e.OpenSource(f, demux.HintFromPath(path))
}

// OpenSource starts playing src. The engine closes src when the session ends
// if it implements io.Closer.
func (e *Engine) OpenSource(src io.ReadSeeker, hint demux.Hint) (audio.TrackMetadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		closeSource(src)
		return audio.TrackMetadata{}, errors.New("playback: engine closed")
	}

	e.dropSessionLocked(true)
	return e.loadLocked(src, hint)
}

// Restart plays the current source again from the beginning. It is the only
// way to seek once a track has played to its end.
func (e *Engine) Restart() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s == nil {
		return errors.New("playback: nothing to restart")
	}

	e.dropSessionLocked(false)
	if _, err := s.src.Seek(0, io.SeekStart); err != nil {
		closeSource(s.src)
		e.recoverIdleLocked()
		return audio.NewError(audio.KindProbe, "restart", err)
	}
	_, err := e.loadLocked(s.src, s.hint)
	return err
}

// loadLocked builds a session for src and starts it. On failure the engine
// is left idle and src is closed.
func (e *Engine) loadLocked(src io.ReadSeeker, hint demux.Hint) (audio.TrackMetadata, error) {
	e.state.Store(int32(StateLoading))
	e.closeIdleLocked()

	s, err := e.newSession(src, hint)
	if err != nil {
		closeSource(src)
		e.logger.Error().Err(err).Str("hint", hint.Extension).Msg("Failed to open track")
		e.recoverIdleLocked()
		return audio.TrackMetadata{}, err
	}

	if err := e.startSessionLocked(s); err != nil {
		s.release()
		closeSource(src)
		e.logger.Error().Err(err).Msg("Failed to start stream")
		e.recoverIdleLocked()
		return audio.TrackMetadata{}, err
	}

	e.session = s
	e.current.Store(s)
	e.state.Store(int32(StatePlaying))

	s.logger.Info().
		Str("codec", string(s.track.Params.Codec)).
		Int("track_rate", s.track.Params.SampleRate).
		Int("stream_rate", s.streamCfg.SampleRate).
		Int("channels", s.streamCfg.Channels).
		Dur("duration", s.meta.Length()).
		Msg("Playing")

	return s.meta, nil
}

// newSession probes src and prepares the decoder
func (e *Engine) newSession(src io.ReadSeeker, hint demux.Hint) (*session, error) {
	reader, err := e.cfg.Registry.Probe(src, hint)
	if err != nil {
		return nil, err
	}

	track, err := demux.DefaultTrack(reader)
	if err != nil {
		reader.Close()
		return nil, err
	}

	decoder, err := e.cfg.NewDecoder(track.Params)
	if err != nil {
		reader.Close()
		var kinded *audio.Error
		if !errors.As(err, &kinded) {
			err = audio.NewError(audio.KindCodec, "new decoder", err)
		}
		return nil, err
	}

	fail := func(err error) (*session, error) {
		decoder.Close()
		reader.Close()
		return nil, audio.NewError(audio.KindTrack, "probe", err)
	}
	if track.Params.NumFrames <= 0 {
		return fail(audio.ErrMissingDuration)
	}
	if track.Params.TimeBase.IsZero() {
		return fail(audio.ErrMissingTimeBase)
	}

	id := uuid.NewString()
	s := &session{
		id:      id,
		src:     src,
		hint:    hint,
		reader:  reader,
		decoder: decoder,
		track:   track,
		meta: audio.TrackMetadata{
			Duration: track.Params.NumFrames,
			TimeBase: track.Params.TimeBase,
		},
		faults: make(chan error, 1),
		seeks:  make(chan struct{}, 1),
		logger: e.logger.With().Str("session", id).Logger(),
	}
	return s, nil
}

// startSessionLocked negotiates a stream on the current device, installs the
// session's renderer in it and starts playback
func (e *Engine) startSessionLocked(s *session) error {
	cfg, err := NegotiateDevice(e.cfg.Host, e.device, s.track.Params)
	if err != nil {
		return err
	}
	cfg.BufferFrames = e.cfg.BufferFrames

	if s.rend == nil {
		s.rend = newRenderer(s.reader, s.decoder, s.track, &s.pos, cfg.Channels, s.report)
	}
	if e.cfg.Resample {
		s.rend.setResampler(s.track.Params.SampleRate, cfg.SampleRate)
	} else {
		s.rend.setResampler(0, 0)
		if cfg.SampleRate != s.track.Params.SampleRate {
			s.logger.Warn().
				Int("track_rate", s.track.Params.SampleRate).
				Int("device_rate", cfg.SampleRate).
				Msg("Playing at device rate without resampling; pitch and speed will change")
		}
	}

	stream, err := e.cfg.Host.OpenStream(e.device, cfg, s.rend.Render, s.report)
	if err != nil {
		var kinded *audio.Error
		if !errors.As(err, &kinded) {
			err = audio.NewError(audio.KindDevice, "open stream", fmt.Errorf("%w: %v", audio.ErrDeviceBuild, err))
		}
		return err
	}

	s.stream = stream
	s.streamCfg = cfg
	s.start(e)

	if err := stream.Play(); err != nil {
		s.stop()
		stream.Close()
		s.stream = nil
		return err
	}
	return nil
}

// RequestSeek moves playback to d from the start of the track. It never blocks.
func (e *Engine) RequestSeek(d time.Duration) {
	s := e.current.Load()
	if s == nil {
		return
	}
	e.RequestSeekTimestamp(s.meta.TimeBase.Timestamp(d))
}

// RequestSeekTimestamp moves playback to ts in the track's time base. Seeks
// after the track has ended are ignored until Restart.
func (e *Engine) RequestSeekTimestamp(ts audio.Timestamp) {
	s := e.current.Load()
	if s == nil {
		return
	}
	if s.rend.ended.Load() {
		s.logger.Debug().Int64("ts", int64(ts)).Msg("Seek ignored after end of stream")
		return
	}

	ts = max(0, min(ts, s.meta.Duration-1))
	s.pos.Store(ts)

	if e.cfg.PauseOnSeek {
		select {
		case s.seeks <- struct{}{}:
		default:
		}
	}
}

// CurrentPosition returns the timestamp playback has reached. A finished
// track reports its full duration.
func (e *Engine) CurrentPosition() audio.Timestamp {
	s := e.current.Load()
	if s == nil {
		return 0
	}
	if s.rend.ended.Load() {
		return s.meta.Duration
	}
	return max(0, min(s.pos.Load(), s.meta.Duration))
}

// Track returns the playing track and its metadata
func (e *Engine) Track() (audio.Track, audio.TrackMetadata, bool) {
	s := e.current.Load()
	if s == nil {
		return audio.Track{}, audio.TrackMetadata{}, false
	}
	return s.track, s.meta, true
}

// StreamConfig returns the configuration of the playing stream
func (e *Engine) StreamConfig() (output.StreamConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return output.StreamConfig{}, false
	}
	return e.session.streamCfg, true
}

// Ended reports whether the playing track has been played to its end
func (e *Engine) Ended() bool {
	s := e.current.Load()
	return s != nil && s.rend.ended.Load()
}

// State returns the lifecycle state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Devices lists the host's devices
func (e *Engine) Devices() ([]output.Device, error) {
	return e.cfg.Host.Devices()
}

// Device returns the device the engine plays on
func (e *Engine) Device() output.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// SelectDevice switches output to dev. Under DeviceSwitchRestart the playing
// session ends; under DeviceSwitchPreserve it continues on dev when dev can
// play the track's channel count.
func (e *Engine) SelectDevice(dev output.Device) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New("playback: engine closed")
	}

	s := e.session
	old := e.device
	e.device = dev

	if s == nil || e.cfg.DeviceSwitch == DeviceSwitchRestart {
		e.dropSessionLocked(true)
		e.closeIdleLocked()
		if err := e.startIdleLocked(); err != nil {
			e.logger.Error().Err(err).Str("device", dev.Name).Msg("Failed to open device")
			e.restoreDeviceLocked(old)
			return err
		}
		e.logger.Info().Str("from", old.Name).Str("to", dev.Name).Msg("Device switched")
		return nil
	}

	// Move the renderer; the old stream must be closed before the new one opens
	s.stop()
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}

	if err := e.startSessionLocked(s); err != nil {
		s.logger.Error().Err(err).Str("device", dev.Name).Msg("Session could not move to device")
		e.session = nil
		e.current.Store(nil)
		s.release()
		closeSource(s.src)
		e.recoverIdleLocked()
		if e.idle == nil {
			e.restoreDeviceLocked(old)
		}
		return err
	}

	s.logger.Info().
		Str("from", old.Name).
		Str("to", dev.Name).
		Int64("position", int64(s.pos.Load())).
		Msg("Session moved to new device")
	return nil
}

// Close stops playback and releases every stream
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.dropSessionLocked(true)
	e.closeIdleLocked()
	e.state.Store(int32(StateIdle))
	return nil
}

// handleFault runs when a session's stream reports a terminal error
func (e *Engine) handleFault(s *session, err error) {
	s.logger.Error().Err(err).Msg("Stream failed")

	e.errMu.Lock()
	fn := e.onError
	e.errMu.Unlock()
	if fn != nil {
		fn(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != s || e.closed {
		return
	}
	e.dropSessionLocked(true)
	e.recoverIdleLocked()
}

// dropSessionLocked tears the session down, closing its stream before the
// reader and decoder it drives
func (e *Engine) dropSessionLocked(closeSrc bool) {
	s := e.session
	if s == nil {
		return
	}
	e.session = nil
	e.current.Store(nil)

	s.stop()
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Stream close error")
		}
		s.stream = nil
	}
	s.release()
	if closeSrc {
		closeSource(s.src)
	}
	e.state.Store(int32(StateIdle))
	s.logger.Debug().Msg("Session closed")
}

// startIdleLocked opens the silent placeholder stream on the current device
func (e *Engine) startIdleLocked() error {
	configs, err := e.cfg.Host.SupportedConfigs(e.device)
	if err != nil {
		return err
	}
	cfg, err := placeholderConfig(configs)
	if err != nil {
		return err
	}
	cfg.BufferFrames = e.cfg.BufferFrames

	stream, err := e.cfg.Host.OpenStream(e.device, cfg, silence, func(err error) {
		e.logger.Warn().Err(err).Msg("Idle stream error")
	})
	if err != nil {
		return err
	}
	if err := stream.Play(); err != nil {
		stream.Close()
		return err
	}

	e.idle = stream
	e.state.Store(int32(StateIdle))
	return nil
}

// recoverIdleLocked returns to Idle after a failure, logging if even the
// placeholder stream cannot be opened
func (e *Engine) recoverIdleLocked() {
	e.state.Store(int32(StateIdle))
	if e.idle != nil {
		return
	}
	if err := e.startIdleLocked(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to open idle stream")
	}
}

// restoreDeviceLocked goes back to old after the selected device could not
// even host the placeholder stream
func (e *Engine) restoreDeviceLocked(old output.Device) {
	e.device = old
	e.recoverIdleLocked()
	e.logger.Warn().Str("device", old.Name).Msg("Returned to previous device")
}

func (e *Engine) closeIdleLocked() {
	if e.idle == nil {
		return
	}
	if err := e.idle.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("Idle stream close error")
	}
	e.idle = nil
}

func silence(out []float32) {
	clear(out)
}

func closeSource(src io.ReadSeeker) {
	if c, ok := src.(io.Closer); ok {
		c.Close()
	}
}
