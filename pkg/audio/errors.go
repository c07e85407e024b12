// ABOUTME: Error taxonomy for playback setup and runtime failures
// ABOUTME: Sentinel errors plus a kinded wrapper usable with errors.Is
package audio

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat  = errors.New("unsupported container format")
	ErrNoAudioTrack       = errors.New("no audio track")
	ErrUnsupportedCodec   = errors.New("unsupported codec")
	ErrMissingDuration    = errors.New("track does not report a frame count")
	ErrMissingTimeBase    = errors.New("track does not report a time base")
	ErrNoCompatibleConfig = errors.New("no compatible output configuration")
	ErrDeviceBuild        = errors.New("failed to build output stream")
	ErrDeviceLost         = errors.New("output device stopped unexpectedly")
	ErrRuntimeDecodeFault = errors.New("runtime decode fault")
)

// ErrorKind classifies where a failure happened
type ErrorKind int

const (
	KindProbe ErrorKind = iota + 1
	KindTrack
	KindCodec
	KindDevice
	KindRuntimeDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindProbe:
		return "probe"
	case KindTrack:
		return "track"
	case KindCodec:
		return "codec"
	case KindDevice:
		return "device"
	case KindRuntimeDecode:
		return "runtime decode"
	default:
		return "unknown"
	}
}

// Error wraps a failure with its kind and the operation that failed
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err; a nil err yields nil
func NewError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether any error in err's chain is an *Error of kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
