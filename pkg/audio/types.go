// ABOUTME: Audio type definitions
// ABOUTME: Defines timestamps, time bases, codec parameters, tracks and packets
package audio

import (
	"fmt"
	"math"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Timestamp counts frames in a track's time base
type Timestamp int64

// TimeBase is the duration of one timestamp tick as the rational Num/Den seconds
type TimeBase struct {
	Num uint32
	Den uint32
}

// NewTimeBase returns the time base for a stream sampled at rate Hz
func NewTimeBase(rate int) TimeBase {
	return TimeBase{Num: 1, Den: uint32(rate)}
}

// IsZero reports whether the time base is unset
func (tb TimeBase) IsZero() bool {
	return tb.Num == 0 || tb.Den == 0
}

// Seconds converts ts into seconds
func (tb TimeBase) Seconds(ts Timestamp) float64 {
	if tb.IsZero() {
		return 0
	}
	return float64(ts) * float64(tb.Num) / float64(tb.Den)
}

// Duration converts ts into a time.Duration
func (tb TimeBase) Duration(ts Timestamp) time.Duration {
	return time.Duration(tb.Seconds(ts) * float64(time.Second))
}

// Timestamp converts d into the nearest lower tick
func (tb TimeBase) Timestamp(d time.Duration) Timestamp {
	if tb.IsZero() {
		return 0
	}
	ticks := d.Seconds() * float64(tb.Den) / float64(tb.Num)
	return Timestamp(math.Floor(ticks))
}

func (tb TimeBase) String() string {
	return fmt.Sprintf("%d/%d", tb.Num, tb.Den)
}

// SampleFormat identifies a sample encoding
type SampleFormat int

const (
	SampleUnknown SampleFormat = iota
	SampleU8
	SampleS16
	SampleS24
	SampleS32
	SampleF32
)

func (f SampleFormat) String() string {
	switch f {
	case SampleU8:
		return "u8"
	case SampleS16:
		return "s16"
	case SampleS24:
		return "s24"
	case SampleS32:
		return "s32"
	case SampleF32:
		return "f32"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the packed size of one sample
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleU8:
		return 1
	case SampleS16:
		return 2
	case SampleS24:
		return 3
	case SampleS32, SampleF32:
		return 4
	default:
		return 0
	}
}

// CodecType names the encoding of packet payloads
type CodecType string

const (
	CodecUnknown  CodecType = ""
	CodecPCMU8    CodecType = "pcm_u8"
	CodecPCMS16LE CodecType = "pcm_s16le"
	CodecPCMS24LE CodecType = "pcm_s24le"
	CodecPCMS32LE CodecType = "pcm_s32le"
	CodecPCMF32LE CodecType = "pcm_f32le"
	CodecOpus     CodecType = "opus"
)

// PCMCodec returns the little-endian PCM codec for format
func PCMCodec(format SampleFormat) CodecType {
	switch format {
	case SampleU8:
		return CodecPCMU8
	case SampleS16:
		return CodecPCMS16LE
	case SampleS24:
		return CodecPCMS24LE
	case SampleS32:
		return CodecPCMS32LE
	case SampleF32:
		return CodecPCMF32LE
	default:
		return CodecUnknown
	}
}

// CodecParams describes how to decode a track's packets
type CodecParams struct {
	Codec        CodecType
	SampleRate   int
	Channels     int
	SampleFormat SampleFormat
	// NumFrames is the total track length, 0 when unknown
	NumFrames Timestamp
	// TimeBase is zero when the container does not report one
	TimeBase  TimeBase
	ExtraData []byte // codec setup header, e.g. OpusHead
}

// Equal reports whether p and o describe the same decoder configuration
func (p CodecParams) Equal(o CodecParams) bool {
	return p.Codec == o.Codec &&
		p.SampleRate == o.SampleRate &&
		p.Channels == o.Channels &&
		p.SampleFormat == o.SampleFormat
}

// Track is one elementary stream inside a container
type Track struct {
	ID        int
	Params    CodecParams
	Container string // e.g. "wav", "ogg"
	Source    string // codec as stored in the container, e.g. "vorbis"
}

// TrackMetadata holds the immutable facts needed for position display and seek mapping
type TrackMetadata struct {
	Duration Timestamp
	TimeBase TimeBase
}

// Length returns the track duration as wall time
func (m TrackMetadata) Length() time.Duration {
	return m.TimeBase.Duration(m.Duration)
}

// Packet is one unit of compressed (or raw) data for a track
type Packet struct {
	TrackID  int
	StartTS  Timestamp
	Duration Timestamp
	// TrimStart and TrimEnd are frames to drop from the decoded output
	TrimStart int
	TrimEnd   int
	Data      []byte
	// Params is set when the stream changes format at this packet
	Params *CodecParams
}

// EndTS returns the timestamp just after the packet
func (p Packet) EndTS() Timestamp {
	return p.StartTS + p.Duration
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// Int16ToFloat converts a signed 16-bit sample to [-1, 1)
func Int16ToFloat(s int16) float32 {
	return float32(s) / 32768
}

// Int24ToFloat converts a sign-extended 24-bit sample to [-1, 1)
func Int24ToFloat(s int32) float32 {
	return float32(s) / 8388608
}

// Int32ToFloat converts a signed 32-bit sample to [-1, 1)
func Int32ToFloat(s int32) float32 {
	return float32(float64(s) / 2147483648)
}

// Uint8ToFloat converts an unsigned 8-bit sample to [-1, 1)
func Uint8ToFloat(s uint8) float32 {
	return (float32(s) - 128) / 128
}

// IntToFloat scales a sample of the given bit depth to [-1, 1)
func IntToFloat(s int32, bits int) float32 {
	if bits <= 0 || bits > 32 {
		return 0
	}
	return float32(float64(s) / float64(uint64(1)<<(bits-1)))
}
