// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats, sample layouts and decoded frames
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

// NoPTS marks a frame or packet without a presentation timestamp.
const NoPTS time.Duration = math.MinInt64

// SampleFormat is the byte layout of samples in a buffer.
type SampleFormat int

const (
	FormatInvalid SampleFormat = iota
	FormatS16LE
	FormatS16BE
	FormatS24LE3 // packed 3-byte little-endian
	FormatS32LE
	FormatF32LE
	FormatRAW // encoded bitstream for passthrough
)

func (f SampleFormat) String() string {
	switch f {
	case FormatS16LE:
		return "s16le"
	case FormatS16BE:
		return "s16be"
	case FormatS24LE3:
		return "s24le3"
	case FormatS32LE:
		return "s32le"
	case FormatF32LE:
		return "f32le"
	case FormatRAW:
		return "raw"
	default:
		return "invalid"
	}
}

// BytesPerSample returns the container size of one sample. RAW streams are
// carried in 16-bit IEC words.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS16LE, FormatS16BE, FormatRAW:
		return 2
	case FormatS24LE3:
		return 3
	case FormatS32LE, FormatF32LE:
		return 4
	default:
		return 0
	}
}

// IsPCM reports whether the format carries linear PCM.
func (f SampleFormat) IsPCM() bool {
	return f != FormatInvalid && f != FormatRAW
}

// SwapsWith reports whether a and b differ only in byte order.
func (f SampleFormat) SwapsWith(o SampleFormat) bool {
	return (f == FormatS16LE && o == FormatS16BE) || (f == FormatS16BE && o == FormatS16LE)
}

// SampleFormatForDepth maps a bit depth to the native little-endian layout.
func SampleFormatForDepth(bitDepth int) SampleFormat {
	switch bitDepth {
	case 16:
		return FormatS16LE
	case 24:
		return FormatS24LE3
	case 32:
		return FormatS32LE
	default:
		return FormatInvalid
	}
}

// StreamType identifies a compressed bitstream sent to an external decoder.
type StreamType int

const (
	StreamNone StreamType = iota
	StreamAC3
	StreamEAC3
	StreamDTS512
	StreamDTS1024
	StreamDTS2048
)

func (s StreamType) String() string {
	switch s {
	case StreamAC3:
		return "ac3"
	case StreamEAC3:
		return "eac3"
	case StreamDTS512:
		return "dts-512"
	case StreamDTS1024:
		return "dts-1024"
	case StreamDTS2048:
		return "dts-2048"
	default:
		return "none"
	}
}

// FramesPerBurst is the IEC 61937 repetition period of the stream type in
// PCM frames at the carrier rate.
func (s StreamType) FramesPerBurst() int {
	switch s {
	case StreamAC3:
		return 1536
	case StreamEAC3:
		return 6144
	case StreamDTS512:
		return 512
	case StreamDTS1024:
		return 1024
	case StreamDTS2048:
		return 2048
	default:
		return 0
	}
}

// Format describes audio stream format
type Format struct {
	Codec       string
	SampleRate  int
	Channels    int
	BitDepth    int
	DataFormat  SampleFormat
	StreamType  StreamType
	CodecHeader []byte // For FLAC, Opus, etc.
}

// Valid reports whether the format can be rendered.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.DataFormat != FormatInvalid
}

// Passthrough reports whether the format carries an encoded bitstream.
func (f Format) Passthrough() bool {
	return f.DataFormat == FormatRAW
}

// FrameSize returns the size in bytes of one interleaved frame.
func (f Format) FrameSize() int {
	return f.Channels * f.DataFormat.BytesPerSample()
}

// Equal compares every field that affects rendering.
func (f Format) Equal(o Format) bool {
	return f.SampleRate == o.SampleRate &&
		f.Channels == o.Channels &&
		f.BitDepth == o.BitDepth &&
		f.DataFormat == o.DataFormat &&
		f.StreamType == o.StreamType
}

// FramesToDuration converts a frame count at the format's rate to time.
func (f Format) FramesToDuration(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(f.SampleRate))
}

// DurationToFrames converts a duration to whole frames at the format's rate.
func (f Format) DurationToFrames(d time.Duration) int {
	if d <= 0 || f.SampleRate <= 0 {
		return 0
	}
	return int(int64(d) * int64(f.SampleRate) / int64(time.Second))
}

func (f Format) String() string {
	if f.Passthrough() {
		return fmt.Sprintf("%s passthrough %dHz", f.StreamType, f.SampleRate)
	}
	return fmt.Sprintf("%s %dHz %dch %s", f.Codec, f.SampleRate, f.Channels, f.DataFormat)
}

// Frame is one unit of decoder output.
//
// PCM frames carry interleaved samples in 24-bit range in Samples; passthrough
// frames carry the encoded payload in Data.
type Frame struct {
	ID       uint64
	PTS      time.Duration
	Duration time.Duration
	Format   Format
	Samples  []int32
	Data     []byte
	Frames   int
}

// HasTimestamp reports whether the frame carries a presentation timestamp.
func (fr *Frame) HasTimestamp() bool {
	return fr.PTS != NoPTS
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
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

// ClampSample limits a widened sample to 24-bit range.
func ClampSample(v int64) int32 {
	if v > Max24Bit {
		return Max24Bit
	}
	if v < Min24Bit {
		return Min24Bit
	}
	return int32(v)
}
