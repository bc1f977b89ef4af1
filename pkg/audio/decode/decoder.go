// ABOUTME: Decoder interface, stream hints and the decoder factory
// ABOUTME: Decoders take demuxed packets and hand out one frame at a time
package decode

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

var (
	// ErrUnsupportedCodec is returned when no decoder handles a stream.
	ErrUnsupportedCodec = errors.New("decode: unsupported codec")

	// ErrNeedMoreData is returned when a packet is too short to decode.
	ErrNeedMoreData = errors.New("decode: need more data")

	// ErrBufferFull is returned by AddData while earlier input is still
	// waiting to be collected with GetData.
	ErrBufferFull = errors.New("decode: buffer full")
)

// Packet is one demuxed unit of compressed audio.
type Packet struct {
	Data     []byte
	PTS      time.Duration
	Duration time.Duration
}

// Hints describes a stream as announced by the demuxer.
type Hints struct {
	Codec       string
	SampleRate  int
	Channels    int
	BitDepth    int
	DataFormat  audio.SampleFormat // PCM layout; derived from BitDepth when unset
	CodecHeader []byte
	Bitrate     int
	Realtime    bool
}

// Format returns the nominal format the hints describe.
func (h Hints) Format() audio.Format {
	df := h.DataFormat
	if df == audio.FormatInvalid {
		df = audio.SampleFormatForDepth(h.BitDepth)
	}
	return audio.Format{
		Codec:       h.Codec,
		SampleRate:  h.SampleRate,
		Channels:    h.Channels,
		BitDepth:    h.BitDepth,
		DataFormat:  df,
		CodecHeader: h.CodecHeader,
	}
}

// Decoder decodes packets of one stream.
//
// AddData queues a packet and GetData returns decoded frames one at a time,
// nil when nothing is ready. A frame returned by GetData belongs to the
// caller.
type Decoder interface {
	Name() string
	AddData(pkt Packet) error
	GetData() (*audio.Frame, error)
	Reset()
	Format() audio.Format
	NeedPassthrough() bool
	Close() error
}

// Options control decoder selection.
type Options struct {
	AllowPassthrough bool
	PassthroughTypes []audio.StreamType // nil allows every type
}

func (o Options) allows(st audio.StreamType) bool {
	if !o.AllowPassthrough {
		return false
	}
	return o.PassthroughTypes == nil || slices.Contains(o.PassthroughTypes, st)
}

// Factory builds a decoder for a stream.
type Factory func(h Hints, opts Options) (Decoder, error)

// NewForStream picks a decoder for the stream. Encoded surround streams are
// only handled as passthrough.
func NewForStream(h Hints, opts Options) (Decoder, error) {
	codec := strings.ToLower(h.Codec)
	switch codec {
	case "pcm":
		return NewPCM(h)
	case "opus":
		return NewOpus(h)
	case "mp3":
		return NewMP3(h)
	case "flac":
		return NewFLAC(h)
	case "ac3", "eac3", "dts":
		st := streamTypeForCodec(codec)
		if !opts.allows(st) {
			return nil, fmt.Errorf("%s without passthrough: %w", codec, ErrUnsupportedCodec)
		}
		return NewPassthrough(h)
	}
	return nil, fmt.Errorf("%q: %w", h.Codec, ErrUnsupportedCodec)
}

// pending holds at most one decoded frame and continues timestamps across
// packets that carry none.
type pending struct {
	frame   *audio.Frame
	nextPTS time.Duration
}

func newPending() pending {
	return pending{nextPTS: audio.NoPTS}
}

func (p *pending) full() bool {
	return p.frame != nil
}

// stamp fills in a missing pts from the previous frame and advances.
func (p *pending) stamp(f *audio.Frame) {
	if f.PTS == audio.NoPTS {
		f.PTS = p.nextPTS
	}
	if f.PTS != audio.NoPTS {
		p.nextPTS = f.PTS + f.Duration
	}
}

func (p *pending) take() *audio.Frame {
	f := p.frame
	p.frame = nil
	return f
}

func (p *pending) reset() {
	p.frame = nil
	p.nextPTS = audio.NoPTS
}

// to24Bit scales a sample of the given depth to 24-bit range.
func to24Bit(s int32, bits int) int32 {
	switch {
	case bits == 24:
		return s
	case bits < 24:
		return s << (24 - bits)
	default:
		return s >> (bits - 24)
	}
}
