// ABOUTME: Test tone source
// ABOUTME: Generates a sine wave and encodes it as PCM or Opus packets
package source

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/decode"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/encode"
)

const (
	toneRate     = 48000
	toneChannels = 2
	toneLevel    = 0.5
)

// Tone generates a sine wave. A zero length plays forever.
type Tone struct {
	enc       encode.Encoder
	format    audio.Format
	frequency float64
	frames    int
	total     int
	index     int
	samples   []int32
}

// NewTone creates a tone encoded with codec ("pcm" or "opus").
func NewTone(codec string, frequency float64, length time.Duration) (*Tone, error) {
	enc, err := encode.New(audio.Format{
		Codec:      codec,
		SampleRate: toneRate,
		Channels:   toneChannels,
		BitDepth:   16,
	})
	if err != nil {
		return nil, fmt.Errorf("tone: %w", err)
	}
	format := enc.Format()
	frames := enc.PacketFrames()
	if frames == 0 {
		frames = format.DurationToFrames(packetTime)
	}
	return &Tone{
		enc:       enc,
		format:    format,
		frequency: frequency,
		frames:    frames,
		total:     format.DurationToFrames(length),
	}, nil
}

// Hints describes the encoded stream.
func (s *Tone) Hints() decode.Hints {
	return decode.Hints{
		Codec:      s.format.Codec,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		BitDepth:   s.format.BitDepth,
		DataFormat: s.format.DataFormat,
	}
}

// Next encodes the next block.
func (s *Tone) Next() (decode.Packet, error) {
	if s.total > 0 && s.index >= s.total {
		return decode.Packet{}, io.EOF
	}

	s.samples = s.samples[:0]
	for i := 0; i < s.frames; i++ {
		t := float64(s.index+i) / float64(s.format.SampleRate)
		v := int32(math.Sin(2*math.Pi*s.frequency*t) * toneLevel * float64(audio.Max24Bit))
		for c := 0; c < s.format.Channels; c++ {
			s.samples = append(s.samples, v)
		}
	}
	data, err := s.enc.Encode(s.samples)
	if err != nil {
		return decode.Packet{}, err
	}

	pkt := decode.Packet{
		Data:     data,
		PTS:      s.format.FramesToDuration(s.index),
		Duration: s.format.FramesToDuration(s.frames),
	}
	s.index += s.frames
	return pkt, nil
}

// Metadata describes the tone.
func (s *Tone) Metadata() (string, string, string) {
	return fmt.Sprintf("Test Tone %.0fHz", s.frequency), "audiopipe", "Generated"
}

// Close releases the encoder.
func (s *Tone) Close() error {
	return s.enc.Close()
}
