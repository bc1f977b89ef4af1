// ABOUTME: Opus audio encoder
// ABOUTME: Encodes 20ms blocks of int32 samples to Opus packets
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	format    audio.Format
	frameSize int
	pcm       []int16
	buf       []byte
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (*OpusEncoder, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	format.BitDepth = 16
	format.DataFormat = audio.FormatS16LE
	return &OpusEncoder{
		encoder:   encoder,
		format:    format,
		frameSize: format.SampleRate / 50, // 20ms
		buf:       make([]byte, maxOpusPacket),
	}, nil
}

// Encode converts one 20ms block to an Opus packet
func (e *OpusEncoder) Encode(samples []int32) ([]byte, error) {
	if len(samples) != e.frameSize*e.format.Channels {
		return nil, fmt.Errorf("opus encode: need %d frames, got %d",
			e.frameSize, len(samples)/e.format.Channels)
	}
	e.pcm = e.pcm[:0]
	for _, sample := range samples {
		e.pcm = append(e.pcm, audio.SampleToInt16(sample))
	}

	n, err := e.encoder.Encode(e.pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}
	return append([]byte(nil), e.buf[:n]...), nil
}

// PacketFrames returns the 20ms block size.
func (e *OpusEncoder) PacketFrames() int { return e.frameSize }

// Format returns the packet format.
func (e *OpusEncoder) Format() audio.Format { return e.format }

// Close releases resources
func (e *OpusEncoder) Close() error { return nil }
