// ABOUTME: Encoder interface definition and encoder selection
// ABOUTME: Encoders report the packet size they need in frames
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

// Encoder encodes PCM int32 samples to stream packets
type Encoder interface {
	// Encode converts interleaved samples to one packet
	Encode(samples []int32) ([]byte, error)

	// PacketFrames is the number of frames each packet must hold, or 0 when
	// any length is accepted.
	PacketFrames() int

	// Format is the stream format the packets are in.
	Format() audio.Format

	// Close releases encoder resources
	Close() error
}

// New selects an encoder for format.Codec.
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case "pcm":
		return NewPCM(format)
	case "opus":
		return NewOpus(format)
	}
	return nil, fmt.Errorf("no encoder for codec %q", format.Codec)
}
