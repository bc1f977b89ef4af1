//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package output

import (
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

var errNoPortAudio = errors.New("PortAudio support not enabled (build with -tags portaudio)")

// PortAudio output implementation (stub)
type PortAudio struct {
	deviceIndex int
}

// NewPortAudio creates a new PortAudio output
func NewPortAudio(deviceIndex int) *PortAudio {
	return &PortAudio{deviceIndex: deviceIndex}
}

// Name returns the device id.
func (p *PortAudio) Name() string {
	return fmt.Sprintf("portaudio:%d", p.deviceIndex)
}

// Open always fails.
func (p *PortAudio) Open(audio.Format) (audio.Format, error) {
	return audio.Format{}, errNoPortAudio
}

// Write always fails.
func (p *PortAudio) Write([]byte) (int, error) {
	return 0, errNoPortAudio
}

func (p *PortAudio) Delay() time.Duration      { return 0 }
func (p *PortAudio) BufferSize() time.Duration { return 0 }
func (p *PortAudio) Drain() error              { return nil }
func (p *PortAudio) Flush()                    {}
func (p *PortAudio) Close() error              { return nil }
