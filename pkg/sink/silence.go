// ABOUTME: Silence and low-level noise in the device format
// ABOUTME: Keeps the device fed while the stream has no data
package sink

import (
	"math/rand/v2"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/iec"
)

// noiseAmplitude is about -90 dBFS in 24-bit range: inaudible, but enough
// for receivers that standby on digital silence.
const noiseAmplitude = 256

// silencer builds idle audio for the open device.
type silencer struct {
	packer  iec.Packer
	samples []int32
	out     []byte
	rng     *rand.Rand
}

func newSilencer() *silencer {
	return &silencer{rng: rand.New(rand.NewPCG(1, 2))}
}

// generate returns d of idle audio for a device opened with dev while the
// sink is configured for cfg, and the frame count it holds.
func (s *silencer) generate(cfg, dev audio.Format, d time.Duration, noise NoiseType) ([]byte, int) {
	if cfg.Passthrough() {
		encodedRate := cfg.SampleRate
		if cfg.StreamType == audio.StreamEAC3 {
			encodedRate /= 4
		}
		burst := s.packer.PackPause(cfg.StreamType, dev.SampleRate, encodedRate, d)
		return burst, len(burst) / dev.FrameSize()
	}

	frames := dev.DurationToFrames(d)
	n := frames * dev.Channels
	if cap(s.samples) < n {
		s.samples = make([]int32, n)
	}
	s.samples = s.samples[:n]
	if noise == NoiseWhite {
		for i := range s.samples {
			s.samples[i] = s.rng.Int32N(2*noiseAmplitude+1) - noiseAmplitude
		}
	} else {
		clear(s.samples)
	}
	s.out = audio.PackSamples(s.out[:0], s.samples, dev.DataFormat)
	return s.out, frames
}

func (s *silencer) reset() {
	s.packer.Reset()
}
