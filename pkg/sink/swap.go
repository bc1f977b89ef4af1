// ABOUTME: Per-format conversion from buffer layout to device layout
// ABOUTME: Decides skip, byteswap or full convert once per format
package sink

import (
	"fmt"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/resample"
)

// SwapState is the memoized conversion decision for one buffer format.
type SwapState int

const (
	SwapCheck SwapState = iota
	SwapSkip
	SwapByteswap
	SwapConvert
)

func (s SwapState) String() string {
	switch s {
	case SwapSkip:
		return "skip"
	case SwapByteswap:
		return "byteswap"
	case SwapConvert:
		return "convert"
	default:
		return "check"
	}
}

// swapper converts buffers to the device format. Its decision holds while
// the buffer format, device format and volume stay the same.
type swapper struct {
	state  SwapState
	from   audio.Format
	to     audio.Format
	volume float64

	conv    *resample.Converter
	samples []int32
	mapped  []int32
	rated   []int32
	out     []byte
}

// check returns the conversion for buffers in from, computing it when any
// format field or the volume changed.
func (s *swapper) check(from, to audio.Format, volume float64) (SwapState, error) {
	if s.state != SwapCheck && s.from.Equal(from) && s.to.Equal(to) && s.volume == volume {
		return s.state, nil
	}
	s.reset()
	s.from, s.to, s.volume = from, to, volume

	switch {
	case !from.DataFormat.IsPCM() || !to.DataFormat.IsPCM():
		return SwapCheck, fmt.Errorf("cannot convert %s to %s", from, to)
	case from.SampleRate == to.SampleRate && from.Channels == to.Channels && volume >= 1:
		switch {
		case from.DataFormat == to.DataFormat:
			s.state = SwapSkip
		case from.DataFormat.SwapsWith(to.DataFormat):
			s.state = SwapByteswap
		default:
			s.state = SwapConvert
		}
	default:
		s.state = SwapConvert
	}

	if s.state == SwapConvert && from.SampleRate != to.SampleRate {
		conv, err := resample.NewConverter(from.SampleRate, to.SampleRate, to.Channels)
		if err != nil {
			s.reset()
			return SwapCheck, err
		}
		s.conv = conv
	}
	return s.state, nil
}

// process returns data in the device format. The result may alias data or
// an internal buffer valid until the next call.
func (s *swapper) process(data []byte) ([]byte, error) {
	switch s.state {
	case SwapSkip:
		return data, nil
	case SwapByteswap:
		audio.SwapBytes16(data)
		return data, nil
	case SwapConvert:
		return s.convert(data)
	}
	return nil, fmt.Errorf("swap state not checked")
}

func (s *swapper) convert(data []byte) ([]byte, error) {
	s.samples = audio.UnpackSamples(s.samples[:0], data, s.from.DataFormat)
	if s.volume < 1 {
		applyGain(s.samples, s.volume)
	}
	s.mapped = mapChannels(s.mapped[:0], s.samples, s.from.Channels, s.to.Channels)

	pcm := s.mapped
	if s.conv != nil {
		var err error
		s.rated, err = s.conv.Process(s.rated[:0], s.mapped)
		if err != nil {
			return nil, err
		}
		pcm = s.rated
	}
	s.out = audio.PackSamples(s.out[:0], pcm, s.to.DataFormat)
	return s.out, nil
}

// reset forgets the decision and any converter state.
func (s *swapper) reset() {
	s.state = SwapCheck
	s.from, s.to, s.volume = audio.Format{}, audio.Format{}, 0
	if s.conv != nil {
		s.conv.Close()
		s.conv = nil
	}
}

func applyGain(samples []int32, gain float64) {
	for i, v := range samples {
		samples[i] = audio.ClampSample(int64(float64(v) * gain))
	}
}

// mapChannels appends src, interleaved with from channels, re-laid out for
// to channels. Mono is duplicated, stereo to mono is averaged, otherwise
// channels are truncated or padded with silence.
func mapChannels(dst, src []int32, from, to int) []int32 {
	if from == to {
		return append(dst, src...)
	}
	frames := len(src) / from
	for f := 0; f < frames; f++ {
		in := src[f*from : (f+1)*from]
		switch {
		case from == 1:
			for c := 0; c < to; c++ {
				dst = append(dst, in[0])
			}
		case from == 2 && to == 1:
			dst = append(dst, int32((int64(in[0])+int64(in[1]))/2))
		default:
			for c := 0; c < to; c++ {
				if c < from {
					dst = append(dst, in[c])
				} else {
					dst = append(dst, 0)
				}
			}
		}
	}
	return dst
}
