// ABOUTME: Streaming linear resampler with an adjustable ratio
// ABOUTME: Carries the last input frame across chunks so output stays continuous
package resample

// Resampler performs linear interpolation between consecutive input frames.
// The ratio is input frames consumed per output frame and may change between
// calls, which is how the renderer bends playback speed.
type Resampler struct {
	channels int
	ratio    float64

	position float64 // relative to the first frame of the working buffer
	prev     []int32 // last frame of the previous chunk
	havePrev bool
	work     []int32
}

// New creates a resampler converting inputRate to outputRate.
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		channels: channels,
		ratio:    float64(inputRate) / float64(outputRate),
		prev:     make([]int32, channels),
	}
}

// SetRatio sets the input frames consumed per output frame.
func (r *Resampler) SetRatio(ratio float64) {
	if ratio > 0 {
		r.ratio = ratio
	}
}

// Ratio returns the current step.
func (r *Resampler) Ratio() float64 {
	return r.ratio
}

// Channels returns the interleave count.
func (r *Resampler) Channels() int {
	return r.channels
}

// Resample appends the interpolated frames for input to dst.
// input: interleaved samples
// The final input frame is held back until the next call.
func (r *Resampler) Resample(dst, input []int32) []int32 {
	ch := r.channels
	if len(input) < ch {
		return dst
	}
	input = input[:len(input)/ch*ch]

	work := input
	if r.havePrev {
		r.work = append(append(r.work[:0], r.prev...), input...)
		work = r.work
	}
	frames := len(work) / ch

	for {
		idx := int(r.position)
		if idx+1 >= frames {
			break
		}
		frac := r.position - float64(idx)
		a := work[idx*ch : idx*ch+ch]
		b := work[(idx+1)*ch : (idx+1)*ch+ch]
		for c := 0; c < ch; c++ {
			// Linear interpolation
			v := float64(a[c])*(1.0-frac) + float64(b[c])*frac
			dst = append(dst, int32(v))
		}
		r.position += r.ratio
	}

	copy(r.prev, work[(frames-1)*ch:])
	r.havePrev = true
	r.position -= float64(frames - 1)
	return dst
}

// Reset drops carried state.
func (r *Resampler) Reset() {
	r.position = 0
	r.havePrev = false
	clear(r.prev)
}
