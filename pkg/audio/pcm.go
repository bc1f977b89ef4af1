// ABOUTME: Packing between 24-bit int32 samples and byte layouts
// ABOUTME: Used by the renderer, sink conversion path and file devices
package audio

import (
	"encoding/binary"
	"math"
)

// PackSamples appends samples encoded as f to dst.
func PackSamples(dst []byte, samples []int32, f SampleFormat) []byte {
	n := len(samples) * f.BytesPerSample()
	start := len(dst)
	if cap(dst)-start < n {
		grown := make([]byte, start, start+n)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:start+n]
	out := dst[start:]

	switch f {
	case FormatS16LE:
		for i, s := range samples {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(SampleToInt16(s)))
		}
	case FormatS16BE:
		for i, s := range samples {
			binary.BigEndian.PutUint16(out[i*2:], uint16(SampleToInt16(s)))
		}
	case FormatS24LE3:
		for i, s := range samples {
			b := SampleTo24Bit(s)
			copy(out[i*3:], b[:])
		}
	case FormatS32LE:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(s<<8))
		}
	case FormatF32LE:
		for i, s := range samples {
			v := float32(s) / float32(-Min24Bit)
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
	}
	return dst
}

// UnpackSamples appends the samples decoded from data to dst. Trailing bytes
// that do not form a whole sample are ignored.
func UnpackSamples(dst []int32, data []byte, f SampleFormat) []int32 {
	bps := f.BytesPerSample()
	if bps == 0 || !f.IsPCM() {
		return dst
	}
	n := len(data) / bps
	for i := 0; i < n; i++ {
		b := data[i*bps:]
		var s int32
		switch f {
		case FormatS16LE:
			s = SampleFromInt16(int16(binary.LittleEndian.Uint16(b)))
		case FormatS16BE:
			s = SampleFromInt16(int16(binary.BigEndian.Uint16(b)))
		case FormatS24LE3:
			s = SampleFrom24Bit([3]byte{b[0], b[1], b[2]})
		case FormatS32LE:
			s = int32(binary.LittleEndian.Uint32(b)) >> 8
		case FormatF32LE:
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
			s = ClampSample(int64(v * float64(-Min24Bit)))
		}
		dst = append(dst, s)
	}
	return dst
}

// SwapBytes16 reverses the byte order of every 16-bit word in place.
func SwapBytes16(data []byte) {
	for i := 0; i+1 < len(data); i += 2 {
		data[i], data[i+1] = data[i+1], data[i]
	}
}
