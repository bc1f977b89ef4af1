// ABOUTME: High quality sample rate conversion backed by libsoxr
// ABOUTME: Used when a device opens at a different rate than the stream
package resample

import (
	"bytes"
	"fmt"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	soxr "github.com/zaf/resample"
)

// Converter converts a fixed rate pair through soxr. Samples pass through
// as 16-bit, the format soxr is fed with.
type Converter struct {
	res      *soxr.Resampler
	out      bytes.Buffer
	in       []byte
	channels int
	from, to int
}

// NewConverter creates a converter from one rate to another.
func NewConverter(from, to, channels int) (*Converter, error) {
	c := &Converter{channels: channels, from: from, to: to}
	res, err := soxr.New(&c.out, float64(from), float64(to), channels, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	c.res = res
	return c, nil
}

// Rates returns the input and output rates.
func (c *Converter) Rates() (from, to int) {
	return c.from, c.to
}

// Process appends the converted samples for input to dst. Output lags input
// by the filter delay.
func (c *Converter) Process(dst, input []int32) ([]int32, error) {
	c.in = audio.PackSamples(c.in[:0], input, audio.FormatS16LE)
	if _, err := c.res.Write(c.in); err != nil {
		return dst, fmt.Errorf("failed to resample: %w", err)
	}

	frameBytes := c.channels * 2
	n := c.out.Len() / frameBytes * frameBytes
	dst = audio.UnpackSamples(dst, c.out.Next(n), audio.FormatS16LE)
	return dst, nil
}

// Close releases the soxr state.
func (c *Converter) Close() error {
	if c.res == nil {
		return nil
	}
	err := c.res.Close()
	c.res = nil
	c.out.Reset()
	return err
}
