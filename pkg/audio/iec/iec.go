// ABOUTME: IEC 61937 burst packer for passthrough streams
// ABOUTME: Preamble, byte-swapped payload, zero padding and pause bursts
package iec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

const (
	preamble1 = 0xF872
	preamble2 = 0x4E1F

	headerSize = 8

	// CarrierFrameSize is one 2-channel 16-bit carrier frame.
	CarrierFrameSize = 4

	maxPausePacket = 61440
)

// Burst data types.
const (
	typeAC3     = 0x01
	typePause   = 0x03
	typeDTS512  = 0x0B
	typeDTS1024 = 0x0C
	typeDTS2048 = 0x0D
	typeEAC3    = 0x15
)

var (
	// ErrUnsupported is returned for stream types that cannot be packed.
	ErrUnsupported = errors.New("iec: unsupported stream type")

	// ErrTooLarge is returned when a frame does not fit in one burst.
	ErrTooLarge = errors.New("iec: frame larger than burst")
)

// BurstSize returns the size in bytes of one burst of st.
func BurstSize(st audio.StreamType) int {
	return st.FramesPerBurst() * CarrierFrameSize
}

// CarrierRate returns the PCM rate a stream of st encoded at rate is sent at.
func CarrierRate(st audio.StreamType, rate int) int {
	if st == audio.StreamEAC3 {
		return rate * 4
	}
	return rate
}

// Packer builds bursts into a reusable buffer. The returned slices are only
// valid until the next call.
type Packer struct {
	buf []byte

	pauseFor time.Duration
	pauseTyp audio.StreamType
	pause    []byte
}

// Pack wraps one encoded frame into a burst.
func (p *Packer) Pack(st audio.StreamType, frame []byte) ([]byte, error) {
	var typ uint16
	var length uint16
	switch st {
	case audio.StreamAC3:
		typ, length = typeAC3, uint16(len(frame)<<3)
	case audio.StreamDTS512:
		typ, length = typeDTS512, uint16(len(frame)<<3)
	case audio.StreamDTS1024:
		typ, length = typeDTS1024, uint16(len(frame)<<3)
	case audio.StreamDTS2048:
		typ, length = typeDTS2048, uint16(len(frame)<<3)
	case audio.StreamEAC3:
		typ, length = typeEAC3, uint16(len(frame))
	default:
		return nil, fmt.Errorf("%s: %w", st, ErrUnsupported)
	}

	size := BurstSize(st)
	if len(frame) > size-headerSize {
		return nil, fmt.Errorf("%s frame of %d bytes: %w", st, len(frame), ErrTooLarge)
	}

	p.buf = grow(p.buf, size)
	writeHeader(p.buf, typ, length)
	payload := p.buf[headerSize:]
	n := copy(payload, frame)
	clear(payload[n:])

	// Words go out little-endian; the bitstream is big-endian.
	audio.SwapBytes16(payload[:(n+1)&^1])
	return p.buf, nil
}

// PackPause builds pause bursts covering d of silence for st at the given
// carrier rate. The result is cached while d and st do not change.
func (p *Packer) PackPause(st audio.StreamType, carrierRate int, encodedRate int, d time.Duration) []byte {
	if p.pause != nil && p.pauseFor == d && p.pauseTyp == st {
		return p.pause
	}

	repPeriod := 3
	if st == audio.StreamEAC3 {
		repPeriod = 4
	}
	periodBytes := repPeriod * CarrierFrameSize
	periodTime := time.Duration(repPeriod) * time.Second / time.Duration(carrierRate)
	periods := int(d / periodTime)
	if periods < 1 {
		periods = 1
	}
	if maxPeriods := maxPausePacket / periodBytes; periods > maxPeriods {
		periods = maxPeriods
	}

	buf := make([]byte, periods*periodBytes)
	writeHeader(buf, typePause, 32)
	for i := 1; i < periods; i++ {
		copy(buf[i*periodBytes:(i+1)*periodBytes], buf[:periodBytes])
	}
	gap := uint16(int64(encodedRate) * int64(d/time.Millisecond) / 1000)
	binary.LittleEndian.PutUint16(buf[headerSize:], gap)

	p.pause, p.pauseFor, p.pauseTyp = buf, d, st
	return buf
}

// Reset drops cached state.
func (p *Packer) Reset() {
	p.pause = nil
	p.pauseFor = 0
}

func writeHeader(b []byte, typ, length uint16) {
	binary.LittleEndian.PutUint16(b[0:], preamble1)
	binary.LittleEndian.PutUint16(b[2:], preamble2)
	binary.LittleEndian.PutUint16(b[4:], typ)
	binary.LittleEndian.PutUint16(b[6:], length)
}

func grow(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}
