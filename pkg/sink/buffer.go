// ABOUTME: Pooled sample buffers handed from the renderer to the sink
// ABOUTME: The pool counts outstanding buffers so leaks show up in tests
package sink

import (
	"errors"
	"sync"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

// ErrDoubleRelease is returned when a buffer goes back to its pool twice.
var ErrDoubleRelease = errors.New("sink: buffer released twice")

// SampleBuffer carries packed audio in Format. For passthrough formats Data
// holds one encoded frame.
type SampleBuffer struct {
	FrameID uint64
	PTS     time.Duration
	Format  audio.Format
	Data    []byte
	Frames  int

	pool  *BufferPool
	inUse bool
}

// DataSize returns the payload size in bytes.
func (b *SampleBuffer) DataSize() int {
	return len(b.Data)
}

// Duration returns the playing time of the buffer.
func (b *SampleBuffer) Duration() time.Duration {
	return b.Format.FramesToDuration(b.Frames)
}

// Release gives the buffer back to its pool.
func (b *SampleBuffer) Release() error {
	if b.pool == nil {
		return nil
	}
	return b.pool.put(b)
}

// BufferPool recycles sample buffers.
type BufferPool struct {
	mu          sync.Mutex
	free        []*SampleBuffer
	outstanding int
}

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{}
}

// Get returns a buffer with room for size bytes; Data has length 0.
func (p *BufferPool) Get(size int) *SampleBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b *SampleBuffer
	if n := len(p.free); n > 0 {
		b = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		b = &SampleBuffer{pool: p}
	}
	if cap(b.Data) < size {
		b.Data = make([]byte, 0, size)
	}
	b.Data = b.Data[:0]
	b.FrameID, b.PTS, b.Frames = 0, 0, 0
	b.Format = audio.Format{}
	b.inUse = true
	p.outstanding++
	return b
}

func (p *BufferPool) put(b *SampleBuffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !b.inUse {
		return ErrDoubleRelease
	}
	b.inUse = false
	p.outstanding--
	p.free = append(p.free, b)
	return nil
}

// Outstanding returns how many buffers are handed out.
func (p *BufferPool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}
