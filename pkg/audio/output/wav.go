// ABOUTME: WAV file output device paced like a real-time sink
// ABOUTME: Writes with go-wav and patches the header sizes on close
package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/youpy/go-wav"
)

// WAV captures output to a file. Writes are paced by an embedded Null device
// so the pipeline sees a device that consumes audio in real time.
type WAV struct {
	*Null

	path string

	mu     sync.Mutex
	file   *os.File
	writer *wav.Writer
	format audio.Format
	frames uint32
}

// NewWAV creates a device writing to path.
func NewWAV(path string, opts ...NullOption) *WAV {
	return &WAV{Null: NewNull(opts...), path: path}
}

// Name returns the device id.
func (w *WAV) Name() string {
	return "wav:" + w.path
}

// Open creates the file. Float and big-endian input is accepted as the
// nearest little-endian integer layout.
func (w *WAV) Open(format audio.Format) (audio.Format, error) {
	if !format.Valid() {
		return audio.Format{}, fmt.Errorf("wav device: invalid format %s", format)
	}
	accepted := integerPCM(format)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.closeFileLocked(); err != nil {
		slog.Warn("wav device: closing previous file", "error", err)
	}

	f, err := os.Create(w.path)
	if err != nil {
		return audio.Format{}, fmt.Errorf("wav device: %w", err)
	}
	w.file = f
	w.format = accepted
	w.frames = 0
	w.writer = newWavWriter(f, 0, accepted)

	if _, err := w.Null.Open(accepted); err != nil {
		w.closeFileLocked()
		return audio.Format{}, err
	}
	slog.Info("wav device opened", "path", w.path, "format", accepted.String())
	return accepted, nil
}

func newWavWriter(out io.Writer, frames uint32, f audio.Format) *wav.Writer {
	bits := uint16(f.DataFormat.BytesPerSample() * 8)
	return wav.NewWriter(out, frames, uint16(f.Channels), uint32(f.SampleRate), bits)
}

// Write paces the data and appends it to the file.
func (w *WAV) Write(data []byte) (int, error) {
	frames, err := w.Null.Write(data)
	if err != nil {
		return frames, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return 0, ErrDeviceClosed
	}
	n := frames * w.format.FrameSize()
	if _, err := w.writer.Write(data[:n]); err != nil {
		return 0, fmt.Errorf("wav device: %w", err)
	}
	w.frames += uint32(frames)
	return frames, nil
}

// Close finishes the file.
func (w *WAV) Close() error {
	w.Null.Close()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFileLocked()
}

// closeFileLocked rewrites the header with the final sizes.
func (w *WAV) closeFileLocked() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	w.writer = nil

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("wav device: %w", err)
	}
	newWavWriter(f, w.frames, w.format)
	if err := f.Close(); err != nil {
		return fmt.Errorf("wav device: %w", err)
	}
	slog.Debug("wav device closed", "path", w.path, "frames", w.frames)
	return nil
}
