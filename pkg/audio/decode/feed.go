// ABOUTME: Append-only byte feed read by stream decoders
// ABOUTME: Reports io.EOF while empty without ending the stream
package decode

import "io"

// feed buffers packet bytes for a library decoder that pulls from an
// io.Reader. Running dry returns io.EOF; later writes make it readable again.
type feed struct {
	buf []byte
	off int
}

func (f *feed) Write(p []byte) {
	if f.off > 0 && f.off == len(f.buf) {
		f.buf = f.buf[:0]
		f.off = 0
	} else if f.off > 4096 && f.off > len(f.buf)/2 {
		n := copy(f.buf, f.buf[f.off:])
		f.buf = f.buf[:n]
		f.off = 0
	}
	f.buf = append(f.buf, p...)
}

func (f *feed) Read(p []byte) (int, error) {
	if f.off >= len(f.buf) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.off:])
	f.off += n
	return n, nil
}

// Bytes returns the unread bytes without consuming them.
func (f *feed) Bytes() []byte {
	return f.buf[f.off:]
}

func (f *feed) Skip(n int) {
	f.off = min(f.off+n, len(f.buf))
}

func (f *feed) Len() int {
	return len(f.buf) - f.off
}

func (f *feed) Reset() {
	f.buf = f.buf[:0]
	f.off = 0
}
