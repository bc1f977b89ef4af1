// ABOUTME: MPEG audio frame header parsing
// ABOUTME: Finds frame boundaries so packets and the decoder stay frame-aligned
package decode

// MP3Header is a parsed MPEG-1 Layer III frame header.
type MP3Header struct {
	SampleRate int
	Channels   int
	Bitrate    int // kbit/s
	FrameSize  int // bytes including the header
	Samples    int // per channel
}

var (
	mp3Bitrates    = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mp3SampleRates = [4]int{44100, 48000, 32000, 0}
)

// ParseMP3Header parses the four header bytes at the start of b. Only
// MPEG-1 Layer III with a fixed bitrate is accepted.
func ParseMP3Header(b []byte) (MP3Header, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return MP3Header{}, false
	}
	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	if version != 3 || layer != 1 {
		return MP3Header{}, false
	}
	bitrate := mp3Bitrates[b[2]>>4]
	rate := mp3SampleRates[(b[2]>>2)&0x03]
	if bitrate == 0 || rate == 0 {
		return MP3Header{}, false
	}
	padding := int((b[2] >> 1) & 0x01)
	channels := 2
	if b[3]>>6 == 3 {
		channels = 1
	}
	return MP3Header{
		SampleRate: rate,
		Channels:   channels,
		Bitrate:    bitrate,
		FrameSize:  144*bitrate*1000/rate + padding,
		Samples:    1152,
	}, true
}

// SyncMP3 returns the offset of the first valid frame header in b, or -1.
func SyncMP3(b []byte) int {
	for i := 0; i+4 <= len(b); i++ {
		if b[i] != 0xFF {
			continue
		}
		if _, ok := ParseMP3Header(b[i:]); ok {
			return i
		}
	}
	return -1
}
