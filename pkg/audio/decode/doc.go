// ABOUTME: Audio decoder package
// ABOUTME: Packet-in, frame-out decoders for PCM, Opus, MP3, FLAC and passthrough
// Package decode turns demuxed packets into audio frames.
//
// Decoders follow a two-step contract: AddData queues a packet (returning
// ErrBufferFull while output is still pending) and GetData hands out one
// frame at a time. NewForStream selects a decoder from stream hints.
//
// Example:
//
//	dec, err := decode.NewForStream(hints, decode.Options{})
//	err = dec.AddData(pkt)
//	frame, err := dec.GetData()
package decode
