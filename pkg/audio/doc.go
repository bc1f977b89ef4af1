// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Frame and sample layout conversions
// Package audio provides the types shared by every stage of the pipeline.
//
//   - Format: stream format (codec, rate, channels, bit depth, byte layout,
//     passthrough stream type)
//   - Frame: one unit of decoder output with its timestamp
//   - SampleFormat: byte layouts understood by the sink and devices
//
// PCM travels between stages as int32 samples in 24-bit range and is packed to
// a SampleFormat only when it is handed to the sink.
//
// Example:
//
//	format := audio.Format{
//	    Codec:      "pcm",
//	    SampleRate: 48000,
//	    Channels:   2,
//	    BitDepth:   16,
//	    DataFormat: audio.FormatS16LE,
//	}
//	data := audio.PackSamples(nil, samples, format.DataFormat)
package audio
