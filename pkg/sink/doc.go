// ABOUTME: Audio sink actor package
// ABOUTME: One goroutine owns the output device and serves control and data messages
// Package sink implements the actor that owns the audio output device.
//
// Callers talk to the sink only through its actor.Protocol: control
// messages (Configure, Flush, Volume, ...) are always served before data
// messages (Sample, Drain). Sample buffers are handed over by pointer and
// come back exactly once as a ReturnSample reply.
//
// Example:
//
//	s := sink.New(sink.Options{Factory: output.New, Stats: stats})
//	go s.Run(ctx)
//	reply, err := s.Protocol().SendControlSync(ctx, sink.SigConfigure, sink.Config{...}, time.Second)
package sink
