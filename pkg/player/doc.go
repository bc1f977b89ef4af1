// ABOUTME: Audio player package
// ABOUTME: Decode/dispatch loop feeding the sink through a renderer
// Package player runs the audio dispatch loop: it drains a prioritized
// message queue of demuxed packets and control messages, decodes packets,
// keeps audio in sync with the master clock and hands sample buffers to the
// sink through a Renderer.
//
// A typical caller opens a stream, feeds packets, waits for the Started
// event and then releases playback with a resync:
//
//	p := player.New(eng, listener)
//	p.OpenStream(hints)
//	p.SendMessage(player.NewPacket(pkt, false), 0)
//	// on Started: clock.Discontinuity(pts); p.SendMessage(player.NewResync(pts), 1)
package player
