// Package clock provides the master playback clock.
//
// The clock runs at a speed set by the player, can be paused and moved with
// Discontinuity, and accepts small error adjustments from the renderer while
// in sync. Every method is safe for concurrent use.
package clock
