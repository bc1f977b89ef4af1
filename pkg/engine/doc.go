// ABOUTME: Engine context package
// ABOUTME: Builds and owns the shared pieces of one audio pipeline
// Package engine holds what the dispatch loop and the sink share: the
// master clock, statistics, device and decoder factories, the logger and
// the sink actor itself. It is created once and passed to the player.
package engine
