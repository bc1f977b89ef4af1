// ABOUTME: Audio encoder package
// ABOUTME: Packs 24-bit samples into PCM or Opus packets for local sources
// Package encode turns int32 samples in 24-bit range into stream packets.
//
// Sources use it to feed the decode stage the same way a network stream
// would, so every codec path through the player can be exercised locally.
package encode
