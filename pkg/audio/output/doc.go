// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Device interface and its backends
// Package output provides audio playback devices.
//
// Backends: malgo (miniaudio), oto, PortAudio (build tag portaudio), a null
// device that drains in real time, and a WAV file capture device.
//
// Example:
//
//	dev, err := output.New("malgo")
//	accepted, err := dev.Open(format)
//	frames, err := dev.Write(packed)
package output
