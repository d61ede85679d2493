// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the pull-model Device interface with oto and headless backends
// Package output provides audio playback devices.
//
// Devices pull interleaved stereo float32 from a Renderer. Oto plays through
// the system sound card; Headless renders only on demand and is used in tests.
//
// Example:
//
//	dev, err := output.NewOto(44100)
//	err = dev.Start(mixer)
package output
