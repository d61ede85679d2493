// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines the decoded Buffer type and sample conversion functions
// Package audio provides the decoded audio types shared by the stem mixer.
//
// Every stem is decoded once into a Buffer: interleaved stereo float32 samples
// at the stem's native sample rate. Playback rate and device rate conversion
// happen at render time in the engine, so buffers are never resampled.
//
// Example:
//
//	buf, err := audio.NewBuffer(44100, 1, monoSamples)
//	fmt.Println(buf.Duration())
package audio
