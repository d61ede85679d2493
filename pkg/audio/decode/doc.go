// ABOUTME: Audio decoder package for stem file formats
// ABOUTME: Provides Decoder interface and implementations for MP3, FLAC, WAV
// Package decode turns complete encoded stem files into audio.Buffer values.
//
// Supports: MP3 (go-mp3), FLAC (mewkiz/flac), WAV (cwbudde/wav).
//
// All decoders output interleaved stereo float32 at the file's native
// sample rate. Auto sniffs the container from its magic bytes.
//
// Example:
//
//	buf, err := decode.Auto().Decode(fileBytes)
package decode
