// ABOUTME: Audio output interface definition
// ABOUTME: Pull-model device contract shared by the oto and headless backends
package output

// Renderer fills dst with interleaved stereo float32 samples
type Renderer interface {
	Render(dst []float32)
}

// RenderFunc adapts a function to the Renderer interface
type RenderFunc func(dst []float32)

// Render calls f(dst)
func (f RenderFunc) Render(dst []float32) {
	f(dst)
}

// Device represents an audio output device that pulls samples from a Renderer
type Device interface {
	// Start begins pulling audio from r
	Start(r Renderer) error

	// SampleRate returns the device rate in Hz
	SampleRate() int

	// Close releases output resources
	Close() error
}
