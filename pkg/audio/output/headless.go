// ABOUTME: Headless audio output for tests and machines without a sound card
// ABOUTME: Renders only when Pull is called
package output

import (
	"fmt"
	"sync"
)

// Headless is a device with no hardware behind it
type Headless struct {
	mu         sync.Mutex
	sampleRate int
	renderer   Renderer
	closed     bool
}

// NewHeadless creates a headless device at the given rate
func NewHeadless(sampleRate int) *Headless {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &Headless{sampleRate: sampleRate}
}

// Start records the renderer
func (h *Headless) Start(r Renderer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("output closed")
	}
	h.renderer = r
	return nil
}

// Pull renders the given number of stereo frames
func (h *Headless) Pull(frames int) []float32 {
	h.mu.Lock()
	r := h.renderer
	closed := h.closed
	h.mu.Unlock()

	out := make([]float32, frames*2)
	if r != nil && !closed {
		r.Render(out)
	}
	return out
}

// SampleRate returns the device rate
func (h *Headless) SampleRate() int {
	return h.sampleRate
}

// Closed reports whether Close has been called
func (h *Headless) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close marks the device closed
func (h *Headless) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
