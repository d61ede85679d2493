// ABOUTME: Analyser tap for visualization
// ABOUTME: Captures a mono mix of rendered audio into a ring buffer
package engine

import (
	"math"
	"sync"
)

// DefaultAnalyserSize is the ring length in frames
const DefaultAnalyserSize = 2048

// Analyser copies samples passing through it into a ring buffer
type Analyser struct {
	mu   sync.Mutex
	buf  []float32
	pos  int
	size int
}

// NewAnalyser creates an analyser with the given ring size
func NewAnalyser(size int) *Analyser {
	if size <= 0 {
		size = DefaultAnalyserSize
	}
	return &Analyser{buf: make([]float32, size), size: size}
}

// write captures interleaved stereo as mono
func (a *Analyser) write(stereo []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i+1 < len(stereo); i += 2 {
		a.buf[a.pos] = (stereo[i] + stereo[i+1]) / 2
		a.pos = (a.pos + 1) % a.size
	}
}

// Samples returns the last n samples in chronological order
func (a *Analyser) Samples(n int) []float32 {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n > a.size {
		n = a.size
	}
	if n < 0 {
		n = 0
	}
	out := make([]float32, n)
	start := (a.pos - n + a.size) % a.size
	for i := 0; i < n; i++ {
		out[i] = a.buf[(start+i)%a.size]
	}
	return out
}

// Levels returns RMS and peak over the last n samples
func (a *Analyser) Levels(n int) (rms, peak float64) {
	samples := a.Samples(n)
	if len(samples) == 0 {
		return 0, 0
	}

	var sum float64
	for _, s := range samples {
		v := math.Abs(float64(s))
		sum += v * v
		if v > peak {
			peak = v
		}
	}
	return math.Sqrt(sum / float64(len(samples))), peak
}
