// ABOUTME: Master bus limiter
// ABOUTME: Peak limiter with instant attack and exponential release below a dBFS ceiling
package engine

import "math"

// DefaultCeilingDB is the limiter ceiling in dBFS
const DefaultCeilingDB = -1.0

// Limiter keeps the master bus below its ceiling
type Limiter struct {
	ceiling float32
	release float32
	gain    float32
}

// NewLimiter creates a limiter. releaseFrames is the approximate recovery time in frames.
func NewLimiter(ceilingDB float64, releaseFrames int) *Limiter {
	if releaseFrames <= 0 {
		releaseFrames = 4410
	}
	return &Limiter{
		ceiling: float32(math.Pow(10, ceilingDB/20)),
		release: float32(1 / float64(releaseFrames)),
		gain:    1,
	}
}

// Ceiling returns the linear ceiling
func (l *Limiter) Ceiling() float32 {
	return l.ceiling
}

// Process limits interleaved stereo in place
func (l *Limiter) Process(stereo []float32) {
	for i := 0; i+1 < len(stereo); i += 2 {
		peak := abs32(stereo[i])
		if r := abs32(stereo[i+1]); r > peak {
			peak = r
		}

		target := float32(1)
		if peak > l.ceiling {
			target = l.ceiling / peak
		}
		if target < l.gain {
			l.gain = target
		} else {
			l.gain += (target - l.gain) * l.release
		}

		stereo[i] = clamp32(stereo[i]*l.gain, l.ceiling)
		stereo[i+1] = clamp32(stereo[i+1]*l.gain, l.ceiling)
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp32(v, limit float32) float32 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
