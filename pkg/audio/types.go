// ABOUTME: Audio type definitions
// ABOUTME: Defines decoded stem buffers and sample conversion helpers
package audio

import (
	"fmt"
	"time"
)

// Channels is the channel count of every decoded buffer (mono sources are duplicated)
const Channels = 2

// Buffer is decoded in-memory audio for one stem: interleaved stereo float32 in [-1, 1]
type Buffer struct {
	SampleRate int
	Samples    []float32
}

// NewBuffer builds a stereo buffer from interleaved samples with the given channel count.
// Mono input is duplicated to both channels; channels beyond two are dropped.
func NewBuffer(sampleRate, channels int, interleaved []float32) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	frames := len(interleaved) / channels
	if frames == 0 {
		return nil, fmt.Errorf("buffer has no audio frames")
	}

	if channels == Channels {
		return &Buffer{SampleRate: sampleRate, Samples: interleaved[:frames*Channels]}, nil
	}

	samples := make([]float32, frames*Channels)
	for i := 0; i < frames; i++ {
		l := interleaved[i*channels]
		r := l
		if channels > 1 {
			r = interleaved[i*channels+1]
		}
		samples[i*2] = l
		samples[i*2+1] = r
	}
	return &Buffer{SampleRate: sampleRate, Samples: samples}, nil
}

// Frames returns the number of stereo frames
func (b *Buffer) Frames() int {
	if b == nil {
		return 0
	}
	return len(b.Samples) / Channels
}

// Seconds returns the buffer length in seconds
func (b *Buffer) Seconds() float64 {
	if b == nil || b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Duration returns the buffer length
func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.Seconds() * float64(time.Second))
}

// SampleFromInt16 converts a 16-bit PCM sample to float32
func SampleFromInt16(sample int16) float32 {
	return float32(sample) / 32768.0
}

// SampleFromInt converts a signed integer sample of the given bit depth to float32
func SampleFromInt(sample int32, bitDepth int) float32 {
	if bitDepth <= 0 || bitDepth > 32 {
		return 0
	}
	scale := float64(int64(1) << uint(bitDepth-1))
	return float32(float64(sample) / scale)
}

// SampleToInt16 converts a float32 sample to 16-bit PCM with clipping
func SampleToInt16(sample float32) int16 {
	if sample >= 1 {
		return 32767
	}
	if sample <= -1 {
		return -32768
	}
	return int16(sample * 32768.0)
}
