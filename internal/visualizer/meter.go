// ABOUTME: Level meters read from the engine's analyser taps
// ABOUTME: Reports per-slot and master RMS/peak and a downsampled waveform for display
package visualizer

import (
	"math"
	"strings"

	"github.com/warpsong/warpsong-go/internal/engine"
	"github.com/warpsong/warpsong-go/pkg/stem"
)

const (
	// DefaultWindow is how many recent samples a level covers
	DefaultWindow = 1024

	floorDB = -60.0
)

var blocks = []rune("▁▂▃▄▅▆▇█")

// Source exposes analyser taps. *engine.Engine satisfies it.
type Source interface {
	Analyser(slot stem.Category) *engine.Analyser
	MasterAnalyser() *engine.Analyser
}

// Level is one meter reading
type Level struct {
	RMS    float64
	Peak   float64
	Active bool
}

// DB returns the RMS level in dBFS, floored at -60
func (l Level) DB() float64 {
	return ToDB(l.RMS)
}

// Frame is a reading of every meter
type Frame struct {
	Slots  map[stem.Category]Level
	Master Level
}

// Meter reads levels. It never mutates the engine.
type Meter struct {
	src    Source
	window int
}

// New creates a meter over src
func New(src Source, window int) *Meter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Meter{src: src, window: window}
}

// Levels reads every slot and the master bus
func (m *Meter) Levels() Frame {
	f := Frame{Slots: make(map[stem.Category]Level, len(stem.Categories))}
	for _, c := range stem.Categories {
		f.Slots[c] = m.read(m.src.Analyser(c))
	}
	f.Master = m.read(m.src.MasterAnalyser())
	return f
}

func (m *Meter) read(a *engine.Analyser) Level {
	if a == nil {
		return Level{}
	}
	rms, peak := a.Levels(m.window)
	return Level{RMS: rms, Peak: peak, Active: true}
}

// Bars splits the master window into width buckets and returns each bucket's peak in [0,1]
func (m *Meter) Bars(width int) []float64 {
	if width <= 0 {
		return nil
	}
	bars := make([]float64, width)
	samples := m.src.MasterAnalyser().Samples(m.window)
	if len(samples) == 0 {
		return bars
	}

	for i := range bars {
		lo := i * len(samples) / width
		hi := (i + 1) * len(samples) / width
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(samples) {
			hi = len(samples)
		}
		var peak float64
		for _, s := range samples[lo:hi] {
			peak = math.Max(peak, math.Abs(float64(s)))
		}
		bars[i] = math.Min(peak, 1)
	}
	return bars
}

// Sparkline draws bars with block characters
func Sparkline(bars []float64) string {
	var sb strings.Builder
	for _, b := range bars {
		idx := int(math.Round(b * float64(len(blocks)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(blocks) {
			idx = len(blocks) - 1
		}
		sb.WriteRune(blocks[idx])
	}
	return sb.String()
}

// ToDB converts a linear amplitude to dBFS, floored at -60
func ToDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return floorDB
	}
	return math.Max(floorDB, 20*math.Log10(amplitude))
}
