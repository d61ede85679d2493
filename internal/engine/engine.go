// ABOUTME: Audio engine owning the master bus, shared clock, and per-slot player graph
// ABOUTME: Mixes looping stems through volume, analyser, master gain and limiter for a pull device
package engine

import (
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/warpsong/warpsong-go/pkg/audio"
	"github.com/warpsong/warpsong-go/pkg/audio/output"
	"github.com/warpsong/warpsong-go/pkg/stem"
)

const (
	// ReferenceBPM is the tempo at which every stem plays at its native speed
	ReferenceBPM = 130.0
	MinBPM       = 60.0
	MaxBPM       = 200.0

	DefaultSampleRate   = 44100
	DefaultStartLatency = 100 * time.Millisecond
)

// ClampTempo limits bpm to the supported range
func ClampTempo(bpm float64) float64 {
	if math.IsNaN(bpm) {
		return ReferenceBPM
	}
	return math.Max(MinBPM, math.Min(MaxBPM, bpm))
}

// Config holds engine configuration
type Config struct {
	SampleRate   int
	StartLatency time.Duration
	NewDevice    func(sampleRate int) (output.Device, error)
	Now          func() time.Time
}

// Engine owns every audio node of one session
type Engine struct {
	config Config

	initMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	tornDown    bool
	device      output.Device
	deviceRate  int
	epoch       time.Time
	masterGain  float32
	limiter     *Limiter
	master      *Analyser
	clock       *Clock
	tempo       float64
	bundles     map[stem.Category]*bundle
	volumes     map[stem.Category]*volume
	cache       io.Closer
	slotScratch []float32

	teardownOnce sync.Once
}

// New creates an engine. No device is opened until EnsureInitialized.
func New(config Config) *Engine {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.StartLatency <= 0 {
		config.StartLatency = DefaultStartLatency
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewDevice == nil {
		config.NewDevice = func(sampleRate int) (output.Device, error) {
			return output.NewOto(sampleRate)
		}
	}

	return &Engine{
		config:     config,
		masterGain: 1,
		clock:      NewClock(config.Now),
		tempo:      ReferenceBPM,
		bundles:    make(map[stem.Category]*bundle),
		volumes:    make(map[stem.Category]*volume),
	}
}

// EnsureInitialized opens the audio device and builds the master bus. Idempotent.
func (e *Engine) EnsureInitialized() error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.Lock()
	if e.tornDown {
		e.mu.Unlock()
		return ErrTornDown
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	dev, err := e.config.NewDevice(e.config.SampleRate)
	if err != nil {
		return &InitializationError{Err: err}
	}

	e.mu.Lock()
	e.device = dev
	e.deviceRate = dev.SampleRate()
	if e.deviceRate <= 0 {
		e.deviceRate = e.config.SampleRate
	}
	e.epoch = e.config.Now()
	e.limiter = NewLimiter(DefaultCeilingDB, e.deviceRate/10)
	e.master = NewAnalyser(DefaultAnalyserSize)
	e.initialized = true
	e.mu.Unlock()

	if err := dev.Start(e); err != nil {
		e.mu.Lock()
		e.initialized = false
		e.device = nil
		e.mu.Unlock()
		dev.Close()
		return &InitializationError{Err: fmt.Errorf("failed to start device: %w", err)}
	}

	log.Printf("Audio engine initialized: %dHz, ceiling %.1f dBFS", e.deviceRate, DefaultCeilingDB)
	return nil
}

// Initialized reports whether the device is open
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// AttachCache hands the buffer cache to the engine so Teardown releases it
func (e *Engine) AttachCache(cache io.Closer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = cache
}

// Now returns the engine's notion of the current instant
func (e *Engine) Now() time.Time {
	return e.config.Now()
}

// ContextTime returns seconds since initialization
func (e *Engine) ContextTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return 0
	}
	return e.config.Now().Sub(e.epoch).Seconds()
}

// StartLatency is the lead time given to scheduled starts
func (e *Engine) StartLatency() time.Duration {
	return e.config.StartLatency
}

// Clock returns the shared playback clock
func (e *Engine) Clock() *Clock {
	return e.clock
}

// CreatePlayer disposes any bundle at slot and builds a new one bound to buf
func (e *Engine) CreatePlayer(slot stem.Category, buf *audio.Buffer) (*Player, error) {
	if buf == nil || buf.Frames() == 0 {
		return nil, fmt.Errorf("create player for %s: empty buffer", slot)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tornDown {
		return nil, ErrTornDown
	}

	if old, ok := e.bundles[slot]; ok {
		old.player.dispose()
		delete(e.bundles, slot)
	}

	vol, ok := e.volumes[slot]
	if !ok {
		vol = newVolume()
		e.volumes[slot] = vol
	}

	p := &Player{
		engine: e,
		slot:   slot,
		buf:    buf,
		state:  PlayerStopped,
		rate:   e.tempo / ReferenceBPM,
	}
	e.bundles[slot] = &bundle{
		player:   p,
		volume:   vol,
		analyser: NewAnalyser(DefaultAnalyserSize),
	}

	log.Printf("Player created for %s (%v loop)", slot, buf.Duration())
	return p, nil
}

// Player returns the live player at slot
func (e *Engine) Player(slot stem.Category) (*Player, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bundles[slot]
	if !ok {
		return nil, false
	}
	return b.player, true
}

// HasPlayer reports whether slot has a live player bound to buf
func (e *Engine) HasPlayer(slot stem.Category, buf *audio.Buffer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bundles[slot]
	return ok && b.player.buf == buf
}

// LivePlayers returns the number of undisposed players
func (e *Engine) LivePlayers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bundles)
}

// StartPlayer schedules the slot's player to sound at when, reading from offset seconds
func (e *Engine) StartPlayer(slot stem.Category, when time.Time, offset float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tornDown {
		return ErrTornDown
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	b, ok := e.bundles[slot]
	if !ok {
		return fmt.Errorf("start %s: %w", slot, ErrNoPlayer)
	}
	b.player.start(when, offset)
	return nil
}

// StopPlayer stops the slot's player, including a start still pending
func (e *Engine) StopPlayer(slot stem.Category) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.bundles[slot]; ok {
		b.player.stop()
	}
}

// StopAll stops every player
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.bundles {
		b.player.stop()
	}
}

// DisposePlayer disposes the slot's bundle
func (e *Engine) DisposePlayer(slot stem.Category) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.bundles[slot]; ok {
		b.player.dispose()
		delete(e.bundles, slot)
	}
}

// DisposeAll disposes every bundle
func (e *Engine) DisposeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposeAllLocked()
}

func (e *Engine) disposeAllLocked() {
	for slot, b := range e.bundles {
		b.player.dispose()
		delete(e.bundles, slot)
	}
}

// SetTempo clamps bpm, sets the clock rate and every player's rate. Returns the applied tempo.
func (e *Engine) SetTempo(bpm float64) float64 {
	bpm = ClampTempo(bpm)
	rate := bpm / ReferenceBPM

	e.mu.Lock()
	e.tempo = bpm
	for _, b := range e.bundles {
		b.player.rate = rate
	}
	e.mu.Unlock()

	e.clock.SetRate(rate)
	return bpm
}

// Tempo returns the current tempo
func (e *Engine) Tempo() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tempo
}

// SetVolume sets a slot's level (0-100)
func (e *Engine) SetVolume(slot stem.Category, level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.volumeLocked(slot).level = level
}

// Mute sets a slot's mute state
func (e *Engine) Mute(slot stem.Category, muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volumeLocked(slot).muted = muted
}

// Volume returns a slot's level and mute state
func (e *Engine) Volume(slot stem.Category) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.volumeLocked(slot)
	return v.level, v.muted
}

func (e *Engine) volumeLocked(slot stem.Category) *volume {
	v, ok := e.volumes[slot]
	if !ok {
		v = newVolume()
		e.volumes[slot] = v
	}
	return v
}

// SetMasterGain sets the master bus gain (linear)
func (e *Engine) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.masterGain = float32(gain)
}

// Analyser returns the slot's analyser, or nil with no bundle
func (e *Engine) Analyser(slot stem.Category) *Analyser {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.bundles[slot]; ok {
		return b.analyser
	}
	return nil
}

// MasterAnalyser returns the master bus analyser, or nil before initialization
func (e *Engine) MasterAnalyser() *Analyser {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.master
}

// Render mixes interleaved stereo into dst. Called from the device goroutine.
func (e *Engine) Render(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized || e.tornDown {
		return
	}

	frames := len(dst) / 2
	if cap(e.slotScratch) < frames*2 {
		e.slotScratch = make([]float32, frames*2)
	}
	scratch := e.slotScratch[:frames*2]
	now := e.config.Now()
	deviceRate := float64(e.deviceRate)

	for _, b := range e.bundles {
		p := b.player
		for i := range scratch {
			scratch[i] = 0
		}

		if p.state == PlayerStarted {
			first := 0
			if p.pending {
				wait := p.startAt.Sub(now).Seconds()
				if wait > 0 {
					first = int(math.Ceil(wait * deviceRate))
				}
				if first < frames {
					p.pending = false
				}
			}

			gain := b.volume.multiplier()
			step := p.rate * float64(p.buf.SampleRate) / deviceRate
			for i := first; i < frames; i++ {
				l, r := p.next(step)
				scratch[i*2] = l * gain
				scratch[i*2+1] = r * gain
			}
			for i := range scratch {
				dst[i] += scratch[i]
			}
		}

		b.analyser.write(scratch)
	}

	if e.masterGain != 1 {
		for i := range dst {
			dst[i] *= e.masterGain
		}
	}
	e.limiter.Process(dst[:frames*2])
	e.master.write(dst[:frames*2])
}

// Teardown stops the clock, disposes every node, closes the device and the cache.
// Only the first call has any effect.
func (e *Engine) Teardown() error {
	var err error
	e.teardownOnce.Do(func() {
		e.clock.Stop()
		e.clock.Reset()

		e.mu.Lock()
		e.tornDown = true
		e.disposeAllLocked()
		dev := e.device
		cache := e.cache
		e.device = nil
		e.cache = nil
		e.initialized = false
		e.mu.Unlock()

		if dev != nil {
			if closeErr := dev.Close(); closeErr != nil {
				err = fmt.Errorf("failed to close audio device: %w", closeErr)
			}
		}
		if cache != nil {
			if closeErr := cache.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("failed to close buffer cache: %w", closeErr)
			}
		}
		log.Printf("Audio engine torn down")
	})
	return err
}
