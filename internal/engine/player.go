// ABOUTME: Per-slot player, volume and resource bundle
// ABOUTME: A looping player bound to one decoded buffer, owned and mutated only by the engine
package engine

import (
	"math"
	"time"

	"github.com/warpsong/warpsong-go/pkg/audio"
	"github.com/warpsong/warpsong-go/pkg/stem"
)

// PlayerState is the lifecycle state of a player
type PlayerState int

const (
	PlayerStopped PlayerState = iota
	PlayerStarted
	PlayerDisposed
)

func (s PlayerState) String() string {
	switch s {
	case PlayerStopped:
		return "stopped"
	case PlayerStarted:
		return "started"
	case PlayerDisposed:
		return "disposed"
	}
	return "unknown"
}

// Player loops over the full duration of its buffer. Fields are guarded by the owning engine's lock.
type Player struct {
	engine *Engine
	slot   stem.Category
	buf    *audio.Buffer

	state   PlayerState
	rate    float64
	startAt time.Time
	pending bool
	offset  float64
	cursor  float64
}

// Slot returns the slot this player was created for
func (p *Player) Slot() stem.Category { return p.slot }

// Buffer returns the bound buffer
func (p *Player) Buffer() *audio.Buffer { return p.buf }

// State returns the lifecycle state
func (p *Player) State() PlayerState {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	return p.state
}

// Rate returns the playback rate relative to the buffer's native speed
func (p *Player) Rate() float64 {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	return p.rate
}

// StartOffset returns the buffer offset in seconds of the last start
func (p *Player) StartOffset() float64 {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	return p.offset
}

// StartTime returns the instant of the last scheduled start
func (p *Player) StartTime() time.Time {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	return p.startAt
}

func (p *Player) start(when time.Time, offset float64) {
	duration := p.buf.Seconds()
	if duration > 0 {
		offset = math.Mod(offset, duration)
		if offset < 0 {
			offset += duration
		}
	}

	p.state = PlayerStarted
	p.startAt = when
	p.pending = true
	p.offset = offset
	p.cursor = offset * float64(p.buf.SampleRate)
}

func (p *Player) stop() {
	if p.state == PlayerDisposed {
		return
	}
	p.state = PlayerStopped
	p.pending = false
}

func (p *Player) dispose() {
	p.state = PlayerDisposed
	p.pending = false
}

// next returns the interpolated frame at the cursor and advances by step frames
func (p *Player) next(step float64) (float32, float32) {
	frames := p.buf.Frames()
	i0 := int(p.cursor)
	if i0 >= frames {
		i0 = frames - 1
	}
	i1 := i0 + 1
	if i1 >= frames {
		i1 = 0
	}
	frac := float32(p.cursor - float64(i0))

	s := p.buf.Samples
	l := s[i0*2]*(1-frac) + s[i1*2]*frac
	r := s[i0*2+1]*(1-frac) + s[i1*2+1]*frac

	p.cursor += step
	if p.cursor >= float64(frames) {
		p.cursor = math.Mod(p.cursor, float64(frames))
	}
	return l, r
}

// volume is the per-slot gain node. Settings outlive the bundle so a
// level chosen before the stem loads applies once it does.
type volume struct {
	level int
	muted bool
}

func newVolume() *volume {
	return &volume{level: 100}
}

// multiplier calculates the linear gain
func (v *volume) multiplier() float32 {
	return float32(getVolumeMultiplier(v.level, v.muted))
}

// getVolumeMultiplier maps 0-100 to a linear multiplier
func getVolumeMultiplier(level int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(level) / 100.0
}

// bundle is the owned chain player -> volume -> analyser -> master for one slot
type bundle struct {
	player   *Player
	volume   *volume
	analyser *Analyser
}
