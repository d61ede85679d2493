// ABOUTME: Playback controller driving the Stopped/Preparing/Playing state machine
// ABOUTME: Loads assigned slots in parallel and starts players in sync with the shared clock
package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warpsong/warpsong-go/internal/buffercache"
	"github.com/warpsong/warpsong-go/internal/engine"
	"github.com/warpsong/warpsong-go/internal/selector"
	"github.com/warpsong/warpsong-go/pkg/audio"
	"github.com/warpsong/warpsong-go/pkg/stem"
	"golang.org/x/sync/errgroup"
)

// State is the controller state
type State int

const (
	Stopped State = iota
	Preparing
	Playing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Preparing:
		return "preparing"
	case Playing:
		return "playing"
	}
	return "unknown"
}

// Loader resolves a stem to a decoded buffer handle
type Loader interface {
	Load(ctx context.Context, s stem.Stem) (*buffercache.Handle, error)
}

// SlotSource reports the current slot assignments
type SlotSource interface {
	Assignments() map[stem.Category]stem.Stem
}

// Emitter publishes a local transport change. startAt is zero when stopping.
type Emitter func(ctx context.Context, isPlaying bool, startAt time.Time) error

// Config holds controller dependencies
type Config struct {
	Engine *engine.Engine
	Loader Loader
	Slots  SlotSource
	Emit   Emitter
}

// Controller owns the transport state. It addresses players only by slot through the engine.
type Controller struct {
	engine *engine.Engine
	loader Loader
	slots  SlotSource
	emit   Emitter

	mu        sync.Mutex
	state     State
	gen       uint64
	slotGen   map[stem.Category]uint64
	slotStem  map[stem.Category]string
	ready     map[stem.Category]bool
	observers []func(State)
}

// New creates a controller
func New(config Config) *Controller {
	return &Controller{
		engine:   config.Engine,
		loader:   config.Loader,
		slots:    config.Slots,
		emit:     config.Emit,
		slotGen:  make(map[stem.Category]uint64),
		slotStem: make(map[stem.Category]string),
		ready:    make(map[stem.Category]bool),
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SlotReady reports whether slot has a player for its assigned stem
func (c *Controller) SlotReady(slot stem.Category) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready[slot]
}

// OnStateChange registers an observer
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Play starts every assigned slot as soon as possible
func (c *Controller) Play(ctx context.Context, origin selector.Origin) error {
	return c.PlayAt(ctx, origin, time.Time{})
}

// PlayAt starts the shared clock at at (zero means now plus start latency). Slots that
// fail to load are reported in the returned error but do not stop the others from playing.
func (c *Controller) PlayAt(ctx context.Context, origin selector.Origin, at time.Time) error {
	c.halt()

	assigned := c.slots.Assignments()
	if len(assigned) == 0 {
		return nil
	}

	if err := c.engine.EnsureInitialized(); err != nil {
		return err
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	notify := c.setStateLocked(Preparing)
	c.mu.Unlock()
	notify()

	var (
		g       errgroup.Group
		errMu   sync.Mutex
		loadErr []error
	)
	for slot, st := range assigned {
		g.Go(func() error {
			if err := c.prepareSlot(ctx, slot, st); err != nil {
				errMu.Lock()
				loadErr = append(loadErr, fmt.Errorf("%s: %w", slot, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	joined := errors.Join(loadErr...)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		log.Printf("Playback preparation cancelled")
		return joined
	}

	var ready []stem.Category
	for slot := range assigned {
		if c.ready[slot] {
			ready = append(ready, slot)
		}
	}
	if len(ready) == 0 {
		notify := c.setStateLocked(Stopped)
		c.mu.Unlock()
		notify()
		return fmt.Errorf("no slot ready to play: %w", joined)
	}

	now := c.engine.Now()
	when := now.Add(c.engine.StartLatency())
	if at.IsZero() {
		at = when
	}

	clock := c.engine.Clock()
	clock.Stop()
	clock.Reset()
	clock.Start(at)
	if at.After(when) {
		when = at
	}

	offset := clock.PositionAt(when)
	for _, slot := range ready {
		if err := c.engine.StartPlayer(slot, when, offset); err != nil {
			log.Printf("Failed to start %s: %v", slot, err)
		}
	}
	notify = c.setStateLocked(Playing)
	c.mu.Unlock()
	notify()

	log.Printf("Playback started: %d/%d slots ready", len(ready), len(assigned))

	if origin == selector.Local && c.emit != nil {
		if err := c.emit(ctx, true, at); err != nil {
			return errors.Join(joined, fmt.Errorf("emit playback-control: %w", err))
		}
	}
	return joined
}

// Pause stops every player and the clock, resets the position, and cancels preparation
func (c *Controller) Pause(origin selector.Origin) error {
	c.halt()
	log.Printf("Playback stopped (%s)", origin)

	if origin == selector.Local && c.emit != nil {
		if err := c.emit(context.Background(), false, time.Time{}); err != nil {
			return fmt.Errorf("emit playback-control: %w", err)
		}
	}
	return nil
}

// halt cancels any preparation and silences the transport
func (c *Controller) halt() {
	c.mu.Lock()
	c.gen++
	notify := c.setStateLocked(Stopped)
	c.mu.Unlock()

	c.engine.StopAll()
	clock := c.engine.Clock()
	clock.Stop()
	clock.Reset()
	notify()
}

// Materialize loads st for slot and builds its player, starting it in sync when playing.
// A slow load finishes in the background unless the slot is reassigned first.
func (c *Controller) Materialize(ctx context.Context, slot stem.Category, st stem.Stem) error {
	c.mu.Lock()
	c.slotGen[slot]++
	gen := c.slotGen[slot]
	if c.slotStem[slot] != st.NormalizedID() {
		c.ready[slot] = false
		c.slotStem[slot] = st.NormalizedID()
		c.engine.DisposePlayer(slot)
	}
	c.mu.Unlock()

	h, err := c.loader.Load(ctx, st)
	var partial *buffercache.PartialLoadError
	if errors.As(err, &partial) {
		log.Printf("Slot %s: %v, materializing when ready", slot, err)
		go c.awaitPartial(h, slot, gen)
		return nil
	}
	if err != nil {
		return err
	}

	return c.install(slot, h.Buffer(), gen)
}

// prepareSlot gets a player ready for slot during Play
func (c *Controller) prepareSlot(ctx context.Context, slot stem.Category, st stem.Stem) error {
	c.mu.Lock()
	if c.slotStem[slot] != st.NormalizedID() {
		c.slotGen[slot]++
		c.ready[slot] = false
		c.slotStem[slot] = st.NormalizedID()
	}
	gen := c.slotGen[slot]
	c.mu.Unlock()

	h, err := c.loader.Load(ctx, st)
	var partial *buffercache.PartialLoadError
	if errors.As(err, &partial) {
		go c.awaitPartial(h, slot, gen)
		return err
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slotGen[slot] != gen {
		return nil
	}
	if !c.engine.HasPlayer(slot, h.Buffer()) {
		if _, err := c.engine.CreatePlayer(slot, h.Buffer()); err != nil {
			return err
		}
	}
	c.ready[slot] = true
	return nil
}

func (c *Controller) awaitPartial(h *buffercache.Handle, slot stem.Category, gen uint64) {
	<-h.Done()
	if err := h.Err(); err != nil {
		log.Printf("Slot %s: background load failed: %v", slot, err)
		return
	}
	if err := c.install(slot, h.Buffer(), gen); err != nil {
		log.Printf("Slot %s: %v", slot, err)
	}
}

// install builds the player unless slot moved on, and joins a running transport
func (c *Controller) install(slot stem.Category, buf *audio.Buffer, gen uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slotGen[slot] != gen {
		return nil
	}

	if !c.engine.HasPlayer(slot, buf) {
		if _, err := c.engine.CreatePlayer(slot, buf); err != nil {
			return err
		}
	}
	c.ready[slot] = true

	if c.state != Playing {
		return nil
	}

	when := c.engine.Now().Add(c.engine.StartLatency())
	offset := c.engine.Clock().PositionAt(when)
	if err := c.engine.StartPlayer(slot, when, offset); err != nil {
		return fmt.Errorf("start %s: %w", slot, err)
	}
	log.Printf("Slot %s joined playback at %.3fs", slot, offset)
	return nil
}

// Release stops playback and disposes every player without emitting
func (c *Controller) Release() {
	c.halt()

	c.mu.Lock()
	for slot := range c.slotStem {
		c.slotGen[slot]++
	}
	c.slotStem = make(map[stem.Category]string)
	c.ready = make(map[stem.Category]bool)
	c.mu.Unlock()

	c.engine.DisposeAll()
}

// setStateLocked records s and returns the observer callback to run once unlocked
func (c *Controller) setStateLocked(s State) func() {
	if c.state == s {
		return func() {}
	}
	c.state = s
	observers := append([]func(State){}, c.observers...)
	return func() {
		for _, fn := range observers {
			fn(s)
		}
	}
}
