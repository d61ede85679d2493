// ABOUTME: Shared playback clock
// ABOUTME: Position in buffer seconds advancing at the tempo rate, the ordering authority for starts
package engine

import (
	"sync"
	"time"
)

// Clock is the shared transport position. Position is measured in buffer seconds
// at reference tempo, so position mod duration is the in-sync read offset of any loop.
type Clock struct {
	mu        sync.RWMutex
	now       func() time.Time
	rate      float64
	running   bool
	anchorPos float64
	anchorAt  time.Time
}

// NewClock creates a stopped clock at position 0
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, rate: 1}
}

// Start runs the clock from its current position beginning at the given instant.
// Before that instant the position holds still.
func (c *Clock) Start(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.anchorPos = c.positionAt(c.now())
	}
	c.anchorAt = at
	c.running = true
}

// Stop freezes the position
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.anchorPos = c.positionAt(c.now())
	c.running = false
}

// Reset moves the position to 0 without changing the running state
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.anchorPos = 0
	if now := c.now(); c.running && now.After(c.anchorAt) {
		c.anchorAt = now
	}
}

// Position returns the current position in seconds
func (c *Clock) Position() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionAt(c.now())
}

// PositionAt returns the position the clock will have at t assuming no rate change
func (c *Clock) PositionAt(t time.Time) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionAt(t)
}

func (c *Clock) positionAt(t time.Time) float64 {
	if !c.running {
		return c.anchorPos
	}
	elapsed := t.Sub(c.anchorAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return c.anchorPos + elapsed*c.rate
}

// SetRate changes how fast the position advances
func (c *Clock) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now := c.now(); c.running && now.After(c.anchorAt) {
		c.anchorPos = c.positionAt(now)
		c.anchorAt = now
	}
	c.rate = rate
}

// Rate returns the current rate
func (c *Clock) Rate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

// Running reports whether the clock is advancing (or scheduled to)
func (c *Clock) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
